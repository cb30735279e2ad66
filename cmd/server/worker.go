package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run task workers only (payment processing and webhook delivery)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.redis == nil {
				rt.logger.Warn("worker without REDIS_URL only sees tasks enqueued by this process")
			}
			rt.pool.Run(ctx)
			return nil
		},
	}
}
