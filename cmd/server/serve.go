package main

import (
	"os/signal"
	"sync"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/settle/internal/handlers"
	"github.com/example/settle/internal/routes"
)

func serveCmd() *cobra.Command {
	var noWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (and embedded workers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			app := fiber.New(fiber.Config{
				AppName:      "settle",
				JSONEncoder:  json.Marshal,
				JSONDecoder:  json.Unmarshal,
				ErrorHandler: handlers.ErrorHandler(rt.logger),
			})
			app.Use(recover.New())
			app.Use(logger.New())

			routes.Register(app, routes.Dependencies{
				Config:      rt.cfg,
				Store:       rt.store,
				Payments:    rt.payments,
				Refunds:     rt.refunds,
				Withdrawals: rt.withdrawals,
				Notifier:    rt.notifier,
				APIKeys:     rt.apiKeys,
				Idempotency: rt.idempotency,
				Metrics:     rt.metrics,
				Logger:      rt.logger,
			})

			var wg sync.WaitGroup
			if rt.cfg.EmbeddedWorkers && !noWorkers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rt.pool.Run(ctx)
				}()
			}

			go func() {
				<-ctx.Done()
				rt.logger.Info("shutting down")
				_ = app.Shutdown()
			}()

			rt.logger.Info("starting server", zap.String("port", rt.cfg.AppPort))
			err = app.Listen(":" + rt.cfg.AppPort)
			stop()
			wg.Wait()
			return err
		},
	}

	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "do not run task workers in this process")
	return cmd
}
