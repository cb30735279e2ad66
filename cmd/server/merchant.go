package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/settle/internal/services"
)

func merchantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merchant",
		Short: "Manage merchants",
	}
	cmd.AddCommand(merchantCreateCmd())
	return cmd
}

func merchantCreateCmd() *cobra.Command {
	var in services.CreateMerchantInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a merchant and print its test API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			merchant, key, err := rt.apiKeys.CreateMerchant(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("create merchant: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "merchant_id:    %s\n", merchant.ID)
			fmt.Fprintf(out, "api_key:        %s\n", key)
			fmt.Fprintf(out, "webhook_secret: %s\n", merchant.WebhookSecret)
			fmt.Fprintln(out, "Store the API key now; it cannot be shown again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Name, "name", "", "merchant name")
	cmd.Flags().StringVar(&in.Email, "email", "", "merchant email")
	cmd.Flags().StringVar(&in.BusinessName, "business-name", "", "registered business name")
	cmd.Flags().StringVar(&in.WebhookURL, "webhook-url", "", "legacy webhook URL")
	cmd.Flags().StringVar(&in.Currency, "currency", "USD", "default currency")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
