package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmehra2102/payment-service/internal/config"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema to the configured database",
		Long: `Apply the embedded schema. Every statement is idempotent, so running it
against an up-to-date database is a no-op.

Examples:
  payment-service migrate
  PAYGW_POSTGRES_URL=postgres://... payment-service migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Razorpay credentials are not needed to migrate, so skip Validate.
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := migrate(ctx, cfg.Postgres.URL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
