package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func notifyPendingCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-pending",
		Short: "Send customer emails that were never delivered, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			c, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.dispatcher.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d sent=%d failed=%d\n", res.Attempted, res.Sent, res.Failed)
			return nil
		},
	}
}
