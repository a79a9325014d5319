package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/dmehra2102/payment-service/internal/config"
	paymentkafka "github.com/dmehra2102/payment-service/internal/payment/infrastructure/kafka"
	"github.com/dmehra2102/payment-service/pkg/logging"
	"github.com/dmehra2102/payment-service/pkg/shutdown"
)

func eventsCmd(configPath *string) *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print relayed payment status events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
				return errors.New("kafka.brokers and kafka.topic are required")
			}
			log := logging.New(cfg.Log.Level, cfg.Log.Format)

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, cancel := shutdown.WithSignals(parent)
			defer cancel()

			enc := json.NewEncoder(cmd.OutOrStdout())
			sub := paymentkafka.NewSubscriber(log, cfg.Kafka.Brokers, cfg.Kafka.Topic, group)
			return sub.Run(ctx, func(_ context.Context, env paymentkafka.Envelope) error {
				return enc.Encode(map[string]any{
					"key":     env.Key,
					"type":    env.Type,
					"headers": env.Headers,
					"change":  env.Change,
				})
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "payment-events-cli", "kafka consumer group")
	return cmd
}
