package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	paymenthttp "github.com/dmehra2102/payment-service/internal/payment/infrastructure/http"
	paymentkafka "github.com/dmehra2102/payment-service/internal/payment/infrastructure/kafka"
	pg "github.com/dmehra2102/payment-service/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/payment-service/pkg/outbox"
	"github.com/dmehra2102/payment-service/pkg/shutdown"
	"github.com/dmehra2102/payment-service/pkg/tracing"
)

func serveCmd(configPath *string) *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, notification workers and outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", true, "apply the schema before serving (postgres only)")
	return cmd
}

func runServe(parent context.Context, configPath string, autoMigrate bool) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := shutdown.WithSignals(parent)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Service, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, log)
	if err != nil {
		return err
	}

	if autoMigrate && cfg.Storage.Driver == "postgres" {
		if err := migrate(ctx, cfg.Postgres.URL); err != nil {
			return err
		}
		log.Info("schema applied")
	}

	c, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Error(name+" stopped", "err", err)
				cancel()
			}
		}()
	}

	run("notification dispatcher", c.dispatcher.Run)

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		writer := paymentkafka.NewWriter(cfg.Kafka.Brokers)
		defer writer.Close()
		dispatch := outbox.NewKafkaDispatcher(log, writer, cfg.Kafka.Topic)
		relay := outbox.NewRelay(log, c.outbox, dispatch, cfg.Service+"-relay")
		run("outbox relay", relay.Run)
	} else {
		log.Warn("kafka brokers not configured, status events stay in the outbox")
	}

	handler := paymenthttp.NewHandler(log, c.service, c.webhooks, c.dispatcher, cfg.Service, cfg.HTTP.MaxBodyBytes)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      paymenthttp.NewRouter(log, handler, paymenthttp.RouterOptions{AllowedOrigins: cfg.HTTP.AllowedOrigins}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		log.Info("http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	err = shutdown.Run(10*time.Second,
		srv.Shutdown,
		func(context.Context) error {
			wg.Wait()
			return nil
		},
		tp.Shutdown,
	)
	log.Info("payment-service shutdown complete")
	return err
}

func migrate(ctx context.Context, url string) error {
	pool, err := pg.Connect(ctx, url)
	if err != nil {
		return err
	}
	defer pool.Close()
	return pg.Migrate(ctx, pool)
}
