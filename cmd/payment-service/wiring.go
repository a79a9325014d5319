package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/payment-service/internal/config"
	orderpg "github.com/dmehra2102/payment-service/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/payment-service/internal/payment/application"
	"github.com/dmehra2102/payment-service/internal/payment/infrastructure/mail"
	"github.com/dmehra2102/payment-service/internal/payment/infrastructure/memory"
	pg "github.com/dmehra2102/payment-service/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/payment-service/internal/payment/infrastructure/razorpay"
	"github.com/dmehra2102/payment-service/pkg/idempotency"
	"github.com/dmehra2102/payment-service/pkg/logging"
	"github.com/dmehra2102/payment-service/pkg/outbox"
	"github.com/dmehra2102/payment-service/pkg/signature"
)

// components is everything the commands share. closers run in reverse order.
type components struct {
	cfg        *config.Config
	log        *slog.Logger
	payments   application.PaymentRepository
	orders     application.OrderRepository
	outbox     outbox.Store
	dispatcher *application.NotificationDispatcher
	reconciler *application.Reconciler
	service    *application.Service
	webhooks   *application.WebhookProcessor
	closers    []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format).With("service", cfg.Service), nil
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*components, error) {
	c := &components{cfg: cfg, log: log}
	if err := c.openStorage(ctx); err != nil {
		c.Close()
		return nil, err
	}

	notifier, err := newNotifier(cfg, log)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.dispatcher = application.NewNotificationDispatcher(log, c.payments, notifier, application.NotificationOptions{
		Workers:       cfg.Notifications.Workers,
		QueueSize:     cfg.Notifications.QueueSize,
		SweepInterval: cfg.Notifications.SweepInterval,
		SweepBatch:    cfg.Notifications.SweepBatch,
	})

	gateway := razorpay.New(log, razorpay.Config{KeyID: cfg.Razorpay.KeyID, KeySecret: cfg.Razorpay.KeySecret})
	c.reconciler = application.NewReconciler(log, c.payments, c.orders, c.dispatcher)
	c.service = application.NewService(log, c.orders, c.payments, gateway, c.reconciler, application.Options{
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret,
		Currency:  cfg.Payments.Currency,
		MinAmount: cfg.Payments.MinAmount,
		MaxAmount: cfg.Payments.MaxAmount,
	})

	var dedupe application.Deduper
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, webhook dedupe degraded", "addr", cfg.Redis.Addr, "err", err)
		}
		dedupe = idempotency.NewStore(rdb, cfg.Redis.IdempotencyTTL)
	}
	c.webhooks = application.NewWebhookProcessor(log, signature.NewVerifier(log, cfg.Razorpay.WebhookSecret), gateway, c.reconciler, dedupe)
	return c, nil
}

func (c *components) openStorage(ctx context.Context) error {
	switch c.cfg.Storage.Driver {
	case "memory":
		store := memory.NewStore()
		c.payments, c.orders, c.outbox = store.Payments(), store.Orders(), store
		c.log.Warn("using in-memory storage, state is lost on exit")
		return nil
	default:
		pool, err := pg.Connect(ctx, c.cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		c.closers = append(c.closers, pool.Close)
		c.payments = pg.NewRepository(c.log, pool)
		c.orders = orderpg.NewRepository(c.log, pool)
		c.outbox = pg.NewOutboxStore(c.log, pool)
		return nil
	}
}

func mailConfig(cfg *config.Config) mail.Config {
	return mail.Config{
		Host:         cfg.Mail.Host,
		Port:         cfg.Mail.Port,
		Username:     cfg.Mail.Username,
		Password:     cfg.Mail.Password,
		From:         cfg.Mail.From,
		AppName:      cfg.Mail.AppName,
		SupportEmail: cfg.Mail.SupportEmail,
		RetryURL:     cfg.Mail.RetryURL,
	}
}

func newNotifier(cfg *config.Config, log *slog.Logger) (application.Notifier, error) {
	if !cfg.Mail.Enabled {
		return mail.NewLogNotifier(log, mailConfig(cfg)), nil
	}
	return mail.New(log, mailConfig(cfg))
}
