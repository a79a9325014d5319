package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type NotificationOptions struct {
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
	SweepBatch    int
}

type SweepResult struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// NotificationDispatcher sends customer emails off the request path. The email_sent
// claim makes every delivery attempt exclusive, so queue and sweep may race freely.
type NotificationDispatcher struct {
	log      *slog.Logger
	payments PaymentRepository
	notifier Notifier
	queue    chan string
	opts     NotificationOptions
}

func NewNotificationDispatcher(log *slog.Logger, payments PaymentRepository, notifier Notifier, opts NotificationOptions) *NotificationDispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 50
	}
	return &NotificationDispatcher{
		log:      log,
		payments: payments,
		notifier: notifier,
		queue:    make(chan string, opts.QueueSize),
		opts:     opts,
	}
}

// Enqueue never blocks; a full queue drops the task and the sweep picks it up later.
func (d *NotificationDispatcher) Enqueue(paymentID string) bool {
	select {
	case d.queue <- paymentID:
		return true
	default:
		return false
	}
}

// Run starts the workers and the periodic sweep and blocks until ctx is done.
func (d *NotificationDispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}

	if d.opts.SweepInterval > 0 {
		t := time.NewTicker(d.opts.SweepInterval)
		defer t.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-t.C:
				if res, err := d.Sweep(ctx); err != nil {
					d.log.Error("notification sweep failed", "err", err)
				} else if res.Attempted > 0 {
					d.log.Info("notification sweep done", "attempted", res.Attempted, "sent", res.Sent, "failed", res.Failed)
				}
			}
		}
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	d.log.Info("notification dispatcher stopped")
	return nil
}

func (d *NotificationDispatcher) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			if _, err := d.Deliver(ctx, id); err != nil {
				d.log.Error("notification delivery failed", "worker", worker, "payment_id", id, "err", err)
			}
		}
	}
}

// Sweep retries every notifiable payment whose email has not gone out yet.
func (d *NotificationDispatcher) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	pending, err := d.payments.PendingEmails(ctx, d.opts.SweepBatch)
	if err != nil {
		return res, err
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Attempted++
		sent, err := d.Deliver(ctx, p.ID)
		switch {
		case err != nil:
			res.Failed++
			d.log.Warn("pending notification not sent", "payment_id", p.ID, "err", err)
		case sent:
			res.Sent++
		}
	}
	return res, nil
}

// Deliver claims and sends the email for one payment. It reports false without error
// when another delivery already holds the claim.
func (d *NotificationDispatcher) Deliver(ctx context.Context, paymentID string) (bool, error) {
	claimed, err := d.payments.ClaimEmail(ctx, paymentID)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	p, err := d.payments.GetByID(ctx, paymentID)
	if err == nil && !p.Status.Notifiable() {
		err = errors.New("payment left notifiable status before delivery")
	}
	if err == nil {
		err = d.notifier.Notify(ctx, p)
	}
	if err != nil {
		// context may already be cancelled on shutdown
		if rErr := d.payments.ReleaseEmail(context.WithoutCancel(ctx), paymentID); rErr != nil {
			d.log.Error("email claim release failed", "payment_id", paymentID, "err", rErr)
		}
		return false, err
	}
	d.log.Info("payment email sent", "payment_id", paymentID, "status", p.Status, "to", p.CustomerEmail)
	return true, nil
}

var _ NotificationQueue = (*NotificationDispatcher)(nil)
