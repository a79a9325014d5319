package application

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/pkg/apperr"
	"github.com/dmehra2102/payment-service/pkg/signature"
)

const webhookProvider = "razorpay"

type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

type WebhookResult struct {
	Outcome WebhookOutcome   `json:"outcome"`
	Event   domain.EventName `json:"event,omitempty"`
}

type WebhookProcessor struct {
	log        *slog.Logger
	verifier   *signature.Verifier
	gateway    Gateway
	reconciler *Reconciler
	dedupe     Deduper
	tracer     trace.Tracer
}

// NewWebhookProcessor accepts a nil dedupe; redeliveries then rely on reconciliation being idempotent.
func NewWebhookProcessor(log *slog.Logger, verifier *signature.Verifier, gateway Gateway, reconciler *Reconciler, dedupe Deduper) *WebhookProcessor {
	return &WebhookProcessor{
		log:        log,
		verifier:   verifier,
		gateway:    gateway,
		reconciler: reconciler,
		dedupe:     dedupe,
		tracer:     otel.Tracer("payment-webhook"),
	}
}

// Handle authenticates and applies one webhook delivery. eventID is the gateway's
// delivery id header and may be empty.
func (w *WebhookProcessor) Handle(ctx context.Context, body []byte, sig, eventID string) (WebhookResult, error) {
	ctx, span := w.tracer.Start(ctx, "HandleWebhook")
	defer span.End()

	if !w.verifier.Verify(body, sig) {
		w.log.Warn("webhook signature rejected", "security", true, "event_id", eventID, "bytes", len(body))
		return WebhookResult{}, apperr.Signature("invalid webhook signature")
	}

	ev, err := w.gateway.ParseWebhook(body)
	if err != nil {
		return WebhookResult{}, apperr.Validation("malformed webhook payload: " + err.Error())
	}
	if eventID == "" {
		eventID = ev.ID
	}
	ev.ID = eventID
	span.SetAttributes(attribute.String("event.name", string(ev.Name)), attribute.String("event.id", eventID))

	var key string
	if w.dedupe != nil && eventID != "" {
		key = w.dedupe.Key(webhookProvider, eventID)
		seen, err := w.dedupe.Seen(ctx, key)
		switch {
		case err != nil:
			w.log.Error("webhook dedupe check failed", "event_id", eventID, "err", err)
			key = ""
		case seen:
			w.log.Info("duplicate webhook skipped", "event_id", eventID, "event", ev.Name)
			return WebhookResult{Outcome: WebhookDuplicate, Event: ev.Name}, nil
		}
	}

	res, err := w.apply(ctx, ev)
	if err != nil {
		span.RecordError(err)
		if key != "" {
			if fErr := w.dedupe.Forget(ctx, key); fErr != nil {
				w.log.Error("webhook dedupe release failed", "event_id", eventID, "err", fErr)
			}
		}
		return WebhookResult{}, err
	}
	if !res.Found {
		return WebhookResult{Outcome: WebhookIgnored, Event: ev.Name}, nil
	}
	return WebhookResult{Outcome: WebhookProcessed, Event: ev.Name}, nil
}

// apply fills in the cumulative refunded amount when a refund webhook carries only the
// refund entity; a single refund's amount cannot be applied idempotently.
func (w *WebhookProcessor) apply(ctx context.Context, ev domain.GatewayEvent) (Reconciliation, error) {
	if ev.Name == domain.EventRefundProcessed && ev.AmountRefunded < 0 && ev.GatewayPaymentID != "" {
		gp, err := w.gateway.FetchPayment(ctx, ev.GatewayPaymentID)
		if err != nil {
			w.log.Warn("refunded total unavailable, leaving webhook for redelivery",
				"gateway_payment_id", ev.GatewayPaymentID, "refund_id", ev.RefundID, "err", err)
			return Reconciliation{}, fmt.Errorf("fetch refunded total: %w", err)
		}
		ev.AmountRefunded = gp.AmountRefunded
		if ev.GatewayOrderID == "" {
			ev.GatewayOrderID = gp.OrderID
		}
	}
	return w.reconciler.Apply(ctx, ev, domain.SourceWebhook)
}
