package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	orderdomain "github.com/dmehra2102/payment-service/internal/order/domain"
	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/pkg/apperr"
	"github.com/dmehra2102/payment-service/pkg/outbox"
	"github.com/dmehra2102/payment-service/pkg/tracing"
)

const maxUpdateAttempts = 3

// Reconciliation is the state after an event was applied.
type Reconciliation struct {
	Found   bool
	Payment domain.Payment
	Order   orderdomain.Order
	Outcome domain.Outcome
}

// Reconciler is the single path through which webhook, verify, confirm and refund
// flows change payment state.
type Reconciler struct {
	log      *slog.Logger
	payments PaymentRepository
	orders   OrderRepository
	queue    NotificationQueue
	tracer   trace.Tracer
}

func NewReconciler(log *slog.Logger, payments PaymentRepository, orders OrderRepository, queue NotificationQueue) *Reconciler {
	return &Reconciler{
		log:      log,
		payments: payments,
		orders:   orders,
		queue:    queue,
		tracer:   otel.Tracer("payment-reconciler"),
	}
}

// Apply maps ev onto the local payment and order. Unknown events and events for
// records we do not hold return Found=false and a nil error.
func (r *Reconciler) Apply(ctx context.Context, ev domain.GatewayEvent, src domain.Source) (Reconciliation, error) {
	ctx, span := r.tracer.Start(ctx, "Reconcile", trace.WithAttributes(
		attribute.String("event.name", string(ev.Name)),
		attribute.String("event.source", string(src)),
		attribute.String("gateway.order_id", ev.GatewayOrderID),
	))
	defer span.End()

	if !ev.Name.Known() {
		r.log.Info("ignoring unhandled gateway event", "event", ev.Name, "source", src)
		return Reconciliation{}, nil
	}

	var (
		res Reconciliation
		err error
	)
	for attempt := 1; ; attempt++ {
		res, err = r.applyPayment(ctx, ev, src)
		if !errors.Is(err, apperr.ErrConflict) || attempt == maxUpdateAttempts {
			break
		}
		r.log.Debug("payment update conflict, retrying", "event", ev.Name, "attempt", attempt)
	}
	if err != nil {
		span.RecordError(err)
		return Reconciliation{}, err
	}
	if !res.Found {
		r.log.Warn("no local payment for gateway event", "event", ev.Name,
			"gateway_order_id", ev.GatewayOrderID, "gateway_payment_id", ev.GatewayPaymentID)
		return res, nil
	}

	order, err := r.applyOrder(ctx, ev, res.Payment)
	if err != nil {
		span.RecordError(err)
		return Reconciliation{}, err
	}
	res.Order = order

	if res.Outcome.Notify && r.queue != nil {
		if !r.queue.Enqueue(res.Payment.ID) {
			r.log.Warn("notification queue full, left for sweep", "payment_id", res.Payment.ID)
		}
	}

	r.log.Info("gateway event reconciled", "event", ev.Name, "source", src, "payment_id", res.Payment.ID,
		"from", res.Outcome.Previous, "to", res.Payment.Status, "changed", res.Outcome.Changed)
	return res, nil
}

func (r *Reconciler) applyPayment(ctx context.Context, ev domain.GatewayEvent, src domain.Source) (Reconciliation, error) {
	p, err := r.lookup(ctx, ev)
	if errors.Is(err, apperr.ErrNotFound) {
		return Reconciliation{}, nil
	}
	if err != nil {
		return Reconciliation{}, err
	}

	out := p.Apply(ev)
	if !out.Changed {
		return Reconciliation{Found: true, Payment: p, Outcome: out}, nil
	}

	var events []outbox.Event
	if out.StatusChanged {
		change := domain.NewStatusChanged(p, out.Previous, src)
		headers := map[string]string{"source": string(src)}
		if ev.ID != "" {
			headers["gateway_event_id"] = ev.ID
		}
		e, err := outbox.NewEvent("payment", p.GatewayOrderID, change.EventType(), change, headers, tracing.Traceparent(ctx))
		if err != nil {
			return Reconciliation{}, fmt.Errorf("build outbox event: %w", err)
		}
		events = append(events, e)
	}
	if err := r.payments.Update(ctx, p, events...); err != nil {
		return Reconciliation{}, err
	}
	p.Version++
	return Reconciliation{Found: true, Payment: p, Outcome: out}, nil
}

func (r *Reconciler) lookup(ctx context.Context, ev domain.GatewayEvent) (domain.Payment, error) {
	if ev.Name.KeyedByPayment() {
		p, err := r.payments.GetByGatewayPaymentID(ctx, ev.GatewayPaymentID)
		if !errors.Is(err, apperr.ErrNotFound) || ev.GatewayOrderID == "" {
			return p, err
		}
	}
	if ev.GatewayOrderID == "" {
		return domain.Payment{}, apperr.NotFound("payment for empty gateway order id")
	}
	return r.payments.GetByGatewayOrderID(ctx, ev.GatewayOrderID)
}

// applyOrder moves the order along with its payment. Failures only land on the
// order when the payment itself failed, so a late failure cannot undo a capture.
func (r *Reconciler) applyOrder(ctx context.Context, ev domain.GatewayEvent, p domain.Payment) (orderdomain.Order, error) {
	for attempt := 1; ; attempt++ {
		o, err := r.orders.Get(ctx, p.OrderID)
		if errors.Is(err, apperr.ErrNotFound) {
			r.log.Warn("payment without local order", "payment_id", p.ID, "order_id", p.OrderID)
			return orderdomain.Order{}, nil
		}
		if err != nil {
			return orderdomain.Order{}, err
		}

		var changed bool
		switch ev.Name {
		case domain.EventPaymentCaptured, domain.EventOrderPaid:
			changed = o.MarkPaid()
		case domain.EventPaymentAuthorized:
			changed = o.Authorize()
		case domain.EventPaymentFailed:
			if p.Status == domain.StatusFailed {
				changed = o.Fail()
			}
		}
		if !changed {
			return o, nil
		}

		err = r.orders.Update(ctx, o)
		if err == nil {
			o.Version++
			return o, nil
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt == maxUpdateAttempts {
			return orderdomain.Order{}, err
		}
	}
}
