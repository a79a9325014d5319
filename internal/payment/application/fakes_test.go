package application_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/payment-service/internal/payment/application"
	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/internal/payment/infrastructure/memory"
	"github.com/dmehra2102/payment-service/internal/payment/infrastructure/razorpay"
	"github.com/dmehra2102/payment-service/pkg/apperr"
	"github.com/dmehra2102/payment-service/pkg/logging"
	"github.com/dmehra2102/payment-service/pkg/signature"
)

const (
	keyID         = "rzp_test_key"
	keySecret     = "key-secret"
	webhookSecret = "webhook-secret"
)

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	payments  map[string]application.GatewayPayment
	refunds   []int64
	createErr error
	refundErr error
	created   int
	// onRefund runs once, before the refund is booked, to interleave a second request.
	onRefund func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]application.GatewayPayment{}}
}

func (g *fakeGateway) CreateOrder(_ context.Context, req application.GatewayOrderRequest) (application.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return application.GatewayOrder{}, apperr.Gateway("create order", g.createErr)
	}
	g.seq++
	g.created++
	return application.GatewayOrder{
		ID:       fmt.Sprintf("order_%03d", g.seq),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (application.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[id]
	if !ok {
		return application.GatewayPayment{}, apperr.Gateway("fetch payment", fmt.Errorf("payment %s does not exist", id))
	}
	return p, nil
}

func (g *fakeGateway) Refund(_ context.Context, id string, amount int64, _ map[string]string) (application.GatewayRefund, error) {
	g.mu.Lock()
	hook := g.onRefund
	g.onRefund = nil
	g.mu.Unlock()
	if hook != nil {
		hook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return application.GatewayRefund{}, apperr.Gateway("refund", g.refundErr)
	}
	g.refunds = append(g.refunds, amount)
	if p, ok := g.payments[id]; ok {
		p.AmountRefunded += amount
		g.payments[id] = p
	}
	return application.GatewayRefund{ID: fmt.Sprintf("rfnd_%d", len(g.refunds)), Amount: amount, Status: "processed"}, nil
}

func (g *fakeGateway) ParseWebhook(body []byte) (domain.GatewayEvent, error) {
	return razorpay.ParseWebhook(body)
}

func (g *fakeGateway) refundCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.Payment
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, p domain.Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, p)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type harness struct {
	store      *memory.Store
	gateway    *fakeGateway
	notifier   *fakeNotifier
	dispatcher *application.NotificationDispatcher
	reconciler *application.Reconciler
	service    *application.Service
	webhooks   *application.WebhookProcessor
}

func newHarness(t *testing.T, dedupe application.Deduper) *harness {
	t.Helper()
	log := logging.Discard()
	h := &harness{
		store:    memory.NewStore(),
		gateway:  newFakeGateway(),
		notifier: &fakeNotifier{},
	}
	payments, orders := h.store.Payments(), h.store.Orders()
	h.dispatcher = application.NewNotificationDispatcher(log, payments, h.notifier, application.NotificationOptions{Workers: 1, QueueSize: 16, SweepBatch: 50})
	h.reconciler = application.NewReconciler(log, payments, orders, h.dispatcher)
	h.service = application.NewService(log, orders, payments, h.gateway, h.reconciler, application.Options{
		KeyID:     keyID,
		KeySecret: keySecret,
		Currency:  "INR",
		MinAmount: 100,
		MaxAmount: 99_999_999,
	})
	h.webhooks = application.NewWebhookProcessor(log, signature.NewVerifier(log, webhookSecret), h.gateway, h.reconciler, dedupe)
	return h
}

func (h *harness) createOrder(t *testing.T, amount int64) application.CreateOrderResponse {
	t.Helper()
	resp, err := h.service.CreateOrder(context.Background(), application.CreateOrderRequest{
		Amount:        amount,
		Currency:      "INR",
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Buyer",
		Description:   "Course",
	})
	require.NoError(t, err)
	return resp
}

// webhook posts a signed event for a payment of the given order.
func (h *harness) webhook(t *testing.T, event, orderID, paymentID, eventID string) (application.WebhookResult, error) {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"status":"captured","card":{"network":"Visa","last4":"4242"}}}}}`,
		event, paymentID, orderID))
	return h.webhooks.Handle(context.Background(), body, sign(t, body, webhookSecret), eventID)
}

func sign(t *testing.T, body []byte, secret string) string {
	t.Helper()
	sig, err := signature.Sign(body, secret)
	require.NoError(t, err)
	return sig
}

func discardLog() *slog.Logger { return logging.Discard() }

func verifier() *signature.Verifier { return signature.NewVerifier(logging.Discard(), webhookSecret) }
