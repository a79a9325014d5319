// Package razorpay adapts the Razorpay SDK to the payment application's Gateway port.
package razorpay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	rzp "github.com/razorpay/razorpay-go"

	"github.com/dmehra2102/payment-service/internal/payment/application"
	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/pkg/apperr"
)

type Config struct {
	KeyID     string
	KeySecret string
}

// The SDK resources are narrowed to what the adapter calls so tests can stand in for them.
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Adapter struct {
	log      *slog.Logger
	orders   orderAPI
	payments paymentAPI
}

func New(log *slog.Logger, cfg Config) *Adapter {
	client := rzp.NewClient(cfg.KeyID, cfg.KeySecret)
	return &Adapter{log: log, orders: client.Order, payments: client.Payment}
}

func (a *Adapter) CreateOrder(_ context.Context, req application.GatewayOrderRequest) (application.GatewayOrder, error) {
	notes := make(map[string]interface{}, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	body := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes":    notes,
	}

	result, err := a.orders.Create(body, nil)
	if err != nil {
		return application.GatewayOrder{}, apperr.Gateway("razorpay create order", err)
	}
	id, _ := result["id"].(string)
	if id == "" {
		return application.GatewayOrder{}, apperr.Gateway("razorpay create order", fmt.Errorf("response without order id"))
	}
	status, _ := result["status"].(string)
	amount, ok := number(result["amount"])
	if !ok {
		amount = req.Amount
	}
	a.log.Debug("razorpay order created", "gateway_order_id", id, "receipt", req.Receipt)
	return application.GatewayOrder{
		ID:       id,
		Amount:   amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   status,
	}, nil
}

func (a *Adapter) FetchPayment(_ context.Context, paymentID string) (application.GatewayPayment, error) {
	result, err := a.payments.Fetch(paymentID, nil, nil)
	if err != nil {
		return application.GatewayPayment{}, apperr.Gateway("razorpay fetch payment", err)
	}
	return paymentFromEntity(result), nil
}

func (a *Adapter) Refund(_ context.Context, paymentID string, amount int64, notes map[string]string) (application.GatewayRefund, error) {
	n := make(map[string]interface{}, len(notes))
	for k, v := range notes {
		n[k] = v
	}
	body := map[string]interface{}{
		"amount": amount,
		"notes":  n,
	}
	result, err := a.payments.Refund(paymentID, int(amount), body, nil)
	if err != nil {
		return application.GatewayRefund{}, apperr.Gateway("razorpay refund", err)
	}
	id, _ := result["id"].(string)
	status, _ := result["status"].(string)
	refunded, ok := number(result["amount"])
	if !ok {
		refunded = amount
	}
	return application.GatewayRefund{ID: id, Amount: refunded, Status: status}, nil
}

func (a *Adapter) ParseWebhook(body []byte) (domain.GatewayEvent, error) {
	return ParseWebhook(body)
}

// ParseWebhook reads the event name and walks payload.<payment|order|refund>.entity.
func ParseWebhook(body []byte) (domain.GatewayEvent, error) {
	var envelope struct {
		ID      string                 `json:"id"`
		Event   string                 `json:"event"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.GatewayEvent{}, fmt.Errorf("razorpay: decode webhook: %w", err)
	}
	if envelope.Event == "" {
		return domain.GatewayEvent{}, fmt.Errorf("razorpay: webhook without event name")
	}

	payment := extractEntity(envelope.Payload, "payment")
	order := extractEntity(envelope.Payload, "order")
	refund := extractEntity(envelope.Payload, "refund")

	gp := paymentFromEntity(payment)
	ev := domain.GatewayEvent{
		ID:               envelope.ID,
		Name:             domain.EventName(envelope.Event),
		GatewayOrderID:   gp.OrderID,
		GatewayPaymentID: gp.ID,
		FailureReason:    gp.ErrorDescription,
		Method:           gp.Method,
		CardNetwork:      gp.CardNetwork,
		CardLast4:        gp.CardLast4,
		AmountRefunded:   -1,
	}
	if v, ok := order["id"].(string); ok && ev.GatewayOrderID == "" {
		ev.GatewayOrderID = v
	}
	if v, ok := refund["id"].(string); ok {
		ev.RefundID = v
	}
	if v, ok := number(refund["amount"]); ok {
		ev.RefundAmount = v
	}

	if ev.Name == domain.EventRefundProcessed {
		if v, ok := refund["payment_id"].(string); ok && v != "" {
			ev.GatewayPaymentID = v
		}
		// the payment entity carries the cumulative figure; the refund entity only this refund
		if v, ok := number(payment["amount_refunded"]); ok && v > 0 {
			ev.AmountRefunded = v
		}
	}
	return ev, nil
}

func paymentFromEntity(e map[string]interface{}) application.GatewayPayment {
	var p application.GatewayPayment
	p.ID, _ = e["id"].(string)
	p.OrderID, _ = e["order_id"].(string)
	p.Status, _ = e["status"].(string)
	p.Method, _ = e["method"].(string)
	p.ErrorDescription, _ = e["error_description"].(string)
	p.Amount, _ = number(e["amount"])
	p.AmountRefunded, _ = number(e["amount_refunded"])
	if card, ok := e["card"].(map[string]interface{}); ok {
		p.CardNetwork, _ = card["network"].(string)
		p.CardLast4, _ = card["last4"].(string)
	}
	return p
}

// extractEntity safely extracts "entity" from a nested payload object.
func extractEntity(payload map[string]interface{}, key string) map[string]interface{} {
	obj, ok := payload[key].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	entity, ok := obj["entity"].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return entity
}

func number(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

var _ application.Gateway = (*Adapter)(nil)
