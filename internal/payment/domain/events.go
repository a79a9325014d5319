package domain

import (
	"strings"
	"time"
)

type EventName string

const (
	EventPaymentAuthorized EventName = "payment.authorized"
	EventPaymentCaptured   EventName = "payment.captured"
	EventOrderPaid         EventName = "order.paid"
	EventPaymentFailed     EventName = "payment.failed"
	EventRefundProcessed   EventName = "refund.processed"

	// Intermediate statuses reported by the checkout confirmation path.
	EventPaymentRequiresAction EventName = "payment.requires_action"
	EventPaymentProcessing     EventName = "payment.processing"
	EventPaymentCancelled      EventName = "payment.cancelled"
)

// KeyedByPayment reports whether the local record is looked up by gateway payment id
// rather than gateway order id.
func (n EventName) KeyedByPayment() bool {
	return n == EventRefundProcessed
}

func (n EventName) Known() bool {
	switch n {
	case EventPaymentAuthorized, EventPaymentCaptured, EventOrderPaid, EventPaymentFailed, EventRefundProcessed,
		EventPaymentRequiresAction, EventPaymentProcessing, EventPaymentCancelled:
		return true
	}
	return false
}

// GatewayEvent is a gateway notification normalised to the fields reconciliation needs.
type GatewayEvent struct {
	ID               string
	Name             EventName
	GatewayOrderID   string
	GatewayPaymentID string
	FailureReason    string
	Method           string
	CardNetwork      string
	CardLast4        string
	RefundID         string
	// RefundAmount is the single refund's amount, zero when unknown.
	RefundAmount int64
	// AmountRefunded is the payment's cumulative refunded amount when the gateway reports it, else -1.
	AmountRefunded int64
}

// Source names the entry point that produced a status change.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceVerify  Source = "verify"
	SourceConfirm Source = "confirm"
	SourceRefund  Source = "refund"
)

// StatusChanged is the outbox payload relayed to downstream consumers.
type StatusChanged struct {
	PaymentID        string    `json:"paymentId"`
	GatewayPaymentID string    `json:"gatewayPaymentId"`
	GatewayOrderID   string    `json:"gatewayOrderId"`
	PreviousStatus   Status    `json:"previousStatus"`
	Status           Status    `json:"status"`
	Amount           int64     `json:"amount"`
	RefundedAmount   int64     `json:"refundedAmount"`
	Currency         string    `json:"currency"`
	Source           Source    `json:"source"`
	OccurredAt       time.Time `json:"occurredAt"`
}

func NewStatusChanged(p Payment, previous Status, src Source) StatusChanged {
	return StatusChanged{
		PaymentID:        p.ID,
		GatewayPaymentID: p.GatewayPaymentID,
		GatewayOrderID:   p.GatewayOrderID,
		PreviousStatus:   previous,
		Status:           p.Status,
		Amount:           p.Amount,
		RefundedAmount:   p.RefundedAmount,
		Currency:         p.Currency,
		Source:           src,
		OccurredAt:       p.UpdatedAt,
	}
}

// EventType is the outbox event type for a status, e.g. "payment.partially_refunded".
func (s StatusChanged) EventType() string {
	if s.Status == StatusSuccess {
		return "payment.succeeded"
	}
	return "payment." + strings.ToLower(string(s.Status))
}
