package domain

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusRequiresAction    Status = "REQUIRES_ACTION"
	StatusProcessing        Status = "PROCESSING"
	StatusSuccess           Status = "SUCCESS"
	StatusFailed            Status = "FAILED"
	StatusCancelled         Status = "CANCELLED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

// Open reports whether the payment has not reached a terminal state yet.
func (s Status) Open() bool {
	switch s {
	case StatusPending, StatusRequiresAction, StatusProcessing:
		return true
	}
	return false
}

// Captured reports whether funds were collected (possibly refunded since).
func (s Status) Captured() bool {
	switch s {
	case StatusSuccess, StatusPartiallyRefunded, StatusRefunded:
		return true
	}
	return false
}

// Notifiable statuses get exactly one customer email.
func (s Status) Notifiable() bool {
	return s == StatusSuccess || s == StatusFailed
}

type Payment struct {
	ID               string    `json:"id"`
	GatewayPaymentID string    `json:"gatewayPaymentId"`
	GatewayOrderID   string    `json:"gatewayOrderId"`
	OrderID          string    `json:"orderId"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Status           Status    `json:"status"`
	CustomerEmail    string    `json:"customerEmail"`
	Description      string    `json:"description,omitempty"`
	FailureReason    string    `json:"failureReason,omitempty"`
	Method           string    `json:"method,omitempty"`
	CardBrand        string    `json:"cardBrand,omitempty"`
	CardLast4        string    `json:"cardLast4,omitempty"`
	Refunded         bool      `json:"refunded"`
	RefundedAmount   int64     `json:"refundedAmount"`
	// RefundPending is held by refunds sent to the gateway but not yet recorded.
	RefundPending    int64     `json:"-"`
	EmailSent        bool      `json:"emailSent"`
	Version          int64     `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// NewPayment starts a PENDING payment whose gateway payment id is the order-level
// placeholder until the gateway reports the real one.
func NewPayment(orderID, gatewayOrderID string, amount int64, currency, email, description string) Payment {
	now := time.Now().UTC()
	return Payment{
		ID:               uuid.NewString(),
		GatewayPaymentID: gatewayOrderID,
		GatewayOrderID:   gatewayOrderID,
		OrderID:          orderID,
		Amount:           amount,
		Currency:         currency,
		Status:           StatusPending,
		CustomerEmail:    email,
		Description:      description,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (p *Payment) HasPlaceholderID() bool {
	return p.GatewayPaymentID == "" || p.GatewayPaymentID == p.GatewayOrderID
}

func (p *Payment) RemainingRefundable() int64 {
	return p.Amount - p.RefundedAmount - p.RefundPending
}

// setRefundedAmount clamps to [current, Amount] and keeps Refunded and the refund statuses consistent.
func (p *Payment) setRefundedAmount(total int64) {
	if total > p.Amount {
		total = p.Amount
	}
	if total < p.RefundedAmount {
		total = p.RefundedAmount
	}
	p.RefundedAmount = total
	p.Refunded = p.RefundedAmount == p.Amount
	if p.Refunded {
		p.Status = StatusRefunded
	} else if p.RefundedAmount > 0 {
		p.Status = StatusPartiallyRefunded
	}
}

func (p *Payment) touch() {
	p.UpdatedAt = time.Now().UTC()
}
