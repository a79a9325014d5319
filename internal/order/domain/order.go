package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	StatusCreated    OrderStatus = "CREATED"
	StatusAuthorized OrderStatus = "AUTHORIZED"
	StatusPaid       OrderStatus = "PAID"
	StatusFailed     OrderStatus = "FAILED"
)

// Order is the merchant-side request for an amount, mirrored from the gateway order.
type Order struct {
	ID             string      `json:"id"`
	GatewayOrderID string      `json:"gatewayOrderId"`
	Amount         int64       `json:"amount"`
	Currency       string      `json:"currency"`
	Receipt        string      `json:"receipt"`
	Status         OrderStatus `json:"status"`
	CustomerEmail  string      `json:"customerEmail"`
	CustomerName   string      `json:"customerName,omitempty"`
	CustomerPhone  string      `json:"customerPhone,omitempty"`
	Description    string      `json:"description,omitempty"`
	Version        int64       `json:"-"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

type Customer struct {
	Email string
	Name  string
	Phone string
}

// NewReceipt returns the merchant receipt code sent along with the gateway order.
func NewReceipt() string {
	return "receipt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

func NewOrder(gatewayOrderID, receipt string, amount int64, currency string, c Customer, description string) Order {
	now := time.Now().UTC()
	return Order{
		ID:             uuid.NewString(),
		GatewayOrderID: gatewayOrderID,
		Amount:         amount,
		Currency:       currency,
		Receipt:        receipt,
		Status:         StatusCreated,
		CustomerEmail:  c.Email,
		CustomerName:   c.Name,
		CustomerPhone:  c.Phone,
		Description:    description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Authorize, MarkPaid and Fail report whether the status changed; re-applying is a no-op.

func (o *Order) Authorize() bool {
	switch o.Status {
	case StatusCreated, StatusFailed:
		return o.set(StatusAuthorized)
	}
	return false
}

func (o *Order) MarkPaid() bool {
	if o.Status == StatusPaid {
		return false
	}
	return o.set(StatusPaid)
}

func (o *Order) Fail() bool {
	switch o.Status {
	case StatusCreated, StatusAuthorized:
		return o.set(StatusFailed)
	}
	return false
}

func (o *Order) set(s OrderStatus) bool {
	o.Status = s
	o.UpdatedAt = time.Now().UTC()
	return true
}
