package domain

import "errors"

var (
	ErrNotRefundable = errors.New("payment is not in a refundable state")
	ErrFullyRefunded = errors.New("payment is already fully refunded")
	ErrRefundAmount  = errors.New("refund amount must be positive")
	ErrRefundExceeds = errors.New("refund amount exceeds remaining refundable balance")
)

// CheckRefund validates a refund request against the current state without touching it.
func (p *Payment) CheckRefund(amount int64) error {
	if amount <= 0 {
		return ErrRefundAmount
	}
	if p.Refunded || p.Status == StatusRefunded {
		return ErrFullyRefunded
	}
	if p.Status != StatusSuccess && p.Status != StatusPartiallyRefunded {
		return ErrNotRefundable
	}
	if amount > p.RemainingRefundable() {
		return ErrRefundExceeds
	}
	return nil
}

// RefundTarget is the cumulative refunded amount after accepting amount.
func (p *Payment) RefundTarget(amount int64) int64 {
	return p.RefundedAmount + amount
}
