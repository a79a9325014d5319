package domain

const defaultFailureReason = "Payment failed"

// Outcome describes what Apply did to a payment.
type Outcome struct {
	Changed bool
	// StatusChanged is false when only details (card, payment id) were backfilled.
	StatusChanged bool
	Previous      Status
	// Notify is set when the payment entered a notifiable status and its email must go out.
	Notify bool
}

// Apply maps a gateway event onto the payment. It compares against the current status
// instead of overwriting, so redelivered or out-of-order events converge on one state.
func (p *Payment) Apply(ev GatewayEvent) Outcome {
	out := Outcome{Previous: p.Status}

	switch ev.Name {
	case EventPaymentAuthorized, EventPaymentCaptured, EventOrderPaid:
		if p.Status.Open() || p.Status == StatusFailed {
			// The captured attempt wins over any earlier failed one.
			p.adopt(ev)
			p.Status = StatusSuccess
			p.FailureReason = ""
			out.StatusChanged = true
		} else {
			out.Changed = p.backfill(ev)
		}

	case EventPaymentFailed:
		if p.Status.Open() {
			p.Status = StatusFailed
			p.FailureReason = ev.FailureReason
			if p.FailureReason == "" {
				p.FailureReason = defaultFailureReason
			}
			if ev.GatewayPaymentID != "" && p.HasPlaceholderID() {
				p.GatewayPaymentID = ev.GatewayPaymentID
			}
			out.StatusChanged = true
		}

	case EventRefundProcessed:
		if p.Status.Captured() {
			total := p.Amount
			if ev.AmountRefunded >= 0 {
				total = ev.AmountRefunded
			}
			before, beforeAmt := p.Status, p.RefundedAmount
			p.setRefundedAmount(total)
			out.StatusChanged = p.Status != before
			out.Changed = p.RefundedAmount != beforeAmt
		}

	case EventPaymentRequiresAction:
		out.StatusChanged = p.moveOpen(StatusRequiresAction)
	case EventPaymentProcessing:
		out.StatusChanged = p.moveOpen(StatusProcessing)
	case EventPaymentCancelled:
		if p.Status.Open() {
			p.Status = StatusCancelled
			out.StatusChanged = true
		}
	}

	if out.StatusChanged {
		out.Changed = true
		if p.Status.Notifiable() {
			// A new notifiable status re-arms the email even if an earlier one was sent.
			p.EmailSent = false
			out.Notify = true
		}
	}
	if out.Changed {
		p.touch()
	}
	return out
}

func (p *Payment) moveOpen(s Status) bool {
	if !p.Status.Open() || p.Status == s {
		return false
	}
	p.Status = s
	return true
}

// adopt takes the attempt's identity and card details. A different payment id
// replaces the stored one along with details that belonged to the old attempt.
func (p *Payment) adopt(ev GatewayEvent) {
	if ev.GatewayPaymentID == "" || ev.GatewayPaymentID == p.GatewayPaymentID {
		p.backfill(ev)
		return
	}
	p.GatewayPaymentID = ev.GatewayPaymentID
	p.Method, p.CardBrand, p.CardLast4 = ev.Method, ev.CardNetwork, ev.CardLast4
}

func (p *Payment) backfill(ev GatewayEvent) bool {
	changed := false
	if ev.GatewayPaymentID != "" && p.HasPlaceholderID() {
		p.GatewayPaymentID = ev.GatewayPaymentID
		changed = true
	}
	if ev.Method != "" && p.Method == "" {
		p.Method = ev.Method
		changed = true
	}
	if ev.CardNetwork != "" && p.CardBrand == "" {
		p.CardBrand = ev.CardNetwork
		changed = true
	}
	if ev.CardLast4 != "" && p.CardLast4 == "" {
		p.CardLast4 = ev.CardLast4
		changed = true
	}
	return changed
}
