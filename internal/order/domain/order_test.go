package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewOrder(t *testing.T) {
	o := NewOrder("order_123", NewReceipt(), 50000, "INR", Customer{Email: "a@b.com", Name: "A"}, "Course")

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, int64(50000), o.Amount)
	assert.True(t, strings.HasPrefix(o.Receipt, "receipt_"))
	assert.LessOrEqual(t, len(o.Receipt), 40)
}

func TestOrderTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    OrderStatus
		apply   func(*Order) bool
		want    OrderStatus
		changed bool
	}{
		{"authorize created", StatusCreated, (*Order).Authorize, StatusAuthorized, true},
		{"authorize twice", StatusAuthorized, (*Order).Authorize, StatusAuthorized, false},
		{"authorize after paid", StatusPaid, (*Order).Authorize, StatusPaid, false},
		{"authorize after failed retry", StatusFailed, (*Order).Authorize, StatusAuthorized, true},
		{"pay authorized", StatusAuthorized, (*Order).MarkPaid, StatusPaid, true},
		{"pay twice", StatusPaid, (*Order).MarkPaid, StatusPaid, false},
		{"pay failed", StatusFailed, (*Order).MarkPaid, StatusPaid, true},
		{"fail created", StatusCreated, (*Order).Fail, StatusFailed, true},
		{"fail paid ignored", StatusPaid, (*Order).Fail, StatusPaid, false},
		{"fail twice", StatusFailed, (*Order).Fail, StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Order{Status: tt.from}
			assert.Equal(t, tt.changed, tt.apply(&o))
			assert.Equal(t, tt.want, o.Status)
		})
	}
}
