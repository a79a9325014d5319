package application

import (
	"context"

	orderdomain "github.com/dmehra2102/payment-service/internal/order/domain"
	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/pkg/outbox"
)

// PaymentRepository returns apperr.ErrNotFound for missing records and apperr.ErrConflict
// when a guarded update loses against a concurrent writer.
type PaymentRepository interface {
	Create(ctx context.Context, p domain.Payment) error
	GetByID(ctx context.Context, id string) (domain.Payment, error)
	GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (domain.Payment, error)
	// GetByGatewayOrderID returns the newest payment of the order.
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	List(ctx context.Context, req domain.PageRequest) ([]domain.Payment, int64, error)
	ListByCustomer(ctx context.Context, email string, req domain.PageRequest) ([]domain.Payment, int64, error)
	Totals(ctx context.Context) (domain.Totals, error)

	// Update writes p if its Version is still current and stores events in the same transaction.
	Update(ctx context.Context, p domain.Payment, events ...outbox.Event) error

	// ReserveRefund holds amount against the refundable balance and reports whether it fit.
	// The hold does not count as refunded until a refund.processed event records it.
	ReserveRefund(ctx context.Context, id string, amount int64) (bool, error)
	ReleaseRefund(ctx context.Context, id string, amount int64) error

	// ClaimEmail flips email_sent for a notifiable payment and reports whether this caller won it.
	ClaimEmail(ctx context.Context, id string) (bool, error)
	ReleaseEmail(ctx context.Context, id string) error
	PendingEmails(ctx context.Context, limit int) ([]domain.Payment, error)
}

type OrderRepository interface {
	Create(ctx context.Context, o orderdomain.Order) error
	Get(ctx context.Context, id string) (orderdomain.Order, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (orderdomain.Order, error)
	Update(ctx context.Context, o orderdomain.Order) error
}

type GatewayOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   string
}

// GatewayPayment is the gateway's current view of a payment.
type GatewayPayment struct {
	ID               string
	OrderID          string
	Status           string
	Amount           int64
	AmountRefunded   int64
	Method           string
	CardNetwork      string
	CardLast4        string
	ErrorDescription string
}

type GatewayRefund struct {
	ID     string
	Amount int64
	Status string
}

type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (GatewayPayment, error)
	Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (GatewayRefund, error)
	// ParseWebhook normalises a raw webhook body. Unknown event names are returned, not rejected.
	ParseWebhook(body []byte) (domain.GatewayEvent, error)
}

// Notifier delivers the customer email for a payment in a notifiable status.
type Notifier interface {
	Notify(ctx context.Context, p domain.Payment) error
}

type NotificationQueue interface {
	Enqueue(paymentID string) bool
}

// Deduper remembers webhook deliveries already processed.
type Deduper interface {
	Key(provider, eventID string) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}
