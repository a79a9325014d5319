//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	orderdomain "github.com/dmehra2102/payment-service/internal/order/domain"
	orderpg "github.com/dmehra2102/payment-service/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/payment-service/pkg/apperr"
	"github.com/dmehra2102/payment-service/pkg/idempotency"
	"github.com/dmehra2102/payment-service/pkg/logging"
	"github.com/dmehra2102/payment-service/pkg/outbox"
	"github.com/dmehra2102/payment-service/test/integration"
)

type RepositorySuite struct {
	suite.Suite
	env      *integration.Env
	pool     *pgxpool.Pool
	orders   *orderpg.Repository
	payments *postgres.Repository
	outbox   *postgres.OutboxStore
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	ctx := context.Background()
	env, err := integration.Setup(ctx, integration.Options{})
	s.Require().NoError(err)
	s.env = env

	s.pool, err = postgres.Connect(ctx, env.PGURL)
	s.Require().NoError(err)
	s.Require().NoError(postgres.Migrate(ctx, s.pool))
	s.Require().NoError(postgres.Migrate(ctx, s.pool), "schema re-applies cleanly")

	log := logging.Discard()
	s.orders = orderpg.NewRepository(log, s.pool)
	s.payments = postgres.NewRepository(log, s.pool)
	s.outbox = postgres.NewOutboxStore(log, s.pool)
}

func (s *RepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.env != nil {
		s.env.Teardown(context.Background())
	}
}

func (s *RepositorySuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), `TRUNCATE outbox, payments, orders`)
	s.Require().NoError(err)
}

func (s *RepositorySuite) seed(gatewayOrderID string, amount int64) (orderdomain.Order, domain.Payment) {
	ctx := context.Background()
	o := orderdomain.NewOrder(gatewayOrderID, orderdomain.NewReceipt(), amount, "INR", orderdomain.Customer{Email: "buyer@example.com"}, "Course")
	s.Require().NoError(s.orders.Create(ctx, o))
	p := domain.NewPayment(o.ID, gatewayOrderID, amount, "INR", "buyer@example.com", "Course")
	s.Require().NoError(s.payments.Create(ctx, p))
	return o, p
}

func (s *RepositorySuite) TestPaymentLookups() {
	ctx := context.Background()
	o, p := s.seed("order_1", 500)

	byPlaceholder, err := s.payments.GetByGatewayPaymentID(ctx, "order_1")
	s.Require().NoError(err)
	s.Equal(p.ID, byPlaceholder.ID)

	byOrder, err := s.payments.GetByGatewayOrderID(ctx, "order_1")
	s.Require().NoError(err)
	s.Equal(domain.StatusPending, byOrder.Status)

	list, err := s.payments.ListByOrder(ctx, o.ID)
	s.Require().NoError(err)
	s.Len(list, 1)

	_, err = s.payments.GetByID(ctx, "not-a-uuid")
	s.ErrorIs(err, apperr.ErrNotFound)

	err = s.payments.Create(ctx, p)
	s.ErrorIs(err, apperr.ErrConflict)
}

func (s *RepositorySuite) TestUpdateWritesOutboxAtomically() {
	ctx := context.Background()
	_, p := s.seed("order_2", 500)

	prev := p.Status
	out := p.Apply(domain.GatewayEvent{Name: domain.EventPaymentCaptured, GatewayPaymentID: "pay_2", AmountRefunded: -1})
	s.Require().True(out.StatusChanged)
	change := domain.NewStatusChanged(p, prev, domain.SourceWebhook)
	ev, err := outbox.NewEvent("payment", p.GatewayOrderID, change.EventType(), change, map[string]string{"source": "webhook"}, "")
	s.Require().NoError(err)

	s.Require().NoError(s.payments.Update(ctx, p, ev))
	s.ErrorIs(s.payments.Update(ctx, p, ev), apperr.ErrConflict, "stale version rejected")

	got, err := s.payments.GetByGatewayPaymentID(ctx, "pay_2")
	s.Require().NoError(err)
	s.Equal(domain.StatusSuccess, got.Status)
	s.Equal(p.Version+1, got.Version)

	batch, err := s.outbox.LockBatch(ctx, "relay-test", 10, time.Minute)
	s.Require().NoError(err)
	s.Require().Len(batch, 1)
	s.Equal("payment.succeeded", batch[0].Type)
	s.Equal("webhook", batch[0].Headers["source"])

	s.Require().NoError(s.outbox.MarkFailed(ctx, batch[0].ID, "broker down", 10))
	retry, err := s.outbox.LockBatch(ctx, "relay-test", 10, time.Minute)
	s.Require().NoError(err)
	s.Require().Len(retry, 1)
	s.Equal(1, retry[0].RetryCount)

	s.Require().NoError(s.outbox.MarkSent(ctx, []int64{retry[0].ID}))
	empty, err := s.outbox.LockBatch(ctx, "relay-test", 10, time.Minute)
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *RepositorySuite) TestRefundBoundsEnforcedByDatabase() {
	ctx := context.Background()
	_, p := s.seed("order_3", 500)
	p.Status = domain.StatusSuccess
	p.RefundedAmount = 600

	s.Error(s.payments.Update(ctx, p))
}

func (s *RepositorySuite) TestRefundReservation() {
	ctx := context.Background()
	_, p := s.seed("order_5", 500)

	ok, err := s.payments.ReserveRefund(ctx, p.ID, 100)
	s.Require().NoError(err)
	s.False(ok, "pending payments are not refundable")

	p.Apply(domain.GatewayEvent{Name: domain.EventPaymentCaptured, GatewayPaymentID: "pay_5", AmountRefunded: -1})
	s.Require().NoError(s.payments.Update(ctx, p))
	p.Version++

	ok, err = s.payments.ReserveRefund(ctx, p.ID, 400)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.payments.ReserveRefund(ctx, p.ID, 200)
	s.Require().NoError(err)
	s.False(ok)

	got, err := s.payments.GetByID(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(400), got.RefundPending)
	s.ErrorIs(s.payments.Update(ctx, p), apperr.ErrConflict, "reservation bumps the version")

	got.Apply(domain.GatewayEvent{Name: domain.EventRefundProcessed, AmountRefunded: 400})
	s.Require().NoError(s.payments.Update(ctx, got))
	s.Require().NoError(s.payments.ReleaseRefund(ctx, p.ID, 400))

	got, err = s.payments.GetByID(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(int64(400), got.RefundedAmount)
	s.Zero(got.RefundPending)
	s.Equal(int64(100), got.RemainingRefundable())
}

func (s *RepositorySuite) TestEmailClaim() {
	ctx := context.Background()
	_, p := s.seed("order_4", 500)

	ok, err := s.payments.ClaimEmail(ctx, p.ID)
	s.Require().NoError(err)
	s.False(ok, "pending payments are not notifiable")

	p.Apply(domain.GatewayEvent{Name: domain.EventPaymentFailed, AmountRefunded: -1})
	s.Require().NoError(s.payments.Update(ctx, p))

	pending, err := s.payments.PendingEmails(ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 1)

	ok, err = s.payments.ClaimEmail(ctx, p.ID)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.payments.ClaimEmail(ctx, p.ID)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.payments.ReleaseEmail(ctx, p.ID))
	pending, err = s.payments.PendingEmails(ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 1)
}

func (s *RepositorySuite) TestTotalsAndPaging() {
	ctx := context.Background()
	_, a := s.seed("order_5", 1000)
	_, b := s.seed("order_6", 3000)
	s.seed("order_7", 700)

	a.Apply(domain.GatewayEvent{Name: domain.EventPaymentCaptured, GatewayPaymentID: "pay_5", AmountRefunded: -1})
	s.Require().NoError(s.payments.Update(ctx, a))
	b.Apply(domain.GatewayEvent{Name: domain.EventPaymentFailed, GatewayPaymentID: "pay_6", AmountRefunded: -1})
	s.Require().NoError(s.payments.Update(ctx, b))

	t, err := s.payments.Totals(ctx)
	s.Require().NoError(err)
	s.Equal(domain.Totals{Successful: 1, Failed: 1, Total: 3, Revenue: 1000}, t)

	items, total, err := s.payments.List(ctx, domain.PageRequest{Page: 0, Size: 2})
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Len(items, 2)

	items, total, err = s.payments.ListByCustomer(ctx, "buyer@example.com", domain.PageRequest{Page: 1, Size: 2})
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Len(items, 1)
}

func (s *RepositorySuite) TestOrderVersionGuard() {
	ctx := context.Background()
	o, _ := s.seed("order_8", 500)

	stale := o
	s.Require().True(o.MarkPaid())
	s.Require().NoError(s.orders.Update(ctx, o))
	s.Require().True(stale.Fail())
	s.ErrorIs(s.orders.Update(ctx, stale), apperr.ErrConflict)

	got, err := s.orders.GetByGatewayOrderID(ctx, "order_8")
	s.Require().NoError(err)
	s.Equal(orderdomain.StatusPaid, got.Status)
}

func (s *RepositorySuite) TestWebhookDedupeAgainstRedis() {
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: s.env.RedisAddr})
	defer rdb.Close()
	store := idempotency.NewStore(rdb, time.Minute)
	key := store.Key("razorpay", "evt_integration")

	seen, err := store.Seen(ctx, key)
	s.Require().NoError(err)
	s.False(seen)
	seen, err = store.Seen(ctx, key)
	s.Require().NoError(err)
	s.True(seen)

	s.Require().NoError(store.Forget(ctx, key))
	seen, err = store.Seen(ctx, key)
	s.Require().NoError(err)
	s.False(seen)
}
