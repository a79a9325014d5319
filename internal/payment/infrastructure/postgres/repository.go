package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/pkg/apperr"
	"github.com/dmehra2102/payment-service/pkg/outbox"
)

const paymentColumns = `id::text, gateway_payment_id, gateway_order_id, order_id::text, amount, currency, status,
	customer_email, description, failure_reason, method, card_brand, card_last4, refunded, refunded_amount, refund_pending,
	email_sent, version, created_at, updated_at`

const notifiable = `status IN ('SUCCESS', 'FAILED')`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Create(ctx context.Context, p domain.Payment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO payments (id, gateway_payment_id, gateway_order_id, order_id, amount,
			currency, status, customer_email, description, failure_reason, method, card_brand, card_last4, refunded,
			refunded_amount, email_sent, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		p.ID, p.GatewayPaymentID, p.GatewayOrderID, p.OrderID, p.Amount, p.Currency, p.Status, p.CustomerEmail,
		p.Description, p.FailureReason, p.Method, p.CardBrand, p.CardLast4, p.Refunded, p.RefundedAmount, p.EmailSent, p.Version,
		p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("payment %s already exists", p.GatewayPaymentID)
	}
	return err
}

func (r *Repository) GetByID(ctx context.Context, id string) (domain.Payment, error) {
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id::text = $1`, id)
}

func (r *Repository) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (domain.Payment, error) {
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_id = $1`, gatewayPaymentID)
}

func (r *Repository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Payment, error) {
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments WHERE gateway_order_id = $1
		ORDER BY created_at DESC LIMIT 1`, gatewayOrderID)
}

func (r *Repository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return r.many(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id::text = $1 ORDER BY created_at DESC`, orderID)
}

func (r *Repository) List(ctx context.Context, req domain.PageRequest) ([]domain.Payment, int64, error) {
	items, err := r.many(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		req.Size, req.Offset())
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM payments`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) ListByCustomer(ctx context.Context, email string, req domain.PageRequest) ([]domain.Payment, int64, error) {
	items, err := r.many(ctx, `SELECT `+paymentColumns+` FROM payments WHERE customer_email = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, email, req.Size, req.Offset())
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM payments WHERE customer_email = $1`, email).Scan(&total); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) Totals(ctx context.Context) (domain.Totals, error) {
	var t domain.Totals
	err := r.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status IN ('SUCCESS', 'PARTIALLY_REFUNDED', 'REFUNDED')),
			count(*) FILTER (WHERE status = 'FAILED'),
			count(*),
			COALESCE(sum(amount) FILTER (WHERE status IN ('SUCCESS', 'PARTIALLY_REFUNDED', 'REFUNDED')), 0)::bigint,
			COALESCE(sum(refunded_amount), 0)::bigint
		FROM payments`).
		Scan(&t.Successful, &t.Failed, &t.Total, &t.Revenue, &t.RefundedAmount)
	return t, err
}

// Update is the single guarded write for a payment; outbox rows commit with it or not at all.
func (r *Repository) Update(ctx context.Context, p domain.Payment, events ...outbox.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE payments SET
			gateway_payment_id=$3, status=$4, failure_reason=$5, method=$6, card_brand=$7, card_last4=$8,
			refunded=$9, refunded_amount=$10, email_sent=$11, updated_at=$12, version=version+1
		WHERE id=$1 AND version=$2`,
		p.ID, p.Version, p.GatewayPaymentID, p.Status, p.FailureReason, p.Method, p.CardBrand, p.CardLast4,
		p.Refunded, p.RefundedAmount, p.EmailSent, p.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("gateway payment id %s taken", p.GatewayPaymentID)
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.Conflict("payment %s changed since version %d", p.ID, p.Version)
	}

	if err := insertOutbox(ctx, tx, events); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReserveRefund counts refunded and in-flight amounts so overlapping requests cannot
// jointly exceed the captured amount.
func (r *Repository) ReserveRefund(ctx context.Context, id string, amount int64) (bool, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE payments SET refund_pending = refund_pending + $2, version=version+1
		WHERE id=$1 AND status IN ('SUCCESS', 'PARTIALLY_REFUNDED') AND $2 > 0
			AND refunded_amount + refund_pending + $2 <= amount`, id, amount)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repository) ReleaseRefund(ctx context.Context, id string, amount int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE payments SET refund_pending = GREATEST(refund_pending - $2, 0), version=version+1
		WHERE id=$1`, id, amount)
	return err
}

func (r *Repository) ClaimEmail(ctx context.Context, id string) (bool, error) {
	ct, err := r.pool.Exec(ctx, `UPDATE payments SET email_sent=true, version=version+1
		WHERE id=$1 AND email_sent=false AND `+notifiable, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repository) ReleaseEmail(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE payments SET email_sent=false, version=version+1 WHERE id=$1`, id)
	return err
}

func (r *Repository) PendingEmails(ctx context.Context, limit int) ([]domain.Payment, error) {
	return r.many(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE email_sent=false AND `+notifiable+` ORDER BY updated_at LIMIT $1`, limit)
}

func (r *Repository) one(ctx context.Context, sql string, args ...any) (domain.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, apperr.NotFound("payment %v", args[0])
	}
	return p, err
}

func (r *Repository) many(ctx context.Context, sql string, args ...any) ([]domain.Payment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var p domain.Payment
	var created, updated time.Time
	err := row.Scan(&p.ID, &p.GatewayPaymentID, &p.GatewayOrderID, &p.OrderID, &p.Amount, &p.Currency, &p.Status,
		&p.CustomerEmail, &p.Description, &p.FailureReason, &p.Method, &p.CardBrand, &p.CardLast4, &p.Refunded,
		&p.RefundedAmount, &p.RefundPending, &p.EmailSent, &p.Version, &created, &updated)
	if err != nil {
		return domain.Payment{}, err
	}
	p.CreatedAt, p.UpdatedAt = created.UTC(), updated.UTC()
	return p, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, events []outbox.Event) error {
	for _, e := range events {
		headers := e.Headers
		if headers == nil {
			headers = map[string]string{}
		}
		_, err := tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
			VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
			e.AggregateType, e.AggregateID, e.Type, e.Payload, headers, e.Traceparent)
		if err != nil {
			return fmt.Errorf("insert outbox %s: %w", e.Type, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
