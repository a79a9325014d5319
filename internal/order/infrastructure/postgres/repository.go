package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/payment-service/internal/order/domain"
	"github.com/dmehra2102/payment-service/pkg/apperr"
)

const orderColumns = `id::text, gateway_order_id, amount, currency, receipt, status, customer_email, customer_name,
	customer_phone, description, version, created_at, updated_at`

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Create(ctx context.Context, o domain.Order) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO orders (id, gateway_order_id, amount, currency, receipt, status,
			customer_email, customer_name, customer_phone, description, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.GatewayOrderID, o.Amount, o.Currency, o.Receipt, o.Status, o.CustomerEmail, o.CustomerName,
		o.CustomerPhone, o.Description, o.Version, o.CreatedAt, o.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Conflict("order %s already exists", o.GatewayOrderID)
	}
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE id::text = $1`, id)
}

func (r *Repository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE gateway_order_id = $1`, gatewayOrderID)
}

func (r *Repository) Update(ctx context.Context, o domain.Order) error {
	ct, err := r.pool.Exec(ctx, `UPDATE orders SET status=$3, updated_at=$4, version=version+1
		WHERE id=$1 AND version=$2`, o.ID, o.Version, o.Status, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.Conflict("order %s changed since version %d", o.ID, o.Version)
	}
	return nil
}

func (r *Repository) one(ctx context.Context, sql, key string) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, sql, key).Scan(&o.ID, &o.GatewayOrderID, &o.Amount, &o.Currency, &o.Receipt, &o.Status,
		&o.CustomerEmail, &o.CustomerName, &o.CustomerPhone, &o.Description, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, apperr.NotFound("order %s", key)
	}
	if err != nil {
		return domain.Order{}, err
	}
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return o, nil
}
