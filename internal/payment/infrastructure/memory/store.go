// Package memory keeps orders, payments and outbox rows in process memory. It backs
// storage.driver=memory and the application tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	orderdomain "github.com/dmehra2102/payment-service/internal/order/domain"
	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/pkg/apperr"
	"github.com/dmehra2102/payment-service/pkg/outbox"
)

type Store struct {
	mu       sync.RWMutex
	orders   map[string]orderdomain.Order
	payments map[string]domain.Payment
	events   []outbox.Event
	leases   map[int64]time.Time
	nextID   int64
}

func NewStore() *Store {
	return &Store{
		orders:   make(map[string]orderdomain.Order),
		payments: make(map[string]domain.Payment),
		leases:   make(map[int64]time.Time),
	}
}

func (s *Store) Payments() *PaymentRepository { return &PaymentRepository{s: s} }
func (s *Store) Orders() *OrderRepository     { return &OrderRepository{s: s} }

// Events returns a copy of every outbox row written so far.
func (s *Store) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outbox.Event, len(s.events))
	copy(out, s.events)
	return out
}

type PaymentRepository struct{ s *Store }

func (r *PaymentRepository) Create(_ context.Context, p domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.payments[p.ID]; ok {
		return apperr.Conflict("payment %s exists", p.ID)
	}
	for _, other := range r.s.payments {
		if other.GatewayPaymentID == p.GatewayPaymentID {
			return apperr.Conflict("gateway payment id %s exists", p.GatewayPaymentID)
		}
	}
	r.s.payments[p.ID] = p
	return nil
}

func (r *PaymentRepository) GetByID(_ context.Context, id string) (domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.payments[id]
	if !ok {
		return domain.Payment{}, apperr.NotFound("payment %s", id)
	}
	return p, nil
}

func (r *PaymentRepository) GetByGatewayPaymentID(_ context.Context, gatewayPaymentID string) (domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.payments {
		if p.GatewayPaymentID == gatewayPaymentID {
			return p, nil
		}
	}
	return domain.Payment{}, apperr.NotFound("payment %s", gatewayPaymentID)
}

func (r *PaymentRepository) GetByGatewayOrderID(_ context.Context, gatewayOrderID string) (domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	matches := r.s.filter(func(p domain.Payment) bool { return p.GatewayOrderID == gatewayOrderID })
	if len(matches) == 0 {
		return domain.Payment{}, apperr.NotFound("payment for order %s", gatewayOrderID)
	}
	return matches[0], nil
}

func (r *PaymentRepository) ListByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.filter(func(p domain.Payment) bool { return p.OrderID == orderID }), nil
}

func (r *PaymentRepository) List(_ context.Context, req domain.PageRequest) ([]domain.Payment, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := r.s.filter(func(domain.Payment) bool { return true })
	return page(all, req), int64(len(all)), nil
}

func (r *PaymentRepository) ListByCustomer(_ context.Context, email string, req domain.PageRequest) ([]domain.Payment, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := r.s.filter(func(p domain.Payment) bool { return p.CustomerEmail == email })
	return page(all, req), int64(len(all)), nil
}

func (r *PaymentRepository) Totals(_ context.Context) (domain.Totals, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var t domain.Totals
	for _, p := range r.s.payments {
		t.Total++
		t.RefundedAmount += p.RefundedAmount
		switch {
		case p.Status.Captured():
			t.Successful++
			t.Revenue += p.Amount
		case p.Status == domain.StatusFailed:
			t.Failed++
		}
	}
	return t, nil
}

func (r *PaymentRepository) Update(_ context.Context, p domain.Payment, events ...outbox.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.payments[p.ID]
	if !ok {
		return apperr.NotFound("payment %s", p.ID)
	}
	if cur.Version != p.Version {
		return apperr.Conflict("payment %s version %d", p.ID, p.Version)
	}
	p.Version++
	p.RefundPending = cur.RefundPending
	r.s.payments[p.ID] = p
	for _, e := range events {
		r.s.nextID++
		e.ID = r.s.nextID
		e.Status = outbox.StatusPending
		r.s.events = append(r.s.events, e)
	}
	return nil
}

func (r *PaymentRepository) ReserveRefund(_ context.Context, id string, amount int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return false, apperr.NotFound("payment %s", id)
	}
	refundable := p.Status == domain.StatusSuccess || p.Status == domain.StatusPartiallyRefunded
	if !refundable || amount <= 0 || p.RefundedAmount+p.RefundPending+amount > p.Amount {
		return false, nil
	}
	p.RefundPending += amount
	p.Version++
	r.s.payments[id] = p
	return true, nil
}

func (r *PaymentRepository) ReleaseRefund(_ context.Context, id string, amount int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return apperr.NotFound("payment %s", id)
	}
	p.RefundPending = max(p.RefundPending-amount, 0)
	p.Version++
	r.s.payments[id] = p
	return nil
}

func (r *PaymentRepository) ClaimEmail(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok || p.EmailSent || !p.Status.Notifiable() {
		return false, nil
	}
	p.EmailSent = true
	p.Version++
	r.s.payments[id] = p
	return true, nil
}

func (r *PaymentRepository) ReleaseEmail(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return apperr.NotFound("payment %s", id)
	}
	p.EmailSent = false
	p.Version++
	r.s.payments[id] = p
	return nil
}

func (r *PaymentRepository) PendingEmails(_ context.Context, limit int) ([]domain.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	pending := r.s.filter(func(p domain.Payment) bool { return !p.EmailSent && p.Status.Notifiable() })
	// oldest first
	sort.Slice(pending, func(i, j int) bool { return pending[i].UpdatedAt.Before(pending[j].UpdatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// filter returns matches newest first. Callers hold the lock.
func (s *Store) filter(keep func(domain.Payment) bool) []domain.Payment {
	var out []domain.Payment
	for _, p := range s.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func page(all []domain.Payment, req domain.PageRequest) []domain.Payment {
	start := req.Offset()
	if start < 0 || start >= len(all) {
		return []domain.Payment{}
	}
	end := start + req.Size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

type OrderRepository struct{ s *Store }

func (r *OrderRepository) Create(_ context.Context, o orderdomain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[o.ID]; ok {
		return apperr.Conflict("order %s exists", o.ID)
	}
	r.s.orders[o.ID] = o
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (orderdomain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return orderdomain.Order{}, apperr.NotFound("order %s", id)
	}
	return o, nil
}

func (r *OrderRepository) GetByGatewayOrderID(_ context.Context, gatewayOrderID string) (orderdomain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, o := range r.s.orders {
		if o.GatewayOrderID == gatewayOrderID {
			return o, nil
		}
	}
	return orderdomain.Order{}, apperr.NotFound("order %s", gatewayOrderID)
}

func (r *OrderRepository) Update(_ context.Context, o orderdomain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.orders[o.ID]
	if !ok {
		return apperr.NotFound("order %s", o.ID)
	}
	if cur.Version != o.Version {
		return apperr.Conflict("order %s version %d", o.ID, o.Version)
	}
	o.Version++
	r.s.orders[o.ID] = o
	return nil
}

// LockBatch, MarkSent and MarkFailed let the outbox relay drain the in-memory rows.

func (s *Store) LockBatch(_ context.Context, _ string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []outbox.Event
	for i := range s.events {
		if len(out) == batchSize {
			break
		}
		e := &s.events[i]
		expired := e.Status == outbox.StatusInProgress && now.After(s.leases[e.ID])
		if e.Status != outbox.StatusPending && !expired {
			continue
		}
		e.Status = outbox.StatusInProgress
		s.leases[e.ID] = now.Add(lease)
		out = append(out, *e)
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range s.events {
		if _, ok := set[s.events[i].ID]; ok {
			s.events[i].Status = outbox.StatusSent
			delete(s.leases, s.events[i].ID)
		}
	}
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id int64, errMsg string, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		e := &s.events[i]
		if e.ID != id {
			continue
		}
		e.RetryCount++
		msg := errMsg
		e.LastError = &msg
		e.Status = outbox.StatusPending
		if e.RetryCount >= maxRetries {
			e.Status = outbox.StatusFailed
		}
		delete(s.leases, id)
		return nil
	}
	return apperr.NotFound("outbox event %d", id)
}

var _ outbox.Store = (*Store)(nil)
