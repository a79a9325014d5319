package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	orderdomain "github.com/dmehra2102/payment-service/internal/order/domain"
	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/pkg/apperr"
	"github.com/dmehra2102/payment-service/pkg/signature"
)

type Options struct {
	KeyID     string
	KeySecret string
	Currency  string
	MinAmount int64
	MaxAmount int64
}

type Service struct {
	log        *slog.Logger
	orders     OrderRepository
	payments   PaymentRepository
	gateway    Gateway
	reconciler *Reconciler
	checkout   *signature.Verifier
	opts       Options
	tracer     trace.Tracer
}

func NewService(log *slog.Logger, orders OrderRepository, payments PaymentRepository, gateway Gateway, reconciler *Reconciler, opts Options) *Service {
	return &Service{
		log:        log,
		orders:     orders,
		payments:   payments,
		gateway:    gateway,
		reconciler: reconciler,
		checkout:   signature.NewVerifier(log, opts.KeySecret),
		opts:       opts,
		tracer:     otel.Tracer("payment-service"),
	}
}

func (s *Service) KeyID() string { return s.opts.KeyID }

type CreateOrderRequest struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customerEmail"`
	CustomerName  string `json:"customerName,omitempty"`
	CustomerPhone string `json:"customerPhone,omitempty"`
	Description   string `json:"description,omitempty"`
}

type CreateOrderResponse struct {
	OrderID   string `json:"orderId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	KeyID     string `json:"keyId"`
	Receipt   string `json:"receipt"`
	PaymentID string `json:"paymentId"`
}

func (s *Service) validateCreate(req *CreateOrderRequest) error {
	var fields []apperr.FieldError
	if req.Currency == "" {
		req.Currency = s.opts.Currency
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)

	switch {
	case req.Amount < s.opts.MinAmount:
		fields = append(fields, apperr.FieldError{Field: "amount", Message: fmt.Sprintf("must be at least %d", s.opts.MinAmount)})
	case req.Amount > s.opts.MaxAmount:
		fields = append(fields, apperr.FieldError{Field: "amount", Message: fmt.Sprintf("must be at most %d", s.opts.MaxAmount)})
	}
	if len(req.Currency) != 3 {
		fields = append(fields, apperr.FieldError{Field: "currency", Message: "must be a 3-letter ISO code"})
	}
	if req.CustomerEmail == "" {
		fields = append(fields, apperr.FieldError{Field: "customerEmail", Message: "is required"})
	} else if addr, err := mail.ParseAddress(req.CustomerEmail); err != nil || addr.Address != req.CustomerEmail {
		fields = append(fields, apperr.FieldError{Field: "customerEmail", Message: "must be a valid email address"})
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid order request", fields...)
	}
	return nil
}

// CreateOrder opens a gateway order and records the local order with its pending payment.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder")
	defer span.End()

	if err := s.validateCreate(&req); err != nil {
		return CreateOrderResponse{}, err
	}

	receipt := orderdomain.NewReceipt()
	notes := map[string]string{"customerEmail": req.CustomerEmail}
	if req.Description != "" {
		notes["description"] = req.Description
	}
	gw, err := s.gateway.CreateOrder(ctx, GatewayOrderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		span.RecordError(err)
		return CreateOrderResponse{}, err
	}
	span.SetAttributes(attribute.String("gateway.order_id", gw.ID))

	o := orderdomain.NewOrder(gw.ID, receipt, req.Amount, req.Currency, orderdomain.Customer{
		Email: req.CustomerEmail,
		Name:  req.CustomerName,
		Phone: req.CustomerPhone,
	}, req.Description)
	if err := s.orders.Create(ctx, o); err != nil {
		return CreateOrderResponse{}, fmt.Errorf("save order: %w", err)
	}

	p := domain.NewPayment(o.ID, gw.ID, req.Amount, req.Currency, req.CustomerEmail, req.Description)
	if err := s.payments.Create(ctx, p); err != nil {
		return CreateOrderResponse{}, fmt.Errorf("save payment: %w", err)
	}

	s.log.Info("order created", "order_id", o.ID, "gateway_order_id", gw.ID, "amount", req.Amount, "currency", req.Currency)
	return CreateOrderResponse{
		OrderID:   gw.ID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		KeyID:     s.opts.KeyID,
		Receipt:   receipt,
		PaymentID: p.ID,
	}, nil
}

type VerifyRequest struct {
	OrderID   string
	PaymentID string
	Signature string
}

type VerifyResponse struct {
	Status      domain.Status           `json:"status"`
	OrderStatus orderdomain.OrderStatus `json:"orderStatus"`
	PaymentID   string                  `json:"paymentId"`
	OrderID     string                  `json:"orderId"`
}

// Verify checks the checkout callback signature and applies the authorization it proves.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	ctx, span := s.tracer.Start(ctx, "VerifyPayment")
	defer span.End()

	var fields []apperr.FieldError
	if req.OrderID == "" {
		fields = append(fields, apperr.FieldError{Field: "razorpay_order_id", Message: "is required"})
	}
	if req.PaymentID == "" {
		fields = append(fields, apperr.FieldError{Field: "razorpay_payment_id", Message: "is required"})
	}
	if req.Signature == "" {
		fields = append(fields, apperr.FieldError{Field: "razorpay_signature", Message: "is required"})
	}
	if len(fields) > 0 {
		return VerifyResponse{}, apperr.Validation("invalid verification request", fields...)
	}

	if !s.checkout.VerifyCheckout(req.OrderID, req.PaymentID, req.Signature) {
		s.log.Warn("checkout signature mismatch", "security", true, "gateway_order_id", req.OrderID, "gateway_payment_id", req.PaymentID)
		return VerifyResponse{}, apperr.Signature("invalid payment signature")
	}

	res, err := s.reconciler.Apply(ctx, domain.GatewayEvent{
		Name:             domain.EventPaymentAuthorized,
		GatewayOrderID:   req.OrderID,
		GatewayPaymentID: req.PaymentID,
		AmountRefunded:   -1,
	}, domain.SourceVerify)
	if err != nil {
		return VerifyResponse{}, err
	}
	if !res.Found {
		return VerifyResponse{}, apperr.NotFound("payment for order %s", req.OrderID)
	}
	return VerifyResponse{
		Status:      res.Payment.Status,
		OrderStatus: res.Order.Status,
		PaymentID:   res.Payment.GatewayPaymentID,
		OrderID:     req.OrderID,
	}, nil
}

// gatewayStatusEvents maps the gateway's payment status to the event it implies.
var gatewayStatusEvents = map[string]domain.EventName{
	"created":    domain.EventPaymentProcessing,
	"authorized": domain.EventPaymentAuthorized,
	"captured":   domain.EventPaymentCaptured,
	"failed":     domain.EventPaymentFailed,
	"refunded":   domain.EventRefundProcessed,
}

// Confirm re-reads the payment from the gateway and reconciles what it reports.
func (s *Service) Confirm(ctx context.Context, gatewayPaymentID string) (domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "ConfirmPayment", trace.WithAttributes(attribute.String("gateway.payment_id", gatewayPaymentID)))
	defer span.End()

	if gatewayPaymentID == "" {
		return domain.Payment{}, apperr.Validation("payment id is required")
	}
	gp, err := s.gateway.FetchPayment(ctx, gatewayPaymentID)
	if err != nil {
		span.RecordError(err)
		return domain.Payment{}, err
	}
	name, ok := gatewayStatusEvents[gp.Status]
	if !ok {
		return domain.Payment{}, apperr.Validation(fmt.Sprintf("unsupported gateway payment status %q", gp.Status))
	}

	res, err := s.reconciler.Apply(ctx, domain.GatewayEvent{
		Name:             name,
		GatewayOrderID:   gp.OrderID,
		GatewayPaymentID: gp.ID,
		FailureReason:    gp.ErrorDescription,
		Method:           gp.Method,
		CardNetwork:      gp.CardNetwork,
		CardLast4:        gp.CardLast4,
		AmountRefunded:   gp.AmountRefunded,
	}, domain.SourceConfirm)
	if err != nil {
		return domain.Payment{}, err
	}
	if !res.Found {
		return domain.Payment{}, apperr.NotFound("payment %s", gatewayPaymentID)
	}
	return res.Payment, nil
}

type RefundRequest struct {
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"refundAmount"`
	Reason    string `json:"reason,omitempty"`
}

type RefundResult struct {
	Success        bool          `json:"success"`
	Message        string        `json:"message"`
	PaymentID      string        `json:"paymentId"`
	RefundID       string        `json:"refundId"`
	RefundAmount   int64         `json:"refundAmount"`
	RefundedAmount int64         `json:"refundedAmount"`
	Status         domain.Status `json:"status"`
}

// Refund validates locally, reserves the amount, then asks the gateway and records the
// refund. A gateway failure releases the reservation and leaves the record untouched.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	ctx, span := s.tracer.Start(ctx, "RefundPayment", trace.WithAttributes(attribute.String("gateway.payment_id", req.PaymentID)))
	defer span.End()

	if req.PaymentID == "" {
		return RefundResult{}, apperr.Validation("invalid refund request", apperr.FieldError{Field: "paymentId", Message: "is required"})
	}
	p, err := s.Get(ctx, req.PaymentID)
	if err != nil {
		return RefundResult{}, err
	}
	if err := p.CheckRefund(req.Amount); err != nil {
		return RefundResult{}, apperr.Validation(err.Error())
	}
	if p.HasPlaceholderID() {
		return RefundResult{}, apperr.Validation("gateway payment id not yet known for this payment")
	}

	ok, err := s.payments.ReserveRefund(ctx, p.ID, req.Amount)
	if err != nil {
		return RefundResult{}, err
	}
	if !ok {
		return RefundResult{}, apperr.Validation(domain.ErrRefundExceeds.Error())
	}
	// the hold must go whether or not the caller is still waiting
	defer func() {
		if err := s.payments.ReleaseRefund(context.WithoutCancel(ctx), p.ID, req.Amount); err != nil {
			s.log.Error("refund reservation not released", "payment_id", p.ID, "amount", req.Amount, "err", err)
		}
	}()

	notes := map[string]string{}
	if req.Reason != "" {
		notes["reason"] = req.Reason
	}
	refund, err := s.gateway.Refund(ctx, p.GatewayPaymentID, req.Amount, notes)
	if err != nil {
		span.RecordError(err)
		return RefundResult{}, err
	}

	res, err := s.reconciler.Apply(ctx, domain.GatewayEvent{
		Name:             domain.EventRefundProcessed,
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		RefundID:         refund.ID,
		RefundAmount:     req.Amount,
		AmountRefunded:   s.refundedTotal(ctx, p, req.Amount),
	}, domain.SourceRefund)
	if err != nil {
		s.log.Error("refund accepted by gateway but not recorded", "payment_id", p.ID, "refund_id", refund.ID, "err", err)
		return RefundResult{}, err
	}

	s.log.Info("refund processed", "payment_id", p.ID, "refund_id", refund.ID, "amount", req.Amount, "status", res.Payment.Status)
	return RefundResult{
		Success:        true,
		Message:        "Refund processed successfully",
		PaymentID:      res.Payment.GatewayPaymentID,
		RefundID:       refund.ID,
		RefundAmount:   req.Amount,
		RefundedAmount: res.Payment.RefundedAmount,
		Status:         res.Payment.Status,
	}, nil
}

// refundedTotal asks the gateway for the cumulative refunded amount, which also covers
// refunds that completed concurrently. The local sum is the fallback.
func (s *Service) refundedTotal(ctx context.Context, p domain.Payment, amount int64) int64 {
	local := p.RefundTarget(amount)
	gp, err := s.gateway.FetchPayment(ctx, p.GatewayPaymentID)
	if err != nil {
		s.log.Warn("refunded total not confirmed by gateway, using local sum", "payment_id", p.ID, "err", err)
		return local
	}
	return max(gp.AmountRefunded, local)
}

// Get resolves a gateway payment id (or the order-level placeholder), then a local id.
func (s *Service) Get(ctx context.Context, id string) (domain.Payment, error) {
	p, err := s.payments.GetByGatewayPaymentID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		p, err = s.payments.GetByID(ctx, id)
	}
	return p, err
}

func (s *Service) List(ctx context.Context, req domain.PageRequest) (domain.Page, error) {
	req = req.Normalize()
	items, total, err := s.payments.List(ctx, req)
	if err != nil {
		return domain.Page{}, err
	}
	return domain.NewPage(items, req, total), nil
}

func (s *Service) ListByCustomer(ctx context.Context, email string, req domain.PageRequest) (domain.Page, error) {
	req = req.Normalize()
	items, total, err := s.payments.ListByCustomer(ctx, strings.TrimSpace(email), req)
	if err != nil {
		return domain.Page{}, err
	}
	return domain.NewPage(items, req, total), nil
}

type OrderStatusView struct {
	Order    orderdomain.Order `json:"order"`
	Payments []domain.Payment  `json:"payments"`
}

// Status looks the order up by gateway order id, then by local id.
func (s *Service) Status(ctx context.Context, orderID string) (OrderStatusView, error) {
	o, err := s.orders.GetByGatewayOrderID(ctx, orderID)
	if errors.Is(err, apperr.ErrNotFound) {
		o, err = s.orders.Get(ctx, orderID)
	}
	if err != nil {
		return OrderStatusView{}, err
	}
	payments, err := s.payments.ListByOrder(ctx, o.ID)
	if err != nil {
		return OrderStatusView{}, err
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	return OrderStatusView{Order: o, Payments: payments}, nil
}

func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	t, err := s.payments.Totals(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.NewStats(t), nil
}
