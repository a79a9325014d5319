package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/payment-service/internal/payment/application"
	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/pkg/apperr"
)

const (
	signatureHeader = "X-Razorpay-Signature"
	eventIDHeader   = "X-Razorpay-Event-Id"
)

// Sweeper re-attempts customer emails that were never delivered.
type Sweeper interface {
	Sweep(ctx context.Context) (application.SweepResult, error)
}

type Handler struct {
	log          *slog.Logger
	service      *application.Service
	webhooks     *application.WebhookProcessor
	sweeper      Sweeper
	tracer       trace.Tracer
	serviceName  string
	maxBodyBytes int64
}

func NewHandler(log *slog.Logger, service *application.Service, webhooks *application.WebhookProcessor, sweeper Sweeper, serviceName string, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Handler{
		log:          log,
		service:      service,
		webhooks:     webhooks,
		sweeper:      sweeper,
		tracer:       otel.Tracer("payment-http"),
		serviceName:  serviceName,
		maxBodyBytes: maxBodyBytes,
	}
}

// Routes is mounted at /api/payments.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/create", h.createOrder)
	r.Post("/create-order", h.createOrder)
	r.Post("/verify", h.verify)
	r.Post("/confirm/{paymentId}", h.confirm)
	r.Post("/refund", h.refund)
	r.Post("/webhook", h.webhook)
	r.Post("/admin/send-pending-emails", h.sendPendingEmails)

	r.Get("/health", h.health)
	r.Get("/key", h.key)
	r.Get("/stats", h.stats)
	r.Get("/status/{orderId}", h.orderStatus)
	r.Get("/customer/{email}", h.listByCustomer)
	r.Get("/{paymentId}", h.getPayment)
	r.Get("/", h.list)
	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HTTP CreateOrder")
	defer span.End()

	var req application.CreateOrderRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	resp, err := h.service.CreateOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// verifyBody accepts both the checkout widget's field names and the camelCase ones.
type verifyBody struct {
	OrderID           string `json:"orderId"`
	PaymentID         string `json:"paymentId"`
	Signature         string `json:"signature"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (b verifyBody) request() application.VerifyRequest {
	return application.VerifyRequest{
		OrderID:   firstNonEmpty(b.RazorpayOrderID, b.OrderID),
		PaymentID: firstNonEmpty(b.RazorpayPaymentID, b.PaymentID),
		Signature: firstNonEmpty(b.RazorpaySignature, b.Signature),
	}
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HTTP VerifyPayment")
	defer span.End()

	var body verifyBody
	if err := h.decode(w, r, &body); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	resp, err := h.service.Verify(ctx, body.request())
	if err != nil {
		span.RecordError(err)
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentId")
	ctx, span := h.tracer.Start(r.Context(), "HTTP ConfirmPayment", trace.WithAttributes(attribute.String("gateway.payment_id", id)))
	defer span.End()

	p, err := h.service.Confirm(ctx, id)
	if err != nil {
		span.RecordError(err)
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HTTP RefundPayment")
	defer span.End()

	var req application.RefundRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(h.log, w, r, err)
		return
	}
	res, err := h.service.Refund(ctx, req)
	if err != nil {
		span.RecordError(err)
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Webhook is exported so it can also be mounted at /api/webhooks/razorpay.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) { h.webhook(w, r) }

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HTTP RazorpayWebhook")
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		writeError(h.log, w, r, apperr.Validation("webhook body unreadable or too large"))
		return
	}

	res, err := h.webhooks.Handle(ctx, body, r.Header.Get(signatureHeader), r.Header.Get(eventIDHeader))
	if err != nil {
		span.RecordError(err)
		writeError(h.log, w, r, err)
		return
	}
	span.SetAttributes(attribute.String("webhook.outcome", string(res.Outcome)))
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) sendPendingEmails(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HTTP SendPendingEmails")
	defer span.End()

	res, err := h.sweeper.Sweep(ctx)
	if err != nil {
		span.RecordError(err)
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Pending emails processed",
		"attempted": res.Attempted,
		"sent":      res.Sent,
		"failed":    res.Failed,
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "UP",
		"timestamp": time.Now().UTC(),
		"service":   h.serviceName,
	})
}

func (h *Handler) key(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"key_id": h.service.KeyID()})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HTTP PaymentStats")
	defer span.End()

	s, err := h.service.Stats(ctx)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HTTP OrderStatus")
	defer span.End()

	view, err := h.service.Status(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HTTP GetPayment")
	defer span.End()

	p, err := h.service.Get(ctx, chi.URLParam(r, "paymentId"))
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HTTP ListPayments")
	defer span.End()

	req, err := pageRequest(r)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	page, err := h.service.List(ctx, req)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) listByCustomer(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HTTP ListCustomerPayments")
	defer span.End()

	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		writeError(h.log, w, r, apperr.Validation("invalid email path segment"))
		return
	}
	req, err := pageRequest(r)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	page, err := h.service.ListByCustomer(ctx, email, req)
	if err != nil {
		writeError(h.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request body too large")
		}
		return apperr.Validation("malformed JSON body")
	}
	return nil
}

func pageRequest(r *http.Request) (domain.PageRequest, error) {
	req := domain.PageRequest{Page: 0, Size: domain.DefaultPageSize}
	var fields []apperr.FieldError
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fields = append(fields, apperr.FieldError{Field: "page", Message: "must be a non-negative integer"})
		}
		req.Page = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fields = append(fields, apperr.FieldError{Field: "size", Message: "must be a positive integer"})
		}
		req.Size = n
	}
	if len(fields) > 0 {
		return domain.PageRequest{}, apperr.Validation("invalid paging parameters", fields...)
	}
	return req, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
