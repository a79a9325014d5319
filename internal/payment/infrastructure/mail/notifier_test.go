package mail

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"

	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/pkg/logging"
)

var testConfig = Config{
	From:         "payments@example.com",
	AppName:      "Acme Pay",
	SupportEmail: "help@example.com",
	RetryURL:     "https://shop.example.com/checkout",
}

type captureSender struct {
	msgs []*gomail.Msg
	err  error
}

func (s *captureSender) DialAndSendWithContext(_ context.Context, msgs ...*gomail.Msg) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func payment(status domain.Status) domain.Payment {
	return domain.Payment{
		ID:               "p-1",
		GatewayPaymentID: "pay_123",
		Amount:           123450,
		Currency:         "INR",
		Status:           status,
		CustomerEmail:    "buyer@example.com",
		Description:      "Course <advanced>",
		CardBrand:        "visa",
		CardLast4:        "4242",
		CreatedAt:        time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC),
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[int64]string{
		0:         "INR 0.00",
		5:         "INR 0.05",
		50000:     "INR 500.00",
		123450:    "INR 1,234.50",
		100000000: "INR 1,000,000.00",
		-2500:     "INR -25.00",
	}
	for minor, want := range cases {
		assert.Equal(t, want, FormatAmount(minor, "INR"), "minor=%d", minor)
	}
}

func TestRenderSuccess(t *testing.T) {
	subject, body, err := Render(testConfig, payment(domain.StatusSuccess))
	require.NoError(t, err)

	assert.Equal(t, "Payment Successful - Acme Pay", subject)
	assert.Contains(t, body, "INR 1,234.50")
	assert.Contains(t, body, "pay_123")
	assert.Contains(t, body, "VISA ending in 4242")
	assert.Contains(t, body, "Mar 05, 2024 at 02:07 PM")
	assert.Contains(t, body, "Course &lt;advanced&gt;")
	assert.Contains(t, body, "The Acme Pay Team")
}

func TestRenderFailureDefaults(t *testing.T) {
	p := payment(domain.StatusFailed)
	p.CardBrand, p.CardLast4 = "", ""

	subject, body, err := Render(testConfig, p)
	require.NoError(t, err)

	assert.Equal(t, "Payment Failed - Acme Pay", subject)
	assert.Contains(t, body, "Payment declined by bank")
	assert.Contains(t, body, `href="https://shop.example.com/checkout"`)

	p.FailureReason = "Insufficient funds"
	_, body, err = Render(testConfig, p)
	require.NoError(t, err)
	assert.Contains(t, body, "Insufficient funds")
}

func TestRenderRejectsOpenStatus(t *testing.T) {
	_, _, err := Render(testConfig, payment(domain.StatusPending))
	assert.Error(t, err)
}

func TestNotifierSends(t *testing.T) {
	sender := &captureSender{}
	n := NewWithSender(logging.Discard(), sender, testConfig)

	require.NoError(t, n.Notify(context.Background(), payment(domain.StatusSuccess)))
	require.Len(t, sender.msgs, 1)

	rcpts, err := sender.msgs[0].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"buyer@example.com"}, rcpts)
}

func TestNotifierLeavesDeliveryLogToCaller(t *testing.T) {
	var buf bytes.Buffer
	n := NewWithSender(logging.NewWithWriter(&buf, "info", "json"), &captureSender{}, testConfig)

	require.NoError(t, n.Notify(context.Background(), payment(domain.StatusSuccess)))
	assert.NotContains(t, buf.String(), "payment email sent")
}

func TestNotifierErrors(t *testing.T) {
	sender := &captureSender{err: errors.New("connection refused")}
	n := NewWithSender(logging.Discard(), sender, testConfig)
	assert.ErrorContains(t, n.Notify(context.Background(), payment(domain.StatusFailed)), "connection refused")

	bad := payment(domain.StatusSuccess)
	bad.CustomerEmail = "not an address"
	assert.Error(t, NewWithSender(logging.Discard(), &captureSender{}, testConfig).Notify(context.Background(), bad))
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(logging.Discard(), testConfig)
	assert.NoError(t, n.Notify(context.Background(), payment(domain.StatusSuccess)))
	assert.Error(t, n.Notify(context.Background(), payment(domain.StatusRefunded)))
}
