package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/payment-service/internal/payment/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	dateLayout    = "Jan 02, 2006 at 03:04 PM"
	defaultReason = "Payment declined by bank"
	unknownBrand  = "Card"
	unknownLast4  = "****"
)

type view struct {
	AppName      string
	SupportEmail string
	RetryURL     string
	Amount       string
	Description  string
	PaymentID    string
	Date         string
	CardBrand    string
	CardLast4    string
	Reason       string
}

// FormatAmount renders minor units as "INR 1,234.50".
func FormatAmount(minor int64, currency string) string {
	s := decimal.New(minor, -2).StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return currency + " " + out
}

// Render builds the subject and HTML body for a payment in a notifiable status.
func Render(cfg Config, p domain.Payment) (subject, body string, err error) {
	v := view{
		AppName:      cfg.AppName,
		SupportEmail: cfg.SupportEmail,
		RetryURL:     cfg.RetryURL,
		Amount:       FormatAmount(p.Amount, p.Currency),
		Description:  p.Description,
		PaymentID:    p.GatewayPaymentID,
		Date:         p.CreatedAt.Format(dateLayout),
		CardBrand:    unknownBrand,
		CardLast4:    unknownLast4,
		Reason:       p.FailureReason,
	}
	if p.CardBrand != "" {
		v.CardBrand = strings.ToUpper(p.CardBrand)
	}
	if p.CardLast4 != "" {
		v.CardLast4 = p.CardLast4
	}
	if v.Reason == "" {
		v.Reason = defaultReason
	}

	var name string
	switch p.Status {
	case domain.StatusSuccess:
		name, subject = "success.html", "Payment Successful - "+cfg.AppName
	case domain.StatusFailed:
		name, subject = "failure.html", "Payment Failed - "+cfg.AppName
	default:
		return "", "", fmt.Errorf("no email for payment status %s", p.Status)
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	return subject, buf.String(), nil
}
