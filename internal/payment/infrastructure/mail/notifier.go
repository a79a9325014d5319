package mail

import (
	"context"
	"fmt"
	"log/slog"

	gomail "github.com/wneessen/go-mail"

	"github.com/dmehra2102/payment-service/internal/payment/domain"
)

type Config struct {
	Host         string
	Port         int
	Username     string
	Password     string
	From         string
	AppName      string
	SupportEmail string
	RetryURL     string
}

// Sender is the part of *gomail.Client the notifier needs.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*gomail.Msg) error
}

type Notifier struct {
	log    *slog.Logger
	sender Sender
	cfg    Config
}

// New dials nothing; the SMTP connection is opened per send.
func New(log *slog.Logger, cfg Config) (*Notifier, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return NewWithSender(log, client, cfg), nil
}

func NewWithSender(log *slog.Logger, sender Sender, cfg Config) *Notifier {
	return &Notifier{log: log, sender: sender, cfg: cfg}
}

func (n *Notifier) Notify(ctx context.Context, p domain.Payment) error {
	subject, body, err := Render(n.cfg, p)
	if err != nil {
		return err
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(n.cfg.AppName, n.cfg.From); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(p.CustomerEmail); err != nil {
		return fmt.Errorf("recipient %q: %w", p.CustomerEmail, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, body)

	if err := n.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send %s email: %w", p.Status, err)
	}
	n.log.Debug("smtp message accepted", "payment_id", p.ID, "subject", subject)
	return nil
}

// LogNotifier stands in for SMTP when mail is disabled.
type LogNotifier struct {
	log *slog.Logger
	cfg Config
}

func NewLogNotifier(log *slog.Logger, cfg Config) *LogNotifier {
	return &LogNotifier{log: log, cfg: cfg}
}

func (n *LogNotifier) Notify(_ context.Context, p domain.Payment) error {
	subject, _, err := Render(n.cfg, p)
	if err != nil {
		return err
	}
	n.log.Info("payment email skipped, mail disabled", "payment_id", p.ID, "to", p.CustomerEmail, "subject", subject)
	return nil
}
