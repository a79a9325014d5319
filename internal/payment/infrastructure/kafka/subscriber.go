package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/payment-service/internal/payment/domain"
	"github.com/dmehra2102/payment-service/pkg/tracing"
)

// Envelope is one relayed payment status change as read back from the topic.
type Envelope struct {
	Key     string
	Type    string
	Headers map[string]string
	Change  domain.StatusChanged
}

type Handler func(ctx context.Context, env Envelope) error

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Subscriber reads the payment events topic. It backs the events command and the relay integration test.
type Subscriber struct {
	log    *slog.Logger
	reader MessageReader
	tracer trace.Tracer
}

func NewSubscriber(log *slog.Logger, brokers []string, topic, group string) *Subscriber {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     group,
		StartOffset: kafka.FirstOffset,
	})
	return NewSubscriberWithReader(log, r)
}

func NewSubscriberWithReader(log *slog.Logger, reader MessageReader) *Subscriber {
	return &Subscriber{log: log, reader: reader, tracer: otel.Tracer("payment-events-subscriber")}
}

// Run delivers messages to h until ctx ends. Undecodable messages are logged and committed;
// a handler error stops the loop without committing so the message is redelivered.
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	defer s.reader.Close()

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		env, err := decode(msg)
		if err != nil {
			s.log.Error("payment event decode failed", "offset", msg.Offset, "err", err)
			_ = s.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := s.tracer.Start(msgCtx, "ConsumePaymentEvent", trace.WithAttributes(
			attribute.String("event.type", env.Type),
			attribute.String("order.id", env.Key),
		))
		err = h(msgCtx, env)
		if err != nil {
			span.RecordError(err)
			span.End()
			return err
		}
		span.End()
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			s.log.Error("payment event commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

func decode(msg kafka.Message) (Envelope, error) {
	env := Envelope{Key: string(msg.Key), Headers: make(map[string]string, len(msg.Headers))}
	for _, h := range msg.Headers {
		env.Headers[h.Key] = string(h.Value)
	}
	env.Type = env.Headers["event_type"]
	if err := json.Unmarshal(msg.Value, &env.Change); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
