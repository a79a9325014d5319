package kafka

import (
	"github.com/segmentio/kafka-go"
)

// NewWriter returns a writer without a fixed topic; the outbox dispatcher sets it per message.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}
