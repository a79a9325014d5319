package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/payment-service/pkg/logging"
)

type memStore struct {
	mu      sync.Mutex
	events  []Event
	sent    []int64
	failed  map[int64]string
	lockErr error
}

func (s *memStore) LockBatch(_ context.Context, _ string, batchSize int, _ time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	var out []Event
	for i := range s.events {
		if s.events[i].Status == StatusPending && len(out) < batchSize {
			s.events[i].Status = StatusInProgress
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *memStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id int64, errMsg string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = map[int64]string{}
	}
	s.failed[id] = errMsg
	return nil
}

type fakeProducer struct {
	msgs   []kafka.Message
	failOn string
}

func (p *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if string(m.Key) == p.failOn {
			return errors.New("broker unavailable")
		}
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestRelayTickSendsAndMarks(t *testing.T) {
	ev1, err := NewEvent("payment", "order_1", "payment.succeeded", map[string]string{"status": "SUCCESS"}, map[string]string{"source": "webhook"}, "")
	require.NoError(t, err)
	ev1.ID = 1
	ev2, err := NewEvent("payment", "order_2", "payment.failed", map[string]string{"status": "FAILED"}, nil, "")
	require.NoError(t, err)
	ev2.ID = 2

	store := &memStore{events: []Event{ev1, ev2}}
	producer := &fakeProducer{failOn: "order_2"}
	relay := NewRelay(logging.Discard(), store, NewKafkaDispatcher(logging.Discard(), producer, "payment.events"), "test-relay")

	n, err := relay.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, store.sent)
	assert.Contains(t, store.failed[2], "broker unavailable")

	require.Len(t, producer.msgs, 1)
	msg := producer.msgs[0]
	assert.Equal(t, "payment.events", msg.Topic)
	assert.Equal(t, "order_1", string(msg.Key))
	assert.JSONEq(t, `{"status":"SUCCESS"}`, string(msg.Value))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "payment.succeeded", headers["event_type"])
	assert.Equal(t, "webhook", headers["source"])
}

func TestRelayTickEmptyAndLockError(t *testing.T) {
	store := &memStore{}
	relay := NewRelay(logging.Discard(), store, NewKafkaDispatcher(logging.Discard(), &fakeProducer{}, "t"), "r")

	n, err := relay.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	store.lockErr = errors.New("db down")
	_, err = relay.Tick(context.Background())
	assert.Error(t, err)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	relay := NewRelay(logging.Discard(), &memStore{}, NewKafkaDispatcher(logging.Discard(), &fakeProducer{}, "t"), "r").
		WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
