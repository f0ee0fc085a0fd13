package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Broker is the wake-up channel between the API and the worker. Payloads
// are small trigger messages, not the mail itself; the database remains
// the source of truth for what to send.
type Broker interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
	Close() error
}

// InMemoryBroker is a process-local Broker implementation used in tests;
// the binaries use AMQP or run without a broker.
type InMemoryBroker struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	log      *slog.Logger
}

func NewInMemoryBroker(log *slog.Logger) *InMemoryBroker {
	return &InMemoryBroker{
		handlers: make(map[string][]func(payload any) error),
		log:      log,
	}
}

type job struct {
	payload    any
	retryCount int
	maxRetries int
}

// Publish delivers the payload to all subscribers asynchronously.
func (q *InMemoryBroker) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	j := job{payload: payload, maxRetries: 3}
	for _, handler := range handlers {
		go q.processJob(topic, handler, j)
	}
	return nil
}

func (q *InMemoryBroker) processJob(topic string, handler func(payload any) error, j job) {
	for j.retryCount <= j.maxRetries {
		err := handler(j.payload)
		if err == nil {
			return
		}

		j.retryCount++
		q.log.Warn("broker job failed",
			"topic", topic, "attempt", j.retryCount, "max", j.maxRetries, "error", err)

		if j.retryCount > j.maxRetries {
			q.log.Error("broker job permanently failed", "topic", topic, "payload", j.payload)
			return
		}

		// exponential-ish backoff before retrying the handler
		time.Sleep(time.Duration(j.retryCount*500) * time.Millisecond)
	}
}

func (q *InMemoryBroker) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

func (q *InMemoryBroker) Close() error { return nil }

var _ Broker = (*InMemoryBroker)(nil)
