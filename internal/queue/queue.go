package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMessage marks a message that can never be processed. Consumers
// reject such messages to the dead-letter queue instead of requeueing them.
var ErrInvalidMessage = errors.New("invalid message")

// Message is anything that can be published to a queue.
type Message interface {
	Validate() error
	// Identity returns the AMQP message id and correlation id.
	Identity() (messageID, correlationID string)
}

// Publisher publishes messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Close() error
}

// MessageHandler handles one consumed message body.
type MessageHandler func(ctx context.Context, body []byte) error

// BatchHandler handles a batch of message bodies and returns the indexes of
// bodies that are invalid. A non-nil error requeues the whole batch.
type BatchHandler func(ctx context.Context, bodies [][]byte) (invalid []int, err error)

// Consumer consumes messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	ConsumeBatch(ctx context.Context, queue string, size int, flushEvery time.Duration, handler BatchHandler) error
	Close() error
}

const (
	RequestsQueue   = "notifier.requests"
	DeliveriesQueue = "notifier.deliveries"
	OutcomesQueue   = "notifier.outcomes"
	StatusQueue     = "notifier.status"
)

var workQueues = []string{
	RequestsQueue,
	DeliveriesQueue,
	OutcomesQueue,
	StatusQueue,
}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.notifier.outcomes.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all declared work queues.
func WorkQueueNames() []string {
	return append([]string(nil), workQueues...)
}

// DLQNames returns the dead-letter queue of every work queue.
func DLQNames() []string {
	queues := make([]string, 0, len(workQueues))
	for _, q := range workQueues {
		queues = append(queues, DLQName(q))
	}
	return queues
}

// Decode unmarshals and validates a message body. Any failure wraps ErrInvalidMessage.
func Decode[T Message](body []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}
