package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}
	return c.run(ctx, queue, c.prefetch, func(ctx context.Context, deliveries <-chan amqp.Delivery) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-deliveries:
				if !ok {
					return fmt.Errorf("delivery channel closed")
				}
				if err := c.handleDelivery(ctx, d, handler); err != nil {
					return err
				}
			}
		}
	})
}

// ConsumeBatch collects up to size deliveries, or whatever arrived within
// flushEvery, and hands them to handler in one call.
func (c *RabbitMQConsumer) ConsumeBatch(ctx context.Context, queue string, size int, flushEvery time.Duration, handler BatchHandler) error {
	if handler == nil {
		return fmt.Errorf("batch handler is required")
	}
	if size < 1 {
		size = 1
	}
	if flushEvery <= 0 {
		flushEvery = time.Second
	}
	prefetch := max(c.prefetch, size)

	return c.run(ctx, queue, prefetch, func(ctx context.Context, deliveries <-chan amqp.Delivery) error {
		ticker := time.NewTicker(flushEvery)
		defer ticker.Stop()

		batch := make([]amqp.Delivery, 0, size)
		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-deliveries:
				if !ok {
					return fmt.Errorf("delivery channel closed")
				}
				batch = append(batch, d)
				if len(batch) < size {
					continue
				}
			case <-ticker.C:
				if len(batch) == 0 {
					continue
				}
			}

			if err := c.handleBatch(ctx, batch, handler); err != nil {
				return err
			}
			batch = batch[:0]
		}
	})
}

func (c *RabbitMQConsumer) run(ctx context.Context, queue string, prefetch int, loop func(context.Context, <-chan amqp.Delivery) error) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, prefetch, loop)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer interrupted, reconnecting",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, prefetch int, loop func(context.Context, <-chan amqp.Delivery) error) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	return loop(ctx, deliveries)
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	err := handler(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			return fmt.Errorf("failed to ack delivery: %w", ackErr)
		}
	case errors.Is(err, ErrInvalidMessage):
		c.logger.Warn("rejecting message",
			zap.Error(err),
			zap.String("routingKey", d.RoutingKey),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
	default:
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
	}
	return nil
}

func (c *RabbitMQConsumer) handleBatch(ctx context.Context, batch []amqp.Delivery, handler BatchHandler) error {
	bodies := make([][]byte, len(batch))
	for i := range batch {
		bodies[i] = batch[i].Body
	}

	invalid, err := handler(ctx, bodies)
	if err != nil {
		c.logger.Warn("batch handler failed, requeueing",
			zap.Int("size", len(batch)),
			zap.Error(err),
		)
		for i := range batch {
			if nackErr := batch[i].Nack(false, true); nackErr != nil {
				return fmt.Errorf("handler failed and nack failed: %w", nackErr)
			}
		}
		return nil
	}

	rejected := make(map[int]struct{}, len(invalid))
	for _, idx := range invalid {
		rejected[idx] = struct{}{}
	}

	for i := range batch {
		if _, ok := rejected[i]; ok {
			if rejectErr := batch[i].Reject(false); rejectErr != nil {
				return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
			}
			continue
		}
		if ackErr := batch[i].Ack(false); ackErr != nil {
			return fmt.Errorf("failed to ack delivery: %w", ackErr)
		}
	}
	return nil
}

// Close is a no-op; consume loops end with their context and the connection
// belongs to the RabbitMQ client.
func (c *RabbitMQConsumer) Close() error {
	return nil
}
