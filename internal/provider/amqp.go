package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notifier-engine/internal/plugin"
	"github.com/kursadbilgin/notifier-engine/internal/queue"
)

const AMQPSinkType = "amqp"

type amqpConfig struct {
	Queue string `json:"queue"`
}

// QueueDeclarer makes sure a target queue exists before publishing to it.
type QueueDeclarer interface {
	EnsureQueue(ctx context.Context, name string) error
}

// AMQPSink forwards the delivery to a RabbitMQ queue owned by the recipient.
// The consumer of that queue reports the outcome on notifier.outcomes when
// the recipient needs an acknowledgement.
type AMQPSink struct {
	publisher queue.Publisher
	declarer  QueueDeclarer
	target    string
}

type deliveryMessage struct {
	plugin.Delivery
}

func (m deliveryMessage) Validate() error {
	if strings.TrimSpace(m.RequestID) == "" || strings.TrimSpace(m.RecipientID) == "" {
		return fmt.Errorf("requestId and recipientId are required")
	}
	return nil
}

func (m deliveryMessage) Identity() (string, string) {
	return m.RequestID + ":" + m.RecipientID, m.CorrelationID
}

func AMQPSinkFactory(publisher queue.Publisher, declarer QueueDeclarer) plugin.SinkFactory {
	return func(config json.RawMessage) (plugin.Sink, error) {
		var cfg amqpConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, fmt.Errorf("decode amqp config: %w", err)
			}
		}
		return NewAMQPSink(publisher, declarer, cfg.Queue)
	}
}

func NewAMQPSink(publisher queue.Publisher, declarer QueueDeclarer, target string) (*AMQPSink, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("amqp target queue is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &AMQPSink{publisher: publisher, declarer: declarer, target: target}, nil
}

func (s *AMQPSink) Send(ctx context.Context, delivery plugin.Delivery) error {
	if s.declarer != nil {
		if err := s.declarer.EnsureQueue(ctx, s.target); err != nil {
			return &SinkError{Sink: AMQPSinkType, Message: "declare target queue", Transient: true, Cause: err}
		}
	}
	if err := s.publisher.Publish(ctx, s.target, deliveryMessage{Delivery: delivery}); err != nil {
		return &SinkError{Sink: AMQPSinkType, Message: "publish to target queue", Transient: true, Cause: err}
	}
	return nil
}
