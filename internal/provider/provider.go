// Package provider holds the delivery sinks recipients can be bound to.
package provider

import (
	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notifier-engine/internal/plugin"
	"github.com/kursadbilgin/notifier-engine/internal/queue"
)

// RegisterSinks adds the webhook and amqp sink types to the registry.
func RegisterSinks(r *plugin.Registry, webhookClient *resty.Client, publisher queue.Publisher, declarer QueueDeclarer) error {
	if err := r.RegisterSink(WebhookSinkType, WebhookSinkFactory(webhookClient)); err != nil {
		return err
	}
	return r.RegisterSink(AMQPSinkType, AMQPSinkFactory(publisher, declarer))
}
