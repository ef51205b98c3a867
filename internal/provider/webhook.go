package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notifier-engine/internal/plugin"
)

const (
	WebhookSinkType       = "webhook"
	defaultWebhookTimeout = 10 * time.Second
)

type webhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// WebhookSink POSTs the delivery as JSON to the recipient's URL.
type WebhookSink struct {
	client   *resty.Client
	endpoint string
	headers  map[string]string
}

// NewWebhookClient returns the resty client shared by every webhook sink.
func NewWebhookClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	return client
}

// WebhookSinkFactory builds webhook sinks from recipient plugin config.
func WebhookSinkFactory(client *resty.Client) plugin.SinkFactory {
	return func(config json.RawMessage) (plugin.Sink, error) {
		var cfg webhookConfig
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, fmt.Errorf("decode webhook config: %w", err)
			}
		}
		return NewWebhookSinkWithClient(cfg.URL, cfg.Headers, client)
	}
}

func NewWebhookSinkWithClient(endpoint string, headers map[string]string, client *resty.Client) (*WebhookSink, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}

	return &WebhookSink{
		client:   client,
		endpoint: trimmedEndpoint,
		headers:  headers,
	}, nil
}

func (s *WebhookSink) Send(ctx context.Context, delivery plugin.Delivery) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("sink is not initialized")
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeaders(s.headers).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Correlation-ID", delivery.CorrelationID).
		SetHeader("Idempotency-Key", delivery.RequestID+":"+delivery.RecipientID).
		SetBody(delivery).
		Post(s.endpoint)
	if err != nil {
		return &SinkError{
			Sink:      WebhookSinkType,
			Message:   "request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &SinkError{
			Sink:      WebhookSinkType,
			Message:   "empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &SinkError{
		Sink:       WebhookSinkType,
		StatusCode: statusCode,
		Message:    sinkErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func sinkErrorMessage(statusCode int, body string) string {
	if body == "" {
		return http.StatusText(statusCode)
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return body
}
