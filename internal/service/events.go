package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/queue"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
)

// statusOutboxEvent wraps a status event into an outbox row for the status queue.
func statusOutboxEvent(event domain.StatusEvent) (*domain.OutboxEvent, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status event: %w", err)
	}
	return &domain.OutboxEvent{
		ID:            uuid.NewString(),
		Queue:         queue.StatusQueue,
		CorrelationID: event.CorrelationID,
		Payload:       payload,
		CreatedAt:     event.Timestamp,
	}, nil
}

func grantedEventBuilder(now func() time.Time) repository.RequestEventBuilder {
	return func(r *domain.NotificationRequest) (*domain.OutboxEvent, error) {
		return statusOutboxEvent(domain.GrantedEvent(r, now()))
	}
}

// summaryEventBuilder builds terminal events and hands each announced status
// to observe, which may be nil.
func summaryEventBuilder(now func() time.Time, observe func(domain.NotifierStatus)) repository.SummaryBuilder {
	return func(summary domain.CompletionSummary) (*domain.OutboxEvent, error) {
		event := summary.Event(now())
		if observe != nil {
			observe(event.Status)
		}
		return statusOutboxEvent(event)
	}
}
