package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notifier-engine/internal/observability"
	"github.com/kursadbilgin/notifier-engine/internal/queue"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"go.uber.org/zap"
)

// OutboxRelay publishes stored status events in creation order.
type OutboxRelay struct {
	outbox    repository.OutboxRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	limit     int
}

func NewOutboxRelay(
	outbox repository.OutboxRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*OutboxRelay, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
	}, nil
}

func (r *OutboxRelay) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *OutboxRelay) Start(ctx context.Context) error {
	return runPeriodic(ctx, "outbox", r.interval, r.logger, func(ctx context.Context) error {
		_, err := r.Sweep(ctx)
		return err
	})
}

// Sweep publishes one page of pending events and returns how many were
// published. It stops at the first publish failure so events of one
// request keep their order.
func (r *OutboxRelay) Sweep(ctx context.Context) (int, error) {
	events, err := r.outbox.FindPending(ctx, r.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending outbox events: %w", err)
	}

	published := 0
	for _, event := range events {
		msg := queue.RawMessage{ID: event.ID, CorrelationID: event.CorrelationID, Body: event.Payload}
		if err := r.publisher.Publish(ctx, event.Queue, msg); err != nil {
			r.metrics.IncOutboxPublish(false)
			if markErr := r.outbox.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
				r.logger.Error("failed to record outbox publish failure",
					zap.String("eventId", event.ID),
					zap.Error(markErr),
				)
			}
			return published, fmt.Errorf("failed to publish outbox event %s: %w", event.ID, err)
		}

		if err := r.outbox.MarkPublished(ctx, event.ID); err != nil {
			return published, fmt.Errorf("failed to mark outbox event %s published: %w", event.ID, err)
		}
		r.metrics.IncOutboxPublish(true)
		published++
	}
	return published, nil
}
