package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notifier-engine/internal/observability"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetentionInterval = time.Hour
	defaultRetentionTTL      = 7 * 24 * time.Hour
)

// RetentionSweeper deletes completed requests and published outbox events
// older than the retention period.
type RetentionSweeper struct {
	requests repository.RequestRepository
	outbox   repository.OutboxRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
	interval time.Duration
	ttl      time.Duration
	limit    int
	now      func() time.Time
}

func NewRetentionSweeper(
	requests repository.RequestRepository,
	outbox repository.OutboxRepository,
	interval time.Duration,
	ttl time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetentionSweeper, error) {
	if requests == nil || outbox == nil {
		return nil, fmt.Errorf("request and outbox repositories are required")
	}
	if interval <= 0 {
		interval = defaultRetentionInterval
	}
	if ttl <= 0 {
		ttl = defaultRetentionTTL
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetentionSweeper{
		requests: requests,
		outbox:   outbox,
		logger:   logger,
		interval: interval,
		ttl:      ttl,
		limit:    limit,
		now:      time.Now,
	}, nil
}

func (s *RetentionSweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetentionSweeper) Start(ctx context.Context) error {
	return runPeriodic(ctx, "retention", s.interval, s.logger, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
}

// Sweep purges in pages until a page comes back short and returns the number
// of requests removed.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.ttl)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		purged, err := s.requests.PurgeCompleted(ctx, cutoff, s.limit)
		if err != nil {
			return total, fmt.Errorf("failed to purge completed requests: %w", err)
		}
		total += purged
		s.metrics.AddRequestsPurged(purged)
		if purged < s.limit {
			break
		}
	}

	events, err := s.outbox.PurgePublished(ctx, cutoff)
	if err != nil {
		return total, fmt.Errorf("failed to purge published outbox events: %w", err)
	}

	if total > 0 || events > 0 {
		s.logger.Info("retention sweep purged data",
			zap.Int("requests", total),
			zap.Int64("outboxEvents", events),
		)
	}
	return total, nil
}
