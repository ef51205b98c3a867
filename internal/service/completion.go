package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/observability"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultAckTimeout = time.Hour
	ackTimeoutMessage = "acknowledgement timed out"
)

// CompletionDetector completes SCHEDULED requests that have nothing left to
// match or deliver and queues their terminal status event. Acknowledging
// recipients that never reported an outcome are failed first.
type CompletionDetector struct {
	requests   repository.RequestRepository
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	ackTimeout time.Duration
	limit      int
	now        func() time.Time
}

func NewCompletionDetector(
	requests repository.RequestRepository,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*CompletionDetector, error) {
	if requests == nil {
		return nil, fmt.Errorf("request repository is required")
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

	return &CompletionDetector{
		requests:   requests,
		logger:     logger,
		interval:   interval,
		ackTimeout: defaultAckTimeout,
		limit:      limit,
		now:        time.Now,
	}, nil
}

// SetAckTimeout bounds how long a sent delivery may wait for its
// acknowledgement before the recipient is moved to error.
func (d *CompletionDetector) SetAckTimeout(timeout time.Duration) {
	if d == nil || timeout <= 0 {
		return
	}
	d.ackTimeout = timeout
}

func (d *CompletionDetector) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

func (d *CompletionDetector) Start(ctx context.Context) error {
	return runPeriodic(ctx, "completion", d.interval, d.logger, func(ctx context.Context) error {
		_, err := d.Sweep(ctx)
		return err
	})
}

// Sweep completes one page of finished requests and returns how many it completed.
func (d *CompletionDetector) Sweep(ctx context.Context) (int, error) {
	if _, err := d.ExpireAcks(ctx); err != nil {
		return 0, err
	}

	ids, err := d.requests.FindCompletedRequests(ctx, d.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch completed requests: %w", err)
	}

	completed := 0
	for _, id := range ids {
		var status domain.NotifierStatus
		ok, err := d.requests.CompleteRequest(ctx, id, summaryEventBuilder(d.now, func(s domain.NotifierStatus) {
			status = s
		}))
		if err != nil {
			if ctx.Err() != nil {
				return completed, ctx.Err()
			}
			d.logger.Error("failed to complete request", zap.String("requestId", id), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		completed++
		d.metrics.IncRequestCompleted(status.String())
		d.logger.Info("request completed",
			zap.String("requestId", id),
			zap.String("status", status.String()),
		)
	}
	return completed, nil
}

// ExpireAcks records an error for every acknowledging recipient that waited
// longer than the ack timeout and returns how many were expired.
func (d *CompletionDetector) ExpireAcks(ctx context.Context) (int, error) {
	stale, err := d.requests.FindAwaitingAck(ctx, d.now().UTC().Add(-d.ackTimeout), d.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unacknowledged deliveries: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	at := d.now().UTC()
	for i := range stale {
		stale[i].Kind = domain.OutcomeError
		stale[i].Message = ackTimeoutMessage
		stale[i].At = at
	}
	applied, err := d.requests.RecordOutcomes(ctx, stale)
	if err != nil {
		return 0, fmt.Errorf("failed to expire unacknowledged deliveries: %w", err)
	}
	for i := 0; i < applied; i++ {
		d.metrics.IncDeliveryOutcome("async", string(domain.OutcomeError), "ack_timeout")
	}
	if applied > 0 {
		d.logger.Warn("acknowledgements timed out", zap.Int("count", applied))
	}
	return applied, nil
}
