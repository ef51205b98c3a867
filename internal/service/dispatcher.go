package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/observability"
	"github.com/kursadbilgin/notifier-engine/internal/queue"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultDispatchConcurrency = 8

// Dispatcher hands the toSchedule recipients of a request to delivery workers.
type Dispatcher struct {
	requests    repository.RequestRepository
	publisher   queue.Publisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewDispatcher(
	requests repository.RequestRepository,
	publisher queue.Publisher,
	concurrency int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if requests == nil {
		return nil, fmt.Errorf("request repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if concurrency <= 0 {
		concurrency = defaultDispatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		requests:    requests,
		publisher:   publisher,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch publishes one delivery job per toSchedule recipient of a SCHEDULED
// request and moves each published recipient to scheduled. A crash between
// publish and move re-emits the job on the next dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID string) (int, error) {
	req, err := d.requests.GetByID(ctx, requestID)
	if err != nil {
		return 0, fmt.Errorf("failed to load request: %w", err)
	}
	if req.State != domain.StateScheduled {
		return 0, nil
	}

	recipients, err := d.requests.ListRecipientsToSchedule(ctx, requestID)
	if err != nil {
		return 0, fmt.Errorf("failed to list recipients to schedule: %w", err)
	}
	if len(recipients) == 0 {
		return 0, nil
	}

	var moved atomic.Int64
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, recipientID := range recipients {
		recipientID := recipientID
		g.Go(func() error {
			msg := queue.DeliveryMessage{
				RequestID:     req.ID,
				CorrelationID: req.CorrelationID,
				RecipientID:   recipientID,
				DispatchedAt:  d.now().UTC(),
			}
			if err := d.publisher.Publish(groupCtx, queue.DeliveriesQueue, msg); err != nil {
				return fmt.Errorf("failed to publish delivery for %s: %w", recipientID, err)
			}

			ok, err := d.requests.MarkScheduled(groupCtx, req.ID, recipientID)
			if err != nil {
				return fmt.Errorf("failed to mark %s scheduled: %w", recipientID, err)
			}
			if ok {
				moved.Add(1)
			}
			return nil
		})
	}

	err = g.Wait()
	d.metrics.AddDeliveriesDispatched(int(moved.Load()))
	if err != nil {
		d.logger.Error("dispatch incomplete",
			zap.String("requestId", req.ID),
			zap.String("correlationId", req.CorrelationID),
			zap.Int64("moved", moved.Load()),
			zap.Error(err),
		)
		return int(moved.Load()), err
	}
	return int(moved.Load()), nil
}
