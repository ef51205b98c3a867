package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/observability"
	"github.com/kursadbilgin/notifier-engine/internal/queue"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultOutcomeFlushInterval = 500 * time.Millisecond

// OutcomeWorker applies asynchronous delivery outcomes reported by sinks
// that acknowledge later, one bulk store call per batch.
type OutcomeWorker struct {
	requests   repository.RequestRepository
	consumer   queue.Consumer
	logger     *zap.Logger
	metrics    *observability.Metrics
	batchSize  int
	flushEvery time.Duration
}

func NewOutcomeWorker(
	requests repository.RequestRepository,
	consumer queue.Consumer,
	batchSize int,
	flushEvery time.Duration,
	logger *zap.Logger,
) (*OutcomeWorker, error) {
	if requests == nil {
		return nil, fmt.Errorf("request repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if batchSize <= 0 {
		batchSize = defaultSweepLimit
	}
	if flushEvery <= 0 {
		flushEvery = defaultOutcomeFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OutcomeWorker{
		requests:   requests,
		consumer:   consumer,
		logger:     logger,
		batchSize:  batchSize,
		flushEvery: flushEvery,
	}, nil
}

func (w *OutcomeWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

func (w *OutcomeWorker) Start(ctx context.Context) error {
	w.logger.Info("outcome worker started", zap.Int("batchSize", w.batchSize))
	err := w.consumer.ConsumeBatch(ctx, queue.OutcomesQueue, w.batchSize, w.flushEvery, w.processBatch)
	if err != nil {
		w.logger.Error("outcome worker stopped with error", zap.Error(err))
		return err
	}
	w.logger.Info("outcome worker stopped")
	return nil
}

func (w *OutcomeWorker) processBatch(ctx context.Context, bodies [][]byte) ([]int, error) {
	invalid := make([]int, 0)
	outcomes := make([]domain.DeliveryOutcome, 0, len(bodies))
	for i, body := range bodies {
		msg, err := queue.Decode[queue.OutcomeMessage](body)
		if err != nil {
			w.logger.Warn("rejecting invalid outcome message", zap.Int("index", i), zap.Error(err))
			invalid = append(invalid, i)
			continue
		}
		outcomes = append(outcomes, msg.Outcome())
	}
	if len(outcomes) == 0 {
		return invalid, nil
	}

	applied, err := w.requests.RecordOutcomes(ctx, outcomes)
	if err != nil {
		return nil, fmt.Errorf("failed to record outcomes: %w", err)
	}
	for _, o := range outcomes {
		w.metrics.IncDeliveryOutcome("async", string(o.Kind), "reported")
	}
	w.logger.Debug("outcome batch applied",
		zap.Int("received", len(outcomes)),
		zap.Int("applied", applied),
	)
	return invalid, nil
}
