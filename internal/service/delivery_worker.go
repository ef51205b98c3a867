package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/observability"
	"github.com/kursadbilgin/notifier-engine/internal/plugin"
	"github.com/kursadbilgin/notifier-engine/internal/provider"
	"github.com/kursadbilgin/notifier-engine/internal/queue"
	"github.com/kursadbilgin/notifier-engine/internal/ratelimit"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1

	recipientNotFoundMessage = "recipient not found"
)

// DeliveryWorker sends dispatched deliveries through the recipient sinks and
// records the outcome of each.
type DeliveryWorker struct {
	requests    repository.RequestRepository
	recipients  repository.RecipientRepository
	consumer    queue.Consumer
	plugins     *plugin.Registry
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewDeliveryWorker(
	requests repository.RequestRepository,
	recipients repository.RecipientRepository,
	consumer queue.Consumer,
	plugins *plugin.Registry,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*DeliveryWorker, error) {
	if requests == nil || recipients == nil {
		return nil, fmt.Errorf("request and recipient repositories are required")
	}
	if plugins == nil {
		return nil, fmt.Errorf("plugin registry is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryWorker{
		requests:    requests,
		recipients:  recipients,
		consumer:    consumer,
		plugins:     plugins,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (w *DeliveryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs the configured number of delivery consumers until ctx is done.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if w.consumer == nil {
		return fmt.Errorf("consumer is required")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("delivery worker started", zap.Int("workerId", workerID))

			err := w.consumer.Consume(groupCtx, queue.DeliveriesQueue, w.processMessage)
			if err != nil {
				w.logger.Error("delivery worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("delivery worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *DeliveryWorker) processMessage(ctx context.Context, body []byte) error {
	msg, err := queue.Decode[queue.DeliveryMessage](body)
	if err != nil {
		return err
	}
	return w.deliver(ctx, msg)
}

func (w *DeliveryWorker) deliver(ctx context.Context, msg queue.DeliveryMessage) error {
	ctx = observability.WithRecipientID(
		observability.WithRequestID(observability.WithCorrelationID(ctx, msg.CorrelationID), msg.RequestID),
		msg.RecipientID,
	)
	logger := observability.WithContextLogger(w.logger, ctx)

	outstanding, err := w.requests.IsOutstanding(ctx, msg.RequestID, msg.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to check recipient membership: %w", err)
	}
	// Already delivered, failed, canceled or purged; ack and skip.
	if !outstanding {
		logger.Debug("delivery no longer outstanding, skipping")
		return nil
	}

	req, err := w.requests.GetByID(ctx, msg.RequestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("request not found during delivery, skipping")
			return nil
		}
		return fmt.Errorf("failed to load request: %w", err)
	}

	recipient, err := w.recipients.GetByID(ctx, msg.RecipientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("recipient deleted before delivery")
			return w.record(ctx, msg, "unknown", domain.OutcomeError, recipientNotFoundMessage, "missing_recipient")
		}
		return fmt.Errorf("failed to load recipient: %w", err)
	}

	sinkType := recipient.PluginType
	sink, err := w.plugins.NewSink(*recipient)
	if err != nil {
		logger.Warn("failed to build recipient sink", zap.Error(err))
		return w.record(ctx, msg, sinkType, domain.OutcomeError, err.Error(), "bad_sink")
	}

	w.metrics.IncWorkerInFlight("delivery")
	defer w.metrics.DecWorkerInFlight("delivery")

	if w.rateLimiter != nil {
		if err := w.rateLimiter.Wait(ctx, recipient.BusinessID); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	sendStart := w.now()
	sendErr := sink.Send(ctx, plugin.Delivery{
		RequestID:     req.ID,
		CorrelationID: req.CorrelationID,
		RequestOwner:  req.RequestOwner,
		RecipientID:   recipient.BusinessID,
		Label:         recipient.Label,
		Payload:       req.Payload,
		Metadata:      req.Metadata,
	})
	w.metrics.ObserveSinkSendDuration(sinkType, w.now().Sub(sendStart))

	if sendErr == nil {
		// Acknowledging recipients stay scheduled until their outcome
		// arrives on the outcomes queue.
		if recipient.AckRequired {
			logger.Debug("delivery sent, awaiting acknowledgement")
			w.metrics.IncDeliveryOutcome(sinkType, "sent", "awaiting_ack")
			return nil
		}
		return w.record(ctx, msg, sinkType, domain.OutcomeSuccess, "", "ok")
	}

	// Shutdown interrupted the send; requeue instead of blaming the sink.
	if ctx.Err() != nil {
		return fmt.Errorf("delivery interrupted: %w", ctx.Err())
	}

	reason := "permanent"
	if provider.IsTransient(sendErr) {
		reason = "transient"
	}
	logger.Warn("delivery failed", zap.String("reason", reason), zap.Error(sendErr))
	return w.record(ctx, msg, sinkType, domain.OutcomeError, provider.ErrorMessage(sendErr), reason)
}

func (w *DeliveryWorker) record(
	ctx context.Context,
	msg queue.DeliveryMessage,
	sinkType string,
	kind domain.OutcomeKind,
	message string,
	reason string,
) error {
	_, err := w.requests.RecordOutcomes(ctx, []domain.DeliveryOutcome{{
		RequestID:   msg.RequestID,
		RecipientID: msg.RecipientID,
		Kind:        kind,
		Message:     message,
		At:          w.now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to record delivery outcome: %w", err)
	}
	w.metrics.IncDeliveryOutcome(sinkType, string(kind), reason)
	return nil
}
