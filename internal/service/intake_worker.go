package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/queue"
	"go.uber.org/zap"
)

// IntakeWorker registers the inbound events published on the requests queue.
type IntakeWorker struct {
	intake   *IntakeService
	consumer queue.Consumer
	logger   *zap.Logger
}

func NewIntakeWorker(intake *IntakeService, consumer queue.Consumer, logger *zap.Logger) (*IntakeWorker, error) {
	if intake == nil {
		return nil, fmt.Errorf("intake service is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeWorker{intake: intake, consumer: consumer, logger: logger}, nil
}

func (w *IntakeWorker) Start(ctx context.Context) error {
	w.logger.Info("intake worker started")
	if err := w.consumer.Consume(ctx, queue.RequestsQueue, w.processMessage); err != nil {
		w.logger.Error("intake worker stopped with error", zap.Error(err))
		return err
	}
	w.logger.Info("intake worker stopped")
	return nil
}

// processMessage acks denied events: the DENIED status event is the answer.
// Only undecodable bodies go to the dead-letter queue.
func (w *IntakeWorker) processMessage(ctx context.Context, body []byte) error {
	var msg queue.InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrInvalidMessage, err)
	}

	_, err := w.intake.Submit(ctx, InboundEvent{
		CorrelationID:    msg.CorrelationID,
		RequestOwner:     msg.RequestOwner,
		RequestDate:      msg.RequestDate,
		Payload:          msg.Payload,
		Metadata:         msg.Metadata,
		DirectRecipients: msg.DirectRecipients,
	})
	if err != nil && errors.Is(err, domain.ErrValidation) {
		return nil
	}
	return err
}
