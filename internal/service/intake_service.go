package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/observability"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InboundEvent is a business event submitted for notification.
type InboundEvent struct {
	CorrelationID    string
	RequestOwner     string
	RequestDate      *time.Time
	Payload          json.RawMessage
	Metadata         json.RawMessage
	DirectRecipients []string
}

// Submission reports what Submit did with an inbound event.
type Submission struct {
	Request *domain.NotificationRequest
	// Result is one of observability.RegistrationCreated, RegistrationDuplicate
	// or RegistrationRetried.
	Result string
}

func (s Submission) Created() bool { return s.Result == observability.RegistrationCreated }

// IntakeService registers inbound events as notification requests and drives
// them through matching and dispatch.
type IntakeService struct {
	requests        repository.RequestRepository
	rules           repository.RuleRepository
	recipients      repository.RecipientRepository
	recipientErrors repository.RecipientErrorRepository
	outbox          repository.OutboxRepository
	matcher         *RuleMatcher
	dispatcher      *Dispatcher
	logger          *zap.Logger
	metrics         *observability.Metrics
	now             func() time.Time
}

func NewIntakeService(
	requests repository.RequestRepository,
	rules repository.RuleRepository,
	recipients repository.RecipientRepository,
	recipientErrors repository.RecipientErrorRepository,
	outbox repository.OutboxRepository,
	matcher *RuleMatcher,
	dispatcher *Dispatcher,
	logger *zap.Logger,
) (*IntakeService, error) {
	if requests == nil || rules == nil || recipients == nil || recipientErrors == nil || outbox == nil {
		return nil, fmt.Errorf("all repositories are required")
	}
	if matcher == nil || dispatcher == nil {
		return nil, fmt.Errorf("matcher and dispatcher are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IntakeService{
		requests:        requests,
		rules:           rules,
		recipients:      recipients,
		recipientErrors: recipientErrors,
		outbox:          outbox,
		matcher:         matcher,
		dispatcher:      dispatcher,
		logger:          logger,
		now:             time.Now,
	}, nil
}

func (s *IntakeService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Submit registers the event. Invalid events are denied: a DENIED status
// event is queued and an ErrValidation error returned. Resubmitting a
// correlation id returns the existing request, unless it completed with
// failed recipients, in which case those are retried.
func (s *IntakeService) Submit(ctx context.Context, in InboundEvent) (*Submission, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := s.prepare(in)
	if err != nil {
		return nil, s.deny(ctx, in, err)
	}
	ctx = observability.WithCorrelationID(ctx, req.CorrelationID)

	existing, err := s.requests.GetByCorrelationID(ctx, req.CorrelationID)
	switch {
	case err == nil:
		return s.resubmit(ctx, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("failed to look up correlation id: %w", err)
	}

	direct, err := normalizeRecipientIDs(in.DirectRecipients)
	if err != nil {
		return nil, s.deny(ctx, in, err)
	}

	var ruleIDs []string
	if len(direct) > 0 {
		if err := s.checkDirectRecipients(ctx, direct); err != nil {
			return nil, s.deny(ctx, in, err)
		}
	} else {
		ruleIDs, err = s.rules.ListActiveIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active rules: %w", err)
		}
	}

	granted, err := statusOutboxEvent(domain.GrantedEvent(req, s.now()))
	if err != nil {
		return nil, err
	}
	if err := s.requests.Create(ctx, req, ruleIDs, direct, granted); err != nil {
		existing, resolved, resolveErr := s.resolveCorrelationConflict(ctx, err, req.CorrelationID)
		if resolveErr != nil {
			return nil, resolveErr
		}
		if resolved {
			s.metrics.IncRequestRegistered(observability.RegistrationDuplicate)
			return &Submission{Request: existing, Result: observability.RegistrationDuplicate}, nil
		}
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.metrics.IncRequestRegistered(observability.RegistrationCreated)

	logger := observability.WithContextLogger(s.logger, observability.WithRequestID(ctx, req.ID))
	logger.Info("request registered",
		zap.Int("rules", len(ruleIDs)),
		zap.Int("directRecipients", len(direct)),
	)

	s.process(ctx, logger, req.ID)
	return &Submission{Request: s.reload(ctx, req), Result: observability.RegistrationCreated}, nil
}

// Cancel clears the outstanding work of a request and completes it with an
// ERROR status event.
func (s *IntakeService) Cancel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}

	err := s.requests.Cancel(ctx, id, summaryEventBuilder(s.now, nil))
	if err != nil {
		return err
	}
	s.metrics.IncRequestCompleted(domain.NotifierStatusError.String())
	s.logger.Info("request canceled", zap.String("requestId", id))
	return nil
}

// Get returns the request with its rule and recipient sets.
func (s *IntakeService) Get(ctx context.Context, id string) (*domain.NotificationRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}
	return s.requests.GetDetail(ctx, id)
}

func (s *IntakeService) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.NotificationRequest, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return nil, fmt.Errorf("%w: correlation id is required", domain.ErrValidation)
	}
	req, err := s.requests.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	return s.requests.GetDetail(ctx, req.ID)
}

// ListRecipientErrors returns the failure history of a request, optionally
// narrowed to one recipient.
func (s *IntakeService) ListRecipientErrors(ctx context.Context, id string, recipientID string) ([]domain.RecipientError, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}
	if _, err := s.requests.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if recipientID = strings.TrimSpace(recipientID); recipientID != "" {
		return s.recipientErrors.ListByRecipient(ctx, id, recipientID)
	}
	return s.recipientErrors.ListByRequest(ctx, id)
}

func (s *IntakeService) prepare(in InboundEvent) (*domain.NotificationRequest, error) {
	now := s.now().UTC()
	req := &domain.NotificationRequest{
		ID:            uuid.NewString(),
		CorrelationID: strings.TrimSpace(in.CorrelationID),
		RequestOwner:  strings.TrimSpace(in.RequestOwner),
		Payload:       in.Payload,
		Metadata:      in.Metadata,
		State:         domain.StateCreated,
		RequestDate:   now,
	}
	if in.RequestDate != nil && !in.RequestDate.IsZero() {
		req.RequestDate = in.RequestDate.UTC()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// resubmit handles an event whose correlation id is already registered.
func (s *IntakeService) resubmit(ctx context.Context, existing *domain.NotificationRequest) (*Submission, error) {
	duplicate := &Submission{Request: existing, Result: observability.RegistrationDuplicate}
	if existing.State != domain.StateCompleted || existing.Canceled {
		s.metrics.IncRequestRegistered(observability.RegistrationDuplicate)
		return duplicate, nil
	}

	moved, err := s.requests.PrepareRetry(ctx, existing.ID, grantedEventBuilder(s.now))
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Reopened concurrently by another resubmission.
			s.metrics.IncRequestRegistered(observability.RegistrationDuplicate)
			return duplicate, nil
		}
		return nil, fmt.Errorf("failed to prepare retry: %w", err)
	}
	if len(moved) == 0 {
		s.metrics.IncRequestRegistered(observability.RegistrationDuplicate)
		return duplicate, nil
	}
	s.metrics.IncRequestRegistered(observability.RegistrationRetried)

	logger := observability.WithContextLogger(s.logger, observability.WithRequestID(ctx, existing.ID))
	logger.Info("retrying failed recipients", zap.Strings("recipients", moved))

	if _, err := s.dispatcher.Dispatch(ctx, existing.ID); err != nil {
		logger.Warn("retry dispatch incomplete, left to dispatch sweep", zap.Error(err))
	}
	return &Submission{Request: s.reload(ctx, existing), Result: observability.RegistrationRetried}, nil
}

// process runs matching and dispatch inline. Failures are logged and left to
// the recovery sweeps.
func (s *IntakeService) process(ctx context.Context, logger *zap.Logger, id string) {
	if _, err := s.matcher.Match(ctx, id); err != nil {
		logger.Warn("inline matching failed, left to matching sweep", zap.Error(err))
		return
	}
	if _, err := s.dispatcher.Dispatch(ctx, id); err != nil {
		logger.Warn("inline dispatch failed, left to dispatch sweep", zap.Error(err))
	}
}

func (s *IntakeService) reload(ctx context.Context, req *domain.NotificationRequest) *domain.NotificationRequest {
	detail, err := s.requests.GetDetail(ctx, req.ID)
	if err != nil {
		return req
	}
	return detail
}

func (s *IntakeService) checkDirectRecipients(ctx context.Context, ids []string) error {
	found, err := s.recipients.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load direct recipients: %w", err)
	}
	for _, id := range ids {
		recipient, ok := found[id]
		if !ok {
			return fmt.Errorf("%w: unknown recipient %q", domain.ErrValidation, id)
		}
		if !recipient.DirectNotificationEnabled {
			return fmt.Errorf("%w: recipient %q does not accept direct notifications", domain.ErrValidation, id)
		}
	}
	return nil
}

// deny queues a DENIED event for events carrying a correlation id and
// returns the validation error. Store failures take precedence.
func (s *IntakeService) deny(ctx context.Context, in InboundEvent, cause error) error {
	if !errors.Is(cause, domain.ErrValidation) {
		return cause
	}
	s.metrics.IncRequestRegistered(observability.RegistrationDenied)

	correlationID := strings.TrimSpace(in.CorrelationID)
	if correlationID == "" || len(correlationID) > domain.MaxCorrelationIDLength {
		return cause
	}
	event, err := statusOutboxEvent(domain.DeniedEvent(correlationID, strings.TrimSpace(in.RequestOwner), cause.Error(), s.now()))
	if err != nil {
		return cause
	}
	if err := s.outbox.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to queue denied event: %w", err)
	}
	s.logger.Info("request denied", zap.String("correlationId", correlationID), zap.Error(cause))
	return cause
}

func (s *IntakeService) resolveCorrelationConflict(
	ctx context.Context,
	createErr error,
	correlationID string,
) (*domain.NotificationRequest, bool, error) {
	if !isUniqueViolationError(createErr) {
		return nil, false, nil
	}

	existing, err := s.requests.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing request after correlation conflict: %w", err)
	}
	s.logger.Info("correlation conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("correlationId", correlationID),
	)
	return existing, true, nil
}

func normalizeRecipientIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: direct recipient id must not be empty", domain.ErrValidation)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
