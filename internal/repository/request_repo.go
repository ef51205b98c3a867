package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	noRulesToMatchSQL = `NOT EXISTS (SELECT 1 FROM request_rules_to_match m WHERE m.request_id = notification_requests.id)`
	noOutstandingSQL  = `NOT EXISTS (SELECT 1 FROM request_recipients rr WHERE rr.request_id = notification_requests.id AND rr.membership IN ?)`

	defaultErrorMessage = "delivery failed"
)

// SummaryBuilder turns the summary of a request that just completed into the
// outbox event announcing it. A nil event writes nothing.
type SummaryBuilder func(summary domain.CompletionSummary) (*domain.OutboxEvent, error)

// RequestEventBuilder builds the outbox event for a request state change.
type RequestEventBuilder func(r *domain.NotificationRequest) (*domain.OutboxEvent, error)

// RequestRepository stores notification requests and their rule and recipient sets.
// Every set mutation is a row level statement guarded by the current membership.
type RequestRepository interface {
	Create(ctx context.Context, req *domain.NotificationRequest, ruleIDs, recipientIDs []string, event *domain.OutboxEvent) error
	GetByID(ctx context.Context, id string) (*domain.NotificationRequest, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*domain.NotificationRequest, error)
	GetDetail(ctx context.Context, id string) (*domain.NotificationRequest, error)

	ClaimForMatching(ctx context.Context, id string, staleBefore time.Time) (bool, error)
	FindMatchable(ctx context.Context, before time.Time, limit int) ([]string, error)
	ListRulesToMatch(ctx context.Context, id string) ([]string, error)
	ApplyRuleResult(ctx context.Context, requestID, ruleID string, recipients []string) (bool, error)
	FinishMatching(ctx context.Context, id string) (bool, error)

	ListRecipientsToSchedule(ctx context.Context, id string) ([]string, error)
	MarkScheduled(ctx context.Context, requestID, recipientID string) (bool, error)
	FindPendingDispatch(ctx context.Context, olderThan time.Time, limit int) ([]string, error)

	IsOutstanding(ctx context.Context, requestID, recipientID string) (bool, error)
	RecordOutcomes(ctx context.Context, outcomes []domain.DeliveryOutcome) (int, error)
	FindAwaitingAck(ctx context.Context, olderThan time.Time, limit int) ([]domain.DeliveryOutcome, error)

	FindCompletedRequests(ctx context.Context, limit int) ([]string, error)
	CompleteRequest(ctx context.Context, id string, build SummaryBuilder) (bool, error)
	Cancel(ctx context.Context, id string, build SummaryBuilder) error
	PrepareRetry(ctx context.Context, id string, build RequestEventBuilder) ([]string, error)
	PurgeCompleted(ctx context.Context, before time.Time, limit int) (int, error)
}

type GormRequestRepo struct {
	db *gorm.DB
}

func NewGormRequestRepo(db *gorm.DB) *GormRequestRepo {
	return &GormRequestRepo{db: db}
}

func (r *GormRequestRepo) Create(
	ctx context.Context,
	req *domain.NotificationRequest,
	ruleIDs, recipientIDs []string,
	event *domain.OutboxEvent,
) error {
	model := requestModelFromDomain(req)
	if model == nil {
		return fmt.Errorf("%w: request is required", domain.ErrValidation)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		if len(ruleIDs) > 0 {
			rows := make([]RequestRuleModel, 0, len(ruleIDs))
			for _, id := range ruleIDs {
				rows = append(rows, RequestRuleModel{RequestID: model.ID, RuleID: id})
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
				return err
			}
		}

		if err := addRecipients(tx, model.ID, recipientIDs); err != nil {
			return err
		}

		if event != nil {
			if err := tx.Create(outboxModelFromDomain(event)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	*req = *requestModelToDomain(model)
	req.RulesToMatch = append([]string(nil), ruleIDs...)
	req.RecipientsToSchedule = append([]string(nil), recipientIDs...)
	return nil
}

func (r *GormRequestRepo) GetByID(ctx context.Context, id string) (*domain.NotificationRequest, error) {
	var model RequestModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return requestModelToDomain(&model), nil
}

func (r *GormRequestRepo) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.NotificationRequest, error) {
	var model RequestModel
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return requestModelToDomain(&model), nil
}

// GetDetail loads the request with its rule and recipient set views.
func (r *GormRequestRepo) GetDetail(ctx context.Context, id string) (*domain.NotificationRequest, error) {
	req, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rules, err := r.ListRulesToMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	req.RulesToMatch = rules

	var members []RequestRecipientModel
	err = r.db.WithContext(ctx).
		Where("request_id = ?", id).
		Order("recipient_id ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}

	for _, m := range members {
		switch m.Membership {
		case domain.MembershipToSchedule:
			req.RecipientsToSchedule = append(req.RecipientsToSchedule, m.RecipientID)
		case domain.MembershipScheduled:
			req.RecipientsScheduled = append(req.RecipientsScheduled, m.RecipientID)
		case domain.MembershipSuccess:
			req.SuccessRecipients = append(req.SuccessRecipients, m.RecipientID)
		case domain.MembershipError:
			req.RecipientsInError = append(req.RecipientsInError, m.RecipientID)
		}
	}

	return req, nil
}

// ClaimForMatching moves a CREATED request, or one whose matching went stale,
// to TO_SCHEDULE_BY_RULES. Only one caller wins the claim.
func (r *GormRequestRepo) ClaimForMatching(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&RequestModel{}).
		Where("id = ?", id).
		Where("(state = ? OR (state = ? AND updated_at < ?))",
			domain.StateCreated, domain.StateToScheduleByRules, staleBefore).
		Update("state", domain.StateToScheduleByRules)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormRequestRepo) FindMatchable(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&RequestModel{}).
		Where("state IN ? AND updated_at < ?",
			[]domain.State{domain.StateCreated, domain.StateToScheduleByRules}, before).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GormRequestRepo) ListRulesToMatch(ctx context.Context, id string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&RequestRuleModel{}).
		Where("request_id = ?", id).
		Order("rule_id ASC").
		Pluck("rule_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ApplyRuleResult consumes one rule of the request and adds the matched
// recipients to toSchedule in the same transaction. It reports false when the
// rule had already been consumed, in which case nothing is added.
func (r *GormRequestRepo) ApplyRuleResult(ctx context.Context, requestID, ruleID string, recipients []string) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("request_id = ? AND rule_id = ?", requestID, ruleID).
			Delete(&RequestRuleModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		applied = true

		if err := addRecipients(tx, requestID, recipients); err != nil {
			return err
		}

		return tx.Model(&RequestModel{}).
			Where("id = ?", requestID).
			Update("updated_at", time.Now().UTC()).Error
	})
	return applied, err
}

func (r *GormRequestRepo) FinishMatching(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&RequestModel{}).
		Where("id = ? AND state = ?", id, domain.StateToScheduleByRules).
		Where(noRulesToMatchSQL).
		Update("state", domain.StateScheduled)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormRequestRepo) ListRecipientsToSchedule(ctx context.Context, id string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&RequestRecipientModel{}).
		Where("request_id = ? AND membership = ?", id, domain.MembershipToSchedule).
		Order("recipient_id ASC").
		Pluck("recipient_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkScheduled moves one recipient from toSchedule to scheduled. It reports
// false when the recipient was no longer in toSchedule.
func (r *GormRequestRepo) MarkScheduled(ctx context.Context, requestID, recipientID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&RequestRecipientModel{}).
		Where("request_id = ? AND recipient_id = ? AND membership = ?",
			requestID, recipientID, domain.MembershipToSchedule).
		Update("membership", domain.MembershipScheduled)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindPendingDispatch returns SCHEDULED requests holding toSchedule members
// that were not touched since olderThan.
func (r *GormRequestRepo) FindPendingDispatch(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Table("request_recipients AS rr").
		Joins("JOIN notification_requests r ON r.id = rr.request_id").
		Where("rr.membership = ? AND rr.updated_at < ? AND r.state = ?",
			domain.MembershipToSchedule, olderThan, domain.StateScheduled).
		Distinct().
		Limit(limit).
		Pluck("rr.request_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GormRequestRepo) IsOutstanding(ctx context.Context, requestID, recipientID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RequestRecipientModel{}).
		Where("request_id = ? AND recipient_id = ? AND membership IN ?",
			requestID, recipientID, domain.OutstandingMemberships()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordOutcomes applies delivery outcomes with one statement per outcome
// kind. Outcomes for recipients that are no longer outstanding are ignored.
// Failures append a RecipientError row. It returns the number of applied outcomes.
func (r *GormRequestRepo) RecordOutcomes(ctx context.Context, outcomes []domain.DeliveryOutcome) (int, error) {
	byKind := make(map[domain.OutcomeKind][]domain.DeliveryOutcome, 2)
	seen := make(map[memberKey]struct{}, len(outcomes))
	for _, o := range outcomes {
		key := memberKey{requestID: o.RequestID, recipientID: o.RecipientID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		byKind[o.Kind] = append(byKind[o.Kind], o)
	}

	applied := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied = 0
		for _, kind := range []domain.OutcomeKind{domain.OutcomeSuccess, domain.OutcomeError} {
			group := byKind[kind]
			if len(group) == 0 {
				continue
			}

			cond, args := memberCondition(group)
			var pending []RequestRecipientModel
			err := forUpdate(tx).
				Where("membership IN ?", domain.OutstandingMemberships()).
				Where(cond, args...).
				Find(&pending).Error
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				continue
			}

			pendingOutcomes := make([]domain.DeliveryOutcome, 0, len(pending))
			messages := make(map[memberKey]string, len(group))
			for _, o := range group {
				messages[memberKey{requestID: o.RequestID, recipientID: o.RecipientID}] = o.Message
			}
			for _, p := range pending {
				key := memberKey{requestID: p.RequestID, recipientID: p.RecipientID}
				pendingOutcomes = append(pendingOutcomes, domain.DeliveryOutcome{
					RequestID:   p.RequestID,
					RecipientID: p.RecipientID,
					Kind:        kind,
					Message:     messages[key],
				})
			}

			cond, args = memberCondition(pendingOutcomes)
			err = tx.Model(&RequestRecipientModel{}).
				Where("membership IN ?", domain.OutstandingMemberships()).
				Where(cond, args...).
				Update("membership", kind.Membership()).Error
			if err != nil {
				return err
			}

			if kind == domain.OutcomeError {
				rows := make([]RecipientErrorModel, 0, len(pendingOutcomes))
				for _, o := range pendingOutcomes {
					msg := strings.TrimSpace(o.Message)
					if msg == "" {
						msg = defaultErrorMessage
					}
					rows = append(rows, RecipientErrorModel{
						ID:          uuid.NewString(),
						RequestID:   o.RequestID,
						RecipientID: o.RecipientID,
						Message:     msg,
					})
				}
				if err := tx.CreateInBatches(&rows, 100).Error; err != nil {
					return err
				}
			}

			applied += len(pendingOutcomes)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// FindAwaitingAck returns scheduled members of acknowledging recipients whose
// outcome has not arrived since olderThan. Only ids are filled in.
func (r *GormRequestRepo) FindAwaitingAck(ctx context.Context, olderThan time.Time, limit int) ([]domain.DeliveryOutcome, error) {
	var rows []RequestRecipientModel
	err := r.db.WithContext(ctx).
		Table("request_recipients AS rr").
		Select("rr.request_id, rr.recipient_id").
		Joins("JOIN recipients rc ON rc.business_id = rr.recipient_id").
		Where("rr.membership = ? AND rr.updated_at < ? AND rc.ack_required = ?",
			domain.MembershipScheduled, olderThan, true).
		Order("rr.updated_at ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.DeliveryOutcome, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.DeliveryOutcome{RequestID: row.RequestID, RecipientID: row.RecipientID})
	}
	return out, nil
}

// FindCompletedRequests returns SCHEDULED requests with nothing left to
// match or deliver.
func (r *GormRequestRepo) FindCompletedRequests(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&RequestModel{}).
		Where("state = ?", domain.StateScheduled).
		Where(noRulesToMatchSQL).
		Where(noOutstandingSQL, domain.OutstandingMemberships()).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CompleteRequest flips a finished request to COMPLETED and stores its
// terminal event in the same transaction. It reports false when the request
// was not, or no longer, complete.
func (r *GormRequestRepo) CompleteRequest(ctx context.Context, id string, build SummaryBuilder) (bool, error) {
	completed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.Model(&RequestModel{}).
			Where("id = ? AND state = ?", id, domain.StateScheduled).
			Where(noRulesToMatchSQL).
			Where(noOutstandingSQL, domain.OutstandingMemberships()).
			Updates(map[string]any{
				"state":        domain.StateCompleted,
				"completed_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		completed = true

		return writeSummaryEvent(tx, id, build)
	})
	if err != nil {
		return false, err
	}
	return completed, nil
}

// Cancel clears every outstanding rule and recipient of the request and marks
// it COMPLETED. Delivered and failed recipients are kept.
func (r *GormRequestRepo) Cancel(ctx context.Context, id string, build SummaryBuilder) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model RequestModel
		err := forUpdate(tx).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if model.State.IsTerminal() {
			return fmt.Errorf("%w: request %s is already %s", domain.ErrConflict, id, model.State)
		}

		if err := tx.Where("request_id = ?", id).Delete(&RequestRuleModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("request_id = ? AND membership IN ?", id, domain.OutstandingMemberships()).
			Delete(&RequestRecipientModel{}).Error; err != nil {
			return err
		}

		err = tx.Model(&RequestModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"state":        domain.StateCompleted,
				"canceled":     true,
				"completed_at": time.Now().UTC(),
			}).Error
		if err != nil {
			return err
		}

		return writeSummaryEvent(tx, id, build)
	})
}

// PrepareRetry moves the failed recipients of a completed request back to
// toSchedule and reopens the request. It returns the moved recipients; none
// are moved for canceled requests or requests without failures.
func (r *GormRequestRepo) PrepareRetry(ctx context.Context, id string, build RequestEventBuilder) ([]string, error) {
	var moved []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model RequestModel
		err := forUpdate(tx).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if model.State != domain.StateCompleted {
			return fmt.Errorf("%w: request %s is %s", domain.ErrConflict, id, model.State)
		}
		if model.Canceled {
			return nil
		}

		var failed []string
		err = tx.Model(&RequestRecipientModel{}).
			Where("request_id = ? AND membership = ?", id, domain.MembershipError).
			Order("recipient_id ASC").
			Pluck("recipient_id", &failed).Error
		if err != nil {
			return err
		}
		if len(failed) == 0 {
			return nil
		}

		err = tx.Model(&RequestRecipientModel{}).
			Where("request_id = ? AND membership = ?", id, domain.MembershipError).
			Update("membership", domain.MembershipToSchedule).Error
		if err != nil {
			return err
		}

		err = tx.Model(&RequestModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"state":        domain.StateScheduled,
				"completed_at": nil,
			}).Error
		if err != nil {
			return err
		}

		if build != nil {
			req := requestModelToDomain(&model)
			req.State = domain.StateScheduled
			req.CompletedAt = nil
			req.RecipientsToSchedule = failed
			event, err := build(req)
			if err != nil {
				return err
			}
			if event != nil {
				if err := tx.Create(outboxModelFromDomain(event)).Error; err != nil {
					return err
				}
			}
		}

		moved = failed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// PurgeCompleted deletes up to limit requests completed before the cutoff,
// with their set rows and recipient errors.
func (r *GormRequestRepo) PurgeCompleted(ctx context.Context, before time.Time, limit int) (int, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&RequestModel{}).
		Where("state = ? AND completed_at < ?", domain.StateCompleted, before).
		Order("completed_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&RequestRuleModel{}, &RequestRecipientModel{}, &RecipientErrorModel{}} {
			if err := tx.Where("request_id IN ?", ids).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Where("id IN ?", ids).Delete(&RequestModel{}).Error
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

type memberKey struct {
	requestID   string
	recipientID string
}

func addRecipients(tx *gorm.DB, requestID string, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	rows := make([]RequestRecipientModel, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		rows = append(rows, RequestRecipientModel{
			RequestID:   requestID,
			RecipientID: id,
			Membership:  domain.MembershipToSchedule,
		})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// memberCondition builds "(request_id = ? AND recipient_id IN ?) OR ..." over
// the outcomes grouped by request.
func memberCondition(outcomes []domain.DeliveryOutcome) (string, []any) {
	order := make([]string, 0)
	byRequest := make(map[string][]string)
	for _, o := range outcomes {
		if _, ok := byRequest[o.RequestID]; !ok {
			order = append(order, o.RequestID)
		}
		byRequest[o.RequestID] = append(byRequest[o.RequestID], o.RecipientID)
	}

	parts := make([]string, 0, len(order))
	args := make([]any, 0, len(order)*2)
	for _, requestID := range order {
		parts = append(parts, "(request_id = ? AND recipient_id IN ?)")
		args = append(args, requestID, byRequest[requestID])
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func writeSummaryEvent(tx *gorm.DB, id string, build SummaryBuilder) error {
	if build == nil {
		return nil
	}
	summary, err := loadSummary(tx, id)
	if err != nil {
		return err
	}
	event, err := build(summary)
	if err != nil {
		return err
	}
	if event == nil {
		return nil
	}
	return tx.Create(outboxModelFromDomain(event)).Error
}

func loadSummary(tx *gorm.DB, id string) (domain.CompletionSummary, error) {
	var model RequestModel
	if err := tx.First(&model, "id = ?", id).Error; err != nil {
		return domain.CompletionSummary{}, err
	}

	summary := domain.CompletionSummary{
		RequestID:     model.ID,
		CorrelationID: model.CorrelationID,
		RequestOwner:  model.RequestOwner,
		Canceled:      model.Canceled,
		LatestErrors:  map[string]string{},
		Info:          map[string]domain.RecipientInfo{},
	}

	var members []RequestRecipientModel
	err := tx.Where("request_id = ? AND membership IN ?", id,
		[]domain.Membership{domain.MembershipSuccess, domain.MembershipError}).
		Order("recipient_id ASC").
		Find(&members).Error
	if err != nil {
		return summary, err
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.RecipientID)
		if m.Membership == domain.MembershipSuccess {
			summary.SuccessRecipients = append(summary.SuccessRecipients, m.RecipientID)
		} else {
			summary.ErrorRecipients = append(summary.ErrorRecipients, m.RecipientID)
		}
	}

	if len(summary.ErrorRecipients) > 0 {
		var errs []RecipientErrorModel
		err := tx.Where("request_id = ? AND recipient_id IN ?", id, summary.ErrorRecipients).
			Order("created_at ASC").
			Find(&errs).Error
		if err != nil {
			return summary, err
		}
		for _, e := range errs {
			summary.LatestErrors[e.RecipientID] = e.Message
		}
	}

	if len(ids) > 0 {
		var recipients []RecipientModel
		if err := tx.Where("business_id IN ?", ids).Find(&recipients).Error; err != nil {
			return summary, err
		}
		for _, rec := range recipients {
			summary.Info[rec.BusinessID] = domain.RecipientInfo{
				Label:       rec.Label,
				AckRequired: rec.AckRequired,
			}
		}
	}

	return summary, nil
}

// forUpdate adds a row lock on dialects that support it.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
