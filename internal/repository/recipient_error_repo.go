package repository

import (
	"context"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"gorm.io/gorm"
)

// RecipientErrorRepository reads the append-only recipient error ledger.
// Rows are written by RequestRepository.RecordOutcomes.
type RecipientErrorRepository interface {
	ListByRequest(ctx context.Context, requestID string) ([]domain.RecipientError, error)
	ListByRecipient(ctx context.Context, requestID, recipientID string) ([]domain.RecipientError, error)
}

type GormRecipientErrorRepo struct {
	db *gorm.DB
}

func NewGormRecipientErrorRepo(db *gorm.DB) *GormRecipientErrorRepo {
	return &GormRecipientErrorRepo{db: db}
}

func (r *GormRecipientErrorRepo) ListByRequest(ctx context.Context, requestID string) ([]domain.RecipientError, error) {
	return r.list(r.db.WithContext(ctx).Where("request_id = ?", requestID))
}

func (r *GormRecipientErrorRepo) ListByRecipient(ctx context.Context, requestID, recipientID string) ([]domain.RecipientError, error) {
	return r.list(r.db.WithContext(ctx).Where("request_id = ? AND recipient_id = ?", requestID, recipientID))
}

func (r *GormRecipientErrorRepo) list(query *gorm.DB) ([]domain.RecipientError, error) {
	var models []RecipientErrorModel
	if err := query.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	errs := make([]domain.RecipientError, 0, len(models))
	for i := range models {
		errs = append(errs, *recipientErrorModelToDomain(&models[i]))
	}
	return errs, nil
}
