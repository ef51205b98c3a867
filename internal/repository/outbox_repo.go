package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"gorm.io/gorm"
)

type OutboxRepository interface {
	Create(ctx context.Context, event *domain.OutboxEvent) error
	FindPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	PurgePublished(ctx context.Context, before time.Time) (int64, error)
}

type GormOutboxRepo struct {
	db *gorm.DB
}

func NewGormOutboxRepo(db *gorm.DB) *GormOutboxRepo {
	return &GormOutboxRepo{db: db}
}

func (r *GormOutboxRepo) Create(ctx context.Context, event *domain.OutboxEvent) error {
	model := outboxModelFromDomain(event)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*event = *outboxModelToDomain(model)
	return nil
}

func (r *GormOutboxRepo) FindPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	var models []OutboxEventModel
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.OutboxEvent, 0, len(models))
	for i := range models {
		events = append(events, *outboxModelToDomain(&models[i]))
	}
	return events, nil
}

func (r *GormOutboxRepo) MarkPublished(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&OutboxEventModel{}).
		Where("id = ? AND published_at IS NULL", id).
		Updates(map[string]any{
			"published_at": time.Now().UTC(),
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormOutboxRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	return r.db.WithContext(ctx).
		Model(&OutboxEventModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}

func (r *GormOutboxRepo) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("published_at IS NOT NULL AND published_at < ?", before).
		Delete(&OutboxEventModel{})
	return result.RowsAffected, result.Error
}
