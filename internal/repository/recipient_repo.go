package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RecipientRepository interface {
	// List returns all recipients, or only those whose direct notification
	// flag equals *direct when direct is set.
	List(ctx context.Context, direct *bool) ([]domain.Recipient, error)
	GetByID(ctx context.Context, businessID string) (*domain.Recipient, error)
	GetMany(ctx context.Context, businessIDs []string) (map[string]domain.Recipient, error)
	Upsert(ctx context.Context, recipient *domain.Recipient) error
	Delete(ctx context.Context, businessID string) error
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

func (r *GormRecipientRepo) List(ctx context.Context, direct *bool) ([]domain.Recipient, error) {
	query := r.db.WithContext(ctx).Model(&RecipientModel{})
	if direct != nil {
		query = query.Where("direct_notification_enabled = ?", *direct)
	}

	var models []RecipientModel
	if err := query.Order("business_id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}
	return recipients, nil
}

func (r *GormRecipientRepo) GetByID(ctx context.Context, businessID string) (*domain.Recipient, error) {
	var model RecipientModel
	err := r.db.WithContext(ctx).First(&model, "business_id = ?", businessID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recipientModelToDomain(&model), nil
}

// GetMany returns the existing recipients among businessIDs keyed by id.
func (r *GormRecipientRepo) GetMany(ctx context.Context, businessIDs []string) (map[string]domain.Recipient, error) {
	found := make(map[string]domain.Recipient, len(businessIDs))
	if len(businessIDs) == 0 {
		return found, nil
	}

	var models []RecipientModel
	if err := r.db.WithContext(ctx).Where("business_id IN ?", businessIDs).Find(&models).Error; err != nil {
		return nil, err
	}
	for i := range models {
		found[models[i].BusinessID] = *recipientModelToDomain(&models[i])
	}
	return found, nil
}

func (r *GormRecipientRepo) Upsert(ctx context.Context, recipient *domain.Recipient) error {
	model := recipientModelFromDomain(recipient)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "business_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"label",
				"plugin_type",
				"plugin_config",
				"direct_notification_enabled",
				"ack_required",
				"updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	stored, err := r.GetByID(ctx, model.BusinessID)
	if err != nil {
		return err
	}
	*recipient = *stored
	return nil
}

// Delete removes the recipient and unlinks it from every rule. Request
// memberships and recipient errors keep referring to the business id.
func (r *GormRecipientRepo) Delete(ctx context.Context, businessID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The recipient row goes first: its lock orders this delete against
		// rule writes holding a share lock on it.
		result := tx.Where("business_id = ?", businessID).Delete(&RecipientModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return tx.Where("recipient_id = ?", businessID).Delete(&RuleRecipientModel{}).Error
	})
}
