package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RuleRepository interface {
	List(ctx context.Context) ([]domain.Rule, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
	GetByID(ctx context.Context, id string) (*domain.Rule, error)
	Create(ctx context.Context, rule *domain.Rule) error
	Update(ctx context.Context, rule *domain.Rule) error
	Delete(ctx context.Context, id string) error
}

type GormRuleRepo struct {
	db *gorm.DB
}

func NewGormRuleRepo(db *gorm.DB) *GormRuleRepo {
	return &GormRuleRepo{db: db}
}

func (r *GormRuleRepo) List(ctx context.Context) ([]domain.Rule, error) {
	var models []RuleModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(models))
	for i := range models {
		ids = append(ids, models[i].ID)
	}
	links, err := ruleRecipients(r.db.WithContext(ctx), ids)
	if err != nil {
		return nil, err
	}

	rules := make([]domain.Rule, 0, len(models))
	for i := range models {
		rules = append(rules, *ruleModelToDomain(&models[i], links[models[i].ID]))
	}
	return rules, nil
}

func (r *GormRuleRepo) ListActiveIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&RuleModel{}).
		Where("active = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GormRuleRepo) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	var model RuleModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	links, err := ruleRecipients(r.db.WithContext(ctx), []string{id})
	if err != nil {
		return nil, err
	}
	return ruleModelToDomain(&model, links[id]), nil
}

func (r *GormRuleRepo) Create(ctx context.Context, rule *domain.Rule) error {
	model := ruleModelFromDomain(rule)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return replaceRuleRecipients(tx, model.ID, rule.Recipients)
	})
	if err != nil {
		return err
	}
	*rule = *ruleModelToDomain(model, rule.Recipients)
	return nil
}

// Update replaces the rule attributes and its whole recipient set.
func (r *GormRuleRepo) Update(ctx context.Context, rule *domain.Rule) error {
	model := ruleModelFromDomain(rule)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&RuleModel{}).
			Where("id = ?", model.ID).
			Updates(map[string]any{
				"name":             model.Name,
				"predicate_type":   model.PredicateType,
				"predicate_config": model.PredicateConfig,
				"active":           model.Active,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return replaceRuleRecipients(tx, model.ID, rule.Recipients)
	})
	if err != nil {
		return err
	}

	updated, err := r.GetByID(ctx, rule.ID)
	if err != nil {
		return err
	}
	*rule = *updated
	return nil
}

// Delete removes the rule and its recipient links. Requests that still hold
// the rule in rulesToMatch consume it as a non-match.
func (r *GormRuleRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", id).Delete(&RuleRecipientModel{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&RuleModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func replaceRuleRecipients(tx *gorm.DB, ruleID string, recipients []string) error {
	if err := tx.Where("rule_id = ?", ruleID).Delete(&RuleRecipientModel{}).Error; err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}
	if err := lockRecipients(tx, recipients); err != nil {
		return err
	}
	rows := make([]RuleRecipientModel, 0, len(recipients))
	for _, id := range recipients {
		rows = append(rows, RuleRecipientModel{RuleID: ruleID, RecipientID: id})
	}
	return tx.Create(&rows).Error
}

// lockRecipients share-locks the linked recipients until the rule write
// commits, so a concurrent recipient delete either runs first and is seen
// here or waits and removes the new links itself.
func lockRecipients(tx *gorm.DB, ids []string) error {
	q := tx.Model(&RecipientModel{})
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "SHARE"})
	}
	var found []string
	if err := q.Where("business_id IN ?", ids).Pluck("business_id", &found).Error; err != nil {
		return err
	}

	existing := make(map[string]struct{}, len(found))
	for _, id := range found {
		existing[id] = struct{}{}
	}
	missing := make([]string, 0)
	for _, id := range ids {
		if _, ok := existing[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: unknown recipients %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

func ruleRecipients(db *gorm.DB, ruleIDs []string) (map[string][]string, error) {
	links := make(map[string][]string, len(ruleIDs))
	if len(ruleIDs) == 0 {
		return links, nil
	}

	var rows []RuleRecipientModel
	err := db.Where("rule_id IN ?", ruleIDs).
		Order("rule_id ASC, recipient_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		links[row.RuleID] = append(links[row.RuleID], row.RecipientID)
	}
	return links, nil
}
