package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/plugin"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"go.uber.org/zap"
)

type RuleService struct {
	rules      repository.RuleRepository
	recipients repository.RecipientRepository
	plugins    *plugin.Registry
	logger     *zap.Logger
}

func NewRuleService(
	rules repository.RuleRepository,
	recipients repository.RecipientRepository,
	plugins *plugin.Registry,
	logger *zap.Logger,
) (*RuleService, error) {
	if rules == nil || recipients == nil {
		return nil, fmt.Errorf("rule and recipient repositories are required")
	}
	if plugins == nil {
		return nil, fmt.Errorf("plugin registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RuleService{
		rules:      rules,
		recipients: recipients,
		plugins:    plugins,
		logger:     logger,
	}, nil
}

func (s *RuleService) List(ctx context.Context) ([]domain.Rule, error) {
	return s.rules.List(ctx)
}

func (s *RuleService) Get(ctx context.Context, id string) (*domain.Rule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: rule id is required", domain.ErrValidation)
	}
	return s.rules.GetByID(ctx, id)
}

// Create stores a new rule. Rules only apply to requests created afterwards.
func (s *RuleService) Create(ctx context.Context, rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrValidation)
	}
	rule.ID = uuid.NewString()
	if err := s.prepare(ctx, rule); err != nil {
		return err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return err
	}

	s.logger.Info("rule created",
		zap.String("ruleId", rule.ID),
		zap.String("predicate", rule.Predicate.Type),
		zap.Int("recipients", len(rule.Recipients)),
	)
	return nil
}

func (s *RuleService) Update(ctx context.Context, rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrValidation)
	}
	rule.ID = strings.TrimSpace(rule.ID)
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrValidation)
	}
	if err := s.prepare(ctx, rule); err != nil {
		return err
	}
	return s.rules.Update(ctx, rule)
}

// Delete removes the rule. Requests still holding it in rulesToMatch treat
// it as a non-match.
func (s *RuleService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrValidation)
	}
	return s.rules.Delete(ctx, id)
}

func (s *RuleService) prepare(ctx context.Context, rule *domain.Rule) error {
	rule.Name = strings.TrimSpace(rule.Name)
	rule.Predicate.Type = strings.ToLower(strings.TrimSpace(rule.Predicate.Type))
	for i := range rule.Recipients {
		rule.Recipients[i] = strings.TrimSpace(rule.Recipients[i])
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	if _, err := s.plugins.NewPredicate(rule.Predicate); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if len(rule.Recipients) == 0 {
		return nil
	}
	found, err := s.recipients.GetMany(ctx, rule.Recipients)
	if err != nil {
		return err
	}
	missing := make([]string, 0)
	for _, id := range rule.Recipients {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: unknown recipients %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}
