package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/observability"
	"github.com/kursadbilgin/notifier-engine/internal/plugin"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultMatchStaleAfter = time.Minute

// RuleMatcher evaluates the pending rules of a request against its payload.
type RuleMatcher struct {
	requests   repository.RequestRepository
	rules      repository.RuleRepository
	plugins    *plugin.Registry
	logger     *zap.Logger
	metrics    *observability.Metrics
	staleAfter time.Duration
	now        func() time.Time
}

func NewRuleMatcher(
	requests repository.RequestRepository,
	rules repository.RuleRepository,
	plugins *plugin.Registry,
	staleAfter time.Duration,
	logger *zap.Logger,
) (*RuleMatcher, error) {
	if requests == nil || rules == nil {
		return nil, fmt.Errorf("request and rule repositories are required")
	}
	if plugins == nil {
		return nil, fmt.Errorf("plugin registry is required")
	}
	if staleAfter <= 0 {
		staleAfter = defaultMatchStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RuleMatcher{
		requests:   requests,
		rules:      rules,
		plugins:    plugins,
		logger:     logger,
		staleAfter: staleAfter,
		now:        time.Now,
	}, nil
}

func (m *RuleMatcher) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

// Match claims the request, evaluates each of its pending rules once and
// moves it to SCHEDULED when no rule is left. It returns the recipients added
// to toSchedule. A request claimed by another matcher is left alone.
func (m *RuleMatcher) Match(ctx context.Context, requestID string) ([]string, error) {
	claimed, err := m.requests.ClaimForMatching(ctx, requestID, m.now().UTC().Add(-m.staleAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to claim request for matching: %w", err)
	}
	if !claimed {
		return nil, nil
	}

	req, err := m.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	logger := observability.WithContextLogger(m.logger, observability.WithRequestID(
		observability.WithCorrelationID(ctx, req.CorrelationID), req.ID))

	ruleIDs, err := m.requests.ListRulesToMatch(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules to match: %w", err)
	}

	matched := make([]string, 0)
	seen := make(map[string]struct{})
	for _, ruleID := range ruleIDs {
		recipients := m.evaluate(ctx, logger, req, ruleID)

		applied, err := m.requests.ApplyRuleResult(ctx, requestID, ruleID, recipients)
		if err != nil {
			return matched, fmt.Errorf("failed to apply rule %s: %w", ruleID, err)
		}
		if !applied {
			continue
		}
		// A recipient reached by several rules is one membership.
		for _, id := range recipients {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			matched = append(matched, id)
		}
	}

	if _, err := m.requests.FinishMatching(ctx, requestID); err != nil {
		return matched, fmt.Errorf("failed to finish matching: %w", err)
	}

	m.metrics.AddRecipientsMatched(len(matched))
	logger.Debug("request matched",
		zap.Int("rules", len(ruleIDs)),
		zap.Int("recipients", len(matched)),
	)
	return matched, nil
}

// evaluate returns the recipients of the rule when it matches. Missing rules
// and predicate failures count as a non-match.
func (m *RuleMatcher) evaluate(ctx context.Context, logger *zap.Logger, req *domain.NotificationRequest, ruleID string) []string {
	rule, err := m.rules.GetByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.metrics.IncRuleEvaluation("missing")
			logger.Info("rule no longer exists, skipping", zap.String("ruleId", ruleID))
			return nil
		}
		m.metrics.IncRuleEvaluation("error")
		logger.Warn("failed to load rule, skipping", zap.String("ruleId", ruleID), zap.Error(err))
		return nil
	}

	predicate, err := m.plugins.NewPredicate(rule.Predicate)
	if err != nil {
		m.metrics.IncRuleEvaluation("error")
		logger.Warn("failed to build rule predicate", zap.String("ruleId", ruleID), zap.Error(err))
		return nil
	}

	ok, err := predicate.Matches(ctx, req.Payload)
	if err != nil {
		m.metrics.IncRuleEvaluation("error")
		logger.Warn("rule predicate failed", zap.String("ruleId", ruleID), zap.Error(err))
		return nil
	}
	if !ok {
		m.metrics.IncRuleEvaluation("no_match")
		return nil
	}

	m.metrics.IncRuleEvaluation("match")
	return rule.Recipients
}
