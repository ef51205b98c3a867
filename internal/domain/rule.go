package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PredicateRef points at a predicate plugin type and its configuration.
type PredicateRef struct {
	Type   string
	Config json.RawMessage
}

// Rule routes matching requests to a set of recipients.
type Rule struct {
	ID         string
	Name       string
	Predicate  PredicateRef
	Active     bool
	Recipients []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Predicate.Type) == "" {
		return fmt.Errorf("%w: predicate type is required", ErrValidation)
	}
	if len(r.Predicate.Config) > 0 && !json.Valid(r.Predicate.Config) {
		return fmt.Errorf("%w: predicate config must be valid JSON", ErrValidation)
	}
	seen := make(map[string]struct{}, len(r.Recipients))
	for _, id := range r.Recipients {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: recipient id must not be empty", ErrValidation)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: duplicate recipient %q", ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
