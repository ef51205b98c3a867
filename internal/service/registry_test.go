package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"go.uber.org/zap"
)

func TestRecipientRegistryUpsert(t *testing.T) {
	env := newTestEnv(t)
	registry, err := NewRecipientRegistry(env.recipients, env.plugins, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRecipientRegistry() error = %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name      string
		recipient domain.Recipient
		wantErr   string
	}{
		{
			name:      "valid",
			recipient: domain.Recipient{BusinessID: " archive ", Label: "Archive", PluginType: " TEST "},
		},
		{
			name:      "missing business id",
			recipient: domain.Recipient{PluginType: "test"},
			wantErr:   "businessId is required",
		},
		{
			name:      "unknown sink type",
			recipient: domain.Recipient{BusinessID: "x", PluginType: "carrier-pigeon"},
			wantErr:   "known: test",
		},
		{
			name: "sink rejects its config",
			recipient: domain.Recipient{
				BusinessID:   "y",
				PluginType:   "test",
				PluginConfig: json.RawMessage(`{"broken":true}`),
			},
			wantErr: "sink misconfigured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.recipient
			err := registry.Upsert(ctx, &r)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Upsert() error = %v", err)
				}
				return
			}
			if !errors.Is(err, domain.ErrValidation) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Upsert() error = %v, want validation error containing %q", err, tt.wantErr)
			}
		})
	}

	stored, err := registry.Get(ctx, "archive")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.PluginType != "test" || stored.Label != "Archive" {
		t.Fatalf("stored recipient = %+v", stored)
	}
}

func TestRecipientRegistryFindRecipientsFiltersDirect(t *testing.T) {
	env := newTestEnv(t)
	env.addRecipient("direct", true, "")
	env.addRecipient("routed", false, "")
	registry, err := NewRecipientRegistry(env.recipients, env.plugins, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRecipientRegistry() error = %v", err)
	}
	ctx := context.Background()

	all, err := registry.FindRecipients(ctx, nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("FindRecipients(nil) = %d, %v, want 2", len(all), err)
	}

	direct := true
	only, err := registry.FindRecipients(ctx, &direct)
	if err != nil || len(only) != 1 || only[0].BusinessID != "direct" {
		t.Fatalf("FindRecipients(true) = %+v, %v", only, err)
	}

	if err := registry.Delete(ctx, "routed"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := registry.Delete(ctx, "routed"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestRuleServiceValidatesRules(t *testing.T) {
	env := newTestEnv(t)
	env.addRecipient("r1", false, "")
	rules, err := NewRuleService(env.rules, env.recipients, env.plugins, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRuleService() error = %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name    string
		rule    domain.Rule
		wantErr string
	}{
		{
			name:    "unknown predicate",
			rule:    domain.Rule{Predicate: domain.PredicateRef{Type: "regex"}, Recipients: []string{"r1"}},
			wantErr: "regex",
		},
		{
			name: "cel expression does not compile",
			rule: domain.Rule{
				Predicate:  domain.PredicateRef{Type: "cel", Config: json.RawMessage(`{"expression":"payload.type =="}`)},
				Recipients: []string{"r1"},
			},
			wantErr: "compile",
		},
		{
			name:    "unknown recipient",
			rule:    domain.Rule{Predicate: domain.PredicateRef{Type: "always"}, Recipients: []string{"r1", "ghost"}},
			wantErr: "unknown recipients ghost",
		},
		{
			name:    "duplicate recipient",
			rule:    domain.Rule{Predicate: domain.PredicateRef{Type: "always"}, Recipients: []string{"r1", "r1"}},
			wantErr: "duplicate recipient",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := tt.rule
			err := rules.Create(ctx, &rule)
			if !errors.Is(err, domain.ErrValidation) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Create() error = %v, want validation error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRuleServiceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addRecipient("r1", false, "")
	env.addRecipient("r2", false, "")
	rules, err := NewRuleService(env.rules, env.recipients, env.plugins, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRuleService() error = %v", err)
	}
	ctx := context.Background()

	rule := domain.Rule{
		Name:       " aip only ",
		Predicate:  domain.PredicateRef{Type: "CEL", Config: json.RawMessage(`{"expression":"payload.type == 'AIP'"}`)},
		Active:     true,
		Recipients: []string{"r1"},
	}
	if err := rules.Create(ctx, &rule); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rule.ID == "" || rule.Name != "aip only" || rule.Predicate.Type != "cel" {
		t.Fatalf("created rule = %+v", rule)
	}

	rule.Recipients = []string{"r1", "r2"}
	rule.Active = false
	if err := rules.Update(ctx, &rule); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := rules.Get(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Active || len(got.Recipients) != 2 {
		t.Fatalf("updated rule = %+v", got)
	}

	active, err := env.rules.ListActiveIDs(ctx)
	if err != nil || len(active) != 0 {
		t.Fatalf("ListActiveIDs() = %v, %v, want none", active, err)
	}

	if err := rules.Delete(ctx, rule.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := rules.Get(ctx, rule.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := rules.Update(ctx, &domain.Rule{ID: rule.ID, Predicate: domain.PredicateRef{Type: "always"}}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update() of deleted rule error = %v, want ErrNotFound", err)
	}
}
