package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry()
	if err := RegisterBuiltinPredicates(r); err != nil {
		t.Fatalf("RegisterBuiltinPredicates() error = %v", err)
	}
	return r
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	if err := r.RegisterPredicate("ALWAYS", NewAlwaysPredicate); err == nil {
		t.Fatal("expected duplicate predicate registration to fail")
	}

	sink := func(json.RawMessage) (Sink, error) { return nil, nil }
	if err := r.RegisterSink("webhook", sink); err != nil {
		t.Fatalf("RegisterSink() error = %v", err)
	}
	if err := r.RegisterSink("webhook", sink); err == nil {
		t.Fatal("expected duplicate sink registration to fail")
	}

	if got := r.SinkTypes(); len(got) != 1 || got[0] != "webhook" {
		t.Fatalf("SinkTypes() = %v", got)
	}
	if got := r.PredicateTypes(); len(got) != 2 || got[0] != "always" || got[1] != "cel" {
		t.Fatalf("PredicateTypes() = %v", got)
	}
}

func TestRegistryUnknownTypes(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	if _, err := r.NewPredicate(domain.PredicateRef{Type: "regex"}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("NewPredicate() error = %v, want ErrUnknownType", err)
	}
	if _, err := r.NewSink(domain.Recipient{BusinessID: "x", PluginType: "smtp"}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("NewSink() error = %v, want ErrUnknownType", err)
	}
}

func TestCELPredicate(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	payload := json.RawMessage(`{"type":"AIP","size":42,"tags":["a","b"]}`)

	tests := []struct {
		name       string
		expression string
		want       bool
		buildErr   bool
		evalErr    bool
	}{
		{name: "string equality", expression: `payload.type == "AIP"`, want: true},
		{name: "numeric comparison", expression: `payload.size > 100.0`, want: false},
		{name: "list membership", expression: `"b" in payload.tags`, want: true},
		{name: "has macro", expression: `has(payload.owner)`, want: false},
		{name: "syntax error", expression: `payload.type ==`, buildErr: true},
		{name: "non bool result", expression: `"text"`, buildErr: true},
		{name: "missing key", expression: `payload.owner == "x"`, evalErr: true},
		{name: "empty expression", expression: ``, buildErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			config, _ := json.Marshal(map[string]string{"expression": tt.expression})
			p, err := r.NewPredicate(domain.PredicateRef{Type: "cel", Config: config})
			if tt.buildErr {
				if err == nil {
					t.Fatal("expected build error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPredicate() error = %v", err)
			}

			got, err := p.Matches(context.Background(), payload)
			if tt.evalErr {
				if err == nil {
					t.Fatal("expected evaluation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Matches() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAlwaysPredicate(t *testing.T) {
	t.Parallel()

	p, err := newTestRegistry(t).NewPredicate(domain.PredicateRef{Type: " Always "})
	if err != nil {
		t.Fatalf("NewPredicate() error = %v", err)
	}
	matched, err := p.Matches(context.Background(), json.RawMessage(`{}`))
	if err != nil || !matched {
		t.Fatalf("Matches() = %v, %v", matched, err)
	}
}
