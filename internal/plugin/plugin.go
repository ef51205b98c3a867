// Package plugin resolves rule predicates and recipient sinks from their
// stored type and configuration.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
)

// ErrUnknownType is returned for a predicate or sink type nobody registered.
var ErrUnknownType = errors.New("unknown plugin type")

// Predicate decides whether a request payload matches a rule.
type Predicate interface {
	Matches(ctx context.Context, payload json.RawMessage) (bool, error)
}

// Delivery is what a sink receives for one request and one recipient.
type Delivery struct {
	RequestID     string          `json:"requestId"`
	CorrelationID string          `json:"correlationId"`
	RequestOwner  string          `json:"requestOwner,omitempty"`
	RecipientID   string          `json:"recipientId"`
	Label         string          `json:"label,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// Sink delivers a request to one recipient. A nil error is a success. Sinks
// must tolerate receiving the same delivery more than once.
type Sink interface {
	Send(ctx context.Context, delivery Delivery) error
}

type PredicateFactory func(config json.RawMessage) (Predicate, error)

type SinkFactory func(config json.RawMessage) (Sink, error)

// Registry maps plugin type names to factories. It is filled once at
// startup; every lookup builds a fresh instance from the stored config.
type Registry struct {
	mu         sync.RWMutex
	predicates map[string]PredicateFactory
	sinks      map[string]SinkFactory
}

func NewRegistry() *Registry {
	return &Registry{
		predicates: make(map[string]PredicateFactory),
		sinks:      make(map[string]SinkFactory),
	}
}

func (r *Registry) RegisterPredicate(typeName string, factory PredicateFactory) error {
	typeName = normalizeType(typeName)
	if typeName == "" || factory == nil {
		return fmt.Errorf("predicate type and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.predicates[typeName]; exists {
		return fmt.Errorf("predicate type %q already registered", typeName)
	}
	r.predicates[typeName] = factory
	return nil
}

func (r *Registry) RegisterSink(typeName string, factory SinkFactory) error {
	typeName = normalizeType(typeName)
	if typeName == "" || factory == nil {
		return fmt.Errorf("sink type and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sinks[typeName]; exists {
		return fmt.Errorf("sink type %q already registered", typeName)
	}
	r.sinks[typeName] = factory
	return nil
}

func (r *Registry) NewPredicate(ref domain.PredicateRef) (Predicate, error) {
	r.mu.RLock()
	factory, ok := r.predicates[normalizeType(ref.Type)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: predicate %q", ErrUnknownType, ref.Type)
	}

	p, err := factory(ref.Config)
	if err != nil {
		return nil, fmt.Errorf("build predicate %q: %w", ref.Type, err)
	}
	return p, nil
}

func (r *Registry) NewSink(recipient domain.Recipient) (Sink, error) {
	r.mu.RLock()
	factory, ok := r.sinks[normalizeType(recipient.PluginType)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink %q", ErrUnknownType, recipient.PluginType)
	}

	s, err := factory(recipient.PluginConfig)
	if err != nil {
		return nil, fmt.Errorf("build sink %q for %s: %w", recipient.PluginType, recipient.BusinessID, err)
	}
	return s, nil
}

func (r *Registry) PredicateTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.predicates)
}

func (r *Registry) SinkTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sinks)
}

func normalizeType(typeName string) string {
	return strings.ToLower(strings.TrimSpace(typeName))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
