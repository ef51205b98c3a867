package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/plugin"
	"github.com/kursadbilgin/notifier-engine/internal/queue"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"github.com/kursadbilgin/notifier-engine/internal/repository/repotest"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	publishFn func(ctx context.Context, queueName string, msg queue.Message) error
}

type publishedMessage struct {
	queue string
	msg   queue.Message
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.Message) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{queue: queueName, msg: msg})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

// deliveries returns the delivery jobs published so far and forgets them.
func (f *fakePublisher) deliveries() []queue.DeliveryMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]queue.DeliveryMessage, 0, len(f.published))
	rest := f.published[:0]
	for _, p := range f.published {
		if m, ok := p.msg.(queue.DeliveryMessage); ok && p.queue == queue.DeliveriesQueue {
			out = append(out, m)
			continue
		}
		rest = append(rest, p)
	}
	f.published = rest
	return out
}

type fakeConsumer struct {
	consumeFn      func(ctx context.Context, queueName string, handler queue.MessageHandler) error
	consumeBatchFn func(ctx context.Context, queueName string, size int, flushEvery time.Duration, handler queue.BatchHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) ConsumeBatch(ctx context.Context, queueName string, size int, flushEvery time.Duration, handler queue.BatchHandler) error {
	if f.consumeBatchFn != nil {
		return f.consumeBatchFn(ctx, queueName, size, flushEvery, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, recipientID string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, recipientID string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, recipientID string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, recipientID)
	}
	return nil
}

// recordingSinks backs the "test" sink type. A recipient configured with
// {"fail":"..."} fails every delivery with that message.
type recordingSinks struct {
	mu   sync.Mutex
	sent map[string]int
}

type recordingSink struct {
	sinks *recordingSinks
	fail  string
}

func (s *recordingSink) Send(ctx context.Context, delivery plugin.Delivery) error {
	s.sinks.mu.Lock()
	s.sinks.sent[delivery.RecipientID]++
	s.sinks.mu.Unlock()
	if s.fail != "" {
		return errors.New(s.fail)
	}
	return nil
}

func (s *recordingSinks) factory(config json.RawMessage) (plugin.Sink, error) {
	var cfg struct {
		Fail   string `json:"fail"`
		Broken bool   `json:"broken"`
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Broken {
		return nil, errors.New("sink misconfigured")
	}
	return &recordingSink{sinks: s, fail: cfg.Fail}, nil
}

func (s *recordingSinks) count(recipientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[recipientID]
}

// testEnv wires the services over a private sqlite store.
type testEnv struct {
	t          *testing.T
	requests   *repository.GormRequestRepo
	rules      *repository.GormRuleRepo
	recipients *repository.GormRecipientRepo
	errors     *repository.GormRecipientErrorRepo
	outbox     *repository.GormOutboxRepo
	plugins    *plugin.Registry
	sinks      *recordingSinks
	publisher  *fakePublisher
	matcher    *RuleMatcher
	dispatcher *Dispatcher
	intake     *IntakeService
	worker     *DeliveryWorker
	completion *CompletionDetector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := repotest.NewDB(t)
	env := &testEnv{
		t:          t,
		requests:   repository.NewGormRequestRepo(db),
		rules:      repository.NewGormRuleRepo(db),
		recipients: repository.NewGormRecipientRepo(db),
		errors:     repository.NewGormRecipientErrorRepo(db),
		outbox:     repository.NewGormOutboxRepo(db),
		plugins:    plugin.NewRegistry(),
		sinks:      &recordingSinks{sent: map[string]int{}},
		publisher:  &fakePublisher{},
	}
	if err := plugin.RegisterBuiltinPredicates(env.plugins); err != nil {
		t.Fatalf("RegisterBuiltinPredicates() error = %v", err)
	}
	if err := env.plugins.RegisterSink("test", env.sinks.factory); err != nil {
		t.Fatalf("RegisterSink() error = %v", err)
	}

	var err error
	env.matcher, err = NewRuleMatcher(env.requests, env.rules, env.plugins, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRuleMatcher() error = %v", err)
	}
	env.dispatcher, err = NewDispatcher(env.requests, env.publisher, 4, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	env.intake, err = NewIntakeService(env.requests, env.rules, env.recipients, env.errors, env.outbox,
		env.matcher, env.dispatcher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewIntakeService() error = %v", err)
	}
	env.worker, err = NewDeliveryWorker(env.requests, env.recipients, &fakeConsumer{}, env.plugins,
		&fakeRateLimiter{}, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDeliveryWorker() error = %v", err)
	}
	env.completion, err = NewCompletionDetector(env.requests, time.Second, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCompletionDetector() error = %v", err)
	}
	return env
}

func (e *testEnv) addRecipient(id string, direct bool, config string) {
	e.t.Helper()
	r := domain.Recipient{
		BusinessID:                id,
		Label:                     "label-" + id,
		PluginType:                "test",
		DirectNotificationEnabled: direct,
	}
	if config != "" {
		r.PluginConfig = json.RawMessage(config)
	}
	if err := e.recipients.Upsert(context.Background(), &r); err != nil {
		e.t.Fatalf("Upsert(%s) error = %v", id, err)
	}
}

func (e *testEnv) addRule(predicateType, config string, recipients ...string) *domain.Rule {
	e.t.Helper()
	rule := &domain.Rule{
		ID:         uuid.NewString(),
		Predicate:  domain.PredicateRef{Type: predicateType},
		Active:     true,
		Recipients: recipients,
	}
	if config != "" {
		rule.Predicate.Config = json.RawMessage(config)
	}
	if err := e.rules.Create(context.Background(), rule); err != nil {
		e.t.Fatalf("rules.Create() error = %v", err)
	}
	return rule
}

func (e *testEnv) submit(correlationID string, payload string, direct ...string) *Submission {
	e.t.Helper()
	sub, err := e.intake.Submit(context.Background(), InboundEvent{
		CorrelationID:    correlationID,
		RequestOwner:     "ingest",
		Payload:          json.RawMessage(payload),
		DirectRecipients: direct,
	})
	if err != nil {
		e.t.Fatalf("Submit(%s) error = %v", correlationID, err)
	}
	return sub
}

// deliverAll runs every published delivery job through the delivery worker.
func (e *testEnv) deliverAll() int {
	e.t.Helper()
	jobs := e.publisher.deliveries()
	for _, job := range jobs {
		if err := e.worker.deliver(context.Background(), job); err != nil {
			e.t.Fatalf("deliver(%s) error = %v", job.RecipientID, err)
		}
	}
	return len(jobs)
}

// statusEvents returns the pending status events in creation order.
func (e *testEnv) statusEvents() []domain.StatusEvent {
	e.t.Helper()
	pending, err := e.outbox.FindPending(context.Background(), 100)
	if err != nil {
		e.t.Fatalf("FindPending() error = %v", err)
	}
	events := make([]domain.StatusEvent, 0, len(pending))
	for _, p := range pending {
		var ev domain.StatusEvent
		if err := json.Unmarshal(p.Payload, &ev); err != nil {
			e.t.Fatalf("decode status event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func (e *testEnv) detail(id string) *domain.NotificationRequest {
	e.t.Helper()
	d, err := e.requests.GetDetail(context.Background(), id)
	if err != nil {
		e.t.Fatalf("GetDetail() error = %v", err)
	}
	return d
}
