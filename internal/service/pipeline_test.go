package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/observability"
)

func findEvent(t *testing.T, events []domain.StatusEvent, status domain.NotifierStatus) domain.StatusEvent {
	t.Helper()
	for _, ev := range events {
		if ev.Status == status {
			return ev
		}
	}
	t.Fatalf("no %s event among %+v", status, events)
	return domain.StatusEvent{}
}

func countEvents(events []domain.StatusEvent, status domain.NotifierStatus) int {
	n := 0
	for _, ev := range events {
		if ev.Status == status {
			n++
		}
	}
	return n
}

func TestPipelineAllRecipientsSucceed(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"r1", "r2", "r3"} {
		env.addRecipient(id, false, "")
	}
	env.addRule("always", "", "r1", "r2", "r3")

	sub := env.submit("corr-ok", `{"type":"AIP"}`)
	if !sub.Created() {
		t.Fatalf("Result = %s, want created", sub.Result)
	}
	if sub.Request.State != domain.StateScheduled || len(sub.Request.RecipientsScheduled) != 3 {
		t.Fatalf("request after submit = %+v", sub.Request)
	}

	if n := env.deliverAll(); n != 3 {
		t.Fatalf("deliveries = %d, want 3", n)
	}

	completed, err := env.completion.Sweep(context.Background())
	if err != nil || completed != 1 {
		t.Fatalf("Sweep() = %d, %v, want 1", completed, err)
	}

	final := env.detail(sub.Request.ID)
	if final.State != domain.StateCompleted || len(final.SuccessRecipients) != 3 {
		t.Fatalf("final request = %+v", final)
	}

	events := env.statusEvents()
	findEvent(t, events, domain.NotifierStatusGranted)
	done := findEvent(t, events, domain.NotifierStatusSuccess)
	if len(done.Recipients) != 3 || done.ErrorMessage != "" {
		t.Fatalf("SUCCESS event = %+v", done)
	}
	if done.Recipients[0].Label != "label-r1" {
		t.Fatalf("first recipient label = %q, want label-r1", done.Recipients[0].Label)
	}

	again, err := env.completion.Sweep(context.Background())
	if err != nil || again != 0 {
		t.Fatalf("second Sweep() = %d, %v, want 0", again, err)
	}
}

func TestPipelinePartialFailureCompletesWithError(t *testing.T) {
	env := newTestEnv(t)
	env.addRecipient("r1", false, "")
	env.addRecipient("r2", false, "")
	env.addRecipient("r3", false, `{"fail":"503 from sink"}`)
	env.addRule("always", "", "r1", "r2", "r3")

	sub := env.submit("corr-partial", `{"type":"AIP"}`)
	env.deliverAll()

	if _, err := env.completion.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	final := env.detail(sub.Request.ID)
	if final.State != domain.StateCompleted {
		t.Fatalf("state = %s, want COMPLETED", final.State)
	}
	if len(final.RecipientsInError) != 1 || final.RecipientsInError[0] != "r3" {
		t.Fatalf("recipients in error = %v, want [r3]", final.RecipientsInError)
	}

	ev := findEvent(t, env.statusEvents(), domain.NotifierStatusError)
	if ev.ErrorMessage != "r3: 503 from sink" {
		t.Fatalf("errorMessage = %q", ev.ErrorMessage)
	}

	errs, err := env.intake.ListRecipientErrors(context.Background(), sub.Request.ID, "")
	if err != nil || len(errs) != 1 || errs[0].RecipientID != "r3" {
		t.Fatalf("ListRecipientErrors() = %+v, %v", errs, err)
	}
}

func TestPipelineRuleMatchesOnPayload(t *testing.T) {
	env := newTestEnv(t)
	env.addRecipient("archive", false, "")
	env.addRecipient("mailer", false, "")
	env.addRule("cel", `{"expression":"payload.type == 'AIP'"}`, "archive")
	env.addRule("cel", `{"expression":"payload.type == 'SIP'"}`, "mailer")
	env.addRule("cel", `{"expression":"payload.missing.field"}`, "mailer")

	sub := env.submit("corr-cel", `{"type":"AIP"}`)

	if got := sub.Request.RecipientsScheduled; len(got) != 1 || got[0] != "archive" {
		t.Fatalf("scheduled = %v, want [archive]", got)
	}
	if len(sub.Request.RulesToMatch) != 0 {
		t.Fatalf("rules left = %v, want none", sub.Request.RulesToMatch)
	}
}

func TestPipelineNoRecipientsCompletesWithSuccess(t *testing.T) {
	env := newTestEnv(t)

	sub := env.submit("corr-empty", `{"type":"AIP"}`)
	if sub.Request.State != domain.StateScheduled {
		t.Fatalf("state = %s, want SCHEDULED", sub.Request.State)
	}

	if n, err := env.completion.Sweep(context.Background()); err != nil || n != 1 {
		t.Fatalf("Sweep() = %d, %v, want 1", n, err)
	}
	ev := findEvent(t, env.statusEvents(), domain.NotifierStatusSuccess)
	if len(ev.Recipients) != 0 {
		t.Fatalf("recipients = %+v, want none", ev.Recipients)
	}
}

func TestRuleDeactivatedAfterCreationStillApplies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addRecipient("r1", false, "")
	rule := env.addRule("always", "", "r1")

	req := &domain.NotificationRequest{
		ID:            "6d0cdbe4-6a70-4a38-9d61-1b0f57d9d0a1",
		CorrelationID: "corr-snapshot",
		Payload:       []byte(`{"type":"AIP"}`),
		State:         domain.StateCreated,
	}
	if err := env.requests.Create(ctx, req, []string{rule.ID}, nil, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rule.Active = false
	if err := env.rules.Update(ctx, rule); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	matched, err := env.matcher.Match(ctx, req.ID)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(matched) != 1 || matched[0] != "r1" {
		t.Fatalf("matched = %v, want [r1]", matched)
	}
}

func TestMatchCountsSharedRecipientOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addRecipient("r1", false, "")
	env.addRecipient("r2", false, "")
	first := env.addRule("always", "", "r1", "r2")
	second := env.addRule("always", "", "r2")

	req := &domain.NotificationRequest{
		ID:            "0f1e2d3c-4b5a-4697-8877-665544332211",
		CorrelationID: "corr-overlap",
		Payload:       []byte(`{"type":"AIP"}`),
		State:         domain.StateCreated,
	}
	if err := env.requests.Create(ctx, req, []string{first.ID, second.ID}, nil, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	matched, err := env.matcher.Match(ctx, req.ID)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("matched = %v, want r1 and r2 once each", matched)
	}
	if d := env.detail(req.ID); len(d.RecipientsToSchedule) != 2 {
		t.Fatalf("toSchedule = %v, want 2 members", d.RecipientsToSchedule)
	}
}

func TestRuleDeletedAfterCreationIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addRecipient("r1", false, "")
	rule := env.addRule("always", "", "r1")

	req := &domain.NotificationRequest{
		ID:            "0b7f31c2-3c1e-4f0c-9a55-2f1f0d3e7b11",
		CorrelationID: "corr-deleted-rule",
		Payload:       []byte(`{"type":"AIP"}`),
		State:         domain.StateCreated,
	}
	if err := env.requests.Create(ctx, req, []string{rule.ID}, nil, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := env.rules.Delete(ctx, rule.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	matched, err := env.matcher.Match(ctx, req.ID)
	if err != nil || len(matched) != 0 {
		t.Fatalf("Match() = %v, %v, want no recipients", matched, err)
	}
	d := env.detail(req.ID)
	if d.State != domain.StateScheduled || len(d.RulesToMatch) != 0 {
		t.Fatalf("request after match = %+v", d)
	}

	again, err := env.matcher.Match(ctx, req.ID)
	if err != nil || again != nil {
		t.Fatalf("second Match() = %v, %v, want unclaimed", again, err)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.addRecipient("r1", false, "")
	env.addRule("always", "", "r1")

	first := env.submit("corr-dup", `{"type":"AIP"}`)
	second := env.submit("corr-dup", `{"type":"AIP"}`)

	if second.Result != observability.RegistrationDuplicate {
		t.Fatalf("second Result = %s, want duplicate", second.Result)
	}
	if second.Request.ID != first.Request.ID {
		t.Fatalf("second request id = %s, want %s", second.Request.ID, first.Request.ID)
	}
	if n := env.deliverAll(); n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
	if n := countEvents(env.statusEvents(), domain.NotifierStatusGranted); n != 1 {
		t.Fatalf("GRANTED events = %d, want 1", n)
	}
}

func TestResubmitRetriesFailedRecipients(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addRecipient("ok", false, "")
	env.addRecipient("flaky", false, `{"fail":"timeout"}`)
	env.addRule("always", "", "ok", "flaky")

	first := env.submit("corr-retry", `{"type":"AIP"}`)
	env.deliverAll()
	if _, err := env.completion.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	env.addRecipient("flaky", false, "")
	retry := env.submit("corr-retry", `{"type":"AIP"}`)
	if retry.Result != observability.RegistrationRetried {
		t.Fatalf("Result = %s, want retried", retry.Result)
	}
	if retry.Request.ID != first.Request.ID {
		t.Fatal("retry must reuse the request")
	}
	if got := retry.Request.RecipientsScheduled; len(got) != 1 || got[0] != "flaky" {
		t.Fatalf("scheduled after retry = %v, want [flaky]", got)
	}

	env.deliverAll()
	if n, err := env.completion.Sweep(ctx); err != nil || n != 1 {
		t.Fatalf("Sweep() after retry = %d, %v", n, err)
	}

	final := env.detail(first.Request.ID)
	if len(final.SuccessRecipients) != 2 || len(final.RecipientsInError) != 0 {
		t.Fatalf("final sets = %+v", final)
	}
	if env.sinks.count("ok") != 1 || env.sinks.count("flaky") != 2 {
		t.Fatalf("sends ok=%d flaky=%d, want 1 and 2", env.sinks.count("ok"), env.sinks.count("flaky"))
	}

	errs, _ := env.intake.ListRecipientErrors(ctx, first.Request.ID, "flaky")
	if len(errs) != 1 {
		t.Fatalf("flaky errors = %d, want 1 kept from the first attempt", len(errs))
	}

	third := env.submit("corr-retry", `{"type":"AIP"}`)
	if third.Result != observability.RegistrationDuplicate {
		t.Fatalf("Result after success = %s, want duplicate", third.Result)
	}
}

func TestSubmitDeniesInvalidEvents(t *testing.T) {
	env := newTestEnv(t)
	env.addRecipient("rule-only", false, "")

	tests := []struct {
		name      string
		in        InboundEvent
		wantEvent bool
	}{
		{
			name: "missing correlation id",
			in:   InboundEvent{Payload: []byte(`{"a":1}`)},
		},
		{
			name:      "payload is not an object",
			in:        InboundEvent{CorrelationID: "corr-bad-payload", Payload: []byte(`[1]`)},
			wantEvent: true,
		},
		{
			name:      "unknown direct recipient",
			in:        InboundEvent{CorrelationID: "corr-unknown", Payload: []byte(`{}`), DirectRecipients: []string{"ghost"}},
			wantEvent: true,
		},
		{
			name:      "recipient not direct enabled",
			in:        InboundEvent{CorrelationID: "corr-not-direct", Payload: []byte(`{}`), DirectRecipients: []string{"rule-only"}},
			wantEvent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.intake.Submit(context.Background(), tt.in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Submit() error = %v, want ErrValidation", err)
			}

			denied := false
			for _, ev := range env.statusEvents() {
				if ev.Status == domain.NotifierStatusDenied && ev.CorrelationID == tt.in.CorrelationID {
					denied = true
				}
			}
			if denied != tt.wantEvent {
				t.Fatalf("DENIED event present = %v, want %v", denied, tt.wantEvent)
			}
		})
	}
}

func TestSubmitDirectRecipientsSkipRules(t *testing.T) {
	env := newTestEnv(t)
	env.addRecipient("direct", true, "")
	env.addRecipient("routed", false, "")
	env.addRule("always", "", "routed")

	sub := env.submit("corr-direct", `{"type":"AIP"}`, "direct", "direct")
	if got := sub.Request.RecipientsScheduled; len(got) != 1 || got[0] != "direct" {
		t.Fatalf("scheduled = %v, want [direct]", got)
	}
}

func TestRacingDispatchersScheduleEachRecipientOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := []string{"r1", "r2", "r3", "r4", "r5"}
	for _, id := range ids {
		env.addRecipient(id, false, "")
	}

	req := &domain.NotificationRequest{
		ID:            "5a1f8f4e-2b7a-4d55-8e0b-7c1d2e3f4a5b",
		CorrelationID: "corr-race",
		Payload:       []byte(`{}`),
		State:         domain.StateCreated,
	}
	if err := env.requests.Create(ctx, req, nil, ids, nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := env.matcher.Match(ctx, req.ID); err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	var wg sync.WaitGroup
	moved := make([]int, 3)
	for i := range moved {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := env.dispatcher.Dispatch(ctx, req.ID)
			if err != nil {
				t.Errorf("Dispatch() error = %v", err)
			}
			moved[i] = n
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range moved {
		total += n
	}
	if total != len(ids) {
		t.Fatalf("moved total = %d, want %d", total, len(ids))
	}

	d := env.detail(req.ID)
	if len(d.RecipientsScheduled) != len(ids) || len(d.RecipientsToSchedule) != 0 {
		t.Fatalf("sets after racing dispatch = %+v", d)
	}
}

func TestCancelCompletesWithErrorAndIgnoresLateOutcomes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addRecipient("r1", false, "")
	env.addRule("always", "", "r1")

	sub := env.submit("corr-cancel", `{}`)
	if err := env.intake.Cancel(ctx, sub.Request.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := env.intake.Cancel(ctx, sub.Request.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Cancel() error = %v, want ErrConflict", err)
	}

	env.deliverAll()
	if env.sinks.count("r1") != 0 {
		t.Fatal("canceled delivery must not reach the sink")
	}

	d := env.detail(sub.Request.ID)
	if d.State != domain.StateCompleted || !d.Canceled || len(d.RecipientsScheduled) != 0 {
		t.Fatalf("canceled request = %+v", d)
	}

	ev := findEvent(t, env.statusEvents(), domain.NotifierStatusError)
	if ev.ErrorMessage != domain.CancelMessage {
		t.Fatalf("errorMessage = %q, want %q", ev.ErrorMessage, domain.CancelMessage)
	}

	retry := env.submit("corr-cancel", `{}`)
	if retry.Result != observability.RegistrationDuplicate {
		t.Fatalf("resubmit of canceled request = %s, want duplicate", retry.Result)
	}
}

func TestDeliveryToDeletedRecipientRecordsError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addRecipient("gone", false, "")
	env.addRule("always", "", "gone")

	sub := env.submit("corr-gone", `{}`)
	if err := env.recipients.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	env.deliverAll()

	errs, err := env.intake.ListRecipientErrors(ctx, sub.Request.ID, "")
	if err != nil || len(errs) != 1 || errs[0].Message != recipientNotFoundMessage {
		t.Fatalf("errors = %+v, %v", errs, err)
	}

	if _, err := env.completion.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	ev := findEvent(t, env.statusEvents(), domain.NotifierStatusError)
	if len(ev.Recipients) != 1 || ev.Recipients[0].Label != "gone" {
		t.Fatalf("recipients = %+v, want label falling back to the id", ev.Recipients)
	}
}

func TestDeliveryWithBrokenSinkRecordsError(t *testing.T) {
	env := newTestEnv(t)
	env.addRecipient("broken", false, `{"broken":true}`)
	env.addRule("always", "", "broken")

	sub := env.submit("corr-broken", `{}`)
	env.deliverAll()

	d := env.detail(sub.Request.ID)
	if len(d.RecipientsInError) != 1 {
		t.Fatalf("recipients in error = %v, want [broken]", d.RecipientsInError)
	}
	errs, _ := env.intake.ListRecipientErrors(context.Background(), sub.Request.ID, "broken")
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "sink misconfigured") {
		t.Fatalf("errors = %+v", errs)
	}
}

func TestDeliveryRateLimiterErrorRequeues(t *testing.T) {
	env := newTestEnv(t)
	env.addRecipient("r1", false, "")
	env.addRule("always", "", "r1")
	env.worker.rateLimiter = &fakeRateLimiter{
		waitFn: func(ctx context.Context, recipientID string) error {
			if recipientID != "r1" {
				t.Fatalf("recipientID = %q, want r1", recipientID)
			}
			return errors.New("redis down")
		},
	}

	sub := env.submit("corr-limited", `{}`)
	jobs := env.publisher.deliveries()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if err := env.worker.deliver(context.Background(), jobs[0]); err == nil {
		t.Fatal("deliver() should fail so the message is requeued")
	}
	if d := env.detail(sub.Request.ID); len(d.RecipientsScheduled) != 1 {
		t.Fatalf("recipient should stay scheduled, sets = %+v", d)
	}
}

func TestDeliveryWorkerProcessMessageRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)

	err := env.worker.processMessage(context.Background(), []byte(`{"requestId":""}`))
	if err == nil || !strings.Contains(err.Error(), "invalid message") {
		t.Fatalf("processMessage() error = %v, want invalid message", err)
	}
}
