package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseStateFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    State
		wantErr bool
	}{
		{name: "valid uppercase", input: "SCHEDULED", want: StateScheduled},
		{name: "valid lowercase with spaces", input: " completed ", want: StateCompleted},
		{name: "matching state", input: "to_schedule_by_rules", want: StateToScheduleByRules},
		{name: "invalid", input: "unknown", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStateFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStateFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStateFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStateFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStateIsTerminal(t *testing.T) {
	t.Parallel()

	for _, st := range []State{StateCreated, StateToScheduleByRules, StateScheduled} {
		if st.IsTerminal() {
			t.Fatalf("%s should not be terminal", st)
		}
	}
	if !StateCompleted.IsTerminal() {
		t.Fatal("COMPLETED should be terminal")
	}
}

func TestMembershipIsOutstanding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		membership Membership
		want       bool
	}{
		{membership: MembershipToSchedule, want: true},
		{membership: MembershipScheduled, want: true},
		{membership: MembershipSuccess, want: false},
		{membership: MembershipError, want: false},
	}

	for _, tt := range tests {
		if got := tt.membership.IsOutstanding(); got != tt.want {
			t.Fatalf("%s.IsOutstanding() = %v, want %v", tt.membership, got, tt.want)
		}
	}
}

func TestNotificationRequestValidate(t *testing.T) {
	t.Parallel()

	base := NotificationRequest{
		CorrelationID: "req-1",
		RequestOwner:  "ingest",
		Payload:       json.RawMessage(`{"type":"AIP","session":"s1"}`),
	}

	tests := []struct {
		name    string
		mutate  func(*NotificationRequest)
		wantErr bool
	}{
		{
			name:   "valid request",
			mutate: func(r *NotificationRequest) {},
		},
		{
			name: "missing correlation id",
			mutate: func(r *NotificationRequest) {
				r.CorrelationID = "  "
			},
			wantErr: true,
		},
		{
			name: "correlation id too long",
			mutate: func(r *NotificationRequest) {
				r.CorrelationID = strings.Repeat("c", MaxCorrelationIDLength+1)
			},
			wantErr: true,
		},
		{
			name: "missing payload",
			mutate: func(r *NotificationRequest) {
				r.Payload = nil
			},
			wantErr: true,
		},
		{
			name: "payload is not an object",
			mutate: func(r *NotificationRequest) {
				r.Payload = json.RawMessage(`[1,2,3]`)
			},
			wantErr: true,
		},
		{
			name: "null payload",
			mutate: func(r *NotificationRequest) {
				r.Payload = json.RawMessage(`null`)
			},
			wantErr: true,
		},
		{
			name: "metadata must be an object when set",
			mutate: func(r *NotificationRequest) {
				r.Metadata = json.RawMessage(`"text"`)
			},
			wantErr: true,
		},
		{
			name: "owner too long",
			mutate: func(r *NotificationRequest) {
				r.RequestOwner = strings.Repeat("o", MaxRequestOwnerLength+1)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestNotificationRequestOutstandingWork(t *testing.T) {
	t.Parallel()

	r := NotificationRequest{SuccessRecipients: []string{"a"}, RecipientsInError: []string{"b"}}
	if r.HasOutstandingWork() {
		t.Fatal("terminal memberships only should not be outstanding work")
	}

	r.RecipientsScheduled = []string{"c"}
	if !r.HasOutstandingWork() {
		t.Fatal("scheduled recipient should be outstanding work")
	}

	r = NotificationRequest{RulesToMatch: []string{"rule-1"}}
	if r.IsMatchingDone() {
		t.Fatal("matching should not be done while rules remain")
	}
}

func TestDeliveryOutcomeValidate(t *testing.T) {
	t.Parallel()

	outcome := DeliveryOutcome{RequestID: "r1", RecipientID: "mail", Kind: OutcomeError, Message: "503"}
	if err := outcome.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}
	if outcome.Kind.Membership() != MembershipError {
		t.Fatalf("Membership() = %s, want ERROR", outcome.Kind.Membership())
	}

	outcome.Kind = OutcomeKind("MAYBE")
	if err := outcome.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}

func TestCompletionSummaryStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		summary CompletionSummary
		want    NotifierStatus
	}{
		{name: "no recipients", summary: CompletionSummary{}, want: NotifierStatusSuccess},
		{name: "all succeeded", summary: CompletionSummary{SuccessRecipients: []string{"a", "b"}}, want: NotifierStatusSuccess},
		{name: "partial failure", summary: CompletionSummary{SuccessRecipients: []string{"a"}, ErrorRecipients: []string{"b"}}, want: NotifierStatusError},
		{name: "canceled", summary: CompletionSummary{Canceled: true}, want: NotifierStatusError},
	}

	for _, tt := range tests {
		if got := tt.summary.Status(); got != tt.want {
			t.Fatalf("%s: Status() = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestRuleAndRecipientValidate(t *testing.T) {
	t.Parallel()

	rule := Rule{Predicate: PredicateRef{Type: "cel", Config: json.RawMessage(`{"expression":"true"}`)}, Recipients: []string{"a", "b"}}
	if err := rule.Validate(); err != nil {
		t.Fatalf("Rule.Validate() unexpected error = %v", err)
	}
	rule.Recipients = []string{"a", "a"}
	if err := rule.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Rule.Validate() error = %v, want ErrValidation for duplicate recipient", err)
	}

	recipient := Recipient{BusinessID: "mail", PluginType: "webhook"}
	if err := recipient.Validate(); err != nil {
		t.Fatalf("Recipient.Validate() unexpected error = %v", err)
	}
	recipient.PluginConfig = json.RawMessage(`{broken`)
	if err := recipient.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Recipient.Validate() error = %v, want ErrValidation for bad config", err)
	}
}

func TestCompletionSummaryEvent(t *testing.T) {
	t.Parallel()

	summary := CompletionSummary{
		CorrelationID:     "c1",
		RequestOwner:      "ingest",
		SuccessRecipients: []string{"r1", "r2"},
		ErrorRecipients:   []string{"r3"},
		LatestErrors:      map[string]string{"r3": "503 from sink"},
		Info: map[string]RecipientInfo{
			"r1": {Label: "archive", AckRequired: true},
			"r3": {Label: "mailer"},
		},
	}

	event := summary.Event(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if event.Status != NotifierStatusError {
		t.Fatalf("Status = %s, want ERROR", event.Status)
	}
	if event.ErrorMessage != "r3: 503 from sink" {
		t.Fatalf("ErrorMessage = %q", event.ErrorMessage)
	}
	if len(event.Recipients) != 3 {
		t.Fatalf("Recipients len = %d, want 3", len(event.Recipients))
	}

	want := []RecipientReport{
		{Label: "archive", Status: NotifierStatusSuccess, AckRequired: true},
		{Label: "mailer", Status: NotifierStatusError},
		{Label: "r2", Status: NotifierStatusSuccess},
	}
	for i := range want {
		if event.Recipients[i] != want[i] {
			t.Fatalf("Recipients[%d] = %+v, want %+v", i, event.Recipients[i], want[i])
		}
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}
}

func TestCanceledSummaryMessage(t *testing.T) {
	t.Parallel()

	summary := CompletionSummary{CorrelationID: "c1", Canceled: true}
	if summary.ErrorMessage() != CancelMessage {
		t.Fatalf("ErrorMessage() = %q, want %q", summary.ErrorMessage(), CancelMessage)
	}
}
