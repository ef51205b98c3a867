package queue

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notifier-engine/internal/domain"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 4 {
		t.Fatalf("WorkQueueNames len = %d, want 4", len(work))
	}

	expectedDLQ := map[string]struct{}{
		"dlq.notifier.requests":   {},
		"dlq.notifier.deliveries": {},
		"dlq.notifier.outcomes":   {},
		"dlq.notifier.status":     {},
	}

	dlq := DLQNames()
	if len(dlq) != len(expectedDLQ) {
		t.Fatalf("DLQNames len = %d, want %d", len(dlq), len(expectedDLQ))
	}
	for _, name := range dlq {
		if _, ok := expectedDLQ[name]; !ok {
			t.Fatalf("unexpected dlq name: %s", name)
		}
	}

	work[0] = "mutated"
	if WorkQueueNames()[0] != RequestsQueue {
		t.Fatal("WorkQueueNames must return a copy")
	}
}

func TestDecode(t *testing.T) {
	requestID := uuid.NewString()
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"requestId":"` + requestID + `","recipientId":"mail"}`},
		{name: "malformed json", body: `{"requestId":`, wantErr: true},
		{name: "missing recipient", body: `{"requestId":"` + requestID + `"}`, wantErr: true},
		{name: "missing request id", body: `{"recipientId":"mail"}`, wantErr: true},
		{name: "request id not a uuid", body: `{"requestId":"x","recipientId":"mail"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode[DeliveryMessage]([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMessage) {
					t.Fatalf("Decode() error = %v, want ErrInvalidMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() unexpected error: %v", err)
			}
			if msg.RequestID != requestID || msg.RecipientID != "mail" {
				t.Fatalf("Decode() = %+v", msg)
			}
		})
	}
}

func TestOutcomeMessageValidate(t *testing.T) {
	msg := OutcomeMessage{RequestID: uuid.NewString(), RecipientID: "mail", Status: domain.OutcomeSuccess}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.Status = domain.OutcomeKind("LATER")
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for invalid status")
	}
}

func TestDecodeOutcomeRejectsMalformedRequestID(t *testing.T) {
	_, err := Decode[OutcomeMessage]([]byte(`{"requestId":"not-a-uuid","recipientId":"mail","status":"SUCCESS"}`))
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("Decode() error = %v, want ErrInvalidMessage", err)
	}
}

func TestInboundMessageValidate(t *testing.T) {
	msg := InboundMessage{CorrelationID: "c1", Payload: json.RawMessage(`{"a":1}`)}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.CorrelationID = " "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty correlation id")
	}
}

func TestRawMessageMarshalsBodyVerbatim(t *testing.T) {
	msg := RawMessage{ID: "e1", CorrelationID: "c1", Body: []byte(`{"status":"SUCCESS"}`)}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %v", err)
	}
	if string(out) != `{"status":"SUCCESS"}` {
		t.Fatalf("Marshal() = %s", out)
	}

	id, corr := msg.Identity()
	if id != "e1" || corr != "c1" {
		t.Fatalf("Identity() = %s, %s", id, corr)
	}

	if err := (RawMessage{Body: []byte("nope")}).Validate(); err == nil {
		t.Fatal("expected error for non JSON body")
	}
}
