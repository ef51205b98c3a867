package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State represents the lifecycle state of a notification request.
type State string

const (
	StateCreated           State = "CREATED"
	StateToScheduleByRules State = "TO_SCHEDULE_BY_RULES"
	StateScheduled         State = "SCHEDULED"
	StateCompleted         State = "COMPLETED"
	// StateError is accepted when reading stored requests but never assigned:
	// failures are tracked per recipient and a failed request still completes.
	StateError State = "ERROR"
)

func (s State) String() string { return string(s) }

func (s State) IsValid() bool {
	switch s {
	case StateCreated, StateToScheduleByRules, StateScheduled, StateCompleted, StateError:
		return true
	}
	return false
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateError
}

func ParseStateFromString(s string) (State, error) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid state %q", ErrValidation, s)
	}
	return st, nil
}

// Membership names the recipient set a recipient currently belongs to for a
// given request. A recipient has at most one membership per request.
type Membership string

const (
	MembershipToSchedule Membership = "TO_SCHEDULE"
	MembershipScheduled  Membership = "SCHEDULED"
	MembershipSuccess    Membership = "SUCCESS"
	MembershipError      Membership = "ERROR"
)

func (m Membership) String() string { return string(m) }

func (m Membership) IsValid() bool {
	switch m {
	case MembershipToSchedule, MembershipScheduled, MembershipSuccess, MembershipError:
		return true
	}
	return false
}

// IsOutstanding reports whether the recipient still has delivery work pending.
func (m Membership) IsOutstanding() bool {
	return m == MembershipToSchedule || m == MembershipScheduled
}

// OutstandingMemberships lists memberships that block request completion.
func OutstandingMemberships() []Membership {
	return []Membership{MembershipToSchedule, MembershipScheduled}
}

const (
	MaxCorrelationIDLength = 255
	MaxRequestOwnerLength  = 128
)

// NotificationRequest is one inbound business event and its fan-out progress.
type NotificationRequest struct {
	ID            string
	CorrelationID string
	RequestOwner  string
	Payload       json.RawMessage
	Metadata      json.RawMessage
	State         State
	Canceled      bool
	RequestDate   time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Set views, only populated by detail reads.
	RulesToMatch         []string
	RecipientsToSchedule []string
	RecipientsScheduled  []string
	SuccessRecipients    []string
	RecipientsInError    []string
}

func (r *NotificationRequest) Validate() error {
	if strings.TrimSpace(r.CorrelationID) == "" {
		return fmt.Errorf("%w: correlationId is required", ErrValidation)
	}
	if len(r.CorrelationID) > MaxCorrelationIDLength {
		return fmt.Errorf("%w: correlationId exceeds %d characters", ErrValidation, MaxCorrelationIDLength)
	}
	if len(r.RequestOwner) > MaxRequestOwnerLength {
		return fmt.Errorf("%w: requestOwner exceeds %d characters", ErrValidation, MaxRequestOwnerLength)
	}
	if err := validateJSONObject(r.Payload, "payload", true); err != nil {
		return err
	}
	if err := validateJSONObject(r.Metadata, "metadata", false); err != nil {
		return err
	}
	return nil
}

// IsMatchingDone reports whether every rule has been evaluated.
func (r *NotificationRequest) IsMatchingDone() bool {
	return len(r.RulesToMatch) == 0
}

// HasOutstandingWork reports whether matching or delivery is still pending,
// based on the populated set views.
func (r *NotificationRequest) HasOutstandingWork() bool {
	return len(r.RulesToMatch) > 0 || len(r.RecipientsToSchedule) > 0 || len(r.RecipientsScheduled) > 0
}

// OutcomeKind is the result of one delivery attempt.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "SUCCESS"
	OutcomeError   OutcomeKind = "ERROR"
)

func (k OutcomeKind) IsValid() bool {
	return k == OutcomeSuccess || k == OutcomeError
}

// Membership returns the terminal membership an outcome moves a recipient to.
func (k OutcomeKind) Membership() Membership {
	if k == OutcomeSuccess {
		return MembershipSuccess
	}
	return MembershipError
}

// DeliveryOutcome is the reported result of delivering a request to a recipient.
type DeliveryOutcome struct {
	RequestID   string
	RecipientID string
	Kind        OutcomeKind
	Message     string
	At          time.Time
}

func (o DeliveryOutcome) Validate() error {
	if strings.TrimSpace(o.RequestID) == "" {
		return fmt.Errorf("%w: requestId is required", ErrValidation)
	}
	if strings.TrimSpace(o.RecipientID) == "" {
		return fmt.Errorf("%w: recipientId is required", ErrValidation)
	}
	if !o.Kind.IsValid() {
		return fmt.Errorf("%w: invalid outcome %q", ErrValidation, o.Kind)
	}
	return nil
}

func validateJSONObject(raw json.RawMessage, field string, required bool) error {
	if len(raw) == 0 {
		if required {
			return fmt.Errorf("%w: %s is required", ErrValidation, field)
		}
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("%w: %s must be a JSON object", ErrValidation, field)
	}
	if obj == nil && required {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	return nil
}
