package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notifier-engine/internal/domain"
)

// InboundMessage is a notification request submitted by a producer.
type InboundMessage struct {
	CorrelationID    string          `json:"correlationId"`
	RequestOwner     string          `json:"requestOwner,omitempty"`
	RequestDate      *time.Time      `json:"requestDate,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	DirectRecipients []string        `json:"directRecipients,omitempty"`
}

func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.CorrelationID) == "" {
		return fmt.Errorf("correlationId is required")
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}

func (m InboundMessage) Identity() (string, string) {
	return m.CorrelationID, m.CorrelationID
}

// DeliveryMessage asks a delivery worker to send one request to one recipient.
type DeliveryMessage struct {
	RequestID     string    `json:"requestId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	RecipientID   string    `json:"recipientId"`
	DispatchedAt  time.Time `json:"dispatchedAt"`
}

func (m DeliveryMessage) Validate() error {
	if err := validateRequestID(m.RequestID); err != nil {
		return err
	}
	if strings.TrimSpace(m.RecipientID) == "" {
		return fmt.Errorf("recipientId is required")
	}
	return nil
}

func (m DeliveryMessage) Identity() (string, string) {
	return m.RequestID + ":" + m.RecipientID, m.CorrelationID
}

// OutcomeMessage reports the asynchronous result of a delivery.
type OutcomeMessage struct {
	RequestID   string             `json:"requestId"`
	RecipientID string             `json:"recipientId"`
	Status      domain.OutcomeKind `json:"status"`
	Message     string             `json:"message,omitempty"`
}

func (m OutcomeMessage) Validate() error {
	if err := validateRequestID(m.RequestID); err != nil {
		return err
	}
	return m.Outcome().Validate()
}

func (m OutcomeMessage) Identity() (string, string) {
	return m.RequestID + ":" + m.RecipientID, ""
}

func (m OutcomeMessage) Outcome() domain.DeliveryOutcome {
	return domain.DeliveryOutcome{
		RequestID:   m.RequestID,
		RecipientID: m.RecipientID,
		Kind:        m.Status,
		Message:     m.Message,
	}
}

// RawMessage publishes an already encoded JSON body as is.
type RawMessage struct {
	ID            string
	CorrelationID string
	Body          []byte
}

func (m RawMessage) Validate() error {
	if !json.Valid(m.Body) {
		return fmt.Errorf("body must be valid JSON")
	}
	return nil
}

func (m RawMessage) Identity() (string, string) {
	return m.ID, m.CorrelationID
}

func (m RawMessage) MarshalJSON() ([]byte, error) {
	return m.Body, nil
}

// validateRequestID rejects ids the store could never match, so they are
// dead-lettered instead of failing the store call.
func validateRequestID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("requestId is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("requestId %q is not a valid uuid", id)
	}
	return nil
}
