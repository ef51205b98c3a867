package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const MaxBusinessIDLength = 255

// Recipient is an addressable delivery sink.
type Recipient struct {
	BusinessID                string
	Label                     string
	PluginType                string
	PluginConfig              json.RawMessage
	DirectNotificationEnabled bool
	AckRequired               bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

func (r *Recipient) Validate() error {
	if strings.TrimSpace(r.BusinessID) == "" {
		return fmt.Errorf("%w: businessId is required", ErrValidation)
	}
	if len(r.BusinessID) > MaxBusinessIDLength {
		return fmt.Errorf("%w: businessId exceeds %d characters", ErrValidation, MaxBusinessIDLength)
	}
	if strings.TrimSpace(r.PluginType) == "" {
		return fmt.Errorf("%w: plugin type is required", ErrValidation)
	}
	if len(r.PluginConfig) > 0 && !json.Valid(r.PluginConfig) {
		return fmt.Errorf("%w: plugin config must be valid JSON", ErrValidation)
	}
	return nil
}

// RecipientError records one failed delivery of a request to a recipient.
// Rows are history: they outlive the recipient and are never updated.
type RecipientError struct {
	ID          string
	RequestID   string
	RecipientID string
	Message     string
	CreatedAt   time.Time
}
