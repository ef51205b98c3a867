package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CancelMessage is the error message announced for canceled requests.
const CancelMessage = "request canceled"

// NotifierStatus is the status announced to producers on the status bus.
type NotifierStatus string

const (
	NotifierStatusGranted NotifierStatus = "GRANTED"
	NotifierStatusDenied  NotifierStatus = "DENIED"
	NotifierStatusSuccess NotifierStatus = "SUCCESS"
	NotifierStatusError   NotifierStatus = "ERROR"
)

func (s NotifierStatus) String() string { return string(s) }

func (s NotifierStatus) IsValid() bool {
	switch s {
	case NotifierStatusGranted, NotifierStatusDenied, NotifierStatusSuccess, NotifierStatusError:
		return true
	}
	return false
}

func (s NotifierStatus) IsTerminal() bool {
	return s == NotifierStatusSuccess || s == NotifierStatusError
}

// RecipientReport describes the final outcome of one labelled recipient.
type RecipientReport struct {
	Label       string         `json:"label"`
	Status      NotifierStatus `json:"status"`
	AckRequired bool           `json:"ackRequired"`
}

// StatusEvent is published for every accepted, denied and completed request.
type StatusEvent struct {
	CorrelationID string            `json:"correlationId"`
	RequestOwner  string            `json:"requestOwner,omitempty"`
	Status        NotifierStatus    `json:"status"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	Recipients    []RecipientReport `json:"recipients,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

func (e StatusEvent) Validate() error {
	if strings.TrimSpace(e.CorrelationID) == "" {
		return fmt.Errorf("%w: correlationId is required", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.Status)
	}
	return nil
}

// CompletionSummary holds what the terminal event of one request is built from.
type CompletionSummary struct {
	RequestID         string
	CorrelationID     string
	RequestOwner      string
	Canceled          bool
	SuccessRecipients []string
	ErrorRecipients   []string
	// LatestErrors maps failed recipient ids to their most recent error message.
	LatestErrors map[string]string
	// Info holds label and ack flag of recipients that still exist.
	Info map[string]RecipientInfo
}

// RecipientInfo holds the recipient attributes echoed in status events.
type RecipientInfo struct {
	Label       string
	AckRequired bool
}

// Status classifies a completed request.
func (s CompletionSummary) Status() NotifierStatus {
	if s.Canceled || len(s.ErrorRecipients) > 0 {
		return NotifierStatusError
	}
	return NotifierStatusSuccess
}

// ErrorMessage aggregates the latest error of every failed recipient.
func (s CompletionSummary) ErrorMessage() string {
	parts := make([]string, 0, len(s.ErrorRecipients)+1)
	if s.Canceled {
		parts = append(parts, CancelMessage)
	}
	failed := append([]string(nil), s.ErrorRecipients...)
	sort.Strings(failed)
	for _, id := range failed {
		msg := s.LatestErrors[id]
		if msg == "" {
			msg = "delivery failed"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", id, msg))
	}
	return strings.Join(parts, "; ")
}

// Event builds the terminal status event of the request.
func (s CompletionSummary) Event(at time.Time) StatusEvent {
	reports := make([]RecipientReport, 0, len(s.SuccessRecipients)+len(s.ErrorRecipients))
	reports = s.appendReports(reports, s.SuccessRecipients, NotifierStatusSuccess)
	reports = s.appendReports(reports, s.ErrorRecipients, NotifierStatusError)
	sort.Slice(reports, func(i, j int) bool { return reports[i].Label < reports[j].Label })

	return StatusEvent{
		CorrelationID: s.CorrelationID,
		RequestOwner:  s.RequestOwner,
		Status:        s.Status(),
		ErrorMessage:  s.ErrorMessage(),
		Recipients:    reports,
		Timestamp:     at.UTC(),
	}
}

func (s CompletionSummary) appendReports(dst []RecipientReport, ids []string, status NotifierStatus) []RecipientReport {
	for _, id := range ids {
		report := RecipientReport{Label: id, Status: status}
		if info, ok := s.Info[id]; ok {
			if info.Label != "" {
				report.Label = info.Label
			}
			report.AckRequired = info.AckRequired
		}
		dst = append(dst, report)
	}
	return dst
}

// GrantedEvent announces that a request was accepted for processing.
func GrantedEvent(r *NotificationRequest, at time.Time) StatusEvent {
	return StatusEvent{
		CorrelationID: r.CorrelationID,
		RequestOwner:  r.RequestOwner,
		Status:        NotifierStatusGranted,
		Timestamp:     at.UTC(),
	}
}

// DeniedEvent announces that a request was refused at registration.
func DeniedEvent(correlationID, owner, reason string, at time.Time) StatusEvent {
	return StatusEvent{
		CorrelationID: correlationID,
		RequestOwner:  owner,
		Status:        NotifierStatusDenied,
		ErrorMessage:  reason,
		Timestamp:     at.UTC(),
	}
}

// OutboxEvent is a status event waiting to be published.
type OutboxEvent struct {
	ID            string
	Queue         string
	CorrelationID string
	Payload       []byte
	Attempts      int
	LastError     *string
	PublishedAt   *time.Time
	CreatedAt     time.Time
}
