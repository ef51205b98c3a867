package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"gorm.io/datatypes"
)

// RequestModel is the persistence model for the notification_requests table.
type RequestModel struct {
	ID            string         `gorm:"type:uuid;primaryKey"`
	CorrelationID string         `gorm:"type:varchar(255);not null"`
	RequestOwner  string         `gorm:"type:varchar(128);not null;default:''"`
	Payload       datatypes.JSON `gorm:"not null"`
	Metadata      datatypes.JSON
	State         domain.State `gorm:"type:varchar(32);not null"`
	Canceled      bool         `gorm:"not null;default:false"`
	RequestDate   time.Time    `gorm:"not null"`
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (RequestModel) TableName() string {
	return "notification_requests"
}

// RequestRuleModel is one rule still to be evaluated for a request.
type RequestRuleModel struct {
	RequestID string `gorm:"type:uuid;primaryKey"`
	RuleID    string `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
}

func (RequestRuleModel) TableName() string {
	return "request_rules_to_match"
}

// RequestRecipientModel places a recipient in exactly one set of a request.
type RequestRecipientModel struct {
	RequestID   string            `gorm:"type:uuid;primaryKey"`
	RecipientID string            `gorm:"type:varchar(255);primaryKey"`
	Membership  domain.Membership `gorm:"type:varchar(16);not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (RequestRecipientModel) TableName() string {
	return "request_recipients"
}

// RuleModel is the persistence model for rules.
type RuleModel struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	Name            string         `gorm:"type:varchar(255);not null;default:''"`
	PredicateType   string         `gorm:"type:varchar(64);not null"`
	PredicateConfig datatypes.JSON
	Active          bool `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (RuleModel) TableName() string {
	return "rules"
}

// RuleRecipientModel links a rule to a recipient.
type RuleRecipientModel struct {
	RuleID      string `gorm:"type:uuid;primaryKey"`
	RecipientID string `gorm:"type:varchar(255);primaryKey"`
}

func (RuleRecipientModel) TableName() string {
	return "rule_recipients"
}

// RecipientModel is the persistence model for recipients.
type RecipientModel struct {
	BusinessID                string `gorm:"type:varchar(255);primaryKey"`
	Label                     string `gorm:"type:varchar(255);not null;default:''"`
	PluginType                string `gorm:"type:varchar(64);not null"`
	PluginConfig              datatypes.JSON
	DirectNotificationEnabled bool `gorm:"not null;default:false"`
	AckRequired               bool `gorm:"not null;default:false"`
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

func (RecipientModel) TableName() string {
	return "recipients"
}

// RecipientErrorModel is the persistence model for recipient_errors.
type RecipientErrorModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	RequestID   string `gorm:"type:uuid;not null"`
	RecipientID string `gorm:"type:varchar(255);not null"`
	Message     string `gorm:"type:text;not null"`
	CreatedAt   time.Time
}

func (RecipientErrorModel) TableName() string {
	return "recipient_errors"
}

// OutboxEventModel is the persistence model for outbox_events.
type OutboxEventModel struct {
	ID            string         `gorm:"type:uuid;primaryKey"`
	Queue         string         `gorm:"type:varchar(128);not null"`
	CorrelationID string         `gorm:"type:varchar(255);not null"`
	Payload       datatypes.JSON `gorm:"not null"`
	Attempts      int            `gorm:"not null;default:0"`
	LastError     *string        `gorm:"type:text"`
	PublishedAt   *time.Time
	CreatedAt     time.Time
}

func (OutboxEventModel) TableName() string {
	return "outbox_events"
}

func requestModelFromDomain(r *domain.NotificationRequest) *RequestModel {
	if r == nil {
		return nil
	}

	return &RequestModel{
		ID:            r.ID,
		CorrelationID: r.CorrelationID,
		RequestOwner:  r.RequestOwner,
		Payload:       datatypes.JSON(r.Payload),
		Metadata:      jsonOrNil(r.Metadata),
		State:         r.State,
		Canceled:      r.Canceled,
		RequestDate:   r.RequestDate,
		CompletedAt:   r.CompletedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func requestModelToDomain(m *RequestModel) *domain.NotificationRequest {
	if m == nil {
		return nil
	}

	return &domain.NotificationRequest{
		ID:            m.ID,
		CorrelationID: m.CorrelationID,
		RequestOwner:  m.RequestOwner,
		Payload:       json.RawMessage(m.Payload),
		Metadata:      rawOrNil(m.Metadata),
		State:         m.State,
		Canceled:      m.Canceled,
		RequestDate:   m.RequestDate,
		CompletedAt:   m.CompletedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func ruleModelFromDomain(r *domain.Rule) *RuleModel {
	if r == nil {
		return nil
	}

	return &RuleModel{
		ID:              r.ID,
		Name:            r.Name,
		PredicateType:   r.Predicate.Type,
		PredicateConfig: jsonOrNil(r.Predicate.Config),
		Active:          r.Active,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func ruleModelToDomain(m *RuleModel, recipients []string) *domain.Rule {
	if m == nil {
		return nil
	}

	return &domain.Rule{
		ID:   m.ID,
		Name: m.Name,
		Predicate: domain.PredicateRef{
			Type:   m.PredicateType,
			Config: rawOrNil(m.PredicateConfig),
		},
		Active:     m.Active,
		Recipients: recipients,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func recipientModelFromDomain(r *domain.Recipient) *RecipientModel {
	if r == nil {
		return nil
	}

	return &RecipientModel{
		BusinessID:                r.BusinessID,
		Label:                     r.Label,
		PluginType:                r.PluginType,
		PluginConfig:              jsonOrNil(r.PluginConfig),
		DirectNotificationEnabled: r.DirectNotificationEnabled,
		AckRequired:               r.AckRequired,
		CreatedAt:                 r.CreatedAt,
		UpdatedAt:                 r.UpdatedAt,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		BusinessID:                m.BusinessID,
		Label:                     m.Label,
		PluginType:                m.PluginType,
		PluginConfig:              rawOrNil(m.PluginConfig),
		DirectNotificationEnabled: m.DirectNotificationEnabled,
		AckRequired:               m.AckRequired,
		CreatedAt:                 m.CreatedAt,
		UpdatedAt:                 m.UpdatedAt,
	}
}

func recipientErrorModelToDomain(m *RecipientErrorModel) *domain.RecipientError {
	if m == nil {
		return nil
	}

	return &domain.RecipientError{
		ID:          m.ID,
		RequestID:   m.RequestID,
		RecipientID: m.RecipientID,
		Message:     m.Message,
		CreatedAt:   m.CreatedAt,
	}
}

func outboxModelFromDomain(e *domain.OutboxEvent) *OutboxEventModel {
	if e == nil {
		return nil
	}

	return &OutboxEventModel{
		ID:            e.ID,
		Queue:         e.Queue,
		CorrelationID: e.CorrelationID,
		Payload:       datatypes.JSON(e.Payload),
		Attempts:      e.Attempts,
		LastError:     e.LastError,
		PublishedAt:   e.PublishedAt,
		CreatedAt:     e.CreatedAt,
	}
}

func outboxModelToDomain(m *OutboxEventModel) *domain.OutboxEvent {
	if m == nil {
		return nil
	}

	return &domain.OutboxEvent{
		ID:            m.ID,
		Queue:         m.Queue,
		CorrelationID: m.CorrelationID,
		Payload:       []byte(m.Payload),
		Attempts:      m.Attempts,
		LastError:     m.LastError,
		PublishedAt:   m.PublishedAt,
		CreatedAt:     m.CreatedAt,
	}
}

func jsonOrNil(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}

func rawOrNil(j datatypes.JSON) json.RawMessage {
	if len(j) == 0 {
		return nil
	}
	return json.RawMessage(j)
}
