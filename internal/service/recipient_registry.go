package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/plugin"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"go.uber.org/zap"
)

// RecipientRegistry manages the recipients requests can be delivered to.
type RecipientRegistry struct {
	recipients repository.RecipientRepository
	plugins    *plugin.Registry
	logger     *zap.Logger
}

func NewRecipientRegistry(
	recipients repository.RecipientRepository,
	plugins *plugin.Registry,
	logger *zap.Logger,
) (*RecipientRegistry, error) {
	if recipients == nil {
		return nil, fmt.Errorf("recipient repository is required")
	}
	if plugins == nil {
		return nil, fmt.Errorf("plugin registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecipientRegistry{
		recipients: recipients,
		plugins:    plugins,
		logger:     logger,
	}, nil
}

// FindRecipients lists every recipient, or only direct-enabled (direct=true)
// or rule-only (direct=false) ones.
func (s *RecipientRegistry) FindRecipients(ctx context.Context, direct *bool) ([]domain.Recipient, error) {
	return s.recipients.List(ctx, direct)
}

func (s *RecipientRegistry) Get(ctx context.Context, businessID string) (*domain.Recipient, error) {
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return nil, fmt.Errorf("%w: recipient id is required", domain.ErrValidation)
	}
	return s.recipients.GetByID(ctx, businessID)
}

// Upsert creates or replaces the recipient with the same business id. The
// sink configuration is checked by building the sink once.
func (s *RecipientRegistry) Upsert(ctx context.Context, recipient *domain.Recipient) error {
	if recipient == nil {
		return fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}
	recipient.BusinessID = strings.TrimSpace(recipient.BusinessID)
	recipient.Label = strings.TrimSpace(recipient.Label)
	recipient.PluginType = strings.ToLower(strings.TrimSpace(recipient.PluginType))
	if err := recipient.Validate(); err != nil {
		return err
	}

	if _, err := s.plugins.NewSink(*recipient); err != nil {
		if errors.Is(err, plugin.ErrUnknownType) {
			return fmt.Errorf("%w: %v (known: %s)", domain.ErrValidation, err, strings.Join(s.plugins.SinkTypes(), ", "))
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if err := s.recipients.Upsert(ctx, recipient); err != nil {
		return err
	}
	s.logger.Info("recipient saved",
		zap.String("recipientId", recipient.BusinessID),
		zap.String("sink", recipient.PluginType),
		zap.Bool("direct", recipient.DirectNotificationEnabled),
	)
	return nil
}

// Delete removes the recipient and its rule links. Request memberships and
// recipient errors referencing it are kept.
func (s *RecipientRegistry) Delete(ctx context.Context, businessID string) error {
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return fmt.Errorf("%w: recipient id is required", domain.ErrValidation)
	}
	if err := s.recipients.Delete(ctx, businessID); err != nil {
		return err
	}
	s.logger.Info("recipient deleted", zap.String("recipientId", businessID))
	return nil
}
