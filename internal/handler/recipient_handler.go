package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notifier-engine/internal/domain"
)

type RecipientService interface {
	FindRecipients(ctx context.Context, direct *bool) ([]domain.Recipient, error)
	Get(ctx context.Context, businessID string) (*domain.Recipient, error)
	Upsert(ctx context.Context, recipient *domain.Recipient) error
	Delete(ctx context.Context, businessID string) error
}

type RecipientHandler struct {
	service RecipientService
}

func NewRecipientHandler(service RecipientService) (*RecipientHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("recipient service is required")
	}
	return &RecipientHandler{service: service}, nil
}

func RegisterRecipientRoutes(router fiber.Router, service RecipientService) error {
	h, err := NewRecipientHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/recipients", h.ListRecipients)
	v1.Get("/recipients/:id", h.GetRecipient)
	v1.Put("/recipients/:id", h.PutRecipient)
	v1.Delete("/recipients/:id", h.DeleteRecipient)

	return nil
}

type recipientRequest struct {
	Label                     string          `json:"label"`
	PluginType                string          `json:"pluginType"`
	PluginConfig              json.RawMessage `json:"pluginConfig,omitempty"`
	DirectNotificationEnabled bool            `json:"directNotificationEnabled"`
	AckRequired               bool            `json:"ackRequired"`
}

type recipientResponse struct {
	BusinessID                string          `json:"businessId"`
	Label                     string          `json:"label,omitempty"`
	PluginType                string          `json:"pluginType"`
	PluginConfig              json.RawMessage `json:"pluginConfig,omitempty"`
	DirectNotificationEnabled bool            `json:"directNotificationEnabled"`
	AckRequired               bool            `json:"ackRequired"`
	CreatedAt                 time.Time       `json:"createdAt,omitempty"`
	UpdatedAt                 time.Time       `json:"updatedAt,omitempty"`
}

// ListRecipients accepts ?direct=true|false to filter on direct notification.
func (h *RecipientHandler) ListRecipients(c *fiber.Ctx) error {
	var direct *bool
	if raw := strings.TrimSpace(c.Query("direct")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return toHTTPError(fmt.Errorf("%w: direct must be true or false", domain.ErrValidation))
		}
		direct = &v
	}

	recipients, err := h.service.FindRecipients(c.Context(), direct)
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]recipientResponse, 0, len(recipients))
	for i := range recipients {
		out = append(out, toRecipientResponse(&recipients[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": out})
}

func (h *RecipientHandler) GetRecipient(c *fiber.Ctx) error {
	recipient, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRecipientResponse(recipient))
}

// PutRecipient creates or replaces the recipient named in the path.
func (h *RecipientHandler) PutRecipient(c *fiber.Ctx) error {
	var req recipientRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	recipient := domain.Recipient{
		BusinessID:                c.Params("id"),
		Label:                     req.Label,
		PluginType:                req.PluginType,
		PluginConfig:              req.PluginConfig,
		DirectNotificationEnabled: req.DirectNotificationEnabled,
		AckRequired:               req.AckRequired,
	}
	if err := h.service.Upsert(c.Context(), &recipient); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRecipientResponse(&recipient))
}

func (h *RecipientHandler) DeleteRecipient(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toRecipientResponse(r *domain.Recipient) recipientResponse {
	if r == nil {
		return recipientResponse{}
	}
	return recipientResponse{
		BusinessID:                r.BusinessID,
		Label:                     r.Label,
		PluginType:                r.PluginType,
		PluginConfig:              r.PluginConfig,
		DirectNotificationEnabled: r.DirectNotificationEnabled,
		AckRequired:               r.AckRequired,
		CreatedAt:                 r.CreatedAt,
		UpdatedAt:                 r.UpdatedAt,
	}
}
