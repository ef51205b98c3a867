package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notifier-engine/internal/domain"
	"github.com/kursadbilgin/notifier-engine/internal/service"
)

type RequestService interface {
	Submit(ctx context.Context, in service.InboundEvent) (*service.Submission, error)
	Get(ctx context.Context, id string) (*domain.NotificationRequest, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*domain.NotificationRequest, error)
	Cancel(ctx context.Context, id string) error
	ListRecipientErrors(ctx context.Context, id string, recipientID string) ([]domain.RecipientError, error)
}

type RequestHandler struct {
	service RequestService
}

func NewRequestHandler(service RequestService) (*RequestHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("request service is required")
	}
	return &RequestHandler{service: service}, nil
}

func RegisterRequestRoutes(router fiber.Router, service RequestService) error {
	h, err := NewRequestHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/requests", h.SubmitRequest)
	v1.Get("/requests", h.FindRequest)
	v1.Get("/requests/:id", h.GetRequest)
	v1.Post("/requests/:id/cancel", h.CancelRequest)
	v1.Get("/requests/:id/errors", h.ListRecipientErrors)

	return nil
}

type submitRequest struct {
	CorrelationID    string          `json:"correlationId"`
	RequestOwner     string          `json:"requestOwner"`
	RequestDate      *time.Time      `json:"requestDate,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	DirectRecipients []string        `json:"directRecipients,omitempty"`
}

type requestResponse struct {
	ID                   string          `json:"id"`
	CorrelationID        string          `json:"correlationId"`
	RequestOwner         string          `json:"requestOwner,omitempty"`
	State                string          `json:"state"`
	Canceled             bool            `json:"canceled"`
	Payload              json.RawMessage `json:"payload"`
	Metadata             json.RawMessage `json:"metadata,omitempty"`
	RequestDate          time.Time       `json:"requestDate"`
	CompletedAt          *time.Time      `json:"completedAt,omitempty"`
	RulesToMatch         []string        `json:"rulesToMatch"`
	RecipientsToSchedule []string        `json:"recipientsToSchedule"`
	RecipientsScheduled  []string        `json:"recipientsScheduled"`
	SuccessRecipients    []string        `json:"successRecipients"`
	RecipientsInError    []string        `json:"recipientsInError"`
	CreatedAt            time.Time       `json:"createdAt,omitempty"`
	UpdatedAt            time.Time       `json:"updatedAt,omitempty"`
}

type submitResponse struct {
	Result  string          `json:"result"`
	Request requestResponse `json:"request"`
}

type recipientErrorResponse struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SubmitRequest answers 201 for a new request and 200 when the correlation id
// was already registered.
func (h *RequestHandler) SubmitRequest(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	in := service.InboundEvent{
		CorrelationID:    strings.TrimSpace(req.CorrelationID),
		RequestOwner:     req.RequestOwner,
		RequestDate:      req.RequestDate,
		Payload:          req.Payload,
		Metadata:         req.Metadata,
		DirectRecipients: req.DirectRecipients,
	}
	if in.CorrelationID == "" {
		in.CorrelationID = requestCorrelationID(c)
	}

	sub, err := h.service.Submit(c.Context(), in)
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusOK
	if sub.Created() {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(submitResponse{
		Result:  sub.Result,
		Request: toRequestResponse(sub.Request),
	})
}

func (h *RequestHandler) GetRequest(c *fiber.Ctx) error {
	req, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRequestResponse(req))
}

// FindRequest looks a request up by the correlationId query parameter.
func (h *RequestHandler) FindRequest(c *fiber.Ctx) error {
	correlationID := strings.TrimSpace(c.Query("correlationId"))
	if correlationID == "" {
		return toHTTPError(fmt.Errorf("%w: correlationId query parameter is required", domain.ErrValidation))
	}

	req, err := h.service.GetByCorrelationID(c.Context(), correlationID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRequestResponse(req))
}

func (h *RequestHandler) CancelRequest(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"requestId": id,
		"state":     domain.StateCompleted.String(),
		"canceled":  true,
	})
}

func (h *RequestHandler) ListRecipientErrors(c *fiber.Ctx) error {
	errs, err := h.service.ListRecipientErrors(c.Context(), c.Params("id"), c.Query("recipientId"))
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]recipientErrorResponse, 0, len(errs))
	for _, e := range errs {
		out = append(out, recipientErrorResponse{
			ID:          e.ID,
			RecipientID: e.RecipientID,
			Message:     e.Message,
			CreatedAt:   e.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": out})
}

func toRequestResponse(r *domain.NotificationRequest) requestResponse {
	if r == nil {
		return requestResponse{}
	}

	return requestResponse{
		ID:                   r.ID,
		CorrelationID:        r.CorrelationID,
		RequestOwner:         r.RequestOwner,
		State:                r.State.String(),
		Canceled:             r.Canceled,
		Payload:              r.Payload,
		Metadata:             r.Metadata,
		RequestDate:          r.RequestDate,
		CompletedAt:          r.CompletedAt,
		RulesToMatch:         nonNil(r.RulesToMatch),
		RecipientsToSchedule: nonNil(r.RecipientsToSchedule),
		RecipientsScheduled:  nonNil(r.RecipientsScheduled),
		SuccessRecipients:    nonNil(r.SuccessRecipients),
		RecipientsInError:    nonNil(r.RecipientsInError),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}
