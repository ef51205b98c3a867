package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notifier-engine/internal/domain"
)

type RuleService interface {
	List(ctx context.Context) ([]domain.Rule, error)
	Get(ctx context.Context, id string) (*domain.Rule, error)
	Create(ctx context.Context, rule *domain.Rule) error
	Update(ctx context.Context, rule *domain.Rule) error
	Delete(ctx context.Context, id string) error
}

type RuleHandler struct {
	service RuleService
}

func NewRuleHandler(service RuleService) (*RuleHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("rule service is required")
	}
	return &RuleHandler{service: service}, nil
}

func RegisterRuleRoutes(router fiber.Router, service RuleService) error {
	h, err := NewRuleHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/rules", h.ListRules)
	v1.Post("/rules", h.CreateRule)
	v1.Get("/rules/:id", h.GetRule)
	v1.Put("/rules/:id", h.UpdateRule)
	v1.Delete("/rules/:id", h.DeleteRule)

	return nil
}

type predicateBody struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

type ruleRequest struct {
	Name       string        `json:"name"`
	Predicate  predicateBody `json:"predicate"`
	Active     *bool         `json:"active,omitempty"`
	Recipients []string      `json:"recipients"`
}

type ruleResponse struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	Predicate  predicateBody `json:"predicate"`
	Active     bool          `json:"active"`
	Recipients []string      `json:"recipients"`
	CreatedAt  time.Time     `json:"createdAt,omitempty"`
	UpdatedAt  time.Time     `json:"updatedAt,omitempty"`
}

func (h *RuleHandler) ListRules(c *fiber.Ctx) error {
	rules, err := h.service.List(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]ruleResponse, 0, len(rules))
	for i := range rules {
		out = append(out, toRuleResponse(&rules[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": out})
}

func (h *RuleHandler) GetRule(c *fiber.Ctx) error {
	rule, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRuleResponse(rule))
}

func (h *RuleHandler) CreateRule(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	rule := requestToDomainRule(req)
	if err := h.service.Create(c.Context(), &rule); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toRuleResponse(&rule))
}

func (h *RuleHandler) UpdateRule(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	rule := requestToDomainRule(req)
	rule.ID = strings.TrimSpace(c.Params("id"))
	if err := h.service.Update(c.Context(), &rule); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRuleResponse(&rule))
}

func (h *RuleHandler) DeleteRule(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// requestToDomainRule defaults active to true when omitted.
func requestToDomainRule(req ruleRequest) domain.Rule {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return domain.Rule{
		Name:       req.Name,
		Predicate:  domain.PredicateRef{Type: req.Predicate.Type, Config: req.Predicate.Config},
		Active:     active,
		Recipients: req.Recipients,
	}
}

func toRuleResponse(r *domain.Rule) ruleResponse {
	if r == nil {
		return ruleResponse{}
	}
	return ruleResponse{
		ID:         r.ID,
		Name:       r.Name,
		Predicate:  predicateBody{Type: r.Predicate.Type, Config: r.Predicate.Config},
		Active:     r.Active,
		Recipients: nonNil(r.Recipients),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
