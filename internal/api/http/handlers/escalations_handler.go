package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/inquiry-router/internal/api/dto"
	"github.com/spec-kit/inquiry-router/internal/escalation"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// EscalationsHandler manages supervisory escalation endpoints.
type EscalationsHandler struct {
	manager *escalation.Manager
}

// NewEscalationsHandler constructs handler.
func NewEscalationsHandler(manager *escalation.Manager) *EscalationsHandler {
	return &EscalationsHandler{manager: manager}
}

// Get GET /escalations/:id.
func (h *EscalationsHandler) Get(c *fiber.Ctx) error {
	esc, err := h.manager.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromEscalation(esc)})
}

// Ack POST /escalations/:id/ack.
func (h *EscalationsHandler) Ack(c *fiber.Ctx) error {
	esc, err := h.manager.Ack(c.UserContext(), c.Params("id"), operatorActor(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromEscalation(esc)})
}

// StartResolving POST /escalations/:id/resolving.
func (h *EscalationsHandler) StartResolving(c *fiber.Ctx) error {
	esc, err := h.manager.StartResolving(c.UserContext(), c.Params("id"), operatorActor(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromEscalation(esc)})
}

// Resolve POST /escalations/:id/resolve.
func (h *EscalationsHandler) Resolve(c *fiber.Ctx) error {
	var req dto.ResolveEscalationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	esc, err := h.manager.Resolve(c.UserContext(), c.Params("id"), req.Notes, operatorActor(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromEscalation(esc)})
}
