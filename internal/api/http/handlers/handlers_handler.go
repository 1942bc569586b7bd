package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/inquiry-router/internal/api/dto"
	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/registry"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// HandlersHandler exposes the handler registry's read surface plus the
// one mutation the routing core owns: availability status, because it
// gates eligibility.
type HandlersHandler struct {
	registry *registry.Registry
}

// NewHandlersHandler constructs handler.
func NewHandlersHandler(reg *registry.Registry) *HandlersHandler {
	return &HandlersHandler{registry: reg}
}

// List GET /handlers.
func (h *HandlersHandler) List(c *fiber.Ctx) error {
	all, err := h.registry.List(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.HandlerSummary, 0, len(all))
	for i := range all {
		items = append(items, dto.FromHandler(&all[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Get GET /handlers/:id.
func (h *HandlersHandler) Get(c *fiber.Ctx) error {
	found, err := h.registry.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromHandler(found)})
}

// SetStatus PUT /handlers/:id/status.
func (h *HandlersHandler) SetStatus(c *fiber.Ctx) error {
	var req dto.SetHandlerStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	status := domain.HandlerStatus(strings.ToUpper(req.Status))
	switch status {
	case domain.HandlerStatusAvailable, domain.HandlerStatusBusy, domain.HandlerStatusOffline:
	default:
		return apperrors.NewValidationError("unknown status", map[string]any{"status": req.Status})
	}
	updated, err := h.registry.SetStatus(c.UserContext(), c.Params("id"), status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromHandler(updated)})
}
