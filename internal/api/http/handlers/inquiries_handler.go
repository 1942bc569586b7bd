package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/inquiry-router/internal/api/dto"
	"github.com/spec-kit/inquiry-router/internal/auth"
	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/escalation"
	"github.com/spec-kit/inquiry-router/internal/inquiry"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// InquiriesHandler manages case intake and lifecycle endpoints.
type InquiriesHandler struct {
	service     *inquiry.Service
	escalations *escalation.Manager
}

// NewInquiriesHandler constructs handler.
func NewInquiriesHandler(service *inquiry.Service, escalations *escalation.Manager) *InquiriesHandler {
	return &InquiriesHandler{service: service, escalations: escalations}
}

// Create POST /inquiries.
func (h *InquiriesHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateInquiryRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Category == "" || strings.TrimSpace(req.Message) == "" {
		return apperrors.NewValidationError("category and message required", nil)
	}

	created, err := h.service.Create(c.UserContext(), inquiry.CreateInput{
		Channel:      req.Channel,
		CustomerTier: domain.CustomerTier(req.CustomerTier),
		Category:     req.Category,
		Message:      req.Message,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.FromCase(created)})
}

// AddMessage POST /inquiries/:id/messages.
func (h *InquiriesHandler) AddMessage(c *fiber.Ctx) error {
	var req dto.AddMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	updated, err := h.service.AddMessage(c.UserContext(), c.Params("id"), req.Message, "customer")
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromCase(updated)})
}

// Get GET /inquiries/:id.
func (h *InquiriesHandler) Get(c *fiber.Ctx) error {
	found, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromCase(found)})
}

// List GET /inquiries?state=QUEUED&after=&limit=.
func (h *InquiriesHandler) List(c *fiber.Ctx) error {
	state := domain.CaseState(strings.ToUpper(c.Query("state", string(domain.CaseStateQueued))))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	cases, err := h.service.ListByState(c.UserContext(), state, c.Query("after"), limit)
	if err != nil {
		return err
	}
	items := make([]dto.CaseSummary, 0, len(cases))
	for i := range cases {
		items = append(items, dto.FromCase(&cases[i]))
	}
	var next string
	if len(items) > 0 {
		next = items[len(items)-1].ID
	}
	return c.JSON(fiber.Map{"data": items, "next": next})
}

// AuditTrail GET /inquiries/:id/audit.
func (h *InquiriesHandler) AuditTrail(c *fiber.Ctx) error {
	afterSeq, _ := strconv.ParseInt(c.Query("after", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	trail, err := h.service.AuditTrail(c.UserContext(), c.Params("id"), afterSeq, limit)
	if err != nil {
		return err
	}
	items := make([]dto.AuditEventSummary, 0, len(trail))
	for i := range trail {
		items = append(items, dto.FromAuditEvent(&trail[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Start POST /inquiries/:id/start.
func (h *InquiriesHandler) Start(c *fiber.Ctx) error {
	updated, err := h.service.Start(c.UserContext(), c.Params("id"), operatorActor(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromCase(updated)})
}

// Close POST /inquiries/:id/close.
func (h *InquiriesHandler) Close(c *fiber.Ctx) error {
	updated, err := h.service.Close(c.UserContext(), c.Params("id"), operatorActor(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromCase(updated)})
}

// Escalate POST /inquiries/:id/escalate.
func (h *InquiriesHandler) Escalate(c *fiber.Ctx) error {
	var req dto.EscalateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return apperrors.NewValidationError("reason required", nil)
	}
	esc, err := h.escalations.Create(c.UserContext(), c.Params("id"), req.Reason, operatorActor(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.FromEscalation(esc)})
}

func operatorActor(c *fiber.Ctx) string {
	if principal, ok := auth.PrincipalFromContext(c); ok {
		return principal.SubjectID
	}
	return "operator"
}
