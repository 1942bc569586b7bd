package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/inquiry-router/internal/api/http/handlers"
	"github.com/spec-kit/inquiry-router/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Inquiries      *handlers.InquiriesHandler
	Escalations    *handlers.EscalationsHandler
	Handlers       *handlers.HandlersHandler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes wires HTTP routes. Intake and reads are open; lifecycle
// mutations require an operator or supervisor token, and escalation
// resolution is supervisor-only.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	inquiries := app.Group("/inquiries")
	inquiries.Post("", cfg.Inquiries.Create)
	inquiries.Post("/:id/messages", cfg.Inquiries.AddMessage)
	inquiries.Get("", cfg.Inquiries.List)
	inquiries.Get("/:id", cfg.Inquiries.Get)
	inquiries.Get("/:id/audit", cfg.Inquiries.AuditTrail)

	operator := inquiries.Group("", cfg.AuthMiddleware.Handle, auth.RequireRole(auth.RoleOperator, auth.RoleSupervisor))
	operator.Post("/:id/start", cfg.Inquiries.Start)
	operator.Post("/:id/close", cfg.Inquiries.Close)
	operator.Post("/:id/escalate", cfg.Inquiries.Escalate)

	escalations := app.Group("/escalations", cfg.AuthMiddleware.Handle, auth.RequireRole(auth.RoleSupervisor))
	escalations.Get("/:id", cfg.Escalations.Get)
	escalations.Post("/:id/ack", cfg.Escalations.Ack)
	escalations.Post("/:id/resolving", cfg.Escalations.StartResolving)
	escalations.Post("/:id/resolve", cfg.Escalations.Resolve)

	registry := app.Group("/handlers")
	registry.Get("", cfg.Handlers.List)
	registry.Get("/:id", cfg.Handlers.Get)
	registry.Put("/:id/status", cfg.AuthMiddleware.Handle, auth.RequireRole(auth.RoleOperator, auth.RoleSupervisor), cfg.Handlers.SetStatus)
}
