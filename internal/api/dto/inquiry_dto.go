package dto

import (
	"time"

	"github.com/spec-kit/inquiry-router/internal/domain"
)

// CreateInquiryRequest is the inbound-message intake payload.
type CreateInquiryRequest struct {
	Channel      string `json:"channel"`
	CustomerTier string `json:"customer_tier"`
	Category     string `json:"category"`
	Message      string `json:"message"`
}

// AddMessageRequest carries a follow-up message for an open case.
type AddMessageRequest struct {
	Message string `json:"message"`
}

// EscalateRequest carries an explicit escalation reason.
type EscalateRequest struct {
	Reason string `json:"reason"`
}

// ResolveEscalationRequest carries resolution notes.
type ResolveEscalationRequest struct {
	Notes string `json:"notes"`
}

// SetHandlerStatusRequest flips a handler's availability.
type SetHandlerStatusRequest struct {
	Status string `json:"status"`
}

// CaseSummary is the external representation of a case.
type CaseSummary struct {
	ID                string     `json:"id"`
	Channel           string     `json:"channel"`
	CustomerTier      string     `json:"customer_tier"`
	Category          string     `json:"category"`
	SentimentScore    float64    `json:"sentiment_score"`
	Priority          string     `json:"priority"`
	State             string     `json:"state"`
	AssignedHandlerID *string    `json:"assigned_handler_id,omitempty"`
	DeadlineAt        *time.Time `json:"deadline_at,omitempty"`
	EscalationID      *string    `json:"escalation_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// EscalationSummary is the external representation of an escalation.
type EscalationSummary struct {
	ID              string    `json:"id"`
	CaseID          string    `json:"case_id"`
	Priority        string    `json:"priority"`
	State           string    `json:"state"`
	Reason          string    `json:"reason,omitempty"`
	AssignedTo      string    `json:"assigned_to"`
	ResolutionNotes string    `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// HandlerSummary is the external representation of a handler.
type HandlerSummary struct {
	ID                 string     `json:"id"`
	Skills             []string   `json:"skills"`
	MaxConcurrentCases int        `json:"max_concurrent_cases"`
	CurrentLoad        int        `json:"current_load"`
	Status             string     `json:"status"`
	LastAssignedAt     *time.Time `json:"last_assigned_at,omitempty"`
}

// AuditEventSummary is the external representation of a ledger entry.
type AuditEventSummary struct {
	ID        string         `json:"id"`
	CaseID    string         `json:"case_id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Sequence  int64          `json:"sequence"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// FromCase maps a domain case.
func FromCase(c *domain.Case) CaseSummary {
	return CaseSummary{
		ID:                c.ID,
		Channel:           c.Channel,
		CustomerTier:      string(c.CustomerTier),
		Category:          c.Category,
		SentimentScore:    c.SentimentScore,
		Priority:          string(c.Priority),
		State:             string(c.State),
		AssignedHandlerID: c.AssignedHandlerID,
		DeadlineAt:        c.DeadlineAt,
		EscalationID:      c.EscalationID,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// FromEscalation maps a domain escalation.
func FromEscalation(e *domain.Escalation) EscalationSummary {
	return EscalationSummary{
		ID:              e.ID,
		CaseID:          e.CaseID,
		Priority:        string(e.Priority),
		State:           string(e.State),
		Reason:          e.Reason,
		AssignedTo:      e.AssignedTo,
		ResolutionNotes: e.ResolutionNotes,
		CreatedAt:       e.CreatedAt,
	}
}

// FromHandler maps a domain handler.
func FromHandler(h *domain.Handler) HandlerSummary {
	return HandlerSummary{
		ID:                 h.ID,
		Skills:             h.Skills,
		MaxConcurrentCases: h.MaxConcurrentCases,
		CurrentLoad:        h.CurrentLoad,
		Status:             string(h.Status),
		LastAssignedAt:     h.LastAssignedAt,
	}
}

// FromAuditEvent maps a ledger entry.
func FromAuditEvent(e *domain.AuditEvent) AuditEventSummary {
	return AuditEventSummary{
		ID:        e.ID,
		CaseID:    e.CaseID,
		Actor:     e.Actor,
		Action:    string(e.Action),
		Sequence:  e.Sequence,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
	}
}
