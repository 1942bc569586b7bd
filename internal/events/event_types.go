package events

import (
	"time"

	"github.com/spec-kit/inquiry-router/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCaseCreated       EventType = "case_created"
	EventCaseAssigned      EventType = "case_assigned"
	EventCaseEscalated     EventType = "case_escalated"
	EventCaseResolved      EventType = "case_resolved"
	EventCaseClosed        EventType = "case_closed"
	EventHandlerChanged    EventType = "handler_changed"
	EventEscalationCreated EventType = "escalation_created"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	CaseID    string      `json:"case_id,omitempty"`
	HandlerID string      `json:"handler_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// CaseAssignedPayload payload.
type CaseAssignedPayload struct {
	HandlerID string              `json:"handler_id"`
	Priority  domain.CasePriority `json:"priority"`
}

// CaseEscalatedPayload payload.
type CaseEscalatedPayload struct {
	EscalationID string              `json:"escalation_id"`
	Priority     domain.CasePriority `json:"priority"`
	Reason       string              `json:"reason"`
}

// HandlerChangedPayload payload. Emitted on any capacity or status
// change; delivery is best effort, the routing sweep is the backstop.
type HandlerChangedPayload struct {
	Status domain.HandlerStatus `json:"status"`
	Load   int                  `json:"load"`
}
