package domain

import "time"

// EscalationState enumerates the supervisory lifecycle of a breach.
type EscalationState string

const (
	EscalationCreated   EscalationState = "CREATED"
	EscalationAcked     EscalationState = "ACKED"
	EscalationResolving EscalationState = "RESOLVING"
	EscalationResolved  EscalationState = "RESOLVED"
)

// Escalation tracks supervisory handling of one breached or explicitly
// escalated case. At most one open escalation exists per case.
type Escalation struct {
	ID              string
	CaseID          string
	Priority        CasePriority
	State           EscalationState
	Reason          string
	AssignedTo      string
	ResolutionNotes string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Open reports whether the escalation still needs supervisory action.
func (e *Escalation) Open() bool {
	return e.State != EscalationResolved
}

var escalationTransitions = map[EscalationState][]EscalationState{
	// CREATED may jump straight to RESOLVED (fast resolution).
	EscalationCreated:   {EscalationAcked, EscalationResolving, EscalationResolved},
	EscalationAcked:     {EscalationResolving, EscalationResolved},
	EscalationResolving: {EscalationResolved},
	EscalationResolved:  {},
}

// CanEscalationTransition reports whether the state machine permits from→to.
func CanEscalationTransition(from, to EscalationState) bool {
	for _, next := range escalationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
