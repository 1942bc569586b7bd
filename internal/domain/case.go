package domain

import "time"

// CaseState enumerates lifecycle states for cases.
type CaseState string

const (
	CaseStateNew        CaseState = "NEW"
	CaseStateQueued     CaseState = "QUEUED"
	CaseStateAssigned   CaseState = "ASSIGNED"
	CaseStateInProgress CaseState = "IN_PROGRESS"
	CaseStateEscalated  CaseState = "ESCALATED"
	CaseStateResolved   CaseState = "RESOLVED"
	CaseStateClosed     CaseState = "CLOSED"
)

// CustomerTier enumerates contract levels that influence priority.
type CustomerTier string

const (
	TierStandard CustomerTier = "standard"
	TierPremium  CustomerTier = "premium"
)

// Case is the aggregate for one customer inquiry.
type Case struct {
	ID                string
	Channel           string
	CustomerTier      CustomerTier
	Category          string
	SentimentScore    float64
	Priority          CasePriority
	State             CaseState
	AssignedHandlerID *string
	DeadlineAt        *time.Time
	EscalationID      *string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasActiveDeadline reports whether the state carries an SLA deadline.
func (s CaseState) HasActiveDeadline() bool {
	switch s {
	case CaseStateQueued, CaseStateAssigned, CaseStateInProgress:
		return true
	}
	return false
}

// RequiresHandler reports whether the state demands a non-nil assignee.
func (s CaseState) RequiresHandler() bool {
	switch s {
	case CaseStateAssigned, CaseStateInProgress, CaseStateEscalated:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions
// besides CLOSED.
func (s CaseState) Terminal() bool {
	return s == CaseStateResolved || s == CaseStateClosed
}

var caseTransitions = map[CaseState][]CaseState{
	CaseStateNew:        {CaseStateQueued},
	CaseStateQueued:     {CaseStateAssigned, CaseStateEscalated, CaseStateClosed},
	CaseStateAssigned:   {CaseStateInProgress, CaseStateEscalated, CaseStateResolved, CaseStateClosed},
	CaseStateInProgress: {CaseStateEscalated, CaseStateResolved, CaseStateClosed},
	CaseStateEscalated:  {CaseStateResolved, CaseStateClosed},
	CaseStateResolved:   {CaseStateClosed},
	CaseStateClosed:     {},
}

// CanTransition reports whether the case state machine permits from→to.
func CanTransition(from, to CaseState) bool {
	for _, next := range caseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckInvariants panics when the record violates the model invariants.
// Violations indicate a correctness bug, not a runtime condition.
func (c *Case) CheckInvariants() {
	if c.State.RequiresHandler() != (c.AssignedHandlerID != nil) {
		panic("case invariant violated: assigned_handler_id must be set iff state is ASSIGNED/IN_PROGRESS/ESCALATED: " + c.ID)
	}
	if c.State.HasActiveDeadline() && c.DeadlineAt == nil {
		panic("case invariant violated: active case without deadline: " + c.ID)
	}
}
