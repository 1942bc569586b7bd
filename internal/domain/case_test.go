package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to CaseState }{
		{CaseStateNew, CaseStateQueued},
		{CaseStateQueued, CaseStateAssigned},
		{CaseStateQueued, CaseStateEscalated},
		{CaseStateQueued, CaseStateClosed},
		{CaseStateAssigned, CaseStateInProgress},
		{CaseStateAssigned, CaseStateResolved},
		{CaseStateInProgress, CaseStateEscalated},
		{CaseStateEscalated, CaseStateResolved},
		{CaseStateResolved, CaseStateClosed},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("expected %s -> %s to be allowed", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to CaseState }{
		{CaseStateNew, CaseStateAssigned},
		{CaseStateQueued, CaseStateInProgress},
		{CaseStateResolved, CaseStateAssigned},
		{CaseStateClosed, CaseStateQueued},
		{CaseStateEscalated, CaseStateAssigned},
		{CaseStateClosed, CaseStateClosed},
	}
	for _, tt := range denied {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("expected %s -> %s to be denied", tt.from, tt.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	if !CaseStateResolved.Terminal() || !CaseStateClosed.Terminal() {
		t.Fatal("RESOLVED and CLOSED must be terminal")
	}
	if CaseStateEscalated.Terminal() {
		t.Fatal("ESCALATED must not be terminal")
	}
}

func TestCheckInvariantsPanicsOnHandlerMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for ASSIGNED case without handler")
		}
	}()
	deadline := time.Now().Add(time.Hour)
	c := &Case{ID: "c1", State: CaseStateAssigned, DeadlineAt: &deadline}
	c.CheckInvariants()
}

func TestCheckInvariantsPanicsOnMissingDeadline(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for QUEUED case without deadline")
		}
	}()
	c := &Case{ID: "c1", State: CaseStateQueued}
	c.CheckInvariants()
}

func TestCheckInvariantsAcceptsValidCase(t *testing.T) {
	handler := "h1"
	deadline := time.Now().Add(time.Hour)
	c := &Case{ID: "c1", State: CaseStateAssigned, AssignedHandlerID: &handler, DeadlineAt: &deadline}
	c.CheckInvariants()

	escalated := &Case{ID: "c2", State: CaseStateEscalated, AssignedHandlerID: &handler}
	escalated.CheckInvariants()
}
