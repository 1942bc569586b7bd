package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/store"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// EscalationStore is the in-memory escalation store. Create enforces
// the at-most-one-open-escalation-per-case invariant under its lock,
// and every write appends its audit event inside the same critical
// section, mirroring CaseStore.
type EscalationStore struct {
	mu          sync.RWMutex
	escalations map[string]domain.Escalation
	openByCase  map[string]string
	ledger      *AuditLedger
}

// NewEscalationStore builds an escalation store appending to the given
// ledger.
func NewEscalationStore(ledger *AuditLedger) *EscalationStore {
	return &EscalationStore{
		escalations: make(map[string]domain.Escalation),
		openByCase:  make(map[string]string),
		ledger:      ledger,
	}
}

// Create stores a new escalation and its audit event, failing with
// CONFLICT when an open one already exists for the case.
func (s *EscalationStore) Create(ctx context.Context, e *domain.Escalation, m store.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if openID, exists := s.openByCase[e.CaseID]; exists {
		return apperrors.NewConflict("open escalation exists", map[string]any{
			"case_id":       e.CaseID,
			"escalation_id": openID,
		})
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	s.escalations[e.ID] = *e
	s.openByCase[e.CaseID] = e.ID
	s.appendAudit(e.CaseID, m)
	return nil
}

// Get returns a copy of the escalation or a NOT_FOUND error.
func (s *EscalationStore) Get(ctx context.Context, id string) (*domain.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.escalations[id]
	if !ok {
		return nil, apperrors.NewNotFound("escalation", map[string]any{"escalation_id": id})
	}
	copied := stored
	return &copied, nil
}

// GetOpenByCase returns the open escalation for a case, if any.
func (s *EscalationStore) GetOpenByCase(ctx context.Context, caseID string) (*domain.Escalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.openByCase[caseID]
	if !ok {
		return nil, apperrors.NewNotFound("escalation", map[string]any{"case_id": caseID})
	}
	copied := s.escalations[id]
	return &copied, nil
}

// Update applies the mutator with an optimistic version check,
// maintains the open-escalation index on resolution, and commits the
// mutation's audit event with the write.
func (s *EscalationStore) Update(ctx context.Context, id string, mutate store.EscalationMutator) (*domain.Escalation, error) {
	s.mu.RLock()
	stored, ok := s.escalations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFound("escalation", map[string]any{"escalation_id": id})
	}

	working := stored
	mutation, err := mutate(&working)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.escalations[id]
	if !ok {
		return nil, apperrors.NewNotFound("escalation", map[string]any{"escalation_id": id})
	}
	if current.Version != working.Version {
		return nil, apperrors.NewConflict("escalation version changed", map[string]any{"escalation_id": id})
	}
	working.Version++
	working.UpdatedAt = time.Now()
	s.escalations[id] = working
	if !working.Open() {
		delete(s.openByCase, working.CaseID)
	}
	s.appendAudit(working.CaseID, mutation)
	result := working
	return &result, nil
}

func (s *EscalationStore) appendAudit(caseID string, m store.Mutation) {
	if m.Action == "" {
		return
	}
	s.ledger.mu.Lock()
	s.ledger.appendLocked(&domain.AuditEvent{
		CaseID:  caseID,
		Actor:   m.Actor,
		Action:  m.Action,
		Payload: m.Payload,
	})
	s.ledger.mu.Unlock()
}
