package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/store"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// CaseStore is the in-memory case store. Writes use optimistic
// concurrency on Case.Version; the matching audit append happens inside
// the same critical section, so there is no state change without a
// ledger record.
type CaseStore struct {
	mu     sync.RWMutex
	cases  map[string]domain.Case
	ledger *AuditLedger
}

// NewCaseStore builds a case store appending to the given ledger.
func NewCaseStore(ledger *AuditLedger) *CaseStore {
	return &CaseStore{cases: make(map[string]domain.Case), ledger: ledger}
}

// Create stores a new case and appends its creation audit event.
func (s *CaseStore) Create(ctx context.Context, c *domain.Case, m store.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, exists := s.cases[c.ID]; exists {
		return apperrors.NewConflict("case already exists", map[string]any{"case_id": c.ID})
	}
	now := time.Now()
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	c.CheckInvariants()
	s.cases[c.ID] = cloneCase(*c)
	s.ledger.mu.Lock()
	s.ledger.appendLocked(&domain.AuditEvent{
		CaseID:  c.ID,
		Actor:   m.Actor,
		Action:  m.Action,
		Payload: m.Payload,
	})
	s.ledger.mu.Unlock()
	return nil
}

// Get returns a copy of the case or a NOT_FOUND error.
func (s *CaseStore) Get(ctx context.Context, id string) (*domain.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.cases[id]
	if !ok {
		return nil, apperrors.NewNotFound("case", map[string]any{"case_id": id})
	}
	copied := cloneCase(stored)
	return &copied, nil
}

// Update applies the mutator to a fresh copy and commits it only if the
// stored version is unchanged, returning CONFLICT otherwise. The audit
// event from the mutation is appended atomically with the commit.
func (s *CaseStore) Update(ctx context.Context, id string, mutate store.CaseMutator) (*domain.Case, error) {
	s.mu.RLock()
	stored, ok := s.cases[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFound("case", map[string]any{"case_id": id})
	}

	working := cloneCase(stored)
	mutation, err := mutate(&working)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.cases[id]
	if !ok {
		return nil, apperrors.NewNotFound("case", map[string]any{"case_id": id})
	}
	if current.Version != working.Version {
		return nil, apperrors.NewConflict("case version changed", map[string]any{"case_id": id})
	}
	working.Version++
	working.UpdatedAt = time.Now()
	working.CheckInvariants()
	s.cases[id] = cloneCase(working)

	s.ledger.mu.Lock()
	s.ledger.appendLocked(&domain.AuditEvent{
		CaseID:  id,
		Actor:   mutation.Actor,
		Action:  mutation.Action,
		Payload: mutation.Payload,
	})
	s.ledger.mu.Unlock()

	result := cloneCase(working)
	return &result, nil
}

// ListByState pages cases in a state ordered by ID; afterID is the
// restartable cursor.
func (s *CaseStore) ListByState(ctx context.Context, state domain.CaseState, afterID string, limit int) ([]domain.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var matched []domain.Case
	for _, stored := range s.cases {
		if stored.State == state && stored.ID > afterID {
			matched = append(matched, cloneCase(stored))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func cloneCase(c domain.Case) domain.Case {
	copied := c
	if c.AssignedHandlerID != nil {
		id := *c.AssignedHandlerID
		copied.AssignedHandlerID = &id
	}
	if c.DeadlineAt != nil {
		deadline := *c.DeadlineAt
		copied.DeadlineAt = &deadline
	}
	if c.EscalationID != nil {
		id := *c.EscalationID
		copied.EscalationID = &id
	}
	return copied
}
