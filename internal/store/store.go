package store

import (
	"context"

	"github.com/spec-kit/inquiry-router/internal/domain"
)

// Mutation describes the single audit record that accompanies a case
// write. Every successful create/update appends exactly one AuditEvent
// atomically with the state change.
type Mutation struct {
	Actor   string
	Action  domain.AuditAction
	Payload map[string]any
}

// CaseMutator applies a change to a fresh copy of the case and returns
// the audit record for it. Returning an error aborts the write.
type CaseMutator func(c *domain.Case) (Mutation, error)

// EscalationMutator is the escalation counterpart of CaseMutator. A
// zero-valued Mutation (no Action) commits the write without a ledger
// record; that is reserved for metadata refreshes that are not state
// transitions.
type EscalationMutator func(e *domain.Escalation) (Mutation, error)

// CaseStore persists cases with optimistic concurrency. Update fails
// with a CONFLICT domain error when the stored version changed since
// the read; callers retry against fresh state.
type CaseStore interface {
	Create(ctx context.Context, c *domain.Case, m Mutation) error
	Get(ctx context.Context, id string) (*domain.Case, error)
	Update(ctx context.Context, id string, mutate CaseMutator) (*domain.Case, error)
	// ListByState pages through cases in a state. The cursor is the
	// last case ID from the previous page; empty starts over.
	ListByState(ctx context.Context, state domain.CaseState, afterID string, limit int) ([]domain.Case, error)
}

// HandlerStore persists handler records. Creation and administrative
// updates belong to an external interface; the routing core reads and
// atomically adjusts load/status through Update.
type HandlerStore interface {
	Get(ctx context.Context, id string) (*domain.Handler, error)
	List(ctx context.Context) ([]domain.Handler, error)
	Put(ctx context.Context, h *domain.Handler) error
	Update(ctx context.Context, id string, mutate func(*domain.Handler) error) (*domain.Handler, error)
}

// EscalationStore persists escalation records. Create fails with a
// CONFLICT domain error when an open escalation already exists for the
// case, backing the one-open-escalation-per-case invariant. Like case
// writes, escalation writes commit their audit event atomically: a
// failed append fails the whole mutation.
type EscalationStore interface {
	Create(ctx context.Context, e *domain.Escalation, m Mutation) error
	Get(ctx context.Context, id string) (*domain.Escalation, error)
	GetOpenByCase(ctx context.Context, caseID string) (*domain.Escalation, error)
	Update(ctx context.Context, id string, mutate EscalationMutator) (*domain.Escalation, error)
}

// AuditLedger is the append-only compliance record. Events are never
// updated or deleted; per-case order is a monotonic sequence number
// assigned on append.
type AuditLedger interface {
	Append(ctx context.Context, event *domain.AuditEvent) error
	// Query pages events for a case ordered by sequence; afterSeq is
	// the restartable cursor (0 starts over).
	Query(ctx context.Context, caseID string, afterSeq int64, limit int) ([]domain.AuditEvent, error)
}
