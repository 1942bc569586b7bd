package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/store"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// EscalationStore persists escalations. A partial unique index on
// case_id for non-RESOLVED rows backs the one-open-per-case invariant.
// Writes commit their audit event in the same transaction, like
// CaseStore.
type EscalationStore struct {
	pool *pgxpool.Pool
}

// NewEscalationStore builds the store.
func NewEscalationStore(pool *pgxpool.Pool) *EscalationStore {
	return &EscalationStore{pool: pool}
}

const escalationColumns = `id, case_id, priority, state, reason, assigned_to, resolution_notes, version, created_at, updated_at`

// Create inserts a new escalation and its audit event in one
// transaction, surfacing CONFLICT when an open escalation already
// exists for the case. The ID is assigned before the insert so the
// caller can reference it in the audit payload.
func (s *EscalationStore) Create(ctx context.Context, e *domain.Escalation, m store.Mutation) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        INSERT INTO escalations (id, case_id, priority, state, reason, assigned_to, resolution_notes, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,1)
        RETURNING created_at, updated_at`
	err = tx.QueryRow(ctx, query,
		e.ID,
		e.CaseID,
		e.Priority,
		e.State,
		e.Reason,
		e.AssignedTo,
		e.ResolutionNotes,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflict("open escalation exists", map[string]any{"case_id": e.CaseID})
		}
		return err
	}
	e.Version = 1

	if m.Action != "" {
		if err := appendEventTx(ctx, tx, &domain.AuditEvent{
			CaseID:  e.CaseID,
			Actor:   m.Actor,
			Action:  m.Action,
			Payload: m.Payload,
		}); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Get returns the escalation or a NOT_FOUND error.
func (s *EscalationStore) Get(ctx context.Context, id string) (*domain.Escalation, error) {
	const query = `SELECT ` + escalationColumns + ` FROM escalations WHERE id=$1`
	e, err := scanEscalation(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("escalation", map[string]any{"escalation_id": id})
		}
		return nil, err
	}
	return e, nil
}

// GetOpenByCase returns the open escalation for a case, if any.
func (s *EscalationStore) GetOpenByCase(ctx context.Context, caseID string) (*domain.Escalation, error) {
	const query = `SELECT ` + escalationColumns + ` FROM escalations WHERE case_id=$1 AND state <> 'RESOLVED'`
	e, err := scanEscalation(s.pool.QueryRow(ctx, query, caseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("escalation", map[string]any{"case_id": caseID})
		}
		return nil, err
	}
	return e, nil
}

// Update applies the mutator with an optimistic version check and
// commits the new row together with its audit event.
func (s *EscalationStore) Update(ctx context.Context, id string, mutate store.EscalationMutator) (*domain.Escalation, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	readVersion := current.Version
	mutation, err := mutate(current)
	if err != nil {
		return nil, err
	}
	current.Version = readVersion + 1

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        UPDATE escalations SET priority=$1, state=$2, reason=$3, assigned_to=$4,
            resolution_notes=$5, version=$6, created_at=$7, updated_at=NOW()
        WHERE id=$8 AND version=$9`
	cmd, err := tx.Exec(ctx, query,
		current.Priority,
		current.State,
		current.Reason,
		current.AssignedTo,
		current.ResolutionNotes,
		current.Version,
		current.CreatedAt,
		id,
		readVersion,
	)
	if err != nil {
		return nil, err
	}
	if cmd.RowsAffected() == 0 {
		return nil, apperrors.NewConflict("escalation version changed", map[string]any{"escalation_id": id})
	}

	if mutation.Action != "" {
		if err := appendEventTx(ctx, tx, &domain.AuditEvent{
			CaseID:  current.CaseID,
			Actor:   mutation.Actor,
			Action:  mutation.Action,
			Payload: mutation.Payload,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return current, nil
}

func scanEscalation(row pgx.Row) (*domain.Escalation, error) {
	var e domain.Escalation
	if err := row.Scan(
		&e.ID,
		&e.CaseID,
		&e.Priority,
		&e.State,
		&e.Reason,
		&e.AssignedTo,
		&e.ResolutionNotes,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
