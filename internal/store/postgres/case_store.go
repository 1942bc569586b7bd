package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/store"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// CaseStore persists cases in postgres. Updates carry an optimistic
// version check and write the matching audit event in the same
// transaction, so there is no state change without a ledger record.
type CaseStore struct {
	pool *pgxpool.Pool
}

// NewCaseStore builds the store.
func NewCaseStore(pool *pgxpool.Pool) *CaseStore {
	return &CaseStore{pool: pool}
}

const caseColumns = `id, channel, customer_tier, category, sentiment_score, priority, state,
               assigned_handler_id, deadline_at, escalation_id, version, created_at, updated_at`

// Create inserts the case and its creation audit event in one
// transaction.
func (s *CaseStore) Create(ctx context.Context, c *domain.Case, m store.Mutation) error {
	c.Version = 1
	c.CheckInvariants()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        INSERT INTO cases (channel, customer_tier, category, sentiment_score, priority, state,
                           assigned_handler_id, deadline_at, escalation_id, version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1)
        RETURNING id, created_at, updated_at`
	if err := tx.QueryRow(ctx, query,
		c.Channel,
		c.CustomerTier,
		c.Category,
		c.SentimentScore,
		c.Priority,
		c.State,
		c.AssignedHandlerID,
		c.DeadlineAt,
		c.EscalationID,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return err
	}

	if err := appendEventTx(ctx, tx, &domain.AuditEvent{
		CaseID:  c.ID,
		Actor:   m.Actor,
		Action:  m.Action,
		Payload: m.Payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get returns the case or a NOT_FOUND error.
func (s *CaseStore) Get(ctx context.Context, id string) (*domain.Case, error) {
	const query = `SELECT ` + caseColumns + ` FROM cases WHERE id=$1`
	c, err := scanCase(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("case", map[string]any{"case_id": id})
		}
		return nil, err
	}
	return c, nil
}

// Update reads the case, applies the mutator, and commits the new row
// together with its audit event iff the stored version is unchanged.
// A lost race surfaces as CONFLICT for the caller to retry fresh.
func (s *CaseStore) Update(ctx context.Context, id string, mutate store.CaseMutator) (*domain.Case, error) {
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
	current.CheckInvariants()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        UPDATE cases SET sentiment_score=$1, priority=$2, state=$3, assigned_handler_id=$4,
            deadline_at=$5, escalation_id=$6, version=$7, updated_at=NOW()
        WHERE id=$8 AND version=$9`
	cmd, err := tx.Exec(ctx, query,
		current.SentimentScore,
		current.Priority,
		current.State,
		current.AssignedHandlerID,
		current.DeadlineAt,
		current.EscalationID,
		current.Version,
		id,
		readVersion,
	)
	if err != nil {
		return nil, err
	}
	if cmd.RowsAffected() == 0 {
		return nil, apperrors.NewConflict("case version changed", map[string]any{"case_id": id})
	}

	if err := appendEventTx(ctx, tx, &domain.AuditEvent{
		CaseID:  id,
		Actor:   mutation.Actor,
		Action:  mutation.Action,
		Payload: mutation.Payload,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return current, nil
}

// ListByState pages cases in a state ordered by ID, restartable via the
// afterID cursor.
func (s *CaseStore) ListByState(ctx context.Context, state domain.CaseState, afterID string, limit int) ([]domain.Case, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT ` + caseColumns + `
        FROM cases WHERE state=$1 AND id::text > $2 ORDER BY id ASC LIMIT $3`
	rows, err := s.pool.Query(ctx, query, state, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Case
	for rows.Next() {
		var c domain.Case
		if err := rows.Scan(
			&c.ID,
			&c.Channel,
			&c.CustomerTier,
			&c.Category,
			&c.SentimentScore,
			&c.Priority,
			&c.State,
			&c.AssignedHandlerID,
			&c.DeadlineAt,
			&c.EscalationID,
			&c.Version,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func scanCase(row pgx.Row) (*domain.Case, error) {
	var c domain.Case
	if err := row.Scan(
		&c.ID,
		&c.Channel,
		&c.CustomerTier,
		&c.Category,
		&c.SentimentScore,
		&c.Priority,
		&c.State,
		&c.AssignedHandlerID,
		&c.DeadlineAt,
		&c.EscalationID,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func appendEventTx(ctx context.Context, tx pgx.Tx, event *domain.AuditEvent) error {
	return tx.QueryRow(ctx, appendEventQuery,
		event.CaseID,
		event.Actor,
		event.Action,
		event.Payload,
	).Scan(&event.ID, &event.Sequence, &event.Timestamp)
}
