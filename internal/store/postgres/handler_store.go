package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/inquiry-router/internal/domain"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// HandlerStore persists handler records with versioned optimistic
// updates, so concurrent router instances never lose a load change.
type HandlerStore struct {
	pool *pgxpool.Pool
}

// NewHandlerStore builds the store.
func NewHandlerStore(pool *pgxpool.Pool) *HandlerStore {
	return &HandlerStore{pool: pool}
}

const handlerColumns = `id, skills, max_concurrent_cases, current_load, status, last_assigned_at, version, created_at, updated_at`

// Put inserts or replaces a handler record (seeding / external admin).
func (s *HandlerStore) Put(ctx context.Context, h *domain.Handler) error {
	const query = `
        INSERT INTO handlers (id, skills, max_concurrent_cases, current_load, status, last_assigned_at, version)
        VALUES ($1,$2,$3,$4,$5,$6,1)
        ON CONFLICT (id) DO UPDATE SET
            skills=EXCLUDED.skills,
            max_concurrent_cases=EXCLUDED.max_concurrent_cases,
            status=EXCLUDED.status,
            version=handlers.version+1,
            updated_at=NOW()
        RETURNING version, created_at, updated_at`
	return s.pool.QueryRow(ctx, query,
		h.ID,
		h.Skills,
		h.MaxConcurrentCases,
		h.CurrentLoad,
		h.Status,
		h.LastAssignedAt,
	).Scan(&h.Version, &h.CreatedAt, &h.UpdatedAt)
}

// Get returns the handler or a NOT_FOUND error.
func (s *HandlerStore) Get(ctx context.Context, id string) (*domain.Handler, error) {
	const query = `SELECT ` + handlerColumns + ` FROM handlers WHERE id=$1`
	h, err := scanHandler(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("handler", map[string]any{"handler_id": id})
		}
		return nil, err
	}
	return h, nil
}

// List returns all handlers ordered by ID.
func (s *HandlerStore) List(ctx context.Context) ([]domain.Handler, error) {
	const query = `SELECT ` + handlerColumns + ` FROM handlers ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Handler
	for rows.Next() {
		var h domain.Handler
		if err := rows.Scan(
			&h.ID,
			&h.Skills,
			&h.MaxConcurrentCases,
			&h.CurrentLoad,
			&h.Status,
			&h.LastAssignedAt,
			&h.Version,
			&h.CreatedAt,
			&h.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

// Update applies the mutator with an optimistic version check.
func (s *HandlerStore) Update(ctx context.Context, id string, mutate func(*domain.Handler) error) (*domain.Handler, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	readVersion := current.Version
	if err := mutate(current); err != nil {
		return nil, err
	}
	if current.CurrentLoad < 0 || current.CurrentLoad > current.MaxConcurrentCases {
		panic("handler invariant violated: current_load out of bounds: " + id)
	}
	current.Version = readVersion + 1

	const query = `
        UPDATE handlers SET skills=$1, max_concurrent_cases=$2, current_load=$3, status=$4,
            last_assigned_at=$5, version=$6, updated_at=NOW()
        WHERE id=$7 AND version=$8`
	cmd, err := s.pool.Exec(ctx, query,
		current.Skills,
		current.MaxConcurrentCases,
		current.CurrentLoad,
		current.Status,
		current.LastAssignedAt,
		current.Version,
		id,
		readVersion,
	)
	if err != nil {
		return nil, err
	}
	if cmd.RowsAffected() == 0 {
		return nil, apperrors.NewConflict("handler version changed", map[string]any{"handler_id": id})
	}
	return current, nil
}

func scanHandler(row pgx.Row) (*domain.Handler, error) {
	var h domain.Handler
	if err := row.Scan(
		&h.ID,
		&h.Skills,
		&h.MaxConcurrentCases,
		&h.CurrentLoad,
		&h.Status,
		&h.LastAssignedAt,
		&h.Version,
		&h.CreatedAt,
		&h.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &h, nil
}
