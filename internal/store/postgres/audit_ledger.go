package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/inquiry-router/internal/domain"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// AuditLedger stores audit events in the append-only audit_events table
// keyed by (case_id, sequence_no).
type AuditLedger struct {
	pool *pgxpool.Pool
}

// NewAuditLedger builds the ledger.
func NewAuditLedger(pool *pgxpool.Pool) *AuditLedger {
	return &AuditLedger{pool: pool}
}

const appendEventQuery = `
        INSERT INTO audit_events (case_id, actor, action, sequence_no, payload)
        VALUES ($1,$2,$3,
            (SELECT COALESCE(MAX(sequence_no),0)+1 FROM audit_events WHERE case_id=$1),
            $4)
        RETURNING id, sequence_no, created_at`

// Append inserts the event with the next per-case sequence number.
// Concurrent writers can collide on the sequence; the unique key makes
// the collision visible and the insert is retried.
func (l *AuditLedger) Append(ctx context.Context, event *domain.AuditEvent) error {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		err := l.pool.QueryRow(ctx, appendEventQuery,
			event.CaseID,
			event.Actor,
			event.Action,
			event.Payload,
		).Scan(&event.ID, &event.Sequence, &event.Timestamp)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return err
		}
		lastErr = err
	}
	return apperrors.NewConflict("audit sequence contention", map[string]any{"case_id": event.CaseID, "error": lastErr.Error()})
}

// Query returns events for a case ordered by sequence number.
func (l *AuditLedger) Query(ctx context.Context, caseID string, afterSeq int64, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
        SELECT id, case_id, actor, action, sequence_no, payload, created_at
        FROM audit_events
        WHERE case_id=$1 AND sequence_no > $2
        ORDER BY sequence_no ASC
        LIMIT $3`
	rows, err := l.pool.Query(ctx, query, caseID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuditEvent
	for rows.Next() {
		var event domain.AuditEvent
		if err := rows.Scan(
			&event.ID,
			&event.CaseID,
			&event.Actor,
			&event.Action,
			&event.Sequence,
			&event.Payload,
			&event.Timestamp,
		); err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
