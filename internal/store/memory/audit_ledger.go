package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/inquiry-router/internal/domain"
)

// AuditLedger is the in-memory append-only ledger.
type AuditLedger struct {
	mu     sync.Mutex
	events map[string][]domain.AuditEvent
}

// NewAuditLedger builds an empty ledger.
func NewAuditLedger() *AuditLedger {
	return &AuditLedger{events: make(map[string][]domain.AuditEvent)}
}

// Append assigns ID, timestamp and per-case sequence, then stores the
// event. Events are immutable once appended.
func (l *AuditLedger) Append(ctx context.Context, event *domain.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(event)
	return nil
}

func (l *AuditLedger) appendLocked(event *domain.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Sequence = int64(len(l.events[event.CaseID])) + 1
	l.events[event.CaseID] = append(l.events[event.CaseID], *event)
}

// Query returns events for a case ordered by sequence, restartable via
// the afterSeq cursor.
func (l *AuditLedger) Query(ctx context.Context, caseID string, afterSeq int64, limit int) ([]domain.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var result []domain.AuditEvent
	for _, event := range l.events[caseID] {
		if event.Sequence <= afterSeq {
			continue
		}
		result = append(result, event)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}
