package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/store"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

func newQueuedCase(t *testing.T, s *CaseStore) *domain.Case {
	t.Helper()
	deadline := time.Now().Add(time.Hour)
	c := &domain.Case{
		Channel:      "email",
		CustomerTier: domain.TierStandard,
		Category:     "billing",
		Priority:     domain.PriorityMedium,
		State:        domain.CaseStateQueued,
		DeadlineAt:   &deadline,
	}
	err := s.Create(context.Background(), c, store.Mutation{
		Actor:  "intake",
		Action: domain.AuditCaseCreated,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func TestCreateAppendsAuditEvent(t *testing.T) {
	ledger := NewAuditLedger()
	s := NewCaseStore(ledger)
	c := newQueuedCase(t, s)

	events, err := ledger.Query(context.Background(), c.ID, 0, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0].Action != domain.AuditCaseCreated {
		t.Fatalf("unexpected action %s", events[0].Action)
	}
	if events[0].Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", events[0].Sequence)
	}
}

func TestUpdateIsAtomicWithAudit(t *testing.T) {
	ledger := NewAuditLedger()
	s := NewCaseStore(ledger)
	c := newQueuedCase(t, s)

	updated, err := s.Update(context.Background(), c.ID, func(c *domain.Case) (store.Mutation, error) {
		c.State = domain.CaseStateClosed
		c.DeadlineAt = nil
		return store.Mutation{Actor: "op-1", Action: domain.AuditCaseClosed}, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}

	events, _ := ledger.Query(context.Background(), c.ID, 0, 10)
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	if events[1].Action != domain.AuditCaseClosed || events[1].Sequence != 2 {
		t.Fatalf("unexpected second event %+v", events[1])
	}
}

func TestUpdateMutatorErrorLeavesStateUntouched(t *testing.T) {
	ledger := NewAuditLedger()
	s := NewCaseStore(ledger)
	c := newQueuedCase(t, s)

	wantErr := apperrors.NewInvalidTransition("nope", nil)
	_, err := s.Update(context.Background(), c.ID, func(c *domain.Case) (store.Mutation, error) {
		c.State = domain.CaseStateClosed
		return store.Mutation{}, wantErr
	})
	if err == nil {
		t.Fatal("expected mutator error")
	}

	got, _ := s.Get(context.Background(), c.ID)
	if got.State != domain.CaseStateQueued || got.Version != 1 {
		t.Fatalf("state leaked through failed update: %+v", got)
	}
	events, _ := ledger.Query(context.Background(), c.ID, 0, 10)
	if len(events) != 1 {
		t.Fatalf("failed update must not append audit events, got %d", len(events))
	}
}

func TestConcurrentUpdatesKeepSequenceContiguous(t *testing.T) {
	ledger := NewAuditLedger()
	s := NewCaseStore(ledger)
	c := newQueuedCase(t, s)

	const workers = 20
	var wg sync.WaitGroup
	applied := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := s.Update(context.Background(), c.ID, func(c *domain.Case) (store.Mutation, error) {
					c.SentimentScore -= 0.01
					return store.Mutation{Actor: "customer", Action: domain.AuditMessageReceived}, nil
				})
				if err == nil {
					applied <- struct{}{}
					return
				}
				if !apperrors.IsConflict(err) {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(applied)

	got, _ := s.Get(context.Background(), c.ID)
	if got.Version != int64(workers)+1 {
		t.Fatalf("expected version %d, got %d", workers+1, got.Version)
	}

	events, _ := ledger.Query(context.Background(), c.ID, 0, workers+10)
	if len(events) != workers+1 {
		t.Fatalf("expected %d events, got %d", workers+1, len(events))
	}
	for i, event := range events {
		if event.Sequence != int64(i)+1 {
			t.Fatalf("sequence gap at index %d: %d", i, event.Sequence)
		}
	}
}

func TestUpdateConflictsOnStaleVersion(t *testing.T) {
	ledger := NewAuditLedger()
	s := NewCaseStore(ledger)
	c := newQueuedCase(t, s)

	// First writer lands between the second writer's read and commit.
	blocker := make(chan struct{})
	readDone := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.Update(context.Background(), c.ID, func(c *domain.Case) (store.Mutation, error) {
			close(readDone)
			<-blocker
			c.SentimentScore = -0.2
			return store.Mutation{Actor: "customer", Action: domain.AuditMessageReceived}, nil
		})
		done <- err
	}()
	<-readDone

	if _, err := s.Update(context.Background(), c.ID, func(c *domain.Case) (store.Mutation, error) {
		c.SentimentScore = -0.1
		return store.Mutation{Actor: "customer", Action: domain.AuditMessageReceived}, nil
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	close(blocker)

	if err := <-done; !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ledger := NewAuditLedger()
	s := NewCaseStore(ledger)
	c := newQueuedCase(t, s)

	first, _ := s.Get(context.Background(), c.ID)
	mutated := time.Now().Add(48 * time.Hour)
	first.DeadlineAt = &mutated
	first.State = domain.CaseStateClosed

	second, _ := s.Get(context.Background(), c.ID)
	if second.State != domain.CaseStateQueued {
		t.Fatal("stored case mutated through returned copy")
	}
	if second.DeadlineAt.Equal(mutated) {
		t.Fatal("stored deadline aliased to returned copy")
	}
}

func TestListByStatePagesByID(t *testing.T) {
	ledger := NewAuditLedger()
	s := NewCaseStore(ledger)
	for i := 0; i < 5; i++ {
		newQueuedCase(t, s)
	}

	first, err := s.ListByState(context.Background(), domain.CaseStateQueued, "", 3)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3, got %d", len(first))
	}
	rest, err := s.ListByState(context.Background(), domain.CaseStateQueued, first[len(first)-1].ID, 3)
	if err != nil {
		t.Fatalf("ListByState page 2: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected 2, got %d", len(rest))
	}
	seen := map[string]bool{}
	for _, c := range append(first, rest...) {
		if seen[c.ID] {
			t.Fatalf("case %s returned twice", c.ID)
		}
		seen[c.ID] = true
	}
}
