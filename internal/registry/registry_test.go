package registry

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/store/memory"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

func newTestRegistry(t *testing.T) (*Registry, *memory.HandlerStore) {
	t.Helper()
	handlers := memory.NewHandlerStore()
	return New(handlers, nil, zap.NewNop()), handlers
}

func putHandler(t *testing.T, handlers *memory.HandlerStore, h domain.Handler) {
	t.Helper()
	if err := handlers.Put(context.Background(), &h); err != nil {
		t.Fatalf("Put %s: %v", h.ID, err)
	}
}

func TestEligibleFiltersSkillStatusAndCapacity(t *testing.T) {
	reg, handlers := newTestRegistry(t)
	putHandler(t, handlers, domain.Handler{ID: "skilled", Skills: []string{"billing"}, MaxConcurrentCases: 3, Status: domain.HandlerStatusAvailable})
	putHandler(t, handlers, domain.Handler{ID: "unskilled", Skills: []string{"outage"}, MaxConcurrentCases: 3, Status: domain.HandlerStatusAvailable})
	putHandler(t, handlers, domain.Handler{ID: "offline", Skills: []string{"billing"}, MaxConcurrentCases: 3, Status: domain.HandlerStatusOffline})
	putHandler(t, handlers, domain.Handler{ID: "full", Skills: []string{"billing"}, MaxConcurrentCases: 2, CurrentLoad: 2, Status: domain.HandlerStatusAvailable})

	eligible, err := reg.Eligible(context.Background(), "billing")
	if err != nil {
		t.Fatalf("Eligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != "skilled" {
		t.Fatalf("expected only skilled handler, got %+v", eligible)
	}
}

func TestReserveSlotRefusesAtCapacity(t *testing.T) {
	reg, handlers := newTestRegistry(t)
	putHandler(t, handlers, domain.Handler{ID: "h1", Skills: []string{"billing"}, MaxConcurrentCases: 1, Status: domain.HandlerStatusAvailable})

	now := time.Now()
	reserved, err := reg.ReserveSlot(context.Background(), "h1", now)
	if err != nil {
		t.Fatalf("first ReserveSlot: %v", err)
	}
	if reserved.CurrentLoad != 1 || reserved.LastAssignedAt == nil {
		t.Fatalf("reservation not recorded: %+v", reserved)
	}

	if _, err := reg.ReserveSlot(context.Background(), "h1", now); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict at capacity, got %v", err)
	}
}

func TestReserveSlotRefusesUnavailableHandler(t *testing.T) {
	reg, handlers := newTestRegistry(t)
	putHandler(t, handlers, domain.Handler{ID: "h1", Skills: []string{"billing"}, MaxConcurrentCases: 3, Status: domain.HandlerStatusBusy})

	if _, err := reg.ReserveSlot(context.Background(), "h1", time.Now()); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict for BUSY handler, got %v", err)
	}
}

func TestReleaseSlotIsIdempotent(t *testing.T) {
	reg, handlers := newTestRegistry(t)
	putHandler(t, handlers, domain.Handler{ID: "h1", Skills: []string{"billing"}, MaxConcurrentCases: 2, Status: domain.HandlerStatusAvailable})

	if _, err := reg.ReserveSlot(context.Background(), "h1", time.Now()); err != nil {
		t.Fatalf("ReserveSlot: %v", err)
	}
	if err := reg.ReleaseSlot(context.Background(), "h1"); err != nil {
		t.Fatalf("ReleaseSlot: %v", err)
	}
	// Releasing below zero and releasing unknown handlers both settle
	// quietly.
	if err := reg.ReleaseSlot(context.Background(), "h1"); err != nil {
		t.Fatalf("second ReleaseSlot: %v", err)
	}
	if err := reg.ReleaseSlot(context.Background(), "ghost"); err != nil {
		t.Fatalf("ReleaseSlot on unknown handler: %v", err)
	}

	h, _ := handlers.Get(context.Background(), "h1")
	if h.CurrentLoad != 0 {
		t.Fatalf("load went negative or stuck: %d", h.CurrentLoad)
	}
}

// conflictingHandlerStore fails a set number of leading updates with an
// optimistic-concurrency conflict before delegating.
type conflictingHandlerStore struct {
	*memory.HandlerStore
	conflicts int
}

func (s *conflictingHandlerStore) Update(ctx context.Context, id string, mutate func(*domain.Handler) error) (*domain.Handler, error) {
	if s.conflicts > 0 {
		s.conflicts--
		return nil, apperrors.NewConflict("handler version changed", map[string]any{"handler_id": id})
	}
	return s.HandlerStore.Update(ctx, id, mutate)
}

func TestReleaseSlotRetriesLostRace(t *testing.T) {
	inner := memory.NewHandlerStore()
	flaky := &conflictingHandlerStore{HandlerStore: inner, conflicts: 2}
	reg := New(flaky, nil, zap.NewNop())
	putHandler(t, inner, domain.Handler{ID: "h1", Skills: []string{"billing"}, MaxConcurrentCases: 2, CurrentLoad: 1, Status: domain.HandlerStatusAvailable})

	// A concurrent reservation bumping the version must not drop the
	// decrement; the slot would leak for good.
	if err := reg.ReleaseSlot(context.Background(), "h1"); err != nil {
		t.Fatalf("ReleaseSlot must absorb lost races: %v", err)
	}
	h, _ := inner.Get(context.Background(), "h1")
	if h.CurrentLoad != 0 {
		t.Fatalf("decrement lost: load %d", h.CurrentLoad)
	}

	// Pathological contention still surfaces after bounded attempts.
	flaky.conflicts = 100
	if err := reg.ReleaseSlot(context.Background(), "h1"); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict after exhausted retries, got %v", err)
	}
}

func TestUpsertPreservesLoad(t *testing.T) {
	reg, handlers := newTestRegistry(t)
	putHandler(t, handlers, domain.Handler{ID: "h1", Skills: []string{"billing"}, MaxConcurrentCases: 2, Status: domain.HandlerStatusAvailable})
	if _, err := reg.ReserveSlot(context.Background(), "h1", time.Now()); err != nil {
		t.Fatalf("ReserveSlot: %v", err)
	}

	updated, err := reg.Upsert(context.Background(), &domain.Handler{
		ID:                 "h1",
		Skills:             []string{"billing", "outage"},
		MaxConcurrentCases: 5,
		Status:             domain.HandlerStatusAvailable,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if updated.CurrentLoad != 1 {
		t.Fatalf("profile update clobbered load: %d", updated.CurrentLoad)
	}
	if updated.MaxConcurrentCases != 5 || len(updated.Skills) != 2 {
		t.Fatalf("profile not updated: %+v", updated)
	}
}
