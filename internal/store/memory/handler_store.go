package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/inquiry-router/internal/domain"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// HandlerStore is the in-memory handler registry backing store. Load
// and status changes go through the same optimistic-update discipline
// as cases, preventing lost updates under concurrent assignment.
type HandlerStore struct {
	mu       sync.RWMutex
	handlers map[string]domain.Handler
}

// NewHandlerStore builds an empty handler store.
func NewHandlerStore() *HandlerStore {
	return &HandlerStore{handlers: make(map[string]domain.Handler)}
}

// Put inserts or replaces a handler record. Used by seeding and the
// external administrative path.
func (s *HandlerStore) Put(ctx context.Context, h *domain.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.handlers[h.ID]; ok {
		h.Version = existing.Version + 1
		h.CreatedAt = existing.CreatedAt
	} else {
		h.Version = 1
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	s.handlers[h.ID] = cloneHandler(*h)
	return nil
}

// Get returns a copy of the handler or a NOT_FOUND error.
func (s *HandlerStore) Get(ctx context.Context, id string) (*domain.Handler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.handlers[id]
	if !ok {
		return nil, apperrors.NewNotFound("handler", map[string]any{"handler_id": id})
	}
	copied := cloneHandler(stored)
	return &copied, nil
}

// List returns all handlers ordered by ID.
func (s *HandlerStore) List(ctx context.Context) ([]domain.Handler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Handler, 0, len(s.handlers))
	for _, stored := range s.handlers {
		result = append(result, cloneHandler(stored))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Update applies the mutator with an optimistic version check,
// returning CONFLICT when the stored record moved underneath the read.
func (s *HandlerStore) Update(ctx context.Context, id string, mutate func(*domain.Handler) error) (*domain.Handler, error) {
	s.mu.RLock()
	stored, ok := s.handlers[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFound("handler", map[string]any{"handler_id": id})
	}

	working := cloneHandler(stored)
	if err := mutate(&working); err != nil {
		return nil, err
	}
	if working.CurrentLoad < 0 || working.CurrentLoad > working.MaxConcurrentCases {
		panic("handler invariant violated: current_load out of bounds: " + id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.handlers[id]
	if !ok {
		return nil, apperrors.NewNotFound("handler", map[string]any{"handler_id": id})
	}
	if current.Version != working.Version {
		return nil, apperrors.NewConflict("handler version changed", map[string]any{"handler_id": id})
	}
	working.Version++
	working.UpdatedAt = time.Now()
	s.handlers[id] = cloneHandler(working)
	result := cloneHandler(working)
	return &result, nil
}

func cloneHandler(h domain.Handler) domain.Handler {
	copied := h
	copied.Skills = append([]string(nil), h.Skills...)
	if h.LastAssignedAt != nil {
		t := *h.LastAssignedAt
		copied.LastAssignedAt = &t
	}
	return copied
}
