package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/events"
	"github.com/spec-kit/inquiry-router/internal/store"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// Registry fronts the handler store for the routing core. It reads
// handlers, atomically adjusts load and status, and announces every
// change on the dispatcher. Announcements are best effort; the routing
// sweep catches anything lost.
type Registry struct {
	handlers   store.HandlerStore
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// New builds the registry.
func New(handlers store.HandlerStore, dispatcher events.Dispatcher, logger *zap.Logger) *Registry {
	return &Registry{handlers: handlers, dispatcher: dispatcher, logger: logger}
}

const releaseRetries = 5

// Get returns one handler.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Handler, error) {
	return r.handlers.Get(ctx, id)
}

// List returns all handlers.
func (r *Registry) List(ctx context.Context) ([]domain.Handler, error) {
	return r.handlers.List(ctx)
}

// Eligible returns the handlers that may receive a case of the given
// category: matching skill, AVAILABLE, spare capacity.
func (r *Registry) Eligible(ctx context.Context, category string) ([]domain.Handler, error) {
	all, err := r.handlers.List(ctx)
	if err != nil {
		return nil, err
	}
	var eligible []domain.Handler
	for _, h := range all {
		if h.EligibleFor(category) {
			eligible = append(eligible, h)
		}
	}
	return eligible, nil
}

// Upsert registers a handler or updates its skills, capacity, and
// status. Current load and last assignment are never overwritten here;
// those belong to the routing core.
func (r *Registry) Upsert(ctx context.Context, h *domain.Handler) (*domain.Handler, error) {
	if existing, err := r.handlers.Get(ctx, h.ID); err == nil {
		h.CurrentLoad = existing.CurrentLoad
		h.LastAssignedAt = existing.LastAssignedAt
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}
	if err := r.handlers.Put(ctx, h); err != nil {
		return nil, err
	}
	r.announce(ctx, h)
	return h, nil
}

// ReserveSlot increments the handler's load for a new assignment. The
// optimistic update fails with CONFLICT when another router instance
// moved the record first, and when the handler is no longer eligible
// the reservation is refused the same way so the caller re-selects
// against fresh state.
func (r *Registry) ReserveSlot(ctx context.Context, id string, assignedAt time.Time) (*domain.Handler, error) {
	updated, err := r.handlers.Update(ctx, id, func(h *domain.Handler) error {
		if h.Status != domain.HandlerStatusAvailable {
			return apperrors.NewConflict("handler unavailable", map[string]any{"handler_id": id, "status": h.Status})
		}
		if h.CurrentLoad >= h.MaxConcurrentCases {
			return apperrors.NewConflict("handler at capacity", map[string]any{"handler_id": id})
		}
		h.CurrentLoad++
		at := assignedAt
		h.LastAssignedAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.announce(ctx, updated)
	return updated, nil
}

// ReleaseSlot frees one unit of handler capacity when a case leaves the
// handler (resolved, closed, reassigned). Missing handlers and zero
// load are treated as already settled. A lost optimistic race is
// retried here against fresh state rather than surfaced: callers have
// no recovery better than dropping the decrement, which would leak the
// slot for good.
func (r *Registry) ReleaseSlot(ctx context.Context, id string) error {
	var lastErr error
	for attempt := 0; attempt < releaseRetries; attempt++ {
		updated, err := r.handlers.Update(ctx, id, func(h *domain.Handler) error {
			if h.CurrentLoad > 0 {
				h.CurrentLoad--
			}
			return nil
		})
		if err == nil {
			r.announce(ctx, updated)
			return nil
		}
		if apperrors.IsNotFound(err) {
			return nil
		}
		if !apperrors.IsConflict(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// SetStatus flips handler availability. OFFLINE handlers keep their
// existing assignments but receive no new ones.
func (r *Registry) SetStatus(ctx context.Context, id string, status domain.HandlerStatus) (*domain.Handler, error) {
	updated, err := r.handlers.Update(ctx, id, func(h *domain.Handler) error {
		h.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.announce(ctx, updated)
	return updated, nil
}

func (r *Registry) announce(ctx context.Context, h *domain.Handler) {
	if r.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventHandlerChanged,
		HandlerID: h.ID,
		Timestamp: time.Now(),
		Payload: events.HandlerChangedPayload{
			Status: h.Status,
			Load:   h.CurrentLoad,
		},
	}
	if err := r.dispatcher.Publish(ctx, event); err != nil {
		r.logger.Warn("handler change announcement failed", zap.String("handler_id", h.ID), zap.Error(err))
	}
}
