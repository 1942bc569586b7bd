package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/inquiry-router/internal/config"
	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/events"
	"github.com/spec-kit/inquiry-router/internal/observability"
	"github.com/spec-kit/inquiry-router/internal/registry"
	"github.com/spec-kit/inquiry-router/internal/sla"
	"github.com/spec-kit/inquiry-router/internal/store"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

const (
	actorRouter   = "routing-engine"
	sweepPageSize = 200
)

// Engine assigns QUEUED cases to eligible handlers, or leaves them
// queued when none is eligible. It re-evaluates on every handler
// registry change and on a periodic sweep; the sweep is the correctness
// backstop because change notifications are best effort.
type Engine struct {
	cases      store.CaseStore
	registry   *registry.Registry
	ledger     store.AuditLedger
	calc       *sla.Calculator
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics

	maxRetries    int
	retryBackoff  time.Duration
	sweepInterval time.Duration

	scheduler *cron.Cron
	baseCtx   context.Context
	sweepGate chan struct{}
}

// Dependencies bundles collaborators for the engine.
type Dependencies struct {
	Cases      store.CaseStore
	Registry   *registry.Registry
	Ledger     store.AuditLedger
	Calculator *sla.Calculator
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewEngine creates the engine.
func NewEngine(deps Dependencies, cfg config.RoutingConfig) *Engine {
	gate := make(chan struct{}, 1)
	gate <- struct{}{}
	return &Engine{
		cases:         deps.Cases,
		registry:      deps.Registry,
		ledger:        deps.Ledger,
		calc:          deps.Calculator,
		dispatcher:    deps.Dispatcher,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		maxRetries:    cfg.MaxRetries,
		retryBackoff:  cfg.RetryBackoff(),
		sweepInterval: cfg.SweepInterval(),
		sweepGate:     gate,
	}
}

// Start wires the event trigger and the periodic sweep. The two
// triggers are deliberately redundant: capacity-change notifications
// are not guaranteed to be delivered.
func (e *Engine) Start(ctx context.Context) error {
	e.baseCtx = ctx
	e.dispatcher.Subscribe(events.EventHandlerChanged, func(_ context.Context, _ events.Event) error {
		e.trySweep()
		return nil
	})
	e.scheduler = cron.New()
	if _, err := e.scheduler.AddFunc(fmt.Sprintf("@every %s", e.sweepInterval), e.trySweep); err != nil {
		return err
	}
	e.scheduler.Start()
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to drain,
// bounded by ctx.
func (e *Engine) Stop(ctx context.Context) {
	if e.scheduler == nil {
		return
	}
	done := e.scheduler.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// trySweep runs one sweep unless another is already running. Triggers
// arriving mid-sweep are absorbed; the periodic schedule retries.
func (e *Engine) trySweep() {
	select {
	case <-e.sweepGate:
	default:
		return
	}
	defer func() { e.sweepGate <- struct{}{} }()
	if err := e.Sweep(e.baseCtx); err != nil {
		e.logger.Error("routing sweep failed", zap.Error(err))
	}
}

// Sweep walks all QUEUED cases and attempts to route each one.
func (e *Engine) Sweep(ctx context.Context) error {
	cursor := ""
	for {
		page, err := e.cases.ListByState(ctx, domain.CaseStateQueued, cursor, sweepPageSize)
		if err != nil {
			return err
		}
		for i := range page {
			if err := e.RouteCase(ctx, page[i].ID); err != nil {
				e.logger.Error("routing failed", zap.String("case_id", page[i].ID), zap.Error(err))
			}
		}
		if len(page) < sweepPageSize {
			return nil
		}
		cursor = page[len(page)-1].ID
	}
}

// RouteCase assigns one QUEUED case. A race lost to another router
// instance is retried against fresh state up to the configured bound;
// after that the failure is recorded in the ledger and the case stays
// QUEUED for the next sweep. A vanished or already-routed case is
// treated as settled.
func (e *Engine) RouteCase(ctx context.Context, caseID string) error {
	for attempt := 0; ; attempt++ {
		routed, retry, err := e.attempt(ctx, caseID)
		if err != nil {
			return err
		}
		if !retry {
			if routed {
				e.metrics.RecordRouting("assigned")
			} else {
				e.metrics.RecordRouting("queued")
			}
			return nil
		}
		e.metrics.RecordRouting("conflict")
		if attempt >= e.maxRetries {
			break
		}
		if e.retryBackoff > 0 {
			time.Sleep(e.retryBackoff)
		}
	}

	e.metrics.RecordRouting("failed")
	if err := e.ledger.Append(ctx, &domain.AuditEvent{
		CaseID: caseID,
		Actor:  actorRouter,
		Action: domain.AuditRoutingFailed,
		Payload: map[string]any{
			"retries": e.maxRetries,
		},
	}); err != nil {
		e.logger.Error("routing failure audit append failed", zap.String("case_id", caseID), zap.Error(err))
	}
	return nil
}

// attempt makes one pass: snapshot, select, reserve, commit. The retry
// flag distinguishes optimistic races from settled outcomes.
func (e *Engine) attempt(ctx context.Context, caseID string) (routed, retry bool, err error) {
	c, err := e.cases.Get(ctx, caseID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return false, false, nil
		}
		return false, false, err
	}
	if c.State != domain.CaseStateQueued {
		return false, false, nil
	}

	eligible, err := e.registry.Eligible(ctx, c.Category)
	if err != nil {
		return false, false, err
	}
	pick := SelectHandler(eligible)
	if pick == nil {
		return false, false, nil
	}

	now := time.Now()
	reserved, err := e.registry.ReserveSlot(ctx, pick.ID, now)
	if err != nil {
		if apperrors.IsConflict(err) || apperrors.IsNotFound(err) {
			return false, true, nil
		}
		return false, false, err
	}

	deadline := e.calc.DeadlineFrom(now, c.Priority)
	_, err = e.cases.Update(ctx, caseID, func(c *domain.Case) (store.Mutation, error) {
		if c.State != domain.CaseStateQueued {
			return store.Mutation{}, apperrors.NewConflict("case no longer queued", map[string]any{"case_id": caseID})
		}
		c.State = domain.CaseStateAssigned
		handlerID := reserved.ID
		c.AssignedHandlerID = &handlerID
		d := deadline
		c.DeadlineAt = &d
		return store.Mutation{
			Actor:  actorRouter,
			Action: domain.AuditCaseAssigned,
			Payload: map[string]any{
				"handler_id":  reserved.ID,
				"deadline_at": deadline,
				"priority":    c.Priority,
			},
		}, nil
	})
	if err != nil {
		// Give the reserved slot back before deciding what the error means.
		if relErr := e.registry.ReleaseSlot(ctx, reserved.ID); relErr != nil {
			e.logger.Error("slot release failed", zap.String("handler_id", reserved.ID), zap.Error(relErr))
		}
		if apperrors.IsNotFound(err) {
			return false, false, nil
		}
		if apperrors.IsConflict(err) {
			return false, true, nil
		}
		return false, false, err
	}

	e.publishAssigned(ctx, caseID, reserved.ID, c.Priority)
	e.logger.Info("case assigned",
		zap.String("case_id", caseID),
		zap.String("handler_id", reserved.ID),
		zap.String("priority", string(c.Priority)))
	return true, false, nil
}

func (e *Engine) publishAssigned(ctx context.Context, caseID, handlerID string, priority domain.CasePriority) {
	if e.dispatcher == nil {
		return
	}
	_ = e.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventCaseAssigned,
		CaseID:    caseID,
		HandlerID: handlerID,
		Timestamp: time.Now(),
		Payload: events.CaseAssignedPayload{
			HandlerID: handlerID,
			Priority:  priority,
		},
	})
}
