package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/inquiry-router/internal/config"
	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/events"
	"github.com/spec-kit/inquiry-router/internal/notify"
	"github.com/spec-kit/inquiry-router/internal/observability"
	"github.com/spec-kit/inquiry-router/internal/registry"
	"github.com/spec-kit/inquiry-router/internal/store"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

const actorSLAMonitor = "sla-monitor"

// Manager drives the escalation state machine: CREATED → ACKED →
// RESOLVING → RESOLVED, with CREATED → RESOLVED allowed for fast
// resolutions. Creation is idempotent per case; notification delivery
// is asynchronous and never blocks or reverts a state transition.
type Manager struct {
	cases       store.CaseStore
	escalations store.EscalationStore
	ledger      store.AuditLedger
	registry    *registry.Registry
	notifier    notify.Notifier
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics

	targetHandlerID string
	notifyTarget    string
	retrySchedule   []time.Duration
	notifyTimeout   time.Duration

	inflight sync.WaitGroup
}

// Dependencies bundles collaborators for the manager.
type Dependencies struct {
	Cases       store.CaseStore
	Escalations store.EscalationStore
	Ledger      store.AuditLedger
	Registry    *registry.Registry
	Notifier    notify.Notifier
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// NewManager creates the manager.
func NewManager(deps Dependencies, escCfg config.EscalationConfig, notifyCfg config.NotificationConfig) *Manager {
	return &Manager{
		cases:           deps.Cases,
		escalations:     deps.Escalations,
		ledger:          deps.Ledger,
		registry:        deps.Registry,
		notifier:        deps.Notifier,
		dispatcher:      deps.Dispatcher,
		logger:          deps.Logger,
		metrics:         deps.Metrics,
		targetHandlerID: escCfg.TargetHandlerID,
		notifyTarget:    escCfg.NotifyTarget,
		retrySchedule:   notifyCfg.RetrySchedule(),
		notifyTimeout:   notifyCfg.Timeout(),
	}
}

// Create opens an escalation for the case, or returns the already-open
// one with refreshed creation metadata. Safe to call more than once for
// the same breach: at-least-once breach detection relies on it.
func (m *Manager) Create(ctx context.Context, caseID, reason, actor string) (*domain.Escalation, error) {
	if existing, err := m.escalations.GetOpenByCase(ctx, caseID); err == nil {
		refreshed, uerr := m.escalations.Update(ctx, existing.ID, func(e *domain.Escalation) (store.Mutation, error) {
			e.CreatedAt = time.Now()
			// Metadata touch only; the audit record was written with
			// the original create.
			return store.Mutation{}, nil
		})
		if uerr != nil {
			// Lost a race against another refresh; the open record wins.
			refreshed = existing
		}
		// Re-ensure the case reached ESCALATED: the original create may
		// have exhausted its conflict retries, or died between the
		// escalation insert and the case update. The transition is
		// idempotent, so repeated detection converges.
		if err := m.markCaseEscalated(ctx, caseID, refreshed.ID, refreshed.Reason, actor); err != nil {
			m.logger.Warn("case escalation transition pending retry",
				zap.String("case_id", caseID), zap.Error(err))
		}
		return refreshed, nil
	}

	c, err := m.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}

	esc := &domain.Escalation{
		ID:         uuid.NewString(),
		CaseID:     caseID,
		Priority:   c.Priority,
		State:      domain.EscalationCreated,
		Reason:     reason,
		AssignedTo: m.targetHandlerID,
	}
	err = m.escalations.Create(ctx, esc, store.Mutation{
		Actor:  actor,
		Action: domain.AuditEscalationCreated,
		Payload: map[string]any{
			"escalation_id": esc.ID,
			"reason":        reason,
			"priority":      esc.Priority,
		},
	})
	if err != nil {
		if apperrors.IsConflict(err) {
			// Another sweep created it between our check and insert.
			return m.escalations.GetOpenByCase(ctx, caseID)
		}
		return nil, err
	}

	if err := m.markCaseEscalated(ctx, caseID, esc.ID, reason, actor); err != nil {
		m.logger.Warn("case escalation transition pending retry",
			zap.String("case_id", caseID), zap.Error(err))
	}

	m.publish(ctx, events.Event{
		Type:   events.EventEscalationCreated,
		CaseID: caseID,
		Payload: events.CaseEscalatedPayload{
			EscalationID: esc.ID,
			Priority:     esc.Priority,
			Reason:       reason,
		},
	})

	m.inflight.Add(1)
	go m.deliverNotification(esc)

	return esc, nil
}

// markCaseEscalated moves the case into ESCALATED and binds the
// escalation. Unassigned cases are handed to the supervisory target so
// the assignment invariant holds. Conflicts retry against fresh state.
func (m *Manager) markCaseEscalated(ctx context.Context, caseID, escalationID, reason, actor string) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := m.cases.Update(ctx, caseID, func(c *domain.Case) (store.Mutation, error) {
			if c.State == domain.CaseStateEscalated {
				return store.Mutation{}, apperrors.NewConflict("already escalated", nil)
			}
			if !domain.CanTransition(c.State, domain.CaseStateEscalated) {
				return store.Mutation{}, apperrors.NewInvalidTransition("case cannot escalate", map[string]any{
					"case_id": caseID,
					"state":   c.State,
				})
			}
			c.State = domain.CaseStateEscalated
			if c.AssignedHandlerID == nil {
				target := m.targetHandlerID
				c.AssignedHandlerID = &target
			}
			c.EscalationID = &escalationID
			c.DeadlineAt = nil
			return store.Mutation{
				Actor:  actor,
				Action: domain.AuditCaseEscalated,
				Payload: map[string]any{
					"escalation_id": escalationID,
					"reason":        reason,
				},
			}, nil
		})
		if err == nil {
			m.publish(ctx, events.Event{Type: events.EventCaseEscalated, CaseID: caseID})
			return nil
		}
		if apperrors.IsNotFound(err) {
			return nil
		}
		if !apperrors.IsConflict(err) {
			return err
		}
		// Re-read: the conflict may mean the case is already ESCALATED.
		if c, getErr := m.cases.Get(ctx, caseID); getErr == nil && c.State == domain.CaseStateEscalated {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// Ack records a supervisor accepting the escalation.
func (m *Manager) Ack(ctx context.Context, escalationID, actor string) (*domain.Escalation, error) {
	return m.transition(ctx, escalationID, domain.EscalationAcked, actor, domain.AuditEscalationAcked, "")
}

// StartResolving records active supervisory work on the escalation.
func (m *Manager) StartResolving(ctx context.Context, escalationID, actor string) (*domain.Escalation, error) {
	return m.transition(ctx, escalationID, domain.EscalationResolving, actor, domain.AuditEscalationWorked, "")
}

// Resolve closes out the escalation and resolves the underlying case
// unless it was independently closed already.
func (m *Manager) Resolve(ctx context.Context, escalationID, notes, actor string) (*domain.Escalation, error) {
	esc, err := m.transition(ctx, escalationID, domain.EscalationResolved, actor, domain.AuditEscalationResolved, notes)
	if err != nil {
		return nil, err
	}

	var releasedHandler string
	_, err = m.cases.Update(ctx, esc.CaseID, func(c *domain.Case) (store.Mutation, error) {
		if c.State == domain.CaseStateClosed || c.State == domain.CaseStateResolved {
			return store.Mutation{}, apperrors.NewConflict("case already settled", nil)
		}
		if c.AssignedHandlerID != nil {
			releasedHandler = *c.AssignedHandlerID
		}
		c.State = domain.CaseStateResolved
		c.AssignedHandlerID = nil
		c.DeadlineAt = nil
		return store.Mutation{
			Actor:  actor,
			Action: domain.AuditCaseResolved,
			Payload: map[string]any{
				"escalation_id": esc.ID,
				"notes":         notes,
			},
		}, nil
	})
	if err != nil && !apperrors.IsConflict(err) && !apperrors.IsNotFound(err) {
		return nil, err
	}
	if err == nil {
		if releasedHandler != "" {
			if relErr := m.registry.ReleaseSlot(ctx, releasedHandler); relErr != nil {
				m.logger.Warn("handler release failed", zap.String("handler_id", releasedHandler), zap.Error(relErr))
			}
		}
		m.publish(ctx, events.Event{Type: events.EventCaseResolved, CaseID: esc.CaseID})
	}
	return esc, nil
}

// Get returns one escalation.
func (m *Manager) Get(ctx context.Context, escalationID string) (*domain.Escalation, error) {
	return m.escalations.Get(ctx, escalationID)
}

func (m *Manager) transition(ctx context.Context, escalationID string, to domain.EscalationState, actor string, action domain.AuditAction, notes string) (*domain.Escalation, error) {
	return m.escalations.Update(ctx, escalationID, func(e *domain.Escalation) (store.Mutation, error) {
		if !domain.CanEscalationTransition(e.State, to) {
			return store.Mutation{}, apperrors.NewInvalidTransition("illegal escalation transition", map[string]any{
				"escalation_id": escalationID,
				"from":          e.State,
				"to":            to,
			})
		}
		e.State = to
		if notes != "" {
			e.ResolutionNotes = notes
		}
		return store.Mutation{
			Actor:  actor,
			Action: action,
			Payload: map[string]any{
				"escalation_id": e.ID,
				"state":         to,
			},
		}, nil
	})
}

// deliverNotification attempts delivery once per schedule entry,
// waiting the entry's backoff before each attempt. Exhausted retries
// are recorded in the ledger; the escalation stays CREATED and visible
// to manual follow-up.
func (m *Manager) deliverNotification(esc *domain.Escalation) {
	defer m.inflight.Done()

	template := "escalation_created"
	if esc.Priority == domain.PriorityCritical {
		template = "escalation_created_urgent"
	}
	payload := map[string]any{
		"escalation_id": esc.ID,
		"case_id":       esc.CaseID,
		"priority":      esc.Priority,
		"reason":        esc.Reason,
	}

	var lastErr error
	for attempt, backoff := range m.retrySchedule {
		time.Sleep(backoff)
		ctx, cancel := context.WithTimeout(context.Background(), m.notifyTimeout)
		lastErr = m.notifier.Send(ctx, m.notifyTarget, template, payload)
		cancel()
		if lastErr == nil {
			return
		}
		m.logger.Warn("escalation notification attempt failed",
			zap.String("escalation_id", esc.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	m.metrics.RecordNotificationFailure()
	failure := apperrors.NewNotificationFailure(lastErr)
	if err := m.ledger.Append(context.Background(), &domain.AuditEvent{
		CaseID: esc.CaseID,
		Actor:  actorSLAMonitor,
		Action: domain.AuditNotificationFailed,
		Payload: map[string]any{
			"escalation_id": esc.ID,
			"error":         failure.Error(),
		},
	}); err != nil {
		m.logger.Error("notification failure audit append failed", zap.String("case_id", esc.CaseID), zap.Error(err))
	}
}

// DrainNotifications waits for in-flight deliveries. Used in tests.
func (m *Manager) DrainNotifications() {
	m.inflight.Wait()
}

func (m *Manager) publish(ctx context.Context, event events.Event) {
	if m.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = m.dispatcher.Publish(ctx, event)
}
