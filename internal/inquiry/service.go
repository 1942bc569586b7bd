package inquiry

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/events"
	"github.com/spec-kit/inquiry-router/internal/registry"
	"github.com/spec-kit/inquiry-router/internal/routing"
	"github.com/spec-kit/inquiry-router/internal/sentiment"
	"github.com/spec-kit/inquiry-router/internal/sla"
	"github.com/spec-kit/inquiry-router/internal/store"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

const actorIntake = "intake"

// Service owns the case lifecycle outside of routing and escalation:
// intake of inbound messages, sentiment-driven priority updates, and
// explicit close.
type Service struct {
	cases    store.CaseStore
	ledger   store.AuditLedger
	registry *registry.Registry
	router   *routing.Engine
	scorer   sentiment.Scorer
	calc     *sla.Calculator
	policy   domain.PriorityPolicy

	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// Dependencies bundles collaborators for the service.
type Dependencies struct {
	Cases      store.CaseStore
	Ledger     store.AuditLedger
	Registry   *registry.Registry
	Router     *routing.Engine
	Scorer     sentiment.Scorer
	Calculator *sla.Calculator
	Policy     domain.PriorityPolicy
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewService creates the service.
func NewService(deps Dependencies) *Service {
	return &Service{
		cases:      deps.Cases,
		ledger:     deps.Ledger,
		registry:   deps.Registry,
		router:     deps.Router,
		scorer:     deps.Scorer,
		calc:       deps.Calculator,
		policy:     deps.Policy,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
	}
}

// CreateInput describes a first inbound message.
type CreateInput struct {
	Channel      string
	CustomerTier domain.CustomerTier
	Category     string
	Message      string
}

// Create opens a case for a first inbound message: score sentiment
// (fail-open on collaborator errors), derive priority, start the SLA
// deadline, queue, and attempt an immediate routing pass.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Case, error) {
	if strings.TrimSpace(input.Category) == "" {
		return nil, apperrors.NewValidationError("category required", nil)
	}

	score := s.scoreMessage(ctx, input.Message, 0)
	priority := domain.DerivePriority(s.policy, input.CustomerTier, score, input.Category)
	now := time.Now()
	deadline := s.calc.DeadlineFrom(now, priority)

	c := &domain.Case{
		Channel:        input.Channel,
		CustomerTier:   input.CustomerTier,
		Category:       input.Category,
		SentimentScore: score,
		Priority:       priority,
		State:          domain.CaseStateQueued,
		DeadlineAt:     &deadline,
	}
	err := s.cases.Create(ctx, c, store.Mutation{
		Actor:  actorIntake,
		Action: domain.AuditCaseCreated,
		Payload: map[string]any{
			"channel":   input.Channel,
			"category":  input.Category,
			"tier":      input.CustomerTier,
			"priority":  priority,
			"sentiment": score,
		},
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{Type: events.EventCaseCreated, CaseID: c.ID})

	if err := s.router.RouteCase(ctx, c.ID); err != nil {
		s.logger.Error("initial routing attempt failed", zap.String("case_id", c.ID), zap.Error(err))
	}
	return s.cases.Get(ctx, c.ID)
}

// AddMessage records a follow-up message: re-score sentiment, recompute
// priority, and rebase the deadline. An already-assigned case is never
// un-assigned on a priority change, and a passed deadline is never
// extended.
func (s *Service) AddMessage(ctx context.Context, caseID, message, actor string) (*domain.Case, error) {
	if strings.TrimSpace(message) == "" {
		return nil, apperrors.NewValidationError("message required", nil)
	}

	updated, err := s.cases.Update(ctx, caseID, func(c *domain.Case) (store.Mutation, error) {
		if c.State.Terminal() {
			return store.Mutation{}, apperrors.NewInvalidTransition("case settled", map[string]any{
				"case_id": caseID,
				"state":   c.State,
			})
		}
		now := time.Now()
		oldScore := c.SentimentScore
		oldPriority := c.Priority
		c.SentimentScore = s.scoreMessage(ctx, message, c.SentimentScore)
		c.Priority = domain.DerivePriority(s.policy, c.CustomerTier, c.SentimentScore, c.Category)
		if c.Priority != oldPriority && c.DeadlineAt != nil {
			rebased := s.calc.Recompute(*c.DeadlineAt, oldPriority, c.Priority, now)
			c.DeadlineAt = &rebased
		}
		return store.Mutation{
			Actor:  actor,
			Action: domain.AuditMessageReceived,
			Payload: map[string]any{
				"old_sentiment": oldScore,
				"sentiment":     c.SentimentScore,
				"old_priority":  oldPriority,
				"priority":      c.Priority,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Start marks an assigned case as actively worked.
func (s *Service) Start(ctx context.Context, caseID, actor string) (*domain.Case, error) {
	return s.cases.Update(ctx, caseID, func(c *domain.Case) (store.Mutation, error) {
		if !domain.CanTransition(c.State, domain.CaseStateInProgress) {
			return store.Mutation{}, apperrors.NewInvalidTransition("case not assigned", map[string]any{
				"case_id": caseID,
				"state":   c.State,
			})
		}
		c.State = domain.CaseStateInProgress
		return store.Mutation{
			Actor:  actor,
			Action: domain.AuditCaseStarted,
		}, nil
	})
}

// Close terminates the case and frees its handler capacity. Closed is
// final; the record stays for the external retention job.
func (s *Service) Close(ctx context.Context, caseID, actor string) (*domain.Case, error) {
	var releasedHandler string
	updated, err := s.cases.Update(ctx, caseID, func(c *domain.Case) (store.Mutation, error) {
		if !domain.CanTransition(c.State, domain.CaseStateClosed) {
			return store.Mutation{}, apperrors.NewInvalidTransition("case already closed", map[string]any{
				"case_id": caseID,
				"state":   c.State,
			})
		}
		if c.AssignedHandlerID != nil {
			releasedHandler = *c.AssignedHandlerID
		}
		c.State = domain.CaseStateClosed
		c.AssignedHandlerID = nil
		c.DeadlineAt = nil
		return store.Mutation{
			Actor:  actor,
			Action: domain.AuditCaseClosed,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if releasedHandler != "" {
		if relErr := s.registry.ReleaseSlot(ctx, releasedHandler); relErr != nil {
			s.logger.Warn("handler release failed", zap.String("handler_id", releasedHandler), zap.Error(relErr))
		}
	}
	s.publish(ctx, events.Event{Type: events.EventCaseClosed, CaseID: caseID})
	return updated, nil
}

// Get returns one case.
func (s *Service) Get(ctx context.Context, caseID string) (*domain.Case, error) {
	return s.cases.Get(ctx, caseID)
}

// ListByState pages cases in a state.
func (s *Service) ListByState(ctx context.Context, state domain.CaseState, afterID string, limit int) ([]domain.Case, error) {
	return s.cases.ListByState(ctx, state, afterID, limit)
}

// AuditTrail pages the ledger for a case.
func (s *Service) AuditTrail(ctx context.Context, caseID string, afterSeq int64, limit int) ([]domain.AuditEvent, error) {
	if _, err := s.cases.Get(ctx, caseID); err != nil {
		return nil, err
	}
	return s.ledger.Query(ctx, caseID, afterSeq, limit)
}

// scoreMessage calls the sentiment collaborator, keeping the prior
// score when the call fails or times out.
func (s *Service) scoreMessage(ctx context.Context, message string, prior float64) float64 {
	if s.scorer == nil {
		return prior
	}
	result, err := s.scorer.Score(ctx, message)
	if err != nil {
		s.logger.Warn("sentiment scoring failed; keeping prior score", zap.Error(err))
		return prior
	}
	return result.Score
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
