package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/escalation"
	"github.com/spec-kit/inquiry-router/internal/observability"
	"github.com/spec-kit/inquiry-router/internal/store"
)

const sweepPageSize = 200

// Monitor detects SLA breaches. A periodic sweep scans active cases
// whose deadline has passed and hands each one to the escalation
// manager. Detection is at-least-once; the manager's idempotent create
// absorbs duplicate observations of the same breach.
type Monitor struct {
	cases       store.CaseStore
	escalations *escalation.Manager
	calc        *Calculator
	interval    time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics

	scheduler *cron.Cron
	baseCtx   context.Context
}

// NewMonitor creates the monitor.
func NewMonitor(cases store.CaseStore, escalations *escalation.Manager, calc *Calculator, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Monitor {
	return &Monitor{
		cases:       cases,
		escalations: escalations,
		calc:        calc,
		interval:    interval,
		logger:      logger,
		metrics:     metrics,
	}
}

// Calculator exposes the deadline calculator for collaborating
// components.
func (m *Monitor) Calculator() *Calculator {
	return m.calc
}

// Start schedules the breach sweep. The sweep runs independently of the
// routing sweep; neither blocks the other.
func (m *Monitor) Start(ctx context.Context) error {
	m.baseCtx = ctx
	m.scheduler = cron.New()
	if _, err := m.scheduler.AddFunc(fmt.Sprintf("@every %s", m.interval), func() {
		if err := m.Sweep(m.baseCtx); err != nil {
			m.logger.Error("sla sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	m.scheduler.Start()
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to drain,
// bounded by ctx.
func (m *Monitor) Stop(ctx context.Context) {
	if m.scheduler == nil {
		return
	}
	done := m.scheduler.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Sweep scans the active states for passed deadlines and escalates each
// breached case.
func (m *Monitor) Sweep(ctx context.Context) error {
	now := time.Now()
	for _, state := range []domain.CaseState{domain.CaseStateQueued, domain.CaseStateAssigned, domain.CaseStateInProgress} {
		cursor := ""
		for {
			page, err := m.cases.ListByState(ctx, state, cursor, sweepPageSize)
			if err != nil {
				return err
			}
			for i := range page {
				c := &page[i]
				if c.DeadlineAt == nil || c.DeadlineAt.After(now) {
					continue
				}
				m.escalateBreached(ctx, c)
			}
			if len(page) < sweepPageSize {
				break
			}
			cursor = page[len(page)-1].ID
		}
	}
	return nil
}

func (m *Monitor) escalateBreached(ctx context.Context, c *domain.Case) {
	m.metrics.RecordBreach()
	reason := fmt.Sprintf("sla_breach:%s", c.Priority)
	if _, err := m.escalations.Create(ctx, c.ID, reason, "sla-monitor"); err != nil {
		m.logger.Error("breach escalation failed",
			zap.String("case_id", c.ID),
			zap.Error(err))
		return
	}
	m.logger.Info("sla breach escalated",
		zap.String("case_id", c.ID),
		zap.String("priority", string(c.Priority)),
		zap.Timep("deadline_at", c.DeadlineAt))
}
