package sla

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/inquiry-router/internal/config"
	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/escalation"
	"github.com/spec-kit/inquiry-router/internal/observability"
	"github.com/spec-kit/inquiry-router/internal/registry"
	"github.com/spec-kit/inquiry-router/internal/store"
	"github.com/spec-kit/inquiry-router/internal/store/memory"
)

type okNotifier struct{}

func (okNotifier) Send(ctx context.Context, target, template string, payload map[string]any) error {
	return nil
}

type monitorFixture struct {
	monitor     *Monitor
	manager     *escalation.Manager
	cases       *memory.CaseStore
	escalations *memory.EscalationStore
	ledger      *memory.AuditLedger
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	ledger := memory.NewAuditLedger()
	cases := memory.NewCaseStore(ledger)
	escalations := memory.NewEscalationStore(ledger)
	handlers := memory.NewHandlerStore()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	reg := registry.New(handlers, nil, logger)

	manager := escalation.NewManager(escalation.Dependencies{
		Cases:       cases,
		Escalations: escalations,
		Ledger:      ledger,
		Registry:    reg,
		Notifier:    okNotifier{},
		Logger:      logger,
		Metrics:     metrics,
	}, config.EscalationConfig{TargetHandlerID: "supervisor-queue", NotifyTarget: "supervisors"},
		config.NotificationConfig{TimeoutMillis: 100, RetryBackoffSeconds: "0"})

	calc, err := NewCalculator(testWindows())
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	monitor := NewMonitor(cases, manager, calc, time.Second, logger, metrics)
	return &monitorFixture{monitor: monitor, manager: manager, cases: cases, escalations: escalations, ledger: ledger}
}

func (f *monitorFixture) addCase(t *testing.T, state domain.CaseState, handlerID string, deadline time.Time) string {
	t.Helper()
	c := &domain.Case{
		Channel:    "email",
		Category:   "billing",
		Priority:   domain.PriorityCritical,
		State:      state,
		DeadlineAt: &deadline,
	}
	if handlerID != "" {
		c.AssignedHandlerID = &handlerID
	}
	err := f.cases.Create(context.Background(), c, store.Mutation{Actor: "intake", Action: domain.AuditCaseCreated})
	if err != nil {
		t.Fatalf("Create case: %v", err)
	}
	return c.ID
}

func TestSweepEscalatesBreachedCase(t *testing.T) {
	f := newMonitorFixture(t)
	breached := f.addCase(t, domain.CaseStateQueued, "", time.Now().Add(-time.Minute))
	healthy := f.addCase(t, domain.CaseStateQueued, "", time.Now().Add(time.Hour))

	if err := f.monitor.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	f.manager.DrainNotifications()

	c, _ := f.cases.Get(context.Background(), breached)
	if c.State != domain.CaseStateEscalated {
		t.Fatalf("expected ESCALATED, got %s", c.State)
	}
	if c.DeadlineAt != nil {
		t.Fatal("escalated case must not carry a deadline")
	}
	if c.AssignedHandlerID == nil || *c.AssignedHandlerID != "supervisor-queue" {
		t.Fatalf("unassigned breach must land on the supervisory target, got %v", c.AssignedHandlerID)
	}
	if c.EscalationID == nil {
		t.Fatal("case not bound to its escalation")
	}

	esc, err := f.escalations.Get(context.Background(), *c.EscalationID)
	if err != nil {
		t.Fatalf("Get escalation: %v", err)
	}
	if esc.State != domain.EscalationCreated {
		t.Fatalf("expected CREATED, got %s", esc.State)
	}
	if esc.Reason != "sla_breach:CRITICAL" {
		t.Fatalf("unexpected reason %q", esc.Reason)
	}

	untouched, _ := f.cases.Get(context.Background(), healthy)
	if untouched.State != domain.CaseStateQueued {
		t.Fatalf("healthy case escalated: %s", untouched.State)
	}
}

func TestSweepIsIdempotentAcrossRuns(t *testing.T) {
	f := newMonitorFixture(t)
	breached := f.addCase(t, domain.CaseStateAssigned, "h1", time.Now().Add(-time.Minute))

	for i := 0; i < 3; i++ {
		if err := f.monitor.Sweep(context.Background()); err != nil {
			t.Fatalf("Sweep %d: %v", i, err)
		}
	}
	f.manager.DrainNotifications()

	c, _ := f.cases.Get(context.Background(), breached)
	if c.State != domain.CaseStateEscalated {
		t.Fatalf("expected ESCALATED, got %s", c.State)
	}

	// Exactly one escalation and one escalation_created audit record,
	// no matter how many sweeps observed the breach.
	events, _ := f.ledger.Query(context.Background(), breached, 0, 50)
	created := 0
	for _, event := range events {
		if event.Action == domain.AuditEscalationCreated {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected 1 escalation_created event, got %d", created)
	}
}

func TestSweepConvergesCaseBehindExistingEscalation(t *testing.T) {
	f := newMonitorFixture(t)
	breached := f.addCase(t, domain.CaseStateQueued, "", time.Now().Add(-time.Minute))

	// Open escalation without the matching case transition: a prior
	// sweep got the record in but died before the case update.
	err := f.escalations.Create(context.Background(), &domain.Escalation{
		CaseID:     breached,
		Priority:   domain.PriorityCritical,
		State:      domain.EscalationCreated,
		Reason:     "sla_breach:CRITICAL",
		AssignedTo: "supervisor-queue",
	}, store.Mutation{Actor: "sla-monitor", Action: domain.AuditEscalationCreated})
	if err != nil {
		t.Fatalf("Create escalation: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := f.monitor.Sweep(context.Background()); err != nil {
			t.Fatalf("Sweep %d: %v", i, err)
		}
	}
	f.manager.DrainNotifications()

	c, _ := f.cases.Get(context.Background(), breached)
	if c.State != domain.CaseStateEscalated {
		t.Fatalf("case never converged to ESCALATED: still %s after repeated sweeps", c.State)
	}
	if c.EscalationID == nil {
		t.Fatal("case not bound to the open escalation")
	}
}

func TestSweepLeavesFutureDeadlinesAlone(t *testing.T) {
	f := newMonitorFixture(t)
	id := f.addCase(t, domain.CaseStateInProgress, "h1", time.Now().Add(time.Hour))

	if err := f.monitor.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	c, _ := f.cases.Get(context.Background(), id)
	if c.State != domain.CaseStateInProgress {
		t.Fatalf("case moved to %s", c.State)
	}
}
