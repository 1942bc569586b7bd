package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/inquiry-router/internal/config"
	"github.com/spec-kit/inquiry-router/internal/domain"
	"github.com/spec-kit/inquiry-router/internal/observability"
	"github.com/spec-kit/inquiry-router/internal/registry"
	"github.com/spec-kit/inquiry-router/internal/store"
	"github.com/spec-kit/inquiry-router/internal/store/memory"
	apperrors "github.com/spec-kit/inquiry-router/pkg/util"
)

// fakeNotifier counts deliveries and fails a configured number of
// leading attempts.
type fakeNotifier struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	templates []string
}

func (n *fakeNotifier) Send(ctx context.Context, target, template string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.templates = append(n.templates, template)
	if n.calls <= n.failFirst {
		return errors.New("delivery refused")
	}
	return nil
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type managerFixture struct {
	manager     *Manager
	cases       *memory.CaseStore
	escalations *memory.EscalationStore
	handlers    *memory.HandlerStore
	ledger      *memory.AuditLedger
	notifier    *fakeNotifier
	metrics     *observability.Metrics
}

func newManagerFixture(t *testing.T, failFirst int) *managerFixture {
	t.Helper()
	return newManagerFixtureWithSchedule(t, failFirst, "0,0,0")
}

func newManagerFixtureWithSchedule(t *testing.T, failFirst int, schedule string) *managerFixture {
	t.Helper()
	ledger := memory.NewAuditLedger()
	cases := memory.NewCaseStore(ledger)
	escalations := memory.NewEscalationStore(ledger)
	handlers := memory.NewHandlerStore()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	notifier := &fakeNotifier{failFirst: failFirst}
	reg := registry.New(handlers, nil, logger)

	manager := NewManager(Dependencies{
		Cases:       cases,
		Escalations: escalations,
		Ledger:      ledger,
		Registry:    reg,
		Notifier:    notifier,
		Logger:      logger,
		Metrics:     metrics,
	}, config.EscalationConfig{TargetHandlerID: "supervisor-queue", NotifyTarget: "supervisors"},
		config.NotificationConfig{TimeoutMillis: 100, RetryBackoffSeconds: schedule})

	return &managerFixture{
		manager:     manager,
		cases:       cases,
		escalations: escalations,
		handlers:    handlers,
		ledger:      ledger,
		notifier:    notifier,
		metrics:     metrics,
	}
}

func (f *managerFixture) addCase(t *testing.T, state domain.CaseState, priority domain.CasePriority, handlerID string) string {
	t.Helper()
	c := &domain.Case{
		Channel:  "chat",
		Category: "billing",
		Priority: priority,
		State:    state,
	}
	if state.HasActiveDeadline() {
		deadline := time.Now().Add(time.Hour)
		c.DeadlineAt = &deadline
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

func TestCreateEscalatesCaseAndNotifies(t *testing.T) {
	f := newManagerFixture(t, 0)
	caseID := f.addCase(t, domain.CaseStateAssigned, domain.PriorityHigh, "h1")

	esc, err := f.manager.Create(context.Background(), caseID, "sla_breach:HIGH", "sla-monitor")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.manager.DrainNotifications()

	if esc.State != domain.EscalationCreated {
		t.Fatalf("expected CREATED, got %s", esc.State)
	}
	c, _ := f.cases.Get(context.Background(), caseID)
	if c.State != domain.CaseStateEscalated {
		t.Fatalf("expected ESCALATED, got %s", c.State)
	}
	// Already-assigned cases keep their handler through escalation.
	if c.AssignedHandlerID == nil || *c.AssignedHandlerID != "h1" {
		t.Fatalf("handler changed: %v", c.AssignedHandlerID)
	}
	if f.notifier.callCount() != 1 {
		t.Fatalf("expected 1 notification, got %d", f.notifier.callCount())
	}
	if f.notifier.templates[0] != "escalation_created" {
		t.Fatalf("unexpected template %q", f.notifier.templates[0])
	}
}

func TestCreateUsesUrgentTemplateForCritical(t *testing.T) {
	f := newManagerFixture(t, 0)
	caseID := f.addCase(t, domain.CaseStateQueued, domain.PriorityCritical, "")

	if _, err := f.manager.Create(context.Background(), caseID, "sla_breach:CRITICAL", "sla-monitor"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.manager.DrainNotifications()

	if f.notifier.templates[0] != "escalation_created_urgent" {
		t.Fatalf("expected urgent template, got %q", f.notifier.templates[0])
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	f := newManagerFixture(t, 0)
	caseID := f.addCase(t, domain.CaseStateQueued, domain.PriorityHigh, "")

	first, err := f.manager.Create(context.Background(), caseID, "sla_breach:HIGH", "sla-monitor")
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	second, err := f.manager.Create(context.Background(), caseID, "sla_breach:HIGH", "sla-monitor")
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	f.manager.DrainNotifications()

	if first.ID != second.ID {
		t.Fatalf("duplicate escalation created: %s vs %s", first.ID, second.ID)
	}
	if !second.CreatedAt.Before(time.Now().Add(time.Second)) || second.CreatedAt.Before(first.CreatedAt) {
		t.Fatalf("repeat create must refresh CreatedAt: %v vs %v", first.CreatedAt, second.CreatedAt)
	}
	if f.notifier.callCount() != 1 {
		t.Fatalf("repeat create must not re-notify, got %d calls", f.notifier.callCount())
	}
}

func TestCreateConvergesCaseAfterPartialFirstCreate(t *testing.T) {
	f := newManagerFixture(t, 0)
	caseID := f.addCase(t, domain.CaseStateQueued, domain.PriorityHigh, "")

	// An open escalation whose case transition never landed: the
	// original create exhausted its retries or died between the two
	// writes.
	orphan := &domain.Escalation{
		CaseID:     caseID,
		Priority:   domain.PriorityHigh,
		State:      domain.EscalationCreated,
		Reason:     "sla_breach:HIGH",
		AssignedTo: "supervisor-queue",
	}
	err := f.escalations.Create(context.Background(), orphan,
		store.Mutation{Actor: "sla-monitor", Action: domain.AuditEscalationCreated})
	if err != nil {
		t.Fatalf("Create escalation: %v", err)
	}

	// Repeated detection of the same breach must converge the case.
	var esc *domain.Escalation
	for i := 0; i < 3; i++ {
		esc, err = f.manager.Create(context.Background(), caseID, "sla_breach:HIGH", "sla-monitor")
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	f.manager.DrainNotifications()

	if esc.ID != orphan.ID {
		t.Fatalf("re-detection opened a second escalation: %s vs %s", esc.ID, orphan.ID)
	}
	c, _ := f.cases.Get(context.Background(), caseID)
	if c.State != domain.CaseStateEscalated {
		t.Fatalf("case never converged to ESCALATED: still %s", c.State)
	}
	if c.EscalationID == nil || *c.EscalationID != orphan.ID {
		t.Fatalf("case not bound to the open escalation: %v", c.EscalationID)
	}
	if c.AssignedHandlerID == nil || *c.AssignedHandlerID != "supervisor-queue" {
		t.Fatalf("unassigned case must land on the supervisory target, got %v", c.AssignedHandlerID)
	}
	// The refresh path never re-notifies.
	if f.notifier.callCount() != 0 {
		t.Fatalf("re-detection must not notify, got %d calls", f.notifier.callCount())
	}
}

func TestNotificationRetriesThenRecordsFailure(t *testing.T) {
	f := newManagerFixture(t, 2)
	caseID := f.addCase(t, domain.CaseStateQueued, domain.PriorityHigh, "")

	if _, err := f.manager.Create(context.Background(), caseID, "manual", "op-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.manager.DrainNotifications()

	// Two failures, third attempt succeeds; no failure record.
	if f.notifier.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.notifier.callCount())
	}
	events, _ := f.ledger.Query(context.Background(), caseID, 0, 50)
	for _, event := range events {
		if event.Action == domain.AuditNotificationFailed {
			t.Fatal("unexpected notification_failed event after eventual success")
		}
	}
}

func TestNotificationExhaustionIsAudited(t *testing.T) {
	f := newManagerFixture(t, 10)
	caseID := f.addCase(t, domain.CaseStateQueued, domain.PriorityHigh, "")

	esc, err := f.manager.Create(context.Background(), caseID, "manual", "op-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.manager.DrainNotifications()

	if f.notifier.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.notifier.callCount())
	}
	// The escalation itself stays open; delivery failure never reverts
	// state.
	got, _ := f.escalations.Get(context.Background(), esc.ID)
	if got.State != domain.EscalationCreated {
		t.Fatalf("escalation state changed to %s", got.State)
	}

	events, _ := f.ledger.Query(context.Background(), caseID, 0, 50)
	found := false
	for _, event := range events {
		if event.Action == domain.AuditNotificationFailed {
			found = true
		}
	}
	if !found {
		t.Fatal("missing notification_failed audit event")
	}
}

func TestNotificationBackoffUsesEveryScheduleEntry(t *testing.T) {
	// Each schedule entry is the wait before its attempt, so the final
	// entry must be honored too.
	f := newManagerFixtureWithSchedule(t, 10, "0,0,1")
	caseID := f.addCase(t, domain.CaseStateQueued, domain.PriorityHigh, "")

	start := time.Now()
	if _, err := f.manager.Create(context.Background(), caseID, "manual", "op-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.manager.DrainNotifications()

	if f.notifier.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.notifier.callCount())
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("final backoff entry skipped: finished in %v", elapsed)
	}
}

func TestAckResolveFlow(t *testing.T) {
	f := newManagerFixture(t, 0)
	f.handlers.Put(context.Background(), &domain.Handler{
		ID:                 "h1",
		Skills:             []string{"billing"},
		MaxConcurrentCases: 3,
		CurrentLoad:        1,
		Status:             domain.HandlerStatusAvailable,
	})
	caseID := f.addCase(t, domain.CaseStateInProgress, domain.PriorityHigh, "h1")

	esc, err := f.manager.Create(context.Background(), caseID, "manual", "op-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.manager.DrainNotifications()

	if _, err := f.manager.Ack(context.Background(), esc.ID, "sup-1"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if _, err := f.manager.StartResolving(context.Background(), esc.ID, "sup-1"); err != nil {
		t.Fatalf("StartResolving: %v", err)
	}
	resolved, err := f.manager.Resolve(context.Background(), esc.ID, "refunded duplicate charge", "sup-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.State != domain.EscalationResolved {
		t.Fatalf("expected RESOLVED, got %s", resolved.State)
	}
	if resolved.ResolutionNotes != "refunded duplicate charge" {
		t.Fatalf("notes not recorded: %q", resolved.ResolutionNotes)
	}

	c, _ := f.cases.Get(context.Background(), caseID)
	if c.State != domain.CaseStateResolved {
		t.Fatalf("case not resolved: %s", c.State)
	}
	if c.AssignedHandlerID != nil || c.DeadlineAt != nil {
		t.Fatalf("resolved case retains handler/deadline: %+v", c)
	}

	h, _ := f.handlers.Get(context.Background(), "h1")
	if h.CurrentLoad != 0 {
		t.Fatalf("handler slot not released: load %d", h.CurrentLoad)
	}
}

func TestResolveRejectsIllegalTransition(t *testing.T) {
	f := newManagerFixture(t, 0)
	caseID := f.addCase(t, domain.CaseStateQueued, domain.PriorityHigh, "")

	esc, err := f.manager.Create(context.Background(), caseID, "manual", "op-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.manager.DrainNotifications()

	if _, err := f.manager.Resolve(context.Background(), esc.ID, "done", "sup-1"); err != nil {
		t.Fatalf("fast resolve from CREATED must be allowed: %v", err)
	}

	// Any transition out of RESOLVED is illegal.
	if _, err := f.manager.Ack(context.Background(), esc.ID, "sup-1"); !apperrors.IsCode(err, "INVALID_TRANSITION") {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}
