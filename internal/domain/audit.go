package domain

import "time"

// AuditAction identifies what a ledger entry records.
type AuditAction string

const (
	AuditCaseCreated        AuditAction = "case_created"
	AuditMessageReceived    AuditAction = "message_received"
	AuditPriorityChanged    AuditAction = "priority_changed"
	AuditCaseAssigned       AuditAction = "case_assigned"
	AuditCaseStarted        AuditAction = "case_started"
	AuditCaseEscalated      AuditAction = "case_escalated"
	AuditCaseResolved       AuditAction = "case_resolved"
	AuditCaseClosed         AuditAction = "case_closed"
	AuditRoutingFailed      AuditAction = "routing_failed"
	AuditEscalationCreated  AuditAction = "escalation_created"
	AuditEscalationAcked    AuditAction = "escalation_acked"
	AuditEscalationWorked   AuditAction = "escalation_resolving"
	AuditEscalationResolved AuditAction = "escalation_resolved"
	AuditNotificationFailed AuditAction = "notification_failed"
)

// AuditEvent is an immutable fact about one case. Never updated or
// deleted; per-case order is the monotonic Sequence.
type AuditEvent struct {
	ID        string
	CaseID    string
	Actor     string
	Action    AuditAction
	Sequence  int64
	Payload   map[string]any
	Timestamp time.Time
}
