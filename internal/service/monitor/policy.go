package monitor

import (
	"time"

	"github.com/zhouzirui/medcall/backend/internal/logging"
	"github.com/zhouzirui/medcall/backend/internal/model/call"
	"github.com/zhouzirui/medcall/backend/internal/service/agent"
	"github.com/zhouzirui/medcall/backend/internal/service/events"
	"github.com/zhouzirui/medcall/backend/internal/service/session"
)

// Status 单个 agent 结果经过策略后的去向。
type Status string

const (
	StatusEmitted     Status = "emitted"
	StatusSuppressed  Status = "suppressed"
	StatusNotDetected Status = "not_detected"
	StatusFailed      Status = "failed"
)

// Outcome records what the policy did with one agent result.
type Outcome struct {
	Kind   agent.Kind  `json:"kind"`
	Status Status      `json:"status"`
	Alert  *call.Alert `json:"alert,omitempty"`
	Err    error       `json:"-"`
}

var severities = map[call.AlertType]call.Severity{
	call.AlertAdverseEvent:      call.SeverityHigh,
	call.AlertAppointment:       call.SeverityMedium,
	call.AlertEmergency:         call.SeverityCritical,
	call.AlertSentimentMismatch: call.SeverityHigh,
}

// SeverityFor returns the fixed severity of an alert type.
func SeverityFor(t call.AlertType) call.Severity {
	if s, ok := severities[t]; ok {
		return s
	}
	return call.SeverityMedium
}

// Policy turns detections into alerts, enforcing the per-type cooldown.
type Policy struct {
	cooldown  time.Duration
	publisher events.Publisher
}

// NewPolicy creates a policy; publisher may be nil.
func NewPolicy(cooldown time.Duration, publisher events.Publisher) *Policy {
	return &Policy{cooldown: cooldown, publisher: publisher}
}

// Apply evaluates one result for sess. Emitted alerts are recorded on the
// session and published.
func (p *Policy) Apply(sess *session.Session, result agent.Result) Outcome {
	outcome := Outcome{Kind: result.Kind()}
	if err := agent.ErrorOf(result); err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		return outcome
	}
	if !result.Detected() {
		outcome.Status = StatusNotDetected
		return outcome
	}

	fields := result.AlertFields()
	candidate := call.Alert{
		Type:     result.AlertType(),
		Message:  fields.Message,
		Severity: SeverityFor(result.AlertType()),
		Action:   fields.Action,
	}

	emitted, ok := sess.EmitAlert(candidate, p.cooldown)
	if !ok {
		logging.Debugw("alert suppressed by cooldown", "session_id", sess.ID(), "type", candidate.Type)
		outcome.Status = StatusSuppressed
		return outcome
	}

	logging.Infow("alert emitted",
		"session_id", sess.ID(),
		"type", emitted.Type,
		"severity", emitted.Severity,
	)
	if p.publisher != nil {
		p.publisher.Publish(sess.ID(), events.NewAlertEvent(sess.ID(), emitted))
	}
	outcome.Status = StatusEmitted
	outcome.Alert = &emitted
	return outcome
}
