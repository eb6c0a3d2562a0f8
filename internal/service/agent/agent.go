package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/medcall/backend/internal/model/call"
)

// ErrAnalysis marks a failed classifier call. It never leaves the fan-out.
var ErrAnalysis = errors.New("analysis failed")

// Kind names one classifier. Its value doubles as the alert type it raises.
type Kind string

const (
	KindAdverseEvent      Kind = "adverse_event"
	KindAppointment       Kind = "appointment"
	KindEmergency         Kind = "emergency"
	KindSentimentMismatch Kind = "sentiment_mismatch"
)

// AllKinds lists every classifier in a stable order.
func AllKinds() []Kind {
	return []Kind{KindAdverseEvent, KindAppointment, KindEmergency, KindSentimentMismatch}
}

// AlertType returns the alert category raised by this kind.
func (k Kind) AlertType() call.AlertType { return call.AlertType(k) }

// ParseKind accepts the canonical names plus a few short aliases.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "adverse_event", "ae", "adverse-event":
		return KindAdverseEvent, nil
	case "appointment", "appt":
		return KindAppointment, nil
	case "emergency":
		return KindEmergency, nil
	case "sentiment_mismatch", "sentiment", "sentiment-mismatch":
		return KindSentimentMismatch, nil
	default:
		return "", fmt.Errorf("unknown agent kind %q", raw)
	}
}

// ParseKinds parses a configured agent list. Aliases of the same kind
// collapse into one entry, keeping first-seen order; an empty list means
// every kind.
func ParseKinds(names []string) ([]Kind, error) {
	if len(names) == 0 {
		return AllKinds(), nil
	}
	kinds := make([]Kind, 0, len(names))
	seen := make(map[Kind]bool, len(names))
	for _, name := range names {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// Agent is one independent classifier run against a transcript chunk.
type Agent interface {
	Kind() Kind
	Analyze(ctx context.Context, text string, history []call.TranscriptEntry) (Result, error)
}

// AlertFields is the human facing part of an alert built from a result.
type AlertFields struct {
	Message string
	Action  string
}

// Result is the decision of one agent for one chunk.
type Result interface {
	Kind() Kind
	Detected() bool
	AlertType() call.AlertType
	AlertFields() AlertFields
}

// FailedResult stands in for an agent that errored, timed out or panicked.
type FailedResult struct {
	AgentKind Kind
	Err       error
}

// Failed wraps err as the "no detection" result of kind.
func Failed(kind Kind, err error) *FailedResult {
	if err == nil {
		err = ErrAnalysis
	}
	return &FailedResult{AgentKind: kind, Err: err}
}

func (r *FailedResult) Kind() Kind                { return r.AgentKind }
func (r *FailedResult) Detected() bool            { return false }
func (r *FailedResult) AlertType() call.AlertType { return r.AgentKind.AlertType() }
func (r *FailedResult) AlertFields() AlertFields  { return AlertFields{} }
func (r *FailedResult) Error() string             { return r.Err.Error() }

// ErrorOf returns the failure carried by r, if any.
func ErrorOf(r Result) error {
	if failed, ok := r.(*FailedResult); ok {
		return failed.Err
	}
	return nil
}

// FormatHistory renders transcript entries as "speaker: text" lines.
func FormatHistory(history []call.TranscriptEntry) string {
	if len(history) == 0 {
		return "(no prior conversation)"
	}
	lines := make([]string, 0, len(history))
	for _, entry := range history {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", entry.Speaker, text))
	}
	if len(lines) == 0 {
		return "(no prior conversation)"
	}
	return strings.Join(lines, "\n")
}
