package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/medcall/backend/internal/analysis/keyword"
	"github.com/zhouzirui/medcall/backend/internal/model/call"
)

// Heuristic 在未配置大模型时使用关键词规则完成判定。
type Heuristic struct {
	kind Kind
}

// NewHeuristic returns the keyword fallback for kind.
func NewHeuristic(kind Kind) (*Heuristic, error) {
	if _, ok := prompts[kind]; !ok {
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}
	return &Heuristic{kind: kind}, nil
}

// NewHeuristics builds one keyword agent per kind.
func NewHeuristics(kinds []Kind) ([]Agent, error) {
	agents := make([]Agent, 0, len(kinds))
	for _, kind := range kinds {
		h, err := NewHeuristic(kind)
		if err != nil {
			return nil, err
		}
		agents = append(agents, h)
	}
	return agents, nil
}

func (h *Heuristic) Kind() Kind { return h.kind }

func (h *Heuristic) Analyze(ctx context.Context, text string, history []call.TranscriptEntry) (Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}

	previous := make([]string, 0, len(history))
	for _, entry := range history {
		previous = append(previous, entry.Text)
	}

	finding := keyword.Detect(keyword.Category(h.kind), text, previous)
	confidence := float64(finding.Score * 15)
	if confidence > 100 {
		confidence = 100
	}
	terms := strings.Join(finding.Terms, ", ")

	switch h.kind {
	case KindAdverseEvent:
		r := &AdverseEventResult{IsDetected: finding.Matched, Confidence: confidence}
		if finding.Matched {
			r.AEType = "reported_reaction"
			r.Severity = "moderate"
			r.Description = "Possible adverse event mentioned (" + terms + ")"
			r.Action = "Document the event and collect medication, dose and onset details"
		}
		return r, nil
	case KindAppointment:
		r := &AppointmentResult{IssueDetected: finding.Matched}
		if finding.Matched {
			r.IssueType = "rescheduling"
			r.Description = "Caller raised a scheduling topic (" + terms + ")"
			r.Urgency = "medium"
			r.SuggestedAction = "Confirm the appointment and offer the next available slot"
		}
		return r, nil
	case KindEmergency:
		r := &EmergencyResult{IsEmergency: finding.Matched, Confidence: confidence, Symptoms: finding.Terms}
		if finding.Matched {
			r.Severity = string(finding.Level)
			r.EmergencyType = "reported_symptoms"
			r.Description = "Caller reported " + terms
			r.Action = "Contact doctor immediately"
			if finding.Level == keyword.LevelCritical {
				r.Action = "Call 911"
			}
		}
		return r, nil
	case KindSentimentMismatch:
		r := &SentimentResult{MismatchDetected: finding.Matched, Confidence: confidence}
		if finding.Matched {
			r.RiskLevel = "medium"
			if finding.Level == keyword.LevelCritical {
				r.RiskLevel = "high"
			}
			r.ScenarioType = "distress"
			r.Analysis = SentimentAnalysis{
				StatedSentiment: "reassurance",
				ActualSentiment: "possible distress",
				Indicators:      finding.Terms,
			}
			r.Description = "Caller says things are fine while distress cues are present (" + terms + ")"
			r.Action = "Ask discreet yes/no questions and prepare to escalate"
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: unknown agent kind %q", ErrAnalysis, h.kind)
}
