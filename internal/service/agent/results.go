package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zhouzirui/medcall/backend/internal/model/call"
)

// AdverseEventResult is the adverse event detector's verdict.
type AdverseEventResult struct {
	IsDetected  bool    `json:"detected"`
	Confidence  float64 `json:"confidence"`
	AEType      string  `json:"ae_type"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	Action      string  `json:"action"`
}

func (r *AdverseEventResult) Kind() Kind                { return KindAdverseEvent }
func (r *AdverseEventResult) Detected() bool            { return r.IsDetected }
func (r *AdverseEventResult) AlertType() call.AlertType { return call.AlertAdverseEvent }

func (r *AdverseEventResult) AlertFields() AlertFields {
	return AlertFields{
		Message: "⚠️ Adverse Event Detected: " + firstNonEmpty(r.Description, "Unknown AE"),
		Action:  strings.TrimSpace(r.Action),
	}
}

// AppointmentDetails carries whatever scheduling facts the agent extracted.
type AppointmentDetails struct {
	DateMentioned string `json:"date_mentioned"`
	TimeMentioned string `json:"time_mentioned"`
	Reason        string `json:"reason"`
}

// AppointmentResult is the scheduling agent's verdict.
type AppointmentResult struct {
	IssueDetected   bool               `json:"issue_detected"`
	IssueType       string             `json:"issue_type"`
	Description     string             `json:"description"`
	Urgency         string             `json:"urgency"`
	SuggestedAction string             `json:"suggested_action"`
	Details         AppointmentDetails `json:"appointment_details"`
}

func (r *AppointmentResult) Kind() Kind                { return KindAppointment }
func (r *AppointmentResult) Detected() bool            { return r.IssueDetected }
func (r *AppointmentResult) AlertType() call.AlertType { return call.AlertAppointment }

func (r *AppointmentResult) AlertFields() AlertFields {
	return AlertFields{
		Message: "📅 Appointment Issue: " + firstNonEmpty(r.Description, r.IssueType, "scheduling issue"),
		Action:  strings.TrimSpace(r.SuggestedAction),
	}
}

// EmergencyResult is the triage agent's verdict.
type EmergencyResult struct {
	IsEmergency   bool     `json:"is_emergency"`
	Severity      string   `json:"severity"`
	EmergencyType string   `json:"emergency_type"`
	Confidence    float64  `json:"confidence"`
	Symptoms      []string `json:"symptoms"`
	Action        string   `json:"action"`
	Description   string   `json:"description"`
}

func (r *EmergencyResult) Kind() Kind                { return KindEmergency }
func (r *EmergencyResult) Detected() bool            { return r.IsEmergency }
func (r *EmergencyResult) AlertType() call.AlertType { return call.AlertEmergency }

func (r *EmergencyResult) AlertFields() AlertFields {
	prefix := "⚠️"
	if strings.EqualFold(firstNonEmpty(r.Severity, "urgent"), "critical") {
		prefix = "🚨"
	}
	return AlertFields{
		Message: prefix + " EMERGENCY DETECTED: " + firstNonEmpty(r.Description, "Immediate attention required"),
		Action:  strings.TrimSpace(r.Action),
	}
}

// SentimentAnalysis explains why stated and likely sentiment diverge.
type SentimentAnalysis struct {
	StatedSentiment string   `json:"stated_sentiment"`
	ActualSentiment string   `json:"actual_sentiment"`
	Indicators      []string `json:"indicators"`
	ContextClues    []string `json:"context_clues"`
}

// SentimentResult is the sentiment mismatch agent's verdict.
type SentimentResult struct {
	MismatchDetected bool              `json:"mismatch_detected"`
	Confidence       float64           `json:"confidence"`
	Analysis         SentimentAnalysis `json:"analysis"`
	RiskLevel        string            `json:"risk_level"`
	ScenarioType     string            `json:"scenario_type"`
	Action           string            `json:"action"`
	Description      string            `json:"description"`
}

func (r *SentimentResult) Kind() Kind                { return KindSentimentMismatch }
func (r *SentimentResult) Detected() bool            { return r.MismatchDetected }
func (r *SentimentResult) AlertType() call.AlertType { return call.AlertSentimentMismatch }

func (r *SentimentResult) AlertFields() AlertFields {
	prefix := "⚠️"
	switch strings.ToLower(firstNonEmpty(r.RiskLevel, "medium")) {
	case "high", "critical":
		prefix = "🚨"
	}
	return AlertFields{
		Message: prefix + " Potential Danger: " + firstNonEmpty(r.Description, "Sentiment mismatch detected"),
		Action:  strings.TrimSpace(r.Action),
	}
}

// DecodeResult parses a classifier reply for kind. Prose around the JSON
// object is tolerated.
func DecodeResult(kind Kind, content string) (Result, error) {
	raw, err := extractJSONObject(content)
	if err != nil {
		return nil, err
	}

	var result Result
	switch kind {
	case KindAdverseEvent:
		result = &AdverseEventResult{}
	case KindAppointment:
		result = &AppointmentResult{}
	case KindEmergency:
		result = &EmergencyResult{}
	case KindSentimentMismatch:
		result = &SentimentResult{}
	default:
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", kind, err)
	}
	return result, nil
}

func extractJSONObject(content string) ([]byte, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}
	return []byte(trimmed[start : end+1]), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
