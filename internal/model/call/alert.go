package call

import "time"

// AlertType 告警类别，同一类别共享冷却时间。
type AlertType string

const (
	AlertAdverseEvent      AlertType = "adverse_event"
	AlertAppointment       AlertType = "appointment"
	AlertEmergency         AlertType = "emergency"
	AlertSentimentMismatch AlertType = "sentiment_mismatch"
)

// Severity 告警级别
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert 会话内已发出的告警记录
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Action    string    `json:"action,omitempty"`
}

// Summary 停止会话时返回的统计信息
type Summary struct {
	SessionID        string            `json:"session_id"`
	DurationSeconds  float64           `json:"duration_seconds"`
	TotalAlerts      int               `json:"total_alerts"`
	AlertsByType     map[AlertType]int `json:"alerts_by_type"`
	TranscriptLength int               `json:"transcript_length"`
}
