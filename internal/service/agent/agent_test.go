package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/medcall/backend/internal/model/call"
)

type fakeChatModel struct {
	mu          sync.Mutex
	reply       string
	err         error
	lastInput   []*schema.Message
	temperature float32
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastInput = input
	if options := model.GetCommonOptions(nil, opts...); options.Temperature != nil {
		f.temperature = *options.Temperature
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestClassifierDecodesEmergency(t *testing.T) {
	fake := &fakeChatModel{reply: "Sure:\n{\"is_emergency\": true, \"severity\": \"critical\", \"description\": \"Chest pain with shortness of breath\", \"action\": \"Call 911\"}"}
	classifier, err := NewClassifier(context.Background(), fake, KindEmergency)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}

	history := []call.TranscriptEntry{{Speaker: call.SpeakerCaller, Text: "Hello"}}
	result, err := classifier.Analyze(context.Background(), "I have chest pain", history)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if !result.Detected() || result.AlertType() != call.AlertEmergency {
		t.Fatalf("unexpected result: %+v", result)
	}

	fields := result.AlertFields()
	if fields.Message != "🚨 EMERGENCY DETECTED: Chest pain with shortness of breath" {
		t.Fatalf("unexpected message %q", fields.Message)
	}
	if fields.Action != "Call 911" {
		t.Fatalf("unexpected action %q", fields.Action)
	}

	if fake.temperature != 0.2 {
		t.Fatalf("expected emergency temperature 0.2, got %v", fake.temperature)
	}
	if len(fake.lastInput) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(fake.lastInput))
	}
	user := fake.lastInput[1].Content
	if !strings.Contains(user, "caller: Hello") || !strings.Contains(user, "Current statement: I have chest pain") {
		t.Fatalf("prompt not rendered as expected:\n%s", user)
	}
	if !strings.Contains(user, "\"is_emergency\": true/false") {
		t.Fatal("expected literal JSON schema in prompt")
	}
}

func TestClassifierWrapsModelError(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("upstream 503")}
	classifier, err := NewClassifier(context.Background(), fake, KindAdverseEvent)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}

	if _, err := classifier.Analyze(context.Background(), "rash after pills", nil); !errors.Is(err, ErrAnalysis) {
		t.Fatalf("expected ErrAnalysis, got %v", err)
	}
}

func TestClassifierRejectsMalformedReply(t *testing.T) {
	fake := &fakeChatModel{reply: "no json here"}
	classifier, err := NewClassifier(context.Background(), fake, KindAppointment)
	if err != nil {
		t.Fatalf("NewClassifier returned error: %v", err)
	}

	if _, err := classifier.Analyze(context.Background(), "I missed my appointment", nil); !errors.Is(err, ErrAnalysis) {
		t.Fatalf("expected ErrAnalysis, got %v", err)
	}
}

func TestAlertMessageDefaults(t *testing.T) {
	cases := []struct {
		name   string
		result Result
		want   string
	}{
		{"adverse event", &AdverseEventResult{IsDetected: true}, "⚠️ Adverse Event Detected: Unknown AE"},
		{"appointment falls back to issue type", &AppointmentResult{IssueDetected: true, IssueType: "cancellation"}, "📅 Appointment Issue: cancellation"},
		{"emergency defaults to urgent", &EmergencyResult{IsEmergency: true}, "⚠️ EMERGENCY DETECTED: Immediate attention required"},
		{"sentiment high risk", &SentimentResult{MismatchDetected: true, RiskLevel: "high"}, "🚨 Potential Danger: Sentiment mismatch detected"},
		{"sentiment default risk", &SentimentResult{MismatchDetected: true}, "⚠️ Potential Danger: Sentiment mismatch detected"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.result.AlertFields().Message; got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeSentimentNestedAnalysis(t *testing.T) {
	raw := `{"mismatch_detected": true, "confidence": 80, "analysis": {"stated_sentiment": "fine", "indicators": ["pizza order"]}, "risk_level": "critical"}`
	result, err := DecodeResult(KindSentimentMismatch, raw)
	if err != nil {
		t.Fatalf("DecodeResult returned error: %v", err)
	}
	sentiment, ok := result.(*SentimentResult)
	if !ok {
		t.Fatalf("unexpected type %T", result)
	}
	if sentiment.Analysis.StatedSentiment != "fine" || len(sentiment.Analysis.Indicators) != 1 {
		t.Fatalf("nested analysis not decoded: %+v", sentiment.Analysis)
	}
}

func TestHeuristicEmergency(t *testing.T) {
	h, err := NewHeuristic(KindEmergency)
	if err != nil {
		t.Fatalf("NewHeuristic returned error: %v", err)
	}

	result, err := h.Analyze(context.Background(), "I have severe chest pain and can't breathe", nil)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	emergency := result.(*EmergencyResult)
	if !emergency.IsEmergency || emergency.Severity != "critical" || emergency.Action != "Call 911" {
		t.Fatalf("unexpected emergency result: %+v", emergency)
	}
}

func TestHeuristicSentimentUsesHistory(t *testing.T) {
	h, _ := NewHeuristic(KindSentimentMismatch)
	history := []call.TranscriptEntry{
		{Speaker: call.SpeakerCaller, Text: "he's here with me"},
	}

	result, err := h.Analyze(context.Background(), "Everything is fine, I'm fine", history)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if !result.Detected() {
		t.Fatal("expected mismatch detection")
	}
}

func TestHeuristicHonoursCancelledContext(t *testing.T) {
	h, _ := NewHeuristic(KindAppointment)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.Analyze(ctx, "I need to reschedule", nil); !errors.Is(err, ErrAnalysis) {
		t.Fatalf("expected ErrAnalysis, got %v", err)
	}
}

func TestParseKindAliases(t *testing.T) {
	for raw, want := range map[string]Kind{"AE": KindAdverseEvent, "sentiment": KindSentimentMismatch, " emergency ": KindEmergency} {
		got, err := ParseKind(raw)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseKind("weather"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestFailedResult(t *testing.T) {
	cause := errors.New("timeout")
	r := Failed(KindAppointment, cause)
	if r.Detected() || r.AlertType() != call.AlertAppointment {
		t.Fatalf("unexpected failed result: %+v", r)
	}
	if !errors.Is(ErrorOf(r), cause) {
		t.Fatal("expected cause to be preserved")
	}
	if ErrorOf(&AppointmentResult{}) != nil {
		t.Fatal("successful results carry no error")
	}
}

func TestParseKindsDeduplicatesAliases(t *testing.T) {
	kinds, err := ParseKinds([]string{"ae", "emergency", "adverse_event", "AE"})
	if err != nil {
		t.Fatalf("ParseKinds: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != KindAdverseEvent || kinds[1] != KindEmergency {
		t.Fatalf("unexpected kinds %v", kinds)
	}

	all, err := ParseKinds(nil)
	if err != nil || len(all) != len(AllKinds()) {
		t.Fatalf("empty list should mean all kinds, got %v, %v", all, err)
	}
	if _, err := ParseKinds([]string{"ae", "weather"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
