package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/zhouzirui/medcall/backend/internal/logging"
	"github.com/zhouzirui/medcall/backend/internal/model/call"
	"github.com/zhouzirui/medcall/backend/internal/service/agent"
	"github.com/zhouzirui/medcall/backend/internal/service/events"
	"github.com/zhouzirui/medcall/backend/internal/service/session"
	"github.com/zhouzirui/medcall/backend/internal/service/speech"
)

const (
	DefaultCooldown        = 30 * time.Second
	DefaultAgentTimeout    = 20 * time.Second
	DefaultMinAnalysis     = 15
	DefaultHistoryWindow   = 5
	DefaultSentimentWindow = 10
)

var (
	// ErrSessionInactive is returned for chunks sent to a stopped session.
	ErrSessionInactive = errors.New("session is not active")
	// ErrNoTranscriber is returned by SubmitAudio when no speech backend is wired.
	ErrNoTranscriber = errors.New("no transcriber configured")
)

// Config 控制分析流水线的阈值与窗口。
type Config struct {
	Cooldown         time.Duration
	AgentTimeout     time.Duration
	MinAnalysisChars int
	HistoryWindow    int
	Windows          map[agent.Kind]int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:         DefaultCooldown,
		AgentTimeout:     DefaultAgentTimeout,
		MinAnalysisChars: DefaultMinAnalysis,
		HistoryWindow:    DefaultHistoryWindow,
		Windows: map[agent.Kind]int{
			agent.KindSentimentMismatch: DefaultSentimentWindow,
		},
	}
}

// Broadcaster is the hub surface the service needs.
type Broadcaster interface {
	events.Publisher
	CloseSession(sessionID string)
}

// ChunkReport describes what happened to one accepted chunk. History is the
// transcript window captured when Entry was appended and always ends with it.
type ChunkReport struct {
	Entry    call.TranscriptEntry
	History  []call.TranscriptEntry
	Analyzed bool
	Results  map[agent.Kind]agent.Result
	Outcomes []Outcome
}

// Emitted returns the alerts raised by this chunk.
func (r *ChunkReport) Emitted() []call.Alert {
	var alerts []call.Alert
	for _, o := range r.Outcomes {
		if o.Status == StatusEmitted && o.Alert != nil {
			alerts = append(alerts, *o.Alert)
		}
	}
	return alerts
}

// Service 串联会话、转写、并发分析与告警策略。
type Service struct {
	store       *session.Store
	hub         Broadcaster
	transcriber speech.Transcriber
	fanout      *FanOut
	policy      *Policy
	minChars    int

	wg sync.WaitGroup
}

// NewService wires the pipeline. transcriber may be nil when only text
// chunks are accepted.
func NewService(store *session.Store, hub Broadcaster, agents []agent.Agent, transcriber speech.Transcriber, cfg Config) *Service {
	if cfg.MinAnalysisChars < 0 {
		cfg.MinAnalysisChars = 0
	}
	return &Service{
		store:       store,
		hub:         hub,
		transcriber: transcriber,
		fanout:      NewFanOut(agents, cfg.AgentTimeout, cfg.Windows, cfg.HistoryWindow),
		policy:      NewPolicy(cfg.Cooldown, hub),
		minChars:    cfg.MinAnalysisChars,
	}
}

// StartSession registers a new active session. An empty id gets a generated one.
func (s *Service) StartSession(id string) (*session.Session, error) {
	sess, err := s.store.Create(id)
	if err != nil {
		return nil, err
	}
	logging.Infow("session started", "session_id", sess.ID())
	return sess, nil
}

// StopSession deactivates the session and returns its summary. Analyses
// already running keep going and may still append alerts.
func (s *Service) StopSession(id string) (call.Summary, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return call.Summary{}, err
	}
	summary := sess.Stop()
	logging.Infow("session stopped",
		"session_id", id,
		"duration_seconds", summary.DurationSeconds,
		"total_alerts", summary.TotalAlerts,
	)
	return summary, nil
}

// RemoveSession stops and forgets the session and disconnects its subscribers.
func (s *Service) RemoveSession(id string) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	sess.Stop()
	if err := s.store.Remove(id); err != nil {
		return err
	}
	s.Evicted(id)
	return nil
}

// Evicted releases per-session resources after the store dropped id.
func (s *Service) Evicted(id string) {
	if s.hub != nil {
		s.hub.CloseSession(id)
	}
	logging.Infow("session removed", "session_id", id)
}

// Session returns the live session.
func (s *Service) Session(id string) (*session.Session, error) {
	return s.store.Get(id)
}

// Alerts returns a copy of the alerts emitted for the session.
func (s *Service) Alerts(id string) ([]call.Alert, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Alerts(), nil
}

// Transcript returns a copy of the session transcript.
func (s *Service) Transcript(id string) ([]call.TranscriptEntry, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Transcript(), nil
}

// ProcessChunk appends text to the transcript and, when it is long enough,
// runs every agent and applies the alert policy before returning.
func (s *Service) ProcessChunk(ctx context.Context, id, text string) (*ChunkReport, error) {
	sess, report, err := s.accept(id, text)
	if err != nil || report == nil || !s.shouldAnalyze(report.Entry.Text) {
		return report, err
	}
	s.analyze(ctx, sess, report)
	return report, nil
}

// SubmitChunk appends text synchronously, preserving arrival order, and runs
// the analysis in the background. The analysis outlives ctx cancellation.
func (s *Service) SubmitChunk(ctx context.Context, id, text string) (*call.TranscriptEntry, error) {
	sess, report, err := s.accept(id, text)
	if err != nil || report == nil {
		return nil, err
	}
	if !s.shouldAnalyze(report.Entry.Text) {
		return &report.Entry, nil
	}

	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.analyze(detached, sess, report)
	}()
	return &report.Entry, nil
}

// SubmitAudio transcribes audio and feeds the text to SubmitChunk. A failed
// transcription drops the chunk.
func (s *Service) SubmitAudio(ctx context.Context, id string, audio []byte) (*call.TranscriptEntry, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !sess.Active() {
		return nil, ErrSessionInactive
	}
	if s.transcriber == nil {
		return nil, ErrNoTranscriber
	}

	text, err := s.transcriber.Transcribe(ctx, audio)
	if err != nil {
		logging.Warnw("transcription failed, chunk dropped", "session_id", id, "bytes", len(audio), "error", err)
		return nil, fmt.Errorf("transcribe chunk: %w", err)
	}
	return s.SubmitChunk(ctx, id, text)
}

// Wait blocks until background analyses started by SubmitChunk finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// accept validates the session and appends the chunk. A nil report with a
// nil error means the chunk was empty.
func (s *Service) accept(id, text string) (*session.Session, *ChunkReport, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if !sess.Active() {
		return nil, nil, ErrSessionInactive
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return sess, nil, nil
	}

	entry, history := sess.AppendWithWindow(call.SpeakerCaller, trimmed, s.fanout.MaxWindow())
	if s.hub != nil {
		s.hub.Publish(id, events.NewTranscriptEvent(id, entry))
	}
	return sess, &ChunkReport{Entry: entry, History: history}, nil
}

func (s *Service) shouldAnalyze(text string) bool {
	return utf8.RuneCountInString(text) >= s.minChars
}

func (s *Service) analyze(ctx context.Context, sess *session.Session, report *ChunkReport) {
	started := time.Now()
	results := s.fanout.Run(ctx, report.History, report.Entry.Text)

	report.Analyzed = true
	report.Results = make(map[agent.Kind]agent.Result, len(results))
	report.Outcomes = make([]Outcome, 0, len(results))
	for _, result := range results {
		report.Results[result.Kind()] = result
		report.Outcomes = append(report.Outcomes, s.policy.Apply(sess, result))
	}

	logging.Debugw("chunk analyzed",
		"session_id", sess.ID(),
		"agents", len(results),
		"alerts", len(report.Emitted()),
		"elapsed", time.Since(started),
	)
}
