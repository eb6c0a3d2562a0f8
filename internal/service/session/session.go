package session

import (
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/medcall/backend/internal/model/call"
)

// Session holds the live state of one monitored call. All mutation goes
// through its methods, which serialize on a per-session mutex.
type Session struct {
	id        string
	startedAt time.Time
	now       func() time.Time

	mu          sync.RWMutex
	active      bool
	stoppedAt   time.Time
	final       *call.Summary
	transcript  []call.TranscriptEntry
	alerts      []call.Alert
	lastEmitted map[call.AlertType]time.Time
}

func newSession(id string, now func() time.Time) *Session {
	return &Session{
		id:          id,
		startedAt:   now(),
		now:         now,
		active:      true,
		transcript:  make([]call.TranscriptEntry, 0, 32),
		alerts:      make([]call.Alert, 0, 8),
		lastEmitted: make(map[call.AlertType]time.Time),
	}
}

// ID returns the immutable session identifier.
func (s *Session) ID() string { return s.id }

// StartedAt returns the creation time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Active reports whether the session still accepts chunks.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// AppendTranscript appends an entry and returns it. Appends are totally
// ordered by the session mutex.
func (s *Session) AppendTranscript(speaker call.Speaker, text string) call.TranscriptEntry {
	entry, _ := s.AppendWithWindow(speaker, text, 0)
	return entry
}

// AppendWithWindow appends an entry and, under the same lock, snapshots the
// last n entries. The snapshot always ends with the new entry, whatever is
// appended afterwards.
func (s *Session) AppendWithWindow(speaker call.Speaker, text string, n int) (call.TranscriptEntry, []call.TranscriptEntry) {
	if speaker == "" {
		speaker = call.SpeakerCaller
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := call.TranscriptEntry{
		Timestamp: s.now().UTC(),
		Speaker:   speaker,
		Text:      strings.TrimSpace(text),
	}
	s.transcript = append(s.transcript, entry)
	return entry, s.tailLocked(n)
}

// Tail returns a copy of the last n transcript entries, oldest first.
func (s *Session) Tail(n int) []call.TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tailLocked(n)
}

func (s *Session) tailLocked(n int) []call.TranscriptEntry {
	if n <= 0 || len(s.transcript) == 0 {
		return nil
	}
	start := max(len(s.transcript)-n, 0)
	out := make([]call.TranscriptEntry, len(s.transcript)-start)
	copy(out, s.transcript[start:])
	return out
}

// Transcript returns a copy of the full transcript.
func (s *Session) Transcript() []call.TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]call.TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Alerts returns a copy of every emitted alert.
func (s *Session) Alerts() []call.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]call.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// EmitAlert records the alert unless another alert of the same type was
// emitted less than cooldown ago. The check and the update happen under one
// lock, so concurrent fan-outs cannot both pass the gate. The returned alert
// carries the emission timestamp; ok is false when it was suppressed.
func (s *Session) EmitAlert(alert call.Alert, cooldown time.Duration) (call.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if last, seen := s.lastEmitted[alert.Type]; seen && now.Sub(last) < cooldown {
		return call.Alert{}, false
	}

	alert.Timestamp = now
	s.alerts = append(s.alerts, alert)
	s.lastEmitted[alert.Type] = now
	return alert, true
}

// LastEmitted returns when an alert of the given type was last emitted.
func (s *Session) LastEmitted(alertType call.AlertType) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastEmitted[alertType]
	return t, ok
}

// Stop deactivates the session and returns its summary. The summary is
// captured on the first call; later calls return it unchanged even if
// in-flight analyses append alerts after the stop.
func (s *Session) Stop() call.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.active = false
		s.stoppedAt = s.now()
		summary := s.summaryLocked(s.stoppedAt)
		s.final = &summary
	}
	return copySummary(*s.final)
}

// StoppedAt returns the time of the first Stop call.
func (s *Session) StoppedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stoppedAt, !s.active
}

// Summary aggregates alert and transcript counts. For an active session the
// duration runs up to now; a stopped session returns the summary frozen by Stop.
func (s *Session) Summary() call.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.final != nil {
		return copySummary(*s.final)
	}
	return s.summaryLocked(s.now())
}

func (s *Session) summaryLocked(end time.Time) call.Summary {
	byType := make(map[call.AlertType]int)
	for _, alert := range s.alerts {
		byType[alert.Type]++
	}

	return call.Summary{
		SessionID:        s.id,
		DurationSeconds:  end.Sub(s.startedAt).Seconds(),
		TotalAlerts:      len(s.alerts),
		AlertsByType:     byType,
		TranscriptLength: len(s.transcript),
	}
}

func copySummary(in call.Summary) call.Summary {
	byType := make(map[call.AlertType]int, len(in.AlertsByType))
	for k, v := range in.AlertsByType {
		byType[k] = v
	}
	in.AlertsByType = byType
	return in
}
