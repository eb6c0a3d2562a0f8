package call

import "time"

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
	SpeakerSystem Speaker = "system"
)

// TranscriptEntry is one appended utterance of a monitored call.
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
}
