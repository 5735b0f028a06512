package call

import (
	"time"

	"github.com/mvejnar/sidekick/internal/stt"
)

// SessionInfo identifies an assist session and the parameters it was started
// with. It is immutable once returned from Start.
type SessionInfo struct {
	ID            string    `json:"id"`
	Mode          Mode      `json:"mode"`
	SampleRate    int       `json:"sample_rate"`
	Channels      int       `json:"channels"`
	YouChannel    int       `json:"you_channel"`
	StartedAt     time.Time `json:"started_at"`
	RecordingPath string    `json:"recording_path,omitempty"`
}

// Utterance is a finalized, labeled span of speech. Immutable once emitted.
type Utterance struct {
	ID      string `json:"id"`
	Channel int    `json:"channel"`
	Speaker *int   `json:"speaker,omitempty"`
	Label   string `json:"label"`
	Text    string `json:"text"`
	StartMS *int64 `json:"start_ms,omitempty"`
	EndMS   *int64 `json:"end_ms,omitempty"`
}

// Turn is one entry in the rolling transcript window.
type Turn struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Event is a tagged variant delivered on Orchestrator.Events(). Consumers
// type-switch on the concrete event types below.
type Event interface {
	assistEvent()
}

// StartedEvent reports that a session started.
type StartedEvent struct {
	Info SessionInfo
}

// StatusEvent forwards a transcription connection status change.
type StatusEvent struct {
	SessionID string
	Status    stt.Status
}

// CaptionEvent carries an interim transcript line with a per-mode label.
type CaptionEvent struct {
	SessionID string
	Channel   int
	Label     string
	Text      string
}

// UtteranceEvent carries a finalized, labeled utterance.
type UtteranceEvent struct {
	SessionID string
	Utterance Utterance
}

// MetadataEvent forwards provider session metadata.
type MetadataEvent struct {
	SessionID string
	Metadata  stt.Metadata
}

// SuggestionEvent carries a generated reply suggestion for the device user.
type SuggestionEvent struct {
	SessionID   string
	UtteranceID string // utterance that triggered the generation
	Text        string
}

// SummaryEvent carries the post-call summary.
type SummaryEvent struct {
	SessionID string
	Text      string
}

// ErrorEvent reports a non-fatal failure scoped to one session. Scope names
// the failing concern: "transcription", "recording", "suggestion" or
// "summary".
type ErrorEvent struct {
	SessionID string
	Scope     string
	Err       error
}

// StoppedEvent is the terminal event for a session. The transcript is the
// rolling-buffer snapshot taken at stop time.
type StoppedEvent struct {
	SessionID  string
	StartedAt  time.Time
	StoppedAt  time.Time
	Transcript []Turn
}

func (StartedEvent) assistEvent()    {}
func (StatusEvent) assistEvent()     {}
func (CaptionEvent) assistEvent()    {}
func (UtteranceEvent) assistEvent()  {}
func (MetadataEvent) assistEvent()   {}
func (SuggestionEvent) assistEvent() {}
func (SummaryEvent) assistEvent()    {}
func (ErrorEvent) assistEvent()      {}
func (StoppedEvent) assistEvent()    {}
