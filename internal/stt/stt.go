// Package stt maintains a streaming speech-to-text session against the
// Deepgram live API: it relays raw PCM audio, reconnects with backoff,
// keeps the connection alive through silence, and turns the provider's
// partial/final result stream into captions and speaker-attributed
// utterances.
package stt

// Word is a single recognized word with provider timestamps in seconds.
type Word struct {
	Text    string
	Start   float64
	End     float64
	Speaker *int
}

// Caption is an interim transcript for one channel. Consecutive identical
// captions per channel are deduplicated before emission.
type Caption struct {
	ChannelIndex int
	Text         string
	Confidence   float64
}

// Utterance is a finalized span of speech. The speaker id is only set when
// diarization produced word-level tags; timestamps are nil when the provider
// sent no word timings.
type Utterance struct {
	ChannelIndex int
	Speaker      *int
	Text         string
	StartMS      *int64
	EndMS        *int64
}

// Metadata reports provider-side session information.
type Metadata struct {
	RequestID string
	Created   string
}

// Event is a tagged variant delivered on Session.Events(). Consumers
// type-switch on the concrete event types below.
type Event interface {
	sessionEvent()
}

// StatusEvent reports a session status transition.
type StatusEvent struct {
	Status Status
}

// CaptionEvent carries an interim transcript.
type CaptionEvent struct {
	Caption Caption
}

// UtteranceEvent carries a finalized utterance.
type UtteranceEvent struct {
	Utterance Utterance
}

// MetadataEvent carries provider metadata.
type MetadataEvent struct {
	Metadata Metadata
}

// ErrorEvent carries a non-fatal transport or protocol error.
type ErrorEvent struct {
	Err error
}

func (StatusEvent) sessionEvent()    {}
func (CaptionEvent) sessionEvent()   {}
func (UtteranceEvent) sessionEvent() {}
func (MetadataEvent) sessionEvent()  {}
func (ErrorEvent) sessionEvent()     {}
