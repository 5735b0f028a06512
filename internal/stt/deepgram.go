package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

const (
	closeStreamMessage = `{"type": "CloseStream"}`
	keepAliveMessage   = `{"type": "KeepAlive"}`
)

const dialTimeout = 10 * time.Second

// SessionConfig holds the streaming recognition parameters for one session.
// Zero values for the tunables at the bottom fall back to the defaults in
// normalize.
type SessionConfig struct {
	Model          string // e.g. "nova-2"
	Language       string // e.g. "en"
	SampleRate     int    // PCM sample rate in Hz
	Channels       int
	Punctuate      bool
	SmartFormat    bool
	Numerals       bool
	VADEvents      bool
	Endpointing    int      // ms of silence before a result is marked final, 0 for provider default
	UtteranceEndMS int      // ms after last speech before an UtteranceEnd fires, 0 to disable
	Keywords       []string // "term:boost" entries
	Keyterms       []string
	Multichannel   bool
	Diarize        bool

	QueueLimit        int           // max audio frames buffered while disconnected
	KeepaliveInterval time.Duration // how often silence is checked
	KeepaliveSilence  time.Duration // silence duration after which a keepalive is sent
	ReconnectBase     time.Duration // first reconnect delay
	ReconnectMax      time.Duration // reconnect delay ceiling
}

func (cfg *SessionConfig) normalize() {
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = 256
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 3 * time.Second
	}
	if cfg.KeepaliveSilence <= 0 {
		cfg.KeepaliveSilence = 3 * time.Second
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
}

// buildListenURL renders the live endpoint URL. Audio is always 16-bit
// linear PCM and interim results are always requested; everything else
// follows the config.
func buildListenURL(base string, cfg SessionConfig) string {
	q := url.Values{}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(cfg.Channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", strconv.FormatBool(cfg.Punctuate))

	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	if cfg.SmartFormat {
		q.Set("smart_format", "true")
	}
	if cfg.Numerals {
		q.Set("numerals", "true")
	}
	if cfg.VADEvents {
		q.Set("vad_events", "true")
	}
	if cfg.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(cfg.Endpointing))
	}
	if cfg.UtteranceEndMS > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMS))
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", kw)
	}
	for _, kt := range cfg.Keyterms {
		q.Add("keyterm", kt)
	}
	if cfg.Multichannel {
		q.Set("multichannel", "true")
	}
	if cfg.Diarize {
		q.Set("diarize", "true")
	}

	return base + "?" + q.Encode()
}

// dialDeepgram opens the websocket with token authentication.
func dialDeepgram(ctx context.Context, base string, cfg SessionConfig, apiKey string) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+apiKey)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, buildListenURL(base, cfg), headers)
	if err != nil {
		return nil, fmt.Errorf("connect to deepgram: %w", err)
	}
	return conn, nil
}

// resultsMessage is a Deepgram "Results" payload. channel_index is
// [channel, totalChannels].
type resultsMessage struct {
	ChannelIndex []int `json:"channel_index"`
	IsFinal      bool  `json:"is_final"`
	SpeechFinal  bool  `json:"speech_final"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Speaker        *int    `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// utteranceEndMessage is a Deepgram "UtteranceEnd" payload. Here channel is
// [channel, totalChannels]; an empty array means the boundary applies to all
// channels.
type utteranceEndMessage struct {
	Channel     []int    `json:"channel"`
	LastWordEnd *float64 `json:"last_word_end"`
}

type metadataMessage struct {
	RequestID string `json:"request_id"`
	Created   string `json:"created"`
}

// serverMessage is one parsed provider message; exactly one field is set.
type serverMessage struct {
	results  *resultsMessage
	boundary *utteranceEndMessage
	metadata *metadataMessage
}

// parseServerMessage decodes a provider frame. Unknown message types return
// (nil, nil) and are ignored; malformed payloads return an error and are
// dropped by the caller.
func parseServerMessage(data []byte) (*serverMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parse message envelope: %w", err)
	}

	switch envelope.Type {
	case "Results":
		var r resultsMessage
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("parse results message: %w", err)
		}
		return &serverMessage{results: &r}, nil
	case "UtteranceEnd":
		var u utteranceEndMessage
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("parse utterance end message: %w", err)
		}
		return &serverMessage{boundary: &u}, nil
	case "Metadata":
		var m metadataMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse metadata message: %w", err)
		}
		return &serverMessage{metadata: &m}, nil
	default:
		// SpeechStarted and anything the provider adds later.
		return nil, nil
	}
}

// wordText prefers the punctuated rendering when the provider sent one.
func wordText(word, punctuated string) string {
	if punctuated != "" {
		return punctuated
	}
	return word
}
