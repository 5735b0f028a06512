package stt

import (
	"net/url"
	"strings"
	"testing"
)

func TestBuildListenURL(t *testing.T) {
	cfg := SessionConfig{
		Model:          "nova-2",
		Language:       "en",
		SampleRate:     16000,
		Channels:       2,
		Punctuate:      true,
		SmartFormat:    true,
		Numerals:       true,
		VADEvents:      true,
		Endpointing:    300,
		UtteranceEndMS: 1000,
		Multichannel:   true,
	}

	raw := buildListenURL(deepgramWSURL, cfg)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}

	if !strings.HasPrefix(raw, "wss://api.deepgram.com/v1/listen?") {
		t.Errorf("url prefix = %q, want deepgram listen endpoint", raw)
	}

	q := u.Query()
	want := map[string]string{
		"encoding":         "linear16",
		"sample_rate":      "16000",
		"channels":         "2",
		"interim_results":  "true",
		"punctuate":        "true",
		"model":            "nova-2",
		"language":         "en",
		"smart_format":     "true",
		"numerals":         "true",
		"vad_events":       "true",
		"endpointing":      "300",
		"utterance_end_ms": "1000",
		"multichannel":     "true",
	}
	for key, val := range want {
		if got := q.Get(key); got != val {
			t.Errorf("query %s = %q, want %q", key, got, val)
		}
	}
	if q.Get("diarize") != "" {
		t.Errorf("diarize = %q, want unset", q.Get("diarize"))
	}
}

func TestBuildListenURLOmitsDefaults(t *testing.T) {
	cfg := SessionConfig{SampleRate: 8000, Channels: 1}

	u, err := url.Parse(buildListenURL(deepgramWSURL, cfg))
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}

	q := u.Query()
	for _, key := range []string{"model", "language", "smart_format", "numerals", "vad_events", "endpointing", "utterance_end_ms", "multichannel", "diarize", "keywords", "keyterm"} {
		if q.Has(key) {
			t.Errorf("query %s = %q, want unset", key, q.Get(key))
		}
	}
	if got := q.Get("punctuate"); got != "false" {
		t.Errorf("punctuate = %q, want %q", got, "false")
	}
	if got := q.Get("interim_results"); got != "true" {
		t.Errorf("interim_results = %q, want %q", got, "true")
	}
}

func TestBuildListenURLRepeatsBoostTerms(t *testing.T) {
	cfg := SessionConfig{
		SampleRate: 16000,
		Channels:   1,
		Keywords:   []string{"kubernetes:2", "sidekick:3"},
		Keyterms:   []string{"call assist"},
	}

	u, err := url.Parse(buildListenURL(deepgramWSURL, cfg))
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}

	q := u.Query()
	if got := q["keywords"]; len(got) != 2 || got[0] != "kubernetes:2" || got[1] != "sidekick:3" {
		t.Errorf("keywords = %v, want [kubernetes:2 sidekick:3]", got)
	}
	if got := q["keyterm"]; len(got) != 1 || got[0] != "call assist" {
		t.Errorf("keyterm = %v, want [call assist]", got)
	}
}

func TestParseServerMessageResults(t *testing.T) {
	data := []byte(`{
		"type": "Results",
		"channel_index": [1, 2],
		"is_final": true,
		"speech_final": false,
		"channel": {
			"alternatives": [{
				"transcript": "hello there",
				"confidence": 0.97,
				"words": [
					{"word": "hello", "punctuated_word": "Hello", "start": 0.1, "end": 0.4, "speaker": 0},
					{"word": "there", "start": 0.5, "end": 0.8}
				]
			}]
		}
	}`)

	msg, err := parseServerMessage(data)
	if err != nil {
		t.Fatalf("parseServerMessage failed: %v", err)
	}
	if msg == nil || msg.results == nil {
		t.Fatal("expected a results message")
	}

	r := msg.results
	if len(r.ChannelIndex) != 2 || r.ChannelIndex[0] != 1 {
		t.Errorf("channel_index = %v, want [1 2]", r.ChannelIndex)
	}
	if !r.IsFinal || r.SpeechFinal {
		t.Errorf("is_final=%v speech_final=%v, want true false", r.IsFinal, r.SpeechFinal)
	}

	alt := r.Channel.Alternatives[0]
	if alt.Transcript != "hello there" {
		t.Errorf("transcript = %q, want %q", alt.Transcript, "hello there")
	}
	if len(alt.Words) != 2 {
		t.Fatalf("words = %d, want 2", len(alt.Words))
	}
	if alt.Words[0].Speaker == nil || *alt.Words[0].Speaker != 0 {
		t.Error("first word should carry speaker 0")
	}
	if alt.Words[1].Speaker != nil {
		t.Error("second word should carry no speaker tag")
	}
}

func TestParseServerMessageUtteranceEnd(t *testing.T) {
	msg, err := parseServerMessage([]byte(`{"type": "UtteranceEnd", "channel": [0, 2], "last_word_end": 3.12}`))
	if err != nil {
		t.Fatalf("parseServerMessage failed: %v", err)
	}
	if msg == nil || msg.boundary == nil {
		t.Fatal("expected an utterance end message")
	}
	if len(msg.boundary.Channel) != 2 || msg.boundary.Channel[0] != 0 {
		t.Errorf("channel = %v, want [0 2]", msg.boundary.Channel)
	}
	if msg.boundary.LastWordEnd == nil || *msg.boundary.LastWordEnd != 3.12 {
		t.Errorf("last_word_end = %v, want 3.12", msg.boundary.LastWordEnd)
	}
}

func TestParseServerMessageMetadata(t *testing.T) {
	msg, err := parseServerMessage([]byte(`{"type": "Metadata", "request_id": "req-1", "created": "2026-08-01T10:00:00Z"}`))
	if err != nil {
		t.Fatalf("parseServerMessage failed: %v", err)
	}
	if msg == nil || msg.metadata == nil {
		t.Fatal("expected a metadata message")
	}
	if msg.metadata.RequestID != "req-1" {
		t.Errorf("request_id = %q, want %q", msg.metadata.RequestID, "req-1")
	}
}

func TestParseServerMessageIgnoresUnknownTypes(t *testing.T) {
	msg, err := parseServerMessage([]byte(`{"type": "SpeechStarted", "channel": [0, 1], "timestamp": 0.5}`))
	if err != nil {
		t.Fatalf("parseServerMessage failed: %v", err)
	}
	if msg != nil {
		t.Errorf("msg = %+v, want nil for unknown type", msg)
	}
}

func TestParseServerMessageMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "not json at all"},
		{"wrong envelope", `{"type": 42}`},
		{"results with bad channel", `{"type": "Results", "channel": 5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseServerMessage([]byte(tt.data)); err == nil {
				t.Error("parseServerMessage succeeded, want error")
			}
		})
	}
}

func TestWordText(t *testing.T) {
	if got := wordText("hello", "Hello,"); got != "Hello," {
		t.Errorf("wordText = %q, want punctuated form", got)
	}
	if got := wordText("hello", ""); got != "hello" {
		t.Errorf("wordText = %q, want raw form", got)
	}
}
