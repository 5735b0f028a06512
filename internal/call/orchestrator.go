package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mvejnar/sidekick/internal/audio"
	"github.com/mvejnar/sidekick/internal/llm"
	"github.com/mvejnar/sidekick/internal/memory"
	"github.com/mvejnar/sidekick/internal/stt"
)

const (
	suggestionTimeout = 15 * time.Second
	summaryTimeout    = 30 * time.Second
	memoryTimeout     = 5 * time.Second
)

// SpeechSession is the transcription surface the orchestrator drives.
// Implementations must close the Events channel after Stop returns.
type SpeechSession interface {
	Start() error
	SendAudio(frame []byte)
	Stop() error
	Events() <-chan stt.Event
}

// StartParams are the caller-supplied session parameters. Out-of-range
// values are clamped, not rejected.
type StartParams struct {
	Mode       Mode
	SampleRate int
	Channels   int
	YouChannel int
	YouSpeaker *int
	Language   string // overrides the configured language when set
}

// Deps are the orchestrator's collaborators. Completer and Memory may be
// nil, which disables suggestions/summaries and memory persistence. An empty
// RecordingDir disables WAV recording.
type Deps struct {
	Completer llm.Client
	Memory    memory.Store
	Logger    *log.Logger

	DeepgramKey  string
	RecordingDir string

	// NewSpeechSession overrides how the transcription session is built.
	// When nil, a Deepgram session is dialed with DeepgramKey.
	NewSpeechSession func(cfg stt.SessionConfig) SpeechSession
}

// Orchestrator owns at most one live assist session: it wires the recorder
// and the transcription session together, labels speakers, maintains the
// rolling transcript, and schedules suggestion/summary generation. All
// events surface on one channel, closed by Close.
type Orchestrator struct {
	cfg    AssistConfig
	deps   Deps
	logger *log.Logger

	events chan Event

	mu     sync.Mutex
	active *activeSession
	lastID string // most recently started session, for the summary stale guard
	closed bool
	wg     sync.WaitGroup
}

type activeSession struct {
	info     SessionInfo
	labels   LabelConfig
	speech   SpeechSession
	rec      *audio.Recorder
	pumpDone chan struct{}

	lastStatus stt.Status
	turns      []Turn

	// suggestion scheduling: at most one generation in flight, at most one
	// pending replacement
	inFlight bool
	pending  *pendingSuggestion
}

type pendingSuggestion struct {
	utteranceID string
}

type suggestionRequest struct {
	sessionID   string
	utteranceID string
	prompt      string
}

func NewOrchestrator(cfg AssistConfig, deps Deps) *Orchestrator {
	cfg.normalize()
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		events: make(chan Event, 256),
	}
}

// Events returns the orchestrator's event stream. Closed by Close.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Active returns a snapshot of the running session and its transcription
// status, if any.
func (o *Orchestrator) Active() (SessionInfo, stt.Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return SessionInfo{}, stt.StatusIdle, false
	}
	return o.active.info, o.active.lastStatus, true
}

// Start begins a new assist session, or returns the existing one when a
// session is already active. On failure no partially created resources
// remain.
func (o *Orchestrator) Start(params StartParams) (SessionInfo, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return SessionInfo{}, errors.New("orchestrator is closed")
	}
	if o.active != nil {
		info := o.active.info
		o.mu.Unlock()
		return info, nil
	}

	newSession := o.deps.NewSpeechSession
	if newSession == nil {
		if o.deps.DeepgramKey == "" {
			o.mu.Unlock()
			return SessionInfo{}, errors.New("deepgram api key is required")
		}
		key, logger := o.deps.DeepgramKey, o.logger
		newSession = func(sc stt.SessionConfig) SpeechSession {
			return stt.NewSession(sc, key, logger)
		}
	}

	p := clampParams(params)
	startedAt := time.Now()
	info := SessionInfo{
		ID:         uuid.NewString(),
		Mode:       p.Mode,
		SampleRate: p.SampleRate,
		Channels:   p.Channels,
		YouChannel: p.YouChannel,
		StartedAt:  startedAt,
	}

	var rec *audio.Recorder
	if o.deps.RecordingDir != "" {
		path := filepath.Join(o.deps.RecordingDir,
			fmt.Sprintf("%s_%s.wav", startedAt.Format("20060102_150405"), info.ID[:8]))
		var err error
		rec, err = audio.NewRecorder(path, p.SampleRate, p.Channels)
		if err != nil {
			o.mu.Unlock()
			return SessionInfo{}, fmt.Errorf("failed to open recording: %w", err)
		}
		info.RecordingPath = path
	}

	speech := newSession(o.speechConfig(p))
	if err := speech.Start(); err != nil {
		if rec != nil {
			_ = rec.Close()
			_ = os.Remove(info.RecordingPath)
		}
		o.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("failed to start transcription: %w", err)
	}

	a := &activeSession{
		info: info,
		labels: LabelConfig{
			Mode:       p.Mode,
			YouChannel: p.YouChannel,
			YouSpeaker: p.YouSpeaker,
		},
		speech:     speech,
		rec:        rec,
		pumpDone:   make(chan struct{}),
		lastStatus: stt.StatusConnecting,
	}
	o.active = a
	o.lastID = info.ID
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Printf("call: session %s started (mode=%s rate=%d channels=%d)",
		info.ID, p.Mode, p.SampleRate, p.Channels)
	o.emit(StartedEvent{Info: info})
	go o.pump(a)

	return info, nil
}

// HandleAudioFrame records a PCM frame and forwards it to the transcription
// session. Frames for anything but the active session are dropped.
func (o *Orchestrator) HandleAudioFrame(sessionID string, pcm []byte) {
	o.mu.Lock()
	a := o.active
	if a == nil || a.info.ID != sessionID {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	var recErr error
	if a.rec != nil {
		recErr = a.rec.Write(pcm)
	}
	a.speech.SendAudio(pcm)

	if recErr != nil {
		o.logger.Printf("call: recording write failed: %v", recErr)
		o.emit(ErrorEvent{SessionID: sessionID, Scope: "recording", Err: recErr})
	}
	o.wg.Done()
}

// Stop ends the named session: snapshots the transcript, stops the
// transcription session and recorder, emits the stopped event, and kicks off
// summary generation when enabled. Stopping an unknown id is a no-op.
func (o *Orchestrator) Stop(sessionID string) {
	o.mu.Lock()
	a := o.active
	if a == nil || a.info.ID != sessionID {
		o.mu.Unlock()
		return
	}
	o.active = nil
	snapshot := make([]Turn, len(a.turns))
	copy(snapshot, a.turns)
	stoppedAt := time.Now()
	o.wg.Add(1)
	o.mu.Unlock()

	if err := a.speech.Stop(); err != nil {
		o.logger.Printf("call: failed to stop transcription: %v", err)
	}
	<-a.pumpDone

	if a.rec != nil {
		if err := a.rec.Close(); err != nil {
			o.logger.Printf("call: failed to close recording: %v", err)
		}
	}

	o.logger.Printf("call: session %s stopped (%d turns)", sessionID, len(snapshot))
	o.emit(StoppedEvent{
		SessionID:  sessionID,
		StartedAt:  a.info.StartedAt,
		StoppedAt:  stoppedAt,
		Transcript: snapshot,
	})

	if o.cfg.Summary.Enabled && o.deps.Completer != nil && len(snapshot) > 0 {
		o.mu.Lock()
		if !o.closed {
			o.wg.Add(1)
			go o.generateSummary(a.info, snapshot)
		}
		o.mu.Unlock()
	}

	o.wg.Done()
}

// Close stops any active session, waits for in-flight work, and closes the
// event channel. Summaries are skipped during close so shutdown stays fast.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	var id string
	if o.active != nil {
		id = o.active.info.ID
	}
	o.mu.Unlock()

	if id != "" {
		o.Stop(id)
	}
	o.wg.Wait()
	close(o.events)
}

// MostRecentQuestion returns the question the next suggestion should answer,
// scanning the newest lookback turns. Questions from the remote party win
// over other speakers; the device user's own questions are a last resort.
func (o *Orchestrator) MostRecentQuestion(lookback int) (Turn, bool) {
	if lookback <= 0 {
		lookback = o.cfg.QuestionLookback
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return Turn{}, false
	}
	return mostRecentQuestion(o.active.turns, lookback, o.cfg.Trigger)
}

func mostRecentQuestion(turns []Turn, lookback int, trig TriggerConfig) (Turn, bool) {
	if len(turns) > lookback {
		turns = turns[len(turns)-lookback:]
	}
	var nonYou, anyQ Turn
	var haveNonYou, haveAny bool
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if !trig.LooksLikeQuestion(t.Text) {
			continue
		}
		if t.Label == LabelThem {
			return t, true
		}
		if t.Label != LabelYou && !haveNonYou {
			nonYou, haveNonYou = t, true
		}
		if !haveAny {
			anyQ, haveAny = t, true
		}
	}
	if haveNonYou {
		return nonYou, true
	}
	if haveAny {
		return anyQ, true
	}
	return Turn{}, false
}

// FormatTranscript renders turns as "Label: text" lines for prompting.
func FormatTranscript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Label)
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// emit delivers events in order. Never called with mu held.
func (o *Orchestrator) emit(events ...Event) {
	for _, ev := range events {
		o.events <- ev
	}
}

// pump relays transcription events until the speech session closes its
// channel after Stop.
func (o *Orchestrator) pump(a *activeSession) {
	defer o.wg.Done()
	defer close(a.pumpDone)
	for ev := range a.speech.Events() {
		o.handleSpeechEvent(a, ev)
	}
}

func (o *Orchestrator) handleSpeechEvent(a *activeSession, ev stt.Event) {
	o.mu.Lock()
	if o.active != a {
		// A stop raced the event; the stopped event ends this session.
		o.mu.Unlock()
		return
	}

	var out []Event
	var spawn *suggestionRequest
	switch e := ev.(type) {
	case stt.StatusEvent:
		a.lastStatus = e.Status
		out = append(out, StatusEvent{SessionID: a.info.ID, Status: e.Status})
	case stt.MetadataEvent:
		out = append(out, MetadataEvent{SessionID: a.info.ID, Metadata: e.Metadata})
	case stt.ErrorEvent:
		out = append(out, ErrorEvent{SessionID: a.info.ID, Scope: "transcription", Err: e.Err})
	case stt.CaptionEvent:
		out = append(out, CaptionEvent{
			SessionID: a.info.ID,
			Channel:   e.Caption.ChannelIndex,
			Label:     SpeakerLabel(a.labels, e.Caption.ChannelIndex, nil),
			Text:      e.Caption.Text,
		})
	case stt.UtteranceEvent:
		out, spawn = o.handleUtteranceLocked(a, e.Utterance)
	}
	o.mu.Unlock()

	// Emit before spawning so a fast generation cannot outrun the utterance
	// event that triggered it.
	o.emit(out...)
	if spawn != nil {
		go o.generateSuggestion(a, *spawn)
	}
}

func (o *Orchestrator) handleUtteranceLocked(a *activeSession, su stt.Utterance) ([]Event, *suggestionRequest) {
	u := Utterance{
		ID:      uuid.NewString(),
		Channel: su.ChannelIndex,
		Speaker: su.Speaker,
		Label:   SpeakerLabel(a.labels, su.ChannelIndex, su.Speaker),
		Text:    su.Text,
		StartMS: su.StartMS,
		EndMS:   su.EndMS,
	}

	a.turns = append(a.turns, Turn{Label: u.Label, Text: u.Text})
	if len(a.turns) > o.cfg.BufferCap {
		a.turns = a.turns[len(a.turns)-o.cfg.BufferCap:]
	}

	if o.deps.Memory != nil {
		o.wg.Add(1)
		go o.persistUtterance(a.info.ID, u)
	}

	var spawn *suggestionRequest
	if u.Label != LabelYou && o.cfg.Suggestions.Enabled && o.deps.Completer != nil &&
		o.cfg.Trigger.ShouldSuggest(u.Text) {
		spawn = o.scheduleSuggestionLocked(a, u.ID)
	}

	return []Event{UtteranceEvent{SessionID: a.info.ID, Utterance: u}}, spawn
}

func (o *Orchestrator) persistUtterance(sessionID string, u Utterance) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), memoryTimeout)
	defer cancel()

	item := memory.NewItem(u.Text, map[string]string{
		"session_id":   sessionID,
		"utterance_id": u.ID,
		"label":        u.Label,
	})
	if err := o.deps.Memory.Save(ctx, item); err != nil {
		o.logger.Printf("call: failed to save utterance to memory: %v", err)
	}
}

// scheduleSuggestionLocked either claims the in-flight slot and returns the
// request for the caller to spawn, or overwrites the pending slot and
// returns nil.
func (o *Orchestrator) scheduleSuggestionLocked(a *activeSession, utteranceID string) *suggestionRequest {
	if a.inFlight {
		a.pending = &pendingSuggestion{utteranceID: utteranceID}
		return nil
	}
	a.inFlight = true
	req := o.buildSuggestionRequestLocked(a, utteranceID)
	o.wg.Add(1)
	return &req
}

func (o *Orchestrator) buildSuggestionRequestLocked(a *activeSession, utteranceID string) suggestionRequest {
	transcript := FormatTranscript(lastTurns(a.turns, o.cfg.Suggestions.ContextTurns))
	question := ""
	if q, ok := mostRecentQuestion(a.turns, o.cfg.QuestionLookback, o.cfg.Trigger); ok {
		question = q.Text
	}
	return suggestionRequest{
		sessionID:   a.info.ID,
		utteranceID: utteranceID,
		prompt:      llm.SuggestionPrompt(transcript, question),
	}
}

// generateSuggestion runs one completion, then chains into the pending
// request if a new trigger arrived meanwhile. Results are dropped when the
// session changed or the text trims to nothing.
func (o *Orchestrator) generateSuggestion(a *activeSession, req suggestionRequest) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), suggestionTimeout)
	text, err := o.deps.Completer.Complete(ctx, llm.CompletionRequest{
		Prompt:      req.prompt,
		Temperature: o.cfg.Suggestions.Temperature,
		MaxTokens:   o.cfg.Suggestions.MaxTokens,
	})
	cancel()

	o.mu.Lock()
	stale := o.active != a
	var next *suggestionRequest
	if !stale {
		if a.pending != nil {
			r := o.buildSuggestionRequestLocked(a, a.pending.utteranceID)
			next = &r
			a.pending = nil
			o.wg.Add(1)
		} else {
			a.inFlight = false
		}
	}
	o.mu.Unlock()

	if stale {
		return
	}

	if err != nil {
		o.logger.Printf("call: suggestion generation failed: %v", err)
		o.emit(ErrorEvent{SessionID: req.sessionID, Scope: "suggestion", Err: err})
	} else if t := strings.TrimSpace(text); t != "" {
		o.emit(SuggestionEvent{SessionID: req.sessionID, UtteranceID: req.utteranceID, Text: t})
	}

	if next != nil {
		go o.generateSuggestion(a, *next)
	}
}

func (o *Orchestrator) generateSummary(info SessionInfo, transcript []Turn) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	text, err := o.deps.Completer.Complete(ctx, llm.CompletionRequest{
		System:      llm.SummarySystemPrompt,
		Prompt:      llm.SummaryPrompt(FormatTranscript(transcript)),
		Temperature: o.cfg.Summary.Temperature,
		MaxTokens:   o.cfg.Summary.MaxTokens,
	})

	// A different session starting after the stop makes this summary stale,
	// even if that session has itself stopped by now.
	o.mu.Lock()
	stale := o.lastID != info.ID
	o.mu.Unlock()
	if stale {
		return
	}

	if err != nil {
		o.logger.Printf("call: summary generation failed: %v", err)
		o.emit(ErrorEvent{SessionID: info.ID, Scope: "summary", Err: err})
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if o.deps.Memory != nil {
		mctx, mcancel := context.WithTimeout(context.Background(), memoryTimeout)
		item := memory.NewItem(text, map[string]string{
			"session_id": info.ID,
			"kind":       "summary",
		})
		if err := o.deps.Memory.Save(mctx, item); err != nil {
			o.logger.Printf("call: failed to save summary to memory: %v", err)
		}
		mcancel()
	}

	o.emit(SummaryEvent{SessionID: info.ID, Text: text})
}

func (o *Orchestrator) speechConfig(p StartParams) stt.SessionConfig {
	language := p.Language
	if language == "" {
		language = o.cfg.STT.Language
	}
	return stt.SessionConfig{
		Model:          o.cfg.STT.Model,
		Language:       language,
		SampleRate:     p.SampleRate,
		Channels:       p.Channels,
		Punctuate:      true,
		SmartFormat:    true,
		Numerals:       true,
		VADEvents:      true,
		Endpointing:    o.cfg.STT.EndpointingMS,
		UtteranceEndMS: o.cfg.STT.UtteranceEndMS,
		Keywords:       o.cfg.STT.Keywords,
		Keyterms:       o.cfg.STT.Keyterms,
		Multichannel:   p.Channels > 1,
		Diarize:        p.Mode == ModeDiarized,
	}
}

func clampParams(p StartParams) StartParams {
	if p.Mode != ModeDiarized {
		p.Mode = ModeMultichannel
	}
	if p.Channels < 1 {
		p.Channels = 1
	}
	if p.SampleRate <= 0 {
		p.SampleRate = 16000
	} else if p.SampleRate < 8000 {
		p.SampleRate = 8000
	}
	if p.YouChannel < 0 {
		p.YouChannel = 0
	}
	if p.YouChannel >= p.Channels {
		p.YouChannel = p.Channels - 1
	}
	return p
}

func lastTurns(turns []Turn, n int) []Turn {
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}
