package stt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// accumulator collects per-channel transcript state between finalizations.
type accumulator struct {
	lastCaption string
	buffer      string
	words       []Word
}

// Session is one streaming transcription session. It never blocks callers on
// network I/O: Start kicks off an async connect, SendAudio queues while
// disconnected, and all results arrive on Events(). A session is one-shot;
// after Stop it cannot be started again.
//
// All event-emitting goroutines are tracked in wg and registered under mu, so
// Stop can drain them before closing the events channel. Events are never
// sent while mu is held.
type Session struct {
	cfg     SessionConfig
	apiKey  string
	baseURL string
	logger  *log.Logger

	events chan Event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	status         Status
	conn           *websocket.Conn
	queue          [][]byte
	accums         []*accumulator
	lastSend       time.Time
	attempts       int
	reconnectTimer *time.Timer
	started        bool
	stopped        bool

	wg sync.WaitGroup
}

// NewSession creates a session; no network activity happens until Start.
func NewSession(cfg SessionConfig, apiKey string, logger *log.Logger) *Session {
	cfg.normalize()
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:     cfg,
		apiKey:  apiKey,
		baseURL: deepgramWSURL,
		logger:  logger,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		status:  StatusIdle,
		accums:  make([]*accumulator, cfg.Channels),
	}
	for i := range s.accums {
		s.accums[i] = &accumulator{}
	}
	return s
}

// Events returns the event stream. The channel is closed after Stop has
// drained the session; consumers should range over it.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Status returns the current connection state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start begins connecting. No-op while already connecting or open. The only
// immediate error is missing credentials; connect failures arrive as events
// and are retried with backoff.
func (s *Session) Start() error {
	if s.apiKey == "" {
		return errors.New("deepgram api key is required")
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.New("session already stopped")
	}
	if s.status == StatusConnecting || s.status == StatusOpen {
		s.mu.Unlock()
		return nil
	}
	s.cancelReconnectLocked()

	events := s.setStatusLocked(StatusConnecting)
	if !s.started {
		s.started = true
		s.wg.Add(1)
		go s.keepaliveLoop()
	}
	s.wg.Add(1)
	s.mu.Unlock()

	// Emit before spawning so the connecting event precedes anything the
	// connect goroutine emits.
	s.emit(events...)
	go s.connect()
	return nil
}

// SendAudio relays one PCM frame. While disconnected the frame is queued;
// once the queue exceeds its limit the oldest frame is dropped.
func (s *Session) SendAudio(frame []byte) {
	if len(frame) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.status == StatusClosing || s.status == StatusClosed {
		return
	}

	if s.status == StatusOpen && s.conn != nil {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			s.logger.Printf("stt: send audio: %v", err)
			return
		}
		s.lastSend = time.Now()
		return
	}

	s.queue = append(s.queue, frame)
	if len(s.queue) > s.cfg.QueueLimit {
		s.queue = s.queue[1:]
	}
}

// Stop closes the session: cancels timers, sends the graceful-close message,
// waits out the internal goroutines and closes the events channel. Safe to
// call more than once; the session never reconnects afterwards.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.done)
	s.cancelReconnectLocked()
	conn := s.conn
	s.conn = nil
	events := s.setStatusLocked(StatusClosing)
	s.mu.Unlock()

	s.emit(events...)

	if conn != nil {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(closeStreamMessage)); err != nil {
			s.logger.Printf("stt: send close message: %v", err)
		}
		conn.Close()
	}

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	events = s.setStatusLocked(StatusClosed)
	s.mu.Unlock()
	s.emit(events...)

	close(s.events)
	return nil
}

// setStatusLocked applies a transition, returning the event to emit. Invalid
// transitions are rejected and leave the state unchanged.
func (s *Session) setStatusLocked(to Status) []Event {
	if !canTransition(s.status, to) {
		s.logger.Printf("stt: rejected status transition %s -> %s", s.status, to)
		return nil
	}
	s.status = to
	return []Event{StatusEvent{Status: to}}
}

// emit delivers events in order. Never called with mu held.
func (s *Session) emit(events ...Event) {
	for _, ev := range events {
		s.events <- ev
	}
}

func (s *Session) connect() {
	defer s.wg.Done()

	conn, err := dialDeepgram(s.ctx, s.baseURL, s.cfg, s.apiKey)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		s.attempts++
		events := []Event{ErrorEvent{Err: err}}
		events = append(events, s.setStatusLocked(StatusError)...)
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		s.emit(events...)
		return
	}

	s.conn = conn
	s.attempts = 0
	s.lastSend = time.Now()
	events := s.setStatusLocked(StatusOpen)

	// Flush audio queued while disconnected.
	queued := s.queue
	s.queue = nil
	for _, frame := range queued {
		if werr := conn.WriteMessage(websocket.BinaryMessage, frame); werr != nil {
			s.logger.Printf("stt: flush queued audio: %v", werr)
			break
		}
	}

	s.wg.Add(1)
	s.mu.Unlock()

	s.emit(events...)
	go s.readLoop(conn)
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn, err)
			return
		}
		s.handleServerMessage(data)
	}
}

// handleDisconnect reacts to an unexpected close. Closes after an explicit
// Stop, and closes of an already-replaced connection, are ignored.
func (s *Session) handleDisconnect(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.stopped || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	conn.Close()
	s.attempts++
	events := []Event{ErrorEvent{Err: fmt.Errorf("connection lost: %w", err)}}
	events = append(events, s.setStatusLocked(StatusError)...)
	s.scheduleReconnectLocked()
	s.mu.Unlock()

	s.emit(events...)
}

// scheduleReconnectLocked arms the reconnect timer; at most one is pending.
// The wg registration covers the timer callback and is compensated in
// cancelReconnectLocked when the timer is stopped before firing.
func (s *Session) scheduleReconnectLocked() {
	if s.reconnectTimer != nil || s.stopped {
		return
	}
	delay := backoffDelay(s.cfg.ReconnectBase, s.cfg.ReconnectMax, s.attempts)
	s.logger.Printf("stt: reconnecting in %s (attempt %d)", delay, s.attempts)
	s.wg.Add(1)
	s.reconnectTimer = time.AfterFunc(delay, s.reconnectNow)
}

func (s *Session) cancelReconnectLocked() {
	if s.reconnectTimer == nil {
		return
	}
	if s.reconnectTimer.Stop() {
		s.wg.Done()
	}
	s.reconnectTimer = nil
}

func (s *Session) reconnectNow() {
	defer s.wg.Done()

	s.mu.Lock()
	s.reconnectTimer = nil
	if s.stopped {
		s.mu.Unlock()
		return
	}
	events := s.setStatusLocked(StatusConnecting)
	s.wg.Add(1)
	s.mu.Unlock()

	s.emit(events...)
	go s.connect()
}

// backoffDelay doubles from base per consecutive failure up to max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base << uint(attempt-1)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

func (s *Session) keepaliveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.status == StatusOpen && s.conn != nil && time.Since(s.lastSend) >= s.cfg.KeepaliveSilence {
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(keepAliveMessage)); err != nil {
					s.logger.Printf("stt: send keepalive: %v", err)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) handleServerMessage(data []byte) {
	msg, err := parseServerMessage(data)
	if err != nil {
		s.logger.Printf("stt: dropping malformed message: %v", err)
		return
	}
	if msg == nil {
		return
	}

	var events []Event
	s.mu.Lock()
	switch {
	case msg.results != nil:
		events = s.handleResultsLocked(msg.results)
	case msg.boundary != nil:
		events = s.handleBoundaryLocked(msg.boundary)
	case msg.metadata != nil:
		events = []Event{MetadataEvent{Metadata: Metadata{
			RequestID: msg.metadata.RequestID,
			Created:   msg.metadata.Created,
		}}}
	}
	s.mu.Unlock()

	s.emit(events...)
}

func (s *Session) handleResultsLocked(r *resultsMessage) []Event {
	ch := 0
	if len(r.ChannelIndex) > 0 {
		ch = r.ChannelIndex[0]
	}
	if ch < 0 || ch >= len(s.accums) {
		return nil
	}
	acc := s.accums[ch]

	var transcript string
	var confidence float64
	var words []Word
	if len(r.Channel.Alternatives) > 0 {
		alt := r.Channel.Alternatives[0]
		transcript = alt.Transcript
		confidence = alt.Confidence
		for _, w := range alt.Words {
			words = append(words, Word{
				Text:    wordText(w.Word, w.PunctuatedWord),
				Start:   w.Start,
				End:     w.End,
				Speaker: w.Speaker,
			})
		}
	}

	if !r.IsFinal {
		if transcript == "" || transcript == acc.lastCaption {
			return nil
		}
		acc.lastCaption = transcript
		return []Event{CaptionEvent{Caption: Caption{
			ChannelIndex: ch,
			Text:         transcript,
			Confidence:   confidence,
		}}}
	}

	if transcript != "" {
		merged, fresh := mergeSegment(acc.buffer, transcript)
		acc.buffer = merged
		if fresh {
			acc.words = append(acc.words, words...)
		}
	}

	if r.SpeechFinal {
		return s.finalizeLocked(ch, nil)
	}
	return nil
}

func (s *Session) handleBoundaryLocked(u *utteranceEndMessage) []Event {
	if len(u.Channel) > 0 {
		return s.finalizeLocked(u.Channel[0], u.LastWordEnd)
	}

	// No channel named: the boundary applies to every channel.
	var events []Event
	for ch := range s.accums {
		events = append(events, s.finalizeLocked(ch, u.LastWordEnd)...)
	}
	return events
}

// finalizeLocked turns the channel's accumulated state into utterances and
// resets the accumulator. An empty accumulator finalizes to nothing.
func (s *Session) finalizeLocked(ch int, overrideEnd *float64) []Event {
	if ch < 0 || ch >= len(s.accums) {
		return nil
	}
	acc := s.accums[ch]
	if acc.buffer == "" && len(acc.words) == 0 {
		return nil
	}

	var utterances []Utterance
	if s.cfg.Diarize && hasSpeakerTags(acc.words) {
		utterances = splitSpeakerRuns(ch, acc.words)
	} else {
		u := Utterance{
			ChannelIndex: ch,
			Speaker:      majoritySpeaker(acc.words),
			Text:         acc.buffer,
		}
		if len(acc.words) > 0 {
			u.StartMS = msPtr(acc.words[0].Start)
			u.EndMS = msPtr(acc.words[len(acc.words)-1].End)
		}
		utterances = []Utterance{u}
	}

	if overrideEnd != nil && len(utterances) > 0 {
		utterances[len(utterances)-1].EndMS = msPtr(*overrideEnd)
	}

	acc.lastCaption = ""
	acc.buffer = ""
	acc.words = nil

	events := make([]Event, 0, len(utterances))
	for _, u := range utterances {
		events = append(events, UtteranceEvent{Utterance: u})
	}
	return events
}

// mergeSegment stitches a finalized segment onto the channel buffer. The
// second return reports whether the segment contributed new content (false
// for an exact duplicate tail, whose words must not be double-counted).
//
// The overlap rule is tuned against Deepgram's incremental result semantics:
// a resent segment usually either extends the buffer or repeats its tail.
func mergeSegment(buffer, segment string) (string, bool) {
	switch {
	case buffer == "":
		return segment, true
	case buffer == segment:
		return buffer, false
	case strings.HasPrefix(segment, buffer):
		return segment, true
	case strings.HasSuffix(buffer, segment):
		return buffer, false
	default:
		return buffer + " " + segment, true
	}
}

func hasSpeakerTags(words []Word) bool {
	for _, w := range words {
		if w.Speaker != nil {
			return true
		}
	}
	return false
}

// splitSpeakerRuns groups words into contiguous same-speaker runs, one
// utterance per run. A word without a tag inherits the previous speaker.
func splitSpeakerRuns(ch int, words []Word) []Utterance {
	var utterances []Utterance
	var run []Word
	var runSpeaker *int
	var last *int

	flush := func() {
		if len(run) == 0 {
			return
		}
		texts := make([]string, len(run))
		for i, w := range run {
			texts[i] = w.Text
		}
		utterances = append(utterances, Utterance{
			ChannelIndex: ch,
			Speaker:      runSpeaker,
			Text:         strings.Join(texts, " "),
			StartMS:      msPtr(run[0].Start),
			EndMS:        msPtr(run[len(run)-1].End),
		})
		run = nil
	}

	for _, w := range words {
		sp := w.Speaker
		if sp == nil {
			sp = last
		} else {
			last = sp
		}
		if len(run) > 0 && !speakerEqual(runSpeaker, sp) {
			flush()
		}
		if len(run) == 0 {
			runSpeaker = sp
		}
		run = append(run, w)
	}
	flush()

	return utterances
}

func speakerEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// majoritySpeaker picks the most frequent word tag; ties go to the speaker
// seen first. Nil when no word carries a tag.
func majoritySpeaker(words []Word) *int {
	counts := make(map[int]int)
	var order []int
	for _, w := range words {
		if w.Speaker == nil {
			continue
		}
		if _, seen := counts[*w.Speaker]; !seen {
			order = append(order, *w.Speaker)
		}
		counts[*w.Speaker]++
	}

	var best *int
	bestCount := 0
	for _, sp := range order {
		if counts[sp] > bestCount {
			sp := sp
			best = &sp
			bestCount = counts[sp]
		}
	}
	return best
}

func msPtr(seconds float64) *int64 {
	ms := int64(seconds * 1000)
	return &ms
}
