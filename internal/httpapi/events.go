package httpapi

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/mvejnar/sidekick/internal/call"
	"github.com/mvejnar/sidekick/internal/costs"
	"github.com/mvejnar/sidekick/internal/eventlog"
	"github.com/mvejnar/sidekick/internal/livestate"
	"github.com/mvejnar/sidekick/internal/metrics"
	"github.com/mvejnar/sidekick/internal/notifications"
	"github.com/mvejnar/sidekick/internal/store"
	"github.com/mvejnar/sidekick/internal/stt"
)

const dispatchOpTimeout = 5 * time.Second

// dispatcherDeps are the sinks the dispatcher feeds. A nil store, live
// publisher, APNs client or Discord client disables that sink.
type dispatcherDeps struct {
	store    *store.Store
	eventLog *eventlog.Logger
	metrics  *metrics.Metrics
	live     *livestate.Publisher
	apns     *notifications.APNsClient
	discord  *notifications.Discord
	logger   *log.Logger
}

// dispatcher consumes the orchestrator's event stream and feeds every sink:
// connected websocket clients, the database, the event log, metrics, the
// live-state publisher, and summary notifications. A single goroutine runs
// the fan-out, so sinks observe events in pipeline order.
type dispatcher struct {
	deps dispatcherDeps

	mu      sync.Mutex
	clients map[*assistClient]struct{}
	snap    livestate.Snapshot
	tracks  map[string]*sessionTrack
}

// sessionTrack is per-session bookkeeping. It survives the stopped event
// until the summary, or its failure, arrives; the orchestrator drops a prior
// session's summary as stale once a new session starts, so tracks never
// accumulate past one session.
type sessionTrack struct {
	info        call.SessionInfo
	sawOpen     bool
	utteranceAt map[string]time.Time // utterance id -> finalized at, for suggestion latency
	suggestions int
	turns       int
	stoppedAt   time.Time
	stopped     bool
}

func newDispatcher(deps dispatcherDeps) *dispatcher {
	return &dispatcher{
		deps:    deps,
		clients: make(map[*assistClient]struct{}),
		tracks:  make(map[string]*sessionTrack),
	}
}

// run consumes events until the channel is closed.
func (d *dispatcher) run(events <-chan call.Event) {
	for ev := range events {
		switch ev := ev.(type) {
		case call.StartedEvent:
			d.handleStarted(ev)
		case call.StatusEvent:
			d.handleStatus(ev)
		case call.CaptionEvent:
			d.handleCaption(ev)
		case call.UtteranceEvent:
			d.handleUtterance(ev)
		case call.MetadataEvent:
			d.deps.logger.Printf("dispatch: transcription metadata for %s: request %s", ev.SessionID, ev.Metadata.RequestID)
		case call.SuggestionEvent:
			d.handleSuggestion(ev)
		case call.SummaryEvent:
			d.handleSummary(ev)
		case call.ErrorEvent:
			d.handleError(ev)
		case call.StoppedEvent:
			d.handleStopped(ev)
		}
	}
}

// ============================================================================
// Websocket client fan-out
// ============================================================================

func (d *dispatcher) subscribe(c *assistClient) {
	d.mu.Lock()
	d.clients[c] = struct{}{}
	n := len(d.clients)
	sessionID := d.snap.SessionID
	d.mu.Unlock()

	d.deps.metrics.SetWebsocketClients(n)
	if sessionID != "" {
		d.logEvent(sessionID, eventlog.EventClientConnected, map[string]any{"clients": n})
	}
}

func (d *dispatcher) unsubscribe(c *assistClient) {
	d.mu.Lock()
	delete(d.clients, c)
	n := len(d.clients)
	sessionID := d.snap.SessionID
	d.mu.Unlock()

	d.deps.metrics.SetWebsocketClients(n)
	if sessionID != "" {
		d.logEvent(sessionID, eventlog.EventClientDisconnected, map[string]any{"clients": n})
	}
}

func (d *dispatcher) broadcast(v any) {
	d.mu.Lock()
	targets := make([]*assistClient, 0, len(d.clients))
	for c := range d.clients {
		targets = append(targets, c)
	}
	d.mu.Unlock()

	for _, c := range targets {
		c.send(v)
	}
}

// closeClients force-closes every connected websocket. Their read loops
// observe the closed connections and unsubscribe themselves.
func (d *dispatcher) closeClients() {
	d.mu.Lock()
	targets := make([]*assistClient, 0, len(d.clients))
	for c := range d.clients {
		targets = append(targets, c)
	}
	d.mu.Unlock()

	for _, c := range targets {
		c.close()
	}
}

// liveSnapshot returns the current view of the running session.
func (d *dispatcher) liveSnapshot() livestate.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

// ============================================================================
// Event handlers
// ============================================================================

func (d *dispatcher) handleStarted(ev call.StartedEvent) {
	info := ev.Info

	d.mu.Lock()
	for id := range d.tracks {
		delete(d.tracks, id)
	}
	d.tracks[info.ID] = &sessionTrack{
		info:        info,
		utteranceAt: make(map[string]time.Time),
	}
	d.snap = livestate.Snapshot{
		Active:    true,
		SessionID: info.ID,
		Mode:      string(info.Mode),
		Status:    stt.StatusConnecting.String(),
		StartedAt: &info.StartedAt,
	}
	snap := d.snap
	d.mu.Unlock()

	d.deps.metrics.RecordSessionStarted()
	d.logEvent(info.ID, eventlog.EventSessionStarted, map[string]any{
		"mode":        string(info.Mode),
		"sample_rate": info.SampleRate,
		"channels":    info.Channels,
	})

	if d.deps.store != nil {
		ctx, cancel := opCtx()
		cs := store.CallSession{
			ID:         info.ID,
			Mode:       string(info.Mode),
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
			StartedAt:  info.StartedAt,
		}
		if info.RecordingPath != "" {
			p := info.RecordingPath
			cs.RecordingPath = &p
		}
		if err := d.deps.store.InsertCallSession(ctx, cs); err != nil {
			d.deps.logger.Printf("dispatch: failed to persist session %s: %v", info.ID, err)
			sentry.CaptureException(err)
		}
		cancel()
	}

	d.publishLive(snap)
	d.broadcast(map[string]any{"type": "started", "session": info})
}

func (d *dispatcher) handleStatus(ev call.StatusEvent) {
	reconnect := false
	var snap livestate.Snapshot
	publish := false

	d.mu.Lock()
	if track, ok := d.tracks[ev.SessionID]; ok && ev.Status == stt.StatusOpen {
		reconnect = track.sawOpen
		track.sawOpen = true
	}
	if d.snap.Active && d.snap.SessionID == ev.SessionID {
		d.snap.Status = ev.Status.String()
		snap = d.snap
		publish = true
	}
	d.mu.Unlock()

	if reconnect {
		d.deps.metrics.RecordSTTReconnect()
	}
	d.logEvent(ev.SessionID, eventlog.EventSTTStatus, map[string]any{
		"status":    ev.Status.String(),
		"reconnect": reconnect,
	})

	if publish {
		d.publishLive(snap)
	}
	d.broadcast(map[string]any{
		"type":       "status",
		"session_id": ev.SessionID,
		"status":     ev.Status.String(),
	})
}

// Captions update the in-memory view only; publishing every interim result
// to redis would be several writes per second of speech.
func (d *dispatcher) handleCaption(ev call.CaptionEvent) {
	d.mu.Lock()
	if d.snap.Active && d.snap.SessionID == ev.SessionID {
		d.snap.LastLabel = ev.Label
		d.snap.LastText = ev.Text
	}
	d.mu.Unlock()

	d.deps.metrics.RecordCaption()
	d.broadcast(map[string]any{
		"type":       "caption",
		"session_id": ev.SessionID,
		"channel":    ev.Channel,
		"label":      ev.Label,
		"text":       ev.Text,
	})
}

func (d *dispatcher) handleUtterance(ev call.UtteranceEvent) {
	u := ev.Utterance

	var snap livestate.Snapshot
	publish := false
	d.mu.Lock()
	if track, ok := d.tracks[ev.SessionID]; ok {
		track.utteranceAt[u.ID] = time.Now()
		track.turns++
	}
	if d.snap.Active && d.snap.SessionID == ev.SessionID {
		d.snap.Turns++
		d.snap.LastLabel = u.Label
		d.snap.LastText = u.Text
		snap = d.snap
		publish = true
	}
	d.mu.Unlock()

	d.deps.metrics.RecordUtterance()
	d.logEvent(ev.SessionID, eventlog.EventUtteranceFinalized, map[string]any{
		"label":   u.Label,
		"channel": u.Channel,
		"chars":   len(u.Text),
	})

	if d.deps.store != nil {
		ctx, cancel := opCtx()
		err := d.deps.store.InsertUtterance(ctx, ev.SessionID, store.Utterance{
			ID:           u.ID,
			ChannelIndex: u.Channel,
			SpeakerID:    u.Speaker,
			SpeakerLabel: u.Label,
			Text:         u.Text,
			StartMS:      u.StartMS,
			EndMS:        u.EndMS,
		})
		if err != nil {
			d.deps.logger.Printf("dispatch: failed to persist utterance for %s: %v", ev.SessionID, err)
			sentry.CaptureException(err)
		}
		cancel()
	}

	if publish {
		d.publishLive(snap)
	}
	d.broadcast(map[string]any{
		"type":       "utterance",
		"session_id": ev.SessionID,
		"utterance":  u,
	})
}

func (d *dispatcher) handleSuggestion(ev call.SuggestionEvent) {
	latency := -1.0
	d.mu.Lock()
	if track, ok := d.tracks[ev.SessionID]; ok {
		track.suggestions++
		if at, ok := track.utteranceAt[ev.UtteranceID]; ok {
			latency = time.Since(at).Seconds()
			delete(track.utteranceAt, ev.UtteranceID)
		}
	}
	d.mu.Unlock()

	d.deps.metrics.RecordSuggestion(latency)
	d.logEvent(ev.SessionID, eventlog.EventSuggestionShown, map[string]any{
		"utterance_id": ev.UtteranceID,
		"chars":        len(ev.Text),
	})
	d.broadcast(map[string]any{
		"type":         "suggestion",
		"session_id":   ev.SessionID,
		"utterance_id": ev.UtteranceID,
		"text":         ev.Text,
	})
}

func (d *dispatcher) handleSummary(ev call.SummaryEvent) {
	var duration time.Duration
	turns := 0
	d.mu.Lock()
	if track, ok := d.tracks[ev.SessionID]; ok {
		turns = track.turns
		if track.stopped {
			duration = track.stoppedAt.Sub(track.info.StartedAt)
		}
		delete(d.tracks, ev.SessionID)
	}
	d.mu.Unlock()

	d.deps.metrics.RecordSummary()
	d.logEvent(ev.SessionID, eventlog.EventSummaryGenerated, map[string]any{
		"chars": len(ev.Text),
	})

	if d.deps.store != nil {
		ctx, cancel := opCtx()
		if err := d.deps.store.UpdateCallSession(ctx, ev.SessionID, map[string]any{"summary": ev.Text}); err != nil {
			d.deps.logger.Printf("dispatch: failed to save summary for %s: %v", ev.SessionID, err)
			sentry.CaptureException(err)
		}
		cancel()
	}

	d.broadcast(map[string]any{
		"type":       "summary",
		"session_id": ev.SessionID,
		"text":       ev.Text,
	})
	d.notifySummary(ev.SessionID, ev.Text, duration, turns)
}

func (d *dispatcher) handleError(ev call.ErrorEvent) {
	d.mu.Lock()
	if ev.Scope == "summary" {
		// terminal for the session's track: no summary will follow
		delete(d.tracks, ev.SessionID)
	}
	d.mu.Unlock()

	d.deps.metrics.RecordPipelineError(ev.Scope)
	d.logEvent(ev.SessionID, errorEventType(ev.Scope), map[string]any{
		"error": ev.Err.Error(),
	})
	d.broadcast(map[string]any{
		"type":       "error",
		"session_id": ev.SessionID,
		"scope":      ev.Scope,
		"message":    ev.Err.Error(),
	})
}

func (d *dispatcher) handleStopped(ev call.StoppedEvent) {
	duration := ev.StoppedAt.Sub(ev.StartedAt)

	channels := 1
	suggestions := 0
	d.mu.Lock()
	if track, ok := d.tracks[ev.SessionID]; ok {
		track.stopped = true
		track.stoppedAt = ev.StoppedAt
		channels = track.info.Channels
		suggestions = track.suggestions
		if len(ev.Transcript) == 0 {
			// no summary follows an empty transcript
			delete(d.tracks, ev.SessionID)
		}
	}
	if d.snap.SessionID == ev.SessionID {
		d.snap = livestate.Snapshot{}
	}
	d.mu.Unlock()

	d.deps.metrics.RecordSessionStopped(duration.Seconds())
	d.logEvent(ev.SessionID, eventlog.EventSessionStopped, map[string]any{
		"turns":            len(ev.Transcript),
		"duration_seconds": int(duration.Seconds()),
	})

	if d.deps.store != nil {
		ctx, cancel := opCtx()
		m := costs.SessionMetrics{
			STTDurationSeconds: int(duration.Seconds()),
			Channels:           channels,
			SuggestionRequests: suggestions,
		}
		if len(ev.Transcript) > 0 {
			m.SummaryRequests = 1
		}
		cost := costs.CalculateSessionCosts(m).TotalCostCents
		if err := d.deps.store.EndCallSession(ctx, ev.SessionID, "completed", ev.StoppedAt, &cost); err != nil {
			d.deps.logger.Printf("dispatch: failed to finalize session %s: %v", ev.SessionID, err)
			sentry.CaptureException(err)
		}
		cancel()
	}

	if d.deps.live.Enabled() {
		ctx, cancel := opCtx()
		if err := d.deps.live.Clear(ctx); err != nil {
			d.deps.logger.Printf("dispatch: live state clear failed: %v", err)
		}
		cancel()
	}

	d.broadcast(map[string]any{
		"type":       "stopped",
		"session_id": ev.SessionID,
		"started_at": ev.StartedAt,
		"stopped_at": ev.StoppedAt,
		"turns":      len(ev.Transcript),
	})
}

// ============================================================================
// Sink helpers
// ============================================================================

func (d *dispatcher) logEvent(sessionID string, eventType eventlog.EventType, data map[string]any) {
	if d.deps.eventLog != nil {
		d.deps.eventLog.LogAsync(sessionID, eventType, data)
	}
}

func (d *dispatcher) publishLive(snap livestate.Snapshot) {
	if !d.deps.live.Enabled() {
		return
	}
	ctx, cancel := opCtx()
	defer cancel()
	if err := d.deps.live.Publish(ctx, snap); err != nil {
		d.deps.logger.Printf("dispatch: live state publish failed: %v", err)
	}
}

// notifySummary pushes the finished summary to registered devices and the
// configured webhook. Tokens APNs rejects as bad are dropped.
func (d *dispatcher) notifySummary(sessionID, summary string, duration time.Duration, turns int) {
	if d.deps.discord != nil {
		d.deps.discord.NotifySessionSummary(context.Background(), sessionID, summary, duration, turns)
	}

	if d.deps.apns == nil || d.deps.store == nil {
		return
	}

	ctx, cancel := opCtx()
	defer cancel()

	tokens, err := d.deps.store.ListDeviceTokens(ctx)
	if err != nil {
		d.deps.logger.Printf("dispatch: failed to list device tokens: %v", err)
		return
	}

	sent := 0
	for _, t := range tokens {
		if t.Platform != "ios" {
			continue
		}
		err := d.deps.apns.SendSummaryNotification(t.Token, notifications.SummaryNotification{
			SessionID: sessionID,
			Summary:   summary,
			Turns:     turns,
			Duration:  duration,
		})
		if errors.Is(err, notifications.ErrBadDeviceToken) {
			_ = d.deps.store.UnregisterDeviceToken(ctx, t.Token)
			continue
		}
		if err == nil {
			sent++
		}
	}
	if sent > 0 {
		d.logEvent(sessionID, eventlog.EventPushSent, map[string]any{"tokens": sent})
	}
}

// errorEventType maps an orchestrator error scope to its event log type.
func errorEventType(scope string) eventlog.EventType {
	switch scope {
	case "recording":
		return eventlog.EventRecordingError
	case "suggestion":
		return eventlog.EventSuggestionError
	case "summary":
		return eventlog.EventSummaryError
	default:
		return eventlog.EventTranscriptionError
	}
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), dispatchOpTimeout)
}
