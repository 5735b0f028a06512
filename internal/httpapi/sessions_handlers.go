package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mvejnar/sidekick/internal/call"
	"github.com/mvejnar/sidekick/internal/eventlog"
	"github.com/mvejnar/sidekick/internal/llm"
)

const regenerateSummaryTimeout = 30 * time.Second

// handleListSessions returns recent sessions with utterance counts.
// Query params: ?limit= (default 20, max 100)
func (r *Router) handleListSessions(w http.ResponseWriter, req *http.Request) {
	limit := 20
	if l := req.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	sessions, err := r.store.ListCallSessions(req.Context(), limit)
	if err != nil {
		r.logger.Printf("sessions: failed to list sessions: %v", err)
		captureError(req, err, "failed to list sessions")
		http.Error(w, `{"error": "failed to list sessions"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleGetSession returns one session with its full transcript.
func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		http.Error(w, `{"error": "missing session id"}`, http.StatusBadRequest)
		return
	}

	detail, err := r.store.GetSessionDetail(req.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("sessions: failed to get session %s: %v", id, err)
		captureError(req, err, "failed to get session detail")
		http.Error(w, `{"error": "failed to get session"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// handleRegenerateSummary re-runs summary generation over the stored
// transcript and replaces the session's summary.
func (r *Router) handleRegenerateSummary(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		http.Error(w, `{"error": "missing session id"}`, http.StatusBadRequest)
		return
	}

	if r.completer == nil {
		http.Error(w, `{"error": "summary generation not configured"}`, http.StatusServiceUnavailable)
		return
	}

	detail, err := r.store.GetSessionDetail(req.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("sessions: failed to get session %s: %v", id, err)
		captureError(req, err, "failed to get session detail")
		http.Error(w, `{"error": "failed to get session"}`, http.StatusInternalServerError)
		return
	}

	if len(detail.Utterances) == 0 {
		http.Error(w, `{"error": "session has no transcript"}`, http.StatusBadRequest)
		return
	}

	turns := make([]call.Turn, 0, len(detail.Utterances))
	for _, u := range detail.Utterances {
		turns = append(turns, call.Turn{Label: u.SpeakerLabel, Text: u.Text})
	}

	ctx, cancel := context.WithTimeout(req.Context(), regenerateSummaryTimeout)
	defer cancel()

	text, err := r.completer.Complete(ctx, llm.CompletionRequest{
		System: llm.SummarySystemPrompt,
		Prompt: llm.SummaryPrompt(call.FormatTranscript(turns)),
	})
	if err != nil {
		r.logger.Printf("sessions: summary regeneration failed for %s: %v", id, err)
		captureError(req, err, "summary regeneration failed")
		http.Error(w, `{"error": "failed to generate summary"}`, http.StatusInternalServerError)
		return
	}

	if err := r.store.UpdateCallSession(req.Context(), id, map[string]any{"summary": text}); err != nil {
		r.logger.Printf("sessions: failed to save summary for %s: %v", id, err)
		captureError(req, err, "failed to save regenerated summary")
		http.Error(w, `{"error": "failed to save summary"}`, http.StatusInternalServerError)
		return
	}

	r.eventLog.LogAsync(id, eventlog.EventSummaryGenerated, map[string]any{
		"regenerated": true,
		"turns":       len(turns),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"summary":    text,
	})
}

// handleGetLive returns the dispatcher's view of the running session, or an
// inactive snapshot when nothing is live.
func (r *Router) handleGetLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.dispatcher.liveSnapshot())
}
