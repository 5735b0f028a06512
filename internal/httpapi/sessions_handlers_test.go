package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mvejnar/sidekick/internal/llm"
	"github.com/mvejnar/sidekick/internal/store"
)

// fakeCompleter returns a canned completion and records the last request.
type fakeCompleter struct {
	response string
	err      error
	lastReq  llm.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestGetSessionValidation(t *testing.T) {
	r := &Router{logger: log.New(io.Discard, "", 0)}

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/", nil)
	rec := httptest.NewRecorder()

	r.handleGetSession(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRegenerateSummaryValidation(t *testing.T) {
	t.Run("missing session id", func(t *testing.T) {
		r := &Router{logger: log.New(io.Discard, "", 0)}

		req := httptest.NewRequest(http.MethodPost, "/v1/sessions//summary", nil)
		rec := httptest.NewRecorder()

		r.handleRegenerateSummary(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("completer not configured", func(t *testing.T) {
		r := &Router{logger: log.New(io.Discard, "", 0)}

		req := httptest.NewRequest(http.MethodPost, "/v1/sessions/some-id/summary", nil)
		req.SetPathValue("id", "some-id")
		rec := httptest.NewRecorder()

		r.handleRegenerateSummary(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}

		var resp map[string]string
		_ = json.NewDecoder(rec.Body).Decode(&resp)
		if !strings.Contains(resp["error"], "not configured") {
			t.Errorf("error = %q, should mention not configured", resp["error"])
		}
	})
}

func TestSessionEndpointsIntegration(t *testing.T) {
	r, db, cleanup := getTestRouterWithDB(t)
	defer cleanup()

	ctx := context.Background()
	id := "test-sessions-" + time.Now().Format("150405.000000")
	startedAt := time.Now().UTC().Add(-2 * time.Minute).Truncate(time.Microsecond)

	err := r.store.InsertCallSession(ctx, store.CallSession{
		ID:         id,
		Mode:       "multichannel",
		SampleRate: 16000,
		Channels:   2,
		StartedAt:  startedAt,
	})
	if err != nil {
		t.Fatalf("InsertCallSession failed: %v", err)
	}
	defer func() {
		_, _ = db.Exec(ctx, "DELETE FROM call_sessions WHERE id = $1", id)
	}()

	for i, text := range []string{"hello, can you hear me?", "yes, loud and clear"} {
		err := r.store.InsertUtterance(ctx, id, store.Utterance{
			ID:           id + "-u" + strconv.Itoa(i),
			ChannelIndex: i % 2,
			SpeakerLabel: []string{"Them", "You"}[i%2],
			Text:         text,
		})
		if err != nil {
			t.Fatalf("InsertUtterance failed: %v", err)
		}
	}

	t.Run("list includes the session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions?limit=50", nil)
		rec := httptest.NewRecorder()

		r.handleListSessions(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}

		var resp struct {
			Sessions []store.CallSessionListItem `json:"sessions"`
			Count    int                         `json:"count"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		found := false
		for _, s := range resp.Sessions {
			if s.ID == id {
				found = true
				if s.UtteranceCount != 2 {
					t.Errorf("utterance count = %d, want 2", s.UtteranceCount)
				}
			}
		}
		if !found {
			t.Errorf("session %s not in list of %d", id, resp.Count)
		}
	})

	t.Run("detail returns the transcript", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil)
		req.SetPathValue("id", id)
		rec := httptest.NewRecorder()

		r.handleGetSession(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d, body: %s", rec.Code, http.StatusOK, rec.Body.String())
		}

		var detail store.SessionDetail
		if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if detail.ID != id {
			t.Errorf("id = %q, want %q", detail.ID, id)
		}
		if len(detail.Utterances) != 2 {
			t.Fatalf("utterances = %d, want 2", len(detail.Utterances))
		}
		if detail.Utterances[0].Text != "hello, can you hear me?" {
			t.Errorf("first utterance = %q, want the greeting", detail.Utterances[0].Text)
		}
	})

	t.Run("detail of unknown session is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/no-such-session", nil)
		req.SetPathValue("id", "no-such-session")
		rec := httptest.NewRecorder()

		r.handleGetSession(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("regenerate summary persists the result", func(t *testing.T) {
		fake := &fakeCompleter{response: "They checked the line, you confirmed."}
		r.completer = fake

		req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/summary", nil)
		req.SetPathValue("id", id)
		rec := httptest.NewRecorder()

		r.handleRegenerateSummary(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d, body: %s", rec.Code, http.StatusOK, rec.Body.String())
		}

		var resp map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["summary"] != fake.response {
			t.Errorf("summary = %q, want %q", resp["summary"], fake.response)
		}

		// The prompt carries the stored transcript
		if !strings.Contains(fake.lastReq.Prompt, "hello, can you hear me?") {
			t.Errorf("prompt should contain the transcript, got %q", fake.lastReq.Prompt)
		}
		if fake.lastReq.System == "" {
			t.Error("system prompt should be set")
		}

		detail, err := r.store.GetSessionDetail(ctx, id)
		if err != nil {
			t.Fatalf("GetSessionDetail failed: %v", err)
		}
		if detail.Summary == nil || *detail.Summary != fake.response {
			t.Errorf("stored summary = %v, want %q", detail.Summary, fake.response)
		}
	})

	t.Run("regenerate summary without transcript is 400", func(t *testing.T) {
		bareID := id + "-bare"
		err := r.store.InsertCallSession(ctx, store.CallSession{
			ID:         bareID,
			Mode:       "diarized",
			SampleRate: 16000,
			Channels:   1,
			StartedAt:  startedAt,
		})
		if err != nil {
			t.Fatalf("InsertCallSession failed: %v", err)
		}
		defer func() {
			_, _ = db.Exec(ctx, "DELETE FROM call_sessions WHERE id = $1", bareID)
		}()

		r.completer = &fakeCompleter{response: "unused"}

		req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+bareID+"/summary", nil)
		req.SetPathValue("id", bareID)
		rec := httptest.NewRecorder()

		r.handleRegenerateSummary(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}
