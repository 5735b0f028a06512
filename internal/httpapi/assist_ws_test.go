package httpapi

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mvejnar/sidekick/internal/call"
	"github.com/mvejnar/sidekick/internal/stt"
)

// fakeSpeech stands in for the Deepgram session. Start reports the
// connection as open; Stop closes the event channel like the real one.
type fakeSpeech struct {
	mu      sync.Mutex
	events  chan stt.Event
	bytes   int
	stopped bool
}

func newFakeSpeech() *fakeSpeech {
	return &fakeSpeech{events: make(chan stt.Event, 64)}
}

func (f *fakeSpeech) Start() error {
	f.events <- stt.StatusEvent{Status: stt.StatusOpen}
	return nil
}

func (f *fakeSpeech) SendAudio(frame []byte) {
	f.mu.Lock()
	f.bytes += len(frame)
	f.mu.Unlock()
}

func (f *fakeSpeech) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.events)
	}
	return nil
}

func (f *fakeSpeech) Events() <-chan stt.Event { return f.events }

func (f *fakeSpeech) audioBytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bytes
}

func (f *fakeSpeech) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// wsTestServer wires a router around a real orchestrator with a fake
// transcription backend and serves only the websocket endpoint.
func wsTestServer(t *testing.T, fake *fakeSpeech) (*httptest.Server, *call.Orchestrator, chan struct{}) {
	t.Helper()

	orch := call.NewOrchestrator(call.AssistConfig{}, call.Deps{
		Logger: log.New(io.Discard, "", 0),
		NewSpeechSession: func(stt.SessionConfig) call.SpeechSession {
			return fake
		},
	})

	r := &Router{
		logger:  log.New(io.Discard, "", 0),
		orch:    orch,
		metrics: testMetrics,
		clients: NewClientRegistry(),
	}
	r.dispatcher = newDispatcher(dispatcherDeps{
		metrics: testMetrics,
		logger:  r.logger,
	})

	dispDone := make(chan struct{})
	go func() {
		r.dispatcher.run(orch.Events())
		close(dispDone)
	}()

	srv := httptest.NewServer(http.HandlerFunc(r.handleAssistWS))
	return srv, orch, dispDone
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn
}

// readUntilType reads messages until one of the wanted type arrives, skipping
// interleaved status and caption broadcasts.
func readUntilType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed waiting for %q: %v", want, err)
		}
		if msg["type"] == want {
			return msg
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAssistClientSessionBinding(t *testing.T) {
	c := &assistClient{}

	if got := c.boundSession(); got != "" {
		t.Errorf("fresh client bound session = %q, want empty", got)
	}

	c.bindSession("sess-1")
	if got := c.boundSession(); got != "sess-1" {
		t.Errorf("bound session = %q, want %q", got, "sess-1")
	}

	c.bindSession("")
	if got := c.boundSession(); got != "" {
		t.Errorf("bound session after unbind = %q, want empty", got)
	}
}

func TestAssistWebsocketSession(t *testing.T) {
	fake := newFakeSpeech()
	srv, orch, dispDone := wsTestServer(t, fake)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	start := `{"type": "start", "mode": "multichannel", "sample_rate": 16000, "channels": 2, "you_channel": 0}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("write start failed: %v", err)
	}

	started := readUntilType(t, conn, "started")
	session, ok := started["session"].(map[string]any)
	if !ok {
		t.Fatalf("started message has no session: %v", started)
	}
	sessionID, _ := session["id"].(string)
	if sessionID == "" {
		t.Fatal("started message should carry a session id")
	}
	if session["mode"] != "multichannel" {
		t.Errorf("session mode = %v, want multichannel", session["mode"])
	}

	// Binary frames reach the transcription session as PCM
	frame := make([]byte, 640)
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write frame failed: %v", err)
	}
	waitFor(t, "audio to reach the speech session", func() bool {
		return fake.audioBytes() == len(frame)
	})

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "stop"}`)); err != nil {
		t.Fatalf("write stop failed: %v", err)
	}

	stopped := readUntilType(t, conn, "stopped")
	if stopped["session_id"] != sessionID {
		t.Errorf("stopped session id = %v, want %v", stopped["session_id"], sessionID)
	}
	if !fake.isStopped() {
		t.Error("speech session should be stopped")
	}

	conn.Close()
	orch.Close()
	select {
	case <-dispDone:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher should drain once the orchestrator closes")
	}
}

func TestAssistWebsocketDisconnectStopsSession(t *testing.T) {
	fake := newFakeSpeech()
	srv, orch, dispDone := wsTestServer(t, fake)
	defer srv.Close()

	conn := dialWS(t, srv)

	start := `{"type": "start", "mode": "diarized", "sample_rate": 16000, "channels": 1}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("write start failed: %v", err)
	}
	readUntilType(t, conn, "started")

	// A vanished device takes its session down with it
	conn.Close()
	waitFor(t, "session stop on disconnect", fake.isStopped)

	orch.Close()
	select {
	case <-dispDone:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher should drain once the orchestrator closes")
	}
}

func TestAssistWebsocketBadCommands(t *testing.T) {
	r := &Router{
		logger:  log.New(io.Discard, "", 0),
		metrics: testMetrics,
		clients: NewClientRegistry(),
	}
	r.dispatcher = newDispatcher(dispatcherDeps{
		metrics: testMetrics,
		logger:  r.logger,
	})

	srv := httptest.NewServer(http.HandlerFunc(r.handleAssistWS))
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	t.Run("malformed json", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		msg := readUntilType(t, conn, "error")
		if msg["scope"] != "command" {
			t.Errorf("error scope = %v, want command", msg["scope"])
		}
	})

	t.Run("unknown command type", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "dance"}`)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		msg := readUntilType(t, conn, "error")
		if msg["scope"] != "command" {
			t.Errorf("error scope = %v, want command", msg["scope"])
		}
	})

	t.Run("start without a pipeline", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "start", "mode": "diarized"}`)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		msg := readUntilType(t, conn, "error")
		if msg["scope"] != "start" {
			t.Errorf("error scope = %v, want start", msg["scope"])
		}
	})
}
