package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// promauto registers against the default registry, so the package gets one
// Metrics instance for the whole test binary.
var testMetrics = NewMetrics()

func TestRecordHelpers(t *testing.T) {
	m := testMetrics

	m.RecordSessionStarted()
	if got := testutil.ToFloat64(m.SessionsStarted); got != 1 {
		t.Errorf("sessions started = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}

	m.RecordSessionStopped(42.5)
	if got := testutil.ToFloat64(m.SessionsStopped); got != 1 {
		t.Errorf("sessions stopped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Errorf("active sessions after stop = %v, want 0", got)
	}

	m.RecordAudioBytes(640)
	m.RecordAudioBytes(640)
	if got := testutil.ToFloat64(m.AudioBytesReceived); got != 1280 {
		t.Errorf("audio bytes = %v, want 1280", got)
	}

	m.RecordPipelineError("suggestion")
	m.RecordPipelineError("suggestion")
	m.RecordPipelineError("recording")
	if got := testutil.ToFloat64(m.PipelineErrors.WithLabelValues("suggestion")); got != 2 {
		t.Errorf("suggestion errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PipelineErrors.WithLabelValues("recording")); got != 1 {
		t.Errorf("recording errors = %v, want 1", got)
	}

	m.RecordSuggestion(0.8)
	m.RecordSuggestion(-1) // unknown latency still counts the suggestion
	if got := testutil.ToFloat64(m.SuggestionsGenerated); got != 2 {
		t.Errorf("suggestions = %v, want 2", got)
	}

	m.SetWebsocketClients(3)
	if got := testutil.ToFloat64(m.WebsocketClients); got != 3 {
		t.Errorf("websocket clients = %v, want 3", got)
	}

	m.RecordHTTPRequest("GET", "/v1/sessions", "200", 0.012)
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/v1/sessions", "200")); got != 1 {
		t.Errorf("http requests = %v, want 1", got)
	}
}
