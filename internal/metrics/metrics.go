package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the assist service
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionDuration prometheus.Histogram
	ActiveSessions  prometheus.Gauge
	STTReconnects   prometheus.Counter

	// Pipeline metrics
	CaptionsForwarded   prometheus.Counter
	UtterancesFinalized prometheus.Counter
	AudioBytesReceived  prometheus.Counter

	// Completion metrics
	SuggestionsGenerated prometheus.Counter
	SuggestionLatency    prometheus.Histogram
	SummariesGenerated   prometheus.Counter
	PipelineErrors       *prometheus.CounterVec

	// Client metrics
	WebsocketClients prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
// Register once per process; promauto uses the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sidekick_sessions_started_total",
			Help: "Total number of assist sessions started",
		}),
		SessionsStopped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sidekick_sessions_stopped_total",
			Help: "Total number of assist sessions stopped",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sidekick_session_duration_seconds",
			Help:    "Duration of assist sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sidekick_active_sessions",
			Help: "Current number of active assist sessions",
		}),
		STTReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sidekick_stt_reconnects_total",
			Help: "Total number of speech-to-text reconnections within a session",
		}),

		CaptionsForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sidekick_captions_forwarded_total",
			Help: "Total number of interim captions forwarded to clients",
		}),
		UtterancesFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sidekick_utterances_finalized_total",
			Help: "Total number of finalized utterances",
		}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sidekick_audio_bytes_received_total",
			Help: "Total audio bytes received from clients",
		}),

		SuggestionsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sidekick_suggestions_generated_total",
			Help: "Total number of suggestions delivered to clients",
		}),
		SuggestionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sidekick_suggestion_latency_seconds",
			Help:    "Time from finalized utterance to delivered suggestion",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~13s
		}),
		SummariesGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sidekick_summaries_generated_total",
			Help: "Total number of session summaries generated",
		}),
		PipelineErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sidekick_pipeline_errors_total",
			Help: "Total number of non-fatal pipeline errors",
		}, []string{"scope"}),

		WebsocketClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sidekick_websocket_clients",
			Help: "Current number of connected websocket clients",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sidekick_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sidekick_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Set(1)
}

// RecordSessionStopped increments the sessions stopped counter and records duration
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	m.SessionsStopped.Inc()
	m.SessionDuration.Observe(durationSeconds)
	m.ActiveSessions.Set(0)
}

// RecordSTTReconnect increments the reconnect counter
func (m *Metrics) RecordSTTReconnect() {
	m.STTReconnects.Inc()
}

// RecordCaption increments the captions forwarded counter
func (m *Metrics) RecordCaption() {
	m.CaptionsForwarded.Inc()
}

// RecordUtterance increments the utterances finalized counter
func (m *Metrics) RecordUtterance() {
	m.UtterancesFinalized.Inc()
}

// RecordAudioBytes adds to the audio bytes received counter
func (m *Metrics) RecordAudioBytes(n int) {
	m.AudioBytesReceived.Add(float64(n))
}

// RecordSuggestion records a delivered suggestion and its latency
func (m *Metrics) RecordSuggestion(latencySeconds float64) {
	m.SuggestionsGenerated.Inc()
	if latencySeconds >= 0 {
		m.SuggestionLatency.Observe(latencySeconds)
	}
}

// RecordSummary increments the summaries generated counter
func (m *Metrics) RecordSummary() {
	m.SummariesGenerated.Inc()
}

// RecordPipelineError increments the error counter for a scope
func (m *Metrics) RecordPipelineError(scope string) {
	m.PipelineErrors.WithLabelValues(scope).Inc()
}

// SetWebsocketClients sets the current number of connected clients
func (m *Metrics) SetWebsocketClients(count int) {
	m.WebsocketClients.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
