package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mvejnar/sidekick/internal/call"
	"github.com/mvejnar/sidekick/internal/eventlog"
	"github.com/mvejnar/sidekick/internal/livestate"
	"github.com/mvejnar/sidekick/internal/llm"
	"github.com/mvejnar/sidekick/internal/metrics"
	"github.com/mvejnar/sidekick/internal/notifications"
	"github.com/mvejnar/sidekick/internal/store"
)

type RouterConfig struct {
	// Device authentication
	DeviceKey string // shared key devices exchange for a JWT
	JWTSecret string
	JWTExpiry time.Duration

	// Notifications
	DiscordWebhookURL string

	// APNs Push Notifications
	APNsKeyPath    string // Path to .p8 key file
	APNsKeyID      string // Key ID from Apple Developer Portal
	APNsTeamID     string // Team ID from Apple Developer Portal
	APNsBundleID   string // App bundle ID (e.g., io.sidekick.app)
	APNsProduction bool   // Use production environment
}

// Deps are the router's collaborators, wired by the app at startup.
type Deps struct {
	Logger       *log.Logger
	Store        *store.Store
	EventLog     *eventlog.Logger
	Orchestrator *call.Orchestrator
	Completer    llm.Client
	Metrics      *metrics.Metrics
	Live         *livestate.Publisher
}

type Router struct {
	cfg        RouterConfig
	logger     *log.Logger
	store      *store.Store
	eventLog   *eventlog.Logger
	orch       *call.Orchestrator
	completer  llm.Client
	metrics    *metrics.Metrics
	discord    *notifications.Discord
	apns       *notifications.APNsClient
	clients    *ClientRegistry
	dispatcher *dispatcher
	mux        *http.ServeMux
}

func NewRouter(cfg RouterConfig, deps Deps) *Router {
	// Initialize APNs client (may be nil if not configured)
	apnsClient, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    cfg.APNsKeyPath,
		KeyID:      cfg.APNsKeyID,
		TeamID:     cfg.APNsTeamID,
		BundleID:   cfg.APNsBundleID,
		Production: cfg.APNsProduction,
	}, deps.Logger)
	if err != nil {
		deps.Logger.Printf("Warning: APNs client initialization failed: %v", err)
	}

	r := &Router{
		cfg:       cfg,
		logger:    deps.Logger,
		store:     deps.Store,
		eventLog:  deps.EventLog,
		orch:      deps.Orchestrator,
		completer: deps.Completer,
		metrics:   deps.Metrics,
		discord:   notifications.NewDiscord(cfg.DiscordWebhookURL, deps.Logger),
		apns:      apnsClient,
		clients:   NewClientRegistry(),
		mux:       http.NewServeMux(),
	}

	r.dispatcher = newDispatcher(dispatcherDeps{
		store:    deps.Store,
		eventLog: deps.EventLog,
		metrics:  deps.Metrics,
		live:     deps.Live,
		apns:     apnsClient,
		discord:  r.discord,
		logger:   deps.Logger,
	})

	r.routes()
	return r
}

// Handler returns the assembled HTTP handler.
func (r *Router) Handler() http.Handler {
	return withSentryRecovery(withCORS(r.mux))
}

// Discord returns the router's webhook notifier. Never nil; sends are no-ops
// when no webhook URL is configured.
func (r *Router) Discord() *notifications.Discord {
	return r.discord
}

// RunDispatcher consumes the orchestrator's event stream until it is closed.
// Intended to run in its own goroutine for the life of the process.
func (r *Router) RunDispatcher(events <-chan call.Event) {
	r.dispatcher.run(events)
}

// Shutdown rejects new websocket clients, closes connected ones and waits for
// their handlers to return, or for ctx to expire.
func (r *Router) Shutdown(ctx context.Context) error {
	r.clients.StartDraining()
	r.dispatcher.closeClients()

	done := make(chan struct{})
	go func() {
		r.clients.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) routes() {
	// Health and readiness
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	// Auth endpoints
	r.mux.HandleFunc("POST /v1/auth/token", r.withMetrics("/v1/auth/token", r.handleIssueToken))
	r.mux.HandleFunc("POST /v1/auth/logout", r.withMetrics("/v1/auth/logout", r.withAuth(r.handleLogout)))

	// Session history
	r.mux.HandleFunc("GET /v1/sessions", r.withMetrics("/v1/sessions", r.withAuth(r.handleListSessions)))
	r.mux.HandleFunc("GET /v1/sessions/{id}", r.withMetrics("/v1/sessions/{id}", r.withAuth(r.handleGetSession)))
	r.mux.HandleFunc("POST /v1/sessions/{id}/summary", r.withMetrics("/v1/sessions/{id}/summary", r.withAuth(r.handleRegenerateSummary)))

	// Live session state
	r.mux.HandleFunc("GET /v1/live", r.withMetrics("/v1/live", r.withAuth(r.handleGetLive)))

	// Push notifications
	r.mux.HandleFunc("POST /v1/push/register", r.withMetrics("/v1/push/register", r.withAuth(r.handlePushRegister)))
	r.mux.HandleFunc("POST /v1/push/unregister", r.withMetrics("/v1/push/unregister", r.withAuth(r.handlePushUnregister)))
	r.mux.HandleFunc("POST /v1/push/test", r.withMetrics("/v1/push/test", r.withAuth(r.handlePushTest)))

	// Device websocket (hijacks the connection, so no status-code wrapper)
	r.mux.HandleFunc("GET /v1/assist/ws", r.withAuth(r.handleAssistWS))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, req *http.Request) {
	if r.clients.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}

	if r.store != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := r.store.Ping(ctx); err != nil {
			r.logger.Printf("readyz: database ping failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// withMetrics wraps a handler with request counting and latency observation.
// The endpoint label is fixed per route to keep metric cardinality bounded.
func (r *Router) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.metrics == nil {
			handler(w, req)
			return
		}

		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, req)

		r.metrics.RecordHTTPRequest(req.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), time.Since(start).Seconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
