package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mvejnar/sidekick/internal/call"
	"github.com/mvejnar/sidekick/internal/eventlog"
	"github.com/mvejnar/sidekick/internal/httpapi"
	"github.com/mvejnar/sidekick/internal/jobs"
	"github.com/mvejnar/sidekick/internal/livestate"
	"github.com/mvejnar/sidekick/internal/llm"
	"github.com/mvejnar/sidekick/internal/memory"
	"github.com/mvejnar/sidekick/internal/metrics"
	"github.com/mvejnar/sidekick/internal/store"
)

type App struct {
	cfg    Config
	logger *log.Logger
	db     *pgxpool.Pool

	store     *store.Store
	eventLog  *eventlog.Logger
	orch      *call.Orchestrator
	router    *httpapi.Router
	retention *jobs.RetentionJob

	dispatcherDone chan struct{}
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.DeepgramAPIKey == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.DeviceKey == "" {
		return nil, errors.New("DEVICE_KEY is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := store.New(db)
	el := eventlog.New(db)
	mem := memory.NewPG(db)

	// Migrations are applied externally by the CI deploy job (docker exec psql).
	// No automatic migration runner at startup.

	// Sessions left 'active' by a crashed process would otherwise look live
	// forever in the history API.
	staleCount, err := s.MarkStaleActiveSessions(ctx)
	if err != nil {
		logger.Printf("app: failed to mark stale sessions: %v", err)
	} else if staleCount > 0 {
		logger.Printf("app: marked %d stale active sessions as interrupted", staleCount)
	}

	assistCfg, err := call.LoadAssistConfig(cfg.AssistConfigPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	if cfg.RecordingDir != "" {
		if err := os.MkdirAll(cfg.RecordingDir, 0o755); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create recording dir: %w", err)
		}
	}

	completer := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
	})

	orch := call.NewOrchestrator(assistCfg, call.Deps{
		Completer:    completer,
		Memory:       mem,
		Logger:       logger,
		DeepgramKey:  cfg.DeepgramAPIKey,
		RecordingDir: cfg.RecordingDir,
	})

	router := httpapi.NewRouter(httpapi.RouterConfig{
		DeviceKey:         cfg.DeviceKey,
		JWTSecret:         cfg.JWTSecret,
		JWTExpiry:         cfg.JWTExpiry,
		DiscordWebhookURL: cfg.DiscordWebhookURL,
		APNsKeyPath:       cfg.APNsKeyPath,
		APNsKeyID:         cfg.APNsKeyID,
		APNsTeamID:        cfg.APNsTeamID,
		APNsBundleID:      cfg.APNsBundleID,
		APNsProduction:    cfg.APNsProduction,
	}, httpapi.Deps{
		Logger:       logger,
		Store:        s,
		EventLog:     el,
		Orchestrator: orch,
		Completer:    completer,
		Metrics:      metrics.NewMetrics(),
		Live:         livestate.New(cfg.RedisAddr, ""),
	})

	if staleCount > 0 {
		// Background context: the send outlives New's init deadline.
		router.Discord().NotifyInterruptedSessions(context.Background(), staleCount)
	}

	// Daily sweep; RETENTION_DAYS=0 disables it.
	retention := jobs.NewRetentionJob(s, mem, logger, cfg.RetentionDays, cfg.RecordingDir, 24*time.Hour)

	return &App{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     s,
		eventLog:  el,
		orch:      orch,
		router:    router,
		retention: retention,
	}, nil
}

// Handler returns the assembled HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router.Handler()
}

// Start launches the background workers: the event dispatcher that fans the
// orchestrator's stream out to clients and the database, and the retention job.
func (a *App) Start() {
	a.dispatcherDone = make(chan struct{})
	go func() {
		defer close(a.dispatcherDone)
		a.router.RunDispatcher(a.orch.Events())
	}()
	a.retention.Start()
}

// Shutdown drains websocket clients, stops the active session and waits for
// the dispatcher to finish persisting buffered events, or for ctx to expire.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.router.Shutdown(ctx)

	// Closing the orchestrator ends its event stream, which lets the
	// dispatcher goroutine drain and exit.
	a.orch.Close()
	if a.dispatcherDone != nil {
		select {
		case <-a.dispatcherDone:
		case <-ctx.Done():
			a.logger.Printf("app: dispatcher did not drain before shutdown deadline")
		}
	}

	a.retention.Stop()
	return err
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
