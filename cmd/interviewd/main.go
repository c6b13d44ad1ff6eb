package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mockinterview/interviewd/internal/api"
	"github.com/mockinterview/interviewd/internal/audit"
	"github.com/mockinterview/interviewd/internal/config"
	"github.com/mockinterview/interviewd/internal/connections"
	"github.com/mockinterview/interviewd/internal/health"
	"github.com/mockinterview/interviewd/internal/pipeline"
	"github.com/mockinterview/interviewd/internal/pipeline/gemini"
	"github.com/mockinterview/interviewd/internal/pipeline/remote"
	"github.com/mockinterview/interviewd/internal/pipeline/scripted"
	"github.com/mockinterview/interviewd/internal/protocol"
	"github.com/mockinterview/interviewd/internal/router"
	"github.com/mockinterview/interviewd/internal/sessions"
)

// AppState holds all application services
type AppState struct {
	Logger   *zap.Logger
	Config   *config.Config
	Store    *sessions.Store
	Conns    *connections.Manager
	Router   *router.Router
	Health   *health.Manager
	Audit    *audit.Logger
	Pipeline pipeline.Pipeline
	Codec    *protocol.Codec

	closers []io.Closer
}

func main() {
	// Load configuration
	if err := config.Load(); err != nil {
		zap.Must(zap.NewProduction()).Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize logger with config
	logger := initLogger()
	defer func() { _ = logger.Sync() }()
	logger.Info("Configuration loaded", zap.String("environment", config.Get().Common.Environment))

	ctx := context.Background()

	// Initialize application state
	as, err := newAppState(ctx, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application state", zap.Error(err))
	}

	if err := as.Health.StartupHealthCheck(ctx); err != nil {
		logger.Fatal("Startup health check failed", zap.Error(err))
	}

	// Create HTTP server
	gin.SetMode(gin.ReleaseMode)
	srv := &api.Server{
		Config: api.Config{
			AdminAPIKey:    config.Auth().AdminAPIKey,
			AllowedOrigins: config.Http().AllowedOrigins,
			MaxRequestSize: config.Http().MaxRequestSize,
			MaxAudioBytes:  config.Audio().MaxBytes,
			Production:     config.Production(),
		},
		Store:  as.Store,
		Router: as.Router,
		Conns:  as.Conns,
		Codec:  as.Codec,
		Health: as.Health,
		Audit:  as.Audit,
		Logger: logger,
	}

	addr := fmt.Sprintf("%s:%d", config.Http().Host, config.Http().Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	done := setupSignalHandler(as, server, logger)

	if as.Audit != nil && config.Audit().Retention > 0 {
		go pruneInteractions(as, config.Audit().Retention, done)
	}

	logger.Info("Starting interview server",
		zap.String("address", addr),
		zap.String("pipeline", config.Pipeline().Backend),
		zap.String("version", protocol.ServerVersion))

	if err := run(as, server, done, logger); err != nil {
		logger.Error("Server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("Server shutdown complete")
}

// run serves until the signal handler completes. A listener failure shuts
// down everything already started and is returned.
func run(as *AppState, server *http.Server, done <-chan struct{}, logger *zap.Logger) error {
	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		shutdown(as, server, logger)
		return fmt.Errorf("failed to start server: %w", err)
	}
	<-done
	return nil
}

// newAppState creates and wires the application services
func newAppState(ctx context.Context, logger *zap.Logger) (*AppState, error) {
	pipe, err := newPipeline(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ai pipeline: %w", err)
	}

	healthManager := health.NewManager(logger)
	healthManager.AddChecker(health.NewPipelineChecker(pipe))

	// Interaction logging is optional; without it nothing is persisted.
	var recorder audit.Recorder = audit.Discard{}
	auditLog, auditCloser, err := newAuditLogger(ctx, healthManager, logger)
	if err != nil {
		return nil, err
	}
	if auditLog != nil {
		recorder = auditLog
	}

	wsConfig := config.Websocket()
	codec := protocol.NewCodec(config.Audio().MaxBytes, config.Audio().AllowedFormats)
	conns := connections.NewManager(connections.Config{
		HeartbeatTimeout: wsConfig.HeartbeatTimeout,
		PingInterval:     wsConfig.PingInterval,
		WriteTimeout:     wsConfig.WriteTimeout,
		CloseGrace:       wsConfig.CloseGrace,
		MaxMessageSize:   wsConfig.MaxMessageSize,
		SendBuffer:       wsConfig.SendBuffer,
		MaxConnections:   wsConfig.MaxConnections,
		Production:       config.Production(),
	}, codec, logger)

	store := sessions.NewStore()
	r := router.New(store, pipe, conns, logger,
		router.WithCompletionPolicy(router.DefaultPolicy(config.Interview().MaxQuestions)),
		router.WithRecorder(recorder),
		router.WithProduction(config.Production()),
	)
	conns.SetHandler(r)

	return &AppState{
		Logger:   logger,
		Config:   config.Get(),
		Store:    store,
		Conns:    conns,
		Router:   r,
		Health:   healthManager,
		Audit:    auditLog,
		closers:  closersOf(auditCloser),
		Pipeline: pipe,
		Codec:    codec,
	}, nil
}

// newAuditLogger opens the configured interaction log store. It returns a nil
// logger when auditing is disabled.
func newAuditLogger(ctx context.Context, healthManager *health.Manager, logger *zap.Logger) (*audit.Logger, io.Closer, error) {
	cfg := config.Audit()
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Driver {
	case "sqlite":
		logger.Info("Audit database configuration",
			zap.String("driver", cfg.Driver),
			zap.String("path", cfg.SQLite.Path))

		store, err := audit.NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		healthManager.AddChecker(health.NewDatabaseChecker(store.DB(), true))
		return audit.NewLogger(store), store, nil

	default:
		pg := cfg.Postgres
		logger.Info("Audit database configuration",
			zap.String("driver", cfg.Driver),
			zap.String("host", pg.Host),
			zap.Int("port", pg.Port),
			zap.String("database", pg.Database),
			zap.String("user", pg.User))

		db, err := audit.OpenDB(ctx, pg.DSN(), pg.MaxOpenConnections)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		if err := audit.CreateTables(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to create audit tables: %w", err)
		}
		healthManager.AddChecker(health.NewDatabaseChecker(db, true))
		return audit.NewLogger(audit.NewPostgresStore(db)), db, nil
	}
}

func closersOf(cs ...io.Closer) []io.Closer {
	var out []io.Closer
	for _, c := range cs {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// newPipeline builds the configured backend, optionally with a separate
// speech-to-text backend, and bounds every stage with the pipeline timeout.
func newPipeline(ctx context.Context, logger *zap.Logger) (pipeline.Pipeline, error) {
	cfg := config.Pipeline()

	var stt pipeline.Transcriber
	switch {
	case cfg.Transcriber == "" || cfg.Transcriber == cfg.Backend:
	case cfg.Transcriber == "remote":
		stt = remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, logger)
	case cfg.Transcriber == "gemini":
		backend, err := newGemini(ctx, logger)
		if err != nil {
			return nil, err
		}
		stt = backend
	}

	var pipe pipeline.Pipeline
	switch cfg.Backend {
	case "remote":
		pipe = remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, logger)
	case "gemini":
		backend, err := newGemini(ctx, logger)
		if err != nil {
			return nil, err
		}
		pipe = backend
	default:
		var opts []scripted.Option
		if stt != nil {
			opts = append(opts, scripted.WithTranscriber(stt))
		}
		pipe = scripted.New(config.Interview().MinAnswerWords, logger, opts...)
		stt = nil
	}

	if stt != nil {
		pipe = pipeline.WithTranscriber(pipe, stt)
	}

	logger.Info("AI pipeline configured",
		zap.String("backend", cfg.Backend),
		zap.String("transcriber", cfg.Transcriber),
		zap.Duration("timeout", cfg.Timeout))
	return pipeline.WithTimeout(pipe, cfg.Timeout), nil
}

func newGemini(ctx context.Context, logger *zap.Logger) (*gemini.Backend, error) {
	g := config.Pipeline().Gemini
	return gemini.New(ctx, gemini.Config{
		APIKey:     g.APIKey,
		Model:      g.Model,
		Language:   g.Language,
		MaxRetries: g.MaxRetries,
	}, logger)
}

// pruneInteractions deletes expired interaction logs once an hour until the
// server shuts down.
func pruneInteractions(as *AppState, retention time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := as.Audit.Prune(ctx, retention); err != nil {
				as.Logger.Warn("Failed to prune interaction logs", zap.Error(err))
			}
			cancel()
		case <-done:
			return
		}
	}
}

func initLogger() *zap.Logger {
	logConfig := config.Logger()

	var config zap.Config
	if logConfig.Format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	// Set log level
	switch logConfig.Level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	return logger
}

// setupSignalHandler shuts the server down on SIGINT/SIGTERM or when the
// connection manager reports a fatal error.
func setupSignalHandler(as *AppState, server *http.Server, logger *zap.Logger) chan struct{} {
	done := make(chan struct{})

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-signalCh:
			logger.Info("Shutting down server...", zap.String("signal", sig.String()))
		case err := <-as.Conns.Fatal():
			logger.Error("Shutting down after fatal connection error", zap.Error(err))
		}

		shutdown(as, server, logger)
		close(done)
	}()

	return done
}

// shutdown stops everything already started: the HTTP server, live
// connections, in-flight lane work and the audit database.
func shutdown(as *AppState, server *http.Server, logger *zap.Logger) {
	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting requests
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	// Close every live connection
	if err := as.Conns.Shutdown(ctx); err != nil {
		logger.Error("Error closing connections", zap.Error(err))
	}

	// Let admitted answers finish
	if err := as.Router.Wait(ctx); err != nil {
		logger.Error("Error waiting for in-flight work", zap.Error(err))
	}

	for _, c := range as.closers {
		if err := c.Close(); err != nil {
			logger.Error("Error closing audit database", zap.Error(err))
		}
	}
}
