// Signals - behavioral telemetry and struggle-detection server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/shsh-signals/internal/api"
	"github.com/ashureev/shsh-signals/internal/coach"
	"github.com/ashureev/shsh-signals/internal/compose"
	"github.com/ashureev/shsh-signals/internal/config"
	"github.com/ashureev/shsh-signals/internal/identity"
	"github.com/ashureev/shsh-signals/internal/middleware"
	"github.com/ashureev/shsh-signals/internal/store"
	"github.com/ashureev/shsh-signals/internal/stream"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Initialize message composer gRPC client (optional).
	var composer coach.Composer
	if cfg.ComposerAddr != "" {
		slog.Info("Attempting to connect to composer service via gRPC", "address", cfg.ComposerAddr)
		cc := compose.DefaultConfig(cfg.ComposerAddr)
		cc.ConnectTimeout = cfg.Timeout.ComposerConnect
		cc.RequestTimeout = cfg.Timeout.ComposerRequest
		grpcComposer, err := compose.NewGrpcComposer(cc, logger)
		if err != nil {
			slog.Warn("Failed to connect to composer, using template messages", "error", err)
		} else {
			defer grpcComposer.Close()
			composer = grpcComposer
		}
	}
	if composer == nil {
		slog.Info("Message composition disabled (COMPOSER_ADDR not set or connection failed)")
	}

	mgr := coach.NewManager(cfg.CoachConfig(), repo, composer, logger)
	registry := stream.NewRegistry()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, mgr)
	healthHandler := api.NewHealthHandler(repo, mgr, cfg.Timeout.HealthCheck)
	activityHandler := api.NewActivityHandler(baseHandler)
	recordingHandler := api.NewRecordingHandler(baseHandler)
	wsHandler := stream.NewHandler(mgr, registry, cfg.AllowedOrigins, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins, identity.SessionHeaderName))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// All routes use identity middleware (no auth needed).
	activityHandler.RegisterRoutes(r)
	recordingHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/telemetry", wsHandler.ServeHTTP)

	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr.StartSweeper(ctx, registry.CloseSession)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	// Sessions close first so final recordings reach the database and
	// open sockets receive session_closed.
	mgr.Stop(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
