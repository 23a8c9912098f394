// warelay - multi-session messaging relay server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/vantrex/warelay/internal/api"
	"github.com/vantrex/warelay/internal/auth"
	"github.com/vantrex/warelay/internal/config"
	"github.com/vantrex/warelay/internal/credstore"
	"github.com/vantrex/warelay/internal/gateway"
	"github.com/vantrex/warelay/internal/hub"
	"github.com/vantrex/warelay/internal/middleware"
	"github.com/vantrex/warelay/internal/monitor"
	"github.com/vantrex/warelay/internal/pairing"
	"github.com/vantrex/warelay/internal/registry"
	"github.com/vantrex/warelay/internal/store"
	"github.com/vantrex/warelay/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

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

	var creds credstore.Store
	switch cfg.CredBackend {
	case config.CredBackendDB:
		creds, err = credstore.NewDBStore(repo.DB())
	default:
		creds, err = credstore.NewFileStore(cfg.CredDir)
	}
	if err != nil {
		slog.Error("Failed to initialize credential store", "error", err, "backend", cfg.CredBackend)
		os.Exit(1)
	}
	slog.Info("Credential store ready", "backend", cfg.CredBackend)

	// Initialize services.
	events := hub.New()
	tr := transport.NewSimulated()
	reg := registry.New(repo, creds, tr, events, cfg.ReconnectDelay)
	negotiator := pairing.New(repo, creds, reg, cfg.QRCodeTTL)
	mon := monitor.New(repo, creds, reg, monitor.Config{
		CleanupInterval:  cfg.CleanupInterval,
		CleanupThreshold: cfg.CleanupThreshold,
		HealthInterval:   cfg.HealthInterval,
		DisconnectGrace:  cfg.DisconnectGrace,
	})
	gw := gateway.New(repo)

	// Initialize handlers.
	tokenCfg := auth.DefaultTokenConfig(cfg.JWTSecret)
	handler := api.NewHandler(repo, reg, negotiator, mon, gw, cfg)
	wsHandler := hub.NewWebSocketHandler(events, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	handler.RegisterRoutes(r, tokenCfg)

	// WebSocket endpoint.
	r.Get("/ws/events", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background workers.
	mon.Start(ctx)
	slog.Info("Monitor started",
		"cleanup_interval", cfg.CleanupInterval,
		"cleanup_threshold", cfg.CleanupThreshold,
		"health_interval", cfg.HealthInterval)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := reg.Drain(shutdownCtx); err != nil {
		slog.Error("Registry drain incomplete", "error", err)
	}

	slog.Info("Server stopped successfully")
}
