package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"draftroom/api/internal/app"
	"draftroom/api/internal/auth"
	"draftroom/api/internal/config"
	"draftroom/api/internal/logging"
	"draftroom/api/internal/realtime"
	"draftroom/api/internal/share"
	"draftroom/api/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", logging.Fields{"error": err})
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir)); err != nil {
		return err
	}
	comments := store.NewPostgresStore(db)

	shares, err := share.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer shares.Close()

	if cfg.IdentitySecret == "draftroom-dev-secret" {
		logger.Warn("using the development identity secret; set DRAFTROOM_IDENTITY_SECRET")
	}
	verifier := auth.NewVerifier(cfg.IdentitySecret, cfg.IdentityIssuer)

	registryCtx, stopRegistry := context.WithCancel(context.Background())
	defer stopRegistry()
	registry := realtime.NewRegistry()
	go registry.Run(registryCtx)

	broadcaster := realtime.NewBroadcaster(registry, logger)
	router := realtime.NewRouter(registry, realtime.NewHandshake(verifier, shares), broadcaster, comments, logger)
	manager := realtime.NewManager(registry, router, comments, logger, realtime.Options{
		WriteTimeout:    cfg.WriteTimeout,
		PongTimeout:     cfg.PongTimeout,
		MaxMessageBytes: cfg.MaxMessageBytes,
		CheckOrigin:     originChecker(cfg.CORSOrigin),
	})

	service := app.New(cfg, comments, shares, verifier)
	httpServer := app.NewHTTPServer(service, manager, logger, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("draftroom api listening", logging.Fields{"addr": cfg.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", logging.Fields{"registry": registry.Stats()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", logging.Fields{"error": err})
	}
	stopRegistry()
	return nil
}

// originChecker allows websocket upgrades from the configured CORS origin.
func originChecker(corsOrigin string) func(*http.Request) bool {
	allowed := strings.TrimSpace(corsOrigin)
	if allowed == "" || allowed == "*" {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || strings.EqualFold(origin, allowed)
	}
}
