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

	"github.com/Rojas22bt/diagamaIA-sub001/access"
	"github.com/Rojas22bt/diagamaIA-sub001/auth"
	"github.com/Rojas22bt/diagamaIA-sub001/config"
	"github.com/Rojas22bt/diagamaIA-sub001/httpapi"
	"github.com/Rojas22bt/diagamaIA-sub001/hub"
	"github.com/Rojas22bt/diagamaIA-sub001/metrics"
	"github.com/Rojas22bt/diagamaIA-sub001/pipeline"
	"github.com/Rojas22bt/diagamaIA-sub001/presence"
	"github.com/Rojas22bt/diagamaIA-sub001/protocol"
	"github.com/Rojas22bt/diagamaIA-sub001/session"
	"github.com/Rojas22bt/diagamaIA-sub001/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("database error", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	authority := access.New(db)
	rooms := hub.New()
	stats := metrics.New(rooms)

	manager, err := session.NewManager(verifier, rooms, authority, db, session.Options{
		ProfileCacheSize: cfg.ProfileCacheSize,
		PresenceRate:     cfg.CursorRate,
		PresenceBurst:    cfg.CursorBurst,
	})
	if err != nil {
		slog.Error("session manager error", "error", err)
		os.Exit(1)
	}
	handler := protocol.NewHandler(manager, pipeline.New(rooms, authority, db), presence.New(rooms), stats)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := httpapi.New(ctx, httpapi.Deps{
		Manager:        manager,
		Handler:        handler,
		Verifier:       verifier,
		Access:         authority,
		Diagrams:       db,
		Rooms:          rooms,
		Gatherer:       stats.Gatherer(),
		DB:             db,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.Router(),
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
