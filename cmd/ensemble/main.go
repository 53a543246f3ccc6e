package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ensemble-audio/ensemble/internal/api"
	"github.com/ensemble-audio/ensemble/internal/cache"
	"github.com/ensemble-audio/ensemble/internal/config"
	"github.com/ensemble-audio/ensemble/internal/player"
	"github.com/ensemble-audio/ensemble/internal/queue"
	"github.com/ensemble-audio/ensemble/internal/repository"
	"github.com/ensemble-audio/ensemble/internal/stream"
	"github.com/ensemble-audio/ensemble/internal/syncengine"
	"github.com/ensemble-audio/ensemble/internal/transport"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger := newLogger(cfg.LogLevel)

	db, err := repository.OpenDB(cfg)
	if err != nil {
		log.Fatal(err)
	}
	repo := repository.NewRepo(db)
	store := cache.NewStore(repo)

	registry := player.NewRegistry()
	hub := transport.NewHub(logger)
	queues := queue.NewManager()
	streams := stream.NewService(cfg.StreamBaseURL)

	engine := syncengine.New(logger, clock.New(), hub, registry, queues, streams, store, repo)

	// a debounced group restart resumes the queue on its master
	queues.OnResume = func(ctx context.Context, queueID string, fadeIn bool) error {
		q, ok := queues.ActiveQueueByID(queueID)
		if !ok || q.Current == nil {
			return nil
		}
		for _, playerID := range queues.AssignedPlayers(queueID) {
			p, ok := registry.Get(playerID)
			if !ok || p.SyncedTo != "" {
				continue
			}
			return engine.PlayMedia(ctx, playerID, *q.Current, 0, fadeIn)
		}
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine stopped", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(logger, registry, engine).Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info("ensemble listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
