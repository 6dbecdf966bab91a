package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/vaultkeeper/internal/api"
	"github.com/starford/vaultkeeper/internal/noteservice"
	"github.com/starford/vaultkeeper/internal/sse"
	"github.com/starford/vaultkeeper/internal/vault"
)

const (
	graphThrottle   = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Run starts the REST server together with the vault watcher and the
// semantic refresher, until a signal arrives or ctx ends.
func Run(ctx context.Context, opts ...Option) error {
	app, logger, closeLog, err := setup(opts, false)
	if err != nil {
		return err
	}
	cfg := app.config

	broker := sse.NewBroker(graphThrottle)
	defer broker.Close()

	a, err := open(app, logger, closeLog, vault.WithObserver(broker.Observe))
	if err != nil {
		return err
	}
	defer a.Close()

	if rep, err := a.Engine.Links.Repair(ctx); err != nil {
		logger.Warn("backlink repair failed", slog.String("error", err.Error()))
	} else if rep.Added+rep.Removed > 0 {
		logger.Info("backlinks repaired", slog.Int("added", rep.Added), slog.Int("removed", rep.Removed))
	}

	srv := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           a.httpHandler(broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// External edits seen by the watcher reach SSE clients too.
	a.background(gCtx, g, broker.PublishEntityEvent)

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", srv.Addr), slog.String("vault", cfg.Vault.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()
		sigCtx, stop := signal.NotifyContext(gCtx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-sigCtx.Done()
		if gCtx.Err() == nil {
			logger.Info("Received shutdown signal")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// httpHandler mounts the API under /api next to unauthenticated probes.
func (a *App) httpHandler(events http.Handler) http.Handler {
	cfg := a.Config
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		probe(w, http.StatusOK, map[string]any{"status": "ok", "version": a.version})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.Ping(ctx); err != nil {
			probe(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
			return
		}
		body := map[string]any{"status": "ok"}
		if a.Semantic != nil {
			body["semantic_documents"] = a.Semantic.Count()
		}
		probe(w, http.StatusOK, body)
	})

	r.Mount("/api", api.NewRouter(noteservice.NewService(a.Engine), cfg.Auth.AuthEnabled(), cfg.Auth.Token, events))
	return r
}

func probe(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
