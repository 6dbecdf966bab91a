// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/capability"
	"github.com/starford/vaultkeeper/internal/engine"
	"github.com/starford/vaultkeeper/internal/index"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/search"
	"github.com/starford/vaultkeeper/internal/storage"
	"github.com/starford/vaultkeeper/internal/vault"
)

// App holds the opened vault, its indexes and the engine built on them.
type App struct {
	Config   *Config
	Logger   *slog.Logger
	FS       *storage.FS
	DB       *index.DB
	Store    *vault.Store
	Semantic *search.Index
	Engine   *engine.Engine

	version string
	closers []func() error
}

// setup applies opts and builds the logger. Interactive commands log to
// app.log_file unless a writer was given.
func setup(opts []Option, interactive bool) (*application, *slog.Logger, func() error, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	w := app.logWriter
	closeLog := func() error { return nil }
	if w == nil {
		w = os.Stdout
		if interactive {
			w = io.Discard
			if cfg.App.LogFile != "" {
				f, err := os.OpenFile(cfg.App.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return nil, nil, nil, fmt.Errorf("open log file: %w", err)
				}
				w, closeLog = f, f.Close
			}
		}
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("embedder", cfg.Search.Embedder),
		slog.String("log_level", cfg.App.LogLevel.String()))

	return app, logger, closeLog, nil
}

// open initialises storage, the SQLite index, the semantic index and the
// engine. extra vault options (commit observers) are appended.
func open(app *application, logger *slog.Logger, closeLog func() error, extra ...vault.Option) (*App, error) {
	cfg := app.config
	a := &App{Config: cfg, Logger: logger, version: app.version}
	a.closers = append(a.closers, closeLog)

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	fs, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.FS = fs

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init index: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	// Run initial sync.
	if err := index.Sync(db, fs, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	sem, err := search.New(search.Options{
		Embedder:        cfg.Search.Embedder,
		Model:           cfg.Search.Model,
		OllamaURL:       cfg.Search.OllamaURL,
		APIKey:          cfg.Search.APIKey,
		PersistPath:     cfg.Search.PersistPath,
		MinScore:        float32(cfg.Search.MinScore),
		RefreshInterval: cfg.Search.RefreshInterval,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init search: %w", err)
	}
	a.Semantic = sem

	vopts := []vault.Option{
		vault.WithIndex(db),
		vault.WithLogger(logger),
		vault.WithMaxAttempts(cfg.Storage.MaxWriteAttempts),
		vault.WithObserver(sem.Observe),
	}
	a.Store = vault.New(fs, append(vopts, extra...)...)

	c, err := capability.New(capability.Settings{
		Provider:     cfg.LLM.Provider,
		Model:        cfg.LLM.Model,
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Instructions: a.instructions(),
		Retry: capability.RetryConfig{
			MaxRetries:    cfg.LLM.MaxRetries,
			Backoff:       cfg.LLM.Backoff,
			RatePerSecond: cfg.LLM.RatePerSecond,
			Timeout:       cfg.LLM.Timeout,
		},
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init capability: %w", err)
	}

	a.Engine = engine.New(a.Store, db, c, sem, engine.Settings{
		SelfEntity:     cfg.Vault.SelfEntity,
		SelfAliases:    cfg.Vault.SelfAliases,
		FuzzyThreshold: cfg.Matching.FuzzyThreshold,
		MinConfidence:  cfg.Matching.MinConfidence,
		Single:         cfg.Predicates.Single,
		QueryLimit:     cfg.Search.Limit,
	}, logger)
	return a, nil
}

// Close releases the index and the log file.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

// instructions returns the text of the configured instructions note, if any.
func (a *App) instructions() string {
	name := a.Config.Vault.InstructionsNote
	if name == "" {
		return ""
	}
	data, _, err := a.FS.Read(name)
	if err != nil {
		if !apperr.Is(err, apperr.ErrNotFound) {
			a.Logger.Warn("instructions note unreadable", slog.String("path", name), slog.String("error", err.Error()))
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// warm fills an empty semantic index from the vault.
func (a *App) warm(ctx context.Context) {
	if a.Semantic.Count() > 0 {
		return
	}
	if err := a.Semantic.Rebuild(ctx, a.Store.List); err != nil && ctx.Err() == nil {
		a.Logger.Warn("semantic warm-up failed", slog.String("error", err.Error()))
	}
}

// background starts the vault watcher and the semantic refresher. cb, if
// non-nil, sees every watcher event after the indexes were updated.
func (a *App) background(ctx context.Context, g *errgroup.Group, cb index.EventCallback) {
	g.Go(func() error {
		return index.Watch(ctx, a.DB, a.FS, a.FS.Root(), a.Logger, func(kind, path string) {
			a.follow(ctx, kind, path)
			if cb != nil {
				cb(kind, path)
			}
		})
	})
	g.Go(func() error {
		a.warm(ctx)
		return a.Semantic.Run(ctx, a.Store.List)
	})
}

// follow mirrors an external vault edit into the semantic index.
func (a *App) follow(ctx context.Context, kind, path string) {
	id := models.IDFromPath(path)
	if kind == index.EventDeleted {
		if err := a.Semantic.Remove(ctx, id); err != nil {
			a.Logger.Warn("semantic remove failed", slog.String("id", id), slog.String("error", err.Error()))
		}
		return
	}
	n, err := a.Store.Read(ctx, id)
	if err != nil {
		a.Logger.Debug("semantic follow skipped", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	a.Semantic.Enqueue(n)
}
