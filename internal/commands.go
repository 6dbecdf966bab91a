package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"github.com/starford/vaultkeeper/internal/linkgraph"
	"github.com/starford/vaultkeeper/internal/mcpserver"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/noteservice"
	"github.com/starford/vaultkeeper/internal/router"
	"github.com/starford/vaultkeeper/internal/tui"
)

// RunChat opens the terminal chat. Logs go to app.log_file.
func RunChat(ctx context.Context, opts ...Option) error {
	app, logger, closeLog, err := setup(opts, true)
	if err != nil {
		return err
	}
	a, err := open(app, logger, closeLog)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	a.background(gCtx, g, nil)

	g.Go(func() error {
		defer cancel()
		title := fmt.Sprintf("vaultkeeper %s · %s", a.version, a.Config.Vault.Path)
		return tui.Run(gCtx, a.Engine, title)
	})
	return g.Wait()
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr so they
// never mix with the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogWriter(os.Stderr)}, opts...)
	app, logger, closeLog, err := setup(opts, false)
	if err != nil {
		return err
	}
	a, err := open(app, logger, closeLog)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	a.background(gCtx, g, nil)

	srv := mcpserver.New(noteservice.NewService(a.Engine), a.version)
	g.Go(func() error {
		defer cancel()
		logger.Info("MCP server listening on stdio")
		return srv.ServeStdio()
	})
	return g.Wait()
}

// RunOnce routes a single line (for example "/remember ..." or "/ask ...")
// and returns the response. SIGINT cancels it; nothing is committed after
// cancellation.
func RunOnce(ctx context.Context, line string, opts ...Option) (*router.Response, error) {
	app, logger, closeLog, err := setup(opts, true)
	if err != nil {
		return nil, err
	}
	a, err := open(app, logger, closeLog)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	a.warm(ctx)
	return a.Engine.Handle(ctx, line)
}

// RunRepair rebuilds backlinks from facts across the vault.
func RunRepair(ctx context.Context, opts ...Option) (linkgraph.RepairReport, error) {
	app, logger, closeLog, err := setup(opts, true)
	if err != nil {
		return linkgraph.RepairReport{}, err
	}
	a, err := open(app, logger, closeLog)
	if err != nil {
		return linkgraph.RepairReport{}, err
	}
	defer a.Close()
	return a.Engine.Links.Repair(ctx)
}

// RunReindex re-reads every note into the SQLite and semantic indexes and
// returns the number of notes indexed.
func RunReindex(ctx context.Context, opts ...Option) (int, error) {
	app, logger, closeLog, err := setup(opts, true)
	if err != nil {
		return 0, err
	}
	a, err := open(app, logger, closeLog)
	if err != nil {
		return 0, err
	}
	defer a.Close()

	notes, err := a.Store.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, n := range notes {
		if err := a.DB.UpsertNote(n, n.Version); err != nil {
			return 0, fmt.Errorf("reindex %s: %w", n.ID, err)
		}
	}
	if err := a.Semantic.Rebuild(ctx, func(context.Context) ([]*models.Note, error) { return notes, nil }); err != nil {
		return 0, err
	}
	logger.Info("reindex done", slog.Int("notes", len(notes)))
	return len(notes), nil
}
