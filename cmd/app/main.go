package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/vaultkeeper/internal"
	pkgconfig "github.com/starford/vaultkeeper/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.String("config"), "", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func options(cmd *cli.Command) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func chat(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunChat(ctx, opts...)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

// once returns an action that sends "<slash> <args>" through the router
// and prints the reply.
func once(slash string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		text := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
		if text == "" {
			return errors.New("text is required")
		}
		opts, err := options(cmd)
		if err != nil {
			return err
		}
		resp, err := internal.RunOnce(ctx, slash+" "+text, opts...)
		if err != nil {
			return err
		}
		fmt.Println(resp.Text)
		return nil
	}
}

func repair(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	rep, err := internal.RunRepair(ctx, opts...)
	if err != nil {
		return err
	}
	fmt.Printf("checked %d notes: %d backlinks added, %d removed\n", rep.Notes, rep.Added, rep.Removed)
	return nil
}

func reindex(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	n, err := internal.RunReindex(ctx, opts...)
	if err != nil {
		return err
	}
	fmt.Printf("reindexed %d notes\n", n)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "vaultkeeper",
		Usage:   "Conversational memory over a Markdown vault: remember facts, ask grounded questions",
		Version: version,
		Action:  chat,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{Name: "chat", Usage: "Open the terminal chat (default)", Action: chat},
			{Name: "remember", Usage: "Record facts from one statement", ArgsUsage: "<text>", Action: once("/remember")},
			{Name: "ask", Usage: "Answer one question from the vault", ArgsUsage: "<question>", Action: once("/ask")},
			{Name: "serve", Usage: "Run the REST API with the vault watcher", Action: serve},
			{Name: "mcp", Usage: "Serve MCP tools on stdio", Action: mcp},
			{Name: "repair", Usage: "Rebuild backlinks from facts", Action: repair},
			{Name: "reindex", Usage: "Rebuild the SQLite and semantic indexes", Action: reindex},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
