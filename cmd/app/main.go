package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/quill/internal"
	"github.com/starford/quill/internal/models"
	pkgconfig "github.com/starford/quill/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.String("config"), internal.DefaultConfigYAML, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runSweep(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithStrict(cmd.Bool("strict")),
	}
	var kinds []models.Kind
	for _, raw := range cmd.StringSlice("kind") {
		kind, err := models.ParseKind(raw)
		if err != nil {
			return err
		}
		kinds = append(kinds, kind)
	}
	opts = append(opts, internal.WithKinds(kinds...))
	if cmd.Bool("json") {
		opts = append(opts, internal.WithLogOutput(os.Stderr))
	}

	sum, err := internal.RunSweep(ctx, opts...)
	if cmd.Bool("json") {
		_ = json.NewEncoder(os.Stdout).Encode(sum)
	}
	return err
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:   "quill",
		Usage:  "Keeps published content records and their static-site artifact files in step",
		Action: serve,
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
			{
				Name:   "serve",
				Usage:  "Run the admin API server",
				Action: serve,
			},
			{
				Name:   "sweep",
				Usage:  "Reconcile every artifact file with its record (run before the site build)",
				Action: runSweep,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "strict",
						Usage: "Exit non-zero when any record could not be reconciled",
					},
					&cli.StringSliceFlag{
						Name:  "kind",
						Usage: "Only sweep this kind (note, post); repeatable",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the summary as JSON on stdout",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
