package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/stencil/internal"
	pkgconfig "github.com/starford/stencil/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadIfExists(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
		internal.WithStatusOutput(os.Stderr),
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func generate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	summary, err := internal.Generate(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return fmt.Errorf("generate error: %w", err)
	}
	for _, r := range summary.Results {
		for _, e := range r.ErrorStrings() {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Template, e)
		}
	}
	fmt.Printf("%d template(s): %d succeeded, %d failed, %d written, %d removed\n",
		summary.Templates, summary.Succeeded, summary.Failed, summary.Written, summary.Removed)
	if summary.Failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

func inspect(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Inspect(ctx, os.Stdout, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func main() {
	cmd := &cli.Command{
		Name:    "stencil",
		Usage:   "Regenerate code from text templates whenever the project or the templates change",
		Version: version,
		Action:  run,
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
				Name:   "run",
				Usage:  "Watch the project and templates and serve the HTTP API",
				Action: run,
			},
			{
				Name:   "generate",
				Usage:  "Run one generation pass over every template; exits 1 when a template fails",
				Action: generate,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio while watching",
				Action: serveMCP,
			},
			{
				Name:   "inspect",
				Usage:  "Dump the parsed project model",
				Action: inspect,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
