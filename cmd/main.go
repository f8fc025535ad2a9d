package main

import (
	"context"
	"errors"
	"os"

	"github.com/desertthunder/scanx/internal/services"
	"github.com/desertthunder/scanx/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	var source services.SourceService
	var target services.TargetService

	config := shared.DefaultConfig()
	if _, err := os.Stat("config.toml"); err == nil {
		if loadedConfig, err := shared.LoadConfig("config.toml"); err == nil {
			config = loadedConfig
		}
	}

	if config.Source.Instance != "" {
		source = services.NewRetailService(services.RetailOpts{
			Instance:  config.Source.Instance,
			Username:  config.Source.Username,
			Password:  config.Source.Password,
			RateLimit: config.Copy.RateLimit,
		})
	}
	if config.Target.Instance != "" {
		target = services.NewRetailService(services.RetailOpts{
			Instance:  config.Target.Instance,
			Username:  config.Target.Username,
			Password:  config.Target.Password,
			RateLimit: config.Copy.RateLimit,
		})
	}

	runner := NewRunner(RunnerOpts{
		Config: config,
		Source: source,
		Target: target,
		Logger: logger,
	})

	app := &cli.Command{
		Name:     "scanx",
		Usage:    "Copy scans between retail instances with checkpointed batches",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		err_ := errors.Unwrap(err)
		if errors.Is(err_, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		} else {
			logger.Fatalf("application error: %v", err)
		}
	}
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize config and run history database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.SetupDatabase,
	}
}
