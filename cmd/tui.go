package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/scanx/internal/checkpoints"
	"github.com/desertthunder/scanx/internal/models"
	"github.com/desertthunder/scanx/internal/shared"
	"github.com/desertthunder/scanx/internal/tasks"
	"github.com/desertthunder/scanx/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI runs a copy with a live terminal dashboard instead of line output.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	if r.source == nil || r.target == nil {
		return fmt.Errorf("%w: source and target instances not configured", shared.ErrServiceUnavailable)
	}

	ids, err := parseScanIDs(cmd.String("scans"), cmd.String("scans-file"))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: no scan IDs provided", shared.ErrMissingArgument)
	}

	storeID := cmd.Int64("store")
	if storeID == 0 {
		storeID = r.config.Target.StoreID
	}
	if storeID == 0 {
		return fmt.Errorf("%w: target store ID required (--store or [target].store_id)", shared.ErrMissingArgument)
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/scanx-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)
	engine := tasks.NewCopyEngine(r.source, r.target, r.config, fileLogger)

	if err := r.source.Authenticate(ctx); err != nil {
		return fmt.Errorf("source authentication failed: %w", err)
	}
	if err := r.target.Authenticate(ctx); err != nil {
		return fmt.Errorf("target authentication failed: %w", err)
	}

	dir := r.config.Checkpoints.Directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	var cp *models.Checkpoint
	checkpointPath := filepath.Join(dir, checkpoints.Filename(time.Now()))
	if cmd.Bool("resume") {
		if latest, err := checkpoints.Latest(dir); err == nil {
			if cp, err = checkpoints.Load(latest); err != nil {
				return err
			}
			checkpointPath = latest
		} else if !errors.Is(err, shared.ErrNoCheckpoint) {
			return err
		}
	}

	model := ui.NewModel(func(progress chan<- tasks.ProgressUpdate) (*tasks.CopyRunResult, error) {
		return engine.Run(ctx, progress, tasks.RunOpts{
			Scans:          ids,
			TargetStoreID:  storeID,
			CapturedAt:     time.Now().UnixMilli(),
			CheckpointPath: checkpointPath,
			Checkpoint:     cp,
		})
	})

	p := tea.NewProgram(model)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}

func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Run a copy with a live terminal dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "scans",
				Usage: "Comma-separated scan IDs",
			},
			&cli.StringFlag{
				Name:  "scans-file",
				Usage: "File with one scan ID per line",
			},
			&cli.Int64Flag{
				Name:  "store",
				Usage: "Target store ID (defaults to [target].store_id)",
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Resume from the newest checkpoint",
			},
		},
		Action: r.TUI,
	}
}
