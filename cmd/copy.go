package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/desertthunder/scanx/internal/checkpoints"
	"github.com/desertthunder/scanx/internal/formatter"
	"github.com/desertthunder/scanx/internal/models"
	"github.com/desertthunder/scanx/internal/repositories"
	"github.com/desertthunder/scanx/internal/shared"
	"github.com/desertthunder/scanx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// CopyRun copies scans from the source to the target instance in
// checkpointed batches. Interrupts cancel the run after the in-flight batch;
// a later --resume picks up from the last persisted checkpoint.
func (r *Runner) CopyRun(ctx context.Context, cmd *cli.Command) error {
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

	capturedAt := cmd.Int64("captured-at")
	if capturedAt == 0 {
		capturedAt = time.Now().UnixMilli()
	}

	checkpointPath, cp, err := r.resolveCheckpoint(cmd)
	if err != nil {
		return err
	}

	r.logger.Info("starting copy",
		"source", r.source.Name(), "target", r.target.Name(),
		"scans", len(ids), "store", storeID, "checkpoint", checkpointPath)
	r.writePlain("Starting scan copy...\n")
	r.writePlain("Source: %s\n", r.source.Name())
	r.writePlain("Target: %s (store %d)\n", r.target.Name(), storeID)
	r.writePlain("Scans: %d\n\n", len(ids))

	if err := r.source.Authenticate(ctx); err != nil {
		return fmt.Errorf("source authentication failed: %w", err)
	}
	if err := r.target.Authenticate(ctx); err != nil {
		return fmt.Errorf("target authentication failed: %w", err)
	}

	runID := shared.GenerateRunID()
	repo := r.openRunRepository(runID, storeID, len(ids), checkpointPath)

	// Interrupts cancel after the in-flight batch so the checkpoint stays valid.
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create progress channel and goroutine to handle updates
	progressCh := make(chan tasks.ProgressUpdate, 50)
	go func() {
		for update := range progressCh {
			switch update.Phase {
			case tasks.FetchInfo:
				r.writePlain("📥 %s\n", update.Message)
			case tasks.BatchStart:
				r.writePlain("\n▶ %s\n", update.Message)
			case tasks.BatchSkip:
				r.writePlain("⏭ %s\n", update.Message)
			case tasks.StageProgress:
				r.writePlain("   %s\n", update.Message)
			case tasks.BatchRetry:
				r.writePlain("↻ %s\n", update.Message)
			case tasks.BatchDone:
				r.writePlain("✔ %s\n", update.Message)
			}
		}
	}()

	result, runErr := r.engine.Run(runCtx, progressCh, tasks.RunOpts{
		Scans:          ids,
		TargetStoreID:  storeID,
		CapturedAt:     capturedAt,
		CheckpointPath: checkpointPath,
		Checkpoint:     cp,
	})
	close(progressCh)

	if result != nil {
		r.recordRun(repo, runID, result)
		r.printSummary(result, checkpointPath)

		if outPath := cmd.String("output"); outPath != "" && len(result.Mapping) > 0 {
			if err := formatter.WriteMappingCSV(result.Mapping, outPath); err != nil {
				r.logger.Error("failed to write mapping CSV", "path", outPath, "error", err)
			} else {
				r.writePlain("Mapping CSV: %s\n", outPath)
			}
		}

		if result.FullyCompleted() && checkpointPath != "" {
			if err := checkpoints.Remove(checkpointPath); err != nil {
				r.logger.Warn("failed to remove checkpoint", "path", checkpointPath, "error", err)
			} else {
				r.writePlain("Checkpoint removed (all scans copied)\n")
			}
		}
	}

	if runErr != nil {
		if errors.Is(runErr, shared.ErrCancelled) {
			r.writePlain("\nRun interrupted. Resume with 'scanx copy run --resume'\n")
			return nil
		}
		return runErr
	}
	return nil
}

// resolveCheckpoint picks the checkpoint path and prior state for this run
// from the --checkpoint / --resume / --restart flags.
func (r *Runner) resolveCheckpoint(cmd *cli.Command) (string, *models.Checkpoint, error) {
	dir := r.config.Checkpoints.Directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	if cmd.Bool("restart") {
		paths, err := checkpoints.Discover(dir)
		if err != nil {
			return "", nil, err
		}
		if len(paths) > 0 {
			r.logger.Info("restart requested, removing checkpoints", "count", len(paths))
			if err := checkpoints.Restart(paths); err != nil {
				return "", nil, err
			}
		}
		return filepath.Join(dir, checkpoints.Filename(time.Now())), nil, nil
	}

	path := cmd.String("checkpoint")
	if path == "" && cmd.Bool("resume") {
		paths, err := checkpoints.Discover(dir)
		if err != nil {
			return "", nil, err
		}
		switch len(paths) {
		case 0:
			r.logger.Info("no checkpoint to resume, starting fresh")
			return filepath.Join(dir, checkpoints.Filename(time.Now())), nil, nil
		case 1:
			path = paths[0]
		default:
			// Multiple candidates are never merged or silently picked.
			r.writePlain("Multiple checkpoints found in %s:\n", dir)
			for _, p := range paths {
				r.writePlain("  %s\n", p)
			}
			return "", nil, fmt.Errorf("%w: pass --checkpoint to pick one, or --restart to discard them", shared.ErrInvalidArgument)
		}
	}

	if path == "" {
		return filepath.Join(dir, checkpoints.Filename(time.Now())), nil, nil
	}

	cp, err := checkpoints.Load(path)
	if err != nil {
		return "", nil, err
	}
	r.logger.Info("resuming from checkpoint",
		"path", path, "completed_batches", len(cp.CompletedBatches), "copied", len(cp.Mapping), "failed", cp.FailedScans)
	r.writePlain("Resuming from %s (%d batches done)\n\n", path, len(cp.CompletedBatches))
	return path, cp, nil
}

// openRunRepository opens the run history database and registers the run.
// History is best-effort: a missing or broken database never blocks a copy.
func (r *Runner) openRunRepository(runID string, storeID int64, totalScans int, checkpointPath string) *repositories.RunRepository {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		r.logger.Warn("run history unavailable", "error", err)
		return nil
	}
	repo := repositories.NewRunRepository(db)

	err = repo.Create(&repositories.Run{
		ID:             runID,
		SourceInstance: r.source.Name(),
		TargetInstance: r.target.Name(),
		TargetStoreID:  storeID,
		BatchSize:      r.config.Copy.BatchSize,
		TotalScans:     totalScans,
		CheckpointPath: checkpointPath,
	})
	if err != nil {
		r.logger.Warn("failed to record run", "error", err)
		return nil
	}
	return repo
}

func (r *Runner) recordRun(repo *repositories.RunRepository, runID string, result *tasks.CopyRunResult) {
	if repo == nil {
		return
	}

	status := repositories.RunStatusCompleted
	switch {
	case result.Succeeded+result.Failed < result.TotalScans:
		status = repositories.RunStatusAborted
	case result.Failed > 0:
		status = repositories.RunStatusPartial
	}

	if err := repo.AddMappings(runID, result.Mapping); err != nil {
		r.logger.Warn("failed to record mappings", "error", err)
	}
	if err := repo.Finish(runID, result.Succeeded, result.Failed, status); err != nil {
		r.logger.Warn("failed to finish run record", "error", err)
	}
}

func (r *Runner) printSummary(result *tasks.CopyRunResult, checkpointPath string) {
	r.writePlain("\n")
	r.writePlainHeader("Copy Summary")
	r.writePlain("Scans: %d\n", result.TotalScans)
	r.writePlain("Copied: %d\n", result.Succeeded)
	r.writePlain("Failed: %d\n", result.Failed)
	if result.SkippedBatches > 0 {
		r.writePlain("Skipped batches (already done): %d\n", result.SkippedBatches)
	}
	if !result.FullyCompleted() && checkpointPath != "" {
		r.writePlain("Checkpoint: %s\n", checkpointPath)
	}
}

// CopyStatus lists checkpoints in the checkpoint directory with their progress.
func (r *Runner) CopyStatus(ctx context.Context, cmd *cli.Command) error {
	dir := r.config.Checkpoints.Directory
	paths, err := checkpoints.Discover(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		r.writePlain("No checkpoints in %s\n", dir)
		return nil
	}

	type status struct {
		Path             string `json:"path"`
		CompletedBatches int    `json:"completed_batches"`
		Copied           int    `json:"copied"`
		Failed           int    `json:"failed"`
	}

	statuses := make([]status, 0, len(paths))
	for _, path := range paths {
		cp, err := checkpoints.Load(path)
		if err != nil {
			r.logger.Warn("skipping unreadable checkpoint", "path", path, "error", err)
			continue
		}
		statuses = append(statuses, status{
			Path:             path,
			CompletedBatches: len(cp.CompletedBatches),
			Copied:           len(cp.Mapping),
			Failed:           cp.FailedScans,
		})
	}

	if cmd.Bool("json") {
		return r.writeJSON(statuses, true)
	}

	r.writePlainHeader("Checkpoints")
	for i, s := range statuses {
		marker := " "
		if i == 0 {
			marker = "*" // newest, the --resume target
		}
		r.writePlain("%s %s: %d batches done, %d copied, %d failed\n",
			marker, s.Path, s.CompletedBatches, s.Copied, s.Failed)
	}
	return nil
}

// parseScanIDs reads scan IDs from a comma-separated flag value and/or a
// file with one ID per line, deduplicating while preserving order.
func parseScanIDs(csv, path string) ([]models.ScanID, error) {
	var raw []string
	if csv != "" {
		raw = append(raw, strings.Split(csv, ",")...)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read scans file: %w", err)
		}
		raw = append(raw, strings.Split(string(data), "\n")...)
	}

	seen := make(map[models.ScanID]bool, len(raw))
	ids := make([]models.ScanID, 0, len(raw))
	for _, field := range raw {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid scan ID %q", shared.ErrInvalidArgument, field)
		}
		id := models.ScanID(n)
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// copyCommand handles scan copy operations
func copyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "copy",
		Usage: "Copy scans between instances",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a checkpointed batch copy from source to target",
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
					&cli.Int64Flag{
						Name:  "captured-at",
						Usage: "captured_at epoch milliseconds for created scans (defaults to now)",
					},
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "Resume from the newest checkpoint",
					},
					&cli.BoolFlag{
						Name:  "restart",
						Usage: "Delete existing checkpoints and start from batch 1",
					},
					&cli.StringFlag{
						Name:  "checkpoint",
						Usage: "Resume from a specific checkpoint file",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the scan mapping CSV to this path",
					},
				},
				Action: r.CopyRun,
			},
			{
				Name:  "status",
				Usage: "Show checkpoint progress for interrupted runs",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output as JSON",
					},
				},
				Action: r.CopyStatus,
			},
		},
	}
}
