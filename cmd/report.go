package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/scanx/internal/formatter"
	"github.com/desertthunder/scanx/internal/repositories"
	"github.com/desertthunder/scanx/internal/shared"
	"github.com/urfave/cli/v3"
)

// ReportRuns lists recorded copy runs from the history database.
func (r *Runner) ReportRuns(ctx context.Context, cmd *cli.Command) error {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer db.Close()

	repo := repositories.NewRunRepository(db)
	runs, err := repo.List(cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		r.writePlain("No recorded runs\n")
		return nil
	}

	if cmd.Bool("json") {
		return r.writeJSON(runs, true)
	}

	r.writePlainHeader("Copy Runs")
	for _, run := range runs {
		r.writePlain("%s  %s → %s  %d/%d copied  [%s]  %s\n",
			run.ID, run.SourceInstance, run.TargetInstance,
			run.SucceededScans, run.TotalScans, run.Status,
			run.StartedAt.Format(time.RFC3339))
	}
	return nil
}

// ReportMapping exports a recorded run's scan mapping as CSV.
func (r *Runner) ReportMapping(ctx context.Context, cmd *cli.Command) error {
	runID := cmd.String("run")

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer db.Close()

	repo := repositories.NewRunRepository(db)
	if _, err := repo.Get(runID); err != nil {
		return err
	}

	mapping, err := repo.Mappings(runID)
	if err != nil {
		return err
	}
	if len(mapping) == 0 {
		r.writePlain("Run %s has no recorded mappings\n", runID)
		return nil
	}

	outPath := cmd.String("output")
	if outPath == "" {
		outPath = formatter.MappingFilename(time.Now())
	}

	if err := formatter.WriteMappingCSV(mapping, outPath); err != nil {
		return err
	}

	r.logger.Info("mapping exported", "run", runID, "rows", len(mapping), "path", outPath)
	r.writePlain("✓ Wrote %d mappings to %s\n", len(mapping), outPath)
	return nil
}

// reportCommand handles run history reporting
func reportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Inspect and export recorded copy runs",
		Commands: []*cli.Command{
			{
				Name:  "runs",
				Usage: "List recorded copy runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum runs to list",
						Value: 20,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output as JSON",
					},
				},
				Action: r.ReportRuns,
			},
			{
				Name:  "mapping",
				Usage: "Export a run's scan mapping as CSV",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "run",
						Usage:    "Run ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output CSV path (defaults to a timestamped name)",
					},
				},
				Action: r.ReportMapping,
			},
		},
	}
}
