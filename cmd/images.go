package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/scanx/internal/shared"
	"github.com/desertthunder/scanx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// ImagesDownload bulk-downloads scan images from the source instance.
func (r *Runner) ImagesDownload(ctx context.Context, cmd *cli.Command) error {
	if r.source == nil {
		return fmt.Errorf("%w: source instance not configured", shared.ErrServiceUnavailable)
	}

	ids, err := parseScanIDs(cmd.String("scans"), cmd.String("scans-file"))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: no scan IDs provided", shared.ErrMissingArgument)
	}

	outDir := cmd.String("out")

	r.logger.Info("downloading scan images", "source", r.source.Name(), "scans", len(ids), "out", outDir)
	r.writePlain("Downloading images for %d scans to %s\n\n", len(ids), outDir)

	if err := r.source.Authenticate(ctx); err != nil {
		return fmt.Errorf("source authentication failed: %w", err)
	}

	progressCh := make(chan tasks.ProgressUpdate, 50)
	go func() {
		for update := range progressCh {
			r.writePlain("   %s\n", update.Message)
		}
	}()

	result, err := r.engine.DownloadImages(ctx, progressCh, ids, outDir)
	close(progressCh)
	if err != nil {
		return err
	}

	r.writePlain("\n")
	r.writePlainHeader("Image Download")
	r.writePlain("Images: %d\n", result.Total)
	r.writePlain("Saved: %d\n", result.Saved)
	if result.Failed > 0 {
		r.writePlain("Failed: %d\n", result.Failed)
	}
	r.writePlain("Directory: %s\n", result.OutputDir)

	return nil
}

// imagesCommand handles bulk image operations
func imagesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "images",
		Usage: "Bulk image operations against the source instance",
		Commands: []*cli.Command{
			{
				Name:  "download",
				Usage: "Download scan images to a local directory",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "scans",
						Usage: "Comma-separated scan IDs",
					},
					&cli.StringFlag{
						Name:  "scans-file",
						Usage: "File with one scan ID per line",
					},
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output directory",
						Value:   "./images",
					},
				},
				Action: r.ImagesDownload,
			},
		},
	}
}
