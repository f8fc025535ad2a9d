package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/desertthunder/scanx/internal/formatter"
	"github.com/desertthunder/scanx/internal/models"
	"github.com/desertthunder/scanx/internal/shared"
)

// ImageDownloadResult summarizes a bulk image download.
type ImageDownloadResult struct {
	OutputDir string
	Total     int
	Saved     int
	Failed    int
	Files     []string
}

// DownloadImages bulk-downloads the images of the given scans into outDir
// through the bounded worker pool, naming files per the scan image contract.
func (e *CopyEngine) DownloadImages(ctx context.Context, progress chan<- ProgressUpdate, ids []models.ScanID, outDir string) (*ImageDownloadResult, error) {
	if e.source == nil {
		return nil, fmt.Errorf("%w: source service required", shared.ErrServiceUnavailable)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	e.sendProgress(progress, fetchInfoUpdate(len(ids)))
	infos, err := e.source.GetScanInfo(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch scan info: %w", err)
	}

	result := &ImageDownloadResult{OutputDir: outDir}
	var mu sync.Mutex

	var tasks []StageTask
	for _, info := range infos {
		info := info
		result.Total += len(info.Files)
		tasks = append(tasks, StageTask{
			Scan: info.ID,
			Run: func(ctx context.Context) error {
				for _, ref := range info.Files {
					blob, err := e.source.DownloadFile(ctx, ref.FileID)
					if err != nil {
						return err
					}

					name := formatter.ImageFilename(info.ID, info.SectionName, info.StorePogID, blob.Filename)
					path := filepath.Join(outDir, name)
					if err := os.WriteFile(path, blob.Content, 0644); err != nil {
						return fmt.Errorf("failed to write %s: %w", path, err)
					}

					mu.Lock()
					result.Files = append(result.Files, path)
					result.Saved++
					mu.Unlock()
				}
				return nil
			},
		})
	}

	batch := models.Batch{Number: 1, TotalBatches: 1, Scans: ids}
	stage := runStage(ctx, models.StageDownload, tasks, e.config.Copy.DownloadWorkers, e.config.Timeouts.Download(),
		e.notifier(progress, batch, models.StageDownload, len(tasks)))

	result.Failed = result.Total - result.Saved
	for scan, err := range stage.Failed {
		e.logger.Error("image download failure", "scan", scan, "error", err)
	}

	return result, nil
}
