package tasks

import (
	"fmt"

	"github.com/desertthunder/scanx/internal/models"
	"github.com/desertthunder/scanx/internal/shared"
)

// Plan partitions an ordered scan ID list into contiguous, non-overlapping
// batches of at most batchSize, stamping every batch with the total count.
// Concatenating the batches' scans reproduces the input exactly. An empty
// input yields zero batches.
func Plan(ids []models.ScanID, batchSize int) ([]models.Batch, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be >= 1, got %d", shared.ErrInvalidArgument, batchSize)
	}

	total := (len(ids) + batchSize - 1) / batchSize
	batches := make([]models.Batch, 0, total)

	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, models.Batch{
			Number:       len(batches) + 1,
			Scans:        ids[start:end],
			TotalBatches: total,
		})
	}

	return batches, nil
}
