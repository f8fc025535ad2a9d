package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/desertthunder/scanx/internal/models"
	"github.com/desertthunder/scanx/internal/shared"
)

// rawCheckpoint mirrors the persisted schema with pointer fields so missing
// required keys are distinguishable from zero values.
type rawCheckpoint struct {
	CompletedBatches *[]int                `json:"completed_batches"`
	Mapping          *[]models.ScanMapping `json:"scan_mapping"`
	FailedScans      *int                  `json:"failed_scans"`
}

// Filename returns a fresh run-scoped checkpoint filename.
func Filename(now time.Time) string {
	return fmt.Sprintf("checkpoint_%s.json", now.Format("20060102_150405"))
}

// Load reads a checkpoint from path. A missing file yields an empty
// checkpoint; malformed or incomplete content fails with
// [shared.ErrCorruptCheckpoint].
func Load(path string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return models.NewCheckpoint(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}

	var raw rawCheckpoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrCorruptCheckpoint, path, err)
	}
	if raw.CompletedBatches == nil || raw.Mapping == nil || raw.FailedScans == nil {
		return nil, fmt.Errorf("%w: %s: missing required fields", shared.ErrCorruptCheckpoint, path)
	}

	return &models.Checkpoint{
		CompletedBatches: *raw.CompletedBatches,
		Mapping:          *raw.Mapping,
		FailedScans:      *raw.FailedScans,
	}, nil
}

// Save writes the checkpoint to path via a temporary file and an atomic
// rename.
func Save(cp *models.Checkpoint, path string) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace checkpoint %s: %w", path, err)
	}

	return nil
}

// Remove deletes the checkpoint file. Missing files are not an error, so a
// fully successful run can always clean up.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint %s: %w", path, err)
	}
	return nil
}
