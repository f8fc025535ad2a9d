package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/scanx/internal/models"
)

// ProgressUpdate represents a progress event during a copy run.
//
// Used to send real-time updates to the CLI or UI layer for display.
// Formatting is the consumer's concern; the Message field is a convenience.
type ProgressUpdate struct {
	Phase   Phase        // Operation phase
	Batch   int          // Batch number (0 when not batch-scoped)
	Total   int          // Total batches
	Stage   models.Stage // Stage for stage-scoped updates
	Step    int          // Completed units within the stage
	Steps   int          // Attempted units within the stage
	Message string       // Human-readable message for display
	Data    any          // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	FetchInfo Phase = iota
	BatchStart
	BatchSkip
	StageProgress
	BatchRetry
	BatchDone
	RunDone
)

func (p Phase) String() string {
	switch p {
	case FetchInfo:
		return "fetch_info"
	case BatchStart:
		return "batch_start"
	case BatchSkip:
		return "batch_skip"
	case StageProgress:
		return "stage_progress"
	case BatchRetry:
		return "batch_retry"
	case BatchDone:
		return "batch_done"
	case RunDone:
		return "run_done"
	default:
		return ""
	}
}

func fetchInfoUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchInfo,
		Message: fmt.Sprintf("Fetching info for %d scans...", count),
	}
}

func batchStartUpdate(b models.Batch) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BatchStart,
		Batch:   b.Number,
		Total:   b.TotalBatches,
		Message: fmt.Sprintf("[BATCH %d/%d] Starting with scans %v", b.Number, b.TotalBatches, b.Scans),
		Data:    b.Scans,
	}
}

func batchSkipUpdate(b models.Batch) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BatchSkip,
		Batch:   b.Number,
		Total:   b.TotalBatches,
		Message: fmt.Sprintf("[BATCH %d/%d] Already completed, skipping", b.Number, b.TotalBatches),
	}
}

func stageProgressUpdate(b models.Batch, stage models.Stage, completed, attempted int, scan models.ScanID, err error) ProgressUpdate {
	pct := 0
	if attempted > 0 {
		pct = completed * 100 / attempted
	}
	msg := fmt.Sprintf("[BATCH %d] [%s] %d/%d (%d%%)", b.Number, stage, completed, attempted, pct)
	if err != nil {
		msg = fmt.Sprintf("[BATCH %d] [%s] scan %d failed: %v", b.Number, stage, scan, err)
	}
	return ProgressUpdate{
		Phase:   StageProgress,
		Batch:   b.Number,
		Total:   b.TotalBatches,
		Stage:   stage,
		Step:    completed,
		Steps:   attempted,
		Message: msg,
		Data:    scan,
	}
}

func batchRetryUpdate(b models.Batch, attempt, maxRetries int, delay time.Duration, failed int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BatchRetry,
		Batch:   b.Number,
		Total:   b.TotalBatches,
		Message: fmt.Sprintf("[BATCH %d] Retry %d/%d for %d failed scans in %s", b.Number, attempt, maxRetries, failed, delay),
	}
}

func batchDoneUpdate(b models.Batch, state models.BatchState, succeeded, failed int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BatchDone,
		Batch:   b.Number,
		Total:   b.TotalBatches,
		Step:    succeeded,
		Steps:   succeeded + failed,
		Message: fmt.Sprintf("[BATCH %d/%d] %s (success: %d, failed: %d)", b.Number, b.TotalBatches, state, succeeded, failed),
		Data:    state,
	}
}

func runDoneUpdate(result *CopyRunResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RunDone,
		Message: fmt.Sprintf("Run finished: %d copied, %d failed", result.Succeeded, result.Failed),
		Data:    result,
	}
}
