package models

// Batch is a contiguous slice of the input scan ID list, processed as one
// retryable unit. Batches are never mutated after planning.
type Batch struct {
	Number       int    // 1-based ordinal
	Scans        []ScanID
	TotalBatches int
}

// Stage is one of the three homogeneous operations applied to a batch.
type Stage int

const (
	StageDownload Stage = iota
	StageUpload
	StageCreate
)

func (s Stage) String() string {
	switch s {
	case StageDownload:
		return "download"
	case StageUpload:
		return "upload"
	case StageCreate:
		return "create"
	default:
		return ""
	}
}

// StageResult aggregates the outcome of one stage execution within a batch
// attempt. Failed maps each failed scan ID to its cause.
type StageResult struct {
	Stage     Stage
	Attempted int
	Succeeded int
	Failed    map[ScanID]error
}

// FailedScans returns the failed scan IDs in unspecified order.
func (r StageResult) FailedScans() []ScanID {
	ids := make([]ScanID, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	return ids
}

// SuccessRate is succeeded/attempted, vacuously 1.0 when nothing was attempted.
func (r StageResult) SuccessRate() float64 {
	if r.Attempted == 0 {
		return 1.0
	}
	return float64(r.Succeeded) / float64(r.Attempted)
}

// BatchState tracks a batch through the copy pipeline.
type BatchState int

const (
	BatchPending BatchState = iota
	BatchDownloading
	BatchUploading
	BatchCreating
	BatchEvaluating
	BatchRetrying
	BatchCompleted
	BatchPartiallyFailed
)

func (s BatchState) String() string {
	switch s {
	case BatchPending:
		return "pending"
	case BatchDownloading:
		return "downloading"
	case BatchUploading:
		return "uploading"
	case BatchCreating:
		return "creating"
	case BatchEvaluating:
		return "evaluating"
	case BatchRetrying:
		return "retrying"
	case BatchCompleted:
		return "completed"
	case BatchPartiallyFailed:
		return "partially_failed"
	default:
		return ""
	}
}

// Terminal reports whether the state ends the batch's lifecycle. Both
// terminal states add the batch to the checkpoint's completed set.
func (s BatchState) Terminal() bool {
	return s == BatchCompleted || s == BatchPartiallyFailed
}
