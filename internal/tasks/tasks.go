package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/scanx/internal/checkpoints"
	"github.com/desertthunder/scanx/internal/models"
	"github.com/desertthunder/scanx/internal/services"
	"github.com/desertthunder/scanx/internal/shared"
)

// RunOpts contains per-run inputs for a copy operation.
type RunOpts struct {
	Scans          []models.ScanID
	TargetStoreID  int64
	CapturedAt     int64
	CheckpointPath string
	// Checkpoint seeds the run with prior progress; nil starts fresh.
	Checkpoint *models.Checkpoint
}

// CopyRunResult contains all data from a full copy run.
type CopyRunResult struct {
	TotalScans     int                  // Scans in the input list
	Succeeded      int                  // Scans copied across all batches (including resumed ones)
	Failed         int                  // Scans that exhausted their retry budget
	Mapping        []models.ScanMapping // Accumulated source → target mapping
	Checkpoint     *models.Checkpoint   // Final checkpoint state
	CheckpointPath string               // Where progress was persisted
	TotalBatches   int
	SkippedBatches int // Batches already completed by a resumed checkpoint
}

// FullyCompleted reports whether every scan was copied, which allows
// checkpoint cleanup.
func (r *CopyRunResult) FullyCompleted() bool {
	return r.Failed == 0 && r.Succeeded == r.TotalScans
}

// Engine defines the copy operations between retail instances.
type Engine interface {
	// Run copies the given scans from source to target in checkpointed batches.
	Run(ctx context.Context, progress chan<- ProgressUpdate, opts RunOpts) (*CopyRunResult, error)

	// DownloadImages bulk-downloads scan images from the source instance.
	DownloadImages(ctx context.Context, progress chan<- ProgressUpdate, ids []models.ScanID, outDir string) (*ImageDownloadResult, error)
}

// CopyEngine implements Engine. Batches are processed sequentially so the
// checkpoint file has a single writer; parallelism lives inside each stage.
type CopyEngine struct {
	source services.SourceService
	target services.TargetService
	config *shared.Config
	logger *log.Logger

	// sleep is injected so retry backoff is testable without real waiting.
	sleep func(ctx context.Context, d time.Duration) error
	// batchBudget overrides the configured per-batch budget when positive.
	batchBudget time.Duration
}

// NewCopyEngine creates a CopyEngine with the provided services and config.
func NewCopyEngine(source services.SourceService, target services.TargetService, config *shared.Config, logger *log.Logger) *CopyEngine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &CopyEngine{
		source: source,
		target: target,
		config: config,
		logger: logger,
		sleep:  sleepContext,
	}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *CopyEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Run copies the given scans from source to target in checkpointed batches.
// Cancellation suppresses further batches; the last persisted checkpoint
// stays valid for a later resume. The returned result is populated even when
// an error is also returned.
func (e *CopyEngine) Run(ctx context.Context, progress chan<- ProgressUpdate, opts RunOpts) (*CopyRunResult, error) {
	if e.source == nil || e.target == nil {
		return nil, fmt.Errorf("%w: source and target services required", shared.ErrServiceUnavailable)
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	batches, err := Plan(opts.Scans, e.config.Copy.BatchSize)
	if err != nil {
		return nil, err
	}

	cp := opts.Checkpoint
	if cp == nil {
		cp = models.NewCheckpoint()
	}

	result := &CopyRunResult{
		TotalScans:     len(opts.Scans),
		CheckpointPath: opts.CheckpointPath,
		Checkpoint:     cp,
		TotalBatches:   len(batches),
	}

	e.sendProgress(progress, fetchInfoUpdate(len(opts.Scans)))
	infoList, err := e.source.GetScanInfo(ctx, opts.Scans)
	if err != nil {
		return result, fmt.Errorf("failed to fetch scan info: %w", err)
	}
	infos := make(map[models.ScanID]models.ScanInfo, len(infoList))
	for _, info := range infoList {
		infos[info.ID] = info
	}

	for _, batch := range batches {
		if cp.IsCompleted(batch.Number) {
			result.SkippedBatches++
			e.sendProgress(progress, batchSkipUpdate(batch))
			continue
		}
		if ctx.Err() != nil {
			break
		}

		e.sendProgress(progress, batchStartUpdate(batch))
		e.logger.Info("starting batch", "batch", batch.Number, "total", batch.TotalBatches, "scans", len(batch.Scans))

		outcome, err := e.runBatch(ctx, progress, batch, infos, opts)
		if err != nil {
			// Run-level cancellation: the in-flight batch is not checkpointed.
			e.logger.Warn("batch interrupted", "batch", batch.Number, "error", err)
			e.finishResult(result, cp)
			e.sendProgress(progress, runDoneUpdate(result))
			return result, err
		}

		cp.MarkCompleted(batch.Number, outcome.mappings, outcome.failed)
		if opts.CheckpointPath != "" {
			if err := checkpoints.Save(cp, opts.CheckpointPath); err != nil {
				e.finishResult(result, cp)
				return result, fmt.Errorf("failed to persist checkpoint after batch %d: %w", batch.Number, err)
			}
		}

		e.logger.Info("batch finished", "batch", batch.Number, "state", outcome.state.String(), "success", len(outcome.mappings), "failed", outcome.failed)
		e.sendProgress(progress, batchDoneUpdate(batch, outcome.state, len(outcome.mappings), outcome.failed))
	}

	e.finishResult(result, cp)
	e.sendProgress(progress, runDoneUpdate(result))
	return result, nil
}

func (e *CopyEngine) finishResult(result *CopyRunResult, cp *models.Checkpoint) {
	result.Mapping = cp.Mapping
	result.Succeeded = len(cp.Mapping)
	result.Failed = cp.FailedScans
}

// batchOutcome is a batch's terminal summary.
type batchOutcome struct {
	state    models.BatchState
	mappings []models.ScanMapping
	failed   int
}

// runBatch drives one batch through the retry loop under the batch's
// wall-clock budget. It only returns an error for run-level cancellation;
// exhausting the budget or the retry policy yields a terminal outcome.
func (e *CopyEngine) runBatch(ctx context.Context, progress chan<- ProgressUpdate, batch models.Batch, infos map[models.ScanID]models.ScanInfo, opts RunOpts) (batchOutcome, error) {
	budget := e.config.Copy.BatchTimeout()
	if e.batchBudget > 0 {
		budget = e.batchBudget
	}
	bctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	run := newBatchRun(infos)
	scope := batch.Scans
	thresholds := Thresholds{
		Download: e.config.Copy.DownloadThreshold,
		Upload:   e.config.Copy.UploadThreshold,
		Create:   e.config.Copy.CreateThreshold,
	}

	for attempt := 1; ; attempt++ {
		results := e.runAttempt(bctx, progress, batch, run, scope, opts)

		if ctx.Err() != nil {
			return batchOutcome{}, fmt.Errorf("%w: batch %d interrupted", shared.ErrCancelled, batch.Number)
		}
		if bctx.Err() != nil {
			e.logger.Warn("batch time budget exceeded, aborting", "batch", batch.Number, "attempt", attempt)
			return run.outcome(batch), nil
		}

		decision := EvaluateRetry(results, attempt, e.config.Copy.MaxRetries, e.config.Copy.BaseDelay(), thresholds)
		switch decision.Action {
		case ActionRetry:
			failed := run.pendingScans(batch)
			e.logger.Warn("batch below threshold, retrying",
				"batch", batch.Number, "attempt", attempt, "stages", decision.Candidates, "delay", decision.Delay, "failed", len(failed))
			e.sendProgress(progress, batchRetryUpdate(batch, attempt, e.config.Copy.MaxRetries, decision.Delay, len(failed)))
			if err := e.sleep(bctx, decision.Delay); err != nil {
				// Budget or cancellation hit during backoff; resolved at loop top.
				continue
			}
			scope = failed
		default:
			return run.outcome(batch), nil
		}
	}
}

// runAttempt runs the three-stage pipeline once over the given scope.
// Stages are sequential; each scan only advances to a stage once the prior
// one succeeded for it, on this or an earlier attempt.
func (e *CopyEngine) runAttempt(ctx context.Context, progress chan<- ProgressUpdate, batch models.Batch, run *batchRun, scope []models.ScanID, opts RunOpts) StageResults {
	cfg := e.config

	var dlTasks []StageTask
	for _, id := range scope {
		if run.hasFiles(id) {
			continue
		}
		dlTasks = append(dlTasks, StageTask{Scan: id, Run: e.downloadTask(run, id)})
	}
	dl := runStage(ctx, models.StageDownload, dlTasks, cfg.Copy.DownloadWorkers, cfg.Timeouts.Download(),
		e.notifier(progress, batch, models.StageDownload, len(dlTasks)))
	e.logFailures(batch, dl)

	var upTasks []StageTask
	for _, id := range scope {
		if !run.hasFiles(id) || run.hasUploads(id) {
			continue
		}
		upTasks = append(upTasks, StageTask{Scan: id, Run: e.uploadTask(run, id)})
	}
	up := runStage(ctx, models.StageUpload, upTasks, cfg.Copy.UploadWorkers, cfg.Timeouts.Upload(),
		e.notifier(progress, batch, models.StageUpload, len(upTasks)))
	e.logFailures(batch, up)

	var crTasks []StageTask
	for _, id := range scope {
		if !run.hasUploads(id) || run.isCreated(id) {
			continue
		}
		crTasks = append(crTasks, StageTask{Scan: id, Run: e.createTask(run, id, opts)})
	}
	cr := runStage(ctx, models.StageCreate, crTasks, cfg.Copy.CreateWorkers, cfg.Timeouts.Create(),
		e.notifier(progress, batch, models.StageCreate, len(crTasks)))
	e.logFailures(batch, cr)

	return StageResults{Download: dl, Upload: up, Create: cr}
}

func (e *CopyEngine) logFailures(batch models.Batch, result models.StageResult) {
	for scan, err := range result.Failed {
		e.logger.Error("stage failure", "batch", batch.Number, "stage", result.Stage.String(), "scan", scan, "error", err)
	}
}

// notifier serializes stage progress into the update channel.
func (e *CopyEngine) notifier(progress chan<- ProgressUpdate, batch models.Batch, stage models.Stage, attempted int) func(int, models.ScanID, error) {
	return func(completed int, scan models.ScanID, err error) {
		e.sendProgress(progress, stageProgressUpdate(batch, stage, completed, attempted, scan, err))
	}
}

// downloadTask fetches every file attached to the scan. Scans without files
// complete trivially, matching the original pipeline which skips straight to
// creation for them.
func (e *CopyEngine) downloadTask(run *batchRun, id models.ScanID) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		info, ok := run.info(id)
		if !ok {
			return fmt.Errorf("%w: no source info for scan %d", shared.ErrScanNotFound, id)
		}

		blobs := make([]*models.FileBlob, 0, len(info.Files))
		for _, ref := range info.Files {
			blob, err := e.source.DownloadFile(ctx, ref.FileID)
			if err != nil {
				return err
			}
			blobs = append(blobs, blob)
		}

		run.setFiles(id, blobs)
		return nil
	}
}

// uploadTask pushes the scan's downloaded files to the target instance.
func (e *CopyEngine) uploadTask(run *batchRun, id models.ScanID) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		blobs := run.filesFor(id)

		uploaded := make([]string, 0, len(blobs))
		for _, blob := range blobs {
			targetID, err := e.target.UploadFile(ctx, blob)
			if err != nil {
				return err
			}
			uploaded = append(uploaded, targetID)
		}

		run.setUploads(id, uploaded)
		return nil
	}
}

// createTask creates the scan on the target and records the ID mapping.
func (e *CopyEngine) createTask(run *batchRun, id models.ScanID, opts RunOpts) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		info, _ := run.info(id)
		payload, err := buildCreatePayload(info, run.uploadsFor(id), opts)
		if err != nil {
			return err
		}

		targetID, err := e.target.CreateScan(ctx, payload)
		if err != nil {
			return err
		}

		run.setCreated(id, targetID)
		return nil
	}
}

// buildCreatePayload clones the source scan's provided values and rewrites
// store, files, and captured_at for the target instance.
func buildCreatePayload(info models.ScanInfo, uploads []string, opts RunOpts) (*models.ScanCreateRequest, error) {
	if len(info.ProvidedValues) == 0 {
		return nil, fmt.Errorf("%w: scan %d has no provided values", shared.ErrInvalidInput, info.ID)
	}

	var provided map[string]any
	if err := json.Unmarshal(info.ProvidedValues, &provided); err != nil {
		return nil, fmt.Errorf("scan %d has malformed provided values: %w", info.ID, err)
	}

	data := provided
	if raw, ok := provided["_raw_data"].(map[string]any); ok {
		data = raw
	}

	clone := make(map[string]any, len(data)+3)
	for k, v := range data {
		clone[k] = v
	}
	clone["store"] = opts.TargetStoreID
	clone["files"] = uploads
	clone["captured_at"] = opts.CapturedAt

	return &models.ScanCreateRequest{SourceScan: info.ID, RawData: clone}, nil
}

// batchRun accumulates per-scan progress across a batch's retry attempts so
// retries only redo the stages that failed for each scan.
type batchRun struct {
	mu      sync.Mutex
	infos   map[models.ScanID]models.ScanInfo
	files   map[models.ScanID][]*models.FileBlob
	uploads map[models.ScanID][]string
	created map[models.ScanID]models.ScanID
	order   []models.ScanID // creation order for the mapping
}

func newBatchRun(infos map[models.ScanID]models.ScanInfo) *batchRun {
	return &batchRun{
		infos:   infos,
		files:   make(map[models.ScanID][]*models.FileBlob),
		uploads: make(map[models.ScanID][]string),
		created: make(map[models.ScanID]models.ScanID),
	}
}

func (r *batchRun) info(id models.ScanID) (models.ScanInfo, bool) {
	info, ok := r.infos[id]
	return info, ok
}

func (r *batchRun) hasFiles(id models.ScanID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.files[id]
	return ok
}

func (r *batchRun) filesFor(id models.ScanID) []*models.FileBlob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files[id]
}

func (r *batchRun) setFiles(id models.ScanID, blobs []*models.FileBlob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[id] = blobs
}

func (r *batchRun) hasUploads(id models.ScanID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.uploads[id]
	return ok
}

func (r *batchRun) uploadsFor(id models.ScanID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uploads[id]
}

func (r *batchRun) setUploads(id models.ScanID, uploaded []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads[id] = uploaded
}

func (r *batchRun) isCreated(id models.ScanID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.created[id]
	return ok
}

func (r *batchRun) setCreated(id, targetID models.ScanID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created[id] = targetID
	r.order = append(r.order, id)
}

// pendingScans returns batch scans that have not yet been created, in batch
// order. These are the retry scope for the next attempt.
func (r *batchRun) pendingScans(batch models.Batch) []models.ScanID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []models.ScanID
	for _, id := range batch.Scans {
		if _, ok := r.created[id]; !ok {
			pending = append(pending, id)
		}
	}
	return pending
}

// outcome summarizes the batch once its retry loop ends. Every scan without
// a created target counts as failed.
func (r *batchRun) outcome(batch models.Batch) batchOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	mappings := make([]models.ScanMapping, 0, len(r.order))
	for _, id := range r.order {
		mappings = append(mappings, models.ScanMapping{SourceScanID: id, TargetScanID: r.created[id]})
	}

	failed := len(batch.Scans) - len(mappings)
	state := models.BatchCompleted
	if failed > 0 {
		state = models.BatchPartiallyFailed
	}
	return batchOutcome{state: state, mappings: mappings, failed: failed}
}

// sleepContext waits for d or until the context ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
