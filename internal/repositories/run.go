package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/scanx/internal/models"
)

// Run statuses recorded in the runs table.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusAborted   = "aborted"
)

// Run is one recorded copy run.
type Run struct {
	ID             string
	SourceInstance string
	TargetInstance string
	TargetStoreID  int64
	BatchSize      int
	TotalScans     int
	SucceededScans int
	FailedScans    int
	Status         string
	CheckpointPath string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// RunRepository persists runs and their scan mappings.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a repository backed by the given database.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run in the running state.
func (r *RunRepository) Create(run *Run) error {
	_, err := r.db.Exec(`
		INSERT INTO runs (id, source_instance, target_instance, target_store_id, batch_size, total_scans, status, checkpoint_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SourceInstance, run.TargetInstance, run.TargetStoreID,
		run.BatchSize, run.TotalScans, RunStatusRunning, run.CheckpointPath,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Finish records a run's terminal totals and status.
func (r *RunRepository) Finish(runID string, succeeded, failed int, status string) error {
	result, err := r.db.Exec(`
		UPDATE runs SET succeeded_scans = ?, failed_scans = ?, status = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		succeeded, failed, status, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finish result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// AddMappings appends scan mappings to a run in one transaction.
func (r *RunRepository) AddMappings(runID string, mappings []models.ScanMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO run_mappings (run_id, source_scan_id, target_scan_id) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare mapping insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range mappings {
		if _, err := stmt.Exec(runID, int64(m.SourceScanID), int64(m.TargetScanID)); err != nil {
			return fmt.Errorf("failed to insert mapping %d -> %d: %w", m.SourceScanID, m.TargetScanID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mappings: %w", err)
	}
	return nil
}

// Get retrieves one run by ID.
func (r *RunRepository) Get(runID string) (*Run, error) {
	row := r.db.QueryRow(`
		SELECT id, source_instance, target_instance, target_store_id, batch_size,
		       total_scans, succeeded_scans, failed_scans, status, checkpoint_path, started_at, finished_at
		FROM runs WHERE id = ?`, runID)

	var run Run
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.SourceInstance, &run.TargetInstance, &run.TargetStoreID, &run.BatchSize,
		&run.TotalScans, &run.SucceededScans, &run.FailedScans, &run.Status, &run.CheckpointPath, &run.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

// List retrieves the most recent runs, newest first.
func (r *RunRepository) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(`
		SELECT id, source_instance, target_instance, target_store_id, batch_size,
		       total_scans, succeeded_scans, failed_scans, status, checkpoint_path, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.SourceInstance, &run.TargetInstance, &run.TargetStoreID, &run.BatchSize,
			&run.TotalScans, &run.SucceededScans, &run.FailedScans, &run.Status, &run.CheckpointPath, &run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Mappings retrieves a run's scan mapping in insertion order.
func (r *RunRepository) Mappings(runID string) ([]models.ScanMapping, error) {
	rows, err := r.db.Query(
		"SELECT source_scan_id, target_scan_id FROM run_mappings WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var mappings []models.ScanMapping
	for rows.Next() {
		var source, target int64
		if err := rows.Scan(&source, &target); err != nil {
			return nil, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		mappings = append(mappings, models.ScanMapping{
			SourceScanID: models.ScanID(source),
			TargetScanID: models.ScanID(target),
		})
	}
	return mappings, rows.Err()
}
