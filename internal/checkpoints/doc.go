// Package checkpoints persists run progress so an interrupted copy run can
// resume without redoing completed batches.
//
// A checkpoint file is a strict JSON document with required fields
// completed_batches, scan_mapping, and failed_scans. Saves go through a
// temporary file followed by an atomic rename, so the on-disk file is always
// either the previous or the new complete state. A document missing required
// fields or failing to parse is reported as [shared.ErrCorruptCheckpoint];
// partial data is never silently discarded.
//
// Files are named checkpoint_<timestamp>.json, one per run. Discover lists
// candidates newest-first; when more than one exists the choice is left to
// the caller rather than merged.
package checkpoints
