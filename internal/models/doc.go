// Package models defines domain entities for the scanx migration service.
//
// The package contains three categories of types:
//
// 1. Scan DTOs: Lightweight structs representing retail instance data
//   - [ScanInfo] : Scan metadata with associated file references
//   - [ScanFile] : A single file reference attached to a scan
//   - [FileBlob] : Downloaded file content with its original filename
//   - [ScanCreateRequest] : Payload for creating a scan on the target instance
//
// 2. Batch pipeline types: The unit-of-work model for the copy engine
//   - [Batch] : Fixed-size, ordered subset of scan IDs processed as one retryable unit
//   - [StageResult] : Aggregate outcome of one stage execution within a batch attempt
//   - [BatchState] : Per-batch state machine position
//
// 3. Progress types: Durable run progress
//   - [Checkpoint] : Completed batches, accumulated ID mapping, and failure tally
//   - [ScanMapping] : One (source, target) scan ID pair
//
// Work units (one scan in one stage attempt) live only inside the worker pool;
// once a stage finishes, only the [StageResult] aggregate survives.
package models
