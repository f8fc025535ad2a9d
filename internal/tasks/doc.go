// Package tasks orchestrates scan copying between retail instances with real-time progress reporting.
//
// # Core Operations
//
// The [Engine] interface defines two operations:
//
//  1. [Engine.Run] : Full source → target scan copy
//     - Plans fixed-size batches over the input ID list
//     - Drives each batch through download → upload → create stages with
//       bounded worker pools (per-stage concurrency limits and task timeouts)
//     - Applies the batch retry policy between attempts; retries re-submit
//       only the scans that failed, resuming each from its failed stage
//     - Persists a checkpoint after every terminal batch so interrupted runs
//       resume without redoing completed work
//
//  2. [Engine.DownloadImages] : Bulk image download
//     - Fetches scan images through the same worker pool
//     - Names files per the scan image filename contract
//
// # Batch Lifecycle
//
// Pending → Downloading → Uploading → Creating → Evaluating →
// {Retrying → Downloading, Completed, PartiallyFailed}. Both terminal states
// add the batch to the checkpoint's completed set; a partially failed batch
// never halts the run. A wall-clock budget bounds each batch's whole retry
// loop; exceeding it forces an abort with the remaining scans failed.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates. The
// [ProgressUpdate] struct contains phase, batch and stage counters, messages,
// and optional data for advanced UI rendering. Updates use select with
// default to prevent blocking.
//
// # Implementation
//
// [CopyEngine] implements [Engine] with dependencies on:
//   - [services.SourceService] / [services.TargetService] : instance clients
//   - [checkpoints] : durable progress persistence
package tasks
