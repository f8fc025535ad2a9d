// Package ui implements a live copy-run dashboard using bubbletea's Elm architecture.
//
// The TUI renders one copy run end to end:
//  1. [RunningView] : Batch and stage progress with a progress bar and spinner
//  2. [ResultView] : Final totals, failed scan count, and checkpoint location
//
// The [Model] implements bubbletea's standard Init/Update/View pattern.
// Progress updates flow through a channel from the CopyEngine, providing
// non-blocking status reporting while batches execute.
package ui
