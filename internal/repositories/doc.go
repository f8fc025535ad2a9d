// Package repositories provides the SQLite persistence layer for run history.
//
// Every copy run is recorded in the runs table with its configuration
// snapshot and final totals; the accumulated scan mapping is stored in
// run_mappings so past runs can be re-exported as CSV without rerunning the
// copy. Schema management lives in shared's embedded migrations.
package repositories
