package models

// Checkpoint is the durable record of run progress. CompletedBatches only
// grows; every number in it refers to a batch that fully succeeded or
// exhausted its retry budget. Mapping holds the successfully created scans in
// completion order.
type Checkpoint struct {
	CompletedBatches []int         `json:"completed_batches"`
	Mapping          []ScanMapping `json:"scan_mapping"`
	FailedScans      int           `json:"failed_scans"`
}

// NewCheckpoint returns an empty checkpoint for a fresh run.
func NewCheckpoint() *Checkpoint {
	return &Checkpoint{
		CompletedBatches: []int{},
		Mapping:          []ScanMapping{},
	}
}

// IsCompleted reports whether the batch number has reached a terminal state.
func (c *Checkpoint) IsCompleted(batchNumber int) bool {
	for _, n := range c.CompletedBatches {
		if n == batchNumber {
			return true
		}
	}
	return false
}

// MarkCompleted records a terminal batch along with its newly created
// mappings and failure count. Calling it twice for the same batch is a no-op
// for the completed set but callers are expected not to.
func (c *Checkpoint) MarkCompleted(batchNumber int, mappings []ScanMapping, failed int) {
	if !c.IsCompleted(batchNumber) {
		c.CompletedBatches = append(c.CompletedBatches, batchNumber)
	}
	c.Mapping = append(c.Mapping, mappings...)
	c.FailedScans += failed
}

// NextBatch returns the lowest batch number in [1, totalBatches] that is not
// yet completed, or 0 when every batch is done.
func (c *Checkpoint) NextBatch(totalBatches int) int {
	for n := 1; n <= totalBatches; n++ {
		if !c.IsCompleted(n) {
			return n
		}
	}
	return 0
}
