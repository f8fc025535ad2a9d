package tasks

import (
	"time"

	"github.com/desertthunder/scanx/internal/models"
)

// RetryAction is the batch-level decision after one attempt.
type RetryAction int

const (
	ActionProceed RetryAction = iota
	ActionRetry
	ActionAbort
)

func (a RetryAction) String() string {
	switch a {
	case ActionProceed:
		return "proceed"
	case ActionRetry:
		return "retry"
	case ActionAbort:
		return "abort"
	default:
		return ""
	}
}

// RetryScope says which scans are re-submitted on the next attempt. Only
// failed-items retry is produced; whole-batch exists for completeness of the
// decision contract.
type RetryScope int

const (
	ScopeFailedOnly RetryScope = iota
	ScopeWholeBatch
)

// RetryDecision is produced fresh per attempt evaluation; never persisted.
type RetryDecision struct {
	Action RetryAction
	Delay  time.Duration
	Scope  RetryScope
	// Candidates lists the stages whose success rate tripped a threshold.
	Candidates []models.Stage
}

// Thresholds are minimum per-stage success rates before a batch attempt is a
// retry candidate.
type Thresholds struct {
	Download float64
	Upload   float64
	Create   float64
}

// StageResults groups one attempt's three stage outcomes.
type StageResults struct {
	Download models.StageResult
	Upload   models.StageResult
	Create   models.StageResult
}

// EvaluateRetry is the stateless batch retry policy. Attempt numbers are
// 1-based: with maxRetries = 3, attempts 1 and 2 may retry and attempt 3
// aborts if any stage still trips its threshold. The backoff delay scales
// linearly with the attempt number. A stage that attempted nothing passes
// vacuously.
func EvaluateRetry(results StageResults, attempt, maxRetries int, baseDelay time.Duration, th Thresholds) RetryDecision {
	var candidates []models.Stage
	for _, check := range []struct {
		result    models.StageResult
		threshold float64
	}{
		{results.Download, th.Download},
		{results.Upload, th.Upload},
		{results.Create, th.Create},
	} {
		if check.result.SuccessRate() < check.threshold {
			candidates = append(candidates, check.result.Stage)
		}
	}

	if len(candidates) == 0 {
		return RetryDecision{Action: ActionProceed}
	}
	if attempt < maxRetries {
		return RetryDecision{
			Action:     ActionRetry,
			Delay:      baseDelay * time.Duration(attempt),
			Scope:      ScopeFailedOnly,
			Candidates: candidates,
		}
	}
	return RetryDecision{Action: ActionAbort, Candidates: candidates}
}
