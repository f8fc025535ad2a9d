package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/scanx/internal/models"
	"github.com/desertthunder/scanx/internal/shared"
)

// StageTask wraps one scan and its stage operation.
type StageTask struct {
	Scan models.ScanID
	Run  func(ctx context.Context) error
}

type taskOutcome struct {
	scan models.ScanID
	err  error
}

// runStage executes tasks with at most limit workers in flight and a
// per-task timeout, isolating individual failures. It returns once every
// task has reached a terminal outcome. When ctx is cancelled, in-flight
// tasks finish under their own deadlines, queued tasks are failed as
// cancelled, and no new work starts.
//
// notify, when non-nil, is called after each task completion with running
// totals; calls are serialized.
func runStage(ctx context.Context, stage models.Stage, tasks []StageTask, limit int, timeout time.Duration, notify func(completed int, scan models.ScanID, err error)) models.StageResult {
	result := models.StageResult{
		Stage:     stage,
		Attempted: len(tasks),
		Failed:    make(map[models.ScanID]error),
	}
	if len(tasks) == 0 {
		return result
	}
	if limit > len(tasks) {
		limit = len(tasks)
	}

	jobs := make(chan StageTask, len(tasks))
	outcomes := make(chan taskOutcome, len(tasks))
	for _, task := range tasks {
		jobs <- task
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				select {
				case <-ctx.Done():
					outcomes <- taskOutcome{scan: task.Scan, err: fmt.Errorf("%w: %v", shared.ErrCancelled, ctx.Err())}
					continue
				default:
				}
				outcomes <- taskOutcome{scan: task.Scan, err: executeTask(ctx, task, timeout)}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	completed := 0
	for outcome := range outcomes {
		completed++
		if outcome.err == nil {
			result.Succeeded++
		} else {
			result.Failed[outcome.scan] = outcome.err
		}
		if notify != nil {
			notify(completed, outcome.scan, outcome.err)
		}
	}

	return result
}

// executeTask runs one task under its deadline, converting panics and
// timeouts into ordinary failures so siblings keep running.
func executeTask(ctx context.Context, task StageTask, timeout time.Duration) (err error) {
	tctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task for scan %d panicked: %v", task.Scan, r)
		}
	}()

	err = task.Run(tctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w after %s: %v", shared.ErrTimeout, timeout, err)
	}
	return err
}
