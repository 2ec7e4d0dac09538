package watch

import (
	"errors"
	"fmt"
	"time"
)

// Failure taxonomy for a single target's check. All of these are recoverable
// by the next scheduled run; none should abort the whole process.
var (
	// ErrFetchTimeout indicates rendering did not complete within the budget.
	ErrFetchTimeout = errors.New("fetch timed out")
	// ErrFetchUnavailable indicates the network or site is unreachable.
	ErrFetchUnavailable = errors.New("fetch unavailable")
	// ErrFetchBlocked indicates the response looks like bot blocking.
	ErrFetchBlocked = errors.New("fetch blocked")
	// ErrSchemaMismatch indicates no recognizable listing structure was found.
	// Distinct from an empty result: it means the site layout changed and the
	// extractor needs maintenance.
	ErrSchemaMismatch = errors.New("extraction schema mismatch")
	// ErrStoreUnavailable indicates the backing persistence cannot be reached.
	ErrStoreUnavailable = errors.New("state store unavailable")
	// ErrNotifyUnavailable indicates the notification channel is unreachable
	// or rejected the payload.
	ErrNotifyUnavailable = errors.New("notification channel unavailable")
)

// Stage names one step of the per-target pipeline.
type Stage string

// Pipeline stages in execution order. Persisting happens before Notifying:
// a dropped notification is preferred over re-alerting about the same
// configuration on every subsequent run.
const (
	StageLoading    Stage = "loading"
	StageFetching   Stage = "fetching"
	StageExtracting Stage = "extracting"
	StageDiffing    Stage = "diffing"
	StagePersisting Stage = "persisting"
	StageNotifying  Stage = "notifying"
	StageDone       Stage = "done"
)

// StageError ties a pipeline failure to the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result is the terminal outcome of one target's pipeline.
type Result struct {
	Target     Target
	Stage      Stage
	Err        error
	NewRecords int
	Duration   time.Duration
}

// Failed reports whether the target reached a failure state.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Report aggregates the outcomes of one scheduled invocation.
type Report struct {
	RunID   string
	Results []Result
}

// Failed reports whether any target in the run failed.
func (r Report) Failed() bool {
	for _, res := range r.Results {
		if res.Failed() {
			return true
		}
	}
	return false
}
