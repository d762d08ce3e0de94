package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Pipeline step names used to tag timeouts.
const (
	StepRank       = "rank"
	StepSelect     = "select"
	StepSynthesize = "synthesize"
	StepFetch      = "fetch"
	StepCompose    = "compose"
)

// ErrNoConfidentMatch signals the selector found nothing worth choosing.
// Surfaced to the caller, never retried, and never silently replaced with a
// default dataset.
var ErrNoConfidentMatch = errors.New("no confident dataset match")

// IncompleteParametersError reports required parameters missing from a
// synthesized set. Caught before any fetch attempt is made.
type IncompleteParametersError struct {
	Missing []string
}

func (e *IncompleteParametersError) Error() string {
	return fmt.Sprintf("synthesized parameters missing required: %s", strings.Join(e.Missing, ", "))
}

// TimeoutError marks which pipeline step exceeded its budget.
type TimeoutError struct {
	Step string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %s timed out: %v", e.Step, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// stepErr wraps err, converting context expiry into a step-tagged timeout so
// a timeout during any step surfaces as that step's error kind.
func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TimeoutError{Step: step, Err: err}
	}
	return fmt.Errorf("%s: %w", step, err)
}
