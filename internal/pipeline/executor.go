package pipeline

import (
	"context"
	"errors"
	"log"

	"github.com/econoquery/econoquery/internal/beaapi"
	"github.com/econoquery/econoquery/internal/telemetry"
)

// Fetcher is the data-API collaborator the executor drives.
type Fetcher interface {
	GetData(ctx context.Context, params map[string]string) (*beaapi.FetchResult, error)
}

// Repair state machine states. A non-ok first attempt transitions to the
// second attempt exactly once; a second rejection is terminal.
const (
	stateFirstAttempt  = "first_attempt"
	stateSecondAttempt = "second_attempt"
)

// Attempt records what one fetch attempt tried, kept regardless of outcome so
// the caller can audit the full repair history.
type Attempt struct {
	State  string          `json:"state"`
	Params QueryParameters `json:"params"`
	URL    string          `json:"url,omitempty"`
	Status string          `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

// RepairOutcome is the terminal result of the execute-with-repair routine.
type RepairOutcome struct {
	Result          *beaapi.FetchResult
	Attempts        []Attempt
	Params          QueryParameters
	CorrectedParams QueryParameters
}

// Failed reports whether the outcome ended without data.
func (o RepairOutcome) Failed() bool {
	return o.Result == nil || o.Result.Status != beaapi.StatusOK
}

// Executor submits synthesized parameters to the data API and runs the
// bounded one-retry repair cycle.
type Executor struct {
	fetcher Fetcher
	synth   *Synthesizer
	logger  *log.Logger
}

// NewExecutor creates an executor over the given fetcher and synthesizer.
func NewExecutor(fetcher Fetcher, synth *Synthesizer, logger *log.Logger) *Executor {
	return &Executor{fetcher: fetcher, synth: synth, logger: logger}
}

// Execute performs a single fetch attempt. Transport failures come back as
// an error; API rejections as a FetchResult with StatusRejected.
func (e *Executor) Execute(ctx context.Context, params QueryParameters) (*beaapi.FetchResult, error) {
	result, err := e.fetcher.GetData(ctx, params)
	if err != nil {
		return nil, stepErr(StepFetch, err)
	}
	return result, nil
}

// ExecuteWithRepair synthesizes parameters and fetches, repairing the
// parameter set at most once after a rejection. At most two fetch attempts
// are ever made. Transport failures are not parameter problems and abort
// without repair.
func (e *Executor) ExecuteWithRepair(ctx context.Context, question string, sel Selection) (RepairOutcome, error) {
	var outcome RepairOutcome

	params, synthErr := e.synth.Synthesize(ctx, question, sel, "", nil)
	outcome.Params = params

	var incomplete *IncompleteParametersError
	if synthErr != nil {
		if !errors.As(synthErr, &incomplete) {
			return outcome, synthErr
		}
		// Validation failed before any fetch: route the reason through the
		// repair path instead of submitting a known-bad set.
		e.logger.Printf("first synthesis incomplete: %v", synthErr)
		outcome.Attempts = append(outcome.Attempts, Attempt{
			State: stateFirstAttempt, Params: params, Status: "invalid_parameters", Reason: synthErr.Error(),
		})
		return e.repair(ctx, question, sel, params, synthErr.Error(), outcome)
	}

	result, err := e.Execute(ctx, params)
	if err != nil {
		telemetry.FetchAttempts.WithLabelValues(beaapi.StatusError).Inc()
		outcome.Attempts = append(outcome.Attempts, Attempt{
			State: stateFirstAttempt, Params: params, Status: beaapi.StatusError, Reason: err.Error(),
		})
		return outcome, err
	}
	telemetry.FetchAttempts.WithLabelValues(result.Status).Inc()
	outcome.Attempts = append(outcome.Attempts, Attempt{
		State: stateFirstAttempt, Params: params, URL: result.URL, Status: result.Status, Reason: result.Reason,
	})
	outcome.Result = result
	if result.Status == beaapi.StatusOK {
		return outcome, nil
	}

	e.logger.Printf("first attempt rejected: %s", result.Reason)
	return e.repair(ctx, question, sel, params, result.Reason, outcome)
}

// repair runs the single second attempt with a corrected parameter set.
func (e *Executor) repair(ctx context.Context, question string, sel Selection, prior QueryParameters, reason string, outcome RepairOutcome) (RepairOutcome, error) {
	telemetry.Repairs.Inc()

	corrected, synthErr := e.synth.Synthesize(ctx, question, sel, reason, prior)
	outcome.CorrectedParams = corrected
	if synthErr != nil {
		var incomplete *IncompleteParametersError
		if errors.As(synthErr, &incomplete) {
			outcome.Attempts = append(outcome.Attempts, Attempt{
				State: stateSecondAttempt, Params: corrected, Status: "invalid_parameters", Reason: synthErr.Error(),
			})
		}
		return outcome, synthErr
	}

	result, err := e.Execute(ctx, corrected)
	if err != nil {
		telemetry.FetchAttempts.WithLabelValues(beaapi.StatusError).Inc()
		outcome.Attempts = append(outcome.Attempts, Attempt{
			State: stateSecondAttempt, Params: corrected, Status: beaapi.StatusError, Reason: err.Error(),
		})
		return outcome, err
	}
	telemetry.FetchAttempts.WithLabelValues(result.Status).Inc()
	outcome.Attempts = append(outcome.Attempts, Attempt{
		State: stateSecondAttempt, Params: corrected, URL: result.URL, Status: result.Status, Reason: result.Reason,
	})
	outcome.Result = result
	return outcome, nil
}
