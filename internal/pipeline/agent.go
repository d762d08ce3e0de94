// Package pipeline implements the question answering pipeline: candidate
// ranking, dataset selection, parameter synthesis, fetch with bounded repair,
// and answer composition.
package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/econoquery/econoquery/internal/beaapi"
	"github.com/econoquery/econoquery/internal/metadata"
	"github.com/econoquery/econoquery/internal/rank"
	"github.com/econoquery/econoquery/internal/telemetry"
	"github.com/econoquery/econoquery/provider"
)

// Fetch statuses beyond the data API's own, used when the pipeline stops
// before reaching the API.
const (
	FetchStatusNoDatasets = "no_datasets"
	FetchStatusNoMatch    = "no_confident_match"
	FetchStatusFailed     = "failed"
)

const previewRows = 3

// AnswerPayload is the full response object for one question. Constructed
// once per request and never mutated after return.
type AnswerPayload struct {
	RequestID       string                `json:"request_id"`
	Question        string                `json:"question"`
	SnapshotVersion string                `json:"snapshot_version,omitempty"`
	Candidates      []rank.CandidateScore `json:"candidates,omitempty"`
	Chosen          *Selection            `json:"chosen,omitempty"`
	Context         *QueryContext         `json:"context,omitempty"`
	Params          QueryParameters       `json:"params,omitempty"`
	RequestURL      string                `json:"request_url,omitempty"`
	FetchStatus     string                `json:"fetch_status"`
	DataPreview     []map[string]any      `json:"data_preview,omitempty"`
	Answer          string                `json:"answer,omitempty"`
	AnswerStatus    string                `json:"answer_status"`
	Error           string                `json:"error,omitempty"`
	CorrectedParams QueryParameters       `json:"corrected_params,omitempty"`
	SecondAttempt   string                `json:"second_attempt_status,omitempty"`
	SecondError     string                `json:"second_error,omitempty"`
	Attempts        []Attempt             `json:"attempts,omitempty"`
	Elapsed         time.Duration         `json:"elapsed_ns"`

	start time.Time
}

// Auditor persists finished payloads. Optional collaborator; failures are
// logged, never surfaced to the caller.
type Auditor interface {
	RecordAsk(ctx context.Context, payload AnswerPayload) error
}

// Agent wires the pipeline stages and owns the orchestration boundary: every
// internal error is mapped into the payload, transports never see one.
type Agent struct {
	catalog  *metadata.Catalog
	ranker   *rank.Ranker
	selector *Selector
	synth    *Synthesizer
	executor *Executor
	composer *Composer
	auditor  Auditor
	logger   *log.Logger
	timeout  time.Duration
}

// NewAgent assembles the pipeline over a catalog, reasoning provider and
// data-API fetcher.
func NewAgent(catalog *metadata.Catalog, reasoning provider.Reasoning, ranker *rank.Ranker, fetcher Fetcher, auditor Auditor, timeout time.Duration, logger *log.Logger) *Agent {
	synth := NewSynthesizer(reasoning, logger)
	return &Agent{
		catalog:  catalog,
		ranker:   ranker,
		selector: NewSelector(reasoning, logger),
		synth:    synth,
		executor: NewExecutor(fetcher, synth, logger),
		composer: NewComposer(reasoning, logger),
		auditor:  auditor,
		logger:   logger,
		timeout:  timeout,
	}
}

// Ask runs the full pipeline for one question. It always returns a
// well-formed payload; failures are reported through its status fields.
func (a *Agent) Ask(ctx context.Context, question string) AnswerPayload {
	start := time.Now()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	payload := AnswerPayload{
		RequestID:    uuid.NewString(),
		Question:     question,
		AnswerStatus: AnswerStatusFailed,
		start:        start,
	}

	snap := a.catalog.Current()
	if snap.Empty() {
		payload.FetchStatus = FetchStatusNoDatasets
		payload.Error = ErrNoConfidentMatch.Error()
		payload.Answer = "No dataset metadata is loaded, so the question cannot be answered."
		return a.finish(ctx, payload)
	}
	payload.SnapshotVersion = snap.Version

	candidates, err := a.ranker.Rank(ctx, question, snap)
	if err != nil {
		return a.fail(ctx, payload, stepErr(StepRank, err))
	}
	payload.Candidates = candidates
	if len(candidates) == 0 {
		payload.FetchStatus = FetchStatusNoMatch
		payload.Error = ErrNoConfidentMatch.Error()
		payload.Answer = "No candidate dataset matched the question."
		return a.finish(ctx, payload)
	}

	sel, err := a.selector.Select(ctx, question, candidates, snap)
	if err != nil {
		if errors.Is(err, ErrNoConfidentMatch) {
			payload.FetchStatus = FetchStatusNoMatch
			payload.Error = err.Error()
			payload.Answer = "No candidate dataset could be chosen with confidence for this question."
			return a.finish(ctx, payload)
		}
		return a.fail(ctx, payload, err)
	}
	payload.Chosen = &sel
	payload.Context = sel.Context
	a.logger.Printf("chosen dataset=%s table=%s confidence=%.3f", sel.DatasetName, sel.TableName, sel.Confidence)

	outcome, execErr := a.executor.ExecuteWithRepair(ctx, question, sel)
	payload.Params = outcome.Params
	payload.CorrectedParams = outcome.CorrectedParams
	payload.Attempts = outcome.Attempts
	if len(outcome.Attempts) > 0 {
		payload.RequestURL = outcome.Attempts[0].URL
		payload.Error = outcome.Attempts[0].Reason
	}
	if len(outcome.Attempts) > 1 {
		payload.SecondAttempt = outcome.Attempts[1].Status
		payload.SecondError = outcome.Attempts[1].Reason
	}
	if execErr != nil {
		return a.fail(ctx, payload, execErr)
	}

	if outcome.Failed() {
		payload.FetchStatus = FetchStatusFailed
	} else {
		payload.FetchStatus = beaapi.StatusOK
		payload.Error = ""
		if result := outcome.Result; len(result.Data) > previewRows {
			payload.DataPreview = result.Data[:previewRows]
		} else {
			payload.DataPreview = outcome.Result.Data
		}
	}

	answer, status, err := a.composer.Compose(ctx, question, sel.Context, outcome.Result)
	if err != nil {
		return a.fail(ctx, payload, err)
	}
	payload.Answer = answer
	payload.AnswerStatus = status
	return a.finish(ctx, payload)
}

// fail maps a pipeline-internal error into the payload.
func (a *Agent) fail(ctx context.Context, payload AnswerPayload, err error) AnswerPayload {
	a.logger.Printf("ask %s failed: %v", payload.RequestID, err)
	payload.Error = err.Error()
	var timeout *TimeoutError
	switch {
	case errors.As(err, &timeout):
		payload.FetchStatus = beaapi.StatusError
	case isIncomplete(err):
		payload.FetchStatus = FetchStatusFailed
	default:
		payload.FetchStatus = beaapi.StatusError
	}
	payload.Answer = "The data could not be retrieved, so no answer is available. Last error: " + err.Error()
	payload.AnswerStatus = AnswerStatusFailed
	return a.finish(ctx, payload)
}

// finish stamps timing and metrics and records the payload with the auditor,
// best effort. Every Ask exit routes through here.
func (a *Agent) finish(ctx context.Context, payload AnswerPayload) AnswerPayload {
	payload.Elapsed = time.Since(payload.start)
	telemetry.AsksTotal.WithLabelValues(payload.FetchStatus).Inc()
	telemetry.AskDuration.Observe(payload.Elapsed.Seconds())
	if a.auditor != nil {
		if err := a.auditor.RecordAsk(ctx, payload); err != nil {
			a.logger.Printf("audit record failed: %v", err)
		}
	}
	return payload
}

func isIncomplete(err error) bool {
	var incomplete *IncompleteParametersError
	return errors.As(err, &incomplete)
}
