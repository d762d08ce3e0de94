package pipeline

import (
	"context"
	"encoding/json"
	"log"

	"github.com/econoquery/econoquery/internal/metadata"
	"github.com/econoquery/econoquery/provider"
)

// QueryParameters maps parameter names to values for one fetch attempt.
// Always includes DatasetName. Built fresh for each attempt.
type QueryParameters map[string]string

// Clone returns an independent copy.
func (q QueryParameters) Clone() QueryParameters {
	out := make(QueryParameters, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// Synthesizer builds concrete query parameters for a selection by asking the
// reasoning step to fill the dataset's parameter schema from the question.
type Synthesizer struct {
	reasoning provider.Reasoning
	logger    *log.Logger
}

// NewSynthesizer creates a synthesizer backed by the given reasoning provider.
func NewSynthesizer(reasoning provider.Reasoning, logger *log.Logger) *Synthesizer {
	return &Synthesizer{reasoning: reasoning, logger: logger}
}

// Synthesize produces a parameter set for the selection. On the repair path
// priorError carries the rejection reason and priorParams the rejected set;
// the reasoning step must produce a revised set, not a blind retry.
// Missing required parameters are a synthesis failure, never silently omitted.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, sel Selection, priorError string, priorParams QueryParameters) (QueryParameters, error) {
	contextJSON, err := json.Marshal(sel.Context)
	if err != nil {
		return nil, stepErr(StepSynthesize, err)
	}
	required := requiredParameters(sel.Context)

	filled, err := s.reasoning.FillParameters(ctx, provider.FillRequest{
		ContextJSON: string(contextJSON),
		Question:    question,
		Required:    required,
		PriorError:  priorError,
		PriorParams: priorParams,
	})
	if err != nil {
		return nil, stepErr(StepSynthesize, err)
	}

	params := QueryParameters(filled)
	if params == nil {
		params = QueryParameters{}
	}
	if _, ok := params["DatasetName"]; !ok {
		params["DatasetName"] = sel.DatasetName
	}
	if sel.Context.SelectedTableName != "" {
		if _, ok := params["TableName"]; !ok {
			params["TableName"] = sel.Context.SelectedTableName
		}
	}
	normalizeYearRange(params)

	if missing := missingRequired(params, required); len(missing) > 0 {
		return params, &IncompleteParametersError{Missing: missing}
	}
	return params, nil
}

func requiredParameters(qc *QueryContext) []string {
	if qc == nil {
		return nil
	}
	return metadata.Dataset{Parameters: qc.Parameters}.RequiredParameters()
}

func missingRequired(params QueryParameters, required []string) []string {
	var missing []string
	for _, name := range required {
		if v, ok := params[name]; ok && v != "" {
			continue
		}
		// A FirstYear/LastYear range satisfies a required Year.
		if name == "Year" && (params["FirstYear"] != "" || params["LastYear"] != "") {
			continue
		}
		missing = append(missing, name)
	}
	return missing
}

// normalizeYearRange resolves the Year vs FirstYear/LastYear conflict: when a
// range is present the single Year is dropped.
func normalizeYearRange(params QueryParameters) {
	if _, hasYear := params["Year"]; !hasYear {
		return
	}
	_, hasFirst := params["FirstYear"]
	_, hasLast := params["LastYear"]
	if hasFirst || hasLast {
		delete(params, "Year")
	}
}
