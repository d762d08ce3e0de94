package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/econoquery/econoquery/internal/metadata"
	"github.com/econoquery/econoquery/internal/rank"
	"github.com/econoquery/econoquery/provider"
)

// QueryContext is the trimmed dataset schema handed to the parameter
// synthesizer and included in the answer payload for auditing.
type QueryContext struct {
	DatasetName        string                  `json:"DatasetName"`
	DatasetDescription string                  `json:"DatasetDescription"`
	Parameters         []metadata.ParameterDef `json:"Parameters"`
	SelectedTableName  string                  `json:"SelectedTableName,omitempty"`
}

// Selection is the chosen (dataset, optional table) pair plus the context
// passed downstream. DatasetName always references a dataset present in the
// snapshot the selection was made against.
type Selection struct {
	DatasetName string        `json:"dataset_name"`
	TableName   string        `json:"table_name,omitempty"`
	Confidence  float64       `json:"confidence"`
	Context     *QueryContext `json:"context,omitempty"`
}

// BuildQueryContext assembles the query-builder context for a dataset and
// optional table from a snapshot.
func BuildQueryContext(snap *metadata.Snapshot, datasetName, tableName string) (*QueryContext, error) {
	ds, err := snap.Dataset(datasetName)
	if err != nil {
		return nil, err
	}
	qc := &QueryContext{
		DatasetName:        ds.Name,
		DatasetDescription: ds.Description,
		Parameters:         ds.Parameters,
	}
	if tableName != "" {
		if _, ok := ds.Table(tableName); !ok {
			return nil, fmt.Errorf("table %s not in dataset %s", tableName, datasetName)
		}
		qc.SelectedTableName = tableName
	}
	return qc, nil
}

// Selector picks exactly one candidate via a choice-constrained reasoning
// step, or declines.
type Selector struct {
	reasoning provider.Reasoning
	logger    *log.Logger
}

// NewSelector creates a selector backed by the given reasoning provider.
func NewSelector(reasoning provider.Reasoning, logger *log.Logger) *Selector {
	return &Selector{reasoning: reasoning, logger: logger}
}

// Select returns the chosen candidate or ErrNoConfidentMatch when the
// candidate list is empty or the reasoning step declines to choose.
func (s *Selector) Select(ctx context.Context, question string, candidates []rank.CandidateScore, snap *metadata.Snapshot) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, ErrNoConfidentMatch
	}

	options := make([]string, len(candidates))
	for i, c := range candidates {
		options[i] = candidateText(c, snap)
	}

	idx, err := s.reasoning.ChooseOne(ctx, options, "Question: "+question)
	if err != nil {
		if err == provider.ErrNoneFit {
			return Selection{}, ErrNoConfidentMatch
		}
		return Selection{}, stepErr(StepSelect, err)
	}
	chosen := candidates[idx]

	qc, err := BuildQueryContext(snap, chosen.DatasetName, chosen.TableName)
	if err != nil {
		// The candidate came from this snapshot, so a miss means ranking and
		// metadata disagree; refuse rather than guess.
		s.logger.Printf("selected candidate not in snapshot: %v", err)
		return Selection{}, ErrNoConfidentMatch
	}

	return Selection{
		DatasetName: chosen.DatasetName,
		TableName:   chosen.TableName,
		Confidence:  chosen.CombinedScore,
		Context:     qc,
	}, nil
}

// candidateText renders the metadata block the reasoning step sees for one
// candidate.
func candidateText(c rank.CandidateScore, snap *metadata.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dataset: %s\n", c.DatasetName)
	if ds, err := snap.Dataset(c.DatasetName); err == nil {
		desc := ds.Description
		if ds.GeneratedDescription != "" {
			desc = ds.GeneratedDescription
		}
		fmt.Fprintf(&sb, "Description: %s\n", desc)
		if c.TableName != "" {
			if t, ok := ds.Table(c.TableName); ok {
				fmt.Fprintf(&sb, "Table: %s\nTable Description: %s\n", t.Name, t.Description)
			} else {
				fmt.Fprintf(&sb, "Table: %s\n", c.TableName)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
