package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/econoquery/econoquery/internal/beaapi"
	"github.com/econoquery/econoquery/provider"
)

// Answer statuses. Failure text is distinguishable programmatically, never by
// string sniffing.
const (
	AnswerStatusAnswered = "answered"
	AnswerStatusFailed   = "failed"
)

// Composer turns a fetched data preview into a natural-language answer.
type Composer struct {
	reasoning provider.Reasoning
	logger    *log.Logger
}

// NewComposer creates a composer backed by the given reasoning provider.
func NewComposer(reasoning provider.Reasoning, logger *log.Logger) *Composer {
	return &Composer{reasoning: reasoning, logger: logger}
}

// Compose generates an answer grounded in the fetch result. When the fetch
// failed no answer is fabricated: the returned text states the data could not
// be retrieved and carries the last error reason, with status "failed".
func (c *Composer) Compose(ctx context.Context, question string, qc *QueryContext, result *beaapi.FetchResult) (string, string, error) {
	if result == nil || result.Status != beaapi.StatusOK {
		reason := "unknown error"
		if result != nil && result.Reason != "" {
			reason = result.Reason
		}
		return fmt.Sprintf("The data could not be retrieved, so no answer is available. Last error: %s", reason),
			AnswerStatusFailed, nil
	}

	dataJSON, err := json.Marshal(result.Data)
	if err != nil {
		return "", AnswerStatusFailed, stepErr(StepCompose, err)
	}
	contextJSON, _ := json.Marshal(qc)

	prompt := fmt.Sprintf(`You are an economic data assistant.

Instructions:
1. Provide a clear, plain-English answer grounded ONLY in the data sample.
2. Cite specific figures with year/period if available.
3. If data insufficient, state what's missing succinctly.
4. Keep it under 8 sentences, no speculation.

User question: %s
Data Returned from API: %s
Additional Context: %s

Answer:`, question, dataJSON, contextJSON)

	answer, err := c.reasoning.GenerateText(ctx, prompt)
	if err != nil {
		return "", AnswerStatusFailed, stepErr(StepCompose, err)
	}
	return answer, AnswerStatusAnswered, nil
}
