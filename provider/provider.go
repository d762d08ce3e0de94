package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/econoquery/econoquery/config"
	"github.com/econoquery/econoquery/internal/helpers"
	ollama_provider "github.com/econoquery/econoquery/provider/ollama"
	openai_provider "github.com/econoquery/econoquery/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
	Ollama Client = "ollama"
)

// ErrNoneFit is returned by ChooseOne when the model declines to pick any option.
var ErrNoneFit = errors.New("no option fits")

// Reasoning is the narrow contract the pipeline depends on. Any backing
// implementation (rule-based heuristic or a generative service) can satisfy it.
type Reasoning interface {
	// ChooseOne picks one option index given context, or ErrNoneFit.
	ChooseOne(ctx context.Context, options []string, contextText string) (int, error)

	// FillParameters produces a concrete parameter mapping from a schema context.
	FillParameters(ctx context.Context, req FillRequest) (map[string]string, error)

	// GenerateText produces free-form text for the given prompt.
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Embedder converts texts into vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider bundles the reasoning and embedding capabilities of one backend.
type Provider interface {
	Reasoning
	Embedder
}

// Completer is the low-level contract each LLM integration satisfies.
type Completer interface {
	Complete(ctx context.Context, model string, prompt string) (string, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// FillRequest carries everything the parameter-filling step needs.
// PriorError/PriorParams are set only on the repair path.
type FillRequest struct {
	ContextJSON string
	Question    string
	Required    []string
	PriorError  string
	PriorParams map[string]string
}

// NewProvider creates a new LLM-backed provider from configuration.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	var backend Completer
	switch Client(cfg.Type) {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("llm.api_key not set")
		}
		backend = openai_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel, cfg.Temperature, cfg.MaxTokens, cfg.Timeout)
	case Ollama:
		var err error
		backend, err = ollama_provider.NewClient(cfg.BaseURL, cfg.EmbeddingModel, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Type)
	}
	return &reasoner{
		backend:         backend,
		completionModel: cfg.CompletionModel,
		smallModel:      cfg.SmallModel,
	}, nil
}

// reasoner implements the reasoning shapes on top of any Completer.
// Choice uses the small model; parameter filling and generation the large one.
type reasoner struct {
	backend         Completer
	completionModel string
	smallModel      string
}

func (r *reasoner) ChooseOne(ctx context.Context, options []string, contextText string) (int, error) {
	if len(options) == 0 {
		return 0, ErrNoneFit
	}
	var sb strings.Builder
	for i, opt := range options {
		fmt.Fprintf(&sb, "Option %d:\n%s\n\n", i+1, opt)
	}

	prompt := fmt.Sprintf(`You are a data relevance assessor. Given the context below and a numbered list of candidate datasets/tables, pick the single best option for answering the question.

Return ONLY the option number (1-%d). If none of the options could plausibly answer the question, return exactly NONE.

%s

%sBest option:`, len(options), contextText, sb.String())

	content, err := r.backend.Complete(ctx, r.smallModel, prompt)
	if err != nil {
		return 0, err
	}
	content = strings.TrimSpace(content)
	if strings.Contains(strings.ToUpper(content), "NONE") {
		return 0, ErrNoneFit
	}
	n, ok := helpers.FirstInt(content)
	if !ok || n < 1 || n > len(options) {
		return 0, ErrNoneFit
	}
	return n - 1, nil
}

func (r *reasoner) FillParameters(ctx context.Context, req FillRequest) (map[string]string, error) {
	required := strings.Join(req.Required, ", ")
	if required == "" {
		required = "<none>"
	}

	var prompt string
	if req.PriorError == "" {
		prompt = fmt.Sprintf(`You are given a user question and a JSON context describing a statistical dataset (and optional selected table) with its parameters and allowed values.

Task: Produce ONLY a raw JSON object (no prose, no code fences) of parameters for the data API.

Constraints:
- Use ONLY parameter names & values explicitly present in the context JSON.
- Do NOT invent or guess any parameter or value.
- Include DatasetName exactly as shown.
- If SelectedTableName is present and a TableName (or TableID) parameter exists in context, include it with the selected value.
- Years (single or range) must stay strictly within values/bounds shown in context.
- If unsure about an optional parameter, omit it rather than guessing.
- If unsure about a required parameter, use an "all" value if present in context, otherwise a broad value.

Required Parameters: %s
NEVER UNDER ANY CIRCUMSTANCE omit a required parameter.

Question: %s
Context: %s

JSON:`, required, req.Question, req.ContextJSON)
	} else {
		prior, _ := json.Marshal(req.PriorParams)
		prompt = fmt.Sprintf(`You are fixing rejected statistical data API parameters.
Return ONLY corrected JSON (single object) with minimal changes. Do not repeat the same values that were rejected.

User Question: %s
Error Message: %s
Required Parameters: %s
Current Params: %s
Context JSON: %s

Guidelines:
- Include all required parameters; never remove one.
- Keep DatasetName unchanged.
- If a parameter value is invalid or missing, substitute a valid one from context; otherwise leave it.
- If Year / FirstYear / LastYear are invalid or out of range, adjust within allowed bounds shown in context.
- Do NOT fabricate any new parameter.

JSON:`, req.Question, req.PriorError, required, string(prior), req.ContextJSON)
	}

	content, err := r.backend.Complete(ctx, r.completionModel, prompt)
	if err != nil {
		return nil, err
	}
	snippet, err := helpers.ExtractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("fill parameters: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(snippet), &raw); err != nil {
		return nil, fmt.Errorf("fill parameters: %w", err)
	}
	params := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			params[k] = val
		case float64:
			if val == float64(int64(val)) {
				params[k] = fmt.Sprintf("%d", int64(val))
			} else {
				params[k] = fmt.Sprintf("%v", val)
			}
		case bool:
			params[k] = fmt.Sprintf("%t", val)
		default:
			// Nested values are never valid API parameters; drop them.
		}
	}
	return params, nil
}

func (r *reasoner) GenerateText(ctx context.Context, prompt string) (string, error) {
	content, err := r.backend.Complete(ctx, r.completionModel, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (r *reasoner) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return r.backend.CreateEmbedding(ctx, texts)
}
