// Package beaapi is a thin client for the BEA statistical data API.
// It translates parameter maps into GetData calls and normalizes the
// API's response envelope, including application-level rejections.
package beaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/econoquery/econoquery/internal/metadata"
)

// Fetch status values surfaced to the pipeline.
const (
	StatusOK       = "ok"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// FetchResult carries the outcome of one GetData attempt.
// Reason is the machine-extractable rejection reason used to drive repair.
type FetchResult struct {
	Status string           `json:"status"`
	URL    string           `json:"url"`
	Data   []map[string]any `json:"data,omitempty"`
	Raw    json.RawMessage  `json:"raw,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// Client calls the BEA API over HTTP.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a BEA API client.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BuildURL constructs a GetData request URL for the given parameters.
// Parameters are encoded in sorted order so the same set always yields the
// same URL, which keeps payload audit fields stable.
func (c *Client) BuildURL(method string, params map[string]string) string {
	values := url.Values{}
	values.Set("UserID", c.apiKey)
	values.Set("method", method)
	values.Set("ResultFormat", "JSON")
	for k, v := range params {
		values.Set(k, v)
	}
	return c.baseURL + "?" + values.Encode()
}

// envelope mirrors the BEAAPI response wrapper.
type envelope struct {
	BEAAPI struct {
		Results json.RawMessage `json:"Results"`
		Error   *apiError       `json:"Error"`
	} `json:"BEAAPI"`
}

type apiError struct {
	Code        string `json:"APIErrorCode"`
	Description string `json:"APIErrorDescription"`
}

func (e *apiError) String() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Description
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (c *Client) get(ctx context.Context, u string) (json.RawMessage, *apiError, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if env.BEAAPI.Error != nil {
		return nil, env.BEAAPI.Error, nil
	}
	// Rejections are also reported inside Results.
	var res struct {
		Error *apiError `json:"Error"`
	}
	if len(env.BEAAPI.Results) > 0 && env.BEAAPI.Results[0] == '{' {
		if err := json.Unmarshal(env.BEAAPI.Results, &res); err == nil && res.Error != nil {
			return nil, res.Error, nil
		}
	}
	return env.BEAAPI.Results, nil, nil
}

// GetData submits the parameter set. A non-nil error means the request never
// produced an API answer (network/transport failure); API-level rejections
// come back as StatusRejected with the reason filled in.
func (c *Client) GetData(ctx context.Context, params map[string]string) (*FetchResult, error) {
	u := c.BuildURL("GetData", params)
	results, apiErr, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	if apiErr != nil {
		return &FetchResult{Status: StatusRejected, URL: u, Reason: apiErr.String()}, nil
	}

	var parsed struct {
		Data []map[string]any `json:"Data"`
	}
	if err := json.Unmarshal(results, &parsed); err != nil {
		return &FetchResult{Status: StatusRejected, URL: u, Reason: "unexpected results shape"}, nil
	}
	return &FetchResult{Status: StatusOK, URL: u, Data: parsed.Data, Raw: results}, nil
}

// GetDatasetList fetches the names and descriptions of all datasets.
func (c *Client) GetDatasetList(ctx context.Context) ([]metadata.Dataset, error) {
	results, apiErr, err := c.get(ctx, c.BuildURL("GETDATASETLIST", nil))
	if err != nil {
		return nil, err
	}
	if apiErr != nil {
		return nil, fmt.Errorf("dataset list rejected: %s", apiErr.String())
	}

	var parsed struct {
		Dataset []struct {
			DatasetName        string `json:"DatasetName"`
			DatasetDescription string `json:"DatasetDescription"`
		} `json:"Dataset"`
	}
	if err := json.Unmarshal(results, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse dataset list: %w", err)
	}
	datasets := make([]metadata.Dataset, 0, len(parsed.Dataset))
	for _, d := range parsed.Dataset {
		datasets = append(datasets, metadata.Dataset{
			Name:        d.DatasetName,
			Description: d.DatasetDescription,
		})
	}
	return datasets, nil
}

// GetParameterList fetches the parameter schema of one dataset.
func (c *Client) GetParameterList(ctx context.Context, datasetName string) ([]metadata.ParameterDef, error) {
	u := c.BuildURL("GETPARAMETERLIST", map[string]string{"DatasetName": datasetName})
	results, apiErr, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	if apiErr != nil {
		return nil, fmt.Errorf("parameter list for %s rejected: %s", datasetName, apiErr.String())
	}

	var parsed struct {
		Parameter []struct {
			ParameterName        string `json:"ParameterName"`
			ParameterDescription string `json:"ParameterDescription"`
			ParameterIsRequired  string `json:"ParameterIsRequiredFlag"`
			MultipleAcceptedFlag string `json:"MultipleAcceptedFlag"`
			ParameterDefault     string `json:"ParameterDefaultValue"`
			AllValue             string `json:"AllValue"`
		} `json:"Parameter"`
	}
	if err := json.Unmarshal(results, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse parameter list: %w", err)
	}
	params := make([]metadata.ParameterDef, 0, len(parsed.Parameter))
	for _, p := range parsed.Parameter {
		params = append(params, metadata.ParameterDef{
			Name:        p.ParameterName,
			Description: p.ParameterDescription,
			Required:    isTruthy(p.ParameterIsRequired),
			Multiple:    isTruthy(p.MultipleAcceptedFlag),
			Default:     p.ParameterDefault,
			AllValue:    p.AllValue,
		})
	}
	return params, nil
}

// GetParameterValues fetches the allowed values of one parameter. The API is
// inconsistent about field names across datasets (Key/Desc vs
// TableName/Description), so both spellings are accepted.
func (c *Client) GetParameterValues(ctx context.Context, datasetName, parameterName string) ([]metadata.ParameterValue, error) {
	u := c.BuildURL("GETPARAMETERVALUES", map[string]string{
		"DatasetName":   datasetName,
		"ParameterName": parameterName,
	})
	results, apiErr, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	if apiErr != nil {
		return nil, fmt.Errorf("parameter values for %s.%s rejected: %s", datasetName, parameterName, apiErr.String())
	}

	var parsed struct {
		ParamValue []map[string]any `json:"ParamValue"`
	}
	if err := json.Unmarshal(results, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse parameter values: %w", err)
	}
	values := make([]metadata.ParameterValue, 0, len(parsed.ParamValue))
	for _, v := range parsed.ParamValue {
		key := firstString(v, "Key", "TableName", "KeyCode", parameterName)
		desc := firstString(v, "Description", "Desc")
		if key == "" {
			continue
		}
		values = append(values, metadata.ParameterValue{Key: key, Description: desc})
	}
	return values, nil
}

func isTruthy(flag string) bool {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "1", "true", "y", "yes":
		return true
	}
	return false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
