// Package mcp exposes the ask pipeline as a minimal MCP-style JSON-RPC
// server over stdio.
//
// Methods:
//   - tools/list     -> single tool ask_econ
//   - tools/call     -> invokes ask_econ(question)
//   - resources/list -> dataset URIs
//   - resources/read -> query context for dataset://<name> or dataset://<name>#<table>
//
// The server runs until EOF on stdin or context cancellation.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/econoquery/econoquery/internal/metadata"
	"github.com/econoquery/econoquery/internal/pipeline"
)

const datasetScheme = "dataset://"

// Asker is the pipeline surface the transport depends on.
type Asker interface {
	Ask(ctx context.Context, question string) pipeline.AnswerPayload
}

type rpcReq struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcResp struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolDesc describes a single MCP tool, including input schema.
type ToolDesc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Server serves JSON-RPC requests line by line.
type Server struct {
	agent   Asker
	catalog *metadata.Catalog
	logger  *log.Logger
	tools   []ToolDesc
}

// NewServer wires dependencies once.
func NewServer(agent Asker, catalog *metadata.Catalog, logger *log.Logger) *Server {
	srv := &Server{agent: agent, catalog: catalog, logger: logger}
	srv.tools = []ToolDesc{
		{
			Name:        "ask_econ",
			Description: "Answer an economics question using government statistical datasets. Params: question:string",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{"type": "string"},
				},
				"required": []string{"question"},
			},
		},
	}
	return srv
}

// Run reads requests from r and writes responses to w until EOF or ctx done.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req rpcReq
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			writeResp(enc, nil, nil, &rpcError{Code: -32700, Message: fmt.Sprintf("Parse error: %v", err)})
			continue
		}
		if req.Method == "" {
			writeResp(enc, req.ID, nil, &rpcError{Code: -32600, Message: "Invalid Request: missing method"})
			continue
		}

		result, rpcErr := s.dispatch(ctx, req.Method, req.Params)
		writeResp(enc, req.ID, result, rpcErr)
	}
	return scanner.Err()
}

func writeResp(enc *json.Encoder, id any, result any, rpcErr *rpcError) {
	resp := rpcResp{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	_ = enc.Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, method string, params map[string]any) (any, *rpcError) {
	switch method {
	case "tools/list":
		return map[string]any{"tools": s.tools}, nil
	case "tools/call":
		name, _ := params["name"].(string)
		args, _ := params["params"].(map[string]any)
		return s.callTool(ctx, name, args)
	case "resources/list":
		return s.listResources(), nil
	case "resources/read":
		uri, _ := params["uri"].(string)
		return s.readResource(uri)
	default:
		return nil, &rpcError{Code: -32601, Message: fmt.Sprintf("Unknown method %s", method)}
	}
}

func (s *Server) callTool(ctx context.Context, name string, args map[string]any) (any, *rpcError) {
	if name != "ask_econ" {
		return nil, &rpcError{Code: -32601, Message: fmt.Sprintf("Unknown tool %s", name)}
	}
	question, _ := args["question"].(string)
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &rpcError{Code: -32602, Message: "question must be a non-empty string"}
	}
	s.logger.Printf("ask_econ: %s", question)
	return s.agent.Ask(ctx, question), nil
}

func (s *Server) listResources() []map[string]any {
	snap := s.catalog.Current()
	if snap == nil {
		return []map[string]any{}
	}
	out := make([]map[string]any, 0, len(snap.Datasets))
	for _, ds := range snap.Datasets {
		out = append(out, map[string]any{
			"uri":         datasetScheme + ds.Name,
			"name":        ds.Name,
			"description": ds.Description,
		})
	}
	return out
}

// readResource accepts dataset://<Name> or dataset://<Name>#<Table>.
func (s *Server) readResource(uri string) (any, *rpcError) {
	if !strings.HasPrefix(uri, datasetScheme) {
		return nil, &rpcError{Code: -32602, Message: "Unsupported URI scheme"}
	}
	snap := s.catalog.Current()
	if snap == nil {
		return nil, &rpcError{Code: -32000, Message: "no metadata loaded"}
	}
	body := strings.TrimPrefix(uri, datasetScheme)
	datasetName, tableName := body, ""
	if i := strings.Index(body, "#"); i >= 0 {
		datasetName, tableName = body[:i], body[i+1:]
	}
	qc, err := pipeline.BuildQueryContext(snap, datasetName, tableName)
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	return qc, nil
}
