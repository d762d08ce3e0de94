package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/econoquery/econoquery/internal/metadata"
	"github.com/econoquery/econoquery/internal/pipeline"
)

type fakeAsker struct {
	lastQuestion string
}

func (f *fakeAsker) Ask(ctx context.Context, question string) pipeline.AnswerPayload {
	f.lastQuestion = question
	return pipeline.AnswerPayload{
		Question:     question,
		FetchStatus:  "ok",
		Answer:       "Real GDP grew 2.5 percent in 2023.",
		AnswerStatus: pipeline.AnswerStatusAnswered,
	}
}

func testCatalog() *metadata.Catalog {
	cat := metadata.NewCatalog()
	cat.Install(metadata.NewSnapshot("v1", []metadata.Dataset{
		{
			Name:        "NIPA",
			Description: "Standard NIPA tables",
			Parameters: []metadata.ParameterDef{
				{Name: "TableName", Required: true},
				{Name: "Year", Required: true},
			},
			Tables: []metadata.Table{{Name: "T10101", Description: "Real GDP percent change"}},
		},
	}, nil))
	return cat
}

func runRequests(t *testing.T, srv *Server, lines ...string) []map[string]any {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	if err := srv.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	var responses []map[string]any
	dec := json.NewDecoder(&out)
	for {
		var resp map[string]any
		if err := dec.Decode(&resp); err != nil {
			break
		}
		responses = append(responses, resp)
	}
	if len(responses) != len(lines) {
		t.Fatalf("expected %d responses, got %d", len(lines), len(responses))
	}
	return responses
}

func newTestServer() (*Server, *fakeAsker) {
	asker := &fakeAsker{}
	return NewServer(asker, testCatalog(), log.New(io.Discard, "", 0)), asker
}

func errCode(resp map[string]any) float64 {
	e, _ := resp["error"].(map[string]any)
	if e == nil {
		return 0
	}
	code, _ := e["code"].(float64)
	return code
}

func TestToolsList(t *testing.T) {
	srv, _ := newTestServer()
	resps := runRequests(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	result := resps[0]["result"].(map[string]any)
	tools := result["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected one tool, got %d", len(tools))
	}
	tool := tools[0].(map[string]any)
	if tool["name"] != "ask_econ" {
		t.Fatalf("unexpected tool %v", tool)
	}
	if _, ok := tool["input_schema"].(map[string]any); !ok {
		t.Fatal("tool missing input_schema")
	}
}

func TestToolsCall_Ask(t *testing.T) {
	srv, asker := newTestServer()
	resps := runRequests(t, srv,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ask_econ","params":{"question":"How did GDP change in 2023?"}}}`)
	if asker.lastQuestion != "How did GDP change in 2023?" {
		t.Fatalf("question not forwarded: %q", asker.lastQuestion)
	}
	result := resps[0]["result"].(map[string]any)
	if result["answer_status"] != "answered" {
		t.Fatalf("unexpected payload: %v", result)
	}
}

func TestToolsCall_EmptyQuestion(t *testing.T) {
	srv, _ := newTestServer()
	resps := runRequests(t, srv,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"ask_econ","params":{"question":"  "}}}`)
	if code := errCode(resps[0]); code != -32602 {
		t.Fatalf("expected -32602, got %v", code)
	}
}

func TestToolsCall_UnknownTool(t *testing.T) {
	srv, _ := newTestServer()
	resps := runRequests(t, srv,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope","params":{}}}`)
	if code := errCode(resps[0]); code != -32601 {
		t.Fatalf("expected -32601, got %v", code)
	}
}

func TestResourcesListAndRead(t *testing.T) {
	srv, _ := newTestServer()
	resps := runRequests(t, srv,
		`{"jsonrpc":"2.0","id":5,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":6,"method":"resources/read","params":{"uri":"dataset://NIPA#T10101"}}`,
		`{"jsonrpc":"2.0","id":7,"method":"resources/read","params":{"uri":"dataset://Missing"}}`)

	list := resps[0]["result"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["uri"] != "dataset://NIPA" {
		t.Fatalf("unexpected resources: %v", list)
	}

	qc := resps[1]["result"].(map[string]any)
	if qc["DatasetName"] != "NIPA" || qc["SelectedTableName"] != "T10101" {
		t.Fatalf("unexpected query context: %v", qc)
	}

	if code := errCode(resps[2]); code != -32000 {
		t.Fatalf("expected -32000 for unknown dataset, got %v", code)
	}
}

func TestRun_MalformedAndUnknown(t *testing.T) {
	srv, _ := newTestServer()
	resps := runRequests(t, srv,
		`this is not json`,
		`{"jsonrpc":"2.0","id":8}`,
		`{"jsonrpc":"2.0","id":9,"method":"shutdown"}`)
	if code := errCode(resps[0]); code != -32700 {
		t.Fatalf("expected parse error, got %v", code)
	}
	if code := errCode(resps[1]); code != -32600 {
		t.Fatalf("expected invalid request, got %v", code)
	}
	if code := errCode(resps[2]); code != -32601 {
		t.Fatalf("expected unknown method, got %v", code)
	}
}
