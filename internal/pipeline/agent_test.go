package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/econoquery/econoquery/config"
	"github.com/econoquery/econoquery/internal/beaapi"
	"github.com/econoquery/econoquery/internal/metadata"
	"github.com/econoquery/econoquery/internal/rank"
	"github.com/econoquery/econoquery/provider"
)

type fakeAuditor struct {
	recorded []AnswerPayload
	err      error
}

func (f *fakeAuditor) RecordAsk(ctx context.Context, payload AnswerPayload) error {
	f.recorded = append(f.recorded, payload)
	return f.err
}

func newTestAgent(t *testing.T, snap *metadata.Snapshot, reasoning *fakeReasoning, fetcher *fakeFetcher, auditor Auditor) *Agent {
	t.Helper()
	catalog := metadata.NewCatalog()
	if snap != nil {
		catalog.Install(snap)
	}
	ranker := rank.NewRanker(reasoning, config.RankingConfig{
		TopN: 10, EmbeddingWeight: 0.6, KeywordWeight: 0.4, Workers: 2,
	}, testLogger())
	return NewAgent(catalog, reasoning, ranker, fetcher, auditor, time.Minute, testLogger())
}

func TestAgentAsk_HappyPath(t *testing.T) {
	reasoning := &fakeReasoning{
		chooseIdx: 0,
		fill: func(req provider.FillRequest) (map[string]string, error) {
			return goodParams(), nil
		},
		genText: "Real GDP increased 2.5 percent in 2023.",
	}
	fetcher := &fakeFetcher{results: []*beaapi.FetchResult{{
		Status: beaapi.StatusOK,
		URL:    "https://example.test/getdata",
		Data: []map[string]any{
			{"TimePeriod": "2023Q1", "DataValue": "2.2"},
			{"TimePeriod": "2023Q2", "DataValue": "2.1"},
			{"TimePeriod": "2023Q3", "DataValue": "4.9"},
			{"TimePeriod": "2023Q4", "DataValue": "3.4"},
		},
	}}}
	auditor := &fakeAuditor{}
	agent := newTestAgent(t, testSnapshot(), reasoning, fetcher, auditor)

	payload := agent.Ask(context.Background(), "How did real GDP change in 2023?")

	if payload.RequestID == "" || payload.SnapshotVersion != "snap-1" {
		t.Fatalf("payload identity missing: %+v", payload)
	}
	if payload.FetchStatus != beaapi.StatusOK {
		t.Fatalf("expected ok fetch status, got %s (%s)", payload.FetchStatus, payload.Error)
	}
	if payload.AnswerStatus != AnswerStatusAnswered || payload.Answer == "" {
		t.Fatalf("expected answered status, got %s %q", payload.AnswerStatus, payload.Answer)
	}
	if payload.Chosen == nil || payload.Chosen.DatasetName != "NIPA" || payload.Chosen.TableName != "T10101" {
		t.Fatalf("unexpected chosen: %+v", payload.Chosen)
	}
	if payload.Params["Year"] != "2023" || payload.RequestURL != "https://example.test/getdata" {
		t.Fatalf("params/url not recorded: %+v", payload)
	}
	if len(payload.DataPreview) != 3 {
		t.Fatalf("preview should be capped at 3 rows, got %d", len(payload.DataPreview))
	}
	if payload.Error != "" || payload.SecondAttempt != "" {
		t.Fatalf("clean run should have no error fields: %+v", payload)
	}
	if payload.Elapsed <= 0 {
		t.Fatal("elapsed not stamped")
	}
	if len(auditor.recorded) != 1 || auditor.recorded[0].RequestID != payload.RequestID {
		t.Fatalf("auditor did not receive the payload: %+v", auditor.recorded)
	}
}

func TestAgentAsk_NoSnapshot(t *testing.T) {
	agent := newTestAgent(t, nil, &fakeReasoning{}, &fakeFetcher{}, nil)
	payload := agent.Ask(context.Background(), "gdp")
	if payload.FetchStatus != FetchStatusNoDatasets {
		t.Fatalf("expected no_datasets, got %s", payload.FetchStatus)
	}
	if payload.AnswerStatus != AnswerStatusFailed || payload.Answer == "" {
		t.Fatalf("failure payload must still carry an answer text: %+v", payload)
	}
}

func TestAgentAsk_SelectorDeclines(t *testing.T) {
	reasoning := &fakeReasoning{chooseErr: provider.ErrNoneFit}
	agent := newTestAgent(t, testSnapshot(), reasoning, &fakeFetcher{}, nil)
	payload := agent.Ask(context.Background(), "what is the weather tomorrow")
	if payload.FetchStatus != FetchStatusNoMatch {
		t.Fatalf("expected no_confident_match, got %s", payload.FetchStatus)
	}
	if payload.Chosen != nil {
		t.Fatalf("no selection should be recorded on decline: %+v", payload.Chosen)
	}
	if len(payload.Candidates) == 0 {
		t.Fatal("ranked candidates should still be reported")
	}
}

func TestAgentAsk_RepairedFetchReportsBothAttempts(t *testing.T) {
	calls := 0
	reasoning := &fakeReasoning{
		chooseIdx: 0,
		fill: func(req provider.FillRequest) (map[string]string, error) {
			calls++
			p := goodParams()
			if calls == 1 {
				p["TableName"] = "T99999"
			}
			return p, nil
		},
		genText: "Real GDP increased 2.5 percent in 2023.",
	}
	fetcher := &fakeFetcher{results: []*beaapi.FetchResult{
		{Status: beaapi.StatusRejected, URL: "https://example.test/r1", Reason: "Invalid TableName"},
		{Status: beaapi.StatusOK, URL: "https://example.test/r2", Data: []map[string]any{{"DataValue": "2.5"}}},
	}}
	agent := newTestAgent(t, testSnapshot(), reasoning, fetcher, nil)

	payload := agent.Ask(context.Background(), "How did real GDP change in 2023?")

	if payload.FetchStatus != beaapi.StatusOK {
		t.Fatalf("expected repaired success, got %s (%s)", payload.FetchStatus, payload.Error)
	}
	if len(payload.Attempts) != 2 {
		t.Fatalf("expected both attempts in payload, got %d", len(payload.Attempts))
	}
	if payload.SecondAttempt != beaapi.StatusOK {
		t.Fatalf("unexpected second attempt status %q", payload.SecondAttempt)
	}
	if payload.CorrectedParams["TableName"] != "T10101" {
		t.Fatalf("corrected params missing: %v", payload.CorrectedParams)
	}
	if payload.AnswerStatus != AnswerStatusAnswered {
		t.Fatalf("expected answered, got %s", payload.AnswerStatus)
	}
}

func TestAgentAsk_TerminalRejectionFails(t *testing.T) {
	reasoning := &fakeReasoning{
		chooseIdx: 0,
		fill: func(req provider.FillRequest) (map[string]string, error) {
			return goodParams(), nil
		},
		genText: "should not be used",
	}
	fetcher := &fakeFetcher{results: []*beaapi.FetchResult{
		{Status: beaapi.StatusRejected, URL: "https://example.test/r1", Reason: "Invalid Year"},
		{Status: beaapi.StatusRejected, URL: "https://example.test/r2", Reason: "Invalid Year"},
	}}
	auditor := &fakeAuditor{}
	agent := newTestAgent(t, testSnapshot(), reasoning, fetcher, auditor)

	payload := agent.Ask(context.Background(), "gdp in year 99999")

	if payload.FetchStatus != FetchStatusFailed {
		t.Fatalf("expected failed fetch status, got %s", payload.FetchStatus)
	}
	if payload.AnswerStatus != AnswerStatusFailed {
		t.Fatalf("expected failed answer status, got %s", payload.AnswerStatus)
	}
	if reasoning.genCalls != 0 {
		t.Fatal("no answer may be fabricated from a failed fetch")
	}
	if payload.Answer == "" {
		t.Fatal("failure answer text missing")
	}
	if len(auditor.recorded) != 1 {
		t.Fatal("failed asks must still be audited")
	}
}

func TestAgentAsk_TransportErrorSurfacesAsError(t *testing.T) {
	reasoning := &fakeReasoning{
		chooseIdx: 0,
		fill: func(req provider.FillRequest) (map[string]string, error) {
			return goodParams(), nil
		},
	}
	fetcher := &fakeFetcher{errs: []error{errors.New("connection refused")}}
	agent := newTestAgent(t, testSnapshot(), reasoning, fetcher, nil)

	payload := agent.Ask(context.Background(), "gdp")

	if payload.FetchStatus != beaapi.StatusError {
		t.Fatalf("expected error fetch status, got %s", payload.FetchStatus)
	}
	if payload.Error == "" || payload.AnswerStatus != AnswerStatusFailed {
		t.Fatalf("transport failure not reported: %+v", payload)
	}
}

func TestAgentAsk_FetchTimeoutStillReturnsWellFormedPayload(t *testing.T) {
	reasoning := &fakeReasoning{
		chooseIdx: 0,
		fill: func(req provider.FillRequest) (map[string]string, error) {
			return goodParams(), nil
		},
	}
	fetcher := &fakeFetcher{errs: []error{context.DeadlineExceeded}}
	auditor := &fakeAuditor{}
	agent := newTestAgent(t, testSnapshot(), reasoning, fetcher, auditor)

	payload := agent.Ask(context.Background(), "gdp")

	if payload.FetchStatus != beaapi.StatusError {
		t.Fatalf("expected error fetch status for timeout, got %s", payload.FetchStatus)
	}
	if payload.AnswerStatus != AnswerStatusFailed || payload.Answer == "" {
		t.Fatalf("timeout payload not well formed: %+v", payload)
	}
	if !strings.Contains(payload.Error, StepFetch) {
		t.Fatalf("error should name the timed-out step, got %q", payload.Error)
	}
	if payload.RequestID == "" || payload.Elapsed <= 0 {
		t.Fatalf("payload identity/timing missing: %+v", payload)
	}
	if len(auditor.recorded) != 1 {
		t.Fatal("timed-out asks must still be audited")
	}
}

func TestAgentAsk_AuditFailureIsSwallowed(t *testing.T) {
	reasoning := &fakeReasoning{
		chooseIdx: 0,
		fill: func(req provider.FillRequest) (map[string]string, error) {
			return goodParams(), nil
		},
		genText: "answer",
	}
	fetcher := &fakeFetcher{results: []*beaapi.FetchResult{
		{Status: beaapi.StatusOK, URL: "u", Data: []map[string]any{{"DataValue": "1"}}},
	}}
	auditor := &fakeAuditor{err: errors.New("db down")}
	agent := newTestAgent(t, testSnapshot(), reasoning, fetcher, auditor)

	payload := agent.Ask(context.Background(), "gdp")
	if payload.AnswerStatus != AnswerStatusAnswered {
		t.Fatalf("audit failure must not affect the caller: %+v", payload)
	}
}
