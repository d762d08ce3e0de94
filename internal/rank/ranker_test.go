package rank

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/econoquery/econoquery/config"
	"github.com/econoquery/econoquery/internal/metadata"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testConfig() config.RankingConfig {
	return config.RankingConfig{TopN: 10, EmbeddingWeight: 0.6, KeywordWeight: 0.4, Workers: 4}
}

func snapshotWithDocs(docs []metadata.Document) *metadata.Snapshot {
	return metadata.NewSnapshot("v1", nil, docs)
}

func TestRank_EmptySnapshot(t *testing.T) {
	r := NewRanker(&fakeEmbedder{}, testConfig(), testLogger())
	got, err := r.Rank(context.Background(), "how did GDP change", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates for empty snapshot, got %d", len(got))
	}
}

func TestRank_EmbeddingSimilarityOrdersCandidates(t *testing.T) {
	docs := []metadata.Document{
		{DatasetName: "NIPA", TableName: "T10101", TableDescription: "Percent Change in Real Gross Domestic Product", Embedding: []float32{1, 0}},
		{DatasetName: "NIPA", TableName: "T20100", TableDescription: "Personal Income and Its Disposition", Embedding: []float32{0, 1}},
	}
	// Question vector aligned with the first document.
	r := NewRanker(&fakeEmbedder{vec: []float32{1, 0}}, testConfig(), testLogger())
	got, err := r.Rank(context.Background(), "real gross domestic product change", snapshotWithDocs(docs))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].TableName != "T10101" {
		t.Fatalf("expected T10101 first, got %+v", got[0])
	}
	if got[0].EmbeddingScore <= got[1].EmbeddingScore {
		t.Fatalf("expected aligned document to win on embedding score: %+v", got)
	}
	if got[0].CombinedScore < got[0].EmbeddingScore*0.6 {
		t.Fatalf("combined score below weighted embedding component: %+v", got[0])
	}
}

func TestRank_TruncatesToTopN(t *testing.T) {
	var docs []metadata.Document
	for i := 0; i < 25; i++ {
		docs = append(docs, metadata.Document{
			DatasetName: "NIPA",
			TableName:   fmt.Sprintf("T%05d", i),
			Embedding:   []float32{1, 0},
		})
	}
	r := NewRanker(&fakeEmbedder{vec: []float32{1, 0}}, testConfig(), testLogger())
	got, err := r.Rank(context.Background(), "gdp", snapshotWithDocs(docs))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected at most 10 candidates, got %d", len(got))
	}
}

func TestRank_TieBreakByDatasetThenTable(t *testing.T) {
	// All documents score identically; order must still be deterministic.
	docs := []metadata.Document{
		{DatasetName: "Regional", TableName: "CAINC1", Embedding: []float32{1, 0}},
		{DatasetName: "NIPA", TableName: "T20100", Embedding: []float32{1, 0}},
		{DatasetName: "NIPA", TableName: "T10101", Embedding: []float32{1, 0}},
	}
	r := NewRanker(&fakeEmbedder{vec: []float32{1, 0}}, testConfig(), testLogger())
	for run := 0; run < 5; run++ {
		got, err := r.Rank(context.Background(), "zzz nothing lexical matches", snapshotWithDocs(docs))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got[0].DatasetName != "NIPA" || got[0].TableName != "T10101" ||
			got[1].TableName != "T20100" || got[2].DatasetName != "Regional" {
			t.Fatalf("run %d: unstable tie-break ordering: %+v", run, got)
		}
	}
}

func TestRank_KeywordOnlyFallbackWhenNoEmbedding(t *testing.T) {
	docs := []metadata.Document{
		{DatasetName: "NIPA", TableName: "T10101", TableDescription: "Real Gross Domestic Product"},
		{DatasetName: "Regional", TableName: "CAINC1", TableDescription: "County personal income"},
	}
	r := NewRanker(&fakeEmbedder{vec: nil}, testConfig(), testLogger())
	got, err := r.Rank(context.Background(), "gross domestic product", snapshotWithDocs(docs))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].TableName != "T10101" {
		t.Fatalf("expected keyword match to rank first, got %+v", got[0])
	}
	if got[0].EmbeddingScore != 0 {
		t.Fatalf("expected zero embedding score in fallback, got %+v", got[0])
	}
	if got[0].KeywordScore != 1 {
		t.Fatalf("expected best keyword hit normalized to 1, got %+v", got[0])
	}
}

func TestRank_ZeroWorkersStillScores(t *testing.T) {
	docs := []metadata.Document{
		{DatasetName: "NIPA", TableName: "T10101", Embedding: []float32{1, 0}},
		{DatasetName: "NIPA", TableName: "T20100", Embedding: []float32{0, 1}},
	}
	cfg := testConfig()
	cfg.Workers = 0
	r := NewRanker(&fakeEmbedder{vec: []float32{1, 0}}, cfg, testLogger())

	done := make(chan struct{})
	var got []CandidateScore
	var err error
	go func() {
		got, err = r.Rank(context.Background(), "gdp", snapshotWithDocs(docs))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("rank did not finish with zero configured workers")
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].TableName != "T10101" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestRank_EmbedderErrorSurfaces(t *testing.T) {
	docs := []metadata.Document{{DatasetName: "NIPA", TableName: "T10101"}}
	r := NewRanker(&fakeEmbedder{err: errors.New("provider down")}, testConfig(), testLogger())
	if _, err := r.Rank(context.Background(), "gdp", snapshotWithDocs(docs)); err == nil {
		t.Fatal("expected embedder error to surface")
	}
}
