// Package rank scores dataset/table lookup documents against a question
// with a weighted blend of lexical and embedding similarity.
package rank

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/econoquery/econoquery/config"
	"github.com/econoquery/econoquery/internal/metadata"
	"github.com/econoquery/econoquery/provider"
)

// CandidateScore is one ranked (dataset, optional table) pair.
// Ephemeral: created per question, never persisted.
type CandidateScore struct {
	DatasetName    string  `json:"dataset_name"`
	TableName      string  `json:"table_name,omitempty"`
	KeywordScore   float64 `json:"keyword_score"`
	EmbeddingScore float64 `json:"embedding_score"`
	CombinedScore  float64 `json:"combined_score"`
}

// Ranker ranks lookup documents. Scoring over many documents fans out over a
// bounded worker pool; results are joined and sorted afterwards, so
// parallelism never affects the final ordering.
type Ranker struct {
	embedder provider.Embedder
	logger   *log.Logger

	topN            int
	embeddingWeight float64
	keywordWeight   float64
	workers         int

	// keyword index cached per snapshot version
	mu           sync.Mutex
	indexVersion string
	index        bleve.Index
}

// NewRanker creates a ranker with the given scoring configuration.
func NewRanker(embedder provider.Embedder, cfg config.RankingConfig, logger *log.Logger) *Ranker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Ranker{
		embedder:        embedder,
		logger:          logger,
		topN:            cfg.TopN,
		embeddingWeight: cfg.EmbeddingWeight,
		keywordWeight:   cfg.KeywordWeight,
		workers:         cfg.Workers,
	}
}

// Rank returns at most topN candidates sorted by non-increasing combined
// score, ties broken by dataset then table name. An empty snapshot yields an
// empty result and no error: the caller must treat that as "no candidates".
func (r *Ranker) Rank(ctx context.Context, question string, snap *metadata.Snapshot) ([]CandidateScore, error) {
	if snap.Empty() {
		return nil, nil
	}

	keywordScores, err := r.keywordScores(question, snap)
	if err != nil {
		return nil, fmt.Errorf("keyword scoring: %w", err)
	}

	embeddingScores, err := r.embeddingScores(ctx, question, snap)
	if err != nil {
		return nil, err
	}

	candidates := make([]CandidateScore, len(snap.Documents))
	for i, doc := range snap.Documents {
		kw := keywordScores[doc.ID()]
		emb := embeddingScores[i]
		candidates[i] = CandidateScore{
			DatasetName:    doc.DatasetName,
			TableName:      doc.TableName,
			KeywordScore:   kw,
			EmbeddingScore: emb,
			CombinedScore:  r.embeddingWeight*emb + r.keywordWeight*kw,
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CombinedScore != candidates[j].CombinedScore {
			return candidates[i].CombinedScore > candidates[j].CombinedScore
		}
		if candidates[i].DatasetName != candidates[j].DatasetName {
			return candidates[i].DatasetName < candidates[j].DatasetName
		}
		return candidates[i].TableName < candidates[j].TableName
	})

	if len(candidates) > r.topN {
		candidates = candidates[:r.topN]
	}
	return candidates, nil
}

// keywordScores runs the question through the snapshot's bleve index and
// normalizes hit scores to [0,1] by the best hit. Unmatched documents score 0.
func (r *Ranker) keywordScores(question string, snap *metadata.Snapshot) (map[string]float64, error) {
	idx, err := r.snapshotIndex(snap)
	if err != nil {
		return nil, err
	}

	query := bleve.NewMatchQuery(question)
	req := bleve.NewSearchRequestOptions(query, len(snap.Documents), 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(res.Hits))
	var max float64
	for _, hit := range res.Hits {
		if hit.Score > max {
			max = hit.Score
		}
	}
	if max == 0 {
		return scores, nil
	}
	for _, hit := range res.Hits {
		scores[hit.ID] = hit.Score / max
	}
	return scores, nil
}

// embeddingScores computes cosine similarity between the question embedding
// and every document embedding, fanned out across workers. When the provider
// returns no vector the ranker degrades to keyword-only scoring.
func (r *Ranker) embeddingScores(ctx context.Context, question string, snap *metadata.Snapshot) ([]float64, error) {
	scores := make([]float64, len(snap.Documents))

	qvecs, err := r.embedder.CreateEmbedding(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("question embedding: %w", err)
	}
	if len(qvecs) == 0 || len(qvecs[0]) == 0 {
		r.logger.Printf("no question embedding returned; ranking on keywords only")
		return scores, nil
	}
	qvec := qvecs[0]

	workers := r.workers
	if workers > len(snap.Documents) {
		workers = len(snap.Documents)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				scores[i] = clamp01(cosine(qvec, snap.Documents[i].Embedding))
			}
		}()
	}
	for i := range snap.Documents {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return scores, nil
}

// snapshotIndex returns a mem-only bleve index over the snapshot's documents,
// rebuilt only when the snapshot version changes.
func (r *Ranker) snapshotIndex(snap *metadata.Snapshot) (bleve.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index != nil && r.indexVersion == snap.Version {
		return r.index, nil
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	for _, doc := range snap.Documents {
		if err := idx.Index(doc.ID(), map[string]string{"text": doc.KeywordText()}); err != nil {
			return nil, err
		}
	}
	if r.index != nil {
		_ = r.index.Close()
	}
	r.index = idx
	r.indexVersion = snap.Version
	return idx, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
