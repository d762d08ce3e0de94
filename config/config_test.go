package config

import "testing"

func TestNormalize_Defaults(t *testing.T) {
	got := RankingConfig{}.Normalize()
	if got.TopN != 10 || got.Workers != 8 {
		t.Fatalf("unexpected defaults: %+v", got)
	}
	if got.EmbeddingWeight != 0.6 || got.KeywordWeight != 0.4 {
		t.Fatalf("unexpected default weights: %+v", got)
	}
}

func TestNormalize_KeepsValidWeights(t *testing.T) {
	got := RankingConfig{TopN: 5, Workers: 2, EmbeddingWeight: 0.8, KeywordWeight: 0.2}.Normalize()
	if got.TopN != 5 || got.EmbeddingWeight != 0.8 || got.KeywordWeight != 0.2 {
		t.Fatalf("valid config mutated: %+v", got)
	}
}

func TestNormalize_RejectsNegativeWeights(t *testing.T) {
	got := RankingConfig{TopN: 5, Workers: 2, EmbeddingWeight: -1, KeywordWeight: 0.5}.Normalize()
	if got.EmbeddingWeight != 0.6 || got.KeywordWeight != 0.4 {
		t.Fatalf("negative weights not restored to defaults: %+v", got)
	}
}
