// Package refresh builds metadata snapshots from the data API and installs
// them into the catalog, at startup and optionally on a cron schedule.
package refresh

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"

	"github.com/econoquery/econoquery/internal/metadata"
	"github.com/econoquery/econoquery/internal/telemetry"
	"github.com/econoquery/econoquery/provider"
)

const embedBatchSize = 64

// CatalogFetcher is the slice of the data API the refresher needs.
type CatalogFetcher interface {
	GetDatasetList(ctx context.Context) ([]metadata.Dataset, error)
	GetParameterList(ctx context.Context, datasetName string) ([]metadata.ParameterDef, error)
	GetParameterValues(ctx context.Context, datasetName, parameterName string) ([]metadata.ParameterValue, error)
}

// Cache persists snapshots between runs. Optional.
type Cache interface {
	LoadSnapshot(ctx context.Context) (*metadata.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *metadata.Snapshot) error
}

// Refresher fetches dataset metadata, embeds lookup documents and swaps
// complete snapshots into the catalog.
type Refresher struct {
	fetcher   CatalogFetcher
	cache     Cache
	embedder  provider.Embedder
	reasoning provider.Reasoning
	catalog   *metadata.Catalog
	logger    *log.Logger
}

// NewRefresher creates a refresher. cache may be nil to disable persistence.
func NewRefresher(fetcher CatalogFetcher, cache Cache, embedder provider.Embedder, reasoning provider.Reasoning, catalog *metadata.Catalog, logger *log.Logger) *Refresher {
	return &Refresher{
		fetcher:   fetcher,
		cache:     cache,
		embedder:  embedder,
		reasoning: reasoning,
		catalog:   catalog,
		logger:    logger,
	}
}

// Bootstrap installs a snapshot at startup: from cache when present, from the
// API when the cache is empty or force is set.
func (r *Refresher) Bootstrap(ctx context.Context, force bool) error {
	if !force && r.cache != nil {
		snap, err := r.cache.LoadSnapshot(ctx)
		if err != nil {
			r.logger.Printf("cache load failed, refreshing from API: %v", err)
		} else if !snap.Empty() {
			r.logger.Printf("using cached metadata snapshot %s (%d documents)", snap.Version, len(snap.Documents))
			r.catalog.Install(snap)
			return nil
		}
	}
	if force {
		r.logger.Printf("forced refresh: fetching dataset metadata from API")
	} else {
		r.logger.Printf("no cached metadata found, fetching from API")
	}
	return r.Refresh(ctx)
}

// Refresh builds a fresh snapshot and installs it atomically. In-flight
// requests keep the snapshot they started with.
func (r *Refresher) Refresh(ctx context.Context) error {
	snap, err := r.build(ctx)
	if err != nil {
		telemetry.RefreshTotal.WithLabelValues("error").Inc()
		return err
	}

	r.catalog.Install(snap)
	telemetry.RefreshTotal.WithLabelValues("ok").Inc()
	r.logger.Printf("installed metadata snapshot %s: %d datasets, %d documents", snap.Version, len(snap.Datasets), len(snap.Documents))

	if r.cache != nil {
		if err := r.cache.SaveSnapshot(ctx, snap); err != nil {
			r.logger.Printf("cache save failed: %v", err)
		}
	}
	return nil
}

func (r *Refresher) build(ctx context.Context) (*metadata.Snapshot, error) {
	datasets, err := r.fetcher.GetDatasetList(ctx)
	if err != nil {
		return nil, fmt.Errorf("dataset list: %w", err)
	}

	for i := range datasets {
		params, err := r.fetcher.GetParameterList(ctx, datasets[i].Name)
		if err != nil {
			return nil, fmt.Errorf("parameters for %s: %w", datasets[i].Name, err)
		}
		for j := range params {
			values, err := r.fetcher.GetParameterValues(ctx, datasets[i].Name, params[j].Name)
			if err != nil {
				// Some parameters expose no value list; keep the definition.
				r.logger.Printf("values for %s.%s unavailable: %v", datasets[i].Name, params[j].Name, err)
				continue
			}
			params[j].Values = values
		}
		datasets[i].Parameters = params
	}

	documents := metadata.BuildDocuments(datasets)
	tables := metadata.TablesFromDocuments(documents)
	for i := range datasets {
		datasets[i].Tables = tables[datasets[i].Name]
	}

	if err := r.embedDocuments(ctx, documents); err != nil {
		return nil, err
	}
	r.describeDatasets(ctx, datasets, documents)

	return metadata.NewSnapshot(uuid.NewString(), datasets, documents), nil
}

// embedDocuments fills in document embeddings in stable batches.
func (r *Refresher) embedDocuments(ctx context.Context, documents []metadata.Document) error {
	for start := 0; start < len(documents); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(documents) {
			end = len(documents)
		}
		texts := make([]string, 0, end-start)
		for _, doc := range documents[start:end] {
			texts = append(texts, doc.EmbeddingText())
		}
		vecs, err := r.embedder.CreateEmbedding(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed documents: %w", err)
		}
		if len(vecs) != end-start {
			return fmt.Errorf("embed documents: got %d vectors for %d texts", len(vecs), end-start)
		}
		for i, vec := range vecs {
			documents[start+i].Embedding = vec
		}
	}
	return nil
}

// describeDatasets generates a short summary for datasets that lack one.
// Best effort: a failed summary leaves the raw description in place.
func (r *Refresher) describeDatasets(ctx context.Context, datasets []metadata.Dataset, documents []metadata.Document) {
	if r.reasoning == nil {
		return
	}
	for i := range datasets {
		if datasets[i].GeneratedDescription != "" {
			continue
		}
		detailed := detailedDescription(datasets[i], documents)
		summary, err := r.reasoning.GenerateText(ctx,
			"Summarize the following dataset description in 2-3 concise sentences, focusing on key aspects and purpose:\n\n"+detailed)
		if err != nil {
			r.logger.Printf("summary for %s failed: %v", datasets[i].Name, err)
			continue
		}
		datasets[i].GeneratedDescription = summary
	}
}

func detailedDescription(ds metadata.Dataset, documents []metadata.Document) string {
	var tableBullets []string
	for _, doc := range documents {
		if doc.DatasetName == ds.Name && doc.TableName != "" {
			tableBullets = append(tableBullets, fmt.Sprintf("- %s: %s", doc.TableName, doc.TableDescription))
		}
	}
	if len(tableBullets) == 0 {
		tableBullets = []string{"- No tables found."}
	}
	var paramBullets []string
	for _, p := range ds.Parameters {
		paramBullets = append(paramBullets, fmt.Sprintf("- %s: %s", p.Name, p.Description))
	}
	return ds.Description + "\n\nTables:\n" + strings.Join(tableBullets, "\n") +
		"\n\nParameters:\n" + strings.Join(paramBullets, "\n")
}

// RunSchedule refreshes on a cron schedule until ctx is done. Supports
// standard 5-field expressions plus @daily/@hourly shorthands.
func (r *Refresher) RunSchedule(ctx context.Context, schedule string) error {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	for {
		next := expr.Next(time.Now())
		if next.IsZero() {
			return fmt.Errorf("refresh schedule %q never fires", schedule)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := r.Refresh(ctx); err != nil {
			r.logger.Printf("scheduled refresh failed: %v", err)
		}
	}
}
