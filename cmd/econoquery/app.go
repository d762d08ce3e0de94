package main

import (
	"context"
	"log"
	"time"

	"github.com/econoquery/econoquery/config"
	"github.com/econoquery/econoquery/internal/beaapi"
	"github.com/econoquery/econoquery/internal/metadata"
	"github.com/econoquery/econoquery/internal/pipeline"
	"github.com/econoquery/econoquery/internal/rank"
	"github.com/econoquery/econoquery/internal/refresh"
	"github.com/econoquery/econoquery/internal/store"
	"github.com/econoquery/econoquery/provider"
)

// app holds the shared dependencies every subcommand wires once.
type app struct {
	cfg       *config.Config
	catalog   *metadata.Catalog
	agent     *pipeline.Agent
	refresher *refresh.Refresher
	audit     *store.Store
	logger    *log.Logger
}

// buildApp assembles the full dependency graph from configuration.
// The redis cache and the postgres audit store are optional: a missing
// redis just means every start refreshes from the API.
func buildApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg := config.LoadConfig(cfgPath)
	logger := log.New(log.Writer(), "[ECONOQUERY] ", log.LstdFlags)

	prov, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}

	bea := beaapi.NewClient(cfg.BEA.APIKey, cfg.BEA.BaseURL, cfg.BEA.Timeout)
	catalog := metadata.NewCatalog()

	var cache refresh.Cache
	if cfg.Storage.Redis.Host != "" {
		client, err := metadata.Conn(ctx, cfg.Storage.Redis.Host, cfg.Storage.Redis.Port,
			cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, 5*time.Second)
		if err != nil {
			logger.Printf("redis unavailable, metadata cache disabled: %v", err)
		} else {
			cache = metadata.NewRedisCache(client)
		}
	}

	var audit *store.Store
	var auditor pipeline.Auditor
	if cfg.Storage.Postgres.URL != "" {
		audit, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.URL)
		if err != nil {
			return nil, err
		}
		auditor = audit
	}

	ranker := rank.NewRanker(prov, cfg.Ranking, logger)
	agent := pipeline.NewAgent(catalog, prov, ranker, bea, auditor, cfg.General.DefaultTimeout, logger)
	refresher := refresh.NewRefresher(bea, cache, prov, prov, catalog, logger)

	return &app{
		cfg:       cfg,
		catalog:   catalog,
		agent:     agent,
		refresher: refresher,
		audit:     audit,
		logger:    logger,
	}, nil
}
