package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyVersion   = "econoquery:metadata:version"
	keyDatasets  = "econoquery:metadata:datasets"
	keyDocuments = "econoquery:metadata:documents"
)

// Conn opens and pings a redis connection for the metadata cache.
func Conn(ctx context.Context, host, port, password string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    password,
		DB:          db,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return client, nil
}

// RedisCache persists snapshots between process runs so startup does not have
// to re-fetch and re-embed the full dataset catalog every time.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache returns a cache bound to the given client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// SaveSnapshot stores the snapshot's datasets and documents (embeddings included).
func (c *RedisCache) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	datasets, err := json.Marshal(snap.Datasets)
	if err != nil {
		return fmt.Errorf("marshal datasets: %w", err)
	}
	documents, err := json.Marshal(snap.Documents)
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, keyDatasets, datasets, 0)
	pipe.Set(ctx, keyDocuments, documents, 0)
	pipe.Set(ctx, keyVersion, snap.Version, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores the last saved snapshot. Returns (nil, nil) when the
// cache is empty.
func (c *RedisCache) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	version, err := c.client.Get(ctx, keyVersion).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot version: %w", err)
	}

	rawDatasets, err := c.client.Get(ctx, keyDatasets).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load datasets: %w", err)
	}
	rawDocuments, err := c.client.Get(ctx, keyDocuments).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}

	var datasets []Dataset
	if err := json.Unmarshal(rawDatasets, &datasets); err != nil {
		return nil, fmt.Errorf("unmarshal datasets: %w", err)
	}
	var documents []Document
	if err := json.Unmarshal(rawDocuments, &documents); err != nil {
		return nil, fmt.Errorf("unmarshal documents: %w", err)
	}

	return NewSnapshot(version, datasets, documents), nil
}
