// Package store persists ask audit records in postgres so answered and
// failed questions can be reviewed later.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/econoquery/econoquery/internal/pipeline"
)

// Store wraps the audit database connection.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens the database, verifies the connection and ensures the
// schema exists.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	return open(ctx, "postgres", dsn)
}

func open(ctx context.Context, driverName, dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{DB: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS ask_runs (
            id UUID PRIMARY KEY,
            question TEXT NOT NULL,
            dataset_name TEXT,
            table_name TEXT,
            fetch_status TEXT NOT NULL,
            answer_status TEXT NOT NULL,
            params JSONB,
            corrected_params JSONB,
            error TEXT,
            answer TEXT,
            elapsed_ms BIGINT NOT NULL DEFAULT 0,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )
    `)
	if err != nil {
		return fmt.Errorf("create ask_runs table: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
        CREATE INDEX IF NOT EXISTS ask_runs_created_at_idx ON ask_runs (created_at DESC)
    `)
	if err != nil {
		return fmt.Errorf("create ask_runs index: %w", err)
	}
	return nil
}

// RecordAsk satisfies pipeline.Auditor.
func (s *Store) RecordAsk(ctx context.Context, payload pipeline.AnswerPayload) error {
	params, err := json.Marshal(payload.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	corrected, err := json.Marshal(payload.CorrectedParams)
	if err != nil {
		return fmt.Errorf("marshal corrected params: %w", err)
	}

	var datasetName, tableName string
	if payload.Chosen != nil {
		datasetName = payload.Chosen.DatasetName
		tableName = payload.Chosen.TableName
	}

	_, err = s.DB.ExecContext(ctx, `
        INSERT INTO ask_runs
            (id, question, dataset_name, table_name, fetch_status, answer_status,
             params, corrected_params, error, answer, elapsed_ms)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `,
		payload.RequestID, payload.Question, datasetName, tableName,
		payload.FetchStatus, payload.AnswerStatus,
		params, corrected, payload.Error, payload.Answer,
		payload.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert ask run: %w", err)
	}
	return nil
}

// AskRecord is one persisted ask run summary.
type AskRecord struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	DatasetName  string    `json:"dataset_name,omitempty"`
	TableName    string    `json:"table_name,omitempty"`
	FetchStatus  string    `json:"fetch_status"`
	AnswerStatus string    `json:"answer_status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecentAsks returns the latest runs, newest first.
func (s *Store) RecentAsks(ctx context.Context, limit int) ([]AskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
        SELECT id, question, COALESCE(dataset_name,''), COALESCE(table_name,''),
               fetch_status, answer_status, COALESCE(error,''), created_at
        FROM ask_runs ORDER BY created_at DESC LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query ask runs: %w", err)
	}
	defer rows.Close()

	var out []AskRecord
	for rows.Next() {
		var rec AskRecord
		if err := rows.Scan(&rec.ID, &rec.Question, &rec.DatasetName, &rec.TableName,
			&rec.FetchStatus, &rec.AnswerStatus, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ask run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}
