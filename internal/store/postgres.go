package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fab-analytics/uplift/internal/dataset"
)

// PostgresSource loads datasets from a Postgres warehouse.
//
// Schema:
//
//	CREATE TABLE exposure (
//	  entity_id VARCHAR(255) NOT NULL,
//	  recorded_at TIMESTAMPTZ NOT NULL,
//	  amount DOUBLE PRECISION NOT NULL,
//	  PRIMARY KEY (entity_id, recorded_at)
//	);
//	CREATE TABLE failure_events (
//	  entity_id VARCHAR(255) NOT NULL,
//	  occurred_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE adoptions (
//	  entity_id VARCHAR(255) PRIMARY KEY,
//	  adopted_at TIMESTAMPTZ NOT NULL
//	);
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource connects to Postgres and verifies the connection.
func NewPostgresSource(ctx context.Context, connStr string) (*PostgresSource, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &PostgresSource{pool: pool}, nil
}

// Load reads the full dataset. The result is not yet normalized; callers
// run it through the pipeline, which normalizes first.
func (p *PostgresSource) Load(ctx context.Context) (*dataset.Dataset, error) {
	ds := &dataset.Dataset{Adoptions: make(map[string]time.Time)}

	rows, err := p.pool.Query(ctx,
		`SELECT entity_id, recorded_at, amount FROM exposure ORDER BY entity_id, recorded_at`)
	if err != nil {
		return nil, fmt.Errorf("query exposure: %w", err)
	}
	for rows.Next() {
		var rec dataset.ExposureRecord
		if err := rows.Scan(&rec.Entity, &rec.Timestamp, &rec.Amount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan exposure row: %w", err)
		}
		ds.Exposure = append(ds.Exposure, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read exposure rows: %w", err)
	}

	rows, err = p.pool.Query(ctx,
		`SELECT entity_id, occurred_at FROM failure_events ORDER BY entity_id, occurred_at`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	for rows.Next() {
		var rec dataset.EventRecord
		if err := rows.Scan(&rec.Entity, &rec.Timestamp); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		ds.Events = append(ds.Events, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read event rows: %w", err)
	}

	rows, err = p.pool.Query(ctx, `SELECT entity_id, adopted_at FROM adoptions`)
	if err != nil {
		return nil, fmt.Errorf("query adoptions: %w", err)
	}
	for rows.Next() {
		var entity string
		var adoptedAt time.Time
		if err := rows.Scan(&entity, &adoptedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan adoption row: %w", err)
		}
		ds.Adoptions[entity] = adoptedAt
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read adoption rows: %w", err)
	}

	return ds, nil
}

func (p *PostgresSource) Close() error {
	p.pool.Close()
	return nil
}
