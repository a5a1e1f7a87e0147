package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Postgres is the relational Store implementation. The schema is created on
// open if missing.
type Postgres struct {
	db  *sql.DB
	log zerolog.Logger
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ingested_urls (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL,
		url_hash TEXT NOT NULL,
		label SMALLINT NOT NULL,
		source TEXT,
		raw_payload TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reports (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL,
		url_hash TEXT NOT NULL,
		label TEXT NOT NULL,
		comment TEXT,
		contact TEXT,
		source TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL,
		url_hash TEXT NOT NULL,
		score INT NOT NULL,
		risk_level TEXT NOT NULL,
		signals JSONB,
		ml_score INT,
		heuristic_score INT,
		tranco_verified BOOLEAN NOT NULL DEFAULT FALSE,
		virustotal_checked BOOLEAN NOT NULL DEFAULT FALSE,
		duration_ms BIGINT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_results_url_hash ON analysis_results (url_hash)`,
}

// OpenPostgres connects and ensures the schema exists.
func OpenPostgres(dsn string, log zerolog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return &Postgres{db: db, log: log}, nil
}

func (p *Postgres) SaveIngested(ctx context.Context, rec IngestedURL) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ingested_urls (url, url_hash, label, source, raw_payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.URL, rec.URLHash, rec.Label, rec.Source, rec.RawPayload, rec.CreatedAt)
	return err
}

func (p *Postgres) SaveReport(ctx context.Context, rec Report) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO reports (url, url_hash, label, comment, contact, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.URL, rec.URLHash, rec.Label, rec.Comment, rec.Contact, rec.Source, rec.CreatedAt)
	return err
}

func (p *Postgres) SaveAnalysis(ctx context.Context, rec AnalysisResult) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO analysis_results
		 (url, url_hash, score, risk_level, signals, ml_score, heuristic_score,
		  tranco_verified, virustotal_checked, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.URL, rec.URLHash, rec.Score, rec.RiskLevel, []byte(rec.Signals),
		rec.MLScore, rec.HeuristicScore, rec.TrancoVerified, rec.VirusTotalChecked,
		rec.DurationMs, rec.CreatedAt)
	return err
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
