package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id BIGSERIAL PRIMARY KEY,
			ts BIGINT NOT NULL,
			client_id TEXT NOT NULL,
			category TEXT NOT NULL,
			outcome TEXT NOT NULL,
			remaining INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_client_ts ON decisions(client_id, ts)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			analyzed_at BIGINT NOT NULL,
			client_id TEXT NOT NULL,
			level TEXT NOT NULL,
			violations_json JSONB NOT NULL,
			stats_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_client_ts ON reports(client_id, analyzed_at)`,
	},
	insertDecision: `INSERT INTO decisions (ts, client_id, category, outcome, remaining) VALUES ($1, $2, $3, $4, $5)`,
	insertReport: `INSERT INTO reports (id, analyzed_at, client_id, level, violations_json, stats_json)
		VALUES ($1, $2, $3, $4, $5, $6)`,
	selectReports: `SELECT id, analyzed_at, client_id, level, violations_json::text, stats_json::text
		FROM reports WHERE client_id = $1 ORDER BY analyzed_at DESC, id LIMIT $2`,
}

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/ratesim?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, dialect: postgresDialect}}, nil
}
