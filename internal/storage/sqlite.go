package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			client_id TEXT NOT NULL,
			category TEXT NOT NULL,
			outcome TEXT NOT NULL,
			remaining INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_client_ts ON decisions(client_id, ts)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			analyzed_at INTEGER NOT NULL,
			client_id TEXT NOT NULL,
			level TEXT NOT NULL,
			violations_json TEXT NOT NULL,
			stats_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_client_ts ON reports(client_id, analyzed_at)`,
	},
	insertDecision: `INSERT INTO decisions (ts, client_id, category, outcome, remaining) VALUES (?, ?, ?, ?, ?)`,
	insertReport: `INSERT INTO reports (id, analyzed_at, client_id, level, violations_json, stats_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
	selectReports: `SELECT id, analyzed_at, client_id, level, violations_json, stats_json
		FROM reports WHERE client_id = ? ORDER BY analyzed_at DESC, id LIMIT ?`,
}

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:ratesim.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer keeps in-memory databases shared and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, dialect: sqliteDialect}}, nil
}
