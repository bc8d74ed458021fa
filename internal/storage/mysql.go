package storage

import (
	"database/sql"
	"strings"

	"github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			ts BIGINT NOT NULL,
			client_id VARCHAR(255) NOT NULL,
			category VARCHAR(16) NOT NULL,
			outcome VARCHAR(16) NOT NULL,
			remaining INT NOT NULL,
			INDEX idx_decisions_client_ts (client_id, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id VARCHAR(64) PRIMARY KEY,
			analyzed_at BIGINT NOT NULL,
			client_id VARCHAR(255) NOT NULL,
			level VARCHAR(16) NOT NULL,
			violations_json JSON NOT NULL,
			stats_json JSON NOT NULL,
			INDEX idx_reports_client_ts (client_id, analyzed_at)
		)`,
	},
	insertDecision: `INSERT INTO decisions (ts, client_id, category, outcome, remaining) VALUES (?, ?, ?, ?, ?)`,
	insertReport: `INSERT INTO reports (id, analyzed_at, client_id, level, violations_json, stats_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
	selectReports: `SELECT id, analyzed_at, client_id, level, violations_json, stats_json
		FROM reports WHERE client_id = ? ORDER BY analyzed_at DESC, id LIMIT ?`,
}

type mysqlStore struct {
	baseStore
}

func NewMySQL(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "root@tcp(localhost:3306)/ratesim"
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return &mysqlStore{baseStore{db: sql.OpenDB(connector), dialect: mysqlDialect}}, nil
}
