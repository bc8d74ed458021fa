package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ratesim/internal/config"
	"ratesim/internal/model"
)

// Store archives decisions and analysis results. Nothing is read back into
// the ledgers; the archive only serves history queries.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveDecision(ctx context.Context, d model.Decision) error
	SaveReport(ctx context.Context, rec model.ReportRecord) error
	RecentReports(ctx context.Context, clientID string, limit int) ([]model.ReportRecord, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "mysql":
		return NewMySQL(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// dialect holds the statements that differ between databases.
type dialect struct {
	schema         []string
	insertDecision string
	insertReport   string
	selectReports  string
}

type baseStore struct {
	db *sql.DB
	dialect
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) SaveDecision(ctx context.Context, d model.Decision) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.insertDecision,
		toMillis(d.Request.Timestamp),
		d.Request.ClientID,
		string(d.Request.Category),
		string(d.Outcome),
		d.Remaining,
	)
	return err
}

func (b *baseStore) SaveReport(ctx context.Context, rec model.ReportRecord) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.insertReport,
		rec.ID,
		toMillis(rec.AnalyzedAt),
		rec.ClientID,
		rec.Level.String(),
		encodeJSON(rec.Violations),
		encodeJSON(rec.Stats),
	)
	return err
}

func (b *baseStore) RecentReports(ctx context.Context, clientID string, limit int) ([]model.ReportRecord, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := b.db.QueryContext(ctx, b.selectReports, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ReportRecord
	for rows.Next() {
		var (
			rec        model.ReportRecord
			analyzedAt int64
			level      string
			violations string
			stats      string
		)
		if err := rows.Scan(&rec.ID, &analyzedAt, &rec.ClientID, &level, &violations, &stats); err != nil {
			return nil, err
		}
		rec.AnalyzedAt = time.UnixMilli(analyzedAt).UTC()
		if rec.Level, err = model.ParseLevel(level); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(violations), &rec.Violations); err != nil {
			return nil, fmt.Errorf("decode violations of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(stats), &rec.Stats); err != nil {
			return nil, fmt.Errorf("decode stats of %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func toMillis(ts time.Time) int64 {
	if ts.IsZero() {
		return time.Now().UnixMilli()
	}
	return ts.UnixMilli()
}
