package alerts

import (
	"sync"
	"time"

	"ratesim/internal/model"
)

// Store keeps the most recent non-NORMAL analysis results in a bounded ring.
type Store struct {
	mu    sync.RWMutex
	buf   []model.ReportRecord
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

// Add keeps the record only when its level is above NORMAL and reports
// whether it was kept.
func (s *Store) Add(rec model.ReportRecord) bool {
	if rec.Level == model.LevelNormal {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rec)
		return true
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = rec
	return true
}

func (s *Store) List(limit int) []model.ReportRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.ReportRecord, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.ReportRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ReportRecord, 0)
	for _, rec := range s.buf {
		if !rec.AnalyzedAt.Before(ts) {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Store) ForClient(clientID string) []model.ReportRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ReportRecord, 0)
	for _, rec := range s.buf {
		if rec.ClientID == clientID {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
