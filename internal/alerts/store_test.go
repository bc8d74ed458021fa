package alerts

import (
	"fmt"
	"testing"
	"time"

	"ratesim/internal/model"
)

func rec(client string, level model.Level, at time.Time) model.ReportRecord {
	return model.ReportRecord{ID: fmt.Sprintf("%s-%d", client, at.Unix()), ClientID: client, Level: level, AnalyzedAt: at}
}

func TestNormalNotStored(t *testing.T) {
	s := NewStore(10)
	if s.Add(rec("c1", model.LevelNormal, time.Now())) {
		t.Fatalf("normal record should be dropped")
	}
	if s.Len() != 0 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestRingEvictsOldest(t *testing.T) {
	s := NewStore(3)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Add(rec(fmt.Sprintf("c%d", i), model.LevelWarning, base.Add(time.Duration(i)*time.Second)))
	}
	got := s.List(0)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].ClientID != "c2" || got[2].ClientID != "c4" {
		t.Fatalf("unexpected order: %v, %v", got[0].ClientID, got[2].ClientID)
	}
	latest := s.List(1)
	if len(latest) != 1 || latest[0].ClientID != "c4" {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestSinceAndForClient(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s.Add(rec("a", model.LevelWarning, base))
	s.Add(rec("b", model.LevelCritical, base.Add(time.Minute)))
	s.Add(rec("a", model.LevelCritical, base.Add(2*time.Minute)))

	if got := s.Since(base.Add(time.Minute)); len(got) != 2 {
		t.Fatalf("since = %d", len(got))
	}
	if got := s.ForClient("a"); len(got) != 2 || got[1].Level != model.LevelCritical {
		t.Fatalf("for client = %+v", got)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("clear left %d", s.Len())
	}
}
