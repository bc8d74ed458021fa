package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ratesim/internal/model"
	"ratesim/internal/normalize"
)

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("2026-03-02 12:34:56 client42 WRITE")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "2026-03-02 12:34:56" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
	if fields.ClientID != "client42" || fields.Category != "WRITE" {
		t.Fatalf("client/category: %q %q", fields.ClientID, fields.Category)
	}
}

func TestParseKeyValue(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("type=delete client=alpha ts=1772450000 note=x")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.ClientID != "alpha" || fields.Category != "delete" || fields.Timestamp != "1772450000" {
		t.Fatalf("kv parse mismatch: %+v", fields)
	}
	if fields.Extras["note"] != "x" {
		t.Fatalf("extras: %v", fields.Extras)
	}
}

func TestParseClockTime(t *testing.T) {
	fields, err := NewParser().ParseLine("03:05 nightly READ")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "03:05" || fields.ClientID != "nightly" {
		t.Fatalf("clock parse mismatch: %+v", fields)
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("timestamp,client_id,type"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err := p.ParseLine("2026-03-02T12:34:56Z,client01,UPDATE")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.ClientID != "client01" || fields.Category != "UPDATE" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
}

func TestParseCSVWithoutHeader(t *testing.T) {
	fields, err := NewParser().ParseLine("1772450000,c9,GET")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "1772450000" || fields.ClientID != "c9" || fields.Category != "GET" {
		t.Fatalf("positional csv mismatch: %+v", fields)
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"timestamp":1772450000000,"client":"client01","type":"POST"}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.ClientID != "client01" || fields.Category != "POST" {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
	if fields.Timestamp != "1772450000000" {
		t.Fatalf("epoch millis mangled: %q", fields.Timestamp)
	}
}

func TestScriptRun(t *testing.T) {
	script := NewScript(time.UTC, nil)
	input := strings.Join([]string{
		"# warm-up",
		"",
		"2026-03-02T12:00:00Z c1 READ",
		"2026-03-02T12:00:01Z c1 FETCH",
		"2026-03-02T12:00:02Z c1 DELETE",
		"not-a-time,,",
		`{"client_id":"c2","category":"write","timestamp":"2026-03-02T12:00:03Z"}`,
	}, "\n")

	var got []model.Request
	var bad []*LineError
	n, err := script.Run(context.Background(), strings.NewReader(input),
		func(r model.Request) { got = append(got, r) },
		func(e *LineError) { bad = append(bad, e) })
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 3 || len(got) != 3 {
		t.Fatalf("handled %d requests, want 3", n)
	}
	if got[1].Category != model.CategoryDelete || got[2].ClientID != "c2" || got[2].Category != model.CategoryWrite {
		t.Fatalf("unexpected requests: %+v", got)
	}
	if len(bad) != 2 || bad[0].Line != 4 || bad[1].Line != 6 {
		t.Fatalf("bad lines: %+v", bad)
	}
	if !errors.Is(bad[1], normalize.ErrMissingClient) {
		t.Fatalf("expected missing client, got %v", bad[1].Err)
	}
}

func TestScriptStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := NewScript(time.UTC, nil).Run(ctx, strings.NewReader("c1 READ\nc1 READ\n"), func(model.Request) {}, nil)
	if !errors.Is(err, context.Canceled) || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestScriptAnchorsClockTimesToItsClock(t *testing.T) {
	day := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	script := NewScript(time.UTC, func() time.Time { return day })
	req, ok, err := script.ParseRequest("03:05 nightly READ")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	want := time.Date(2025, 1, 15, 3, 5, 0, 0, time.UTC)
	if !req.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %s, want %s", req.Timestamp, want)
	}
}
