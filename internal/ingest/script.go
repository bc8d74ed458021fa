package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"ratesim/internal/model"
	"ratesim/internal/normalize"
)

// LineError reports a script line that could not be turned into a request.
type LineError struct {
	Line int
	Raw  string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Script feeds request lines from a reader into a handler. Lines starting
// with '#' are comments.
type Script struct {
	parser *Parser
	loc    *time.Location
	clock  func() time.Time
}

// NewScript parses timestamps in loc. Bare clock times land on the date
// clock reports; a nil clock means time.Now.
func NewScript(loc *time.Location, clock func() time.Time) *Script {
	if clock == nil {
		clock = time.Now
	}
	return &Script{parser: NewParser(), loc: loc, clock: clock}
}

// ParseRequest turns one line into a request. ok is false for blank,
// comment and header lines.
func (s *Script) ParseRequest(line string) (req model.Request, ok bool, err error) {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return model.Request{}, false, nil
	}
	fields, err := s.parser.ParseLine(line)
	if err != nil || fields == nil {
		return model.Request{}, false, err
	}
	req, err = normalize.Normalize(*fields, s.loc, s.clock())
	if err != nil {
		return model.Request{}, false, err
	}
	return req, true, nil
}

// Run reads r until EOF or ctx is done. Bad lines go to onError and do not
// stop the run. It returns the number of requests handed to handle.
func (s *Script) Run(ctx context.Context, r io.Reader, handle func(model.Request), onError func(*LineError)) (int, error) {
	scanner := bufio.NewScanner(r)
	n, count := 0, 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		n++
		line := scanner.Text()
		req, ok, err := s.ParseRequest(line)
		if err != nil {
			if onError != nil {
				onError(&LineError{Line: n, Raw: line, Err: err})
			}
			continue
		}
		if !ok {
			continue
		}
		handle(req)
		count++
	}
	return count, scanner.Err()
}

func (s *Script) RunFile(ctx context.Context, path string, handle func(model.Request), onError func(*LineError)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return s.Run(ctx, f, handle, onError)
}
