// Package shell is the line-oriented console of the simulator. Request lines
// are submitted to the engine; lines starting with ':' are commands.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ratesim/internal/engine"
	"ratesim/internal/ingest"
	"ratesim/internal/model"
	"ratesim/internal/report"
)

var errQuit = errors.New("quit")

type Session struct {
	engine *engine.Engine
	script *ingest.Script
	out    io.Writer
	clock  func() time.Time

	// Prompt is printed before every line when not empty.
	Prompt string
}

func New(eng *engine.Engine, script *ingest.Script, out io.Writer) *Session {
	return &Session{engine: eng, script: script, out: out, clock: time.Now}
}

// Run reads lines from in until EOF, ":quit" or ctx is done.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	for {
		s.prompt()
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			if err := s.Exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
	}
}

// Exec handles one line. A returned error describes a bad line; the
// session goes on.
func (s *Session) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, ":") {
		return s.command(ctx, strings.Fields(line[1:]))
	}
	req, ok, err := s.script.ParseRequest(line)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.printDecision(s.engine.Submit(ctx, req))
	return nil
}

// Replay submits every request line of r and prints each decision.
func (s *Session) Replay(ctx context.Context, r io.Reader) (int, error) {
	return s.script.Run(ctx, r, s.submitter(ctx), s.lineError)
}

func (s *Session) ReplayFile(ctx context.Context, path string) (int, error) {
	return s.script.RunFile(ctx, path, s.submitter(ctx), s.lineError)
}

func (s *Session) submitter(ctx context.Context) func(model.Request) {
	return func(req model.Request) {
		s.printDecision(s.engine.Submit(ctx, req))
	}
}

func (s *Session) lineError(le *ingest.LineError) {
	fmt.Fprintf(s.out, "error: %v\n", le)
}

func (s *Session) printDecision(d model.Decision) {
	if d.Admitted() {
		fmt.Fprintf(s.out, "%s %-8s %-6s ALLOWED remaining=%d\n", d.Request.Timestamp.Format("15:04:05"), d.Request.ClientID, d.Request.Category, d.Remaining)
		return
	}
	fmt.Fprintf(s.out, "%s %-8s %-6s BLOCKED rate limit exceeded\n", d.Request.Timestamp.Format("15:04:05"), d.Request.ClientID, d.Request.Category)
}

func (s *Session) prompt() {
	if s.Prompt != "" {
		fmt.Fprint(s.out, s.Prompt)
	}
}

func (s *Session) command(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("empty command, try :help")
	}
	name, args := strings.ToLower(args[0]), args[1:]
	switch name {
	case "quit", "exit", "q":
		return errQuit
	case "help", "h", "?":
		fmt.Fprint(s.out, helpText)
	case "clients":
		clients := s.engine.Clients()
		if len(clients) == 0 {
			fmt.Fprintln(s.out, "(no clients)")
		}
		for _, id := range clients {
			fmt.Fprintln(s.out, id)
		}
	case "compare":
		fmt.Fprint(s.out, report.Comparison(s.engine.Compare()))
	case "report":
		id, err := one(name, args)
		if err != nil {
			return err
		}
		fmt.Fprint(s.out, report.Violation(s.engine.Analyze(ctx, id)))
	case "summary":
		id, err := one(name, args)
		if err != nil {
			return err
		}
		fmt.Fprint(s.out, report.Usage(s.engine.Stats(id), s.clock()))
	case "stats":
		id, err := one(name, args)
		if err != nil {
			return err
		}
		s.printActivity(s.engine.Activity(id))
	case "quota":
		id, err := one(name, args)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s: remaining=%d reset_in=%s\n", id, s.engine.RemainingQuota(id), s.engine.TimeUntilReset(id).Round(time.Millisecond))
	case "clear":
		id, err := one(name, args)
		if err != nil {
			return err
		}
		s.engine.Clear(id)
		fmt.Fprintf(s.out, "cleared %s\n", id)
	case "history":
		return s.history(ctx, args)
	case "export":
		if len(args) != 2 {
			return errors.New("usage: :export <client> <path>")
		}
		rec := s.engine.Analyze(ctx, args[0])
		if err := report.Export(args[1], report.Violation(rec)); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "report written to %s\n", args[1])
	case "xlsx":
		path, err := one(name, args)
		if err != nil {
			return err
		}
		return s.writeWorkbook(path)
	default:
		return fmt.Errorf("unknown command :%s, try :help", name)
	}
	return nil
}

func (s *Session) printActivity(a model.ActivitySnapshot) {
	fmt.Fprintf(s.out, "%s: total=%d allowed=%d blocked=%d success=%.1f%%\n", a.ClientID, a.Total, a.Admitted, a.Rejected, a.SuccessRate())
	for _, r := range a.Records {
		fmt.Fprintf(s.out, "  %s %-6s %s\n", r.Timestamp.Format("15:04:05.000"), r.Category, r.Status())
	}
}

func (s *Session) history(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: :history <client> [limit]")
	}
	limit := 10
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("bad limit %q", args[1])
		}
		limit = n
	}
	list, err := s.engine.History(ctx, args[0], limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(s.out, "(no results)")
	}
	for _, rec := range list {
		fmt.Fprintf(s.out, "%s %-8s %d violations %s\n", rec.AnalyzedAt.Local().Format("2006-01-02 15:04:05"), rec.Level, len(rec.Violations), rec.ID)
	}
	return nil
}

func (s *Session) writeWorkbook(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteXLSX(f, s.engine.Compare(), s.engine.Alerts(0)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "workbook written to %s\n", path)
	return nil
}

func one(name string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: :%s <client>", name)
	}
	return args[0], nil
}

const helpText = `Request lines:
  2026-03-02T12:00:00Z client-a WRITE
  {"timestamp":"12:00:01","client_id":"client-a","category":"READ"}
  ts=12:00:02 client=client-a type=DELETE
  12:00:03,client-a,UPDATE
Commands:
  :report <client>          run abuse analysis and print the report
  :summary <client>         print a usage summary
  :stats <client>           print the activity ledger
  :quota <client>           remaining quota and time until reset
  :clear <client>           clear the client's ledgers
  :history <client> [n]     past non-normal results
  :compare                  compare every client
  :clients                  list known clients
  :export <client> <path>   write the report to a file
  :xlsx <path>              write a comparison workbook
  :help                     this text
  :quit                     leave
`
