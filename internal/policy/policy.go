// Package policy holds the abuse detection heuristics run by the analyzer.
//
// A policy reads a client's admitted request history and may append
// violations to a report and raise its level. Policies never modify the
// history and never lower a level.
package policy

import (
	"time"

	"ratesim/internal/model"
)

type Policy interface {
	Name() string
	Evaluate(requests []model.Request, report *model.AbuseReport)
}

// Func adapts a plain function into a Policy.
type Func struct {
	ID string
	Fn func(requests []model.Request, report *model.AbuseReport)
}

func (f Func) Name() string { return f.ID }

func (f Func) Evaluate(requests []model.Request, report *model.AbuseReport) {
	if f.Fn != nil {
		f.Fn(requests, report)
	}
}

// Clock returns the evaluation instant.
type Clock func() time.Time

func intervals(requests []model.Request) []time.Duration {
	if len(requests) < 2 {
		return nil
	}
	out := make([]time.Duration, 0, len(requests)-1)
	for i := 0; i+1 < len(requests); i++ {
		out = append(out, requests[i+1].Timestamp.Sub(requests[i].Timestamp))
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
