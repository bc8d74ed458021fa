package policy

import (
	"fmt"
	"time"

	"ratesim/internal/model"
)

// FixedWindow flags a client holding more than Max requests in the window
// ending at the evaluation instant.
type FixedWindow struct {
	Max    int
	Window time.Duration
	Clock  Clock
}

func (p FixedWindow) Name() string { return "fixed_window" }

func (p FixedWindow) Evaluate(requests []model.Request, report *model.AbuseReport) {
	now := time.Now()
	if p.Clock != nil {
		now = p.Clock()
	}
	count := 0
	for _, r := range requests {
		if now.Sub(r.Timestamp) <= p.Window {
			count++
		}
	}
	if count > p.Max {
		report.Add(fmt.Sprintf("Fixed window limit exceeded: %d requests", count))
		report.Raise(model.LevelWarning)
	}
}

// SlidingWindow scans every window anchored at a request and stops at the
// first one holding more than Max requests.
type SlidingWindow struct {
	Max    int
	Window time.Duration
}

func (p SlidingWindow) Name() string { return "sliding_window" }

func (p SlidingWindow) Evaluate(requests []model.Request, report *model.AbuseReport) {
	for i := range requests {
		count := 1
		for j := i + 1; j < len(requests); j++ {
			if requests[j].Timestamp.Sub(requests[i].Timestamp) <= p.Window {
				count++
			}
			if count > p.Max {
				report.Add("Sliding window abuse detected")
				report.Raise(model.LevelCritical)
				return
			}
		}
	}
}

// Burst records every request that opens a run of at least Threshold
// requests within Window.
type Burst struct {
	Threshold int
	Window    time.Duration
}

func (p Burst) Name() string { return "burst" }

func (p Burst) Evaluate(requests []model.Request, report *model.AbuseReport) {
	incidents := 0
	for i := range requests {
		start := requests[i].Timestamp
		count := 1
		for j := i + 1; j < len(requests); j++ {
			if requests[j].Timestamp.Sub(start) > p.Window {
				break
			}
			count++
		}
		if count >= p.Threshold {
			incidents++
			report.Add(fmt.Sprintf("Burst detected: %d requests in %d seconds at %s",
				count, int64(p.Window/time.Second), start.Format("15:04:05")))
		}
	}
	switch {
	case incidents >= 3:
		report.Raise(model.LevelCritical)
	case incidents >= 1:
		report.Raise(model.LevelWarning)
	}
}
