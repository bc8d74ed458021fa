package policy

import (
	"fmt"
	"time"

	"ratesim/internal/model"
)

const (
	rapidRetryInterval = time.Second
	rapidRetryLimit    = 5
)

// RetryAbuse catches clients hammering the API with back-to-back requests.
// Histories shorter than MaxConsecutive are not inspected.
type RetryAbuse struct {
	MaxConsecutive int
	Window         time.Duration
}

func (p RetryAbuse) Name() string { return "retry_abuse" }

func (p RetryAbuse) Evaluate(requests []model.Request, report *model.AbuseReport) {
	if len(requests) < p.MaxConsecutive || len(requests) == 0 {
		return
	}
	gaps := intervals(requests)

	rapid := 0
	for _, gap := range gaps {
		if gap < rapidRetryInterval {
			rapid++
		}
	}
	if rapid > rapidRetryLimit {
		report.Add(fmt.Sprintf("Retry abuse detected: %d rapid retry attempts (< 1 second apart)", rapid))
		report.Raise(model.LevelCritical)
	}

	run, longest := 0, 0
	for _, gap := range gaps {
		if gap <= p.Window {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	if longest >= p.MaxConsecutive {
		report.Add(fmt.Sprintf("Excessive consecutive requests: %d requests in quick succession", longest+1))
		report.Raise(model.LevelWarning)
	}
}
