package policy

import (
	"fmt"
	"time"

	"ratesim/internal/model"
)

const (
	offHoursStart           = 2
	offHoursEnd             = 5
	imbalancePercent        = 90.0
	imbalanceMinRequests    = 10
	uniformPercent          = 70.0
	uniformMinRequests      = 10
	uniformShortCircuit     = 5
	defaultUniformTolerance = time.Second
)

// AbnormalPattern looks for off-hours traffic, a single dominant request
// category and machine-regular request spacing.
type AbnormalPattern struct {
	UnusualHourThreshold int
	// UniformTolerance is the largest difference between two adjacent
	// inter-arrival intervals still considered equal. Zero means one second.
	UniformTolerance time.Duration
}

func (p AbnormalPattern) Name() string { return "abnormal_pattern" }

func (p AbnormalPattern) Evaluate(requests []model.Request, report *model.AbuseReport) {
	if len(requests) == 0 {
		return
	}
	p.offHours(requests, report)
	p.imbalance(requests, report)
	p.uniformCadence(requests, report)
}

func (p AbnormalPattern) offHours(requests []model.Request, report *model.AbuseReport) {
	count := 0
	for _, r := range requests {
		if h := r.Timestamp.Hour(); h >= offHoursStart && h < offHoursEnd {
			count++
		}
	}
	if count > p.UnusualHourThreshold {
		report.Add(fmt.Sprintf("Unusual activity: %d requests during off-hours (2-5 AM)", count))
		report.Raise(model.LevelWarning)
	}
}

func (p AbnormalPattern) imbalance(requests []model.Request, report *model.AbuseReport) {
	total := len(requests)
	if total < imbalanceMinRequests {
		return
	}
	counts := make(map[model.Category]int, 4)
	order := make([]model.Category, 0, 4)
	for _, r := range requests {
		if _, ok := counts[r.Category]; !ok {
			order = append(order, r.Category)
		}
		counts[r.Category]++
	}
	for _, c := range order {
		pct := float64(counts[c]) * 100 / float64(total)
		if pct > imbalancePercent {
			report.Add(fmt.Sprintf("Request type imbalance: %.1f%% are %s requests (potential scraping)", pct, c))
			report.Raise(model.LevelWarning)
			return
		}
	}
}

func (p AbnormalPattern) uniformCadence(requests []model.Request, report *model.AbuseReport) {
	if len(requests) < uniformShortCircuit || len(requests) < uniformMinRequests {
		return
	}
	tolerance := p.UniformTolerance
	if tolerance <= 0 {
		tolerance = defaultUniformTolerance
	}
	// the share is taken over all intervals, so n intervals can reach at
	// most (n-1)/n even when every adjacent pair matches
	gaps := intervals(requests)
	if len(gaps) < 2 {
		return
	}
	uniform := 0
	for i := 1; i < len(gaps); i++ {
		if absDuration(gaps[i]-gaps[i-1]) <= tolerance {
			uniform++
		}
	}
	pct := float64(uniform) * 100 / float64(len(gaps))
	if pct > uniformPercent {
		report.Add(fmt.Sprintf("Bot-like behavior: %.1f%% of requests have uniform intervals (automated script suspected)", pct))
		report.Raise(model.LevelCritical)
	}
}
