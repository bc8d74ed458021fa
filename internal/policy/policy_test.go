package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratesim/internal/config"
	"ratesim/internal/model"
)

var noon = time.Date(2026, 3, 2, 12, 0, 0, 0, time.Local)

func at(offsets ...time.Duration) []model.Request {
	return typed(model.CategoryRead, offsets...)
}

func typed(c model.Category, offsets ...time.Duration) []model.Request {
	out := make([]model.Request, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, model.Request{ClientID: "c1", Category: c, Timestamp: noon.Add(off)})
	}
	return out
}

func seconds(n ...int) []time.Duration {
	out := make([]time.Duration, 0, len(n))
	for _, s := range n {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

func run(p Policy, requests []model.Request) *model.AbuseReport {
	report := model.NewAbuseReport("c1")
	p.Evaluate(requests, report)
	return report
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestFixedWindow(t *testing.T) {
	requests := at(seconds(0, 1, 2, 3, 4, 5)...)
	p := FixedWindow{Max: 5, Window: 10 * time.Second, Clock: fixedClock(noon.Add(5 * time.Second))}
	report := run(p, requests)
	assert.Equal(t, model.LevelWarning, report.Level)
	assert.Equal(t, []string{"Fixed window limit exceeded: 6 requests"}, report.Violations)

	// exactly Max is not a violation
	report = run(p, requests[:5])
	assert.Equal(t, model.LevelNormal, report.Level)
	assert.Empty(t, report.Violations)

	// old entries fall out of the window ending now
	late := FixedWindow{Max: 5, Window: 10 * time.Second, Clock: fixedClock(noon.Add(30 * time.Second))}
	assert.Empty(t, run(late, requests).Violations)
}

func TestSlidingWindowStopsAtFirstHit(t *testing.T) {
	var offsets []int
	for i := 0; i < 20; i++ {
		offsets = append(offsets, i)
	}
	report := run(SlidingWindow{Max: 5, Window: 10 * time.Second}, at(seconds(offsets...)...))
	assert.Equal(t, model.LevelCritical, report.Level)
	assert.Equal(t, []string{"Sliding window abuse detected"}, report.Violations)
}

func TestSlidingWindowAtLimit(t *testing.T) {
	report := run(SlidingWindow{Max: 5, Window: 10 * time.Second}, at(seconds(0, 1, 2, 3, 4, 11, 12, 13, 14, 15)...))
	assert.Equal(t, model.LevelNormal, report.Level)
	assert.Empty(t, report.Violations)
}

func TestBurstLevels(t *testing.T) {
	p := Burst{Threshold: 4, Window: 3 * time.Second}

	report := run(p, at(seconds(0, 1, 2, 3)...))
	assert.Equal(t, model.LevelWarning, report.Level)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "Burst detected: 4 requests in 3 seconds at 12:00:00", report.Violations[0])

	report = run(p, at(seconds(0, 1, 2, 3, 4, 5)...))
	assert.Equal(t, model.LevelCritical, report.Level)
	assert.Len(t, report.Violations, 3)

	report = run(p, at(seconds(0, 10, 20, 30)...))
	assert.Equal(t, model.LevelNormal, report.Level)
}

func TestBurstWithSubSecondSpacing(t *testing.T) {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	requests := at(ms(0), ms(100), ms(300), ms(400), ms(600), ms(700))
	report := run(Burst{Threshold: 4, Window: 3 * time.Second}, requests)
	assert.Equal(t, model.LevelCritical, report.Level)
	assert.Equal(t, []string{
		"Burst detected: 6 requests in 3 seconds at 12:00:00",
		"Burst detected: 5 requests in 3 seconds at 12:00:00",
		"Burst detected: 4 requests in 3 seconds at 12:00:00",
	}, report.Violations)
}

func TestOffHours(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	var requests []model.Request
	for _, min := range []int{1, 5, 10, 30} {
		requests = append(requests, model.Request{
			ClientID:  "c1",
			Category:  model.CategoryRead,
			Timestamp: day.Add(3*time.Hour + time.Duration(min)*time.Minute),
		})
	}
	report := run(AbnormalPattern{UnusualHourThreshold: 3}, requests)
	assert.Equal(t, model.LevelWarning, report.Level)
	assert.Equal(t, []string{"Unusual activity: 4 requests during off-hours (2-5 AM)"}, report.Violations)

	report = run(AbnormalPattern{UnusualHourThreshold: 4}, requests)
	assert.Empty(t, report.Violations)
}

func TestOffHoursBoundaries(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	requests := []model.Request{
		{ClientID: "c1", Category: model.CategoryRead, Timestamp: day.Add(time.Hour + 59*time.Minute)},
		{ClientID: "c1", Category: model.CategoryRead, Timestamp: day.Add(2 * time.Hour)},
		{ClientID: "c1", Category: model.CategoryRead, Timestamp: day.Add(4*time.Hour + 59*time.Minute)},
		{ClientID: "c1", Category: model.CategoryRead, Timestamp: day.Add(5 * time.Hour)},
	}
	report := run(AbnormalPattern{UnusualHourThreshold: 1}, requests)
	assert.Equal(t, []string{"Unusual activity: 2 requests during off-hours (2-5 AM)"}, report.Violations)
}

func TestCategoryImbalance(t *testing.T) {
	// widening gaps keep the cadence and burst checks quiet
	offsets := seconds(0, 5, 13, 24, 38, 55, 75, 98, 124, 153, 185)
	requests := at(offsets[:10]...)
	requests = append(requests, typed(model.CategoryWrite, offsets[10])...)

	report := run(AbnormalPattern{UnusualHourThreshold: 3}, requests)
	assert.Equal(t, model.LevelWarning, report.Level)
	assert.Equal(t, []string{"Request type imbalance: 90.9% are READ requests (potential scraping)"}, report.Violations)
	assert.Empty(t, run(Burst{Threshold: 4, Window: 3 * time.Second}, requests).Violations)
}

func TestCategoryImbalanceNeedsTenRequests(t *testing.T) {
	report := run(AbnormalPattern{UnusualHourThreshold: 3}, at(seconds(0, 5, 13, 24, 38, 55, 75, 98, 124)...))
	assert.Empty(t, report.Violations)
}

func TestUniformCadence(t *testing.T) {
	var offsets []int
	for i := 0; i < 12; i++ {
		offsets = append(offsets, i*2)
	}
	requests := typed(model.CategoryRead, seconds(offsets...)...)
	// mix categories so only the cadence check can fire
	for i := range requests {
		if i%2 == 1 {
			requests[i].Category = model.CategoryWrite
		}
	}
	report := run(AbnormalPattern{UnusualHourThreshold: 3}, requests)
	assert.Equal(t, model.LevelCritical, report.Level)
	assert.Equal(t, []string{"Bot-like behavior: 90.9% of requests have uniform intervals (automated script suspected)"}, report.Violations)
}

func TestUniformCadenceCountsEveryInterval(t *testing.T) {
	// 6 of 9 intervals match their predecessor: 66.7% stays under the bar
	requests := at(seconds(0, 1, 2, 3, 4, 5, 6, 7, 12, 32)...)
	for i := range requests {
		if i%2 == 1 {
			requests[i].Category = model.CategoryWrite
		}
	}
	report := run(AbnormalPattern{UnusualHourThreshold: 3}, requests)
	assert.Equal(t, model.LevelNormal, report.Level)
	assert.Empty(t, report.Violations)
}

func TestUniformCadenceTolerance(t *testing.T) {
	ms := time.Millisecond
	offsets := []time.Duration{0}
	gaps := []time.Duration{1000 * ms, 1400 * ms, 1000 * ms, 1400 * ms, 1000 * ms, 1400 * ms, 1000 * ms, 1400 * ms, 1000 * ms, 1400 * ms}
	for _, g := range gaps {
		offsets = append(offsets, offsets[len(offsets)-1]+g)
	}
	requests := at(offsets...)
	for i := range requests {
		if i%2 == 0 {
			requests[i].Category = model.CategoryDelete
		}
	}

	loose := run(AbnormalPattern{UnusualHourThreshold: 3, UniformTolerance: 500 * ms}, requests)
	assert.Equal(t, model.LevelCritical, loose.Level)

	strict := run(AbnormalPattern{UnusualHourThreshold: 3, UniformTolerance: 100 * ms}, requests)
	assert.Equal(t, model.LevelNormal, strict.Level)
	assert.Empty(t, strict.Violations)
}

func TestRetryAbuseSkipsShortHistory(t *testing.T) {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	requests := at(ms(0), ms(100), ms(300), ms(400), ms(600), ms(700))
	report := run(RetryAbuse{MaxConsecutive: 8, Window: 2 * time.Second}, requests)
	assert.Equal(t, model.LevelNormal, report.Level)
	assert.Empty(t, report.Violations)
}

func TestRetryAbuseRapidRetries(t *testing.T) {
	var offsets []time.Duration
	for i := 0; i < 9; i++ {
		offsets = append(offsets, time.Duration(i)*100*time.Millisecond)
	}
	report := run(RetryAbuse{MaxConsecutive: 8, Window: 2 * time.Second}, at(offsets...))
	assert.Equal(t, model.LevelCritical, report.Level)
	assert.Equal(t, []string{
		"Retry abuse detected: 8 rapid retry attempts (< 1 second apart)",
		"Excessive consecutive requests: 9 requests in quick succession",
	}, report.Violations)
}

func TestRetryAbuseConsecutiveOnly(t *testing.T) {
	var offsets []int
	for i := 0; i < 10; i++ {
		offsets = append(offsets, i*2)
	}
	report := run(RetryAbuse{MaxConsecutive: 8, Window: 2 * time.Second}, at(seconds(offsets...)...))
	assert.Equal(t, model.LevelWarning, report.Level)
	assert.Equal(t, []string{"Excessive consecutive requests: 10 requests in quick succession"}, report.Violations)
}

func TestDirectFloodTripsEveryWindowCheck(t *testing.T) {
	var offsets []int
	for i := 0; i < 20; i++ {
		offsets = append(offsets, i)
	}
	requests := typed(model.CategoryWrite, seconds(offsets...)...)
	report := model.NewAbuseReport("c1")
	for _, p := range Defaults(fixedClock(noon.Add(19 * time.Second))) {
		p.Evaluate(requests, report)
	}
	assert.Equal(t, model.LevelCritical, report.Level)
	assert.Contains(t, report.Violations, "Fixed window limit exceeded: 11 requests")
	assert.Contains(t, report.Violations, "Sliding window abuse detected")
	assert.Contains(t, report.Violations, "Request type imbalance: 100.0% are WRITE requests (potential scraping)")
	assert.Contains(t, report.Violations, "Bot-like behavior: 94.7% of requests have uniform intervals (automated script suspected)")
	assert.Contains(t, report.Violations, "Excessive consecutive requests: 20 requests in quick succession")
}

func TestLevelNeverLowered(t *testing.T) {
	report := model.NewAbuseReport("c1")
	report.Raise(model.LevelCritical)
	Burst{Threshold: 4, Window: 3 * time.Second}.Evaluate(at(seconds(0, 1, 2, 3)...), report)
	assert.Equal(t, model.LevelCritical, report.Level)
	assert.Len(t, report.Violations, 1)
}

func TestPoliciesDoNotMutateInput(t *testing.T) {
	requests := at(seconds(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)...)
	snapshot := append([]model.Request(nil), requests...)
	for _, p := range Defaults(fixedClock(noon.Add(10 * time.Second))) {
		p.Evaluate(requests, model.NewAbuseReport("c1"))
	}
	assert.Equal(t, snapshot, requests)
}

func TestDeterministic(t *testing.T) {
	requests := at(seconds(0, 1, 2, 3, 4, 11, 12, 13, 14, 15)...)
	clock := fixedClock(noon.Add(15 * time.Second))
	first, second := model.NewAbuseReport("c1"), model.NewAbuseReport("c1")
	for _, p := range Defaults(clock) {
		p.Evaluate(requests, first)
	}
	for _, p := range Defaults(clock) {
		p.Evaluate(requests, second)
	}
	assert.Equal(t, first, second)
}

func TestEmptyHistory(t *testing.T) {
	for _, p := range Defaults(fixedClock(noon)) {
		report := run(p, nil)
		assert.Equal(t, model.LevelNormal, report.Level, p.Name())
		assert.Empty(t, report.Violations, p.Name())
	}
}

func TestFromConfigOrderAndToggles(t *testing.T) {
	cfg := config.DefaultConfig().Policies
	names := func(ps []Policy) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name())
		}
		return out
	}
	assert.Equal(t, []string{"fixed_window", "sliding_window", "burst", "abnormal_pattern", "retry_abuse"}, names(FromConfig(cfg, nil)))

	cfg.Burst.Enabled = false
	cfg.RetryAbuse.Enabled = false
	assert.Equal(t, []string{"fixed_window", "sliding_window", "abnormal_pattern"}, names(FromConfig(cfg, nil)))
}

func TestFuncAdapter(t *testing.T) {
	called := false
	p := Func{ID: "custom", Fn: func(requests []model.Request, report *model.AbuseReport) {
		called = true
		report.Add("custom finding")
	}}
	report := run(p, at(0))
	assert.True(t, called)
	assert.Equal(t, "custom", p.Name())
	assert.Equal(t, []string{"custom finding"}, report.Violations)
	assert.NotPanics(t, func() { Func{ID: "nil"}.Evaluate(nil, model.NewAbuseReport("x")) })
}
