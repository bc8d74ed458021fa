package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratesim/internal/ledger"
	"ratesim/internal/limiter"
	"ratesim/internal/model"
	"ratesim/internal/policy"
)

var noon = time.Date(2026, 3, 2, 12, 0, 0, 0, time.Local)

// later is an evaluation instant far past every test request.
func later() time.Time { return noon.Add(time.Hour) }

func submit(e *limiter.Enforcer, reg *ledger.Registry, client string, c model.Category, offsets ...time.Duration) {
	for _, off := range offsets {
		req := model.Request{ClientID: client, Category: c, Timestamp: noon.Add(off)}
		d := e.Process(req)
		reg.Track(req, d.Outcome)
	}
}

func TestUnknownClientIsNormal(t *testing.T) {
	reg := ledger.NewRegistry()
	a := New(reg, policy.Defaults(nil)...)
	report := a.Analyze("ghost")
	assert.Equal(t, "ghost", report.ClientID)
	assert.Equal(t, model.LevelNormal, report.Level)
	assert.NotNil(t, report.Violations)
	assert.Empty(t, report.Violations)
}

func TestEnforcedFloodOfWrites(t *testing.T) {
	reg := ledger.NewRegistry()
	clock := func() time.Time { return noon.Add(19 * time.Second) }
	e := limiter.New(5, 10*time.Second, reg, limiter.Clock(clock))
	var offsets []time.Duration
	for i := 0; i < 20; i++ {
		offsets = append(offsets, time.Duration(i)*time.Second)
	}
	submit(e, reg, "bot", model.CategoryWrite, offsets...)

	// the enforcer keeps t=0..4 and t=11..15
	require.Len(t, reg.Requests("bot"), 10)
	snap := reg.Activity("bot")
	assert.Equal(t, 20, snap.Total)
	assert.Equal(t, 10, snap.Admitted)

	report := New(reg, policy.Defaults(policy.Clock(clock))...).Analyze("bot")
	assert.Equal(t, model.LevelCritical, report.Level)
	assert.Equal(t, []string{
		"Burst detected: 4 requests in 3 seconds at 12:00:00",
		"Burst detected: 4 requests in 3 seconds at 12:00:01",
		"Burst detected: 4 requests in 3 seconds at 12:00:11",
		"Burst detected: 4 requests in 3 seconds at 12:00:12",
		"Request type imbalance: 100.0% are WRITE requests (potential scraping)",
	}, report.Violations)
}

func TestRapidRetriesAlsoTripBurst(t *testing.T) {
	reg := ledger.NewRegistry()
	e := limiter.New(20, 10*time.Second, reg, nil)
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	submit(e, reg, "retry", model.CategoryRead, ms(0), ms(100), ms(300), ms(400), ms(600), ms(700))

	report := New(reg, policy.Defaults(later)...).Analyze("retry")
	assert.Equal(t, model.LevelCritical, report.Level)
	assert.Len(t, report.Violations, 3)
	for _, v := range report.Violations {
		assert.Contains(t, v, "Burst detected")
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	reg := ledger.NewRegistry()
	e := limiter.New(5, 10*time.Second, reg, nil)
	submit(e, reg, "c1", model.CategoryRead, 0, time.Second, 2*time.Second, 3*time.Second)
	a := New(reg, policy.Defaults(func() time.Time { return noon.Add(3 * time.Second) })...)
	assert.Equal(t, a.Analyze("c1"), a.Analyze("c1"))
}

func TestPolicyOrderDrivesMessageOrder(t *testing.T) {
	reg := ledger.NewRegistry()
	reg.AppendRequest(model.Request{ClientID: "c1", Category: model.CategoryRead, Timestamp: noon})
	first := policy.Func{ID: "first", Fn: func(_ []model.Request, r *model.AbuseReport) {
		r.Add("a")
		r.Raise(model.LevelCritical)
	}}
	second := policy.Func{ID: "second", Fn: func(_ []model.Request, r *model.AbuseReport) {
		r.Add("b")
		r.Raise(model.LevelWarning)
	}}

	ab := New(reg, first, second).Analyze("c1")
	ba := New(reg, second, first).Analyze("c1")
	assert.Equal(t, []string{"a", "b"}, ab.Violations)
	assert.Equal(t, []string{"b", "a"}, ba.Violations)
	assert.Equal(t, model.LevelCritical, ab.Level)
	assert.Equal(t, ab.Level, ba.Level)
}

func TestSetPolicies(t *testing.T) {
	a := New(ledger.NewRegistry(), policy.Defaults(nil)...)
	assert.Equal(t, []string{"fixed_window", "sliding_window", "burst", "abnormal_pattern", "retry_abuse"}, a.Policies())
	a.SetPolicies(policy.Burst{Threshold: 2, Window: time.Second})
	assert.Equal(t, []string{"burst"}, a.Policies())
}

func TestClearedClientIsNormal(t *testing.T) {
	reg := ledger.NewRegistry()
	e := limiter.New(50, 10*time.Second, reg, nil)
	var offsets []time.Duration
	for i := 0; i < 12; i++ {
		offsets = append(offsets, time.Duration(i)*100*time.Millisecond)
	}
	submit(e, reg, "c1", model.CategoryRead, offsets...)
	a := New(reg, policy.Defaults(later)...)
	require.Equal(t, model.LevelCritical, a.Analyze("c1").Level)

	reg.Clear("c1")
	report := a.Analyze("c1")
	assert.Equal(t, model.LevelNormal, report.Level)
	assert.Empty(t, report.Violations)
}
