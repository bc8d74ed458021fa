package limiter

import (
	"sync"
	"time"

	"ratesim/internal/ledger"
	"ratesim/internal/model"
)

// Clock returns the current instant. Tests inject a fixed one.
type Clock func() time.Time

// Enforcer admits a request when fewer than maxRequests admitted requests of
// the same client fall in the inclusive window ending at the request time.
type Enforcer struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	registry    *ledger.Registry
	clock       Clock
}

func New(maxRequests int, window time.Duration, registry *ledger.Registry, clock Clock) *Enforcer {
	if maxRequests < 0 {
		maxRequests = 0
	}
	if clock == nil {
		clock = time.Now
	}
	return &Enforcer{
		maxRequests: maxRequests,
		window:      window,
		registry:    registry,
		clock:       clock,
	}
}

func (e *Enforcer) Limits() (int, time.Duration) {
	return e.maxRequests, e.window
}

func (e *Enforcer) Process(req model.Request) model.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := req.Timestamp
	recent := countInWindow(e.registry.Requests(req.ClientID), now, e.window)
	if recent >= e.maxRequests {
		return model.Decision{
			Request:   req,
			Outcome:   model.OutcomeRejected,
			Remaining: remaining(e.maxRequests, recent),
		}
	}
	e.registry.AppendRequest(req)
	return model.Decision{
		Request:   req,
		Outcome:   model.OutcomeAdmitted,
		Remaining: remaining(e.maxRequests, recent+1),
	}
}

func (e *Enforcer) RemainingQuota(clientID string) int {
	return e.RemainingQuotaAt(clientID, e.clock())
}

func (e *Enforcer) RemainingQuotaAt(clientID string, now time.Time) int {
	return remaining(e.maxRequests, countInWindow(e.registry.Requests(clientID), now, e.window))
}

func (e *Enforcer) TimeUntilReset(clientID string) time.Duration {
	return e.TimeUntilResetAt(clientID, e.clock())
}

// TimeUntilResetAt returns how long until the oldest request of the current
// window leaves it. Zero when the window holds nothing.
func (e *Enforcer) TimeUntilResetAt(clientID string, now time.Time) time.Duration {
	var oldest time.Time
	found := false
	for _, r := range e.registry.Requests(clientID) {
		if !inWindow(r.Timestamp, now, e.window) {
			continue
		}
		if !found || r.Timestamp.Before(oldest) {
			oldest = r.Timestamp
			found = true
		}
	}
	if !found {
		return 0
	}
	if d := oldest.Add(e.window).Sub(now); d > 0 {
		return d
	}
	return 0
}

func countInWindow(requests []model.Request, now time.Time, window time.Duration) int {
	count := 0
	for _, r := range requests {
		if inWindow(r.Timestamp, now, window) {
			count++
		}
	}
	return count
}

// inWindow treats the window as inclusive: now - ts <= window.
func inWindow(ts, now time.Time, window time.Duration) bool {
	return now.Sub(ts) <= window
}

func remaining(max, used int) int {
	if left := max - used; left > 0 {
		return left
	}
	return 0
}
