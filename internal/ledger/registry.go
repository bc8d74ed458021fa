package ledger

import (
	"sort"
	"sync"
	"time"

	"ratesim/internal/model"
)

// Registry owns the request and activity ledgers of every client. Callers only
// ever receive copies.
type Registry struct {
	mu       sync.RWMutex
	requests map[string][]model.Request
	activity map[string]*clientActivity
}

type clientActivity struct {
	records  []model.ActivityRecord
	admitted int
	rejected int
}

func NewRegistry() *Registry {
	return &Registry{
		requests: make(map[string][]model.Request),
		activity: make(map[string]*clientActivity),
	}
}

func (r *Registry) AppendRequest(req model.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ClientID] = append(r.requests[req.ClientID], req)
}

func (r *Registry) Requests(clientID string) []model.Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.requests[clientID]
	out := make([]model.Request, len(list))
	copy(out, list)
	return out
}

func (r *Registry) Track(req model.Request, outcome model.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.activity[req.ClientID]
	if !ok {
		a = &clientActivity{}
		r.activity[req.ClientID] = a
	}
	a.records = append(a.records, model.ActivityRecord{
		Timestamp: req.Timestamp,
		Category:  req.Category,
		Outcome:   outcome,
	})
	if outcome == model.OutcomeRejected {
		a.rejected++
	} else {
		a.admitted++
	}
}

func (r *Registry) Activity(clientID string) model.ActivitySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(clientID, r.activity[clientID])
}

func (r *Registry) AllActivity() map[string]model.ActivitySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]model.ActivitySnapshot, len(r.activity))
	for id, a := range r.activity {
		out[id] = snapshot(id, a)
	}
	return out
}

// Known reports whether either ledger has an entry for the client, even an
// empty one left by Clear.
func (r *Registry) Known(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.activity[clientID]; ok {
		return true
	}
	_, ok := r.requests[clientID]
	return ok
}

// Clients returns every client id seen by either ledger, sorted.
func (r *Registry) Clients() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.activity))
	for id := range r.activity {
		seen[id] = struct{}{}
	}
	for id := range r.requests {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LastTimestamp returns the newest timestamp recorded for the client in
// either ledger.
func (r *Registry) LastTimestamp(clientID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var last time.Time
	var ok bool
	if a := r.activity[clientID]; a != nil && len(a.records) > 0 {
		last = a.records[len(a.records)-1].Timestamp
		ok = true
	}
	if list := r.requests[clientID]; len(list) > 0 {
		if ts := list[len(list)-1].Timestamp; !ok || ts.After(last) {
			last = ts
			ok = true
		}
	}
	return last, ok
}

// Clear truncates both ledgers of a known client and resets its counters. The
// client entry itself is kept.
func (r *Registry) Clear(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[clientID]; ok {
		r.requests[clientID] = nil
	}
	if a, ok := r.activity[clientID]; ok {
		a.records = nil
		a.admitted = 0
		a.rejected = 0
	}
}

func snapshot(clientID string, a *clientActivity) model.ActivitySnapshot {
	snap := model.ActivitySnapshot{ClientID: clientID, Records: []model.ActivityRecord{}}
	if a == nil {
		return snap
	}
	snap.Records = make([]model.ActivityRecord, len(a.records))
	copy(snap.Records, a.records)
	snap.Admitted = a.admitted
	snap.Rejected = a.rejected
	snap.Total = a.admitted + a.rejected
	return snap
}
