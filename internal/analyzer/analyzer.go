package analyzer

import (
	"sync"

	"ratesim/internal/ledger"
	"ratesim/internal/model"
	"ratesim/internal/policy"
)

// Analyzer runs an ordered policy list over one client's admitted requests.
type Analyzer struct {
	mu       sync.RWMutex
	registry *ledger.Registry
	policies []policy.Policy
}

func New(registry *ledger.Registry, policies ...policy.Policy) *Analyzer {
	return &Analyzer{registry: registry, policies: append([]policy.Policy(nil), policies...)}
}

// SetPolicies swaps the pipeline. Analyses already running keep the old one.
func (a *Analyzer) SetPolicies(policies ...policy.Policy) {
	a.mu.Lock()
	a.policies = append([]policy.Policy(nil), policies...)
	a.mu.Unlock()
}

func (a *Analyzer) Policies() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.policies))
	for _, p := range a.policies {
		names = append(names, p.Name())
	}
	return names
}

// Analyze returns a fresh report. A client without admitted requests gets a
// NORMAL report with no violations.
func (a *Analyzer) Analyze(clientID string) *model.AbuseReport {
	report := model.NewAbuseReport(clientID)
	requests := a.registry.Requests(clientID)
	if len(requests) == 0 {
		return report
	}
	a.mu.RLock()
	policies := a.policies
	a.mu.RUnlock()
	for _, p := range policies {
		p.Evaluate(requests, report)
	}
	return report
}
