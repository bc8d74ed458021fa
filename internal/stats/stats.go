// Package stats derives per-client usage figures from the ledgers.
package stats

import (
	"sort"

	"ratesim/internal/ledger"
	"ratesim/internal/model"
)

// SourceAdmitted marks a distribution computed over the Request Ledger.
const SourceAdmitted = "admitted"

// Derive builds usage statistics from an activity snapshot and the client's
// admitted requests.
func Derive(activity model.ActivitySnapshot, requests []model.Request) model.ClientStats {
	s := model.ClientStats{
		ClientID:           activity.ClientID,
		Total:              activity.Total,
		Admitted:           activity.Admitted,
		Rejected:           activity.Rejected,
		SuccessRate:        activity.SuccessRate(),
		Distribution:       distribution(requests),
		DistributionSource: SourceAdmitted,
	}
	if len(requests) > 0 {
		s.First = requests[0].Timestamp
		s.Last = requests[len(requests)-1].Timestamp
	}
	if last, ok := activity.LastActivity(); ok {
		s.LastActivity = last
	}
	return s
}

// ForClient reads both ledgers of one client and derives its statistics.
func ForClient(registry *ledger.Registry, clientID string) model.ClientStats {
	return Derive(registry.Activity(clientID), registry.Requests(clientID))
}

// Compare returns statistics for every known client ordered by id.
func Compare(registry *ledger.Registry) []model.ClientStats {
	ids := registry.Clients()
	out := make([]model.ClientStats, 0, len(ids))
	for _, id := range ids {
		out = append(out, ForClient(registry, id))
	}
	return out
}

// distribution lists the categories present in requests in declaration
// order. Categories outside the known set follow, sorted by name.
func distribution(requests []model.Request) []model.CategoryCount {
	out := []model.CategoryCount{}
	if len(requests) == 0 {
		return out
	}
	counts := make(map[model.Category]int)
	for _, r := range requests {
		counts[r.Category]++
	}
	total := float64(len(requests))
	add := func(c model.Category) {
		n := counts[c]
		if n == 0 {
			return
		}
		out = append(out, model.CategoryCount{Category: c, Count: n, Percent: float64(n) * 100 / total})
		delete(counts, c)
	}
	for _, c := range model.Categories() {
		add(c)
	}
	rest := make([]model.Category, 0, len(counts))
	for c := range counts {
		rest = append(rest, c)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, c := range rest {
		add(c)
	}
	return out
}
