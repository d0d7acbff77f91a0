package weave

import (
	"context"

	"github.com/sourcegraph/conc/iter"
)

// TurnResult pairs a request with its outcome.
type TurnResult struct {
	Request TurnRequest
	Reply   string
	Err     error
}

// WeaveAll runs many turns. Turns for the same conversation run one after another in
// submission order; different conversations run in parallel. Results keep the order
// of reqs.
func (m *Manager) WeaveAll(ctx context.Context, reqs []TurnRequest) []TurnResult {
	var order []string
	groups := make(map[string][]int)
	for i, req := range reqs {
		key := ""
		if req.ID != nil {
			key = req.ID.BaseKey()
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	results := make([]TurnResult, len(reqs))
	it := iter.Iterator[string]{MaxGoroutines: m.parallelism}
	it.ForEach(order, func(key *string) {
		for _, i := range groups[*key] {
			reply, err := m.Weave(ctx, reqs[i])
			results[i] = TurnResult{Request: reqs[i], Reply: reply, Err: err}
		}
	})

	return results
}
