package loadgen

import (
	"fmt"
	"sort"
)

// verify tallies outcomes and checks that every experiment was answered with
// a single variant.
func verify(responses []Response) Report {
	r := Report{
		Outcomes: make(map[string]int),
		Variants: make(map[string]string),
	}
	seen := make(map[string]map[string]struct{})
	for _, resp := range responses {
		r.Outcomes[resp.Outcome]++
		if resp.Experiment == nil || resp.Experiment.Variant.ID == "" {
			continue
		}
		id := resp.Experiment.ID
		if seen[id] == nil {
			seen[id] = make(map[string]struct{})
			r.Variants[id] = resp.Experiment.Variant.ID
		}
		seen[id][resp.Experiment.Variant.ID] = struct{}{}
	}
	for id, variants := range seen {
		if len(variants) > 1 {
			r.Conflicts = append(r.Conflicts, fmt.Sprintf("%s answered with %d variants", id, len(variants)))
		}
	}
	sort.Strings(r.Conflicts)
	return r
}
