package regress

import (
	"fmt"
	"sort"
)

// KMPoint is one step of a Kaplan-Meier survival curve.
type KMPoint struct {
	Time     float64 `json:"time"`
	Survival float64 `json:"survival"`
	AtRisk   int     `json:"at_risk"`
	Events   int     `json:"events"`
}

// KaplanMeier computes the product-limit survival estimate for fully
// observed durations, one curve per group label. The curves are returned
// keyed by group, each sorted by time, ready for an external plotter.
func KaplanMeier(durations []float64, groups []string) (map[string][]KMPoint, error) {
	if len(durations) != len(groups) {
		return nil, fmt.Errorf("regress: %d durations but %d group labels", len(durations), len(groups))
	}
	if len(durations) == 0 {
		return nil, fmt.Errorf("regress: no durations")
	}

	byGroup := make(map[string][]float64)
	for i, d := range durations {
		if d < 0 {
			return nil, fmt.Errorf("regress: negative duration at row %d", i)
		}
		byGroup[groups[i]] = append(byGroup[groups[i]], d)
	}

	curves := make(map[string][]KMPoint, len(byGroup))
	for g, ds := range byGroup {
		sort.Float64s(ds)
		n := len(ds)
		atRisk := n
		surv := 1.0
		var curve []KMPoint

		i := 0
		for i < n {
			t := ds[i]
			events := 0
			for i < n && ds[i] == t {
				events++
				i++
			}
			surv *= 1 - float64(events)/float64(atRisk)
			curve = append(curve, KMPoint{Time: t, Survival: surv, AtRisk: atRisk, Events: events})
			atRisk -= events
		}
		curves[g] = curve
	}
	return curves, nil
}
