// Package interval derives inter-failure intervals from the raw event log.
// Each event terminates exactly one interval; the first event of an entity
// terminates a left-censored interval with no start (there is no observed
// predecessor, so its duration is undefined and it is excluded from the
// duration models downstream).
package interval

import (
	"fmt"
	"sort"
	"time"

	"github.com/fab-analytics/uplift/internal/dataset"
	"github.com/fab-analytics/uplift/internal/exposure"
)

// Interval is the span between two consecutive failures of one entity.
type Interval struct {
	Entity string `json:"entity_id"`
	// Start is the previous failure's timestamp, nil for the left-censored
	// first interval of an entity.
	Start *time.Time `json:"start,omitempty"`
	End   time.Time  `json:"end"`
	// Exposure is the throughput consumed over the interval window (work
	// between failures). For nil-start intervals it is measured from the
	// entity's first observed day.
	Exposure float64 `json:"exposure"`
	// ElapsedHours is the naive wall-clock metric kept for comparison
	// against the utilization-normalized one. Zero for nil-start intervals.
	ElapsedHours float64 `json:"elapsed_hours"`
	// NormalizedHours is Exposure converted to hours at the fleet's mean
	// throughput.
	NormalizedHours float64 `json:"normalized_hours"`
	// PostAdoption is copied from the terminating event.
	PostAdoption bool `json:"post_adoption"`
}

// Censored reports whether the interval has no observed predecessor.
func (iv Interval) Censored() bool { return iv.Start == nil }

// Builder constructs intervals, using the exposure index for window sums.
type Builder struct {
	ix *exposure.Index
}

func NewBuilder(ix *exposure.Index) *Builder {
	return &Builder{ix: ix}
}

// Build groups events by entity, orders them by timestamp (stable, so
// same-timestamp events keep their input order), and emits one interval per
// event. Out-of-order input is sorted, never rejected. Returns the number
// of intervals equal to the number of input events.
func (b *Builder) Build(events []dataset.EventRecord) ([]Interval, error) {
	for i, e := range events {
		if e.Entity == "" {
			return nil, &dataset.InvalidInputError{Field: "events.entity_id", Reason: fmt.Sprintf("empty at row %d", i)}
		}
	}

	ordered := make([]dataset.EventRecord, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Entity != ordered[j].Entity {
			return ordered[i].Entity < ordered[j].Entity
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	intervals := make([]Interval, 0, len(ordered))
	var prev *dataset.EventRecord
	for i := range ordered {
		ev := ordered[i]

		iv := Interval{
			Entity:       ev.Entity,
			End:          ev.Timestamp,
			PostAdoption: ev.PostAdoption,
		}

		if prev != nil && prev.Entity == ev.Entity {
			start := prev.Timestamp
			iv.Start = &start
			iv.Exposure = b.ix.SumWindow(ev.Entity, start, ev.Timestamp)
			iv.ElapsedHours = ev.Timestamp.Sub(start).Hours()
		} else if obsStart, _, ok := b.ix.ObservationWindow(ev.Entity); ok {
			iv.Exposure = b.ix.SumWindow(ev.Entity, obsStart, ev.Timestamp)
		}
		iv.NormalizedHours = b.ix.NormalizedDuration(iv.Exposure, exposure.HoursPerDay)

		intervals = append(intervals, iv)
		prev = &ordered[i]
	}

	return intervals, nil
}

// Uncensored filters out nil-start intervals, leaving only spans bounded by
// two observed failures. These are the rows the duration models consume.
func Uncensored(intervals []Interval) []Interval {
	out := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if !iv.Censored() {
			out = append(out, iv)
		}
	}
	return out
}
