// Package exposure turns the raw throughput stream into a queryable
// per-entity index. Window sums over this index are the "effective
// denominator" for every downstream analysis: they back both the
// work-between-failures duration metric and the rate-model offset.
package exposure

import (
	"fmt"
	"sort"
	"time"

	"github.com/fab-analytics/uplift/internal/cache"
	"github.com/fab-analytics/uplift/internal/dataset"
)

// HoursPerDay converts a day-bucketed exposure rate to an hourly one when
// expressing normalized durations in hours.
const HoursPerDay = 24.0

// windowMemoSize bounds the window-sum memo; one entry per distinct
// (entity, window) query.
const windowMemoSize = 1 << 16

type entitySeries struct {
	days    []int64 // day-floored unix timestamps, ascending
	prefix  []float64
	amounts []float64
}

// Index is a read-only per-entity exposure index. Build it once per
// analysis run with NewIndex and discard it at run end.
type Index struct {
	entities  map[string]*entitySeries
	meanRate  float64 // mean exposure per day bucket over the whole dataset
	totalDays int
	memo      *cache.Memo[windowKey, float64]
}

type windowKey struct {
	entity     string
	start, end int64
}

// NewIndex builds the exposure index from records sorted by
// (entity, timestamp). Records must already be validated; duplicate day
// buckets per entity are rejected upstream.
func NewIndex(records []dataset.ExposureRecord) (*Index, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("exposure index: no records")
	}

	ix := &Index{entities: make(map[string]*entitySeries)}

	var total float64
	for _, r := range records {
		es := ix.entities[r.Entity]
		if es == nil {
			es = &entitySeries{}
			ix.entities[r.Entity] = es
		}
		day := dataset.DayFloor(r.Timestamp).Unix()
		if n := len(es.days); n > 0 && day <= es.days[n-1] {
			return nil, fmt.Errorf("exposure index: records for %s not in ascending day order", r.Entity)
		}
		es.days = append(es.days, day)
		es.amounts = append(es.amounts, r.Amount)
		total += r.Amount
	}

	for _, es := range ix.entities {
		es.prefix = make([]float64, len(es.amounts)+1)
		for i, a := range es.amounts {
			es.prefix[i+1] = es.prefix[i] + a
		}
		ix.totalDays += len(es.days)
	}
	ix.meanRate = total / float64(ix.totalDays)

	memo, err := cache.NewMemo[windowKey, float64](windowMemoSize)
	if err != nil {
		return nil, fmt.Errorf("exposure index: %w", err)
	}
	ix.memo = memo

	return ix, nil
}

// SumWindow returns the exposure consumed by entity in [start, end], both
// endpoints floored to their day bucket and both boundary days included.
// The day a failure lands on therefore contributes to both the interval
// ending at that failure and the interval starting there; callers that need
// the exact total must not re-add shared boundary days. Returns 0 when the
// window contains no records or the entity is unknown.
func (ix *Index) SumWindow(entity string, start, end time.Time) float64 {
	startDay := dataset.DayFloor(start).Unix()
	endDay := dataset.DayFloor(end).Unix()
	if startDay > endDay {
		return 0
	}

	key := windowKey{entity, startDay, endDay}
	if v, ok := ix.memo.Get(key); ok {
		return v
	}

	es, ok := ix.entities[entity]
	if !ok {
		return 0
	}

	lo := sort.Search(len(es.days), func(i int) bool { return es.days[i] >= startDay })
	hi := sort.Search(len(es.days), func(i int) bool { return es.days[i] > endDay })
	sum := es.prefix[hi] - es.prefix[lo]

	ix.memo.Put(key, sum)
	return sum
}

// EntityTotal returns the total exposure recorded for an entity.
func (ix *Index) EntityTotal(entity string) float64 {
	es, ok := ix.entities[entity]
	if !ok {
		return 0
	}
	return es.prefix[len(es.prefix)-1]
}

// ObservationWindow returns the first and last recorded day for an entity.
func (ix *Index) ObservationWindow(entity string) (start, end time.Time, ok bool) {
	es, found := ix.entities[entity]
	if !found || len(es.days) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(es.days[0], 0).UTC(), time.Unix(es.days[len(es.days)-1], 0).UTC(), true
}

// GlobalMeanRate is the mean exposure per day bucket across all entities
// and days in the dataset, used as the normalization constant when
// converting exposure sums back into time-like durations.
func (ix *Index) GlobalMeanRate() float64 {
	return ix.meanRate
}

// NormalizedDuration converts an exposure sum into a duration expressed in
// normalized units: the time an average-throughput entity would need to
// consume the same exposure. bucketsPerUnit is the number of day buckets in
// one output unit (e.g. HoursPerDay yields hours).
func (ix *Index) NormalizedDuration(exposureSum, bucketsPerUnit float64) float64 {
	if ix.meanRate == 0 {
		return 0
	}
	return exposureSum / (ix.meanRate / bucketsPerUnit)
}

// MemoStats reports window-sum memoization counters.
func (ix *Index) MemoStats() cache.Stats {
	return ix.memo.Stats()
}
