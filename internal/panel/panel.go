// Package panel regularizes the heterogeneous-frequency event and exposure
// streams into one (entity x calendar month) panel carrying the staggered
// treatment structure: the ever-treated indicator, the per-entity post
// indicator, and the signed event-time index K.
package panel

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fab-analytics/uplift/internal/dataset"
)

// Row is one (entity, period) cell of the regularized panel.
type Row struct {
	Entity   string    `json:"entity_id"`
	Period   time.Time `json:"period"` // first day of the calendar month
	Exposure float64   `json:"exposure"`
	Events   int       `json:"event_count"`
	// Treated is 1 for entities that ever adopt, on every one of their rows.
	Treated bool `json:"treated"`
	// Post is 1 from the adoption month onward, always 0 for controls.
	Post bool `json:"post"`
	// K is the whole-month distance from the adoption month, nil for
	// never-treated entities.
	K *int `json:"k,omitempty"`
	// LogExposure is ln(Exposure), the rate-model offset. Rows with zero
	// exposure never reach this field: they are dropped during the build.
	LogExposure float64 `json:"log_exposure"`
}

// Result is a built panel plus the bookkeeping for recovered row drops.
type Result struct {
	Rows []Row `json:"rows"`
	// DroppedZeroExposure counts (entity, period) cells removed because the
	// entity recorded no throughput that month; a rate is undefined there
	// and the log offset would diverge.
	DroppedZeroExposure int `json:"dropped_zero_exposure"`
}

type cellKey struct {
	entity string
	month  int64 // unix of month floor
}

// Build aggregates the dataset into the monthly panel. The dataset must be
// normalized. Output ordering is deterministic: entities ascending, then
// periods ascending, so identical inputs yield identical panels.
func Build(ds *dataset.Dataset) (*Result, error) {
	if len(ds.Exposure) == 0 {
		return nil, &dataset.InvalidInputError{Field: "exposure", Reason: "no exposure records"}
	}

	expo := make(map[cellKey]float64)
	events := make(map[cellKey]int)

	var minMonth, maxMonth time.Time
	for _, r := range ds.Exposure {
		m := dataset.MonthFloor(r.Timestamp)
		expo[cellKey{r.Entity, m.Unix()}] += r.Amount
		if minMonth.IsZero() || m.Before(minMonth) {
			minMonth = m
		}
		if maxMonth.IsZero() || m.After(maxMonth) {
			maxMonth = m
		}
	}
	for _, e := range ds.Events {
		m := dataset.MonthFloor(e.Timestamp)
		events[cellKey{e.Entity, m.Unix()}]++
	}

	months := make([]time.Time, 0, dataset.MonthDiff(minMonth, maxMonth)+1)
	for m := minMonth; !m.After(maxMonth); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}

	entities := ds.Entities()
	sort.Strings(entities)

	res := &Result{Rows: make([]Row, 0, len(entities)*len(months))}
	for _, entity := range entities {
		adoption, treated := ds.AdoptionOf(entity)
		var adoptionMonth time.Time
		if treated {
			adoptionMonth = dataset.MonthFloor(adoption)
		}

		for _, m := range months {
			key := cellKey{entity, m.Unix()}
			row := Row{
				Entity:   entity,
				Period:   m,
				Exposure: expo[key],
				Events:   events[key],
				Treated:  treated,
			}
			if treated {
				k := dataset.MonthDiff(adoptionMonth, m)
				row.K = &k
				row.Post = k >= 0
			}

			if row.Exposure <= 0 {
				res.DroppedZeroExposure++
				continue
			}
			row.LogExposure = math.Log(row.Exposure)
			res.Rows = append(res.Rows, row)
		}
	}

	return res, nil
}

// TrendPoint is one cell of the parallel-trend summary: the mean monthly
// event count across entities sharing a treated-group and post status.
type TrendPoint struct {
	Period     time.Time `json:"period"`
	Treated    bool      `json:"treated"`
	Post       bool      `json:"post"`
	MeanEvents float64   `json:"mean_events"`
	Entities   int       `json:"entities"`
}

// Trend computes the per-month mean event count by (treated, post) cell,
// the series behind a parallel-trend check.
func Trend(rows []Row) []TrendPoint {
	type trendKey struct {
		month   int64
		treated bool
		post    bool
	}
	sums := make(map[trendKey]float64)
	counts := make(map[trendKey]int)
	periods := make(map[trendKey]time.Time)

	for _, r := range rows {
		k := trendKey{r.Period.Unix(), r.Treated, r.Post}
		sums[k] += float64(r.Events)
		counts[k]++
		periods[k] = r.Period
	}

	out := make([]TrendPoint, 0, len(sums))
	for k, s := range sums {
		out = append(out, TrendPoint{
			Period:     periods[k],
			Treated:    k.treated,
			Post:       k.post,
			MeanEvents: s / float64(counts[k]),
			Entities:   counts[k],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Period.Equal(b.Period) {
			return a.Period.Before(b.Period)
		}
		if a.Treated != b.Treated {
			return !a.Treated
		}
		return !a.Post && b.Post
	})
	return out
}

// String renders a row compactly for logs.
func (r Row) String() string {
	k := "-"
	if r.K != nil {
		k = fmt.Sprintf("%+d", *r.K)
	}
	return fmt.Sprintf("%s %s exp=%.0f ev=%d treated=%v post=%v k=%s",
		r.Entity, r.Period.Format("2006-01"), r.Exposure, r.Events, r.Treated, r.Post, k)
}
