// Package impute fills gaps in the monthly production series from a proxy
// consumption stream (e.g. material consumed), by learning the per-entity
// consumption-per-unit coefficient on months where both series are observed
// and inverting it where production is missing.
package impute

import (
	"fmt"
	"sort"
	"time"

	"github.com/fab-analytics/uplift/internal/dataset"
)

// MonthlyValue is one observed (entity, month) measurement.
type MonthlyValue struct {
	Entity string    `json:"entity_id"`
	Month  time.Time `json:"month"`
	Value  float64   `json:"value"`
}

// Row is one (entity, month) production value after imputation.
type Row struct {
	Entity     string    `json:"entity_id"`
	Month      time.Time `json:"month"`
	Production float64   `json:"production"`
	Imputed    bool      `json:"imputed"`
}

// Result carries the imputed series and the learned coefficients.
type Result struct {
	Rows []Row `json:"rows"`
	// Coefficients is proxy-units-per-production-unit, per entity, learned
	// on fully observed months.
	Coefficients map[string]float64 `json:"coefficients"`
	// GlobalCoefficient is the median of the per-entity coefficients, the
	// fallback for entities with no overlapping observations.
	GlobalCoefficient float64 `json:"global_coefficient"`
	ImputedCount      int     `json:"imputed_count"`
}

type cell struct {
	entity string
	month  int64
}

// Estimate learns the coefficients and imputes production for months where
// only the proxy is observed. Months with observed production pass through
// untouched; months present in neither series do not appear in the output.
func Estimate(production, proxy []MonthlyValue) (*Result, error) {
	if len(production) == 0 {
		return nil, &dataset.InvalidInputError{Field: "production", Reason: "no observed production months"}
	}

	prod := make(map[cell]float64)
	months := make(map[cell]time.Time)
	for _, v := range production {
		m := dataset.MonthFloor(v.Month)
		c := cell{v.Entity, m.Unix()}
		prod[c] = v.Value
		months[c] = m
	}
	prox := make(map[cell]float64)
	for _, v := range proxy {
		m := dataset.MonthFloor(v.Month)
		c := cell{v.Entity, m.Unix()}
		prox[c] += v.Value
		months[c] = m
	}

	// Learn per-entity coefficients on months where both are observed and
	// production is non-zero.
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for c, p := range prod {
		q, ok := prox[c]
		if !ok || p <= 0 {
			continue
		}
		sums[c.entity] += q / p
		counts[c.entity]++
	}
	if len(sums) == 0 {
		return nil, fmt.Errorf("impute: no overlapping (entity, month) observations to learn from")
	}

	coeffs := make(map[string]float64, len(sums))
	all := make([]float64, 0, len(sums))
	for e, s := range sums {
		coeffs[e] = s / float64(counts[e])
		all = append(all, coeffs[e])
	}
	global := median(all)

	res := &Result{Coefficients: coeffs, GlobalCoefficient: global}
	for c, m := range months {
		row := Row{Entity: c.entity, Month: m}
		if p, ok := prod[c]; ok {
			row.Production = p
		} else if q, ok := prox[c]; ok {
			coeff, has := coeffs[c.entity]
			if !has {
				coeff = global
			}
			if coeff <= 0 {
				continue // unlearnable; leave the gap
			}
			row.Production = q / coeff
			row.Imputed = true
			res.ImputedCount++
		} else {
			continue
		}
		res.Rows = append(res.Rows, row)
	}

	sort.Slice(res.Rows, func(i, j int) bool {
		a, b := res.Rows[i], res.Rows[j]
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Month.Before(b.Month)
	})
	return res, nil
}

// ExposureRecords converts the imputed series into exposure records (one
// per entity-month, stamped at the month start) so a panel can be built
// directly from it.
func (r *Result) ExposureRecords() []dataset.ExposureRecord {
	out := make([]dataset.ExposureRecord, 0, len(r.Rows))
	for _, row := range r.Rows {
		out = append(out, dataset.ExposureRecord{
			Entity:    row.Entity,
			Timestamp: row.Month,
			Amount:    row.Production,
		})
	}
	return out
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
