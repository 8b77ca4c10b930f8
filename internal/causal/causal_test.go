package causal

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fab-analytics/uplift/internal/eventtime"
	"github.com/fab-analytics/uplift/internal/interval"
	"github.com/fab-analytics/uplift/internal/panel"
	"github.com/fab-analytics/uplift/internal/regress"
)

func ts(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func uncensoredInterval(entity string, exposure float64, post bool) interval.Interval {
	start := ts(0)
	return interval.Interval{Entity: entity, Start: &start, End: ts(1), Exposure: exposure, PostAdoption: post}
}

func TestFitDurationModel_SymmetricGroups(t *testing.T) {
	var ivs []interval.Interval
	for _, e := range []float64{100, 200, 300, 400, 500} {
		ivs = append(ivs, uncensoredInterval("A", e, false))
		ivs = append(ivs, uncensoredInterval("B", e, true))
	}

	res, err := FitDurationModel(ivs)
	if err != nil {
		t.Fatalf("FitDurationModel: %v", err)
	}
	if res.HazardRatio == nil {
		t.Fatalf("cox failed: %s", res.CoxError)
	}
	if math.Abs(res.HazardRatio.Ratio-1) > 1e-4 {
		t.Errorf("hazard ratio = %v, want 1 for symmetric groups", res.HazardRatio.Ratio)
	}
	if res.Survival == nil || len(res.Survival[GroupPreAdoption]) == 0 || len(res.Survival[GroupPostAdoption]) == 0 {
		t.Error("survival curves missing for one or both groups")
	}
}

func TestFitDurationModel_ImprovementDirection(t *testing.T) {
	var ivs []interval.Interval
	for _, e := range []float64{100, 150, 200, 250} {
		ivs = append(ivs, uncensoredInterval("A", e, false))
	}
	for _, e := range []float64{900, 1000, 1100, 1200} {
		ivs = append(ivs, uncensoredInterval("A", e, true))
	}

	res, err := FitDurationModel(ivs)
	if err != nil {
		t.Fatalf("FitDurationModel: %v", err)
	}
	if res.HazardRatio == nil {
		t.Fatalf("cox failed: %s", res.CoxError)
	}
	if res.HazardRatio.Ratio >= 1 {
		t.Errorf("hazard ratio = %v, want < 1 (longer work between failures after adoption)", res.HazardRatio.Ratio)
	}
	if res.Acceleration == nil {
		t.Fatalf("aft failed: %s", res.AFTError)
	}
	if res.Acceleration.Ratio <= 1 {
		t.Errorf("acceleration factor = %v, want > 1", res.Acceleration.Ratio)
	}
}

func TestFitDurationModel_OnlyCensoredIntervals(t *testing.T) {
	ivs := []interval.Interval{
		{Entity: "A", End: ts(1), Exposure: 50},
		{Entity: "B", End: ts(2), Exposure: 80},
	}
	_, err := FitDurationModel(ivs)
	var mfe *ModelFitError
	if !errors.As(err, &mfe) {
		t.Fatalf("error = %v, want *ModelFitError", err)
	}
}

func panelRow(entity string, month int, events int, treated, post bool, k *int) panel.Row {
	return panel.Row{
		Entity:      entity,
		Period:      time.Date(2024, time.Month(1+month), 1, 0, 0, 0, 0, time.UTC),
		Exposure:    1,
		LogExposure: 0,
		Events:      events,
		Treated:     treated,
		Post:        post,
		K:           k,
	}
}

func TestFitRateModel_SaturatedCells(t *testing.T) {
	// Three disjoint cells: the fitted cell means equal the sample means,
	// so the interaction recovers mean(post)/mean(pre) exactly.
	var rows []panel.Row
	for i, c := range []int{2, 4, 6} { // control, mean 4
		rows = append(rows, panelRow("C1", i, c, false, false, nil))
	}
	for i, c := range []int{6, 8, 10} { // treated pre, mean 8
		rows = append(rows, panelRow("T1", i, c, true, false, nil))
	}
	for i, c := range []int{1, 2, 3} { // treated post, mean 2
		rows = append(rows, panelRow("T1", 3+i, c, true, true, nil))
	}

	res, err := FitRateModel(rows, regress.DefaultNegBinOptions())
	if err != nil {
		t.Fatalf("FitRateModel: %v", err)
	}
	if math.Abs(res.RateRatio.Ratio-0.25) > 1e-5 {
		t.Errorf("rate ratio = %v, want 0.25", res.RateRatio.Ratio)
	}
	if res.RateRatio.CILower >= res.RateRatio.Ratio || res.RateRatio.CIUpper <= res.RateRatio.Ratio {
		t.Errorf("CI [%v, %v] does not bracket the estimate %v",
			res.RateRatio.CILower, res.RateRatio.CIUpper, res.RateRatio.Ratio)
	}
}

func TestFitRateModel_OffsetInvariance(t *testing.T) {
	// Scaling every exposure by the same factor must not move the ratio.
	build := func(logExpo float64) []panel.Row {
		var rows []panel.Row
		for i, c := range []int{3, 5} {
			r := panelRow("C1", i, c, false, false, nil)
			r.LogExposure = logExpo
			rows = append(rows, r)
		}
		for i, c := range []int{4, 6} {
			r := panelRow("T1", i, c, true, false, nil)
			r.LogExposure = logExpo
			rows = append(rows, r)
		}
		for i, c := range []int{1, 3} {
			r := panelRow("T1", 2+i, c, true, true, nil)
			r.LogExposure = logExpo
			rows = append(rows, r)
		}
		return rows
	}

	a, err := FitRateModel(build(0), regress.DefaultNegBinOptions())
	if err != nil {
		t.Fatalf("FitRateModel: %v", err)
	}
	b, err := FitRateModel(build(math.Log(2)), regress.DefaultNegBinOptions())
	if err != nil {
		t.Fatalf("FitRateModel: %v", err)
	}
	if math.Abs(a.RateRatio.Ratio-b.RateRatio.Ratio) > 1e-6 {
		t.Errorf("rate ratio moved with a constant offset shift: %v vs %v", a.RateRatio.Ratio, b.RateRatio.Ratio)
	}
}

func TestFitEventStudyModel_ExactRecovery(t *testing.T) {
	// Panel with exact additive structure: entity effect + period effect +
	// a jump of 2 from adoption onward. All exposures equal, so relative
	// utilization is one and the normalized rate equals the raw count.
	entityFE := map[string]int{"A": 3, "B": 5, "C": 4, "D": 6}
	adoptMonth := map[string]int{"A": 3, "B": 5}
	periodFE := func(p int) int { return 1 + p%2 }

	var rows []panel.Row
	for e, fe := range entityFE {
		for p := 0; p < 8; p++ {
			ev := fe + periodFE(p)
			var k *int
			treated := false
			post := false
			if am, ok := adoptMonth[e]; ok {
				treated = true
				kv := p - am
				k = &kv
				post = kv >= 0
				if post {
					ev += 2
				}
			}
			rows = append(rows, panelRow(e, p, ev, treated, post, k))
		}
	}

	enc, err := eventtime.NewEncoder(6, 6, -1)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	res, err := FitEventStudyModel(rows, enc)
	if err != nil {
		t.Fatalf("FitEventStudyModel: %v", err)
	}

	var sawRef bool
	for _, b := range res.Buckets {
		if b.Reference {
			sawRef = true
			if b.K != -1 || b.Coefficient != 0 {
				t.Errorf("reference bucket = %+v, want K=-1 coefficient 0", b)
			}
			continue
		}
		want := 0.0
		if b.K >= 0 {
			want = 2
		}
		if math.Abs(b.Coefficient-want) > 1e-6 {
			t.Errorf("K=%d coefficient = %v, want %v", b.K, b.Coefficient, want)
		}
	}
	if !sawRef {
		t.Error("reference bucket missing from the series")
	}

	for i := 1; i < len(res.Buckets); i++ {
		if res.Buckets[i].K <= res.Buckets[i-1].K {
			t.Fatalf("buckets not sorted by K: %+v", res.Buckets)
		}
	}
}

func TestFitEventStudyModel_NoTreatedRows(t *testing.T) {
	var rows []panel.Row
	for p := 0; p < 4; p++ {
		rows = append(rows, panelRow("C1", p, 1, false, false, nil))
		rows = append(rows, panelRow("C2", p, 2, false, false, nil))
	}
	enc := eventtime.DefaultEncoder()
	_, err := FitEventStudyModel(rows, enc)
	var mfe *ModelFitError
	if !errors.As(err, &mfe) {
		t.Fatalf("error = %v, want *ModelFitError", err)
	}
}
