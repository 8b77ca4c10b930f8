// Package causal shapes pipeline outputs into the exact covariate, offset,
// and index structures the regression back ends expect, and lifts solver
// outputs into effect estimates. Solver failures never escape as foreign
// error types: every fit problem surfaces as a ModelFitError so callers can
// keep going with the models that did converge.
package causal

import (
	"fmt"
	"math"

	"github.com/fab-analytics/uplift/internal/eventtime"
	"github.com/fab-analytics/uplift/internal/interval"
	"github.com/fab-analytics/uplift/internal/panel"
	"github.com/fab-analytics/uplift/internal/regress"
)

// ModelFitError tags a solver failure with the model it came from.
type ModelFitError struct {
	Model string
	Err   error
}

func (e *ModelFitError) Error() string {
	return fmt.Sprintf("model %s failed to fit: %v", e.Model, e.Err)
}

func (e *ModelFitError) Unwrap() error { return e.Err }

// Effect is one causal estimate on the ratio scale.
type Effect struct {
	Model       string  `json:"model"`
	Coefficient float64 `json:"coefficient"`
	// Ratio is exp(Coefficient): a hazard ratio, rate ratio, or
	// acceleration factor depending on the model.
	Ratio   float64 `json:"ratio"`
	CILower float64 `json:"ci_lower"` // ratio scale
	CIUpper float64 `json:"ci_upper"` // ratio scale
	P       float64 `json:"p"`
	N       int     `json:"n"`
}

func effectFromCoef(model string, c regress.Coef, n int) *Effect {
	return &Effect{
		Model:       model,
		Coefficient: c.Estimate,
		Ratio:       math.Exp(c.Estimate),
		CILower:     math.Exp(c.CILower),
		CIUpper:     math.Exp(c.CIUpper),
		P:           c.P,
		N:           n,
	}
}

// Group labels for the survival curves.
const (
	GroupPostAdoption = "post_adoption"
	GroupPreAdoption  = "pre_adoption"
)

// DurationResult holds the survival-model estimates on the work-between-
// failures metric. Cox and AFT fail independently; a nil effect with a
// non-empty error string is a tagged per-model failure, not a crash.
type DurationResult struct {
	HazardRatio  *Effect `json:"hazard_ratio,omitempty"`
	CoxError     string  `json:"cox_error,omitempty"`
	Acceleration *Effect `json:"acceleration,omitempty"`
	AFTError     string  `json:"aft_error,omitempty"`

	Survival map[string][]regress.KMPoint `json:"survival,omitempty"`

	CoxFit *regress.Fit `json:"-"`
	AFTFit *regress.Fit `json:"-"`
}

// FitDurationModel runs Cox PH and Weibull AFT on the uncensored intervals,
// with the interval's exposure sum as the duration variable and the
// post-adoption flag as the treatment covariate. Left-censored intervals
// are excluded before this point; every remaining interval ends in an
// observed failure, so the event indicator is identically one and no
// censoring structure is passed to the solvers.
func FitDurationModel(intervals []interval.Interval) (*DurationResult, error) {
	rows := interval.Uncensored(intervals)
	if len(rows) == 0 {
		return nil, &ModelFitError{Model: "duration", Err: fmt.Errorf("no uncensored intervals")}
	}

	durations := make([]float64, len(rows))
	treated := make([][]float64, len(rows))
	aftX := make([][]float64, len(rows))
	groups := make([]string, len(rows))
	for i, iv := range rows {
		durations[i] = iv.Exposure
		d := 0.0
		if iv.PostAdoption {
			d = 1
		}
		treated[i] = []float64{d}
		aftX[i] = []float64{1, d}
		if iv.PostAdoption {
			groups[i] = GroupPostAdoption
		} else {
			groups[i] = GroupPreAdoption
		}
	}

	res := &DurationResult{}

	if fit, err := regress.CoxPH(durations, treated, []string{"treated"}); err != nil {
		res.CoxError = (&ModelFitError{Model: "cox", Err: err}).Error()
	} else {
		res.CoxFit = fit
		if c, ok := fit.Coef("treated"); ok {
			res.HazardRatio = effectFromCoef("cox", c, fit.N)
		}
	}

	if fit, err := regress.WeibullAFT(durations, aftX, []string{"intercept", "treated"}); err != nil {
		res.AFTError = (&ModelFitError{Model: "weibull_aft", Err: err}).Error()
	} else {
		res.AFTFit = fit
		if c, ok := fit.Coef("treated"); ok {
			res.Acceleration = effectFromCoef("weibull_aft", c, fit.N)
		}
	}

	if curves, err := regress.KaplanMeier(durations, groups); err == nil {
		res.Survival = curves
	}

	if res.HazardRatio == nil && res.Acceleration == nil {
		return res, &ModelFitError{Model: "duration", Err: fmt.Errorf("cox: %s; aft: %s", res.CoxError, res.AFTError)}
	}
	return res, nil
}

// RateResult is the staggered difference-in-differences estimate from the
// count model: the exponentiated treated-x-post interaction.
type RateResult struct {
	RateRatio *Effect      `json:"rate_ratio"`
	Fit       *regress.Fit `json:"-"`
}

// FitRateModel fits the negative binomial DiD specification
//
//	events ~ treated + treated:post, offset = log exposure
//
// on the monthly panel. Post is entity-specific in a staggered design and
// identically zero for controls, which makes the post main effect an exact
// copy of the interaction; only the interaction enters, and its coefficient,
// exponentiated, is the causal rate ratio.
func FitRateModel(rows []panel.Row, opts regress.NegBinOptions) (*RateResult, error) {
	if len(rows) == 0 {
		return nil, &ModelFitError{Model: "rate_did", Err: fmt.Errorf("empty panel")}
	}

	y := make([]float64, len(rows))
	x := make([][]float64, len(rows))
	offset := make([]float64, len(rows))
	for i, r := range rows {
		y[i] = float64(r.Events)
		t, p := 0.0, 0.0
		if r.Treated {
			t = 1
		}
		if r.Post {
			p = 1
		}
		x[i] = []float64{1, t, t * p}
		offset[i] = r.LogExposure
	}
	names := []string{"intercept", "treated", "treated_post"}

	fit, err := regress.NegBinGLM(y, x, offset, names, opts)
	if err != nil {
		return nil, &ModelFitError{Model: "rate_did", Err: err}
	}
	c, ok := fit.Coef("treated_post")
	if !ok {
		return nil, &ModelFitError{Model: "rate_did", Err: fmt.Errorf("interaction coefficient missing")}
	}
	return &RateResult{RateRatio: effectFromCoef("rate_did", c, fit.N), Fit: fit}, nil
}

// BucketEffect is one event-time coefficient of the dynamic specification.
type BucketEffect struct {
	K           int     `json:"k"`
	Coefficient float64 `json:"coefficient"`
	CILower     float64 `json:"ci_lower"`
	CIUpper     float64 `json:"ci_upper"`
	P           float64 `json:"p"`
	Reference   bool    `json:"reference,omitempty"`
}

// EventStudyResult is the per-bucket coefficient series of the dynamic
// (event-study) two-way fixed-effects model, sorted by K and including the
// pinned zero at the reference offset for direct plotting.
type EventStudyResult struct {
	Buckets []BucketEffect `json:"buckets"`
	Fit     *regress.Fit   `json:"-"`
}

// FitEventStudyModel regresses the utilization-normalized event rate on the
// clamped event-time dummies with entity and period fixed effects and
// entity-clustered standard errors. Control entities stay in the sample
// with all dummies at zero; the reference bucket is omitted from the design
// and reported as a fixed zero.
func FitEventStudyModel(rows []panel.Row, enc *eventtime.Encoder) (*EventStudyResult, error) {
	if len(rows) == 0 {
		return nil, &ModelFitError{Model: "event_study", Err: fmt.Errorf("empty panel")}
	}

	// Relative utilization: exposure over the same-period fleet mean.
	periodSum := make(map[int64]float64)
	periodCount := make(map[int64]int)
	for _, r := range rows {
		periodSum[r.Period.Unix()] += r.Exposure
		periodCount[r.Period.Unix()]++
	}

	y := make([]float64, len(rows))
	ks := make([]*int, len(rows))
	entities := make([]string, len(rows))
	periods := make([]int64, len(rows))
	for i, r := range rows {
		meanExpo := periodSum[r.Period.Unix()] / float64(periodCount[r.Period.Unix()])
		relUtil := r.Exposure / meanExpo
		y[i] = float64(r.Events) / relUtil
		ks[i] = r.K
		entities[i] = r.Entity
		periods[i] = r.Period.Unix()
	}

	full := enc.Encode(ks)
	allNames := enc.Columns()
	allOffsets := enc.ColumnOffsets()

	// Keep only buckets that actually occur: an unobserved bucket is an
	// all-zero column the within regression cannot identify.
	keep := make([]int, 0, len(allNames))
	for j := range allNames {
		for i := range full {
			if full[i][j] != 0 {
				keep = append(keep, j)
				break
			}
		}
	}
	if len(keep) == 0 {
		return nil, &ModelFitError{Model: "event_study", Err: fmt.Errorf("no treated observations in the event-time window")}
	}
	x := make([][]float64, len(full))
	for i := range full {
		row := make([]float64, len(keep))
		for jj, j := range keep {
			row[jj] = full[i][j]
		}
		x[i] = row
	}
	names := make([]string, len(keep))
	offsets := make([]int, len(keep))
	for jj, j := range keep {
		names[jj] = allNames[j]
		offsets[jj] = allOffsets[j]
	}

	fit, err := regress.PanelTWFE(y, x, entities, periods, names)
	if err != nil {
		return nil, &ModelFitError{Model: "event_study", Err: err}
	}
	res := &EventStudyResult{Fit: fit}
	inserted := false
	for i, c := range fit.Coefs {
		k := offsets[i]
		if !inserted && k > enc.ReferenceOffset {
			res.Buckets = append(res.Buckets, BucketEffect{K: enc.ReferenceOffset, Reference: true})
			inserted = true
		}
		res.Buckets = append(res.Buckets, BucketEffect{
			K:           k,
			Coefficient: c.Estimate,
			CILower:     c.CILower,
			CIUpper:     c.CIUpper,
			P:           c.P,
		})
	}
	if !inserted {
		res.Buckets = append(res.Buckets, BucketEffect{K: enc.ReferenceOffset, Reference: true})
	}
	return res, nil
}
