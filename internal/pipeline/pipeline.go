// Package pipeline runs the full analysis in one pass: normalize the
// dataset, index exposure, cut failure intervals, build the monthly panel,
// and fit the duration, rate, and event-study models. Model failures are
// isolated per model; a run only errors out when the input is invalid or
// no model produced an estimate.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fab-analytics/uplift/internal/causal"
	"github.com/fab-analytics/uplift/internal/dataset"
	"github.com/fab-analytics/uplift/internal/eventtime"
	"github.com/fab-analytics/uplift/internal/exposure"
	"github.com/fab-analytics/uplift/internal/interval"
	"github.com/fab-analytics/uplift/internal/metrics"
	"github.com/fab-analytics/uplift/internal/panel"
	"github.com/fab-analytics/uplift/internal/regress"
	"github.com/fab-analytics/uplift/pkg/otel"
)

const tracerName = "uplift/pipeline"

// Options configures one analysis run.
type Options struct {
	// Encoder controls the event-study window. Nil means the default
	// window of six pre and six post buckets with reference at -1.
	Encoder *eventtime.Encoder

	// NegBin controls the count-model solver.
	NegBin regress.NegBinOptions

	// Metrics receives run counters when non-nil.
	Metrics *metrics.Metrics
}

// DefaultOptions returns the standard model configuration.
func DefaultOptions() Options {
	return Options{
		Encoder: eventtime.DefaultEncoder(),
		NegBin:  regress.DefaultNegBinOptions(),
	}
}

// IntervalSummary describes the cut intervals without carrying them all.
type IntervalSummary struct {
	Total        int     `json:"total"`
	LeftCensored int     `json:"left_censored"`
	PreAdoption  int     `json:"pre_adoption"`
	PostAdoption int     `json:"post_adoption"`
	MeanWBFPre   float64 `json:"mean_wbf_pre"`
	MeanWBFPost  float64 `json:"mean_wbf_post"`
	// Elapsed-hours means kept alongside the exposure-based ones so the
	// utilization confound is visible in the report itself.
	MeanElapsedPre  float64 `json:"mean_elapsed_pre"`
	MeanElapsedPost float64 `json:"mean_elapsed_post"`
}

// Report is the JSON-ready result of one run.
type Report struct {
	Fingerprint string    `json:"fingerprint"`
	GeneratedAt time.Time `json:"generated_at"`

	Entities            int `json:"entities"`
	Events              int `json:"events"`
	PanelRows           int `json:"panel_rows"`
	DroppedZeroExposure int `json:"dropped_zero_exposure"`

	Intervals IntervalSummary `json:"intervals"`

	Duration        *causal.DurationResult   `json:"duration,omitempty"`
	DurationError   string                   `json:"duration_error,omitempty"`
	Rate            *causal.RateResult       `json:"rate,omitempty"`
	RateError       string                   `json:"rate_error,omitempty"`
	EventStudy      *causal.EventStudyResult `json:"event_study,omitempty"`
	EventStudyError string                   `json:"event_study_error,omitempty"`

	Trend []panel.TrendPoint `json:"trend,omitempty"`
}

// Run executes the full pipeline on a dataset. The dataset is normalized
// in place first; an invalid dataset fails the run before any model fit.
func Run(ctx context.Context, ds *dataset.Dataset, opts Options) (*Report, error) {
	if opts.Encoder == nil {
		opts.Encoder = eventtime.DefaultEncoder()
	}
	if opts.NegBin.MaxIter == 0 {
		opts.NegBin = regress.DefaultNegBinOptions()
	}
	if opts.Metrics != nil {
		opts.Metrics.RunsTotal.Inc()
	}
	started := time.Now()

	ctx, span := otel.StartSpan(ctx, tracerName, "pipeline.run")
	defer span.End()

	if err := ds.Normalize(); err != nil {
		otel.RecordError(span, err, "dataset rejected")
		return nil, failRun(opts, fmt.Errorf("normalize dataset: %w", err))
	}
	report := &Report{
		Fingerprint: ds.Fingerprint(),
		GeneratedAt: time.Now().UTC(),
		Entities:    len(ds.Entities()),
		Events:      len(ds.Events),
	}
	span.SetAttributes(
		attribute.String("dataset.fingerprint", report.Fingerprint),
		attribute.Int("dataset.entities", report.Entities),
		attribute.Int("dataset.events", report.Events),
	)

	ix, err := exposure.NewIndex(ds.Exposure)
	if err != nil {
		otel.RecordError(span, err, "exposure index")
		return nil, failRun(opts, fmt.Errorf("index exposure: %w", err))
	}

	intervals, err := interval.NewBuilder(ix).Build(ds.Events)
	if err != nil {
		otel.RecordError(span, err, "interval build")
		return nil, failRun(opts, fmt.Errorf("build intervals: %w", err))
	}
	report.Intervals = summarizeIntervals(intervals)

	pn, err := panel.Build(ds)
	if err != nil {
		otel.RecordError(span, err, "panel build")
		return nil, failRun(opts, fmt.Errorf("build panel: %w", err))
	}
	report.PanelRows = len(pn.Rows)
	report.DroppedZeroExposure = pn.DroppedZeroExposure
	report.Trend = panel.Trend(pn.Rows)
	if opts.Metrics != nil {
		opts.Metrics.RowsDropped.Add(float64(pn.DroppedZeroExposure))
	}

	anyFit := false

	// A duration failure can still carry partial output (survival curves),
	// so the result is kept either way.
	if res, err := causal.FitDurationModel(intervals); err != nil {
		report.Duration = res
		report.DurationError = err.Error()
		recordFit(opts, span, "duration", err)
	} else {
		report.Duration = res
		anyFit = true
		recordFit(opts, span, "duration", nil)
	}

	if res, err := causal.FitRateModel(pn.Rows, opts.NegBin); err != nil {
		report.RateError = err.Error()
		recordFit(opts, span, "rate_did", err)
	} else {
		report.Rate = res
		anyFit = true
		recordFit(opts, span, "rate_did", nil)
	}

	if res, err := causal.FitEventStudyModel(pn.Rows, opts.Encoder); err != nil {
		report.EventStudyError = err.Error()
		recordFit(opts, span, "event_study", err)
	} else {
		report.EventStudy = res
		anyFit = true
		recordFit(opts, span, "event_study", nil)
	}

	if !anyFit {
		err := fmt.Errorf("no model produced an estimate: duration: %s; rate: %s; event study: %s",
			report.DurationError, report.RateError, report.EventStudyError)
		otel.RecordError(span, err, "all models failed")
		return nil, failRun(opts, err)
	}
	if opts.Metrics != nil {
		opts.Metrics.RunDuration.Observe(time.Since(started).Seconds())
	}
	return report, nil
}

func failRun(opts Options, err error) error {
	if opts.Metrics != nil {
		opts.Metrics.RunsFailed.Inc()
	}
	return err
}

func recordFit(opts Options, span trace.Span, model string, err error) {
	if err != nil {
		otel.AddEvent(span, "model_failed", attribute.String("model", model))
		log.Printf("model %s failed: %v", model, err)
		if opts.Metrics != nil {
			opts.Metrics.ModelFitErrors.WithLabelValues(model).Inc()
		}
		return
	}
	otel.AddEvent(span, "model_fit", attribute.String("model", model))
	if opts.Metrics != nil {
		opts.Metrics.ModelFits.WithLabelValues(model).Inc()
	}
}

func summarizeIntervals(intervals []interval.Interval) IntervalSummary {
	var s IntervalSummary
	s.Total = len(intervals)
	var preWBF, postWBF, preEl, postEl float64
	var pre, post int
	for _, iv := range intervals {
		if iv.Censored() {
			s.LeftCensored++
			continue
		}
		if iv.PostAdoption {
			post++
			postWBF += iv.Exposure
			postEl += iv.ElapsedHours
		} else {
			pre++
			preWBF += iv.Exposure
			preEl += iv.ElapsedHours
		}
	}
	s.PreAdoption = pre
	s.PostAdoption = post
	if pre > 0 {
		s.MeanWBFPre = preWBF / float64(pre)
		s.MeanElapsedPre = preEl / float64(pre)
	}
	if post > 0 {
		s.MeanWBFPost = postWBF / float64(post)
		s.MeanElapsedPost = postEl / float64(post)
	}
	return s
}
