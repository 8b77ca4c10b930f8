// Package synth generates synthetic fleet telemetry for exercising the
// analysis pipeline end to end: a staggered adoption table, a daily
// production stream with heterogeneous per-tool utilization, and a failure
// log whose rate drops after adoption. One generator serves every analysis;
// randomness comes only from the seeded source in the config.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/fab-analytics/uplift/internal/dataset"
)

// Config controls the synthetic fleet.
type Config struct {
	Tools int       `json:"tools"`
	Days  int       `json:"days"`
	Start time.Time `json:"start"`

	// TreatedShare is the fraction of tools that eventually adopt.
	TreatedShare float64 `json:"treated_share"`
	// Adoption dates are drawn uniformly from the middle of the window:
	// [AdoptionEarliest, AdoptionLatest] as fractions of Days.
	AdoptionEarliest float64 `json:"adoption_earliest"`
	AdoptionLatest   float64 `json:"adoption_latest"`

	// BaseDailyOutput is the fleet-maximum daily production; each tool runs
	// at a capacity factor drawn from [CapacityMin, CapacityMax].
	BaseDailyOutput float64 `json:"base_daily_output"`
	OutputNoise     float64 `json:"output_noise"`
	CapacityMin     float64 `json:"capacity_min"`
	CapacityMax     float64 `json:"capacity_max"`

	// FailureProbPerUnit is the per-unit failure probability before
	// adoption; EffectSize multiplies it afterwards (0.5 halves the rate).
	FailureProbPerUnit float64 `json:"failure_prob_per_unit"`
	EffectSize         float64 `json:"effect_size"`

	Seed int64 `json:"seed"`
}

// DefaultConfig mirrors a mid-size fab line over one year.
func DefaultConfig() Config {
	return Config{
		Tools:              20,
		Days:               365,
		Start:              time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		TreatedShare:       0.5,
		AdoptionEarliest:   0.25,
		AdoptionLatest:     0.75,
		BaseDailyOutput:    1000,
		OutputNoise:        50,
		CapacityMin:        0.2,
		CapacityMax:        1.0,
		FailureProbPerUnit: 0.0005,
		EffectSize:         0.5,
		Seed:               1,
	}
}

func (c Config) validate() error {
	if c.Tools <= 0 || c.Days <= 0 {
		return fmt.Errorf("synth: tools and days must be positive")
	}
	if c.Start.IsZero() {
		return fmt.Errorf("synth: start date required")
	}
	if c.TreatedShare < 0 || c.TreatedShare > 1 {
		return fmt.Errorf("synth: treated share %.3f outside [0, 1]", c.TreatedShare)
	}
	if c.AdoptionEarliest < 0 || c.AdoptionLatest > 1 || c.AdoptionEarliest > c.AdoptionLatest {
		return fmt.Errorf("synth: adoption window [%.2f, %.2f] invalid", c.AdoptionEarliest, c.AdoptionLatest)
	}
	if c.CapacityMin <= 0 || c.CapacityMax < c.CapacityMin {
		return fmt.Errorf("synth: capacity range [%.2f, %.2f] invalid", c.CapacityMin, c.CapacityMax)
	}
	if c.FailureProbPerUnit < 0 || c.EffectSize < 0 {
		return fmt.Errorf("synth: failure probability and effect size must be non-negative")
	}
	return nil
}

// Generate builds a normalized dataset from the config. The same config
// (seed included) always yields a byte-identical dataset.
func Generate(cfg Config) (*dataset.Dataset, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	tools := make([]string, cfg.Tools)
	for i := range tools {
		tools[i] = fmt.Sprintf("TOOL_%02d", i+1)
	}

	ds := &dataset.Dataset{Adoptions: make(map[string]time.Time)}

	// Staggered adoption for the leading share of tools.
	treated := int(math.Round(float64(cfg.Tools) * cfg.TreatedShare))
	lo := int(float64(cfg.Days) * cfg.AdoptionEarliest)
	hi := int(float64(cfg.Days) * cfg.AdoptionLatest)
	if hi <= lo {
		hi = lo + 1
	}
	for i := 0; i < treated; i++ {
		offset := lo + rng.Intn(hi-lo)
		ds.Adoptions[tools[i]] = cfg.Start.AddDate(0, 0, offset)
	}

	// Daily production with a fixed per-tool capacity factor.
	capacity := make(map[string]float64, cfg.Tools)
	for _, t := range tools {
		capacity[t] = cfg.CapacityMin + rng.Float64()*(cfg.CapacityMax-cfg.CapacityMin)
	}
	for _, t := range tools {
		base := cfg.BaseDailyOutput * capacity[t]
		for d := 0; d < cfg.Days; d++ {
			out := math.Floor(base + rng.NormFloat64()*cfg.OutputNoise)
			if out < 0 {
				out = 0
			}
			ds.Exposure = append(ds.Exposure, dataset.ExposureRecord{
				Entity:    t,
				Timestamp: cfg.Start.AddDate(0, 0, d),
				Amount:    out,
			})
		}
	}

	// Failures scale with production volume, not elapsed time; adoption
	// multiplies the per-unit probability by the effect size.
	expoAt := func(toolIdx, d int) float64 {
		return ds.Exposure[toolIdx*cfg.Days+d].Amount
	}
	for ti, t := range tools {
		adopt, isTreated := ds.Adoptions[t]
		for d := 0; d < cfg.Days; d++ {
			day := cfg.Start.AddDate(0, 0, d)
			prob := cfg.FailureProbPerUnit
			if isTreated && !day.Before(adopt) {
				prob *= cfg.EffectSize
			}
			n := poisson(rng, expoAt(ti, d)*prob)
			for k := 0; k < n; k++ {
				ds.Events = append(ds.Events, dataset.EventRecord{
					Entity:    t,
					Timestamp: day.Add(time.Duration(rng.Intn(24)) * time.Hour),
				})
			}
		}
	}

	if err := ds.Normalize(); err != nil {
		return nil, fmt.Errorf("synth: generated dataset failed validation: %w", err)
	}
	return ds, nil
}

// poisson draws from Poisson(lambda) by inversion; lambda here is the
// expected daily failure count, well below one in any realistic config.
func poisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
		if k > 10000 {
			return k // lambda absurdly large; cap rather than spin
		}
	}
}
