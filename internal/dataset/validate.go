package dataset

import (
	"fmt"
	"sort"
)

// InvalidInputError reports malformed input data. Validation failures are
// fatal: downstream stages assume a validated shape and do not re-check.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// Normalize validates the dataset, sorts both streams by (entity, timestamp)
// with a stable tie-break on input order, and derives the PostAdoption flag
// on every event. It must be called once before any pipeline stage runs.
func (d *Dataset) Normalize() error {
	if err := d.validate(); err != nil {
		return err
	}

	sort.SliceStable(d.Exposure, func(i, j int) bool {
		a, b := d.Exposure[i], d.Exposure[j]
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Timestamp.Before(b.Timestamp)
	})
	sort.SliceStable(d.Events, func(i, j int) bool {
		a, b := d.Events[i], d.Events[j]
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Timestamp.Before(b.Timestamp)
	})

	for i := range d.Events {
		adopt, ok := d.Adoptions[d.Events[i].Entity]
		d.Events[i].PostAdoption = ok && !d.Events[i].Timestamp.Before(adopt)
	}
	return nil
}

func (d *Dataset) validate() error {
	if len(d.Exposure) == 0 {
		return &InvalidInputError{Field: "exposure", Reason: "no exposure records"}
	}

	type dayKey struct {
		entity string
		day    int64
	}
	days := make(map[dayKey]struct{}, len(d.Exposure))
	window := make(map[string][2]int64) // entity -> [min, max] day unix

	for i, r := range d.Exposure {
		if r.Entity == "" {
			return &InvalidInputError{Field: "exposure.entity_id", Reason: fmt.Sprintf("empty at row %d", i)}
		}
		if r.Timestamp.IsZero() {
			return &InvalidInputError{Field: "exposure.timestamp", Reason: fmt.Sprintf("missing at row %d", i)}
		}
		if r.Amount < 0 {
			return &InvalidInputError{Field: "exposure.exposure_amount", Reason: fmt.Sprintf("negative (%.3f) at row %d", r.Amount, i)}
		}
		day := DayFloor(r.Timestamp).Unix()
		k := dayKey{r.Entity, day}
		if _, dup := days[k]; dup {
			return &InvalidInputError{Field: "exposure.timestamp", Reason: fmt.Sprintf("duplicate bucket for entity %s at row %d", r.Entity, i)}
		}
		days[k] = struct{}{}
		if w, ok := window[r.Entity]; ok {
			if day < w[0] {
				w[0] = day
			}
			if day > w[1] {
				w[1] = day
			}
			window[r.Entity] = w
		} else {
			window[r.Entity] = [2]int64{day, day}
		}
	}

	for i, e := range d.Events {
		if e.Entity == "" {
			return &InvalidInputError{Field: "events.entity_id", Reason: fmt.Sprintf("empty at row %d", i)}
		}
		if e.Timestamp.IsZero() {
			return &InvalidInputError{Field: "events.timestamp", Reason: fmt.Sprintf("missing at row %d", i)}
		}
		w, ok := window[e.Entity]
		if !ok {
			return &InvalidInputError{Field: "events.entity_id", Reason: fmt.Sprintf("entity %s has events but no exposure records", e.Entity)}
		}
		day := DayFloor(e.Timestamp).Unix()
		if day < w[0] || day > w[1] {
			return &InvalidInputError{Field: "events.timestamp", Reason: fmt.Sprintf("event for %s outside its exposure window", e.Entity)}
		}
	}

	for id, t := range d.Adoptions {
		if id == "" {
			return &InvalidInputError{Field: "adoptions.entity_id", Reason: "empty"}
		}
		if t.IsZero() {
			return &InvalidInputError{Field: "adoptions.adoption_timestamp", Reason: fmt.Sprintf("missing for entity %s", id)}
		}
	}
	return nil
}
