package dataset

import (
	"sort"
	"time"
)

// ExposureRecord is one throughput observation for an entity in a base time
// bucket (one day): the amount of work the tool performed on that day.
type ExposureRecord struct {
	Entity    string    `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"exposure_amount"`
}

// EventRecord is one failure occurrence on an entity.
// PostAdoption is derived during normalization: true iff the event happened
// at or after the entity's adoption timestamp.
type EventRecord struct {
	Entity       string    `json:"entity_id"`
	Timestamp    time.Time `json:"timestamp"`
	PostAdoption bool      `json:"is_post_adoption"`
}

// Dataset bundles the three input streams of one analysis run.
// Entities absent from Adoptions are never-treated controls.
type Dataset struct {
	Exposure  []ExposureRecord     `json:"exposure"`
	Events    []EventRecord        `json:"events"`
	Adoptions map[string]time.Time `json:"adoptions"`
}

// Entities returns the sorted union of entity ids appearing in any stream.
func (d *Dataset) Entities() []string {
	seen := make(map[string]struct{})
	for _, r := range d.Exposure {
		seen[r.Entity] = struct{}{}
	}
	for _, e := range d.Events {
		seen[e.Entity] = struct{}{}
	}
	for id := range d.Adoptions {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AdoptionOf returns the adoption timestamp for an entity and whether the
// entity is ever treated.
func (d *Dataset) AdoptionOf(entity string) (time.Time, bool) {
	t, ok := d.Adoptions[entity]
	return t, ok
}

// DayFloor truncates a timestamp to the start of its calendar day.
func DayFloor(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, t.Location())
}

// MonthFloor truncates a timestamp to the first day of its calendar month.
func MonthFloor(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// MonthDiff returns the whole-calendar-month difference b - a.
// Days within the month are ignored: Jan 31 to Feb 1 is one month.
func MonthDiff(a, b time.Time) int {
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	return (int(by)-int(ay))*12 + int(bm) - int(am)
}
