package interval

import (
	"errors"
	"testing"
	"time"

	"github.com/fab-analytics/uplift/internal/dataset"
	"github.com/fab-analytics/uplift/internal/exposure"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func fixedIndex(t *testing.T, entities []string, days int, amount float64) *exposure.Index {
	t.Helper()
	var recs []dataset.ExposureRecord
	for _, e := range entities {
		for i := 0; i < days; i++ {
			recs = append(recs, dataset.ExposureRecord{Entity: e, Timestamp: day(i), Amount: amount})
		}
	}
	ix, err := exposure.NewIndex(recs)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return ix
}

func TestBuild_OneIntervalPerEvent(t *testing.T) {
	ix := fixedIndex(t, []string{"A", "B"}, 100, 10)
	b := NewBuilder(ix)

	events := []dataset.EventRecord{
		{Entity: "A", Timestamp: day(10)},
		{Entity: "A", Timestamp: day(30)},
		{Entity: "A", Timestamp: day(60)},
		{Entity: "B", Timestamp: day(5)},
	}
	intervals, err := b.Build(events)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(intervals) != len(events) {
		t.Fatalf("got %d intervals for %d events", len(intervals), len(events))
	}

	censoredByEntity := map[string]int{}
	for _, iv := range intervals {
		if iv.Censored() {
			censoredByEntity[iv.Entity]++
		}
	}
	for _, e := range []string{"A", "B"} {
		if censoredByEntity[e] != 1 {
			t.Errorf("entity %s: %d censored intervals, want exactly 1", e, censoredByEntity[e])
		}
	}
}

func TestBuild_ExposureAndElapsed(t *testing.T) {
	ix := fixedIndex(t, []string{"A"}, 100, 10)
	b := NewBuilder(ix)

	intervals, err := b.Build([]dataset.EventRecord{
		{Entity: "A", Timestamp: day(10).Add(6 * time.Hour)},
		{Entity: "A", Timestamp: day(30).Add(18 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	first, second := intervals[0], intervals[1]

	// Left-censored interval spans the observation start: days 0..10.
	if !first.Censored() || first.Exposure != 110 {
		t.Errorf("first interval: censored=%v exposure=%.1f, want true/110", first.Censored(), first.Exposure)
	}
	// Days 10..30 inclusive after flooring: 21 buckets.
	if second.Censored() || second.Exposure != 210 {
		t.Errorf("second interval: censored=%v exposure=%.1f, want false/210", second.Censored(), second.Exposure)
	}
	wantElapsed := day(30).Add(18 * time.Hour).Sub(day(10).Add(6 * time.Hour)).Hours()
	if second.ElapsedHours != wantElapsed {
		t.Errorf("elapsed = %.1f, want %.1f", second.ElapsedHours, wantElapsed)
	}
	// Mean rate is 10/day, so 210 units normalize to 21 days = 504 hours.
	if second.NormalizedHours != 504 {
		t.Errorf("normalized = %.1f, want 504", second.NormalizedHours)
	}
}

func TestBuild_OutOfOrderInputIsSorted(t *testing.T) {
	ix := fixedIndex(t, []string{"A"}, 100, 10)
	b := NewBuilder(ix)

	intervals, err := b.Build([]dataset.EventRecord{
		{Entity: "A", Timestamp: day(50)},
		{Entity: "A", Timestamp: day(20)},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !intervals[0].End.Equal(day(20)) || !intervals[1].End.Equal(day(50)) {
		t.Errorf("intervals not reordered: ends %v, %v", intervals[0].End, intervals[1].End)
	}
	if intervals[1].Censored() {
		t.Error("second interval should have an observed start after sorting")
	}
}

func TestBuild_IdenticalTimestampsAllowed(t *testing.T) {
	ix := fixedIndex(t, []string{"A"}, 10, 7)
	b := NewBuilder(ix)

	ts := day(4).Add(3 * time.Hour)
	intervals, err := b.Build([]dataset.EventRecord{
		{Entity: "A", Timestamp: ts},
		{Entity: "A", Timestamp: ts},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	second := intervals[1]
	if second.Censored() {
		t.Fatal("tie-broken second event should terminate an uncensored interval")
	}
	if second.ElapsedHours != 0 {
		t.Errorf("elapsed = %.1f, want 0", second.ElapsedHours)
	}
	// Zero elapsed time still spans the single shared day bucket.
	if second.Exposure != 7 {
		t.Errorf("exposure = %.1f, want 7", second.Exposure)
	}
}

func TestBuild_EmptyEntityRejected(t *testing.T) {
	ix := fixedIndex(t, []string{"A"}, 10, 1)
	b := NewBuilder(ix)

	_, err := b.Build([]dataset.EventRecord{{Entity: "", Timestamp: day(1)}})
	if err == nil {
		t.Fatal("expected error for empty entity id")
	}
	var inv *dataset.InvalidInputError
	if !errors.As(err, &inv) {
		t.Fatalf("error type = %T, want *dataset.InvalidInputError", err)
	}
}

func TestUncensored(t *testing.T) {
	start := day(1)
	in := []Interval{
		{Entity: "A", End: day(1)},
		{Entity: "A", Start: &start, End: day(3)},
	}
	out := Uncensored(in)
	if len(out) != 1 || out[0].Censored() {
		t.Fatalf("Uncensored = %+v", out)
	}
}
