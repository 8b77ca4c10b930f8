package store

import (
	"context"
	"testing"
	"time"

	"github.com/fab-analytics/uplift/internal/pipeline"
)

func TestMemoryStoreGetMiss(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	got, err := s.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing fingerprint")
	}
}

func TestMemoryStoreSetGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	report := &pipeline.Report{Fingerprint: "fp1", Entities: 4}
	if err := s.Set(ctx, "fp1", report, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Entities != 4 {
		t.Errorf("cached report mismatch: %+v", got)
	}
}

func TestMemoryStoreFirstWriteWins(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	first := &pipeline.Report{Fingerprint: "fp1", Events: 10}
	second := &pipeline.Report{Fingerprint: "fp1", Events: 99}

	if err := s.Set(ctx, "fp1", first, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "fp1", second, time.Minute); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}

	got, err := s.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Events != 10 {
		t.Errorf("expected first write to win, got Events=%d", got.Events)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	report := &pipeline.Report{Fingerprint: "fp1"}
	if err := s.Set(ctx, "fp1", report, -time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("expected expired entry to miss")
	}

	// An expired entry may be overwritten.
	fresh := &pipeline.Report{Fingerprint: "fp1", Events: 3}
	if err := s.Set(ctx, "fp1", fresh, time.Minute); err != nil {
		t.Fatalf("overwrite Set failed: %v", err)
	}
	got, err = s.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Events != 3 {
		t.Errorf("expected fresh entry after expiry, got %+v", got)
	}
}
