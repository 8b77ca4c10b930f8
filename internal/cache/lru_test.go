package cache

import "testing"

func TestMemo_BasicOperations(t *testing.T) {
	memo, err := NewMemo[string, int](3)
	if err != nil {
		t.Fatalf("failed to create memo: %v", err)
	}

	memo.Put("a", 42)
	if val, ok := memo.Get("a"); !ok || val != 42 {
		t.Errorf("Get(a) = (%v, %v), want (42, true)", val, ok)
	}

	if _, ok := memo.Get("nonexistent"); ok {
		t.Error("Get(nonexistent) should return false")
	}

	// LRU eviction at capacity
	memo.Put("b", 1)
	memo.Put("c", 2)
	memo.Put("d", 3) // evicts "a"

	if _, ok := memo.Get("a"); ok {
		t.Error("a should have been evicted")
	}
	if val, ok := memo.Get("d"); !ok || val != 3 {
		t.Errorf("Get(d) = (%v, %v), want (3, true)", val, ok)
	}
	if memo.Len() != 3 {
		t.Errorf("Len() = %d, want 3", memo.Len())
	}
}

func TestMemo_Stats(t *testing.T) {
	memo, err := NewMemo[int, int](10)
	if err != nil {
		t.Fatalf("failed to create memo: %v", err)
	}

	memo.Put(1, 10)
	memo.Get(1) // hit
	memo.Get(2) // miss
	memo.Get(1) // hit

	s := memo.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats() = %+v, want hits=2 misses=1", s)
	}
}
