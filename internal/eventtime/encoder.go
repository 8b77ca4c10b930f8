// Package eventtime converts the signed event-time index K into the bounded
// categorical buckets a dynamic (event-study) regression needs.
package eventtime

import (
	"fmt"
)

// ControlBucket is the category for never-treated entities. It is its own
// bucket and is never emitted as a dummy column: controls enter the design
// with every event-time dummy at zero.
const ControlBucket = "CONTROL"

// Encoder clamps K to [-WindowPre, +WindowPost] and maps it to bucket
// labels. The bucket at ReferenceOffset is the omitted reference category;
// emitting it would make the dummy set collinear with the fixed effects.
type Encoder struct {
	WindowPre       int // periods before adoption kept as distinct buckets
	WindowPost      int // periods after adoption kept as distinct buckets
	ReferenceOffset int // conventionally -1, the period before adoption
}

// NewEncoder validates the window and returns an encoder.
func NewEncoder(windowPre, windowPost, referenceOffset int) (*Encoder, error) {
	if windowPre < 0 || windowPost < 0 {
		return nil, fmt.Errorf("eventtime: window bounds must be non-negative, got pre=%d post=%d", windowPre, windowPost)
	}
	if referenceOffset < -windowPre || referenceOffset > windowPost {
		return nil, fmt.Errorf("eventtime: reference offset %d outside window [-%d, %d]", referenceOffset, windowPre, windowPost)
	}
	return &Encoder{WindowPre: windowPre, WindowPost: windowPost, ReferenceOffset: referenceOffset}, nil
}

// DefaultEncoder is the [-6, +6] window with K=-1 as reference.
func DefaultEncoder() *Encoder {
	return &Encoder{WindowPre: 6, WindowPost: 6, ReferenceOffset: -1}
}

// Clamp collapses out-of-window K values to the boundary bucket.
func (e *Encoder) Clamp(k int) int {
	if k < -e.WindowPre {
		return -e.WindowPre
	}
	if k > e.WindowPost {
		return e.WindowPost
	}
	return k
}

// Bucket maps a (possibly nil) K to its categorical label. Nil K means a
// never-treated entity and always maps to ControlBucket.
func (e *Encoder) Bucket(k *int) string {
	if k == nil {
		return ControlBucket
	}
	return bucketLabel(e.Clamp(*k))
}

func bucketLabel(k int) string {
	return fmt.Sprintf("K_%d", k)
}

// Columns returns the dummy column labels in ascending K order with the
// reference bucket omitted.
func (e *Encoder) Columns() []string {
	cols := make([]string, 0, e.WindowPre+e.WindowPost)
	for k := -e.WindowPre; k <= e.WindowPost; k++ {
		if k == e.ReferenceOffset {
			continue
		}
		cols = append(cols, bucketLabel(k))
	}
	return cols
}

// ColumnOffsets returns the clamped K value behind each dummy column, in
// the same order as Columns. Callers use it to place coefficients on the
// event-time axis.
func (e *Encoder) ColumnOffsets() []int {
	offs := make([]int, 0, e.WindowPre+e.WindowPost)
	for k := -e.WindowPre; k <= e.WindowPost; k++ {
		if k == e.ReferenceOffset {
			continue
		}
		offs = append(offs, k)
	}
	return offs
}

// Encode produces one dummy row per K value: a 0/1 vector aligned with
// Columns. Control rows (nil K) and reference-bucket rows are all zeros.
func (e *Encoder) Encode(ks []*int) [][]float64 {
	cols := e.ColumnOffsets()
	index := make(map[int]int, len(cols))
	for i, k := range cols {
		index[k] = i
	}

	out := make([][]float64, len(ks))
	for i, k := range ks {
		row := make([]float64, len(cols))
		if k != nil {
			if j, ok := index[e.Clamp(*k)]; ok {
				row[j] = 1
			}
		}
		out[i] = row
	}
	return out
}
