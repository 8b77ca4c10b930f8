package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// Fingerprint returns a deterministic hex digest of the dataset contents in
// normalized order, suitable for keying a result cache. Call after Normalize.
func (d *Dataset) Fingerprint() string {
	h := sha256.New()

	writeStr := func(s string) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	writeI64 := func(v int64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		h.Write(b[:])
	}
	writeF64 := func(v float64) {
		writeI64(int64(v * 1e6)) // micro-unit precision is plenty for counts
	}

	writeStr("exposure")
	for _, r := range d.Exposure {
		writeStr(r.Entity)
		writeI64(r.Timestamp.Unix())
		writeF64(r.Amount)
	}
	writeStr("events")
	for _, e := range d.Events {
		writeStr(e.Entity)
		writeI64(e.Timestamp.Unix())
	}
	writeStr("adoptions")
	ids := make([]string, 0, len(d.Adoptions))
	for id := range d.Adoptions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		writeStr(id)
		writeI64(d.Adoptions[id].Unix())
	}

	return hex.EncodeToString(h.Sum(nil))
}
