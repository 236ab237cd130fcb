package isam

import "github.com/bits-and-blooms/bloom/v3"

// existenceFilter is a non-authoritative accelerator in front of the index
// descent in ReadByKey: a negative test means the key is definitely absent
// (skip the descent and block walk entirely and fail fast with NoSuchKey),
// a positive test means "maybe", falling through to the real lookup. It is
// rebuilt from a forward scan on Open and every successful writeNew adds
// its key; delete leaves deleted keys in it. It is never persisted, since a
// stale filter is only ever a performance concern, not a correctness one.
type existenceFilter struct {
	f *bloom.BloomFilter
}

// newExistenceFilter sizes the filter for expectedKeys keys (at least 16)
// at a 1% false-positive rate.
func newExistenceFilter(expectedKeys uint64) *existenceFilter {
	if expectedKeys < 16 {
		expectedKeys = 16
	}
	return &existenceFilter{f: bloom.NewWithEstimates(uint(expectedKeys), 0.01)}
}

func (e *existenceFilter) add(key []byte) {
	e.f.Add(key)
}

// maybePresent reports whether key could be present. false is definitive.
func (e *existenceFilter) maybePresent(key []byte) bool {
	return e.f.Test(key)
}
