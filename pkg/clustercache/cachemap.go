package clustercache

import (
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// CacheMap is an open-chained hash table from ClusterCacheKey to entry,
// indexed by the low k bits of an xxhash of all 16 key bytes. Chains are
// singly-linked through each Entry's chainNext field (spec.md §4.4): no
// bucket ever allocates a node of its own.
type CacheMap struct {
	buckets []entryRef
	power   uint8 // len(buckets) == 1 << power
	entries uint64

	// bucketLen is a bucket-length -> count histogram, purely for
	// observability (NamespaceInfo.BucketHistogram). Updated incrementally on
	// every insert/remove so namespace_info never has to walk the table.
	bucketLen map[uint64]uint64
}

// newCacheMap builds an empty map with 1<<power buckets.
func newCacheMap(power uint8) *CacheMap {
	return &CacheMap{
		buckets:   newBucketSpine(1 << power),
		power:     power,
		bucketLen: make(map[uint64]uint64),
	}
}

// newBucketSpine allocates a bucket spine of n empty chains. The zero value
// of entryRef is NOT nilRef (device 0 / slot 0 is a legitimate reference), so
// every element must be set explicitly rather than relying on make's
// zero-fill.
func newBucketSpine(n int) []entryRef {
	b := make([]entryRef, n)
	for i := range b {
		b[i] = nilRef
	}

	return b
}

// Entries reports the number of entries reachable from the map.
func (m *CacheMap) Entries() uint64 {
	return m.entries
}

func bucketHash(key ClusterCacheKey) uint64 {
	return xxhash.Sum64(key[:])
}

func (m *CacheMap) bucketIndex(key ClusterCacheKey) uint64 {
	return bucketHash(key) & (uint64(len(m.buckets)) - 1)
}

func (m *CacheMap) chainLen(es entryStore, idx uint64) uint64 {
	var n uint64

	for ref := m.buckets[idx]; !ref.isNil(); ref = es.entryAt(ref).chainNext {
		n++
	}

	return n
}

// shiftBucketLen moves the histogram count for idx's chain from oldLen to
// newLen, decrementing/dropping oldLen's bucket and incrementing newLen's.
func (m *CacheMap) shiftBucketLen(oldLen, newLen uint64) {
	if oldLen > 0 {
		if c := m.bucketLen[oldLen]; c <= 1 {
			delete(m.bucketLen, oldLen)
		} else {
			m.bucketLen[oldLen] = c - 1
		}
	}

	if newLen > 0 {
		m.bucketLen[newLen]++
	}
}

// insert links ref's entry into its bucket. The caller must ensure no entry
// with the same key is already present (insert does not check).
func (m *CacheMap) insert(es entryStore, ref entryRef) {
	e := es.entryAt(ref)
	idx := m.bucketIndex(e.Key)

	oldLen := m.chainLen(es, idx)

	e.chainNext = m.buckets[idx]
	m.buckets[idx] = ref
	m.entries++

	m.shiftBucketLen(oldLen, oldLen+1)
}

// find walks the bucket for key and returns the matching entry's ref, or
// nilRef if absent.
func (m *CacheMap) find(es entryStore, key ClusterCacheKey) entryRef {
	idx := m.bucketIndex(key)

	for ref := m.buckets[idx]; !ref.isNil(); ref = es.entryAt(ref).chainNext {
		if es.entryAt(ref).Key == key {
			return ref
		}
	}

	return nilRef
}

// remove unlinks the entry with the given key from its bucket, if present.
// Reports whether an entry was removed.
func (m *CacheMap) remove(es entryStore, key ClusterCacheKey) bool {
	idx := m.bucketIndex(key)

	var prev entryRef

	for ref := m.buckets[idx]; !ref.isNil(); {
		e := es.entryAt(ref)
		if e.Key != key {
			prev = ref
			ref = e.chainNext

			continue
		}

		m.unlinkAt(es, idx, prev, ref)

		return true
	}

	return false
}

// removeRef unlinks a known entry ref from the map. Used when the caller
// already has the ref (e.g. evicting a specific victim) and does not want to
// repeat remove's key comparison walk - it still has
// to walk the chain to find and fix the prev link, since the chain is
// singly-linked.
func (m *CacheMap) removeRef(es entryStore, ref entryRef) bool {
	key := es.entryAt(ref).Key
	idx := m.bucketIndex(key)

	var prev entryRef

	for cur := m.buckets[idx]; !cur.isNil(); {
		if cur == ref {
			m.unlinkAt(es, idx, prev, cur)
			return true
		}

		prev = cur
		cur = es.entryAt(cur).chainNext
	}

	return false
}

func (m *CacheMap) unlinkAt(es entryStore, idx uint64, prev, ref entryRef) {
	oldLen := m.chainLen(es, idx)
	e := es.entryAt(ref)

	if prev.isNil() {
		m.buckets[idx] = e.chainNext
	} else {
		es.entryAt(prev).chainNext = e.chainNext
	}

	e.chainNext = nilRef
	m.entries--

	m.shiftBucketLen(oldLen, oldLen-1)
}

// forEach visits every entry reachable from the map, in unspecified order.
// Used for full rehash and for the set_max_entries(None, Some(new)) surplus
// walk (spec.md §4.6 step 5), where no LRU ordering is available.
func (m *CacheMap) forEach(es entryStore, fn func(ref entryRef)) {
	for _, head := range m.buckets {
		for ref := head; !ref.isNil(); ref = es.entryAt(ref).chainNext {
			fn(ref)
		}
	}
}

// resize reallocates the bucket spine to 1<<power buckets and rehashes every
// entry in place.
func (m *CacheMap) resize(es entryStore, power uint8) {
	if power == m.power && m.buckets != nil {
		return
	}

	old := m.buckets
	m.buckets = newBucketSpine(1 << power)
	m.power = power
	m.bucketLen = make(map[uint64]uint64)

	for _, head := range old {
		for ref := head; !ref.isNil(); {
			next := es.entryAt(ref).chainNext

			idx := m.bucketIndex(es.entryAt(ref).Key)
			es.entryAt(ref).chainNext = m.buckets[idx]
			m.buckets[idx] = ref

			ref = next
		}
	}

	// bucketLen histogram must be rebuilt from the fresh layout.
	for idx := range m.buckets {
		if n := m.chainLen(es, uint64(idx)); n > 0 {
			m.bucketLen[n]++
		}
	}
}

// bestSize returns floor(log2(capacity / expectedChainLen)), floored at 0
// (spec.md §4.4).
func bestSize(expectedChainLen, capacity uint64) uint8 {
	if expectedChainLen == 0 || capacity < expectedChainLen {
		return 0
	}

	ratio := capacity / expectedChainLen
	if ratio == 0 {
		return 0
	}

	return uint8(bits.Len64(ratio) - 1)
}

// BucketHistogram returns a snapshot of the bucket-length -> count map.
func (m *CacheMap) BucketHistogram() map[uint64]uint64 {
	out := make(map[uint64]uint64, len(m.bucketLen))
	for k, v := range m.bucketLen {
		out[k] = v
	}

	return out
}
