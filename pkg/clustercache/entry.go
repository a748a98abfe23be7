package clustercache

// entryRef addresses one Entry by (device index, slot index) rather than by
// pointer. spec.md §9 calls this out explicitly as the safer alternative to
// raw pointers into the arena: "a safer implementation may use
// (device_index, slot_index) tuples as pseudo-pointers, trading a lookup for
// lifetime clarity". Since Go has no address-of-slice-element arithmetic
// worth leaning on across growth, and the Device arena never reallocates
// past its reserved capacity, the tuple form is the natural fit here.
type entryRef struct {
	device int32
	slot   int32
}

// nilRef is the "no entry" reference. It is not entryRef's zero value ({0,0}
// addresses device 0 / slot 0). Device indices and slot indices are both
// non-negative, so -1 is unambiguous.
var nilRef = entryRef{device: -1, slot: -1}

func (r entryRef) isNil() bool {
	return r.device < 0
}

// Entry is one cached cluster's metadata. Entries are never heap-allocated
// individually - they live inside a Device's arena, and are always addressed
// by entryRef, never copied out and back across a mutation.
//
// An entry is a member of at most one LRU-style list at a time (a namespace
// LRU, the global LRU, or the invalidated list) and at most one Cache Map
// bucket chain. lruPrev/lruNext/chainNext are intrusive list pointers: which
// list lruPrev/lruNext belong to is a property of how the engine reached the
// entry, not something stored on the entry itself.
type Entry struct {
	Key  ClusterCacheKey
	Mode ClusterCacheMode

	lruPrev, lruNext entryRef
	chainNext        entryRef
}

// reset reinitializes an entry for reuse with a new key/mode, clearing all
// list linkage. Called whenever an entry is recycled from the invalidated
// list, a namespace LRU tail, or the global LRU tail.
func (e *Entry) reset(key ClusterCacheKey, mode ClusterCacheMode) {
	e.Key = key
	e.Mode = mode
	e.lruPrev = nilRef
	e.lruNext = nilRef
	e.chainNext = nilRef
}
