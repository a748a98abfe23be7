package clustercache

import "fmt"

// Behaviour is the per-namespace cache-population policy. spec.md §1 notes
// in passing that "writes ... may or may not populate the cache depending on
// policy" but the distilled spec never names the policy itself; this is
// recovered from the original implementation's ClusterCacheBehaviour enum
// (src/volumedriver/ClusterCacheBehaviour.h).
//
// Behaviour is a value the caller consults before invoking Read/Add - the
// Engine does not enforce it, since doing so would require Add/Read to know
// about the volume driver's own write path (out of scope per spec.md §1).
type Behaviour uint8

const (
	// BehaviourCacheOnReadAndWrite populates the cache on both cache-missed
	// reads and on writes. This is the default for a freshly-registered
	// namespace.
	BehaviourCacheOnReadAndWrite Behaviour = iota

	// BehaviourCacheOnRead only populates the cache from cache-missed reads;
	// writes bypass it.
	BehaviourCacheOnRead

	// BehaviourCacheOnWrite only populates the cache from writes; a cache
	// miss on read is not back-filled.
	BehaviourCacheOnWrite

	// BehaviourNoCache never populates the cache for this namespace. Reads
	// and writes still consult/bypass existing entries normally.
	BehaviourNoCache
)

// String renders the behaviour for logs and debug output.
func (b Behaviour) String() string {
	switch b {
	case BehaviourCacheOnReadAndWrite:
		return "CacheOnReadAndWrite"
	case BehaviourCacheOnRead:
		return "CacheOnRead"
	case BehaviourCacheOnWrite:
		return "CacheOnWrite"
	case BehaviourNoCache:
		return "NoCache"
	default:
		return fmt.Sprintf("Behaviour(%d)", uint8(b))
	}
}

// ShouldCacheOnRead reports whether a cache-missed read for this behaviour
// should be back-filled with an Add once the caller fetches the data from
// the backend.
func (b Behaviour) ShouldCacheOnRead() bool {
	return b == BehaviourCacheOnReadAndWrite || b == BehaviourCacheOnRead
}

// ShouldCacheOnWrite reports whether a write should populate the cache.
func (b Behaviour) ShouldCacheOnWrite() bool {
	return b == BehaviourCacheOnReadAndWrite || b == BehaviourCacheOnWrite
}
