package clustercache

// namespace is a per-handle record: one Cache Map, one private LRU list, and
// an optional max-entries cap (spec.md §4.5). It exposes no operations of
// its own - the Engine manipulates its fields directly under the engine-wide
// write lock.
type namespace struct {
	handle ClusterCacheHandle

	cacheMap *CacheMap

	// lru holds exactly the entries reachable from cacheMap when maxEntries
	// is set. When maxEntries is nil, this namespace's entries live on the
	// engine's global LRU instead and this list stays empty.
	lru lruList

	// maxEntries is nil for an uncapped namespace (entries compete on the
	// global LRU), or points at the configured cap.
	maxEntries *uint64

	// behaviour controls whether reads/writes for this namespace populate
	// the cache (§6 supplemented feature, from original_source's
	// ClusterCacheBehaviour).
	behaviour Behaviour
}

func newNamespace(handle ClusterCacheHandle, mapPower uint8) *namespace {
	return &namespace{
		handle:    handle,
		cacheMap:  newCacheMap(mapPower),
		lru:       lruList{head: nilRef, tail: nilRef},
		behaviour: BehaviourCacheOnReadAndWrite,
	}
}

// NamespaceInfo is a point-in-time snapshot of one namespace, returned by
// Engine.NamespaceInfo.
type NamespaceInfo struct {
	Handle     ClusterCacheHandle
	Entries    uint64
	MaxEntries *uint64

	// BucketHistogram maps Cache Map bucket chain length to the number of
	// buckets with that length (§6 supplemented feature).
	BucketHistogram map[uint64]uint64

	Behaviour Behaviour
}
