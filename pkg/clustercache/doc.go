// Package clustercache implements a persistent, multi-device read cache for
// fixed-size storage clusters.
//
// A cluster cache sits between a volume driver's I/O path and its backing
// store, absorbing reads so the backend is not hit on every access. Entries
// are addressed either by content digest (deduplicated across all volumes
// that opt in) or by a (handle, cluster address) pair private to one volume.
// Cached data lives on one or more backing devices/files; the engine itself
// only keeps an in-memory index plus the LRU/allocation bookkeeping needed to
// place and evict entries, and can serialize that index to survive a clean
// restart.
//
// The top-level type is [Engine]. Construct one with [NewEngine], add
// backing devices with [Engine.AddDevice], register volumes with
// [Engine.RegisterVolume], and drive reads/writes through [Engine.Read] and
// [Engine.Add].
package clustercache
