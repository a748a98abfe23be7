package clustercache

import (
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/openvstorage/clustercache/pkg/deviceio"
)

// Engine is the top-level cluster cache orchestrator (spec.md §4.6). It owns
// the namespace table, the device manager, the engine-wide LRU/invalidated
// lists, and drives register/deregister, read/add/invalidate, device
// lifecycle and serialization.
//
// Locking follows spec.md §5: mu is the engine RW lock, held for writing by
// every mutation except the LRU re-heading step of a successful read; listMu
// is the small mutex that protects that one step so a shared-mode holder of
// mu can safely move an entry to its list's head. listMu is never acquired
// without mu already held.
type Engine struct {
	mu     sync.RWMutex
	listMu sync.Mutex

	devices     *deviceManager
	namespaces  map[ClusterCacheHandle]*namespace
	invalidated lruList
	globalLRU   lruList

	hits   atomic.Uint64
	misses atomic.Uint64

	clusterSize      uint32
	avgEntriesPerBin uint32

	logger *slog.Logger
	events EventEmitter
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEventEmitter registers the sink for engine events (device offline,
// etc). Without this option, events are discarded.
func WithEventEmitter(emitter EventEmitter) Option {
	return func(e *Engine) { e.events = emitter }
}

// NewEngine constructs an Engine from cfg, opening every configured mount
// point. The content-based namespace (handle 0) is always created.
func NewEngine(cfg Config, fs deviceio.FS, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		devices:          newDeviceManager(fs),
		namespaces:       make(map[ClusterCacheHandle]*namespace),
		invalidated:      lruList{head: nilRef, tail: nilRef},
		globalLRU:        lruList{head: nilRef, tail: nilRef},
		clusterSize:      cfg.ClusterSize,
		avgEntriesPerBin: cfg.AverageEntriesPerBin,
		logger:           slog.Default(),
		events:           noopEmitter{},
	}

	for _, opt := range opts {
		opt(e)
	}

	e.namespaces[ContentBasedHandle] = newNamespace(ContentBasedHandle, bestSize(uint64(e.avgEntriesPerBin), 0))

	for _, mp := range cfg.MountPoints {
		if _, err := e.devices.addDevice(mp.Path, mp.Size, e.clusterSize); err != nil {
			return nil, err
		}
	}

	// spec.md §6/§4.7: load a previously serialized index at startup when
	// configured to do so. A missing index file (first run) is not an error.
	if cfg.SerializeReadCache && cfg.ReadCacheSerializationPath != "" {
		indexPath := filepath.Join(cfg.ReadCacheSerializationPath, IndexFileName)

		if exists, err := fs.Exists(indexPath); err != nil {
			return nil, err
		} else if exists {
			if err := e.LoadIndex(indexPath, cfg.SerializerTestFrequency); err != nil {
				return nil, err
			}
		}
	}

	return e, nil
}

// namespaceOf returns the namespace an entry belongs to, derived from its
// mode and key rather than a stored back-reference: ContentBased entries
// always belong to namespace 0, and a LocationBased entry's key encodes its
// owning handle directly (spec.md §3's key union).
func (e *Engine) namespaceOf(ent *Entry) *namespace {
	if ent.Mode == ModeContentBased {
		return e.namespaces[ContentBasedHandle]
	}

	return e.namespaces[ent.Key.Handle()]
}

func (e *Engine) headEntry(ns *namespace, ref entryRef) {
	if ns.maxEntries != nil {
		ns.lru.pushFront(e.devices, ref)
	} else {
		e.globalLRU.pushFront(e.devices, ref)
	}
}

func (e *Engine) unheadEntry(ns *namespace, ref entryRef) {
	if ns.maxEntries != nil {
		ns.lru.remove(e.devices, ref)
	} else {
		e.globalLRU.remove(e.devices, ref)
	}
}

// --- Volume registration (spec.md §4.6) ---

// RegisterVolume maps a volume's owner tag to a namespace handle, creating
// the namespace if needed. Idempotent: repeated calls with the same
// (ownerTag, mode) return the same handle without side effects.
func (e *Engine) RegisterVolume(ownerTag uint64, mode ClusterCacheMode) (ClusterCacheHandle, error) {
	if ownerTag == 0 {
		return 0, ErrInvalidClusterCacheConfig
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	handle := ClusterCacheHandle(ownerTag)

	if mode == ModeContentBased {
		if _, ok := e.namespaces[handle]; ok {
			e.deregisterVolumeLocked(handle)
		}

		return ContentBasedHandle, nil
	}

	if _, ok := e.namespaces[handle]; !ok {
		power := bestSize(uint64(e.avgEntriesPerBin), e.devices.totalCapacityClusters())
		e.namespaces[handle] = newNamespace(handle, power)
	}

	return handle, nil
}

// DeregisterVolume moves every entry in the namespace for ownerTag (if any)
// to the invalidated list and removes the namespace.
func (e *Engine) DeregisterVolume(ownerTag uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	handle := ClusterCacheHandle(ownerTag)
	if handle == ContentBasedHandle {
		return ErrInvalidClusterCacheOperation
	}

	e.deregisterVolumeLocked(handle)

	return nil
}

// deregisterVolumeLocked requires e.mu held for writing.
func (e *Engine) deregisterVolumeLocked(handle ClusterCacheHandle) {
	ns, ok := e.namespaces[handle]
	if !ok {
		return
	}

	var refs []entryRef

	ns.cacheMap.forEach(e.devices, func(ref entryRef) {
		refs = append(refs, ref)
	})

	for _, ref := range refs {
		e.unheadEntry(ns, ref)
		e.invalidated.pushFront(e.devices, ref)
	}

	delete(e.namespaces, handle)
}

// --- Read / Add (spec.md §4.6) ---

// Read looks up key in the namespace named by handle. On a hit it reads the
// cluster into out and re-heads the entry in its LRU; on a miss or device
// I/O error it returns false. An I/O error also offlines the failing
// device, never propagating past this call.
func (e *Engine) Read(handle ClusterCacheHandle, key ClusterCacheKey, out []byte) (bool, error) {
	e.mu.RLock()

	ns, ok := e.namespaces[handle]
	if !ok {
		e.mu.RUnlock()
		return false, ErrInvalidClusterCacheHandle
	}

	ref := ns.cacheMap.find(e.devices, key)
	if ref.isNil() {
		e.misses.Add(1)
		e.mu.RUnlock()

		return false, nil
	}

	d, found := e.devices.findDeviceContaining(ref)
	if !found {
		e.misses.Add(1)
		e.mu.RUnlock()

		return false, nil
	}

	if err := d.read(out, ref.slot); err != nil {
		e.mu.RUnlock()
		e.offlineDeviceAfterReadFailure(d)
		e.misses.Add(1)

		return false, nil
	}

	e.hits.Add(1)

	e.listMu.Lock()
	if ns.maxEntries != nil {
		ns.lru.moveToFront(e.devices, ref)
	} else {
		e.globalLRU.moveToFront(e.devices, ref)
	}
	e.listMu.Unlock()

	e.mu.RUnlock()

	return true, nil
}

// ReadContent reads a content-based entry by digest. A null (all-zero)
// digest is a miss that does not increment the misses counter, per
// spec.md §4.6 and the boundary behavior in §8.
func (e *Engine) ReadContent(digest [16]byte, out []byte) (bool, error) {
	if IsZeroDigest(digest) {
		return false, nil
	}

	return e.Read(ContentBasedHandle, ContentKey(digest), out)
}

// ReadLocation reads a location-based entry by (handle, cluster address).
func (e *Engine) ReadLocation(handle ClusterCacheHandle, clusterAddress uint64) func(out []byte) (bool, error) {
	return func(out []byte) (bool, error) {
		return e.Read(handle, LocationKey(handle, clusterAddress), out)
	}
}

// Add inserts or overwrites the entry for key in the namespace named by
// handle, allocating storage per the fallback chain in spec.md §4.6: a
// namespace-LRU victim (if capped and full), an invalidated slot, a fresh
// device slot, or a global-LRU victim, in that order. If none is available
// the add is silently skipped. A device I/O error offlines the device and
// skips caching; it is never returned to the caller.
func (e *Engine) Add(handle ClusterCacheHandle, key ClusterCacheKey, buf []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ns, ok := e.namespaces[handle]
	if !ok {
		return ErrInvalidClusterCacheHandle
	}

	e.addLocked(ns, key, buf)

	return nil
}

// AddContent adds a content-based entry. A null digest is a no-op.
func (e *Engine) AddContent(digest [16]byte, buf []byte) error {
	if IsZeroDigest(digest) {
		return nil
	}

	return e.Add(ContentBasedHandle, ContentKey(digest), buf)
}

// AddLocation adds a location-based entry.
func (e *Engine) AddLocation(handle ClusterCacheHandle, clusterAddress uint64, buf []byte) error {
	return e.Add(handle, LocationKey(handle, clusterAddress), buf)
}

func (e *Engine) addLocked(ns *namespace, key ClusterCacheKey, buf []byte) {
	mode := ModeLocationBased
	if ns.handle == ContentBasedHandle {
		mode = ModeContentBased
	}

	if existing := ns.cacheMap.find(e.devices, key); !existing.isNil() {
		ent := e.devices.entryAt(existing)
		if ent.Mode == ModeContentBased {
			return // content-based entries are immutable by key
		}

		if err := e.writeEntry(existing, buf); err != nil {
			return
		}

		e.unheadEntry(ns, existing)
		e.headEntry(ns, existing)

		return
	}

	ref := e.allocateForAdd(ns, key, mode)
	if ref.isNil() {
		e.logger.Warn("clustercache: out of free slots, skipping add", "handle", ns.handle)
		return
	}

	if err := e.writeEntry(ref, buf); err != nil {
		return
	}

	ent := e.devices.entryAt(ref)
	ent.reset(key, mode)
	ns.cacheMap.insert(e.devices, ref)
	e.headEntry(ns, ref)
}

// allocateForAdd runs the fallback chain from spec.md §4.6 steps 2-5 and
// returns the chosen slot, or nilRef if none is available. Any entry it
// evicts along the way is already unlinked from its LRU and removed from
// its owning map by the time it is returned.
func (e *Engine) allocateForAdd(ns *namespace, key ClusterCacheKey, mode ClusterCacheMode) entryRef {
	if ns.maxEntries != nil && ns.cacheMap.Entries() == *ns.maxEntries {
		if *ns.maxEntries == 0 {
			return nilRef
		}

		if victim := ns.lru.popBack(e.devices); !victim.isNil() {
			ns.cacheMap.removeRef(e.devices, victim)
			return victim
		}
	}

	if victim := e.invalidated.popBack(e.devices); !victim.isNil() {
		return victim
	}

	if ref, ok := e.devices.allocateSlot(key, mode); ok {
		return ref
	}

	if victim := e.globalLRU.popBack(e.devices); !victim.isNil() {
		vent := e.devices.entryAt(victim)
		if owner := e.namespaceOf(vent); owner != nil {
			owner.cacheMap.removeRef(e.devices, victim)
		}

		return victim
	}

	return nilRef
}

// writeEntry writes buf to the device backing ref. On I/O error it offlines
// that device (e.mu is already held for writing by the caller) and returns
// the error so the caller skips the rest of the add.
func (e *Engine) writeEntry(ref entryRef, buf []byte) error {
	d, ok := e.devices.findDeviceContaining(ref)
	if !ok {
		return errDeviceIO
	}

	if err := d.write(buf, ref.slot); err != nil {
		e.offlineDeviceLocked(d)
		return err
	}

	return nil
}

// --- Invalidate (spec.md §4.6) ---

// Invalidate removes key from the namespace named by handle, moving its
// entry to the invalidated list. A no-op for the content-based namespace:
// content-addressed entries cannot be selectively invalidated by location.
func (e *Engine) Invalidate(handle ClusterCacheHandle, key ClusterCacheKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ns, ok := e.namespaces[handle]
	if !ok {
		return ErrInvalidClusterCacheHandle
	}

	if handle == ContentBasedHandle {
		return nil
	}

	ref := ns.cacheMap.find(e.devices, key)
	if ref.isNil() {
		return nil
	}

	e.unheadEntry(ns, ref)
	ns.cacheMap.removeRef(e.devices, ref)
	e.invalidated.pushFront(e.devices, ref)

	return nil
}

// InvalidateCombined implements the combined invalidate(address, digest)
// variant noted as an open question in spec.md §9: the engine picks the key
// representation from handle, and content-based invalidation remains a
// no-op even when a digest is supplied - this spec pins that as the rule
// (see DESIGN.md).
func (e *Engine) InvalidateCombined(handle ClusterCacheHandle, clusterAddress uint64, digest [16]byte) error {
	if handle == ContentBasedHandle {
		return nil
	}

	return e.Invalidate(handle, LocationKey(handle, clusterAddress))
}

// --- set_max_entries (spec.md §4.6) ---

// SetMaxEntries changes the entry cap of the namespace named by handle.
// newLimit of nil means uncapped (entries compete on the global LRU);
// newLimit pointing at 0 is rejected.
func (e *Engine) SetMaxEntries(handle ClusterCacheHandle, newLimit *uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ns, ok := e.namespaces[handle]
	if !ok {
		return ErrInvalidClusterCacheHandle
	}

	if newLimit != nil && *newLimit == 0 {
		return ErrInvalidClusterCacheConfig
	}

	switch {
	case ns.maxEntries != nil && newLimit != nil:
		e.shrinkCapped(ns, *newLimit)
	case ns.maxEntries != nil && newLimit == nil:
		e.uncap(ns)
	case ns.maxEntries == nil && newLimit != nil:
		e.cap(ns, *newLimit, handle)
	}

	capacity := e.devices.totalCapacityClusters()
	if newLimit != nil {
		capacity = *newLimit
	}

	ns.cacheMap.resize(e.devices, bestSize(uint64(e.avgEntriesPerBin), capacity))
	ns.maxEntries = newLimit

	return nil
}

// shrinkCapped handles (Some(old), Some(new)): if the namespace now holds
// more than new, evict from its own LRU tail until it fits. Growing the cap
// takes no immediate action - the excess room fills naturally.
func (e *Engine) shrinkCapped(ns *namespace, newLimit uint64) {
	if newLimit >= ns.cacheMap.Entries() {
		return
	}

	toEvict := ns.cacheMap.Entries() - newLimit

	for range toEvict {
		victim := ns.lru.popBack(e.devices)
		if victim.isNil() {
			break
		}

		ns.cacheMap.removeRef(e.devices, victim)
		e.invalidated.pushFront(e.devices, victim)
	}
}

// uncap handles (Some(_), None): drain the namespace LRU, moving each entry
// to the back of the global LRU.
func (e *Engine) uncap(ns *namespace) {
	for {
		victim := ns.lru.popBack(e.devices)
		if victim.isNil() {
			break
		}

		e.globalLRU.pushBack(e.devices, victim)
	}
}

// cap handles (None, Some(new)): this namespace's entries currently live on
// the global LRU with no private ordering recorded. If it's over the new
// cap, evict an arbitrary surplus (LRU info for these entries genuinely
// doesn't exist); move the remainder into the namespace's own LRU.
// Expensive, and loses whatever approximate recency the global LRU implied
// for this namespace's entries - logged as a warning.
func (e *Engine) cap(ns *namespace, newLimit uint64, handle ClusterCacheHandle) {
	total := ns.cacheMap.Entries()

	if total > newLimit {
		surplus := total - newLimit

		var victims []entryRef

		ns.cacheMap.forEach(e.devices, func(ref entryRef) {
			if uint64(len(victims)) < surplus {
				victims = append(victims, ref)
			}
		})

		e.logger.Warn("clustercache: capping a previously uncapped namespace loses LRU ordering for surplus entries",
			"handle", handle, "surplus", surplus)

		for _, ref := range victims {
			e.globalLRU.remove(e.devices, ref)
			ns.cacheMap.removeRef(e.devices, ref)
			e.invalidated.pushFront(e.devices, ref)
		}
	}

	var remaining []entryRef

	ns.cacheMap.forEach(e.devices, func(ref entryRef) {
		remaining = append(remaining, ref)
	})

	for _, ref := range remaining {
		e.globalLRU.remove(e.devices, ref)
		ns.lru.pushFront(e.devices, ref)
	}
}

func (e *Engine) GetMaxEntries(handle ClusterCacheHandle) (*uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ns, ok := e.namespaces[handle]
	if !ok {
		return nil, ErrInvalidClusterCacheHandle
	}

	if ns.maxEntries == nil {
		return nil, nil
	}

	v := *ns.maxEntries

	return &v, nil
}

// --- Device lifecycle (spec.md §4.6) ---

// offlineDeviceAfterReadFailure re-acquires the write lock to offline d,
// matching the read path's "release read lock; reacquire as write lock"
// step (spec.md §4.6 read algorithm, step 4).
func (e *Engine) offlineDeviceAfterReadFailure(d *device) {
	e.mu.Lock()
	e.offlineDeviceLocked(d)
	e.mu.Unlock()
}

// offlineDeviceLocked requires e.mu held for writing.
func (e *Engine) offlineDeviceLocked(d *device) {
	idx, ok := e.devices.deviceIndex(d)
	if !ok {
		return
	}

	e.events.Emit(Event{Kind: EventMountPointOfflined, DevicePath: d.path})

	purge := func(l *lruList) {
		ref := l.head

		for !ref.isNil() {
			next := e.devices.entryAt(ref).lruNext

			if ref.device == idx {
				l.remove(e.devices, ref)

				if owner := e.namespaceOf(e.devices.entryAt(ref)); owner != nil {
					owner.cacheMap.removeRef(e.devices, ref)
				}
			}

			ref = next
		}
	}

	purge(&e.globalLRU)
	purge(&e.invalidated)

	for _, ns := range e.namespaces {
		purge(&ns.lru)
	}

	e.devices.removeDevice(d)

	_ = d.close()
}

// AddDevice adds a new backing device/file at path, sized size (0 means
// query the OS / use the existing file's size). Returns false without error
// if path is already configured.
func (e *Engine) AddDevice(path string, size int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.devices.addDevice(path, size, e.clusterSize)
}

// OnlineDevice is a thin wrapper around AddDevice (spec.md §4.6): it
// re-admits a device at path, querying its size from the OS/existing file.
func (e *Engine) OnlineDevice(path string) (bool, error) {
	return e.AddDevice(path, 0)
}

// OfflineDevice takes the device at path out of service: its entries are
// purged from every map and list, and it is removed from the device set.
func (e *Engine) OfflineDevice(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, _, found := e.devices.deviceByPath(path)
	if !found {
		return ErrMountPointNotConfigured
	}

	e.offlineDeviceLocked(d)

	return nil
}

// --- Introspection (spec.md §4.6, §6) ---

// GetStats returns the hit/miss counters and the total live entry count
// across all namespaces.
func (e *Engine) GetStats() (hits, misses, entries uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var total uint64
	for _, ns := range e.namespaces {
		total += ns.cacheMap.Entries()
	}

	return e.hits.Load(), e.misses.Load(), total
}

// TotalSizeInEntries returns the total live entry count across all
// namespaces.
func (e *Engine) TotalSizeInEntries() uint64 {
	_, _, entries := e.GetStats()
	return entries
}

// NamespaceInfo returns a snapshot of the namespace named by handle.
func (e *Engine) NamespaceInfo(handle ClusterCacheHandle) (NamespaceInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ns, ok := e.namespaces[handle]
	if !ok {
		return NamespaceInfo{}, ErrInvalidClusterCacheHandle
	}

	var maxEntries *uint64
	if ns.maxEntries != nil {
		v := *ns.maxEntries
		maxEntries = &v
	}

	return NamespaceInfo{
		Handle:          handle,
		Entries:         ns.cacheMap.Entries(),
		MaxEntries:      maxEntries,
		BucketHistogram: ns.cacheMap.BucketHistogram(),
		Behaviour:       ns.behaviour,
	}, nil
}

// ListNamespaces returns every registered namespace handle, sorted
// ascending (handle 0 always present, always first).
func (e *Engine) ListNamespaces() []ClusterCacheHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]ClusterCacheHandle, 0, len(e.namespaces))
	for h := range e.namespaces {
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// RemoveNamespace destroys the namespace named by handle. The content-based
// namespace (handle 0) cannot be removed.
func (e *Engine) RemoveNamespace(handle ClusterCacheHandle) error {
	if handle == ContentBasedHandle {
		return ErrInvalidClusterCacheOperation
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.namespaces[handle]; !ok {
		return ErrInvalidClusterCacheHandle
	}

	e.deregisterVolumeLocked(handle)

	return nil
}

// DeviceInfo returns a snapshot of every online device, keyed by path.
func (e *Engine) DeviceInfo() map[string]DeviceInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]DeviceInfo, len(e.devices.devices))
	for _, d := range e.devices.devices {
		out[d.path] = d.info()
	}

	return out
}

// SetBehaviour sets the cache-population policy for the namespace named by
// handle (§6 supplemented feature).
func (e *Engine) SetBehaviour(handle ClusterCacheHandle, b Behaviour) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ns, ok := e.namespaces[handle]
	if !ok {
		return ErrInvalidClusterCacheHandle
	}

	ns.behaviour = b

	return nil
}

// Sync flushes every backing device.
func (e *Engine) Sync() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.devices.sync()
}

// ClusterSize returns the fixed cluster size this engine was configured
// with, in bytes.
func (e *Engine) ClusterSize() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.clusterSize
}
