package clustercache

import "fmt"

// device wraps one DiskStore with an in-memory arena of Entry slots
// (spec.md §4.2). The entries slice is allocated with capacity equal to the
// store's usable cluster count up front and never grows past it, so once an
// Entry is pushed its index (and hence any entryRef pointing at it) stays
// valid for the device's lifetime.
type device struct {
	store *DiskStore

	path        string
	totalSize   int64
	guid        string
	clusterSize uint32

	entries []Entry
}

func newDevice(store *DiskStore, path string, totalSize int64, guid string, clusterSize uint32) *device {
	return &device{
		store:       store,
		path:        path,
		totalSize:   totalSize,
		guid:        guid,
		clusterSize: clusterSize,
		entries:     make([]Entry, 0, store.UsableClusters()),
	}
}

// getNextFree pushes a fresh, default-initialized entry with the given key
// and mode if the arena has room, and returns its slot index. This is the
// "fresh slot" allocation path - it never recycles an existing slot.
func (d *device) getNextFree(key ClusterCacheKey, mode ClusterCacheMode) (int32, bool) {
	if uint64(len(d.entries)) >= d.store.UsableClusters() {
		return 0, false
	}

	d.entries = append(d.entries, Entry{Key: key, Mode: mode, lruPrev: nilRef, lruNext: nilRef, chainNext: nilRef})

	return int32(len(d.entries) - 1), true
}

// hasSlot reports whether slot addresses a live entry in this device's
// arena.
func (d *device) hasSlot(slot int32) bool {
	return slot >= 0 && int(slot) < len(d.entries)
}

// entryAt returns a pointer to the entry at slot. Panics if slot is out of
// range - callers are expected to have validated it via hasSlot or by
// construction (every entryRef they hold was produced by this device).
func (d *device) entryAt(slot int32) *Entry {
	return &d.entries[slot]
}

// read reads the cluster backing the entry at slot into buf.
func (d *device) read(buf []byte, slot int32) error {
	_, err := d.store.Read(buf, uint64(slot))
	return err
}

// write writes buf to the cluster backing the entry at slot.
func (d *device) write(buf []byte, slot int32) error {
	_, err := d.store.Write(buf, uint64(slot))
	return err
}

// check verifies the content digest of a ContentBased entry against what's
// actually on disk. A no-op for LocationBased entries.
func (d *device) check(slot int32) error {
	e := d.entryAt(slot)
	if e.Mode != ModeContentBased {
		return nil
	}

	return d.store.Verify(e.Key.Digest(), uint64(slot))
}

// usedSlots returns the number of claimed slots (the arena's current
// length, not its capacity).
func (d *device) usedSlots() int {
	return len(d.entries)
}

func (d *device) usableClusters() uint64 {
	return d.store.UsableClusters()
}

func (d *device) sync() error {
	return d.store.Sync()
}

func (d *device) close() error {
	return d.store.Close()
}

// DeviceInfo is a snapshot of one device's identity and utilization,
// returned by Engine.DeviceInfo (§6 supplemented feature: the original's
// used_size/total_size fields, given a concrete struct here).
type DeviceInfo struct {
	Path      string
	TotalSize int64
	UsedSize  int64
}

func (d *device) info() DeviceInfo {
	return DeviceInfo{
		Path:      d.path,
		TotalSize: d.totalSize,
		UsedSize:  int64(d.usedSlots()) * int64(d.clusterSize),
	}
}

func (d *device) String() string {
	return fmt.Sprintf("Device{path: %s, guid: %s, used: %d/%d}", d.path, d.guid, d.usedSlots(), d.store.UsableClusters())
}
