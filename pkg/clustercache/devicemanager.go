package clustercache

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/openvstorage/clustercache/pkg/deviceio"
)

// deviceManager owns the set of online devices, the round-robin allocation
// cursor, and the manager GUID rewritten on every topology change
// (spec.md §4.3). It implements entryStore by fanning an entryRef's device
// component out to the addressed device's arena.
type deviceManager struct {
	fs deviceio.FS

	devices     []*device
	cursor      int
	full        bool
	managerGUID string
}

func newDeviceManager(fs deviceio.FS) *deviceManager {
	return &deviceManager{fs: fs}
}

// entryAt implements entryStore.
func (dm *deviceManager) entryAt(ref entryRef) *Entry {
	return dm.devices[ref.device].entryAt(ref.slot)
}

// findDeviceByPath does a linear scan comparing resolved (symlink-followed)
// paths, so two configured mount points that happen to point at the same
// underlying file are detected as duplicates.
func (dm *deviceManager) findDeviceByPath(path string) (*device, bool) {
	resolved := resolvePath(path)

	for _, d := range dm.devices {
		if resolvePath(d.path) == resolved {
			return d, true
		}
	}

	return nil, false
}

func resolvePath(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}

	return path
}

// findDeviceContaining returns the device whose arena contains ref, or false
// if ref.device is out of range. Mirrors spec.md's
// find_device_containing(&Entry) via Device::has_entry.
func (dm *deviceManager) findDeviceContaining(ref entryRef) (*device, bool) {
	if ref.device < 0 || int(ref.device) >= len(dm.devices) {
		return nil, false
	}

	d := dm.devices[ref.device]
	if !d.hasSlot(ref.slot) {
		return nil, false
	}

	return d, true
}

// addDevice constructs a device for (path, size), writes a fresh manager
// GUID to it and every existing device, and registers it. Reports false
// without making any change if a device for this path is already present, or
// if the newly-opened store already carries the manager GUID about to be
// written - that means it is the same physical backing file as an existing
// device, reachable via a different path, per
// ClusterCacheDeviceManagerT::addDevice's check_guid call.
func (dm *deviceManager) addDevice(path string, size int64, clusterSize uint32) (bool, error) {
	if _, found := dm.findDeviceByPath(path); found {
		return false, nil
	}

	store, err := OpenDiskStore(dm.fs, path, size, clusterSize)
	if err != nil {
		return false, err
	}

	newGUID := uuid.New().String()

	if dm.managerGUID != "" {
		matches, err := store.CheckGUID(dm.managerGUID)
		if err != nil {
			_ = store.Close()
			return false, err
		}

		if matches {
			_ = store.Close()
			return false, nil
		}
	}

	d := newDevice(store, path, store.TotalSize(), newGUID, clusterSize)

	// Rewrite the manager GUID across every existing device first, then the
	// new one, so a crash mid-rewrite never leaves the new device believing
	// it belongs to a generation the others don't carry.
	for _, existing := range dm.devices {
		if err := existing.store.WriteGUID(newGUID); err != nil {
			return false, err
		}

		existing.guid = newGUID
	}

	if err := store.WriteGUID(newGUID); err != nil {
		return false, err
	}

	dm.devices = append(dm.devices, d)
	dm.managerGUID = newGUID
	dm.cursor = 0
	dm.full = false

	return true, nil
}

// removeDevice erases d from the device list and resets the allocation
// cursor. It does not touch on-disk data - the caller is responsible for
// having already purged all in-memory references to d's entries.
func (dm *deviceManager) removeDevice(d *device) {
	for i, cur := range dm.devices {
		if cur == d {
			dm.devices = append(dm.devices[:i], dm.devices[i+1:]...)
			break
		}
	}

	dm.cursor = 0
	dm.full = false
}

// allocateSlot tries each device starting at the round-robin cursor, in
// order, returning the first fresh slot it can claim. After a full sweep
// with no success it marks the manager full and returns false.
func (dm *deviceManager) allocateSlot(key ClusterCacheKey, mode ClusterCacheMode) (entryRef, bool) {
	n := len(dm.devices)
	if n == 0 || dm.full {
		return nilRef, false
	}

	for i := range n {
		idx := (dm.cursor + i) % n

		if slot, ok := dm.devices[idx].getNextFree(key, mode); ok {
			dm.cursor = (idx + 1) % n
			return entryRef{device: int32(idx), slot: slot}, true
		}
	}

	dm.full = true

	return nilRef, false
}

// totalCapacityClusters sums usable clusters across all online devices.
func (dm *deviceManager) totalCapacityClusters() uint64 {
	var total uint64
	for _, d := range dm.devices {
		total += d.usableClusters()
	}

	return total
}

func (dm *deviceManager) sync() error {
	for _, d := range dm.devices {
		if err := d.sync(); err != nil {
			return err
		}
	}

	return nil
}

func (dm *deviceManager) deviceIndex(d *device) (int32, bool) {
	for i, cur := range dm.devices {
		if cur == d {
			return int32(i), true
		}
	}

	return -1, false
}

func (dm *deviceManager) deviceByPath(path string) (*device, int32, bool) {
	resolved := resolvePath(path)

	for i, d := range dm.devices {
		if resolvePath(d.path) == resolved {
			return d, int32(i), true
		}
	}

	return nil, -1, false
}

func (dm *deviceManager) String() string {
	return fmt.Sprintf("DeviceManager{devices: %d, guid: %s, full: %v}", len(dm.devices), dm.managerGUID, dm.full)
}
