package clustercache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math/rand"

	"github.com/openvstorage/clustercache/pkg/deviceio"
)

// serializerMagic and serializerVersion identify the on-disk index format
// (spec.md §4.7, §6). Bumping the version is a deliberate incompatible
// change; Load refuses to read a file stamped with any other version.
const (
	serializerMagic   uint32 = 0x43435331 // "CCS1"
	serializerVersion uint32 = 3
)

// IndexFileName is the fixed filename written inside
// Config.ReadCacheSerializationPath by the automatic load-on-startup /
// save-on-shutdown path (spec.md §6, §4.7).
const IndexFileName = "clustercache.index"

// listKind tags which list a serialized ref belongs to, so Load can rebuild
// LRU order without a second pass over the Cache Map.
type listKind uint8

const (
	listKindGlobal     listKind = iota // uncapped namespace entries, engine-wide LRU
	listKindNamespace                  // capped namespace's private LRU
	listKindInvalidated
)

// slotRecord is one arena slot's persisted identity: enough to recreate the
// Entry and reinsert it into its namespace's Cache Map. Slots are written in
// ascending (device, slot) order, since Device.getNextFree only ever appends
// - replaying them in that order on Load reproduces the exact same
// (device, slot) addressing the live engine had.
//
// Field order on the wire is (namespace, key, mode) - spec.md §9 leaves this
// record's byte order as an open question for version 3; this
// implementation pins namespace-then-key-then-mode (see DESIGN.md).
type slotRecord struct {
	namespace ClusterCacheHandle
	key       ClusterCacheKey
	mode      ClusterCacheMode
}

// listRecord names one (device, slot) pair's position in a list, written in
// front-to-back order so Load can pushBack them in the same sequence and
// exactly reproduce LRU ordering.
type listRecord struct {
	namespace   ClusterCacheHandle // meaningful only when kind == listKindNamespace
	kind        listKind
	deviceIndex int32
	slotOffset  int32
}

// SaveIndex serializes the engine's device table, namespace table, every
// device's arena (in slot order), and every list's membership (in LRU order)
// to path, via a temp-file-plus-rename so a crash mid-write never corrupts
// the previous, still-valid file (spec.md §4.7: "the write path ... must not
// leave a torn file behind").
func (e *Engine) SaveIndex(fs deviceio.FS, path string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var buf bytes.Buffer

	w := bufio.NewWriter(&buf)

	if err := writeU32(w, serializerMagic); err != nil {
		return err
	}

	if err := writeU32(w, serializerVersion); err != nil {
		return err
	}

	if err := writeU32(w, e.clusterSize); err != nil {
		return err
	}

	if err := e.writeDevices(w); err != nil {
		return err
	}

	if err := e.writeNamespaces(w); err != nil {
		return err
	}

	if err := e.writeSlots(w); err != nil {
		return err
	}

	if err := e.writeLists(w); err != nil {
		return err
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: buffering index for %s: %w", errDeviceIO, path, err)
	}

	payload := buf.Bytes()
	checksum := crc32.ChecksumIEEE(payload)

	var out bytes.Buffer

	out.Write(payload)

	if err := binary.Write(&out, binary.LittleEndian, checksum); err != nil {
		return fmt.Errorf("%w: checksumming index for %s: %w", errDeviceIO, path, err)
	}

	if err := fs.WriteFileAtomic(path, out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: writing index file %s: %w", errDeviceIO, path, err)
	}

	return nil
}

func (e *Engine) writeDevices(w io.Writer) error {
	if err := writeU32(w, uint32(len(e.devices.devices))); err != nil {
		return err
	}

	for _, d := range e.devices.devices {
		if err := writeString(w, d.path); err != nil {
			return err
		}

		if err := binary.Write(w, binary.LittleEndian, d.totalSize); err != nil {
			return fmt.Errorf("%w: %w", errDeviceIO, err)
		}

		if err := writeString(w, d.guid); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) writeNamespaces(w io.Writer) error {
	if err := writeU32(w, uint32(len(e.namespaces))); err != nil {
		return err
	}

	for handle, ns := range e.namespaces {
		if err := binary.Write(w, binary.LittleEndian, uint64(handle)); err != nil {
			return fmt.Errorf("%w: %w", errDeviceIO, err)
		}

		hasMax := byte(0)
		if ns.maxEntries != nil {
			hasMax = 1
		}

		if _, err := w.Write([]byte{hasMax, byte(ns.behaviour)}); err != nil {
			return fmt.Errorf("%w: %w", errDeviceIO, err)
		}

		var max uint64
		if ns.maxEntries != nil {
			max = *ns.maxEntries
		}

		if err := binary.Write(w, binary.LittleEndian, max); err != nil {
			return fmt.Errorf("%w: %w", errDeviceIO, err)
		}
	}

	return nil
}

// writeSlots dumps every device's arena in ascending slot order. The owning
// namespace is recovered the same way namespaceOf does at runtime: a
// ContentBased entry always belongs to namespace 0, a LocationBased entry's
// key names its own handle.
func (e *Engine) writeSlots(w io.Writer) error {
	var total uint32

	for _, d := range e.devices.devices {
		total += uint32(len(d.entries))
	}

	if err := writeU32(w, total); err != nil {
		return err
	}

	for _, d := range e.devices.devices {
		for i := range d.entries {
			ent := &d.entries[i]

			ns := e.namespaceOf(ent)

			handle := ContentBasedHandle
			if ns != nil {
				handle = ns.handle
			}

			if err := binary.Write(w, binary.LittleEndian, uint64(handle)); err != nil {
				return fmt.Errorf("%w: %w", errDeviceIO, err)
			}

			if _, err := w.Write(ent.Key[:]); err != nil {
				return fmt.Errorf("%w: %w", errDeviceIO, err)
			}

			if _, err := w.Write([]byte{byte(ent.Mode)}); err != nil {
				return fmt.Errorf("%w: %w", errDeviceIO, err)
			}
		}
	}

	return nil
}

func (e *Engine) writeLists(w io.Writer) error {
	var records []listRecord

	walk := func(handle ClusterCacheHandle, kind listKind, l *lruList) {
		for ref := l.head; !ref.isNil(); ref = e.devices.entryAt(ref).lruNext {
			records = append(records, listRecord{
				namespace:   handle,
				kind:        kind,
				deviceIndex: ref.device,
				slotOffset:  ref.slot,
			})
		}
	}

	walk(0, listKindGlobal, &e.globalLRU)
	walk(0, listKindInvalidated, &e.invalidated)

	for handle, ns := range e.namespaces {
		if ns.maxEntries != nil {
			walk(handle, listKindNamespace, &ns.lru)
		}
	}

	if err := writeU32(w, uint32(len(records))); err != nil {
		return err
	}

	for _, rec := range records {
		if err := binary.Write(w, binary.LittleEndian, uint64(rec.namespace)); err != nil {
			return fmt.Errorf("%w: %w", errDeviceIO, err)
		}

		if _, err := w.Write([]byte{byte(rec.kind)}); err != nil {
			return fmt.Errorf("%w: %w", errDeviceIO, err)
		}

		if err := binary.Write(w, binary.LittleEndian, rec.deviceIndex); err != nil {
			return fmt.Errorf("%w: %w", errDeviceIO, err)
		}

		if err := binary.Write(w, binary.LittleEndian, rec.slotOffset); err != nil {
			return fmt.Errorf("%w: %w", errDeviceIO, err)
		}
	}

	return nil
}

// LoadIndex reads an index file previously written by SaveIndex, verifies
// its checksum and every device's GUID, and repopulates namespace/entry/LRU
// state. Devices must already be online (added via Engine.AddDevice /
// config.MountPoints) before Load runs - it reattaches entries to existing
// device arenas rather than reopening stores itself.
//
// After reload, testFrequency controls 1-in-N sampling verification of
// ContentBased entries (spec.md §9, dss_test_frequency in the original): each
// entry is picked at random with probability 1/testFrequency (0 means every
// entry), re-read and digest-checked, and a mismatch offlines the owning
// device rather than failing the whole load.
func (e *Engine) LoadIndex(path string, testFrequency uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := e.devices.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading index file %s: %w", errDeviceIO, path, err)
	}

	if len(data) < 4 {
		return fmt.Errorf("%w: index file %s too short", errDeserialization, path)
	}

	payload, wantChecksum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(payload) != wantChecksum {
		return fmt.Errorf("%w: index file %s fails checksum", errDeserialization, path)
	}

	r := bytes.NewReader(payload)

	magic, err := readU32(r)
	if err != nil || magic != serializerMagic {
		return fmt.Errorf("%w: index file %s has wrong magic", errDeserialization, path)
	}

	version, err := readU32(r)
	if err != nil || version != serializerVersion {
		return fmt.Errorf("%w: index file %s is version %d, want %d", errDeserialization, path, version, serializerVersion)
	}

	clusterSize, err := readU32(r)
	if err != nil {
		return fmt.Errorf("%w: %w", errDeserialization, err)
	}

	e.clusterSize = clusterSize

	deviceGUIDs, err := e.readDevices(r)
	if err != nil {
		return err
	}

	if err := e.readNamespaces(r); err != nil {
		return err
	}

	slots, err := e.readSlots(r)
	if err != nil {
		return err
	}

	lists, err := readLists(r)
	if err != nil {
		return err
	}

	e.reattachLists(lists)

	if err := e.verifyDeviceGUIDs(deviceGUIDs); err != nil {
		return err
	}

	e.sampleVerify(slots, testFrequency)

	return nil
}

// readDevices reads the persisted device table and returns path -> guid, so
// Load can cross-check against the devices the caller has already opened
// rather than attempting to reopen stores itself.
func (e *Engine) readDevices(r *bytes.Reader) (map[string]string, error) {
	count, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errDeserialization, err)
	}

	guids := make(map[string]string, count)

	for range count {
		path, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errDeserialization, err)
		}

		var totalSize int64
		if err := binary.Read(r, binary.LittleEndian, &totalSize); err != nil {
			return nil, fmt.Errorf("%w: %w", errDeserialization, err)
		}

		guid, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errDeserialization, err)
		}

		guids[path] = guid
	}

	return guids, nil
}

func (e *Engine) readNamespaces(r *bytes.Reader) error {
	count, err := readU32(r)
	if err != nil {
		return fmt.Errorf("%w: %w", errDeserialization, err)
	}

	for range count {
		var handleRaw uint64
		if err := binary.Read(r, binary.LittleEndian, &handleRaw); err != nil {
			return fmt.Errorf("%w: %w", errDeserialization, err)
		}

		flags := make([]byte, 2)
		if _, err := io.ReadFull(r, flags); err != nil {
			return fmt.Errorf("%w: %w", errDeserialization, err)
		}

		var max uint64
		if err := binary.Read(r, binary.LittleEndian, &max); err != nil {
			return fmt.Errorf("%w: %w", errDeserialization, err)
		}

		handle := ClusterCacheHandle(handleRaw)

		ns, ok := e.namespaces[handle]
		if !ok {
			ns = newNamespace(handle, bestSize(uint64(e.avgEntriesPerBin), e.devices.totalCapacityClusters()))
			e.namespaces[handle] = ns
		}

		if flags[0] == 1 {
			v := max
			ns.maxEntries = &v
		}

		ns.behaviour = Behaviour(flags[1])
	}

	return nil
}

// readSlots replays the arena dump against the already-open devices, in
// file order (== ascending (device, slot) order), and inserts each
// recreated entry into its namespace's Cache Map. Returns the
// (deviceIndex, slot) of every ContentBased slot, for sampleVerify.
func (e *Engine) readSlots(r *bytes.Reader) ([]entryRef, error) {
	count, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errDeserialization, err)
	}

	var contentSlots []entryRef

	deviceIdx := 0

	for range count {
		var handleRaw uint64
		if err := binary.Read(r, binary.LittleEndian, &handleRaw); err != nil {
			return nil, fmt.Errorf("%w: %w", errDeserialization, err)
		}

		var key ClusterCacheKey
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return nil, fmt.Errorf("%w: %w", errDeserialization, err)
		}

		modeByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errDeserialization, err)
		}

		mode := ClusterCacheMode(modeByte)

		var (
			slot int32
			ok   bool
		)

		for deviceIdx < len(e.devices.devices) {
			slot, ok = e.devices.devices[deviceIdx].getNextFree(key, mode)
			if ok {
				break
			}

			deviceIdx++
		}

		if !ok {
			return nil, fmt.Errorf("%w: index file names more slots than available devices", errDeserialization)
		}

		ref := entryRef{device: int32(deviceIdx), slot: slot}

		ns := e.namespaces[ClusterCacheHandle(handleRaw)]
		if ns != nil {
			ns.cacheMap.insert(e.devices, ref)
		}

		if mode == ModeContentBased {
			contentSlots = append(contentSlots, ref)
		}
	}

	return contentSlots, nil
}

func readLists(r *bytes.Reader) ([]listRecord, error) {
	count, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errDeserialization, err)
	}

	records := make([]listRecord, 0, count)

	for range count {
		var handleRaw uint64
		if err := binary.Read(r, binary.LittleEndian, &handleRaw); err != nil {
			return nil, fmt.Errorf("%w: %w", errDeserialization, err)
		}

		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errDeserialization, err)
		}

		var deviceIndex, slotOffset int32
		if err := binary.Read(r, binary.LittleEndian, &deviceIndex); err != nil {
			return nil, fmt.Errorf("%w: %w", errDeserialization, err)
		}

		if err := binary.Read(r, binary.LittleEndian, &slotOffset); err != nil {
			return nil, fmt.Errorf("%w: %w", errDeserialization, err)
		}

		records = append(records, listRecord{
			namespace:   ClusterCacheHandle(handleRaw),
			kind:        listKind(kindByte),
			deviceIndex: deviceIndex,
			slotOffset:  slotOffset,
		})
	}

	return records, nil
}

// reattachLists replays each listRecord, in file (front-to-back) order,
// pushing the named (device, slot) ref onto the back of its list - that
// reproduces the original front-to-back order exactly.
func (e *Engine) reattachLists(records []listRecord) {
	for _, rec := range records {
		if rec.deviceIndex < 0 || int(rec.deviceIndex) >= len(e.devices.devices) {
			continue
		}

		if !e.devices.devices[rec.deviceIndex].hasSlot(rec.slotOffset) {
			continue
		}

		ref := entryRef{device: rec.deviceIndex, slot: rec.slotOffset}

		switch rec.kind {
		case listKindGlobal:
			e.globalLRU.pushBack(e.devices, ref)
		case listKindInvalidated:
			// readSlots inserted every slot into a map: its owner's, or
			// namespace 0's when writeSlots found no owner. An invalidated
			// entry must not stay reachable from either.
			if owner := e.namespaceOf(e.devices.entryAt(ref)); owner != nil {
				owner.cacheMap.removeRef(e.devices, ref)
			}

			e.namespaces[ContentBasedHandle].cacheMap.removeRef(e.devices, ref)
			e.invalidated.pushBack(e.devices, ref)
		case listKindNamespace:
			if ns := e.namespaces[rec.namespace]; ns != nil {
				ns.lru.pushBack(e.devices, ref)
			}
		}
	}
}

func (e *Engine) verifyDeviceGUIDs(guids map[string]string) error {
	for _, d := range e.devices.devices {
		want, ok := guids[d.path]
		if !ok {
			continue
		}

		match, err := d.store.CheckGUID(want)
		if err != nil {
			return err
		}

		if !match {
			return fmt.Errorf("%w: device %s guid mismatch after reload", errVerification, d.path)
		}
	}

	return nil
}

// sampleVerify re-reads roughly one out of every testFrequency ContentBased
// slots and checks its digest against what's actually on disk. A mismatch
// offlines the owning device rather than aborting the whole load: the index
// may simply be stale for that one device, not wrong for all of them.
func (e *Engine) sampleVerify(contentSlots []entryRef, testFrequency uint32) {
	if testFrequency == 0 {
		testFrequency = 1
	}

	for _, ref := range contentSlots {
		if rand.Uint32()%testFrequency != 0 { //nolint:gosec // sampling cadence, not security-sensitive
			continue
		}

		d := e.devices.devices[ref.device]

		if err := d.check(ref.slot); err != nil {
			e.offlineDeviceLocked(d)
			return
		}
	}
}

func writeU32(w io.Writer, v uint32) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("%w: %w", errDeviceIO, err)
	}

	return nil
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)

	return v, err
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}

	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("%w: %w", errDeviceIO, err)
	}

	return nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}
