package clustercache

import (
	"encoding/binary"
	"fmt"
)

// ClusterCacheHandle identifies a namespace: the engine-wide index into the
// cache's set of namespaces. Handle 0 is the singleton content-based
// namespace; any other value names a location-based namespace and equals the
// owning volume's OwnerTag.
type ClusterCacheHandle uint64

// ContentBasedHandle is the handle of the one content-based namespace that
// always exists.
const ContentBasedHandle ClusterCacheHandle = 0

// ClusterCacheMode selects how a ClusterCacheKey's 16 bytes are interpreted.
type ClusterCacheMode uint8

const (
	// ModeContentBased interprets the key as a 128-bit digest of the
	// cluster's contents. Entries in this mode live in the content-based
	// namespace and are immutable once written under a given key.
	ModeContentBased ClusterCacheMode = iota

	// ModeLocationBased interprets the key as a (handle, cluster address)
	// pair. Entries in this mode are private to one namespace and are
	// overwritten in place by a subsequent Add with the same key.
	ModeLocationBased
)

// String renders the mode for logs and debug output.
func (m ClusterCacheMode) String() string {
	switch m {
	case ModeContentBased:
		return "ContentBased"
	case ModeLocationBased:
		return "LocationBased"
	default:
		return fmt.Sprintf("ClusterCacheMode(%d)", uint8(m))
	}
}

// ClusterCacheKey is the cache's 16-byte key. The same 16 bytes carry two
// different interpretations depending on the owning entry's mode: a 128-bit
// content digest, or a (handle, cluster address) pair. The engine never
// reinterprets one mode's key as the other.
type ClusterCacheKey [16]byte

// ContentKey builds a ClusterCacheKey from a 128-bit content digest.
func ContentKey(digest [16]byte) ClusterCacheKey {
	return ClusterCacheKey(digest)
}

// LocationKey builds a ClusterCacheKey from a (handle, cluster address) pair.
func LocationKey(handle ClusterCacheHandle, clusterAddress uint64) ClusterCacheKey {
	var k ClusterCacheKey
	binary.LittleEndian.PutUint64(k[0:8], uint64(handle))
	binary.LittleEndian.PutUint64(k[8:16], clusterAddress)

	return k
}

// Digest returns the key's bytes under the ContentBased interpretation.
func (k ClusterCacheKey) Digest() [16]byte {
	return [16]byte(k)
}

// Handle returns the key's handle field under the LocationBased
// interpretation.
func (k ClusterCacheKey) Handle() ClusterCacheHandle {
	return ClusterCacheHandle(binary.LittleEndian.Uint64(k[0:8]))
}

// Address returns the key's cluster-address field under the LocationBased
// interpretation.
func (k ClusterCacheKey) Address() uint64 {
	return binary.LittleEndian.Uint64(k[8:16])
}

// hashSeed returns the key's first 64 bits. The Cache Map does not use it:
// bucketHash hashes all 16 key bytes, since for a LocationKey the first 64
// bits are the handle, shared by every entry of a namespace.
func (k ClusterCacheKey) hashSeed() uint64 {
	return binary.LittleEndian.Uint64(k[0:8])
}

// GoString renders the key for debug output, disambiguated by mode since the
// same bytes mean different things in each mode. It takes the mode as an
// argument, so it does not implement fmt.GoStringer and %#v does not call it.
func (k ClusterCacheKey) GoString(mode ClusterCacheMode) string {
	if mode == ModeLocationBased {
		return fmt.Sprintf("LocationKey{handle: %d, address: %d}", k.Handle(), k.Address())
	}

	return fmt.Sprintf("ContentKey{digest: %x}", k.Digest())
}

// IsZeroDigest reports whether digest is the all-zero 16 bytes the engine
// treats as "no digest supplied" for a content-based lookup (spec.md §4.6:
// "For content-based lookups with a null digest, return false immediately").
func IsZeroDigest(digest [16]byte) bool {
	return digest == [16]byte{}
}
