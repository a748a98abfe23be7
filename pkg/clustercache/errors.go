package clustercache

import "errors"

// Caller-facing errors. These are returned only for programmer mistakes
// (unknown handle, invalid configuration, an operation that makes no sense
// for the given namespace) - never for transient cache conditions such as a
// miss or a degraded device.
var (
	// ErrInvalidClusterCacheHandle is returned when an operation references a
	// namespace handle that does not exist.
	ErrInvalidClusterCacheHandle = errors.New("clustercache: invalid handle")

	// ErrInvalidClusterCacheConfig is returned for a structurally invalid
	// configuration request, e.g. SetMaxEntries(h, 0).
	ErrInvalidClusterCacheConfig = errors.New("clustercache: invalid config")

	// ErrInvalidClusterCacheOperation is returned for an operation that is
	// disallowed for the targeted namespace, e.g. removing namespace 0.
	ErrInvalidClusterCacheOperation = errors.New("clustercache: invalid operation")

	// ErrMountPointNotConfigured is returned by OfflineDevice when the given
	// path is not part of the current device set. OnlineDevice does not
	// return it: it adds any path it is given.
	ErrMountPointNotConfigured = errors.New("clustercache: mount point not configured")
)

// Internal errors. Read, Add and Invalidate never return them: a device I/O
// error there offlines the device instead. NewEngine, AddDevice,
// OnlineDevice, SaveIndex and LoadIndex do return them, wrapped, so callers
// inside this package can classify them with errors.Is. A failed LoadIndex
// (including the one NewEngine runs at startup) returns its error and does
// not clear the state it has already loaded.
var (
	// errDeviceIO marks any I/O failure against a backing device. The Engine
	// reacts by offlining the device; the public Read/Add caller never sees
	// this error directly.
	errDeviceIO = errors.New("clustercache: device I/O error")

	// errVerification marks a content-digest mismatch detected during the
	// post-restart sampling check.
	errVerification = errors.New("clustercache: verification error")

	// errDeserialization marks a failure while loading a serialized index.
	errDeserialization = errors.New("clustercache: deserialization error")
)
