// Package deviceio abstracts the filesystem operations clustercache performs
// against backing device files and serialized index files, so engine and
// serializer tests can run against an in-memory double instead of real disk.
//
// The main types are:
//   - [FS]: interface for filesystem operations
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation using [os] package
//   - [Locker]: flock(2)-based advisory locking, separate from [FS]/[File]
//
// Example usage:
//
//	fs := deviceio.NewReal()
//	f, err := fs.OpenFile("/dev/cache0", os.O_RDWR, 0o644)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	buf := make([]byte, clusterSize)
//	_, err = f.ReadAt(buf, int64(slot+1)*int64(clusterSize))
package deviceio

import (
	"io"
	"os"
)

// File represents an open file descriptor.
//
// This interface is satisfied by [os.File]. [DiskStore] addresses every
// cluster with ReadAt/WriteAt rather than Read/Write+Seek, since a single
// backing file is shared by concurrent namespace operations and seeking
// would race.
type File interface {
	// Embedded interfaces from [io] package.
	// These provide Read, Write, Close, and Seek methods.
	io.ReadWriteCloser
	io.Seeker

	// Embedded positioned I/O. ReadAt/WriteAt map directly onto pread(2)/
	// pwrite(2) for an *os.File - no seek, safe to call concurrently from
	// multiple goroutines against the same fd.
	io.ReaderAt
	io.WriterAt

	// Fd returns the file descriptor. See [os.File.Fd].
	// Used for low-level operations like [syscall.Flock] and raw ioctls.
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Truncate changes the file's size. See [os.File.Truncate].
	Truncate(size int64) error
}

// FS defines the filesystem operations clustercache needs against device
// files, directories of mount points, and the serialized index.
//
// [Real] is the production implementation, wrapping [os]. Engine and
// serializer tests use an in-memory double instead (see
// pkg/clustercache's memFS), so a device never needs to exist on disk for a
// test to exercise GUID handling, slot I/O, or crash-recovery truncation.
type FS interface {
	Open(path string) (File, error)
	Create(path string) (File, error)

	// OpenFile opens path with flag/perm. See [os.OpenFile]. DiskStore uses
	// this with O_RDWR|O_CREATE to open or create a backing device file.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data via a temp file + rename, so a crash
	// mid-write never leaves a partially-written index on disk.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	ReadDir(path string) ([]os.DirEntry, error)
	MkdirAll(path string, perm os.FileMode) error

	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	Remove(path string) error
	RemoveAll(path string) error
	Rename(oldpath, newpath string) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
