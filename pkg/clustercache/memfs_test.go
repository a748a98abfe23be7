package clustercache_test

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/openvstorage/clustercache/pkg/deviceio"
)

// memFS is a minimal in-memory deviceio.FS implementation used by the
// package's tests in place of real files. It can inject a single I/O error
// on a chosen path (see failNextOn).
type memFS struct {
	mu    sync.Mutex
	files map[string]*memFileData

	// failOnPath, when non-empty, makes the next Read/Write against that
	// path return failErr - used to exercise the engine's device-offline
	// reaction to an I/O error (spec.md §8 Scenario E).
	failOnPath string
	failErr    error
}

type memFileData struct {
	mu   sync.Mutex
	data []byte
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string]*memFileData)}
}

func (m *memFS) failNextOn(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failOnPath = path
	m.failErr = err
}

func (m *memFS) shouldFail(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failOnPath == path {
		m.failOnPath = ""
		return m.failErr
	}

	return nil
}

func (m *memFS) getOrCreate(path string) *memFileData {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[path]
	if !ok {
		f = &memFileData{}
		m.files[path] = f
	}

	return f
}

func (m *memFS) Open(path string) (deviceio.File, error) {
	return m.OpenFile(path, os.O_RDONLY, 0)
}

func (m *memFS) Create(path string) (deviceio.File, error) {
	return m.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (m *memFS) OpenFile(path string, flag int, _ os.FileMode) (deviceio.File, error) {
	m.mu.Lock()
	_, exists := m.files[path]
	m.mu.Unlock()

	if !exists && flag&os.O_CREATE == 0 {
		return nil, os.ErrNotExist
	}

	data := m.getOrCreate(path)

	if flag&os.O_TRUNC != 0 {
		data.mu.Lock()
		data.data = nil
		data.mu.Unlock()
	}

	return memFile{fs: m, path: path, data: data}, nil
}

func (m *memFS) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	f, ok := m.files[path]
	m.mu.Unlock()

	if !ok {
		return nil, os.ErrNotExist
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, len(f.data))
	copy(out, f.data)

	return out, nil
}

func (m *memFS) WriteFileAtomic(path string, data []byte, _ os.FileMode) error {
	f := m.getOrCreate(path)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.data = append([]byte(nil), data...)

	return nil
}

func (m *memFS) ReadDir(string) ([]os.DirEntry, error) { return nil, nil }
func (m *memFS) MkdirAll(string, os.FileMode) error    { return nil }

func (m *memFS) Stat(path string) (os.FileInfo, error) {
	m.mu.Lock()
	f, ok := m.files[path]
	m.mu.Unlock()

	if !ok {
		return nil, os.ErrNotExist
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return memFileInfo{name: path, size: int64(len(f.data))}, nil
}

func (m *memFS) Exists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.files[path]

	return ok, nil
}

func (m *memFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, path)

	return nil
}

func (m *memFS) RemoveAll(path string) error { return m.Remove(path) }

func (m *memFS) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[oldpath]
	if !ok {
		return os.ErrNotExist
	}

	m.files[newpath] = f
	delete(m.files, oldpath)

	return nil
}

// memFile implements deviceio.File against a memFileData buffer.
type memFile struct {
	fs   *memFS
	path string
	data *memFileData
	pos  int64
}

func (f memFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	return n, err
}

func (f memFile) Write(p []byte) (int, error) {
	n, err := f.WriteAt(p, f.pos)
	return n, err
}

func (f memFile) ReadAt(p []byte, off int64) (int, error) {
	if err := f.fs.shouldFail(f.path); err != nil {
		return 0, err
	}

	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	if off >= int64(len(f.data.data)) {
		return 0, io.EOF
	}

	n := copy(p, f.data.data[off:])

	return n, nil
}

func (f memFile) WriteAt(p []byte, off int64) (int, error) {
	if err := f.fs.shouldFail(f.path); err != nil {
		return 0, err
	}

	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	end := off + int64(len(p))
	if end > int64(len(f.data.data)) {
		grown := make([]byte, end)
		copy(grown, f.data.data)
		f.data.data = grown
	}

	copy(f.data.data[off:end], p)

	return len(p), nil
}

func (f memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.pos = offset
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.data.mu.Lock()
		f.pos = int64(len(f.data.data)) + offset
		f.data.mu.Unlock()
	}

	return f.pos, nil
}

func (f memFile) Close() error { return nil }
func (f memFile) Fd() uintptr  { return 0 }
func (f memFile) Sync() error  { return nil }

func (f memFile) Stat() (os.FileInfo, error) {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	return memFileInfo{name: f.path, size: int64(len(f.data.data))}, nil
}

func (f memFile) Truncate(size int64) error {
	f.data.mu.Lock()
	defer f.data.mu.Unlock()

	if size <= int64(len(f.data.data)) {
		f.data.data = f.data.data[:size]
		return nil
	}

	grown := make([]byte, size)
	copy(grown, f.data.data)
	f.data.data = grown

	return nil
}

type memFileInfo struct {
	name string
	size int64
}

func (i memFileInfo) Name() string       { return i.name }
func (i memFileInfo) Size() int64        { return i.size }
func (i memFileInfo) Mode() fs.FileMode  { return 0o644 }
func (i memFileInfo) ModTime() time.Time { return time.Time{} }
func (i memFileInfo) IsDir() bool        { return false }
func (i memFileInfo) Sys() any           { return nil }

var errMemFSIO = fmt.Errorf("memfs: injected I/O error")

var (
	_ deviceio.FS   = (*memFS)(nil)
	_ deviceio.File = memFile{}
)
