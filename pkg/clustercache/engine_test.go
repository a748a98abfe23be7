package clustercache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvstorage/clustercache/pkg/clustercache"
)

const testClusterSize = 64

func newTestEngine(t *testing.T, fs *memFS, mountPaths ...string) *clustercache.Engine {
	t.Helper()

	cfg := clustercache.Config{ClusterSize: testClusterSize}

	for _, path := range mountPaths {
		// 9 usable clusters plus the reserved GUID cluster.
		cfg.MountPoints = append(cfg.MountPoints, clustercache.MountPointConfig{
			Path: path,
			Size: testClusterSize * 10,
		})
	}

	engine, err := clustercache.NewEngine(cfg, fs)
	require.NoError(t, err)

	return engine
}

func Test_Add_Then_Read_LocationBased_RoundTrips(t *testing.T) {
	t.Parallel()

	fs := newMemFS()
	engine := newTestEngine(t, fs, "/dev/a")

	handle, err := engine.RegisterVolume(99, clustercache.ModeLocationBased)
	require.NoError(t, err)

	payload := make([]byte, testClusterSize)
	copy(payload, "hello cluster")

	require.NoError(t, engine.AddLocation(handle, 5, payload))

	out := make([]byte, testClusterSize)

	hit, err := engine.ReadLocation(handle, 5)(out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, payload, out)
}

func Test_Read_Miss_On_Unknown_Key_Does_Not_Error(t *testing.T) {
	t.Parallel()

	fs := newMemFS()
	engine := newTestEngine(t, fs, "/dev/a")

	handle, err := engine.RegisterVolume(1, clustercache.ModeLocationBased)
	require.NoError(t, err)

	out := make([]byte, testClusterSize)

	hit, err := engine.ReadLocation(handle, 123)(out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func Test_ReadContent_With_Null_Digest_Is_A_Miss(t *testing.T) {
	t.Parallel()

	fs := newMemFS()
	engine := newTestEngine(t, fs, "/dev/a")

	out := make([]byte, testClusterSize)

	hit, err := engine.ReadContent([16]byte{}, out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func Test_Invalidate_Removes_Entry(t *testing.T) {
	t.Parallel()

	fs := newMemFS()
	engine := newTestEngine(t, fs, "/dev/a")

	handle, err := engine.RegisterVolume(7, clustercache.ModeLocationBased)
	require.NoError(t, err)

	payload := make([]byte, testClusterSize)
	require.NoError(t, engine.AddLocation(handle, 1, payload))

	require.NoError(t, engine.Invalidate(handle, clustercache.LocationKey(handle, 1)))

	out := make([]byte, testClusterSize)

	hit, err := engine.ReadLocation(handle, 1)(out)
	require.NoError(t, err)
	assert.False(t, hit, "invalidated entry must not still be readable")
}

func Test_Invalidate_Is_NoOp_For_ContentBased_Namespace(t *testing.T) {
	t.Parallel()

	fs := newMemFS()
	engine := newTestEngine(t, fs, "/dev/a")

	digest := clustercache.ComputeDigest([]byte("stable content"))
	payload := make([]byte, testClusterSize)
	copy(payload, "stable content")

	require.NoError(t, engine.AddContent(digest, payload))
	require.NoError(t, engine.InvalidateCombined(clustercache.ContentBasedHandle, 0, digest))

	out := make([]byte, testClusterSize)

	hit, err := engine.ReadContent(digest, out)
	require.NoError(t, err)
	assert.True(t, hit, "content-based invalidation must be a no-op")
}

func Test_SetMaxEntries_Caps_Namespace_And_Evicts_LRU(t *testing.T) {
	t.Parallel()

	fs := newMemFS()
	engine := newTestEngine(t, fs, "/dev/a")

	handle, err := engine.RegisterVolume(3, clustercache.ModeLocationBased)
	require.NoError(t, err)

	limit := uint64(2)
	require.NoError(t, engine.SetMaxEntries(handle, &limit))

	payload := make([]byte, testClusterSize)

	require.NoError(t, engine.AddLocation(handle, 1, payload))
	require.NoError(t, engine.AddLocation(handle, 2, payload))
	require.NoError(t, engine.AddLocation(handle, 3, payload))

	info, err := engine.NamespaceInfo(handle)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Entries, "namespace must never exceed its configured cap")

	out := make([]byte, testClusterSize)

	hit, err := engine.ReadLocation(handle, 1)(out)
	require.NoError(t, err)
	assert.False(t, hit, "oldest entry should have been evicted to stay within the cap")
}

func Test_Device_IO_Failure_On_Read_Offlines_Device(t *testing.T) {
	t.Parallel()

	fs := newMemFS()
	engine := newTestEngine(t, fs, "/dev/a")

	handle, err := engine.RegisterVolume(11, clustercache.ModeLocationBased)
	require.NoError(t, err)

	payload := make([]byte, testClusterSize)
	require.NoError(t, engine.AddLocation(handle, 1, payload))

	fs.failNextOn("/dev/a", errMemFSIO)

	out := make([]byte, testClusterSize)

	hit, err := engine.ReadLocation(handle, 1)(out)
	require.NoError(t, err, "a device I/O error must never be returned to the caller")
	assert.False(t, hit)

	devices := engine.DeviceInfo()
	_, stillOnline := devices["/dev/a"]
	assert.False(t, stillOnline, "the failing device must be offlined")
}

func Test_SaveIndex_Then_LoadIndex_Restores_Entries(t *testing.T) {
	t.Parallel()

	fs := newMemFS()
	engine := newTestEngine(t, fs, "/dev/a")

	handle, err := engine.RegisterVolume(55, clustercache.ModeLocationBased)
	require.NoError(t, err)

	payload := make([]byte, testClusterSize)
	copy(payload, "persisted")

	require.NoError(t, engine.AddLocation(handle, 9, payload))
	require.NoError(t, engine.SaveIndex(fs, "/index.bin"))

	reloaded := newTestEngine(t, fs, "/dev/a")

	reloadedHandle, err := reloaded.RegisterVolume(55, clustercache.ModeLocationBased)
	require.NoError(t, err)
	require.Equal(t, handle, reloadedHandle)

	require.NoError(t, reloaded.LoadIndex("/index.bin", 0))

	out := make([]byte, testClusterSize)

	hit, err := reloaded.ReadLocation(reloadedHandle, 9)(out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, payload, out)
}

func Test_DeregisterVolume_Invalidates_All_Its_Entries(t *testing.T) {
	t.Parallel()

	fs := newMemFS()
	engine := newTestEngine(t, fs, "/dev/a")

	handle, err := engine.RegisterVolume(21, clustercache.ModeLocationBased)
	require.NoError(t, err)

	payload := make([]byte, testClusterSize)
	require.NoError(t, engine.AddLocation(handle, 1, payload))

	require.NoError(t, engine.DeregisterVolume(21))

	_, err = engine.NamespaceInfo(handle)
	assert.ErrorIs(t, err, clustercache.ErrInvalidClusterCacheHandle)

	_, _, entries := engine.GetStats()
	assert.Equal(t, uint64(0), entries, "deregistered entries must not remain reachable from any namespace")
}
