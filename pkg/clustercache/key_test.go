package clustercache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvstorage/clustercache/pkg/clustercache"
)

func Test_LocationKey_RoundTrips_Handle_And_Address(t *testing.T) {
	t.Parallel()

	key := clustercache.LocationKey(42, 1337)

	assert.Equal(t, clustercache.ClusterCacheHandle(42), key.Handle())
	assert.Equal(t, uint64(1337), key.Address())
}

func Test_ContentKey_RoundTrips_Digest(t *testing.T) {
	t.Parallel()

	digest := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	key := clustercache.ContentKey(digest)

	assert.Equal(t, digest, key.Digest())
}

func Test_IsZeroDigest(t *testing.T) {
	t.Parallel()

	require.True(t, clustercache.IsZeroDigest([16]byte{}))
	require.False(t, clustercache.IsZeroDigest([16]byte{1}))
}

func Test_ClusterCacheMode_String(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		mode clustercache.ClusterCacheMode
		want string
	}{
		{"ContentBased", clustercache.ModeContentBased, "ContentBased"},
		{"LocationBased", clustercache.ModeLocationBased, "LocationBased"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, testCase.want, testCase.mode.String())
		})
	}
}
