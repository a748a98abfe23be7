package clustercache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvstorage/clustercache/pkg/clustercache"
)

func Test_Config_Validate_Rejects_Non_Power_Of_Two_Cluster_Size(t *testing.T) {
	t.Parallel()

	cfg := clustercache.Config{ClusterSize: 4097}

	err := cfg.Validate()

	require.ErrorIs(t, err, clustercache.ErrInvalidClusterCacheConfig)
}

func Test_Config_Validate_Rejects_Duplicate_Mount_Points(t *testing.T) {
	t.Parallel()

	cfg := clustercache.Config{
		ClusterSize: 4096,
		MountPoints: []clustercache.MountPointConfig{
			{Path: "/dev/a", Size: 1024},
			{Path: "/dev/a", Size: 2048},
		},
	}

	err := cfg.Validate()

	require.ErrorIs(t, err, clustercache.ErrInvalidClusterCacheConfig)
}

func Test_CheckConfig_Allows_Adding_Mount_Points(t *testing.T) {
	t.Parallel()

	oldCfg := clustercache.Config{MountPoints: []clustercache.MountPointConfig{{Path: "/dev/a", Size: 1024}}}
	newCfg := clustercache.Config{MountPoints: []clustercache.MountPointConfig{
		{Path: "/dev/a", Size: 1024},
		{Path: "/dev/b", Size: 2048},
	}}

	assert.NoError(t, clustercache.CheckConfig(oldCfg, newCfg))
}

func Test_CheckConfig_Rejects_Removed_Mount_Point(t *testing.T) {
	t.Parallel()

	oldCfg := clustercache.Config{MountPoints: []clustercache.MountPointConfig{{Path: "/dev/a", Size: 1024}}}
	newCfg := clustercache.Config{}

	err := clustercache.CheckConfig(oldCfg, newCfg)

	require.ErrorIs(t, err, clustercache.ErrInvalidClusterCacheConfig)
}

func Test_CheckConfig_Rejects_Resized_Mount_Point(t *testing.T) {
	t.Parallel()

	oldCfg := clustercache.Config{MountPoints: []clustercache.MountPointConfig{{Path: "/dev/a", Size: 1024}}}
	newCfg := clustercache.Config{MountPoints: []clustercache.MountPointConfig{{Path: "/dev/a", Size: 2048}}}

	err := clustercache.CheckConfig(oldCfg, newCfg)

	require.ErrorIs(t, err, clustercache.ErrInvalidClusterCacheConfig)
}
