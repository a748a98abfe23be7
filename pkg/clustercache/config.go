package clustercache

import "fmt"

// MountPointConfig names one backing device/file the engine should open at
// startup.
type MountPointConfig struct {
	Path string
	Size int64
}

// Config holds the cluster cache's configuration keys (spec.md §6).
type Config struct {
	// ClusterSize is the fixed size in bytes of one cached cluster. Must be
	// a power of two. Defaults to 4096 if zero.
	ClusterSize uint32

	// SerializeReadCache enables persisting the index to
	// ReadCacheSerializationPath on clean shutdown, and loading it on
	// startup.
	SerializeReadCache bool

	// ReadCacheSerializationPath is the directory holding the serialized
	// index file (fixed filename, see serializer.go).
	ReadCacheSerializationPath string

	// AverageEntriesPerBin is the target Cache Map chain length used by
	// best_size when sizing/resizing a namespace's hash table. Typically
	// 2-4; defaults to 4 if zero.
	AverageEntriesPerBin uint32

	// MountPoints lists the devices to open at engine construction.
	MountPoints []MountPointConfig

	// SerializerTestFrequency is the 1-in-N sampling rate for the
	// post-restart content-digest verification (§6 supplemented feature;
	// spec.md §9 names 8192 as the default, taken from the original's
	// dss_test_frequency). Defaults to 8192 if zero.
	SerializerTestFrequency uint32
}

func (c Config) withDefaults() Config {
	if c.ClusterSize == 0 {
		c.ClusterSize = 4096
	}

	if c.AverageEntriesPerBin == 0 {
		c.AverageEntriesPerBin = 4
	}

	if c.SerializerTestFrequency == 0 {
		c.SerializerTestFrequency = 8192
	}

	return c
}

// Validate checks structural validity: a nonzero, power-of-two cluster size,
// and no duplicate mount point paths.
func (c Config) Validate() error {
	if c.ClusterSize == 0 || c.ClusterSize&(c.ClusterSize-1) != 0 {
		return fmt.Errorf("%w: cluster size %d must be a nonzero power of two", ErrInvalidClusterCacheConfig, c.ClusterSize)
	}

	seen := make(map[string]bool, len(c.MountPoints))
	for _, mp := range c.MountPoints {
		if seen[mp.Path] {
			return fmt.Errorf("%w: duplicate mount point %q", ErrInvalidClusterCacheConfig, mp.Path)
		}

		seen[mp.Path] = true
	}

	return nil
}

// CheckConfig enforces the configuration-change rule from spec.md §6: for
// every device present in the old mount point list, a device with the same
// path and identical size must appear in the new list. Devices may be
// added; resizing or removing one must go through explicit offline+re-add.
func CheckConfig(oldCfg, newCfg Config) error {
	newByPath := make(map[string]int64, len(newCfg.MountPoints))
	for _, mp := range newCfg.MountPoints {
		newByPath[mp.Path] = mp.Size
	}

	for _, old := range oldCfg.MountPoints {
		size, present := newByPath[old.Path]
		if !present {
			return fmt.Errorf("%w: mount point %q removed from configuration", ErrInvalidClusterCacheConfig, old.Path)
		}

		if size != old.Size {
			return fmt.Errorf("%w: mount point %q changed size from %d to %d", ErrInvalidClusterCacheConfig, old.Path, old.Size, size)
		}
	}

	return nil
}
