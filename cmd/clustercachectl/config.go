package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/openvstorage/clustercache/pkg/clustercache"
)

// fileMountPoint mirrors clustercache.MountPointConfig for JSONC decoding -
// a plain struct keeps the config file format independent of any future
// change to the engine's own Config shape.
type fileMountPoint struct {
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
}

// fileConfig is the on-disk shape of a clustercachectl config file. JSONC
// (JSON with comments, relaxed trailing commas) is accepted via hujson, the
// same way the teacher's own config file loader does.
type fileConfig struct {
	ClusterSize                uint32           `json:"cluster_size,omitempty"`                //nolint:tagliatelle
	SerializeReadCache         bool             `json:"serialize_read_cache,omitempty"`        //nolint:tagliatelle
	ReadCacheSerializationPath string           `json:"read_cache_serialization_path,omitempty"` //nolint:tagliatelle
	AverageEntriesPerBin       uint32           `json:"average_entries_per_bin,omitempty"`     //nolint:tagliatelle
	SerializerTestFrequency    uint32           `json:"serializer_test_frequency,omitempty"`   //nolint:tagliatelle
	MountPoints                []fileMountPoint `json:"mount_points,omitempty"`                //nolint:tagliatelle
}

// loadFileConfig reads and JSONC-decodes path. A missing path is not an
// error - it simply yields a zero fileConfig, leaving defaults/flags in
// charge.
func loadFileConfig(path string) (fileConfig, error) {
	if path == "" {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is an operator-supplied CLI argument
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig{}, nil
		}

		return fileConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}

	var cfg fileConfig

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}

	return cfg, nil
}

// toEngineConfig merges the file config with CLI-supplied mount points,
// flags taking priority over file values for every scalar field that has a
// flag (average_entries_per_bin comes from the file only).
func (fc fileConfig) toEngineConfig(flags cliFlags) clustercache.Config {
	cfg := clustercache.Config{
		ClusterSize:                fc.ClusterSize,
		SerializeReadCache:         fc.SerializeReadCache,
		ReadCacheSerializationPath: fc.ReadCacheSerializationPath,
		AverageEntriesPerBin:       fc.AverageEntriesPerBin,
		SerializerTestFrequency:    fc.SerializerTestFrequency,
	}

	for _, mp := range fc.MountPoints {
		cfg.MountPoints = append(cfg.MountPoints, clustercache.MountPointConfig{Path: mp.Path, Size: mp.Size})
	}

	if flags.clusterSize != 0 {
		cfg.ClusterSize = flags.clusterSize
	}

	if flags.serializationPath != "" {
		cfg.ReadCacheSerializationPath = flags.serializationPath
		cfg.SerializeReadCache = true
	}

	if flags.testFrequency != 0 {
		cfg.SerializerTestFrequency = flags.testFrequency
	}

	for _, mp := range flags.mounts {
		cfg.MountPoints = append(cfg.MountPoints, mp)
	}

	return cfg
}
