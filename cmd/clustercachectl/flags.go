package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/openvstorage/clustercache/pkg/clustercache"
)

// cliFlags holds the parsed command-line flags. clusterSize,
// serializationPath and testFrequency override the config file's values when
// set; mounts are appended to the config file's mount points.
type cliFlags struct {
	configPath        string
	clusterSize       uint32
	serializationPath string
	testFrequency     uint32
	mounts            []clustercache.MountPointConfig
	oneShot           string
}

// mountPointFlag implements pflag.Value so --mount can be repeated, each
// occurrence naming one "path[=size]" mount point.
type mountPointFlag struct {
	mounts *[]clustercache.MountPointConfig
}

func (f *mountPointFlag) String() string {
	if f.mounts == nil || len(*f.mounts) == 0 {
		return ""
	}

	parts := make([]string, 0, len(*f.mounts))
	for _, mp := range *f.mounts {
		parts = append(parts, fmt.Sprintf("%s=%d", mp.Path, mp.Size))
	}

	return strings.Join(parts, ",")
}

func (f *mountPointFlag) Set(value string) error {
	path, sizeStr, hasSize := strings.Cut(value, "=")

	var size int64

	if hasSize {
		parsed, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid mount size %q: %w", sizeStr, err)
		}

		size = parsed
	}

	*f.mounts = append(*f.mounts, clustercache.MountPointConfig{Path: path, Size: size})

	return nil
}

func (f *mountPointFlag) Type() string { return "path[=size]" }

// parseFlags parses args into cliFlags. Returns (flags, true) to continue,
// or (zero, false) if --help was requested (pflag already printed usage).
func parseFlags(args []string) (cliFlags, bool, error) {
	fs := flag.NewFlagSet("clustercachectl", flag.ContinueOnError)

	var flags cliFlags

	fs.StringVarP(&flags.configPath, "config", "c", "", "path to a JSONC config file")
	fs.Uint32Var(&flags.clusterSize, "cluster-size", 0, "cluster size in bytes (power of two)")
	fs.StringVar(&flags.serializationPath, "serialize-path", "", "directory for the serialized index file (implies serialization enabled)")
	fs.Uint32Var(&flags.testFrequency, "test-frequency", 0, "1-in-N sampling rate for post-reload digest verification")
	fs.Var(&mountPointFlag{mounts: &flags.mounts}, "mount", "backing device/file, as path or path=size (repeatable)")
	fs.StringVar(&flags.oneShot, "exec", "", "run a single REPL-style command and exit instead of starting the shell")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: clustercachectl [flags]")
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "Flags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cliFlags{}, false, nil
		}

		return cliFlags{}, false, err
	}

	return flags, true, nil
}
