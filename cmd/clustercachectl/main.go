// clustercachectl is an interactive shell for exercising a clustercache
// Engine against real backing files, for manual testing and operational
// inspection.
//
// Usage:
//
//	clustercachectl [flags]
//
// Flags:
//
//	-c, --config <path>       JSONC config file (see Config/fileConfig)
//	    --mount <path[=size]> backing device/file (repeatable)
//	    --cluster-size <n>    cluster size in bytes
//	    --serialize-path <p>  directory to persist the index to
//	    --test-frequency <n>  1-in-N post-reload sampling rate
//	    --exec <cmd>          run one REPL command and exit
//
// When --serialize-path (or its config-file equivalent) is set, the index is
// loaded from <path>/clustercache.index at startup if present, and saved back
// to it on a clean exit (exit/quit/EOF). An exclusive flock on
// <path>/clustercache.lock is held for the process lifetime so two
// clustercachectl instances can never race on the same serialization path.
//
// REPL commands:
//
//	register <owner-tag> [content|location]   Register a volume namespace
//	deregister <owner-tag>                    Deregister a volume namespace
//	add <handle> <address> <data>             Add a location-based entry
//	addc <digest-hex> <data>                  Add a content-based entry
//	read <handle> <address>                   Read a location-based entry
//	readc <digest-hex>                        Read a content-based entry
//	invalidate <handle> <address>             Invalidate a location-based entry
//	setmax <handle> <n|none>                  Set/clear a namespace's entry cap
//	namespaces                                List namespace handles
//	info <handle>                             Show namespace info
//	devices                                   List online devices
//	adddevice <path> [size]                   Add a backing device
//	offline <path>                            Offline a device
//	online <path>                             Re-admit a device
//	stats                                     Show hit/miss/entry counters
//	save <path>                               Serialize the index to path
//	load <path>                               Reload the index from path
//	help                                      Show this help
//	exit / quit                               Exit
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openvstorage/clustercache/pkg/clustercache"
	"github.com/openvstorage/clustercache/pkg/deviceio"
)

// serializationLockFile is the flock guard held for the life of the process
// whenever a serialization path is configured, so two clustercachectl
// instances can never race on the same index file's save/load.
const serializationLockFile = "clustercache.lock"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, cont, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	if !cont {
		return 0
	}

	fileCfg, err := loadFileConfig(flags.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	cfg := fileCfg.toEngineConfig(flags)

	fs := deviceio.NewReal()

	if cfg.SerializeReadCache && cfg.ReadCacheSerializationPath != "" {
		lockPath := filepath.Join(cfg.ReadCacheSerializationPath, serializationLockFile)

		lock, err := deviceio.NewLocker(fs).TryLock(lockPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: another clustercachectl instance holds", lockPath, ":", err)
			return 1
		}

		defer lock.Close() //nolint:errcheck
	}

	engine, err := clustercache.NewEngine(cfg, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: starting engine:", err)
		return 1
	}

	shell := newShell(engine, fs, cfg)

	if flags.oneShot != "" {
		if err := shell.dispatch(flags.oneShot); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}

		return 0
	}

	return shell.runInteractive()
}
