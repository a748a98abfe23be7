package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/openvstorage/clustercache/pkg/clustercache"
	"github.com/openvstorage/clustercache/pkg/deviceio"
)

// shell wraps an Engine with a small line-oriented command dispatcher,
// shared between the interactive REPL and --exec one-shot mode.
type shell struct {
	engine *clustercache.Engine
	fs     deviceio.FS
	cfg    clustercache.Config
}

func newShell(engine *clustercache.Engine, fs deviceio.FS, cfg clustercache.Config) *shell {
	return &shell{engine: engine, fs: fs, cfg: cfg}
}

// saveOnExit persists the index to Config.ReadCacheSerializationPath on a
// clean shutdown, per spec.md §6/§4.7, when SerializeReadCache is configured.
// Errors are reported but never block exit.
func (s *shell) saveOnExit() {
	if !s.cfg.SerializeReadCache || s.cfg.ReadCacheSerializationPath == "" {
		return
	}

	indexPath := filepath.Join(s.cfg.ReadCacheSerializationPath, clustercache.IndexFileName)

	if err := s.engine.SaveIndex(s.fs, indexPath); err != nil {
		fmt.Fprintln(os.Stderr, "error: saving index on exit:", err)
	}
}

// runInteractive drives a peterh/liner prompt loop until the user types
// exit/quit or sends EOF.
func (s *shell) runInteractive() int {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("clustercache> ")
		if err != nil {
			fmt.Println()
			s.saveOnExit()

			return 0
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if input == "exit" || input == "quit" || input == "q" {
			s.saveOnExit()

			return 0
		}

		if err := s.dispatch(input); err != nil {
			fmt.Println("error:", err)
		}
	}
}

// dispatch parses and executes one command line.
func (s *shell) dispatch(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		s.printHelp()
		return nil
	case "register":
		return s.cmdRegister(args)
	case "deregister":
		return s.cmdDeregister(args)
	case "add":
		return s.cmdAdd(args)
	case "addc":
		return s.cmdAddContent(args)
	case "read":
		return s.cmdRead(args)
	case "readc":
		return s.cmdReadContent(args)
	case "invalidate":
		return s.cmdInvalidate(args)
	case "setmax":
		return s.cmdSetMax(args)
	case "namespaces":
		return s.cmdNamespaces()
	case "info":
		return s.cmdInfo(args)
	case "devices":
		return s.cmdDevices()
	case "adddevice":
		return s.cmdAddDevice(args)
	case "offline":
		return s.cmdOffline(args)
	case "online":
		return s.cmdOnline(args)
	case "stats":
		return s.cmdStats()
	case "save":
		return s.cmdSave(args)
	case "load":
		return s.cmdLoad(args)
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

func (s *shell) printHelp() {
	fmt.Println(`Commands:
  register <owner-tag> [content|location]   Register a volume namespace
  deregister <owner-tag>                    Deregister a volume namespace
  add <handle> <address> <data>             Add a location-based entry
  addc <digest-hex> <data>                  Add a content-based entry
  read <handle> <address>                   Read a location-based entry
  readc <digest-hex>                        Read a content-based entry
  invalidate <handle> <address>             Invalidate a location-based entry
  setmax <handle> <n|none>                  Set/clear a namespace's entry cap
  namespaces                                List namespace handles
  info <handle>                             Show namespace info
  devices                                   List online devices
  adddevice <path> [size]                   Add a backing device
  offline <path>                            Offline a device
  online <path>                             Re-admit a device
  stats                                     Show hit/miss/entry counters
  save <path>                               Serialize the index to path
  load <path>                               Reload the index from path
  help                                      Show this help
  exit / quit                               Exit`)
}

// clusterBuf returns a buffer of the engine's configured cluster size, with
// data copied in (truncated or zero-padded to fit).
func (s *shell) clusterBuf(data string) []byte {
	buf := make([]byte, s.engine.ClusterSize())
	copy(buf, data)

	return buf
}

func parseHandle(arg string) (clustercache.ClusterCacheHandle, error) {
	v, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q: %w", arg, err)
	}

	return clustercache.ClusterCacheHandle(v), nil
}

func parseDigest(arg string) ([16]byte, error) {
	var digest [16]byte

	raw, err := hex.DecodeString(arg)
	if err != nil || len(raw) != 16 {
		return digest, fmt.Errorf("invalid digest %q: want 32 hex characters", arg)
	}

	copy(digest[:], raw)

	return digest, nil
}

func (s *shell) cmdRegister(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: register <owner-tag> [content|location]")
	}

	ownerTag, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid owner tag %q: %w", args[0], err)
	}

	mode := clustercache.ModeLocationBased
	if len(args) >= 2 && args[1] == "content" {
		mode = clustercache.ModeContentBased
	}

	handle, err := s.engine.RegisterVolume(ownerTag, mode)
	if err != nil {
		return err
	}

	fmt.Println("registered namespace handle:", handle)

	return nil
}

func (s *shell) cmdDeregister(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: deregister <owner-tag>")
	}

	ownerTag, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid owner tag %q: %w", args[0], err)
	}

	return s.engine.DeregisterVolume(ownerTag)
}

func (s *shell) cmdAdd(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: add <handle> <address> <data>")
	}

	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	address, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[1], err)
	}

	return s.engine.AddLocation(handle, address, s.clusterBuf(args[2]))
}

func (s *shell) cmdAddContent(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: addc <digest-hex> <data>")
	}

	digest, err := parseDigest(args[0])
	if err != nil {
		return err
	}

	return s.engine.AddContent(digest, s.clusterBuf(args[1]))
}

func (s *shell) cmdRead(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: read <handle> <address>")
	}

	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	address, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[1], err)
	}

	buf := make([]byte, s.engine.ClusterSize())

	hit, err := s.engine.ReadLocation(handle, address)(buf)
	if err != nil {
		return err
	}

	if !hit {
		fmt.Println("miss")
		return nil
	}

	fmt.Printf("hit: %q\n", strings.TrimRight(string(buf), "\x00"))

	return nil
}

func (s *shell) cmdReadContent(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: readc <digest-hex>")
	}

	digest, err := parseDigest(args[0])
	if err != nil {
		return err
	}

	buf := make([]byte, s.engine.ClusterSize())

	hit, err := s.engine.ReadContent(digest, buf)
	if err != nil {
		return err
	}

	if !hit {
		fmt.Println("miss")
		return nil
	}

	fmt.Printf("hit: %q\n", strings.TrimRight(string(buf), "\x00"))

	return nil
}

func (s *shell) cmdInvalidate(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: invalidate <handle> <address>")
	}

	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	address, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[1], err)
	}

	return s.engine.Invalidate(handle, clustercache.LocationKey(handle, address))
}

func (s *shell) cmdSetMax(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: setmax <handle> <n|none>")
	}

	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	if args[1] == "none" {
		return s.engine.SetMaxEntries(handle, nil)
	}

	n, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid limit %q: %w", args[1], err)
	}

	return s.engine.SetMaxEntries(handle, &n)
}

func (s *shell) cmdNamespaces() error {
	handles := s.engine.ListNamespaces()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	for _, h := range handles {
		fmt.Println(h)
	}

	return nil
}

func (s *shell) cmdInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: info <handle>")
	}

	handle, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	info, err := s.engine.NamespaceInfo(handle)
	if err != nil {
		return err
	}

	maxStr := "none"
	if info.MaxEntries != nil {
		maxStr = strconv.FormatUint(*info.MaxEntries, 10)
	}

	fmt.Printf("handle=%d entries=%d max=%s behaviour=%s\n", info.Handle, info.Entries, maxStr, info.Behaviour)

	return nil
}

func (s *shell) cmdDevices() error {
	for path, info := range s.engine.DeviceInfo() {
		fmt.Printf("%s total=%d used=%d\n", path, info.TotalSize, info.UsedSize)
	}

	return nil
}

func (s *shell) cmdAddDevice(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: adddevice <path> [size]")
	}

	var size int64

	if len(args) >= 2 {
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", args[1], err)
		}

		size = v
	}

	added, err := s.engine.AddDevice(args[0], size)
	if err != nil {
		return err
	}

	if !added {
		fmt.Println("already configured")
	}

	return nil
}

func (s *shell) cmdOffline(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: offline <path>")
	}

	return s.engine.OfflineDevice(args[0])
}

func (s *shell) cmdOnline(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: online <path>")
	}

	_, err := s.engine.OnlineDevice(args[0])

	return err
}

func (s *shell) cmdStats() error {
	hits, misses, entries := s.engine.GetStats()

	fmt.Printf("hits=%d misses=%d entries=%d\n", hits, misses, entries)

	return nil
}

func (s *shell) cmdSave(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: save <path>")
	}

	return s.engine.SaveIndex(s.fs, args[0])
}

func (s *shell) cmdLoad(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: load <path>")
	}

	return s.engine.LoadIndex(args[0], 0)
}
