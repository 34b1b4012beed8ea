package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"robominions.dev/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "state", "snapshot", "robots", "spawn", "command", "remove", "drop":
			httpCmd(os.Args[1], os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// inspectCmd prints a snapshot header and its robots without a running server.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -snapshot")
			os.Exit(2)
		}
		path = latestSnapshot(filepath.Join(*dataDir, "worlds", *worldID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	for _, line := range describeSnapshot(snap) {
		fmt.Println(line)
	}
}

func describeSnapshot(snap snapshot.SnapshotV1) []string {
	out := []string{fmt.Sprintf("snapshot v%d world=%s tick=%d robots=%d identities=%d blocks=%d executed=%d delivered=%d dropped=%d",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Tick,
		len(snap.Robots), len(snap.Identities), len(snap.Blocks),
		snap.Counters.Executed, snap.Counters.Delivered, snap.Counters.Dropped)}

	names := map[string]string{}
	for _, id := range snap.Identities {
		names[id.ID] = id.Name
	}
	robots := append([]snapshot.RobotV1(nil), snap.Robots...)
	sort.Slice(robots, func(i, j int) bool { return robots[i].Owner < robots[j].Owner })
	for _, r := range robots {
		inv, _ := json.Marshal(r.Inventory)
		out = append(out, fmt.Sprintf("robot owner=%s name=%s kind=%s pos=%d,%d,%d facing=%s inventory=%s",
			r.Owner, names[r.Owner], r.Kind, r.Pos[0], r.Pos[1], r.Pos[2], r.Facing, inv))
	}
	return out
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
