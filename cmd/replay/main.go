package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"robominions.dev/internal/persistence/snapshot"
	"robominions.dev/internal/sim/world"
)

func main() {
	var (
		snapPath  = flag.String("snapshot", "", "path to .snap.zst (optional; sets the start tick)")
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		fromTick  = flag.Uint64("from_tick", 0, "start at tick (inclusive, optional)")
		toTick    = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		name      = flag.String("name", "", "only count outcomes for this player (optional)")
	)
	flag.Parse()

	start := *fromTick
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d world=%s tick=%d robots=%d identities=%d blocks=%d\n",
			snap.Header.Version, snap.Header.WorldID, snap.Header.Tick,
			len(snap.Robots), len(snap.Identities), len(snap.Blocks))
		if start == 0 {
			start = snap.Header.Tick + 1
		}
	}
	if *eventsDir == "" {
		if *snapPath == "" {
			fmt.Fprintln(os.Stderr, "missing -events or -snapshot")
			os.Exit(2)
		}
		return
	}

	files, err := listEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	rep := newReport(start, *toTick, *name)
	for _, path := range files {
		if err := rep.replayFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	for _, line := range rep.lines() {
		fmt.Println(line)
	}
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

type tally struct {
	Delivered int
	Succeeded int
	Dropped   int
	Failed    int
}

func (t *tally) add(status string, success bool) {
	switch status {
	case "DELIVERED":
		t.Delivered++
		if success {
			t.Succeeded++
		}
	case "DROPPED":
		t.Dropped++
	case "FAILED":
		t.Failed++
	}
}

// report folds tick log entries into per-player and per-action tallies and
// checks that ticks only move forward.
type report struct {
	from, to uint64
	name     string

	lastTick uint64
	ticks    int
	joins    int
	leaves   int
	admin    int
	total    tally
	byName   map[string]*tally
	byAction map[string]*tally
}

func newReport(from, to uint64, name string) *report {
	return &report{from: from, to: to, name: name, byName: map[string]*tally{}, byAction: map[string]*tally{}}
}

func (r *report) replayFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var entry world.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := r.apply(entry); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

func (r *report) apply(entry world.TickLogEntry) error {
	if r.ticks > 0 && entry.Tick <= r.lastTick {
		return fmt.Errorf("tick went backwards: %d after %d", entry.Tick, r.lastTick)
	}
	r.lastTick = entry.Tick
	r.ticks++
	if entry.Tick < r.from || (r.to != 0 && entry.Tick > r.to) {
		return nil
	}
	r.joins += len(entry.Joins)
	r.leaves += len(entry.Leaves)
	r.admin += len(entry.Admin)
	for _, o := range entry.Outcomes {
		if r.name != "" && o.Name != r.name {
			continue
		}
		r.total.add(o.Status, o.Success)
		tallyFor(r.byName, o.Name).add(o.Status, o.Success)
		tallyFor(r.byAction, o.Action).add(o.Status, o.Success)
	}
	return nil
}

func tallyFor(m map[string]*tally, k string) *tally {
	t, ok := m[k]
	if !ok {
		t = &tally{}
		m[k] = t
	}
	return t
}

func (r *report) lines() []string {
	out := []string{fmt.Sprintf("replay ok: ticks=%d last_tick=%d joins=%d leaves=%d admin=%d delivered=%d succeeded=%d dropped=%d failed=%d",
		r.ticks, r.lastTick, r.joins, r.leaves, r.admin, r.total.Delivered, r.total.Succeeded, r.total.Dropped, r.total.Failed)}
	for _, group := range []struct {
		label string
		m     map[string]*tally
	}{{"name", r.byName}, {"action", r.byAction}} {
		keys := make([]string, 0, len(group.m))
		for k := range group.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t := group.m[k]
			out = append(out, fmt.Sprintf("%s=%s delivered=%d succeeded=%d dropped=%d failed=%d",
				group.label, k, t.Delivered, t.Succeeded, t.Dropped, t.Failed))
		}
	}
	return out
}
