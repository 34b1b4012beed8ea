package main

import (
	"context"
	"database/sql"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"robominions.dev/internal/persistence/indexdb"
	"robominions.dev/internal/persistence/snapshot"
	"robominions.dev/internal/sim/actions"
	"robominions.dev/internal/sim/identity"
	"robominions.dev/internal/sim/world"
)

func TestDBQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := indexdb.OpenSQLite(path, 64)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	alice, err := idx.AccountID(context.Background(), "alice")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	_ = idx.WriteTick(world.TickLogEntry{
		Tick: 4,
		Outcomes: []actions.Outcome{
			{Name: "alice", Identity: alice, Key: 1, Action: "MOVE", Status: "DELIVERED", Success: true},
			{Name: "alice", Identity: alice, Key: 2, Action: "TURN", Status: "DELIVERED"},
			{Name: "bob", Key: 3, Action: "MINE", Status: "DROPPED"},
		},
	})
	idx.RecordSnapshot("/data/4.snap.zst", snapshot.SnapshotV1{Header: snapshot.Header{Tick: 4}})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	accounts, err := queryAccounts(db, 10)
	if err != nil || len(accounts) != 1 || accounts[0].(accountRow).ID != alice.String() {
		t.Fatalf("accounts = %+v err=%v", accounts, err)
	}

	rows, err := queryActions(db, "alice", "", 10)
	if err != nil || len(rows) != 2 {
		t.Fatalf("alice actions = %+v err=%v", rows, err)
	}
	if first := rows[0].(actionRow); first.Key != 2 || first.Kind != "TURN" {
		t.Fatalf("newest first: %+v", first)
	}
	rows, err = queryActions(db, "", "dropped", 10)
	if err != nil || len(rows) != 1 || rows[0].(actionRow).Name != "bob" {
		t.Fatalf("dropped actions = %+v err=%v", rows, err)
	}

	sum, err := queryActionSummary(db)
	if err != nil || len(sum) != 2 {
		t.Fatalf("summary = %+v err=%v", sum, err)
	}
	if a := sum[0].(summaryRow); a.Name != "alice" || a.Delivered != 2 || a.Succeeded != 1 {
		t.Fatalf("alice summary = %+v", a)
	}
	if b := sum[1].(summaryRow); b.Dropped != 1 {
		t.Fatalf("bob summary = %+v", b)
	}

	snaps, err := querySnapshots(db, 10)
	if err != nil || len(snaps) != 1 || snaps[0].(snapshotRow).Tick != 4 {
		t.Fatalf("snapshots = %+v err=%v", snaps, err)
	}
}

func TestBuildAdminRequest(t *testing.T) {
	method, path, body, err := buildAdminRequest("command", adminArgs{Name: "alice", Place: "north", Material: "stone"})
	if err != nil || method != http.MethodPost || path != "/admin/v1/robots/command" {
		t.Fatalf("command: %s %s %v", method, path, err)
	}
	action := body["action"].(map[string]string)
	if action["place_direction"] != "NORTH" || action["place_material"] != "STONE" || len(action) != 2 {
		t.Fatalf("action = %v", action)
	}

	_, _, body, err = buildAdminRequest("spawn", adminArgs{Name: "alice", Pos: "1, 33 ,-2"})
	if err != nil || body["pos"] != [3]int{1, 33, -2} {
		t.Fatalf("spawn body = %v err=%v", body, err)
	}

	for _, tc := range []struct {
		cmd string
		a   adminArgs
	}{
		{"spawn", adminArgs{}},
		{"command", adminArgs{Name: "alice"}},
		{"drop", adminArgs{Pos: "1,2", Material: "STONE"}},
		{"drop", adminArgs{Pos: "1,2,3"}},
		{"bogus", adminArgs{Name: "x"}},
	} {
		if _, _, _, err := buildAdminRequest(tc.cmd, tc.a); err == nil {
			t.Fatalf("%s %+v: expected error", tc.cmd, tc.a)
		}
	}

	method, path, _, err = buildAdminRequest("robots", adminArgs{})
	if err != nil || method != http.MethodGet || path != "/admin/v1/robots" {
		t.Fatalf("robots: %s %s %v", method, path, err)
	}
}

func TestDescribeSnapshot(t *testing.T) {
	id := identity.FromName("alice").String()
	lines := describeSnapshot(snapshot.SnapshotV1{
		Header:     snapshot.Header{Version: 1, WorldID: "main", Tick: 99},
		Robots:     []snapshot.RobotV1{{Owner: id, Kind: "chicken", Pos: [3]int{1, 40, 2}, Facing: "NORTH", Inventory: map[string]int{"STONE": 2}}},
		Identities: []snapshot.IdentityV1{{Name: "alice", ID: id}},
	})
	if len(lines) != 2 || !strings.Contains(lines[0], "tick=99") {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[1], "name=alice") || !strings.Contains(lines[1], `{"STONE":2}`) {
		t.Fatalf("robot line = %q", lines[1])
	}
}
