package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"robominions.dev/internal/persistence/snapshot"
	"robominions.dev/internal/sim/actions"
	"robominions.dev/internal/sim/identity"
	"robominions.dev/internal/sim/tuning"
	"robominions.dev/internal/sim/world"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: world.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(world.TickLogEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropTickTotal != 1 {
		t.Fatalf("DropTickTotal=%d want=1", st.DropTickTotal)
	}
	if st.DropSnapshotTotal != 1 {
		t.Fatalf("DropSnapshotTotal=%d want=1", st.DropSnapshotTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_AccountsAreStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	ctx := context.Background()

	idx, err := OpenSQLite(path, 16)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a1, err := idx.AccountID(ctx, "Alice")
	if err != nil {
		t.Fatalf("AccountID: %v", err)
	}
	a2, _ := idx.AccountID(ctx, "alice ")
	if a1 != a2 || a1 == identity.Nil {
		t.Fatalf("same name should map to one id: %s vs %s", a1, a2)
	}
	b, _ := idx.AccountID(ctx, "bob")
	if b == a1 {
		t.Fatalf("distinct names share an id")
	}
	if _, err := idx.AccountID(ctx, "  "); err == nil {
		t.Fatalf("empty name should fail")
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := idx.AccountID(ctx, "carol"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	idx2, err := OpenSQLite(path, 16)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()
	again, err := idx2.AccountID(ctx, "alice")
	if err != nil || again != a1 {
		t.Fatalf("id not persisted: %s vs %s (%v)", again, a1, err)
	}
}

func TestSQLiteIndex_WritesActions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(path, 16)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	alice := identity.FromName("alice")
	_ = idx.WriteTick(world.TickLogEntry{
		Tick: 8,
		Outcomes: []actions.Outcome{
			{Name: "alice", Identity: alice, Key: 1, Action: "MOVE", Status: "DELIVERED", Success: true},
			{Name: "bob", Key: 2, Action: "PLACE", Status: "DROPPED"},
		},
	})
	idx.RecordSnapshot("/data/8.snap.zst", snapshot.SnapshotV1{Header: snapshot.Header{Tick: 8}, Robots: make([]snapshot.RobotV1, 2)})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM actions WHERE tick=8`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("actions rows=%d err=%v", n, err)
	}
	var state string
	var success bool
	if err := db.QueryRow(`SELECT state, success FROM actions WHERE name='bob'`).Scan(&state, &success); err != nil {
		t.Fatal(err)
	}
	if state != "DROPPED" || success {
		t.Fatalf("bob row: state=%s success=%v", state, success)
	}
	var ident string
	if err := db.QueryRow(`SELECT identity FROM actions WHERE name='alice'`).Scan(&ident); err != nil || ident != alice.String() {
		t.Fatalf("alice identity=%q err=%v", ident, err)
	}
	var robots int
	if err := db.QueryRow(`SELECT robots FROM snapshots WHERE tick=8`).Scan(&robots); err != nil || robots != 2 {
		t.Fatalf("snapshot robots=%d err=%v", robots, err)
	}
	var digest string
	if err := db.QueryRow(`SELECT digest FROM config WHERE name='tuning'`).Scan(&digest); err != nil || len(digest) != 64 {
		t.Fatalf("tuning digest=%q err=%v", digest, err)
	}
}
