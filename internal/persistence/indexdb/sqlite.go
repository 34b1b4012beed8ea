package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"robominions.dev/internal/persistence/snapshot"
	"robominions.dev/internal/sim/identity"
	"robominions.dev/internal/sim/tuning"
	"robominions.dev/internal/sim/world"
)

// ErrClosed is returned by account allocation after Close.
var ErrClosed = errors.New("index closed")

const DefaultQueueSize = 65536

// SQLiteIndex is a read-model of the action stream plus the account table that
// maps player names to stable identities. Tick and snapshot writes are
// asynchronous and may be dropped; account inserts are not.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	mu       sync.Mutex
	accounts map[string]identity.ID

	dropTick     atomic.Uint64
	dropSnapshot atomic.Uint64
	writeErr     atomic.Uint64
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	WriteErrTotal     uint64 `json:"write_err_total"`
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
	reqAccount
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	snapshot snapshotRow
	account  accountRow
}

type snapshotRow struct {
	Tick       uint64
	Path       string
	Robots     int
	Identities int
	Blocks     int
}

type accountRow struct {
	Name string
	ID   identity.ID
	Done chan error
}

func OpenSQLite(path string, queueSize int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	accounts, err := loadAccounts(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:       db,
		ch:       make(chan req, queueSize),
		accounts: accounts,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS accounts (
			name TEXT PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			admin INTEGER NOT NULL,
			outcomes INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			identity TEXT NOT NULL,
			key INTEGER NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_name_tick ON actions(name, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_state ON actions(state, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			robots INTEGER NOT NULL,
			identities INTEGER NOT NULL,
			blocks INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`)
	return err
}

func loadAccounts(db *sql.DB) (map[string]identity.ID, error) {
	rows, err := db.Query(`SELECT name, id FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()
	out := map[string]identity.ID{}
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("load accounts: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("load accounts: %s: %w", name, err)
		}
		out[name] = id
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		WriteErrTotal:     s.writeErr.Load(),
	}
}

// AccountID returns the stable identity for name, allocating and persisting a new
// one on first sight. Names are matched case-insensitively.
func (s *SQLiteIndex) AccountID(ctx context.Context, name string) (identity.ID, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return identity.Nil, fmt.Errorf("account: empty name")
	}
	s.mu.Lock()
	if id, ok := s.accounts[key]; ok {
		s.mu.Unlock()
		return id, nil
	}
	if s.closed.Load() {
		s.mu.Unlock()
		return identity.Nil, ErrClosed
	}
	id := uuid.New()
	done := make(chan error, 1)
	// Hold the lock across the send so two connections for the same new name agree.
	select {
	case s.ch <- req{kind: reqAccount, account: accountRow{Name: key, ID: id, Done: done}}:
	case <-ctx.Done():
		s.mu.Unlock()
		return identity.Nil, ctx.Err()
	}
	s.accounts[key] = id
	s.mu.Unlock()

	select {
	case err := <-done:
		if err != nil {
			return identity.Nil, fmt.Errorf("account %s: %w", key, err)
		}
		return id, nil
	case <-ctx.Done():
		return identity.Nil, ctx.Err()
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:       snap.Header.Tick,
		Path:       path,
		Robots:     len(snap.Robots),
		Identities: len(snap.Identities),
		Blocks:     len(snap.Blocks),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertTuning stores the tuning values actually applied, as canonical JSON.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	_, err = s.db.Exec(`INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", hex.EncodeToString(sum[:]), string(b), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,joins,leaves,admin,outcomes,raw_json) VALUES(?,?,?,?,?,?)`)
	insertAction, _ := s.db.Prepare(`INSERT OR REPLACE INTO actions(tick,seq,name,identity,key,kind,state,success,error) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,robots,identities,blocks) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertAction, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		if err != nil {
			s.writeErr.Add(1)
		}
		return err
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		s.writeErr.Add(1)
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			_ = commit()
		}
	}

	flush := time.NewTicker(commitMaxWait)
	defer flush.Stop()

	handle := func(r req) {
		if r.kind == reqAccount {
			// Accounts are durable before the caller proceeds: flush pending
			// batched work, then write outside the batch.
			_ = commit()
			_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO accounts(name,id,created_at) VALUES(?,?,?)`,
				r.account.Name, r.account.ID.String(), time.Now().UTC().Format(time.RFC3339Nano))
			if err != nil {
				s.writeErr.Add(1)
			}
			r.account.Done <- err
			return
		}

		begin()
		if tx == nil {
			return
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			b, _ := json.Marshal(e)
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(int64(e.Tick), len(e.Joins), len(e.Leaves), len(e.Admin), len(e.Outcomes), string(b)); err != nil {
					rollback()
					return
				}
				opCount++
			}
			for i, o := range e.Outcomes {
				if insertAction == nil {
					break
				}
				if _, err := tx.Stmt(insertAction).Exec(
					int64(e.Tick),
					i,
					o.Name,
					o.Identity.String(),
					int64(o.Key),
					o.Action,
					o.Status,
					o.Success,
					o.Error,
				); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(int64(sn.Tick), sn.Path, sn.Robots, sn.Identities, sn.Blocks); err != nil {
					rollback()
					return
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				_ = commit()
				return
			}
			handle(r)
		case <-flush.C:
			flushIfNeeded()
		}
	}
}
