package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	name := fs.String("name", "", "player name filter (actions)")
	state := fs.String("state", "", "state filter: delivered|dropped|failed (actions)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}

	var rows []any
	switch q {
	case "snapshots":
		rows, err = querySnapshots(db, *limit)
	case "accounts":
		rows, err = queryAccounts(db, *limit)
	case "actions":
		rows, err = queryActions(db, *name, *state, *limit)
	case "summary":
		rows, err = queryActionSummary(db)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(snapshots|accounts|actions|summary)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

type snapshotRow struct {
	Tick       uint64 `json:"tick"`
	Path       string `json:"path"`
	Robots     int    `json:"robots"`
	Identities int    `json:"identities"`
	Blocks     int    `json:"blocks"`
}

func querySnapshots(db *sql.DB, limit int) ([]any, error) {
	rows, err := db.Query(`SELECT tick,path,robots,identities,blocks FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var r snapshotRow
		if err := rows.Scan(&r.Tick, &r.Path, &r.Robots, &r.Identities, &r.Blocks); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type accountRow struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

func queryAccounts(db *sql.DB, limit int) ([]any, error) {
	rows, err := db.Query(`SELECT name,id,created_at FROM accounts ORDER BY name LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var r accountRow
		if err := rows.Scan(&r.Name, &r.ID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type actionRow struct {
	Tick     uint64 `json:"tick"`
	Seq      int    `json:"seq"`
	Name     string `json:"name"`
	Identity string `json:"identity,omitempty"`
	Key      uint64 `json:"key"`
	Kind     string `json:"kind"`
	State    string `json:"state"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// queryActions returns the newest actions first.
func queryActions(db *sql.DB, name, state string, limit int) ([]any, error) {
	where := []string{"1=1"}
	var args []any
	if name != "" {
		where = append(where, "name=?")
		args = append(args, name)
	}
	if state != "" {
		where = append(where, "state=?")
		args = append(args, strings.ToUpper(state))
	}
	args = append(args, limit)
	rows, err := db.Query(`SELECT tick,seq,name,identity,key,kind,state,success,COALESCE(error,'') FROM actions WHERE `+
		strings.Join(where, " AND ")+` ORDER BY tick DESC, seq DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var r actionRow
		var success int
		if err := rows.Scan(&r.Tick, &r.Seq, &r.Name, &r.Identity, &r.Key, &r.Kind, &r.State, &success, &r.Error); err != nil {
			return nil, err
		}
		r.Success = success != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

type summaryRow struct {
	Name      string `json:"name"`
	Delivered int    `json:"delivered"`
	Succeeded int    `json:"succeeded"`
	Dropped   int    `json:"dropped"`
	Failed    int    `json:"failed"`
}

func queryActionSummary(db *sql.DB) ([]any, error) {
	rows, err := db.Query(`SELECT name,
		SUM(CASE WHEN state='DELIVERED' THEN 1 ELSE 0 END),
		SUM(CASE WHEN state='DELIVERED' AND success=1 THEN 1 ELSE 0 END),
		SUM(CASE WHEN state='DROPPED' THEN 1 ELSE 0 END),
		SUM(CASE WHEN state='FAILED' THEN 1 ELSE 0 END)
		FROM actions GROUP BY name ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var r summaryRow
		if err := rows.Scan(&r.Name, &r.Delivered, &r.Succeeded, &r.Dropped, &r.Failed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
