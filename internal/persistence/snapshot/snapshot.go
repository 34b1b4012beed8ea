package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate      int `json:"tick_rate_hz"`
	BoundaryR     int `json:"boundary_r"`
	Height        int `json:"height"`
	GroundY       int `json:"ground_y"`
	ExecutorEvery int `json:"executor_every_ticks"`
	FlyingEvery   int `json:"flying_tick_every_ticks"`

	Robots     []RobotV1    `json:"robots"`
	Identities []IdentityV1 `json:"identities"`
	Blocks     []BlockV1    `json:"blocks"`

	Counters CountersV1 `json:"counters"`
}

type RobotV1 struct {
	Owner     string         `json:"owner"`
	Kind      string         `json:"kind"`
	Pos       [3]int         `json:"pos"`
	Facing    string         `json:"facing"`
	Inventory map[string]int `json:"inventory"`
}

// IdentityV1 is one name -> identity cache entry.
type IdentityV1 struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// BlockV1 is a block that differs from generated terrain.
type BlockV1 struct {
	Pos      [3]int `json:"pos"`
	Material string `json:"material"`
}

type CountersV1 struct {
	Executed  uint64 `json:"executed"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Spawned   uint64 `json:"spawned"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, snap SnapshotV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is for tools that only want the tick; gob repeats it.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
