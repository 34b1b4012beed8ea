package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"robominions.dev/internal/persistence/indexdb"
	"robominions.dev/internal/persistence/snapshot"
	"robominions.dev/internal/sim/tuning"
	"robominions.dev/internal/sim/world"
	"robominions.dev/internal/transport/ws"
)

type runtimeIndex interface {
	world.TickLogger
	ws.AccountStore
	Close() error
	Stats() indexdb.Stats
	UpsertTuning(tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("RM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		return indexdb.OpenSQLite(dbPath, envInt("RM_INDEX_QUEUE", indexdb.DefaultQueueSize))
	default:
		return nil, fmt.Errorf("unsupported RM_INDEX_BACKEND: %s", backend)
	}
}
