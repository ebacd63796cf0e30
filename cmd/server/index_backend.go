package main

import (
	"fmt"
	"os"
	"strings"

	"multiblock.ai/internal/persistence/indexdb"
	"multiblock.ai/internal/persistence/snapshot"
	"multiblock.ai/internal/sim/catalogs"
	"multiblock.ai/internal/sim/tuning"
	"multiblock.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	Close() error
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordUpload(u indexdb.UploadRow)
	Stats() indexdb.Stats
}

func openRuntimeIndex(dataDir, worldID string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("MULTIBLOCK_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(indexdb.DefaultPath(dataDir, worldID))
	default:
		return nil, fmt.Errorf("unsupported MULTIBLOCK_INDEX_BACKEND: %s", backend)
	}
}
