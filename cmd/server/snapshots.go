package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"multiblock.ai/internal/persistence/archive"
	"multiblock.ai/internal/persistence/snapshot"
)

// snapshotWriter persists snapshots emitted by the world loop, then fans the
// file out to the index, the archive and the mirror.
type snapshotWriter struct {
	worldDir     string
	keep         int
	archiveEvery int
	idx          runtimeIndex
	mirror       *mirrorRuntime
	logger       *log.Logger
}

func (sw *snapshotWriter) run(ctx context.Context, ch <-chan snapshot.SnapshotV1) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			if _, err := sw.handle(snap); err != nil {
				sw.logger.Printf("snapshot tick=%d: %v", snap.Header.Tick, err)
			}
		}
	}
}

func (sw *snapshotWriter) handle(snap snapshot.SnapshotV1) (string, error) {
	path := filepath.Join(sw.worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	sw.mirror.Enqueue(path)
	if sw.idx != nil {
		sw.idx.RecordSnapshot(path, snap)
	}

	if archivedPath, ok, err := archive.ArchiveSnapshot(sw.worldDir, path, snap, sw.archiveEvery); err != nil {
		sw.logger.Printf("archive snapshot: %v", err)
	} else if ok {
		sw.mirror.Enqueue(archivedPath)
		enqueueIfExists(sw.mirror, filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	}

	removed, err := archive.PruneSnapshots(filepath.Dir(path), sw.keep)
	if err != nil {
		sw.logger.Printf("prune snapshots: %v", err)
	}
	for _, p := range removed {
		sw.logger.Printf("pruned snapshot %s", filepath.Base(p))
	}
	return path, nil
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

func enqueueIfExists(m *mirrorRuntime, path string) {
	if m == nil || !m.enabled {
		return
	}
	if _, err := os.Stat(path); err == nil {
		m.Enqueue(path)
	}
}
