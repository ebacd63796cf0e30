package main

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"multiblock.ai/internal/persistence/snapshot"
)

func TestSnapshotWriter_WritesArchivesAndPrunes(t *testing.T) {
	worldDir := filepath.Join(t.TempDir(), "worlds", "w1")
	sw := &snapshotWriter{
		worldDir:     worldDir,
		keep:         2,
		archiveEvery: 20,
		logger:       log.New(io.Discard, "", 0),
	}

	var paths []string
	for _, tick := range []uint64{10, 20, 30} {
		p, err := sw.handle(snapshot.SnapshotV1{
			Header:    snapshot.Header{Version: snapshot.Version, WorldID: "w1", Tick: tick},
			TickRate:  5,
			ChunkSize: 16,
		})
		if err != nil {
			t.Fatalf("handle tick=%d: %v", tick, err)
		}
		paths = append(paths, p)
	}

	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Fatalf("oldest snapshot should be pruned")
	}
	if got := latestSnapshot(worldDir); got != paths[2] {
		t.Fatalf("latestSnapshot=%q want %q", got, paths[2])
	}
	archived := filepath.Join(worldDir, "archives", "tick_000000000020", "20.snap.zst")
	if _, err := os.Stat(archived); err != nil {
		t.Fatalf("archived snapshot missing: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(paths[2])
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if snap.Header.Tick != 30 || snap.Header.WorldID != "w1" {
		t.Fatalf("header=%+v", snap.Header)
	}
}

func TestLatestSnapshot_EmptyDir(t *testing.T) {
	if got := latestSnapshot(t.TempDir()); got != "" {
		t.Fatalf("latestSnapshot=%q want empty", got)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	if !isLoopbackRemote("127.0.0.1:1") || isLoopbackRemote("192.168.1.2:1") {
		t.Fatalf("loopback detection mismatch")
	}
}
