package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"multiblock.ai/internal/persistence/snapshot"
)

type ArchiveMeta struct {
	Tick          uint64         `json:"tick"`
	WorldID       string         `json:"world_id"`
	Snapshot      string         `json:"snapshot"`
	CreatedAt     string         `json:"created_at"`
	PaletteDigest string         `json:"palette_digest"`
	Chunks        int            `json:"chunks"`
	Structures    map[string]int `json:"structures_by_state"`
}

// ArchiveSnapshot copies a snapshot into `worldDir/archives/tick_<N>/` when
// its tick falls on an archive boundary. Archived snapshots are never pruned.
func ArchiveSnapshot(worldDir, snapshotPath string, snap snapshot.SnapshotV1, everyTicks int) (archivedPath string, archived bool, err error) {
	if everyTicks <= 0 {
		return "", false, nil
	}
	if snap.Header.Tick == 0 || snap.Header.Tick%uint64(everyTicks) != 0 {
		return "", false, nil
	}

	archiveDir := filepath.Join(worldDir, "archives", fmt.Sprintf("tick_%012d", snap.Header.Tick))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := ArchiveMeta{
		Tick:          snap.Header.Tick,
		WorldID:       snap.Header.WorldID,
		Snapshot:      filepath.Base(dst),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		PaletteDigest: snap.PaletteDigest,
		Chunks:        len(snap.Chunks),
		Structures:    map[string]int{},
	}
	for _, s := range snap.Structures {
		meta.Structures[s.State]++
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, true, nil
}

// PruneSnapshots deletes all but the newest keep snapshots in snapDir and
// returns the removed paths.
func PruneSnapshots(snapDir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	ents, err := os.ReadDir(snapDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type snapFile struct {
		tick uint64
		path string
	}
	var files []snapFile
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, snapFile{tick: tick, path: filepath.Join(snapDir, name)})
	}
	if len(files) <= keep {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].tick > files[j].tick })

	var removed []string
	for _, f := range files[keep:] {
		if err := os.Remove(f.path); err != nil {
			return removed, err
		}
		removed = append(removed, f.path)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
