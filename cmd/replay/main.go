package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"multiblock.ai/internal/persistence/snapshot"
	"multiblock.ai/internal/sim/catalogs"
	"multiblock.ai/internal/sim/multiblock/tank"
	"multiblock.ai/internal/sim/tuning"
	"multiblock.ai/internal/sim/world"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst to start from (optional; empty world when unset)")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		worldID    = flag.String("world", "world_1", "world id (ignored when -snapshot is set)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *eventsDir == "" {
		fmt.Fprintln(os.Stderr, "missing -events")
		os.Exit(2)
	}
	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tp := *tuningPath
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}

	var snap *snapshot.SnapshotV1
	if *snapPath != "" {
		s, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d world=%s tick=%d chunks=%d structures=%d\n",
			s.Header.Version, s.Header.WorldID, s.Header.Tick, len(s.Chunks), len(s.Structures))
		snap = &s
	}

	w, err := newReplayWorld(*worldID, cats, tune, snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "world:", err)
		os.Exit(1)
	}

	files, err := listEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	r := &replayer{w: w, checkEvents: snap == nil, toTick: *toTick}
	for _, path := range files {
		if err := r.replayFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		if r.done {
			break
		}
	}
	fmt.Printf("replay ok: checked=%d ticks stepped=%d events_checked=%t\n", r.checked, r.stepped, r.checkEvents)
}

// newReplayWorld builds a world that steps like the server did. Controller
// ids are reassigned when structures re-form from a snapshot, so replays that
// start from one only verify edit outcomes.
func newReplayWorld(id string, cats *catalogs.Catalogs, tune tuning.Tuning, snap *snapshot.SnapshotV1) (*world.World, error) {
	quiet := log.New(io.Discard, "", 0)
	if snap != nil && snap.Header.WorldID != "" {
		id = snap.Header.WorldID
	}
	cfg := world.ConfigFromTuning(id, tune)
	cfg.SnapshotEveryTicks = 0
	if snap != nil {
		cfg.ChunkSize = snap.ChunkSize
	}
	w, err := world.New(cfg, cats, world.WithLogger(quiet), world.WithKind(tank.New(cfg.Tank, tank.WithLogger(quiet))))
	if err != nil {
		return nil, err
	}
	if snap != nil {
		if err := w.ImportSnapshot(*snap); err != nil {
			return nil, fmt.Errorf("import snapshot: %w", err)
		}
	}
	return w, nil
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

type replayer struct {
	w           *world.World
	checkEvents bool
	toTick      uint64

	checked uint64
	stepped uint64
	done    bool
}

func (r *replayer) replayFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var entry world.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := r.apply(entry); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if r.done {
			return nil
		}
	}
	return sc.Err()
}

func (r *replayer) apply(entry world.TickLogEntry) error {
	if entry.Tick < r.w.CurrentTick() {
		return nil
	}
	if r.toTick != 0 && entry.Tick > r.toTick {
		r.done = true
		return nil
	}
	// Idle ticks are not logged; step through them.
	for r.w.CurrentTick() < entry.Tick {
		got, _ := r.w.StepOnce(nil, nil)
		r.stepped++
		if len(got.Events) > 0 && r.checkEvents {
			return fmt.Errorf("tick %d: unlogged events %+v", got.Tick, got.Events)
		}
	}

	edits, regions := entry.Inputs()
	got, _ := r.w.StepOnce(edits, regions)
	r.stepped++
	if got.Tick != entry.Tick {
		return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", got.Tick, entry.Tick)
	}
	r.checked++
	if !reflect.DeepEqual(got.Edits, entry.Edits) || !reflect.DeepEqual(got.Rejected, entry.Rejected) {
		return fmt.Errorf("edit outcome mismatch at tick %d: got=%+v/%+v want=%+v/%+v", got.Tick, got.Edits, got.Rejected, entry.Edits, entry.Rejected)
	}
	if r.checkEvents && !reflect.DeepEqual(got.Events, entry.Events) {
		return fmt.Errorf("event mismatch at tick %d: got=%+v want=%+v", got.Tick, got.Events, entry.Events)
	}
	return nil
}
