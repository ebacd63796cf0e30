package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"multiblock.ai/internal/sim/world"
)

var (
	dataDir string
	worldID string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Offline and local inspection of multiblock worlds",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	root.PersistentFlags().StringVar(&worldID, "world", "world_1", "world id")

	worldsCmd := &cobra.Command{
		Use:   "worlds",
		Short: "List worlds in the data directory",
		Args:  cobra.NoArgs,
		RunE:  runWorlds,
	}

	var (
		controller uint64
		sinceTick  uint64
		toTick     uint64
	)
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Print structure lifecycle events from the JSONL logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			evs, err := readEvents(worldDir(), eventFilter{Controller: controller, Since: sinceTick, To: toTick})
			if err != nil {
				return err
			}
			for _, e := range evs {
				printJSON(cmd, e)
			}
			return nil
		},
	}
	eventsCmd.Flags().Uint64Var(&controller, "controller", 0, "only events of this controller (0 = all)")
	eventsCmd.Flags().Uint64Var(&sinceTick, "since", 0, "first tick (inclusive)")
	eventsCmd.Flags().Uint64Var(&toTick, "to", 0, "last tick (inclusive, 0 = no limit)")

	root.AddCommand(worldsCmd, eventsCmd, newSnapshotCmd(), newDBCmd(), newStateCmd())
	return root
}

func worldDir() string { return filepath.Join(dataDir, "worlds", worldID) }

func runWorlds(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(filepath.Join(dataDir, "worlds"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintln(cmd.OutOrStdout(), e.Name())
		}
	}
	return nil
}

type eventFilter struct {
	Controller uint64
	Since, To  uint64
}

// eventRow is one structure event flattened with its tick.
type eventRow struct {
	Tick uint64 `json:"tick"`
	world.StructureEvent
}

func readEvents(worldDir string, f eventFilter) ([]eventRow, error) {
	dir := filepath.Join(worldDir, "events")
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

	var out []eventRow
	for _, name := range names {
		path := filepath.Join(dir, name)
		rows, err := readEventFile(path, f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

func readEventFile(path string, f eventFilter) ([]eventRow, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	dec, err := zstd.NewReader(fh)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []eventRow
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e world.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		if e.Tick < f.Since || (f.To != 0 && e.Tick > f.To) {
			continue
		}
		for _, ev := range e.Events {
			if f.Controller != 0 && ev.Controller != f.Controller && ev.Other != f.Controller {
				continue
			}
			out = append(out, eventRow{Tick: e.Tick, StructureEvent: ev})
		}
	}
	return out, sc.Err()
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
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

func printJSON(cmd *cobra.Command, v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
