package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"multiblock.ai/internal/persistence/snapshot"
	"multiblock.ai/internal/sim/multiblock/codec"
)

type structureSummary struct {
	ID     uint64         `json:"id"`
	Kind   string         `json:"kind"`
	State  string         `json:"state"`
	Active bool           `json:"active"`
	Ref    [3]int         `json:"ref"`
	Parts  int            `json:"parts"`
	Record map[string]any `json:"record,omitempty"`
}

type snapshotSummary struct {
	Header        snapshot.Header    `json:"header"`
	TickRate      int                `json:"tick_rate_hz"`
	ChunkSize     int                `json:"chunk_size"`
	PaletteDigest string             `json:"palette_digest"`
	Chunks        int                `json:"chunks"`
	Structures    []structureSummary `json:"structures"`
}

func summarizeSnapshot(snap snapshot.SnapshotV1) (snapshotSummary, error) {
	s := snapshotSummary{
		Header:        snap.Header,
		TickRate:      snap.TickRate,
		ChunkSize:     snap.ChunkSize,
		PaletteDigest: snap.PaletteDigest,
		Chunks:        len(snap.Chunks),
	}
	for _, st := range snap.Structures {
		rec, err := codec.DecodeRecord(st.Record)
		if err != nil {
			return s, fmt.Errorf("structure %d record: %w", st.ID, err)
		}
		s.Structures = append(s.Structures, structureSummary{
			ID:     st.ID,
			Kind:   st.Kind,
			State:  st.State,
			Active: st.Active,
			Ref:    st.Ref,
			Parts:  len(st.Parts),
			Record: rec,
		})
	}
	sort.Slice(s.Structures, func(i, j int) bool { return s.Structures[i].ID < s.Structures[j].ID })
	return s, nil
}

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect or request world snapshots",
	}
	inspect := &cobra.Command{
		Use:   "inspect [path]",
		Short: "Summarize a snapshot file (defaults to the latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := latestSnapshot(worldDir())
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no snapshot found in %s", worldDir())
			}
			snap, err := snapshot.ReadSnapshot(path)
			if err != nil {
				return err
			}
			sum, err := summarizeSnapshot(snap)
			if err != nil {
				return err
			}
			printJSON(cmd, sum)
			return nil
		},
	}
	cmd.AddCommand(inspect, newSnapshotTakeCmd())
	return cmd
}
