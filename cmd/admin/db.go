package main

import (
	"database/sql"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"multiblock.ai/internal/persistence/indexdb"
)

func newDBCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	open := func() (*sql.DB, error) {
		path := strings.TrimSpace(dbPath)
		if path == "" {
			path = indexdb.DefaultPath(dataDir, worldID)
		}
		return sql.Open("sqlite", path)
	}

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Query the world index db",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite db path (default: <data>/worlds/<world>/index/world.sqlite)")
	cmd.PersistentFlags().IntVar(&limit, "limit", 20, "result limit")

	var controller uint64
	events := &cobra.Command{
		Use:   "events",
		Short: "Recent structure events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			rows, err := indexdb.QueryEvents(cmd.Context(), db, controller, limit)
			if err != nil {
				return err
			}
			for _, r := range rows {
				printJSON(cmd, r)
			}
			return nil
		},
	}
	events.Flags().Uint64Var(&controller, "controller", 0, "controller id (0 = all)")

	var pos string
	edits := &cobra.Command{
		Use:   "edits",
		Short: "Edits applied or rejected at one cell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseVec3(pos)
			if err != nil {
				return err
			}
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			rows, err := indexdb.QueryEditsAt(cmd.Context(), db, p, limit)
			if err != nil {
				return err
			}
			for _, r := range rows {
				printJSON(cmd, r)
			}
			return nil
		},
	}
	edits.Flags().StringVar(&pos, "pos", "", "cell as x,y,z")
	_ = edits.MarkFlagRequired("pos")

	snapshots := &cobra.Command{
		Use:   "snapshots",
		Short: "Indexed snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			rows, err := indexdb.QuerySnapshots(cmd.Context(), db, limit)
			if err != nil {
				return err
			}
			for _, r := range rows {
				printJSON(cmd, r)
			}
			return nil
		},
	}

	var artifact string
	uploads := &cobra.Command{
		Use:   "uploads",
		Short: "Objects the mirror stored, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()
			rows, err := indexdb.QueryUploads(cmd.Context(), db, artifact, limit)
			if err != nil {
				return err
			}
			for _, r := range rows {
				printJSON(cmd, r)
			}
			return nil
		},
	}
	uploads.Flags().StringVar(&artifact, "artifact", "", "snapshot, archive, archive_meta or ticklog (default: all)")

	cmd.AddCommand(events, edits, snapshots, uploads)
	return cmd
}
