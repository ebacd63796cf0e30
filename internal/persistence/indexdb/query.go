package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
)

// DefaultPath is where the server keeps a world's index.
func DefaultPath(dataDir, worldID string) string {
	return filepath.Join(dataDir, "worlds", worldID, "index", "world.sqlite")
}

type EventRow struct {
	Tick       uint64 `json:"tick"`
	Type       string `json:"type"`
	Controller uint64 `json:"controller"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	Parts      int    `json:"parts"`
	Reason     string `json:"reason,omitempty"`
	Other      uint64 `json:"other,omitempty"`
}

type SnapshotRow struct {
	Tick       uint64 `json:"tick"`
	Path       string `json:"path"`
	WorldID    string `json:"world_id"`
	Chunks     int    `json:"chunks"`
	Structures int    `json:"structures"`
}

// UploadRow is one object the mirror stored. Tick is zero for tick logs.
type UploadRow struct {
	Key          string `json:"key"`
	Artifact     string `json:"artifact"`
	WorldID      string `json:"world_id"`
	Tick         uint64 `json:"tick,omitempty"`
	LocalPath    string `json:"local_path"`
	Bytes        int64  `json:"bytes"`
	UploadedUnix int64  `json:"uploaded_unix"`
}

type EditRow struct {
	Tick     uint64 `json:"tick"`
	Op       string `json:"op"`
	Pos      [3]int `json:"pos"`
	Block    string `json:"block,omitempty"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// QueryEvents lists structure events newest first. controller 0 means all.
func QueryEvents(ctx context.Context, db *sql.DB, controller uint64, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT tick,type,controller,kind,state,parts,COALESCE(reason,''),other FROM structure_events`
	args := []any{}
	if controller != 0 {
		q += ` WHERE controller=?`
		args = append(args, int64(controller))
	}
	q += ` ORDER BY tick DESC, seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var r EventRow
		var tick, ctrl, other int64
		if err := rows.Scan(&tick, &r.Type, &ctrl, &r.Kind, &r.State, &r.Parts, &r.Reason, &other); err != nil {
			return nil, err
		}
		r.Tick, r.Controller, r.Other = uint64(tick), uint64(ctrl), uint64(other)
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryEditsAt lists edits that touched one cell, newest first.
func QueryEditsAt(ctx context.Context, db *sql.DB, pos [3]int, limit int) ([]EditRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx,
		`SELECT tick,op,COALESCE(block,''),accepted,COALESCE(reason,'') FROM edits WHERE x=? AND y=? AND z=? ORDER BY tick DESC, seq DESC LIMIT ?`,
		pos[0], pos[1], pos[2], limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EditRow
	for rows.Next() {
		r := EditRow{Pos: pos}
		var tick int64
		var accepted int
		if err := rows.Scan(&tick, &r.Op, &r.Block, &accepted, &r.Reason); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		r.Accepted = accepted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func QuerySnapshots(ctx context.Context, db *sql.DB, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT tick,path,world_id,chunks,structures FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		var tick int64
		if err := rows.Scan(&tick, &r.Path, &r.WorldID, &r.Chunks, &r.Structures); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryUploads lists mirrored objects, most recent first. An empty artifact
// lists every kind.
func QueryUploads(ctx context.Context, db *sql.DB, artifact string, limit int) ([]UploadRow, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT key,artifact,world_id,tick,local_path,bytes,uploaded_unix FROM mirror_uploads`
	args := []any{}
	if artifact != "" {
		q += ` WHERE artifact=?`
		args = append(args, artifact)
	}
	q += ` ORDER BY uploaded_unix DESC, key DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UploadRow
	for rows.Next() {
		var r UploadRow
		var tick int64
		if err := rows.Scan(&r.Key, &r.Artifact, &r.WorldID, &tick, &r.LocalPath, &r.Bytes, &r.UploadedUnix); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}
