package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"multiblock.ai/internal/persistence/snapshot"
	"multiblock.ai/internal/sim/catalogs"
	"multiblock.ai/internal/sim/tuning"
	"multiblock.ai/internal/sim/world"
)

// SQLiteIndex is a secondary, queryable index of tick logs and snapshots.
// Writes are queued and applied by a single goroutine; the JSONL logs stay
// the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick      atomic.Uint64
	dropSnapshot  atomic.Uint64
	dropUpload    atomic.Uint64
	writeFailures atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
	reqUpload
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	snapshot snapshotRow
	upload   UploadRow
}

type snapshotRow struct {
	Tick       uint64
	Path       string
	WorldID    string
	Chunks     int
	Structures []snapshot.StructureV1
}

// Stats reports queue pressure of the writer goroutine.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	DropUploadTotal   uint64 `json:"drop_upload_total"`
	WriteFailTotal    uint64 `json:"write_fail_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			edits INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			events INTEGER NOT NULL,
			step_ms REAL NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS edits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			op TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			block TEXT,
			accepted INTEGER NOT NULL,
			reason TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_pos_tick ON edits(x, z, y, tick);`,
		`CREATE TABLE IF NOT EXISTS structure_events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			controller INTEGER NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			parts INTEGER NOT NULL,
			reason TEXT,
			other INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_structure_events_controller ON structure_events(controller, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			world_id TEXT NOT NULL,
			chunks INTEGER NOT NULL,
			structures INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshot_structures (
			tick INTEGER NOT NULL,
			id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			active INTEGER NOT NULL,
			parts INTEGER NOT NULL,
			ref_x INTEGER NOT NULL,
			ref_y INTEGER NOT NULL,
			ref_z INTEGER NOT NULL,
			PRIMARY KEY (tick, id)
		);`,
		`CREATE TABLE IF NOT EXISTS mirror_uploads (
			key TEXT PRIMARY KEY,
			artifact TEXT NOT NULL,
			world_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			local_path TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			uploaded_unix INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mirror_uploads_artifact ON mirror_uploads(artifact, uploaded_unix);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		DropUploadTotal:   s.dropUpload.Load(),
		WriteFailTotal:    s.writeFailures.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	if entry.Idle() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:       snap.Header.Tick,
		Path:       path,
		WorldID:    snap.Header.WorldID,
		Chunks:     len(snap.Chunks),
		Structures: snap.Structures,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// RecordUpload notes an object the mirror has stored.
func (s *SQLiteIndex) RecordUpload(u UploadRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqUpload, upload: u}:
	default:
		s.dropUpload.Add(1)
	}
}

// UpsertCatalogs stores the block catalog and applied tuning so an index can
// be interpreted without the config directory it was produced from.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "blocks.json")); err == nil {
			rows = append(rows, kv{name: "blocks_defs", digest: cats.Blocks.DefsDigest, json: b})
		}
	}
	if b, _ := json.Marshal(cats.Blocks.Palette); len(b) > 0 {
		rows = append(rows, kv{name: "blocks_palette", digest: cats.Blocks.PaletteDigest, json: b})
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,edits,rejected,events,step_ms,raw_json) VALUES(?,?,?,?,?,?)`)
	insertEdit, _ := s.db.Prepare(`INSERT OR REPLACE INTO edits(tick,seq,op,x,y,z,block,accepted,reason) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO structure_events(tick,seq,type,controller,kind,state,parts,reason,other) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,world_id,chunks,structures) VALUES(?,?,?,?,?)`)
	insertStructure, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshot_structures(tick,id,kind,state,active,parts,ref_x,ref_y,ref_z) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertUpload, _ := s.db.Prepare(`INSERT OR REPLACE INTO mirror_uploads(key,artifact,world_id,tick,local_path,bytes,uploaded_unix) VALUES(?,?,?,?,?,?,?)`)
	stmts := []*sql.Stmt{insertTick, insertEdit, insertEvent, insertSnapshot, insertStructure, insertUpload}
	defer func() {
		for _, st := range stmts {
			if st != nil {
				_ = st.Close()
			}
		}
	}()
	for _, st := range stmts {
		if st == nil {
			// Schema mismatch; drain so producers never block.
			for range s.ch {
				s.writeFailures.Add(1)
			}
			return
		}
	}

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFailures.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeFailures.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.writeFailures.Add(1)
			continue
		}
		switch r.kind {
		case reqTick:
			s.applyTick(r.tick, insertTick, insertEdit, insertEvent, exec)
		case reqSnapshot:
			sn := r.snapshot
			if !exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.WorldID, sn.Chunks, len(sn.Structures)) {
				continue
			}
			for _, st := range sn.Structures {
				if !exec(insertStructure,
					int64(sn.Tick), int64(st.ID), st.Kind, st.State, boolInt(st.Active), len(st.Parts),
					st.Ref[0], st.Ref[1], st.Ref[2],
				) {
					break
				}
			}
		case reqUpload:
			u := r.upload
			exec(insertUpload, u.Key, u.Artifact, u.WorldID, int64(u.Tick), u.LocalPath, u.Bytes, u.UploadedUnix)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func (s *SQLiteIndex) applyTick(e world.TickLogEntry, insertTick, insertEdit, insertEvent *sql.Stmt, exec func(*sql.Stmt, ...any) bool) {
	raw, _ := json.Marshal(e)
	tick := int64(e.Tick)
	if !exec(insertTick, tick, len(e.Edits), len(e.Rejected), len(e.Events), e.StepMS, string(raw)) {
		return
	}
	seq := 0
	for _, ed := range e.Edits {
		if !exec(insertEdit, tick, seq, ed.Op, ed.Pos[0], ed.Pos[1], ed.Pos[2], ed.Block, 1, ed.Reason) {
			return
		}
		seq++
	}
	for _, ed := range e.Rejected {
		if !exec(insertEdit, tick, seq, ed.Op, ed.Pos[0], ed.Pos[1], ed.Pos[2], ed.Block, 0, ed.Reason) {
			return
		}
		seq++
	}
	for i, ev := range e.Events {
		if !exec(insertEvent, tick, i, ev.Type, int64(ev.Controller), ev.Kind, ev.State, ev.Parts, ev.Reason, int64(ev.Other)) {
			return
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
