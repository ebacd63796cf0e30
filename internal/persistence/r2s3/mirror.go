package r2s3

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ArtifactKind names the world files the mirror knows how to key.
type ArtifactKind string

const (
	ArtifactSnapshot    ArtifactKind = "snapshot"
	ArtifactArchive     ArtifactKind = "archive"
	ArtifactArchiveMeta ArtifactKind = "archive_meta"
	ArtifactTickLog     ArtifactKind = "ticklog"
)

// Artifact is a local world file classified by its place in the data dir.
type Artifact struct {
	Kind      ArtifactKind
	WorldID   string
	LocalPath string
	// Tick is set for snapshots and archives.
	Tick uint64
	// Hour is the log rotation stamp of a tick log.
	Hour string
}

// Object is one upload: the key, the body on disk and the headers.
type Object struct {
	Key             string
	LocalPath       string
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

// Upload reports a finished upload.
type Upload struct {
	Artifact Artifact
	Key      string
	Size     int64
	At       time.Time
}

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	SkippedTotal        uint64
	UploadSuccessTotal  uint64
	UploadFailTotal     uint64
	SnapshotsUploaded   uint64
	TickLogsUploaded    uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

// Uploader stores an object.
type Uploader interface {
	PutObject(ctx context.Context, obj Object) error
}

type MirrorOption func(*Mirror)

// WithOnUploaded registers fn for every successful upload. fn runs on a
// worker goroutine.
func WithOnUploaded(fn func(Upload)) MirrorOption {
	return func(m *Mirror) { m.onUploaded = fn }
}

// Mirror copies snapshots, archives and closed tick logs to object storage
// in the background. Files outside the world layout are skipped.
type Mirror struct {
	client     Uploader
	dataDir    string
	prefix     string
	logger     *log.Logger
	onUploaded func(Upload)

	jobs        chan string
	enqueueWait time.Duration
	backoff     time.Duration
	wg          sync.WaitGroup

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	skippedTotal        atomic.Uint64
	uploadSuccessTotal  atomic.Uint64
	uploadFailTotal     atomic.Uint64
	snapshotsUploaded   atomic.Uint64
	tickLogsUploaded    atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func NewMirror(client Uploader, dataDir, prefix string, workers, queueCapacity int, enqueueWait time.Duration, logger *log.Logger, opts ...MirrorOption) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 2048
	}
	if enqueueWait <= 0 {
		enqueueWait = 25 * time.Millisecond
	}
	m := &Mirror{
		client:      client,
		dataDir:     dataDir,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:      logger,
		jobs:        make(chan string, queueCapacity),
		enqueueWait: enqueueWait,
		backoff:     200 * time.Millisecond,
	}
	for _, o := range opts {
		o(m)
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.uploadOne(localPath)
			}
		}()
	}
	return m
}

// Enqueue schedules an upload. It waits at most enqueueWait for queue space
// and then drops the job.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueuedTotal.Add(1)

	select {
	case m.jobs <- localPath:
		return
	default:
	}

	m.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
		return
	case <-timer.C:
		dropped := m.droppedTotal.Add(1)
		m.printf("mirror drop local=%s reason=queue_saturated wait_ms=%d dropped_total=%d", localPath, m.enqueueWait.Milliseconds(), dropped)
	}
}

func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(m.jobs),
		QueueCapacity:       cap(m.jobs),
		EnqueuedTotal:       m.enqueuedTotal.Load(),
		QueueSaturatedTotal: m.queueSaturatedTotal.Load(),
		DroppedTotal:        m.droppedTotal.Load(),
		SkippedTotal:        m.skippedTotal.Load(),
		UploadSuccessTotal:  m.uploadSuccessTotal.Load(),
		UploadFailTotal:     m.uploadFailTotal.Load(),
		SnapshotsUploaded:   m.snapshotsUploaded.Load(),
		TickLogsUploaded:    m.tickLogsUploaded.Load(),
		LastSuccessUnix:     m.lastSuccessUnix.Load(),
		LastErrorUnix:       m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	art, err := m.classify(localPath)
	if err != nil {
		m.skippedTotal.Add(1)
		m.printf("mirror skip local=%s err=%v", localPath, err)
		return
	}
	st, err := os.Stat(localPath)
	if err != nil {
		m.skippedTotal.Add(1)
		m.printf("mirror skip local=%s err=%v", localPath, err)
		return
	}
	obj := m.objectFor(art)

	if err := m.uploadWithRetry(obj); err != nil {
		m.uploadFailTotal.Add(1)
		m.lastErrorUnix.Store(time.Now().UTC().Unix())
		m.printf("mirror upload failed kind=%s key=%s err=%v", art.Kind, obj.Key, err)
		return
	}
	now := time.Now().UTC()
	m.uploadSuccessTotal.Add(1)
	m.lastSuccessUnix.Store(now.Unix())
	switch art.Kind {
	case ArtifactSnapshot, ArtifactArchive:
		m.snapshotsUploaded.Add(1)
	case ArtifactTickLog:
		m.tickLogsUploaded.Add(1)
	}
	m.printf("mirror uploaded kind=%s world=%s key=%s bytes=%d", art.Kind, art.WorldID, obj.Key, st.Size())
	if m.onUploaded != nil {
		m.onUploaded(Upload{Artifact: art, Key: obj.Key, Size: st.Size(), At: now})
	}
}

func (m *Mirror) uploadWithRetry(obj Object) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.client.PutObject(ctx, obj)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	return lastErr
}

// classify maps a path under dataDir onto the world layout:
//
//	worlds/<id>/snapshots/<tick>.snap.zst
//	worlds/<id>/archives/tick_<n>/<tick>.snap.zst
//	worlds/<id>/archives/tick_<n>/meta.json
//	worlds/<id>/events/events-<hour>.jsonl.zst
func (m *Mirror) classify(localPath string) (Artifact, error) {
	if localPath == "" {
		return Artifact{}, fmt.Errorf("empty local path")
	}
	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return Artifact{}, err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return Artifact{}, err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return Artifact{}, err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return Artifact{}, fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}
	return ClassifyPath(rel, localPath)
}

// ClassifyPath classifies rel, a slash-separated path relative to the data
// dir.
func ClassifyPath(rel, localPath string) (Artifact, error) {
	seg := strings.Split(rel, "/")
	if len(seg) < 4 || seg[0] != "worlds" || seg[1] == "" {
		return Artifact{}, fmt.Errorf("not a world artifact: %s", rel)
	}
	art := Artifact{WorldID: seg[1], LocalPath: localPath}
	name := seg[len(seg)-1]
	switch {
	case len(seg) == 4 && seg[2] == "snapshots" && strings.HasSuffix(name, ".snap.zst"):
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			return Artifact{}, fmt.Errorf("snapshot name %s: %w", name, err)
		}
		art.Kind, art.Tick = ArtifactSnapshot, tick
	case len(seg) == 5 && seg[2] == "archives" && strings.HasPrefix(seg[3], "tick_"):
		tick, err := strconv.ParseUint(strings.TrimPrefix(seg[3], "tick_"), 10, 64)
		if err != nil {
			return Artifact{}, fmt.Errorf("archive dir %s: %w", seg[3], err)
		}
		art.Tick = tick
		switch {
		case name == "meta.json":
			art.Kind = ArtifactArchiveMeta
		case strings.HasSuffix(name, ".snap.zst"):
			art.Kind = ArtifactArchive
		default:
			return Artifact{}, fmt.Errorf("unknown archive file: %s", rel)
		}
	case len(seg) == 4 && seg[2] == "events" && strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst"):
		art.Kind = ArtifactTickLog
		art.Hour = strings.TrimSuffix(strings.TrimPrefix(name, "events-"), ".jsonl.zst")
	default:
		return Artifact{}, fmt.Errorf("not a world artifact: %s", rel)
	}
	return art, nil
}

// objectFor lays keys out per world and kind. Ticks are zero padded so a
// bucket listing sorts in tick order.
func (m *Mirror) objectFor(a Artifact) Object {
	meta := map[string]string{
		"world":    a.WorldID,
		"artifact": string(a.Kind),
	}
	obj := Object{LocalPath: a.LocalPath, Metadata: meta}
	var key string
	switch a.Kind {
	case ArtifactSnapshot:
		key = fmt.Sprintf("%s/snapshots/%020d.snap.zst", a.WorldID, a.Tick)
		obj.ContentType = "application/vnd.multiblock.snapshot+zstd"
		meta["tick"] = strconv.FormatUint(a.Tick, 10)
	case ArtifactArchive:
		key = fmt.Sprintf("%s/archives/%020d.snap.zst", a.WorldID, a.Tick)
		obj.ContentType = "application/vnd.multiblock.snapshot+zstd"
		meta["tick"] = strconv.FormatUint(a.Tick, 10)
	case ArtifactArchiveMeta:
		key = fmt.Sprintf("%s/archives/%020d.meta.json", a.WorldID, a.Tick)
		obj.ContentType = "application/json"
		meta["tick"] = strconv.FormatUint(a.Tick, 10)
	case ArtifactTickLog:
		key = fmt.Sprintf("%s/ticklog/%s.jsonl.zst", a.WorldID, a.Hour)
		obj.ContentType = "application/x-ndjson"
		obj.ContentEncoding = "zstd"
		meta["hour"] = a.Hour
	}
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	obj.Key = key
	return obj
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
