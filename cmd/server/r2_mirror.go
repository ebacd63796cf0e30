package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"multiblock.ai/internal/persistence/indexdb"
	"multiblock.ai/internal/persistence/r2s3"
)

type mirrorRuntime struct {
	enabled bool
	mirror  *r2s3.Mirror
}

func buildMirrorRuntime(ctx context.Context, dataDir string, idx runtimeIndex, logger *log.Logger) (*mirrorRuntime, error) {
	if !envBool("MULTIBLOCK_S3_MIRROR", false) {
		return &mirrorRuntime{enabled: false}, nil
	}

	cfg, ok := r2s3.ConfigFromEnv()
	if !ok || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("MULTIBLOCK_S3_MIRROR=true but MULTIBLOCK_S3_ENDPOINT/BUCKET/ACCESS_KEY_ID/SECRET_ACCESS_KEY are not fully set")
	}
	client, err := r2s3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mirror := r2s3.NewMirror(
		client,
		dataDir,
		strings.TrimSpace(os.Getenv("MULTIBLOCK_S3_PREFIX")),
		envInt("MULTIBLOCK_S3_UPLOAD_WORKERS", 2),
		envInt("MULTIBLOCK_S3_QUEUE", 2048),
		time.Duration(envInt("MULTIBLOCK_S3_ENQUEUE_WAIT_MS", 25))*time.Millisecond,
		logger,
		r2s3.WithOnUploaded(uploadRecorder(idx)),
	)
	return &mirrorRuntime{enabled: true, mirror: mirror}, nil
}

// uploadRecorder writes finished uploads into the index so a bucket can be
// reconciled against the local data dir.
func uploadRecorder(idx runtimeIndex) func(r2s3.Upload) {
	if idx == nil {
		return nil
	}
	return func(u r2s3.Upload) {
		idx.RecordUpload(indexdb.UploadRow{
			Key:          u.Key,
			Artifact:     string(u.Artifact.Kind),
			WorldID:      u.Artifact.WorldID,
			Tick:         u.Artifact.Tick,
			LocalPath:    u.Artifact.LocalPath,
			Bytes:        u.Size,
			UploadedUnix: u.At.Unix(),
		})
	}
}

func (r *mirrorRuntime) Close() {
	if r == nil || r.mirror == nil {
		return
	}
	r.mirror.Close()
}

func (r *mirrorRuntime) Enqueue(localPath string) {
	if r == nil || !r.enabled || r.mirror == nil {
		return
	}
	r.mirror.Enqueue(localPath)
}

func (r *mirrorRuntime) Stats() (r2s3.Stats, bool) {
	if r == nil || !r.enabled || r.mirror == nil {
		return r2s3.Stats{}, false
	}
	return r.mirror.Stats(), true
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
