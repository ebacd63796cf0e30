package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"multiblock.ai/internal/persistence/r2s3"
)

// registerRuntimeMetrics exposes mirror and index queue state as gauges read
// at scrape time.
func registerRuntimeMetrics(reg prometheus.Registerer, mirror *mirrorRuntime, idx runtimeIndex) {
	f := promauto.With(reg)
	if _, ok := mirror.Stats(); ok {
		mirrorGauge := func(name, help string, v func(r2s3.Stats) float64) {
			f.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
				s, _ := mirror.Stats()
				return v(s)
			})
		}
		mirrorGauge("multiblock_mirror_queue_depth", "Current object-store mirror queue depth.",
			func(s r2s3.Stats) float64 { return float64(s.QueueDepth) })
		mirrorGauge("multiblock_mirror_dropped_total", "Mirror files dropped because the queue stayed saturated.",
			func(s r2s3.Stats) float64 { return float64(s.DroppedTotal) })
		mirrorGauge("multiblock_mirror_upload_success_total", "Successful mirror uploads.",
			func(s r2s3.Stats) float64 { return float64(s.UploadSuccessTotal) })
		mirrorGauge("multiblock_mirror_upload_fail_total", "Mirror uploads that failed after retry.",
			func(s r2s3.Stats) float64 { return float64(s.UploadFailTotal) })
		mirrorGauge("multiblock_mirror_skipped_total", "Enqueued files that are not world artifacts.",
			func(s r2s3.Stats) float64 { return float64(s.SkippedTotal) })
		mirrorGauge("multiblock_mirror_snapshots_uploaded_total", "Snapshots and archived snapshots stored in the bucket.",
			func(s r2s3.Stats) float64 { return float64(s.SnapshotsUploaded) })
		mirrorGauge("multiblock_mirror_ticklogs_uploaded_total", "Closed tick logs stored in the bucket.",
			func(s r2s3.Stats) float64 { return float64(s.TickLogsUploaded) })
		mirrorGauge("multiblock_mirror_last_success_unix", "Unix time of the last successful upload.",
			func(s r2s3.Stats) float64 { return float64(s.LastSuccessUnix) })
	}
	if idx != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "multiblock_index_queue_depth",
			Help: "Pending writes in the index db queue.",
		}, func() float64 { return float64(idx.Stats().QueueDepth) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "multiblock_index_dropped_total",
			Help: "Index writes dropped because the queue was full.",
		}, func() float64 {
			s := idx.Stats()
			return float64(s.DropTickTotal + s.DropSnapshotTotal + s.DropUploadTotal)
		})
	}
}
