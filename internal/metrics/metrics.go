// Package metrics collects refresh and backup counters in a private
// Prometheus registry, exported over HTTP or to a node_exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BadgerOps/pqrefresh/internal/refresh"
)

// Status label values.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	filesTotal      *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	batchesTotal    prometheus.Counter
	lastBatch       *prometheus.GaugeVec
	lastBatchTime   prometheus.Gauge
	backupsTotal    *prometheus.CounterVec
	backupBytes     prometheus.Counter
	purgedTotal     prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pqrefresh_files_refreshed_total",
			Help: "Cumulative number of workbook refresh attempts, by status.",
		}, []string{"status"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pqrefresh_refresh_duration_seconds",
			Help:    "Time spent refreshing a single workbook.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pqrefresh_batches_total",
			Help: "Cumulative number of refresh batches run.",
		}),
		lastBatch: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pqrefresh_last_batch_files",
			Help: "Workbook counts of the most recent batch, by result.",
		}, []string{"result"}),
		lastBatchTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pqrefresh_last_batch_timestamp_seconds",
			Help: "Unix time the most recent batch finished.",
		}),
		backupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pqrefresh_backups_total",
			Help: "Cumulative number of backup attempts, by status.",
		}, []string{"status"}),
		backupBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pqrefresh_backup_bytes_total",
			Help: "Cumulative number of bytes copied into backups.",
		}),
		purgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pqrefresh_backups_purged_total",
			Help: "Cumulative number of backups deleted by retention cleanup.",
		}),
	}

	m.registry.MustRegister(
		m.filesTotal,
		m.refreshDuration,
		m.batchesTotal,
		m.lastBatch,
		m.lastBatchTime,
		m.backupsTotal,
		m.backupBytes,
		m.purgedTotal,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFile records one workbook outcome.
func (m *Metrics) ObserveFile(out refresh.Outcome) {
	m.filesTotal.WithLabelValues(status(out.Success)).Inc()
	if out.Step != refresh.StepCancelled {
		m.refreshDuration.Observe(out.Duration.Seconds())
	}
}

// ObserveBatch records the totals of a finished batch.
func (m *Metrics) ObserveBatch(res refresh.BatchResult) {
	m.batchesTotal.Inc()
	m.lastBatch.WithLabelValues("success").Set(float64(res.Success))
	m.lastBatch.WithLabelValues("failed").Set(float64(res.Failed))
	m.lastBatch.WithLabelValues("total").Set(float64(res.Total))
	m.lastBatchTime.Set(float64(time.Now().Unix()))
}

// ObserveBackup records one backup attempt and the bytes it copied.
func (m *Metrics) ObserveBackup(ok bool, size int64) {
	m.backupsTotal.WithLabelValues(status(ok)).Inc()
	if ok && size > 0 {
		m.backupBytes.Add(float64(size))
	}
}

// ObservePurge records backups deleted by a cleanup pass.
func (m *Metrics) ObservePurge(deleted int) {
	if deleted > 0 {
		m.purgedTotal.Add(float64(deleted))
	}
}

// WriteTextfile writes the current values in the text exposition format,
// atomically replacing path.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}

func status(ok bool) string {
	if ok {
		return Ok
	}
	return Fail
}
