package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/pqrefresh/internal/refresh"
)

func TestObserveFile(t *testing.T) {
	m := New()

	m.ObserveFile(refresh.Outcome{Success: true, Step: refresh.StepDone, Duration: 2 * time.Second})
	m.ObserveFile(refresh.Outcome{Success: false, Step: refresh.StepRefresh, Duration: time.Second})
	m.ObserveFile(refresh.Outcome{Success: false, Step: refresh.StepCancelled})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.filesTotal.WithLabelValues(Ok)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.filesTotal.WithLabelValues(Fail)))
	// cancelled files never ran, so only two durations are observed
	expected := `
# HELP pqrefresh_refresh_duration_seconds Time spent refreshing a single workbook.
# TYPE pqrefresh_refresh_duration_seconds histogram
pqrefresh_refresh_duration_seconds_bucket{le="1"} 1
pqrefresh_refresh_duration_seconds_bucket{le="5"} 2
pqrefresh_refresh_duration_seconds_bucket{le="15"} 2
pqrefresh_refresh_duration_seconds_bucket{le="30"} 2
pqrefresh_refresh_duration_seconds_bucket{le="60"} 2
pqrefresh_refresh_duration_seconds_bucket{le="120"} 2
pqrefresh_refresh_duration_seconds_bucket{le="300"} 2
pqrefresh_refresh_duration_seconds_bucket{le="600"} 2
pqrefresh_refresh_duration_seconds_bucket{le="1800"} 2
pqrefresh_refresh_duration_seconds_bucket{le="+Inf"} 2
pqrefresh_refresh_duration_seconds_sum 3
pqrefresh_refresh_duration_seconds_count 2
`
	require.NoError(t, testutil.CollectAndCompare(m.refreshDuration, strings.NewReader(expected)))
}

func TestObserveBatch(t *testing.T) {
	m := New()

	m.ObserveBatch(refresh.BatchResult{Success: 2, Failed: 1, Total: 3})
	m.ObserveBatch(refresh.BatchResult{Success: 1, Failed: 0, Total: 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.batchesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastBatch.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lastBatch.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastBatch.WithLabelValues("total")))
	assert.Greater(t, testutil.ToFloat64(m.lastBatchTime), 0.0)
}

func TestObserveBackupAndPurge(t *testing.T) {
	m := New()

	m.ObserveBackup(true, 1024)
	m.ObserveBackup(true, 0)
	m.ObserveBackup(false, 4096)
	m.ObservePurge(3)
	m.ObservePurge(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.backupsTotal.WithLabelValues(Ok)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backupsTotal.WithLabelValues(Fail)))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.backupBytes))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.purgedTotal))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveBatch(refresh.BatchResult{Success: 1, Total: 1})

	path := filepath.Join(t.TempDir(), "pqrefresh.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pqrefresh_batches_total 1")
	assert.Contains(t, string(data), `pqrefresh_last_batch_files{result="success"} 1`)
}

func TestWriteTextfileBadDir(t *testing.T) {
	m := New()
	err := m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))
	assert.Error(t, err)
}
