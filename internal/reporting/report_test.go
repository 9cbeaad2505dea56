package reporting

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeerase_enterprise/internal/config"
	"safeerase_enterprise/internal/nist"
	"safeerase_enterprise/internal/operation"
)

func snapshotWithState(path string, state operation.State, speed float64) operation.Snapshot {
	started := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	completed := started.Add(5 * time.Minute)
	return operation.Snapshot{
		ID:                    "op-" + path,
		DevicePath:            path,
		Method:                nist.MethodClear,
		Technique:             nist.TechniqueSinglePassOverwrite,
		State:                 state,
		TotalPasses:           1,
		ProgressPercent:       100,
		ThroughputBytesPerSec: speed,
		StartedAt:             started,
		CompletedAt:           &completed,
		VerificationStatus:    operation.VerificationPassed,
	}
}

func TestGenerateReport_Summary(t *testing.T) {
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(20 * time.Minute)

	results := []RunResult{
		{Snapshot: snapshotWithState("/tmp/vdisk0.img", operation.StateCompleted, 50*1024*1024), CertificateID: "cert-1"},
		{Snapshot: snapshotWithState("/tmp/vdisk1.img", operation.StateCompleted, 30*1024*1024), CertificateID: "cert-2"},
		{Snapshot: snapshotWithState("/tmp/vdisk2.img", operation.StateFailed, 0)},
		{Snapshot: snapshotWithState("/tmp/vdisk3.img", operation.StateCancelled, 0)},
	}

	report := GenerateReport(results, false, 2*time.Hour, start, end, 1)

	assert.Equal(t, 4, report.Summary.TotalDevices)
	assert.Equal(t, 2, report.Summary.Completed)
	assert.Equal(t, 1, report.Summary.Failed)
	assert.Equal(t, 1, report.Summary.Cancelled)
	assert.InDelta(t, 40.0, report.Summary.AverageSpeed, 0.01)
	assert.InDelta(t, 50.0, report.Summary.SuccessRate, 0.01)
	assert.Equal(t, "20m0s", report.Duration)

	require.Len(t, report.Operations, 4)
	assert.Equal(t, "cert-1", report.Operations[0].CertificateID)
	assert.Empty(t, report.Operations[2].CertificateID)
}

func TestSaveReport_WritesJSON(t *testing.T) {
	cfg := config.Default()
	cfg.Reporting.Enabled = true
	cfg.Reporting.LocalPath = t.TempDir()

	start := time.Now()
	report := GenerateReport([]RunResult{
		{Snapshot: snapshotWithState("/tmp/vdisk0.img", operation.StateCompleted, 1024*1024), CertificateID: "cert-1"},
	}, false, time.Hour, start, start.Add(time.Minute), 0)

	path, err := SaveReport(report, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Report
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, report.RunID, loaded.RunID)
	assert.Len(t, loaded.Operations, 1)
}

func TestSaveReport_DisabledNoop(t *testing.T) {
	cfg := config.Default()
	cfg.Reporting.Enabled = false

	path, err := SaveReport(&Report{RunID: "run_1"}, cfg)
	require.NoError(t, err)
	assert.Empty(t, path)
}
