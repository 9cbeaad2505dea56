package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"safeerase_enterprise/internal/config"
	"safeerase_enterprise/internal/operation"
)

// Report представляет JSON отчёт о запуске
type Report struct {
	RunID       string            `json:"run_id"`
	Version     string            `json:"version"`
	Timestamp   time.Time         `json:"timestamp"`
	DryRun      bool              `json:"dry_run"`
	MaxDuration string            `json:"max_duration,omitempty"`
	Operations  []OperationReport `json:"operations"`
	Summary     SummaryReport     `json:"summary"`
	ExitCode    int               `json:"exit_code"`
	Duration    string            `json:"duration"`
}

// OperationReport представляет отчёт об одной операции затирания
type OperationReport struct {
	ID                 string     `json:"id"`
	DevicePath         string     `json:"device_path"`
	Method             string     `json:"method"`
	Technique          string     `json:"technique"`
	State              string     `json:"state"`
	Passes             int        `json:"passes"`
	ProgressPercent    float64    `json:"progress_percent"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	SpeedMBps          float64    `json:"speed_mbps"`
	VerificationStatus string     `json:"verification_status"`
	CertificateID      string     `json:"certificate_id,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// SummaryReport представляет сводную информацию
type SummaryReport struct {
	TotalDevices int     `json:"total_devices"`
	Completed    int     `json:"completed"`
	Cancelled    int     `json:"cancelled"`
	Failed       int     `json:"failed"`
	AverageSpeed float64 `json:"average_speed_mbps"`
	SuccessRate  float64 `json:"success_rate"`
}

// RunResult одна завершённая операция с выпущенным сертификатом
type RunResult struct {
	Snapshot      operation.Snapshot
	CertificateID string
}

// GenerateReport генерирует JSON отчёт о запуске
func GenerateReport(results []RunResult, dryRun bool, maxDuration time.Duration, startTime, endTime time.Time, exitCode int) *Report {
	report := &Report{
		RunID:       fmt.Sprintf("run_%d", startTime.UnixNano()),
		Version:     "1.0.0",
		Timestamp:   startTime,
		DryRun:      dryRun,
		MaxDuration: maxDuration.String(),
		Operations:  make([]OperationReport, 0, len(results)),
		ExitCode:    exitCode,
		Duration:    endTime.Sub(startTime).String(),
	}

	var speedSum float64
	var speedCount int
	for _, res := range results {
		snap := res.Snapshot
		op := OperationReport{
			ID:                 snap.ID,
			DevicePath:         snap.DevicePath,
			Method:             string(snap.Method),
			Technique:          string(snap.Technique),
			State:              string(snap.State),
			Passes:             snap.TotalPasses,
			ProgressPercent:    snap.ProgressPercent,
			StartTime:          snap.StartedAt,
			EndTime:            snap.CompletedAt,
			SpeedMBps:          snap.ThroughputBytesPerSec / (1024 * 1024),
			VerificationStatus: string(snap.VerificationStatus),
			CertificateID:      res.CertificateID,
			Error:              snap.ErrorDetail,
		}
		report.Operations = append(report.Operations, op)

		report.Summary.TotalDevices++
		switch snap.State {
		case operation.StateCompleted:
			report.Summary.Completed++
		case operation.StateCancelled:
			report.Summary.Cancelled++
		case operation.StateFailed:
			report.Summary.Failed++
		}
		if op.SpeedMBps > 0 {
			speedSum += op.SpeedMBps
			speedCount++
		}
	}

	if speedCount > 0 {
		report.Summary.AverageSpeed = speedSum / float64(speedCount)
	}
	if report.Summary.TotalDevices > 0 {
		report.Summary.SuccessRate = float64(report.Summary.Completed) / float64(report.Summary.TotalDevices) * 100
	}
	return report
}

// SaveReport сохраняет отчёт в директорию из конфигурации
func SaveReport(report *Report, cfg *config.Config) (string, error) {
	if cfg == nil || !cfg.Reporting.Enabled {
		return "", nil
	}

	dir := cfg.Reporting.LocalPath
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("не удалось создать директорию отчётов: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.json", report.RunID))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации отчёта: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("ошибка записи отчёта: %w", err)
	}
	return path, nil
}
