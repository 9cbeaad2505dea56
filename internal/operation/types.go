package operation

import (
	"context"
	"fmt"
	"time"

	"safeerase_enterprise/internal/nist"
)

// State состояние операции затирания
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateVerifying State = "verifying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal проверяет, является ли состояние терминальным
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// VerificationStatus результат проверки завершённости затирания
type VerificationStatus string

const (
	VerificationPending VerificationStatus = "pending"
	VerificationPassed  VerificationStatus = "passed"
	VerificationFailed  VerificationStatus = "failed"
)

// ProgressEvent событие прогресса от исполнителя метода.
// Терминальное событие несёт Done=true либо Err.
type ProgressEvent struct {
	PassIndex    int
	TotalPasses  int
	BytesWritten uint64
	TotalBytes   uint64
	Done         bool
	Err          error
}

// Executor внешний исполнитель техники затирания. Отдаёт поток событий
// прогресса и останавливается на ближайшей безопасной точке при отмене
// контекста.
type Executor interface {
	Execute(ctx context.Context, path string, technique nist.SanitizationTechnique) (<-chan ProgressEvent, error)
}

// ProbeResult результат проверки завершённости
type ProbeResult struct {
	Passed  bool
	Details []string
}

// Probe внешняя проверка завершённости затирания
type Probe interface {
	Check(ctx context.Context, path string, technique nist.SanitizationTechnique) ProbeResult
}

// ConflictError на устройстве уже выполняется операция
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: операция на устройстве %s уже выполняется", e.Path)
}

// Snapshot атомарный снимок состояния операции. Копия, безопасная для
// чтения без блокировок.
type Snapshot struct {
	ID                    string
	DevicePath            string
	Method                nist.SanitizationMethod
	Technique             nist.SanitizationTechnique
	State                 State
	CurrentPass           int
	TotalPasses           int
	ProgressPercent       float64
	ThroughputBytesPerSec float64
	StartedAt             time.Time
	CompletedAt           *time.Time
	VerificationStatus    VerificationStatus
	VerificationDetails   []string
	ErrorDetail           string
}
