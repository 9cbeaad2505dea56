package operation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"safeerase_enterprise/internal/logging"
	"safeerase_enterprise/internal/nist"
)

// GuidanceOnlyDetail деталь верификации для метода Destroy
const GuidanceOnlyDetail = "guidance-only, no executable action"

// Options настройки реестра операций
type Options struct {
	ThroughputSmoothing float64 // коэффициент сглаживания EMA (0.3 по умолчанию)
	ThroughputWindow    int     // число отсчётов для расчёта скорости
}

// Registry владеет жизненным циклом операций затирания. Одна активная
// операция на путь устройства, никаких глобальных синглтонов.
type Registry struct {
	mu       sync.Mutex
	active   map[string]*operation
	executor Executor
	probe    Probe
	logger   *logging.EnterpriseLogger
	opts     Options
}

// Handle непрозрачная ссылка на операцию для вызывающего кода
type Handle struct {
	op *operation
}

// Done закрывается при достижении терминального состояния
func (h *Handle) Done() <-chan struct{} {
	return h.op.done
}

// operation единственный изменяемый объект на запуск. Все поля под мьютексом.
type operation struct {
	mu sync.Mutex

	id       string
	facts    nist.DeviceFacts
	decision nist.Decision

	state               State
	currentPass         int
	totalPasses         int
	progressPercent     float64
	meter               *emaMeter
	startedAt           time.Time
	completedAt         *time.Time
	verificationStatus  VerificationStatus
	verificationDetails []string
	errorDetail         string

	cancel          context.CancelFunc
	cancelRequested bool
	done            chan struct{}
}

// NewRegistry создаёт реестр операций
func NewRegistry(executor Executor, probe Probe, logger *logging.EnterpriseLogger, opts Options) *Registry {
	if opts.ThroughputSmoothing <= 0 || opts.ThroughputSmoothing > 1 {
		opts.ThroughputSmoothing = 0.3
	}
	if opts.ThroughputWindow <= 0 {
		opts.ThroughputWindow = 8
	}
	return &Registry{
		active:   make(map[string]*operation),
		executor: executor,
		probe:    probe,
		logger:   logger,
		opts:     opts,
	}
}

// Start принимает устройство и решение и запускает операцию.
// Повторный Start на активном устройстве отклоняется с ConflictError,
// не ставится в очередь.
func (r *Registry) Start(ctx context.Context, facts nist.DeviceFacts, decision nist.Decision) (*Handle, error) {
	if facts.Path == "" {
		return nil, &nist.ConfigurationError{Detail: "путь устройства не задан"}
	}
	if !nist.ValidPair(decision.Method, decision.Technique) {
		return nil, &nist.ConfigurationError{
			Detail: fmt.Sprintf("недопустимая пара метод/техника: %s / %s", decision.Method, decision.Technique),
		}
	}

	op := &operation{
		id:                 fmt.Sprintf("op_%s", uuid.NewString()),
		facts:              facts,
		decision:           decision,
		state:              StateIdle,
		verificationStatus: VerificationPending,
		startedAt:          time.Now().UTC(),
		meter:              newEMAMeter(r.opts.ThroughputSmoothing, r.opts.ThroughputWindow),
		done:               make(chan struct{}),
	}

	r.mu.Lock()
	if existing, ok := r.active[facts.Path]; ok {
		existing.mu.Lock()
		busy := !existing.state.Terminal()
		existing.mu.Unlock()
		if busy {
			r.mu.Unlock()
			return nil, &ConflictError{Path: facts.Path}
		}
	}
	r.active[facts.Path] = op
	r.mu.Unlock()

	// Destroy не назначает исполняемое действие: операция сразу завершена,
	// в сертификат попадает только guidance
	if decision.Method == nist.MethodDestroy {
		op.mu.Lock()
		op.state = StateCompleted
		op.verificationStatus = VerificationPassed
		op.verificationDetails = []string{GuidanceOnlyDetail}
		now := time.Now().UTC()
		op.completedAt = &now
		op.mu.Unlock()
		close(op.done)

		r.logger.Log("INFO", "Операция Destroy завершена без исполнения",
			"device", facts.Path, "operation", op.id)
		return &Handle{op: op}, nil
	}

	opCtx, cancel := context.WithCancel(ctx)
	op.mu.Lock()
	op.cancel = cancel
	op.state = StateRunning
	op.mu.Unlock()

	r.logger.Log("INFO", "Запуск операции затирания",
		"device", facts.Path, "operation", op.id,
		"method", string(decision.Method), "technique", string(decision.Technique))

	go r.run(opCtx, op)

	return &Handle{op: op}, nil
}

// Poll возвращает атомарный снимок операции. Неблокирующий, безопасен
// при конкуренции со Start/Cancel и колбэками исполнителя.
func (r *Registry) Poll(h *Handle) Snapshot {
	return h.op.snapshot()
}

// Cancel кооперативно останавливает операцию: сигнализирует исполнителю
// остановиться на ближайшей безопасной точке. No-op для терминальных
// состояний — гонка с естественным завершением разрешается в пользу
// первого перехода.
func (r *Registry) Cancel(h *Handle) {
	op := h.op

	op.mu.Lock()
	if op.state.Terminal() {
		op.mu.Unlock()
		return
	}
	op.cancelRequested = true
	cancel := op.cancel
	op.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	r.logger.Log("WARN", "Запрошена отмена операции", "device", op.facts.Path, "operation", op.id)
}

// Release освобождает терминальную операцию из реестра. Вызывается после
// построения сертификата либо при отказе от операции.
func (r *Registry) Release(h *Handle) error {
	op := h.op

	op.mu.Lock()
	terminal := op.state.Terminal()
	op.mu.Unlock()
	if !terminal {
		return fmt.Errorf("операция %s ещё активна, освобождение невозможно", op.id)
	}

	r.mu.Lock()
	if r.active[op.facts.Path] == op {
		delete(r.active, op.facts.Path)
	}
	r.mu.Unlock()
	return nil
}

// run сопровождает операцию от запуска исполнителя до терминального состояния
func (r *Registry) run(ctx context.Context, op *operation) {
	events, err := r.executor.Execute(ctx, op.facts.Path, op.decision.Technique)
	if err != nil {
		r.finish(op, StateFailed, fmt.Sprintf("ошибка запуска исполнителя: %v", err), nil)
		return
	}

	executorDone := false
	for ev := range events {
		if ev.Err != nil {
			if op.wasCancelled() || ctx.Err() != nil {
				r.finish(op, StateCancelled, "", nil)
			} else {
				r.finish(op, StateFailed, fmt.Sprintf("ошибка исполнителя: %v", ev.Err), nil)
			}
			drainEvents(events)
			return
		}
		if ev.Done {
			executorDone = true
			break
		}
		op.applyProgress(ev, time.Now())
	}
	drainEvents(events)

	if !executorDone {
		// Поток событий закрылся без терминального Done
		if op.wasCancelled() || ctx.Err() != nil {
			r.finish(op, StateCancelled, "", nil)
		} else {
			r.finish(op, StateFailed, "исполнитель завершил поток событий без подтверждения", nil)
		}
		return
	}

	// Завершение исполнителя наблюдается строго до начала верификации
	if !op.toVerifying() {
		return
	}
	r.logger.Log("INFO", "Затирание завершено, запуск верификации",
		"device", op.facts.Path, "operation", op.id)

	resCh := make(chan ProbeResult, 1)
	go func() {
		resCh <- r.probe.Check(ctx, op.facts.Path, op.decision.Technique)
	}()

	select {
	case <-ctx.Done():
		if op.wasCancelled() {
			r.finish(op, StateCancelled, "", nil)
		} else {
			r.finish(op, StateFailed, fmt.Sprintf("операция прервана: %v", ctx.Err()), nil)
		}
	case res := <-resCh:
		if res.Passed {
			r.finish(op, StateCompleted, "", res.Details)
		} else {
			// Провал верификации никогда не считается успехом
			detail := "верификация не пройдена"
			if len(res.Details) > 0 {
				detail = "верификация не пройдена: " + strings.Join(res.Details, "; ")
			}
			r.finish(op, StateFailed, detail, res.Details)
		}
	}
}

// finish выполняет переход в терминальное состояние ровно один раз
func (r *Registry) finish(op *operation, state State, errorDetail string, details []string) {
	op.mu.Lock()
	if op.state.Terminal() {
		op.mu.Unlock()
		return
	}

	op.state = state
	now := time.Now().UTC()
	op.completedAt = &now
	op.errorDetail = errorDetail
	if details != nil {
		op.verificationDetails = append(op.verificationDetails, details...)
	}

	switch state {
	case StateCompleted:
		op.verificationStatus = VerificationPassed
	case StateFailed:
		op.verificationStatus = VerificationFailed
	case StateCancelled:
		// Частичный прогресс сохраняется в снимке для аудита
		if errorDetail == "" {
			op.errorDetail = "операция отменена оператором"
		}
	}
	op.mu.Unlock()
	close(op.done)

	r.logger.Log("INFO", "Операция завершена",
		"device", op.facts.Path, "operation", op.id,
		"state", string(state), "error", errorDetail)
}

// toVerifying переводит Running -> Verifying; false если операция уже
// в терминальном состоянии
func (op *operation) toVerifying() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != StateRunning {
		return false
	}
	op.state = StateVerifying
	return true
}

// applyProgress обновляет прогресс и скорость по событию исполнителя
func (op *operation) applyProgress(ev ProgressEvent, now time.Time) {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.state != StateRunning {
		return
	}

	if ev.TotalPasses > 0 {
		op.totalPasses = ev.TotalPasses
		op.currentPass = ev.PassIndex + 1
	}

	if ev.TotalBytes > 0 && ev.TotalPasses > 0 {
		passFraction := float64(ev.BytesWritten) / float64(ev.TotalBytes)
		if passFraction > 1 {
			passFraction = 1
		}
		percent := (float64(ev.PassIndex) + passFraction) / float64(ev.TotalPasses) * 100
		if percent > 100 {
			percent = 100
		}
		op.progressPercent = percent

		// Кумулятивные байты по всем проходам для расчёта скорости
		cumulative := uint64(ev.PassIndex)*ev.TotalBytes + ev.BytesWritten
		op.meter.Add(cumulative, now)
	}
}

func (op *operation) wasCancelled() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.cancelRequested
}

// snapshot копирует состояние операции под мьютексом
func (op *operation) snapshot() Snapshot {
	op.mu.Lock()
	defer op.mu.Unlock()

	details := make([]string, len(op.verificationDetails))
	copy(details, op.verificationDetails)

	var completedAt *time.Time
	if op.completedAt != nil {
		t := *op.completedAt
		completedAt = &t
	}

	return Snapshot{
		ID:                    op.id,
		DevicePath:            op.facts.Path,
		Method:                op.decision.Method,
		Technique:             op.decision.Technique,
		State:                 op.state,
		CurrentPass:           op.currentPass,
		TotalPasses:           op.totalPasses,
		ProgressPercent:       op.progressPercent,
		ThroughputBytesPerSec: op.meter.Value(),
		StartedAt:             op.startedAt,
		CompletedAt:           completedAt,
		VerificationStatus:    op.verificationStatus,
		VerificationDetails:   details,
		ErrorDetail:           op.errorDetail,
	}
}

func drainEvents(events <-chan ProgressEvent) {
	for range events {
	}
}
