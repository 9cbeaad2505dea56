package operation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeerase_enterprise/internal/config"
	"safeerase_enterprise/internal/logging"
	"safeerase_enterprise/internal/nist"
)

// scriptedExecutor проигрывает заранее заданную последовательность событий
type scriptedExecutor struct {
	events []ProgressEvent
}

func (e *scriptedExecutor) Execute(ctx context.Context, path string, technique nist.SanitizationTechnique) (<-chan ProgressEvent, error) {
	ch := make(chan ProgressEvent)
	go func() {
		defer close(ch)
		for _, ev := range e.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				ch <- ProgressEvent{Err: ctx.Err()}
				return
			}
		}
	}()
	return ch, nil
}

// blockingExecutor шлёт один прогресс и ждёт отмены контекста
type blockingExecutor struct {
	progressed chan struct{}
}

func (e *blockingExecutor) Execute(ctx context.Context, path string, technique nist.SanitizationTechnique) (<-chan ProgressEvent, error) {
	ch := make(chan ProgressEvent)
	go func() {
		defer close(ch)
		ch <- ProgressEvent{PassIndex: 0, TotalPasses: 1, BytesWritten: 512, TotalBytes: 4096}
		close(e.progressed)
		<-ctx.Done()
		ch <- ProgressEvent{Err: ctx.Err()}
	}()
	return ch, nil
}

type failingExecutor struct{}

func (e *failingExecutor) Execute(ctx context.Context, path string, technique nist.SanitizationTechnique) (<-chan ProgressEvent, error) {
	return nil, errors.New("устройство недоступно")
}

// scriptedProbe возвращает фиксированный результат верификации
type scriptedProbe struct {
	result ProbeResult
}

func (p *scriptedProbe) Check(ctx context.Context, path string, technique nist.SanitizationTechnique) ProbeResult {
	return p.result
}

func testLogger(t *testing.T) *logging.EnterpriseLogger {
	t.Helper()
	l, err := logging.NewEnterpriseLogger(config.Default(), false)
	require.NoError(t, err)
	return l
}

func passEvents(totalPasses int, totalBytes uint64, steps int) []ProgressEvent {
	var events []ProgressEvent
	for pass := 0; pass < totalPasses; pass++ {
		for s := 1; s <= steps; s++ {
			events = append(events, ProgressEvent{
				PassIndex:    pass,
				TotalPasses:  totalPasses,
				BytesWritten: totalBytes / uint64(steps) * uint64(s),
				TotalBytes:   totalBytes,
			})
		}
	}
	events = append(events, ProgressEvent{Done: true})
	return events
}

func waitTerminal(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("операция не достигла терминального состояния")
	}
}

func clearDecision() nist.Decision {
	return nist.Decision{Method: nist.MethodClear, Technique: nist.TechniqueSinglePassOverwrite}
}

func fileFacts(path string) nist.DeviceFacts {
	return nist.DeviceFacts{
		Path:         path,
		Manufacturer: "Sandbox",
		Model:        "Sandbox VDisk",
		SerialNumber: "SBX-vdisk0",
		SizeBytes:    4096,
		Transport:    nist.TransportFile,
		MediaType:    nist.MediaVirtual,
	}
}

func TestStart_DestroyCompletesWithoutExecutor(t *testing.T) {
	// Исполнитель, который падает при любом вызове: для Destroy он не
	// должен вызываться вообще
	reg := NewRegistry(&failingExecutor{}, &scriptedProbe{}, testLogger(t), Options{})

	h, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), nist.Decision{
		Method:    nist.MethodDestroy,
		Technique: nist.TechniqueDestructionGuidance,
	})
	require.NoError(t, err)

	snap := reg.Poll(h)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, VerificationPassed, snap.VerificationStatus)
	assert.Equal(t, []string{GuidanceOnlyDetail}, snap.VerificationDetails)
	require.NotNil(t, snap.CompletedAt)
}

func TestStart_InvalidPairRejected(t *testing.T) {
	reg := NewRegistry(&scriptedExecutor{}, &scriptedProbe{}, testLogger(t), Options{})

	_, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), nist.Decision{
		Method:    nist.MethodClear,
		Technique: nist.TechniqueCryptographicErase,
	})
	require.Error(t, err)
	var cfgErr *nist.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRun_CompletesAfterVerificationPassed(t *testing.T) {
	exec := &scriptedExecutor{events: passEvents(2, 4096, 4)}
	probe := &scriptedProbe{result: ProbeResult{Passed: true, Details: []string{"overwrite verified"}}}
	reg := NewRegistry(exec, probe, testLogger(t), Options{})

	h, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), clearDecision())
	require.NoError(t, err)
	waitTerminal(t, h)

	snap := reg.Poll(h)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, VerificationPassed, snap.VerificationStatus)
	assert.Contains(t, snap.VerificationDetails, "overwrite verified")
	assert.Equal(t, 2, snap.TotalPasses)
	assert.Equal(t, 2, snap.CurrentPass)
	assert.InDelta(t, 100.0, snap.ProgressPercent, 0.01)
	assert.Empty(t, snap.ErrorDetail)
}

func TestRun_VerificationFailureNeverSilent(t *testing.T) {
	exec := &scriptedExecutor{events: passEvents(1, 4096, 2)}
	probe := &scriptedProbe{result: ProbeResult{
		Passed:  false,
		Details: []string{"найдены незатёртые блоки"},
	}}
	reg := NewRegistry(exec, probe, testLogger(t), Options{})

	h, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), clearDecision())
	require.NoError(t, err)
	waitTerminal(t, h)

	snap := reg.Poll(h)
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, VerificationFailed, snap.VerificationStatus)
	assert.Contains(t, snap.ErrorDetail, "найдены незатёртые блоки")
}

func TestRun_ExecutorErrorFails(t *testing.T) {
	exec := &scriptedExecutor{events: []ProgressEvent{
		{PassIndex: 0, TotalPasses: 1, BytesWritten: 1024, TotalBytes: 4096},
		{Err: errors.New("write error: input/output error")},
	}}
	reg := NewRegistry(exec, &scriptedProbe{}, testLogger(t), Options{})

	h, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), clearDecision())
	require.NoError(t, err)
	waitTerminal(t, h)

	snap := reg.Poll(h)
	assert.Equal(t, StateFailed, snap.State)
	assert.Contains(t, snap.ErrorDetail, "input/output error")
}

func TestRun_ExecutorStartErrorFails(t *testing.T) {
	reg := NewRegistry(&failingExecutor{}, &scriptedProbe{}, testLogger(t), Options{})

	h, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), clearDecision())
	require.NoError(t, err)
	waitTerminal(t, h)

	snap := reg.Poll(h)
	assert.Equal(t, StateFailed, snap.State)
	assert.Contains(t, snap.ErrorDetail, "устройство недоступно")
}

func TestCancel_CooperativeWithPartialProgress(t *testing.T) {
	exec := &blockingExecutor{progressed: make(chan struct{})}
	reg := NewRegistry(exec, &scriptedProbe{}, testLogger(t), Options{})

	h, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), clearDecision())
	require.NoError(t, err)

	<-exec.progressed
	reg.Cancel(h)
	waitTerminal(t, h)

	snap := reg.Poll(h)
	assert.Equal(t, StateCancelled, snap.State)
	// Частичный прогресс сохраняется для аудита
	assert.Greater(t, snap.ProgressPercent, 0.0)
	assert.Equal(t, VerificationPending, snap.VerificationStatus)
}

func TestCancel_AfterCompletionIsNoOp(t *testing.T) {
	exec := &scriptedExecutor{events: passEvents(1, 4096, 2)}
	probe := &scriptedProbe{result: ProbeResult{Passed: true}}
	reg := NewRegistry(exec, probe, testLogger(t), Options{})

	h, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), clearDecision())
	require.NoError(t, err)
	waitTerminal(t, h)

	before := reg.Poll(h)
	require.Equal(t, StateCompleted, before.State)

	// Гонка Cancel с естественным завершением: первый терминальный
	// переход побеждает, второй отбрасывается
	reg.Cancel(h)
	after := reg.Poll(h)
	assert.Equal(t, StateCompleted, after.State)
	assert.Equal(t, before.CompletedAt, after.CompletedAt)
}

func TestPoll_IdempotentOnTerminalState(t *testing.T) {
	exec := &scriptedExecutor{events: passEvents(1, 4096, 2)}
	probe := &scriptedProbe{result: ProbeResult{Passed: true}}
	reg := NewRegistry(exec, probe, testLogger(t), Options{})

	h, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), clearDecision())
	require.NoError(t, err)
	waitTerminal(t, h)

	first := reg.Poll(h)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, reg.Poll(h))
	}
}

func TestStart_ConcurrentOnSamePathExactlyOneConflict(t *testing.T) {
	exec := &blockingExecutor{progressed: make(chan struct{})}
	reg := NewRegistry(exec, &scriptedProbe{}, testLogger(t), Options{})
	facts := fileFacts("/tmp/vdisk0.img")

	var wg sync.WaitGroup
	handles := make([]*Handle, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = reg.Start(context.Background(), facts, clearDecision())
		}(i)
	}
	wg.Wait()

	var started, conflicts int
	var active *Handle
	for i := 0; i < 2; i++ {
		if errs[i] == nil {
			started++
			active = handles[i]
			continue
		}
		var conflictErr *ConflictError
		require.ErrorAs(t, errs[i], &conflictErr)
		conflicts++
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, conflicts)

	reg.Cancel(active)
	waitTerminal(t, active)
}

func TestStart_AllowedOnDifferentPaths(t *testing.T) {
	exec := &scriptedExecutor{events: passEvents(1, 4096, 2)}
	probe := &scriptedProbe{result: ProbeResult{Passed: true}}
	reg := NewRegistry(exec, probe, testLogger(t), Options{})

	h1, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), clearDecision())
	require.NoError(t, err)
	h2, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk1.img"), clearDecision())
	require.NoError(t, err)

	waitTerminal(t, h1)
	waitTerminal(t, h2)
}

func TestStart_AfterTerminalReusesPath(t *testing.T) {
	exec := &scriptedExecutor{events: passEvents(1, 4096, 2)}
	probe := &scriptedProbe{result: ProbeResult{Passed: true}}
	reg := NewRegistry(exec, probe, testLogger(t), Options{})
	facts := fileFacts("/tmp/vdisk0.img")

	h1, err := reg.Start(context.Background(), facts, clearDecision())
	require.NoError(t, err)
	waitTerminal(t, h1)
	require.NoError(t, reg.Release(h1))

	h2, err := reg.Start(context.Background(), facts, clearDecision())
	require.NoError(t, err)
	waitTerminal(t, h2)
	assert.Equal(t, StateCompleted, reg.Poll(h2).State)
}

func TestRelease_ActiveOperationRejected(t *testing.T) {
	exec := &blockingExecutor{progressed: make(chan struct{})}
	reg := NewRegistry(exec, &scriptedProbe{}, testLogger(t), Options{})

	h, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), clearDecision())
	require.NoError(t, err)
	<-exec.progressed

	assert.Error(t, reg.Release(h))

	reg.Cancel(h)
	waitTerminal(t, h)
	assert.NoError(t, reg.Release(h))
}

func TestPoll_ConcurrentWithProgress(t *testing.T) {
	exec := &scriptedExecutor{events: passEvents(3, 1024*1024, 64)}
	probe := &scriptedProbe{result: ProbeResult{Passed: true}}
	reg := NewRegistry(exec, probe, testLogger(t), Options{})

	h, err := reg.Start(context.Background(), fileFacts("/tmp/vdisk0.img"), clearDecision())
	require.NoError(t, err)

	// Конкурентные Poll не должны видеть частично обновлённое состояние
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				snap := reg.Poll(h)
				assert.GreaterOrEqual(t, snap.ProgressPercent, 0.0)
				assert.LessOrEqual(t, snap.ProgressPercent, 100.0)
				assert.LessOrEqual(t, snap.CurrentPass, snap.TotalPasses)
				if snap.State.Terminal() {
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, StateCompleted, reg.Poll(h).State)
}

func TestEMAMeter_SmoothsRates(t *testing.T) {
	m := newEMAMeter(0.3, 4)
	base := time.Unix(1700000000, 0)

	// 1 МБ/с стабильно
	for i := 0; i <= 8; i++ {
		m.Add(uint64(i)*1024*1024, base.Add(time.Duration(i)*time.Second))
	}
	assert.InDelta(t, 1024*1024, m.Value(), float64(16*1024))

	// Резкий скачок сглаживается, значение между старой и новой скоростью
	m.Add(9*1024*1024+10*1024*1024, base.Add(9*time.Second))
	assert.Greater(t, m.Value(), float64(1024*1024))
	assert.Less(t, m.Value(), float64(11*1024*1024))
}

func TestEMAMeter_NoSamplesZero(t *testing.T) {
	m := newEMAMeter(0.3, 4)
	assert.Equal(t, 0.0, m.Value())
	m.Add(1024, time.Now())
	assert.Equal(t, 0.0, m.Value())
}
