package executor

import (
	"context"
	"fmt"
	"os"

	"safeerase_enterprise/internal/config"
	"safeerase_enterprise/internal/logging"
	"safeerase_enterprise/internal/nist"
	"safeerase_enterprise/internal/operation"
)

// KeyRegionBytes размер области ключей, затираемой при криптографическом
// стирании (начало и конец носителя)
const KeyRegionBytes = 16 * 1024 * 1024

// patternKind определяет паттерн заполнения прохода
type patternKind int

const (
	patternRandom patternKind = iota
	patternZero
)

// region непрерывный диапазон байт носителя
type region struct {
	offset int64
	length int64
}

// passPlan план проходов для техники затирания
type passPlan struct {
	passes  int
	pattern patternKind
	regions func(size int64) []region
}

func fullMedia(size int64) []region {
	return []region{{offset: 0, length: size}}
}

// keyRegions области хранения ключей: первые и последние 16 МиБ.
// Маленькие носители затираются целиком.
func keyRegions(size int64) []region {
	if size <= 2*KeyRegionBytes {
		return fullMedia(size)
	}
	return []region{
		{offset: 0, length: KeyRegionBytes},
		{offset: size - KeyRegionBytes, length: KeyRegionBytes},
	}
}

// planFor возвращает план проходов для исполняемой техники
func planFor(technique nist.SanitizationTechnique) (passPlan, error) {
	switch technique {
	case nist.TechniqueSinglePassOverwrite:
		return passPlan{passes: 1, pattern: patternRandom, regions: fullMedia}, nil
	case nist.TechniqueSSDSecureErase:
		// Симуляция Secure Erase для файловых носителей: один проход нулями
		return passPlan{passes: 1, pattern: patternZero, regions: fullMedia}, nil
	case nist.TechniqueCryptographicErase:
		// Симуляция уничтожения ключей шифрования: затирание областей ключей
		return passPlan{passes: 1, pattern: patternRandom, regions: keyRegions}, nil
	default:
		return passPlan{}, fmt.Errorf("техника %q не является исполняемой", technique)
	}
}

// FileExecutor исполняет техники затирания над файловыми носителями
// (sandbox-диски и обычные файлы). Запись идёт чанками с ограничением
// скорости, отмена контекста обрабатывается на границе чанка.
type FileExecutor struct {
	chunkSize    int
	maxSpeedMBps float64
	logger       *logging.EnterpriseLogger
}

func NewFileExecutor(cfg *config.Config, logger *logging.EnterpriseLogger) *FileExecutor {
	chunk := int(cfg.Sanitize.ChunkSize)
	if chunk <= 0 {
		chunk = 4 * 1024 * 1024
	}
	return &FileExecutor{
		chunkSize:    chunk,
		maxSpeedMBps: cfg.Sanitize.MaxSpeedMBps,
		logger:       logger,
	}
}

// Execute запускает затирание и отдаёт поток событий прогресса
func (e *FileExecutor) Execute(ctx context.Context, path string, technique nist.SanitizationTechnique) (<-chan operation.ProgressEvent, error) {
	plan, err := planFor(technique)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("носитель недоступен: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("носитель %s является директорией", path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("носитель %s имеет нулевой размер", path)
	}

	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть носитель: %w", err)
	}

	events := make(chan operation.ProgressEvent)
	go e.run(ctx, file, info.Size(), plan, events)
	return events, nil
}

func (e *FileExecutor) run(ctx context.Context, file *os.File, size int64, plan passPlan, events chan<- operation.ProgressEvent) {
	defer close(events)

	writer := NewThrottledWriter(file, e.maxSpeedMBps)
	defer writer.Close()

	regions := plan.regions(size)
	var passTotal uint64
	for _, r := range regions {
		passTotal += uint64(r.length)
	}

	buf := GetBuffer(e.chunkSize)
	defer PutBuffer(buf)

	for pass := 0; pass < plan.passes; pass++ {
		var written uint64
		for _, r := range regions {
			if _, err := writer.Seek(r.offset, 0); err != nil {
				events <- operation.ProgressEvent{Err: fmt.Errorf("ошибка позиционирования: %w", err)}
				return
			}

			remaining := r.length
			for remaining > 0 {
				select {
				case <-ctx.Done():
					events <- operation.ProgressEvent{Err: ctx.Err()}
					return
				default:
				}

				chunk := buf
				if remaining < int64(len(chunk)) {
					chunk = chunk[:remaining]
				}

				switch plan.pattern {
				case patternRandom:
					if err := FillRandom(chunk); err != nil {
						events <- operation.ProgressEvent{Err: fmt.Errorf("ошибка генерации случайных данных: %w", err)}
						return
					}
				case patternZero:
					FillZero(chunk)
				}

				off := 0
				for off < len(chunk) {
					n, err := writer.Write(chunk[off:])
					if n > 0 {
						off += n
						written += uint64(n)
						remaining -= int64(n)
					}
					if err != nil {
						events <- operation.ProgressEvent{Err: fmt.Errorf("ошибка записи: %w", err)}
						return
					}
					if n == 0 {
						events <- operation.ProgressEvent{Err: fmt.Errorf("запись вернула 0 байт без ошибки")}
						return
					}
				}

				select {
				case events <- operation.ProgressEvent{
					PassIndex:    pass,
					TotalPasses:  plan.passes,
					BytesWritten: written,
					TotalBytes:   passTotal,
				}:
				case <-ctx.Done():
					events <- operation.ProgressEvent{Err: ctx.Err()}
					return
				}
			}
		}
	}

	// Синхронизация данных с диском до подтверждения завершения
	if err := writer.Sync(); err != nil {
		events <- operation.ProgressEvent{Err: fmt.Errorf("ошибка синхронизации: %w", err)}
		return
	}

	e.logger.Log("DEBUG", "Запись завершена", "size", size, "passes", plan.passes)
	events <- operation.ProgressEvent{Done: true}
}
