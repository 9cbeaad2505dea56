package executor

import (
	"context"
	"fmt"
	"io"
	"os"

	"safeerase_enterprise/internal/logging"
	"safeerase_enterprise/internal/nist"
	"safeerase_enterprise/internal/operation"
)

const (
	probeSampleSize = 64 * 1024
	probeSamples    = 8
)

// SamplingProbe проверяет завершённость затирания выборочным чтением
// областей носителя: начало, конец и равномерно распределённые смещения.
type SamplingProbe struct {
	logger *logging.EnterpriseLogger
}

func NewSamplingProbe(logger *logging.EnterpriseLogger) *SamplingProbe {
	return &SamplingProbe{logger: logger}
}

// Check выполняет проверку областей носителя после затирания
func (p *SamplingProbe) Check(ctx context.Context, path string, technique nist.SanitizationTechnique) operation.ProbeResult {
	info, err := os.Stat(path)
	if err != nil {
		return operation.ProbeResult{Details: []string{fmt.Sprintf("носитель недоступен: %v", err)}}
	}

	file, err := os.Open(path)
	if err != nil {
		return operation.ProbeResult{Details: []string{fmt.Sprintf("не удалось открыть носитель: %v", err)}}
	}
	defer file.Close()

	var offsets []int64
	switch technique {
	case nist.TechniqueCryptographicErase:
		offsets = keyRegionOffsets(info.Size())
	default:
		offsets = spreadOffsets(info.Size(), probeSamples)
	}

	details := []string{
		fmt.Sprintf("Проверка %d областей по %d байт", len(offsets), probeSampleSize),
	}

	buf := GetBuffer(probeSampleSize)
	defer PutBuffer(buf)

	for _, off := range offsets {
		select {
		case <-ctx.Done():
			details = append(details, "проверка прервана")
			return operation.ProbeResult{Details: details}
		default:
		}

		sample := buf
		if rest := info.Size() - off; rest < int64(len(sample)) {
			sample = sample[:rest]
		}
		if _, err := file.ReadAt(sample, off); err != nil && err != io.EOF {
			details = append(details, fmt.Sprintf("ошибка чтения со смещения %d: %v", off, err))
			return operation.ProbeResult{Details: details}
		}

		if reason := checkSample(technique, sample); reason != "" {
			details = append(details, fmt.Sprintf("смещение %d: %s", off, reason))
			return operation.ProbeResult{Details: details}
		}
	}

	details = append(details, "Все проверенные области соответствуют ожидаемому состоянию")
	return operation.ProbeResult{Passed: true, Details: details}
}

// checkSample проверяет содержимое области для конкретной техники
func checkSample(technique nist.SanitizationTechnique, sample []byte) string {
	switch technique {
	case nist.TechniqueSSDSecureErase:
		for _, b := range sample {
			if b != 0 {
				return "обнаружены незатёртые данные"
			}
		}
		return ""
	default:
		// Случайное заполнение: однородная область означает, что
		// запись не состоялась
		if len(sample) < 2 {
			return ""
		}
		first := sample[0]
		for _, b := range sample[1:] {
			if b != first {
				return ""
			}
		}
		return "область заполнена однородным паттерном вместо случайных данных"
	}
}

// spreadOffsets равномерно распределяет выборки по носителю
func spreadOffsets(size int64, samples int) []int64 {
	if size <= probeSampleSize {
		return []int64{0}
	}
	if samples < 2 {
		samples = 2
	}

	step := (size - probeSampleSize) / int64(samples-1)
	offsets := make([]int64, 0, samples)
	for i := 0; i < samples; i++ {
		offsets = append(offsets, int64(i)*step)
	}
	return offsets
}

// keyRegionOffsets выборки внутри областей ключей
func keyRegionOffsets(size int64) []int64 {
	if size <= probeSampleSize {
		return []int64{0}
	}
	if size <= 2*KeyRegionBytes {
		return spreadOffsets(size, probeSamples)
	}
	return []int64{
		0,
		KeyRegionBytes - probeSampleSize,
		size - KeyRegionBytes,
		size - probeSampleSize,
	}
}
