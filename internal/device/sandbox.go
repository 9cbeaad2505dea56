package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"safeerase_enterprise/internal/config"
	"safeerase_enterprise/internal/logging"
	"safeerase_enterprise/internal/nist"
)

// SandboxProvider отдаёт файловые виртуальные диски для безопасной
// отработки затирания. Физические носители через него недоступны.
type SandboxProvider struct {
	dir        string
	count      int
	diskSizeMB int64
	logger     *logging.EnterpriseLogger
}

func NewSandboxProvider(cfg *config.Config, logger *logging.EnterpriseLogger) *SandboxProvider {
	return &SandboxProvider{
		dir:        cfg.Sanitize.SandboxDir,
		count:      cfg.Sanitize.SandboxDisks,
		diskSizeMB: cfg.Sanitize.SandboxDiskSizeMB,
		logger:     logger,
	}
}

// Ensure создаёт недостающие виртуальные диски
func (p *SandboxProvider) Ensure() error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("не удалось создать директорию sandbox: %w", err)
	}

	size := p.diskSizeMB * 1024 * 1024
	if free, err := freeSpace(p.dir); err == nil && free > 0 && uint64(size*int64(p.count)) > free {
		return fmt.Errorf("недостаточно места для %d виртуальных дисков по %d МБ", p.count, p.diskSizeMB)
	}

	for i := 0; i < p.count; i++ {
		path := p.diskPath(i)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("не удалось создать виртуальный диск: %w", err)
		}
		if err := f.Truncate(size); err != nil {
			f.Close()
			return fmt.Errorf("не удалось задать размер виртуального диска: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		p.logger.Log("INFO", "Создан виртуальный диск", "path", path, "size_mb", p.diskSizeMB)
	}
	return nil
}

// ListDevices возвращает факты всех виртуальных дисков
func (p *SandboxProvider) ListDevices(ctx context.Context) ([]nist.DeviceFacts, error) {
	if err := p.Ensure(); err != nil {
		return nil, err
	}

	facts := make([]nist.DeviceFacts, 0, p.count)
	for i := 0; i < p.count; i++ {
		f, err := p.describe(p.diskPath(i))
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, nil
}

// DescribeDevice возвращает факты одного виртуального диска
func (p *SandboxProvider) DescribeDevice(ctx context.Context, path string) (nist.DeviceFacts, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nist.DeviceFacts{}, &DeviceNotFoundError{Path: path}
	}
	absDir, err := filepath.Abs(p.dir)
	if err != nil {
		return nist.DeviceFacts{}, &DeviceNotFoundError{Path: path}
	}
	if filepath.Dir(abs) != absDir {
		return nist.DeviceFacts{}, &DeviceNotFoundError{Path: path}
	}
	return p.describe(abs)
}

func (p *SandboxProvider) describe(path string) (nist.DeviceFacts, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nist.DeviceFacts{}, &DeviceNotFoundError{Path: path}
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return nist.DeviceFacts{
		Path:         path,
		Manufacturer: "Sandbox",
		Model:        "Sandbox VDisk",
		SerialNumber: "SBX-" + stem,
		SizeBytes:    info.Size(),
		Transport:    nist.TransportFile,
		MediaType:    nist.MediaVirtual,
	}, nil
}

func (p *SandboxProvider) diskPath(i int) string {
	return filepath.Join(p.dir, fmt.Sprintf("vdisk%d.img", i))
}
