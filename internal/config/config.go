package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Enterprise конфигурация
type Config struct {
	Security struct {
		RequireConfirmation bool     `yaml:"require_confirmation"`
		ExcludedDevices     []string `yaml:"excluded_devices"`
	} `yaml:"security"`

	Sanitize struct {
		ChunkSize           int64   `yaml:"chunk_size"`
		MaxSpeedMBps        float64 `yaml:"max_speed_mbps"`
		MaxDuration         string  `yaml:"max_duration"`
		ThroughputSmoothing float64 `yaml:"throughput_smoothing"`
		ThroughputWindow    int     `yaml:"throughput_window"`
		SandboxDir          string  `yaml:"sandbox_dir"`
		SandboxDisks        int     `yaml:"sandbox_disks"`
		SandboxDiskSizeMB   int64   `yaml:"sandbox_disk_size_mb"`
	} `yaml:"sanitize"`

	Keys struct {
		Dir string `yaml:"dir"`
	} `yaml:"keys"`

	Logging struct {
		Level       string `yaml:"level"`
		File        string `yaml:"file"`
		MaxSizeMB   int    `yaml:"max_size_mb"`
		MaxFiles    int    `yaml:"max_files"`
		SIEMEnabled bool   `yaml:"siem_enabled"`
		SIEMServer  string `yaml:"siem_server"`
	} `yaml:"logging"`

	Certificates struct {
		Enabled   bool   `yaml:"enabled"`
		StorePath string `yaml:"store_path"`
		OutDir    string `yaml:"out_dir"`
	} `yaml:"certificates"`

	Reporting struct {
		Enabled   bool   `yaml:"enabled"`
		LocalPath string `yaml:"local_path"`
	} `yaml:"reporting"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	cfg := &Config{}

	cfg.Security.RequireConfirmation = true
	cfg.Security.ExcludedDevices = []string{}

	cfg.Sanitize.ChunkSize = 4 * 1024 * 1024 // 4MB
	cfg.Sanitize.MaxSpeedMBps = 100          // 100MB/s по умолчанию
	cfg.Sanitize.MaxDuration = "2h"
	cfg.Sanitize.ThroughputSmoothing = 0.3
	cfg.Sanitize.ThroughputWindow = 8
	cfg.Sanitize.SandboxDir = "./virtual_media"
	cfg.Sanitize.SandboxDisks = 2
	cfg.Sanitize.SandboxDiskSizeMB = 64

	cfg.Keys.Dir = "./keys"

	cfg.Logging.Level = "INFO"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxFiles = 5
	cfg.Logging.SIEMEnabled = false
	cfg.Logging.SIEMServer = ""

	cfg.Certificates.Enabled = true
	cfg.Certificates.StorePath = "./out/certificates.db"
	cfg.Certificates.OutDir = "./out"

	cfg.Reporting.Enabled = true
	cfg.Reporting.LocalPath = "./reports"

	return cfg
}

// Load загружает конфигурацию из файла
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Валидация конфигурации
	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate проверяет конфигурацию на валидность
func Validate(config *Config) error {
	// Валидация sanitize секции
	if config.Sanitize.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.Sanitize.ChunkSize)
	}
	if config.Sanitize.ChunkSize > 100*1024*1024 { // 100MB max
		return fmt.Errorf("chunk size too large (max 100MB), got %d", config.Sanitize.ChunkSize)
	}

	if config.Sanitize.MaxSpeedMBps < 0 {
		return fmt.Errorf("max speed cannot be negative, got %f", config.Sanitize.MaxSpeedMBps)
	}
	if config.Sanitize.MaxSpeedMBps > 1000 { // 1GB/s max
		return fmt.Errorf("max speed too high (max 1000MB/s), got %f", config.Sanitize.MaxSpeedMBps)
	}

	if config.Sanitize.MaxDuration != "" {
		if _, err := time.ParseDuration(config.Sanitize.MaxDuration); err != nil {
			return fmt.Errorf("invalid max duration format: %s", config.Sanitize.MaxDuration)
		}
	}

	if config.Sanitize.ThroughputSmoothing <= 0 || config.Sanitize.ThroughputSmoothing > 1 {
		return fmt.Errorf("throughput smoothing must be in (0, 1], got %f", config.Sanitize.ThroughputSmoothing)
	}
	if config.Sanitize.ThroughputWindow <= 0 || config.Sanitize.ThroughputWindow > 128 {
		return fmt.Errorf("throughput window must be between 1 and 128, got %d", config.Sanitize.ThroughputWindow)
	}

	if config.Sanitize.SandboxDisks < 0 || config.Sanitize.SandboxDisks > 16 {
		return fmt.Errorf("sandbox disks must be between 0 and 16, got %d", config.Sanitize.SandboxDisks)
	}
	if config.Sanitize.SandboxDiskSizeMB <= 0 || config.Sanitize.SandboxDiskSizeMB > 16*1024 {
		return fmt.Errorf("sandbox disk size must be between 1MB and 16GB, got %dMB", config.Sanitize.SandboxDiskSizeMB)
	}

	// Валидация logging секции
	validLevels := map[string]bool{
		"DEBUG": true,
		"INFO":  true,
		"WARN":  true,
		"ERROR": true,
	}
	if !validLevels[config.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	if config.Logging.MaxSizeMB <= 0 || config.Logging.MaxSizeMB > 1000 {
		return fmt.Errorf("log max size must be between 1MB and 1000MB, got %d", config.Logging.MaxSizeMB)
	}

	if config.Logging.MaxFiles <= 0 || config.Logging.MaxFiles > 50 {
		return fmt.Errorf("log max files must be between 1 and 50, got %d", config.Logging.MaxFiles)
	}

	// Валидация путей
	for _, path := range config.Security.ExcludedDevices {
		if path == "" {
			return fmt.Errorf("empty excluded device path")
		}
	}

	if config.Certificates.Enabled && config.Certificates.StorePath == "" {
		return fmt.Errorf("certificate store path is required when certificates are enabled")
	}

	return nil
}

// Save сохраняет конфигурацию в файл
func Save(config *Config, path string) error {
	// Валидация перед сохранением
	if err := Validate(config); err != nil {
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	// Создаем директорию если нужно
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetMaxDuration возвращает максимальную длительность операции
func (config *Config) GetMaxDuration() time.Duration {
	if config.Sanitize.MaxDuration == "" {
		return 0 // Без лимита
	}

	duration, err := time.ParseDuration(config.Sanitize.MaxDuration)
	if err != nil {
		return 2 * time.Hour // Fallback
	}

	return duration
}
