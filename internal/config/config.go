package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/annel0/blockworld/internal/logging"
	"github.com/annel0/blockworld/internal/scheduler"
	"github.com/annel0/blockworld/internal/world"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации процесса
type Config struct {
	World     WorldConfig     `yaml:"world"`
	Workers   WorkersConfig   `yaml:"workers"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WorldConfig параметры мира.
// Flatness и TreeFrequency не проверяются: их диапазон гарантирует
// интерфейс настройки.
type WorldConfig struct {
	Seed          int64   `yaml:"seed"`
	Flatness      float64 `yaml:"flatness"`
	TreeFrequency float64 `yaml:"tree_frequency"`
	Noise         string  `yaml:"noise"`
	ViewRadius    int     `yaml:"view_radius"`
	TickMs        int     `yaml:"tick_ms"`
}

// WorkersConfig параметры пулов воркеров
type WorkersConfig struct {
	// Enabled false переводит движок в синхронный режим
	Enabled         bool    `yaml:"enabled"`
	Count           int     `yaml:"count"` // 0: по числу логических CPU
	GenerationShare float64 `yaml:"generation_share"`
	TaskDeadlineMs  int     `yaml:"task_deadline_ms"` // 0: без дедлайна
	MaxRequeues     int     `yaml:"max_requeues"`
	CompressFrames  bool    `yaml:"compress_frames"`
}

// ServerConfig параметры HTTP API
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TelemetryConfig параметры OpenTelemetry
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig параметры логирования
type LoggingConfig struct {
	Level string `yaml:"level"`
	// File включает запись в logs/<component>_<время>.log
	File bool `yaml:"file"`
	// FileLevel порог записи в файлы
	FileLevel string `yaml:"file_level"`
}

const (
	envConfigPath = "BLOCKWORLD_CONFIG"
	envHTTPAddr   = "BLOCKWORLD_HTTP_ADDR"

	defaultHTTPAddr = ":8088"
)

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	gen := world.DefaultGenConfig()
	return &Config{
		World: WorldConfig{
			Seed:          1337,
			Flatness:      gen.Flatness,
			TreeFrequency: gen.TreeFrequency,
			Noise:         gen.Noise.String(),
			ViewRadius:    3,
			TickMs:        16,
		},
		Workers: WorkersConfig{
			Enabled:         true,
			GenerationShare: scheduler.DefaultGenerationShare,
			MaxRequeues:     1,
		},
		Telemetry: TelemetryConfig{ServiceName: "blockworld"},
		Logging:   LoggingConfig{Level: "info", FileLevel: "debug"},
	}
}

// Load читает YAML файл поверх значений по умолчанию.
// Если path == "", берётся ENV BLOCKWORLD_CONFIG; если и он пуст
// или файла нет, возвращаются значения по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Warn("Файл конфигурации %s не найден, используются значения по умолчанию", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("конфигурация %s: %w", path, err)
	}
	return cfg, nil
}

// Validate проверяет структурные параметры
func (c *Config) Validate() error {
	if _, err := world.ParseNoiseKind(c.World.Noise); err != nil {
		return err
	}
	if c.World.ViewRadius < 1 {
		return fmt.Errorf("view_radius должен быть >= 1, получено %d", c.World.ViewRadius)
	}
	if c.World.TickMs < 0 {
		return fmt.Errorf("tick_ms не может быть отрицательным: %d", c.World.TickMs)
	}
	if c.Workers.Count < 0 {
		return fmt.Errorf("workers.count не может быть отрицательным: %d", c.Workers.Count)
	}
	if s := c.Workers.GenerationShare; s != 0 && (s <= 0 || s >= 1) {
		return fmt.Errorf("generation_share должен лежать в (0,1), получено %v", s)
	}
	if c.Workers.TaskDeadlineMs < 0 || c.Workers.MaxRequeues < 0 {
		return fmt.Errorf("task_deadline_ms и max_requeues не могут быть отрицательными")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Logging.FileLevel); err != nil {
		return fmt.Errorf("file_level: %w", err)
	}
	return nil
}

// GenConfig возвращает параметры генератора
func (w WorldConfig) GenConfig() world.GenConfig {
	noise, _ := world.ParseNoiseKind(w.Noise)
	return world.GenConfig{
		Flatness:      w.Flatness,
		TreeFrequency: w.TreeFrequency,
		Noise:         noise,
	}
}

// TickInterval период цикла движка
func (w WorldConfig) TickInterval() time.Duration {
	return time.Duration(w.TickMs) * time.Millisecond
}

// SchedulerOptions переводит секцию workers в параметры планировщика
func (w WorkersConfig) SchedulerOptions() scheduler.Options {
	return scheduler.Options{
		Workers:         w.Count,
		GenerationShare: w.GenerationShare,
		TaskDeadline:    time.Duration(w.TaskDeadlineMs) * time.Millisecond,
		MaxRequeues:     w.MaxRequeues,
		CompressFrames:  w.CompressFrames,
	}
}

// GetHTTPAddr возвращает адрес HTTP API с приоритетом: config -> env -> default
func (s *ServerConfig) GetHTTPAddr() string {
	if s.HTTPAddr != "" {
		return s.HTTPAddr
	}
	if env := os.Getenv(envHTTPAddr); env != "" {
		if _, err := strconv.Atoi(env); err == nil {
			return ":" + env
		}
		return env
	}
	return defaultHTTPAddr
}
