package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	rmbg "github.com/josuedeavila/rmbg-service"
)

const (
	// DefaultMaxUploadBytes caps an upload at 16 MiB.
	DefaultMaxUploadBytes = 16 << 20
	DefaultRetention      = time.Hour
	DefaultSweepSchedule  = "@every 10m"
)

// Config configures the HTTP surface. Model is the pipeline configuration.
type Config struct {
	Addr           string        `yaml:"addr"`
	ProcessedDir   string        `yaml:"processed_dir"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// Retention is how long an unclaimed result stays on disk.
	Retention     time.Duration `yaml:"retention"`
	SweepSchedule string        `yaml:"sweep_schedule"`

	Model rmbg.Config `yaml:"model"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:           ":8080",
		ProcessedDir:   "processed",
		MaxUploadBytes: DefaultMaxUploadBytes,
		RequestTimeout: 2 * time.Minute,
		Retention:      DefaultRetention,
		SweepSchedule:  DefaultSweepSchedule,
		Model:          *rmbg.DefaultConfig(),
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	return cfg, nil
}
