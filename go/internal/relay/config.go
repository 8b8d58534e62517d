package relay

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/doodlegame/doodle/go/internal/archive"
	"gopkg.in/yaml.v3"
)

// Config holds configuration for the relay service
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

// ArchiveConfig describes how finished canvases are published.
type ArchiveConfig struct {
	Dir            string            `yaml:"dir"`
	Attempts       []archive.Attempt `yaml:"attempts"`
	AttemptTimeout time.Duration     `yaml:"attempt_timeout"`
	SweepSchedule  string            `yaml:"sweep_schedule"`
	SweepMaxAge    time.Duration     `yaml:"sweep_max_age"`
}

func DefaultConfig() Config {
	return Config{
		Connection: DefaultConnectionConfig(),
		Archive: ArchiveConfig{
			Dir:            os.TempDir(),
			Attempts:       archive.DefaultAttempts(),
			AttemptTimeout: 60 * time.Second,
			SweepSchedule:  archive.DefaultSweepSchedule,
			SweepMaxAge:    time.Hour,
		},
	}
}

// LoadConfig overlays the YAML file at path onto the defaults. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Archive.Attempts) == 0 {
		cfg.Archive.Attempts = archive.DefaultAttempts()
	}
	cfg.Connection = cfg.Connection.withDefaults()
	return cfg, nil
}
