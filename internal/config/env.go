package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDebugfsDir   = "MEMTRACE_DEBUGFS_DIR"
	EnvGroup        = "MEMTRACE_GROUP"
	EnvThreshold    = "MEMTRACE_THRESHOLD"
	EnvInterval     = "MEMTRACE_INTERVAL"
	EnvMemorySource = "MEMTRACE_MEMORY_SOURCE"
)

// ApplyEnv loads envFile into the process environment (existing variables win)
// and applies MEMTRACE_* overrides to cfg. A missing envFile is only an error
// when required is set.
func ApplyEnv(cfg *Config, envFile string, required bool) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if required || !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading env file %s: %w", envFile, err)
			}
		}
	}

	if v := os.Getenv(EnvDebugfsDir); v != "" {
		cfg.Kernel.DebugfsDir = v
	}
	if v := os.Getenv(EnvGroup); v != "" {
		cfg.Permissions.Group = v
	}
	if v := os.Getenv(EnvThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvThreshold, err)
		}
		cfg.Monitor.Threshold = f
	}
	if v := os.Getenv(EnvInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvInterval, err)
		}
		cfg.Monitor.Interval = Duration(d)
	}
	if v := os.Getenv(EnvMemorySource); v != "" {
		cfg.Monitor.Source = v
	}
	return validate(cfg)
}
