// Package config handles UrdDB configuration via environment variables and
// an optional YAML file.
//
// Configuration is loaded from URDDB_* environment variables with
// LoadFromEnv(), or from a YAML file with LoadFile(); environment variables
// win over file values. Validate() checks a configuration before use.
//
// Environment Variables:
//   - URDDB_DATA_DIR="./data"            engine data directory
//   - URDDB_WAL_SEGMENT_SIZE="4MB"       WAL rotation budget (human-readable)
//   - URDDB_LOG_LEVEL="info"             zerolog level name
//   - URDDB_PROCESS_LOCK=true            inter-process branch writer locks
//   - URDDB_BACKEND="fs"                 "fs" or "badger"
//
// Example Usage:
//
//	cfg, err := config.LoadFile("urddb.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//	logger := cfg.Logger()
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds engine configuration.
type Config struct {
	// DataDir is the engine's data directory.
	DataDir string `yaml:"data_dir"`

	// WalSegmentSize is the per-segment WAL byte budget before rotation,
	// as a human-readable size ("4MB", "512KB").
	WalSegmentSize string `yaml:"wal_segment_size"`

	// LogLevel is a zerolog level name: trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// ProcessLock enables inter-process branch writer locks (flock on the
	// branch directory) in addition to the in-process locks.
	ProcessLock bool `yaml:"process_lock"`

	// Backend names the storage adapter: "fs" (default) or "badger".
	// Validate accepts only these names; the urddb command does not read
	// this field and always opens the filesystem adapter.
	Backend string `yaml:"backend"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir:        "./data",
		WalSegmentSize: "4MB",
		LogLevel:       "info",
		Backend:        "fs",
	}
}

// LoadFromEnv builds a configuration from URDDB_* environment variables on
// top of the defaults.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML configuration file, then applies environment
// variables on top.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("URDDB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("URDDB_WAL_SEGMENT_SIZE"); v != "" {
		c.WalSegmentSize = v
	}
	if v := os.Getenv("URDDB_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("URDDB_PROCESS_LOCK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ProcessLock = b
		}
	}
	if v := os.Getenv("URDDB_BACKEND"); v != "" {
		c.Backend = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must not be empty")
	}
	if _, err := c.WalSegmentBytes(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("config: invalid log_level %q: %w", c.LogLevel, err)
	}
	switch c.Backend {
	case "", "fs", "badger":
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	return nil
}

// WalSegmentBytes parses the WAL segment budget into bytes.
func (c *Config) WalSegmentBytes() (uint64, error) {
	if c.WalSegmentSize == "" {
		return 0, nil
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(c.WalSegmentSize)); err != nil {
		return 0, fmt.Errorf("config: invalid wal_segment_size %q: %w", c.WalSegmentSize, err)
	}
	return size.Bytes(), nil
}

// Logger builds a zerolog logger honouring the configured level, writing to
// stderr.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
