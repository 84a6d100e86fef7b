// Package config owns the ~/.swapd/config.toml file and the runtime
// constants derived from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"

	"github.com/swaplab/swapd/internal/pagecache"
)

// Config represents the $SWAPD_HOME/config.toml file.
type Config struct {
	ImagePath           string            `toml:"image_path" json:"image_path"`
	Cores               int               `toml:"cores" json:"cores"`
	SegmentSize         datasize.ByteSize `toml:"segment_size" json:"segment_size"`
	CacheSize           datasize.ByteSize `toml:"cache_size" json:"cache_size"`
	MaxCacheEntries     int               `toml:"max_cache_entries" json:"max_cache_entries"`
	MigrationThreshold  int               `toml:"migration_threshold" json:"migration_threshold"`
	CompressionMinLevel int               `toml:"compression_min_level" json:"compression_min_level"`
	CompressionMaxLevel int               `toml:"compression_max_level" json:"compression_max_level"`
	MutatePasses        int               `toml:"mutate_passes" json:"mutate_passes"`
	BaseDelayMS         int               `toml:"base_delay_ms" json:"base_delay_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ImagePath:           filepath.Join(SwapdHome(), "swap.img"),
		Cores:               4,
		SegmentSize:         64 * datasize.MB,
		CacheSize:           16 * datasize.MB,
		MaxCacheEntries:     1024,
		MigrationThreshold:  5,
		CompressionMinLevel: 1,
		CompressionMaxLevel: 9,
		MutatePasses:        125,
		BaseDelayMS:         10,
	}
}

// ValidationError reports one rejected config field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks every constraint the runtime depends on. All violations
// are reported, joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, reason string) {
		errs = append(errs, &ValidationError{Field: field, Reason: reason})
	}

	if c.ImagePath == "" {
		bad("image_path", "must not be empty")
	}
	if c.Cores < 1 {
		bad("cores", "must be at least 1")
	}
	if c.SegmentSize == 0 || uint64(c.SegmentSize)%pagecache.PageSize != 0 {
		bad("segment_size", "must be a non-zero multiple of the page size")
	}
	if uint64(c.CacheSize) < pagecache.PageSize {
		bad("cache_size", "must hold at least one page")
	}
	if c.MaxCacheEntries < 1 {
		bad("max_cache_entries", "must be at least 1")
	}
	if c.MigrationThreshold < 1 {
		bad("migration_threshold", "must be at least 1")
	}
	if c.CompressionMinLevel < 1 || c.CompressionMaxLevel < c.CompressionMinLevel {
		bad("compression_min_level", "levels must satisfy 1 <= min <= max")
	}
	if c.MutatePasses < 1 {
		bad("mutate_passes", "must be at least 1")
	}
	if c.BaseDelayMS < 5 || c.BaseDelayMS > 25 {
		bad("base_delay_ms", "must be between 5 and 25")
	}
	return errors.Join(errs...)
}

// SegmentBytes returns the per-worker segment length.
func (c *Config) SegmentBytes() uint64 { return uint64(c.SegmentSize) }

// ImageBytes returns the addressable region of the backing image.
func (c *Config) ImageBytes() uint64 { return uint64(c.Cores) * c.SegmentBytes() }

// RingBytes returns the ring log capacity.
func (c *Config) RingBytes() int { return int(c.CacheSize) }

// BaseDelay returns the worker throttle delay.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// configDirOverride is set by the --config-dir flag or SWAPD_HOME env var.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir / SWAPD_HOME value.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// SwapdHome returns the config directory path.
// Precedence: --config-dir flag / SetConfigDir > SWAPD_HOME env > ~/.swapd
func SwapdHome() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("SWAPD_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".swapd")
	}
	return filepath.Join(home, ".swapd")
}

// ConfigPath returns the full path to config.toml.
func ConfigPath() string {
	return filepath.Join(SwapdHome(), "config.toml")
}

// RunDir returns the directory holding the socket, pidfile, and daemon log.
func RunDir() string {
	return filepath.Join(SwapdHome(), "run")
}

// SocketPath returns the control socket path.
func SocketPath() string {
	return filepath.Join(RunDir(), "swapd.sock")
}

// PidPath returns the daemon pidfile path.
func PidPath() string {
	return filepath.Join(RunDir(), "swapd.pid")
}

// LogPath returns the daemon log path.
func LogPath() string {
	return filepath.Join(RunDir(), "swapd.log")
}

// EnsureDir creates the swapd home directory if it does not exist.
func EnsureDir() error {
	return os.MkdirAll(SwapdHome(), 0o755)
}

// EnsureRunDir creates the run directory if it does not exist.
func EnsureRunDir() error {
	return os.MkdirAll(RunDir(), 0o755)
}

// Load reads config.toml. A missing file yields the defaults.
func Load() (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}
	return cfg, nil
}

// Save writes the Config struct back to config.toml.
func Save(cfg *Config) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}

// validKeys lists the keys usable with Get/Set.
var validKeys = map[string]bool{
	"image_path":            true,
	"cores":                 true,
	"segment_size":          true,
	"cache_size":            true,
	"max_cache_entries":     true,
	"migration_threshold":   true,
	"compression_min_level": true,
	"compression_max_level": true,
	"mutate_passes":         true,
	"base_delay_ms":         true,
}

// Keys returns the settable config keys.
func Keys() []string {
	keys := make([]string, 0, len(validKeys))
	for k := range validKeys {
		keys = append(keys, k)
	}
	return keys
}

// Get retrieves a single config value by key.
func Get(key string) (string, error) {
	if !validKeys[key] {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	return cfg.Field(key)
}

// Set updates a single config value by key and saves the file.
func Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load()
	if err != nil {
		return err
	}
	if err := cfg.setField(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return Save(cfg)
}

// Field formats one config value by key.
func (c *Config) Field(key string) (string, error) {
	switch key {
	case "image_path":
		return c.ImagePath, nil
	case "cores":
		return strconv.Itoa(c.Cores), nil
	case "segment_size":
		return c.SegmentSize.String(), nil
	case "cache_size":
		return c.CacheSize.String(), nil
	case "max_cache_entries":
		return strconv.Itoa(c.MaxCacheEntries), nil
	case "migration_threshold":
		return strconv.Itoa(c.MigrationThreshold), nil
	case "compression_min_level":
		return strconv.Itoa(c.CompressionMinLevel), nil
	case "compression_max_level":
		return strconv.Itoa(c.CompressionMaxLevel), nil
	case "mutate_passes":
		return strconv.Itoa(c.MutatePasses), nil
	case "base_delay_ms":
		return strconv.Itoa(c.BaseDelayMS), nil
	}
	return "", fmt.Errorf("unknown config key: %s", key)
}

func (c *Config) setField(key, value string) error {
	switch key {
	case "image_path":
		c.ImagePath = value
		return nil
	case "segment_size":
		return c.SegmentSize.UnmarshalText([]byte(value))
	case "cache_size":
		return c.CacheSize.UnmarshalText([]byte(value))
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	switch key {
	case "cores":
		c.Cores = n
	case "max_cache_entries":
		c.MaxCacheEntries = n
	case "migration_threshold":
		c.MigrationThreshold = n
	case "compression_min_level":
		c.CompressionMinLevel = n
	case "compression_max_level":
		c.CompressionMaxLevel = n
	case "mutate_passes":
		c.MutatePasses = n
	case "base_delay_ms":
		c.BaseDelayMS = n
	}
	return nil
}
