/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config manages page cache configuration.

Sources, lowest to highest precedence:
 1. Default values
 2. Configuration file
 3. Environment variables
 4. Command-line flags (applied by the caller after Load)

Configuration File Format:
The file uses a flat TOML subset: one key = value per line, # comments,
quoted or bare strings.

Example configuration file:

	# Page cache configuration
	data_file = "/var/lib/pagecache/data.db"
	backend = "file"
	pool_frame_count = 4096
	eviction_policy = "clock"
	max_dirty_pages = 256
	flush_interval_ms = 500
	io_workers = 4
	checkpoint_interval_secs = 60
	metrics_addr = ":9464"
	log_level = "info"

Environment Variables:
Every option can be set as PAGECACHE_<KEY>, for example
PAGECACHE_POOL_FRAME_COUNT or PAGECACHE_EVICTION_POLICY. PAGECACHE_CONFIG_FILE
names the configuration file.
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	ferrors "pagecache/internal/errors"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "PAGECACHE_"

// EnvConfigFile names the configuration file.
const EnvConfigFile = EnvPrefix + "CONFIG_FILE"

// Default configuration file paths (searched in order).
var DefaultConfigPaths = []string{
	"/etc/pagecache/pagecache.conf",
	"$HOME/.config/pagecache/pagecache.conf",
	"./pagecache.conf",
}

// Config holds every page cache option.
type Config struct {
	// Buffer pool
	PoolFrameCount int    `toml:"pool_frame_count" json:"pool_frame_count"`
	EvictionPolicy string `toml:"eviction_policy" json:"eviction_policy"` // clock, lru, 2q, lruk, arc, lirs
	LRUK           int    `toml:"lruk_k" json:"lruk_k"`

	// Prefetch
	PrefetchEnabled  bool `toml:"prefetch_enabled" json:"prefetch_enabled"`
	PrefetchDepthMin int  `toml:"prefetch_depth_min" json:"prefetch_depth_min"`
	PrefetchDepthMax int  `toml:"prefetch_depth_max" json:"prefetch_depth_max"`

	// Write-behind
	MaxDirtyPages   int `toml:"max_dirty_pages" json:"max_dirty_pages"`
	FlushIntervalMS int `toml:"flush_interval_ms" json:"flush_interval_ms"`
	FlushBatchSize  int `toml:"flush_batch_size" json:"flush_batch_size"`

	// I/O scheduler
	IOQueueCapacity int `toml:"io_queue_capacity" json:"io_queue_capacity"`
	IOWorkers       int `toml:"io_workers" json:"io_workers"`
	IOTimeoutMS     int `toml:"io_timeout_ms" json:"io_timeout_ms"`
	IORetryAttempts int `toml:"io_retry_attempts" json:"io_retry_attempts"`

	CheckpointIntervalSecs int `toml:"checkpoint_interval_secs" json:"checkpoint_interval_secs"` // 0 = disabled

	// Storage
	DataFile      string `toml:"data_file" json:"data_file"`
	Backend       string `toml:"backend" json:"backend"` // file or memory
	DirectIO      bool   `toml:"direct_io" json:"direct_io"`
	VictimCacheMB int    `toml:"victim_cache_mb" json:"victim_cache_mb"` // 0 = off
	WALFile       string `toml:"wal_file" json:"wal_file"`               // empty = no log

	// Observability
	MetricsAddr string `toml:"metrics_addr" json:"metrics_addr"`
	LogLevel    string `toml:"log_level" json:"log_level"`
	LogJSON     bool   `toml:"log_json" json:"log_json"`

	// Metadata
	ConfigFile string `toml:"-" json:"-"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		PoolFrameCount:         1024,
		EvictionPolicy:         "clock",
		LRUK:                   2,
		PrefetchEnabled:        true,
		PrefetchDepthMin:       2,
		PrefetchDepthMax:       32,
		MaxDirtyPages:          128,
		FlushIntervalMS:        500,
		FlushBatchSize:         64,
		IOQueueCapacity:        1024,
		IOWorkers:              4,
		IOTimeoutMS:            5000,
		IORetryAttempts:        3,
		CheckpointIntervalSecs: 60,
		DataFile:               "pagecache.db",
		Backend:                "file",
		DirectIO:               false,
		VictimCacheMB:          0,
		WALFile:                "",
		MetricsAddr:            "",
		LogLevel:               "info",
		LogJSON:                false,
	}
}

// Keys lists every option in file order.
var Keys = []string{
	"pool_frame_count", "eviction_policy", "lruk_k",
	"prefetch_enabled", "prefetch_depth_min", "prefetch_depth_max",
	"max_dirty_pages", "flush_interval_ms", "flush_batch_size",
	"io_queue_capacity", "io_workers", "io_timeout_ms", "io_retry_attempts",
	"checkpoint_interval_secs",
	"data_file", "backend", "direct_io", "victim_cache_mb", "wal_file",
	"metrics_addr", "log_level", "log_json",
}

// EnvName returns the environment variable for an option key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// Manager handles configuration loading, validation, and access.
type Manager struct {
	config *Config
	mu     sync.RWMutex

	onReload []func(*Config)
}

// NewManager creates a new configuration manager with default values.
func NewManager() *Manager {
	return &Manager{
		config:   DefaultConfig(),
		onReload: make([]func(*Config), 0),
	}
}

var globalManager = NewManager()

// Global returns the global configuration manager.
func Global() *Manager {
	return globalManager
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Set replaces the configuration.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// OnReload registers a callback run after Reload.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

func (m *Manager) notifyReload() {
	m.mu.RLock()
	callbacks := make([]func(*Config), len(m.onReload))
	copy(callbacks, m.onReload)
	cfg := *m.config
	m.mu.RUnlock()

	for _, fn := range callbacks {
		c := cfg
		fn(&c)
	}
}

var validPolicies = []string{"clock", "lru", "2q", "lruk", "arc", "lirs"}

// Validate checks every option and reports all violations at once.
func (c *Config) Validate() error {
	var errs []string
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("invalid %s: %d (must be positive)", name, v))
		}
	}

	positive("pool_frame_count", c.PoolFrameCount)
	positive("io_queue_capacity", c.IOQueueCapacity)
	positive("io_workers", c.IOWorkers)
	positive("io_retry_attempts", c.IORetryAttempts)
	positive("flush_batch_size", c.FlushBatchSize)

	policy := strings.ToLower(c.EvictionPolicy)
	known := false
	for _, p := range validPolicies {
		if policy == p {
			known = true
			break
		}
	}
	if !known {
		errs = append(errs, fmt.Sprintf("invalid eviction_policy: %s (must be one of %s)", c.EvictionPolicy, strings.Join(validPolicies, ", ")))
	}
	if policy == "lruk" && c.LRUK < 1 {
		errs = append(errs, fmt.Sprintf("invalid lruk_k: %d (must be at least 1)", c.LRUK))
	}

	if c.PrefetchEnabled {
		if c.PrefetchDepthMin < 1 {
			errs = append(errs, fmt.Sprintf("invalid prefetch_depth_min: %d (must be at least 1)", c.PrefetchDepthMin))
		}
		if c.PrefetchDepthMax < c.PrefetchDepthMin {
			errs = append(errs, fmt.Sprintf("prefetch_depth_max (%d) must not be below prefetch_depth_min (%d)", c.PrefetchDepthMax, c.PrefetchDepthMin))
		}
	}

	if c.MaxDirtyPages < 0 {
		errs = append(errs, fmt.Sprintf("invalid max_dirty_pages: %d (must not be negative)", c.MaxDirtyPages))
	}
	if c.MaxDirtyPages > c.PoolFrameCount && c.PoolFrameCount > 0 {
		errs = append(errs, fmt.Sprintf("max_dirty_pages (%d) exceeds pool_frame_count (%d)", c.MaxDirtyPages, c.PoolFrameCount))
	}
	if c.FlushIntervalMS < 0 {
		errs = append(errs, fmt.Sprintf("invalid flush_interval_ms: %d (must not be negative)", c.FlushIntervalMS))
	}
	if c.IOTimeoutMS < 0 {
		errs = append(errs, fmt.Sprintf("invalid io_timeout_ms: %d (must not be negative)", c.IOTimeoutMS))
	}
	if c.CheckpointIntervalSecs < 0 {
		errs = append(errs, fmt.Sprintf("invalid checkpoint_interval_secs: %d (must not be negative)", c.CheckpointIntervalSecs))
	}
	if c.VictimCacheMB < 0 {
		errs = append(errs, fmt.Sprintf("invalid victim_cache_mb: %d (must not be negative)", c.VictimCacheMB))
	}

	switch strings.ToLower(c.Backend) {
	case "file":
		if c.DataFile == "" {
			errs = append(errs, "data_file is required for the file backend")
		}
	case "memory":
		if c.DirectIO {
			errs = append(errs, "direct_io requires the file backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid backend: %s (must be file or memory)", c.Backend))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel))
	}

	if len(errs) > 0 {
		return ferrors.InvalidConfig(fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - ")))
	}
	return nil
}

// LoadFromFile loads configuration from a TOML file on top of the defaults.
func (m *Manager) LoadFromFile(path string) error {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := parseTOML(string(data), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ConfigFile = path
	m.Set(cfg)
	return nil
}

// LoadFromEnv applies PAGECACHE_* variables over the current configuration.
func (m *Manager) LoadFromEnv() error {
	cfg := m.Get()
	for _, key := range Keys {
		v, ok := os.LookupEnv(EnvName(key))
		if !ok || v == "" {
			continue
		}
		if err := applyConfigValue(cfg, key, v); err != nil {
			return fmt.Errorf("%s: %w", EnvName(key), err)
		}
	}
	m.Set(cfg)
	return nil
}

// FindConfigFile returns the first configuration file found, or "".
func FindConfigFile() string {
	if envPath := os.Getenv(EnvConfigFile); envPath != "" {
		if _, err := os.Stat(os.ExpandEnv(envPath)); err == nil {
			return os.ExpandEnv(envPath)
		}
	}

	for _, path := range DefaultConfigPaths {
		expandedPath := os.ExpandEnv(path)
		if _, err := os.Stat(expandedPath); err == nil {
			return expandedPath
		}
	}

	return ""
}

// Load loads defaults, then the config file if one is found, then the
// environment.
func (m *Manager) Load() error {
	if configPath := FindConfigFile(); configPath != "" {
		if err := m.LoadFromFile(configPath); err != nil {
			return err
		}
	}
	return m.LoadFromEnv()
}

// Reload reloads configuration from file and environment and notifies
// listeners.
func (m *Manager) Reload() error {
	configPath := m.Get().ConfigFile
	if configPath == "" {
		configPath = FindConfigFile()
	}

	m.Set(DefaultConfig())
	if configPath != "" {
		if err := m.LoadFromFile(configPath); err != nil {
			return err
		}
	}
	if err := m.LoadFromEnv(); err != nil {
		return err
	}

	m.notifyReload()
	return nil
}

// parseTOML parses the flat key = value subset the configuration uses.
func parseTOML(data string, cfg *Config) error {
	lines := strings.Split(data, "\n")

	for lineNum, line := range lines {
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("line %d: invalid syntax: %s", lineNum+1, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := applyConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("line %d: %w", lineNum+1, err)
		}
	}

	return nil
}

func parseBool(value string) bool {
	return strings.ToLower(value) == "true" || value == "1"
}

// applyConfigValue sets one option. Unknown keys are ignored for forward
// compatibility.
func applyConfigValue(cfg *Config, key, value string) error {
	ints := map[string]*int{
		"pool_frame_count":         &cfg.PoolFrameCount,
		"lruk_k":                   &cfg.LRUK,
		"prefetch_depth_min":       &cfg.PrefetchDepthMin,
		"prefetch_depth_max":       &cfg.PrefetchDepthMax,
		"max_dirty_pages":          &cfg.MaxDirtyPages,
		"flush_interval_ms":        &cfg.FlushIntervalMS,
		"flush_batch_size":         &cfg.FlushBatchSize,
		"io_queue_capacity":        &cfg.IOQueueCapacity,
		"io_workers":               &cfg.IOWorkers,
		"io_timeout_ms":            &cfg.IOTimeoutMS,
		"io_retry_attempts":        &cfg.IORetryAttempts,
		"checkpoint_interval_secs": &cfg.CheckpointIntervalSecs,
		"victim_cache_mb":          &cfg.VictimCacheMB,
	}
	if p, ok := ints[key]; ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s value: %s", key, value)
		}
		*p = n
		return nil
	}

	switch key {
	case "eviction_policy":
		cfg.EvictionPolicy = strings.ToLower(value)
	case "prefetch_enabled":
		cfg.PrefetchEnabled = parseBool(value)
	case "data_file":
		cfg.DataFile = value
	case "backend":
		cfg.Backend = strings.ToLower(value)
	case "direct_io":
		cfg.DirectIO = parseBool(value)
	case "wal_file":
		cfg.WALFile = value
	case "metrics_addr":
		cfg.MetricsAddr = value
	case "log_level":
		cfg.LogLevel = value
	case "log_json":
		cfg.LogJSON = parseBool(value)
	}
	return nil
}

// String returns a human-readable summary.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("Page Cache Configuration:\n")
	sb.WriteString(fmt.Sprintf("  Backend:          %s\n", c.Backend))
	if c.DataFile != "" {
		sb.WriteString(fmt.Sprintf("  Data File:        %s\n", c.DataFile))
	}
	sb.WriteString(fmt.Sprintf("  Direct I/O:       %v\n", c.DirectIO))
	sb.WriteString(fmt.Sprintf("  Frames:           %d\n", c.PoolFrameCount))
	sb.WriteString(fmt.Sprintf("  Eviction Policy:  %s\n", c.EvictionPolicy))
	sb.WriteString(fmt.Sprintf("  Prefetch:         %v (depth %d-%d)\n", c.PrefetchEnabled, c.PrefetchDepthMin, c.PrefetchDepthMax))
	sb.WriteString(fmt.Sprintf("  Max Dirty Pages:  %d\n", c.MaxDirtyPages))
	sb.WriteString(fmt.Sprintf("  Flush Interval:   %dms\n", c.FlushIntervalMS))
	sb.WriteString(fmt.Sprintf("  I/O Workers:      %d (queue %d)\n", c.IOWorkers, c.IOQueueCapacity))
	sb.WriteString(fmt.Sprintf("  Checkpoint:       %ds\n", c.CheckpointIntervalSecs))
	if c.VictimCacheMB > 0 {
		sb.WriteString(fmt.Sprintf("  Victim Cache:     %d MB\n", c.VictimCacheMB))
	}
	if c.WALFile != "" {
		sb.WriteString(fmt.Sprintf("  WAL File:         %s\n", c.WALFile))
	}
	if c.MetricsAddr != "" {
		sb.WriteString(fmt.Sprintf("  Metrics:          %s\n", c.MetricsAddr))
	}
	sb.WriteString(fmt.Sprintf("  Log Level:        %s\n", c.LogLevel))
	sb.WriteString(fmt.Sprintf("  Log JSON:         %v\n", c.LogJSON))
	if c.ConfigFile != "" {
		sb.WriteString(fmt.Sprintf("  Config File:      %s\n", c.ConfigFile))
	}
	return sb.String()
}

// ToTOML returns the configuration in the file format.
func (c *Config) ToTOML() string {
	var sb strings.Builder
	sb.WriteString("# Page cache configuration\n\n")
	sb.WriteString("# Storage: file or memory\n")
	sb.WriteString(fmt.Sprintf("backend = \"%s\"\n", c.Backend))
	sb.WriteString(fmt.Sprintf("data_file = \"%s\"\n", c.DataFile))
	sb.WriteString(fmt.Sprintf("direct_io = %v\n", c.DirectIO))
	sb.WriteString(fmt.Sprintf("victim_cache_mb = %d\n", c.VictimCacheMB))
	sb.WriteString(fmt.Sprintf("wal_file = \"%s\"\n\n", c.WALFile))
	sb.WriteString("# Buffer pool\n")
	sb.WriteString(fmt.Sprintf("pool_frame_count = %d\n", c.PoolFrameCount))
	sb.WriteString(fmt.Sprintf("eviction_policy = \"%s\"\n", c.EvictionPolicy))
	sb.WriteString(fmt.Sprintf("lruk_k = %d\n\n", c.LRUK))
	sb.WriteString("# Read-ahead\n")
	sb.WriteString(fmt.Sprintf("prefetch_enabled = %v\n", c.PrefetchEnabled))
	sb.WriteString(fmt.Sprintf("prefetch_depth_min = %d\n", c.PrefetchDepthMin))
	sb.WriteString(fmt.Sprintf("prefetch_depth_max = %d\n\n", c.PrefetchDepthMax))
	sb.WriteString("# Write-behind\n")
	sb.WriteString(fmt.Sprintf("max_dirty_pages = %d\n", c.MaxDirtyPages))
	sb.WriteString(fmt.Sprintf("flush_interval_ms = %d\n", c.FlushIntervalMS))
	sb.WriteString(fmt.Sprintf("flush_batch_size = %d\n", c.FlushBatchSize))
	sb.WriteString(fmt.Sprintf("checkpoint_interval_secs = %d\n\n", c.CheckpointIntervalSecs))
	sb.WriteString("# I/O scheduler\n")
	sb.WriteString(fmt.Sprintf("io_queue_capacity = %d\n", c.IOQueueCapacity))
	sb.WriteString(fmt.Sprintf("io_workers = %d\n", c.IOWorkers))
	sb.WriteString(fmt.Sprintf("io_timeout_ms = %d\n", c.IOTimeoutMS))
	sb.WriteString(fmt.Sprintf("io_retry_attempts = %d\n\n", c.IORetryAttempts))
	sb.WriteString("# Observability\n")
	sb.WriteString(fmt.Sprintf("metrics_addr = \"%s\"\n", c.MetricsAddr))
	sb.WriteString(fmt.Sprintf("log_level = \"%s\"\n", c.LogLevel))
	sb.WriteString(fmt.Sprintf("log_json = %v\n", c.LogJSON))
	return sb.String()
}

// SaveToFile writes the configuration to path, creating its directory.
func (c *Config) SaveToFile(path string) error {
	path = os.ExpandEnv(path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(c.ToTOML()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
