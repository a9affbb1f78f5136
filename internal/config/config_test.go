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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ferrors "pagecache/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PoolFrameCount != 1024 {
		t.Errorf("Expected default pool_frame_count 1024, got %d", cfg.PoolFrameCount)
	}
	if cfg.EvictionPolicy != "clock" {
		t.Errorf("Expected default eviction_policy 'clock', got '%s'", cfg.EvictionPolicy)
	}
	if cfg.MaxDirtyPages != 128 {
		t.Errorf("Expected default max_dirty_pages 128, got %d", cfg.MaxDirtyPages)
	}
	if cfg.IOQueueCapacity != 1024 {
		t.Errorf("Expected default io_queue_capacity 1024, got %d", cfg.IOQueueCapacity)
	}
	if cfg.IOTimeoutMS != 5000 {
		t.Errorf("Expected default io_timeout_ms 5000, got %d", cfg.IOTimeoutMS)
	}
	if !cfg.PrefetchEnabled || cfg.PrefetchDepthMin != 2 || cfg.PrefetchDepthMax != 32 {
		t.Errorf("Unexpected prefetch defaults: %v %d-%d", cfg.PrefetchEnabled, cfg.PrefetchDepthMin, cfg.PrefetchDepthMax)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log_level 'info', got '%s'", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config does not validate: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid default", func(*Config) {}, ""},
		{"memory backend without data file", func(c *Config) { c.Backend = "memory"; c.DataFile = "" }, ""},
		{"zero frames", func(c *Config) { c.PoolFrameCount = 0 }, "pool_frame_count"},
		{"unknown policy", func(c *Config) { c.EvictionPolicy = "fifo" }, "eviction_policy"},
		{"lruk without k", func(c *Config) { c.EvictionPolicy = "lruk"; c.LRUK = 0 }, "lruk_k"},
		{"prefetch depth inverted", func(c *Config) { c.PrefetchDepthMin = 8; c.PrefetchDepthMax = 4 }, "prefetch_depth_max"},
		{"prefetch disabled ignores depth", func(c *Config) { c.PrefetchEnabled = false; c.PrefetchDepthMin = 0 }, ""},
		{"dirty bound over frames", func(c *Config) { c.PoolFrameCount = 64; c.MaxDirtyPages = 65 }, "max_dirty_pages"},
		{"zero workers", func(c *Config) { c.IOWorkers = 0 }, "io_workers"},
		{"file backend without data file", func(c *Config) { c.DataFile = "" }, "data_file"},
		{"direct io on memory", func(c *Config) { c.Backend = "memory"; c.DirectIO = true }, "direct_io"},
		{"unknown backend", func(c *Config) { c.Backend = "s3" }, "backend"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error mentioning %q", tt.wantErr)
			}
			if !errors.Is(err, ferrors.ErrInvalidConfig) {
				t.Errorf("Validate() error is not InvalidConfig: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolFrameCount = 0
	cfg.IOWorkers = 0
	cfg.LogLevel = "loud"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"pool_frame_count", "io_workers", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %s", err, want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	configContent := `# Test configuration
data_file = "/tmp/test.db"
pool_frame_count = 256
eviction_policy = "ARC"
prefetch_enabled = false
max_dirty_pages = 32
io_workers = 8
direct_io = true
victim_cache_mb = 16
metrics_addr = ':9464'
log_level = "debug"
log_json = true
future_option = 1
`
	configPath := filepath.Join(t.TempDir(), "pagecache.conf")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	cfg := mgr.Get()

	if cfg.DataFile != "/tmp/test.db" {
		t.Errorf("Expected data_file '/tmp/test.db', got '%s'", cfg.DataFile)
	}
	if cfg.PoolFrameCount != 256 {
		t.Errorf("Expected pool_frame_count 256, got %d", cfg.PoolFrameCount)
	}
	if cfg.EvictionPolicy != "arc" {
		t.Errorf("Expected eviction_policy 'arc', got '%s'", cfg.EvictionPolicy)
	}
	if cfg.PrefetchEnabled {
		t.Error("Expected prefetch_enabled false")
	}
	if cfg.MaxDirtyPages != 32 || cfg.IOWorkers != 8 || cfg.VictimCacheMB != 16 {
		t.Errorf("Unexpected numeric options: %d %d %d", cfg.MaxDirtyPages, cfg.IOWorkers, cfg.VictimCacheMB)
	}
	if !cfg.DirectIO {
		t.Error("Expected direct_io true")
	}
	if cfg.MetricsAddr != ":9464" {
		t.Errorf("Expected metrics_addr ':9464', got '%s'", cfg.MetricsAddr)
	}
	if cfg.LogLevel != "debug" || !cfg.LogJSON {
		t.Errorf("Unexpected logging options: %s %v", cfg.LogLevel, cfg.LogJSON)
	}
	if cfg.ConfigFile != configPath {
		t.Errorf("Expected ConfigFile '%s', got '%s'", configPath, cfg.ConfigFile)
	}
	if cfg.IOTimeoutMS != 5000 {
		t.Errorf("Unset option lost its default: io_timeout_ms = %d", cfg.IOTimeoutMS)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"missing equals", "pool_frame_count 10\n"},
		{"bad integer", "io_workers = many\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".conf")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write config file: %v", err)
			}
			if err := NewManager().LoadFromFile(path); err == nil {
				t.Error("LoadFromFile succeeded, want error")
			}
		})
	}
	if err := NewManager().LoadFromFile(filepath.Join(dir, "absent.conf")); err == nil {
		t.Error("LoadFromFile of missing file succeeded")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvName("pool_frame_count"), "2048")
	t.Setenv(EnvName("eviction_policy"), "lirs")
	t.Setenv(EnvName("log_json"), "1")
	t.Setenv(EnvName("backend"), "MEMORY")

	mgr := NewManager()
	if err := mgr.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	cfg := mgr.Get()

	if cfg.PoolFrameCount != 2048 {
		t.Errorf("Expected pool_frame_count 2048 from env, got %d", cfg.PoolFrameCount)
	}
	if cfg.EvictionPolicy != "lirs" {
		t.Errorf("Expected eviction_policy 'lirs' from env, got '%s'", cfg.EvictionPolicy)
	}
	if !cfg.LogJSON {
		t.Error("Expected log_json true from env")
	}
	if cfg.Backend != "memory" {
		t.Errorf("Expected backend 'memory' from env, got '%s'", cfg.Backend)
	}
}

func TestLoadFromEnvRejectsBadValue(t *testing.T) {
	t.Setenv(EnvName("io_workers"), "four")
	err := NewManager().LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "PAGECACHE_IO_WORKERS") {
		t.Errorf("LoadFromEnv error = %v, want one naming PAGECACHE_IO_WORKERS", err)
	}
}

func TestConfigPrecedence(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "pagecache.conf")
	if err := os.WriteFile(configPath, []byte("pool_frame_count = 100\nio_workers = 2\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv(EnvName("pool_frame_count"), "300")

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if err := mgr.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	cfg := mgr.Get()

	if cfg.PoolFrameCount != 300 {
		t.Errorf("Expected pool_frame_count 300 (env override), got %d", cfg.PoolFrameCount)
	}
	if cfg.IOWorkers != 2 {
		t.Errorf("Expected io_workers 2 (file), got %d", cfg.IOWorkers)
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataFile = "/var/lib/pagecache/data.db"
	cfg.PoolFrameCount = 4096
	cfg.EvictionPolicy = "2q"
	cfg.PrefetchEnabled = false
	cfg.MetricsAddr = "127.0.0.1:9464"
	cfg.LogJSON = true

	path := filepath.Join(t.TempDir(), "nested", "pagecache.conf")
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	got := mgr.Get()
	got.ConfigFile = ""
	if *got != *cfg {
		t.Errorf("Round trip mismatch:\n got %+v\nwant %+v", *got, *cfg)
	}
}

func TestReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "pagecache.conf")
	if err := os.WriteFile(configPath, []byte("pool_frame_count = 10\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	var reloaded *Config
	mgr.OnReload(func(c *Config) { reloaded = c })

	if err := os.WriteFile(configPath, []byte("pool_frame_count = 20\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite config file: %v", err)
	}
	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if mgr.Get().PoolFrameCount != 20 {
		t.Errorf("Expected pool_frame_count 20 after reload, got %d", mgr.Get().PoolFrameCount)
	}
	if reloaded == nil || reloaded.PoolFrameCount != 20 {
		t.Errorf("OnReload callback saw %+v", reloaded)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	mgr := NewManager()
	cfg := mgr.Get()
	cfg.PoolFrameCount = 1
	if mgr.Get().PoolFrameCount == 1 {
		t.Error("Get returned the manager's own config")
	}
	if Global() != Global() {
		t.Error("Global returned different managers")
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsAddr = ":9464"
	s := cfg.String()
	for _, want := range []string{"Page Cache Configuration", "Eviction Policy:  clock", "Metrics:          :9464"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
}
