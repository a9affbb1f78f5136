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
Package engine wires a complete page cache from a Config.

	┌────────────┐   ┌──────────────┐   ┌───────────┐   ┌──────────────┐
	│  backend   │ ◄─│ victim cache │ ◄─│ scheduler │ ◄─│ buffer pool  │
	│ file / mem │   │  (optional)  │   │ 3 queues  │   │ + flusher    │
	└────────────┘   └──────────────┘   └───────────┘   │ + prefetch   │
	                                                    └──────┬───────┘
	                                      checkpoint manager ──┘
	                                      metrics + health ────┘

Close tears the stack down in reverse: metrics, the checkpoint manager
(which takes a final checkpoint), the pool, the scheduler, the write-ahead
log and the backend. The log outlives the pool's final flush.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pagecache/internal/buffer"
	"pagecache/internal/config"
	ferrors "pagecache/internal/errors"
	"pagecache/internal/eviction"
	"pagecache/internal/health"
	"pagecache/internal/logging"
	"pagecache/internal/metrics"
	"pagecache/internal/prefetch"
	"pagecache/internal/storage/disk"
	"pagecache/internal/storage/wal"
)

// Version is reported by health responses.
const Version = "1.0.0"

// Engine is an open page cache.
type Engine struct {
	config     *config.Config
	backend    disk.Backend
	sched      *disk.Scheduler
	alloc      *disk.SequentialAllocator
	pool       *buffer.BufferPool
	checkpoint *buffer.CheckpointManager
	checker    *health.Checker
	log        *wal.Log // owned; nil when the caller supplies the WAL
	metrics    *metrics.Server
	logger     *logging.Logger
}

// SchedulerConfig derives scheduler settings from cfg.
func SchedulerConfig(cfg *config.Config) disk.SchedulerConfig {
	sc := disk.DefaultSchedulerConfig()
	sc.Workers = cfg.IOWorkers
	sc.QueueCapacity = cfg.IOQueueCapacity
	sc.Timeout = time.Duration(cfg.IOTimeoutMS) * time.Millisecond
	sc.RetryAttempts = cfg.IORetryAttempts
	return sc
}

// PoolConfig derives buffer pool settings from cfg.
func PoolConfig(cfg *config.Config) buffer.Config {
	pc := buffer.DefaultConfig()
	pc.Frames = cfg.PoolFrameCount
	pc.Policy = eviction.Kind(strings.ToLower(cfg.EvictionPolicy))
	pc.LRUK = cfg.LRUK
	pc.MaxDirtyPages = cfg.MaxDirtyPages
	pc.FlushInterval = time.Duration(cfg.FlushIntervalMS) * time.Millisecond
	pc.FlushBatchSize = cfg.FlushBatchSize
	pc.Prefetch = cfg.PrefetchEnabled
	pc.PrefetchConfig = prefetch.DefaultConfig()
	pc.PrefetchConfig.MinDepth = cfg.PrefetchDepthMin
	pc.PrefetchConfig.MaxDepth = cfg.PrefetchDepthMax
	return pc
}

// MarkerPath returns where checkpoint markers for cfg are written, or "" for
// the memory backend.
func MarkerPath(cfg *config.Config) string {
	if strings.ToLower(cfg.Backend) != "file" || cfg.DataFile == "" {
		return ""
	}
	return cfg.DataFile + ".ckpt"
}

func openBackend(cfg *config.Config) (disk.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return disk.NewMemoryBackend(), nil
	case "file":
		fb, err := disk.OpenFile(cfg.DataFile, cfg.DirectIO)
		if err != nil {
			return nil, ferrors.IOError("open "+cfg.DataFile, 0, err, false)
		}
		return fb, nil
	default:
		return nil, ferrors.InvalidConfig(fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
}

// Open validates cfg and starts every component. When w is nil and
// cfg.WALFile is set, the engine opens and owns a log at that path.
func Open(cfg *config.Config, w buffer.WAL) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)

	e := &Engine{config: cfg, logger: logging.NewLogger("engine")}
	var err error
	e.backend, err = openBackend(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.VictimCacheMB > 0 {
		cached, err := disk.NewCachedBackend(e.backend, int64(cfg.VictimCacheMB)<<20)
		if err != nil {
			e.backend.Close()
			return nil, err
		}
		e.backend = cached
	}

	e.alloc, err = disk.AllocatorFor(e.backend)
	if err != nil {
		e.backend.Close()
		return nil, err
	}

	if w == nil && cfg.WALFile != "" {
		e.log, err = wal.Open(cfg.WALFile)
		if err != nil {
			e.backend.Close()
			return nil, err
		}
		w = e.log
	}

	e.sched = disk.NewScheduler(e.backend, SchedulerConfig(cfg))
	e.sched.Start()

	e.pool, err = buffer.New(PoolConfig(cfg), e.sched, e.alloc, w)
	if err != nil {
		e.sched.Close()
		if e.log != nil {
			e.log.Close()
		}
		e.backend.Close()
		return nil, err
	}

	e.checkpoint = buffer.NewCheckpointManager(e.pool, buffer.CheckpointConfig{
		MarkerPath: MarkerPath(cfg),
		Interval:   time.Duration(cfg.CheckpointIntervalSecs) * time.Second,
	})
	e.checkpoint.Start()

	e.checker = health.NewChecker(Version)
	e.registerChecks()
	if cfg.MetricsAddr != "" {
		e.metrics = metrics.NewServer(cfg.MetricsAddr, e.pool, e.checker)
		if err := e.metrics.Start(); err != nil {
			e.logger.Warn("Metrics server not started", "addr", cfg.MetricsAddr, "error", err)
			e.metrics = nil
		}
	}

	e.logger.Info("Page cache opened",
		"backend", cfg.Backend,
		"data_file", cfg.DataFile,
		"frames", cfg.PoolFrameCount,
		"policy", cfg.EvictionPolicy,
		"pages", e.alloc.Next())
	return e, nil
}

func (e *Engine) registerChecks() {
	e.checker.RegisterCheck("backend", health.StorageCheck(func() error {
		if s, ok := e.backend.(disk.Sizer); ok {
			_, err := s.Size()
			return err
		}
		return nil
	}))
	e.checker.RegisterCheck("pins", health.PinPressureCheck(func() (int, int) {
		s := e.pool.Stats()
		return s.Pinned, s.Frames
	}))
	e.checker.RegisterCheck("write_behind", health.DirtyCheck(func() (int, int) {
		return e.pool.Stats().Dirty, e.config.MaxDirtyPages
	}))
	e.checker.RegisterCheck("io_queues", health.QueueCheck(func() (int, int, uint64) {
		d := e.sched.Depths()
		deepest := max(d.Read, d.Write, d.Sync)
		return deepest, e.config.IOQueueCapacity, e.sched.Stats().QueueFull
	}))
}

// Pool returns the buffer pool.
func (e *Engine) Pool() *buffer.BufferPool { return e.pool }

// Scheduler returns the I/O scheduler.
func (e *Engine) Scheduler() *disk.Scheduler { return e.sched }

// Backend returns the storage backend, including any victim cache.
func (e *Engine) Backend() disk.Backend { return e.backend }

// Checkpointer returns the checkpoint manager.
func (e *Engine) Checkpointer() *buffer.CheckpointManager { return e.checkpoint }

// Log returns the write-ahead log the engine opened, or nil.
func (e *Engine) Log() *wal.Log { return e.log }

// Health returns the health checker.
func (e *Engine) Health() *health.Checker { return e.checker }

// MetricsAddr returns the metrics listen address, or "" when disabled.
func (e *Engine) MetricsAddr() string {
	if e.metrics == nil {
		return ""
	}
	return e.metrics.Addr()
}

// Stats returns the pool statistics.
func (e *Engine) Stats() buffer.BufferPoolStats { return e.pool.Stats() }

// Close shuts everything down and returns the first error.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.metrics != nil {
		errs = append(errs, e.metrics.Stop())
	}
	e.checkpoint.Stop()
	errs = append(errs, e.pool.Close(ctx))
	errs = append(errs, e.sched.Close())
	if e.log != nil {
		errs = append(errs, e.log.Close())
	}
	errs = append(errs, e.backend.Close())

	err := errors.Join(errs...)
	if err != nil {
		e.logger.Error("Page cache closed with errors", "error", err)
		return err
	}
	e.logger.Info("Page cache closed")
	return nil
}
