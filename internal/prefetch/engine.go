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

package prefetch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/semaphore"

	"pagecache/internal/logging"
	"pagecache/internal/storage/page"
)

// Loader brings pages into the cache on behalf of the engine.
type Loader interface {
	// Resident reports whether pid is already cached or being loaded.
	Resident(pid page.ID) bool
	// Prefetch loads pid without leaving it pinned.
	Prefetch(ctx context.Context, pid page.ID) error
}

// Config holds read-ahead tuning.
type Config struct {
	MinDepth     int           `json:"min_depth"`
	MaxDepth     int           `json:"max_depth"`
	InitialDepth int           `json:"initial_depth"`
	HistorySize  int           `json:"history_size"`
	MaxInFlight  int           `json:"max_in_flight"`
	LowLatency   time.Duration `json:"low_latency"`
	HighLatency  time.Duration `json:"high_latency"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		MinDepth:     2,
		MaxDepth:     32,
		InitialDepth: 4,
		HistorySize:  20,
		MaxInFlight:  8,
		LowLatency:   200 * time.Microsecond,
		HighLatency:  5 * time.Millisecond,
	}
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Issued      uint64        `json:"issued"`
	Completed   uint64        `json:"completed"`
	Failed      uint64        `json:"failed"`
	Throttled   uint64        `json:"throttled"`
	Hits        uint64        `json:"hits"`
	Wasted      uint64        `json:"wasted"`
	Depth       int           `json:"depth"`
	LastPattern string        `json:"last_pattern"`
	AvgLatency  time.Duration `json:"avg_latency"`
}

// Engine issues asynchronous read-ahead.
type Engine struct {
	config   Config
	loader   Loader
	detector *Detector
	sem      *semaphore.Weighted
	inflight mapset.Set[page.ID]
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	depth       atomic.Int32
	ewmaNanos   atomic.Int64
	lastPattern atomic.Int32

	issued    atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	throttled atomic.Uint64
	hits      atomic.Uint64
	wasted    atomic.Uint64
}

// NewEngine creates an engine feeding loader.
func NewEngine(loader Loader, config Config) *Engine {
	if config.MinDepth < 1 {
		config.MinDepth = 1
	}
	if config.MaxDepth < config.MinDepth {
		config.MaxDepth = config.MinDepth
	}
	if config.InitialDepth < config.MinDepth || config.InitialDepth > config.MaxDepth {
		config.InitialDepth = config.MinDepth
	}
	if config.MaxInFlight < 1 {
		config.MaxInFlight = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:   config,
		loader:   loader,
		detector: NewDetector(config.HistorySize),
		sem:      semaphore.NewWeighted(int64(config.MaxInFlight)),
		inflight: mapset.NewSet[page.ID](),
		logger:   logging.NewLogger("prefetch"),
		ctx:      ctx,
		cancel:   cancel,
	}
	e.depth.Store(int32(config.InitialDepth))
	return e
}

// Depth returns the current read-ahead depth.
func (e *Engine) Depth() int { return int(e.depth.Load()) }

// OnAccess feeds one demand access to the detector and issues read-ahead
// when it completes a sequential or strided pattern.
func (e *Engine) OnAccess(pid page.ID) {
	pattern, stride := e.detector.Record(pid)
	e.lastPattern.Store(int32(pattern))
	if pattern != PatternSequential && pattern != PatternStrided {
		return
	}
	if e.ctx.Err() != nil {
		return
	}

	depth := e.Depth()
	for i := 1; i <= depth; i++ {
		next := int64(pid) + stride*int64(i)
		if next < 0 {
			break
		}
		target := page.ID(next)
		if e.inflight.Contains(target) || e.loader.Resident(target) {
			continue
		}
		if !e.sem.TryAcquire(1) {
			e.throttled.Add(1)
			return
		}
		if !e.inflight.Add(target) {
			e.sem.Release(1)
			continue
		}
		e.issued.Add(1)
		e.wg.Add(1)
		go e.load(target)
	}
}

func (e *Engine) load(pid page.ID) {
	defer e.wg.Done()
	defer e.sem.Release(1)
	defer e.inflight.Remove(pid)

	start := time.Now()
	if err := e.loader.Prefetch(e.ctx, pid); err != nil {
		e.failed.Add(1)
		e.logger.Debug("Read-ahead failed", "page", pid, "error", err)
		return
	}
	e.completed.Add(1)
	e.Observe(time.Since(start))
}

// Observe folds one completion latency into the smoothed average and adjusts
// the depth.
func (e *Engine) Observe(latency time.Duration) {
	for {
		old := e.ewmaNanos.Load()
		next := int64(latency)
		if old != 0 {
			next = (old*4 + int64(latency)) / 5
		}
		if e.ewmaNanos.CompareAndSwap(old, next) {
			e.adapt(time.Duration(next))
			return
		}
	}
}

func (e *Engine) adapt(avg time.Duration) {
	for {
		d := e.depth.Load()
		nd := d
		switch {
		case avg < e.config.LowLatency && int(d) < e.config.MaxDepth:
			nd = d + 1
		case avg > e.config.HighLatency && int(d) > e.config.MinDepth:
			nd = d - 1
		}
		if nd == d || e.depth.CompareAndSwap(d, nd) {
			return
		}
	}
}

// RecordHit counts a demand pin served by a prefetched frame.
func (e *Engine) RecordHit() { e.hits.Add(1) }

// RecordWasted counts a prefetched frame evicted before any demand pin.
func (e *Engine) RecordWasted() { e.wasted.Add(1) }

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Issued:      e.issued.Load(),
		Completed:   e.completed.Load(),
		Failed:      e.failed.Load(),
		Throttled:   e.throttled.Load(),
		Hits:        e.hits.Load(),
		Wasted:      e.wasted.Load(),
		Depth:       e.Depth(),
		LastPattern: Pattern(e.lastPattern.Load()).String(),
		AvgLatency:  time.Duration(e.ewmaNanos.Load()),
	}
}

// ResetStats zeroes the counters. Depth and the latency average are
// adaptive state and are kept.
func (e *Engine) ResetStats() {
	e.issued.Store(0)
	e.completed.Store(0)
	e.failed.Store(0)
	e.throttled.Store(0)
	e.hits.Store(0)
	e.wasted.Store(0)
}

// Wait blocks until every issued read-ahead has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// Close cancels outstanding read-ahead and waits for it.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}
