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
Package metrics exposes buffer pool statistics in Prometheus text format.

ENDPOINTS:
==========

	GET /metrics      - Prometheus text exposition
	GET /health       - JSON health report, 503 unless healthy
	GET /health/live  - Liveness (the process is serving)
	GET /health/ready - Readiness, 503 only when unhealthy

EXAMPLE METRICS:
================

	pagecache_hits_total 120345
	pagecache_misses_total 2210
	pagecache_hit_ratio 0.9820
	pagecache_dirty_frames 37
	pagecache_io_queue_depth{queue="write"} 4
	pagecache_evictions_total{policy="clock"} 1980
*/
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"pagecache/internal/buffer"
	"pagecache/internal/health"
	"pagecache/internal/logging"
)

// StatsSource supplies the snapshot a scrape reports.
type StatsSource interface {
	Stats() buffer.BufferPoolStats
}

type metric struct {
	name, help, kind string
}

func (m metric) header(w io.Writer) {
	fmt.Fprintf(w, "# HELP %s %s\n", m.name, m.help)
	fmt.Fprintf(w, "# TYPE %s %s\n", m.name, m.kind)
}

func writeValue(w io.Writer, m metric, v any) {
	m.header(w)
	switch v := v.(type) {
	case float64:
		fmt.Fprintf(w, "%s %.4f\n", m.name, v)
	default:
		fmt.Fprintf(w, "%s %d\n", m.name, v)
	}
}

// WritePrometheus renders s in the Prometheus text format.
func WritePrometheus(w io.Writer, s buffer.BufferPoolStats) {
	writeValue(w, metric{"pagecache_frames", "Frames in the pool", "gauge"}, s.Frames)
	writeValue(w, metric{"pagecache_frames_used", "Frames holding a page", "gauge"}, s.Used)
	writeValue(w, metric{"pagecache_frames_pinned", "Frames with at least one pin", "gauge"}, s.Pinned)
	writeValue(w, metric{"pagecache_dirty_frames", "Frames in the write-behind set", "gauge"}, s.Dirty)
	writeValue(w, metric{"pagecache_hits_total", "Pins served from memory", "counter"}, s.Hits)
	writeValue(w, metric{"pagecache_misses_total", "Pins that read from disk", "counter"}, s.Misses)
	writeValue(w, metric{"pagecache_hit_ratio", "Hits over all pins", "gauge"}, s.HitRate)

	m := metric{"pagecache_evictions_total", "Frames reclaimed by the eviction policy", "counter"}
	m.header(w)
	fmt.Fprintf(w, "%s{policy=%q} %d\n", m.name, s.Policy.Name, s.Evictions)
	writeValue(w, metric{"pagecache_policy_scans_total", "Frames examined while choosing victims", "counter"}, s.Policy.Scans)
	writeValue(w, metric{"pagecache_policy_ghost_hits_total", "Misses on pages remembered in ghost history", "counter"}, s.Policy.GhostHits)

	writeValue(w, metric{"pagecache_flushed_pages_total", "Pages written back", "counter"}, s.Flushes)
	writeValue(w, metric{"pagecache_flush_writes_total", "Write-back requests after combining adjacent pages", "counter"}, s.FlushWrites)
	writeValue(w, metric{"pagecache_flush_failures_total", "Pages whose write-back failed", "counter"}, s.FlushFailures)
	writeValue(w, metric{"pagecache_forced_flushes_total", "Pages flushed synchronously at the dirty bound", "counter"}, s.ForcedFlushes)
	writeValue(w, metric{"pagecache_pool_exhausted_total", "Misses that found no evictable frame", "counter"}, s.PoolExhausted)
	writeValue(w, metric{"pagecache_io_queue_full_total", "I/O requests rejected by a full queue", "counter"}, s.QueueFull)

	m = metric{"pagecache_io_queue_depth", "Requests waiting per I/O queue", "gauge"}
	m.header(w)
	fmt.Fprintf(w, "%s{queue=\"read\"} %d\n", m.name, s.QueueDepths.Read)
	fmt.Fprintf(w, "%s{queue=\"write\"} %d\n", m.name, s.QueueDepths.Write)
	fmt.Fprintf(w, "%s{queue=\"sync\"} %d\n", m.name, s.QueueDepths.Sync)

	m = metric{"pagecache_io_requests_total", "Completed I/O requests", "counter"}
	m.header(w)
	fmt.Fprintf(w, "%s{op=\"read\"} %d\n", m.name, s.IO.Reads)
	fmt.Fprintf(w, "%s{op=\"write\"} %d\n", m.name, s.IO.Writes)
	fmt.Fprintf(w, "%s{op=\"sync\"} %d\n", m.name, s.IO.Syncs)
	writeValue(w, metric{"pagecache_io_coalesced_total", "Writes merged into a neighbour", "counter"}, s.IO.Coalesced)
	writeValue(w, metric{"pagecache_io_retries_total", "Transient I/O failures retried", "counter"}, s.IO.Retries)
	writeValue(w, metric{"pagecache_io_timeouts_total", "I/O requests that timed out", "counter"}, s.IO.Timeouts)
	writeValue(w, metric{"pagecache_io_failures_total", "I/O requests that failed permanently", "counter"}, s.IO.Failures)
	writeValue(w, metric{"pagecache_io_latency_avg_seconds", "Mean I/O latency", "gauge"}, s.IO.AvgLatency.Seconds())

	writeValue(w, metric{"pagecache_prefetch_issued_total", "Read-ahead loads issued", "counter"}, s.Prefetch.Issued)
	writeValue(w, metric{"pagecache_prefetch_hits_total", "Prefetched pages pinned before eviction", "counter"}, s.Prefetch.Hits)
	writeValue(w, metric{"pagecache_prefetch_wasted_total", "Prefetched pages evicted unused", "counter"}, s.Prefetch.Wasted)
	writeValue(w, metric{"pagecache_prefetch_depth", "Current read-ahead depth", "gauge"}, s.Prefetch.Depth)

	writeValue(w, metric{"pagecache_victim_cache_hits_total", "Reads served by the victim cache", "counter"}, s.VictimHits)
	writeValue(w, metric{"pagecache_victim_cache_misses_total", "Reads that missed the victim cache", "counter"}, s.VictimMisses)
}

// Server serves /metrics and the health endpoints over HTTP.
type Server struct {
	addr    string
	source  StatsSource
	checker *health.Checker
	logger  *logging.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a server. checker may be nil, in which case the health
// endpoints always report healthy.
func NewServer(addr string, source StatsSource, checker *health.Checker) *Server {
	if checker == nil {
		checker = health.NewChecker("")
	}
	return &Server{
		addr:    addr,
		source:  source,
		checker: checker,
		logger:  logging.NewLogger("metrics"),
	}
}

// Handler returns the HTTP handler for every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := s.server
	go func() {
		s.logger.Info("Starting metrics server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Stopping metrics server")
	return srv.Shutdown(ctx)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	WritePrometheus(w, s.source.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := s.checker.RunChecks()

	w.Header().Set("Content-Type", "application/json")
	if response.Status != health.StatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	response := health.HealthResponse{
		Status:    health.StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.checker.Version(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	response := s.checker.RunChecks()

	w.Header().Set("Content-Type", "application/json")
	if response.Status == health.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}
