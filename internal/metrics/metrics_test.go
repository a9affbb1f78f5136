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

package metrics

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pagecache/internal/buffer"
	"pagecache/internal/eviction"
	"pagecache/internal/health"
	"pagecache/internal/storage/disk"
)

type fixedStats buffer.BufferPoolStats

func (f fixedStats) Stats() buffer.BufferPoolStats { return buffer.BufferPoolStats(f) }

func sampleStats() fixedStats {
	return fixedStats{
		Frames:      8,
		Used:        6,
		Pinned:      2,
		Dirty:       3,
		Hits:        90,
		Misses:      10,
		HitRate:     0.9,
		Evictions:   4,
		QueueFull:   1,
		QueueDepths: disk.QueueDepths{Read: 1, Write: 5},
		Policy:      eviction.Stats{Name: "clock", Scans: 12},
	}
}

func TestWritePrometheus(t *testing.T) {
	var b strings.Builder
	WritePrometheus(&b, buffer.BufferPoolStats(sampleStats()))
	out := b.String()

	for _, want := range []string{
		"# TYPE pagecache_hits_total counter\npagecache_hits_total 90\n",
		"pagecache_hit_ratio 0.9000\n",
		"pagecache_dirty_frames 3\n",
		`pagecache_evictions_total{policy="clock"} 4`,
		`pagecache_io_queue_depth{queue="write"} 5`,
		"pagecache_io_queue_full_total 1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func get(t *testing.T, h http.Handler, path string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	resp := rec.Result()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestHandlerEndpoints(t *testing.T) {
	checker := health.NewChecker("1.0")
	var storageErr error
	checker.RegisterCheck("backend", health.StorageCheck(func() error { return storageErr }))
	h := NewServer(":0", sampleStats(), checker).Handler()

	resp, body := get(t, h, "/metrics")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Errorf("/metrics: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, "pagecache_misses_total 10") {
		t.Errorf("/metrics body missing misses:\n%s", body)
	}

	resp, body = get(t, h, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health healthy: status %d", resp.StatusCode)
	}
	var hr health.HealthResponse
	if err := json.Unmarshal([]byte(body), &hr); err != nil {
		t.Fatalf("decode /health: %v", err)
	}
	if hr.Status != health.StatusHealthy || hr.Version != "1.0" || len(hr.Checks) != 1 {
		t.Errorf("/health = %+v", hr)
	}

	storageErr = errors.New("device removed")
	if resp, _ := get(t, h, "/health"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/health unhealthy: status %d, want 503", resp.StatusCode)
	}
	if resp, _ := get(t, h, "/health/ready"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/health/ready unhealthy: status %d, want 503", resp.StatusCode)
	}
	if resp, _ := get(t, h, "/health/live"); resp.StatusCode != http.StatusOK {
		t.Errorf("/health/live: status %d, want 200", resp.StatusCode)
	}
}

func TestServerStartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", sampleStats(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/health/live")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
