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

package health

import (
	"errors"
	"testing"
)

func TestRunChecksAggregatesStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", map[string]Check{
			"a": StorageCheck(func() error { return nil }),
		}, StatusHealthy},
		{"one degraded", map[string]Check{
			"a": StorageCheck(func() error { return nil }),
			"b": PinPressureCheck(func() (int, int) { return 9, 10 }),
		}, StatusDegraded},
		{"unhealthy wins", map[string]Check{
			"a": PinPressureCheck(func() (int, int) { return 9, 10 }),
			"b": StorageCheck(func() error { return errors.New("disk gone") }),
		}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("test")
			for name, check := range tt.checks {
				c.RegisterCheck(name, check)
			}
			resp := c.RunChecks()
			if resp.Status != tt.want {
				t.Errorf("status = %s, want %s", resp.Status, tt.want)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(resp.Checks), len(tt.checks))
			}
			if resp.Version != "test" {
				t.Errorf("version = %q", resp.Version)
			}
		})
	}
}

func TestResultsSortedByName(t *testing.T) {
	c := NewChecker("")
	for _, name := range []string{"queue", "backend", "pins"} {
		c.RegisterCheck(name, StorageCheck(func() error { return nil }))
	}
	resp := c.RunChecks()
	want := []string{"backend", "pins", "queue"}
	for i, r := range resp.Checks {
		if r.Name != want[i] {
			t.Errorf("check %d = %s, want %s", i, r.Name, want[i])
		}
	}
}

func TestPinPressureCheck(t *testing.T) {
	tests := []struct {
		pinned, frames int
		want           Status
	}{
		{0, 10, StatusHealthy},
		{8, 10, StatusHealthy},
		{9, 10, StatusDegraded},
		{10, 10, StatusUnhealthy},
		{0, 0, StatusHealthy},
	}
	for _, tt := range tests {
		got := PinPressureCheck(func() (int, int) { return tt.pinned, tt.frames })()
		if got.Status != tt.want {
			t.Errorf("%d/%d pinned: status %s, want %s", tt.pinned, tt.frames, got.Status, tt.want)
		}
	}
}

func TestQueueCheckReportsNewRejects(t *testing.T) {
	var rejected uint64
	check := QueueCheck(func() (int, int, uint64) { return 10, 1024, rejected })

	if got := check(); got.Status != StatusHealthy {
		t.Errorf("idle queue: %s", got.Status)
	}
	rejected = 3
	if got := check(); got.Status != StatusDegraded {
		t.Errorf("after rejects: %s, want degraded", got.Status)
	}
	if got := check(); got.Status != StatusHealthy {
		t.Errorf("no new rejects: %s, want healthy", got.Status)
	}

	full := QueueCheck(func() (int, int, uint64) { return 1000, 1024, 0 })
	if got := full(); got.Status != StatusDegraded {
		t.Errorf("near-full queue: %s, want degraded", got.Status)
	}
}

func TestDirtyCheck(t *testing.T) {
	tests := []struct {
		dirty, limit int
		want         Status
	}{
		{0, 128, StatusHealthy},
		{127, 128, StatusHealthy},
		{128, 128, StatusDegraded},
		{500, 0, StatusHealthy},
	}
	for _, tt := range tests {
		got := DirtyCheck(func() (int, int) { return tt.dirty, tt.limit })()
		if got.Status != tt.want {
			t.Errorf("%d/%d dirty: status %s, want %s", tt.dirty, tt.limit, got.Status, tt.want)
		}
	}
}
