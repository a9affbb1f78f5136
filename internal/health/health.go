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
Package health runs health checks over a page cache.

STATUS VALUES:
==============
  - healthy: All checks pass
  - degraded: Some non-critical checks fail
  - unhealthy: Critical checks fail

The checks are served as JSON by the metrics server:

	GET /health       - Overall health check
	GET /health/live  - Liveness check (is the process running?)
	GET /health/ready - Readiness check (can the pool serve pins?)
*/
package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"pagecache/internal/logging"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    Status        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []CheckResult `json:"checks,omitempty"`
}

// Check is a function that performs a health check.
type Check func() CheckResult

// Checker manages health checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	version string
	logger  *logging.Logger
}

// NewChecker creates a new health checker.
func NewChecker(version string) *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		version: version,
		logger:  logging.NewLogger("health"),
	}
}

// Version returns the version reported in responses.
func (c *Checker) Version() string { return c.version }

// RegisterCheck registers a health check.
func (c *Checker) RegisterCheck(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// RunChecks runs all registered health checks in name order.
func (c *Checker) RunChecks() HealthResponse {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()
	sort.Strings(names)

	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
		Checks:    make([]CheckResult, 0, len(names)),
	}

	for _, name := range names {
		start := time.Now()
		result := checks[name]()
		result.Name = name
		result.Latency = time.Since(start).Milliseconds()
		response.Checks = append(response.Checks, result)

		if result.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if result.Status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	if response.Status != StatusHealthy {
		c.logger.Warn("Health check not healthy", "status", response.Status)
	}
	return response
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	return c.RunChecks().Status == StatusHealthy
}

// StorageCheck reports unhealthy when checkFn fails.
func StorageCheck(checkFn func() error) Check {
	return func() CheckResult {
		if err := checkFn(); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: err.Error(),
			}
		}
		return CheckResult{
			Status: StatusHealthy,
		}
	}
}

// PinPressureCheck reports unhealthy when every frame is pinned, so no
// miss can be served, and degraded from 90% pinned.
func PinPressureCheck(fn func() (pinned, frames int)) Check {
	return func() CheckResult {
		pinned, frames := fn()
		msg := fmt.Sprintf("%d of %d frames pinned", pinned, frames)
		switch {
		case frames > 0 && pinned >= frames:
			return CheckResult{Status: StatusUnhealthy, Message: msg}
		case frames > 0 && pinned*10 >= frames*9:
			return CheckResult{Status: StatusDegraded, Message: msg}
		}
		return CheckResult{Status: StatusHealthy, Message: msg}
	}
}

// QueueCheck reports degraded when an I/O queue is at 90% of capacity or
// has rejected requests since the previous check.
func QueueCheck(fn func() (depth, capacity int, rejected uint64)) Check {
	var mu sync.Mutex
	var lastRejected uint64
	return func() CheckResult {
		depth, capacity, rejected := fn()
		mu.Lock()
		newRejects := rejected - lastRejected
		lastRejected = rejected
		mu.Unlock()

		msg := fmt.Sprintf("deepest queue %d of %d", depth, capacity)
		if newRejects > 0 {
			return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("%s, %d requests rejected", msg, newRejects)}
		}
		if capacity > 0 && depth*10 >= capacity*9 {
			return CheckResult{Status: StatusDegraded, Message: msg}
		}
		return CheckResult{Status: StatusHealthy, Message: msg}
	}
}

// DirtyCheck reports degraded when the write-behind set has reached its
// bound, at which point every new dirty page forces a synchronous flush.
func DirtyCheck(fn func() (dirty, limit int)) Check {
	return func() CheckResult {
		dirty, limit := fn()
		if limit <= 0 {
			return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d dirty, unbounded", dirty)}
		}
		msg := fmt.Sprintf("%d of %d dirty", dirty, limit)
		if dirty >= limit {
			return CheckResult{Status: StatusDegraded, Message: msg}
		}
		return CheckResult{Status: StatusHealthy, Message: msg}
	}
}
