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
Package prefetch detects access patterns in the stream of page pins and
issues read-ahead for the pages a pattern predicts.

Pattern Detection:
==================

	Sequential  the last three pins are consecutive ids (forward or backward)
	Strided     at least four pins, and one stride other than 0 or ±1 covers
	            70% or more of the recent deltas
	Temporal    six or more pins touching at most three distinct pages; the
	            working set is already hot, so nothing is prefetched

Read-ahead depth adapts between MinDepth and MaxDepth: a smoothed read
latency below LowLatency deepens the window by one page, above HighLatency
shrinks it by one.

Prefetched pages are loaded by the Loader, which for the buffer pool means
the normal miss path: page-table reservation, coalescing with concurrent
demand misses, installation into a frame. There is no side cache.
*/
package prefetch

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"pagecache/internal/storage/page"
)

// Pattern is a detected access pattern.
type Pattern int

const (
	PatternNone Pattern = iota
	PatternSequential
	PatternStrided
	PatternTemporal
)

// String returns the pattern name.
func (p Pattern) String() string {
	switch p {
	case PatternSequential:
		return "sequential"
	case PatternStrided:
		return "strided"
	case PatternTemporal:
		return "temporal"
	default:
		return "none"
	}
}

const (
	sequentialRun     = 3
	strideMinHistory  = 4
	strideAgreement   = 0.7
	temporalMinWindow = 6
	temporalMaxUnique = 3
)

// Detector keeps a bounded history of page accesses.
type Detector struct {
	mu      sync.Mutex
	history []page.ID
	size    int
}

// NewDetector creates a detector remembering size accesses.
func NewDetector(size int) *Detector {
	if size < temporalMinWindow {
		size = temporalMinWindow
	}
	return &Detector{history: make([]page.ID, 0, size), size: size}
}

// Record appends an access and returns the pattern and stride it completes.
func (d *Detector) Record(pid page.ID) (Pattern, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.history) == d.size {
		copy(d.history, d.history[1:])
		d.history = d.history[:d.size-1]
	}
	d.history = append(d.history, pid)
	return d.detect()
}

// Reset forgets the history.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.history = d.history[:0]
	d.mu.Unlock()
}

func (d *Detector) detect() (Pattern, int64) {
	h := d.history
	n := len(h)
	if n >= sequentialRun {
		if stride, ok := sequential(h[n-sequentialRun:]); ok {
			return PatternSequential, stride
		}
	}
	if n >= temporalMinWindow {
		window := h[n-temporalMinWindow:]
		if mapset.NewThreadUnsafeSet(window...).Cardinality() <= temporalMaxUnique {
			return PatternTemporal, 0
		}
	}
	if n >= strideMinHistory {
		if stride, ok := dominantStride(h); ok {
			return PatternStrided, stride
		}
	}
	return PatternNone, 0
}

func sequential(run []page.ID) (int64, bool) {
	stride := int64(run[1]) - int64(run[0])
	if stride != 1 && stride != -1 {
		return 0, false
	}
	for i := 2; i < len(run); i++ {
		if int64(run[i])-int64(run[i-1]) != stride {
			return 0, false
		}
	}
	return stride, true
}

func dominantStride(h []page.ID) (int64, bool) {
	counts := make(map[int64]int, len(h))
	deltas := len(h) - 1
	best, bestCount := int64(0), 0
	for i := 1; i < len(h); i++ {
		s := int64(h[i]) - int64(h[i-1])
		counts[s]++
		if counts[s] > bestCount {
			best, bestCount = s, counts[s]
		}
	}
	if best == 0 || best == 1 || best == -1 {
		return 0, false
	}
	if float64(bestCount) < strideAgreement*float64(deltas) {
		return 0, false
	}
	// The stride must also describe the latest step.
	if int64(h[len(h)-1])-int64(h[len(h)-2]) != best {
		return 0, false
	}
	return best, true
}
