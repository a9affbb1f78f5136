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

package eviction

import (
	"sync"

	"pagecache/internal/storage/page"
)

// Clock is the second-chance policy. Reference bits live in the frames; the
// pool sets them on every pin and the sweep clears them.
type Clock struct {
	mu      sync.Mutex
	frames  int
	hand    int
	victims uint64
	scans   uint64
}

// NewClock creates a CLOCK policy over frames frames.
func NewClock(frames int) *Clock {
	return &Clock{frames: frames}
}

func (c *Clock) Name() string { return string(KindClock) }

func (c *Clock) RecordAccess(FrameID, page.ID) {}

func (c *Clock) RecordUnpin(FrameID) {}

// FindVictim sweeps from the hand, clearing every reference bit it passes.
// A frame whose bit was set gets a second chance; pinned or busy frames are
// skipped. The sweep gives up after two full revolutions.
func (c *Clock) FindVictim(view FrameView) (FrameID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := view.Len()
	if n == 0 {
		return InvalidFrame, false
	}
	for step := 0; step < 2*n; step++ {
		fid := FrameID(c.hand % n)
		c.hand = (c.hand + 1) % n
		c.scans++
		referenced := view.TestAndClearRef(fid)
		if referenced || !view.Evictable(fid) {
			continue
		}
		c.victims++
		return fid, true
	}
	return InvalidFrame, false
}

func (c *Clock) RecordEviction(FrameID) {}

func (c *Clock) Remove(FrameID) {}

func (c *Clock) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Name: c.Name(), Victims: c.victims, Scans: c.scans, Tracked: c.frames}
}

func (c *Clock) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.victims, c.scans = 0, 0
}

func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hand, c.victims, c.scans = 0, 0, 0
}
