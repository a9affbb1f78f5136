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

// ARC is the adaptive replacement cache policy. Resident frames are split
// between T1 (seen once) and T2 (seen at least twice). B1 and B2 remember the
// page ids recently evicted from each side. A load that hits B1 means T1 was
// too small and grows the target p; a hit in B2 shrinks it. Victims come from
// T1 while it exceeds p, otherwise from T2.
type ARC struct {
	mu     sync.Mutex
	c      int
	p      int
	t1, t2 *OrderedList[FrameID]
	b1, b2 *OrderedList[page.ID]
	pages  map[FrameID]page.ID

	victims   uint64
	scans     uint64
	ghostHits uint64
}

// NewARC creates an ARC policy for frames frames.
func NewARC(frames int) *ARC {
	return &ARC{
		c:     frames,
		t1:    NewOrderedList[FrameID](),
		t2:    NewOrderedList[FrameID](),
		b1:    NewOrderedList[page.ID](),
		b2:    NewOrderedList[page.ID](),
		pages: make(map[FrameID]page.ID),
	}
}

func (a *ARC) Name() string { return string(KindARC) }

// Target returns the current T1 target size.
func (a *ARC) Target() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.p
}

func (a *ARC) RecordAccess(fid FrameID, pid page.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.pages[fid]; ok && prev == pid {
		if a.t1.Remove(fid) {
			a.t2.PushFront(fid)
		} else {
			a.t2.MoveToFront(fid)
		}
		return
	}

	a.pages[fid] = pid
	switch {
	case a.b1.Contains(pid):
		a.ghostHits++
		a.p = min(a.c, a.p+max(1, a.b2.Len()/max(1, a.b1.Len())))
		a.b1.Remove(pid)
		a.t2.PushFront(fid)
	case a.b2.Contains(pid):
		a.ghostHits++
		a.p = max(0, a.p-max(1, a.b1.Len()/max(1, a.b2.Len())))
		a.b2.Remove(pid)
		a.t2.PushFront(fid)
	default:
		a.t1.PushFront(fid)
	}
}

func (a *ARC) RecordUnpin(FrameID) {}

func (a *ARC) FindVictim(view FrameView) (FrameID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	first, second := a.t2, a.t1
	if a.t1.Len() > 0 && a.t1.Len() > a.p {
		first, second = a.t1, a.t2
	}
	if fid, ok := walkEvictable(first, view, &a.scans); ok {
		a.victims++
		return fid, true
	}
	if fid, ok := walkEvictable(second, view, &a.scans); ok {
		a.victims++
		return fid, true
	}
	return InvalidFrame, false
}

func (a *ARC) RecordEviction(fid FrameID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pid, ok := a.pages[fid]
	if !ok {
		return
	}
	delete(a.pages, fid)
	if a.t1.Remove(fid) {
		a.b1.PushFront(pid)
	} else if a.t2.Remove(fid) {
		a.b2.PushFront(pid)
	}
	// |T1|+|B1| <= c and the whole directory <= 2c.
	for a.b1.Len() > 0 && a.t1.Len()+a.b1.Len() > a.c {
		a.b1.PopBack()
	}
	for a.b1.Len()+a.b2.Len() > a.c {
		if a.b2.Len() > 0 {
			a.b2.PopBack()
		} else {
			a.b1.PopBack()
		}
	}
}

func (a *ARC) Remove(fid FrameID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.t1.Remove(fid)
	a.t2.Remove(fid)
	delete(a.pages, fid)
}

func (a *ARC) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Name: a.Name(), Victims: a.victims, Scans: a.scans, GhostHits: a.ghostHits, Tracked: len(a.pages)}
}

func (a *ARC) ResetStats() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.victims, a.scans, a.ghostHits = 0, 0, 0
}

func (a *ARC) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.p = 0
	a.t1.Clear()
	a.t2.Clear()
	a.b1.Clear()
	a.b2.Clear()
	clear(a.pages)
	a.victims, a.scans, a.ghostHits = 0, 0, 0
}
