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

// TwoQ implements 2Q. First-time pages enter the A1in FIFO. When an A1in
// page is evicted its id is remembered in the A1out ghost queue; a page
// loaded again while remembered goes straight to the Am LRU. Victims come
// from A1in before Am, so one-shot scans do not flush the hot set.
type TwoQ struct {
	mu    sync.Mutex
	a1in  *OrderedList[FrameID]
	a1out *OrderedList[page.ID]
	am    *OrderedList[FrameID]
	pages map[FrameID]page.ID
	kout  int

	victims   uint64
	scans     uint64
	ghostHits uint64
}

// NewTwoQ creates a 2Q policy. A1out remembers up to half the frame count.
func NewTwoQ(frames int) *TwoQ {
	return &TwoQ{
		a1in:  NewOrderedList[FrameID](),
		a1out: NewOrderedList[page.ID](),
		am:    NewOrderedList[FrameID](),
		pages: make(map[FrameID]page.ID),
		kout:  max(1, frames/2),
	}
}

func (q *TwoQ) Name() string { return string(Kind2Q) }

func (q *TwoQ) RecordAccess(fid FrameID, pid page.ID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if prev, ok := q.pages[fid]; ok && prev == pid {
		if q.am.Contains(fid) {
			q.am.MoveToFront(fid)
		}
		// Hits in A1in are correlated references and do not promote.
		return
	}
	q.pages[fid] = pid
	if q.a1out.Remove(pid) {
		q.ghostHits++
		q.am.PushFront(fid)
		return
	}
	q.a1in.PushFront(fid)
}

func (q *TwoQ) RecordUnpin(FrameID) {}

func (q *TwoQ) FindVictim(view FrameView) (FrameID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if fid, ok := walkEvictable(q.a1in, view, &q.scans); ok {
		q.victims++
		return fid, true
	}
	if fid, ok := walkEvictable(q.am, view, &q.scans); ok {
		q.victims++
		return fid, true
	}
	return InvalidFrame, false
}

func (q *TwoQ) RecordEviction(fid FrameID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pid, ok := q.pages[fid]
	if !ok {
		return
	}
	if q.a1in.Remove(fid) {
		q.a1out.PushFront(pid)
		for q.a1out.Len() > q.kout {
			q.a1out.PopBack()
		}
	}
	q.am.Remove(fid)
	delete(q.pages, fid)
}

func (q *TwoQ) Remove(fid FrameID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.a1in.Remove(fid)
	q.am.Remove(fid)
	delete(q.pages, fid)
}

func (q *TwoQ) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Name: q.Name(), Victims: q.victims, Scans: q.scans, GhostHits: q.ghostHits, Tracked: len(q.pages)}
}

func (q *TwoQ) ResetStats() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.victims, q.scans, q.ghostHits = 0, 0, 0
}

func (q *TwoQ) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.a1in.Clear()
	q.a1out.Clear()
	q.am.Clear()
	clear(q.pages)
	q.victims, q.scans, q.ghostHits = 0, 0, 0
}
