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

// LRUK evicts the frame whose K-th most recent reference is oldest. Frames
// with fewer than K references have infinite backward distance and go first,
// oldest first reference first. Reference history of evicted pages is kept
// for a bounded number of pages so a quickly reloaded page is not treated
// as new.
type LRUK struct {
	mu      sync.Mutex
	k       int
	clock   uint64
	order   *OrderedList[FrameID]
	pages   map[FrameID]page.ID
	history map[FrameID][]uint64

	retained    *OrderedList[page.ID]
	retainedH   map[page.ID][]uint64
	maxRetained int

	victims   uint64
	scans     uint64
	ghostHits uint64
}

// NewLRUK creates an LRU-K policy.
func NewLRUK(frames, k int) *LRUK {
	return &LRUK{
		k:           k,
		order:       NewOrderedList[FrameID](),
		pages:       make(map[FrameID]page.ID),
		history:     make(map[FrameID][]uint64),
		retained:    NewOrderedList[page.ID](),
		retainedH:   make(map[page.ID][]uint64),
		maxRetained: frames,
	}
}

func (l *LRUK) Name() string { return string(KindLRUK) }

// K returns the reference depth.
func (l *LRUK) K() int { return l.k }

func (l *LRUK) RecordAccess(fid FrameID, pid page.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.clock++
	if prev, ok := l.pages[fid]; !ok || prev != pid {
		l.pages[fid] = pid
		l.history[fid] = l.history[fid][:0]
		if h, ok := l.retainedH[pid]; ok {
			l.ghostHits++
			l.history[fid] = append(l.history[fid], h...)
			delete(l.retainedH, pid)
			l.retained.Remove(pid)
		}
		l.order.PushFront(fid)
	}
	h := append(l.history[fid], l.clock)
	if len(h) > l.k {
		h = h[len(h)-l.k:]
	}
	l.history[fid] = h
}

func (l *LRUK) RecordUnpin(FrameID) {}

func (l *LRUK) FindVictim(view FrameView) (FrameID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	victim := InvalidFrame
	victimInf := false
	var victimKey uint64
	l.order.WalkFromBack(func(fid FrameID) bool {
		l.scans++
		if !view.Evictable(fid) {
			return true
		}
		h := l.history[fid]
		inf := len(h) < l.k
		// Infinite distance: compare first reference. Otherwise the K-th
		// most recent, which is h[0] once the history is full.
		var key uint64
		if len(h) > 0 {
			key = h[0]
		}
		switch {
		case victim == InvalidFrame:
		case inf && !victimInf:
		case inf == victimInf && key < victimKey:
		default:
			return true
		}
		victim, victimInf, victimKey = fid, inf, key
		return true
	})
	if victim == InvalidFrame {
		return InvalidFrame, false
	}
	l.victims++
	return victim, true
}

func (l *LRUK) RecordEviction(fid FrameID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pid, ok := l.pages[fid]
	if !ok {
		return
	}
	l.retainedH[pid] = append([]uint64(nil), l.history[fid]...)
	l.retained.PushFront(pid)
	for l.retained.Len() > l.maxRetained {
		old, _ := l.retained.PopBack()
		delete(l.retainedH, old)
	}
	l.forget(fid)
}

func (l *LRUK) Remove(fid FrameID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forget(fid)
}

func (l *LRUK) forget(fid FrameID) {
	l.order.Remove(fid)
	delete(l.pages, fid)
	delete(l.history, fid)
}

func (l *LRUK) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Name: l.Name(), Victims: l.victims, Scans: l.scans, GhostHits: l.ghostHits, Tracked: l.order.Len()}
}

func (l *LRUK) ResetStats() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.victims, l.scans, l.ghostHits = 0, 0, 0
}

func (l *LRUK) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = 0
	l.order.Clear()
	clear(l.pages)
	clear(l.history)
	l.retained.Clear()
	clear(l.retainedH)
	l.victims, l.scans, l.ghostHits = 0, 0, 0
}
