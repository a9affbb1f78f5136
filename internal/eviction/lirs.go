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

type lirsEntry struct {
	fid      FrameID
	resident bool
	lir      bool
}

// LIRS ranks pages by inter-reference recency. Most frames hold LIR (low
// inter-reference recency) pages; a small HIR share is the eviction pool.
// The recency stack keeps LIR pages, recently seen HIR pages and a bounded
// number of non-resident HIR ghosts; its bottom is always an LIR page. A HIR
// page referenced again while still on the stack becomes LIR and the bottom
// LIR page is demoted to the HIR queue.
type LIRS struct {
	mu      sync.Mutex
	stack   *OrderedList[page.ID]
	queue   *OrderedList[FrameID]
	entries map[page.ID]*lirsEntry
	pages   map[FrameID]page.ID

	lirCap         int
	lirCount       int
	nonResident    int
	maxNonResident int

	victims   uint64
	scans     uint64
	ghostHits uint64
}

// NewLIRS creates a LIRS policy. About 1% of frames (at least one) are
// reserved for HIR pages.
func NewLIRS(frames int) *LIRS {
	hir := max(1, frames/100)
	return &LIRS{
		stack:          NewOrderedList[page.ID](),
		queue:          NewOrderedList[FrameID](),
		entries:        make(map[page.ID]*lirsEntry),
		pages:          make(map[FrameID]page.ID),
		lirCap:         max(0, frames-hir),
		maxNonResident: frames,
	}
}

func (l *LIRS) Name() string { return string(KindLIRS) }

func (l *LIRS) RecordAccess(fid FrameID, pid page.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.pages[fid]; ok && prev == pid {
		l.hit(pid)
		return
	}
	l.pages[fid] = pid

	if e, ok := l.entries[pid]; ok && e.resident && e.fid != fid {
		// The old frame was never reported evicted: follow pid to fid.
		delete(l.pages, e.fid)
		if !e.lir && l.queue.Remove(e.fid) {
			l.queue.PushFront(fid)
		}
		e.fid = fid
		l.hit(pid)
		return
	}

	if e, ok := l.entries[pid]; ok && !e.resident {
		// Non-resident HIR still on the stack: its reuse distance is short.
		l.ghostHits++
		l.nonResident--
		e.resident, e.fid, e.lir = true, fid, true
		l.lirCount++
		l.stack.PushFront(pid)
		l.demote()
		return
	}

	e := &lirsEntry{fid: fid, resident: true}
	l.entries[pid] = e
	l.stack.PushFront(pid)
	if l.lirCount < l.lirCap {
		e.lir = true
		l.lirCount++
		return
	}
	l.queue.PushFront(fid)
}

func (l *LIRS) hit(pid page.ID) {
	e := l.entries[pid]
	if e.lir {
		bottom, _ := l.stack.Back()
		l.stack.MoveToFront(pid)
		if bottom == pid {
			l.prune()
		}
		return
	}
	if l.stack.Contains(pid) {
		l.stack.MoveToFront(pid)
		l.queue.Remove(e.fid)
		e.lir = true
		l.lirCount++
		l.demote()
		return
	}
	l.stack.PushFront(pid)
	l.queue.MoveToFront(e.fid)
}

// demote moves bottom LIR pages to the HIR queue until the LIR set fits.
func (l *LIRS) demote() {
	l.prune()
	for l.lirCount > l.lirCap {
		pid, ok := l.stack.Back()
		if !ok {
			break
		}
		e := l.entries[pid]
		e.lir = false
		l.lirCount--
		l.stack.Remove(pid)
		l.queue.PushFront(e.fid)
		l.prune()
	}
}

// prune removes HIR entries from the stack bottom.
func (l *LIRS) prune() {
	for {
		pid, ok := l.stack.Back()
		if !ok {
			return
		}
		e := l.entries[pid]
		if e.lir {
			return
		}
		l.stack.Remove(pid)
		if !e.resident {
			delete(l.entries, pid)
			l.nonResident--
		}
	}
}

func (l *LIRS) RecordUnpin(FrameID) {}

func (l *LIRS) FindVictim(view FrameView) (FrameID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if fid, ok := walkEvictable(l.queue, view, &l.scans); ok {
		l.victims++
		return fid, true
	}
	// Every HIR frame is busy: fall back to the coldest LIR frame.
	victim := InvalidFrame
	l.stack.WalkFromBack(func(pid page.ID) bool {
		l.scans++
		e := l.entries[pid]
		if e.resident && e.lir && view.Evictable(e.fid) {
			victim = e.fid
			return false
		}
		return true
	})
	if victim == InvalidFrame {
		return InvalidFrame, false
	}
	l.victims++
	return victim, true
}

func (l *LIRS) RecordEviction(fid FrameID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pid, ok := l.pages[fid]
	if !ok {
		return
	}
	delete(l.pages, fid)
	e, ok := l.entries[pid]
	if !ok || e.fid != fid {
		return
	}
	l.queue.Remove(fid)
	if e.lir {
		l.lirCount--
		l.stack.Remove(pid)
		delete(l.entries, pid)
		l.prune()
		return
	}
	e.resident, e.fid = false, InvalidFrame
	if !l.stack.Contains(pid) {
		delete(l.entries, pid)
		return
	}
	l.nonResident++
	for l.nonResident > l.maxNonResident {
		var ghost page.ID
		found := false
		l.stack.WalkFromBack(func(p page.ID) bool {
			if !l.entries[p].resident {
				ghost, found = p, true
				return false
			}
			return true
		})
		if !found {
			break
		}
		l.stack.Remove(ghost)
		delete(l.entries, ghost)
		l.nonResident--
	}
}

func (l *LIRS) Remove(fid FrameID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pid, ok := l.pages[fid]
	if !ok {
		return
	}
	delete(l.pages, fid)
	e, ok := l.entries[pid]
	if !ok || e.fid != fid {
		return
	}
	l.queue.Remove(fid)
	l.stack.Remove(pid)
	if e.lir {
		l.lirCount--
	}
	delete(l.entries, pid)
	l.prune()
}

func (l *LIRS) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Name: l.Name(), Victims: l.victims, Scans: l.scans, GhostHits: l.ghostHits, Tracked: len(l.pages)}
}

func (l *LIRS) ResetStats() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.victims, l.scans, l.ghostHits = 0, 0, 0
}

func (l *LIRS) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stack.Clear()
	l.queue.Clear()
	clear(l.entries)
	clear(l.pages)
	l.lirCount, l.nonResident = 0, 0
	l.victims, l.scans, l.ghostHits = 0, 0, 0
}
