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

package buffer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"pagecache/internal/eviction"
	"pagecache/internal/storage/page"
)

// FrameID indexes the frame arena.
type FrameID = eviction.FrameID

// Frame is one page-sized buffer plus its bookkeeping. Metadata is atomic;
// the page bytes are shared with pinned callers by reference.
type Frame struct {
	id   FrameID
	data []byte
	pg   *page.Page

	pageID     atomic.Uint64
	pinCount   atomic.Int32
	dirty      atomic.Bool
	refBit     atomic.Bool
	ioBusy     atomic.Bool
	prefetched atomic.Bool
	lastAccess atomic.Uint64

	// flushMu is held from snapshot until the write completes so a page
	// never has two write-backs in flight and is never re-read mid-write.
	flushMu sync.Mutex
}

// ID returns the frame's arena index.
func (f *Frame) ID() FrameID { return f.id }

// PageID returns the resident page, or page.InvalidID.
func (f *Frame) PageID() page.ID { return page.ID(f.pageID.Load()) }

// PinCount returns the current pin count.
func (f *Frame) PinCount() int32 { return f.pinCount.Load() }

// Dirty reports whether the frame holds unflushed changes.
func (f *Frame) Dirty() bool { return f.dirty.Load() }

func (f *Frame) loaded() bool { return f.PageID() != page.InvalidID }

func (f *Frame) reset() {
	f.pageID.Store(uint64(page.InvalidID))
	f.dirty.Store(false)
	f.refBit.Store(false)
	f.prefetched.Store(false)
	f.ioBusy.Store(false)
}

// arena owns every frame and the free list. Frames are never reallocated
// while the arena lives; a FrameID always names the same buffer.
type arena struct {
	frames  []Frame
	backing []byte
	tick    atomic.Uint64

	mu   sync.Mutex
	free []FrameID
}

func newArena(n int) *arena {
	a := &arena{
		frames:  make([]Frame, n),
		backing: make([]byte, n*page.PageSize),
		free:    make([]FrameID, 0, n),
	}
	for i := range a.frames {
		f := &a.frames[i]
		f.id = FrameID(i)
		f.data = a.backing[i*page.PageSize : (i+1)*page.PageSize : (i+1)*page.PageSize]
		f.pg = page.Wrap(f.data)
		f.reset()
	}
	for i := n - 1; i >= 0; i-- {
		a.free = append(a.free, FrameID(i))
	}
	return a
}

// frame returns the frame at fid, panicking on an index outside the arena.
func (a *arena) frame(fid FrameID) *Frame {
	if fid < 0 || int(fid) >= len(a.frames) {
		panic(fmt.Sprintf("buffer: frame id %d outside arena of %d", fid, len(a.frames)))
	}
	return &a.frames[fid]
}

func (a *arena) popFree() (FrameID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.free)
	if n == 0 {
		return eviction.InvalidFrame, false
	}
	fid := a.free[n-1]
	a.free = a.free[:n-1]
	return fid, true
}

func (a *arena) pushFree(fid FrameID) {
	a.frame(fid).reset()
	a.mu.Lock()
	a.free = append(a.free, fid)
	a.mu.Unlock()
}

func (a *arena) freeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

func (a *arena) touch(f *Frame) {
	f.lastAccess.Store(a.tick.Add(1))
	f.refBit.Store(true)
}

// Len implements eviction.FrameView.
func (a *arena) Len() int { return len(a.frames) }

// Evictable implements eviction.FrameView.
func (a *arena) Evictable(fid FrameID) bool {
	f := a.frame(fid)
	return f.loaded() && f.pinCount.Load() == 0 && !f.ioBusy.Load()
}

// TestAndClearRef implements eviction.FrameView.
func (a *arena) TestAndClearRef(fid FrameID) bool {
	return a.frame(fid).refBit.Swap(false)
}

// FrameInfo is a point-in-time view of one frame.
type FrameInfo struct {
	ID         FrameID `json:"id"`
	PageID     page.ID `json:"page_id"`
	PinCount   int32   `json:"pin_count"`
	Dirty      bool    `json:"dirty"`
	RefBit     bool    `json:"ref_bit"`
	IOBusy     bool    `json:"io_busy"`
	LastAccess uint64  `json:"last_access"`
}

func (a *arena) info(fid FrameID) FrameInfo {
	f := a.frame(fid)
	return FrameInfo{
		ID:         fid,
		PageID:     f.PageID(),
		PinCount:   f.pinCount.Load(),
		Dirty:      f.dirty.Load(),
		RefBit:     f.refBit.Load(),
		IOBusy:     f.ioBusy.Load(),
		LastAccess: f.lastAccess.Load(),
	}
}
