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
	"sync/atomic"

	"pagecache/internal/storage/page"
)

// FrameGuard is a pin on one resident page. The page stays in its frame
// until Release; Release is idempotent, so it is safe to defer it and also
// call it early.
//
//	g, err := pool.PinPage(ctx, pid)
//	if err != nil {
//		return err
//	}
//	defer g.Release()
type FrameGuard struct {
	pool     *BufferPool
	frame    *Frame
	pid      page.ID
	dirty    atomic.Bool
	released atomic.Bool
}

func newGuard(bp *BufferPool, f *Frame, pid page.ID) *FrameGuard {
	return &FrameGuard{pool: bp, frame: f, pid: pid}
}

// PageID returns the pinned page's id.
func (g *FrameGuard) PageID() page.ID { return g.pid }

// FrameID returns the frame holding the page.
func (g *FrameGuard) FrameID() FrameID { return g.frame.id }

// Page returns the page in place. It is valid until Release.
func (g *FrameGuard) Page() *page.Page { return g.frame.pg }

// Data returns the raw page bytes in place.
func (g *FrameGuard) Data() []byte { return g.frame.data }

// MarkDirty records that the page was modified; the pool learns of it on
// Release.
func (g *FrameGuard) MarkDirty() { g.dirty.Store(true) }

// Release unpins the page. Only the first call has an effect.
func (g *FrameGuard) Release() error {
	if !g.released.CompareAndSwap(false, true) {
		return nil
	}
	return g.pool.unpin(g.frame, g.pid, g.dirty.Load())
}
