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
Package buffer implements the buffer pool: a fixed arena of page frames
shared by every caller, fronting the disk scheduler.

	  PinPage(pid)
	       │
	       ▼
	┌──────────────┐  hit   ┌──────────────────────┐
	│  page table  │ ─────► │ pin, touch, return   │
	│ (64 shards)  │        └──────────────────────┘
	└──────┬───────┘
	       │ miss (one loader per page, others wait)
	       ▼
	┌──────────────┐ empty  ┌──────────────────────┐
	│  free list   │ ─────► │ policy.FindVictim    │
	└──────┬───────┘        │ claim, flush if dirty│
	       │                └──────────┬───────────┘
	       ▼                           │
	┌──────────────────────────────────▼──────────┐
	│ scheduler read → verify checksum → publish  │
	└─────────────────────────────────────────────┘

Frames carry their metadata in atomics so the hit path never takes a
pool-wide lock. The page table is the single authority for which frame
holds which page: a page is loaded by exactly one caller, and a frame is
claimed for eviction only under its shard's write lock, which excludes
concurrent pins.

Dirty frames enter a bounded write-behind set. The background flusher
drains it in page order, merging adjacent pages into single writes; a
caller that would push the set past its bound flushes the oldest entries
itself. Every write-back first makes the WAL durable up to the page's LSN.
*/
package buffer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	ferrors "pagecache/internal/errors"
	"pagecache/internal/eviction"
	"pagecache/internal/logging"
	"pagecache/internal/prefetch"
	"pagecache/internal/storage/disk"
	"pagecache/internal/storage/page"
)

// maxClaimAttempts bounds how many victims a miss tries before giving up.
const maxClaimAttempts = 16

// Config holds buffer pool settings.
type Config struct {
	Frames         int             `json:"frames"`
	Policy         eviction.Kind   `json:"policy"`
	LRUK           int             `json:"lruk_k"`
	MaxDirtyPages  int             `json:"max_dirty_pages"`
	FlushInterval  time.Duration   `json:"flush_interval"`
	FlushBatchSize int             `json:"flush_batch_size"`
	Prefetch       bool            `json:"prefetch"`
	PrefetchConfig prefetch.Config `json:"prefetch_config"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Frames:         1024,
		Policy:         eviction.KindClock,
		LRUK:           2,
		MaxDirtyPages:  128,
		FlushInterval:  500 * time.Millisecond,
		FlushBatchSize: 64,
		Prefetch:       true,
		PrefetchConfig: prefetch.DefaultConfig(),
	}
}

// Allocator hands out page ids. disk.SequentialAllocator implements it.
type Allocator interface {
	Allocate() (page.ID, error)
	Free(id page.ID) error
}

// pageLimit is implemented by allocators that know the highest allocated id;
// read-ahead never goes past it.
type pageLimit interface {
	Next() page.ID
}

// BufferPool caches pages in a fixed set of frames.
type BufferPool struct {
	config     Config
	arena      *arena
	table      *pageTable
	policy     eviction.Policy
	sched      *disk.Scheduler
	alloc      Allocator
	flusher    *flusher
	prefetcher *prefetch.Engine
	logger     *logging.Logger

	closed     atomic.Bool
	flushAllMu sync.Mutex

	hits      *xsync.Counter
	misses    *xsync.Counter
	evictions *xsync.Counter
	exhausted *xsync.Counter
}

// New creates a buffer pool over sched. A nil alloc starts a sequential
// allocator after the backend's last page; a nil wal means pages are written
// without log coordination.
func New(config Config, sched *disk.Scheduler, alloc Allocator, wal WAL) (*BufferPool, error) {
	if config.Frames <= 0 {
		return nil, ferrors.InvalidConfig(fmt.Sprintf("frame count must be positive, got %d", config.Frames))
	}
	if sched == nil {
		return nil, ferrors.InvalidConfig("buffer pool needs an I/O scheduler")
	}
	if config.FlushBatchSize <= 0 {
		config.FlushBatchSize = DefaultConfig().FlushBatchSize
	}
	policy, err := eviction.New(config.Policy, config.Frames, config.LRUK)
	if err != nil {
		return nil, ferrors.InvalidConfig(err.Error())
	}
	if alloc == nil {
		sa, err := disk.AllocatorFor(sched.Backend())
		if err != nil {
			return nil, err
		}
		alloc = sa
	}

	a := newArena(config.Frames)
	bp := &BufferPool{
		config:    config,
		arena:     a,
		table:     newPageTable(a),
		policy:    policy,
		sched:     sched,
		alloc:     alloc,
		flusher:   newFlusher(a, sched, wal, config),
		logger:    logging.NewLogger("bufferpool"),
		hits:      xsync.NewCounter(),
		misses:    xsync.NewCounter(),
		evictions: xsync.NewCounter(),
		exhausted: xsync.NewCounter(),
	}
	if config.Prefetch {
		bp.prefetcher = prefetch.NewEngine(bp, config.PrefetchConfig)
	}
	bp.flusher.start()

	bp.logger.Info("Buffer pool created",
		"frames", config.Frames,
		"policy", policy.Name(),
		"max_dirty", config.MaxDirtyPages,
		"prefetch", config.Prefetch)
	return bp, nil
}

// Config returns the pool configuration.
func (bp *BufferPool) Config() Config { return bp.config }

// Scheduler returns the scheduler the pool reads and writes through.
func (bp *BufferPool) Scheduler() *disk.Scheduler { return bp.sched }

// PinPage makes pid resident and pins it until the guard is released. A hit
// does no I/O; concurrent misses on one page share a single read.
func (bp *BufferPool) PinPage(ctx context.Context, pid page.ID) (*FrameGuard, error) {
	f, err := bp.pin(ctx, pid)
	if err != nil {
		return nil, err
	}
	if bp.prefetcher != nil {
		bp.prefetcher.OnAccess(pid)
	}
	return newGuard(bp, f, pid), nil
}

func (bp *BufferPool) pin(ctx context.Context, pid page.ID) (*Frame, error) {
	if pid == page.InvalidID {
		return nil, ferrors.InvalidPage(uint64(pid), "invalid page id")
	}
	for {
		if bp.closed.Load() {
			return nil, ferrors.Closed("buffer pool")
		}
		f, e, wait := bp.table.pin(pid)
		if f != nil {
			bp.arena.touch(f)
			bp.policy.RecordAccess(f.id, pid)
			bp.hits.Inc()
			if f.prefetched.CompareAndSwap(true, false) && bp.prefetcher != nil {
				bp.prefetcher.RecordHit()
			}
			return f, nil
		}
		if wait != nil {
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if e.err != nil {
				return nil, e.err
			}
			continue
		}

		e, owner := bp.table.reserve(pid)
		if !owner {
			continue
		}
		bp.misses.Inc()
		return bp.load(ctx, pid, e, true, disk.PriorityNormal)
	}
}

// load reads pid into a frame for the reservation e. A pinned load leaves
// the frame with one pin; an unpinned one marks it prefetched.
func (bp *BufferPool) load(ctx context.Context, pid page.ID, e *tableEntry, pinned bool, prio disk.Priority) (*Frame, error) {
	fid, err := bp.acquireFrame(ctx)
	if err != nil {
		bp.table.fail(pid, e, err)
		return nil, err
	}
	f := bp.arena.frame(fid)
	f.ioBusy.Store(true)
	f.pageID.Store(uint64(pid))

	if err := bp.sched.Read(ctx, pid, prio, f.data); err != nil {
		bp.arena.pushFree(fid)
		bp.table.fail(pid, e, err)
		return nil, err
	}
	if err := bp.verify(pid, f); err != nil {
		bp.arena.pushFree(fid)
		bp.table.fail(pid, e, err)
		return nil, err
	}

	f.dirty.Store(false)
	if pinned {
		f.pinCount.Store(1)
		bp.arena.touch(f)
	} else {
		f.pinCount.Store(0)
		f.prefetched.Store(true)
	}
	bp.policy.RecordAccess(fid, pid)
	bp.table.publish(pid, e, fid)
	f.ioBusy.Store(false)
	return f, nil
}

// verify checks a freshly read image. A never-written page reads as zeros
// and is formatted in place.
func (bp *BufferPool) verify(pid page.ID, f *Frame) error {
	if page.IsZero(f.data) {
		f.pg.Init(pid)
		return nil
	}
	if err := f.pg.Verify(); err != nil {
		bp.logger.Error("Page checksum mismatch", "page", pid, "frame", f.id, "error", err)
		return err
	}
	if got := f.pg.ID(); got != pid {
		return ferrors.InvalidPage(uint64(pid), fmt.Sprintf("header names page %d", got))
	}
	return f.pg.Validate()
}

// acquireFrame returns a frame owned by the caller: free if possible,
// otherwise an evicted victim.
func (bp *BufferPool) acquireFrame(ctx context.Context) (FrameID, error) {
	if fid, ok := bp.arena.popFree(); ok {
		return fid, nil
	}
	var lastErr error
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		fid, ok := bp.policy.FindVictim(bp.arena)
		if !ok {
			break
		}
		claimed, err := bp.evict(ctx, fid)
		if err != nil {
			lastErr = err
			continue
		}
		if claimed {
			return fid, nil
		}
		if fid, ok := bp.arena.popFree(); ok {
			return fid, nil
		}
	}
	bp.exhausted.Inc()
	err := ferrors.PoolExhausted(bp.arena.Len())
	if lastErr != nil {
		err = err.WithCause(lastErr)
	}
	bp.logger.Warn("No evictable frame", "frames", bp.arena.Len(), "error", lastErr)
	return eviction.InvalidFrame, err
}

func evictable(f *Frame) bool {
	return f.pinCount.Load() == 0 && !f.ioBusy.Load()
}

// evict claims fid, writes it back if dirty and detaches it from its page.
// It reports false when the frame was pinned or changed hands meanwhile.
func (bp *BufferPool) evict(ctx context.Context, fid FrameID) (bool, error) {
	f := bp.arena.frame(fid)
	pid := f.PageID()
	if pid == page.InvalidID {
		return false, nil
	}
	e, ok := bp.table.claim(pid, fid, evictable)
	if !ok {
		return false, nil
	}
	f.ioBusy.Store(true)
	if err := bp.flusher.flushFrame(ctx, f, pid, disk.PriorityHigh); err != nil {
		f.ioBusy.Store(false)
		bp.table.unclaim(pid, e)
		bp.logger.Warn("Victim write-back failed", "page", pid, "frame", fid, "error", err)
		return false, err
	}
	// The policy forgets fid before pid becomes loadable again, so a
	// reload into another frame is never recorded ahead of this eviction.
	bp.policy.RecordEviction(fid)
	if f.prefetched.Load() && bp.prefetcher != nil {
		bp.prefetcher.RecordWasted()
	}
	bp.evictions.Inc()
	f.reset()
	bp.table.release(pid, e)
	bp.logger.Debug("Evicted page", "page", pid, "frame", fid)
	return true, nil
}

// UnpinPage drops one pin on pid, marking it dirty first when dirty is set.
func (bp *BufferPool) UnpinPage(pid page.ID, dirty bool) error {
	fid, ok := bp.table.Lookup(pid)
	if !ok {
		return ferrors.PageNotFound(uint64(pid))
	}
	return bp.unpin(bp.arena.frame(fid), pid, dirty)
}

func (bp *BufferPool) unpin(f *Frame, pid page.ID, dirty bool) error {
	if f.PageID() != pid || f.pinCount.Load() <= 0 {
		bp.logger.Error("Unpin of unpinned page", "page", pid, "frame", f.id)
		return ferrors.InvalidUnpin(uint64(pid))
	}
	var trackErr error
	if dirty {
		trackErr = bp.markDirty(context.Background(), f, pid)
	}
	for {
		n := f.pinCount.Load()
		if n <= 0 {
			bp.logger.Error("Unpin of unpinned page", "page", pid, "frame", f.id)
			return ferrors.InvalidUnpin(uint64(pid))
		}
		if f.pinCount.CompareAndSwap(n, n-1) {
			break
		}
	}
	bp.policy.RecordUnpin(f.id)
	return trackErr
}

func (bp *BufferPool) markDirty(ctx context.Context, f *Frame, pid page.ID) error {
	if !f.dirty.CompareAndSwap(false, true) {
		return nil
	}
	return bp.flusher.track(ctx, f, pid)
}

// AllocatePage reserves a new page id without loading it.
func (bp *BufferPool) AllocatePage() (page.ID, error) {
	if bp.closed.Load() {
		return page.InvalidID, ferrors.Closed("buffer pool")
	}
	return bp.alloc.Allocate()
}

// NewPage allocates a page, formats it in a frame and returns it pinned and
// dirty.
func (bp *BufferPool) NewPage(ctx context.Context) (*FrameGuard, error) {
	pid, err := bp.AllocatePage()
	if err != nil {
		return nil, err
	}
	e, owner := bp.table.reserve(pid)
	if !owner {
		return nil, ferrors.AlreadyPresent(uint64(pid))
	}
	fid, err := bp.acquireFrame(ctx)
	if err != nil {
		bp.table.fail(pid, e, err)
		if ferr := bp.alloc.Free(pid); ferr != nil {
			bp.logger.Warn("Could not release page id", "page", pid, "error", ferr)
		}
		return nil, err
	}
	f := bp.arena.frame(fid)
	f.pageID.Store(uint64(pid))
	f.pg.Init(pid)
	f.pinCount.Store(1)
	bp.arena.touch(f)
	bp.policy.RecordAccess(fid, pid)
	bp.table.publish(pid, e, fid)
	if err := bp.markDirty(ctx, f, pid); err != nil {
		bp.logger.Warn("Forced flush failed while dirtying new page", "page", pid, "error", err)
	}
	return newGuard(bp, f, pid), nil
}

// FreePage drops pid from the pool without writing its contents back,
// zeroes its image on disk and returns the id to the allocator. A reused id
// therefore loads as a fresh page. A pinned page cannot be freed.
func (bp *BufferPool) FreePage(ctx context.Context, pid page.ID) error {
	if lim, ok := bp.alloc.(pageLimit); ok && pid >= lim.Next() {
		return bp.alloc.Free(pid)
	}
	var (
		f *Frame
		e *tableEntry
	)
	if fid, ok := bp.table.Lookup(pid); ok {
		f = bp.arena.frame(fid)
		claimed := false
		if e, claimed = bp.table.claim(pid, fid, evictable); !claimed {
			return ferrors.PagePinned(uint64(pid), f.pinCount.Load())
		}
		f.flushMu.Lock()
		bp.flusher.untrack(fid)
		f.dirty.Store(false)
		f.flushMu.Unlock()
	}

	// Pins of pid wait on the claimed entry until the zero image is written.
	err := bp.sched.Write(ctx, pid, disk.PriorityNormal, make([]byte, page.PageSize))
	if f != nil {
		bp.policy.Remove(f.id)
		f.reset()
		bp.table.release(pid, e)
		bp.arena.pushFree(f.id)
	}
	if err != nil {
		bp.logger.Warn("Could not clear freed page", "page", pid, "error", err)
		return err
	}
	if err := bp.alloc.Free(pid); err != nil {
		return err
	}
	bp.logger.Debug("Freed page", "page", pid)
	return nil
}

// FlushPage writes pid back if it is resident and dirty.
func (bp *BufferPool) FlushPage(ctx context.Context, pid page.ID) error {
	fid, ok := bp.table.Lookup(pid)
	if !ok {
		return nil
	}
	return bp.flusher.flushFrame(ctx, bp.arena.frame(fid), pid, disk.PriorityHigh)
}

// FlushAll writes back every dirty frame and syncs the backend.
func (bp *BufferPool) FlushAll(ctx context.Context) error {
	_, _, err := bp.flushAll(ctx)
	return err
}

func (bp *BufferPool) flushAll(ctx context.Context) (int, page.LSN, error) {
	bp.flushAllMu.Lock()
	defer bp.flushAllMu.Unlock()

	var entries []dirtyEntry
	for i := range bp.arena.frames {
		f := &bp.arena.frames[i]
		if !f.dirty.Load() {
			continue
		}
		if pid := f.PageID(); pid != page.InvalidID {
			entries = append(entries, dirtyEntry{fid: f.id, pid: pid})
		}
	}
	n, lsn, err := bp.flusher.flushEntries(ctx, entries, disk.PriorityHigh, true)
	if err != nil {
		return n, lsn, err
	}
	if err := bp.sched.Sync(ctx, disk.PriorityHigh); err != nil {
		return n, lsn, err
	}
	bp.logger.Debug("Flushed all dirty pages", "pages", n, "max_lsn", lsn)
	return n, lsn, nil
}

// Resident reports whether pid is cached or being loaded.
func (bp *BufferPool) Resident(pid page.ID) bool {
	return bp.table.Contains(pid)
}

// Prefetch loads pid unpinned at low priority. Pages past the allocator's
// high-water mark and pages already present are skipped.
func (bp *BufferPool) Prefetch(ctx context.Context, pid page.ID) error {
	if bp.closed.Load() {
		return ferrors.Closed("buffer pool")
	}
	if lim, ok := bp.alloc.(pageLimit); ok && pid >= lim.Next() {
		return nil
	}
	e, owner := bp.table.reserve(pid)
	if !owner {
		return nil
	}
	_, err := bp.load(ctx, pid, e, false, disk.PriorityLow)
	return err
}

// WithPage pins pid for the duration of fn. fn reports whether it modified
// the page.
func (bp *BufferPool) WithPage(ctx context.Context, pid page.ID, fn func(p *page.Page) (bool, error)) error {
	g, err := bp.PinPage(ctx, pid)
	if err != nil {
		return err
	}
	dirty, err := fn(g.Page())
	if dirty {
		g.MarkDirty()
	}
	if rerr := g.Release(); err == nil {
		err = rerr
	}
	return err
}

// Frames returns a snapshot of every frame.
func (bp *BufferPool) Frames() []FrameInfo {
	out := make([]FrameInfo, bp.arena.Len())
	for i := range out {
		out[i] = bp.arena.info(FrameID(i))
	}
	return out
}

// Close stops background work and flushes every dirty page. Pins are
// refused afterwards. The scheduler is left to its owner.
func (bp *BufferPool) Close(ctx context.Context) error {
	if !bp.closed.CompareAndSwap(false, true) {
		return nil
	}
	bp.flusher.stop()
	if bp.prefetcher != nil {
		bp.prefetcher.Close()
	}
	n, _, err := bp.flushAll(ctx)
	if err != nil {
		bp.logger.Error("Final flush failed", "error", err)
		return err
	}
	bp.logger.Info("Buffer pool closed", "flushed", n)
	return nil
}
