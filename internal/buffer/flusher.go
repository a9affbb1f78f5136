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
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	ferrors "pagecache/internal/errors"
	"pagecache/internal/logging"
	"pagecache/internal/storage/disk"
	"pagecache/internal/storage/page"
)

// dirtyEntry is one member of the write-behind set. seq orders entries by
// the time they became dirty.
type dirtyEntry struct {
	fid FrameID
	pid page.ID
	seq uint64
}

// flusher owns the write-behind set and every write-back of a frame.
type flusher struct {
	arena  *arena
	sched  *disk.Scheduler
	wal    WAL
	logger *logging.Logger

	maxDirty  int
	batchSize int
	maxRun    int
	interval  time.Duration

	set     *xsync.MapOf[FrameID, dirtyEntry]
	count   atomic.Int64
	seq     atomic.Uint64
	boundMu sync.Mutex

	pages  *xsync.Counter
	writes *xsync.Counter
	forced *xsync.Counter
	failed *xsync.Counter

	kick    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool
	stopped atomic.Bool
}

func newFlusher(a *arena, sched *disk.Scheduler, wal WAL, config Config) *flusher {
	if wal == nil {
		wal = NoWAL{}
	}
	return &flusher{
		arena:     a,
		sched:     sched,
		wal:       wal,
		logger:    logging.NewLogger("flusher"),
		maxDirty:  config.MaxDirtyPages,
		batchSize: config.FlushBatchSize,
		maxRun:    config.FlushBatchSize,
		interval:  config.FlushInterval,
		set:       xsync.NewMapOf[FrameID, dirtyEntry](),
		pages:     xsync.NewCounter(),
		writes:    xsync.NewCounter(),
		forced:    xsync.NewCounter(),
		failed:    xsync.NewCounter(),
		kick:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Len returns the size of the write-behind set.
func (fl *flusher) Len() int { return int(fl.count.Load()) }

// track adds a newly dirtied frame. When the set is at its bound the oldest
// entries are flushed synchronously first. If that frees no room the frame
// stays dirty but untracked and the write error is returned; eviction and
// FlushAll follow the dirty bit and still write it back.
func (fl *flusher) track(ctx context.Context, f *Frame, pid page.ID) error {
	fl.boundMu.Lock()
	defer fl.boundMu.Unlock()

	if _, ok := fl.set.Load(f.id); ok {
		return nil
	}
	var firstErr error
	for fl.maxDirty > 0 && fl.Len() >= fl.maxDirty {
		victims := fl.oldest(fl.Len() - fl.maxDirty + 1)
		if len(victims) == 0 {
			break
		}
		flushed := 0
		for _, v := range victims {
			n, _, err := fl.flushRun(ctx, []dirtyEntry{v}, disk.PriorityNormal, true)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			flushed += n
		}
		fl.forced.Add(int64(flushed))
		if flushed == 0 {
			break
		}
	}
	added := fl.add(f.id, pid)
	if fl.maxDirty > 0 && fl.Len() >= fl.maxDirty*3/4 {
		select {
		case fl.kick <- struct{}{}:
		default:
		}
	}
	if !added {
		fl.logger.Warn("Write-behind set full, page left untracked", "page", pid, "max_dirty", fl.maxDirty, "error", firstErr)
		if firstErr == nil {
			firstErr = ferrors.QueueFull("write-behind", fl.maxDirty)
		}
	}
	return firstErr
}

// add puts fid in the set unless the set is at its bound. It reports
// whether fid is tracked on return.
func (fl *flusher) add(fid FrameID, pid page.ID) bool {
	if _, ok := fl.set.Load(fid); ok {
		return true
	}
	for {
		n := fl.count.Load()
		if fl.maxDirty > 0 && n >= int64(fl.maxDirty) {
			return false
		}
		if fl.count.CompareAndSwap(n, n+1) {
			break
		}
	}
	e := dirtyEntry{fid: fid, pid: pid, seq: fl.seq.Add(1)}
	if _, loaded := fl.set.LoadOrStore(fid, e); loaded {
		fl.count.Add(-1)
	}
	return true
}

func (fl *flusher) untrack(fid FrameID) {
	if _, ok := fl.set.LoadAndDelete(fid); ok {
		fl.count.Add(-1)
	}
}

// oldest returns up to n entries in the order they became dirty.
func (fl *flusher) oldest(n int) []dirtyEntry {
	if n <= 0 {
		return nil
	}
	all := make([]dirtyEntry, 0, fl.Len())
	fl.set.Range(func(_ FrameID, e dirtyEntry) bool {
		all = append(all, e)
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// flushFrame writes one frame back if it still holds pid and is dirty. It
// always takes the frame's flush lock, so on return no write of the frame is
// in flight.
func (fl *flusher) flushFrame(ctx context.Context, f *Frame, pid page.ID, prio disk.Priority) error {
	_, _, err := fl.flushRun(ctx, []dirtyEntry{{fid: f.id, pid: pid}}, prio, true)
	return err
}

// flushRun writes back the entries of run, which must be sorted by page id.
// Frames whose page changed or that are clean are skipped; with wait false,
// frames another flush holds are skipped as well. Each stretch of adjacent
// pages goes out as one write.
func (fl *flusher) flushRun(ctx context.Context, run []dirtyEntry, prio disk.Priority, wait bool) (int, page.LSN, error) {
	frames := make([]*Frame, 0, len(run))
	pids := make([]page.ID, 0, len(run))
	for _, e := range run {
		f := fl.arena.frame(e.fid)
		if wait {
			f.flushMu.Lock()
		} else if !f.flushMu.TryLock() {
			continue
		}
		if f.PageID() != e.pid {
			f.flushMu.Unlock()
			continue
		}
		// Untrack before clearing the bit: a concurrent dirtier then
		// either sees the bit set and skips tracking, or sets it after
		// the clear and tracks again.
		fl.untrack(f.id)
		if !f.dirty.CompareAndSwap(true, false) {
			f.flushMu.Unlock()
			continue
		}
		frames = append(frames, f)
		pids = append(pids, e.pid)
	}

	var (
		written  int
		maxLSN   page.LSN
		firstErr error
	)
	for start := 0; start < len(frames); {
		end := start + 1
		for end < len(frames) && pids[end] == pids[end-1]+1 {
			end++
		}
		lsn, err := fl.writeSegment(ctx, frames[start:end], pids[start], prio)
		if err != nil {
			for i := start; i < end; i++ {
				frames[i].dirty.Store(true)
				fl.add(frames[i].id, pids[i])
			}
			fl.failed.Add(int64(end - start))
			if firstErr == nil {
				firstErr = err
			}
		} else {
			written += end - start
			if lsn > maxLSN {
				maxLSN = lsn
			}
		}
		for _, f := range frames[start:end] {
			f.flushMu.Unlock()
		}
		start = end
	}
	fl.pages.Add(int64(written))
	return written, maxLSN, firstErr
}

// writeSegment snapshots adjacent frames into one buffer, makes the log
// durable up to their highest LSN and writes them at first.
func (fl *flusher) writeSegment(ctx context.Context, frames []*Frame, first page.ID, prio disk.Priority) (page.LSN, error) {
	buf := make([]byte, len(frames)*page.PageSize)
	var maxLSN page.LSN
	for i, f := range frames {
		img := buf[i*page.PageSize : (i+1)*page.PageSize]
		copy(img, f.data)
		page.Seal(img)
		if lsn := page.Wrap(img).LSN(); lsn > maxLSN {
			maxLSN = lsn
		}
	}
	if maxLSN > fl.wal.FlushedLSN() {
		if err := fl.wal.EnsureFlushedUpTo(ctx, maxLSN); err != nil {
			return 0, err
		}
	}
	if err := fl.sched.Write(ctx, first, prio, buf); err != nil {
		fl.logger.Warn("Page write-back failed", "page", first, "pages", len(frames), "error", err)
		return 0, err
	}
	fl.writes.Inc()
	return maxLSN, nil
}

// splitRuns sorts entries by page id and cuts them into runs of adjacent
// pages no longer than maxRun.
func splitRuns(entries []dirtyEntry, maxRun int) [][]dirtyEntry {
	if maxRun < 1 {
		maxRun = 1
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].pid < entries[j].pid })
	var runs [][]dirtyEntry
	for start := 0; start < len(entries); {
		end := start + 1
		for end < len(entries) && end-start < maxRun && entries[end].pid == entries[end-1].pid+1 {
			end++
		}
		runs = append(runs, entries[start:end])
		start = end
	}
	return runs
}

// flushEntries writes entries back in parallel runs and returns the number
// of pages written and their highest LSN.
func (fl *flusher) flushEntries(ctx context.Context, entries []dirtyEntry, prio disk.Priority, wait bool) (int, page.LSN, error) {
	var (
		mu      sync.Mutex
		written int
		maxLSN  page.LSN
		g       errgroup.Group
	)
	for _, run := range splitRuns(entries, fl.maxRun) {
		run := run
		g.Go(func() error {
			n, lsn, err := fl.flushRun(ctx, run, prio, wait)
			mu.Lock()
			written += n
			if lsn > maxLSN {
				maxLSN = lsn
			}
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return written, maxLSN, err
}

// flushRound writes back one batch of the oldest dirty frames, skipping
// frames a foreground flush holds.
func (fl *flusher) flushRound(ctx context.Context) (int, error) {
	batch := fl.oldest(fl.batchSize)
	if len(batch) == 0 {
		return 0, nil
	}
	n, _, err := fl.flushEntries(ctx, batch, disk.PriorityLow, false)
	return n, err
}

func (fl *flusher) start() {
	if fl.interval <= 0 || !fl.started.CompareAndSwap(false, true) {
		return
	}
	go fl.loop()
}

func (fl *flusher) loop() {
	defer close(fl.doneCh)

	ticker := time.NewTicker(fl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-fl.kick:
		case <-fl.stopCh:
			return
		}
		if fl.Len() == 0 {
			continue
		}
		n, err := fl.flushRound(context.Background())
		if err != nil {
			fl.logger.Warn("Background flush incomplete", "flushed", n, "error", err)
			continue
		}
		fl.logger.Debug("Background flush", "flushed", n, "remaining", fl.Len())
	}
}

func (fl *flusher) stop() {
	if !fl.stopped.CompareAndSwap(false, true) {
		return
	}
	close(fl.stopCh)
	if fl.started.Load() {
		<-fl.doneCh
	}
}
