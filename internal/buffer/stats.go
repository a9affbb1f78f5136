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
	"strings"

	"github.com/dustin/go-humanize"

	"pagecache/internal/eviction"
	"pagecache/internal/prefetch"
	"pagecache/internal/storage/disk"
	"pagecache/internal/storage/page"
)

// BufferPoolStats is a point-in-time snapshot of pool counters.
type BufferPoolStats struct {
	Frames        int     `json:"frames"`
	Used          int     `json:"used"`
	Pinned        int     `json:"pinned"`
	Dirty         int     `json:"dirty"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	Evictions     uint64  `json:"evictions"`
	Flushes       uint64  `json:"flushes"`
	FlushWrites   uint64  `json:"flush_writes"`
	FlushFailures uint64  `json:"flush_failures"`
	ForcedFlushes uint64  `json:"forced_flushes"`
	PoolExhausted uint64  `json:"pool_exhausted"`
	QueueFull     uint64  `json:"queue_full"`
	VictimHits    uint64  `json:"victim_hits"`
	VictimMisses  uint64  `json:"victim_misses"`

	QueueDepths disk.QueueDepths    `json:"queue_depths"`
	IO          disk.SchedulerStats `json:"io"`
	Policy      eviction.Stats      `json:"policy"`
	Prefetch    prefetch.Stats      `json:"prefetch"`
}

// Stats returns the current counters.
func (bp *BufferPool) Stats() BufferPoolStats {
	s := BufferPoolStats{
		Frames:        bp.arena.Len(),
		Dirty:         bp.flusher.Len(),
		Hits:          uint64(bp.hits.Value()),
		Misses:        uint64(bp.misses.Value()),
		Evictions:     uint64(bp.evictions.Value()),
		Flushes:       uint64(bp.flusher.pages.Value()),
		FlushWrites:   uint64(bp.flusher.writes.Value()),
		FlushFailures: uint64(bp.flusher.failed.Value()),
		ForcedFlushes: uint64(bp.flusher.forced.Value()),
		PoolExhausted: uint64(bp.exhausted.Value()),
		Policy:        bp.policy.Stats(),
	}
	for i := range bp.arena.frames {
		f := &bp.arena.frames[i]
		if f.PageID() == page.InvalidID {
			continue
		}
		s.Used++
		if f.pinCount.Load() > 0 {
			s.Pinned++
		}
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	s.IO = bp.sched.Stats()
	s.QueueDepths = s.IO.Depths
	s.QueueFull = s.IO.QueueFull
	if cb, ok := bp.sched.Backend().(*disk.CachedBackend); ok {
		s.VictimHits = cb.Hits()
		s.VictimMisses = cb.Misses()
	}
	if bp.prefetcher != nil {
		s.Prefetch = bp.prefetcher.Stats()
	}
	return s
}

// ResetStats zeroes every counter Stats reports. Gauges (used, pinned and
// dirty frames, queue depths) describe live state and are unaffected.
func (bp *BufferPool) ResetStats() {
	bp.hits.Reset()
	bp.misses.Reset()
	bp.evictions.Reset()
	bp.exhausted.Reset()
	bp.flusher.pages.Reset()
	bp.flusher.writes.Reset()
	bp.flusher.forced.Reset()
	bp.flusher.failed.Reset()
	bp.policy.ResetStats()
	bp.sched.ResetStats()
	if cb, ok := bp.sched.Backend().(*disk.CachedBackend); ok {
		cb.ResetStats()
	}
	if bp.prefetcher != nil {
		bp.prefetcher.ResetStats()
	}
	bp.logger.Debug("Statistics reset")
}

// String renders the snapshot for humans.
func (s BufferPoolStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "frames:      %s used / %s (%s), %d pinned, %d dirty\n",
		humanize.Comma(int64(s.Used)), humanize.Comma(int64(s.Frames)),
		humanize.IBytes(uint64(s.Frames)*page.PageSize), s.Pinned, s.Dirty)
	fmt.Fprintf(&b, "lookups:     %s hits, %s misses (%.1f%% hit rate)\n",
		humanize.Comma(int64(s.Hits)), humanize.Comma(int64(s.Misses)), s.HitRate*100)
	fmt.Fprintf(&b, "evictions:   %s (policy %s, %s scanned)\n",
		humanize.Comma(int64(s.Evictions)), s.Policy.Name, humanize.Comma(int64(s.Policy.Scans)))
	fmt.Fprintf(&b, "write-back:  %s pages in %s writes, %s forced, %s failed\n",
		humanize.Comma(int64(s.Flushes)), humanize.Comma(int64(s.FlushWrites)),
		humanize.Comma(int64(s.ForcedFlushes)), humanize.Comma(int64(s.FlushFailures)))
	fmt.Fprintf(&b, "pressure:    %d pool exhausted, %d queue full\n", s.PoolExhausted, s.QueueFull)
	fmt.Fprintf(&b, "queues:      read=%d write=%d sync=%d\n", s.QueueDepths.Read, s.QueueDepths.Write, s.QueueDepths.Sync)
	fmt.Fprintf(&b, "io:          %s reads, %s writes (%s coalesced), %s retries, avg %v\n",
		humanize.Comma(int64(s.IO.Reads)), humanize.Comma(int64(s.IO.Writes)),
		humanize.Comma(int64(s.IO.Coalesced)), humanize.Comma(int64(s.IO.Retries)), s.IO.AvgLatency)
	fmt.Fprintf(&b, "prefetch:    %s issued, %s hits, %s wasted, depth %d, pattern %s\n",
		humanize.Comma(int64(s.Prefetch.Issued)), humanize.Comma(int64(s.Prefetch.Hits)),
		humanize.Comma(int64(s.Prefetch.Wasted)), s.Prefetch.Depth, s.Prefetch.LastPattern)
	if s.VictimHits+s.VictimMisses > 0 {
		fmt.Fprintf(&b, "victim cache: %s hits, %s misses\n",
			humanize.Comma(int64(s.VictimHits)), humanize.Comma(int64(s.VictimMisses)))
	}
	return b.String()
}
