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
Package eviction provides the pluggable page replacement policies of the
buffer pool.

Every policy implements the same contract so the pool is policy-agnostic:

	RecordAccess(frame, page)  frame was pinned (hit or fresh load)
	RecordUnpin(frame)         the last pin was released
	FindVictim(view)           choose an evictable frame; no state change
	RecordEviction(frame)      the pool reclaimed the chosen frame
	Remove(frame)              frame dropped without eviction history

Policies only ever hold frame ids and page ids, never page bytes or frame
pointers. Whether a frame can be taken (pin count zero, no I/O in flight,
page loaded) is answered by the FrameView the pool passes in, so a victim
is never a pinned or busy frame at selection time. FindVictim leaves policy
state untouched; the pool may fail to claim the frame and ask again.

Available policies:

	┌────────┬──────────────────────────────────────────────────────────┐
	│ clock  │ second chance over the frame array (default)             │
	│ lru    │ least recently used                                      │
	│ 2q     │ A1in FIFO, A1out ghost queue, Am LRU                     │
	│ lruk   │ largest backward K-distance                              │
	│ arc    │ adaptive recency/frequency split with ghost lists        │
	│ lirs   │ inter-reference recency with LIR/HIR sets                │
	└────────┴──────────────────────────────────────────────────────────┘

All list bookkeeping goes through OrderedList.
*/
package eviction

import (
	"fmt"
	"strings"

	"pagecache/internal/storage/page"
)

// FrameID indexes the buffer pool's frame arena.
type FrameID int32

// InvalidFrame is never a valid index.
const InvalidFrame FrameID = -1

// FrameView exposes the per-frame state a policy needs.
type FrameView interface {
	// Len returns the number of frames.
	Len() int
	// Evictable reports whether fid holds a page, is unpinned and has no
	// I/O in flight.
	Evictable(fid FrameID) bool
	// TestAndClearRef returns the frame's reference bit and clears it.
	TestAndClearRef(fid FrameID) bool
}

// Policy selects frames to reclaim.
type Policy interface {
	Name() string
	RecordAccess(fid FrameID, pid page.ID)
	RecordUnpin(fid FrameID)
	FindVictim(view FrameView) (FrameID, bool)
	RecordEviction(fid FrameID)
	Remove(fid FrameID)
	Stats() Stats
	// ResetStats zeroes the counters and keeps the replacement state.
	ResetStats()
	// Reset forgets every frame.
	Reset()
}

// Stats holds policy counters.
type Stats struct {
	Name      string `json:"name"`
	Victims   uint64 `json:"victims"`
	Scans     uint64 `json:"scans"`
	GhostHits uint64 `json:"ghost_hits"`
	Tracked   int    `json:"tracked"`
}

// Kind names a policy.
type Kind string

const (
	KindClock Kind = "clock"
	KindLRU   Kind = "lru"
	Kind2Q    Kind = "2q"
	KindLRUK  Kind = "lruk"
	KindARC   Kind = "arc"
	KindLIRS  Kind = "lirs"
)

// Kinds lists every policy.
var Kinds = []Kind{KindClock, KindLRU, Kind2Q, KindLRUK, KindARC, KindLIRS}

// ParseKind parses a policy name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown eviction policy %q", s)
}

// New creates a policy for a pool of frames. k is used by LRU-K only.
func New(kind Kind, frames, k int) (Policy, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("eviction: frame count must be positive, got %d", frames)
	}
	switch kind {
	case KindClock, "":
		return NewClock(frames), nil
	case KindLRU:
		return NewLRU(), nil
	case Kind2Q:
		return NewTwoQ(frames), nil
	case KindLRUK:
		if k < 1 {
			k = 2
		}
		return NewLRUK(frames, k), nil
	case KindARC:
		return NewARC(frames), nil
	case KindLIRS:
		return NewLIRS(frames), nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", kind)
	}
}

// walkEvictable returns the first evictable frame walking l from the back.
func walkEvictable(l *OrderedList[FrameID], view FrameView, scans *uint64) (FrameID, bool) {
	victim := InvalidFrame
	l.WalkFromBack(func(fid FrameID) bool {
		*scans++
		if view.Evictable(fid) {
			victim = fid
			return false
		}
		return true
	})
	return victim, victim != InvalidFrame
}
