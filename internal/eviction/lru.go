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

// LRU evicts the least recently used unpinned frame.
type LRU struct {
	mu      sync.Mutex
	list    *OrderedList[FrameID]
	victims uint64
	scans   uint64
}

// NewLRU creates an LRU policy.
func NewLRU() *LRU {
	return &LRU{list: NewOrderedList[FrameID]()}
}

func (l *LRU) Name() string { return string(KindLRU) }

func (l *LRU) RecordAccess(fid FrameID, _ page.ID) {
	l.mu.Lock()
	l.list.PushFront(fid)
	l.mu.Unlock()
}

func (l *LRU) RecordUnpin(fid FrameID) {
	l.mu.Lock()
	l.list.MoveToFront(fid)
	l.mu.Unlock()
}

func (l *LRU) FindVictim(view FrameView) (FrameID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fid, ok := walkEvictable(l.list, view, &l.scans)
	if ok {
		l.victims++
	}
	return fid, ok
}

func (l *LRU) RecordEviction(fid FrameID) { l.Remove(fid) }

func (l *LRU) Remove(fid FrameID) {
	l.mu.Lock()
	l.list.Remove(fid)
	l.mu.Unlock()
}

func (l *LRU) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Name: l.Name(), Victims: l.victims, Scans: l.scans, Tracked: l.list.Len()}
}

func (l *LRU) ResetStats() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.victims, l.scans = 0, 0
}

func (l *LRU) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list.Clear()
	l.victims, l.scans = 0, 0
}
