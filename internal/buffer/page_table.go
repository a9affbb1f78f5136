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
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"

	ferrors "pagecache/internal/errors"
	"pagecache/internal/storage/page"
)

const numShards = 64

type entryState uint8

const (
	entryLoading entryState = iota
	entryReady
	entryEvicting
)

// tableEntry maps a page to its frame. While loading or evicting, done is
// open and other callers wait on it instead of touching the frame.
type tableEntry struct {
	fid   FrameID
	state entryState
	done  chan struct{}
	err   error
}

type shard struct {
	mu      sync.RWMutex
	entries map[page.ID]*tableEntry
}

// pageTable is the sharded page id to frame id index. It is the only
// structure that creates or removes that mapping.
type pageTable struct {
	arena  *arena
	shards [numShards]shard
}

func newPageTable(a *arena) *pageTable {
	t := &pageTable{arena: a}
	for i := range t.shards {
		t.shards[i].entries = make(map[page.ID]*tableEntry)
	}
	return t
}

func (t *pageTable) shardFor(pid page.ID) *shard {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(pid))
	return &t.shards[xxhash.Sum64(b[:])&(numShards-1)]
}

// Lookup returns the frame holding pid if it is fully loaded.
func (t *pageTable) Lookup(pid page.ID) (FrameID, bool) {
	s := t.shardFor(pid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[pid]
	if !ok || e.state != entryReady {
		return 0, false
	}
	return e.fid, true
}

// Contains reports whether pid is present in any state.
func (t *pageTable) Contains(pid page.ID) bool {
	s := t.shardFor(pid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[pid]
	return ok
}

// Insert maps pid to fid.
func (t *pageTable) Insert(pid page.ID, fid FrameID) error {
	s := t.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[pid]; ok {
		return ferrors.AlreadyPresent(uint64(pid))
	}
	s.entries[pid] = &tableEntry{fid: fid, state: entryReady}
	return nil
}

// Remove deletes the mapping of pid. The frame must be unpinned.
func (t *pageTable) Remove(pid page.ID) error {
	s := t.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[pid]
	if !ok || e.state != entryReady {
		return ferrors.PageNotFound(uint64(pid))
	}
	if pins := t.arena.frame(e.fid).pinCount.Load(); pins > 0 {
		return ferrors.PagePinned(uint64(pid), pins)
	}
	delete(s.entries, pid)
	return nil
}

// Len returns the number of entries in every state.
func (t *pageTable) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// pin pins pid's frame if it is ready. Otherwise it returns the channel to
// wait on (loading or evicting), or nil if pid is absent. Pinning under the
// shard read lock excludes a concurrent eviction claim, which needs the write
// lock.
func (t *pageTable) pin(pid page.ID) (*Frame, *tableEntry, <-chan struct{}) {
	s := t.shardFor(pid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[pid]
	if !ok {
		return nil, nil, nil
	}
	if e.state != entryReady {
		return nil, e, e.done
	}
	f := t.arena.frame(e.fid)
	f.pinCount.Add(1)
	return f, e, nil
}

// reserve installs a loading marker for pid unless an entry exists. The
// caller that gets owner == true must finish with publish or fail.
func (t *pageTable) reserve(pid page.ID) (e *tableEntry, owner bool) {
	s := t.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[pid]; ok {
		return e, false
	}
	e = &tableEntry{fid: -1, state: entryLoading, done: make(chan struct{})}
	s.entries[pid] = e
	return e, true
}

// publish completes a load: pid now maps to fid and waiters are released.
func (t *pageTable) publish(pid page.ID, e *tableEntry, fid FrameID) {
	s := t.shardFor(pid)
	s.mu.Lock()
	e.fid = fid
	e.state = entryReady
	done := e.done
	s.mu.Unlock()
	close(done)
}

// fail abandons a load; waiters observe err.
func (t *pageTable) fail(pid page.ID, e *tableEntry, err error) {
	s := t.shardFor(pid)
	s.mu.Lock()
	if s.entries[pid] == e {
		delete(s.entries, pid)
	}
	e.err = err
	done := e.done
	s.mu.Unlock()
	close(done)
}

// claim marks pid's entry as evicting if it still maps to fid and ok
// approves the frame state under the shard lock.
func (t *pageTable) claim(pid page.ID, fid FrameID, ok func(*Frame) bool) (*tableEntry, bool) {
	s := t.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, present := s.entries[pid]
	if !present || e.state != entryReady || e.fid != fid {
		return nil, false
	}
	if !ok(t.arena.frame(fid)) {
		return nil, false
	}
	e.state = entryEvicting
	e.done = make(chan struct{})
	return e, true
}

// unclaim returns an evicting entry to ready.
func (t *pageTable) unclaim(pid page.ID, e *tableEntry) {
	s := t.shardFor(pid)
	s.mu.Lock()
	e.state = entryReady
	done := e.done
	s.mu.Unlock()
	close(done)
}

// release removes a claimed entry; waiters retry and miss.
func (t *pageTable) release(pid page.ID, e *tableEntry) {
	s := t.shardFor(pid)
	s.mu.Lock()
	if s.entries[pid] == e {
		delete(s.entries, pid)
	}
	done := e.done
	s.mu.Unlock()
	close(done)
}
