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

package disk

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	ferrors "pagecache/internal/errors"
	"pagecache/internal/storage/page"
)

// SequentialAllocator hands out page ids by extending the store and reuses
// freed ids most-recently-freed first.
type SequentialAllocator struct {
	mu       sync.Mutex
	next     page.ID
	freeList []page.ID
	freeSet  mapset.Set[page.ID]
}

// NewSequentialAllocator starts allocating at next.
func NewSequentialAllocator(next page.ID) *SequentialAllocator {
	return &SequentialAllocator{
		next:    next,
		freeSet: mapset.NewThreadUnsafeSet[page.ID](),
	}
}

// AllocatorFor starts after the last page already present in b.
func AllocatorFor(b Backend) (*SequentialAllocator, error) {
	var next page.ID
	if s, ok := b.(Sizer); ok {
		size, err := s.Size()
		if err != nil {
			return nil, err
		}
		next = page.ID((size + page.PageSize - 1) / page.PageSize)
	}
	return NewSequentialAllocator(next), nil
}

// Allocate returns an unused page id.
func (a *SequentialAllocator) Allocate() (page.ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.freeList); n > 0 {
		id := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.freeSet.Remove(id)
		return id, nil
	}
	if a.next == page.InvalidID {
		return page.InvalidID, ferrors.InvalidPage(uint64(a.next), "page id space exhausted")
	}
	id := a.next
	a.next++
	return id, nil
}

// Free returns id to the allocator. Freeing an id twice or one that was
// never allocated is an error.
func (a *SequentialAllocator) Free(id page.ID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id >= a.next || a.freeSet.Contains(id) {
		return ferrors.InvalidPage(uint64(id), "free of unallocated page")
	}
	a.freeList = append(a.freeList, id)
	a.freeSet.Add(id)
	return nil
}

// Next returns the id the allocator would extend to.
func (a *SequentialAllocator) Next() page.ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// FreeCount returns the number of reusable ids.
func (a *SequentialAllocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.freeList)
}
