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
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"

	"pagecache/internal/storage/page"
)

// CachedBackend is a second-tier page cache in front of another backend.
// It keeps recently read or written page images in a cost-bounded ristretto
// cache so pages evicted from the buffer pool can be re-read without touching
// the device. Writes go through to the inner backend before the cache is
// updated, so the cache never holds data the device does not.
type CachedBackend struct {
	inner Backend
	cache *ristretto.Cache[uint64, []byte]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedBackend wraps inner with a cache holding up to maxBytes of pages.
func NewCachedBackend(inner Backend, maxBytes int64) (*CachedBackend, error) {
	pages := maxBytes / page.PageSize
	if pages < 1 {
		pages = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: pages * 10,
		MaxCost:     pages * page.PageSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedBackend{inner: inner, cache: cache}, nil
}

// Inner returns the wrapped backend.
func (b *CachedBackend) Inner() Backend { return b.inner }

func pageSpan(buf []byte, off int64) (first uint64, n int, ok bool) {
	if off%page.PageSize != 0 || len(buf) == 0 || len(buf)%page.PageSize != 0 {
		return 0, 0, false
	}
	return uint64(off / page.PageSize), len(buf) / page.PageSize, true
}

// ReadAt serves whole-page reads from the cache when every page is present.
func (b *CachedBackend) ReadAt(buf []byte, off int64) (int, error) {
	first, n, ok := pageSpan(buf, off)
	if !ok {
		return b.inner.ReadAt(buf, off)
	}
	all := true
	for i := 0; i < n && all; i++ {
		img, found := b.cache.Get(first + uint64(i))
		if !found {
			all = false
			break
		}
		copy(buf[i*page.PageSize:], img)
	}
	if all {
		b.hits.Add(uint64(n))
		return len(buf), nil
	}
	b.misses.Add(1)

	read, err := b.inner.ReadAt(buf, off)
	if err != nil {
		return read, err
	}
	b.store(first, n, buf)
	return read, nil
}

// WriteAt writes through and refreshes the cached images.
func (b *CachedBackend) WriteAt(buf []byte, off int64) (int, error) {
	first, n, ok := pageSpan(buf, off)
	if ok {
		for i := 0; i < n; i++ {
			b.cache.Del(first + uint64(i))
		}
	}
	written, err := b.inner.WriteAt(buf, off)
	if err != nil || !ok {
		return written, err
	}
	b.store(first, n, buf)
	return written, nil
}

func (b *CachedBackend) store(first uint64, n int, buf []byte) {
	for i := 0; i < n; i++ {
		img := make([]byte, page.PageSize)
		copy(img, buf[i*page.PageSize:])
		b.cache.Set(first+uint64(i), img, page.PageSize)
	}
	b.cache.Wait()
}

// Sync syncs the inner backend.
func (b *CachedBackend) Sync() error { return b.inner.Sync() }

// Size reports the inner backend size when known.
func (b *CachedBackend) Size() (int64, error) {
	if s, ok := b.inner.(Sizer); ok {
		return s.Size()
	}
	return 0, nil
}

// Hits returns the number of pages served from the cache.
func (b *CachedBackend) Hits() uint64 { return b.hits.Load() }

// Misses returns the number of reads that reached the inner backend.
func (b *CachedBackend) Misses() uint64 { return b.misses.Load() }

// ResetStats zeroes the hit and miss counters.
func (b *CachedBackend) ResetStats() {
	b.hits.Store(0)
	b.misses.Store(0)
}

// Close releases the cache and closes the inner backend.
func (b *CachedBackend) Close() error {
	b.cache.Close()
	return b.inner.Close()
}
