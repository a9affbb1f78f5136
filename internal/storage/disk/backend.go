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
Package disk implements the durable side of the page cache: storage
backends, the prioritized I/O scheduler and the page allocator.

Backends:
=========

A Backend is the narrow byte-range contract with durable media:

	ReadAt(buf, off)   read len(buf) bytes at off; bytes past the end read as zero
	WriteAt(buf, off)  write buf at off, extending the store as needed
	Sync()             make completed writes durable

Pages live at pageID*PageSize. Backends never interpret page contents.

	┌──────────────┐   ┌───────────────┐   ┌──────────────────────────┐
	│  Scheduler   │──▶│ CachedBackend │──▶│ FileBackend (O_DIRECT?)  │
	│ (read/write/ │   │  (ristretto,  │   │ MemoryBackend (memfile)  │
	│   sync)      │   │   optional)   │   └──────────────────────────┘
	└──────────────┘   └───────────────┘

Per-page ordering is the caller's responsibility: the buffer pool never
has two operations on the same page in flight at once.
*/
package disk

import (
	"io"
	"os"
	"sync"
	"unsafe"

	"github.com/dsnet/golib/memfile"
	"github.com/ncw/directio"

	"pagecache/internal/storage/page"
)

// Backend is durable storage addressed by byte offset.
type Backend interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// Sizer is implemented by backends that know their current length.
type Sizer interface {
	Size() (int64, error)
}

// Offset returns the byte offset of a page in the backing store.
func Offset(id page.ID) int64 {
	return int64(id) * page.PageSize
}

// ============================================================================
// File Backend
// ============================================================================

// FileBackend stores pages in a single file.
type FileBackend struct {
	file   *os.File
	path   string
	direct bool
}

// OpenFile opens or creates the data file at path. With direct set the file
// is opened with O_DIRECT (where supported) and every transfer goes through
// an aligned bounce buffer unless the caller's buffer is already aligned.
func OpenFile(path string, direct bool) (*FileBackend, error) {
	var (
		f   *os.File
		err error
	)
	if direct {
		f, err = directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	}
	if err != nil {
		return nil, err
	}
	return &FileBackend{file: f, path: path, direct: direct}, nil
}

// Path returns the file path.
func (b *FileBackend) Path() string { return b.path }

// ReadAt reads len(buf) bytes at off. A read past the end of the file
// zero-fills the remainder and returns io.EOF with the count of real bytes.
func (b *FileBackend) ReadAt(buf []byte, off int64) (int, error) {
	if !b.needsBounce(buf) {
		n, err := b.file.ReadAt(buf, off)
		clear(buf[n:])
		return n, err
	}
	block := directio.AlignedBlock(len(buf))
	n, err := b.file.ReadAt(block, off)
	copy(buf, block[:n])
	clear(buf[n:])
	return n, err
}

// WriteAt writes buf at off.
func (b *FileBackend) WriteAt(buf []byte, off int64) (int, error) {
	if !b.needsBounce(buf) {
		return b.file.WriteAt(buf, off)
	}
	block := directio.AlignedBlock(len(buf))
	copy(block, buf)
	return b.file.WriteAt(block, off)
}

func (b *FileBackend) needsBounce(buf []byte) bool {
	return b.direct && !alignedBlock(buf)
}

// alignedBlock reports whether buf can be handed to an O_DIRECT transfer
// as is: its address and its length are both multiples of AlignSize.
func alignedBlock(buf []byte) bool {
	align := uintptr(directio.AlignSize)
	if align == 0 || len(buf) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&buf[0]))&(align-1) == 0 && uintptr(len(buf))&(align-1) == 0
}

// Sync flushes file data to stable storage.
func (b *FileBackend) Sync() error {
	return syncData(b.file)
}

// Size returns the current file length.
func (b *FileBackend) Size() (int64, error) {
	fi, err := b.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Close closes the file.
func (b *FileBackend) Close() error {
	return b.file.Close()
}

// ============================================================================
// Memory Backend
// ============================================================================

// MemoryBackend keeps pages in memory. Sync is a no-op.
type MemoryBackend struct {
	mu   sync.RWMutex
	file *memfile.File
}

// NewMemoryBackend returns an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{file: memfile.New(make([]byte, 0))}
}

// ReadAt reads len(buf) bytes at off, zero-filling past the end.
func (b *MemoryBackend) ReadAt(buf []byte, off int64) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, err := b.file.ReadAt(buf, off)
	if n < len(buf) {
		clear(buf[n:])
	}
	return n, err
}

// WriteAt writes buf at off, growing the store as needed.
func (b *MemoryBackend) WriteAt(buf []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.WriteAt(buf, off)
}

// Sync is a no-op.
func (b *MemoryBackend) Sync() error { return nil }

// Size returns the store length.
func (b *MemoryBackend) Size() (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.file.Bytes())), nil
}

// Close releases nothing; the contents stay readable.
func (b *MemoryBackend) Close() error { return nil }
