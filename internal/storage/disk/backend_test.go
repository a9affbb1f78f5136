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
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/ncw/directio"

	ferrors "pagecache/internal/errors"
	"pagecache/internal/storage/page"
)

func testBackendRoundTrip(t *testing.T, b Backend) {
	t.Helper()
	p := page.New(2)
	p.InsertTuple([]byte("persisted"))
	if _, err := b.WriteAt(p.Bytes(), Offset(2)); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := b.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	buf := make([]byte, page.PageSize)
	if _, err := b.ReadAt(buf, Offset(2)); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(buf, p.Bytes()) {
		t.Fatal("round trip mismatch")
	}

	// Page 0 was never written: a hole reads as zeros.
	if _, err := b.ReadAt(buf, Offset(0)); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAt hole: %v", err)
	}
	if !page.IsZero(buf) {
		t.Error("hole is not zero")
	}

	// Past the end reads zeros with io.EOF.
	buf[0] = 1
	if _, err := b.ReadAt(buf, Offset(10)); !errors.Is(err, io.EOF) {
		t.Errorf("ReadAt past end err = %v, want io.EOF", err)
	}
	if !page.IsZero(buf) {
		t.Error("past-end read not zero filled")
	}

	if s, ok := b.(Sizer); ok {
		size, err := s.Size()
		if err != nil || size != 3*page.PageSize {
			t.Errorf("Size = %d, %v", size, err)
		}
	}
}

func TestFileBackend(t *testing.T) {
	b, err := OpenFile(filepath.Join(t.TempDir(), "data.db"), false)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	testBackendRoundTrip(t, b)
}

func TestAlignedBlock(t *testing.T) {
	block := directio.AlignedBlock(2 * directio.BlockSize)
	if !alignedBlock(block) {
		t.Fatal("AlignedBlock result reported unaligned")
	}
	if !alignedBlock(nil) {
		t.Error("empty buffer reported unaligned")
	}
	if directio.AlignSize == 0 {
		return
	}

	tests := []struct {
		name string
		buf  []byte
	}{
		{"shifted address", block[1 : 1+directio.BlockSize]},
		{"short length", block[:directio.AlignSize/2]},
	}
	direct := &FileBackend{direct: true}
	buffered := &FileBackend{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if alignedBlock(tt.buf) {
				t.Error("misaligned buffer reported aligned")
			}
			if !direct.needsBounce(tt.buf) {
				t.Error("direct backend skips the bounce buffer")
			}
			if buffered.needsBounce(tt.buf) {
				t.Error("buffered backend uses a bounce buffer")
			}
		})
	}
	if direct.needsBounce(block[:directio.BlockSize]) {
		t.Error("aligned block bounced")
	}
}

func TestMemoryBackend(t *testing.T) {
	testBackendRoundTrip(t, NewMemoryBackend())
}

func TestCachedBackend(t *testing.T) {
	inner := newRecordingBackend()
	b, err := NewCachedBackend(inner, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	img := bytes.Repeat([]byte{7}, page.PageSize)
	if _, err := b.WriteAt(img, Offset(1)); err != nil {
		t.Fatal(err)
	}
	inner.reads.Store(0)

	// ristretto admission is probabilistic; a cached read never reaches the
	// inner backend and an uncached one does, so count both outcomes.
	buf := make([]byte, page.PageSize)
	if _, err := b.ReadAt(buf, Offset(1)); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, img) {
		t.Fatal("cached read mismatch")
	}
	if b.Hits() == 0 && inner.reads.Load() == 0 {
		t.Error("read neither hit the cache nor reached the backend")
	}

	// An overwrite must never leave the old image visible.
	img2 := bytes.Repeat([]byte{9}, page.PageSize)
	b.WriteAt(img2, Offset(1))
	b.ReadAt(buf, Offset(1))
	if !bytes.Equal(buf, img2) {
		t.Error("stale image served after overwrite")
	}
}

func TestSequentialAllocator(t *testing.T) {
	a := NewSequentialAllocator(4)
	first, _ := a.Allocate()
	second, _ := a.Allocate()
	if first != 4 || second != 5 {
		t.Fatalf("allocated %d, %d", first, second)
	}
	if err := a.Free(first); err != nil {
		t.Fatal(err)
	}
	if err := a.Free(first); !errors.Is(err, ferrors.ErrInvalidPage) {
		t.Errorf("double free = %v", err)
	}
	if err := a.Free(99); err == nil {
		t.Error("free of unallocated id accepted")
	}
	if id, _ := a.Allocate(); id != first {
		t.Errorf("freed id not reused: got %d", id)
	}
	if a.Next() != 6 || a.FreeCount() != 0 {
		t.Errorf("next %d free %d", a.Next(), a.FreeCount())
	}

	mem := NewMemoryBackend()
	mem.WriteAt(make([]byte, page.PageSize), Offset(2))
	fromBackend, err := AllocatorFor(mem)
	if err != nil {
		t.Fatal(err)
	}
	if fromBackend.Next() != 3 {
		t.Errorf("AllocatorFor next = %d, want 3", fromBackend.Next())
	}
}
