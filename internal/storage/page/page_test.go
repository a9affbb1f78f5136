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

package page

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"testing"

	ferrors "pagecache/internal/errors"
)

func TestInsertIntoFreshPage(t *testing.T) {
	p := New(1)
	slot, err := p.InsertTuple(bytes.Repeat([]byte{'x'}, 100))
	if err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	if slot != 0 {
		t.Errorf("slot = %d, want 0", slot)
	}
	if p.SlotCount() != 1 {
		t.Errorf("slot count = %d, want 1", p.SlotCount())
	}
	if got := p.FreeSpace(); got != 3960 {
		t.Errorf("free space = %d, want 3960", got)
	}
	if !p.VerifyChecksum() {
		t.Error("checksum not refreshed after insert")
	}
}

func TestInsertPageFull(t *testing.T) {
	p := New(2)
	tuple := make([]byte, 1000)
	for i := 0; i < 4; i++ {
		if _, err := p.InsertTuple(tuple); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	// 4096 - 32 - 4*1004 = 48 bytes left.
	_, err := p.InsertTuple(tuple)
	if !errors.Is(err, ferrors.ErrPageFull) {
		t.Fatalf("expected PageFull, got %v", err)
	}
	if _, err := p.InsertTuple(make([]byte, 44)); err != nil {
		t.Errorf("exact fit should succeed: %v", err)
	}
	if p.FreeSpace() != 0 {
		t.Errorf("free space = %d, want 0", p.FreeSpace())
	}
	if _, err := New(3).InsertTuple(make([]byte, MaxTupleSize+1)); !errors.Is(err, ferrors.ErrTupleTooLarge) {
		t.Errorf("expected TupleTooLarge, got %v", err)
	}
}

func TestGetUpdateDelete(t *testing.T) {
	p := New(4)
	a, _ := p.InsertTuple([]byte("alpha"))
	b, _ := p.InsertTuple([]byte("bravo"))

	got, err := p.GetTuple(a)
	if err != nil || string(got) != "alpha" {
		t.Fatalf("GetTuple(a) = %q, %v", got, err)
	}

	if err := p.UpdateTuple(a, []byte("al")); err != nil {
		t.Fatalf("shrink update: %v", err)
	}
	if got, _ := p.GetTuple(a); string(got) != "al" {
		t.Errorf("after shrink = %q", got)
	}

	free := p.FreeSpace()
	if err := p.UpdateTuple(b, []byte("bravo-charlie")); err != nil {
		t.Fatalf("grow update: %v", err)
	}
	if got, _ := p.GetTuple(b); string(got) != "bravo-charlie" {
		t.Errorf("after grow = %q", got)
	}
	if p.FreeSpace() != free-len("bravo-charlie") {
		t.Errorf("grow update should consume only tuple bytes")
	}

	if err := p.DeleteTuple(a); err != nil {
		t.Fatalf("DeleteTuple: %v", err)
	}
	if _, err := p.GetTuple(a); !errors.Is(err, ferrors.ErrSlotNotFound) {
		t.Errorf("deleted slot readable: %v", err)
	}
	if err := p.DeleteTuple(a); !errors.Is(err, ferrors.ErrSlotNotFound) {
		t.Errorf("double delete: %v", err)
	}
	if _, err := p.GetTuple(99); !errors.Is(err, ferrors.ErrSlotNotFound) {
		t.Errorf("out of range slot: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestCompact(t *testing.T) {
	p := New(5)
	var want []string
	// Doomed tuples are 4 bytes so 100 live 32-byte tuples and 50
	// tombstones fit one page.
	for i := 0; i < 150; i++ {
		tuple := []byte(fmt.Sprintf("tuple-%026d", i))
		if i%3 == 1 {
			tuple = []byte("dead")
		}
		if _, err := p.InsertTuple(tuple); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < 150; i++ {
		if i%3 == 1 {
			if err := p.DeleteTuple(SlotID(i)); err != nil {
				t.Fatal(err)
			}
			continue
		}
		want = append(want, fmt.Sprintf("tuple-%026d", i))
	}
	if len(want) != 100 {
		t.Fatalf("setup: %d live tuples", len(want))
	}

	before := p.FreeSpace()
	res := p.Compact()

	if p.SlotCount() != 100 {
		t.Errorf("slot count = %d, want 100", p.SlotCount())
	}
	if res.Moved != 100 {
		t.Errorf("moved %d tuples, want 100", res.Moved)
	}
	if res.Reclaimed != 50*(4+SlotSize) || p.FreeSpace() != before+res.Reclaimed {
		t.Errorf("reclaimed %d bytes", res.Reclaimed)
	}
	for old, nw := range res.Remap {
		if old%3 == 1 && nw != InvalidSlot {
			t.Errorf("tombstone %d remapped to %d", old, nw)
		}
	}

	var got []string
	for i := 0; i < p.SlotCount(); i++ {
		data, err := p.GetTuple(SlotID(i))
		if err != nil {
			t.Fatalf("GetTuple(%d): %v", i, err)
		}
		got = append(got, string(data))
	}
	sort.Strings(got)
	sort.Strings(want)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tuple %d = %q, want %q", i, got[i], want[i])
		}
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate after compact: %v", err)
	}
	if !p.VerifyChecksum() {
		t.Error("checksum stale after compact")
	}
}

func TestChecksumDetectsAnyByteFlip(t *testing.T) {
	p := New(6)
	p.InsertLogged(77, []byte("payload"))
	if !p.VerifyChecksum() {
		t.Fatal("fresh page fails verification")
	}
	if p.LSN() != 77 {
		t.Errorf("LSN = %d", p.LSN())
	}

	for i := 0; i < PageSize; i++ {
		p.Bytes()[i] ^= 0x01
		if p.VerifyChecksum() {
			t.Fatalf("flip at byte %d not detected", i)
		}
		p.Bytes()[i] ^= 0x01
	}

	p.Bytes()[100] ^= 0xFF
	err := p.Verify()
	if !errors.Is(err, ferrors.ErrChecksumMismatch) {
		t.Errorf("Verify = %v, want ChecksumMismatch", err)
	}
}

func TestSealSnapshot(t *testing.T) {
	p := New(7)
	p.InsertTuple([]byte("abc"))
	p.SetLSN(9)

	snap := append([]byte(nil), p.Bytes()...)
	Seal(snap)
	if !Wrap(snap).VerifyChecksum() {
		t.Error("sealed snapshot fails verification")
	}
}

func TestValidateRejectsCorruptHeader(t *testing.T) {
	p := New(8)
	p.InsertTuple([]byte("abc"))
	p.setFreeSpaceOffset(HeaderSize)
	if err := p.Validate(); !errors.Is(err, ferrors.ErrInvalidPage) {
		t.Errorf("Validate = %v, want InvalidPage", err)
	}
	if !IsZero(make([]byte, PageSize)) || IsZero(p.Bytes()) {
		t.Error("IsZero misreports")
	}
}

func BenchmarkCompact(b *testing.B) {
	tuple := make([]byte, 32)
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		p := New(1)
		for j := 0; j < 100; j++ {
			p.InsertTuple(tuple)
		}
		for j := 0; j < 100; j += 2 {
			p.DeleteTuple(SlotID(j))
		}
		b.StartTimer()
		p.Compact()
	}
}
