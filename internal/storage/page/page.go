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
Package page implements the on-disk page format shared by the buffer pool,
the storage backends and the offline inspector.

Slotted Page Layout:
====================

Every page is exactly 4096 bytes and is addressed at pageID*4096 in the
backing store. The layout is bit-exact so any conforming reader can parse
files written by any conforming writer.

	┌─────────────────────────────────────────────────────────────────┐
	│                    Page Header (32 bytes)                       │
	│  [Checksum | LSN | PageID | FreeOff | Slots | Flags | Ver | -]  │
	├─────────────────────────────────────────────────────────────────┤
	│  Slot Array (grows →)                                           │
	│  [Slot 0: offset,len] [Slot 1: offset,len] [Slot 2: offset,len] │
	├─────────────────────────────────────────────────────────────────┤
	│                    Free Space                                   │
	├─────────────────────────────────────────────────────────────────┤
	│  Tuple Data (← grows)                                           │
	│  [Tuple 2] [Tuple 1] [Tuple 0]                                  │
	└─────────────────────────────────────────────────────────────────┘

Header Format (32 bytes, big endian):

	Offset  Size  Field
	------  ----  -----
	0       4     CRC32C of bytes [4, 4096)
	4       8     LSN of the last logged modification
	12      8     Page ID
	20      2     Free-space offset (start of tuple data)
	22      2     Slot count
	24      2     Flags
	26      1     Format version
	27      5     Reserved (zero)

Slot Format (4 bytes): 2-byte offset, 2-byte length. An offset of 0xFFFF
marks a tombstone; the tuple bytes stay in place until Compact.

Invariant: HeaderSize + SlotCount*SlotSize <= FreeSpaceOffset <= PageSize,
and every live slot's [offset, offset+length) lies inside
[FreeSpaceOffset, PageSize) without overlapping another live slot.

A Page does not own its bytes. Wrap gives a view over a caller-supplied
buffer (a buffer pool frame, a scratch copy, a block read by the inspector).
Concurrent mutation of one page must be coordinated by the caller.
*/
package page

import (
	"encoding/binary"
	"math"
	"sort"

	ferrors "pagecache/internal/errors"
)

// ID identifies a page for its whole lifetime.
type ID uint64

// InvalidID is never allocated.
const InvalidID ID = math.MaxUint64

// SlotID indexes the slot array of a page.
type SlotID uint16

// InvalidSlot marks a slot that did not survive compaction.
const InvalidSlot SlotID = math.MaxUint16

// LSN is a write-ahead log sequence number.
type LSN uint64

const (
	// PageSize is the fixed size of every page in bytes.
	PageSize = 4096

	// HeaderSize is the size of the page header.
	HeaderSize = 32

	// SlotSize is the size of one slot array entry.
	SlotSize = 4

	// MaxTupleSize is the largest tuple a fresh page can hold.
	MaxTupleSize = PageSize - HeaderSize - SlotSize

	// Version is the current header format version.
	Version = 1

	tombstone = 0xFFFF
)

// Header field offsets.
const (
	offChecksum = 0
	offLSN      = 4
	offPageID   = 12
	offFreeOff  = 20
	offSlots    = 22
	offFlags    = 24
	offVersion  = 26
)

// Page is a view over a PageSize byte buffer.
type Page struct {
	data []byte
}

// Wrap returns a page view over buf. buf must be exactly PageSize bytes.
func Wrap(buf []byte) *Page {
	if len(buf) != PageSize {
		panic("page: buffer is not PageSize bytes")
	}
	return &Page{data: buf}
}

// New allocates a buffer and formats an empty page with the given id.
func New(id ID) *Page {
	p := Wrap(make([]byte, PageSize))
	p.Init(id)
	return p
}

// Init formats the page as empty, discarding all content.
func (p *Page) Init(id ID) {
	clear(p.data)
	binary.BigEndian.PutUint64(p.data[offPageID:], uint64(id))
	p.setFreeSpaceOffset(PageSize)
	p.data[offVersion] = Version
	p.UpdateChecksum()
}

// Bytes returns the underlying buffer.
func (p *Page) Bytes() []byte { return p.data }

// ID returns the page id stored in the header.
func (p *Page) ID() ID {
	return ID(binary.BigEndian.Uint64(p.data[offPageID:]))
}

// LSN returns the log sequence number of the last logged change.
func (p *Page) LSN() LSN {
	return LSN(binary.BigEndian.Uint64(p.data[offLSN:]))
}

// SetLSN stamps the page with lsn. The checksum is not refreshed.
func (p *Page) SetLSN(lsn LSN) {
	binary.BigEndian.PutUint64(p.data[offLSN:], uint64(lsn))
}

// Flags returns the header flags.
func (p *Page) Flags() uint16 {
	return binary.BigEndian.Uint16(p.data[offFlags:])
}

// SetFlags replaces the header flags.
func (p *Page) SetFlags(f uint16) {
	binary.BigEndian.PutUint16(p.data[offFlags:], f)
}

// SlotCount returns the number of slots, tombstones included.
func (p *Page) SlotCount() int {
	return int(binary.BigEndian.Uint16(p.data[offSlots:]))
}

func (p *Page) setSlotCount(n int) {
	binary.BigEndian.PutUint16(p.data[offSlots:], uint16(n))
}

// FreeSpaceOffset returns the start of the tuple data region.
func (p *Page) FreeSpaceOffset() int {
	return int(binary.BigEndian.Uint16(p.data[offFreeOff:]))
}

func (p *Page) setFreeSpaceOffset(off int) {
	binary.BigEndian.PutUint16(p.data[offFreeOff:], uint16(off))
}

// FreeSpace returns the contiguous bytes between the slot array and tuple data.
func (p *Page) FreeSpace() int {
	return p.FreeSpaceOffset() - (HeaderSize + p.SlotCount()*SlotSize)
}

func (p *Page) slot(i int) (off, length int) {
	pos := HeaderSize + i*SlotSize
	return int(binary.BigEndian.Uint16(p.data[pos:])), int(binary.BigEndian.Uint16(p.data[pos+2:]))
}

func (p *Page) setSlot(i, off, length int) {
	pos := HeaderSize + i*SlotSize
	binary.BigEndian.PutUint16(p.data[pos:], uint16(off))
	binary.BigEndian.PutUint16(p.data[pos+2:], uint16(length))
}

// LiveCount returns the number of non-tombstoned slots.
func (p *Page) LiveCount() int {
	n := 0
	for i := 0; i < p.SlotCount(); i++ {
		if off, _ := p.slot(i); off != tombstone {
			n++
		}
	}
	return n
}

// InsertTuple appends data as a new tuple and returns its slot.
func (p *Page) InsertTuple(data []byte) (SlotID, error) {
	if len(data) > MaxTupleSize {
		return InvalidSlot, ferrors.TupleTooLarge(len(data), MaxTupleSize)
	}
	need := len(data) + SlotSize
	if free := p.FreeSpace(); free < need {
		return InvalidSlot, ferrors.PageFull(need, free)
	}
	n := p.SlotCount()
	if n >= int(InvalidSlot) {
		return InvalidSlot, ferrors.PageFull(need, p.FreeSpace())
	}

	off := p.FreeSpaceOffset() - len(data)
	copy(p.data[off:], data)
	p.setSlot(n, off, len(data))
	p.setSlotCount(n + 1)
	p.setFreeSpaceOffset(off)
	p.UpdateChecksum()
	return SlotID(n), nil
}

// InsertLogged inserts data and stamps the page with the LSN of the log
// record describing the insert.
func (p *Page) InsertLogged(lsn LSN, data []byte) (SlotID, error) {
	slot, err := p.InsertTuple(data)
	if err != nil {
		return slot, err
	}
	p.SetLSN(lsn)
	p.UpdateChecksum()
	return slot, nil
}

// GetTuple returns a view of the tuple in slot. The slice aliases the page.
func (p *Page) GetTuple(slot SlotID) ([]byte, error) {
	if int(slot) >= p.SlotCount() {
		return nil, ferrors.SlotNotFound(int(slot))
	}
	off, length := p.slot(int(slot))
	if off == tombstone {
		return nil, ferrors.SlotNotFound(int(slot))
	}
	return p.data[off : off+length], nil
}

// UpdateTuple replaces the tuple in slot. Shrinking or same-size updates are
// done in place; growth relocates the tuple into free space.
func (p *Page) UpdateTuple(slot SlotID, data []byte) error {
	if int(slot) >= p.SlotCount() {
		return ferrors.SlotNotFound(int(slot))
	}
	off, length := p.slot(int(slot))
	if off == tombstone {
		return ferrors.SlotNotFound(int(slot))
	}
	if len(data) <= length {
		copy(p.data[off:], data)
		p.setSlot(int(slot), off, len(data))
		p.UpdateChecksum()
		return nil
	}
	if free := p.FreeSpace(); free < len(data) {
		return ferrors.PageFull(len(data), free)
	}
	newOff := p.FreeSpaceOffset() - len(data)
	copy(p.data[newOff:], data)
	p.setSlot(int(slot), newOff, len(data))
	p.setFreeSpaceOffset(newOff)
	p.UpdateChecksum()
	return nil
}

// DeleteTuple tombstones slot. Space is reclaimed by Compact.
func (p *Page) DeleteTuple(slot SlotID) error {
	if int(slot) >= p.SlotCount() {
		return ferrors.SlotNotFound(int(slot))
	}
	if off, _ := p.slot(int(slot)); off == tombstone {
		return ferrors.SlotNotFound(int(slot))
	}
	p.setSlot(int(slot), tombstone, 0)
	p.UpdateChecksum()
	return nil
}

// CompactResult describes one compaction.
type CompactResult struct {
	// Remap[old] is the new slot of a live tuple, or InvalidSlot for a tombstone.
	Remap []SlotID
	// Moved is the number of tuples copied.
	Moved int
	// Reclaimed is the number of bytes returned to free space.
	Reclaimed int
}

// Compact rewrites the page with only its live tuples, packed against the
// end of the page in slot order, and renumbers the slot array densely.
// One pass collects live tuples into a scratch image, one pass copies the
// image back; no free-space search is repeated per tuple.
func (p *Page) Compact() CompactResult {
	n := p.SlotCount()
	before := p.FreeSpace()
	res := CompactResult{Remap: make([]SlotID, n)}

	var scratch [PageSize]byte
	type live struct{ off, length int }
	kept := make([]live, 0, n)
	end := PageSize
	for i := 0; i < n; i++ {
		off, length := p.slot(i)
		if off == tombstone {
			res.Remap[i] = InvalidSlot
			continue
		}
		end -= length
		copy(scratch[end:], p.data[off:off+length])
		res.Remap[i] = SlotID(len(kept))
		kept = append(kept, live{off: end, length: length})
		res.Moved++
	}

	copy(p.data[end:], scratch[end:])
	for i, k := range kept {
		p.setSlot(i, k.off, k.length)
	}
	clear(p.data[HeaderSize+len(kept)*SlotSize : end])
	p.setSlotCount(len(kept))
	p.setFreeSpaceOffset(end)
	p.UpdateChecksum()

	res.Reclaimed = p.FreeSpace() - before
	return res
}

// Validate checks the header and slot array invariants.
func (p *Page) Validate() error {
	id := uint64(p.ID())
	if v := p.data[offVersion]; v != Version {
		return ferrors.InvalidPage(id, "unknown format version")
	}
	n := p.SlotCount()
	fso := p.FreeSpaceOffset()
	if HeaderSize+n*SlotSize > fso || fso > PageSize {
		return ferrors.InvalidPage(id, "free-space offset overlaps slot array")
	}

	type span struct{ lo, hi int }
	spans := make([]span, 0, n)
	for i := 0; i < n; i++ {
		off, length := p.slot(i)
		if off == tombstone {
			continue
		}
		if off < fso || off+length > PageSize {
			return ferrors.InvalidPage(id, "slot outside tuple region")
		}
		if length > 0 {
			spans = append(spans, span{off, off + length})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })
	for i := 1; i < len(spans); i++ {
		if spans[i].lo < spans[i-1].hi {
			return ferrors.InvalidPage(id, "overlapping tuples")
		}
	}
	return nil
}

// IsZero reports whether buf has never been written.
func IsZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
