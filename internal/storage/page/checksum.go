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
	"encoding/binary"
	"hash/crc32"

	ferrors "pagecache/internal/errors"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32C of a page image, excluding the checksum field.
func Checksum(buf []byte) uint32 {
	return crc32.Checksum(buf[offChecksum+4:], castagnoli)
}

// ComputeChecksum returns the checksum of the current contents.
func (p *Page) ComputeChecksum() uint32 {
	return Checksum(p.data)
}

// StoredChecksum returns the checksum recorded in the header.
func (p *Page) StoredChecksum() uint32 {
	return binary.BigEndian.Uint32(p.data[offChecksum:])
}

// UpdateChecksum recomputes and stores the checksum.
func (p *Page) UpdateChecksum() {
	binary.BigEndian.PutUint32(p.data[offChecksum:], p.ComputeChecksum())
}

// VerifyChecksum reports whether the stored checksum matches the contents.
func (p *Page) VerifyChecksum() bool {
	return p.StoredChecksum() == p.ComputeChecksum()
}

// Verify returns a ChecksumMismatch error when VerifyChecksum fails.
func (p *Page) Verify() error {
	stored, computed := p.StoredChecksum(), p.ComputeChecksum()
	if stored != computed {
		return ferrors.ChecksumMismatch(uint64(p.ID()), stored, computed)
	}
	return nil
}

// Seal stamps the checksum into a raw page image, typically a flush snapshot.
func Seal(buf []byte) {
	binary.BigEndian.PutUint32(buf[offChecksum:], Checksum(buf))
}
