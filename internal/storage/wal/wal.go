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
Package wal implements a minimal append-only write-ahead log that satisfies
the buffer pool's WAL contract.

The log does not interpret what it stores. Callers append opaque payloads
and receive a log sequence number (LSN); they stamp that LSN on the page
they modified. Before the pool writes a page back it calls
EnsureFlushedUpTo with the page's LSN, so a page never reaches disk ahead
of the log records that describe it.

Record Format:
==============

	┌────────────┬────────────┬────────────┬──────────────────┐
	│ CRC32C (4B)│ Length (4B)│  LSN (8B)  │ Payload (Length) │
	└────────────┴────────────┴────────────┴──────────────────┘

All integers are big endian. The checksum covers the length, the LSN and
the payload. LSNs start at 1 and increase by one per record.

Recovery:
=========

Open scans the file from the start. The first record that is short, fails
its checksum or breaks the LSN sequence marks a torn tail: the file is
truncated there and appending resumes after the last good record.

Group Commit:
=============

EnsureFlushedUpTo takes the sync lock and re-checks the durable LSN before
calling fsync, so callers that queue behind one fsync are satisfied by it
and do not issue their own.
*/
package wal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"sync/atomic"

	ferrors "pagecache/internal/errors"
	"pagecache/internal/logging"
	"pagecache/internal/storage/page"
)

const recordHeaderSize = 16

// MaxPayload bounds a single record.
const MaxPayload = 1 << 24

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Log is an append-only write-ahead log file.
type Log struct {
	path   string
	logger *logging.Logger

	mu      sync.Mutex // guards file appends and next
	file    *os.File
	next    page.LSN
	closed  bool
	flushed atomic.Uint64

	syncMu sync.Mutex
}

// Open opens or creates the log at path and recovers its tail.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, ferrors.IOError("open wal "+path, 0, err, false)
	}
	l := &Log{path: path, file: f, logger: logging.NewLogger("wal")}

	end, last, err := l.scan(func(page.LSN, []byte) error { return nil })
	if err != nil {
		f.Close()
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ferrors.IOError("stat wal", 0, err, false)
	}
	if fi.Size() > end {
		l.logger.Warn("Truncating torn WAL tail", "path", path, "offset", end, "size", fi.Size())
		if err := f.Truncate(end); err != nil {
			f.Close()
			return nil, ferrors.IOError("truncate wal", end, err, false)
		}
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		f.Close()
		return nil, ferrors.IOError("seek wal", end, err, false)
	}
	l.next = last + 1
	l.flushed.Store(uint64(last))
	l.logger.Info("WAL opened", "path", path, "last_lsn", last)
	return l, nil
}

func encode(lsn page.LSN, payload []byte) []byte {
	buf := make([]byte, recordHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[4:], uint32(len(payload)))
	binary.BigEndian.PutUint64(buf[8:], uint64(lsn))
	copy(buf[recordHeaderSize:], payload)
	binary.BigEndian.PutUint32(buf[0:], crc32.Checksum(buf[4:], castagnoli))
	return buf
}

// Append writes payload as the next record and returns its LSN. The record
// is not durable until Sync or EnsureFlushedUpTo covers it.
func (l *Log) Append(payload []byte) (page.LSN, error) {
	if len(payload) > MaxPayload {
		return 0, fmt.Errorf("wal record of %d bytes exceeds %d", len(payload), MaxPayload)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ferrors.Closed("wal")
	}
	lsn := l.next
	if _, err := l.file.Write(encode(lsn, payload)); err != nil {
		return 0, ferrors.IOError("append wal", 0, err, false)
	}
	l.next++
	return lsn, nil
}

// LastLSN returns the LSN of the last appended record, or 0.
func (l *Log) LastLSN() page.LSN {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next - 1
}

// FlushedLSN returns the highest LSN known to be durable.
func (l *Log) FlushedLSN() page.LSN {
	return page.LSN(l.flushed.Load())
}

// EnsureFlushedUpTo makes every record up to lsn durable.
func (l *Log) EnsureFlushedUpTo(ctx context.Context, lsn page.LSN) error {
	if lsn <= l.FlushedLSN() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if last := l.LastLSN(); lsn > last {
		return fmt.Errorf("wal: lsn %d has not been appended (last %d)", lsn, last)
	}
	return l.Sync()
}

// Sync makes every appended record durable.
func (l *Log) Sync() error {
	l.syncMu.Lock()
	defer l.syncMu.Unlock()

	target := l.LastLSN()
	if target <= l.FlushedLSN() {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return ferrors.IOError("sync wal", 0, err, false)
	}
	l.flushed.Store(uint64(target))
	return nil
}

// Replay calls fn for every record with an LSN of at least from.
func (l *Log) Replay(from page.LSN, fn func(lsn page.LSN, payload []byte) error) error {
	_, _, err := l.scan(func(lsn page.LSN, payload []byte) error {
		if lsn < from {
			return nil
		}
		return fn(lsn, payload)
	})
	return err
}

// scan reads records from the start of the file. It returns the offset just
// past the last good record and that record's LSN.
func (l *Log) scan(fn func(page.LSN, []byte) error) (int64, page.LSN, error) {
	r := bufio.NewReader(io.NewSectionReader(l.file, 0, 1<<62))
	var (
		end  int64
		last page.LSN
		hdr  [recordHeaderSize]byte
	)
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return end, last, nil
			}
			return 0, 0, ferrors.IOError("read wal", end, err, false)
		}
		n := binary.BigEndian.Uint32(hdr[4:])
		lsn := page.LSN(binary.BigEndian.Uint64(hdr[8:]))
		if n > MaxPayload || lsn != last+1 {
			return end, last, nil
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return end, last, nil
		}
		crc := crc32.Update(crc32.Checksum(hdr[4:], castagnoli), castagnoli, payload)
		if crc != binary.BigEndian.Uint32(hdr[0:]) {
			return end, last, nil
		}
		if err := fn(lsn, payload); err != nil {
			return 0, 0, err
		}
		end += recordHeaderSize + int64(n)
		last = lsn
	}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Close syncs and closes the log.
func (l *Log) Close() error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil
	}
	serr := l.Sync()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if err := l.file.Close(); err != nil {
		return ferrors.IOError("close wal", 0, err, false)
	}
	return serr
}
