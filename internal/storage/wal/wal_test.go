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

package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"pagecache/internal/storage/page"
)

func TestAppendSyncReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i, rec := range []string{"one", "two", "three"} {
		lsn, err := l.Append([]byte(rec))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if lsn != page.LSN(i+1) {
			t.Errorf("lsn = %d, want %d", lsn, i+1)
		}
	}
	if l.FlushedLSN() != 0 {
		t.Errorf("FlushedLSN before sync = %d", l.FlushedLSN())
	}
	if err := l.EnsureFlushedUpTo(context.Background(), 2); err != nil {
		t.Fatalf("EnsureFlushedUpTo: %v", err)
	}
	if l.FlushedLSN() != 3 {
		t.Errorf("FlushedLSN = %d, want 3 (sync covers every appended record)", l.FlushedLSN())
	}
	if err := l.EnsureFlushedUpTo(context.Background(), 9); err == nil {
		t.Error("EnsureFlushedUpTo beyond the log should fail")
	}

	var got []string
	err = l.Replay(2, func(lsn page.LSN, payload []byte) error {
		got = append(got, string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != 2 || got[0] != "two" || got[1] != "three" {
		t.Errorf("Replay(2) = %v", got)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := l.Append([]byte("late")); err == nil {
		t.Error("Append after Close should fail")
	}
}

func TestReopenTruncatesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Append([]byte("kept-1"))
	l.Append([]byte("kept-2"))
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	good, _ := os.Stat(path)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatal(err)
	}
	torn := encode(3, []byte("torn record"))
	f.Write(torn[:len(torn)-4])
	f.Close()

	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	if l.LastLSN() != 2 || l.FlushedLSN() != 2 {
		t.Errorf("last = %d, flushed = %d, want 2", l.LastLSN(), l.FlushedLSN())
	}
	fi, _ := os.Stat(path)
	if fi.Size() != good.Size() {
		t.Errorf("size = %d, want %d after truncation", fi.Size(), good.Size())
	}
	lsn, err := l.Append([]byte("after"))
	if err != nil || lsn != 3 {
		t.Errorf("Append after recovery = (%d, %v), want 3", lsn, err)
	}
}

func TestReopenStopsAtCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Append([]byte("a"))
	l.Append([]byte("b"))
	l.Close()

	data, _ := os.ReadFile(path)
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	if l.LastLSN() != 1 {
		t.Errorf("LastLSN = %d, want 1", l.LastLSN())
	}
}
