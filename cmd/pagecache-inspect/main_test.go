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

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pagecache/internal/buffer"
	ferrors "pagecache/internal/errors"
	"pagecache/internal/storage/page"
)

// writeFixture writes a data file with one page of every verdict plus a
// truncated tail.
func writeFixture(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer

	good := page.New(0)
	if _, err := good.InsertLogged(5, []byte("alpha")); err != nil {
		t.Fatal(err)
	}
	if _, err := good.InsertTuple([]byte("beta")); err != nil {
		t.Fatal(err)
	}
	if err := good.DeleteTuple(1); err != nil {
		t.Fatal(err)
	}
	buf.Write(good.Bytes())

	buf.Write(make([]byte, page.PageSize)) // page 1, never written

	corrupt := page.New(2)
	corrupt.InsertTuple([]byte("gamma"))
	corrupt.Bytes()[page.PageSize-1] ^= 0xFF
	buf.Write(corrupt.Bytes())

	buf.Write(page.New(7).Bytes()) // stored at page 3

	buf.Write(make([]byte, 100))

	path := filepath.Join(t.TempDir(), "pages.db")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInspectClassifiesPages(t *testing.T) {
	path := writeFixture(t)
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	fi, _ := f.Stat()

	rep, err := inspect(f, fi.Size())
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	want := []Verdict{VerdictOK, VerdictUnformatted, VerdictCorrupt, VerdictMisplaced, VerdictInvalid}
	if len(rep.Pages) != len(want) {
		t.Fatalf("pages = %d, want %d", len(rep.Pages), len(want))
	}
	for i, v := range want {
		if rep.Pages[i].Verdict != v {
			t.Errorf("page %d verdict = %s, want %s (%v)", i, rep.Pages[i].Verdict, v, rep.Pages[i].Err)
		}
	}
	if !errors.Is(rep.Pages[2].Err, ferrors.ErrChecksumMismatch) {
		t.Errorf("corrupt page err = %v", rep.Pages[2].Err)
	}
	if !errors.Is(rep.Pages[3].Err, ferrors.ErrInvalidPage) {
		t.Errorf("misplaced page err = %v", rep.Pages[3].Err)
	}
	if p := rep.Pages[0]; p.Slots != 2 || p.Live != 1 || p.LSN != 5 {
		t.Errorf("good page = %+v", p)
	}
	if rep.Tuples != 1 || rep.MaxLSN != 5 {
		t.Errorf("tuples = %d, max lsn = %d", rep.Tuples, rep.MaxLSN)
	}
	if !rep.Bad() {
		t.Error("report with corrupt pages should be bad")
	}
}

func TestInspectCleanFile(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		buf.Write(page.New(page.ID(i)).Bytes())
	}
	rep, err := inspect(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if rep.Bad() || rep.Counts[VerdictOK] != 3 {
		t.Errorf("counts = %v", rep.Counts)
	}
	if rep.FreeSize != 3*(page.PageSize-page.HeaderSize) {
		t.Errorf("free = %d", rep.FreeSize)
	}
}

func TestRunWithMarker(t *testing.T) {
	path := writeFixture(t)
	if err := buffer.WriteMarker(path+".ckpt", buffer.Marker{Time: time.Now(), Pages: 1, MaxLSN: 1}); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rep, err := run(path, "", false, true, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !rep.Bad() {
		t.Error("fixture should be bad")
	}
	got := out.String()
	for _, want := range []string{"corrupt", "misplaced", "checkpoint:", "written after the last checkpoint", "live tuples:  1"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	for _, clean := range []string{fmt.Sprintf("%-8d  %-11s", 0, VerdictOK), fmt.Sprintf("%-8d  %-11s", 1, VerdictUnformatted)} {
		if strings.Contains(got, clean) {
			t.Errorf("-bad listed a clean page %q:\n%s", clean, got)
		}
	}
}

func TestRunMissingFile(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "missing.db")
	if _, err := run(path, "", true, false, &out); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("run = %v, want not-exist", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("inspect created the data file")
	}
}
