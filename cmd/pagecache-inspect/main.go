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
Package main is pagecache-inspect, an offline scanner for page cache data
files.

The inspector reads a data file page by page without starting a buffer
pool and checks each image the same way the pool does on load: the CRC32C
checksum, the page id recorded in the header against the page's position,
and the slotted-page layout invariants. All-zero pages are reported as
unformatted; they were allocated but never written back.

Usage:

	pagecache-inspect [options] <data_file>

Options:

	-q           Summary only, no per-page lines
	-bad         Only list pages that failed a check
	-marker <p>  Checkpoint marker path (default: <data_file>.ckpt)
	-version     Show version information

The exit status is 1 when any page fails a check.
*/
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"pagecache/internal/banner"
	"pagecache/internal/buffer"
	ferrors "pagecache/internal/errors"
	"pagecache/internal/storage/disk"
	"pagecache/internal/storage/page"
)

// Verdict classifies one page image.
type Verdict string

const (
	VerdictOK          Verdict = "ok"
	VerdictUnformatted Verdict = "unformatted"
	VerdictCorrupt     Verdict = "corrupt"
	VerdictMisplaced   Verdict = "misplaced"
	VerdictInvalid     Verdict = "invalid"
)

// PageReport is the result of checking one page.
type PageReport struct {
	ID        page.ID
	Verdict   Verdict
	LSN       page.LSN
	Slots     int
	Live      int
	FreeSpace int
	Flags     uint16
	Err       error
}

// Report summarises a whole file.
type Report struct {
	Pages    []PageReport
	Counts   map[Verdict]int
	Bytes    int64
	MaxLSN   page.LSN
	Tuples   int
	FreeSize int64
}

// Bad reports whether any page failed a check.
func (r *Report) Bad() bool {
	return r.Counts[VerdictCorrupt]+r.Counts[VerdictMisplaced]+r.Counts[VerdictInvalid] > 0
}

// checkPage classifies the image of page id.
func checkPage(id page.ID, img []byte) PageReport {
	rep := PageReport{ID: id}
	if page.IsZero(img) {
		rep.Verdict = VerdictUnformatted
		return rep
	}
	p := page.Wrap(img)
	rep.LSN = p.LSN()
	rep.Flags = p.Flags()
	if err := p.Verify(); err != nil {
		rep.Verdict, rep.Err = VerdictCorrupt, err
		return rep
	}
	if p.ID() != id {
		rep.Verdict = VerdictMisplaced
		rep.Err = ferrors.InvalidPage(uint64(id), fmt.Sprintf("header records page %d", p.ID()))
		return rep
	}
	if err := p.Validate(); err != nil {
		rep.Verdict, rep.Err = VerdictInvalid, err
		return rep
	}
	rep.Verdict = VerdictOK
	rep.Slots = p.SlotCount()
	rep.Live = p.LiveCount()
	rep.FreeSpace = p.FreeSpace()
	return rep
}

// inspect scans size bytes of r. A trailing partial page is reported as
// invalid.
func inspect(r io.ReaderAt, size int64) (*Report, error) {
	rep := &Report{Counts: make(map[Verdict]int), Bytes: size}
	img := make([]byte, page.PageSize)
	n := size / page.PageSize
	for i := int64(0); i < n; i++ {
		id := page.ID(i)
		if _, err := r.ReadAt(img, disk.Offset(id)); err != nil && !errors.Is(err, io.EOF) {
			return nil, ferrors.IOError("read page", disk.Offset(id), err, false)
		}
		pr := checkPage(id, img)
		rep.Pages = append(rep.Pages, pr)
		rep.Counts[pr.Verdict]++
		if pr.Verdict == VerdictOK {
			rep.Tuples += pr.Live
			rep.FreeSize += int64(pr.FreeSpace)
			if pr.LSN > rep.MaxLSN {
				rep.MaxLSN = pr.LSN
			}
		}
	}
	if tail := size % page.PageSize; tail != 0 {
		id := page.ID(n)
		rep.Pages = append(rep.Pages, PageReport{
			ID:      id,
			Verdict: VerdictInvalid,
			Err:     ferrors.InvalidPage(uint64(id), fmt.Sprintf("truncated page: %d of %d bytes", tail, page.PageSize)),
		})
		rep.Counts[VerdictInvalid]++
	}
	return rep, nil
}

func printPages(w io.Writer, rep *Report, badOnly bool) {
	fmt.Fprintf(w, "%-8s  %-11s  %-10s  %5s  %5s  %6s  %s\n", "PAGE", "STATUS", "LSN", "SLOTS", "LIVE", "FREE", "DETAIL")
	for _, p := range rep.Pages {
		if badOnly && (p.Verdict == VerdictOK || p.Verdict == VerdictUnformatted) {
			continue
		}
		detail := ""
		if p.Err != nil {
			detail = p.Err.Error()
		}
		fmt.Fprintf(w, "%-8d  %-11s  %-10d  %5d  %5d  %6d  %s\n",
			p.ID, p.Verdict, p.LSN, p.Slots, p.Live, p.FreeSpace, detail)
	}
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, rep *Report, marker *buffer.Marker) {
	pr := message.NewPrinter(language.English)
	pr.Fprintf(w, "pages:        %d (%s)\n", len(rep.Pages), humanize.IBytes(uint64(rep.Bytes)))
	for _, v := range []Verdict{VerdictOK, VerdictUnformatted, VerdictCorrupt, VerdictMisplaced, VerdictInvalid} {
		if n := rep.Counts[v]; n > 0 {
			pr.Fprintf(w, "  %-12s %d\n", v, n)
		}
	}
	pr.Fprintf(w, "live tuples:  %d\n", rep.Tuples)
	fmt.Fprintf(w, "free space:   %s\n", humanize.IBytes(uint64(rep.FreeSize)))
	pr.Fprintf(w, "max lsn:      %d\n", rep.MaxLSN)
	if marker != nil {
		pr.Fprintf(w, "checkpoint:   %s, %d pages, max lsn %d\n",
			humanize.Time(marker.Time), marker.Pages, marker.MaxLSN)
		if rep.MaxLSN > marker.MaxLSN {
			fmt.Fprintln(w, "              pages were written after the last checkpoint")
		}
	}
}

func run(path, markerPath string, quiet, badOnly bool, w io.Writer) (*Report, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	fb, err := disk.OpenFile(path, false)
	if err != nil {
		return nil, err
	}
	defer fb.Close()

	start := time.Now()
	rep, err := inspect(fb, fi.Size())
	if err != nil {
		return nil, err
	}
	if !quiet {
		printPages(w, rep, badOnly)
	}

	if markerPath == "" {
		markerPath = path + ".ckpt"
	}
	var marker *buffer.Marker
	if m, err := buffer.ReadMarker(markerPath); err == nil {
		marker = &m
	} else if !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(w, "warning: %v\n", err)
	}
	printSummary(w, rep, marker)
	fmt.Fprintf(w, "scanned in %s\n", time.Since(start).Round(time.Millisecond))
	return rep, nil
}

func main() {
	quiet := flag.Bool("q", false, "Summary only, no per-page lines")
	badOnly := flag.Bool("bad", false, "Only list pages that failed a check")
	markerPath := flag.String("marker", "", "Checkpoint marker path (default: <data_file>.ckpt)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: pagecache-inspect [options] <data_file>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("pagecache-inspect version %s\n", banner.Version)
		fmt.Println(banner.Copyright)
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	rep, err := run(flag.Arg(0), *markerPath, *quiet, *badOnly, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, ferrors.FormatError(err))
		os.Exit(1)
	}
	if rep.Bad() {
		os.Exit(1)
	}
}
