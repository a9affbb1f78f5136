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
Package banner prints the startup banner shown by the page cache tools.

The ASCII logo is embedded from banner.txt at compile time. Colours are
plain ANSI escape sequences and are suppressed when the output is not a
terminal, so piped output stays clean.
*/
package banner

import (
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"pagecache/internal/config"
	"pagecache/internal/storage/page"
)

//go:embed banner.txt
var banner string

// ANSI escape codes for terminal text formatting.
const (
	AnsiRed    = "\033[31m"
	AnsiGreen  = "\033[32m"
	AnsiYellow = "\033[33m"
	AnsiCyan   = "\033[36m"
	AnsiReset  = "\033[0m"
	AnsiBold   = "\033[1m"
	AnsiDim    = "\033[2m"
)

// Version information reported by the tools.
const (
	Version   = "1.0.0"
	Copyright = "(c)2026 Firefly Software Solutions Inc"
	License   = "Licensed under Apache 2.0"
)

// colorEnabled reports whether w is a terminal.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type painter bool

func (p painter) paint(codes, s string) string {
	if !p {
		return s
	}
	return codes + s + AnsiReset
}

// Print writes the logo, version and license to stdout.
func Print() {
	PrintTo(os.Stdout, "")
}

// PrintTo writes the logo followed by a title line to w.
func PrintTo(w io.Writer, title string) {
	p := painter(colorEnabled(w))
	if title == "" {
		title = "pagecache"
	}
	fmt.Fprintln(w, p.paint(AnsiRed, banner))
	fmt.Fprintln(w, p.paint(AnsiRed+AnsiBold, fmt.Sprintf(":: %s ::  (v%s)", title, Version)))
	fmt.Fprintln(w, p.paint(AnsiGreen+AnsiBold, Copyright))
	fmt.Fprintln(w, p.paint(AnsiGreen+AnsiBold, License))
	fmt.Fprintln(w)
}

// PrintWithConfigTo writes the banner and a compact summary of cfg to w.
func PrintWithConfigTo(w io.Writer, title string, cfg *config.Config) {
	PrintTo(w, title)
	p := painter(colorEnabled(w))

	source := "defaults + environment"
	if cfg.ConfigFile != "" {
		source = cfg.ConfigFile
	}
	row := func(k, v string) {
		fmt.Fprintf(w, "  %s %s\n", p.paint(AnsiCyan, fmt.Sprintf("%-14s", k)), v)
	}
	row("config", source)
	switch cfg.Backend {
	case "memory":
		row("backend", "memory")
	default:
		row("backend", fmt.Sprintf("file %s (direct_io=%t)", cfg.DataFile, cfg.DirectIO))
	}
	row("pool", fmt.Sprintf("%d frames (%s), policy %s",
		cfg.PoolFrameCount, humanize.IBytes(uint64(cfg.PoolFrameCount)*page.PageSize), cfg.EvictionPolicy))
	row("write-behind", fmt.Sprintf("max %d dirty, every %dms, batch %d",
		cfg.MaxDirtyPages, cfg.FlushIntervalMS, cfg.FlushBatchSize))
	row("io", fmt.Sprintf("%d workers, queue %d, timeout %dms",
		cfg.IOWorkers, cfg.IOQueueCapacity, cfg.IOTimeoutMS))
	if cfg.VictimCacheMB > 0 {
		row("victim cache", humanize.IBytes(uint64(cfg.VictimCacheMB)<<20))
	}
	if cfg.MetricsAddr != "" {
		row("metrics", cfg.MetricsAddr)
	}
	fmt.Fprintln(w)
}
