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
Package main is pagecache-shell, an interactive REPL over a buffer pool.

Shell Overview:
===============

The shell opens a complete page cache (backend, I/O scheduler, buffer pool,
checkpoint manager) from the usual configuration sources and lets an
operator drive it one command at a time. It is a debugging and teaching
tool: every command maps onto one buffer pool operation.

Commands:
=========

	new                       allocate a page and keep it pinned
	pin <page>                pin a page (held until unpin)
	unpin <page> [dirty]      release one pin taken by pin or new
	insert <page> <text...>   insert a tuple, prints its slot
	get <page> <slot>         print a tuple
	delete <page> <slot>      tombstone a tuple
	compact <page>            reclaim tombstoned space
	flush <page>              write one page back
	flushall                  write every dirty page back and sync
	free <page>               return a page to the allocator
	checkpoint                flush and record a checkpoint marker
	stats [reset]             print pool statistics, or zero the counters
	frames                    list resident frames
	health                    run health checks
	help                      show this list
	exit | quit               close the pool and leave

Usage Examples:
===============

	pagecache-shell -data ./pages.db -wal ./pages.wal
	pagecache-shell -backend memory -e "new; insert 0 hello; get 0 0"
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"pagecache/internal/banner"
	"pagecache/internal/buffer"
	"pagecache/internal/config"
	"pagecache/internal/engine"
	ferrors "pagecache/internal/errors"
	"pagecache/internal/storage/page"
)

// commands lists every shell command, in help order.
var commands = []string{
	"new", "pin", "unpin", "insert", "get", "delete", "compact",
	"flush", "flushall", "free", "checkpoint", "stats", "frames",
	"health", "help", "exit", "quit",
}

// isTerminal returns true if stdin is a terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// shell holds the open engine and the pins the operator is holding.
type shell struct {
	eng    *engine.Engine
	pool   *buffer.BufferPool
	out    io.Writer
	pr     *message.Printer
	pinned map[page.ID][]*buffer.FrameGuard
}

func newShell(eng *engine.Engine, out io.Writer) *shell {
	return &shell{
		eng:    eng,
		pool:   eng.Pool(),
		out:    out,
		pr:     message.NewPrinter(language.English),
		pinned: make(map[page.ID][]*buffer.FrameGuard),
	}
}

// releaseAll drops every pin still held by the shell.
func (s *shell) releaseAll() {
	for pid, guards := range s.pinned {
		for _, g := range guards {
			g.Release()
		}
		delete(s.pinned, pid)
	}
}

func parsePageID(arg string) (page.ID, error) {
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || page.ID(n) == page.InvalidID {
		return 0, fmt.Errorf("invalid page id %q", arg)
	}
	return page.ID(n), nil
}

func parseSlot(arg string) (page.SlotID, error) {
	n, err := strconv.ParseUint(arg, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid slot %q", arg)
	}
	return page.SlotID(n), nil
}

func usage(cmd, args string) error {
	return fmt.Errorf("usage: %s %s", cmd, args)
}

// execute runs one command line. It reports quit=true for exit and quit.
func (s *shell) execute(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "exit", "quit", "\\q":
		return true, nil
	case "help", "\\h", "?":
		s.help()
		return false, nil
	case "new":
		g, err := s.pool.NewPage(ctx)
		if err != nil {
			return false, err
		}
		s.pinned[g.PageID()] = append(s.pinned[g.PageID()], g)
		fmt.Fprintf(s.out, "page %d (frame %d, pinned)\n", g.PageID(), g.FrameID())
		return false, nil
	case "stats":
		switch {
		case len(args) == 0:
			fmt.Fprintln(s.out, s.pool.Stats().String())
		case len(args) == 1 && strings.EqualFold(args[0], "reset"):
			s.pool.ResetStats()
			fmt.Fprintln(s.out, "statistics reset")
		default:
			return false, usage(cmd, "[reset]")
		}
		return false, nil
	case "frames":
		s.frames()
		return false, nil
	case "health":
		s.health()
		return false, nil
	case "flushall":
		before := s.pool.Stats().Flushes
		if err := s.pool.FlushAll(ctx); err != nil {
			return false, err
		}
		s.pr.Fprintf(s.out, "flushed %d pages\n", s.pool.Stats().Flushes-before)
		return false, nil
	case "checkpoint":
		m, err := s.eng.Checkpointer().Checkpoint(ctx)
		if err != nil {
			return false, err
		}
		s.pr.Fprintf(s.out, "checkpoint: %d pages, max lsn %d\n", m.Pages, m.MaxLSN)
		return false, nil
	}

	if len(args) == 0 {
		return false, usage(cmd, "<page> ...")
	}
	pid, err := parsePageID(args[0])
	if err != nil {
		return false, err
	}

	switch cmd {
	case "pin":
		g, err := s.pool.PinPage(ctx, pid)
		if err != nil {
			return false, err
		}
		s.pinned[pid] = append(s.pinned[pid], g)
		fmt.Fprintf(s.out, "page %d pinned in frame %d (held %d)\n", pid, g.FrameID(), len(s.pinned[pid]))
	case "unpin":
		guards := s.pinned[pid]
		if len(guards) == 0 {
			return false, ferrors.InvalidUnpin(uint64(pid))
		}
		g := guards[len(guards)-1]
		if len(args) > 1 && strings.EqualFold(args[1], "dirty") {
			g.MarkDirty()
		}
		if err := g.Release(); err != nil {
			return false, err
		}
		if len(guards) == 1 {
			delete(s.pinned, pid)
		} else {
			s.pinned[pid] = guards[:len(guards)-1]
		}
		fmt.Fprintf(s.out, "page %d unpinned\n", pid)
	case "insert":
		if len(args) < 2 {
			return false, usage(cmd, "<page> <text...>")
		}
		data := []byte(strings.Join(args[1:], " "))
		lsn, err := s.logRecord(cmd, pid, data)
		if err != nil {
			return false, err
		}
		var slot page.SlotID
		err = s.pool.WithPage(ctx, pid, func(p *page.Page) (bool, error) {
			var err error
			if lsn != 0 {
				slot, err = p.InsertLogged(lsn, data)
			} else {
				slot, err = p.InsertTuple(data)
			}
			return err == nil, err
		})
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page %d slot %d (%s)\n", pid, slot, humanize.Bytes(uint64(len(data))))
	case "get":
		if len(args) < 2 {
			return false, usage(cmd, "<page> <slot>")
		}
		slot, err := parseSlot(args[1])
		if err != nil {
			return false, err
		}
		err = s.pool.WithPage(ctx, pid, func(p *page.Page) (bool, error) {
			data, err := p.GetTuple(slot)
			if err != nil {
				return false, err
			}
			fmt.Fprintf(s.out, "%q\n", data)
			return false, nil
		})
		if err != nil {
			return false, err
		}
	case "delete":
		if len(args) < 2 {
			return false, usage(cmd, "<page> <slot>")
		}
		slot, err := parseSlot(args[1])
		if err != nil {
			return false, err
		}
		lsn, err := s.logRecord(cmd, pid, []byte(args[1]))
		if err != nil {
			return false, err
		}
		err = s.pool.WithPage(ctx, pid, func(p *page.Page) (bool, error) {
			if err := p.DeleteTuple(slot); err != nil {
				return false, err
			}
			if lsn != 0 {
				p.SetLSN(lsn)
			}
			return true, nil
		})
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page %d slot %d deleted\n", pid, slot)
	case "compact":
		var res page.CompactResult
		err = s.pool.WithPage(ctx, pid, func(p *page.Page) (bool, error) {
			res = p.Compact()
			return true, nil
		})
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page %d compacted: %d moved, %s reclaimed\n",
			pid, res.Moved, humanize.IBytes(uint64(res.Reclaimed)))
	case "flush":
		if err := s.pool.FlushPage(ctx, pid); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page %d flushed\n", pid)
	case "free":
		if len(s.pinned[pid]) > 0 {
			return false, ferrors.PagePinned(uint64(pid), int32(len(s.pinned[pid])))
		}
		if err := s.pool.FreePage(ctx, pid); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "page %d freed\n", pid)
	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, nil
}

// logRecord appends a record for a page modification when the engine has a
// write-ahead log and returns its LSN, or 0 without one.
func (s *shell) logRecord(op string, pid page.ID, body []byte) (page.LSN, error) {
	log := s.eng.Log()
	if log == nil {
		return 0, nil
	}
	rec := make([]byte, 0, len(op)+len(body)+24)
	rec = append(rec, op...)
	rec = append(rec, ' ')
	rec = strconv.AppendUint(rec, uint64(pid), 10)
	rec = append(rec, ' ')
	rec = append(rec, body...)
	return log.Append(rec)
}

func (s *shell) help() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  new                       allocate a page and keep it pinned")
	fmt.Fprintln(s.out, "  pin <page>                pin a page (held until unpin)")
	fmt.Fprintln(s.out, "  unpin <page> [dirty]      release one pin taken by pin or new")
	fmt.Fprintln(s.out, "  insert <page> <text...>   insert a tuple")
	fmt.Fprintln(s.out, "  get <page> <slot>         print a tuple")
	fmt.Fprintln(s.out, "  delete <page> <slot>      tombstone a tuple")
	fmt.Fprintln(s.out, "  compact <page>            reclaim tombstoned space")
	fmt.Fprintln(s.out, "  flush <page>              write one page back")
	fmt.Fprintln(s.out, "  flushall                  write every dirty page back and sync")
	fmt.Fprintln(s.out, "  free <page>               return a page to the allocator")
	fmt.Fprintln(s.out, "  checkpoint                flush and record a checkpoint marker")
	fmt.Fprintln(s.out, "  stats [reset]             print or zero pool statistics")
	fmt.Fprintln(s.out, "  frames | health           inspect the pool")
	fmt.Fprintln(s.out, "  exit | quit               close the pool and leave")
}

func (s *shell) frames() {
	n := 0
	for _, fi := range s.pool.Frames() {
		if fi.PageID == page.InvalidID {
			continue
		}
		n++
		fmt.Fprintf(s.out, "  frame %-5d page %-8d pins %-3d dirty %t\n",
			fi.ID, fi.PageID, fi.PinCount, fi.Dirty)
	}
	s.pr.Fprintf(s.out, "%d of %d frames resident\n", n, len(s.pool.Frames()))
}

func (s *shell) health() {
	resp := s.eng.Health().RunChecks()
	fmt.Fprintf(s.out, "status: %s\n", resp.Status)
	for _, c := range resp.Checks {
		fmt.Fprintf(s.out, "  %-10s %-9s %s\n", c.Name, c.Status, c.Message)
	}
}

// getHistoryFilePath returns the path to the history file.
func getHistoryFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pagecache_history")
}

// createCompleter creates a readline completer for tab completion.
func createCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, cmd := range commands {
		items = append(items, readline.PcItem(cmd))
	}
	return readline.NewPrefixCompleter(items...)
}

// filterInput filters input runes for readline.
func filterInput(r rune) (rune, bool) {
	switch r {
	case readline.CharCtrlZ:
		return r, false // Disable Ctrl+Z
	}
	return r, true
}

func createReadlineInstance() (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          "pagecache> ",
		HistoryFile:     getHistoryFilePath(),
		AutoComplete:    createCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
}

// runBatch executes ';' separated commands and stops at the first error.
func (s *shell) runBatch(ctx context.Context, script string) error {
	for _, line := range strings.Split(script, ";") {
		quit, err := s.execute(ctx, line)
		if err != nil {
			return fmt.Errorf("%s: %s", strings.TrimSpace(line), ferrors.FormatError(err))
		}
		if quit {
			return nil
		}
	}
	return nil
}

func (s *shell) repl(ctx context.Context) error {
	rl, err := createReadlineInstance()
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				fmt.Fprintln(s.out, "(Use exit to quit or Ctrl+D)")
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(s.out)
			}
			return nil
		}
		quit, err := s.execute(ctx, line)
		if err != nil {
			fmt.Fprintln(s.out, ferrors.FormatError(err))
			continue
		}
		if quit {
			return nil
		}
	}
}

// loadConfig resolves configuration from file, environment and flags.
func loadConfig(configPath, dataFile, backend, walFile, metricsAddr string) (*config.Config, error) {
	mgr := config.NewManager()
	var err error
	if configPath != "" {
		err = mgr.LoadFromFile(configPath)
		if err == nil {
			err = mgr.LoadFromEnv()
		}
	} else {
		err = mgr.Load()
	}
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()
	if dataFile != "" {
		cfg.DataFile = dataFile
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if walFile != "" {
		cfg.WALFile = walFile
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "Path to a TOML configuration file")
	dataFile := flag.String("data", "", "Data file (overrides data_file)")
	backend := flag.String("backend", "", "Backend: file or memory (overrides backend)")
	walFile := flag.String("wal", "", "Write-ahead log file (overrides wal_file)")
	metricsAddr := flag.String("metrics", "", "Metrics listen address, e.g. :9090")
	execute := flag.String("e", "", "Execute ';' separated commands and exit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pagecache-shell version %s\n", banner.Version)
		fmt.Println(banner.Copyright)
		return
	}

	cfg, err := loadConfig(*configPath, *dataFile, *backend, *walFile, *metricsAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", ferrors.FormatError(err))
		os.Exit(1)
	}

	interactive := *execute == "" && isTerminal()
	if interactive {
		banner.PrintWithConfigTo(os.Stdout, "pagecache shell", cfg)
	}

	eng, err := engine.Open(cfg, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", ferrors.FormatError(err))
		os.Exit(1)
	}
	sh := newShell(eng, os.Stdout)
	ctx := context.Background()

	switch {
	case *execute != "":
		err = sh.runBatch(ctx, *execute)
	case interactive:
		err = sh.repl(ctx)
	default:
		script, rerr := io.ReadAll(os.Stdin)
		if rerr != nil {
			err = rerr
			break
		}
		err = sh.runBatch(ctx, strings.ReplaceAll(string(script), "\n", ";"))
	}

	sh.releaseAll()
	closeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if cerr := eng.Close(closeCtx); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
