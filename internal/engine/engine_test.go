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

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pagecache/internal/buffer"
	"pagecache/internal/config"
	ferrors "pagecache/internal/errors"
	"pagecache/internal/storage/disk"
	"pagecache/internal/storage/page"
)

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backend = "memory"
	cfg.DataFile = ""
	cfg.PoolFrameCount = 16
	cfg.MaxDirtyPages = 8
	cfg.CheckpointIntervalSecs = 0
	cfg.FlushIntervalMS = 0
	cfg.LogLevel = "error"
	return cfg
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.PoolFrameCount = -1
	if _, err := Open(cfg, nil); !errors.Is(err, ferrors.ErrInvalidConfig) {
		t.Errorf("Open = %v, want InvalidConfig", err)
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := memoryConfig()
	cfg.EvictionPolicy = "LRUK"
	cfg.IOTimeoutMS = 250
	cfg.PrefetchDepthMax = 12

	pc := PoolConfig(cfg)
	if pc.Frames != 16 || pc.Policy != "lruk" || pc.MaxDirtyPages != 8 || pc.PrefetchConfig.MaxDepth != 12 {
		t.Errorf("PoolConfig = %+v", pc)
	}
	sc := SchedulerConfig(cfg)
	if sc.Timeout.Milliseconds() != 250 || sc.Workers != cfg.IOWorkers || sc.QueueCapacity != cfg.IOQueueCapacity {
		t.Errorf("SchedulerConfig = %+v", sc)
	}
	if MarkerPath(cfg) != "" {
		t.Errorf("memory backend marker path = %q", MarkerPath(cfg))
	}
	cfg.Backend = "file"
	cfg.DataFile = "/data/pages.db"
	if MarkerPath(cfg) != "/data/pages.db.ckpt" {
		t.Errorf("file marker path = %q", MarkerPath(cfg))
	}
}

func TestMemoryEngine(t *testing.T) {
	e, err := Open(memoryConfig(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	g, err := e.Pool().NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if _, err := g.Page().InsertTuple([]byte("hello")); err != nil {
		t.Fatalf("InsertTuple: %v", err)
	}
	g.MarkDirty()
	if err := g.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !e.Health().IsHealthy() {
		t.Errorf("health = %+v", e.Health().RunChecks())
	}
	if e.MetricsAddr() != "" {
		t.Errorf("metrics enabled without an address")
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFileEngineSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := memoryConfig()
	cfg.Backend = "file"
	cfg.DataFile = filepath.Join(dir, "pages.db")
	cfg.VictimCacheMB = 1
	cfg.CheckpointIntervalSecs = 3600
	ctx := context.Background()

	e, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := e.Backend().(*disk.CachedBackend); !ok {
		t.Errorf("backend %T, want victim cache in front", e.Backend())
	}
	var ids []page.ID
	for i := 0; i < 3; i++ {
		g, err := e.Pool().NewPage(ctx)
		if err != nil {
			t.Fatalf("NewPage: %v", err)
		}
		if _, err := g.Page().InsertLogged(page.LSN(i+1), []byte{byte('a' + i)}); err != nil {
			t.Fatalf("InsertLogged: %v", err)
		}
		ids = append(ids, g.PageID())
		g.Release()
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m, err := buffer.ReadMarker(cfg.DataFile + ".ckpt")
	if err != nil {
		t.Fatalf("ReadMarker: %v", err)
	}
	if m.Pages != 3 || m.MaxLSN != 3 {
		t.Errorf("final checkpoint marker = %+v, want 3 pages up to LSN 3", m)
	}
	fi, err := os.Stat(cfg.DataFile)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fi.Size() != 3*page.PageSize {
		t.Errorf("data file size = %d, want %d", fi.Size(), 3*page.PageSize)
	}

	e, err = Open(cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e.Close(ctx)
	for i, pid := range ids {
		err := e.Pool().WithPage(ctx, pid, func(p *page.Page) (bool, error) {
			got, err := p.GetTuple(0)
			if err != nil {
				return false, err
			}
			if len(got) != 1 || got[0] != byte('a'+i) {
				t.Errorf("page %d tuple = %q", pid, got)
			}
			return false, nil
		})
		if err != nil {
			t.Fatalf("WithPage(%d): %v", pid, err)
		}
	}
	g, err := e.Pool().NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage after reopen: %v", err)
	}
	if g.PageID() != 3 {
		t.Errorf("NewPage after reopen = %d, want 3", g.PageID())
	}
	g.Release()
}

func TestMetricsServerStarts(t *testing.T) {
	cfg := memoryConfig()
	cfg.MetricsAddr = "127.0.0.1:0"
	e, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close(context.Background())
	if addr := e.MetricsAddr(); addr == "" || addr == cfg.MetricsAddr {
		t.Errorf("metrics addr = %q, want the bound address", addr)
	}
}

func TestEngineOwnsWAL(t *testing.T) {
	dir := t.TempDir()
	cfg := memoryConfig()
	cfg.WALFile = filepath.Join(dir, "pages.wal")
	ctx := context.Background()

	e, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if e.Log() == nil {
		t.Fatal("engine did not open the configured log")
	}
	g, err := e.Pool().NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	lsn, err := e.Log().Append([]byte("insert 0 x"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := g.Page().InsertLogged(lsn, []byte("x")); err != nil {
		t.Fatalf("InsertLogged: %v", err)
	}
	g.Release()

	if e.Log().FlushedLSN() >= lsn {
		t.Fatalf("log flushed before any page write-back")
	}
	if err := e.Pool().FlushAll(ctx); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if e.Log().FlushedLSN() < lsn {
		t.Errorf("FlushedLSN = %d after write-back of a page stamped %d", e.Log().FlushedLSN(), lsn)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
