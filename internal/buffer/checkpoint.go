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
Checkpoints
===========

A checkpoint writes back every dirty frame at High priority, syncs the
backend and records a marker. Recovery replays the WAL only from the
marker's LSN onward.

Writers are not blocked while a checkpoint runs: each frame is
snapshotted under its flush lock and may be dirtied again immediately.
The marker therefore bounds what was durable when the checkpoint began,
not a frozen image of the pool.

	 ticker / Checkpoint()
	        │
	        ▼
	┌────────────────┐    ┌──────────────┐    ┌─────────────────┐
	│ flush dirty    │ ─► │ backend Sync │ ─► │ write marker,   │
	│ frames (High)  │    │              │    │ fsync marker    │
	└────────────────┘    └──────────────┘    └─────────────────┘

Marker file (<data_file>.ckpt), big endian:

	Offset  Size  Field
	------  ----  -----
	0       8     Timestamp (Unix nanoseconds)
	8       8     Pages written by this checkpoint
	16      8     Highest LSN written
*/
package buffer

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	ferrors "pagecache/internal/errors"
	"pagecache/internal/logging"
	"pagecache/internal/storage/page"
)

// MarkerSize is the length of a checkpoint marker file.
const MarkerSize = 24

// Marker is the decoded content of a checkpoint marker.
type Marker struct {
	Time   time.Time `json:"time"`
	Pages  uint64    `json:"pages"`
	MaxLSN page.LSN  `json:"max_lsn"`
}

// CheckpointConfig configures a CheckpointManager.
type CheckpointConfig struct {
	MarkerPath string        // marker file; empty disables it
	Interval   time.Duration // 0 disables the background loop
}

// CheckpointManager runs periodic checkpoints of a pool.
type CheckpointManager struct {
	pool       *BufferPool
	markerPath string
	interval   time.Duration
	logger     *logging.Logger

	mu              sync.Mutex
	lastCheckpoint  atomic.Int64
	checkpointCount atomic.Int64
	lastMarker      atomic.Pointer[Marker]

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCheckpointManager creates a manager. Call Start to begin the loop.
func NewCheckpointManager(bp *BufferPool, config CheckpointConfig) *CheckpointManager {
	return &CheckpointManager{
		pool:       bp,
		markerPath: config.MarkerPath,
		interval:   config.Interval,
		logger:     logging.NewLogger("checkpoint"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins periodic checkpoints.
func (cm *CheckpointManager) Start() {
	if cm.interval <= 0 {
		close(cm.doneCh)
		return
	}
	go cm.checkpointLoop()
}

// Stop ends the loop after one final checkpoint. Start must have been
// called.
func (cm *CheckpointManager) Stop() {
	cm.stopOnce.Do(func() {
		close(cm.stopCh)
		<-cm.doneCh
	})
}

func (cm *CheckpointManager) checkpointLoop() {
	defer close(cm.doneCh)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := cm.Checkpoint(context.Background()); err != nil {
				cm.logger.Warn("Checkpoint failed", "error", err)
			}
		case <-cm.stopCh:
			if _, err := cm.Checkpoint(context.Background()); err != nil {
				cm.logger.Warn("Final checkpoint failed", "error", err)
			}
			return
		}
	}
}

// Checkpoint flushes every dirty page, syncs, and writes the marker.
func (cm *CheckpointManager) Checkpoint(ctx context.Context) (Marker, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	timer := cm.logger.StartTimer("checkpoint")
	pages, lsn, err := cm.pool.flushAll(ctx)
	if err != nil {
		return Marker{}, err
	}
	m := Marker{Time: time.Now(), Pages: uint64(pages), MaxLSN: lsn}
	if cm.markerPath != "" {
		if err := WriteMarker(cm.markerPath, m); err != nil {
			return Marker{}, err
		}
	}

	cm.lastCheckpoint.Store(m.Time.Unix())
	cm.checkpointCount.Add(1)
	cm.lastMarker.Store(&m)
	timer.Done("pages", pages, "max_lsn", lsn)
	return m, nil
}

// WriteMarker writes m to path and syncs it.
func WriteMarker(path string, m Marker) error {
	f, err := os.Create(path)
	if err != nil {
		return ferrors.IOError("create checkpoint marker", 0, err, false)
	}
	defer f.Close()

	var data [MarkerSize]byte
	binary.BigEndian.PutUint64(data[0:8], uint64(m.Time.UnixNano()))
	binary.BigEndian.PutUint64(data[8:16], m.Pages)
	binary.BigEndian.PutUint64(data[16:24], uint64(m.MaxLSN))

	if _, err := f.Write(data[:]); err != nil {
		return ferrors.IOError("write checkpoint marker", 0, err, false)
	}
	if err := f.Sync(); err != nil {
		return ferrors.IOError("sync checkpoint marker", 0, err, false)
	}
	return nil
}

// ReadMarker decodes the marker at path.
func ReadMarker(path string) (Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Marker{}, err
	}
	if len(data) != MarkerSize {
		return Marker{}, fmt.Errorf("checkpoint marker %s: %d bytes, want %d", path, len(data), MarkerSize)
	}
	return Marker{
		Time:   time.Unix(0, int64(binary.BigEndian.Uint64(data[0:8]))),
		Pages:  binary.BigEndian.Uint64(data[8:16]),
		MaxLSN: page.LSN(binary.BigEndian.Uint64(data[16:24])),
	}, nil
}

// LastCheckpoint returns the Unix timestamp of the last checkpoint.
func (cm *CheckpointManager) LastCheckpoint() int64 {
	return cm.lastCheckpoint.Load()
}

// LastMarker returns the last checkpoint's marker, if any.
func (cm *CheckpointManager) LastMarker() (Marker, bool) {
	if m := cm.lastMarker.Load(); m != nil {
		return *m, true
	}
	return Marker{}, false
}

// CheckpointCount returns the number of checkpoints performed.
func (cm *CheckpointManager) CheckpointCount() int64 {
	return cm.checkpointCount.Load()
}
