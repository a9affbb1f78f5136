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
I/O Scheduler
=============

The scheduler owns every transfer between the buffer pool and its backend.

	            Submit
	              │
	  ┌───────────┼────────────┐
	  ▼           ▼            ▼
	┌──────┐  ┌───────┐  ┌──────┐    bounded heaps, one per operation,
	│ Read │  │ Write │  │ Sync │    ordered by priority then arrival
	└──┬───┘  └───┬───┘  └──┬───┘
	   └──────────┼─────────┘
	              ▼
	      worker goroutines ──▶ Backend

Backpressure: each queue holds at most QueueCapacity requests. Submitting to
a full queue fails immediately with QueueFull; nothing grows unbounded.

Priorities: Critical > High > Normal > Low. A worker takes the most urgent
head across the three queues; ties go to reads, then writes, then syncs.
Suggested use: WAL-ordered writes Critical, checkpoint and eviction writes
High, demand reads Normal, background flushing and read-ahead Low.

Write coalescing: when a worker takes a write it also takes queued writes
for the pages immediately before and after it, up to MaxCoalescePages, and
issues one WriteAt for the contiguous run.

Failures: transient backend errors (EAGAIN, EINTR, EBUSY, or errors marked
transient) are retried with exponential backoff up to RetryAttempts.
Everything else fails the request.

Timeouts: Wait gives up after Timeout. A request still queued is removed and
fails with IoTimeout. A request already executing is never interrupted; Wait
blocks until it finishes and returns its real result.
*/

package disk

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	ferrors "pagecache/internal/errors"
	"pagecache/internal/logging"
	"pagecache/internal/storage/page"
)

// OpType is the kind of I/O request.
type OpType int

const (
	OpRead OpType = iota
	OpWrite
	OpSync
	numOps
)

// String returns the queue name.
func (o OpType) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Priority orders requests within a queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

const (
	statePending int32 = iota
	stateRunning
	stateDone
	stateCancelled
)

// Request is one scheduled I/O operation. Buf must be a whole number of
// pages for reads and writes; a write of several pages covers PageID and the
// pages after it.
type Request struct {
	Op       OpType
	PageID   page.ID
	Priority Priority
	Buf      []byte
	// Callback, if set, runs on the worker after completion.
	Callback func(error)

	seq       uint64
	index     int
	state     atomic.Int32
	done      chan struct{}
	err       error
	submitted time.Time
	latency   time.Duration
}

func (r *Request) pages() page.ID {
	return page.ID(len(r.Buf) / page.PageSize)
}

// Done is closed when the request completes or is cancelled.
func (r *Request) Done() <-chan struct{} { return r.done }

// Err returns the result once Done is closed.
func (r *Request) Err() error { return r.err }

// Latency is the time from submission to completion.
func (r *Request) Latency() time.Duration { return r.latency }

type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *requestHeap) Push(x any) {
	r := x.(*Request)
	r.index = len(*h)
	*h = append(*h, r)
}
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}

// SchedulerConfig holds scheduler tuning.
type SchedulerConfig struct {
	Workers          int           `json:"workers"`
	QueueCapacity    int           `json:"queue_capacity"`
	Timeout          time.Duration `json:"timeout"`
	RetryAttempts    int           `json:"retry_attempts"`
	RetryBackoff     time.Duration `json:"retry_backoff"`
	Coalesce         bool          `json:"coalesce"`
	MaxCoalescePages int           `json:"max_coalesce_pages"`
}

// DefaultSchedulerConfig returns the defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Workers:          4,
		QueueCapacity:    1024,
		Timeout:          5 * time.Second,
		RetryAttempts:    3,
		RetryBackoff:     time.Millisecond,
		Coalesce:         true,
		MaxCoalescePages: 16,
	}
}

// QueueDepths is a snapshot of queue lengths.
type QueueDepths struct {
	Read  int `json:"read"`
	Write int `json:"write"`
	Sync  int `json:"sync"`
}

// SchedulerStats is a snapshot of scheduler counters.
type SchedulerStats struct {
	Reads      uint64        `json:"reads"`
	Writes     uint64        `json:"writes"`
	Syncs      uint64        `json:"syncs"`
	Coalesced  uint64        `json:"coalesced"`
	Retries    uint64        `json:"retries"`
	Timeouts   uint64        `json:"timeouts"`
	QueueFull  uint64        `json:"queue_full"`
	Failures   uint64        `json:"failures"`
	AvgLatency time.Duration `json:"avg_latency"`
	Depths     QueueDepths   `json:"depths"`
}

// Scheduler runs I/O requests against a backend.
type Scheduler struct {
	backend Backend
	config  SchedulerConfig
	logger  *logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queues  [numOps]requestHeap
	seq     uint64
	started bool
	closed  bool
	wg      sync.WaitGroup

	reads        atomic.Uint64
	writes       atomic.Uint64
	syncs        atomic.Uint64
	coalesced    atomic.Uint64
	retries      atomic.Uint64
	timeouts     atomic.Uint64
	queueFull    atomic.Uint64
	failures     atomic.Uint64
	completed    atomic.Uint64
	totalLatency atomic.Uint64
}

// NewScheduler creates a scheduler. No work is done until Start.
func NewScheduler(backend Backend, config SchedulerConfig) *Scheduler {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = DefaultSchedulerConfig().QueueCapacity
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if config.MaxCoalescePages <= 0 {
		config.MaxCoalescePages = 1
	}
	s := &Scheduler{
		backend: backend,
		config:  config,
		logger:  logging.NewLogger("scheduler"),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker goroutines.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.logger.Info("I/O scheduler started", "workers", s.config.Workers, "queue_capacity", s.config.QueueCapacity)
}

// Backend returns the backend requests run against.
func (s *Scheduler) Backend() Backend { return s.backend }

// Submit enqueues req. It fails with QueueFull when req's queue is at
// capacity and with Closed after Close.
func (s *Scheduler) Submit(req *Request) error {
	if req.Op != OpSync && (len(req.Buf) == 0 || len(req.Buf)%page.PageSize != 0) {
		return ferrors.IOError(req.Op.String(), Offset(req.PageID), fmt.Errorf("buffer of %d bytes is not whole pages", len(req.Buf)), false)
	}
	req.done = make(chan struct{})
	req.index = -1
	req.state.Store(statePending)
	req.submitted = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ferrors.Closed("I/O scheduler")
	}
	q := &s.queues[req.Op]
	if q.Len() >= s.config.QueueCapacity {
		s.queueFull.Add(1)
		return ferrors.QueueFull(req.Op.String(), s.config.QueueCapacity)
	}
	s.seq++
	req.seq = s.seq
	heap.Push(q, req)
	s.cond.Signal()
	return nil
}

// Wait blocks until req completes, ctx ends or the configured timeout passes.
func (s *Scheduler) Wait(ctx context.Context, req *Request) error {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	select {
	case <-req.done:
		return req.err
	case <-ctx.Done():
	}

	s.mu.Lock()
	cancelled := req.state.CompareAndSwap(statePending, stateCancelled)
	if cancelled && req.index >= 0 {
		heap.Remove(&s.queues[req.Op], req.index)
	}
	s.mu.Unlock()

	if !cancelled {
		<-req.done
		return req.err
	}
	s.timeouts.Add(1)
	err := ferrors.IOTimeout(req.Op.String(), uint64(req.PageID)).WithCause(ctx.Err())
	s.finish(req, err)
	s.logger.Warn("I/O request timed out", "op", req.Op, "page", req.PageID, "priority", req.Priority)
	return err
}

// Do submits req and waits for it.
func (s *Scheduler) Do(ctx context.Context, req *Request) error {
	if err := s.Submit(req); err != nil {
		return err
	}
	return s.Wait(ctx, req)
}

// Read reads the page(s) at id into buf.
func (s *Scheduler) Read(ctx context.Context, id page.ID, prio Priority, buf []byte) error {
	return s.Do(ctx, &Request{Op: OpRead, PageID: id, Priority: prio, Buf: buf})
}

// Write writes buf at page id.
func (s *Scheduler) Write(ctx context.Context, id page.ID, prio Priority, buf []byte) error {
	return s.Do(ctx, &Request{Op: OpWrite, PageID: id, Priority: prio, Buf: buf})
}

// Sync makes completed writes durable.
func (s *Scheduler) Sync(ctx context.Context, prio Priority) error {
	return s.Do(ctx, &Request{Op: OpSync, Priority: prio})
}

func (s *Scheduler) empty() bool {
	return s.queues[OpRead].Len() == 0 && s.queues[OpWrite].Len() == 0 && s.queues[OpSync].Len() == 0
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for s.empty() && !s.closed {
			s.cond.Wait()
		}
		if s.empty() {
			s.mu.Unlock()
			return
		}
		batch := s.next()
		s.mu.Unlock()
		s.execute(batch)
	}
}

// next pops the most urgent request and, for writes, its adjacent neighbours.
// Caller holds s.mu.
func (s *Scheduler) next() []*Request {
	best := OpType(-1)
	for op := OpRead; op < numOps; op++ {
		q := s.queues[op]
		if q.Len() == 0 {
			continue
		}
		if best < 0 || q[0].Priority > s.queues[best][0].Priority {
			best = op
		}
	}
	head := heap.Pop(&s.queues[best]).(*Request)
	run := []*Request{head}
	if best != OpWrite || !s.config.Coalesce {
		return run
	}

	lo, hi := head.PageID, head.PageID+head.pages()
	pages := int(head.pages())
	q := &s.queues[OpWrite]
	for pages < s.config.MaxCoalescePages {
		found := false
		for i, r := range *q {
			if r.state.Load() != statePending {
				continue
			}
			switch {
			case r.PageID == hi:
				heap.Remove(q, i)
				run = append(run, r)
				hi += r.pages()
			case r.PageID+r.pages() == lo:
				heap.Remove(q, i)
				run = append([]*Request{r}, run...)
				lo = r.PageID
			default:
				continue
			}
			pages += int(r.pages())
			found = true
			break
		}
		if !found {
			break
		}
	}
	return run
}

func (s *Scheduler) execute(batch []*Request) {
	active := batch[:0:0]
	for _, r := range batch {
		if r.state.CompareAndSwap(statePending, stateRunning) {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return
	}

	switch active[0].Op {
	case OpRead:
		r := active[0]
		s.finish(r, s.readPages(r))
		s.reads.Add(1)
	case OpSync:
		r := active[0]
		s.finish(r, s.retry("sync", 0, s.backend.Sync))
		s.syncs.Add(1)
	case OpWrite:
		if len(active) > 1 && contiguous(active) {
			s.writeRun(active)
			return
		}
		for _, r := range active {
			s.finish(r, s.writePages(r.PageID, r.Buf))
			s.writes.Add(1)
		}
	}
}

func contiguous(run []*Request) bool {
	for i := 1; i < len(run); i++ {
		if run[i].PageID != run[i-1].PageID+run[i-1].pages() {
			return false
		}
	}
	return true
}

func (s *Scheduler) writeRun(run []*Request) {
	size := 0
	for _, r := range run {
		size += len(r.Buf)
	}
	buf := make([]byte, 0, size)
	for _, r := range run {
		buf = append(buf, r.Buf...)
	}
	err := s.writePages(run[0].PageID, buf)
	s.writes.Add(1)
	s.coalesced.Add(uint64(len(run) - 1))
	for _, r := range run {
		s.finish(r, err)
	}
}

func (s *Scheduler) readPages(r *Request) error {
	off := Offset(r.PageID)
	return s.retry("read", off, func() error {
		n, err := s.backend.ReadAt(r.Buf, off)
		if errors.Is(err, io.EOF) {
			clear(r.Buf[n:])
			return nil
		}
		return err
	})
}

func (s *Scheduler) writePages(id page.ID, buf []byte) error {
	off := Offset(id)
	return s.retry("write", off, func() error {
		_, err := s.backend.WriteAt(buf, off)
		return err
	})
}

// retry runs fn, retrying transient failures with exponential backoff.
func (s *Scheduler) retry(op string, off int64, fn func() error) error {
	backoff := s.config.RetryBackoff
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt >= s.config.RetryAttempts {
			break
		}
		s.retries.Add(1)
		s.logger.Warn("Retrying transient I/O error", "op", op, "offset", off, "attempt", attempt, "error", err)
		time.Sleep(backoff)
		backoff *= 2
	}
	s.failures.Add(1)
	s.logger.Error("I/O failed", "op", op, "offset", off, "error", err)
	var pe *ferrors.PoolError
	if errors.As(err, &pe) {
		return err
	}
	return ferrors.IOError(op, off, err, false)
}

func isTransient(err error) bool {
	if ferrors.IsTransient(err) {
		return true
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EBUSY) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func (s *Scheduler) finish(r *Request, err error) {
	r.err = err
	r.latency = time.Since(r.submitted)
	r.state.Store(stateDone)
	s.completed.Add(1)
	s.totalLatency.Add(uint64(r.latency))
	close(r.done)
	if r.Callback != nil {
		r.Callback(err)
	}
}

// Depths returns the current queue lengths.
func (s *Scheduler) Depths() QueueDepths {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueueDepths{
		Read:  s.queues[OpRead].Len(),
		Write: s.queues[OpWrite].Len(),
		Sync:  s.queues[OpSync].Len(),
	}
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	st := SchedulerStats{
		Reads:     s.reads.Load(),
		Writes:    s.writes.Load(),
		Syncs:     s.syncs.Load(),
		Coalesced: s.coalesced.Load(),
		Retries:   s.retries.Load(),
		Timeouts:  s.timeouts.Load(),
		QueueFull: s.queueFull.Load(),
		Failures:  s.failures.Load(),
		Depths:    s.Depths(),
	}
	if n := s.completed.Load(); n > 0 {
		st.AvgLatency = time.Duration(s.totalLatency.Load() / n)
	}
	return st
}

// ResetStats zeroes the counters. Queue depths are live values and stay.
func (s *Scheduler) ResetStats() {
	for _, c := range []*atomic.Uint64{
		&s.reads, &s.writes, &s.syncs, &s.coalesced, &s.retries,
		&s.timeouts, &s.queueFull, &s.failures, &s.completed, &s.totalLatency,
	} {
		c.Store(0)
	}
}

// Close stops accepting requests, lets the workers drain what is queued and
// waits for them. Without workers, queued requests fail with Closed.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var orphans []*Request
	if !s.started {
		for op := OpRead; op < numOps; op++ {
			for s.queues[op].Len() > 0 {
				orphans = append(orphans, heap.Pop(&s.queues[op]).(*Request))
			}
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, r := range orphans {
		if r.state.CompareAndSwap(statePending, stateCancelled) {
			s.finish(r, ferrors.Closed("I/O scheduler"))
		}
	}
	s.wg.Wait()
	s.logger.Info("I/O scheduler stopped")
	return nil
}
