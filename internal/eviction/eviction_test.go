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

package eviction

import (
	"testing"

	"pagecache/internal/storage/page"
)

// fakeView is a frame array with explicit pin and reference state.
type fakeView struct {
	loaded []bool
	pinned []bool
	busy   []bool
	ref    []bool
}

func newFakeView(n int) *fakeView {
	return &fakeView{
		loaded: make([]bool, n),
		pinned: make([]bool, n),
		busy:   make([]bool, n),
		ref:    make([]bool, n),
	}
}

func (v *fakeView) Len() int { return len(v.loaded) }

func (v *fakeView) Evictable(fid FrameID) bool {
	return v.loaded[fid] && !v.pinned[fid] && !v.busy[fid]
}

func (v *fakeView) TestAndClearRef(fid FrameID) bool {
	was := v.ref[fid]
	v.ref[fid] = false
	return was
}

// load simulates the pool installing pid in fid and pinning it once.
func load(p Policy, v *fakeView, fid FrameID, pid page.ID) {
	v.loaded[fid] = true
	v.ref[fid] = true
	p.RecordAccess(fid, pid)
	p.RecordUnpin(fid)
}

// evict simulates the pool reclaiming the victim.
func evict(t *testing.T, p Policy, v *fakeView) FrameID {
	t.Helper()
	fid, ok := p.FindVictim(v)
	if !ok {
		t.Fatalf("%s: no victim", p.Name())
	}
	if !v.Evictable(fid) {
		t.Fatalf("%s: returned non-evictable frame %d", p.Name(), fid)
	}
	p.RecordEviction(fid)
	v.loaded[fid] = false
	return fid
}

func TestOrderedList(t *testing.T) {
	l := NewOrderedList[int]()
	l.PushFront(1)
	l.PushFront(2)
	l.PushBack(3)
	l.PushFront(1) // moves
	var order []int
	l.WalkFromBack(func(k int) bool { order = append(order, k); return true })
	want := []int{3, 2, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if !l.MoveToFront(3) || l.MoveToFront(9) {
		t.Error("MoveToFront result wrong")
	}
	if k, _ := l.Back(); k != 2 {
		t.Errorf("Back = %d", k)
	}
	if k, _ := l.PopBack(); k != 2 || l.Len() != 2 || l.Contains(2) {
		t.Errorf("PopBack = %d len %d", k, l.Len())
	}
	if !l.Remove(1) || l.Remove(1) {
		t.Error("Remove result wrong")
	}
	l.Clear()
	if _, ok := l.Front(); ok || l.Len() != 0 {
		t.Error("Clear left entries")
	}
}

func TestClockSecondChance(t *testing.T) {
	v := newFakeView(4)
	c := NewClock(4)
	for i := 0; i < 4; i++ {
		load(c, v, FrameID(i), page.ID(i+1))
	}
	v.pinned[0] = true

	fid, ok := c.FindVictim(v)
	if !ok {
		t.Fatal("no victim with unpinned frames")
	}
	if v.pinned[fid] {
		t.Fatal("pinned frame selected")
	}
	for i := 1; i < 4; i++ {
		if v.ref[i] {
			t.Errorf("ref bit of frame %d not cleared by sweep", i)
		}
	}
	if v.ref[0] {
		t.Error("pinned frame's ref bit survived the sweep")
	}
	if fid != 1 {
		t.Errorf("victim = %d, want 1 (first unpinned after one sweep)", fid)
	}
}

func TestClockAllPinnedTerminates(t *testing.T) {
	v := newFakeView(4)
	c := NewClock(4)
	for i := 0; i < 4; i++ {
		load(c, v, FrameID(i), page.ID(i))
		v.pinned[i] = true
	}
	if _, ok := c.FindVictim(v); ok {
		t.Fatal("victim found with every frame pinned")
	}
	if st := c.Stats(); st.Scans != 8 {
		t.Errorf("scans = %d, want two sweeps (8)", st.Scans)
	}
}

func TestLRUOrder(t *testing.T) {
	v := newFakeView(3)
	l := NewLRU()
	for i := 0; i < 3; i++ {
		load(l, v, FrameID(i), page.ID(i))
	}
	l.RecordAccess(0, 0) // 0 becomes most recent
	l.RecordUnpin(0)

	if fid := evict(t, l, v); fid != 1 {
		t.Errorf("victim = %d, want 1", fid)
	}
	v.pinned[2] = true
	if fid := evict(t, l, v); fid != 0 {
		t.Errorf("victim = %d, want 0 (2 pinned)", fid)
	}
}

func TestTwoQPromotesReloadedPages(t *testing.T) {
	v := newFakeView(4)
	q := NewTwoQ(4)
	for i := 0; i < 4; i++ {
		load(q, v, FrameID(i), page.ID(10+i))
	}
	// A1in is FIFO: the first loaded page goes first.
	fid := evict(t, q, v)
	if fid != 0 {
		t.Fatalf("victim = %d, want 0", fid)
	}
	// Page 10 comes back while remembered in A1out: straight to Am.
	load(q, v, fid, 10)
	if st := q.Stats(); st.GhostHits != 1 {
		t.Errorf("ghost hits = %d, want 1", st.GhostHits)
	}
	for i := 0; i < 3; i++ {
		if got := evict(t, q, v); got == fid {
			t.Fatalf("hot page in Am evicted before A1in drained (round %d)", i)
		}
	}
	if got := evict(t, q, v); got != fid {
		t.Errorf("last victim = %d, want %d", got, fid)
	}
}

func TestLRUKPrefersInfiniteDistance(t *testing.T) {
	v := newFakeView(3)
	l := NewLRUK(3, 2)
	for i := 0; i < 3; i++ {
		load(l, v, FrameID(i), page.ID(i))
	}
	// Frames 0 and 2 get a second reference; frame 1 keeps one.
	l.RecordAccess(0, 0)
	l.RecordAccess(2, 2)
	if fid := evict(t, l, v); fid != 1 {
		t.Fatalf("victim = %d, want 1 (fewer than K refs)", fid)
	}
	// Among full histories the oldest K-th reference loses: frame 0.
	if fid := evict(t, l, v); fid != 0 {
		t.Errorf("victim = %d, want 0", fid)
	}
	// History survives eviction for a quick reload.
	load(l, v, 1, 1)
	if l.Stats().GhostHits != 1 {
		t.Error("retained history not reused")
	}
}

func TestARCAdaptsTarget(t *testing.T) {
	v := newFakeView(2)
	a := NewARC(2)
	load(a, v, 0, 1)
	load(a, v, 1, 2)
	a.RecordAccess(1, 2) // page 2 moves to T2

	fid := evict(t, a, v)
	if fid != 0 {
		t.Fatalf("victim = %d, want 0 from T1", fid)
	}
	// Page 1 reloaded from B1: target grows toward recency.
	load(a, v, 0, 1)
	if a.Target() == 0 {
		t.Error("target did not grow on B1 hit")
	}
	if a.Stats().GhostHits != 1 {
		t.Error("ghost hit not counted")
	}
}

func TestLIRSKeepsLIRSet(t *testing.T) {
	v := newFakeView(3)
	l := NewLIRS(3) // 2 LIR, 1 HIR
	load(l, v, 0, 1)
	load(l, v, 1, 2)
	load(l, v, 2, 3) // HIR

	if fid := evict(t, l, v); fid != 2 {
		t.Fatalf("victim = %d, want HIR frame 2", fid)
	}
	// Page 3 is a non-resident ghost on the stack; reloading it makes it
	// LIR and demotes the bottom LIR page (1 in frame 0).
	load(l, v, 2, 3)
	if l.Stats().GhostHits != 1 {
		t.Fatal("ghost hit not counted")
	}
	if fid := evict(t, l, v); fid != 0 {
		t.Errorf("victim = %d, want demoted frame 0", fid)
	}
}

func TestFactoryAndPinnedSafety(t *testing.T) {
	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			p, err := New(kind, 4, 2)
			if err != nil {
				t.Fatal(err)
			}
			if p.Name() != string(kind) {
				t.Errorf("Name = %q", p.Name())
			}
			v := newFakeView(4)
			for i := 0; i < 4; i++ {
				load(p, v, FrameID(i), page.ID(100+i))
			}
			v.pinned[0], v.pinned[1] = true, true
			v.busy[2] = true
			fid, ok := p.FindVictim(v)
			if !ok || fid != 3 {
				t.Errorf("victim = %d, %v, want 3", fid, ok)
			}
			v.pinned[3] = true
			if _, ok := p.FindVictim(v); ok {
				t.Error("victim returned with every frame pinned or busy")
			}
			p.Reset()
		})
	}
	if _, err := ParseKind("ARC"); err != nil {
		t.Error(err)
	}
	if _, err := New("mru", 4, 0); err == nil {
		t.Error("unknown policy accepted")
	}
}

func TestClockPinnedFrameLosesSecondChance(t *testing.T) {
	v := newFakeView(2)
	c := NewClock(2)
	load(c, v, 0, 1)
	load(c, v, 1, 2)
	v.pinned[0] = true

	if fid := evict(t, c, v); fid != 1 {
		t.Fatalf("victim = %d, want 1", fid)
	}
	// Frame 0 was referenced only while pinned; the sweep already cleared
	// its bit, so it goes first once unpinned.
	v.pinned[0] = false
	before := c.Stats().Scans
	if fid := evict(t, c, v); fid != 0 {
		t.Fatalf("victim = %d, want 0", fid)
	}
	if got := c.Stats().Scans - before; got != 1 {
		t.Errorf("scans = %d, want 1", got)
	}
}

func TestEvictionRecordedBeforeReload(t *testing.T) {
	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			p, err := New(kind, 4, 2)
			if err != nil {
				t.Fatal(err)
			}
			v := newFakeView(4)
			load(p, v, 0, 7)
			if fid := evict(t, p, v); fid != 0 {
				t.Fatalf("victim = %d, want 0", fid)
			}
			// Page 7 comes back in another frame and is hit there.
			load(p, v, 1, 7)
			p.RecordAccess(1, 7)
			p.RecordUnpin(1)

			if st := p.Stats(); kind != KindClock && st.Tracked != 1 {
				t.Errorf("tracked = %d, want 1", st.Tracked)
			}
			if fid := evict(t, p, v); fid != 1 {
				t.Errorf("victim = %d, want 1", fid)
			}
			if st := p.Stats(); kind != KindClock && st.Tracked != 0 {
				t.Errorf("tracked after eviction = %d, want 0", st.Tracked)
			}
		})
	}
}

func TestLIRSFollowsPageAcrossFrames(t *testing.T) {
	v := newFakeView(4)
	l := NewLIRS(4)
	l.RecordAccess(0, 7)
	l.RecordAccess(1, 7)
	v.loaded[1] = true

	// The stale report for frame 0 must not drop page 7 from frame 1.
	l.RecordEviction(0)
	l.RecordAccess(1, 7)
	l.Remove(0)

	if st := l.Stats(); st.Tracked != 1 {
		t.Fatalf("tracked = %d, want 1", st.Tracked)
	}
	if fid := evict(t, l, v); fid != 1 {
		t.Errorf("victim = %d, want 1", fid)
	}
	if st := l.Stats(); st.Tracked != 0 {
		t.Errorf("tracked after eviction = %d, want 0", st.Tracked)
	}
}
