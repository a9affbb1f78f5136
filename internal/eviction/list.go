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

// OrderedList is an ordered set of keys with O(1) insert, move and remove by
// key. Front is the most recently inserted or promoted end; policies evict
// from the Back.
type OrderedList[K comparable] struct {
	root  node[K]
	index map[K]*node[K]
}

type node[K comparable] struct {
	key        K
	prev, next *node[K]
}

// NewOrderedList returns an empty list.
func NewOrderedList[K comparable]() *OrderedList[K] {
	l := &OrderedList[K]{index: make(map[K]*node[K])}
	l.root.prev = &l.root
	l.root.next = &l.root
	return l
}

// Len returns the number of keys.
func (l *OrderedList[K]) Len() int { return len(l.index) }

// Contains reports whether k is in the list.
func (l *OrderedList[K]) Contains(k K) bool {
	_, ok := l.index[k]
	return ok
}

func (l *OrderedList[K]) link(n, at *node[K]) {
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
}

func (l *OrderedList[K]) unlink(n *node[K]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

// PushFront inserts k at the front, moving it there if already present.
func (l *OrderedList[K]) PushFront(k K) {
	if n, ok := l.index[k]; ok {
		l.unlink(n)
		l.link(n, &l.root)
		return
	}
	n := &node[K]{key: k}
	l.index[k] = n
	l.link(n, &l.root)
}

// PushBack inserts k at the back, moving it there if already present.
func (l *OrderedList[K]) PushBack(k K) {
	if n, ok := l.index[k]; ok {
		l.unlink(n)
		l.link(n, l.root.prev)
		return
	}
	n := &node[K]{key: k}
	l.index[k] = n
	l.link(n, l.root.prev)
}

// MoveToFront moves k to the front. It reports false if k is absent.
func (l *OrderedList[K]) MoveToFront(k K) bool {
	n, ok := l.index[k]
	if !ok {
		return false
	}
	l.unlink(n)
	l.link(n, &l.root)
	return true
}

// Remove deletes k. It reports false if k is absent.
func (l *OrderedList[K]) Remove(k K) bool {
	n, ok := l.index[k]
	if !ok {
		return false
	}
	l.unlink(n)
	delete(l.index, k)
	return true
}

// Front returns the front key.
func (l *OrderedList[K]) Front() (K, bool) {
	if l.Len() == 0 {
		var zero K
		return zero, false
	}
	return l.root.next.key, true
}

// Back returns the back key.
func (l *OrderedList[K]) Back() (K, bool) {
	if l.Len() == 0 {
		var zero K
		return zero, false
	}
	return l.root.prev.key, true
}

// PopBack removes and returns the back key.
func (l *OrderedList[K]) PopBack() (K, bool) {
	k, ok := l.Back()
	if ok {
		l.Remove(k)
	}
	return k, ok
}

// WalkFromBack calls fn from back to front until fn returns false. fn must
// not modify the list.
func (l *OrderedList[K]) WalkFromBack(fn func(K) bool) {
	for n := l.root.prev; n != &l.root; n = n.prev {
		if !fn(n.key) {
			return
		}
	}
}

// Clear removes every key.
func (l *OrderedList[K]) Clear() {
	l.root.prev = &l.root
	l.root.next = &l.root
	clear(l.index)
}
