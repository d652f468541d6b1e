/*
 * Copyright 2025 The Yorkie Authors. All rights reserved.
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

// Package heap provides a bounded binary heap. A heap bounded to n entries
// ordered largest-first keeps the n smallest values pushed into it, which is
// how the garbage collector finds the n-th oldest sequence number without
// sorting every entry.
package heap

// Heap is a binary heap whose root is the entry that sorts first by less.
// When bounded, pushing into a full heap evicts the root if the new entry
// sorts after it.
type Heap[T any] struct {
	items []T
	bound int
	less  func(a, b T) bool
}

// New creates a heap ordered by less. A bound of 0 means unbounded.
func New[T any](bound int, less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{bound: bound, less: less}
}

// Push adds the item. It returns false when the heap is full and the item
// was dropped.
func (h *Heap[T]) Push(item T) bool {
	if h.bound > 0 && len(h.items) >= h.bound {
		if h.less(item, h.items[0]) {
			return false
		}
		h.items[0] = item
		h.down(0)
		return true
	}

	h.items = append(h.items, item)
	h.up(len(h.items) - 1)
	return true
}

// Pop removes and returns the root. ok is false when the heap is empty.
func (h *Heap[T]) Pop() (item T, ok bool) {
	if len(h.items) == 0 {
		return item, false
	}

	item = h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	var zero T
	h.items[last] = zero
	h.items = h.items[:last]
	if last > 0 {
		h.down(0)
	}
	return item, true
}

// Peek returns the root without removing it.
func (h *Heap[T]) Peek() (item T, ok bool) {
	if len(h.items) == 0 {
		return item, false
	}
	return h.items[0], true
}

// Len returns the number of items.
func (h *Heap[T]) Len() int {
	return len(h.items)
}

// IsFull returns whether a bounded heap holds bound items.
func (h *Heap[T]) IsFull() bool {
	return h.bound > 0 && len(h.items) >= h.bound
}

// Items returns a copy of the items in heap order.
func (h *Heap[T]) Items() []T {
	return append([]T(nil), h.items...)
}

func (h *Heap[T]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(h.items[i], h.items[parent]) {
			return
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *Heap[T]) down(i int) {
	n := len(h.items)
	for {
		first := i
		if l := 2*i + 1; l < n && h.less(h.items[l], h.items[first]) {
			first = l
		}
		if r := 2*i + 2; r < n && h.less(h.items[r], h.items[first]) {
			first = r
		}
		if first == i {
			return
		}
		h.items[i], h.items[first] = h.items[first], h.items[i]
		i = first
	}
}
