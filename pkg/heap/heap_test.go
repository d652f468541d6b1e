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

package heap_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/docsync/pkg/heap"
)

func TestHeap(t *testing.T) {
	t.Run("unbounded min heap test", func(t *testing.T) {
		h := heap.New(0, func(a, b int) bool { return a < b })
		_, ok := h.Peek()
		assert.False(t, ok)

		for _, n := range []int{5, 3, 7, 1, 9} {
			assert.True(t, h.Push(n))
		}
		assert.Equal(t, 5, h.Len())
		assert.False(t, h.IsFull())

		var popped []int
		for h.Len() > 0 {
			n, ok := h.Pop()
			assert.True(t, ok)
			popped = append(popped, n)
		}
		assert.Equal(t, []int{1, 3, 5, 7, 9}, popped)

		_, ok = h.Pop()
		assert.False(t, ok)
	})

	t.Run("bounded max heap keeps the n smallest test", func(t *testing.T) {
		h := heap.New(3, func(a, b int64) bool { return a > b })
		for _, n := range []int64{50, 20, 80, 10, 90, 30, 70, 40, 60} {
			h.Push(n)
		}
		assert.True(t, h.IsFull())

		nth, ok := h.Peek()
		assert.True(t, ok)
		assert.Equal(t, int64(30), nth)

		items := h.Items()
		sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
		assert.Equal(t, []int64{10, 20, 30}, items)
	})

	t.Run("push into a full heap reports drops test", func(t *testing.T) {
		h := heap.New(2, func(a, b int) bool { return a > b })
		assert.True(t, h.Push(1))
		assert.True(t, h.Push(2))
		assert.False(t, h.Push(3))
		assert.True(t, h.Push(0))

		nth, _ := h.Peek()
		assert.Equal(t, 1, nth)
	})
}
