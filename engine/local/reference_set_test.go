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

package local_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/docsync/engine/local"
	"github.com/yorkie-team/docsync/pkg/document/key"
)

func TestReferenceSet(t *testing.T) {
	keyA := key.MustFromPath("rooms/a")
	keyB := key.MustFromPath("rooms/b")
	keyC := key.MustFromPath("users/c")

	t.Run("add and remove references test", func(t *testing.T) {
		refs := local.NewReferenceSet()
		assert.True(t, refs.IsEmpty())

		refs.AddReferences(key.NewSet(keyA, keyB), 2)
		refs.AddReference(keyA, 4)
		assert.True(t, refs.ContainsKey(keyA))
		assert.False(t, refs.ContainsKey(keyC))

		refs.RemoveReference(keyA, 2)
		assert.True(t, refs.ContainsKey(keyA))
		assert.Equal(t, key.NewSet(keyB), refs.ReferencesForID(2))

		removed := refs.RemoveReferencesForID(4)
		assert.Equal(t, key.NewSet(keyA), removed)
		assert.False(t, refs.ContainsKey(keyA))
		assert.True(t, refs.ContainsKey(keyB))

		refs.RemoveAllReferences()
		assert.True(t, refs.IsEmpty())
	})

	t.Run("references of an id are isolated test", func(t *testing.T) {
		refs := local.NewReferenceSet()
		refs.AddReference(keyA, -1)
		refs.AddReference(keyB, 1)
		refs.AddReference(keyC, 3)

		assert.Equal(t, key.NewSet(keyA), refs.ReferencesForID(-1))
		assert.Equal(t, key.NewSet(keyB), refs.ReferencesForID(1))
		assert.Equal(t, 0, refs.ReferencesForID(2).Len())
	})
}

func TestTargetIDGenerator(t *testing.T) {
	t.Run("query and limbo ids never collide test", func(t *testing.T) {
		queries := local.NewQueryTargetIDGenerator()
		limbos := local.NewLimboTargetIDGenerator()

		seen := make(map[int32]bool)
		for i := 0; i < 10; i++ {
			q, l := queries.Next(), limbos.Next()
			assert.Equal(t, int32(0), int32(q)%2)
			assert.Equal(t, int32(1), int32(l)%2)
			assert.False(t, seen[int32(q)])
			assert.False(t, seen[int32(l)])
			seen[int32(q)], seen[int32(l)] = true, true
		}
	})

	t.Run("seek skips allocated ids test", func(t *testing.T) {
		queries := local.NewQueryTargetIDGenerator()
		queries.Seek(10)
		assert.Equal(t, int32(12), int32(queries.Next()))

		queries.Seek(3)
		assert.Equal(t, int32(14), int32(queries.Next()))

		limbos := local.NewLimboTargetIDGenerator()
		limbos.Seek(10)
		assert.Equal(t, int32(11), int32(limbos.Next()))
	})
}
