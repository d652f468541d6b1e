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

package document_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/value"
)

func TestDocument(t *testing.T) {
	k := key.MustFromPath("rooms/a")

	t.Run("state transitions test", func(t *testing.T) {
		doc := document.NewInvalid(k)
		assert.False(t, doc.IsValid())

		doc.ConvertToFound(3, value.MustObject(map[string]any{"x": 1}))
		assert.True(t, doc.IsFound())
		assert.False(t, doc.HasPendingWrites())

		doc.SetHasLocalMutations()
		assert.True(t, doc.HasLocalMutations())
		assert.True(t, doc.Version().IsMin())

		doc.ConvertToNoDocument(5)
		assert.True(t, doc.IsNoDocument())
		assert.False(t, doc.HasPendingWrites())
		assert.Empty(t, doc.Data())

		doc.ConvertToUnknown(6)
		assert.True(t, doc.IsUnknown())
		assert.True(t, doc.HasCommittedMutations())
		assert.False(t, doc.HasPendingWrites())
	})

	t.Run("clone test", func(t *testing.T) {
		doc := document.NewFound(k, 1, value.MustObject(map[string]any{"x": 1}))
		clone := doc.Clone()
		clone.Data().Set(value.FieldPath{"x"}, int64(2))

		assert.False(t, doc.Equal(clone))
		v, _ := doc.Field(value.FieldPath{"x"})
		assert.Equal(t, int64(1), v)

		name, _ := doc.Field(value.KeyPath)
		assert.Equal(t, k, name)
	})
}

func TestSet(t *testing.T) {
	byX := func(a, b *document.Document) int {
		av, _ := a.Field(value.FieldPath{"x"})
		bv, _ := b.Field(value.FieldPath{"x"})
		if c := value.Compare(av, bv); c != 0 {
			return c
		}
		return document.KeyComparator(a, b)
	}

	doc := func(path string, x int) *document.Document {
		return document.NewFound(key.MustFromPath(path), 1, value.MustObject(map[string]any{"x": x}))
	}

	t.Run("ordered by comparator test", func(t *testing.T) {
		set := document.NewSet(byX)
		set.Add(doc("c/a", 3))
		set.Add(doc("c/b", 1))
		set.Add(doc("c/c", 2))

		assert.Equal(t, 3, set.Len())
		assert.Equal(t, "c/b", set.First().Key().String())
		assert.Equal(t, "c/a", set.Last().Key().String())

		set.Add(doc("c/a", 0))
		assert.Equal(t, 3, set.Len())
		assert.Equal(t, "c/a", set.First().Key().String())

		var keys []string
		for _, d := range set.Documents() {
			keys = append(keys, d.Key().String())
		}
		assert.Equal(t, []string{"c/a", "c/b", "c/c"}, keys)
	})

	t.Run("clone is independent test", func(t *testing.T) {
		set := document.NewSet(nil)
		set.Add(doc("c/a", 1))
		clone := set.Clone()
		clone.Add(doc("c/b", 2))
		clone.Delete(key.MustFromPath("c/a"))

		assert.True(t, set.Has(key.MustFromPath("c/a")))
		assert.False(t, set.Has(key.MustFromPath("c/b")))
		assert.Equal(t, 1, clone.Len())
		assert.False(t, set.Equal(clone))
		assert.True(t, set.Equal(set.Clone()))
	})
}
