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

package key_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/docsync/pkg/document/key"
)

func TestKey(t *testing.T) {
	t.Run("from path test", func(t *testing.T) {
		k, err := key.FromPath("rooms/r1/messages/m1")
		assert.NoError(t, err)
		assert.Equal(t, "m1", k.ID())
		assert.Equal(t, "rooms/r1/messages", k.CollectionPath())
		assert.Equal(t, "messages", k.CollectionGroup())
		assert.True(t, k.HasCollectionPath("rooms/r1/messages"))
		assert.False(t, k.HasCollectionPath("rooms"))
		assert.Equal(t, []string{"rooms", "r1", "messages", "m1"}, k.Segments())
	})

	t.Run("invalid path test", func(t *testing.T) {
		_, err := key.FromPath("rooms")
		assert.ErrorIs(t, err, key.ErrInvalidKey)

		_, err = key.New("rooms", "")
		assert.ErrorIs(t, err, key.ErrInvalidKey)

		_, err = key.New("rooms", "a/b")
		assert.ErrorIs(t, err, key.ErrInvalidKey)
	})

	t.Run("compare test", func(t *testing.T) {
		a := key.MustFromPath("c/a")
		b := key.MustFromPath("c/b")
		nested := key.MustFromPath("c/a/d/x")

		assert.Equal(t, -1, a.Compare(b))
		assert.Equal(t, 1, b.Compare(a))
		assert.Equal(t, 0, a.Compare(key.MustFromPath("c/a")))
		assert.True(t, a.Less(nested))
		assert.True(t, nested.Less(b))
	})
}

func TestSet(t *testing.T) {
	a := key.MustFromPath("c/a")
	b := key.MustFromPath("c/b")

	s := key.NewSet(b)
	s.Add(a)
	assert.True(t, s.Has(a))
	assert.Equal(t, []key.Key{a, b}, s.Sorted())

	clone := s.Clone()
	clone.Delete(a)
	assert.True(t, s.Has(a))
	assert.False(t, clone.Has(a))
	assert.False(t, s.Equal(clone))
	assert.True(t, s.Equal(key.NewSet(a, b)))
}
