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

package value_test

import (
	"math"
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/value"
)

func TestCompare(t *testing.T) {
	t.Run("type order test", func(t *testing.T) {
		ordered := []any{
			nil,
			false,
			true,
			math.NaN(),
			int64(-1),
			0.5,
			int64(1),
			gotime.Unix(10, 0),
			value.ServerTimestamp{LocalWriteTime: gotime.Unix(1, 0)},
			"a",
			"b",
			[]byte{1},
			key.MustFromPath("c/d"),
			[]any{int64(1)},
			[]any{int64(1), int64(2)},
			map[string]any{"a": int64(1)},
		}

		for i := 0; i < len(ordered)-1; i++ {
			assert.Equal(t, -1, value.Compare(ordered[i], ordered[i+1]), "%v < %v", ordered[i], ordered[i+1])
			assert.Equal(t, 1, value.Compare(ordered[i+1], ordered[i]))
		}
	})

	t.Run("mixed numbers test", func(t *testing.T) {
		assert.Equal(t, 0, value.Compare(int64(1), 1.0))
		assert.False(t, value.Equal(int64(1), 1.0))
		assert.True(t, value.Equal(math.NaN(), math.NaN()))
	})
}

func TestNormalize(t *testing.T) {
	n, err := value.Normalize(map[string]any{
		"i":    3,
		"f":    float32(1.5),
		"list": []string{"a", "b"},
		"nested": map[string]int{
			"x": 1,
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, map[string]any{
		"i":      int64(3),
		"f":      1.5,
		"list":   []any{"a", "b"},
		"nested": map[string]any{"x": int64(1)},
	}, n)

	_, err = value.Normalize(struct{}{})
	assert.ErrorIs(t, err, value.ErrUnsupportedType)
}

func TestObject(t *testing.T) {
	t.Run("nested set and get test", func(t *testing.T) {
		obj := value.Object{}
		obj.Set(value.ParseFieldPath("a.b.c"), int64(1))
		v, ok := obj.Get(value.ParseFieldPath("a.b.c"))
		assert.True(t, ok)
		assert.Equal(t, int64(1), v)

		_, ok = obj.Get(value.ParseFieldPath("a.x"))
		assert.False(t, ok)

		obj.Delete(value.ParseFieldPath("a.b"))
		v, ok = obj.Get(value.ParseFieldPath("a"))
		assert.True(t, ok)
		assert.Equal(t, map[string]any{}, v)
	})

	t.Run("set replaces scalar parent test", func(t *testing.T) {
		obj := value.MustObject(map[string]any{"a": 1})
		obj.Set(value.ParseFieldPath("a.b"), "x")
		assert.Equal(t, value.Object{"a": map[string]any{"b": "x"}}, obj)
	})

	t.Run("clone is deep test", func(t *testing.T) {
		obj := value.MustObject(map[string]any{"a": map[string]any{"b": 1}})
		clone := obj.Clone()
		clone.Set(value.ParseFieldPath("a.b"), int64(2))

		v, _ := obj.Get(value.ParseFieldPath("a.b"))
		assert.Equal(t, int64(1), v)
		assert.False(t, obj.Equal(clone))
	})

	t.Run("field path test", func(t *testing.T) {
		p := value.ParseFieldPath("a.b")
		assert.Equal(t, "a.b", p.String())
		assert.True(t, value.FieldPath{"a"}.IsPrefixOf(p))
		assert.False(t, p.IsPrefixOf(value.FieldPath{"a"}))
		assert.True(t, value.KeyPath.IsKeyField())
	})
}

func TestEstimateSize(t *testing.T) {
	small := value.MustObject(map[string]any{"a": 1})
	large := value.MustObject(map[string]any{"a": 1, "text": "hello world"})
	assert.Less(t, small.Size(), large.Size())
}
