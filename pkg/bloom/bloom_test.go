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

package bloom_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/docsync/pkg/bloom"
)

func TestFilter(t *testing.T) {
	t.Run("no false negatives test", func(t *testing.T) {
		f := bloom.New(500, 0.01)
		for i := 0; i < 500; i++ {
			f.Add(fmt.Sprintf("rooms/doc-%d", i))
		}
		for i := 0; i < 500; i++ {
			assert.True(t, f.MightContain(fmt.Sprintf("rooms/doc-%d", i)))
		}
	})

	t.Run("false positive rate is bounded test", func(t *testing.T) {
		f := bloom.New(1000, 0.01)
		for i := 0; i < 1000; i++ {
			f.Add(fmt.Sprintf("rooms/in-%d", i))
		}

		positives := 0
		for i := 0; i < 10000; i++ {
			if f.MightContain(fmt.Sprintf("rooms/out-%d", i)) {
				positives++
			}
		}
		assert.Less(t, positives, 500)
	})

	t.Run("wire round trip test", func(t *testing.T) {
		f := bloom.New(10, 0.01)
		f.Add("rooms/a")

		received, err := bloom.FromBits(f.Bits(), f.Padding(), f.HashCount())
		require.NoError(t, err)
		assert.True(t, received.MightContain("rooms/a"))
		assert.Equal(t, f.BitCount(), received.BitCount())
	})

	t.Run("empty filter test", func(t *testing.T) {
		f, err := bloom.FromBits(nil, 0, 0)
		require.NoError(t, err)
		assert.False(t, f.MightContain("rooms/a"))
	})

	t.Run("invalid filter test", func(t *testing.T) {
		_, err := bloom.FromBits([]byte{1}, 8, 1)
		assert.ErrorIs(t, err, bloom.ErrInvalidFilter)

		_, err = bloom.FromBits(nil, 1, 0)
		assert.ErrorIs(t, err, bloom.ErrInvalidFilter)

		_, err = bloom.FromBits([]byte{1}, 0, 0)
		assert.ErrorIs(t, err, bloom.ErrInvalidFilter)
	})
}
