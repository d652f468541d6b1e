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

package mutation_test

import (
	"encoding/json"
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/value"
)

func TestMutationJSON(t *testing.T) {
	t.Run("typed values survive encoding test", func(t *testing.T) {
		m, err := mutation.ParseMergeData(docKey, map[string]any{
			"i":     int64(1),
			"f":     1.0,
			"when":  gotime.Unix(10, 0),
			"ref":   key.MustFromPath("users/u1"),
			"raw":   []byte{1, 2},
			"empty": []any{},
			"n":     mutation.Increment(2),
			"tags":  mutation.ArrayUnion("a"),
			"ts":    mutation.ServerTimestamp(),
		})
		require.NoError(t, err)

		data, err := json.Marshal(m)
		require.NoError(t, err)

		decoded := &mutation.Mutation{}
		require.NoError(t, json.Unmarshal(data, decoded))
		assert.True(t, m.Equal(decoded), "%s", data)

		i, _ := decoded.Value.Get(value.FieldPath{"i"})
		assert.Equal(t, int64(1), i)
		f, _ := decoded.Value.Get(value.FieldPath{"f"})
		assert.Equal(t, 1.0, f)
	})

	t.Run("result test", func(t *testing.T) {
		r := &mutation.Result{Version: 5, TransformResults: []any{int64(3), gotime.Unix(5, 0).UTC()}}
		data, err := json.Marshal(r)
		require.NoError(t, err)

		decoded := &mutation.Result{}
		require.NoError(t, json.Unmarshal(data, decoded))
		assert.Equal(t, r.Version, decoded.Version)
		require.Len(t, decoded.TransformResults, 2)
		for i := range r.TransformResults {
			assert.True(t, value.Equal(r.TransformResults[i], decoded.TransformResults[i]))
		}
	})
}
