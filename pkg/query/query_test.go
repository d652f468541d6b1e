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

package query_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/value"
	"github.com/yorkie-team/docsync/pkg/query"
)

func doc(path string, fields map[string]any) *document.Document {
	return document.NewFound(key.MustFromPath(path), 1, value.MustObject(fields))
}

func TestFilter(t *testing.T) {
	d := doc("rooms/a", map[string]any{
		"n":    3,
		"name": "alpha",
		"tags": []any{"x", "y"},
		"null": nil,
	})

	tests := []struct {
		filter query.Filter
		want   bool
	}{
		{query.MustFilter("n", query.Equal, 3), true},
		{query.MustFilter("n", query.Equal, 3.0), true},
		{query.MustFilter("n", query.GreaterThan, 2), true},
		{query.MustFilter("n", query.LessThan, 3), false},
		{query.MustFilter("n", query.LessThanOrEqual, "z"), false},
		{query.MustFilter("name", query.GreaterThanOrEqual, "a"), true},
		{query.MustFilter("n", query.NotEqual, 4), true},
		{query.MustFilter("null", query.NotEqual, 4), false},
		{query.MustFilter("missing", query.NotEqual, 4), false},
		{query.MustFilter("tags", query.ArrayContains, "x"), true},
		{query.MustFilter("tags", query.ArrayContainsAny, []any{"q", "y"}), true},
		{query.MustFilter("n", query.In, []any{1, 3}), true},
		{query.MustFilter("n", query.NotIn, []any{1, 3}), false},
	}

	for _, tt := range tests {
		t.Run(tt.filter.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(d))
		})
	}

	t.Run("invalid filter test", func(t *testing.T) {
		_, err := query.NewFilter("n", query.In, 3)
		assert.ErrorIs(t, err, query.ErrInvalidFilter)

		_, err = query.NewFilter("n", query.Operator("~"), 3)
		assert.ErrorIs(t, err, query.ErrInvalidFilter)
	})
}

func TestQuery(t *testing.T) {
	t.Run("matches collection test", func(t *testing.T) {
		q := query.NewCollectionQuery("rooms").Where(query.MustFilter("n", query.GreaterThan, 1))

		assert.True(t, q.Matches(doc("rooms/a", map[string]any{"n": 2})))
		assert.False(t, q.Matches(doc("rooms/a", map[string]any{"n": 1})))
		assert.False(t, q.Matches(doc("users/a", map[string]any{"n": 2})))
		assert.False(t, q.Matches(doc("rooms/a/sub/b", map[string]any{"n": 2})))
		assert.False(t, q.Matches(document.NewNoDocument(key.MustFromPath("rooms/a"), 1)))
	})

	t.Run("order by requires field test", func(t *testing.T) {
		q := query.NewCollectionQuery("rooms").OrderBy("n", query.Ascending)
		assert.True(t, q.Matches(doc("rooms/a", map[string]any{"n": 1})))
		assert.False(t, q.Matches(doc("rooms/b", map[string]any{"m": 1})))
	})

	t.Run("document query test", func(t *testing.T) {
		k := key.MustFromPath("rooms/a")
		q := query.NewDocumentQuery(k)
		assert.True(t, q.IsDocumentQuery())
		assert.Equal(t, k, q.DocumentKey())
		assert.True(t, q.Matches(doc("rooms/a", nil)))
		assert.False(t, q.Matches(doc("rooms/b", nil)))
		assert.True(t, q.ToTarget().IsDocumentTarget())
		assert.False(t, query.NewCollectionQuery("rooms").IsDocumentQuery())
	})

	t.Run("normalized order by test", func(t *testing.T) {
		q := query.NewCollectionQuery("rooms").Where(query.MustFilter("n", query.GreaterThan, 1))
		assert.Equal(t, []string{"n asc", "__name__ asc"}, orderStrings(q.NormalizedOrderBy()))

		q = query.NewCollectionQuery("rooms").OrderBy("m", query.Descending)
		assert.Equal(t, []string{"m desc", "__name__ desc"}, orderStrings(q.NormalizedOrderBy()))
	})

	t.Run("comparator test", func(t *testing.T) {
		q := query.NewCollectionQuery("rooms").OrderBy("n", query.Descending)
		docs := []*document.Document{
			doc("rooms/a", map[string]any{"n": 1}),
			doc("rooms/b", map[string]any{"n": 3}),
			doc("rooms/c", map[string]any{"n": 3}),
			doc("rooms/d", map[string]any{"n": 2}),
		}
		cmp := q.Comparator()
		sort.Slice(docs, func(i, j int) bool { return cmp(docs[i], docs[j]) < 0 })

		var keys []string
		for _, d := range docs {
			keys = append(keys, d.Key().ID())
		}
		assert.Equal(t, []string{"c", "b", "d", "a"}, keys)
	})

	t.Run("canonical id test", func(t *testing.T) {
		a := query.NewCollectionQuery("rooms").Where(query.MustFilter("n", query.Equal, 1)).LimitToFirst(2)
		b := query.NewCollectionQuery("/rooms/").Where(query.MustFilter("n", query.Equal, 1)).LimitToFirst(2)
		c := query.NewCollectionQuery("rooms").Where(query.MustFilter("n", query.Equal, "1")).LimitToFirst(2)
		d := a.LimitToLast(2)

		assert.Equal(t, a.CanonicalID(), b.CanonicalID())
		assert.NotEqual(t, a.CanonicalID(), c.CanonicalID())
		assert.NotEqual(t, a.CanonicalID(), d.CanonicalID())
	})

	t.Run("limit to last flips the target order test", func(t *testing.T) {
		q := query.NewCollectionQuery("rooms").OrderBy("n", query.Ascending).LimitToLast(2)
		target := q.ToTarget()

		assert.Equal(t, []string{"n desc", "__name__ desc"}, orderStrings(target.OrderBy))
		assert.Equal(t, 2, target.Limit)
		assert.True(t, target.Equal(q.ToTarget()))
		assert.False(t, target.Equal(q.LimitToFirst(2).ToTarget()))
	})
}

func orderStrings(orderBy []query.OrderBy) []string {
	var result []string
	for _, o := range orderBy {
		result = append(result, o.String())
	}
	return result
}
