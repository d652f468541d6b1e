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

// Package query provides single collection queries with flat filters, an
// ordering and a limit, and the targets they are listened to as.
package query

import (
	"strconv"
	"strings"

	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/value"
)

// Direction is the direction of an ordering.
type Direction int

const (
	// Ascending orders smaller values first.
	Ascending Direction = iota

	// Descending orders larger values first.
	Descending
)

func (d Direction) flip() Direction {
	if d == Ascending {
		return Descending
	}
	return Ascending
}

// OrderBy orders the results of a query by a field.
type OrderBy struct {
	Field     value.FieldPath
	Direction Direction
}

func (o OrderBy) String() string {
	if o.Direction == Descending {
		return o.Field.String() + " desc"
	}
	return o.Field.String() + " asc"
}

// LimitType tells which end of the ordered results a limit keeps.
type LimitType int

const (
	// LimitToFirst keeps the first results.
	LimitToFirst LimitType = iota

	// LimitToLast keeps the last results.
	LimitToLast
)

// NoLimit is the limit of a query without limit.
const NoLimit = 0

// Query is a single collection query, or the query of a single document.
// Queries are immutable; builder methods return new queries.
type Query struct {
	path      string
	filters   []Filter
	orderBy   []OrderBy
	limit     int
	limitType LimitType
}

// NewCollectionQuery creates a query on the documents of a collection.
func NewCollectionQuery(collectionPath string) *Query {
	return &Query{path: strings.Trim(collectionPath, key.Separator)}
}

// NewDocumentQuery creates a query on a single document.
func NewDocumentQuery(k key.Key) *Query {
	return &Query{path: k.String()}
}

// Path returns the collection or document path of the query.
func (q *Query) Path() string {
	return q.path
}

// Filters returns the filters of the query.
func (q *Query) Filters() []Filter {
	return q.filters
}

// Limit returns the limit of the query, NoLimit if it has none.
func (q *Query) Limit() int {
	return q.limit
}

// LimitType returns which end of the results the limit keeps.
func (q *Query) LimitType() LimitType {
	return q.limitType
}

// HasLimit returns whether the query is limited.
func (q *Query) HasLimit() bool {
	return q.limit != NoLimit
}

// IsDocumentQuery returns whether the query addresses a single document.
func (q *Query) IsDocumentQuery() bool {
	_, err := key.FromPath(q.path)
	return err == nil && len(q.filters) == 0
}

// DocumentKey returns the key of a document query.
func (q *Query) DocumentKey() key.Key {
	k, _ := key.FromPath(q.path)
	return k
}

// Where returns a copy of the query with the given filter.
func (q *Query) Where(f Filter) *Query {
	clone := q.clone()
	clone.filters = append(clone.filters, f)
	return clone
}

// OrderBy returns a copy of the query ordered additionally by the given field.
func (q *Query) OrderBy(field string, dir Direction) *Query {
	clone := q.clone()
	clone.orderBy = append(clone.orderBy, OrderBy{Field: value.ParseFieldPath(field), Direction: dir})
	return clone
}

// LimitToFirst returns a copy of the query that keeps the first n results.
func (q *Query) LimitToFirst(n int) *Query {
	clone := q.clone()
	clone.limit, clone.limitType = n, LimitToFirst
	return clone
}

// LimitToLast returns a copy of the query that keeps the last n results.
func (q *Query) LimitToLast(n int) *Query {
	clone := q.clone()
	clone.limit, clone.limitType = n, LimitToLast
	return clone
}

func (q *Query) clone() *Query {
	return &Query{
		path:      q.path,
		filters:   append([]Filter{}, q.filters...),
		orderBy:   append([]OrderBy{}, q.orderBy...),
		limit:     q.limit,
		limitType: q.limitType,
	}
}

// NormalizedOrderBy returns the full ordering of the query. The field of an
// inequality filter leads when no ordering is given, and the document key
// always comes last.
func (q *Query) NormalizedOrderBy() []OrderBy {
	orderBy := append([]OrderBy{}, q.orderBy...)
	if len(orderBy) == 0 {
		for _, f := range q.filters {
			if f.IsInequality() && !f.Field.IsKeyField() {
				orderBy = append(orderBy, OrderBy{Field: f.Field, Direction: Ascending})
				break
			}
		}
	}

	for _, o := range orderBy {
		if o.Field.IsKeyField() {
			return orderBy
		}
	}

	dir := Ascending
	if len(orderBy) > 0 {
		dir = orderBy[len(orderBy)-1].Direction
	}
	return append(orderBy, OrderBy{Field: value.KeyPath, Direction: dir})
}

// Comparator returns the ordering of the results of the query.
func (q *Query) Comparator() document.Comparator {
	return newComparator(q.NormalizedOrderBy())
}

// Matches returns whether the document is a result of the query, ignoring the limit.
func (q *Query) Matches(doc *document.Document) bool {
	return matches(q.path, q.filters, q.orderBy, doc)
}

// CanonicalID returns a string that identifies the query. Equivalent queries
// have the same canonical id.
func (q *Query) CanonicalID() string {
	id := canonicalID(q.path, q.filters, q.NormalizedOrderBy(), q.limit)
	if q.limitType == LimitToLast {
		id += "|lt:l"
	} else {
		id += "|lt:f"
	}
	return id
}

// String returns the canonical id of the query.
func (q *Query) String() string {
	return q.CanonicalID()
}

// ToTarget returns the target the query is listened to as. The ordering of a
// limitToLast query is reversed so the server returns the last results.
func (q *Query) ToTarget() *Target {
	orderBy := q.NormalizedOrderBy()
	if q.limitType == LimitToLast {
		flipped := make([]OrderBy, len(orderBy))
		for i, o := range orderBy {
			flipped[i] = OrderBy{Field: o.Field, Direction: o.Direction.flip()}
		}
		orderBy = flipped
	}

	return &Target{
		Path:    q.path,
		Filters: append([]Filter{}, q.filters...),
		OrderBy: orderBy,
		Limit:   q.limit,
	}
}

// NewDocumentsTarget creates the target of a single document.
func NewDocumentsTarget(k key.Key) *Target {
	return NewDocumentQuery(k).ToTarget()
}

func matches(path string, filters []Filter, orderBy []OrderBy, doc *document.Document) bool {
	if !doc.IsFound() {
		return false
	}

	if doc.Key().String() != path && !doc.Key().HasCollectionPath(path) {
		return false
	}

	for _, o := range orderBy {
		if o.Field.IsKeyField() {
			continue
		}
		if _, ok := doc.Field(o.Field); !ok {
			return false
		}
	}

	for _, f := range filters {
		if !f.Matches(doc) {
			return false
		}
	}
	return true
}

func newComparator(orderBy []OrderBy) document.Comparator {
	return func(a, b *document.Document) int {
		for _, o := range orderBy {
			var c int
			if o.Field.IsKeyField() {
				c = a.Key().Compare(b.Key())
			} else {
				av, _ := a.Field(o.Field)
				bv, _ := b.Field(o.Field)
				c = value.Compare(av, bv)
			}
			if o.Direction == Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return a.Key().Compare(b.Key())
	}
}

func canonicalID(path string, filters []Filter, orderBy []OrderBy, limit int) string {
	var b strings.Builder
	b.WriteString(path)
	b.WriteString("|f:")
	for _, f := range filters {
		b.WriteString(f.String())
	}
	b.WriteString("|ob:")
	for _, o := range orderBy {
		b.WriteString(o.String())
		b.WriteString(",")
	}
	if limit != NoLimit {
		b.WriteString("|l:")
		b.WriteString(strconv.Itoa(limit))
	}
	return b.String()
}
