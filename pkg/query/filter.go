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

package query

import (
	"fmt"

	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/value"
	"github.com/yorkie-team/docsync/pkg/errors"
)

// ErrInvalidFilter is returned when a filter cannot be evaluated.
var ErrInvalidFilter = errors.InvalidArgument("invalid filter").WithCode("ErrInvalidFilter")

// Operator is the comparison operator of a filter.
type Operator string

// The supported operators.
const (
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Equal              Operator = "=="
	NotEqual           Operator = "!="
	GreaterThanOrEqual Operator = ">="
	GreaterThan        Operator = ">"
	ArrayContains      Operator = "array-contains"
	In                 Operator = "in"
	NotIn              Operator = "not-in"
	ArrayContainsAny   Operator = "array-contains-any"
)

// Filter restricts the documents of a query by the value of a field.
type Filter struct {
	Field value.FieldPath
	Op    Operator
	Value any
}

// NewFilter creates a filter on the given dotted field path.
func NewFilter(field string, op Operator, v any) (Filter, error) {
	normalized, err := value.Normalize(v)
	if err != nil {
		return Filter{}, fmt.Errorf("%s %s: %s: %w", field, op, err.Error(), ErrInvalidFilter)
	}

	switch op {
	case LessThan, LessThanOrEqual, Equal, NotEqual, GreaterThanOrEqual, GreaterThan, ArrayContains:
	case In, NotIn, ArrayContainsAny:
		if _, ok := normalized.([]any); !ok {
			return Filter{}, fmt.Errorf("%s %s requires an array: %w", field, op, ErrInvalidFilter)
		}
	default:
		return Filter{}, fmt.Errorf("operator %q: %w", op, ErrInvalidFilter)
	}

	return Filter{Field: value.ParseFieldPath(field), Op: op, Value: normalized}, nil
}

// MustFilter is like NewFilter but panics on invalid input.
func MustFilter(field string, op Operator, v any) Filter {
	f, err := NewFilter(field, op, v)
	if err != nil {
		panic(err)
	}
	return f
}

// IsInequality returns whether the filter restricts a range of values.
func (f Filter) IsInequality() bool {
	switch f.Op {
	case LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual, NotEqual, NotIn:
		return true
	}
	return false
}

// Matches returns whether the document satisfies the filter.
func (f Filter) Matches(doc *document.Document) bool {
	v, ok := doc.Field(f.Field)
	if !ok {
		return false
	}

	switch f.Op {
	case ArrayContains:
		arr, ok := v.([]any)
		return ok && contains(arr, f.Value)
	case ArrayContainsAny:
		arr, ok := v.([]any)
		if !ok {
			return false
		}
		for _, candidate := range f.Value.([]any) {
			if contains(arr, candidate) {
				return true
			}
		}
		return false
	case In:
		return contains(f.Value.([]any), v)
	case NotIn:
		return v != nil && !contains(f.Value.([]any), v)
	case NotEqual:
		return v != nil && value.Compare(v, f.Value) != 0
	}

	if !value.SameType(v, f.Value) {
		return false
	}

	c := value.Compare(v, f.Value)
	switch f.Op {
	case LessThan:
		return c < 0
	case LessThanOrEqual:
		return c <= 0
	case Equal:
		return c == 0
	case GreaterThanOrEqual:
		return c >= 0
	case GreaterThan:
		return c > 0
	}
	return false
}

// String returns the canonical representation of the filter.
func (f Filter) String() string {
	return f.Field.String() + string(f.Op) + canonicalValue(f.Value)
}

func contains(arr []any, v any) bool {
	for _, elem := range arr {
		if value.SameType(elem, v) && value.Compare(elem, v) == 0 {
			return true
		}
	}
	return false
}

func canonicalValue(v any) string {
	return fmt.Sprintf("%T(%v)", v, v)
}
