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

package mutation

import (
	"fmt"
	"sort"

	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/value"
	"github.com/yorkie-team/docsync/pkg/errors"
)

var (
	// ErrInvalidData is returned when the data given to a write cannot be stored.
	ErrInvalidData = errors.InvalidArgument("invalid document data").WithCode("ErrInvalidData")

	// ErrSentinelNotAllowed is returned when a sentinel is used where it has no meaning.
	ErrSentinelNotAllowed = errors.InvalidArgument("sentinel not allowed here").WithCode("ErrSentinelNotAllowed")
)

type sentinel interface {
	sentinelName() string
}

type deleteSentinel struct{}

func (deleteSentinel) sentinelName() string { return "DeleteField()" }

type transformSentinel struct {
	name string
	op   TransformOp
}

func (s transformSentinel) sentinelName() string { return s.name }

// DeleteField returns a sentinel that deletes the field in a merge or an update.
func DeleteField() any {
	return deleteSentinel{}
}

// ServerTimestamp returns a sentinel that sets the field to the commit time.
func ServerTimestamp() any {
	return transformSentinel{name: "ServerTimestamp()", op: ServerTimestampOp{}}
}

// Increment returns a sentinel that adds n to the numeric value of the field.
func Increment(n any) any {
	operand, err := value.Normalize(n)
	if err != nil || !value.IsNumber(operand) {
		operand = int64(0)
	}
	return transformSentinel{name: "Increment()", op: NumericIncrementOp{Operand: operand}}
}

// ArrayUnion returns a sentinel that adds the given elements to an array field.
func ArrayUnion(elements ...any) any {
	return transformSentinel{name: "ArrayUnion()", op: ArrayUnionOp{Elements: normalizeElements(elements)}}
}

// ArrayRemove returns a sentinel that removes the given elements from an array field.
func ArrayRemove(elements ...any) any {
	return transformSentinel{name: "ArrayRemove()", op: ArrayRemoveOp{Elements: normalizeElements(elements)}}
}

func normalizeElements(elements []any) []any {
	result := make([]any, 0, len(elements))
	for _, elem := range elements {
		if n, err := value.Normalize(elem); err == nil {
			result = append(result, n)
		}
	}
	return result
}

// ParseSetData creates a mutation that replaces the document with data.
func ParseSetData(k key.Key, data map[string]any) (*Mutation, error) {
	p := &dataParser{}
	obj, err := p.parseObject(nil, data)
	if err != nil {
		return nil, err
	}
	return NewSet(k, obj, p.transforms...), nil
}

// ParseMergeData creates a mutation that merges data into the document,
// creating it when it does not exist.
func ParseMergeData(k key.Key, data map[string]any) (*Mutation, error) {
	p := &dataParser{merge: true, allowDelete: true}
	obj, err := p.parseObject(nil, data)
	if err != nil {
		return nil, err
	}
	return NewPatch(k, obj, NewFieldMask(p.mask...), NoPrecondition, p.transforms...), nil
}

// ParseUpdateData creates a mutation that updates the given fields of an
// existing document. Keys of fields are dotted field paths.
func ParseUpdateData(k key.Key, fields map[string]any) (*Mutation, error) {
	p := &dataParser{allowDelete: true}
	obj := value.Object{}

	paths := make([]string, 0, len(fields))
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, raw := range paths {
		path := value.ParseFieldPath(raw)
		v, keep, err := p.parseValue(path, fields[raw])
		if err != nil {
			return nil, err
		}
		if keep {
			obj.Set(path, v)
			p.mask = append(p.mask, path)
		}
	}

	return NewPatch(k, obj, NewFieldMask(p.mask...), Exists(true), p.transforms...), nil
}

type dataParser struct {
	merge       bool
	allowDelete bool
	mask        []value.FieldPath
	transforms  []FieldTransform
}

func (p *dataParser) parseObject(path value.FieldPath, data map[string]any) (value.Object, error) {
	obj := value.Object{}
	for k, v := range data {
		child := append(append(value.FieldPath{}, path...), k)
		parsed, keep, err := p.parseValue(child, v)
		if err != nil {
			return nil, err
		}
		if keep {
			obj[k] = parsed
		}
	}

	if p.merge && len(data) == 0 && len(path) > 0 {
		p.mask = append(p.mask, path)
	}
	return obj, nil
}

// parseValue returns the normalized value of the field and whether it is
// kept in the written data.
func (p *dataParser) parseValue(path value.FieldPath, v any) (any, bool, error) {
	switch val := v.(type) {
	case deleteSentinel:
		if !p.allowDelete {
			return nil, false, fmt.Errorf("%s at %s: %w", val.sentinelName(), path, ErrSentinelNotAllowed)
		}
		p.mask = append(p.mask, path)
		return nil, false, nil
	case transformSentinel:
		p.transforms = append(p.transforms, FieldTransform{Field: path, Op: val.op})
		return nil, false, nil
	case map[string]any:
		obj, err := p.parseObject(path, val)
		if err != nil {
			return nil, false, err
		}
		return map[string]any(obj), true, nil
	case value.Object:
		return p.parseValue(path, map[string]any(val))
	case []any:
		for _, elem := range val {
			if s, ok := elem.(sentinel); ok {
				return nil, false, fmt.Errorf("%s in array at %s: %w", s.sentinelName(), path, ErrSentinelNotAllowed)
			}
		}
	}

	normalized, err := value.Normalize(v)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %s: %w", path, err.Error(), ErrInvalidData)
	}
	if p.merge {
		p.mask = append(p.mask, path)
	}
	return normalized, true, nil
}
