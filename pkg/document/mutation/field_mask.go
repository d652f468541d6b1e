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
	"github.com/yorkie-team/docsync/pkg/document/value"
)

// FieldMask is a set of field paths. A nil *FieldMask stands for the whole
// document.
type FieldMask struct {
	fields []value.FieldPath
}

// NewFieldMask creates a mask holding the given paths.
func NewFieldMask(paths ...value.FieldPath) *FieldMask {
	return (&FieldMask{}).Union(paths...)
}

// Fields returns the paths of the mask.
func (m *FieldMask) Fields() []value.FieldPath {
	if m == nil {
		return nil
	}
	return m.fields
}

// Len returns the number of paths in the mask.
func (m *FieldMask) Len() int {
	return len(m.Fields())
}

// Covers returns whether the path or one of its parents is in the mask.
func (m *FieldMask) Covers(path value.FieldPath) bool {
	for _, f := range m.Fields() {
		if f.IsPrefixOf(path) {
			return true
		}
	}
	return false
}

// Union returns a new mask holding the paths of m and the given paths.
func (m *FieldMask) Union(paths ...value.FieldPath) *FieldMask {
	result := &FieldMask{fields: append([]value.FieldPath{}, m.Fields()...)}
	for _, p := range paths {
		if !result.contains(p) {
			result.fields = append(result.fields, p)
		}
	}
	return result
}

// Equal returns whether both masks hold the same paths.
func (m *FieldMask) Equal(other *FieldMask) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.fields) != len(other.fields) {
		return false
	}
	for _, f := range m.fields {
		if !other.contains(f) {
			return false
		}
	}
	return true
}

func (m *FieldMask) contains(path value.FieldPath) bool {
	for _, f := range m.fields {
		if f.Equal(path) {
			return true
		}
	}
	return false
}
