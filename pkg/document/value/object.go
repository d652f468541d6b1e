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

package value

import (
	"strings"
)

// KeyFieldName is the name of the pseudo field that refers to the document key.
const KeyFieldName = "__name__"

// FieldPath addresses a possibly nested field of a document.
type FieldPath []string

// KeyPath is the field path of the document key.
var KeyPath = FieldPath{KeyFieldName}

// ParseFieldPath creates a field path from its dotted representation.
func ParseFieldPath(path string) FieldPath {
	return strings.Split(path, ".")
}

// String returns the dotted representation of the path.
func (p FieldPath) String() string {
	return strings.Join(p, ".")
}

// IsKeyField returns whether the path refers to the document key.
func (p FieldPath) IsKeyField() bool {
	return len(p) == 1 && p[0] == KeyFieldName
}

// Equal returns whether both paths are the same.
func (p FieldPath) Equal(other FieldPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// IsPrefixOf returns whether p is equal to or a parent of other.
func (p FieldPath) IsPrefixOf(other FieldPath) bool {
	if len(p) > len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Parent returns the path without its last segment.
func (p FieldPath) Parent() FieldPath {
	return p[:len(p)-1]
}

// Object is the field map of a document.
type Object map[string]any

// Get returns the value at the given path.
func (o Object) Get(path FieldPath) (any, bool) {
	var current any = map[string]any(o)
	for _, segment := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[segment]; !ok {
			return nil, false
		}
	}
	return current, true
}

// Set sets the value at the given path, creating intermediate maps and
// replacing non-map values on the way.
func (o Object) Set(path FieldPath, v any) {
	m := map[string]any(o)
	for _, segment := range path[:len(path)-1] {
		next, ok := m[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[segment] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

// Delete removes the value at the given path. Missing parents are ignored.
func (o Object) Delete(path FieldPath) {
	m := map[string]any(o)
	for _, segment := range path[:len(path)-1] {
		next, ok := m[segment].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	delete(m, path[len(path)-1])
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return Object{}
	}
	return Object(DeepCopy(map[string]any(o)).(map[string]any))
}

// Equal returns whether both objects hold equal fields.
func (o Object) Equal(other Object) bool {
	if len(o) != len(other) {
		return false
	}
	for k, v := range o {
		ov, ok := other[k]
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}

// Size returns the approximate size of the object in bytes.
func (o Object) Size() int {
	return EstimateSize(map[string]any(o))
}

// NewObject normalizes the given field map into an Object.
func NewObject(fields map[string]any) (Object, error) {
	m, err := normalizeMap(fields)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MustObject is like NewObject but panics on unsupported values.
func MustObject(fields map[string]any) Object {
	o, err := NewObject(fields)
	if err != nil {
		panic(err)
	}
	return o
}
