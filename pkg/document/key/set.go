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

package key

// Set is an unordered set of document keys.
type Set map[Key]struct{}

// NewSet creates a set holding the given keys.
func NewSet(keys ...Key) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add adds the given key.
func (s Set) Add(k Key) {
	s[k] = struct{}{}
}

// Delete removes the given key.
func (s Set) Delete(k Key) {
	delete(s, k)
}

// Has returns whether the given key is in the set.
func (s Set) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Len returns the number of keys in the set.
func (s Set) Len() int {
	return len(s)
}

// AddAll adds every key of other to this set.
func (s Set) AddAll(other Set) {
	for k := range other {
		s[k] = struct{}{}
	}
}

// Clone returns a copy of this set.
func (s Set) Clone() Set {
	clone := make(Set, len(s))
	clone.AddAll(s)
	return clone
}

// Equal returns whether both sets hold the same keys.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// Sorted returns the keys of this set in key order.
func (s Set) Sorted() []Key {
	keys := make([]Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	Sort(keys)
	return keys
}
