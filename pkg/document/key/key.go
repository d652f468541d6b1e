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

// Package key provides the address of a document: an even number of path
// segments alternating collection ids and document ids.
package key

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Separator separates the segments of a document path.
const Separator = "/"

var (
	// ErrInvalidKey is returned when the given path does not address a document.
	ErrInvalidKey = errors.New("invalid document key")
)

// Key represents the key of a document. Keys are comparable and can be used
// as map keys.
type Key struct {
	path string
}

// Empty is the zero key. It addresses no document.
var Empty = Key{}

// New creates a key from the given segments.
func New(segments ...string) (Key, error) {
	if len(segments) == 0 || len(segments)%2 != 0 {
		return Key{}, fmt.Errorf("%s: %w", strings.Join(segments, Separator), ErrInvalidKey)
	}
	for _, s := range segments {
		if s == "" || strings.Contains(s, Separator) {
			return Key{}, fmt.Errorf("%q: %w", strings.Join(segments, Separator), ErrInvalidKey)
		}
	}

	return Key{path: strings.Join(segments, Separator)}, nil
}

// FromPath creates a key from the given slash separated path.
func FromPath(path string) (Key, error) {
	return New(strings.Split(strings.Trim(path, Separator), Separator)...)
}

// MustFromPath is like FromPath but panics on invalid input. It is meant for
// tests and constant keys.
func MustFromPath(path string) Key {
	k, err := FromPath(path)
	if err != nil {
		panic(err)
	}
	return k
}

// Segments returns the path segments of this key.
func (k Key) Segments() []string {
	if k.path == "" {
		return nil
	}
	return strings.Split(k.path, Separator)
}

// String returns the path of this key.
func (k Key) String() string {
	return k.path
}

// IsEmpty returns whether this key is the zero key.
func (k Key) IsEmpty() bool {
	return k.path == ""
}

// ID returns the last segment, the id of the document.
func (k Key) ID() string {
	idx := strings.LastIndex(k.path, Separator)
	return k.path[idx+1:]
}

// CollectionPath returns the path of the collection that contains the document.
func (k Key) CollectionPath() string {
	idx := strings.LastIndex(k.path, Separator)
	if idx < 0 {
		return ""
	}
	return k.path[:idx]
}

// CollectionGroup returns the id of the collection that contains the document.
func (k Key) CollectionGroup() string {
	parent := k.CollectionPath()
	return parent[strings.LastIndex(parent, Separator)+1:]
}

// HasCollectionPath returns whether the document is an immediate child of
// the given collection path.
func (k Key) HasCollectionPath(collection string) bool {
	return k.CollectionPath() == strings.Trim(collection, Separator)
}

// Compare compares two keys segment by segment. Segments are compared as
// strings, so a shorter path sorts before a longer one sharing its prefix.
func (k Key) Compare(other Key) int {
	a, b := k.Segments(), other.Segments()
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Less returns whether k sorts before other.
func (k Key) Less(other Key) bool {
	return k.Compare(other) < 0
}

// Sort sorts the given keys in key order.
func Sort(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Less(keys[j])
	})
}

// MarshalText encodes the key as its path.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.path), nil
}

// UnmarshalText decodes a key from its path. An empty text decodes to Empty.
func (k *Key) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = Empty
		return nil
	}

	decoded, err := FromPath(string(text))
	if err != nil {
		return err
	}
	*k = decoded
	return nil
}
