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

package local

import (
	"github.com/google/btree"

	"github.com/yorkie-team/docsync/pkg/document/key"
)

// docReference is a reference from an id, a target id or a batch id, to a
// document.
type docReference struct {
	key key.Key
	id  int64
}

func lessByKey(a, b docReference) bool {
	if c := a.key.Compare(b.key); c != 0 {
		return c < 0
	}
	return a.id < b.id
}

func lessByID(a, b docReference) bool {
	if a.id != b.id {
		return a.id < b.id
	}
	return a.key.Less(b.key)
}

// ReferenceSet is an in-memory set of references from ids to documents,
// indexed both ways. The local store pins the documents shown by views with
// it, and the sync engine tracks limbo documents with it.
type ReferenceSet struct {
	byKey *btree.BTreeG[docReference]
	byID  *btree.BTreeG[docReference]
}

// NewReferenceSet creates an empty ReferenceSet.
func NewReferenceSet() *ReferenceSet {
	return &ReferenceSet{
		byKey: btree.NewG(16, lessByKey),
		byID:  btree.NewG(16, lessByID),
	}
}

// IsEmpty returns whether the set has no reference.
func (s *ReferenceSet) IsEmpty() bool {
	return s.byKey.Len() == 0
}

// AddReference adds a reference from id to k.
func (s *ReferenceSet) AddReference(k key.Key, id int64) {
	ref := docReference{key: k, id: id}
	s.byKey.ReplaceOrInsert(ref)
	s.byID.ReplaceOrInsert(ref)
}

// AddReferences adds references from id to all keys.
func (s *ReferenceSet) AddReferences(keys key.Set, id int64) {
	for k := range keys {
		s.AddReference(k, id)
	}
}

// RemoveReference removes the reference from id to k.
func (s *ReferenceSet) RemoveReference(k key.Key, id int64) {
	ref := docReference{key: k, id: id}
	s.byKey.Delete(ref)
	s.byID.Delete(ref)
}

// RemoveReferences removes the references from id to all keys.
func (s *ReferenceSet) RemoveReferences(keys key.Set, id int64) {
	for k := range keys {
		s.RemoveReference(k, id)
	}
}

// RemoveReferencesForID removes all references of id and returns the keys
// they referred to.
func (s *ReferenceSet) RemoveReferencesForID(id int64) key.Set {
	keys := s.ReferencesForID(id)
	s.RemoveReferences(keys, id)
	return keys
}

// RemoveAllReferences removes every reference.
func (s *ReferenceSet) RemoveAllReferences() {
	s.byKey.Clear(false)
	s.byID.Clear(false)
}

// ReferencesForID returns the keys referenced by id.
func (s *ReferenceSet) ReferencesForID(id int64) key.Set {
	keys := key.NewSet()
	s.byID.AscendGreaterOrEqual(docReference{id: id}, func(ref docReference) bool {
		if ref.id != id {
			return false
		}
		keys.Add(ref.key)
		return true
	})
	return keys
}

// ContainsKey returns whether any id references k.
func (s *ReferenceSet) ContainsKey(k key.Key) bool {
	found := false
	s.byKey.AscendGreaterOrEqual(docReference{key: k, id: minReferenceID}, func(ref docReference) bool {
		found = ref.key == k
		return false
	})
	return found
}

// minReferenceID is lower than every id: target ids and batch ids are
// positive.
const minReferenceID = -1 << 63
