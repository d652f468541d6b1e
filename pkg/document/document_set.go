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

package document

import (
	"github.com/google/btree"

	"github.com/yorkie-team/docsync/pkg/document/key"
)

// Comparator orders documents. It must return 0 only for documents with the
// same key.
type Comparator func(a, b *Document) int

// KeyComparator orders documents by key.
func KeyComparator(a, b *Document) int {
	return a.Key().Compare(b.Key())
}

const btreeDegree = 16

// Set is a set of documents ordered by a comparator and indexed by key.
// Clone is cheap, so views keep one snapshot per computation.
type Set struct {
	cmp   Comparator
	byKey map[key.Key]*Document
	tree  *btree.BTreeG[*Document]
}

// NewSet creates an empty set ordered by the given comparator. A nil
// comparator orders documents by key.
func NewSet(cmp Comparator) *Set {
	if cmp == nil {
		cmp = KeyComparator
	}

	return &Set{
		cmp:   cmp,
		byKey: make(map[key.Key]*Document),
		tree: btree.NewG(btreeDegree, func(a, b *Document) bool {
			return cmp(a, b) < 0
		}),
	}
}

// Len returns the number of documents in the set.
func (s *Set) Len() int {
	return len(s.byKey)
}

// Has returns whether a document with the given key is in the set.
func (s *Set) Has(k key.Key) bool {
	_, ok := s.byKey[k]
	return ok
}

// Get returns the document with the given key or nil.
func (s *Set) Get(k key.Key) *Document {
	return s.byKey[k]
}

// Add adds the given document, replacing the document with the same key.
func (s *Set) Add(doc *Document) {
	s.Delete(doc.Key())
	s.byKey[doc.Key()] = doc
	s.tree.ReplaceOrInsert(doc)
}

// Delete removes the document with the given key.
func (s *Set) Delete(k key.Key) {
	old, ok := s.byKey[k]
	if !ok {
		return
	}
	delete(s.byKey, k)
	s.tree.Delete(old)
}

// First returns the smallest document or nil.
func (s *Set) First() *Document {
	doc, _ := s.tree.Min()
	return doc
}

// Last returns the largest document or nil.
func (s *Set) Last() *Document {
	doc, _ := s.tree.Max()
	return doc
}

// Ascend calls fn for each document in order until fn returns false.
func (s *Set) Ascend(fn func(doc *Document) bool) {
	s.tree.Ascend(fn)
}

// Documents returns the documents in order.
func (s *Set) Documents() []*Document {
	docs := make([]*Document, 0, s.Len())
	s.tree.Ascend(func(doc *Document) bool {
		docs = append(docs, doc)
		return true
	})
	return docs
}

// Keys returns the keys of the documents in the set.
func (s *Set) Keys() key.Set {
	keys := make(key.Set, len(s.byKey))
	for k := range s.byKey {
		keys.Add(k)
	}
	return keys
}

// Clone returns a copy of the set. Documents are shared and must not be
// modified after being added.
func (s *Set) Clone() *Set {
	byKey := make(map[key.Key]*Document, len(s.byKey))
	for k, doc := range s.byKey {
		byKey[k] = doc
	}

	return &Set{
		cmp:   s.cmp,
		byKey: byKey,
		tree:  s.tree.Clone(),
	}
}

// Equal returns whether both sets hold equal documents in the same order.
func (s *Set) Equal(other *Set) bool {
	if other == nil || s.Len() != other.Len() {
		return false
	}

	a, b := s.Documents(), other.Documents()
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
