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

// Package view computes what callers of a query see: the ordered result
// documents of a query, their changes between snapshots, and the documents
// in limbo.
package view

import (
	"fmt"
	"sort"

	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/errors"
)

// ErrInvalidChangeTransition is returned when a change of a document cannot
// follow the change already tracked for it in the same snapshot.
var ErrInvalidChangeTransition = errors.Internal("invalid document change transition").WithCode("ErrInvalidChangeTransition")

// ChangeType is the type of a document change.
type ChangeType int

const (
	// ChangeAdded means the document entered the results.
	ChangeAdded ChangeType = iota

	// ChangeRemoved means the document left the results.
	ChangeRemoved

	// ChangeModified means the data of the document changed.
	ChangeModified

	// ChangeMetadata means only the pending write state changed.
	ChangeMetadata
)

// String returns the string representation of the change type.
func (t ChangeType) String() string {
	switch t {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeModified:
		return "modified"
	default:
		return "metadata"
	}
}

// order is the position of the change type in snapshots: removals first.
func (t ChangeType) order() int {
	switch t {
	case ChangeRemoved:
		return 0
	case ChangeAdded:
		return 1
	default:
		return 2
	}
}

// DocumentChange is a change of a single document in a snapshot.
type DocumentChange struct {
	Type     ChangeType
	Document *document.Document
}

// ChangeSet collapses the changes of documents within one snapshot into one
// change per document.
type ChangeSet struct {
	changes map[key.Key]DocumentChange
}

// NewChangeSet creates an empty ChangeSet.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{changes: make(map[key.Key]DocumentChange)}
}

// Track merges the change with the change already tracked for the document.
//
//	previous  + next      = result
//	added     + removed   = metadata
//	added     + modified  = added
//	added     + metadata  = added
//	removed   + added     = modified
//	modified  + removed   = removed
//	modified  + modified  = modified
//	modified  + metadata  = modified
//	metadata  + modified  = modified
//	metadata  + metadata  = metadata
//	metadata  + removed   = removed
func (s *ChangeSet) Track(change DocumentChange) error {
	k := change.Document.Key()
	prev, ok := s.changes[k]
	if !ok {
		s.changes[k] = change
		return nil
	}

	switch {
	case prev.Type == ChangeAdded && change.Type == ChangeRemoved:
		s.changes[k] = DocumentChange{Type: ChangeMetadata, Document: change.Document}
	case prev.Type == ChangeAdded && (change.Type == ChangeModified || change.Type == ChangeMetadata):
		s.changes[k] = DocumentChange{Type: ChangeAdded, Document: change.Document}
	case prev.Type == ChangeRemoved && change.Type == ChangeAdded:
		s.changes[k] = DocumentChange{Type: ChangeModified, Document: change.Document}
	case prev.Type == ChangeModified && change.Type == ChangeRemoved,
		prev.Type == ChangeMetadata && change.Type == ChangeRemoved:
		s.changes[k] = DocumentChange{Type: ChangeRemoved, Document: prev.Document}
	case prev.Type == ChangeModified && (change.Type == ChangeModified || change.Type == ChangeMetadata),
		prev.Type == ChangeMetadata && change.Type == ChangeModified:
		s.changes[k] = DocumentChange{Type: ChangeModified, Document: change.Document}
	case prev.Type == ChangeMetadata && change.Type == ChangeMetadata:
		s.changes[k] = change
	default:
		return fmt.Errorf("%s then %s of %s: %w", prev.Type, change.Type, k, ErrInvalidChangeTransition)
	}
	return nil
}

// Untrack drops the change tracked for the document, if any.
func (s *ChangeSet) Untrack(k key.Key) {
	delete(s.changes, k)
}

// Len returns the number of tracked changes.
func (s *ChangeSet) Len() int {
	return len(s.changes)
}

// Changes returns the tracked changes ordered by key.
func (s *ChangeSet) Changes() []DocumentChange {
	changes := make([]DocumentChange, 0, len(s.changes))
	for _, change := range s.changes {
		changes = append(changes, change)
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Document.Key().Less(changes[j].Document.Key())
	})
	return changes
}
