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

package view

import (
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/query"
)

// Snapshot is the state of the results of a query at some point, and the
// changes since the previous snapshot.
type Snapshot struct {
	Query      *query.Query
	Documents  *document.Set
	OldDocs    *document.Set
	DocChanges []DocumentChange

	// MutatedKeys are the keys of the documents with pending writes.
	MutatedKeys key.Set

	// FromCache is true when the results may not be consistent with the
	// server.
	FromCache bool

	// SyncStateChanged is true when FromCache changed since the previous
	// snapshot.
	SyncStateChanged bool

	// ExcludesMetadataChanges is true when metadata-only changes were
	// filtered out of DocChanges.
	ExcludesMetadataChanges bool

	// HasCachedResults is true when the target of the query was listened
	// to before, so the cached results reflect a server snapshot.
	HasCachedResults bool
}

// NewSnapshotFromInitialDocuments creates the first snapshot of a query
// where every document is added.
func NewSnapshotFromInitialDocuments(
	q *query.Query,
	docs *document.Set,
	mutatedKeys key.Set,
	fromCache bool,
	hasCachedResults bool,
) *Snapshot {
	changes := make([]DocumentChange, 0, docs.Len())
	for _, doc := range docs.Documents() {
		changes = append(changes, DocumentChange{Type: ChangeAdded, Document: doc})
	}

	return &Snapshot{
		Query:                   q,
		Documents:               docs,
		OldDocs:                 document.NewSet(q.Comparator()),
		DocChanges:              changes,
		MutatedKeys:             mutatedKeys,
		FromCache:               fromCache,
		SyncStateChanged:        true,
		ExcludesMetadataChanges: false,
		HasCachedResults:        hasCachedResults,
	}
}

// HasPendingWrites returns whether any document of the snapshot has
// pending writes.
func (s *Snapshot) HasPendingWrites() bool {
	return s.MutatedKeys.Len() > 0
}

// WithoutMetadataChanges returns a copy of the snapshot without the
// metadata-only changes.
func (s *Snapshot) WithoutMetadataChanges() *Snapshot {
	changes := make([]DocumentChange, 0, len(s.DocChanges))
	for _, change := range s.DocChanges {
		if change.Type != ChangeMetadata {
			changes = append(changes, change)
		}
	}

	clone := *s
	clone.DocChanges = changes
	clone.ExcludesMetadataChanges = true
	return &clone
}

// Equal returns whether both snapshots show the same results in the same
// state.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if other == nil {
		return false
	}
	if s.FromCache != other.FromCache ||
		s.HasCachedResults != other.HasCachedResults ||
		s.SyncStateChanged != other.SyncStateChanged ||
		!s.MutatedKeys.Equal(other.MutatedKeys) ||
		s.Query.CanonicalID() != other.Query.CanonicalID() ||
		!s.Documents.Equal(other.Documents) ||
		!s.OldDocs.Equal(other.OldDocs) ||
		len(s.DocChanges) != len(other.DocChanges) {
		return false
	}
	for i, change := range s.DocChanges {
		o := other.DocChanges[i]
		if change.Type != o.Type || !change.Document.Equal(o.Document) {
			return false
		}
	}
	return true
}
