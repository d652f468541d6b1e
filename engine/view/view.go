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
	"sort"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/query"
)

// SyncState tells whether the results of a view are consistent with the
// server.
type SyncState int

const (
	// SyncStateNone is the state of a view that raised no snapshot yet.
	SyncStateNone SyncState = iota

	// SyncStateLocal means the results come from the local cache.
	SyncStateLocal

	// SyncStateSynced means the results are consistent with the server.
	SyncStateSynced
)

// String returns the name of the state.
func (s SyncState) String() string {
	switch s {
	case SyncStateLocal:
		return "local"
	case SyncStateSynced:
		return "synced"
	default:
		return "none"
	}
}

// LimboChangeType is the type of a LimboDocumentChange.
type LimboChangeType int

const (
	// LimboAdded means the document entered limbo.
	LimboAdded LimboChangeType = iota

	// LimboRemoved means the document left limbo.
	LimboRemoved
)

// LimboDocumentChange is a document entering or leaving limbo: it is in the
// local results of the view but the server did not report it for the
// target.
type LimboDocumentChange struct {
	Type LimboChangeType
	Key  key.Key
}

// DocChanges are the changes of a view computed from new documents, not
// applied yet.
type DocChanges struct {
	Documents   *document.Set
	ChangeSet   *ChangeSet
	MutatedKeys key.Set

	// NeedsRefill is true when a limited view lost a document at the edge
	// of its limit, so that a document outside the given changes may now
	// belong to the results.
	NeedsRefill bool
}

// Change is the outcome of applying changes to a view.
type Change struct {
	// Snapshot is nil when nothing visible changed.
	Snapshot     *Snapshot
	LimboChanges []LimboDocumentChange
}

// View is the state of the results of one query.
type View struct {
	query     *query.Query
	syncState SyncState
	current   bool

	// hasCachedResults is true once the target delivered a resume token.
	hasCachedResults bool

	documents *document.Set

	// syncedDocuments are the keys the server reported for the target.
	syncedDocuments key.Set
	limboDocuments  key.Set
	mutatedKeys     key.Set

	logger logging.Logger
}

// New creates a view of the query. remoteKeys are the keys the server last
// reported for its target.
func New(q *query.Query, remoteKeys key.Set) *View {
	return &View{
		query:           q,
		documents:       document.NewSet(q.Comparator()),
		syncedDocuments: remoteKeys.Clone(),
		limboDocuments:  key.NewSet(),
		mutatedKeys:     key.NewSet(),
		logger:          logging.New("view", logging.NewField("query", q.String())),
	}
}

// Query returns the query of the view.
func (v *View) Query() *query.Query {
	return v.query
}

// SyncedDocuments returns the keys the server reported for the target.
func (v *View) SyncedDocuments() key.Set {
	return v.syncedDocuments
}

// Documents returns the current results.
func (v *View) Documents() *document.Set {
	return v.documents
}

// LimboDocuments returns the keys of the documents in limbo.
func (v *View) LimboDocuments() key.Set {
	return v.limboDocuments
}

// InitialSnapshot returns a snapshot of the current results where every
// document is added, for a listener that joins an existing view.
func (v *View) InitialSnapshot() *Snapshot {
	return NewSnapshotFromInitialDocuments(
		v.query,
		v.documents,
		v.mutatedKeys,
		v.syncState == SyncStateLocal,
		v.hasCachedResults,
	)
}

// ComputeDocChanges computes the changes of the results given the new
// local views of documents. previous are changes computed but not applied
// yet, to be extended.
func (v *View) ComputeDocChanges(docs map[key.Key]*document.Document, previous *DocChanges) (*DocChanges, error) {
	changeSet := NewChangeSet()
	oldDocuments, oldMutatedKeys := v.documents, v.mutatedKeys
	if previous != nil {
		changeSet = previous.ChangeSet
		oldDocuments, oldMutatedKeys = previous.Documents, previous.MutatedKeys
	}

	newDocuments := oldDocuments.Clone()
	newMutatedKeys := oldMutatedKeys.Clone()
	needsRefill := false

	cmp := v.query.Comparator()
	var lastInLimit, firstInLimit *document.Document
	if v.query.HasLimit() && oldDocuments.Len() == v.query.Limit() {
		if v.query.LimitType() == query.LimitToFirst {
			lastInLimit = oldDocuments.Last()
		} else {
			firstInLimit = oldDocuments.First()
		}
	}

	keys := make([]key.Key, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	key.Sort(keys)

	for _, k := range keys {
		entry := docs[k]
		oldDoc := oldDocuments.Get(k)
		var newDoc *document.Document
		if v.query.Matches(entry) {
			newDoc = entry
		}

		oldHadPending := oldDoc != nil && oldMutatedKeys.Has(k)
		newHasPending := newDoc != nil &&
			(newDoc.HasLocalMutations() || (oldMutatedKeys.Has(k) && newDoc.HasCommittedMutations()))

		applied := false
		switch {
		case oldDoc != nil && newDoc != nil:
			if !oldDoc.Data().Equal(newDoc.Data()) {
				if !shouldWaitForSyncedDocument(oldDoc, newDoc) {
					if err := changeSet.Track(DocumentChange{Type: ChangeModified, Document: newDoc}); err != nil {
						return nil, err
					}
					applied = true

					if (lastInLimit != nil && cmp(newDoc, lastInLimit) > 0) ||
						(firstInLimit != nil && cmp(newDoc, firstInLimit) < 0) {
						needsRefill = true
					}
				}
			} else if oldHadPending != newHasPending {
				if err := changeSet.Track(DocumentChange{Type: ChangeMetadata, Document: newDoc}); err != nil {
					return nil, err
				}
				applied = true
			}
		case oldDoc == nil && newDoc != nil:
			if err := changeSet.Track(DocumentChange{Type: ChangeAdded, Document: newDoc}); err != nil {
				return nil, err
			}
			applied = true
		case oldDoc != nil && newDoc == nil:
			if err := changeSet.Track(DocumentChange{Type: ChangeRemoved, Document: oldDoc}); err != nil {
				return nil, err
			}
			applied = true
			if lastInLimit != nil || firstInLimit != nil {
				needsRefill = true
			}
		}

		if !applied {
			continue
		}
		if newDoc != nil {
			newDocuments.Add(newDoc)
			if newHasPending {
				newMutatedKeys.Add(k)
			} else {
				newMutatedKeys.Delete(k)
			}
		} else {
			newDocuments.Delete(k)
			newMutatedKeys.Delete(k)
		}
	}

	if v.query.HasLimit() {
		for newDocuments.Len() > v.query.Limit() {
			excess := newDocuments.Last()
			if v.query.LimitType() == query.LimitToLast {
				excess = newDocuments.First()
			}
			newDocuments.Delete(excess.Key())
			newMutatedKeys.Delete(excess.Key())

			// A document pushed out of the limit before any snapshot showed
			// it was never in the results.
			if !v.documents.Has(excess.Key()) {
				changeSet.Untrack(excess.Key())
				continue
			}
			if err := changeSet.Track(DocumentChange{Type: ChangeRemoved, Document: excess}); err != nil {
				return nil, err
			}
		}
	}

	return &DocChanges{
		Documents:   newDocuments,
		ChangeSet:   changeSet,
		MutatedKeys: newMutatedKeys,
		NeedsRefill: needsRefill,
	}, nil
}

// shouldWaitForSyncedDocument returns whether a document acknowledged by
// the server should keep showing its local version until the watch stream
// delivers it, so that the caller does not see the value flicker.
func shouldWaitForSyncedDocument(oldDoc, newDoc *document.Document) bool {
	return oldDoc.HasLocalMutations() && newDoc.HasCommittedMutations() && !newDoc.HasLocalMutations()
}

// ApplyChanges applies the computed changes and the target change, and
// returns the snapshot to raise, if any. Limbo documents are only computed
// when limboResolutionEnabled, and never while the target is pending a
// reset.
func (v *View) ApplyChanges(
	docChanges *DocChanges,
	limboResolutionEnabled bool,
	targetChange *types.TargetChange,
	targetIsPendingReset bool,
) *Change {
	oldDocuments := v.documents
	v.documents = docChanges.Documents
	v.mutatedKeys = docChanges.MutatedKeys

	cmp := v.query.Comparator()
	changes := docChanges.ChangeSet.Changes()
	sort.SliceStable(changes, func(i, j int) bool {
		if oi, oj := changes[i].Type.order(), changes[j].Type.order(); oi != oj {
			return oi < oj
		}
		return cmp(changes[i].Document, changes[j].Document) < 0
	})

	v.applyTargetChange(targetChange)
	if targetChange != nil && len(targetChange.ResumeToken) > 0 {
		v.hasCachedResults = true
	}

	var limboChanges []LimboDocumentChange
	if limboResolutionEnabled && !targetIsPendingReset {
		limboChanges = v.updateLimboDocuments()
	}

	synced := v.limboDocuments.Len() == 0 && v.current && !targetIsPendingReset
	newSyncState := SyncStateLocal
	if synced {
		newSyncState = SyncStateSynced
	}
	syncStateChanged := newSyncState != v.syncState
	if syncStateChanged {
		v.logger.Debugf("sync state %s -> %s", v.syncState, newSyncState)
	}
	v.syncState = newSyncState

	if len(changes) == 0 && !syncStateChanged {
		return &Change{LimboChanges: limboChanges}
	}

	return &Change{
		Snapshot: &Snapshot{
			Query:            v.query,
			Documents:        docChanges.Documents,
			OldDocs:          oldDocuments,
			DocChanges:       changes,
			MutatedKeys:      docChanges.MutatedKeys,
			FromCache:        newSyncState == SyncStateLocal,
			SyncStateChanged: syncStateChanged,
			HasCachedResults: targetChange != nil && len(targetChange.ResumeToken) > 0,
		},
		LimboChanges: limboChanges,
	}
}

// ApplyOnlineStateChange marks the view as not current when the client
// goes offline, which raises a snapshot from cache.
func (v *View) ApplyOnlineStateChange(state types.OnlineState) *Change {
	if v.current && state == types.OnlineStateOffline {
		v.current = false
		return v.ApplyChanges(&DocChanges{
			Documents:   v.documents,
			ChangeSet:   NewChangeSet(),
			MutatedKeys: v.mutatedKeys,
		}, false, nil, false)
	}
	return &Change{}
}

func (v *View) applyTargetChange(change *types.TargetChange) {
	if change == nil {
		return
	}

	for k := range change.AddedDocuments {
		v.syncedDocuments.Add(k)
	}
	for k := range change.RemovedDocuments {
		v.syncedDocuments.Delete(k)
	}
	v.current = change.Current
}

func (v *View) updateLimboDocuments() []LimboDocumentChange {
	if !v.current {
		return nil
	}

	oldLimbo := v.limboDocuments
	v.limboDocuments = key.NewSet()
	for _, doc := range v.documents.Documents() {
		if v.shouldBeInLimbo(doc.Key()) {
			v.limboDocuments.Add(doc.Key())
		}
	}

	var changes []LimboDocumentChange
	for _, k := range oldLimbo.Sorted() {
		if !v.limboDocuments.Has(k) {
			v.logger.Debugf("%s left limbo", k)
			changes = append(changes, LimboDocumentChange{Type: LimboRemoved, Key: k})
		}
	}
	for _, k := range v.limboDocuments.Sorted() {
		if !oldLimbo.Has(k) {
			v.logger.Debugf("%s entered limbo", k)
			changes = append(changes, LimboDocumentChange{Type: LimboAdded, Key: k})
		}
	}
	return changes
}

func (v *View) shouldBeInLimbo(k key.Key) bool {
	if v.syncedDocuments.Has(k) {
		return false
	}
	doc := v.documents.Get(k)
	if doc == nil {
		return false
	}
	return !doc.HasLocalMutations()
}
