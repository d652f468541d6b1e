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

package syncengine

import (
	"github.com/rs/xid"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/view"
	"github.com/yorkie-team/docsync/pkg/query"
)

// ListenOptions configures the snapshots a QueryListener receives.
type ListenOptions struct {
	// IncludeMetadataChanges raises snapshots whose only change is the
	// pending write or sync state of the results.
	IncludeMetadataChanges bool

	// WaitForSyncWhenOnline delays the first snapshot until the results are
	// consistent with the server, unless the client is offline.
	WaitForSyncWhenOnline bool
}

// QueryListener delivers the snapshots of a query to a caller, filtered by
// its options.
type QueryListener struct {
	id    xid.ID
	query *query.Query
	opts  ListenOptions

	onSnapshot func(*view.Snapshot)
	onError    func(error)

	raisedInitialEvent bool
	snapshot           *view.Snapshot
	onlineState        types.OnlineState
}

// NewQueryListener creates a listener of the query.
func NewQueryListener(
	q *query.Query,
	opts ListenOptions,
	onSnapshot func(*view.Snapshot),
	onError func(error),
) *QueryListener {
	return &QueryListener{
		id:          xid.New(),
		query:       q,
		opts:        opts,
		onSnapshot:  onSnapshot,
		onError:     onError,
		onlineState: types.OnlineStateUnknown,
	}
}

// ID returns the id of this listener.
func (l *QueryListener) ID() xid.ID {
	return l.id
}

// Query returns the query of this listener.
func (l *QueryListener) Query() *query.Query {
	return l.query
}

// OnViewSnapshot receives a snapshot of the view of the query. It returns
// whether a snapshot was raised to the caller.
func (l *QueryListener) OnViewSnapshot(snapshot *view.Snapshot) bool {
	if !l.opts.IncludeMetadataChanges {
		snapshot = snapshot.WithoutMetadataChanges()
	}

	raised := false
	if !l.raisedInitialEvent {
		if l.shouldRaiseInitialEvent(snapshot, l.onlineState) {
			l.raiseInitialEvent(snapshot)
			raised = true
		}
	} else if l.shouldRaiseEvent(snapshot) {
		l.onSnapshot(snapshot)
		raised = true
	}

	l.snapshot = snapshot
	return raised
}

// OnError delivers the error to the caller.
func (l *QueryListener) OnError(err error) {
	if l.onError != nil {
		l.onError(err)
	}
}

// ApplyOnlineStateChange records the online state, which may allow the
// initial snapshot to be raised from cache. It returns whether a snapshot
// was raised.
func (l *QueryListener) ApplyOnlineStateChange(state types.OnlineState) bool {
	l.onlineState = state
	if l.snapshot != nil && !l.raisedInitialEvent && l.shouldRaiseInitialEvent(l.snapshot, state) {
		l.raiseInitialEvent(l.snapshot)
		return true
	}
	return false
}

func (l *QueryListener) shouldRaiseInitialEvent(snapshot *view.Snapshot, state types.OnlineState) bool {
	if !snapshot.FromCache {
		return true
	}

	maybeOnline := state != types.OnlineStateOffline
	if l.opts.WaitForSyncWhenOnline && maybeOnline {
		return false
	}

	// Raise the cached results unless they are empty and the server may
	// still deliver documents.
	return snapshot.Documents.Len() > 0 || snapshot.HasCachedResults || state == types.OnlineStateOffline
}

func (l *QueryListener) shouldRaiseEvent(snapshot *view.Snapshot) bool {
	if len(snapshot.DocChanges) > 0 {
		return true
	}

	pendingWritesChanged := l.snapshot != nil && l.snapshot.HasPendingWrites() != snapshot.HasPendingWrites()
	if snapshot.SyncStateChanged || pendingWritesChanged {
		return l.opts.IncludeMetadataChanges
	}
	return false
}

func (l *QueryListener) raiseInitialEvent(snapshot *view.Snapshot) {
	snapshot = view.NewSnapshotFromInitialDocuments(
		snapshot.Query,
		snapshot.Documents,
		snapshot.MutatedKeys,
		snapshot.FromCache,
		snapshot.HasCachedResults,
	)
	l.raisedInitialEvent = true
	l.onSnapshot(snapshot)
}
