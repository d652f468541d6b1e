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

package syncengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/syncengine"
	"github.com/yorkie-team/docsync/engine/view"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/value"
	"github.com/yorkie-team/docsync/pkg/query"
)

func snapshotOf(t *testing.T, q *query.Query, fromCache bool, paths ...string) *view.Snapshot {
	docs := document.NewSet(q.Comparator())
	for _, path := range paths {
		data, err := value.NewObject(map[string]any{"path": path})
		require.NoError(t, err)
		docs.Add(document.NewFound(key.MustFromPath(path), 1, data))
	}
	return view.NewSnapshotFromInitialDocuments(q, docs, key.NewSet(), fromCache, false)
}

func TestQueryListener(t *testing.T) {
	rooms := query.NewCollectionQuery("rooms")

	newListener := func(opts syncengine.ListenOptions) (*syncengine.QueryListener, *[]*view.Snapshot) {
		var raised []*view.Snapshot
		listener := syncengine.NewQueryListener(rooms, opts, func(snapshot *view.Snapshot) {
			raised = append(raised, snapshot)
		}, nil)
		return listener, &raised
	}

	t.Run("empty cached results wait for the server test", func(t *testing.T) {
		listener, raised := newListener(syncengine.ListenOptions{})
		assert.False(t, listener.OnViewSnapshot(snapshotOf(t, rooms, true)))
		assert.Len(t, *raised, 0)

		assert.True(t, listener.OnViewSnapshot(snapshotOf(t, rooms, false)))
		assert.Len(t, *raised, 1)
		assert.False(t, (*raised)[0].FromCache)
	})

	t.Run("cached results are raised when offline test", func(t *testing.T) {
		listener, raised := newListener(syncengine.ListenOptions{})
		assert.False(t, listener.OnViewSnapshot(snapshotOf(t, rooms, true)))
		assert.True(t, listener.ApplyOnlineStateChange(types.OnlineStateOffline))
		assert.Len(t, *raised, 1)
		assert.True(t, (*raised)[0].FromCache)

		// Raised once.
		assert.False(t, listener.ApplyOnlineStateChange(types.OnlineStateOffline))
	})

	t.Run("non empty cached results are raised test", func(t *testing.T) {
		listener, raised := newListener(syncengine.ListenOptions{})
		assert.True(t, listener.OnViewSnapshot(snapshotOf(t, rooms, true, "rooms/a")))
		assert.Len(t, *raised, 1)
		assert.Equal(t, view.ChangeAdded, (*raised)[0].DocChanges[0].Type)
	})

	t.Run("wait for sync when online test", func(t *testing.T) {
		listener, raised := newListener(syncengine.ListenOptions{WaitForSyncWhenOnline: true})
		assert.False(t, listener.ApplyOnlineStateChange(types.OnlineStateOnline))
		assert.False(t, listener.OnViewSnapshot(snapshotOf(t, rooms, true, "rooms/a")))
		assert.Len(t, *raised, 0)

		assert.True(t, listener.ApplyOnlineStateChange(types.OnlineStateOffline))
		assert.Len(t, *raised, 1)
	})

	t.Run("metadata only changes test", func(t *testing.T) {
		listener, raised := newListener(syncengine.ListenOptions{})
		assert.True(t, listener.OnViewSnapshot(snapshotOf(t, rooms, true, "rooms/a")))

		synced := snapshotOf(t, rooms, false, "rooms/a")
		synced.DocChanges = nil
		assert.False(t, listener.OnViewSnapshot(synced))
		assert.Len(t, *raised, 1)

		withMetadata, raised := newListener(syncengine.ListenOptions{IncludeMetadataChanges: true})
		assert.True(t, withMetadata.OnViewSnapshot(snapshotOf(t, rooms, true, "rooms/a")))
		synced = snapshotOf(t, rooms, false, "rooms/a")
		synced.DocChanges = nil
		assert.True(t, withMetadata.OnViewSnapshot(synced))
		assert.Len(t, *raised, 2)
	})
}
