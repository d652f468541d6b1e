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
	"context"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/view"
	"github.com/yorkie-team/docsync/pkg/query"
)

// queryListeners are the listeners of one query and the last snapshot of
// its view.
type queryListeners struct {
	snapshot  *view.Snapshot
	listeners []*QueryListener
}

// eventManager dispatches the snapshots of the views to the listeners of
// their queries. A query is listened to on the sync engine while it has at
// least one listener.
type eventManager struct {
	engine      *SyncEngine
	queries     map[string]*queryListeners
	onlineState types.OnlineState
}

func newEventManager(engine *SyncEngine) *eventManager {
	return &eventManager{
		engine:      engine,
		queries:     make(map[string]*queryListeners),
		onlineState: types.OnlineStateUnknown,
	}
}

func (m *eventManager) listen(ctx context.Context, listener *QueryListener) error {
	canonicalID := listener.Query().CanonicalID()
	info, ok := m.queries[canonicalID]
	if !ok {
		snapshot, err := m.engine.listen(ctx, listener.Query())
		if err != nil {
			listener.OnError(err)
			return err
		}
		info = &queryListeners{snapshot: snapshot}
		m.queries[canonicalID] = info
	}

	info.listeners = append(info.listeners, listener)
	listener.ApplyOnlineStateChange(m.onlineState)
	if info.snapshot != nil {
		listener.OnViewSnapshot(info.snapshot)
	}
	return nil
}

func (m *eventManager) unlisten(ctx context.Context, listener *QueryListener) error {
	canonicalID := listener.Query().CanonicalID()
	info, ok := m.queries[canonicalID]
	if !ok {
		return nil
	}

	for i, l := range info.listeners {
		if l == listener {
			info.listeners = append(info.listeners[:i], info.listeners[i+1:]...)
			break
		}
	}
	if len(info.listeners) > 0 {
		return nil
	}

	delete(m.queries, canonicalID)
	return m.engine.unlisten(ctx, listener.Query())
}

func (m *eventManager) onWatchChange(snapshots []*view.Snapshot) {
	for _, snapshot := range snapshots {
		info, ok := m.queries[snapshot.Query.CanonicalID()]
		if !ok {
			continue
		}
		for _, listener := range info.listeners {
			listener.OnViewSnapshot(snapshot)
		}
		info.snapshot = snapshot
	}
}

// onWatchError delivers the error to the listeners of the query, which are
// removed.
func (m *eventManager) onWatchError(q *query.Query, err error) {
	canonicalID := q.CanonicalID()
	info, ok := m.queries[canonicalID]
	if !ok {
		return
	}

	delete(m.queries, canonicalID)
	for _, listener := range info.listeners {
		listener.OnError(err)
	}
}

func (m *eventManager) onOnlineStateChange(state types.OnlineState) {
	m.onlineState = state
	for _, info := range m.queries {
		for _, listener := range info.listeners {
			listener.ApplyOnlineStateChange(state)
		}
	}
}
