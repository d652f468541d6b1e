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

package remote_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/remote"
	"github.com/yorkie-team/docsync/pkg/bloom"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/document/value"
	"github.com/yorkie-team/docsync/pkg/query"
)

type fakeMetadataProvider struct {
	keys map[types.TargetID]key.Set
	data map[types.TargetID]*types.TargetData
}

func newFakeMetadataProvider() *fakeMetadataProvider {
	return &fakeMetadataProvider{
		keys: make(map[types.TargetID]key.Set),
		data: make(map[types.TargetID]*types.TargetData),
	}
}

func (p *fakeMetadataProvider) RemoteKeysForTarget(targetID types.TargetID) key.Set {
	if keys, ok := p.keys[targetID]; ok {
		return keys
	}
	return key.NewSet()
}

func (p *fakeMetadataProvider) TargetDataForTarget(targetID types.TargetID) *types.TargetData {
	return p.data[targetID]
}

func (p *fakeMetadataProvider) listen(
	targetID types.TargetID,
	target *query.Target,
	purpose types.TargetPurpose,
	keys ...key.Key,
) {
	p.data[targetID] = types.NewTargetData(target, targetID, purpose, 1)
	p.keys[targetID] = key.NewSet(keys...)
}

func found(path string, version time.Version) *document.Document {
	return document.NewFound(key.MustFromPath(path), version, value.MustObject(map[string]any{"name": path}))
}

func acknowledge(a *remote.WatchChangeAggregator, targetID types.TargetID) {
	a.RecordPendingTargetRequest(targetID)
	a.HandleTargetChange(&types.WatchTargetChange{
		Type:      types.TargetChangeAdd,
		TargetIDs: []types.TargetID{targetID},
	})
}

func bloomOf(paths ...string) *types.BloomFilter {
	filter := bloom.New(100, 0.001)
	for _, path := range paths {
		filter.Add(path)
	}
	return &types.BloomFilter{
		Bits:      filter.Bits(),
		Padding:   filter.Padding(),
		HashCount: filter.HashCount(),
	}
}

func TestWatchChangeAggregator(t *testing.T) {
	rooms := query.NewCollectionQuery("rooms").ToTarget()
	roomA := key.MustFromPath("rooms/a")
	roomB := key.MustFromPath("rooms/b")

	t.Run("document added to an acknowledged target test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(2, rooms, types.PurposeListen)
		a := remote.NewWatchChangeAggregator(provider, nil)

		acknowledge(a, 2)
		a.HandleDocumentChange(&remote.DocumentWatchChange{
			UpdatedTargetIDs: []types.TargetID{2},
			Key:              roomA,
			Document:         found("rooms/a", 10),
		})
		a.HandleTargetChange(&types.WatchTargetChange{
			Type:        types.TargetChangeCurrent,
			TargetIDs:   []types.TargetID{2},
			ResumeToken: []byte("10"),
		})

		event := a.CreateRemoteEvent(10)
		change := event.TargetChanges[2]
		assert.NotNil(t, change)
		assert.True(t, change.Current)
		assert.Equal(t, []byte("10"), change.ResumeToken)
		assert.True(t, change.AddedDocuments.Has(roomA))
		assert.Equal(t, time.Version(10), event.DocumentUpdates[roomA].ReadTime())
		assert.Equal(t, 0, event.ResolvedLimboDocuments.Len())

		// The changes are cleared once the event is created.
		event = a.CreateRemoteEvent(11)
		assert.Len(t, event.DocumentUpdates, 0)
		assert.Nil(t, event.TargetChanges[2])
	})

	t.Run("modified document of a synced target test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(2, rooms, types.PurposeListen, roomA)
		a := remote.NewWatchChangeAggregator(provider, nil)

		a.HandleDocumentChange(&remote.DocumentWatchChange{
			UpdatedTargetIDs: []types.TargetID{2},
			Key:              roomA,
			Document:         found("rooms/a", 11),
		})
		event := a.CreateRemoteEvent(11)
		assert.True(t, event.TargetChanges[2].ModifiedDocuments.Has(roomA))
	})

	t.Run("changes of a pending target are ignored test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(2, rooms, types.PurposeListen)
		a := remote.NewWatchChangeAggregator(provider, nil)

		a.RecordPendingTargetRequest(2)
		a.HandleDocumentChange(&remote.DocumentWatchChange{
			UpdatedTargetIDs: []types.TargetID{2},
			Key:              roomA,
			Document:         found("rooms/a", 10),
		})

		event := a.CreateRemoteEvent(10)
		assert.Len(t, event.DocumentUpdates, 0)
		assert.Len(t, event.TargetChanges, 0)
	})

	t.Run("removed target test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(2, rooms, types.PurposeListen, roomA)
		a := remote.NewWatchChangeAggregator(provider, nil)

		a.HandleDocumentChange(&remote.DocumentWatchChange{
			RemovedTargetIDs: []types.TargetID{2},
			Key:              roomA,
		})
		event := a.CreateRemoteEvent(10)
		assert.True(t, event.TargetChanges[2].RemovedDocuments.Has(roomA))
		assert.NotContains(t, event.DocumentUpdates, roomA)
	})

	t.Run("existence filter that matches test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(2, rooms, types.PurposeListen, roomA, roomB)
		a := remote.NewWatchChangeAggregator(provider, nil)

		a.HandleExistenceFilter(&types.ExistenceFilter{TargetID: 2, Count: 2})
		event := a.CreateRemoteEvent(10)
		assert.Len(t, event.TargetMismatches, 0)
	})

	t.Run("existence filter mismatch without bloom filter test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(2, rooms, types.PurposeListen, roomA, roomB)
		a := remote.NewWatchChangeAggregator(provider, nil)

		a.HandleExistenceFilter(&types.ExistenceFilter{TargetID: 2, Count: 1})
		event := a.CreateRemoteEvent(10)
		assert.Equal(t, types.PurposeExistenceFilterMismatch, event.TargetMismatches[2])

		change := event.TargetChanges[2]
		assert.False(t, change.Current)
		assert.Equal(t, key.NewSet(roomA, roomB), change.RemovedDocuments)
	})

	t.Run("bloom filter removes deleted documents test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(2, rooms, types.PurposeListen, roomA, roomB)
		a := remote.NewWatchChangeAggregator(provider, nil)

		a.HandleExistenceFilter(&types.ExistenceFilter{
			TargetID:       2,
			Count:          1,
			UnchangedNames: bloomOf("rooms/a"),
		})
		event := a.CreateRemoteEvent(10)
		assert.Len(t, event.TargetMismatches, 0)
		assert.Equal(t, key.NewSet(roomB), event.TargetChanges[2].RemovedDocuments)
	})

	t.Run("bloom filter that cannot reconcile test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(2, rooms, types.PurposeListen, roomA, roomB)
		a := remote.NewWatchChangeAggregator(provider, nil)

		a.HandleExistenceFilter(&types.ExistenceFilter{
			TargetID:       2,
			Count:          1,
			UnchangedNames: bloomOf("rooms/a", "rooms/b"),
		})
		event := a.CreateRemoteEvent(10)
		assert.Equal(t, types.PurposeExistenceFilterMismatchBloom, event.TargetMismatches[2])
	})

	t.Run("existence filter of a deleted document test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(4, query.NewDocumentsTarget(roomA), types.PurposeListen, roomA)
		a := remote.NewWatchChangeAggregator(provider, nil)

		a.HandleExistenceFilter(&types.ExistenceFilter{TargetID: 4, Count: 0})
		event := a.CreateRemoteEvent(10)
		assert.Len(t, event.TargetMismatches, 0)
		assert.True(t, event.DocumentUpdates[roomA].IsNoDocument())
		assert.True(t, event.TargetChanges[4].RemovedDocuments.Has(roomA))
	})

	t.Run("current document target without document test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(4, query.NewDocumentsTarget(roomA), types.PurposeListen)
		a := remote.NewWatchChangeAggregator(provider, nil)

		acknowledge(a, 4)
		a.HandleTargetChange(&types.WatchTargetChange{
			Type:        types.TargetChangeCurrent,
			TargetIDs:   []types.TargetID{4},
			ResumeToken: []byte("12"),
		})
		event := a.CreateRemoteEvent(12)
		doc := event.DocumentUpdates[roomA]
		assert.True(t, doc.IsNoDocument())
		assert.Equal(t, time.Version(12), doc.Version())
	})

	t.Run("resolved limbo documents test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(1, query.NewDocumentsTarget(roomA), types.PurposeLimboResolution)
		provider.listen(2, rooms, types.PurposeListen)
		a := remote.NewWatchChangeAggregator(provider, nil)

		a.HandleDocumentChange(&remote.DocumentWatchChange{
			UpdatedTargetIDs: []types.TargetID{1},
			Key:              roomA,
			Document:         found("rooms/a", 10),
		})
		a.HandleDocumentChange(&remote.DocumentWatchChange{
			UpdatedTargetIDs: []types.TargetID{1, 2},
			Key:              roomB,
			Document:         found("rooms/b", 10),
		})

		event := a.CreateRemoteEvent(10)
		assert.True(t, event.ResolvedLimboDocuments.Has(roomA))
		assert.False(t, event.ResolvedLimboDocuments.Has(roomB))
	})

	t.Run("reset target test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(2, rooms, types.PurposeListen, roomA)
		a := remote.NewWatchChangeAggregator(provider, nil)

		a.HandleTargetChange(&types.WatchTargetChange{
			Type:      types.TargetChangeReset,
			TargetIDs: []types.TargetID{2},
		})
		a.HandleDocumentChange(&remote.DocumentWatchChange{
			UpdatedTargetIDs: []types.TargetID{2},
			Key:              roomB,
			Document:         found("rooms/b", 10),
		})

		change := a.CreateRemoteEvent(10).TargetChanges[2]
		assert.True(t, change.RemovedDocuments.Has(roomA))
		assert.True(t, change.AddedDocuments.Has(roomB))
	})

	t.Run("global snapshot updates every active target test", func(t *testing.T) {
		provider := newFakeMetadataProvider()
		provider.listen(2, rooms, types.PurposeListen)
		provider.listen(4, query.NewDocumentsTarget(roomA), types.PurposeListen)
		a := remote.NewWatchChangeAggregator(provider, nil)
		acknowledge(a, 2)
		acknowledge(a, 4)
		a.CreateRemoteEvent(1)

		a.HandleTargetChange(&types.WatchTargetChange{
			Type:        types.TargetChangeNoChange,
			ResumeToken: []byte("20"),
			ReadTime:    20,
		})
		event := a.CreateRemoteEvent(20)
		assert.Equal(t, []byte("20"), event.TargetChanges[2].ResumeToken)
		assert.Equal(t, []byte("20"), event.TargetChanges[4].ResumeToken)
	})
}
