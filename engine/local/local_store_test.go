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

package local_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/local"
	"github.com/yorkie-team/docsync/engine/persistence/memory"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/document/value"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

func newLocalStore(t *testing.T, opts local.Options) (*local.LocalStore, *memory.Persistence) {
	p, err := memory.New()
	require.NoError(t, err)
	require.NoError(t, p.Start())

	store, err := local.NewLocalStore(p, auth.Unauthenticated, opts)
	require.NoError(t, err)
	require.NoError(t, store.Start(context.Background()))
	return store, p
}

func setMutation(t *testing.T, k key.Key, data map[string]any) *mutation.Mutation {
	m, err := mutation.ParseSetData(k, data)
	require.NoError(t, err)
	return m
}

func updateMutation(t *testing.T, k key.Key, fields map[string]any) *mutation.Mutation {
	m, err := mutation.ParseUpdateData(k, fields)
	require.NoError(t, err)
	return m
}

// applyDocuments listens to the collection and applies a consistent remote
// event that adds the documents to it.
func applyDocuments(
	t *testing.T,
	store *local.LocalStore,
	data *types.TargetData,
	version time.Version,
	docs ...*document.Document,
) {
	event := types.NewRemoteEvent(version)
	change := types.NewTargetChange([]byte("token"), true)
	for _, doc := range docs {
		change.AddedDocuments.Add(doc.Key())
		event.DocumentUpdates[doc.Key()] = doc
	}
	event.TargetChanges[data.TargetID] = change

	_, err := store.ApplyRemoteEvent(context.Background(), event)
	require.NoError(t, err)
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	keyA := key.MustFromPath("rooms/a")
	keyB := key.MustFromPath("rooms/b")
	rooms := query.NewCollectionQuery("rooms")

	t.Run("local write and read test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})

		result, err := store.LocalWrite(ctx, []*mutation.Mutation{
			setMutation(t, keyA, map[string]any{"x": 1}),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.BatchID)
		assert.True(t, result.Changes[keyA].HasLocalMutations())

		doc, err := store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		assert.True(t, doc.IsFound())
		assert.True(t, doc.HasLocalMutations())
		assert.Equal(t, value.MustObject(map[string]any{"x": 1}), doc.Data())

		_, err = store.LocalWrite(ctx, nil)
		assert.ErrorIs(t, err, local.ErrEmptyBatch)
	})

	t.Run("overlay collapse and reject recompute test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{OverlayMemoSize: 16})
		data, err := store.AllocateTarget(ctx, rooms.ToTarget())
		require.NoError(t, err)
		applyDocuments(t, store, data, 1, document.NewFound(keyA, 1, value.MustObject(map[string]any{"x": 10})))

		first, err := store.LocalWrite(ctx, []*mutation.Mutation{
			setMutation(t, keyA, map[string]any{"x": 1}),
		})
		require.NoError(t, err)
		_, err = store.LocalWrite(ctx, []*mutation.Mutation{
			updateMutation(t, keyA, map[string]any{"x": mutation.Increment(5)}),
		})
		require.NoError(t, err)

		doc, err := store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		x, _ := doc.Field(value.ParseFieldPath("x"))
		assert.Equal(t, int64(6), x)

		changes, err := store.RejectBatch(ctx, first.BatchID)
		require.NoError(t, err)
		x, _ = changes[keyA].Field(value.ParseFieldPath("x"))
		assert.Equal(t, int64(15), x)

		doc, err = store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		x, _ = doc.Field(value.ParseFieldPath("x"))
		assert.Equal(t, int64(15), x)
		assert.True(t, doc.HasLocalMutations())

		_, err = store.RejectBatch(ctx, first.BatchID)
		assert.ErrorIs(t, err, local.ErrBatchNotFound)
	})

	t.Run("acknowledge removes exactly the batch test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})

		_, err := store.LocalWrite(ctx, []*mutation.Mutation{setMutation(t, keyA, map[string]any{"n": "a"})})
		require.NoError(t, err)
		_, err = store.LocalWrite(ctx, []*mutation.Mutation{setMutation(t, keyB, map[string]any{"n": "b"})})
		require.NoError(t, err)

		batch, err := store.NextMutationBatch(ctx, mutation.UnknownBatchID)
		require.NoError(t, err)
		require.NotNil(t, batch)

		result, err := mutation.NewBatchResult(batch, 5, []*mutation.Result{{Version: 5}}, []byte("write-token"))
		require.NoError(t, err)
		changes, err := store.AcknowledgeBatch(ctx, result)
		require.NoError(t, err)
		assert.Len(t, changes, 1)

		docA, err := store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		assert.Equal(t, time.Version(5), docA.Version())
		assert.False(t, docA.HasPendingWrites())

		docB, err := store.GetDocument(ctx, keyB)
		require.NoError(t, err)
		assert.True(t, docB.HasLocalMutations())

		next, err := store.NextMutationBatch(ctx, mutation.UnknownBatchID)
		require.NoError(t, err)
		assert.True(t, next.AffectsKey(keyB))

		highest, err := store.HighestUnacknowledgedBatchID(ctx)
		require.NoError(t, err)
		assert.Equal(t, next.ID, highest)

		token, err := store.LastStreamToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("write-token"), token)
	})

	t.Run("acknowledged write has no pending writes test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})

		_, err := store.LocalWrite(ctx, []*mutation.Mutation{setMutation(t, keyA, map[string]any{"x": 1})})
		require.NoError(t, err)
		doc, err := store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		assert.Equal(t, value.Object{"x": int64(1)}, doc.Data())
		assert.True(t, doc.HasPendingWrites())

		batch, err := store.NextMutationBatch(ctx, mutation.UnknownBatchID)
		require.NoError(t, err)
		result, err := mutation.NewBatchResult(batch, 5, []*mutation.Result{{Version: 5}}, nil)
		require.NoError(t, err)
		_, err = store.AcknowledgeBatch(ctx, result)
		require.NoError(t, err)

		doc, err = store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		assert.Equal(t, value.Object{"x": int64(1)}, doc.Data())
		assert.Equal(t, time.Version(5), doc.Version())
		assert.False(t, doc.HasPendingWrites())
	})

	t.Run("preconditions are checked against the remote document test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})

		_, err := store.LocalWrite(ctx, []*mutation.Mutation{setMutation(t, keyA, map[string]any{"x": 1})})
		require.NoError(t, err)
		_, err = store.LocalWrite(ctx, []*mutation.Mutation{updateMutation(t, keyA, map[string]any{"y": 2})})
		require.NoError(t, err)

		doc, err := store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		assert.Equal(t, value.Object{"x": int64(1)}, doc.Data())
		assert.True(t, doc.HasPendingWrites())
	})

	t.Run("apply remote event merges only newer documents test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})
		data, err := store.AllocateTarget(ctx, rooms.ToTarget())
		require.NoError(t, err)

		applyDocuments(t, store, data, 2, document.NewFound(keyA, 2, value.MustObject(map[string]any{"v": "new"})))
		applyDocuments(t, store, data, 3, document.NewFound(keyA, 1, value.MustObject(map[string]any{"v": "old"})))

		doc, err := store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		assert.Equal(t, value.MustObject(map[string]any{"v": "new"}), doc.Data())

		version, err := store.LastRemoteSnapshotVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, time.Version(3), version)

		keys, err := store.GetRemoteDocumentKeys(ctx, data.TargetID)
		require.NoError(t, err)
		assert.True(t, keys.Has(keyA))

		_, err = store.ApplyRemoteEvent(ctx, types.NewRemoteEvent(2))
		assert.ErrorIs(t, err, local.ErrSnapshotRegressed)
	})

	t.Run("remote event keeps the local overlay test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})
		data, err := store.AllocateTarget(ctx, rooms.ToTarget())
		require.NoError(t, err)

		_, err = store.LocalWrite(ctx, []*mutation.Mutation{setMutation(t, keyA, map[string]any{"v": "local"})})
		require.NoError(t, err)
		applyDocuments(t, store, data, 4, document.NewFound(keyA, 4, value.MustObject(map[string]any{"v": "remote"})))

		doc, err := store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		assert.True(t, doc.HasLocalMutations())
		assert.Equal(t, value.MustObject(map[string]any{"v": "local"}), doc.Data())
	})

	t.Run("target mismatch resets the resume token test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})
		data, err := store.AllocateTarget(ctx, rooms.ToTarget())
		require.NoError(t, err)
		applyDocuments(t, store, data, 2, document.NewFound(keyA, 2, value.Object{}))

		active, err := store.GetTargetData(ctx, rooms.ToTarget())
		require.NoError(t, err)
		assert.Equal(t, []byte("token"), active.ResumeToken)
		assert.Equal(t, time.Version(2), active.SnapshotVersion)

		event := types.NewRemoteEvent(3)
		change := types.NewTargetChange(nil, false)
		change.RemovedDocuments.Add(keyA)
		event.TargetChanges[data.TargetID] = change
		event.TargetMismatches[data.TargetID] = types.PurposeExistenceFilterMismatch
		_, err = store.ApplyRemoteEvent(ctx, event)
		require.NoError(t, err)

		active, err = store.GetTargetData(ctx, rooms.ToTarget())
		require.NoError(t, err)
		assert.Empty(t, active.ResumeToken)
		assert.True(t, active.SnapshotVersion.IsMin())

		keys, err := store.GetRemoteDocumentKeys(ctx, data.TargetID)
		require.NoError(t, err)
		assert.Equal(t, 0, keys.Len())
	})

	t.Run("execute query from previous results test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})
		data, err := store.AllocateTarget(ctx, rooms.ToTarget())
		require.NoError(t, err)

		result, err := store.ExecuteQuery(ctx, rooms, true)
		require.NoError(t, err)
		assert.Equal(t, local.TierFullScan, result.Tier)

		applyDocuments(t, store, data, 2,
			document.NewFound(keyA, 2, value.MustObject(map[string]any{"n": 1})),
			document.NewFound(keyB, 2, value.MustObject(map[string]any{"n": 2})),
		)
		require.NoError(t, store.NotifyLocalViewChanges(ctx, []*local.LocalViewChanges{{
			TargetID:    data.TargetID,
			AddedKeys:   key.NewSet(keyA, keyB),
			RemovedKeys: key.NewSet(),
		}}))

		result, err = store.ExecuteQuery(ctx, rooms, true)
		require.NoError(t, err)
		assert.Equal(t, local.TierPreviousResults, result.Tier)
		assert.Len(t, result.Documents, 2)
		assert.Equal(t, 2, result.RemoteKeys.Len())

		_, err = store.LocalWrite(ctx, []*mutation.Mutation{
			setMutation(t, key.MustFromPath("rooms/c"), map[string]any{"n": 3}),
		})
		require.NoError(t, err)
		result, err = store.ExecuteQuery(ctx, rooms, true)
		require.NoError(t, err)
		assert.Len(t, result.Documents, 3)

		result, err = store.ExecuteQuery(ctx, query.NewDocumentQuery(keyA), true)
		require.NoError(t, err)
		assert.Equal(t, local.TierDocument, result.Tier)
		assert.Len(t, result.Documents, 1)
	})

	t.Run("limited query refills from a full scan test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})
		limited := query.NewCollectionQuery("rooms").OrderBy("n", query.Ascending).LimitToFirst(1)
		data, err := store.AllocateTarget(ctx, limited.ToTarget())
		require.NoError(t, err)

		applyDocuments(t, store, data, 2, document.NewFound(keyA, 2, value.MustObject(map[string]any{"n": 1})))
		require.NoError(t, store.NotifyLocalViewChanges(ctx, []*local.LocalViewChanges{{
			TargetID:    data.TargetID,
			AddedKeys:   key.NewSet(keyA),
			RemovedKeys: key.NewSet(),
		}}))

		_, err = store.LocalWrite(ctx, []*mutation.Mutation{setMutation(t, keyA, map[string]any{"n": 5})})
		require.NoError(t, err)

		result, err := store.ExecuteQuery(ctx, limited, true)
		require.NoError(t, err)
		assert.Equal(t, local.TierFullScan, result.Tier)
	})

	t.Run("release target test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})
		data, err := store.AllocateTarget(ctx, rooms.ToTarget())
		require.NoError(t, err)

		again, err := store.AllocateTarget(ctx, rooms.ToTarget())
		require.NoError(t, err)
		assert.Equal(t, data.TargetID, again.TargetID)
		assert.Equal(t, 0, int(data.TargetID)%2)

		require.NoError(t, store.ReleaseTarget(ctx, data.TargetID, false))
		assert.ErrorIs(t, store.ReleaseTarget(ctx, data.TargetID, false), local.ErrTargetNotActive)
		assert.Empty(t, store.ActiveTargetIDs())

		other, err := store.AllocateTarget(ctx, query.NewCollectionQuery("users").ToTarget())
		require.NoError(t, err)
		assert.Greater(t, int(other.TargetID), int(data.TargetID))
	})

	t.Run("user change switches the mutation queue test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})
		_, err := store.LocalWrite(ctx, []*mutation.Mutation{setMutation(t, keyA, map[string]any{"by": "anonymous"})})
		require.NoError(t, err)

		changes, err := store.HandleUserChange(ctx, auth.NewUser("alice"))
		require.NoError(t, err)
		assert.False(t, changes[keyA].IsFound())
		assert.Equal(t, "alice", store.User().Key())

		result, err := store.LocalWrite(ctx, []*mutation.Mutation{setMutation(t, keyB, map[string]any{"by": "alice"})})
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.BatchID)

		changes, err = store.HandleUserChange(ctx, auth.Unauthenticated)
		require.NoError(t, err)
		assert.True(t, changes[keyA].HasLocalMutations())
		assert.False(t, changes[keyB].IsFound())
	})

	t.Run("transient transaction failure is retried test", func(t *testing.T) {
		store, p := newLocalStore(t, local.Options{TransactionAttempts: 3})
		p.InjectFailures(2, errors.Unavailable("storage busy"))

		_, err := store.LocalWrite(ctx, []*mutation.Mutation{setMutation(t, keyA, map[string]any{"x": 1})})
		assert.NoError(t, err)

		p.InjectFailures(1, errors.New(errors.ErrCodeDataLoss, "corrupted"))
		_, err = store.GetDocument(ctx, keyA)
		assert.True(t, errors.IsStatus(err, errors.ErrCodeDataLoss))
	})
}

func TestGarbageCollection(t *testing.T) {
	ctx := context.Background()
	keyA := key.MustFromPath("rooms/a")
	rooms := query.NewCollectionQuery("rooms")
	collectAll := local.LRUParams{
		CacheSizeCollectionThreshold:    0,
		PercentileToCollect:             100,
		MaximumSequenceNumbersToCollect: 1000,
	}

	t.Run("collects released targets then orphaned documents test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})
		gc := store.NewGarbageCollector(collectAll)

		data, err := store.AllocateTarget(ctx, rooms.ToTarget())
		require.NoError(t, err)
		applyDocuments(t, store, data, 1, document.NewFound(keyA, 1, value.MustObject(map[string]any{"x": 1})))

		results, err := store.CollectGarbage(ctx, gc)
		require.NoError(t, err)
		assert.True(t, results.DidRun)
		assert.Equal(t, 0, results.TargetsRemoved)

		sizeBefore, err := store.CacheSize(ctx)
		require.NoError(t, err)
		assert.Greater(t, sizeBefore, int64(0))

		require.NoError(t, store.ReleaseTarget(ctx, data.TargetID, false))
		results, err = store.CollectGarbage(ctx, gc)
		require.NoError(t, err)
		assert.Equal(t, 1, results.TargetsRemoved)
		assert.Equal(t, 0, results.DocumentsRemoved)

		results, err = store.CollectGarbage(ctx, gc)
		require.NoError(t, err)
		assert.Equal(t, 1, results.DocumentsRemoved)

		sizeAfter, err := store.CacheSize(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, sizeAfter, sizeBefore)
		assert.Equal(t, int64(0), sizeAfter)

		doc, err := store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		assert.False(t, doc.IsValid())
	})

	t.Run("limbo documents are pinned test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})
		gc := store.NewGarbageCollector(collectAll)
		limbo := local.NewReferenceSet()
		store.PinDocuments(limbo)

		data, err := store.AllocateTarget(ctx, rooms.ToTarget())
		require.NoError(t, err)
		applyDocuments(t, store, data, 1, document.NewFound(keyA, 1, value.MustObject(map[string]any{"x": 1})))
		require.NoError(t, store.ReleaseTarget(ctx, data.TargetID, false))

		limbo.AddReference(keyA, 7)
		results, err := store.CollectGarbage(ctx, gc)
		require.NoError(t, err)
		assert.Equal(t, 1, results.TargetsRemoved)
		results, err = store.CollectGarbage(ctx, gc)
		require.NoError(t, err)
		assert.Equal(t, 0, results.DocumentsRemoved)

		doc, err := store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		assert.True(t, doc.IsFound())

		// Once resolved, the document is collected like any other.
		limbo.RemoveReferencesForID(7)
		results, err = store.CollectGarbage(ctx, gc)
		require.NoError(t, err)
		assert.Equal(t, 1, results.DocumentsRemoved)
	})

	t.Run("pending mutations pin orphaned documents test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})
		gc := store.NewGarbageCollector(collectAll)

		data, err := store.AllocateTarget(ctx, rooms.ToTarget())
		require.NoError(t, err)
		applyDocuments(t, store, data, 1, document.NewFound(keyA, 1, value.MustObject(map[string]any{"x": 1})))
		require.NoError(t, store.ReleaseTarget(ctx, data.TargetID, false))

		_, err = store.CollectGarbage(ctx, gc)
		require.NoError(t, err)

		_, err = store.LocalWrite(ctx, []*mutation.Mutation{updateMutation(t, keyA, map[string]any{"x": 2})})
		require.NoError(t, err)

		results, err := store.CollectGarbage(ctx, gc)
		require.NoError(t, err)
		assert.Equal(t, 0, results.DocumentsRemoved)

		doc, err := store.GetDocument(ctx, keyA)
		require.NoError(t, err)
		x, _ := doc.Field(value.ParseFieldPath("x"))
		assert.Equal(t, int64(2), x)
	})

	t.Run("does not run below the threshold or when disabled test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})

		results, err := store.CollectGarbage(ctx, store.NewGarbageCollector(local.DefaultLRUParams()))
		require.NoError(t, err)
		assert.False(t, results.DidRun)

		disabled := collectAll
		disabled.CacheSizeCollectionThreshold = local.LRUCollectionDisabled
		gc := store.NewGarbageCollector(disabled)
		assert.False(t, gc.IsEnabled())

		results, err = store.CollectGarbage(ctx, gc)
		require.NoError(t, err)
		assert.False(t, results.DidRun)
	})

	t.Run("active targets are kept test", func(t *testing.T) {
		store, _ := newLocalStore(t, local.Options{})
		gc := store.NewGarbageCollector(collectAll)

		data, err := store.AllocateTarget(ctx, rooms.ToTarget())
		require.NoError(t, err)
		applyDocuments(t, store, data, 1, document.NewFound(keyA, 1, value.Object{}))

		for i := 0; i < 3; i++ {
			results, err := store.CollectGarbage(ctx, gc)
			require.NoError(t, err)
			assert.Equal(t, 0, results.TargetsRemoved)
			assert.Equal(t, 0, results.DocumentsRemoved)
		}
	})
}
