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

// Package testcases contains the test cases that every persistence
// implementation must pass.
package testcases

import (
	"context"
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/persistence"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/document/value"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

func write(t *testing.T, p persistence.Persistence, fn func(tx persistence.Transaction) error) {
	require.NoError(t, p.RunTransaction(context.Background(), "test", persistence.ReadWrite, fn))
}

func read(t *testing.T, p persistence.Persistence, fn func(tx persistence.Transaction) error) {
	require.NoError(t, p.RunTransaction(context.Background(), "test", persistence.ReadOnly, fn))
}

func newBatch(id int64, keys ...key.Key) *mutation.Batch {
	batch := &mutation.Batch{ID: id, LocalWriteTime: gotime.Unix(id, 0)}
	for _, k := range keys {
		batch.Mutations = append(batch.Mutations, mutation.NewSet(k, value.MustObject(map[string]any{"n": id})))
	}
	return batch
}

// RunTransactionTest runs the transaction semantics tests.
func RunTransactionTest(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	t.Run("rollback on error test", func(t *testing.T) {
		errAbort := errors.Aborted("abort")
		err := p.RunTransaction(ctx, "abort", persistence.ReadWrite, func(tx persistence.Transaction) error {
			if err := tx.PutMutationQueue(&persistence.MutationQueueInfo{UserKey: "rollback"}); err != nil {
				return err
			}
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		read(t, p, func(tx persistence.Transaction) error {
			info, err := tx.GetMutationQueue("rollback")
			assert.NoError(t, err)
			assert.Nil(t, info)
			return nil
		})
	})

	t.Run("nested transaction test", func(t *testing.T) {
		err := p.RunTransaction(ctx, "outer", persistence.ReadOnly, func(tx persistence.Transaction) error {
			return p.RunTransaction(ctx, "inner", persistence.ReadOnly, func(tx persistence.Transaction) error {
				return nil
			})
		})
		assert.ErrorIs(t, err, persistence.ErrNestedTransaction)
	})

	t.Run("read-only transaction cannot write test", func(t *testing.T) {
		err := p.RunTransaction(ctx, "readonly", persistence.ReadOnly, func(tx persistence.Transaction) error {
			return tx.PutMutationQueue(&persistence.MutationQueueInfo{UserKey: "readonly"})
		})
		assert.ErrorIs(t, err, persistence.ErrReadOnlyTransaction)
	})

	t.Run("on commit test", func(t *testing.T) {
		committed := 0
		write(t, p, func(tx persistence.Transaction) error {
			tx.OnCommit(func() { committed++ })
			assert.Equal(t, 0, committed)
			return nil
		})
		assert.Equal(t, 1, committed)

		_ = p.RunTransaction(ctx, "abort", persistence.ReadWrite, func(tx persistence.Transaction) error {
			tx.OnCommit(func() { committed++ })
			return errors.Aborted("abort")
		})
		assert.Equal(t, 1, committed)
	})

	t.Run("copies are isolated test", func(t *testing.T) {
		write(t, p, func(tx persistence.Transaction) error {
			return tx.PutMutationQueue(&persistence.MutationQueueInfo{
				UserKey:         "isolated",
				LastStreamToken: []byte("token"),
			})
		})

		read(t, p, func(tx persistence.Transaction) error {
			info, err := tx.GetMutationQueue("isolated")
			assert.NoError(t, err)
			info.LastStreamToken[0] = 'X'
			return nil
		})

		read(t, p, func(tx persistence.Transaction) error {
			info, err := tx.GetMutationQueue("isolated")
			assert.NoError(t, err)
			assert.Equal(t, []byte("token"), info.LastStreamToken)
			return nil
		})
	})
}

// RunMutationBatchTest runs the mutation queue table tests.
func RunMutationBatchTest(t *testing.T, p persistence.Persistence) {
	a := key.MustFromPath("rooms/a")
	b := key.MustFromPath("rooms/b")
	c := key.MustFromPath("halls/c")

	write(t, p, func(tx persistence.Transaction) error {
		for _, batch := range []*mutation.Batch{newBatch(1, a), newBatch(2, a, b), newBatch(3, c)} {
			if err := tx.PutMutationBatch(&persistence.MutationBatchInfo{
				UserKey: "alice",
				BatchID: batch.ID,
				Batch:   batch,
			}); err != nil {
				return err
			}
			for k := range batch.Keys() {
				if err := tx.PutDocumentMutation(&persistence.DocumentMutationInfo{
					UserKey:        "alice",
					Path:           k.String(),
					CollectionPath: k.CollectionPath(),
					BatchID:        batch.ID,
				}); err != nil {
					return err
				}
			}
		}
		return tx.PutMutationBatch(&persistence.MutationBatchInfo{UserKey: "bob", BatchID: 4, Batch: newBatch(4, b)})
	})

	t.Run("find batches in order test", func(t *testing.T) {
		read(t, p, func(tx persistence.Transaction) error {
			infos, err := tx.FindMutationBatches("alice", mutation.UnknownBatchID)
			assert.NoError(t, err)
			assert.Len(t, infos, 3)
			for i, info := range infos {
				assert.Equal(t, int64(i+1), info.BatchID)
			}

			infos, err = tx.FindMutationBatches("alice", 2)
			assert.NoError(t, err)
			assert.Len(t, infos, 1)
			assert.Equal(t, int64(3), infos[0].BatchID)

			highest, err := tx.FindHighestBatchID()
			assert.NoError(t, err)
			assert.Equal(t, int64(4), highest)
			return nil
		})
	})

	t.Run("document mutation index test", func(t *testing.T) {
		read(t, p, func(tx persistence.Transaction) error {
			infos, err := tx.FindDocumentMutationsByPath("alice", a.String())
			assert.NoError(t, err)
			assert.Len(t, infos, 2)
			assert.Equal(t, int64(1), infos[0].BatchID)
			assert.Equal(t, int64(2), infos[1].BatchID)

			infos, err = tx.FindDocumentMutationsByCollection("alice", "rooms")
			assert.NoError(t, err)
			assert.Len(t, infos, 3)

			has, err := tx.HasDocumentMutations(c.String())
			assert.NoError(t, err)
			assert.True(t, has)
			return nil
		})
	})

	t.Run("delete batch test", func(t *testing.T) {
		write(t, p, func(tx persistence.Transaction) error {
			assert.NoError(t, tx.DeleteMutationBatch("alice", 3))
			assert.NoError(t, tx.DeleteDocumentMutation("alice", c.String(), 3))
			assert.ErrorIs(t, tx.DeleteMutationBatch("alice", 3), persistence.ErrMutationBatchNotFound)
			return nil
		})

		read(t, p, func(tx persistence.Transaction) error {
			info, err := tx.GetMutationBatch("alice", 3)
			assert.NoError(t, err)
			assert.Nil(t, info)

			has, err := tx.HasDocumentMutations(c.String())
			assert.NoError(t, err)
			assert.False(t, has)
			return nil
		})
	})
}

// RunOverlayTest runs the overlay table tests.
func RunOverlayTest(t *testing.T, p persistence.Persistence) {
	put := func(tx persistence.Transaction, userKey, path string, batchID int64) error {
		k := key.MustFromPath(path)
		return tx.PutOverlay(&persistence.OverlayInfo{
			UserKey:        userKey,
			Path:           k.String(),
			CollectionPath: k.CollectionPath(),
			LargestBatchID: batchID,
			Overlay: &mutation.Overlay{
				LargestBatchID: batchID,
				Mutation:       mutation.NewDelete(k, mutation.NoPrecondition),
			},
		})
	}

	write(t, p, func(tx persistence.Transaction) error {
		assert.NoError(t, put(tx, "alice", "rooms/a", 1))
		assert.NoError(t, put(tx, "alice", "rooms/b", 3))
		assert.NoError(t, put(tx, "alice", "halls/c", 3))
		assert.NoError(t, put(tx, "bob", "rooms/a", 2))
		return nil
	})

	t.Run("find overlays by collection test", func(t *testing.T) {
		read(t, p, func(tx persistence.Transaction) error {
			infos, err := tx.FindOverlaysByCollection("alice", "rooms", mutation.UnknownBatchID)
			assert.NoError(t, err)
			assert.Len(t, infos, 2)

			infos, err = tx.FindOverlaysByCollection("alice", "rooms", 1)
			assert.NoError(t, err)
			assert.Len(t, infos, 1)
			assert.Equal(t, "rooms/b", infos[0].Path)
			return nil
		})
	})

	t.Run("find overlays by batch id test", func(t *testing.T) {
		read(t, p, func(tx persistence.Transaction) error {
			infos, err := tx.FindOverlaysByBatchID("alice", 3)
			assert.NoError(t, err)
			assert.Len(t, infos, 2)
			return nil
		})
	})

	t.Run("replace and delete overlay test", func(t *testing.T) {
		write(t, p, func(tx persistence.Transaction) error {
			assert.NoError(t, put(tx, "alice", "rooms/a", 5))
			return tx.DeleteOverlay("bob", "rooms/a")
		})

		read(t, p, func(tx persistence.Transaction) error {
			info, err := tx.GetOverlay("alice", "rooms/a")
			assert.NoError(t, err)
			assert.Equal(t, int64(5), info.LargestBatchID)

			infos, err := tx.FindOverlaysByBatchID("alice", 1)
			assert.NoError(t, err)
			assert.Len(t, infos, 0)

			info, err = tx.GetOverlay("bob", "rooms/a")
			assert.NoError(t, err)
			assert.Nil(t, info)
			return nil
		})
	})
}

// RunRemoteDocumentTest runs the remote document table tests.
func RunRemoteDocumentTest(t *testing.T, p persistence.Persistence) {
	put := func(tx persistence.Transaction, path string, readTime time.Version) error {
		k := key.MustFromPath(path)
		doc := document.NewFound(k, readTime, value.MustObject(map[string]any{"v": 1})).SetReadTime(readTime)
		return tx.PutRemoteDocument(&persistence.RemoteDocumentInfo{
			Path:           k.String(),
			CollectionPath: k.CollectionPath(),
			ReadTime:       readTime,
			Size:           doc.Size(),
			Document:       doc,
		})
	}

	write(t, p, func(tx persistence.Transaction) error {
		assert.NoError(t, put(tx, "rooms/c", 1))
		assert.NoError(t, put(tx, "rooms/a", 3))
		assert.NoError(t, put(tx, "rooms/b", 2))
		assert.NoError(t, put(tx, "rooms/a/messages/m1", 4))
		return tx.PutRemoteDocumentGlobal(&persistence.RemoteDocumentGlobalInfo{ByteSize: 42})
	})

	t.Run("find by collection in key order test", func(t *testing.T) {
		read(t, p, func(tx persistence.Transaction) error {
			infos, err := tx.FindRemoteDocumentsByCollection("rooms", time.MinVersion)
			assert.NoError(t, err)
			assert.Len(t, infos, 3)
			assert.Equal(t, "rooms/a", infos[0].Path)
			assert.Equal(t, "rooms/b", infos[1].Path)
			assert.Equal(t, "rooms/c", infos[2].Path)
			return nil
		})
	})

	t.Run("find by collection since read time test", func(t *testing.T) {
		read(t, p, func(tx persistence.Transaction) error {
			infos, err := tx.FindRemoteDocumentsByCollection("rooms", 1)
			assert.NoError(t, err)
			assert.Len(t, infos, 2)

			infos, err = tx.FindRemoteDocumentsByCollection("rooms/a/messages", time.MinVersion)
			assert.NoError(t, err)
			assert.Len(t, infos, 1)
			return nil
		})
	})

	t.Run("global row test", func(t *testing.T) {
		read(t, p, func(tx persistence.Transaction) error {
			global, err := tx.GetRemoteDocumentGlobal()
			assert.NoError(t, err)
			assert.Equal(t, int64(42), global.ByteSize)
			return nil
		})
	})

	t.Run("delete remote document test", func(t *testing.T) {
		write(t, p, func(tx persistence.Transaction) error {
			return tx.DeleteRemoteDocument("rooms/b")
		})
		read(t, p, func(tx persistence.Transaction) error {
			info, err := tx.GetRemoteDocument("rooms/b")
			assert.NoError(t, err)
			assert.Nil(t, info)
			return nil
		})
	})
}

// RunTargetTest runs the target tables tests.
func RunTargetTest(t *testing.T, p persistence.Persistence) {
	rooms := query.NewCollectionQuery("rooms").ToTarget()
	halls := query.NewCollectionQuery("halls").ToTarget()

	write(t, p, func(tx persistence.Transaction) error {
		for _, data := range []*types.TargetData{
			types.NewTargetData(rooms, 2, types.PurposeListen, 1),
			types.NewTargetData(halls, 4, types.PurposeListen, 2),
		} {
			if err := tx.PutTarget(&persistence.TargetInfo{
				TargetID:    data.TargetID,
				CanonicalID: data.Target.CanonicalID(),
				Data:        data,
			}); err != nil {
				return err
			}
		}

		assert.NoError(t, tx.PutTargetDocument(&persistence.TargetDocumentInfo{TargetID: 2, Path: "rooms/a"}))
		assert.NoError(t, tx.PutTargetDocument(&persistence.TargetDocumentInfo{TargetID: 4, Path: "rooms/a"}))
		assert.NoError(t, tx.PutTargetDocument(&persistence.TargetDocumentInfo{
			TargetID:       persistence.SentinelTargetID,
			Path:           "rooms/a",
			SequenceNumber: 7,
		}))
		return tx.PutTargetGlobal(&persistence.TargetGlobalInfo{HighestTargetID: 4, TargetCount: 2})
	})

	t.Run("find targets test", func(t *testing.T) {
		read(t, p, func(tx persistence.Transaction) error {
			infos, err := tx.FindTargetsByCanonicalID(rooms.CanonicalID())
			assert.NoError(t, err)
			assert.Len(t, infos, 1)
			assert.Equal(t, types.TargetID(2), infos[0].TargetID)

			infos, err = tx.FindAllTargets()
			assert.NoError(t, err)
			assert.Len(t, infos, 2)

			global, err := tx.GetTargetGlobal()
			assert.NoError(t, err)
			assert.Equal(t, types.TargetID(4), global.HighestTargetID)
			return nil
		})
	})

	t.Run("target documents test", func(t *testing.T) {
		read(t, p, func(tx persistence.Transaction) error {
			infos, err := tx.FindTargetDocumentsByPath("rooms/a")
			assert.NoError(t, err)
			assert.Len(t, infos, 3)

			infos, err = tx.FindTargetDocumentsByTarget(persistence.SentinelTargetID)
			assert.NoError(t, err)
			assert.Len(t, infos, 1)
			assert.Equal(t, types.SequenceNumber(7), infos[0].SequenceNumber)
			return nil
		})
	})

	t.Run("delete target test", func(t *testing.T) {
		write(t, p, func(tx persistence.Transaction) error {
			assert.NoError(t, tx.DeleteTarget(4))
			assert.NoError(t, tx.DeleteTargetDocument(4, "rooms/a"))
			assert.ErrorIs(t, tx.DeleteTarget(4), persistence.ErrTargetNotFound)
			return nil
		})

		read(t, p, func(tx persistence.Transaction) error {
			info, err := tx.GetTarget(4)
			assert.NoError(t, err)
			assert.Nil(t, info)

			infos, err := tx.FindTargetDocumentsByTarget(4)
			assert.NoError(t, err)
			assert.Len(t, infos, 0)
			return nil
		})
	})
}
