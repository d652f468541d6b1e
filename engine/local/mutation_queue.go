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

// Package local provides the local store of the sync engine: the mutation
// queue, the overlay cache, the remote document cache, the target cache,
// the LRU garbage collector and the query engine on top of them.
package local

import (
	"fmt"
	"sort"
	gotime "time"

	"github.com/yorkie-team/docsync/engine/persistence"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

var (
	// ErrEmptyBatch is returned when a batch without mutations is added.
	ErrEmptyBatch = errors.InvalidArgument("empty mutation batch").WithCode("ErrEmptyBatch")

	// ErrBatchNotFound is returned when a batch is not in the queue.
	ErrBatchNotFound = errors.NotFound("mutation batch not found").WithCode("ErrBatchNotFound")

	// ErrBatchOutOfOrder is returned when a batch other than the oldest one
	// is removed from the queue.
	ErrBatchOutOfOrder = errors.Internal("mutation batch removed out of order").WithCode("ErrBatchOutOfOrder")
)

// MutationQueue is the queue of the batches a user wrote locally that were
// not acknowledged or rejected by the server yet. Batch ids increase
// strictly, across users.
type MutationQueue struct {
	userKey     string
	nextBatchID int64
}

// NewMutationQueue creates the mutation queue of the given user.
func NewMutationQueue(userKey string) *MutationQueue {
	return &MutationQueue{userKey: userKey}
}

// Start loads the state of the queue.
func (q *MutationQueue) Start(tx persistence.Transaction) error {
	highest, err := tx.FindHighestBatchID()
	if err != nil {
		return err
	}
	q.nextBatchID = highest + 1

	info, err := tx.GetMutationQueue(q.userKey)
	if err != nil {
		return err
	}
	if info == nil && tx.Mode() == persistence.ReadWrite {
		return tx.PutMutationQueue(&persistence.MutationQueueInfo{
			UserKey:                 q.userKey,
			LastAcknowledgedBatchID: mutation.UnknownBatchID,
		})
	}
	return nil
}

// IsEmpty returns whether the queue has no pending batch.
func (q *MutationQueue) IsEmpty(tx persistence.Transaction) (bool, error) {
	infos, err := tx.FindMutationBatches(q.userKey, mutation.UnknownBatchID)
	if err != nil {
		return false, err
	}
	return len(infos) == 0, nil
}

// AddMutationBatch appends a batch of the given mutations.
func (q *MutationQueue) AddMutationBatch(
	tx persistence.Transaction,
	localWriteTime gotime.Time,
	mutations []*mutation.Mutation,
) (*mutation.Batch, error) {
	if len(mutations) == 0 {
		return nil, ErrEmptyBatch
	}

	batch := &mutation.Batch{
		ID:             q.nextBatchID,
		LocalWriteTime: localWriteTime,
		Mutations:      mutations,
	}
	if err := tx.PutMutationBatch(&persistence.MutationBatchInfo{
		UserKey: q.userKey,
		BatchID: batch.ID,
		Batch:   batch,
	}); err != nil {
		return nil, err
	}

	for k := range batch.Keys() {
		if err := tx.PutDocumentMutation(&persistence.DocumentMutationInfo{
			UserKey:        q.userKey,
			Path:           k.String(),
			CollectionPath: k.CollectionPath(),
			BatchID:        batch.ID,
		}); err != nil {
			return nil, err
		}
	}

	// NOTE: an aborted transaction leaves a gap in the ids, never a reuse.
	q.nextBatchID++
	return batch, nil
}

// LookupMutationBatch returns the batch with the given id, or nil.
func (q *MutationQueue) LookupMutationBatch(tx persistence.Transaction, batchID int64) (*mutation.Batch, error) {
	info, err := tx.GetMutationBatch(q.userKey, batchID)
	if err != nil || info == nil {
		return nil, err
	}
	return info.Batch, nil
}

// NextMutationBatchAfter returns the oldest batch after the given id, or nil.
func (q *MutationQueue) NextMutationBatchAfter(tx persistence.Transaction, batchID int64) (*mutation.Batch, error) {
	infos, err := tx.FindMutationBatches(q.userKey, batchID)
	if err != nil || len(infos) == 0 {
		return nil, err
	}
	return infos[0].Batch, nil
}

// HighestUnacknowledgedBatchID returns the id of the newest pending batch,
// or mutation.UnknownBatchID.
func (q *MutationQueue) HighestUnacknowledgedBatchID(tx persistence.Transaction) (int64, error) {
	batches, err := q.AllMutationBatches(tx)
	if err != nil {
		return mutation.UnknownBatchID, err
	}
	if len(batches) == 0 {
		return mutation.UnknownBatchID, nil
	}
	return batches[len(batches)-1].ID, nil
}

// AllMutationBatches returns the pending batches, oldest first.
func (q *MutationQueue) AllMutationBatches(tx persistence.Transaction) ([]*mutation.Batch, error) {
	infos, err := tx.FindMutationBatches(q.userKey, mutation.UnknownBatchID)
	if err != nil {
		return nil, err
	}

	batches := make([]*mutation.Batch, 0, len(infos))
	for _, info := range infos {
		batches = append(batches, info.Batch)
	}
	return batches, nil
}

// AllMutationBatchesAffectingKeys returns the pending batches that write any
// of the keys, oldest first.
func (q *MutationQueue) AllMutationBatchesAffectingKeys(
	tx persistence.Transaction,
	keys key.Set,
) ([]*mutation.Batch, error) {
	ids := make(map[int64]struct{})
	for k := range keys {
		infos, err := tx.FindDocumentMutationsByPath(q.userKey, k.String())
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			ids[info.BatchID] = struct{}{}
		}
	}
	return q.lookupBatches(tx, ids)
}

// AllMutationBatchesAffectingQuery returns the pending batches that write a
// document the query could match, oldest first.
func (q *MutationQueue) AllMutationBatchesAffectingQuery(
	tx persistence.Transaction,
	qry *query.Query,
) ([]*mutation.Batch, error) {
	if qry.IsDocumentQuery() {
		return q.AllMutationBatchesAffectingKeys(tx, key.NewSet(qry.DocumentKey()))
	}

	infos, err := tx.FindDocumentMutationsByCollection(q.userKey, qry.Path())
	if err != nil {
		return nil, err
	}

	ids := make(map[int64]struct{})
	for _, info := range infos {
		ids[info.BatchID] = struct{}{}
	}
	return q.lookupBatches(tx, ids)
}

func (q *MutationQueue) lookupBatches(tx persistence.Transaction, ids map[int64]struct{}) ([]*mutation.Batch, error) {
	sorted := make([]int64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	batches := make([]*mutation.Batch, 0, len(sorted))
	for _, id := range sorted {
		batch, err := q.LookupMutationBatch(tx, id)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			return nil, fmt.Errorf("indexed batch %d: %w", id, ErrBatchNotFound)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// RemoveMutationBatch removes the oldest batch. Batches leave the queue in
// the order they were added.
func (q *MutationQueue) RemoveMutationBatch(tx persistence.Transaction, batch *mutation.Batch) error {
	first, err := q.NextMutationBatchAfter(tx, mutation.UnknownBatchID)
	if err != nil {
		return err
	}
	if first == nil {
		return fmt.Errorf("batch %d: %w", batch.ID, ErrBatchNotFound)
	}
	if first.ID != batch.ID {
		return fmt.Errorf("batch %d before %d: %w", batch.ID, first.ID, ErrBatchOutOfOrder)
	}

	if err := tx.DeleteMutationBatch(q.userKey, batch.ID); err != nil {
		return err
	}
	for k := range batch.Keys() {
		if err := tx.DeleteDocumentMutation(q.userKey, k.String(), batch.ID); err != nil {
			return err
		}
	}
	return nil
}

// AcknowledgeBatch records the acknowledgement of the batch and the stream
// token of the response.
func (q *MutationQueue) AcknowledgeBatch(
	tx persistence.Transaction,
	batch *mutation.Batch,
	streamToken []byte,
) error {
	info, err := q.metadata(tx)
	if err != nil {
		return err
	}
	info.LastAcknowledgedBatchID = batch.ID
	info.LastStreamToken = streamToken
	return tx.PutMutationQueue(info)
}

// LastStreamToken returns the persisted token of the write stream.
func (q *MutationQueue) LastStreamToken(tx persistence.Transaction) ([]byte, error) {
	info, err := q.metadata(tx)
	if err != nil {
		return nil, err
	}
	return info.LastStreamToken, nil
}

// SetLastStreamToken persists the token of the write stream.
func (q *MutationQueue) SetLastStreamToken(tx persistence.Transaction, token []byte) error {
	info, err := q.metadata(tx)
	if err != nil {
		return err
	}
	info.LastStreamToken = token
	return tx.PutMutationQueue(info)
}

func (q *MutationQueue) metadata(tx persistence.Transaction) (*persistence.MutationQueueInfo, error) {
	info, err := tx.GetMutationQueue(q.userKey)
	if err != nil {
		return nil, err
	}
	if info == nil {
		info = &persistence.MutationQueueInfo{
			UserKey:                 q.userKey,
			LastAcknowledgedBatchID: mutation.UnknownBatchID,
		}
	}
	return info, nil
}
