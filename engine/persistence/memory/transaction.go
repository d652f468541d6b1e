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

package memory

import (
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/persistence"
	"github.com/yorkie-team/docsync/pkg/document/time"
)

// transaction implements persistence.Transaction on a memdb transaction.
type transaction struct {
	txn  *memdb.Txn
	mode persistence.Mode

	readOnlyCommits []func()
}

// Mode returns the mode of this transaction.
func (t *transaction) Mode() persistence.Mode {
	return t.mode
}

// OnCommit registers fn to be called after the transaction commits.
func (t *transaction) OnCommit(fn func()) {
	if t.mode == persistence.ReadWrite {
		t.txn.Defer(fn)
		return
	}
	t.readOnlyCommits = append(t.readOnlyCommits, fn)
}

func (t *transaction) checkWritable() error {
	if t.mode != persistence.ReadWrite {
		return persistence.ErrReadOnlyTransaction
	}
	return nil
}

func (t *transaction) insert(table string, obj interface{}) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := t.txn.Insert(table, obj); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (t *transaction) deleteAll(table, index string, args ...interface{}) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, err := t.txn.DeleteAll(table, index, args...); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

// GetMutationQueue returns the metadata of the mutation queue of the user.
func (t *transaction) GetMutationQueue(userKey string) (*persistence.MutationQueueInfo, error) {
	raw, err := t.txn.First(tblMutationQueues, "id", userKey)
	if err != nil {
		return nil, fmt.Errorf("find mutation queue of %s: %w", userKey, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*persistence.MutationQueueInfo).DeepCopy(), nil
}

// PutMutationQueue stores the metadata of a mutation queue.
func (t *transaction) PutMutationQueue(info *persistence.MutationQueueInfo) error {
	return t.insert(tblMutationQueues, info.DeepCopy())
}

// GetMutationBatch returns the batch of the user with the given id.
func (t *transaction) GetMutationBatch(userKey string, batchID int64) (*persistence.MutationBatchInfo, error) {
	raw, err := t.txn.First(tblMutationBatches, "id", userKey, batchID)
	if err != nil {
		return nil, fmt.Errorf("find mutation batch %d of %s: %w", batchID, userKey, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*persistence.MutationBatchInfo).DeepCopy(), nil
}

// PutMutationBatch stores a batch.
func (t *transaction) PutMutationBatch(info *persistence.MutationBatchInfo) error {
	return t.insert(tblMutationBatches, info.DeepCopy())
}

// DeleteMutationBatch deletes a batch.
func (t *transaction) DeleteMutationBatch(userKey string, batchID int64) error {
	if err := t.checkWritable(); err != nil {
		return err
	}

	raw, err := t.txn.First(tblMutationBatches, "id", userKey, batchID)
	if err != nil {
		return fmt.Errorf("find mutation batch %d of %s: %w", batchID, userKey, err)
	}
	if raw == nil {
		return fmt.Errorf("batch %d of %s: %w", batchID, userKey, persistence.ErrMutationBatchNotFound)
	}
	if err := t.txn.Delete(tblMutationBatches, raw); err != nil {
		return fmt.Errorf("delete mutation batch %d of %s: %w", batchID, userKey, err)
	}
	return nil
}

// FindMutationBatches returns the batches of the user after afterBatchID.
func (t *transaction) FindMutationBatches(
	userKey string,
	afterBatchID int64,
) ([]*persistence.MutationBatchInfo, error) {
	if afterBatchID == math.MaxInt64 {
		return nil, nil
	}

	iter, err := t.txn.LowerBound(tblMutationBatches, "id", userKey, afterBatchID+1)
	if err != nil {
		return nil, fmt.Errorf("find mutation batches of %s: %w", userKey, err)
	}

	var infos []*persistence.MutationBatchInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		info := raw.(*persistence.MutationBatchInfo)
		if info.UserKey != userKey {
			break
		}
		infos = append(infos, info.DeepCopy())
	}
	return infos, nil
}

// FindHighestBatchID returns the highest batch id of any user.
func (t *transaction) FindHighestBatchID() (int64, error) {
	iter, err := t.txn.ReverseLowerBound(tblMutationBatches, "batch_id", int64(math.MaxInt64))
	if err != nil {
		return 0, fmt.Errorf("find highest batch id: %w", err)
	}

	raw := iter.Next()
	if raw == nil {
		return 0, nil
	}
	return raw.(*persistence.MutationBatchInfo).BatchID, nil
}

// PutDocumentMutation stores an index row from a document to a batch.
func (t *transaction) PutDocumentMutation(info *persistence.DocumentMutationInfo) error {
	return t.insert(tblDocumentMutations, info.DeepCopy())
}

// DeleteDocumentMutation deletes an index row from a document to a batch.
func (t *transaction) DeleteDocumentMutation(userKey, path string, batchID int64) error {
	return t.deleteAll(tblDocumentMutations, "id", userKey, path, batchID)
}

// FindDocumentMutationsByPath returns the index rows of the document.
func (t *transaction) FindDocumentMutationsByPath(
	userKey, path string,
) ([]*persistence.DocumentMutationInfo, error) {
	iter, err := t.txn.LowerBound(tblDocumentMutations, "id", userKey, path, int64(math.MinInt64))
	if err != nil {
		return nil, fmt.Errorf("find document mutations of %s: %w", path, err)
	}

	var infos []*persistence.DocumentMutationInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		info := raw.(*persistence.DocumentMutationInfo)
		if info.UserKey != userKey || info.Path != path {
			break
		}
		infos = append(infos, info.DeepCopy())
	}
	return infos, nil
}

// FindDocumentMutationsByCollection returns the index rows of the documents
// in the collection.
func (t *transaction) FindDocumentMutationsByCollection(
	userKey, collectionPath string,
) ([]*persistence.DocumentMutationInfo, error) {
	iter, err := t.txn.Get(tblDocumentMutations, "user_key_collection_path", userKey, collectionPath)
	if err != nil {
		return nil, fmt.Errorf("find document mutations in %s: %w", collectionPath, err)
	}

	var infos []*persistence.DocumentMutationInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		infos = append(infos, raw.(*persistence.DocumentMutationInfo).DeepCopy())
	}
	return infos, nil
}

// HasDocumentMutations returns whether any user has a batch writing path.
func (t *transaction) HasDocumentMutations(path string) (bool, error) {
	raw, err := t.txn.First(tblDocumentMutations, "path", path)
	if err != nil {
		return false, fmt.Errorf("find document mutations of %s: %w", path, err)
	}
	return raw != nil, nil
}

// GetOverlay returns the overlay of the document for the user.
func (t *transaction) GetOverlay(userKey, path string) (*persistence.OverlayInfo, error) {
	raw, err := t.txn.First(tblOverlays, "id", userKey, path)
	if err != nil {
		return nil, fmt.Errorf("find overlay of %s: %w", path, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*persistence.OverlayInfo).DeepCopy(), nil
}

// PutOverlay stores an overlay.
func (t *transaction) PutOverlay(info *persistence.OverlayInfo) error {
	return t.insert(tblOverlays, info.DeepCopy())
}

// DeleteOverlay deletes the overlay of the document for the user.
func (t *transaction) DeleteOverlay(userKey, path string) error {
	return t.deleteAll(tblOverlays, "id", userKey, path)
}

// FindOverlaysByCollection returns the overlays in the collection changed
// after sinceBatchID.
func (t *transaction) FindOverlaysByCollection(
	userKey, collectionPath string,
	sinceBatchID int64,
) ([]*persistence.OverlayInfo, error) {
	iter, err := t.txn.LowerBound(
		tblOverlays,
		"user_key_collection_path_batch_id",
		userKey,
		collectionPath,
		sinceBatchID+1,
	)
	if err != nil {
		return nil, fmt.Errorf("find overlays in %s: %w", collectionPath, err)
	}

	var infos []*persistence.OverlayInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		info := raw.(*persistence.OverlayInfo)
		if info.UserKey != userKey || info.CollectionPath != collectionPath {
			break
		}
		infos = append(infos, info.DeepCopy())
	}
	return infos, nil
}

// FindOverlaysByBatchID returns the overlays whose largest batch id is batchID.
func (t *transaction) FindOverlaysByBatchID(userKey string, batchID int64) ([]*persistence.OverlayInfo, error) {
	iter, err := t.txn.Get(tblOverlays, "user_key_batch_id", userKey, batchID)
	if err != nil {
		return nil, fmt.Errorf("find overlays of batch %d: %w", batchID, err)
	}

	var infos []*persistence.OverlayInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		infos = append(infos, raw.(*persistence.OverlayInfo).DeepCopy())
	}
	return infos, nil
}

// GetRemoteDocument returns the cached remote document.
func (t *transaction) GetRemoteDocument(path string) (*persistence.RemoteDocumentInfo, error) {
	raw, err := t.txn.First(tblRemoteDocuments, "id", path)
	if err != nil {
		return nil, fmt.Errorf("find remote document %s: %w", path, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*persistence.RemoteDocumentInfo).DeepCopy(), nil
}

// PutRemoteDocument stores a remote document.
func (t *transaction) PutRemoteDocument(info *persistence.RemoteDocumentInfo) error {
	return t.insert(tblRemoteDocuments, info.DeepCopy())
}

// DeleteRemoteDocument deletes a remote document.
func (t *transaction) DeleteRemoteDocument(path string) error {
	return t.deleteAll(tblRemoteDocuments, "id", path)
}

// FindRemoteDocumentsByCollection returns the remote documents of the
// collection read after sinceReadTime, in path order. All documents of the
// collection are returned for MinVersion.
func (t *transaction) FindRemoteDocumentsByCollection(
	collectionPath string,
	sinceReadTime time.Version,
) ([]*persistence.RemoteDocumentInfo, error) {
	lower := int64(sinceReadTime) + 1
	if sinceReadTime.IsMin() {
		lower = math.MinInt64
	}
	iter, err := t.txn.LowerBound(
		tblRemoteDocuments,
		"collection_path_read_time",
		collectionPath,
		lower,
	)
	if err != nil {
		return nil, fmt.Errorf("find remote documents in %s: %w", collectionPath, err)
	}

	var infos []*persistence.RemoteDocumentInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		info := raw.(*persistence.RemoteDocumentInfo)
		if info.CollectionPath != collectionPath {
			break
		}
		infos = append(infos, info.DeepCopy())
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Document.Key().Less(infos[j].Document.Key())
	})
	return infos, nil
}

// GetRemoteDocumentGlobal returns the global row of the remote document cache.
func (t *transaction) GetRemoteDocumentGlobal() (*persistence.RemoteDocumentGlobalInfo, error) {
	raw, err := t.txn.First(tblRemoteGlobal, "id", persistence.GlobalID)
	if err != nil {
		return nil, fmt.Errorf("find remote document global: %w", err)
	}
	if raw == nil {
		return &persistence.RemoteDocumentGlobalInfo{ID: persistence.GlobalID}, nil
	}
	return raw.(*persistence.RemoteDocumentGlobalInfo).DeepCopy(), nil
}

// PutRemoteDocumentGlobal stores the global row of the remote document cache.
func (t *transaction) PutRemoteDocumentGlobal(info *persistence.RemoteDocumentGlobalInfo) error {
	info = info.DeepCopy()
	info.ID = persistence.GlobalID
	return t.insert(tblRemoteGlobal, info)
}

// GetTargetGlobal returns the global row of the target cache.
func (t *transaction) GetTargetGlobal() (*persistence.TargetGlobalInfo, error) {
	raw, err := t.txn.First(tblTargetGlobal, "id", persistence.GlobalID)
	if err != nil {
		return nil, fmt.Errorf("find target global: %w", err)
	}
	if raw == nil {
		return &persistence.TargetGlobalInfo{ID: persistence.GlobalID}, nil
	}
	return raw.(*persistence.TargetGlobalInfo).DeepCopy(), nil
}

// PutTargetGlobal stores the global row of the target cache.
func (t *transaction) PutTargetGlobal(info *persistence.TargetGlobalInfo) error {
	info = info.DeepCopy()
	info.ID = persistence.GlobalID
	return t.insert(tblTargetGlobal, info)
}

// GetTarget returns the target with the given id.
func (t *transaction) GetTarget(targetID types.TargetID) (*persistence.TargetInfo, error) {
	raw, err := t.txn.First(tblTargets, "id", targetID)
	if err != nil {
		return nil, fmt.Errorf("find target %d: %w", targetID, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*persistence.TargetInfo).DeepCopy(), nil
}

// FindTargetsByCanonicalID returns the targets with the canonical id.
func (t *transaction) FindTargetsByCanonicalID(canonicalID string) ([]*persistence.TargetInfo, error) {
	iter, err := t.txn.Get(tblTargets, "canonical_id", canonicalID)
	if err != nil {
		return nil, fmt.Errorf("find targets of %s: %w", canonicalID, err)
	}

	var infos []*persistence.TargetInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		infos = append(infos, raw.(*persistence.TargetInfo).DeepCopy())
	}
	return infos, nil
}

// FindAllTargets returns all targets in id order.
func (t *transaction) FindAllTargets() ([]*persistence.TargetInfo, error) {
	iter, err := t.txn.Get(tblTargets, "id")
	if err != nil {
		return nil, fmt.Errorf("find targets: %w", err)
	}

	var infos []*persistence.TargetInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		infos = append(infos, raw.(*persistence.TargetInfo).DeepCopy())
	}
	return infos, nil
}

// PutTarget stores a target.
func (t *transaction) PutTarget(info *persistence.TargetInfo) error {
	return t.insert(tblTargets, info.DeepCopy())
}

// DeleteTarget deletes a target.
func (t *transaction) DeleteTarget(targetID types.TargetID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}

	raw, err := t.txn.First(tblTargets, "id", targetID)
	if err != nil {
		return fmt.Errorf("find target %d: %w", targetID, err)
	}
	if raw == nil {
		return fmt.Errorf("target %d: %w", targetID, persistence.ErrTargetNotFound)
	}
	if err := t.txn.Delete(tblTargets, raw); err != nil {
		return fmt.Errorf("delete target %d: %w", targetID, err)
	}
	return nil
}

// PutTargetDocument stores the membership of a document in a target.
func (t *transaction) PutTargetDocument(info *persistence.TargetDocumentInfo) error {
	return t.insert(tblTargetDocuments, info.DeepCopy())
}

// DeleteTargetDocument deletes the membership of a document in a target.
func (t *transaction) DeleteTargetDocument(targetID types.TargetID, path string) error {
	return t.deleteAll(tblTargetDocuments, "id", targetID, path)
}

// FindTargetDocumentsByTarget returns the memberships of the target.
func (t *transaction) FindTargetDocumentsByTarget(
	targetID types.TargetID,
) ([]*persistence.TargetDocumentInfo, error) {
	iter, err := t.txn.Get(tblTargetDocuments, "target_id", targetID)
	if err != nil {
		return nil, fmt.Errorf("find documents of target %d: %w", targetID, err)
	}

	var infos []*persistence.TargetDocumentInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		infos = append(infos, raw.(*persistence.TargetDocumentInfo).DeepCopy())
	}
	return infos, nil
}

// FindTargetDocumentsByPath returns the memberships of the document.
func (t *transaction) FindTargetDocumentsByPath(path string) ([]*persistence.TargetDocumentInfo, error) {
	iter, err := t.txn.Get(tblTargetDocuments, "path", path)
	if err != nil {
		return nil, fmt.Errorf("find targets of %s: %w", path, err)
	}

	var infos []*persistence.TargetDocumentInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		infos = append(infos, raw.(*persistence.TargetDocumentInfo).DeepCopy())
	}
	return infos, nil
}
