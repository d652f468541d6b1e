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

// Package persistence provides the transactional storage interface that the
// local store keeps its mutation queue, overlays, remote documents and
// targets in.
package persistence

import (
	"context"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/errors"
)

var (
	// ErrNotStarted is returned when a transaction runs before Start or after
	// Shutdown.
	ErrNotStarted = errors.FailedPrecond("persistence is not started").WithCode("ErrNotStarted")

	// ErrNestedTransaction is returned when a transaction is started inside
	// another one.
	ErrNestedTransaction = errors.Internal("nested transaction").WithCode("ErrNestedTransaction")

	// ErrReadOnlyTransaction is returned when a read-only transaction writes.
	ErrReadOnlyTransaction = errors.Internal("write in read-only transaction").WithCode("ErrReadOnlyTransaction")

	// ErrMutationBatchNotFound is returned when the mutation batch could not be found.
	ErrMutationBatchNotFound = errors.NotFound("mutation batch not found").WithCode("ErrMutationBatchNotFound")

	// ErrTargetNotFound is returned when the target could not be found.
	ErrTargetNotFound = errors.NotFound("target not found").WithCode("ErrTargetNotFound")
)

// Mode is the mode of a transaction.
type Mode int

const (
	// ReadOnly transactions see a consistent snapshot and cannot write.
	ReadOnly Mode = iota

	// ReadWrite transactions are serialized with each other.
	ReadWrite
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Persistence is the durable storage of the local store.
type Persistence interface {
	// Start opens the storage.
	Start() error

	// Shutdown closes the storage.
	Shutdown() error

	// IsStarted returns whether the storage accepts transactions.
	IsStarted() bool

	// RunTransaction runs fn in a transaction. The changes of fn are
	// committed only if it returns nil. Transactions do not nest.
	RunTransaction(ctx context.Context, action string, mode Mode, fn func(tx Transaction) error) error
}

// Transaction provides the per-table operations of a transaction. Getters
// return nil without an error when the row is absent. Returned records are
// copies and can be modified by the caller.
type Transaction interface {
	// Mode returns the mode of this transaction.
	Mode() Mode

	// OnCommit registers fn to be called after the transaction commits.
	OnCommit(fn func())

	// GetMutationQueue returns the metadata of the mutation queue of the user.
	GetMutationQueue(userKey string) (*MutationQueueInfo, error)

	// PutMutationQueue stores the metadata of a mutation queue.
	PutMutationQueue(info *MutationQueueInfo) error

	// GetMutationBatch returns the batch of the user with the given id.
	GetMutationBatch(userKey string, batchID int64) (*MutationBatchInfo, error)

	// PutMutationBatch stores a batch.
	PutMutationBatch(info *MutationBatchInfo) error

	// DeleteMutationBatch deletes a batch.
	DeleteMutationBatch(userKey string, batchID int64) error

	// FindMutationBatches returns the batches of the user whose ids are
	// greater than afterBatchID, in id order.
	FindMutationBatches(userKey string, afterBatchID int64) ([]*MutationBatchInfo, error)

	// FindHighestBatchID returns the highest batch id stored for any user,
	// or 0 if there is none.
	FindHighestBatchID() (int64, error)

	// PutDocumentMutation stores an index row from a document to a batch.
	PutDocumentMutation(info *DocumentMutationInfo) error

	// DeleteDocumentMutation deletes an index row from a document to a batch.
	DeleteDocumentMutation(userKey, path string, batchID int64) error

	// FindDocumentMutationsByPath returns the index rows of the document of
	// the user, in batch id order.
	FindDocumentMutationsByPath(userKey, path string) ([]*DocumentMutationInfo, error)

	// FindDocumentMutationsByCollection returns the index rows of the
	// documents of the user in the given collection.
	FindDocumentMutationsByCollection(userKey, collectionPath string) ([]*DocumentMutationInfo, error)

	// HasDocumentMutations returns whether any user has a pending batch that
	// writes the document.
	HasDocumentMutations(path string) (bool, error)

	// GetOverlay returns the overlay of the document for the user.
	GetOverlay(userKey, path string) (*OverlayInfo, error)

	// PutOverlay stores an overlay.
	PutOverlay(info *OverlayInfo) error

	// DeleteOverlay deletes the overlay of the document for the user.
	DeleteOverlay(userKey, path string) error

	// FindOverlaysByCollection returns the overlays of the user for documents
	// in the collection, whose largest batch id is greater than sinceBatchID.
	FindOverlaysByCollection(userKey, collectionPath string, sinceBatchID int64) ([]*OverlayInfo, error)

	// FindOverlaysByBatchID returns the overlays of the user whose largest
	// batch id equals batchID.
	FindOverlaysByBatchID(userKey string, batchID int64) ([]*OverlayInfo, error)

	// GetRemoteDocument returns the cached remote document.
	GetRemoteDocument(path string) (*RemoteDocumentInfo, error)

	// PutRemoteDocument stores a remote document.
	PutRemoteDocument(info *RemoteDocumentInfo) error

	// DeleteRemoteDocument deletes a remote document.
	DeleteRemoteDocument(path string) error

	// FindRemoteDocumentsByCollection returns the remote documents of the
	// collection read after sinceReadTime.
	FindRemoteDocumentsByCollection(collectionPath string, sinceReadTime time.Version) ([]*RemoteDocumentInfo, error)

	// GetRemoteDocumentGlobal returns the global row of the remote document
	// cache. It is never nil.
	GetRemoteDocumentGlobal() (*RemoteDocumentGlobalInfo, error)

	// PutRemoteDocumentGlobal stores the global row of the remote document cache.
	PutRemoteDocumentGlobal(info *RemoteDocumentGlobalInfo) error

	// GetTargetGlobal returns the global row of the target cache. It is
	// never nil.
	GetTargetGlobal() (*TargetGlobalInfo, error)

	// PutTargetGlobal stores the global row of the target cache.
	PutTargetGlobal(info *TargetGlobalInfo) error

	// GetTarget returns the target with the given id.
	GetTarget(targetID types.TargetID) (*TargetInfo, error)

	// FindTargetsByCanonicalID returns the targets with the canonical id.
	FindTargetsByCanonicalID(canonicalID string) ([]*TargetInfo, error)

	// FindAllTargets returns all targets in id order.
	FindAllTargets() ([]*TargetInfo, error)

	// PutTarget stores a target.
	PutTarget(info *TargetInfo) error

	// DeleteTarget deletes a target.
	DeleteTarget(targetID types.TargetID) error

	// PutTargetDocument stores the membership of a document in a target.
	PutTargetDocument(info *TargetDocumentInfo) error

	// DeleteTargetDocument deletes the membership of a document in a target.
	DeleteTargetDocument(targetID types.TargetID, path string) error

	// FindTargetDocumentsByTarget returns the memberships of the target.
	FindTargetDocumentsByTarget(targetID types.TargetID) ([]*TargetDocumentInfo, error)

	// FindTargetDocumentsByPath returns the memberships of the document.
	FindTargetDocumentsByPath(path string) ([]*TargetDocumentInfo, error)
}
