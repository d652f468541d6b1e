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

package persistence

import (
	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/time"
)

// GlobalID is the id of the single row of the global tables.
const GlobalID = "global"

// SentinelTargetID is the target id of the rows in the target document
// table that carry the last sequence number of a document instead of a
// membership. Real target ids are never 0.
const SentinelTargetID types.TargetID = 0

// MutationQueueInfo is the metadata of the mutation queue of a user.
type MutationQueueInfo struct {
	// UserKey is the key of the user the queue belongs to.
	UserKey string

	// LastAcknowledgedBatchID is the id of the last batch the server acknowledged.
	LastAcknowledgedBatchID int64

	// LastStreamToken is the token of the last write stream response.
	LastStreamToken []byte
}

// DeepCopy returns a deep copy of the MutationQueueInfo.
func (i *MutationQueueInfo) DeepCopy() *MutationQueueInfo {
	if i == nil {
		return nil
	}

	return &MutationQueueInfo{
		UserKey:                 i.UserKey,
		LastAcknowledgedBatchID: i.LastAcknowledgedBatchID,
		LastStreamToken:         append([]byte(nil), i.LastStreamToken...),
	}
}

// MutationBatchInfo is a pending batch of a user.
type MutationBatchInfo struct {
	UserKey string
	BatchID int64
	Batch   *mutation.Batch
}

// DeepCopy returns a copy of the MutationBatchInfo. Mutations are immutable
// and shared.
func (i *MutationBatchInfo) DeepCopy() *MutationBatchInfo {
	if i == nil {
		return nil
	}

	return &MutationBatchInfo{
		UserKey: i.UserKey,
		BatchID: i.BatchID,
		Batch:   i.Batch.Clone(),
	}
}

// DocumentMutationInfo indexes the batches of a user by the documents they
// write.
type DocumentMutationInfo struct {
	UserKey        string
	Path           string
	CollectionPath string
	BatchID        int64
}

// DeepCopy returns a copy of the DocumentMutationInfo.
func (i *DocumentMutationInfo) DeepCopy() *DocumentMutationInfo {
	if i == nil {
		return nil
	}

	clone := *i
	return &clone
}

// OverlayInfo is the overlay of a document for a user.
type OverlayInfo struct {
	UserKey        string
	Path           string
	CollectionPath string
	LargestBatchID int64
	Overlay        *mutation.Overlay
}

// DeepCopy returns a copy of the OverlayInfo.
func (i *OverlayInfo) DeepCopy() *OverlayInfo {
	if i == nil {
		return nil
	}

	return &OverlayInfo{
		UserKey:        i.UserKey,
		Path:           i.Path,
		CollectionPath: i.CollectionPath,
		LargestBatchID: i.LargestBatchID,
		Overlay: &mutation.Overlay{
			LargestBatchID: i.Overlay.LargestBatchID,
			Mutation:       i.Overlay.Mutation,
		},
	}
}

// RemoteDocumentInfo is a document as last seen from the server.
type RemoteDocumentInfo struct {
	Path           string
	CollectionPath string
	ReadTime       time.Version

	// Size is the approximate byte size of the document.
	Size     int
	Document *document.Document
}

// DeepCopy returns a deep copy of the RemoteDocumentInfo.
func (i *RemoteDocumentInfo) DeepCopy() *RemoteDocumentInfo {
	if i == nil {
		return nil
	}

	return &RemoteDocumentInfo{
		Path:           i.Path,
		CollectionPath: i.CollectionPath,
		ReadTime:       i.ReadTime,
		Size:           i.Size,
		Document:       i.Document.Clone(),
	}
}

// RemoteDocumentGlobalInfo is the global row of the remote document cache.
type RemoteDocumentGlobalInfo struct {
	ID       string
	ByteSize int64
}

// DeepCopy returns a copy of the RemoteDocumentGlobalInfo.
func (i *RemoteDocumentGlobalInfo) DeepCopy() *RemoteDocumentGlobalInfo {
	if i == nil {
		return nil
	}

	clone := *i
	return &clone
}

// TargetGlobalInfo is the global row of the target cache.
type TargetGlobalInfo struct {
	ID                          string
	HighestTargetID             types.TargetID
	HighestListenSequenceNumber types.SequenceNumber
	LastRemoteSnapshotVersion   time.Version
	TargetCount                 int
}

// DeepCopy returns a copy of the TargetGlobalInfo.
func (i *TargetGlobalInfo) DeepCopy() *TargetGlobalInfo {
	if i == nil {
		return nil
	}

	clone := *i
	return &clone
}

// TargetInfo is a target persisted in the target cache.
type TargetInfo struct {
	TargetID    types.TargetID
	CanonicalID string
	Data        *types.TargetData
}

// DeepCopy returns a deep copy of the TargetInfo.
func (i *TargetInfo) DeepCopy() *TargetInfo {
	if i == nil {
		return nil
	}

	return &TargetInfo{
		TargetID:    i.TargetID,
		CanonicalID: i.CanonicalID,
		Data:        i.Data.DeepCopy(),
	}
}

// TargetDocumentInfo is the membership of a document in a target, or with
// SentinelTargetID, the last sequence number the document was used at.
type TargetDocumentInfo struct {
	TargetID       types.TargetID
	Path           string
	SequenceNumber types.SequenceNumber
}

// DeepCopy returns a copy of the TargetDocumentInfo.
func (i *TargetDocumentInfo) DeepCopy() *TargetDocumentInfo {
	if i == nil {
		return nil
	}

	clone := *i
	return &clone
}
