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

package types

import (
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
)

// TargetChange is the change of a single target within a remote event.
type TargetChange struct {
	// ResumeToken is the token to resume the target from this snapshot.
	// It is empty when the target did not receive a new token.
	ResumeToken []byte

	// Current is true once the target is in sync with the server.
	Current bool

	AddedDocuments    key.Set
	ModifiedDocuments key.Set
	RemovedDocuments  key.Set
}

// NewTargetChange creates an empty target change.
func NewTargetChange(token []byte, current bool) *TargetChange {
	return &TargetChange{
		ResumeToken:       token,
		Current:           current,
		AddedDocuments:    key.NewSet(),
		ModifiedDocuments: key.NewSet(),
		RemovedDocuments:  key.NewSet(),
	}
}

// RemoteEvent is a consistent snapshot of the changes received on the
// listen stream.
type RemoteEvent struct {
	SnapshotVersion time.Version

	// TargetChanges holds the changes of every target that changed.
	TargetChanges map[TargetID]*TargetChange

	// TargetMismatches holds the targets that must be reset, with the
	// purpose they must be listened to again with.
	TargetMismatches map[TargetID]TargetPurpose

	// DocumentUpdates holds the new state of every changed document.
	DocumentUpdates map[key.Key]*document.Document

	// ResolvedLimboDocuments holds the documents whose only target is a
	// limbo resolution target.
	ResolvedLimboDocuments key.Set
}

// NewRemoteEvent creates an empty event at the given version.
func NewRemoteEvent(snapshotVersion time.Version) *RemoteEvent {
	return &RemoteEvent{
		SnapshotVersion:        snapshotVersion,
		TargetChanges:          make(map[TargetID]*TargetChange),
		TargetMismatches:       make(map[TargetID]TargetPurpose),
		DocumentUpdates:        make(map[key.Key]*document.Document),
		ResolvedLimboDocuments: key.NewSet(),
	}
}

// OnlineState is the connectivity of the client as seen by callers.
type OnlineState int

const (
	// OnlineStateUnknown is the state before the first connection attempt
	// resolved.
	OnlineStateUnknown OnlineState = iota

	// OnlineStateOnline means the listen stream is healthy.
	OnlineStateOnline

	// OnlineStateOffline means the client failed to reach the server.
	OnlineStateOffline
)

// String returns the string representation of the state.
func (s OnlineState) String() string {
	switch s {
	case OnlineStateOnline:
		return "online"
	case OnlineStateOffline:
		return "offline"
	default:
		return "unknown"
	}
}
