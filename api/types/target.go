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

// Package types provides the types shared by the local store, the remote
// store and the sync engine: targets, remote events and the decoded frames
// of the listen and write streams.
package types

import (
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/query"
)

// TargetID identifies a target registered on the listen stream. Query
// targets have even ids and limbo resolution targets have odd ids.
type TargetID int32

// SequenceNumber is the listen sequence number stamped on cache entries
// when they are used.
type SequenceNumber int64

// InvalidSequenceNumber is the sequence number of no entry.
const InvalidSequenceNumber SequenceNumber = -1

// TargetPurpose tells why a target is listened to.
type TargetPurpose int

const (
	// PurposeListen is a target listened to by a caller.
	PurposeListen TargetPurpose = iota

	// PurposeExistenceFilterMismatch is a target re-listened to after its
	// document count disagreed with the server.
	PurposeExistenceFilterMismatch

	// PurposeExistenceFilterMismatchBloom is like PurposeExistenceFilterMismatch
	// when a bloom filter was available but could not reconcile the target.
	PurposeExistenceFilterMismatchBloom

	// PurposeLimboResolution is a target listened to to resolve a limbo document.
	PurposeLimboResolution
)

// String returns the string representation of the purpose.
func (p TargetPurpose) String() string {
	switch p {
	case PurposeListen:
		return "listen"
	case PurposeExistenceFilterMismatch:
		return "existence-filter-mismatch"
	case PurposeExistenceFilterMismatchBloom:
		return "existence-filter-mismatch-bloom"
	case PurposeLimboResolution:
		return "limbo-document"
	default:
		return "unknown"
	}
}

// TargetData is the cached state of a target.
type TargetData struct {
	Target         *query.Target
	TargetID       TargetID
	Purpose        TargetPurpose
	SequenceNumber SequenceNumber

	// SnapshotVersion is the version of the last consistent snapshot
	// received for the target.
	SnapshotVersion time.Version

	// LastLimboFreeSnapshotVersion is the version of the last snapshot
	// in which the target had no limbo documents.
	LastLimboFreeSnapshotVersion time.Version

	// ResumeToken lets the server resume the target without resending
	// unchanged documents.
	ResumeToken []byte

	// ExpectedCount is the number of documents the client had for the
	// target when it was last listened to, nil when unknown.
	ExpectedCount *int32
}

// NewTargetData creates the state of a target that was never listened to.
func NewTargetData(
	target *query.Target,
	targetID TargetID,
	purpose TargetPurpose,
	sequenceNumber SequenceNumber,
) *TargetData {
	return &TargetData{
		Target:         target,
		TargetID:       targetID,
		Purpose:        purpose,
		SequenceNumber: sequenceNumber,
	}
}

// WithSequenceNumber returns a copy with the given sequence number.
func (d *TargetData) WithSequenceNumber(seq SequenceNumber) *TargetData {
	clone := d.DeepCopy()
	clone.SequenceNumber = seq
	return clone
}

// WithResumeToken returns a copy with the given resume token and snapshot
// version. The expected count is cleared since it only applies to the
// previous token.
func (d *TargetData) WithResumeToken(token []byte, snapshotVersion time.Version) *TargetData {
	clone := d.DeepCopy()
	clone.ResumeToken = append([]byte(nil), token...)
	clone.SnapshotVersion = snapshotVersion
	clone.ExpectedCount = nil
	return clone
}

// WithExpectedCount returns a copy with the given expected count.
func (d *TargetData) WithExpectedCount(count int32) *TargetData {
	clone := d.DeepCopy()
	clone.ExpectedCount = &count
	return clone
}

// WithLastLimboFreeSnapshotVersion returns a copy with the given version.
func (d *TargetData) WithLastLimboFreeSnapshotVersion(v time.Version) *TargetData {
	clone := d.DeepCopy()
	clone.LastLimboFreeSnapshotVersion = v
	return clone
}

// DeepCopy returns a copy of the target data.
func (d *TargetData) DeepCopy() *TargetData {
	if d == nil {
		return nil
	}

	clone := *d
	clone.ResumeToken = append([]byte(nil), d.ResumeToken...)
	if d.ExpectedCount != nil {
		count := *d.ExpectedCount
		clone.ExpectedCount = &count
	}
	return &clone
}
