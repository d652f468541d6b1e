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

package mutation

import (
	"fmt"
	gotime "time"

	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/errors"
)

// UnknownBatchID is the id of no batch. Batch ids start at 1.
const UnknownBatchID int64 = -1

// ErrMismatchedResults is returned when a write response does not carry one
// result per mutation of the batch.
var ErrMismatchedResults = errors.Internal("mismatched mutation results").WithCode("ErrMismatchedResults")

// Batch is a group of mutations written atomically.
type Batch struct {
	ID             int64
	LocalWriteTime gotime.Time
	Mutations      []*Mutation
}

// ApplyToLocalView applies the mutations of the batch that target the given
// document. Preconditions are checked against base, the remote document
// before any pending batch was applied, as the server checks them against
// its committed state. It returns the mask of changed fields as
// ApplyToLocalView of Mutation does.
func (b *Batch) ApplyToLocalView(doc, base *document.Document, mask *FieldMask) *FieldMask {
	for _, m := range b.Mutations {
		if m.Key == doc.Key() {
			mask = m.applyToLocalView(doc, base, mask, b.LocalWriteTime)
		}
	}
	return mask
}

// ApplyToRemoteDocument applies the acknowledged mutations of the batch that
// target the given document.
func (b *Batch) ApplyToRemoteDocument(doc *document.Document, result *BatchResult) {
	for i, m := range b.Mutations {
		if m.Key == doc.Key() {
			m.ApplyToRemoteDocument(doc, result.MutationResults[i])
		}
	}
}

// Keys returns the keys of the documents the batch writes.
func (b *Batch) Keys() key.Set {
	keys := key.NewSet()
	for _, m := range b.Mutations {
		keys.Add(m.Key)
	}
	return keys
}

// AffectsKey returns whether the batch writes the given document.
func (b *Batch) AffectsKey(k key.Key) bool {
	for _, m := range b.Mutations {
		if m.Key == k {
			return true
		}
	}
	return false
}

// Clone returns a copy of the batch that shares the mutations.
func (b *Batch) Clone() *Batch {
	return &Batch{
		ID:             b.ID,
		LocalWriteTime: b.LocalWriteTime,
		Mutations:      append([]*Mutation{}, b.Mutations...),
	}
}

// BatchResult is the acknowledgement of a batch by the server.
type BatchResult struct {
	Batch           *Batch
	CommitVersion   time.Version
	MutationResults []*Result
	StreamToken     []byte

	// DocVersions maps each written document to the version the server
	// assigned to it.
	DocVersions map[key.Key]time.Version
}

// NewBatchResult creates the acknowledgement of the given batch.
func NewBatchResult(
	batch *Batch,
	commitVersion time.Version,
	results []*Result,
	streamToken []byte,
) (*BatchResult, error) {
	if len(batch.Mutations) != len(results) {
		return nil, fmt.Errorf(
			"batch %d: %d mutations, %d results: %w",
			batch.ID,
			len(batch.Mutations),
			len(results),
			ErrMismatchedResults,
		)
	}

	versions := make(map[key.Key]time.Version, len(results))
	for i, m := range batch.Mutations {
		versions[m.Key] = results[i].Version
	}

	return &BatchResult{
		Batch:           batch,
		CommitVersion:   commitVersion,
		MutationResults: results,
		StreamToken:     streamToken,
		DocVersions:     versions,
	}, nil
}
