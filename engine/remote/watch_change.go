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

package remote

import (
	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/errors"
)

// ErrEmptyListenResponse is returned when a frame of the listen stream
// carries nothing.
var ErrEmptyListenResponse = errors.Internal("empty listen response").WithCode("ErrEmptyListenResponse")

// DocumentWatchChange is a change of a document for some targets.
type DocumentWatchChange struct {
	// UpdatedTargetIDs are the targets the document now belongs to.
	UpdatedTargetIDs []types.TargetID

	// RemovedTargetIDs are the targets the document no longer belongs to.
	RemovedTargetIDs []types.TargetID

	Key key.Key

	// Document is the new state of the document, nil when only its
	// membership changed.
	Document *document.Document
}

// WatchChange is a decoded frame of the listen stream. Exactly one of its
// fields is set.
type WatchChange struct {
	Document *DocumentWatchChange
	Target   *types.WatchTargetChange
	Filter   *types.ExistenceFilter
}

// NewWatchChange decodes the frame.
func NewWatchChange(resp *types.ListenResponse) (*WatchChange, error) {
	switch {
	case resp.TargetChange != nil:
		return &WatchChange{Target: resp.TargetChange}, nil
	case resp.DocumentChange != nil:
		change := resp.DocumentChange
		if change.Document == nil {
			return nil, ErrEmptyListenResponse
		}
		doc := document.NewFound(change.Document.Key, change.Document.UpdateTime, change.Document.Fields)
		return &WatchChange{Document: &DocumentWatchChange{
			UpdatedTargetIDs: change.TargetIDs,
			RemovedTargetIDs: change.RemovedTargetIDs,
			Key:              doc.Key(),
			Document:         doc,
		}}, nil
	case resp.DocumentDelete != nil:
		del := resp.DocumentDelete
		return &WatchChange{Document: &DocumentWatchChange{
			RemovedTargetIDs: del.RemovedTargetIDs,
			Key:              del.Key,
			Document:         document.NewNoDocument(del.Key, del.ReadTime),
		}}, nil
	case resp.DocumentRemove != nil:
		return &WatchChange{Document: &DocumentWatchChange{
			RemovedTargetIDs: resp.DocumentRemove.RemovedTargetIDs,
			Key:              resp.DocumentRemove.Key,
		}}, nil
	case resp.Filter != nil:
		return &WatchChange{Filter: resp.Filter}, nil
	default:
		return nil, ErrEmptyListenResponse
	}
}
