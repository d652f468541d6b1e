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
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/value"
)

// Overlay is the single mutation that has the same effect on a document as
// all pending batches up to LargestBatchID applied in order.
type Overlay struct {
	LargestBatchID int64
	Mutation       *Mutation
}

// Key returns the key of the document the overlay applies to.
func (o *Overlay) Key() key.Key {
	return o.Mutation.Key
}

// CalculateOverlayMutation returns the mutation that turns the remote
// document into doc, given the mask of fields changed by local writes. It
// returns nil when doc carries no local mutation.
func CalculateOverlayMutation(doc *document.Document, mask *FieldMask) *Mutation {
	if !doc.HasLocalMutations() || (mask != nil && mask.Len() == 0) {
		return nil
	}

	if mask == nil {
		if doc.IsNoDocument() {
			return NewDelete(doc.Key(), NoPrecondition)
		}
		return NewSet(doc.Key(), doc.Data().Clone())
	}

	patch := value.Object{}
	var paths []value.FieldPath
	for _, path := range mask.Fields() {
		if containsPath(paths, path) {
			continue
		}

		v, ok := doc.Data().Get(path)
		if !ok && len(path) > 1 {
			path = path.Parent()
			v, ok = doc.Data().Get(path)
		}
		if ok {
			patch.Set(path, value.DeepCopy(v))
		} else {
			patch.Delete(path)
		}
		paths = append(paths, path)
	}

	return NewPatch(doc.Key(), patch, NewFieldMask(paths...), NoPrecondition)
}

func containsPath(paths []value.FieldPath, path value.FieldPath) bool {
	for _, p := range paths {
		if p.Equal(path) {
			return true
		}
	}
	return false
}
