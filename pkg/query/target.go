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

package query

import (
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
)

// Target is what the server is asked to listen to: a query with its full
// ordering, or a single document.
type Target struct {
	Path    string
	Filters []Filter
	OrderBy []OrderBy
	Limit   int
}

// IsDocumentTarget returns whether the target addresses a single document.
func (t *Target) IsDocumentTarget() bool {
	_, err := key.FromPath(t.Path)
	return err == nil && len(t.Filters) == 0
}

// DocumentKey returns the key of a document target.
func (t *Target) DocumentKey() key.Key {
	k, _ := key.FromPath(t.Path)
	return k
}

// Matches returns whether the document belongs to the target, ignoring the limit.
func (t *Target) Matches(doc *document.Document) bool {
	return matches(t.Path, t.Filters, t.OrderBy, doc)
}

// Comparator returns the ordering of the target.
func (t *Target) Comparator() document.Comparator {
	return newComparator(t.OrderBy)
}

// CanonicalID returns a string that identifies the target.
func (t *Target) CanonicalID() string {
	return canonicalID(t.Path, t.Filters, t.OrderBy, t.Limit)
}

// Equal returns whether both targets are the same.
func (t *Target) Equal(other *Target) bool {
	return other != nil && t.CanonicalID() == other.CanonicalID()
}
