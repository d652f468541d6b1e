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
	"github.com/yorkie-team/docsync/pkg/document/time"
)

// PreconditionKind represents what a precondition checks.
type PreconditionKind int

const (
	// PreconditionNone always holds.
	PreconditionNone PreconditionKind = iota

	// PreconditionExists checks whether the document exists.
	PreconditionExists

	// PreconditionUpdateTime checks the version of an existing document.
	PreconditionUpdateTime
)

// Precondition is a condition on the current state of a document that must
// hold for a mutation to be applied.
type Precondition struct {
	Kind       PreconditionKind
	Exists     bool
	UpdateTime time.Version
}

// NoPrecondition is the precondition that always holds.
var NoPrecondition = Precondition{}

// Exists creates a precondition on the existence of the document.
func Exists(exists bool) Precondition {
	return Precondition{Kind: PreconditionExists, Exists: exists}
}

// UpdateTime creates a precondition on the version of the document.
func UpdateTime(version time.Version) Precondition {
	return Precondition{Kind: PreconditionUpdateTime, UpdateTime: version}
}

// IsNone returns whether the precondition always holds.
func (p Precondition) IsNone() bool {
	return p.Kind == PreconditionNone
}

// IsValidFor returns whether the precondition holds for the given document.
func (p Precondition) IsValidFor(doc *document.Document) bool {
	switch p.Kind {
	case PreconditionExists:
		return p.Exists == doc.IsFound()
	case PreconditionUpdateTime:
		return doc.IsFound() && doc.Version() == p.UpdateTime
	default:
		return true
	}
}
