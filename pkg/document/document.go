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

// Package document provides the cached state of a single document as known
// by the client, and an ordered set of documents used by query views.
package document

import (
	"fmt"

	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/document/value"
)

// Type represents what the client knows about the existence of a document.
type Type int

const (
	// TypeInvalid means nothing is known about the document.
	TypeInvalid Type = iota

	// TypeFound means the document exists.
	TypeFound

	// TypeNoDocument means the document is known to not exist.
	TypeNoDocument

	// TypeUnknown means the document was updated by a committed write whose
	// result the client cannot compute locally.
	TypeUnknown
)

// String returns the string representation of the type.
func (t Type) String() string {
	switch t {
	case TypeFound:
		return "found"
	case TypeNoDocument:
		return "no-document"
	case TypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// State represents whether a document reflects writes the server has not
// yet confirmed.
type State int

const (
	// StateSynced means the document is exactly as reported by the server.
	StateSynced State = iota

	// StateHasLocalMutations means pending local writes are applied.
	StateHasLocalMutations

	// StateHasCommittedMutations means acknowledged writes are applied that
	// the watch stream has not yet delivered.
	StateHasCommittedMutations
)

// Document is the mutable cached representation of a document. Callers that
// keep a document beyond the scope of a single operation must Clone it.
type Document struct {
	key      key.Key
	docType  Type
	version  time.Version
	readTime time.Version
	data     value.Object
	state    State
}

// NewInvalid creates a document about which nothing is known.
func NewInvalid(k key.Key) *Document {
	return &Document{key: k, data: value.Object{}}
}

// NewFound creates an existing document with the given data.
func NewFound(k key.Key, version time.Version, data value.Object) *Document {
	return NewInvalid(k).ConvertToFound(version, data)
}

// NewNoDocument creates a document known to be missing at the given version.
func NewNoDocument(k key.Key, version time.Version) *Document {
	return NewInvalid(k).ConvertToNoDocument(version)
}

// NewUnknown creates a document whose content is unknown at the given version.
func NewUnknown(k key.Key, version time.Version) *Document {
	return NewInvalid(k).ConvertToUnknown(version)
}

// ConvertToFound turns the document into an existing document.
func (d *Document) ConvertToFound(version time.Version, data value.Object) *Document {
	d.version = version
	d.docType = TypeFound
	d.data = data
	d.state = StateSynced
	return d
}

// ConvertToNoDocument turns the document into a missing document.
func (d *Document) ConvertToNoDocument(version time.Version) *Document {
	d.version = version
	d.docType = TypeNoDocument
	d.data = value.Object{}
	d.state = StateSynced
	return d
}

// ConvertToUnknown turns the document into a document of unknown content.
func (d *Document) ConvertToUnknown(version time.Version) *Document {
	d.version = version
	d.docType = TypeUnknown
	d.data = value.Object{}
	d.state = StateHasCommittedMutations
	return d
}

// SetHasLocalMutations marks the document as carrying pending local writes.
// Local mutations never advance the version.
func (d *Document) SetHasLocalMutations() *Document {
	d.state = StateHasLocalMutations
	d.version = time.MinVersion
	return d
}

// SetHasCommittedMutations marks the document as carrying acknowledged writes.
func (d *Document) SetHasCommittedMutations() *Document {
	d.state = StateHasCommittedMutations
	return d
}

// SetReadTime sets the snapshot version at which the document was read.
func (d *Document) SetReadTime(readTime time.Version) *Document {
	d.readTime = readTime
	return d
}

// Key returns the key of the document.
func (d *Document) Key() key.Key {
	return d.key
}

// Type returns the type of the document.
func (d *Document) Type() Type {
	return d.docType
}

// Version returns the version at which the document was last changed on the server.
func (d *Document) Version() time.Version {
	return d.version
}

// ReadTime returns the snapshot version at which the document was read.
func (d *Document) ReadTime() time.Version {
	return d.readTime
}

// Data returns the field map of the document.
func (d *Document) Data() value.Object {
	return d.data
}

// Field returns the value at the given path.
func (d *Document) Field(path value.FieldPath) (any, bool) {
	if path.IsKeyField() {
		return d.key, true
	}
	return d.data.Get(path)
}

// IsValid returns whether anything is known about the document.
func (d *Document) IsValid() bool {
	return d.docType != TypeInvalid
}

// IsFound returns whether the document exists.
func (d *Document) IsFound() bool {
	return d.docType == TypeFound
}

// IsNoDocument returns whether the document is known to be missing.
func (d *Document) IsNoDocument() bool {
	return d.docType == TypeNoDocument
}

// IsUnknown returns whether the content of the document is unknown.
func (d *Document) IsUnknown() bool {
	return d.docType == TypeUnknown
}

// HasLocalMutations returns whether pending local writes are applied.
func (d *Document) HasLocalMutations() bool {
	return d.state == StateHasLocalMutations
}

// HasCommittedMutations returns whether acknowledged but unobserved writes are applied.
func (d *Document) HasCommittedMutations() bool {
	return d.state == StateHasCommittedMutations
}

// HasPendingWrites returns whether local writes that the server has not
// acknowledged yet are applied. Acknowledged writes are not pending, even
// before the watch stream reports them.
func (d *Document) HasPendingWrites() bool {
	return d.HasLocalMutations()
}

// Size returns the approximate size of the document in bytes.
func (d *Document) Size() int {
	return len(d.key.String()) + 16 + d.data.Size()
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	return &Document{
		key:      d.key,
		docType:  d.docType,
		version:  d.version,
		readTime: d.readTime,
		data:     d.data.Clone(),
		state:    d.state,
	}
}

// Equal returns whether both documents are in the same state.
func (d *Document) Equal(other *Document) bool {
	if other == nil {
		return false
	}
	return d.key == other.key &&
		d.docType == other.docType &&
		d.version == other.version &&
		d.state == other.state &&
		d.data.Equal(other.data)
}

// String returns a debug representation of the document.
func (d *Document) String() string {
	return fmt.Sprintf("%s(%s@%s %v state=%d)", d.key, d.docType, d.version, map[string]any(d.data), d.state)
}
