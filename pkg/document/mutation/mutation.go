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

// Package mutation provides the write operations queued by the client, their
// local and remote application to documents, and the overlay that collapses
// all pending writes of a document into a single mutation.
package mutation

import (
	"fmt"
	gotime "time"

	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/document/value"
)

// Type represents the kind of a mutation.
type Type int

const (
	// TypeSet replaces the whole document.
	TypeSet Type = iota

	// TypePatch updates the fields listed in the mask.
	TypePatch

	// TypeDelete deletes the document.
	TypeDelete

	// TypeVerify only checks the precondition on the server.
	TypeVerify
)

// String returns the string representation of the type.
func (t Type) String() string {
	switch t {
	case TypeSet:
		return "set"
	case TypePatch:
		return "patch"
	case TypeDelete:
		return "delete"
	case TypeVerify:
		return "verify"
	default:
		return fmt.Sprintf("type_%d", int(t))
	}
}

// Mutation is a single write to one document.
type Mutation struct {
	Type         Type
	Key          key.Key
	Value        value.Object
	Mask         *FieldMask
	Precondition Precondition
	Transforms   []FieldTransform
}

// Result is the outcome of a mutation committed by the server.
type Result struct {
	// Version is the commit version for a write, or the version of the
	// document the write was applied to for a verify.
	Version time.Version

	// TransformResults holds one value per field transform of the mutation.
	TransformResults []any
}

// NewSet creates a mutation that replaces the document with the given data.
func NewSet(k key.Key, data value.Object, transforms ...FieldTransform) *Mutation {
	return &Mutation{
		Type:       TypeSet,
		Key:        k,
		Value:      data,
		Transforms: transforms,
	}
}

// NewPatch creates a mutation that writes the masked fields of data. Fields
// in the mask that are absent from data are deleted.
func NewPatch(
	k key.Key,
	data value.Object,
	mask *FieldMask,
	precondition Precondition,
	transforms ...FieldTransform,
) *Mutation {
	return &Mutation{
		Type:         TypePatch,
		Key:          k,
		Value:        data,
		Mask:         mask,
		Precondition: precondition,
		Transforms:   transforms,
	}
}

// NewDelete creates a mutation that deletes the document.
func NewDelete(k key.Key, precondition Precondition) *Mutation {
	return &Mutation{Type: TypeDelete, Key: k, Precondition: precondition}
}

// NewVerify creates a mutation that only verifies the precondition.
func NewVerify(k key.Key, precondition Precondition) *Mutation {
	return &Mutation{Type: TypeVerify, Key: k, Precondition: precondition}
}

// ApplyToLocalView applies the mutation to the local view of the document,
// for a write that has not been acknowledged yet. previousMask is the mask of
// fields changed by the earlier mutations on this document, where nil means
// the whole document has been replaced. The returned mask includes the fields
// changed by this mutation.
func (m *Mutation) ApplyToLocalView(
	doc *document.Document,
	previousMask *FieldMask,
	localWriteTime gotime.Time,
) *FieldMask {
	return m.applyToLocalView(doc, doc, previousMask, localWriteTime)
}

// applyToLocalView is ApplyToLocalView with the precondition checked against
// base, the remote document before any pending write was applied.
func (m *Mutation) applyToLocalView(
	doc *document.Document,
	base *document.Document,
	previousMask *FieldMask,
	localWriteTime gotime.Time,
) *FieldMask {
	if !m.Precondition.IsValidFor(base) {
		return previousMask
	}

	switch m.Type {
	case TypeSet:
		results := m.localTransformResults(doc, localWriteTime)
		data := m.Value.Clone()
		applyTransformResults(data, m.Transforms, results)
		doc.ConvertToFound(doc.Version(), data).SetHasLocalMutations()
		return nil
	case TypePatch:
		results := m.localTransformResults(doc, localWriteTime)
		data := doc.Data().Clone()
		m.applyPatch(data)
		applyTransformResults(data, m.Transforms, results)
		doc.ConvertToFound(doc.Version(), data).SetHasLocalMutations()
		if previousMask == nil {
			return nil
		}
		return previousMask.Union(m.Mask.Fields()...).Union(m.transformFields()...)
	case TypeDelete:
		doc.ConvertToNoDocument(doc.Version()).SetHasLocalMutations()
		return nil
	default:
		return previousMask
	}
}

// ApplyToRemoteDocument applies the mutation to the remote document after the
// server acknowledged it with the given result.
func (m *Mutation) ApplyToRemoteDocument(doc *document.Document, result *Result) {
	switch m.Type {
	case TypeSet:
		data := m.Value.Clone()
		applyTransformResults(data, m.Transforms, m.serverTransformResults(doc, result.TransformResults))
		doc.ConvertToFound(result.Version, data).SetHasCommittedMutations()
	case TypePatch:
		if !m.Precondition.IsValidFor(doc) {
			// The server applied the patch to a document the client does not
			// know about, so the result cannot be computed locally.
			doc.ConvertToUnknown(result.Version)
			return
		}
		results := m.serverTransformResults(doc, result.TransformResults)
		data := doc.Data().Clone()
		m.applyPatch(data)
		applyTransformResults(data, m.Transforms, results)
		doc.ConvertToFound(result.Version, data).SetHasCommittedMutations()
	case TypeDelete:
		doc.ConvertToNoDocument(result.Version).SetHasCommittedMutations()
	}
}

// FieldPaths returns the fields the mutation writes, or nil when it replaces
// or deletes the whole document.
func (m *Mutation) FieldPaths() []value.FieldPath {
	if m.Type != TypePatch {
		return nil
	}
	return append(append([]value.FieldPath{}, m.Mask.Fields()...), m.transformFields()...)
}

// Equal returns whether both mutations write the same thing.
func (m *Mutation) Equal(other *Mutation) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.Type != other.Type || m.Key != other.Key || m.Precondition != other.Precondition {
		return false
	}
	if !m.Value.Equal(other.Value) || !m.Mask.Equal(other.Mask) || len(m.Transforms) != len(other.Transforms) {
		return false
	}
	for i := range m.Transforms {
		if !m.Transforms[i].Equal(other.Transforms[i]) {
			return false
		}
	}
	return true
}

// String returns a debug representation of the mutation.
func (m *Mutation) String() string {
	return fmt.Sprintf("%s(%s %v)", m.Type, m.Key, map[string]any(m.Value))
}

func (m *Mutation) applyPatch(data value.Object) {
	for _, path := range m.Mask.Fields() {
		if v, ok := m.Value.Get(path); ok {
			data.Set(path, value.DeepCopy(v))
		} else {
			data.Delete(path)
		}
	}
}

func (m *Mutation) transformFields() []value.FieldPath {
	fields := make([]value.FieldPath, 0, len(m.Transforms))
	for _, t := range m.Transforms {
		fields = append(fields, t.Field)
	}
	return fields
}

func (m *Mutation) localTransformResults(doc *document.Document, localWriteTime gotime.Time) []any {
	results := make([]any, len(m.Transforms))
	for i, t := range m.Transforms {
		previous, _ := doc.Data().Get(t.Field)
		results[i] = t.Op.applyToLocalView(previous, localWriteTime)
	}
	return results
}

func (m *Mutation) serverTransformResults(doc *document.Document, serverResults []any) []any {
	results := make([]any, len(m.Transforms))
	for i, t := range m.Transforms {
		previous, _ := doc.Data().Get(t.Field)
		var serverResult any
		if i < len(serverResults) {
			serverResult = serverResults[i]
		}
		results[i] = t.Op.applyToRemoteDocument(previous, serverResult)
	}
	return results
}

func applyTransformResults(data value.Object, transforms []FieldTransform, results []any) {
	for i, t := range transforms {
		data.Set(t.Field, results[i])
	}
}
