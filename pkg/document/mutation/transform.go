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
	"math"
	gotime "time"

	"github.com/yorkie-team/docsync/pkg/document/value"
)

// FieldTransform is a server-side transformation of a single field.
type FieldTransform struct {
	Field value.FieldPath
	Op    TransformOp
}

// Equal returns whether both transforms apply the same operation to the same field.
func (t FieldTransform) Equal(other FieldTransform) bool {
	return t.Field.Equal(other.Field) && t.Op.equal(other.Op)
}

// TransformOp is an operation applied to the previous value of a field.
type TransformOp interface {
	// applyToLocalView computes the value of the field before the server
	// has committed the write.
	applyToLocalView(previous any, localWriteTime gotime.Time) any

	// applyToRemoteDocument computes the value of the field from the result
	// returned by the server.
	applyToRemoteDocument(previous any, serverResult any) any

	equal(other TransformOp) bool
}

// ApplyTransform computes the committed value of a field for the given
// operation. It is used by servers to produce transform results.
func ApplyTransform(op TransformOp, previous any, commitTime gotime.Time) any {
	if _, ok := op.(ServerTimestampOp); ok {
		return commitTime.UTC()
	}
	return op.applyToLocalView(previous, commitTime)
}

// ServerTimestampOp sets the field to the commit time of the write.
type ServerTimestampOp struct{}

func (ServerTimestampOp) applyToLocalView(previous any, localWriteTime gotime.Time) any {
	if ts, ok := previous.(value.ServerTimestamp); ok {
		previous = ts.Previous
	}
	return value.ServerTimestamp{LocalWriteTime: localWriteTime, Previous: previous}
}

func (ServerTimestampOp) applyToRemoteDocument(_ any, serverResult any) any {
	return serverResult
}

func (ServerTimestampOp) equal(other TransformOp) bool {
	_, ok := other.(ServerTimestampOp)
	return ok
}

// ArrayUnionOp appends the elements that are not yet in the array.
type ArrayUnionOp struct {
	Elements []any
}

func (o ArrayUnionOp) applyToLocalView(previous any, _ gotime.Time) any {
	return o.apply(previous)
}

// The server does not send results for array operations, so they are
// computed the same way as for the local view.
func (o ArrayUnionOp) applyToRemoteDocument(previous any, _ any) any {
	return o.apply(previous)
}

func (o ArrayUnionOp) apply(previous any) any {
	result := coerceArray(previous)
	for _, elem := range o.Elements {
		if !containsValue(result, elem) {
			result = append(result, value.DeepCopy(elem))
		}
	}
	return result
}

func (o ArrayUnionOp) equal(other TransformOp) bool {
	op, ok := other.(ArrayUnionOp)
	return ok && value.Equal(o.Elements, op.Elements)
}

// ArrayRemoveOp removes every occurrence of the elements from the array.
type ArrayRemoveOp struct {
	Elements []any
}

func (o ArrayRemoveOp) applyToLocalView(previous any, _ gotime.Time) any {
	return o.apply(previous)
}

func (o ArrayRemoveOp) applyToRemoteDocument(previous any, _ any) any {
	return o.apply(previous)
}

func (o ArrayRemoveOp) apply(previous any) any {
	result := make([]any, 0)
	for _, elem := range coerceArray(previous) {
		if !containsValue(o.Elements, elem) {
			result = append(result, elem)
		}
	}
	return result
}

func (o ArrayRemoveOp) equal(other TransformOp) bool {
	op, ok := other.(ArrayRemoveOp)
	return ok && value.Equal(o.Elements, op.Elements)
}

// NumericIncrementOp adds the operand to the numeric value of the field. A
// non-numeric previous value counts as zero.
type NumericIncrementOp struct {
	Operand any
}

func (o NumericIncrementOp) applyToLocalView(previous any, _ gotime.Time) any {
	base := previous
	if !value.IsNumber(base) {
		base = int64(0)
	}

	bi, baseInt := base.(int64)
	oi, operandInt := o.Operand.(int64)
	if baseInt && operandInt {
		return safeAdd(bi, oi)
	}
	return toFloat(base) + toFloat(o.Operand)
}

func (o NumericIncrementOp) applyToRemoteDocument(previous any, serverResult any) any {
	if serverResult == nil {
		return o.applyToLocalView(previous, gotime.Time{})
	}
	return serverResult
}

func (o NumericIncrementOp) equal(other TransformOp) bool {
	op, ok := other.(NumericIncrementOp)
	return ok && value.Equal(o.Operand, op.Operand)
}

func safeAdd(a, b int64) int64 {
	sum := a + b
	if a > 0 && b > 0 && sum < 0 {
		return math.MaxInt64
	}
	if a < 0 && b < 0 && sum >= 0 {
		return math.MinInt64
	}
	return sum
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func coerceArray(v any) []any {
	arr, ok := v.([]any)
	if !ok {
		return []any{}
	}
	return append([]any{}, arr...)
}

func containsValue(arr []any, v any) bool {
	for _, elem := range arr {
		if value.Equal(elem, v) {
			return true
		}
	}
	return false
}
