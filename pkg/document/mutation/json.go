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
	"encoding/json"
	"fmt"

	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/document/value"
)

const (
	kindServerTimestamp = "serverTimestamp"
	kindArrayUnion      = "arrayUnion"
	kindArrayRemove     = "arrayRemove"
	kindIncrement       = "increment"
)

type wireMutation struct {
	Type         Type            `json:"type"`
	Key          key.Key         `json:"key"`
	Value        value.Object    `json:"value,omitempty"`
	Mask         []string        `json:"mask,omitempty"`
	Precondition Precondition    `json:"precondition"`
	Transforms   []wireTransform `json:"transforms,omitempty"`
}

type wireTransform struct {
	Field   string          `json:"field"`
	Kind    string          `json:"kind"`
	Operand json.RawMessage `json:"operand,omitempty"`
}

type wireResult struct {
	Version          time.Version      `json:"version"`
	TransformResults []json.RawMessage `json:"transformResults,omitempty"`
}

// MarshalJSON encodes the mutation for the write stream.
func (m *Mutation) MarshalJSON() ([]byte, error) {
	w := wireMutation{
		Type:         m.Type,
		Key:          m.Key,
		Value:        m.Value,
		Precondition: m.Precondition,
	}
	for _, path := range m.Mask.Fields() {
		w.Mask = append(w.Mask, path.String())
	}

	for _, t := range m.Transforms {
		wt := wireTransform{Field: t.Field.String()}
		var operand any
		switch op := t.Op.(type) {
		case ServerTimestampOp:
			wt.Kind = kindServerTimestamp
		case ArrayUnionOp:
			wt.Kind, operand = kindArrayUnion, op.Elements
		case ArrayRemoveOp:
			wt.Kind, operand = kindArrayRemove, op.Elements
		case NumericIncrementOp:
			wt.Kind, operand = kindIncrement, op.Operand
		default:
			return nil, fmt.Errorf("transform %T: %w", t.Op, ErrInvalidData)
		}

		if wt.Kind != kindServerTimestamp {
			raw, err := value.Encode(operand)
			if err != nil {
				return nil, err
			}
			wt.Operand = raw
		}
		w.Transforms = append(w.Transforms, wt)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes a mutation encoded by MarshalJSON.
func (m *Mutation) UnmarshalJSON(data []byte) error {
	w := wireMutation{}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode mutation: %w", err)
	}

	*m = Mutation{
		Type:         w.Type,
		Key:          w.Key,
		Value:        w.Value,
		Precondition: w.Precondition,
	}
	if m.Value == nil {
		m.Value = value.Object{}
	}
	if w.Type == TypePatch {
		paths := make([]value.FieldPath, 0, len(w.Mask))
		for _, p := range w.Mask {
			paths = append(paths, value.ParseFieldPath(p))
		}
		m.Mask = NewFieldMask(paths...)
	}

	for _, wt := range w.Transforms {
		var operand any
		if len(wt.Operand) > 0 {
			decoded, err := value.Decode(wt.Operand)
			if err != nil {
				return err
			}
			operand = decoded
		}

		t := FieldTransform{Field: value.ParseFieldPath(wt.Field)}
		switch wt.Kind {
		case kindServerTimestamp:
			t.Op = ServerTimestampOp{}
		case kindArrayUnion:
			elements, _ := operand.([]any)
			t.Op = ArrayUnionOp{Elements: elements}
		case kindArrayRemove:
			elements, _ := operand.([]any)
			t.Op = ArrayRemoveOp{Elements: elements}
		case kindIncrement:
			t.Op = NumericIncrementOp{Operand: operand}
		default:
			return fmt.Errorf("transform kind %q: %w", wt.Kind, ErrInvalidData)
		}
		m.Transforms = append(m.Transforms, t)
	}

	return nil
}

// MarshalJSON encodes the result for the write stream.
func (r *Result) MarshalJSON() ([]byte, error) {
	w := wireResult{Version: r.Version}
	for _, v := range r.TransformResults {
		raw, err := value.Encode(v)
		if err != nil {
			return nil, err
		}
		w.TransformResults = append(w.TransformResults, raw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a result encoded by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	w := wireResult{}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}

	r.Version = w.Version
	r.TransformResults = nil
	for _, raw := range w.TransformResults {
		v, err := value.Decode(raw)
		if err != nil {
			return err
		}
		r.TransformResults = append(r.TransformResults, v)
	}
	return nil
}
