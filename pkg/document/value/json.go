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

package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	gotime "time"

	"github.com/yorkie-team/docsync/pkg/document/key"
)

// encoded is the tagged JSON representation of a value. Exactly one field is set.
type encoded struct {
	Null      *bool               `json:"nullValue,omitempty"`
	Boolean   *bool               `json:"booleanValue,omitempty"`
	Integer   *string             `json:"integerValue,omitempty"`
	Double    *float64            `json:"doubleValue,omitempty"`
	Timestamp *string             `json:"timestampValue,omitempty"`
	String    *string             `json:"stringValue,omitempty"`
	Bytes     *string             `json:"bytesValue,omitempty"`
	Reference *string             `json:"referenceValue,omitempty"`
	Array     []*encoded          `json:"arrayValue,omitempty"`
	Map       map[string]*encoded `json:"mapValue,omitempty"`
	EmptyArr  bool                `json:"emptyArray,omitempty"`
}

// Encode converts a normalized value into its tagged JSON representation.
// Pending server timestamps are encoded as their previous value since they
// never leave the client.
func Encode(v any) (json.RawMessage, error) {
	e, err := encode(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode converts the tagged JSON representation back into a value.
func Decode(data json.RawMessage) (any, error) {
	e := &encoded{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return decode(e)
}

func encode(v any) (*encoded, error) {
	switch val := v.(type) {
	case nil:
		t := true
		return &encoded{Null: &t}, nil
	case bool:
		return &encoded{Boolean: &val}, nil
	case int64:
		s := strconv.FormatInt(val, 10)
		return &encoded{Integer: &s}, nil
	case float64:
		return &encoded{Double: &val}, nil
	case gotime.Time:
		s := val.UTC().Format(gotime.RFC3339Nano)
		return &encoded{Timestamp: &s}, nil
	case ServerTimestamp:
		return encode(val.Previous)
	case string:
		return &encoded{String: &val}, nil
	case []byte:
		s := base64.StdEncoding.EncodeToString(val)
		return &encoded{Bytes: &s}, nil
	case key.Key:
		s := val.String()
		return &encoded{Reference: &s}, nil
	case []any:
		if len(val) == 0 {
			return &encoded{EmptyArr: true}, nil
		}
		arr := make([]*encoded, len(val))
		for i, elem := range val {
			e, err := encode(elem)
			if err != nil {
				return nil, err
			}
			arr[i] = e
		}
		return &encoded{Array: arr}, nil
	case map[string]any:
		m := make(map[string]*encoded, len(val))
		for k, elem := range val {
			e, err := encode(elem)
			if err != nil {
				return nil, err
			}
			m[k] = e
		}
		return &encoded{Map: m}, nil
	case Object:
		return encode(map[string]any(val))
	}

	return nil, fmt.Errorf("%T: %w", v, ErrUnsupportedType)
}

func decode(e *encoded) (any, error) {
	switch {
	case e.Null != nil:
		return nil, nil
	case e.Boolean != nil:
		return *e.Boolean, nil
	case e.Integer != nil:
		i, err := strconv.ParseInt(*e.Integer, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode integer: %w", err)
		}
		return i, nil
	case e.Double != nil:
		return *e.Double, nil
	case e.Timestamp != nil:
		t, err := gotime.Parse(gotime.RFC3339Nano, *e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("decode timestamp: %w", err)
		}
		return t.UTC(), nil
	case e.String != nil:
		return *e.String, nil
	case e.Bytes != nil:
		b, err := base64.StdEncoding.DecodeString(*e.Bytes)
		if err != nil {
			return nil, fmt.Errorf("decode bytes: %w", err)
		}
		return b, nil
	case e.Reference != nil:
		return key.FromPath(*e.Reference)
	case e.EmptyArr:
		return []any{}, nil
	case e.Array != nil:
		arr := make([]any, len(e.Array))
		for i, elem := range e.Array {
			v, err := decode(elem)
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return arr, nil
	default:
		m := make(map[string]any, len(e.Map))
		for k, elem := range e.Map {
			v, err := decode(elem)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	}
}

// MarshalJSON encodes the object with tagged values.
func (o Object) MarshalJSON() ([]byte, error) {
	return Encode(map[string]any(o))
}

// UnmarshalJSON decodes an object encoded by MarshalJSON.
func (o *Object) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = nil
		return nil
	}

	v, err := Decode(data)
	if err != nil {
		return err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("decode object: %T: %w", v, ErrUnsupportedType)
	}
	*o = m
	return nil
}
