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
	"encoding/json"
	"fmt"

	"github.com/yorkie-team/docsync/pkg/document/value"
)

type wireFilter struct {
	Field string          `json:"field"`
	Op    Operator        `json:"op"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the filter with a tagged value.
func (f Filter) MarshalJSON() ([]byte, error) {
	raw, err := value.Encode(f.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireFilter{Field: f.Field.String(), Op: f.Op, Value: raw})
}

// UnmarshalJSON decodes a filter encoded by MarshalJSON.
func (f *Filter) UnmarshalJSON(data []byte) error {
	w := wireFilter{}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode filter: %w", err)
	}

	v, err := value.Decode(w.Value)
	if err != nil {
		return err
	}

	*f = Filter{Field: value.ParseFieldPath(w.Field), Op: w.Op, Value: v}
	return nil
}
