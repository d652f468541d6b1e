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

// Package value provides the field values stored in documents, the total
// ordering between them and the field map of a document.
package value

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	gotime "time"

	"github.com/yorkie-team/docsync/pkg/document/key"
)

// ErrUnsupportedType is returned when a Go value cannot be stored in a document.
var ErrUnsupportedType = errors.New("unsupported value type")

// ServerTimestamp is the local placeholder of a field whose value will be
// assigned by the server when the write is committed.
type ServerTimestamp struct {
	LocalWriteTime gotime.Time
	Previous       any
}

// typeOrder is the rank of a value type in the total ordering of values.
type typeOrder int

const (
	orderNull typeOrder = iota
	orderBoolean
	orderNumber
	orderTimestamp
	orderServerTimestamp
	orderString
	orderBytes
	orderReference
	orderArray
	orderMap
)

func orderOf(v any) typeOrder {
	switch v.(type) {
	case nil:
		return orderNull
	case bool:
		return orderBoolean
	case int64, float64:
		return orderNumber
	case gotime.Time:
		return orderTimestamp
	case ServerTimestamp:
		return orderServerTimestamp
	case string:
		return orderString
	case []byte:
		return orderBytes
	case key.Key:
		return orderReference
	case []any:
		return orderArray
	case map[string]any:
		return orderMap
	default:
		panic(fmt.Sprintf("value: unnormalized type %T", v))
	}
}

// Normalize converts the given Go value into the canonical representation
// used by documents: int64, float64, string, bool, nil, []byte, time.Time,
// key.Key, []any and map[string]any.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, int64, float64, string, key.Key, ServerTimestamp:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case []byte:
		return append([]byte(nil), val...), nil
	case gotime.Time:
		return val.UTC(), nil
	case Object:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case []any:
		arr := make([]any, len(val))
		for i, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, err
			}
			arr[i] = n
		}
		return arr, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		arr := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			arr[i] = n
		}
		return arr, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			n, err := Normalize(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			m[iter.Key().String()] = n
		}
		return m, nil
	}

	return nil, fmt.Errorf("%T: %w", v, ErrUnsupportedType)
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(m))
	for k, elem := range m {
		n, err := Normalize(elem)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		result[k] = n
	}
	return result, nil
}

// Compare compares two normalized values. Values of different types are
// ordered by type; numbers compare numerically regardless of representation.
func Compare(a, b any) int {
	oa, ob := orderOf(a), orderOf(b)
	if oa != ob {
		return compareInt(int64(oa), int64(ob))
	}

	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case int64, float64:
		return compareNumbers(a, b)
	case gotime.Time:
		return av.Compare(b.(gotime.Time))
	case ServerTimestamp:
		return av.LocalWriteTime.Compare(b.(ServerTimestamp).LocalWriteTime)
	case string:
		return strings.Compare(av, b.(string))
	case []byte:
		return bytes.Compare(av, b.([]byte))
	case key.Key:
		return av.Compare(b.(key.Key))
	case []any:
		bv := b.([]any)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := Compare(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return compareInt(int64(len(av)), int64(len(bv)))
	case map[string]any:
		return compareMaps(av, b.(map[string]any))
	}

	return 0
}

// Equal returns whether both values are equal. Unlike Compare, an integer
// and a double are never equal.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return false
		}
		if math.IsNaN(av) && math.IsNaN(bv) {
			return true
		}
		return av == bv
	}

	if orderOf(a) != orderOf(b) {
		return false
	}
	return Compare(a, b) == 0
}

// IsNumber returns whether v is a normalized number.
func IsNumber(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func compareNumbers(a, b any) int {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		return compareInt(ai, bi)
	}

	af, bf := toFloat(a), toFloat(b)
	switch {
	case math.IsNaN(af) && math.IsNaN(bf):
		return 0
	case math.IsNaN(af):
		return -1
	case math.IsNaN(bf):
		return 1
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return math.NaN()
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareMaps(a, b map[string]any) int {
	ak, bk := sortedKeys(a), sortedKeys(b)
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := Compare(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return compareInt(int64(len(ak)), int64(len(bk)))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DeepCopy returns a copy of the given normalized value that shares no
// mutable state with it.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case []any:
		arr := make([]any, len(val))
		for i, elem := range val {
			arr[i] = DeepCopy(elem)
		}
		return arr
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, elem := range val {
			m[k] = DeepCopy(elem)
		}
		return m
	case []byte:
		return append([]byte(nil), val...)
	case ServerTimestamp:
		return ServerTimestamp{LocalWriteTime: val.LocalWriteTime, Previous: DeepCopy(val.Previous)}
	default:
		return val
	}
}

// EstimateSize returns the approximate number of bytes the value occupies.
func EstimateSize(v any) int {
	switch val := v.(type) {
	case nil, bool:
		return 4
	case int64, float64:
		return 8
	case gotime.Time:
		return 16
	case ServerTimestamp:
		return 16 + EstimateSize(val.Previous)
	case string:
		return len(val) + 1
	case []byte:
		return len(val)
	case key.Key:
		return len(val.String()) + 16
	case []any:
		size := 0
		for _, elem := range val {
			size += EstimateSize(elem)
		}
		return size
	case map[string]any:
		size := 0
		for k, elem := range val {
			size += len(k) + 1 + EstimateSize(elem)
		}
		return size
	}
	return 0
}

// SameType returns whether both normalized values have the same type in the
// value ordering. Integers and doubles are both numbers.
func SameType(a, b any) bool {
	return orderOf(a) == orderOf(b)
}
