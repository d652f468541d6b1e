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

// Package time provides the logical timestamps used to order document
// snapshots. Versions are assigned by the server; the client only compares
// and stores them.
package time

import (
	"strconv"
)

// Version is a server-assigned logical timestamp. Larger versions are newer.
type Version int64

// MinVersion is the version of a document that was never observed from the
// server, and the snapshot version before the first consistent event.
const MinVersion Version = 0

// Compare returns -1, 0 or 1 when v is older than, equal to or newer than other.
func (v Version) Compare(other Version) int {
	switch {
	case v < other:
		return -1
	case v > other:
		return 1
	default:
		return 0
	}
}

// After returns whether v is strictly newer than other.
func (v Version) After(other Version) bool {
	return v > other
}

// IsMin returns whether v is MinVersion.
func (v Version) IsMin() bool {
	return v == MinVersion
}

// String returns the version as "T<n>".
func (v Version) String() string {
	return "T" + strconv.FormatInt(int64(v), 10)
}

// Max returns the newer of the given versions.
func Max(a, b Version) Version {
	if a > b {
		return a
	}
	return b
}
