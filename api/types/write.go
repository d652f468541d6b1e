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

package types

import (
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/time"
)

// WriteRequest is a frame sent on the write stream. The first request of a
// stream is the handshake and carries no writes.
type WriteRequest struct {
	StreamToken []byte               `json:"streamToken,omitempty"`
	Writes      []*mutation.Mutation `json:"writes,omitempty"`
}

// WriteResponse is a frame received on the write stream. It answers the
// handshake or acknowledges the oldest unacknowledged request.
type WriteResponse struct {
	StreamToken  []byte             `json:"streamToken"`
	WriteResults []*mutation.Result `json:"writeResults,omitempty"`
	CommitTime   time.Version       `json:"commitTime"`
}
