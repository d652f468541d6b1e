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
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/document/value"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

// Status is an error carried by a frame.
type Status struct {
	Code    errors.StatusCode `json:"code"`
	Message string            `json:"message"`
}

// Err returns the status as an error.
func (s *Status) Err() error {
	if s == nil || s.Code == errors.ErrCodeOK {
		return nil
	}
	return errors.New(s.Code, s.Message)
}

// StatusFromError creates the status carried for the given error.
func StatusFromError(err error) *Status {
	return &Status{Code: errors.StatusOf(err), Message: err.Error()}
}

// ListenRequest is a frame sent on the listen stream. Exactly one of
// AddTarget and RemoveTarget is set.
type ListenRequest struct {
	AddTarget    *TargetRequest    `json:"addTarget,omitempty"`
	RemoveTarget TargetID          `json:"removeTarget,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// TargetRequest registers a target on the listen stream.
type TargetRequest struct {
	TargetID TargetID      `json:"targetId"`
	Target   *query.Target `json:"target"`

	// ResumeToken resumes the target. When empty, ReadTime may be set to
	// resume from a snapshot version instead.
	ResumeToken []byte       `json:"resumeToken,omitempty"`
	ReadTime    time.Version `json:"readTime,omitempty"`

	// ExpectedCount asks the server to send an existence filter when it
	// disagrees with the number of documents the client has.
	ExpectedCount *int32 `json:"expectedCount,omitempty"`
}

// TargetChangeType is the kind of a target change frame.
type TargetChangeType int

// The target change kinds.
const (
	TargetChangeNoChange TargetChangeType = iota
	TargetChangeAdd
	TargetChangeRemove
	TargetChangeCurrent
	TargetChangeReset
)

// String returns the string representation of the type.
func (t TargetChangeType) String() string {
	switch t {
	case TargetChangeNoChange:
		return "NO_CHANGE"
	case TargetChangeAdd:
		return "ADD"
	case TargetChangeRemove:
		return "REMOVE"
	case TargetChangeCurrent:
		return "CURRENT"
	case TargetChangeReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// ListenResponse is a frame received on the listen stream. Exactly one of
// its fields is set.
type ListenResponse struct {
	TargetChange   *WatchTargetChange `json:"targetChange,omitempty"`
	DocumentChange *DocumentChange    `json:"documentChange,omitempty"`
	DocumentDelete *DocumentDelete    `json:"documentDelete,omitempty"`
	DocumentRemove *DocumentRemove    `json:"documentRemove,omitempty"`
	Filter         *ExistenceFilter   `json:"filter,omitempty"`
}

// WatchTargetChange reports a change in the state of targets. An empty
// TargetIDs applies to all targets.
type WatchTargetChange struct {
	Type        TargetChangeType `json:"type"`
	TargetIDs   []TargetID       `json:"targetIds,omitempty"`
	Cause       *Status          `json:"cause,omitempty"`
	ResumeToken []byte           `json:"resumeToken,omitempty"`
	ReadTime    time.Version     `json:"readTime,omitempty"`
}

// Document is a document as sent by the server.
type Document struct {
	Key        key.Key      `json:"key"`
	Fields     value.Object `json:"fields"`
	UpdateTime time.Version `json:"updateTime"`
}

// DocumentChange reports a document that was added to or changed in the
// given targets, or removed from RemovedTargetIDs.
type DocumentChange struct {
	Document         *Document  `json:"document"`
	TargetIDs        []TargetID `json:"targetIds,omitempty"`
	RemovedTargetIDs []TargetID `json:"removedTargetIds,omitempty"`
}

// DocumentDelete reports a document that was deleted.
type DocumentDelete struct {
	Key              key.Key      `json:"key"`
	ReadTime         time.Version `json:"readTime"`
	RemovedTargetIDs []TargetID   `json:"removedTargetIds,omitempty"`
}

// DocumentRemove reports a document that no longer matches the given targets.
type DocumentRemove struct {
	Key              key.Key      `json:"key"`
	ReadTime         time.Version `json:"readTime"`
	RemovedTargetIDs []TargetID   `json:"removedTargetIds,omitempty"`
}

// ExistenceFilter reports the number of documents the server has for a
// target, optionally with a bloom filter of their paths.
type ExistenceFilter struct {
	TargetID       TargetID    `json:"targetId"`
	Count          int32       `json:"count"`
	UnchangedNames *BloomFilter `json:"unchangedNames,omitempty"`
}

// BloomFilter is the wire representation of a bloom filter.
type BloomFilter struct {
	Bits      []byte `json:"bits"`
	Padding   int    `json:"padding"`
	HashCount int    `json:"hashCount"`
}
