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

// Package memserver provides an in-process backend that serves the listen
// and write streams from memory. It is used by tests and by the simulate
// command of the CLI.
package memserver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	gosync "sync"
	gotime "time"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/remote"
	"github.com/yorkie-team/docsync/pkg/bloom"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

// bloomFalsePositiveRate is the false positive rate of the bloom filters
// sent with existence filters.
const bloomFalsePositiveRate = 0.01

var (
	// ErrUnavailable is returned while the server is disconnected.
	ErrUnavailable = errors.Unavailable("backend unavailable").WithCode("ErrUnavailable")

	// ErrMissingHandshake is returned when the first request of a write
	// stream carries writes.
	ErrMissingHandshake = errors.InvalidArgument("missing handshake").WithCode("ErrMissingHandshake")

	// ErrPreconditionFailed is returned when a precondition of a write does
	// not hold.
	ErrPreconditionFailed = errors.FailedPrecond("precondition failed").WithCode("ErrPreconditionFailed")

	// ErrInvalidTarget is returned when a listen request has no target.
	ErrInvalidTarget = errors.InvalidArgument("invalid target").WithCode("ErrInvalidTarget")
)

// Server is an in-memory backend. It implements remote.Connection.
type Server struct {
	logger logging.Logger

	mu         gosync.Mutex
	docs       map[key.Key]*document.Document
	tombstones map[key.Key]time.Version
	version    time.Version

	listens map[*listenStream]struct{}
	writes  map[*writeStream]struct{}

	unavailable    bool
	noBloomFilters bool
	writeErrors    []error
	listenErrors   []error
	listenRequests []*types.ListenRequest
	writeCount     int
	lastUser       auth.User
}

// New creates an empty server.
func New() *Server {
	return &Server{
		logger:     logging.New("memserver"),
		docs:       make(map[key.Key]*document.Document),
		tombstones: make(map[key.Key]time.Version),
		version:    time.Version(gotime.Now().UnixMicro()),
		listens:    make(map[*listenStream]struct{}),
		writes:     make(map[*writeStream]struct{}),
	}
}

// OpenListenStream opens a listen stream.
func (s *Server) OpenListenStream(ctx context.Context, token *auth.Token) (remote.ListenStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable {
		return nil, ErrUnavailable
	}
	s.recordUser(token)

	ls := &listenStream{
		server:  s,
		ctx:     ctx,
		out:     newOutbox[types.ListenResponse](),
		targets: make(map[types.TargetID]*serverTarget),
	}
	s.listens[ls] = struct{}{}
	go s.closeOnDone(ctx, func() {
		s.mu.Lock()
		delete(s.listens, ls)
		s.mu.Unlock()
		ls.out.fail(errors.Canceled("stream canceled"))
	})
	return ls, nil
}

// OpenWriteStream opens a write stream.
func (s *Server) OpenWriteStream(ctx context.Context, token *auth.Token) (remote.WriteStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable {
		return nil, ErrUnavailable
	}
	s.recordUser(token)

	ws := &writeStream{
		server: s,
		ctx:    ctx,
		out:    newOutbox[types.WriteResponse](),
	}
	s.writes[ws] = struct{}{}
	go s.closeOnDone(ctx, func() {
		s.mu.Lock()
		delete(s.writes, ws)
		s.mu.Unlock()
		ws.out.fail(errors.Canceled("stream canceled"))
	})
	return ws, nil
}

// Close disconnects every stream.
func (s *Server) Close() error {
	s.Disconnect()
	return nil
}

func (s *Server) closeOnDone(ctx context.Context, fn func()) {
	<-ctx.Done()
	fn()
}

func (s *Server) recordUser(token *auth.Token) {
	if token == nil {
		s.lastUser = auth.Unauthenticated
		return
	}
	s.lastUser = token.User
}

// LastUser returns the user of the last opened stream.
func (s *Server) LastUser() auth.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUser
}

// Disconnect fails every open stream and refuses new ones until Reconnect.
func (s *Server) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unavailable = true
	for ls := range s.listens {
		ls.out.fail(ErrUnavailable)
	}
	for ws := range s.writes {
		ws.out.fail(ErrUnavailable)
	}
	s.listens = make(map[*listenStream]struct{})
	s.writes = make(map[*writeStream]struct{})
}

// Reconnect accepts streams again.
func (s *Server) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = false
}

// RejectNextWrite makes the next write request fail the stream with err.
func (s *Server) RejectNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErrors = append(s.writeErrors, err)
}

// RejectNextListen makes the server refuse the next target added with err.
func (s *Server) RejectNextListen(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenErrors = append(s.listenErrors, err)
}

// PurgeTombstones forgets the deleted documents, so that resumed targets
// can only learn about deletions through existence filters.
func (s *Server) PurgeTombstones() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstones = make(map[key.Key]time.Version)
}

// DisableBloomFilters makes the existence filters carry only the count of
// documents, so that a mismatch can only be resolved by a full reset.
func (s *Server) DisableBloomFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noBloomFilters = true
}

// ListenRequests returns the requests received on the listen streams.
func (s *Server) ListenRequests() []*types.ListenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.ListenRequest{}, s.listenRequests...)
}

// WriteCount returns the number of write requests committed.
func (s *Server) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCount
}

// Version returns the version of the last commit.
func (s *Server) Version() time.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Get returns the document of the given key, nil if it does not exist.
func (s *Server) Get(k key.Key) *document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[k]
	if !ok {
		return nil
	}
	return doc.Clone()
}

// Set writes the document as another client would.
func (s *Server) Set(k key.Key, data map[string]any) (time.Version, error) {
	m, err := mutation.ParseSetData(k, data)
	if err != nil {
		return time.MinVersion, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, version, err := s.commit([]*mutation.Mutation{m})
	return version, err
}

// Delete deletes the document as another client would.
func (s *Server) Delete(k key.Key) (time.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, version, err := s.commit([]*mutation.Mutation{mutation.NewDelete(k, mutation.NoPrecondition)})
	return version, err
}

func (s *Server) nextVersion() time.Version {
	next := time.Version(gotime.Now().UnixMicro())
	if next <= s.version {
		next = s.version + 1
	}
	s.version = next
	return next
}

func (s *Server) lookup(k key.Key) *document.Document {
	if doc, ok := s.docs[k]; ok {
		return doc.Clone()
	}
	if v, ok := s.tombstones[k]; ok {
		return document.NewNoDocument(k, v)
	}
	return document.NewNoDocument(k, time.MinVersion)
}

// commit applies the mutations atomically and notifies the listeners. It
// must be called with the lock held.
func (s *Server) commit(mutations []*mutation.Mutation) ([]*mutation.Result, time.Version, error) {
	working := make(map[key.Key]*document.Document)
	current := func(k key.Key) *document.Document {
		if doc, ok := working[k]; ok {
			return doc
		}
		doc := s.lookup(k)
		working[k] = doc
		return doc
	}

	version := s.nextVersion()
	commitTime := gotime.Now()
	results := make([]*mutation.Result, 0, len(mutations))
	for _, m := range mutations {
		doc := current(m.Key)
		if !m.Precondition.IsValidFor(doc) {
			return nil, time.MinVersion, fmt.Errorf("%s: %w", m, ErrPreconditionFailed)
		}
		if m.Type == mutation.TypeVerify {
			results = append(results, &mutation.Result{Version: doc.Version()})
			continue
		}

		transformResults := make([]any, len(m.Transforms))
		for i, t := range m.Transforms {
			previous, _ := doc.Data().Get(t.Field)
			transformResults[i] = mutation.ApplyTransform(t.Op, previous, commitTime)
		}
		result := &mutation.Result{Version: version, TransformResults: transformResults}
		m.ApplyToRemoteDocument(doc, result)
		results = append(results, result)
	}

	changed := key.NewSet()
	for k, doc := range working {
		if doc.Version() != version {
			continue
		}
		changed.Add(k)
		if doc.IsFound() {
			s.docs[k] = document.NewFound(k, version, doc.Data())
			delete(s.tombstones, k)
		} else {
			delete(s.docs, k)
			s.tombstones[k] = version
		}
	}

	s.broadcast(changed, version)
	return results, version, nil
}

// matching returns the documents of the target in its order, up to its limit.
func (s *Server) matching(target *query.Target) []*document.Document {
	var docs []*document.Document
	for _, doc := range s.docs {
		if target.Matches(doc) {
			docs = append(docs, doc)
		}
	}

	cmp := target.Comparator()
	sort.Slice(docs, func(i, j int) bool {
		return cmp(docs[i], docs[j]) < 0
	})
	if target.Limit > 0 && len(docs) > target.Limit {
		docs = docs[:target.Limit]
	}
	return docs
}

func (s *Server) broadcast(changed key.Set, version time.Version) {
	for ls := range s.listens {
		ls.applyChanges(changed, version)
	}
}

func resumeToken(version time.Version) []byte {
	return []byte(strconv.FormatInt(int64(version), 10))
}

func versionOfToken(token []byte) time.Version {
	v, err := strconv.ParseInt(string(token), 10, 64)
	if err != nil {
		return time.MinVersion
	}
	return time.Version(v)
}

func toWire(doc *document.Document) *types.Document {
	return &types.Document{
		Key:        doc.Key(),
		Fields:     doc.Data().Clone(),
		UpdateTime: doc.Version(),
	}
}

func newBloomFilter(docs []*document.Document) *types.BloomFilter {
	filter := bloom.New(len(docs), bloomFalsePositiveRate)
	for _, doc := range docs {
		filter.Add(doc.Key().String())
	}
	return &types.BloomFilter{
		Bits:      filter.Bits(),
		Padding:   filter.Padding(),
		HashCount: filter.HashCount(),
	}
}
