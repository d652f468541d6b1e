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

package memserver

import (
	"context"
	"strconv"
	gosync "sync"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

// outbox holds the frames sent to the client until it receives them.
type outbox[T any] struct {
	mu     gosync.Mutex
	items  []*T
	err    error
	notify chan struct{}
}

func newOutbox[T any]() *outbox[T] {
	return &outbox[T]{notify: make(chan struct{}, 1)}
}

func (o *outbox[T]) push(item *T) {
	o.mu.Lock()
	if o.err == nil {
		o.items = append(o.items, item)
	}
	o.mu.Unlock()
	o.wake()
}

// fail ends the stream after the frames already pushed.
func (o *outbox[T]) fail(err error) {
	o.mu.Lock()
	if o.err == nil {
		o.err = err
	}
	o.mu.Unlock()
	o.wake()
}

func (o *outbox[T]) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *outbox[T]) pop(ctx context.Context) (*T, error) {
	for {
		o.mu.Lock()
		if len(o.items) > 0 {
			item := o.items[0]
			o.items = o.items[1:]
			o.mu.Unlock()
			return item, nil
		}
		err := o.err
		o.mu.Unlock()
		if err != nil {
			return nil, err
		}

		select {
		case <-o.notify:
		case <-ctx.Done():
			return nil, errors.Canceled("stream canceled")
		}
	}
}

type serverTarget struct {
	target *query.Target
	keys   key.Set
}

type listenStream struct {
	server  *Server
	ctx     context.Context
	out     *outbox[types.ListenResponse]
	targets map[types.TargetID]*serverTarget
}

func (ls *listenStream) Send(req *types.ListenRequest) error {
	s := ls.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listens[ls]; !ok {
		return ErrUnavailable
	}
	s.listenRequests = append(s.listenRequests, req)

	if req.AddTarget != nil {
		return ls.addTarget(req.AddTarget)
	}

	delete(ls.targets, req.RemoveTarget)
	ls.out.push(&types.ListenResponse{TargetChange: &types.WatchTargetChange{
		Type:      types.TargetChangeRemove,
		TargetIDs: []types.TargetID{req.RemoveTarget},
	}})
	return nil
}

func (ls *listenStream) Recv() (*types.ListenResponse, error) {
	return ls.out.pop(ls.ctx)
}

func (ls *listenStream) CloseSend() error {
	return nil
}

// addTarget registers the target and sends its documents, followed by the
// consistent snapshot.
func (ls *listenStream) addTarget(req *types.TargetRequest) error {
	if req.Target == nil {
		return ErrInvalidTarget
	}

	s := ls.server
	id := req.TargetID
	if len(s.listenErrors) > 0 {
		err := s.listenErrors[0]
		s.listenErrors = s.listenErrors[1:]
		ls.out.push(&types.ListenResponse{TargetChange: &types.WatchTargetChange{
			Type:      types.TargetChangeRemove,
			TargetIDs: []types.TargetID{id},
			Cause:     types.StatusFromError(err),
		}})
		return nil
	}

	st := &serverTarget{target: req.Target, keys: key.NewSet()}
	ls.targets[id] = st
	ls.out.push(&types.ListenResponse{TargetChange: &types.WatchTargetChange{
		Type:      types.TargetChangeAdd,
		TargetIDs: []types.TargetID{id},
	}})

	since := req.ReadTime
	if len(req.ResumeToken) > 0 {
		since = versionOfToken(req.ResumeToken)
	}

	docs := s.matching(req.Target)
	for _, doc := range docs {
		st.keys.Add(doc.Key())
		if doc.Version().After(since) || since.IsMin() {
			ls.out.push(&types.ListenResponse{DocumentChange: &types.DocumentChange{
				Document:  toWire(doc),
				TargetIDs: []types.TargetID{id},
			}})
		}
	}

	if !since.IsMin() {
		for _, k := range tombstonesOf(s, req.Target, since) {
			ls.out.push(&types.ListenResponse{DocumentDelete: &types.DocumentDelete{
				Key:              k,
				ReadTime:         s.tombstones[k],
				RemovedTargetIDs: []types.TargetID{id},
			}})
		}

		if req.ExpectedCount != nil {
			filter := &types.ExistenceFilter{TargetID: id, Count: int32(len(docs))}
			if !s.noBloomFilters {
				filter.UnchangedNames = newBloomFilter(docs)
			}
			ls.out.push(&types.ListenResponse{Filter: filter})
		}
	}

	token := resumeToken(s.version)
	ls.out.push(&types.ListenResponse{TargetChange: &types.WatchTargetChange{
		Type:        types.TargetChangeCurrent,
		TargetIDs:   []types.TargetID{id},
		ResumeToken: token,
	}})
	ls.pushSnapshot(s.version)
	return nil
}

func tombstonesOf(s *Server, target *query.Target, since time.Version) []key.Key {
	var keys []key.Key
	for k, v := range s.tombstones {
		if !v.After(since) {
			continue
		}
		if target.IsDocumentTarget() && target.DocumentKey() == k || k.HasCollectionPath(target.Path) {
			keys = append(keys, k)
		}
	}
	key.Sort(keys)
	return keys
}

// applyChanges sends the changes of the committed documents to every
// target of the stream.
func (ls *listenStream) applyChanges(changed key.Set, version time.Version) {
	updated := make(map[key.Key][]types.TargetID)
	removed := make(map[key.Key][]types.TargetID)

	for id, st := range ls.targets {
		current := key.NewSet()
		for _, doc := range ls.server.matching(st.target) {
			current.Add(doc.Key())
		}

		for k := range current {
			if !st.keys.Has(k) || changed.Has(k) {
				updated[k] = append(updated[k], id)
			}
		}
		for k := range st.keys {
			if !current.Has(k) {
				removed[k] = append(removed[k], id)
			}
		}
		st.keys = current
	}

	if len(updated) == 0 && len(removed) == 0 {
		return
	}

	keys := key.NewSet()
	for k := range updated {
		keys.Add(k)
	}
	for k := range removed {
		keys.Add(k)
	}

	for _, k := range keys.Sorted() {
		doc, exists := ls.server.docs[k]
		switch {
		case len(updated[k]) > 0:
			ls.out.push(&types.ListenResponse{DocumentChange: &types.DocumentChange{
				Document:         toWire(doc),
				TargetIDs:        updated[k],
				RemovedTargetIDs: removed[k],
			}})
		case !exists:
			ls.out.push(&types.ListenResponse{DocumentDelete: &types.DocumentDelete{
				Key:              k,
				ReadTime:         version,
				RemovedTargetIDs: removed[k],
			}})
		default:
			ls.out.push(&types.ListenResponse{DocumentRemove: &types.DocumentRemove{
				Key:              k,
				ReadTime:         version,
				RemovedTargetIDs: removed[k],
			}})
		}
	}
	ls.pushSnapshot(version)
}

// pushSnapshot marks a consistent snapshot of every target.
func (ls *listenStream) pushSnapshot(version time.Version) {
	ls.out.push(&types.ListenResponse{TargetChange: &types.WatchTargetChange{
		Type:        types.TargetChangeNoChange,
		ReadTime:    version,
		ResumeToken: resumeToken(version),
	}})
}

type writeStream struct {
	server     *Server
	ctx        context.Context
	out        *outbox[types.WriteResponse]
	handshaken bool
	tokens     int
}

func (ws *writeStream) Send(req *types.WriteRequest) error {
	s := ws.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.writes[ws]; !ok {
		return ErrUnavailable
	}

	if !ws.handshaken {
		if len(req.Writes) > 0 {
			ws.abort(ErrMissingHandshake)
			return nil
		}
		ws.handshaken = true
		ws.out.push(&types.WriteResponse{StreamToken: ws.nextToken()})
		return nil
	}

	if len(s.writeErrors) > 0 {
		err := s.writeErrors[0]
		s.writeErrors = s.writeErrors[1:]
		ws.abort(err)
		return nil
	}

	results, version, err := s.commit(req.Writes)
	if err != nil {
		ws.abort(err)
		return nil
	}
	s.writeCount++
	ws.out.push(&types.WriteResponse{
		StreamToken:  ws.nextToken(),
		WriteResults: results,
		CommitTime:   version,
	})
	return nil
}

func (ws *writeStream) Recv() (*types.WriteResponse, error) {
	return ws.out.pop(ws.ctx)
}

func (ws *writeStream) CloseSend() error {
	return nil
}

// abort fails the stream with err, the way a backend reports a rejected
// request. It must be called with the lock held.
func (ws *writeStream) abort(err error) {
	ws.server.logger.Debugf("abort write stream: %v", err)
	delete(ws.server.writes, ws)
	ws.out.fail(err)
}

func (ws *writeStream) nextToken() []byte {
	ws.tokens++
	return []byte(strconv.Itoa(ws.tokens))
}
