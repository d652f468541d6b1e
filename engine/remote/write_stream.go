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

package remote

import (
	"context"
	"fmt"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/asyncqueue"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/errors"
)

// ErrUnexpectedHandshake is returned when the answer to the handshake of
// the write stream carries write results.
var ErrUnexpectedHandshake = errors.Internal("unexpected write results in handshake").WithCode("ErrUnexpectedHandshake")

// writeStreamListener receives the events of the write stream.
type writeStreamListener interface {
	onWriteStreamOpen() error
	onWriteHandshakeComplete() error
	onMutationResult(commitVersion time.Version, results []*mutation.Result) error
	onWriteStreamClose(err error) error
}

// writeStream is the write stream. It must complete a handshake before
// mutations are written. Every response acknowledges the oldest request
// that was not acknowledged yet.
type writeStream struct {
	*persistentStream[types.WriteRequest, types.WriteResponse]
	listener writeStreamListener

	handshakeComplete bool

	// lastStreamToken is the token of the last response, sent with every
	// request.
	lastStreamToken []byte
}

func newWriteStream(
	opts streamOptions,
	queue *asyncqueue.Queue,
	creds auth.CredentialsProvider,
	conn Connection,
	listener writeStreamListener,
) *writeStream {
	s := &writeStream{listener: listener}
	opts.name = "write"
	opts.idleTimerID = asyncqueue.TimerWriteStreamIdle
	opts.backoffTimerID = asyncqueue.TimerWriteStreamConnectionBackoff
	s.persistentStream = newPersistentStream[types.WriteRequest, types.WriteResponse](
		opts,
		queue,
		creds,
		func(ctx context.Context, token *auth.Token) (WriteStream, error) {
			return conn.OpenWriteStream(ctx, token)
		},
		s,
	)
	return s
}

func (s *writeStream) onOpen() error {
	s.handshakeComplete = false
	return s.listener.onWriteStreamOpen()
}

func (s *writeStream) onMessage(resp *types.WriteResponse) error {
	s.lastStreamToken = append([]byte(nil), resp.StreamToken...)

	if !s.handshakeComplete {
		if len(resp.WriteResults) > 0 {
			return fmt.Errorf("%d results: %w", len(resp.WriteResults), ErrUnexpectedHandshake)
		}
		s.handshakeComplete = true
		return s.listener.onWriteHandshakeComplete()
	}

	s.backoff.Reset()
	return s.listener.onMutationResult(resp.CommitTime, resp.WriteResults)
}

func (s *writeStream) onClose(err error) error {
	return s.listener.onWriteStreamClose(err)
}

// writeHandshake sends the handshake, an empty request.
func (s *writeStream) writeHandshake() error {
	return s.send(&types.WriteRequest{})
}

// writeMutations sends the mutations of one batch.
func (s *writeStream) writeMutations(mutations []*mutation.Mutation) error {
	return s.send(&types.WriteRequest{
		StreamToken: s.lastStreamToken,
		Writes:      mutations,
	})
}
