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

// Package remote provides the network side of the sync engine: the listen
// and write streams, the aggregation of watch changes into remote events
// and the RemoteStore that drives both streams.
package remote

import (
	"context"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/auth"
)

// Stream is a bidirectional stream of decoded frames.
type Stream[Req, Resp any] interface {
	// Send sends a frame. It must not be called concurrently.
	Send(req *Req) error

	// Recv blocks until a frame is received or the stream fails. A stream
	// ended by the server reports an Unavailable error.
	Recv() (*Resp, error)

	// CloseSend closes the sending side of the stream.
	CloseSend() error
}

// ListenStream is the stream of the listen protocol.
type ListenStream = Stream[types.ListenRequest, types.ListenResponse]

// WriteStream is the stream of the write protocol.
type WriteStream = Stream[types.WriteRequest, types.WriteResponse]

// Connection opens the streams to the backend. The streams end when the
// given context is canceled.
type Connection interface {
	OpenListenStream(ctx context.Context, token *auth.Token) (ListenStream, error)
	OpenWriteStream(ctx context.Context, token *auth.Token) (WriteStream, error)
	Close() error
}
