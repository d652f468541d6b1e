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

// Package client provides the client of an offline-first document store.
// Documents are read and written through a local cache that is kept in sync
// with the backend, so that they stay available while the client is offline.
package client

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/google/uuid"

	"github.com/yorkie-team/docsync/engine"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/syncengine"
	"github.com/yorkie-team/docsync/engine/view"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

type status int

const (
	deactivated status = 0
	activated   status = 1
	closed      status = 2
)

var (
	// ErrClientNotActivated occurs when an inactive client is used.
	ErrClientNotActivated = errors.FailedPrecond("client is not activated").WithCode("ErrClientNotActivated")

	// ErrDocumentNotFound occurs when a read document does not exist.
	ErrDocumentNotFound = errors.NotFound("document not found").WithCode("ErrDocumentNotFound")
)

// Source is where a read takes the documents from.
type Source = engine.Source

// The sources of reads.
const (
	SourceDefault = engine.SourceDefault
	SourceCache   = engine.SourceCache
	SourceServer  = engine.SourceServer
)

// Client is a normal client that can communicate with the backend. Writes
// are applied to the local cache at once and sent to the backend in order,
// and reads see the local writes that are not acknowledged yet.
type Client struct {
	engine *engine.Engine
	logger logging.Logger
	key    string

	mu     gosync.Mutex
	status status
}

// New creates an instance of Client. An empty rpcAddr runs the client
// against an in-process backend.
func New(rpcAddr string, opts ...Option) (*Client, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	k := options.Key
	if k == "" {
		k = uuid.New().String()
	}

	conf := options.Config
	if conf == nil {
		conf = engine.NewConfig()
	}
	conf.Remote.Addr = rpcAddr
	if options.CertFile != "" {
		conf.Remote.CertFile = options.CertFile
	}
	if options.ServerNameOverride != "" {
		conf.Remote.ServerNameOverride = options.ServerNameOverride
	}

	creds := options.Credentials
	if creds == nil && options.Token != "" {
		provider, err := auth.NewStaticCredentialsProvider(options.Token)
		if err != nil {
			return nil, fmt.Errorf("new client: %w", err)
		}
		creds = provider
	}

	e, err := engine.New(conf, engine.Options{
		Connection:  options.Connection,
		Credentials: creds,
		Metrics:     options.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}

	return &Client{
		engine: e,
		logger: logging.NewFromZap(options.Logger, "client", logging.NewField("key", k)),
		key:    k,
		status: deactivated,
	}, nil
}

// Activate starts the engine of the client. Until then the client can not
// read or write.
func (c *Client) Activate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == activated {
		return nil
	}
	if c.status == closed {
		return ErrClientNotActivated
	}

	if err := c.engine.Start(ctx); err != nil {
		return err
	}
	c.status = activated
	c.logger.Debug("client activated")
	return nil
}

// Close closes all resources of this client. Writes that are not
// acknowledged yet are dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == closed {
		return nil
	}
	c.status = closed

	if err := c.engine.Close(); err != nil {
		return err
	}
	c.logger.Debug("client closed")
	return nil
}

// Key returns the key of this client.
func (c *Client) Key() string {
	return c.key
}

// IsActive returns whether this client is active or not.
func (c *Client) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == activated
}

// Engine returns the engine of this client.
func (c *Client) Engine() *engine.Engine {
	return c.engine
}

func (c *Client) ensureActive() error {
	if !c.IsActive() {
		return ErrClientNotActivated
	}
	return nil
}

// Set overwrites the document at the path with the data, creating it when
// it does not exist.
func (c *Client) Set(ctx context.Context, path string, data map[string]any) error {
	return c.write(ctx, path, func(k key.Key) (*mutation.Mutation, error) {
		return mutation.ParseSetData(k, data)
	})
}

// Merge merges the data into the document at the path, creating it when it
// does not exist.
func (c *Client) Merge(ctx context.Context, path string, data map[string]any) error {
	return c.write(ctx, path, func(k key.Key) (*mutation.Mutation, error) {
		return mutation.ParseMergeData(k, data)
	})
}

// Update updates the fields of the document at the path. The keys of fields
// are dotted field paths. It fails when the document does not exist.
func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	return c.write(ctx, path, func(k key.Key) (*mutation.Mutation, error) {
		return mutation.ParseUpdateData(k, fields)
	})
}

// Delete deletes the document at the path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.write(ctx, path, func(k key.Key) (*mutation.Mutation, error) {
		return mutation.NewDelete(k, mutation.NoPrecondition), nil
	})
}

// write applies the mutation of the document at the path and waits until
// the backend acknowledges it.
func (c *Client) write(
	ctx context.Context,
	path string,
	newMutation func(k key.Key) (*mutation.Mutation, error),
) error {
	if err := c.ensureActive(); err != nil {
		return err
	}

	k, err := key.FromPath(path)
	if err != nil {
		return err
	}
	m, err := newMutation(k)
	if err != nil {
		return err
	}

	if err := c.engine.Write(ctx, m); err != nil {
		c.logger.Debugf("write %s: %v", k, err)
		return err
	}
	return nil
}

// Get returns the document at the path.
func (c *Client) Get(ctx context.Context, path string, source Source) (*document.Document, error) {
	if err := c.ensureActive(); err != nil {
		return nil, err
	}

	k, err := key.FromPath(path)
	if err != nil {
		return nil, err
	}
	snapshot, err := c.engine.Get(ctx, query.NewDocumentQuery(k), source)
	if err != nil {
		return nil, err
	}

	doc := snapshot.Documents.Get(k)
	if doc == nil {
		return nil, fmt.Errorf("get %s: %w", k, ErrDocumentNotFound)
	}
	return doc, nil
}

// Query returns a snapshot of the results of the query.
func (c *Client) Query(ctx context.Context, q *query.Query, source Source) (*view.Snapshot, error) {
	if err := c.ensureActive(); err != nil {
		return nil, err
	}
	return c.engine.Get(ctx, q, source)
}

// WatchResponse is a response of the watch.
type WatchResponse struct {
	Snapshot *view.Snapshot
	Err      error
}

// Watch subscribes to the results of the query. The returned channel
// receives every snapshot of the results until ctx is done or the watch
// fails. The failure is the last response.
func (c *Client) Watch(
	ctx context.Context,
	q *query.Query,
	opts syncengine.ListenOptions,
) (<-chan WatchResponse, error) {
	if err := c.ensureActive(); err != nil {
		return nil, err
	}

	// The callbacks run on the queue of the engine, so the responses are
	// buffered until the receiver takes them.
	var mu gosync.Mutex
	var pending []WatchResponse
	notify := make(chan struct{}, 1)
	push := func(resp WatchResponse) {
		mu.Lock()
		pending = append(pending, resp)
		mu.Unlock()

		select {
		case notify <- struct{}{}:
		default:
		}
	}

	unlisten, err := c.engine.Listen(ctx, q, opts, func(snapshot *view.Snapshot) {
		push(WatchResponse{Snapshot: snapshot})
	}, func(err error) {
		push(WatchResponse{Err: err})
	})
	if err != nil {
		return nil, err
	}

	rch := make(chan WatchResponse)
	go func() {
		defer close(rch)
		defer unlisten()

		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
			}

			mu.Lock()
			responses := pending
			pending = nil
			mu.Unlock()

			for _, resp := range responses {
				select {
				case rch <- resp:
				case <-ctx.Done():
					return
				}
				if resp.Err != nil {
					return
				}
			}
		}
	}()

	return rch, nil
}

// WaitForPendingWrites waits until every write made so far is acknowledged
// or rejected by the backend.
func (c *Client) WaitForPendingWrites(ctx context.Context) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	return c.engine.WaitForPendingWrites(ctx)
}

// EnableNetwork reconnects the client after DisableNetwork.
func (c *Client) EnableNetwork(ctx context.Context) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	return c.engine.EnableNetwork(ctx)
}

// DisableNetwork disconnects the client. Reads are served from the cache
// and writes are queued until the network is enabled.
func (c *Client) DisableNetwork(ctx context.Context) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	return c.engine.DisableNetwork(ctx)
}
