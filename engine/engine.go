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

// Package engine wires the local store, the remote store and the sync engine
// of an offline-first document cache onto a single async queue, and exposes
// them to callers on any goroutine.
package engine

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/asyncqueue"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/local"
	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/persistence/memory"
	"github.com/yorkie-team/docsync/engine/profiling"
	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
	"github.com/yorkie-team/docsync/engine/remote"
	"github.com/yorkie-team/docsync/engine/remote/memserver"
	"github.com/yorkie-team/docsync/engine/syncengine"
	"github.com/yorkie-team/docsync/engine/view"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

var (
	// ErrEngineNotStarted is returned when the engine is used before Start.
	ErrEngineNotStarted = errors.FailedPrecond("engine not started").WithCode("ErrEngineNotStarted")

	// ErrEngineClosed is returned when the engine is used after Close.
	ErrEngineClosed = errors.FailedPrecond("engine closed").WithCode("ErrEngineClosed")

	// ErrOffline is returned by a server get while the engine is offline.
	ErrOffline = errors.Unavailable("failed to get documents from server: the client is offline").
		WithCode("ErrOffline")
)

// Source is where a one-shot get reads the documents from.
type Source int

const (
	// SourceDefault reads from the server when online and falls back to the
	// cache otherwise.
	SourceDefault Source = iota

	// SourceCache reads from the cache only.
	SourceCache

	// SourceServer reads from the server and fails when offline.
	SourceServer
)

// String returns the name of the source.
func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceServer:
		return "server"
	default:
		return "default"
	}
}

// Options are the collaborators of an Engine. Every field is optional.
type Options struct {
	// Connection is the backend. Without it the engine dials Remote.Addr,
	// or runs against an in-process backend when the address is empty.
	Connection remote.Connection

	// Credentials provides the user and the tokens of the requests.
	Credentials auth.CredentialsProvider

	Metrics *prometheus.Metrics
}

// Engine is the entry point of the sync engine. Its methods are safe for
// concurrent use. Snapshot and error callbacks run on the queue and must
// not block.
type Engine struct {
	conf    *Config
	logger  logging.Logger
	metrics *prometheus.Metrics

	queue       *asyncqueue.Queue
	persistence *memory.Persistence
	local       *local.LocalStore
	sync        *syncengine.SyncEngine
	conn        remote.Connection
	creds       auth.CredentialsProvider
	scheduler   *local.LRUScheduler
	gc          *local.LRUGarbageCollector
	profiling   *profiling.Server

	mu      gosync.Mutex
	started bool
	closed  bool
}

// New creates an Engine with the given config.
func New(conf *Config, opts Options) (*Engine, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := logging.SetLogLevel(conf.LogLevel); err != nil {
		return nil, err
	}

	conn := opts.Connection
	if conn == nil {
		if conf.Remote.Addr == "" {
			conn = memserver.New()
		} else {
			grpcConn, err := remote.NewGRPCConnection(conf.Remote.Addr, remote.GRPCOptions{
				CertFile:           conf.Remote.CertFile,
				ServerNameOverride: conf.Remote.ServerNameOverride,
				Metrics:            opts.Metrics,
			})
			if err != nil {
				return nil, err
			}
			conn = grpcConn
		}
	}

	creds := opts.Credentials
	if creds == nil {
		creds = &auth.EmptyCredentialsProvider{}
	}

	logger := logging.New("engine")
	queueConf := asyncqueue.DefaultConfig()
	queueConf.Metrics = opts.Metrics
	queueConf.OnFailure = func(err error) {
		logger.Errorf("queue failed, the engine is unusable: %v", err)
	}

	e := &Engine{
		conf:    conf,
		logger:  logger,
		metrics: opts.Metrics,
		queue:   asyncqueue.New(queueConf),
		conn:    conn,
		creds:   creds,
	}

	p, err := memory.New()
	if err != nil {
		return nil, err
	}
	e.persistence = p

	if conf.Profiling != nil {
		e.profiling = profiling.NewServer(conf.Profiling, opts.Metrics)
	}

	return e, nil
}

// Start opens the persistence, loads the local store for the current user
// and connects to the backend.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.started {
		return nil
	}

	if err := e.persistence.Start(); err != nil {
		return err
	}

	// The provider reports the current user synchronously, and the later
	// changes on its own goroutines.
	var initialUser auth.User
	initialized := false
	e.creds.SetChangeListener(func(user auth.User) {
		if !initialized {
			initialized = true
			initialUser = user
			return
		}
		e.handleUserChange(user)
	})

	localOpts := e.conf.LocalOptions()
	localOpts.Metrics = e.metrics
	store, err := local.NewLocalStore(e.persistence, initialUser, localOpts)
	if err != nil {
		return err
	}
	e.local = store

	syncOpts := e.conf.SyncOptions()
	syncOpts.Metrics = e.metrics
	e.sync = syncengine.New(store, e.conn, e.creds, e.queue, syncOpts)
	e.gc = store.NewGarbageCollector(e.conf.LRUParams())
	e.scheduler = local.NewLRUScheduler(
		e.gc,
		store,
		e.queue,
		mustParseDuration(e.conf.Local.GCInitialDelay),
		mustParseDuration(e.conf.Local.GCRegularDelay),
	)

	if err := e.queue.EnqueueAndWait(ctx, func() error {
		if err := store.Start(ctx); err != nil {
			return err
		}
		if err := e.sync.Start(ctx); err != nil {
			return err
		}
		e.scheduler.Start()
		return nil
	}); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if e.profiling != nil {
		if err := e.profiling.Start(); err != nil {
			return err
		}
	}

	e.started = true
	e.logger.Infof("engine started as %s", initialUser)
	return nil
}

func (e *Engine) handleUserChange(user auth.User) {
	if err := e.queue.EnqueueRetryable(func() error {
		return e.sync.HandleCredentialChange(context.Background(), user)
	}); err != nil {
		e.logger.Warnf("handle user change to %s: %v", user, err)
	}
}

// Close stops the streams and the queue. Pending writes that were not
// acknowledged stay in the local store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if e.started {
		e.creds.RemoveChangeListener()
		if err := e.queue.EnqueueAndWait(context.Background(), func() error {
			e.scheduler.Stop()
			return e.sync.Shutdown(context.Background())
		}); err != nil {
			e.logger.Warnf("shutdown sync engine: %v", err)
		}
	}
	e.queue.Shutdown()

	if e.profiling != nil {
		e.profiling.Shutdown(true)
	}
	if err := e.persistence.Shutdown(); err != nil {
		return err
	}
	if err := e.conn.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

func (e *Engine) ensureStarted() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if !e.started {
		return ErrEngineNotStarted
	}
	return nil
}

// run runs fn on the queue and waits for it.
func (e *Engine) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := e.ensureStarted(); err != nil {
		return err
	}
	return e.queue.EnqueueAndWait(ctx, func() error {
		return fn(ctx)
	})
}

// Listen listens to the query. onSnapshot is called with every snapshot of
// its results, and onError at most once when the listen is rejected. The
// returned function stops the listen.
func (e *Engine) Listen(
	ctx context.Context,
	q *query.Query,
	opts syncengine.ListenOptions,
	onSnapshot func(*view.Snapshot),
	onError func(error),
) (func(), error) {
	listener := syncengine.NewQueryListener(q, opts, onSnapshot, onError)
	if err := e.run(ctx, func(ctx context.Context) error {
		return e.sync.Listen(ctx, listener)
	}); err != nil {
		return nil, err
	}

	var once gosync.Once
	return func() {
		once.Do(func() {
			if err := e.queue.Enqueue(func() error {
				return e.sync.Unlisten(context.Background(), listener)
			}); err != nil {
				e.logger.Debugf("unlisten %s: %v", q, err)
			}
		})
	}, nil
}

// Write applies the mutations locally as one batch and waits until the
// backend acknowledges or rejects it.
func (e *Engine) Write(ctx context.Context, mutations ...*mutation.Mutation) error {
	done := make(chan error, 1)
	if err := e.WriteAsync(ctx, mutations, func(err error) {
		done <- err
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteAsync applies the mutations locally as one batch and returns. callback
// is called on the queue once the backend acknowledges or rejects it.
func (e *Engine) WriteAsync(ctx context.Context, mutations []*mutation.Mutation, callback func(error)) error {
	return e.run(ctx, func(ctx context.Context) error {
		return e.sync.Write(ctx, mutations, callback)
	})
}

// WaitForPendingWrites waits until the batches written so far are
// acknowledged or rejected.
func (e *Engine) WaitForPendingWrites(ctx context.Context) error {
	done := make(chan error, 1)
	if err := e.run(ctx, func(ctx context.Context) error {
		return e.sync.WaitForPendingWrites(ctx, func(err error) {
			done <- err
		})
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a snapshot of the results of the query from the source.
func (e *Engine) Get(ctx context.Context, q *query.Query, source Source) (*view.Snapshot, error) {
	if source == SourceCache {
		var snapshot *view.Snapshot
		if err := e.run(ctx, func(ctx context.Context) error {
			var err error
			snapshot, err = e.sync.GetFromCache(ctx, q)
			return err
		}); err != nil {
			return nil, err
		}
		return snapshot, nil
	}

	var listener *syncengine.QueryListener
	once := newOneShotListen(func() {
		if err := e.queue.Enqueue(func() error {
			return e.sync.Unlisten(context.Background(), listener)
		}); err != nil {
			e.logger.Debugf("unlisten %s: %v", q, err)
		}
	})

	listener = syncengine.NewQueryListener(q, syncengine.ListenOptions{
		IncludeMetadataChanges: true,
		WaitForSyncWhenOnline:  true,
	}, func(snapshot *view.Snapshot) {
		if snapshot.FromCache && source == SourceServer {
			once.deliver(getResult{err: ErrOffline})
			return
		}
		once.deliver(getResult{snapshot: snapshot})
	}, once.fail)

	if err := e.run(ctx, func(ctx context.Context) error {
		return e.sync.Listen(ctx, listener)
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-once.results:
		return r.snapshot, r.err
	case <-ctx.Done():
		_ = e.queue.Enqueue(func() error {
			once.cancel()
			return nil
		})
		return nil, ctx.Err()
	}
}

type getResult struct {
	snapshot *view.Snapshot
	err      error
}

// oneShotListen hands the first result of a listen to Get and stops the
// listen once, whether the result or the cancellation of Get comes first.
// Its methods run on the queue.
type oneShotListen struct {
	results  chan getResult
	released bool
	unlisten func()
}

func newOneShotListen(unlisten func()) *oneShotListen {
	return &oneShotListen{
		results:  make(chan getResult, 1),
		unlisten: unlisten,
	}
}

func (l *oneShotListen) deliver(r getResult) {
	if l.released {
		return
	}
	l.released = true
	l.results <- r
	l.unlisten()
}

// fail reports a rejected listen, which the sync engine has already removed.
func (l *oneShotListen) fail(err error) {
	if l.released {
		return
	}
	l.released = true
	l.results <- getResult{err: err}
}

func (l *oneShotListen) cancel() {
	if l.released {
		return
	}
	l.released = true
	l.unlisten()
}

// EnableNetwork re-enables the streams after DisableNetwork.
func (e *Engine) EnableNetwork(ctx context.Context) error {
	return e.run(ctx, func(ctx context.Context) error {
		return e.sync.EnableNetwork(ctx)
	})
}

// DisableNetwork closes the streams. Writes are queued and listens are
// served from the cache until the network is enabled again.
func (e *Engine) DisableNetwork(ctx context.Context) error {
	return e.run(ctx, func(ctx context.Context) error {
		return e.sync.DisableNetwork(ctx)
	})
}

// HandleConnectivityChange restarts the streams when the network of the
// host becomes available, and takes the engine offline when it is lost.
func (e *Engine) HandleConnectivityChange(ctx context.Context, available bool) error {
	return e.run(ctx, func(ctx context.Context) error {
		return e.sync.HandleConnectivityChange(ctx, available)
	})
}

// CollectGarbage runs a collection of the cache now.
func (e *Engine) CollectGarbage(ctx context.Context) (local.LRUResults, error) {
	var results local.LRUResults
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		results, err = e.local.CollectGarbage(ctx, e.gc)
		return err
	})
	return results, err
}

// CacheSize returns the approximate size of the cached documents in bytes.
func (e *Engine) CacheSize(ctx context.Context) (int64, error) {
	var size int64
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		size, err = e.local.CacheSize(ctx)
		return err
	})
	return size, err
}

// OnlineState returns the online state of the engine.
func (e *Engine) OnlineState(ctx context.Context) (types.OnlineState, error) {
	var state types.OnlineState
	err := e.run(ctx, func(ctx context.Context) error {
		state = e.sync.OnlineState()
		return nil
	})
	return state, err
}

// Connection returns the backend of the engine.
func (e *Engine) Connection() remote.Connection {
	return e.conn
}

// Config returns the config of the engine.
func (e *Engine) Config() *Config {
	return e.conf
}
