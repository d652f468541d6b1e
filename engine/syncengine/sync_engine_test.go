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

package syncengine_test

import (
	"context"
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/asyncqueue"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/local"
	"github.com/yorkie-team/docsync/engine/persistence/memory"
	"github.com/yorkie-team/docsync/engine/remote"
	"github.com/yorkie-team/docsync/engine/remote/memserver"
	"github.com/yorkie-team/docsync/engine/syncengine"
	"github.com/yorkie-team/docsync/engine/view"
	"github.com/yorkie-team/docsync/pkg/backoff"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

const waitTimeout = 5 * gotime.Second

type syncEnv struct {
	queue  *asyncqueue.Queue
	store  *local.LocalStore
	engine *syncengine.SyncEngine
	server *memserver.Server
}

func newSyncEnv(t *testing.T, maxLimboResolutions int) *syncEnv {
	ctx := context.Background()

	p, err := memory.New()
	require.NoError(t, err)
	require.NoError(t, p.Start())
	store, err := local.NewLocalStore(p, auth.Unauthenticated, local.Options{})
	require.NoError(t, err)
	require.NoError(t, store.Start(ctx))

	queue := asyncqueue.New(asyncqueue.DefaultConfig())
	server := memserver.New()
	engine := syncengine.New(store, server, &auth.EmptyCredentialsProvider{}, queue, syncengine.Options{
		MaxConcurrentLimboResolutions: maxLimboResolutions,
		Remote: remote.Options{
			Backoff: backoff.Config{
				InitialDelay: gotime.Millisecond,
				MaxDelay:     10 * gotime.Millisecond,
				Factor:       2,
			},
			IdleTimeout:        gotime.Hour,
			OnlineStateTimeout: gotime.Hour,
		},
	})

	env := &syncEnv{queue: queue, store: store, engine: engine, server: server}
	env.run(t, engine.Start)
	t.Cleanup(func() {
		env.run(t, engine.Shutdown)
		queue.Shutdown()
		assert.NoError(t, server.Close())
	})
	return env
}

func (e *syncEnv) run(t *testing.T, fn func(ctx context.Context) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.queue.EnqueueAndWait(ctx, func() error {
		return fn(ctx)
	}))
}

type recorder struct {
	snapshots chan *view.Snapshot
	errs      chan error
}

func (e *syncEnv) listen(t *testing.T, q *query.Query, opts syncengine.ListenOptions) (*syncengine.QueryListener, *recorder) {
	r := &recorder{
		snapshots: make(chan *view.Snapshot, 100),
		errs:      make(chan error, 10),
	}
	listener := syncengine.NewQueryListener(q, opts, func(snapshot *view.Snapshot) {
		r.snapshots <- snapshot
	}, func(err error) {
		r.errs <- err
	})

	e.run(t, func(ctx context.Context) error {
		return e.engine.Listen(ctx, listener)
	})
	return listener, r
}

func (e *syncEnv) write(t *testing.T, m *mutation.Mutation) <-chan error {
	done := make(chan error, 1)
	e.run(t, func(ctx context.Context) error {
		return e.engine.Write(ctx, []*mutation.Mutation{m}, func(err error) {
			done <- err
		})
	})
	return done
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-gotime.After(waitTimeout):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func receiveUntil[T any](t *testing.T, ch <-chan T, pred func(T) bool) T {
	t.Helper()
	deadline := gotime.After(waitTimeout)
	for {
		select {
		case v := <-ch:
			if pred(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out")
			var zero T
			return zero
		}
	}
}

func setMutation(t *testing.T, path string, data map[string]any) *mutation.Mutation {
	m, err := mutation.ParseSetData(key.MustFromPath(path), data)
	require.NoError(t, err)
	return m
}

func keysOf(snapshot *view.Snapshot) []key.Key {
	var keys []key.Key
	for _, doc := range snapshot.Documents.Documents() {
		keys = append(keys, doc.Key())
	}
	return keys
}

func TestSyncEngine(t *testing.T) {
	roomA := key.MustFromPath("rooms/a")
	roomB := key.MustFromPath("rooms/b")
	rooms := query.NewCollectionQuery("rooms")

	t.Run("listen raises the server snapshot test", func(t *testing.T) {
		env := newSyncEnv(t, 0)
		_, err := env.server.Set(roomA, map[string]any{"name": "a"})
		require.NoError(t, err)

		_, r := env.listen(t, rooms, syncengine.ListenOptions{})
		snapshot := receive(t, r.snapshots)
		assert.False(t, snapshot.FromCache)
		assert.Equal(t, []key.Key{roomA}, keysOf(snapshot))
		assert.Len(t, snapshot.DocChanges, 1)
		assert.Equal(t, view.ChangeAdded, snapshot.DocChanges[0].Type)

		_, err = env.server.Set(roomB, map[string]any{"name": "b"})
		require.NoError(t, err)
		snapshot = receive(t, r.snapshots)
		assert.Equal(t, []key.Key{roomA, roomB}, keysOf(snapshot))
		env.run(t, func(ctx context.Context) error {
			assert.Equal(t, types.OnlineStateOnline, env.engine.OnlineState())
			return nil
		})
	})

	t.Run("second listener of a query receives the current results test", func(t *testing.T) {
		env := newSyncEnv(t, 0)
		_, err := env.server.Set(roomA, map[string]any{"name": "a"})
		require.NoError(t, err)

		first, r1 := env.listen(t, rooms, syncengine.ListenOptions{})
		receive(t, r1.snapshots)

		second, r2 := env.listen(t, rooms, syncengine.ListenOptions{})
		snapshot := receive(t, r2.snapshots)
		assert.False(t, snapshot.FromCache)
		assert.Equal(t, []key.Key{roomA}, keysOf(snapshot))

		env.run(t, func(ctx context.Context) error {
			return env.engine.Unlisten(ctx, first)
		})
		_, err = env.server.Set(roomB, map[string]any{"name": "b"})
		require.NoError(t, err)
		snapshot = receive(t, r2.snapshots)
		assert.Equal(t, []key.Key{roomA, roomB}, keysOf(snapshot))
		assert.Len(t, r1.snapshots, 0)

		env.run(t, func(ctx context.Context) error {
			return env.engine.Unlisten(ctx, second)
		})
	})

	t.Run("local write is acknowledged test", func(t *testing.T) {
		env := newSyncEnv(t, 0)
		_, r := env.listen(t, rooms, syncengine.ListenOptions{IncludeMetadataChanges: true})
		snapshot := receive(t, r.snapshots)
		assert.False(t, snapshot.FromCache)
		assert.Equal(t, 0, snapshot.Documents.Len())

		done := env.write(t, setMutation(t, "rooms/a", map[string]any{"name": "a"}))
		snapshot = receive(t, r.snapshots)
		assert.Equal(t, []key.Key{roomA}, keysOf(snapshot))
		assert.True(t, snapshot.HasPendingWrites())

		assert.NoError(t, receive(t, done))
		snapshot = receiveUntil(t, r.snapshots, func(snapshot *view.Snapshot) bool {
			return !snapshot.HasPendingWrites()
		})
		assert.Equal(t, []key.Key{roomA}, keysOf(snapshot))
		assert.NotNil(t, env.server.Get(roomA))
	})

	t.Run("rejected write reverts the local view test", func(t *testing.T) {
		env := newSyncEnv(t, 0)
		env.server.RejectNextWrite(errors.PermissionDenied("read only"))

		_, r := env.listen(t, rooms, syncengine.ListenOptions{})
		receive(t, r.snapshots)

		done := env.write(t, setMutation(t, "rooms/a", map[string]any{"name": "a"}))
		snapshot := receive(t, r.snapshots)
		assert.Equal(t, []key.Key{roomA}, keysOf(snapshot))

		err := receive(t, done)
		assert.True(t, errors.IsStatus(err, errors.ErrCodePermissionDenied))
		snapshot = receive(t, r.snapshots)
		assert.Equal(t, 0, snapshot.Documents.Len())
		assert.Equal(t, view.ChangeRemoved, snapshot.DocChanges[0].Type)
	})

	t.Run("offline listener receives the cached results test", func(t *testing.T) {
		env := newSyncEnv(t, 0)
		env.run(t, env.engine.DisableNetwork)

		_, r := env.listen(t, rooms, syncengine.ListenOptions{})
		snapshot := receive(t, r.snapshots)
		assert.True(t, snapshot.FromCache)
		assert.Equal(t, 0, snapshot.Documents.Len())

		done := env.write(t, setMutation(t, "rooms/a", map[string]any{"name": "a"}))
		snapshot = receive(t, r.snapshots)
		assert.True(t, snapshot.FromCache)
		assert.Equal(t, []key.Key{roomA}, keysOf(snapshot))
		assert.Equal(t, 0, env.server.WriteCount())

		env.run(t, env.engine.EnableNetwork)
		assert.NoError(t, receive(t, done))
		snapshot = receiveUntil(t, r.snapshots, func(snapshot *view.Snapshot) bool {
			return !snapshot.FromCache
		})
		assert.Equal(t, []key.Key{roomA}, keysOf(snapshot))
	})

	t.Run("wait for pending writes test", func(t *testing.T) {
		env := newSyncEnv(t, 0)

		waited := make(chan error, 1)
		env.run(t, func(ctx context.Context) error {
			return env.engine.WaitForPendingWrites(ctx, func(err error) { waited <- err })
		})
		assert.NoError(t, receive(t, waited))

		env.run(t, env.engine.DisableNetwork)
		done := env.write(t, setMutation(t, "rooms/a", map[string]any{"name": "a"}))
		env.run(t, func(ctx context.Context) error {
			return env.engine.WaitForPendingWrites(ctx, func(err error) { waited <- err })
		})
		assert.Len(t, waited, 0)

		env.run(t, env.engine.EnableNetwork)
		assert.NoError(t, receive(t, done))
		assert.NoError(t, receive(t, waited))
	})

	t.Run("user change rejects waiting callers test", func(t *testing.T) {
		env := newSyncEnv(t, 0)
		env.run(t, env.engine.DisableNetwork)
		env.write(t, setMutation(t, "rooms/a", map[string]any{"name": "a"}))

		waited := make(chan error, 1)
		env.run(t, func(ctx context.Context) error {
			return env.engine.WaitForPendingWrites(ctx, func(err error) { waited <- err })
		})
		env.run(t, func(ctx context.Context) error {
			return env.engine.HandleCredentialChange(ctx, auth.NewUser("alice"))
		})
		assert.ErrorIs(t, receive(t, waited), syncengine.ErrUserChanged)

		// The batch of the previous user is not visible to the new one.
		var snapshot *view.Snapshot
		env.run(t, func(ctx context.Context) error {
			var err error
			snapshot, err = env.engine.GetFromCache(ctx, rooms)
			return err
		})
		assert.Equal(t, 0, snapshot.Documents.Len())
	})

	t.Run("rejected listen delivers the error once test", func(t *testing.T) {
		env := newSyncEnv(t, 0)
		env.server.RejectNextListen(errors.PermissionDenied("no access"))

		listener, r := env.listen(t, rooms, syncengine.ListenOptions{})
		err := receive(t, r.errs)
		assert.True(t, errors.IsStatus(err, errors.ErrCodePermissionDenied))

		// The listener is already removed.
		env.run(t, func(ctx context.Context) error {
			return env.engine.Unlisten(ctx, listener)
		})
		assert.Len(t, r.errs, 0)
	})

	t.Run("limbo document deleted on the server test", func(t *testing.T) {
		env := newSyncEnv(t, 0)
		_, err := env.server.Set(roomA, map[string]any{"name": "a"})
		require.NoError(t, err)

		// Cache the document through a query of the document only.
		docListener, r := env.listen(t, query.NewDocumentQuery(roomA), syncengine.ListenOptions{})
		receive(t, r.snapshots)
		env.run(t, func(ctx context.Context) error {
			return env.engine.Unlisten(ctx, docListener)
		})

		// The deletion is not seen while nothing listens to the document.
		_, err = env.server.Delete(roomA)
		require.NoError(t, err)

		_, r = env.listen(t, rooms, syncengine.ListenOptions{IncludeMetadataChanges: true})
		snapshot := receive(t, r.snapshots)
		assert.True(t, snapshot.FromCache)
		assert.Equal(t, []key.Key{roomA}, keysOf(snapshot))

		snapshot = receiveUntil(t, r.snapshots, func(snapshot *view.Snapshot) bool {
			return !snapshot.FromCache
		})
		assert.Equal(t, 0, snapshot.Documents.Len())

		env.run(t, func(ctx context.Context) error {
			assert.Len(t, env.engine.ActiveLimboResolutions(), 0)
			assert.Len(t, env.engine.EnqueuedLimboResolutions(), 0)
			return nil
		})
	})
}
