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

package engine_test

import (
	"context"
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/remote/memserver"
	"github.com/yorkie-team/docsync/engine/syncengine"
	"github.com/yorkie-team/docsync/engine/view"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

func newTestConfig() *engine.Config {
	conf := engine.NewConfig()
	conf.Remote.InitialBackoff = "1ms"
	conf.Remote.MaxBackoff = "10ms"
	conf.Remote.OnlineStateTimeout = "1h"
	return conf
}

func newTestEngine(t *testing.T, opts engine.Options) (*engine.Engine, *memserver.Server) {
	server := memserver.New()
	opts.Connection = server

	e, err := engine.New(newTestConfig(), opts)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		assert.NoError(t, e.Close())
	})
	return e, server
}

func set(t *testing.T, path string, data map[string]any) *mutation.Mutation {
	m, err := mutation.ParseSetData(key.MustFromPath(path), data)
	require.NoError(t, err)
	return m
}

func TestEngine(t *testing.T) {
	rooms := query.NewCollectionQuery("rooms")
	roomA := key.MustFromPath("rooms/a")

	t.Run("write and get test", func(t *testing.T) {
		ctx := context.Background()
		e, server := newTestEngine(t, engine.Options{})

		assert.NoError(t, e.Write(ctx, set(t, "rooms/a", map[string]any{"name": "a"})))
		assert.NotNil(t, server.Get(roomA))

		snapshot, err := e.Get(ctx, rooms, engine.SourceServer)
		require.NoError(t, err)
		assert.False(t, snapshot.FromCache)
		assert.Equal(t, 1, snapshot.Documents.Len())

		snapshot, err = e.Get(ctx, query.NewDocumentQuery(roomA), engine.SourceCache)
		require.NoError(t, err)
		assert.True(t, snapshot.Documents.Has(roomA))
	})

	t.Run("get while offline test", func(t *testing.T) {
		ctx := context.Background()
		e, _ := newTestEngine(t, engine.Options{})
		require.NoError(t, e.DisableNetwork(ctx))

		state, err := e.OnlineState(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.OnlineStateOffline, state)

		snapshot, err := e.Get(ctx, rooms, engine.SourceDefault)
		require.NoError(t, err)
		assert.True(t, snapshot.FromCache)

		_, err = e.Get(ctx, rooms, engine.SourceServer)
		assert.ErrorIs(t, err, engine.ErrOffline)
		assert.True(t, errors.IsStatus(err, errors.ErrCodeUnavailable))
	})

	t.Run("offline writes are sent once online test", func(t *testing.T) {
		ctx := context.Background()
		e, server := newTestEngine(t, engine.Options{})
		require.NoError(t, e.DisableNetwork(ctx))

		acked := make(chan error, 1)
		require.NoError(t, e.WriteAsync(ctx, []*mutation.Mutation{
			set(t, "rooms/a", map[string]any{"name": "a"}),
		}, func(err error) { acked <- err }))

		snapshot, err := e.Get(ctx, rooms, engine.SourceCache)
		require.NoError(t, err)
		assert.True(t, snapshot.HasPendingWrites())
		assert.Nil(t, server.Get(roomA))

		require.NoError(t, e.EnableNetwork(ctx))
		waitCtx, cancel := context.WithTimeout(ctx, 5*gotime.Second)
		defer cancel()
		assert.NoError(t, e.WaitForPendingWrites(waitCtx))
		assert.NoError(t, <-acked)
		assert.NotNil(t, server.Get(roomA))
	})

	t.Run("listen and unlisten test", func(t *testing.T) {
		ctx := context.Background()
		e, server := newTestEngine(t, engine.Options{})

		snapshots := make(chan *view.Snapshot, 10)
		unlisten, err := e.Listen(ctx, rooms, syncengine.ListenOptions{}, func(snapshot *view.Snapshot) {
			snapshots <- snapshot
		}, nil)
		require.NoError(t, err)

		_, err = server.Set(roomA, map[string]any{"name": "a"})
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			select {
			case snapshot := <-snapshots:
				return snapshot.Documents.Has(roomA)
			default:
				return false
			}
		}, 5*gotime.Second, 10*gotime.Millisecond)

		unlisten()
		unlisten()
	})

	t.Run("rejected write test", func(t *testing.T) {
		ctx := context.Background()
		e, server := newTestEngine(t, engine.Options{})
		server.RejectNextWrite(errors.InvalidArgument("bad write"))

		err := e.Write(ctx, set(t, "rooms/a", map[string]any{"name": "a"}))
		assert.True(t, errors.IsStatus(err, errors.ErrCodeInvalidArgument))

		snapshot, err := e.Get(ctx, rooms, engine.SourceCache)
		require.NoError(t, err)
		assert.Equal(t, 0, snapshot.Documents.Len())
	})

	t.Run("user change test", func(t *testing.T) {
		ctx := context.Background()
		creds := auth.NewTokenCredentialsProvider(
			auth.NewTokenManager("secret", gotime.Hour),
			auth.NewUser("alice"),
		)
		e, server := newTestEngine(t, engine.Options{Credentials: creds})

		assert.NoError(t, e.Write(ctx, set(t, "rooms/a", map[string]any{"name": "a"})))
		assert.Equal(t, auth.NewUser("alice"), server.LastUser())

		creds.SignIn(auth.NewUser("bob"))
		assert.NoError(t, e.Write(ctx, set(t, "rooms/b", map[string]any{"name": "b"})))
		assert.Equal(t, auth.NewUser("bob"), server.LastUser())
	})

	t.Run("collect garbage test", func(t *testing.T) {
		ctx := context.Background()
		e, _ := newTestEngine(t, engine.Options{})
		assert.NoError(t, e.Write(ctx, set(t, "rooms/a", map[string]any{"name": "a"})))

		size, err := e.CacheSize(ctx)
		require.NoError(t, err)
		assert.Greater(t, size, int64(0))

		// The cache is below the threshold.
		results, err := e.CollectGarbage(ctx)
		require.NoError(t, err)
		assert.False(t, results.DidRun)
	})

	t.Run("use before start and after close test", func(t *testing.T) {
		ctx := context.Background()
		e, err := engine.New(newTestConfig(), engine.Options{Connection: memserver.New()})
		require.NoError(t, err)

		assert.ErrorIs(t, e.Write(ctx, set(t, "rooms/a", nil)), engine.ErrEngineNotStarted)

		require.NoError(t, e.Start(ctx))
		require.NoError(t, e.Close())
		assert.ErrorIs(t, e.Start(ctx), engine.ErrEngineClosed)
		_, err = e.Get(ctx, rooms, engine.SourceCache)
		assert.ErrorIs(t, err, engine.ErrEngineClosed)
	})
}
