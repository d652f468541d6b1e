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

package client_test

import (
	"context"
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yorkie-team/docsync/client"
	"github.com/yorkie-team/docsync/engine"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/remote/memserver"
	"github.com/yorkie-team/docsync/engine/syncengine"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/value"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

func activeClient(t *testing.T, server *memserver.Server, opts ...client.Option) *client.Client {
	conf := engine.NewConfig()
	conf.Remote.InitialBackoff = "1ms"
	conf.Remote.MaxBackoff = "10ms"

	opts = append(opts, client.WithConnection(server), client.WithConfig(conf), client.WithLogger(zap.NewNop()))
	cli, err := client.New("", opts...)
	require.NoError(t, err)
	require.NoError(t, cli.Activate(context.Background()))
	t.Cleanup(func() {
		assert.NoError(t, cli.Close())
	})
	return cli
}

func TestClient(t *testing.T) {
	t.Run("create instance test", func(t *testing.T) {
		cli, err := client.New("")
		assert.NoError(t, err)
		assert.NotEmpty(t, cli.Key())
		assert.False(t, cli.IsActive())

		_, err = cli.Get(context.Background(), "rooms/a", client.SourceCache)
		assert.ErrorIs(t, err, client.ErrClientNotActivated)
		assert.NoError(t, cli.Close())

		cli, err = client.New("", client.WithKey("my-key"))
		assert.NoError(t, err)
		assert.Equal(t, "my-key", cli.Key())
		assert.NoError(t, cli.Close())
	})

	t.Run("invalid token test", func(t *testing.T) {
		_, err := client.New("", client.WithToken("not a token"))
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("set update delete test", func(t *testing.T) {
		ctx := context.Background()
		cli := activeClient(t, memserver.New())

		require.NoError(t, cli.Set(ctx, "rooms/a", map[string]any{"name": "a", "visits": 1}))
		require.NoError(t, cli.Update(ctx, "rooms/a", map[string]any{"visits": mutation.Increment(2)}))

		doc, err := cli.Get(ctx, "rooms/a", client.SourceServer)
		require.NoError(t, err)
		visits, ok := doc.Data().Get(value.ParseFieldPath("visits"))
		assert.True(t, ok)
		assert.EqualValues(t, 3, visits)

		require.NoError(t, cli.Delete(ctx, "rooms/a"))
		_, err = cli.Get(ctx, "rooms/a", client.SourceServer)
		assert.ErrorIs(t, err, client.ErrDocumentNotFound)

		// Updating a missing document is rejected by the backend.
		err = cli.Update(ctx, "rooms/a", map[string]any{"visits": 1})
		assert.True(t, errors.IsStatus(err, errors.ErrCodeFailedPrecondition))
	})

	t.Run("invalid path test", func(t *testing.T) {
		cli := activeClient(t, memserver.New())
		assert.Error(t, cli.Set(context.Background(), "rooms", map[string]any{}))
	})

	t.Run("watch test", func(t *testing.T) {
		server := memserver.New()
		writer := activeClient(t, server)
		watcher := activeClient(t, server)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		rch, err := watcher.Watch(ctx, query.NewCollectionQuery("rooms"), syncengine.ListenOptions{})
		require.NoError(t, err)

		require.NoError(t, writer.Set(ctx, "rooms/a", map[string]any{"name": "a"}))

		deadline := gotime.After(5 * gotime.Second)
		for {
			select {
			case resp := <-rch:
				require.NoError(t, resp.Err)
				if resp.Snapshot.Documents.Has(key.MustFromPath("rooms/a")) {
					cancel()
					for range rch {
					}
					return
				}
			case <-deadline:
				t.Fatal("timed out")
			}
		}
	})

	t.Run("offline write test", func(t *testing.T) {
		ctx := context.Background()
		server := memserver.New()
		cli := activeClient(t, server)
		require.NoError(t, cli.DisableNetwork(ctx))

		done := make(chan error, 1)
		go func() {
			done <- cli.Set(ctx, "rooms/a", map[string]any{"name": "a"})
		}()

		assert.Eventually(t, func() bool {
			doc, err := cli.Get(ctx, "rooms/a", client.SourceCache)
			return err == nil && doc.HasLocalMutations()
		}, 5*gotime.Second, 10*gotime.Millisecond)
		assert.Nil(t, server.Get(key.MustFromPath("rooms/a")))

		require.NoError(t, cli.EnableNetwork(ctx))
		assert.NoError(t, <-done)
		assert.NoError(t, cli.WaitForPendingWrites(ctx))
		assert.NotNil(t, server.Get(key.MustFromPath("rooms/a")))
	})
}
