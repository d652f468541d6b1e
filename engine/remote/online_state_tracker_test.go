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

package remote_test

import (
	"context"
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/asyncqueue"
	"github.com/yorkie-team/docsync/engine/remote"
	"github.com/yorkie-team/docsync/pkg/errors"
)

func TestOnlineStateTracker(t *testing.T) {
	ctx := context.Background()
	errUnavailable := errors.Unavailable("unreachable")

	newTracker := func(t *testing.T) (*asyncqueue.Queue, *remote.OnlineStateTracker, *[]types.OnlineState) {
		queue := asyncqueue.New(asyncqueue.DefaultConfig())
		t.Cleanup(queue.Shutdown)

		var states []types.OnlineState
		tracker := remote.NewOnlineStateTracker(queue, gotime.Hour, func(state types.OnlineState) {
			states = append(states, state)
		})
		return queue, tracker, &states
	}

	t.Run("first failure makes an unknown client offline test", func(t *testing.T) {
		queue, tracker, states := newTracker(t)

		assert.NoError(t, queue.EnqueueAndWait(ctx, func() error {
			tracker.HandleWatchStreamStart()
			tracker.HandleWatchStreamFailure(errUnavailable)
			return nil
		}))
		assert.Equal(t, types.OnlineStateOffline, tracker.State())
		assert.Equal(t, []types.OnlineState{types.OnlineStateOffline}, *states)
		assert.False(t, queue.ContainsDelayedOperation(asyncqueue.TimerOnlineStateTimeout))
	})

	t.Run("timeout makes an unknown client offline test", func(t *testing.T) {
		queue, tracker, states := newTracker(t)

		assert.NoError(t, queue.EnqueueAndWait(ctx, func() error {
			tracker.HandleWatchStreamStart()
			return nil
		}))
		assert.True(t, queue.ContainsDelayedOperation(asyncqueue.TimerOnlineStateTimeout))

		assert.NoError(t, queue.RunDelayedOperationsEarly(ctx, asyncqueue.TimerOnlineStateTimeout))
		assert.Equal(t, types.OnlineStateOffline, tracker.State())
		assert.Equal(t, []types.OnlineState{types.OnlineStateOffline}, *states)
	})

	t.Run("online client becomes unknown on failure test", func(t *testing.T) {
		queue, tracker, states := newTracker(t)

		assert.NoError(t, queue.EnqueueAndWait(ctx, func() error {
			tracker.HandleWatchStreamStart()
			tracker.Set(types.OnlineStateOnline)
			tracker.HandleWatchStreamFailure(errUnavailable)
			return nil
		}))
		assert.Equal(t, types.OnlineStateUnknown, tracker.State())
		assert.Equal(t, []types.OnlineState{
			types.OnlineStateOnline,
			types.OnlineStateUnknown,
		}, *states)

		// The set cleared the timer, so only a new start arms it again.
		assert.False(t, queue.ContainsDelayedOperation(asyncqueue.TimerOnlineStateTimeout))
	})

	t.Run("offline client does not arm the timer again test", func(t *testing.T) {
		queue, tracker, _ := newTracker(t)

		assert.NoError(t, queue.EnqueueAndWait(ctx, func() error {
			tracker.HandleWatchStreamStart()
			tracker.HandleWatchStreamFailure(errUnavailable)
			tracker.HandleWatchStreamStart()
			return nil
		}))
		assert.Equal(t, types.OnlineStateOffline, tracker.State())
		assert.False(t, queue.ContainsDelayedOperation(asyncqueue.TimerOnlineStateTimeout))
	})
}
