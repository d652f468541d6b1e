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
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/asyncqueue"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/pkg/backoff"
	"github.com/yorkie-team/docsync/pkg/errors"
)

type idleListenStream struct {
	done chan struct{}
}

func (s *idleListenStream) Send(*types.ListenRequest) error {
	return nil
}

func (s *idleListenStream) Recv() (*types.ListenResponse, error) {
	<-s.done
	return nil, errors.Unavailable("stream closed")
}

func (s *idleListenStream) CloseSend() error {
	close(s.done)
	return nil
}

type closeRecorder struct {
	closes chan error
}

func (r *closeRecorder) onOpen() error {
	return nil
}

func (r *closeRecorder) onMessage(*types.ListenResponse) error {
	return nil
}

func (r *closeRecorder) onClose(err error) error {
	r.closes <- err
	return nil
}

type listenStreamEnv struct {
	queue    *asyncqueue.Queue
	stream   *persistentStream[types.ListenRequest, types.ListenResponse]
	recorder *closeRecorder
}

// newListenStreamEnv creates a stream whose first openings fail with the
// given errors.
func newListenStreamEnv(t *testing.T, failures ...error) *listenStreamEnv {
	queue := asyncqueue.New(asyncqueue.DefaultConfig())
	t.Cleanup(queue.Shutdown)

	pending := make(chan error, len(failures))
	for _, err := range failures {
		pending <- err
	}

	recorder := &closeRecorder{closes: make(chan error, 10)}
	stream := newPersistentStream[types.ListenRequest, types.ListenResponse](
		streamOptions{
			name:           "watch",
			idleTimerID:    asyncqueue.TimerListenStreamIdle,
			backoffTimerID: asyncqueue.TimerListenStreamConnectionBackoff,
			idleTimeout:    gotime.Hour,
			backoff:        backoff.Config{InitialDelay: gotime.Minute, MaxDelay: gotime.Hour, Factor: 2},
		},
		queue,
		&auth.EmptyCredentialsProvider{},
		func(ctx context.Context, token *auth.Token) (Stream[types.ListenRequest, types.ListenResponse], error) {
			select {
			case err := <-pending:
				return nil, err
			default:
				return &idleListenStream{done: make(chan struct{})}, nil
			}
		},
		recorder,
	)
	t.Cleanup(func() {
		_ = queue.EnqueueAndWait(context.Background(), stream.Close)
	})

	return &listenStreamEnv{queue: queue, stream: stream, recorder: recorder}
}

func (e *listenStreamEnv) run(t *testing.T, fn func()) {
	require.NoError(t, e.queue.EnqueueAndWait(context.Background(), func() error {
		fn()
		return nil
	}))
}

func (e *listenStreamEnv) waitClose(t *testing.T) error {
	select {
	case err := <-e.recorder.closes:
		return err
	case <-gotime.After(5 * gotime.Second):
		t.Fatal("timed out")
		return nil
	}
}

func TestPersistentStream(t *testing.T) {
	t.Run("resource exhausted backs off for the max delay test", func(t *testing.T) {
		env := newListenStreamEnv(t, errors.ResourceExhausted("quota exceeded"))

		env.run(t, env.stream.Start)
		err := env.waitClose(t)
		assert.True(t, errors.IsStatus(err, errors.ErrCodeResourceExhausted))

		env.run(t, func() {
			assert.Equal(t, StateError, env.stream.State())
			assert.Equal(t, gotime.Hour, env.stream.backoff.Current())

			env.stream.Start()
			assert.Equal(t, StateBackoff, env.stream.State())
		})
		assert.True(t, env.queue.ContainsDelayedOperation(asyncqueue.TimerListenStreamConnectionBackoff))
	})

	t.Run("stop after failures resets the backoff test", func(t *testing.T) {
		env := newListenStreamEnv(t, errors.Unavailable("offline"), errors.Unavailable("offline"))

		// The first restart is immediate, the next one waits.
		env.run(t, env.stream.Start)
		env.waitClose(t)
		env.run(t, env.stream.Start)
		env.waitClose(t)
		env.run(t, func() {
			assert.Equal(t, StateError, env.stream.State())
			assert.Equal(t, gotime.Minute, env.stream.backoff.Current())
		})

		// This is what restarting the streams for a new user does.
		env.run(t, func() {
			assert.NoError(t, env.stream.Stop())
			assert.Equal(t, StateInitial, env.stream.State())
			assert.Equal(t, gotime.Duration(0), env.stream.backoff.Current())

			env.stream.Start()
			assert.Equal(t, StateAuthenticating, env.stream.State())
		})
		assert.False(t, env.queue.ContainsDelayedOperation(asyncqueue.TimerListenStreamConnectionBackoff))
		assert.Eventually(t, func() bool {
			open := false
			_ = env.queue.EnqueueAndWait(context.Background(), func() error {
				open = env.stream.IsOpen()
				return nil
			})
			return open
		}, 5*gotime.Second, 5*gotime.Millisecond)
	})
}
