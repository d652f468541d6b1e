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
	gotime "time"

	"github.com/yorkie-team/docsync/engine/asyncqueue"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
	"github.com/yorkie-team/docsync/pkg/backoff"
	"github.com/yorkie-team/docsync/pkg/errors"
)

// DefaultIdleTimeout is the time an open stream without activity waits
// before it is closed.
const DefaultIdleTimeout = 60 * gotime.Second

// StreamState is the state of a persistent stream.
//
//	Initial -> Authenticating -> Open -> Error -> Backoff -> Authenticating
//	   any  -> Initial (Stop)
//	   any  -> Closed  (Close)
type StreamState int

const (
	// StateInitial is the state of a stream that is not started.
	StateInitial StreamState = iota

	// StateAuthenticating means the stream is fetching a token and opening
	// the underlying stream.
	StateAuthenticating

	// StateOpen means the stream can send and receive frames.
	StateOpen

	// StateError means the stream failed. The next start backs off first.
	StateError

	// StateBackoff means the stream waits before authenticating again.
	StateBackoff

	// StateClosed means the stream is closed for good.
	StateClosed
)

// String returns the string representation of the state.
func (s StreamState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrStreamNotOpen is returned when a frame is sent on a stream that is not
// open.
var ErrStreamNotOpen = errors.FailedPrecond("stream is not open").WithCode("ErrStreamNotOpen")

// streamListener receives the events of a persistent stream. Every method
// is called on the queue.
type streamListener[Resp any] interface {
	onOpen() error
	onMessage(resp *Resp) error

	// onClose is called with nil when the stream was stopped by the client.
	onClose(err error) error
}

type streamOptions struct {
	name           string
	idleTimerID    asyncqueue.TimerID
	backoffTimerID asyncqueue.TimerID
	idleTimeout    gotime.Duration
	backoff        backoff.Config
	metrics        *prometheus.Metrics
}

// persistentStream restarts the underlying stream with a backoff after
// failures. All of its methods must be called on the queue. Frames
// received from the network are delivered on the queue as well, and the
// frames of a stream that was closed in the meantime are dropped.
type persistentStream[Req, Resp any] struct {
	opts     streamOptions
	queue    *asyncqueue.Queue
	creds    auth.CredentialsProvider
	open     func(ctx context.Context, token *auth.Token) (Stream[Req, Resp], error)
	listener streamListener[Resp]
	logger   logging.Logger

	state StreamState

	// generation is increased whenever the stream closes, so that callbacks
	// of an older underlying stream can be told apart.
	generation int

	stream Stream[Req, Resp]
	cancel context.CancelFunc

	backoff      *backoff.Backoff
	idleTimer    *asyncqueue.DelayedOperation
	backoffTimer *asyncqueue.DelayedOperation
}

func newPersistentStream[Req, Resp any](
	opts streamOptions,
	queue *asyncqueue.Queue,
	creds auth.CredentialsProvider,
	open func(ctx context.Context, token *auth.Token) (Stream[Req, Resp], error),
	listener streamListener[Resp],
) *persistentStream[Req, Resp] {
	if opts.idleTimeout <= 0 {
		opts.idleTimeout = DefaultIdleTimeout
	}

	return &persistentStream[Req, Resp]{
		opts:     opts,
		queue:    queue,
		creds:    creds,
		open:     open,
		listener: listener,
		logger:   logging.New(opts.name),
		backoff:  backoff.New(opts.backoff),
	}
}

// State returns the state of the stream.
func (s *persistentStream[Req, Resp]) State() StreamState {
	return s.state
}

// IsStarted returns whether Start was called and the stream was not
// stopped or failed since. A stream in backoff is started.
func (s *persistentStream[Req, Resp]) IsStarted() bool {
	return s.state == StateAuthenticating || s.state == StateBackoff || s.state == StateOpen
}

// IsOpen returns whether frames can be sent on the stream.
func (s *persistentStream[Req, Resp]) IsOpen() bool {
	return s.state == StateOpen
}

// Start opens the stream. A stream that failed waits for the backoff
// before it opens again.
func (s *persistentStream[Req, Resp]) Start() {
	switch s.state {
	case StateError:
		s.performBackoff()
	case StateInitial:
		s.authenticate()
	}
}

// Stop closes the stream without error. The next Start opens it without a
// backoff, even if the stream had failed.
func (s *persistentStream[Req, Resp]) Stop() error {
	if !s.IsStarted() {
		if s.state == StateError {
			s.state = StateInitial
			s.backoff.Reset()
		}
		return nil
	}
	return s.close(StateInitial, nil)
}

// Close closes the stream for good.
func (s *persistentStream[Req, Resp]) Close() error {
	if !s.IsStarted() {
		s.state = StateClosed
		return nil
	}
	return s.close(StateClosed, nil)
}

// InhibitBackoff makes the next Start of a failed stream skip the backoff.
// It is used when the failure was caused by a request rather than by the
// backend.
func (s *persistentStream[Req, Resp]) InhibitBackoff() {
	if s.IsStarted() || s.state == StateClosed {
		return
	}
	s.state = StateInitial
	s.backoff.Reset()
}

// MarkIdle schedules the stream to be closed if nothing is sent on it
// before the idle timeout.
func (s *persistentStream[Req, Resp]) MarkIdle() {
	if !s.IsOpen() || s.idleTimer != nil {
		return
	}

	s.idleTimer = s.queue.EnqueueAfterDelay(s.opts.idleTimerID, s.opts.idleTimeout, func() error {
		s.idleTimer = nil
		if !s.IsOpen() {
			return nil
		}
		s.logger.Debugf("close idle %s stream", s.opts.name)
		return s.close(StateInitial, nil)
	})
}

func (s *persistentStream[Req, Resp]) send(req *Req) error {
	if !s.IsOpen() {
		return ErrStreamNotOpen
	}

	s.cancelIdleTimer()
	if err := s.stream.Send(req); err != nil {
		// NOTE(hackerwins): the failure is reported again by Recv, which
		// closes the stream.
		s.logger.Debugf("send on %s stream: %v", s.opts.name, err)
	}
	return nil
}

func (s *persistentStream[Req, Resp]) authenticate() {
	s.state = StateAuthenticating
	generation := s.generation

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		stream, err := s.dial(ctx)
		if enqueueErr := s.queue.Enqueue(func() error {
			if generation != s.generation {
				if stream != nil {
					_ = stream.CloseSend()
				}
				return nil
			}
			if err != nil {
				return s.close(StateError, err)
			}
			return s.onStreamOpen(generation, stream)
		}); enqueueErr != nil {
			cancel()
		}
	}()
}

func (s *persistentStream[Req, Resp]) dial(ctx context.Context) (Stream[Req, Resp], error) {
	token, err := s.creds.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, token)
}

func (s *persistentStream[Req, Resp]) onStreamOpen(generation int, stream Stream[Req, Resp]) error {
	s.stream = stream
	s.state = StateOpen
	s.logger.Debugf("%s stream opened", s.opts.name)

	go s.receive(generation, stream)
	return s.listener.onOpen()
}

func (s *persistentStream[Req, Resp]) receive(generation int, stream Stream[Req, Resp]) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			_ = s.queue.Enqueue(func() error {
				if generation != s.generation {
					return nil
				}
				return s.close(StateError, err)
			})
			return
		}

		if err := s.queue.Enqueue(func() error {
			if generation != s.generation {
				return nil
			}
			return s.listener.onMessage(resp)
		}); err != nil {
			return
		}
	}
}

func (s *persistentStream[Req, Resp]) performBackoff() {
	s.state = StateBackoff
	delay := s.backoff.Next()
	s.logger.Debugf("back off %s stream for %s", s.opts.name, delay)

	s.backoffTimer = s.queue.EnqueueAfterDelay(s.opts.backoffTimerID, delay, func() error {
		s.backoffTimer = nil
		if s.state != StateBackoff {
			return nil
		}
		s.authenticate()
		return nil
	})
}

func (s *persistentStream[Req, Resp]) close(finalState StreamState, err error) error {
	s.cancelIdleTimer()
	if s.backoffTimer != nil {
		s.backoffTimer.Cancel()
		s.backoffTimer = nil
	}
	s.generation++

	switch {
	case finalState != StateError:
		s.backoff.Reset()
	case errors.IsStatus(err, errors.ErrCodeResourceExhausted):
		s.logger.Debugf("%s stream exhausted the backend: %v", s.opts.name, err)
		s.backoff.ResetToMax()
	case errors.IsStatus(err, errors.ErrCodeUnauthenticated):
		s.creds.InvalidateToken()
	}

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stream != nil {
		_ = s.stream.CloseSend()
		s.stream = nil
	}

	s.state = finalState
	if err != nil {
		s.logger.Debugf("%s stream failed: %v", s.opts.name, err)
		if s.opts.metrics != nil {
			s.opts.metrics.AddStreamRestart(s.opts.name)
		}
	}
	return s.listener.onClose(err)
}

func (s *persistentStream[Req, Resp]) cancelIdleTimer() {
	if s.idleTimer != nil {
		s.idleTimer.Cancel()
		s.idleTimer = nil
	}
}
