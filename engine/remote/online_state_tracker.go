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
	gotime "time"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/asyncqueue"
	"github.com/yorkie-team/docsync/engine/logging"
)

const (
	// maxWatchStreamFailures is the number of failures of the watch stream,
	// while the state is unknown, after which the client is offline.
	maxWatchStreamFailures = 1

	// DefaultOnlineStateTimeout is the time the watch stream may take to
	// connect before the client is considered offline.
	DefaultOnlineStateTimeout = 10 * gotime.Second
)

// OnlineStateTracker derives the online state from the health of the watch
// stream. A client whose state is unknown becomes offline after a confirmed
// failure or after the timeout, and online once the stream delivers a frame.
type OnlineStateTracker struct {
	queue    *asyncqueue.Queue
	onChange func(types.OnlineState)
	timeout  gotime.Duration
	logger   logging.Logger

	state               types.OnlineState
	watchStreamFailures int
	timer               *asyncqueue.DelayedOperation
}

// NewOnlineStateTracker creates a tracker in the unknown state. onChange is
// called on the queue whenever the state changes.
func NewOnlineStateTracker(
	queue *asyncqueue.Queue,
	timeout gotime.Duration,
	onChange func(types.OnlineState),
) *OnlineStateTracker {
	if timeout <= 0 {
		timeout = DefaultOnlineStateTimeout
	}

	return &OnlineStateTracker{
		queue:    queue,
		onChange: onChange,
		timeout:  timeout,
		logger:   logging.New("remote"),
		state:    types.OnlineStateUnknown,
	}
}

// State returns the current state.
func (t *OnlineStateTracker) State() types.OnlineState {
	return t.state
}

// HandleWatchStreamStart is called when the watch stream starts. The first
// start after a success arms the timeout.
func (t *OnlineStateTracker) HandleWatchStreamStart() {
	if t.watchStreamFailures != 0 {
		return
	}

	t.setAndBroadcast(types.OnlineStateUnknown)
	t.timer = t.queue.EnqueueAfterDelay(asyncqueue.TimerOnlineStateTimeout, t.timeout, func() error {
		t.timer = nil
		if t.state == types.OnlineStateUnknown {
			t.logger.Warnf("could not reach the backend within %s, operating offline", t.timeout)
			t.setAndBroadcast(types.OnlineStateOffline)
		}
		return nil
	})
}

// HandleWatchStreamFailure is called when the watch stream fails. An
// online client becomes unknown, and an unknown client becomes offline
// once the failures are confirmed.
func (t *OnlineStateTracker) HandleWatchStreamFailure(err error) {
	if t.state == types.OnlineStateOnline {
		t.setAndBroadcast(types.OnlineStateUnknown)
		return
	}

	t.watchStreamFailures++
	if t.watchStreamFailures >= maxWatchStreamFailures {
		t.clearTimer()
		if t.state != types.OnlineStateOffline {
			t.logger.Warnf("could not reach the backend, operating offline: %v", err)
		}
		t.setAndBroadcast(types.OnlineStateOffline)
	}
}

// Set sets the state directly, which resets the failure count.
func (t *OnlineStateTracker) Set(state types.OnlineState) {
	t.clearTimer()
	t.watchStreamFailures = 0
	t.setAndBroadcast(state)
}

func (t *OnlineStateTracker) setAndBroadcast(state types.OnlineState) {
	if state == t.state {
		return
	}
	t.state = state
	if t.onChange != nil {
		t.onChange(state)
	}
}

func (t *OnlineStateTracker) clearTimer() {
	if t.timer != nil {
		t.timer.Cancel()
		t.timer = nil
	}
}
