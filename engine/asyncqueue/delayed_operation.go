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

package asyncqueue

import (
	gotime "time"
)

// DelayedOperation is an operation scheduled to be enqueued later.
type DelayedOperation struct {
	queue    *Queue
	id       TimerID
	op       Operation
	retry    bool
	targetAt gotime.Time
	timer    *gotime.Timer
}

// ID returns the timer id of this operation.
func (d *DelayedOperation) ID() TimerID {
	return d.id
}

// Cancel cancels the operation if it has not been enqueued yet. It returns
// whether the operation was canceled.
func (d *DelayedOperation) Cancel() bool {
	if !d.queue.removeDelayed(d) {
		return false
	}
	d.stop()
	return true
}

// fire enqueues the operation once. Whoever removes it from the pending
// list first, the timer or skipDelay, enqueues it.
func (d *DelayedOperation) fire() {
	if !d.queue.removeDelayed(d) {
		return
	}

	var err error
	if d.retry {
		err = d.queue.enqueueRetry(d.op)
	} else {
		err = d.queue.Enqueue(d.op)
	}
	if err != nil {
		d.queue.logger.Debugf("drop delayed operation %s: %v", d.id, err)
	}
}

func (d *DelayedOperation) skipDelay() {
	d.stop()
	d.fire()
}

func (d *DelayedOperation) stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
}
