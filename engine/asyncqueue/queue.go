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

// Package asyncqueue provides the serialized executor of the sync engine.
// Every state transition of the local store, the remote store and the sync
// engine runs as an operation on a single queue, one at a time and in
// enqueue order.
package asyncqueue

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"
	gotime "time"

	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
	"github.com/yorkie-team/docsync/pkg/backoff"
	"github.com/yorkie-team/docsync/pkg/errors"
)

var (
	// ErrRestricted is returned when an operation is enqueued after the queue
	// entered the restricted mode.
	ErrRestricted = errors.FailedPrecond("queue is restricted").WithCode("ErrRestricted")

	// ErrShutdown is returned when an operation is enqueued after shutdown.
	ErrShutdown = errors.Canceled("queue is shut down").WithCode("ErrShutdown")

	// ErrQueueFailed is returned when the queue stopped after a fatal failure.
	ErrQueueFailed = errors.Internal("queue failed").WithCode("ErrQueueFailed")
)

// Operation is a unit of work executed by the queue.
type Operation func() error

// TimerID identifies the kind of a delayed operation.
type TimerID string

const (
	// TimerAll is only used by RunDelayedOperationsEarly to run every
	// delayed operation.
	TimerAll TimerID = "all"

	TimerListenStreamIdle              TimerID = "listen_stream_idle"
	TimerListenStreamConnectionBackoff TimerID = "listen_stream_connection_backoff"
	TimerWriteStreamIdle               TimerID = "write_stream_idle"
	TimerWriteStreamConnectionBackoff  TimerID = "write_stream_connection_backoff"
	TimerOnlineStateTimeout            TimerID = "online_state_timeout"
	TimerGarbageCollection             TimerID = "garbage_collection"
	TimerRetryTransaction              TimerID = "retry_transaction"
)

// Config is the configuration of a Queue.
type Config struct {
	// RetryBackoff is the backoff between attempts of a retryable operation.
	RetryBackoff backoff.Config

	// MaxRetryAttempts is the number of attempts after which a retryable
	// operation is considered fatal.
	MaxRetryAttempts int

	// IsTransient classifies the errors of retryable operations. Defaults to
	// errors.IsRetryable.
	IsTransient func(error) bool

	// OnFailure is called once when the queue fails.
	OnFailure func(error)

	// Metrics, if set, counts retries.
	Metrics *prometheus.Metrics
}

// DefaultConfig returns the default configuration of a Queue.
func DefaultConfig() Config {
	return Config{
		RetryBackoff: backoff.Config{
			InitialDelay: 100 * gotime.Millisecond,
			MaxDelay:     5 * gotime.Second,
			Factor:       1.5,
			Jitter:       0.5,
		},
		MaxRetryAttempts: 10,
	}
}

type task struct {
	op    Operation
	done  chan error
	retry bool
}

// Queue runs operations one at a time on a dedicated goroutine.
type Queue struct {
	conf   Config
	logger logging.Logger

	mu         gosync.Mutex
	tasks      []*task
	delayed    []*DelayedOperation
	restricted bool
	stopping   bool
	failure    error

	retryables    []Operation
	retryBackoff  *backoff.Backoff
	retryAttempts int

	// holding is set while the oldest retryable operation waits for its
	// next attempt. Other operations do not run until it succeeds.
	holding bool

	wake    chan struct{}
	stopped chan struct{}
}

// New creates a new Queue and starts its worker.
func New(conf Config) *Queue {
	if conf.IsTransient == nil {
		conf.IsTransient = errors.IsRetryable
	}
	if conf.MaxRetryAttempts <= 0 {
		conf.MaxRetryAttempts = DefaultConfig().MaxRetryAttempts
	}

	q := &Queue{
		conf:         conf,
		logger:       logging.New("queue"),
		retryBackoff: backoff.New(conf.RetryBackoff),
		wake:         make(chan struct{}, 1),
		stopped:      make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue adds the operation to the queue. An error returned by the
// operation is logged.
func (q *Queue) Enqueue(op Operation) error {
	_, err := q.enqueue(op, false)
	return err
}

// EnqueueEvenWhileRestricted adds the operation to the queue even if the
// queue is in the restricted mode.
func (q *Queue) EnqueueEvenWhileRestricted(op Operation) error {
	_, err := q.enqueue(op, true)
	return err
}

// EnqueueAndWait adds the operation to the queue and waits for its result.
// Canceling ctx stops waiting but does not remove the operation. It must not
// be called from an operation of the same queue.
func (q *Queue) EnqueueAndWait(ctx context.Context, op Operation) error {
	done, err := q.enqueue(op, false)
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueRetryable adds an operation that is attempted again with a backoff
// while it fails with a transient error. Between attempts the queue holds
// every other operation, so nothing enqueued after it runs before it
// succeeds. An operation that keeps failing fails the queue.
func (q *Queue) EnqueueRetryable(op Operation) error {
	q.mu.Lock()
	if err := q.acceptLocked(false); err != nil {
		q.mu.Unlock()
		return err
	}
	q.retryables = append(q.retryables, op)
	first := len(q.retryables) == 1
	q.mu.Unlock()

	if first {
		return q.Enqueue(q.retryHead)
	}
	return nil
}

// EnqueueAfterDelay schedules the operation to be enqueued after the delay.
// The returned DelayedOperation can be canceled until it starts running.
func (q *Queue) EnqueueAfterDelay(id TimerID, delay gotime.Duration, op Operation) *DelayedOperation {
	return q.enqueueAfterDelay(id, delay, op, false)
}

func (q *Queue) enqueueAfterDelay(id TimerID, delay gotime.Duration, op Operation, retry bool) *DelayedOperation {
	d := &DelayedOperation{
		queue:    q,
		id:       id,
		op:       op,
		retry:    retry,
		targetAt: gotime.Now().Add(delay),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed = append(q.delayed, d)
	d.timer = gotime.AfterFunc(delay, d.fire)
	return d
}

// ContainsDelayedOperation returns whether a pending delayed operation with
// the given id exists.
func (q *Queue) ContainsDelayedOperation(id TimerID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, d := range q.delayed {
		if d.id == id {
			return true
		}
	}
	return false
}

// RunDelayedOperationsEarly runs the pending delayed operations in the order
// of their due time, up to and including the first one with lastID, and
// waits until they are executed. TimerAll runs every one of them.
func (q *Queue) RunDelayedOperationsEarly(ctx context.Context, lastID TimerID) error {
	q.mu.Lock()
	pending := make([]*DelayedOperation, len(q.delayed))
	copy(pending, q.delayed)
	q.mu.Unlock()

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].targetAt.Before(pending[j].targetAt)
	})

	for _, d := range pending {
		d.skipDelay()
		if lastID != TimerAll && d.id == lastID {
			break
		}
	}

	// NOTE: operations enqueued above run before this marker.
	return q.EnqueueAndWait(ctx, func() error { return nil })
}

// EnterRestrictedMode makes the queue reject new operations except those
// enqueued with EnqueueEvenWhileRestricted.
func (q *Queue) EnterRestrictedMode() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.restricted = true
}

// IsRestricted returns whether the queue is in the restricted mode.
func (q *Queue) IsRestricted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.restricted
}

// Failure returns the error that failed the queue, if any.
func (q *Queue) Failure() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failure
}

// Shutdown enters the restricted mode, cancels the delayed operations, runs
// the operations already in the queue and stops the worker.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.stopping {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.restricted = true
	q.stopping = true
	delayed := q.delayed
	q.delayed = nil
	q.mu.Unlock()

	for _, d := range delayed {
		d.stop()
	}
	q.notify()
	<-q.stopped
}

func (q *Queue) enqueue(op Operation, evenWhileRestricted bool) (<-chan error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.acceptLocked(evenWhileRestricted); err != nil {
		return nil, err
	}

	t := &task{op: op, done: make(chan error, 1)}
	q.tasks = append(q.tasks, t)
	q.notify()
	return t.done, nil
}

// enqueueRetry puts the next attempt of a held retryable operation at the
// head of the queue.
func (q *Queue) enqueueRetry(op Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.acceptLocked(true); err != nil {
		return err
	}

	t := &task{op: op, done: make(chan error, 1), retry: true}
	q.tasks = append([]*task{t}, q.tasks...)
	q.notify()
	return nil
}

func (q *Queue) acceptLocked(evenWhileRestricted bool) error {
	if q.failure != nil {
		return fmt.Errorf("%s: %w", q.failure, ErrQueueFailed)
	}
	if q.stopping {
		return ErrShutdown
	}
	if q.restricted && !evenWhileRestricted {
		return ErrRestricted
	}
	return nil
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.stopped)

	for {
		q.mu.Lock()
		if len(q.tasks) == 0 || (q.holding && !q.tasks[0].retry) {
			stopping := q.stopping
			q.mu.Unlock()
			if stopping {
				q.dropTasks(ErrShutdown)
				return
			}
			<-q.wake
			continue
		}
		t := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		err := t.op()
		if err != nil {
			q.logger.Debugf("operation failed: %v", err)
		}
		t.done <- err
	}
}

// retryHead attempts the oldest retryable operation.
func (q *Queue) retryHead() error {
	q.mu.Lock()
	if len(q.retryables) == 0 {
		q.mu.Unlock()
		return nil
	}
	op := q.retryables[0]
	q.mu.Unlock()

	err := op()
	if err == nil {
		q.mu.Lock()
		q.retryables = q.retryables[1:]
		q.retryAttempts = 0
		q.holding = false
		more := len(q.retryables) > 0
		q.mu.Unlock()

		q.retryBackoff.Reset()
		if more {
			return q.Enqueue(q.retryHead)
		}
		return nil
	}

	q.mu.Lock()
	q.retryAttempts++
	attempts := q.retryAttempts
	q.mu.Unlock()

	if !q.conf.IsTransient(err) || attempts >= q.conf.MaxRetryAttempts {
		q.fail(fmt.Errorf("retryable operation after %d attempts: %w", attempts, err))
		return err
	}

	if q.conf.Metrics != nil {
		q.conf.Metrics.AddQueueRetry()
	}
	delay := q.retryBackoff.Next()
	q.logger.Debugf("retry operation in %s: %v", delay, err)

	q.mu.Lock()
	q.holding = true
	q.mu.Unlock()
	q.enqueueAfterDelay(TimerRetryTransaction, delay, q.retryHead, true)
	return nil
}

// dropTasks completes the operations left in the queue with err without
// running them.
func (q *Queue) dropTasks(err error) {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, t := range tasks {
		t.done <- err
	}
}

// fail stops accepting operations and reports the failure.
func (q *Queue) fail(err error) {
	q.mu.Lock()
	if q.failure != nil {
		q.mu.Unlock()
		return
	}
	q.failure = err
	q.retryables = nil
	q.holding = false
	q.mu.Unlock()

	q.logger.Errorf("queue failed: %v", err)
	if q.conf.OnFailure != nil {
		q.conf.OnFailure(err)
	}
}

func (q *Queue) removeDelayed(d *DelayedOperation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, pending := range q.delayed {
		if pending == d {
			q.delayed = append(q.delayed[:i], q.delayed[i+1:]...)
			return true
		}
	}
	return false
}
