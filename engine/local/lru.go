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

package local

import (
	"context"
	gotime "time"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/asyncqueue"
	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/persistence"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/heap"
)

const (
	// LRUCollectionDisabled disables the garbage collector when used as the
	// collection threshold.
	LRUCollectionDisabled int64 = -1

	// DefaultCacheSizeBytes is the default size of the remote document
	// cache over which the garbage collector runs.
	DefaultCacheSizeBytes int64 = 40 * 1024 * 1024

	// DefaultPercentileToCollect is the default share of sequence numbers
	// collected per run.
	DefaultPercentileToCollect = 10

	// DefaultMaxSequenceNumbersToCollect is the default cap of sequence
	// numbers collected per run.
	DefaultMaxSequenceNumbersToCollect = 1000

	// DefaultGCInitialDelay is the delay before the first collection.
	DefaultGCInitialDelay = gotime.Minute

	// DefaultGCRegularDelay is the delay between collections.
	DefaultGCRegularDelay = 5 * gotime.Minute
)

// LRUParams configures the garbage collector.
type LRUParams struct {
	// CacheSizeCollectionThreshold is the cache size in bytes under which
	// the collector does nothing. LRUCollectionDisabled disables it.
	CacheSizeCollectionThreshold int64

	// PercentileToCollect is the share of sequence numbers collected.
	PercentileToCollect int

	// MaximumSequenceNumbersToCollect caps the sequence numbers collected.
	MaximumSequenceNumbersToCollect int
}

// DefaultLRUParams returns the default LRUParams.
func DefaultLRUParams() LRUParams {
	return LRUParams{
		CacheSizeCollectionThreshold:    DefaultCacheSizeBytes,
		PercentileToCollect:             DefaultPercentileToCollect,
		MaximumSequenceNumbersToCollect: DefaultMaxSequenceNumbersToCollect,
	}
}

// LRUResults is the outcome of a collection.
type LRUResults struct {
	DidRun                   bool
	SequenceNumbersCollected int
	TargetsRemoved           int
	DocumentsRemoved         int
}

// LRUDelegate stamps the listen sequence number of the current write
// transaction on every document reference change, and answers the
// questions of the garbage collector about what is safe to remove.
//
// A document carries its last use in a sentinel row of the target document
// table. A document is orphaned when the sentinel is its only row.
type LRUDelegate struct {
	targets    *TargetCache
	remoteDocs *RemoteDocumentCache
	pins       []*ReferenceSet

	currentTx  persistence.Transaction
	currentSeq types.SequenceNumber
}

// NewLRUDelegate creates a LRUDelegate and registers it to the target cache.
func NewLRUDelegate(targets *TargetCache, remoteDocs *RemoteDocumentCache) *LRUDelegate {
	d := &LRUDelegate{
		targets:    targets,
		remoteDocs: remoteDocs,
		currentSeq: types.InvalidSequenceNumber,
	}
	targets.delegate = d
	return d
}

// AddInMemoryPins protects the documents referenced by the set from
// collection.
func (d *LRUDelegate) AddInMemoryPins(set *ReferenceSet) {
	d.pins = append(d.pins, set)
}

// CurrentSequenceNumber returns the sequence number of the transaction. A
// write transaction allocates a new one on first use.
func (d *LRUDelegate) CurrentSequenceNumber(tx persistence.Transaction) (types.SequenceNumber, error) {
	if d.currentTx == tx {
		return d.currentSeq, nil
	}

	highest, err := d.targets.HighestSequenceNumber(tx)
	if err != nil {
		return types.InvalidSequenceNumber, err
	}
	if tx.Mode() == persistence.ReadOnly {
		return highest, nil
	}

	seq := highest + 1
	if err := d.targets.SetTargetsMetadata(tx, seq, time.MinVersion); err != nil {
		return types.InvalidSequenceNumber, err
	}
	d.currentTx, d.currentSeq = tx, seq
	tx.OnCommit(func() {
		if d.currentTx == tx {
			d.currentTx = nil
		}
	})
	return seq, nil
}

// AddReference stamps the document as used.
func (d *LRUDelegate) AddReference(tx persistence.Transaction, _ types.TargetID, k key.Key) error {
	return d.touch(tx, k)
}

// RemoveReference stamps the document as used when it leaves a target.
func (d *LRUDelegate) RemoveReference(tx persistence.Transaction, _ types.TargetID, k key.Key) error {
	return d.touch(tx, k)
}

// RemoveMutationReference stamps the document as used when a batch writing
// it leaves the mutation queue.
func (d *LRUDelegate) RemoveMutationReference(tx persistence.Transaction, k key.Key) error {
	return d.touch(tx, k)
}

// UpdateLimboDocument stamps a document resolved by a limbo target.
func (d *LRUDelegate) UpdateLimboDocument(tx persistence.Transaction, k key.Key) error {
	return d.touch(tx, k)
}

// RemoveTarget stamps a target released by its last listener.
func (d *LRUDelegate) RemoveTarget(tx persistence.Transaction, data *types.TargetData) error {
	seq, err := d.CurrentSequenceNumber(tx)
	if err != nil {
		return err
	}
	return d.targets.UpdateTargetData(tx, data.WithSequenceNumber(seq))
}

// ByteSize returns the size of the remote document cache.
func (d *LRUDelegate) ByteSize(tx persistence.Transaction) (int64, error) {
	return d.remoteDocs.GetSize(tx)
}

// SequenceNumberCount returns the number of targets and orphaned documents.
func (d *LRUDelegate) SequenceNumberCount(tx persistence.Transaction) (int, error) {
	count, err := d.targets.TargetCount(tx)
	if err != nil {
		return 0, err
	}
	if err := d.forEachOrphanedDocument(tx, func(key.Key, types.SequenceNumber) error {
		count++
		return nil
	}); err != nil {
		return 0, err
	}
	return count, nil
}

// NthSequenceNumber returns the n-th lowest sequence number among targets
// and orphaned documents, or InvalidSequenceNumber when n is 0.
func (d *LRUDelegate) NthSequenceNumber(tx persistence.Transaction, n int) (types.SequenceNumber, error) {
	if n <= 0 {
		return types.InvalidSequenceNumber, nil
	}

	lowest := heap.New(n, func(a, b types.SequenceNumber) bool { return a > b })
	if err := d.targets.ForEachTarget(tx, func(data *types.TargetData) error {
		lowest.Push(data.SequenceNumber)
		return nil
	}); err != nil {
		return types.InvalidSequenceNumber, err
	}
	if err := d.forEachOrphanedDocument(tx, func(_ key.Key, seq types.SequenceNumber) error {
		lowest.Push(seq)
		return nil
	}); err != nil {
		return types.InvalidSequenceNumber, err
	}

	nth, ok := lowest.Peek()
	if !ok {
		return types.InvalidSequenceNumber, nil
	}
	return nth, nil
}

// RemoveTargets removes the inactive targets used at or before upperBound.
func (d *LRUDelegate) RemoveTargets(
	tx persistence.Transaction,
	upperBound types.SequenceNumber,
	activeTargetIDs map[types.TargetID]struct{},
) (int, error) {
	return d.targets.RemoveTargets(tx, upperBound, activeTargetIDs)
}

// RemoveOrphanedDocuments removes the orphaned documents used at or before
// upperBound that are neither pinned nor written by a pending batch.
func (d *LRUDelegate) RemoveOrphanedDocuments(tx persistence.Transaction, upperBound types.SequenceNumber) (int, error) {
	var candidates []key.Key
	if err := d.forEachOrphanedDocument(tx, func(k key.Key, seq types.SequenceNumber) error {
		if seq <= upperBound {
			candidates = append(candidates, k)
		}
		return nil
	}); err != nil {
		return 0, err
	}

	buffer := d.remoteDocs.NewChangeBuffer()
	removed := 0
	for _, k := range candidates {
		pinned, err := d.isPinned(tx, k)
		if err != nil {
			return 0, err
		}
		if pinned {
			continue
		}

		if err := buffer.RemoveEntry(k); err != nil {
			return 0, err
		}
		if err := tx.DeleteTargetDocument(persistence.SentinelTargetID, k.String()); err != nil {
			return 0, err
		}
		removed++
	}

	if err := buffer.Apply(tx); err != nil {
		return 0, err
	}
	return removed, nil
}

func (d *LRUDelegate) isPinned(tx persistence.Transaction, k key.Key) (bool, error) {
	for _, pins := range d.pins {
		if pins.ContainsKey(k) {
			return true, nil
		}
	}
	return tx.HasDocumentMutations(k.String())
}

func (d *LRUDelegate) forEachOrphanedDocument(
	tx persistence.Transaction,
	fn func(k key.Key, seq types.SequenceNumber) error,
) error {
	sentinels, err := tx.FindTargetDocumentsByTarget(persistence.SentinelTargetID)
	if err != nil {
		return err
	}

	for _, sentinel := range sentinels {
		k, err := key.FromPath(sentinel.Path)
		if err != nil {
			return err
		}
		targeted, err := d.targets.ContainsKey(tx, k)
		if err != nil {
			return err
		}
		if targeted {
			continue
		}
		if err := fn(k, sentinel.SequenceNumber); err != nil {
			return err
		}
	}
	return nil
}

func (d *LRUDelegate) touch(tx persistence.Transaction, k key.Key) error {
	seq, err := d.CurrentSequenceNumber(tx)
	if err != nil {
		return err
	}
	return tx.PutTargetDocument(&persistence.TargetDocumentInfo{
		TargetID:       persistence.SentinelTargetID,
		Path:           k.String(),
		SequenceNumber: seq,
	})
}

// LRUGarbageCollector removes the least recently used targets and orphaned
// documents once the remote document cache outgrows its threshold.
type LRUGarbageCollector struct {
	delegate *LRUDelegate
	params   LRUParams
	logger   logging.Logger
}

// NewLRUGarbageCollector creates a LRUGarbageCollector.
func NewLRUGarbageCollector(delegate *LRUDelegate, params LRUParams) *LRUGarbageCollector {
	return &LRUGarbageCollector{
		delegate: delegate,
		params:   params,
		logger:   logging.New("lru"),
	}
}

// IsEnabled returns whether the collector may run.
func (gc *LRUGarbageCollector) IsEnabled() bool {
	return gc.params.CacheSizeCollectionThreshold != LRUCollectionDisabled
}

// Collect removes what the least recently used sequence numbers cover. The
// targets in activeTargetIDs are kept.
func (gc *LRUGarbageCollector) Collect(
	tx persistence.Transaction,
	activeTargetIDs map[types.TargetID]struct{},
) (LRUResults, error) {
	if !gc.IsEnabled() {
		return LRUResults{}, nil
	}

	size, err := gc.delegate.ByteSize(tx)
	if err != nil {
		return LRUResults{}, err
	}
	if size < gc.params.CacheSizeCollectionThreshold {
		gc.logger.Debugf("skip collection: cache size %d below %d", size, gc.params.CacheSizeCollectionThreshold)
		return LRUResults{}, nil
	}

	count, err := gc.delegate.SequenceNumberCount(tx)
	if err != nil {
		return LRUResults{}, err
	}
	n := count * gc.params.PercentileToCollect / 100
	if n > gc.params.MaximumSequenceNumbersToCollect {
		n = gc.params.MaximumSequenceNumbersToCollect
	}

	upperBound, err := gc.delegate.NthSequenceNumber(tx, n)
	if err != nil {
		return LRUResults{}, err
	}
	targets, err := gc.delegate.RemoveTargets(tx, upperBound, activeTargetIDs)
	if err != nil {
		return LRUResults{}, err
	}
	docs, err := gc.delegate.RemoveOrphanedDocuments(tx, upperBound)
	if err != nil {
		return LRUResults{}, err
	}

	gc.logger.Debugf(
		"collected %d sequence numbers up to %d: %d targets, %d documents",
		n, upperBound, targets, docs,
	)
	return LRUResults{
		DidRun:                   true,
		SequenceNumbersCollected: n,
		TargetsRemoved:           targets,
		DocumentsRemoved:         docs,
	}, nil
}

// garbageCollectable runs a collection in its own transaction.
type garbageCollectable interface {
	CollectGarbage(ctx context.Context, gc *LRUGarbageCollector) (LRUResults, error)
}

// LRUScheduler runs the collector on the async queue, first after the
// initial delay and then after every regular delay, whatever the outcome.
type LRUScheduler struct {
	gc           *LRUGarbageCollector
	store        garbageCollectable
	queue        *asyncqueue.Queue
	initialDelay gotime.Duration
	regularDelay gotime.Duration

	hasRun bool
	op     *asyncqueue.DelayedOperation
}

// NewLRUScheduler creates a LRUScheduler.
func NewLRUScheduler(
	gc *LRUGarbageCollector,
	store garbageCollectable,
	queue *asyncqueue.Queue,
	initialDelay, regularDelay gotime.Duration,
) *LRUScheduler {
	return &LRUScheduler{
		gc:           gc,
		store:        store,
		queue:        queue,
		initialDelay: initialDelay,
		regularDelay: regularDelay,
	}
}

// Start schedules the first collection. It must run on the queue.
func (s *LRUScheduler) Start() {
	if s.gc.IsEnabled() {
		s.schedule()
	}
}

// Stop cancels the scheduled collection. It must run on the queue.
func (s *LRUScheduler) Stop() {
	if s.op != nil {
		s.op.Cancel()
		s.op = nil
	}
}

// IsStarted returns whether a collection is scheduled.
func (s *LRUScheduler) IsStarted() bool {
	return s.op != nil
}

func (s *LRUScheduler) schedule() {
	delay := s.regularDelay
	if !s.hasRun {
		delay = s.initialDelay
	}

	s.op = s.queue.EnqueueAfterDelay(asyncqueue.TimerGarbageCollection, delay, func() error {
		s.op = nil
		s.hasRun = true
		if _, err := s.store.CollectGarbage(context.Background(), s.gc); err != nil {
			s.gc.logger.Warnf("collect garbage: %v", err)
		}
		s.schedule()
		return nil
	})
}
