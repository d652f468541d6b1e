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
	"fmt"
	"sort"
	gotime "time"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/asyncqueue"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/local"
	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
	"github.com/yorkie-team/docsync/pkg/backoff"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/errors"
)

// DefaultMaxPendingWrites is the number of batches written to the write
// stream without being acknowledged.
const DefaultMaxPendingWrites = 10

// ErrUnexpectedWriteResult is returned when the write stream acknowledges a
// batch that was not written.
var ErrUnexpectedWriteResult = errors.Internal("unexpected write result").WithCode("ErrUnexpectedWriteResult")

// RemoteSyncer receives the events of the RemoteStore. Every method is
// called on the queue.
type RemoteSyncer interface {
	// ApplyRemoteEvent applies a consistent snapshot of the listen stream.
	ApplyRemoteEvent(ctx context.Context, event *types.RemoteEvent) error

	// RejectListen reports that the server rejected a target.
	RejectListen(ctx context.Context, targetID types.TargetID, err error) error

	// ApplySuccessfulWrite applies the acknowledgement of a batch.
	ApplySuccessfulWrite(ctx context.Context, result *mutation.BatchResult) error

	// RejectFailedWrite reports that the server rejected a batch.
	RejectFailedWrite(ctx context.Context, batchID int64, err error) error

	// RemoteKeysForTarget returns the keys the server last reported for
	// the target.
	RemoteKeysForTarget(targetID types.TargetID) key.Set

	// ApplyOnlineStateChange reports a change of the online state.
	ApplyOnlineStateChange(state types.OnlineState)
}

// Options configures a RemoteStore.
type Options struct {
	// Backoff is the backoff of the streams between failed attempts.
	Backoff backoff.Config

	// IdleTimeout is the time an unused stream stays open.
	IdleTimeout gotime.Duration

	// OnlineStateTimeout is the time the watch stream may take to connect
	// before the client is considered offline.
	OnlineStateTimeout gotime.Duration

	// MaxPendingWrites is the number of batches written without being
	// acknowledged.
	MaxPendingWrites int

	Metrics *prometheus.Metrics
}

// offlineCause is a reason the network is not used.
type offlineCause int

const (
	causeUserDisabled offlineCause = iota
	causePersistenceFailure
	causeCredentialChange
	causeConnectivityChange
	causeShutdown
)

// RemoteStore listens to the targets of the sync engine on the watch stream
// and writes the pending batches of the local store on the write stream.
// Every method must be called on the queue.
type RemoteStore struct {
	local  *local.LocalStore
	queue  *asyncqueue.Queue
	syncer RemoteSyncer
	opts   Options
	logger logging.Logger

	listenTargets map[types.TargetID]*types.TargetData

	// writePipeline holds the batches written to the write stream and not
	// acknowledged yet, oldest first.
	writePipeline []*mutation.Batch

	watch       *watchStream
	write       *writeStream
	aggregator  *WatchChangeAggregator
	onlineState *OnlineStateTracker

	offlineCauses map[offlineCause]struct{}
}

// NewRemoteStore creates a RemoteStore. The network is not used until
// Start is called.
func NewRemoteStore(
	localStore *local.LocalStore,
	conn Connection,
	creds auth.CredentialsProvider,
	queue *asyncqueue.Queue,
	syncer RemoteSyncer,
	opts Options,
) *RemoteStore {
	if opts.MaxPendingWrites <= 0 {
		opts.MaxPendingWrites = DefaultMaxPendingWrites
	}

	rs := &RemoteStore{
		local:         localStore,
		queue:         queue,
		syncer:        syncer,
		opts:          opts,
		logger:        logging.New("remote"),
		listenTargets: make(map[types.TargetID]*types.TargetData),
		offlineCauses: map[offlineCause]struct{}{causeUserDisabled: {}},
	}

	streamOpts := streamOptions{
		idleTimeout: opts.IdleTimeout,
		backoff:     opts.Backoff,
		metrics:     opts.Metrics,
	}
	rs.watch = newWatchStream(streamOpts, queue, creds, conn, rs)
	rs.write = newWriteStream(streamOpts, queue, creds, conn, rs)
	rs.onlineState = NewOnlineStateTracker(queue, opts.OnlineStateTimeout, func(state types.OnlineState) {
		if opts.Metrics != nil {
			opts.Metrics.SetOnlineState(int(state))
		}
		syncer.ApplyOnlineStateChange(state)
	})
	return rs
}

// Start starts using the network.
func (rs *RemoteStore) Start(ctx context.Context) error {
	return rs.EnableNetwork(ctx)
}

// OnlineState returns the online state.
func (rs *RemoteStore) OnlineState() types.OnlineState {
	return rs.onlineState.State()
}

// CanUseNetwork returns whether the network is enabled.
func (rs *RemoteStore) CanUseNetwork() bool {
	return len(rs.offlineCauses) == 0
}

// WatchStreamState returns the state of the watch stream.
func (rs *RemoteStore) WatchStreamState() StreamState {
	return rs.watch.State()
}

// WriteStreamState returns the state of the write stream.
func (rs *RemoteStore) WriteStreamState() StreamState {
	return rs.write.State()
}

// EnableNetwork re-enables the network after DisableNetwork.
func (rs *RemoteStore) EnableNetwork(ctx context.Context) error {
	delete(rs.offlineCauses, causeUserDisabled)
	return rs.enableNetworkInternal(ctx)
}

// DisableNetwork stops both streams. The client is offline until
// EnableNetwork is called.
func (rs *RemoteStore) DisableNetwork(_ context.Context) error {
	rs.offlineCauses[causeUserDisabled] = struct{}{}
	rs.disableNetworkInternal()
	rs.onlineState.Set(types.OnlineStateOffline)
	return nil
}

// Shutdown stops both streams for good.
func (rs *RemoteStore) Shutdown(_ context.Context) error {
	rs.logger.Debugf("shut down remote store")
	rs.offlineCauses[causeShutdown] = struct{}{}
	rs.disableNetworkInternal()
	if err := rs.watch.Close(); err != nil {
		return err
	}
	if err := rs.write.Close(); err != nil {
		return err
	}
	rs.onlineState.Set(types.OnlineStateUnknown)
	return nil
}

// HandleCredentialChange restarts both streams so that they use the token
// of the new user. The backoff of the streams is reset.
func (rs *RemoteStore) HandleCredentialChange(ctx context.Context) error {
	if !rs.CanUseNetwork() {
		return nil
	}

	rs.logger.Debugf("restart streams for the new user")
	rs.offlineCauses[causeCredentialChange] = struct{}{}
	rs.disableNetworkInternal()
	rs.onlineState.Set(types.OnlineStateUnknown)
	delete(rs.offlineCauses, causeCredentialChange)
	return rs.enableNetworkInternal(ctx)
}

// HandleConnectivityChange restarts both streams when the connectivity of
// the device changes, so that they do not wait for a backoff.
func (rs *RemoteStore) HandleConnectivityChange(ctx context.Context, available bool) error {
	if !available || !rs.CanUseNetwork() {
		return nil
	}

	rs.logger.Debugf("restart streams after a connectivity change")
	rs.offlineCauses[causeConnectivityChange] = struct{}{}
	rs.disableNetworkInternal()
	delete(rs.offlineCauses, causeConnectivityChange)
	return rs.enableNetworkInternal(ctx)
}

func (rs *RemoteStore) enableNetworkInternal(ctx context.Context) error {
	if !rs.CanUseNetwork() {
		return nil
	}

	token, err := rs.local.LastStreamToken(ctx)
	if err != nil {
		return rs.handlePersistenceError(err)
	}
	rs.write.lastStreamToken = token

	if rs.shouldStartWatchStream() {
		rs.startWatchStream()
	} else {
		rs.onlineState.Set(types.OnlineStateUnknown)
	}
	return rs.FillWritePipeline(ctx)
}

func (rs *RemoteStore) disableNetworkInternal() {
	if err := rs.watch.Stop(); err != nil {
		rs.logger.Warnf("stop watch stream: %v", err)
	}
	if err := rs.write.Stop(); err != nil {
		rs.logger.Warnf("stop write stream: %v", err)
	}

	if len(rs.writePipeline) > 0 {
		rs.logger.Debugf("drop %d batches from the write pipeline", len(rs.writePipeline))
		rs.writePipeline = nil
	}
	rs.cleanUpWatchStreamState()
}

// handlePersistenceError disables the network after a transient failure of
// the persistence, and re-enables it once the persistence works again. Other
// failures are returned as they are.
func (rs *RemoteStore) handlePersistenceError(err error) error {
	if !errors.IsRetryable(err) {
		return err
	}

	rs.logger.Warnf("disable network until persistence recovers: %v", err)
	rs.offlineCauses[causePersistenceFailure] = struct{}{}
	rs.disableNetworkInternal()
	rs.onlineState.Set(types.OnlineStateOffline)

	return rs.queue.EnqueueRetryable(func() error {
		ctx := context.Background()
		if _, err := rs.local.LastRemoteSnapshotVersion(ctx); err != nil {
			return err
		}
		delete(rs.offlineCauses, causePersistenceFailure)
		return rs.enableNetworkInternal(ctx)
	})
}

// Listen starts listening to the target.
func (rs *RemoteStore) Listen(data *types.TargetData) {
	if _, ok := rs.listenTargets[data.TargetID]; ok {
		return
	}

	rs.listenTargets[data.TargetID] = data
	if rs.shouldStartWatchStream() {
		rs.startWatchStream()
	} else if rs.watch.IsOpen() {
		rs.sendWatchRequest(data)
	}
}

// Unlisten stops listening to the target.
func (rs *RemoteStore) Unlisten(targetID types.TargetID) {
	delete(rs.listenTargets, targetID)
	if rs.watch.IsOpen() {
		rs.sendUnwatchRequest(targetID)
	}

	if len(rs.listenTargets) == 0 {
		if rs.watch.IsOpen() {
			rs.watch.MarkIdle()
		} else if rs.CanUseNetwork() {
			// Nothing to listen to, so the state cannot be known.
			rs.onlineState.Set(types.OnlineStateUnknown)
		}
	}
}

// TargetDataForTarget returns the data of a listened target.
func (rs *RemoteStore) TargetDataForTarget(targetID types.TargetID) *types.TargetData {
	return rs.listenTargets[targetID]
}

// RemoteKeysForTarget returns the keys the server last reported for the
// target.
func (rs *RemoteStore) RemoteKeysForTarget(targetID types.TargetID) key.Set {
	return rs.syncer.RemoteKeysForTarget(targetID)
}

func (rs *RemoteStore) sendWatchRequest(data *types.TargetData) {
	rs.aggregator.RecordPendingTargetRequest(data.TargetID)
	if len(data.ResumeToken) > 0 || !data.SnapshotVersion.IsMin() {
		count := rs.syncer.RemoteKeysForTarget(data.TargetID).Len()
		data = data.WithExpectedCount(int32(count))
	}

	if err := rs.watch.watch(data); err != nil {
		rs.logger.Debugf("watch target %d: %v", data.TargetID, err)
	}
}

func (rs *RemoteStore) sendUnwatchRequest(targetID types.TargetID) {
	rs.aggregator.RecordPendingTargetRequest(targetID)
	if err := rs.watch.unwatch(targetID); err != nil {
		rs.logger.Debugf("unwatch target %d: %v", targetID, err)
	}
}

func (rs *RemoteStore) shouldStartWatchStream() bool {
	return rs.CanUseNetwork() && !rs.watch.IsStarted() && len(rs.listenTargets) > 0
}

func (rs *RemoteStore) startWatchStream() {
	rs.aggregator = NewWatchChangeAggregator(rs, rs.opts.Metrics)
	rs.watch.Start()
	rs.onlineState.HandleWatchStreamStart()
}

func (rs *RemoteStore) cleanUpWatchStreamState() {
	rs.aggregator = nil
}

func (rs *RemoteStore) onWatchStreamOpen() error {
	ids := make([]types.TargetID, 0, len(rs.listenTargets))
	for id := range rs.listenTargets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		rs.sendWatchRequest(rs.listenTargets[id])
	}
	return nil
}

func (rs *RemoteStore) onWatchStreamClose(err error) error {
	rs.cleanUpWatchStreamState()

	if rs.shouldStartWatchStream() {
		if err != nil {
			rs.onlineState.HandleWatchStreamFailure(err)
		}
		rs.startWatchStream()
		return nil
	}

	// The stream was stopped on purpose, or there is nothing to listen to.
	rs.onlineState.Set(types.OnlineStateUnknown)
	return nil
}

func (rs *RemoteStore) onWatchStreamChange(change *WatchChange, snapshotVersion time.Version) error {
	rs.onlineState.Set(types.OnlineStateOnline)
	if rs.aggregator == nil {
		return nil
	}

	if change.Target != nil && change.Target.Type == types.TargetChangeRemove && change.Target.Cause != nil {
		return rs.handleTargetError(change.Target)
	}

	switch {
	case change.Document != nil:
		rs.aggregator.HandleDocumentChange(change.Document)
	case change.Filter != nil:
		rs.aggregator.HandleExistenceFilter(change.Filter)
	default:
		rs.aggregator.HandleTargetChange(change.Target)
	}

	if snapshotVersion.IsMin() {
		return nil
	}

	ctx := context.Background()
	last, err := rs.local.LastRemoteSnapshotVersion(ctx)
	if err != nil {
		return rs.handlePersistenceError(err)
	}
	if snapshotVersion.Compare(last) >= 0 {
		return rs.raiseWatchSnapshot(ctx, snapshotVersion)
	}
	return nil
}

func (rs *RemoteStore) handleTargetError(change *types.WatchTargetChange) error {
	cause := change.Cause.Err()
	for _, targetID := range change.TargetIDs {
		if _, ok := rs.listenTargets[targetID]; !ok {
			continue
		}

		delete(rs.listenTargets, targetID)
		rs.aggregator.RemoveTarget(targetID)
		if err := rs.syncer.RejectListen(context.Background(), targetID, cause); err != nil {
			return err
		}
	}
	return nil
}

// raiseWatchSnapshot sends the accumulated changes to the syncer, and
// re-listens to the targets whose existence filter did not match.
func (rs *RemoteStore) raiseWatchSnapshot(ctx context.Context, snapshotVersion time.Version) error {
	event := rs.aggregator.CreateRemoteEvent(snapshotVersion)

	for targetID, change := range event.TargetChanges {
		if len(change.ResumeToken) == 0 {
			continue
		}
		if data, ok := rs.listenTargets[targetID]; ok {
			rs.listenTargets[targetID] = data.WithResumeToken(change.ResumeToken, snapshotVersion)
		}
	}

	for targetID, purpose := range event.TargetMismatches {
		data, ok := rs.listenTargets[targetID]
		if !ok {
			continue
		}

		// Listen again from scratch so that the server sends every document.
		rs.listenTargets[targetID] = data.WithResumeToken(nil, data.SnapshotVersion)
		rs.sendUnwatchRequest(targetID)
		rs.sendWatchRequest(types.NewTargetData(data.Target, targetID, purpose, data.SequenceNumber))
	}

	if err := rs.syncer.ApplyRemoteEvent(ctx, event); err != nil {
		return rs.handlePersistenceError(err)
	}
	return nil
}

// FillWritePipeline writes the pending batches of the local store until
// the pipeline is full.
func (rs *RemoteStore) FillWritePipeline(ctx context.Context) error {
	lastBatchID := mutation.UnknownBatchID
	if n := len(rs.writePipeline); n > 0 {
		lastBatchID = rs.writePipeline[n-1].ID
	}

	for rs.canAddToWritePipeline() {
		batch, err := rs.local.NextMutationBatch(ctx, lastBatchID)
		if err != nil {
			return rs.handlePersistenceError(err)
		}
		if batch == nil {
			if len(rs.writePipeline) == 0 {
				rs.write.MarkIdle()
			}
			break
		}

		rs.addToWritePipeline(batch)
		lastBatchID = batch.ID
	}

	if rs.shouldStartWriteStream() {
		rs.write.Start()
	}
	return nil
}

// PendingWrites returns the number of batches written and not acknowledged.
func (rs *RemoteStore) PendingWrites() int {
	return len(rs.writePipeline)
}

func (rs *RemoteStore) canAddToWritePipeline() bool {
	return rs.CanUseNetwork() && len(rs.writePipeline) < rs.opts.MaxPendingWrites
}

func (rs *RemoteStore) addToWritePipeline(batch *mutation.Batch) {
	rs.writePipeline = append(rs.writePipeline, batch)
	if rs.write.IsOpen() && rs.write.handshakeComplete {
		if err := rs.write.writeMutations(batch.Mutations); err != nil {
			rs.logger.Debugf("write batch %d: %v", batch.ID, err)
		}
	}
}

func (rs *RemoteStore) shouldStartWriteStream() bool {
	return rs.CanUseNetwork() && !rs.write.IsStarted() && len(rs.writePipeline) > 0
}

func (rs *RemoteStore) onWriteStreamOpen() error {
	return rs.write.writeHandshake()
}

func (rs *RemoteStore) onWriteHandshakeComplete() error {
	if err := rs.local.SetLastStreamToken(context.Background(), rs.write.lastStreamToken); err != nil {
		return rs.handlePersistenceError(err)
	}

	// Resend the batches that were written on an earlier stream and not
	// acknowledged.
	for _, batch := range rs.writePipeline {
		if err := rs.write.writeMutations(batch.Mutations); err != nil {
			rs.logger.Debugf("write batch %d: %v", batch.ID, err)
		}
	}
	return nil
}

func (rs *RemoteStore) onMutationResult(commitVersion time.Version, results []*mutation.Result) error {
	if len(rs.writePipeline) == 0 {
		return fmt.Errorf("%d results: %w", len(results), ErrUnexpectedWriteResult)
	}

	batch := rs.writePipeline[0]
	rs.writePipeline = rs.writePipeline[1:]

	result, err := mutation.NewBatchResult(batch, commitVersion, results, rs.write.lastStreamToken)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := rs.syncer.ApplySuccessfulWrite(ctx, result); err != nil {
		return rs.handlePersistenceError(err)
	}
	if rs.opts.Metrics != nil {
		rs.opts.Metrics.AddWriteResult("acknowledged")
	}
	return rs.FillWritePipeline(ctx)
}

func (rs *RemoteStore) onWriteStreamClose(err error) error {
	ctx := context.Background()
	if err != nil && len(rs.writePipeline) > 0 {
		var handleErr error
		if rs.write.handshakeComplete {
			handleErr = rs.handleWriteError(ctx, err)
		} else {
			handleErr = rs.handleHandshakeError(ctx, err)
		}
		if handleErr != nil {
			return handleErr
		}
	}

	if rs.shouldStartWriteStream() {
		rs.write.Start()
	}
	return nil
}

func (rs *RemoteStore) handleHandshakeError(ctx context.Context, err error) error {
	if !errors.IsPermanentWriteError(err) {
		return nil
	}

	// The token may be the cause, so start over without it.
	rs.logger.Debugf("reset write stream token after handshake error: %v", err)
	rs.write.lastStreamToken = nil
	if err := rs.local.SetLastStreamToken(ctx, nil); err != nil {
		return rs.handlePersistenceError(err)
	}
	return nil
}

func (rs *RemoteStore) handleWriteError(ctx context.Context, err error) error {
	if !errors.IsPermanentWriteError(err) {
		// Transient errors restart the stream, which resends the batches.
		return nil
	}

	batch := rs.writePipeline[0]
	rs.writePipeline = rs.writePipeline[1:]

	// The batch was at fault, not the backend.
	rs.write.InhibitBackoff()

	rs.logger.Warnf("batch %d rejected: %v", batch.ID, err)
	if rs.opts.Metrics != nil {
		rs.opts.Metrics.AddWriteResult("rejected")
	}
	if err := rs.syncer.RejectFailedWrite(ctx, batch.ID, err); err != nil {
		return rs.handlePersistenceError(err)
	}
	return rs.FillWritePipeline(ctx)
}
