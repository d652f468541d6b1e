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

// Package syncengine coordinates the local store, the remote store and the
// views of the queries listened to by callers. It resolves the documents in
// limbo and reports the outcome of local writes.
package syncengine

import (
	"context"
	"fmt"
	"sort"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/asyncqueue"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/local"
	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
	"github.com/yorkie-team/docsync/engine/remote"
	"github.com/yorkie-team/docsync/engine/view"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

// DefaultMaxConcurrentLimboResolutions is the number of limbo documents
// resolved at the same time. The others wait in a queue.
const DefaultMaxConcurrentLimboResolutions = 100

var (
	// ErrUserChanged is returned to the callers waiting for pending writes
	// when the user changes.
	ErrUserChanged = errors.Canceled("user changed").WithCode("ErrUserChanged")

	// ErrQueryNotListened is returned when a query is not listened to.
	ErrQueryNotListened = errors.NotFound("query not listened").WithCode("ErrQueryNotListened")
)

// Options configures a SyncEngine.
type Options struct {
	// MaxConcurrentLimboResolutions is the number of limbo resolution
	// targets listened to at the same time.
	MaxConcurrentLimboResolutions int

	// Remote configures the remote store.
	Remote remote.Options

	Metrics *prometheus.Metrics
}

// queryView is the view of a query and the target it is listened with.
type queryView struct {
	query    *query.Query
	targetID types.TargetID
	view     *view.View
}

// limboResolution is the state of the resolution of a limbo document.
type limboResolution struct {
	key key.Key

	// receivedDocument is whether the limbo target reported the document.
	receivedDocument bool
}

// SyncEngine is the hub of the engine. It receives the queries and writes of
// callers, applies them to the local store, sends them to the remote store
// and raises the snapshots of the views. Every method must be called on the
// queue.
type SyncEngine struct {
	local   *local.LocalStore
	remote  *remote.RemoteStore
	queue   *asyncqueue.Queue
	opts    Options
	logger  logging.Logger
	events  *eventManager
	user    auth.User
	started bool

	queryViewsByQuery map[string]*queryView
	queriesByTarget   map[types.TargetID][]*query.Query

	// enqueuedLimboResolutions are the limbo documents waiting for a
	// target, in the order they entered limbo.
	enqueuedLimboResolutions []key.Key
	activeLimboTargetsByKey  map[key.Key]types.TargetID
	activeLimboResolutions   map[types.TargetID]*limboResolution
	limboDocumentRefs        *local.ReferenceSet
	limboTargetIDs           *local.TargetIDGenerator

	// mutationCallbacks are the callbacks of the writes of each user by
	// batch id.
	mutationCallbacks      map[string]map[int64]func(error)
	pendingWritesCallbacks map[int64][]func(error)

	onlineState types.OnlineState
}

// New creates a SyncEngine on the local store for the user. conn and creds
// are used by its remote store.
func New(
	localStore *local.LocalStore,
	conn remote.Connection,
	creds auth.CredentialsProvider,
	queue *asyncqueue.Queue,
	opts Options,
) *SyncEngine {
	if opts.MaxConcurrentLimboResolutions <= 0 {
		opts.MaxConcurrentLimboResolutions = DefaultMaxConcurrentLimboResolutions
	}
	if opts.Remote.Metrics == nil {
		opts.Remote.Metrics = opts.Metrics
	}

	se := &SyncEngine{
		local:                   localStore,
		queue:                   queue,
		opts:                    opts,
		logger:                  logging.New("sync"),
		user:                    localStore.User(),
		queryViewsByQuery:       make(map[string]*queryView),
		queriesByTarget:         make(map[types.TargetID][]*query.Query),
		activeLimboTargetsByKey: make(map[key.Key]types.TargetID),
		activeLimboResolutions:  make(map[types.TargetID]*limboResolution),
		limboDocumentRefs:       local.NewReferenceSet(),
		limboTargetIDs:          local.NewLimboTargetIDGenerator(),
		mutationCallbacks:       make(map[string]map[int64]func(error)),
		pendingWritesCallbacks:  make(map[int64][]func(error)),
		onlineState:             types.OnlineStateUnknown,
	}
	se.events = newEventManager(se)
	se.remote = remote.NewRemoteStore(localStore, conn, creds, queue, se, opts.Remote)
	localStore.PinDocuments(se.limboDocumentRefs)
	return se
}

// Start starts the remote store.
func (se *SyncEngine) Start(ctx context.Context) error {
	if se.started {
		return nil
	}
	se.started = true
	return se.remote.Start(ctx)
}

// Shutdown stops the remote store.
func (se *SyncEngine) Shutdown(ctx context.Context) error {
	return se.remote.Shutdown(ctx)
}

// OnlineState returns the online state of the client.
func (se *SyncEngine) OnlineState() types.OnlineState {
	return se.onlineState
}

// RemoteStore returns the remote store of the engine.
func (se *SyncEngine) RemoteStore() *remote.RemoteStore {
	return se.remote
}

// Listen registers the listener. The query is listened to on the server
// if it was not already.
func (se *SyncEngine) Listen(ctx context.Context, listener *QueryListener) error {
	return se.events.listen(ctx, listener)
}

// Unlisten removes the listener. The query is no longer listened to once
// its last listener is removed.
func (se *SyncEngine) Unlisten(ctx context.Context, listener *QueryListener) error {
	return se.events.unlisten(ctx, listener)
}

// listen creates the view of the query and returns its first snapshot.
func (se *SyncEngine) listen(ctx context.Context, q *query.Query) (*view.Snapshot, error) {
	if qv, ok := se.queryViewsByQuery[q.CanonicalID()]; ok {
		return qv.view.InitialSnapshot(), nil
	}

	data, err := se.local.AllocateTarget(ctx, q.ToTarget())
	if err != nil {
		return nil, err
	}

	_, targetListened := se.queriesByTarget[data.TargetID]
	snapshot, err := se.initializeView(ctx, q, data.TargetID, data.ResumeToken)
	if err != nil {
		return nil, err
	}
	if !targetListened {
		se.remote.Listen(data)
	}
	return snapshot, nil
}

func (se *SyncEngine) initializeView(
	ctx context.Context,
	q *query.Query,
	targetID types.TargetID,
	resumeToken []byte,
) (*view.Snapshot, error) {
	result, err := se.local.ExecuteQuery(ctx, q, true)
	if err != nil {
		return nil, err
	}

	v := view.New(q, result.RemoteKeys)
	docChanges, err := v.ComputeDocChanges(result.Documents, nil)
	if err != nil {
		return nil, err
	}

	// The cache can not be known to be current before the server says so.
	synthesized := types.NewTargetChange(resumeToken, false)
	change := v.ApplyChanges(docChanges, true, synthesized, false)
	se.updateTrackedLimbos(targetID, change.LimboChanges)

	se.queryViewsByQuery[q.CanonicalID()] = &queryView{query: q, targetID: targetID, view: v}
	se.queriesByTarget[targetID] = append(se.queriesByTarget[targetID], q)
	return change.Snapshot, nil
}

// unlisten removes the view of the query, and stops listening to its
// target if no other query shares it.
func (se *SyncEngine) unlisten(ctx context.Context, q *query.Query) error {
	canonicalID := q.CanonicalID()
	qv, ok := se.queryViewsByQuery[canonicalID]
	if !ok {
		return fmt.Errorf("unlisten %s: %w", q, ErrQueryNotListened)
	}

	queries := se.queriesByTarget[qv.targetID]
	if len(queries) > 1 {
		delete(se.queryViewsByQuery, canonicalID)
		for i, other := range queries {
			if other.CanonicalID() == canonicalID {
				se.queriesByTarget[qv.targetID] = append(queries[:i:i], queries[i+1:]...)
				break
			}
		}
		return nil
	}

	se.remote.Unlisten(qv.targetID)
	if err := se.local.ReleaseTarget(ctx, qv.targetID, false); err != nil {
		return err
	}
	se.removeAndCleanupTarget(qv.targetID, nil)
	return nil
}

// Write queues the mutations as a batch. callback is called with nil once
// the server acknowledges the batch, or with the error it was rejected
// with.
func (se *SyncEngine) Write(ctx context.Context, mutations []*mutation.Mutation, callback func(error)) error {
	result, err := se.local.LocalWrite(ctx, mutations)
	if err != nil {
		se.logger.Warnf("write %d mutations locally: %v", len(mutations), err)
		return err
	}

	se.addMutationCallback(result.BatchID, callback)
	if err := se.emitNewSnapshots(ctx, result.Changes, nil); err != nil {
		return err
	}
	return se.remote.FillWritePipeline(ctx)
}

// WaitForPendingWrites calls callback once every batch queued so far is
// acknowledged or rejected.
func (se *SyncEngine) WaitForPendingWrites(ctx context.Context, callback func(error)) error {
	highest, err := se.local.HighestUnacknowledgedBatchID(ctx)
	if err != nil {
		return err
	}
	if highest == mutation.UnknownBatchID {
		callback(nil)
		return nil
	}

	se.pendingWritesCallbacks[highest] = append(se.pendingWritesCallbacks[highest], callback)
	return nil
}

// EnableNetwork starts using the network again.
func (se *SyncEngine) EnableNetwork(ctx context.Context) error {
	return se.remote.EnableNetwork(ctx)
}

// DisableNetwork stops using the network. Listeners receive snapshots from
// cache and writes are queued.
func (se *SyncEngine) DisableNetwork(ctx context.Context) error {
	return se.remote.DisableNetwork(ctx)
}

// HandleConnectivityChange restarts the streams when the network becomes
// available.
func (se *SyncEngine) HandleConnectivityChange(ctx context.Context, available bool) error {
	return se.remote.HandleConnectivityChange(ctx, available)
}

// HandleCredentialChange switches the local data to the user and restarts
// the streams with its credentials.
func (se *SyncEngine) HandleCredentialChange(ctx context.Context, user auth.User) error {
	if se.user != user {
		se.logger.Debugf("user changed from %s to %s", se.user, user)
		se.user = user
		se.rejectPendingWritesCallbacks(ErrUserChanged)

		changes, err := se.local.HandleUserChange(ctx, user)
		if err != nil {
			return err
		}
		if err := se.emitNewSnapshots(ctx, changes, nil); err != nil {
			return err
		}
	}
	return se.remote.HandleCredentialChange(ctx)
}

// GetFromCache returns a snapshot of the query computed from the local
// store only.
func (se *SyncEngine) GetFromCache(ctx context.Context, q *query.Query) (*view.Snapshot, error) {
	result, err := se.local.ExecuteQuery(ctx, q, true)
	if err != nil {
		return nil, err
	}

	v := view.New(q, result.RemoteKeys)
	docChanges, err := v.ComputeDocChanges(result.Documents, nil)
	if err != nil {
		return nil, err
	}
	return v.ApplyChanges(docChanges, false, nil, false).Snapshot, nil
}

// ActiveLimboResolutions returns the limbo documents being resolved with
// the ids of their targets.
func (se *SyncEngine) ActiveLimboResolutions() map[key.Key]types.TargetID {
	active := make(map[key.Key]types.TargetID, len(se.activeLimboTargetsByKey))
	for k, id := range se.activeLimboTargetsByKey {
		active[k] = id
	}
	return active
}

// EnqueuedLimboResolutions returns the limbo documents waiting for a target.
func (se *SyncEngine) EnqueuedLimboResolutions() []key.Key {
	return append([]key.Key(nil), se.enqueuedLimboResolutions...)
}

// ApplyRemoteEvent applies a snapshot of the listen stream to the local
// store and raises the new snapshots of the views.
func (se *SyncEngine) ApplyRemoteEvent(ctx context.Context, event *types.RemoteEvent) error {
	for targetID, change := range event.TargetChanges {
		resolution, ok := se.activeLimboResolutions[targetID]
		if !ok {
			continue
		}

		switch {
		case change.AddedDocuments.Len() > 0:
			resolution.receivedDocument = true
		case change.ModifiedDocuments.Len() > 0:
			if !resolution.receivedDocument {
				se.logger.Warnf("limbo document %s modified before it was added", resolution.key)
			}
		case change.RemovedDocuments.Len() > 0:
			resolution.receivedDocument = false
		}
	}

	changes, err := se.local.ApplyRemoteEvent(ctx, event)
	if err != nil {
		return err
	}
	return se.emitNewSnapshots(ctx, changes, event)
}

// RejectListen handles a target the server refused. The listeners of its
// queries receive the error. A refused limbo target means the document is
// not readable, so it is removed from the cache.
func (se *SyncEngine) RejectListen(ctx context.Context, targetID types.TargetID, cause error) error {
	if resolution, ok := se.activeLimboResolutions[targetID]; ok {
		k := resolution.key
		delete(se.activeLimboResolutions, targetID)
		delete(se.activeLimboTargetsByKey, k)
		se.pumpEnqueuedLimboResolutions()

		event := types.NewRemoteEvent(time.MinVersion)
		event.DocumentUpdates[k] = document.NewNoDocument(k, time.MinVersion)
		event.ResolvedLimboDocuments.Add(k)
		return se.ApplyRemoteEvent(ctx, event)
	}

	se.logger.Warnf("target %d rejected: %v", targetID, cause)
	if err := se.local.ReleaseTarget(ctx, targetID, false); err != nil {
		return err
	}
	se.removeAndCleanupTarget(targetID, cause)
	return nil
}

// ApplySuccessfulWrite applies the acknowledgement of a batch.
func (se *SyncEngine) ApplySuccessfulWrite(ctx context.Context, result *mutation.BatchResult) error {
	batchID := result.Batch.ID
	changes, err := se.local.AcknowledgeBatch(ctx, result)
	if err != nil {
		return err
	}

	se.processMutationCallback(batchID, nil)
	se.triggerPendingWritesCallbacks(batchID)
	return se.emitNewSnapshots(ctx, changes, nil)
}

// RejectFailedWrite reverts a batch the server rejected.
func (se *SyncEngine) RejectFailedWrite(ctx context.Context, batchID int64, cause error) error {
	changes, err := se.local.RejectBatch(ctx, batchID)
	if err != nil {
		return err
	}

	se.processMutationCallback(batchID, cause)
	se.triggerPendingWritesCallbacks(batchID)
	return se.emitNewSnapshots(ctx, changes, nil)
}

// RemoteKeysForTarget returns the keys the server reported for the target.
func (se *SyncEngine) RemoteKeysForTarget(targetID types.TargetID) key.Set {
	if resolution, ok := se.activeLimboResolutions[targetID]; ok {
		if resolution.receivedDocument {
			return key.NewSet(resolution.key)
		}
		return key.NewSet()
	}

	keys := key.NewSet()
	for _, q := range se.queriesByTarget[targetID] {
		if qv, ok := se.queryViewsByQuery[q.CanonicalID()]; ok {
			keys.AddAll(qv.view.SyncedDocuments())
		}
	}
	return keys
}

// ApplyOnlineStateChange raises the snapshots of views that are no longer
// current, and notifies the listeners.
func (se *SyncEngine) ApplyOnlineStateChange(state types.OnlineState) {
	se.onlineState = state

	var snapshots []*view.Snapshot
	for _, qv := range se.sortedQueryViews() {
		change := qv.view.ApplyOnlineStateChange(state)
		if change.Snapshot != nil {
			snapshots = append(snapshots, change.Snapshot)
		}
	}
	se.events.onWatchChange(snapshots)
	se.events.onOnlineStateChange(state)
}

// emitNewSnapshots computes the changes of every view from the changed
// documents, raises the snapshots and records the documents the views
// show.
func (se *SyncEngine) emitNewSnapshots(
	ctx context.Context,
	changes map[key.Key]*document.Document,
	event *types.RemoteEvent,
) error {
	var snapshots []*view.Snapshot
	var viewChanges []*local.LocalViewChanges

	for _, qv := range se.sortedQueryViews() {
		docChanges, err := qv.view.ComputeDocChanges(changes, nil)
		if err != nil {
			return err
		}
		if docChanges.NeedsRefill {
			// A document left a limited view, so the next one has to be
			// read from the local store.
			result, err := se.local.ExecuteQuery(ctx, qv.query, false)
			if err != nil {
				return err
			}
			if docChanges, err = qv.view.ComputeDocChanges(result.Documents, docChanges); err != nil {
				return err
			}
		}

		var targetChange *types.TargetChange
		pendingReset := false
		if event != nil {
			targetChange = event.TargetChanges[qv.targetID]
			_, pendingReset = event.TargetMismatches[qv.targetID]
		}

		change := qv.view.ApplyChanges(docChanges, true, targetChange, pendingReset)
		se.updateTrackedLimbos(qv.targetID, change.LimboChanges)
		if change.Snapshot == nil {
			continue
		}

		snapshots = append(snapshots, change.Snapshot)
		viewChanges = append(viewChanges, localViewChangesOf(qv.targetID, change.Snapshot))
	}

	se.events.onWatchChange(snapshots)
	return se.local.NotifyLocalViewChanges(ctx, viewChanges)
}

func localViewChangesOf(targetID types.TargetID, snapshot *view.Snapshot) *local.LocalViewChanges {
	changes := &local.LocalViewChanges{
		TargetID:    targetID,
		FromCache:   snapshot.FromCache,
		AddedKeys:   key.NewSet(),
		RemovedKeys: key.NewSet(),
	}
	for _, change := range snapshot.DocChanges {
		switch change.Type {
		case view.ChangeAdded:
			changes.AddedKeys.Add(change.Document.Key())
		case view.ChangeRemoved:
			changes.RemovedKeys.Add(change.Document.Key())
		}
	}
	return changes
}

func (se *SyncEngine) sortedQueryViews() []*queryView {
	views := make([]*queryView, 0, len(se.queryViewsByQuery))
	for _, qv := range se.queryViewsByQuery {
		views = append(views, qv)
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].targetID != views[j].targetID {
			return views[i].targetID < views[j].targetID
		}
		return views[i].query.CanonicalID() < views[j].query.CanonicalID()
	})
	return views
}

// removeAndCleanupTarget removes the views of the target and the limbo
// documents only they referenced. cause is delivered to the listeners if
// not nil.
func (se *SyncEngine) removeAndCleanupTarget(targetID types.TargetID, cause error) {
	for _, q := range se.queriesByTarget[targetID] {
		delete(se.queryViewsByQuery, q.CanonicalID())
		if cause != nil {
			se.events.onWatchError(q, cause)
		}
	}
	delete(se.queriesByTarget, targetID)

	limboKeys := se.limboDocumentRefs.RemoveReferencesForID(int64(targetID))
	for _, k := range limboKeys.Sorted() {
		if !se.limboDocumentRefs.ContainsKey(k) {
			se.removeLimboTarget(k)
		}
	}
}

func (se *SyncEngine) updateTrackedLimbos(targetID types.TargetID, changes []view.LimboDocumentChange) {
	for _, change := range changes {
		switch change.Type {
		case view.LimboAdded:
			se.limboDocumentRefs.AddReference(change.Key, int64(targetID))
			se.trackLimboChange(change.Key)
		case view.LimboRemoved:
			se.logger.Debugf("document %s left limbo", change.Key)
			se.limboDocumentRefs.RemoveReference(change.Key, int64(targetID))
			if !se.limboDocumentRefs.ContainsKey(change.Key) {
				se.removeLimboTarget(change.Key)
			}
		}
	}
}

func (se *SyncEngine) trackLimboChange(k key.Key) {
	if _, ok := se.activeLimboTargetsByKey[k]; ok {
		return
	}
	for _, enqueued := range se.enqueuedLimboResolutions {
		if enqueued == k {
			return
		}
	}

	se.logger.Debugf("document %s entered limbo", k)
	se.enqueuedLimboResolutions = append(se.enqueuedLimboResolutions, k)
	se.pumpEnqueuedLimboResolutions()
}

// pumpEnqueuedLimboResolutions listens to the enqueued limbo documents
// while there is room for more resolutions.
func (se *SyncEngine) pumpEnqueuedLimboResolutions() {
	for len(se.enqueuedLimboResolutions) > 0 &&
		len(se.activeLimboTargetsByKey) < se.opts.MaxConcurrentLimboResolutions {
		k := se.enqueuedLimboResolutions[0]
		se.enqueuedLimboResolutions = se.enqueuedLimboResolutions[1:]

		targetID := se.limboTargetIDs.Next()
		se.activeLimboResolutions[targetID] = &limboResolution{key: k}
		se.activeLimboTargetsByKey[k] = targetID
		se.remote.Listen(types.NewTargetData(
			query.NewDocumentQuery(k).ToTarget(),
			targetID,
			types.PurposeLimboResolution,
			types.InvalidSequenceNumber,
		))
	}
	se.updateLimboMetrics()
}

func (se *SyncEngine) removeLimboTarget(k key.Key) {
	for i, enqueued := range se.enqueuedLimboResolutions {
		if enqueued == k {
			se.enqueuedLimboResolutions = append(se.enqueuedLimboResolutions[:i:i], se.enqueuedLimboResolutions[i+1:]...)
			break
		}
	}

	targetID, ok := se.activeLimboTargetsByKey[k]
	if ok {
		se.remote.Unlisten(targetID)
		delete(se.activeLimboTargetsByKey, k)
		delete(se.activeLimboResolutions, targetID)
	}
	se.pumpEnqueuedLimboResolutions()
}

func (se *SyncEngine) updateLimboMetrics() {
	if se.opts.Metrics != nil {
		se.opts.Metrics.SetLimboDocuments(len(se.activeLimboTargetsByKey) + len(se.enqueuedLimboResolutions))
	}
}

func (se *SyncEngine) addMutationCallback(batchID int64, callback func(error)) {
	if callback == nil {
		return
	}

	callbacks, ok := se.mutationCallbacks[se.user.Key()]
	if !ok {
		callbacks = make(map[int64]func(error))
		se.mutationCallbacks[se.user.Key()] = callbacks
	}
	callbacks[batchID] = callback
}

func (se *SyncEngine) processMutationCallback(batchID int64, err error) {
	callbacks := se.mutationCallbacks[se.user.Key()]
	callback, ok := callbacks[batchID]
	if !ok {
		return
	}

	delete(callbacks, batchID)
	callback(err)
}

func (se *SyncEngine) triggerPendingWritesCallbacks(batchID int64) {
	for _, callback := range se.pendingWritesCallbacks[batchID] {
		callback(nil)
	}
	delete(se.pendingWritesCallbacks, batchID)
}

func (se *SyncEngine) rejectPendingWritesCallbacks(err error) {
	for batchID, callbacks := range se.pendingWritesCallbacks {
		for _, callback := range callbacks {
			callback(err)
		}
		delete(se.pendingWritesCallbacks, batchID)
	}
}
