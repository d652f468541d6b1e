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
	"fmt"
	gotime "time"

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/auth"
	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/persistence"
	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
	"github.com/yorkie-team/docsync/pkg/cache"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

// resumeTokenPersistInterval is the snapshot distance after which a new
// resume token of an unchanged target is persisted.
const resumeTokenPersistInterval time.Version = 5 * 60 * 1000 * 1000

var (
	// ErrTargetNotActive is returned when a target that is not allocated is
	// released.
	ErrTargetNotActive = errors.FailedPrecond("target is not active").WithCode("ErrTargetNotActive")

	// ErrSnapshotRegressed is returned when a remote event is older than
	// the last applied one.
	ErrSnapshotRegressed = errors.Internal("remote snapshot version regressed").WithCode("ErrSnapshotRegressed")
)

// Options configures the LocalStore.
type Options struct {
	// OverlayMemoSize bounds the memoized overlay reads. 0 disables the memo.
	OverlayMemoSize int

	// TransactionAttempts is the number of attempts of a transaction that
	// fails with a retryable error.
	TransactionAttempts int

	// Metrics is optional.
	Metrics *prometheus.Metrics
}

// LocalViewChanges are the keys added to and removed from a view, as seen
// by the caller.
type LocalViewChanges struct {
	TargetID    types.TargetID
	FromCache   bool
	AddedKeys   key.Set
	RemovedKeys key.Set
}

// QueryResult is the outcome of a query on the local store.
type QueryResult struct {
	Documents  map[key.Key]*document.Document
	RemoteKeys key.Set
	Tier       QueryTier
}

// LocalWriteResult is the outcome of a local write.
type LocalWriteResult struct {
	BatchID int64
	Changes map[key.Key]*document.Document
}

// LocalStore is the durable state of the client. Every method runs its own
// transaction. It is not safe for concurrent use; the sync engine calls it
// from the async queue only.
type LocalStore struct {
	persistence persistence.Persistence
	opts        Options
	logger      logging.Logger

	user        auth.User
	mutations   *MutationQueue
	overlays    *OverlayCache
	remoteDocs  *RemoteDocumentCache
	targets     *TargetCache
	lru         *LRUDelegate
	documents   *LocalDocumentsView
	queryEngine *QueryEngine

	localViewReferences *ReferenceSet
	targetDataByID      map[types.TargetID]*types.TargetData
	targetIDByCanonical map[string][]types.TargetID
}

// NewLocalStore creates a LocalStore on the persistence for the user.
func NewLocalStore(p persistence.Persistence, user auth.User, opts Options) (*LocalStore, error) {
	if opts.TransactionAttempts < 1 {
		opts.TransactionAttempts = 1
	}

	remoteDocs := NewRemoteDocumentCache()
	targets := NewTargetCache()
	s := &LocalStore{
		persistence:         p,
		opts:                opts,
		logger:              logging.New("local"),
		remoteDocs:          remoteDocs,
		targets:             targets,
		lru:                 NewLRUDelegate(targets, remoteDocs),
		localViewReferences: NewReferenceSet(),
		targetDataByID:      make(map[types.TargetID]*types.TargetData),
		targetIDByCanonical: make(map[string][]types.TargetID),
	}
	s.lru.AddInMemoryPins(s.localViewReferences)

	c, err := s.newUserComponents(user)
	if err != nil {
		return nil, err
	}
	s.setUserComponents(c)
	return s, nil
}

// userComponents are the parts of the store partitioned by user.
type userComponents struct {
	user      auth.User
	mutations *MutationQueue
	overlays  *OverlayCache
	documents *LocalDocumentsView
}

func (s *LocalStore) newUserComponents(user auth.User) (*userComponents, error) {
	overlays, err := NewOverlayCache(user.Key(), s.opts.OverlayMemoSize)
	if err != nil {
		return nil, err
	}
	mutations := NewMutationQueue(user.Key())
	return &userComponents{
		user:      user,
		mutations: mutations,
		overlays:  overlays,
		documents: NewLocalDocumentsView(s.remoteDocs, mutations, overlays),
	}, nil
}

func (s *LocalStore) setUserComponents(c *userComponents) {
	s.user = c.user
	s.mutations = c.mutations
	s.overlays = c.overlays
	s.documents = c.documents
	s.queryEngine = NewQueryEngine(c.documents)
}

// Start loads the state of the mutation queue and the target cache.
func (s *LocalStore) Start(ctx context.Context) error {
	return s.runTransaction(ctx, "start local store", persistence.ReadWrite, func(tx persistence.Transaction) error {
		if err := s.mutations.Start(tx); err != nil {
			return err
		}
		return s.targets.Start(tx)
	})
}

// User returns the current user.
func (s *LocalStore) User() auth.User {
	return s.user
}

// HandleUserChange switches the mutation queue and the overlays to the
// user. It returns the local views of the documents written by the pending
// batches of either user.
func (s *LocalStore) HandleUserChange(ctx context.Context, user auth.User) (map[key.Key]*document.Document, error) {
	c, err := s.newUserComponents(user)
	if err != nil {
		return nil, err
	}

	var changes map[key.Key]*document.Document
	if err := s.runTransaction(ctx, "handle user change", persistence.ReadWrite, func(tx persistence.Transaction) error {
		oldBatches, err := s.mutations.AllMutationBatches(tx)
		if err != nil {
			return err
		}
		if err := c.mutations.Start(tx); err != nil {
			return err
		}
		newBatches, err := c.mutations.AllMutationBatches(tx)
		if err != nil {
			return err
		}

		changed := key.NewSet()
		for _, batch := range append(oldBatches, newBatches...) {
			changed.AddAll(batch.Keys())
		}
		changes, err = c.documents.GetDocuments(tx, changed)
		return err
	}); err != nil {
		return nil, err
	}

	s.logger.Debugf("user changed from %s to %s", s.user, user)
	s.setUserComponents(c)
	return changes, nil
}

// LocalWrite queues a batch of the mutations and returns the local views of
// the documents it writes.
func (s *LocalStore) LocalWrite(ctx context.Context, mutations []*mutation.Mutation) (*LocalWriteResult, error) {
	now := gotime.Now()

	var result *LocalWriteResult
	if err := s.runTransaction(ctx, "locally write mutations", persistence.ReadWrite, func(tx persistence.Transaction) error {
		batch, err := s.mutations.AddMutationBatch(tx, now, mutations)
		if err != nil {
			return err
		}

		docs, err := s.remoteDocs.GetEntries(tx, batch.Keys())
		if err != nil {
			return err
		}
		if err := s.documents.RecalculateAndSaveOverlays(tx, docs); err != nil {
			return err
		}

		result = &LocalWriteResult{BatchID: batch.ID, Changes: docs}
		return nil
	}); err != nil {
		return nil, err
	}

	s.updatePendingBatches(ctx)
	return result, nil
}

// AcknowledgeBatch applies the result of an acknowledged batch to the
// remote documents and removes the batch. Only the overlays of the
// documents the batch wrote are recomputed.
func (s *LocalStore) AcknowledgeBatch(
	ctx context.Context,
	result *mutation.BatchResult,
) (map[key.Key]*document.Document, error) {
	batch := result.Batch
	keys := batch.Keys()

	var changes map[key.Key]*document.Document
	if err := s.runTransaction(ctx, "acknowledge batch", persistence.ReadWrite, func(tx persistence.Transaction) error {
		buffer := s.remoteDocs.NewChangeBuffer()
		for k := range keys {
			doc, err := buffer.GetEntry(tx, k)
			if err != nil {
				return err
			}

			version, ok := result.DocVersions[k]
			if !ok || !version.After(doc.Version()) {
				continue
			}
			batch.ApplyToRemoteDocument(doc, result)
			if doc.IsValid() {
				doc.SetReadTime(result.CommitVersion)
				if err := buffer.AddEntry(doc); err != nil {
					return err
				}
			}
		}

		if err := s.removeMutationBatch(tx, batch); err != nil {
			return err
		}
		if err := buffer.Apply(tx); err != nil {
			return err
		}
		if err := s.mutations.AcknowledgeBatch(tx, batch, result.StreamToken); err != nil {
			return err
		}
		if err := s.overlays.RemoveOverlaysForBatchID(tx, batch.ID); err != nil {
			return err
		}
		if err := s.documents.RecalculateAndSaveOverlaysForKeys(tx, keys); err != nil {
			return err
		}

		var err error
		changes, err = s.documents.GetDocuments(tx, keys)
		return err
	}); err != nil {
		return nil, err
	}

	s.logger.Debugf("acknowledged batch %d at %s", batch.ID, result.CommitVersion)
	s.updatePendingBatches(ctx)
	return changes, nil
}

// RejectBatch removes a batch the server rejected. Later batches stay
// queued.
func (s *LocalStore) RejectBatch(ctx context.Context, batchID int64) (map[key.Key]*document.Document, error) {
	var changes map[key.Key]*document.Document
	if err := s.runTransaction(ctx, "reject batch", persistence.ReadWrite, func(tx persistence.Transaction) error {
		batch, err := s.mutations.LookupMutationBatch(tx, batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return fmt.Errorf("reject batch %d: %w", batchID, ErrBatchNotFound)
		}

		keys := batch.Keys()
		if err := s.removeMutationBatch(tx, batch); err != nil {
			return err
		}
		if err := s.overlays.RemoveOverlaysForBatchID(tx, batch.ID); err != nil {
			return err
		}
		if err := s.documents.RecalculateAndSaveOverlaysForKeys(tx, keys); err != nil {
			return err
		}

		changes, err = s.documents.GetDocuments(tx, keys)
		return err
	}); err != nil {
		return nil, err
	}

	s.logger.Debugf("rejected batch %d", batchID)
	s.updatePendingBatches(ctx)
	return changes, nil
}

func (s *LocalStore) removeMutationBatch(tx persistence.Transaction, batch *mutation.Batch) error {
	if err := s.mutations.RemoveMutationBatch(tx, batch); err != nil {
		return err
	}
	for k := range batch.Keys() {
		if err := s.lru.RemoveMutationReference(tx, k); err != nil {
			return err
		}
	}
	return nil
}

// NextMutationBatch returns the oldest pending batch after the given id, or
// nil.
func (s *LocalStore) NextMutationBatch(ctx context.Context, afterBatchID int64) (*mutation.Batch, error) {
	var batch *mutation.Batch
	err := s.runTransaction(ctx, "get next mutation batch", persistence.ReadOnly, func(tx persistence.Transaction) error {
		var err error
		batch, err = s.mutations.NextMutationBatchAfter(tx, afterBatchID)
		return err
	})
	return batch, err
}

// HighestUnacknowledgedBatchID returns the id of the newest pending batch,
// or mutation.UnknownBatchID.
func (s *LocalStore) HighestUnacknowledgedBatchID(ctx context.Context) (int64, error) {
	batchID := mutation.UnknownBatchID
	err := s.runTransaction(
		ctx,
		"get highest unacknowledged batch id",
		persistence.ReadOnly,
		func(tx persistence.Transaction) error {
			var err error
			batchID, err = s.mutations.HighestUnacknowledgedBatchID(tx)
			return err
		},
	)
	return batchID, err
}

// LastStreamToken returns the persisted token of the write stream.
func (s *LocalStore) LastStreamToken(ctx context.Context) ([]byte, error) {
	var token []byte
	err := s.runTransaction(ctx, "get last stream token", persistence.ReadOnly, func(tx persistence.Transaction) error {
		var err error
		token, err = s.mutations.LastStreamToken(tx)
		return err
	})
	return token, err
}

// SetLastStreamToken persists the token of the write stream.
func (s *LocalStore) SetLastStreamToken(ctx context.Context, token []byte) error {
	return s.runTransaction(ctx, "set last stream token", persistence.ReadWrite, func(tx persistence.Transaction) error {
		return s.mutations.SetLastStreamToken(tx, token)
	})
}

// LastRemoteSnapshotVersion returns the version of the last consistent
// remote event.
func (s *LocalStore) LastRemoteSnapshotVersion(ctx context.Context) (time.Version, error) {
	version := time.MinVersion
	err := s.runTransaction(
		ctx,
		"get last remote snapshot version",
		persistence.ReadOnly,
		func(tx persistence.Transaction) error {
			var err error
			version, err = s.targets.LastRemoteSnapshotVersion(tx)
			return err
		},
	)
	return version, err
}

// ApplyRemoteEvent persists the target changes and the strictly newer
// documents of the event. It returns the local views of the changed
// documents.
func (s *LocalStore) ApplyRemoteEvent(ctx context.Context, event *types.RemoteEvent) (map[key.Key]*document.Document, error) {
	start := gotime.Now()
	remoteVersion := event.SnapshotVersion
	newTargetDataByID := make(map[types.TargetID]*types.TargetData, len(s.targetDataByID))
	for id, data := range s.targetDataByID {
		newTargetDataByID[id] = data
	}

	var changes map[key.Key]*document.Document
	if err := s.runTransaction(ctx, "apply remote event", persistence.ReadWrite, func(tx persistence.Transaction) error {
		seq, err := s.lru.CurrentSequenceNumber(tx)
		if err != nil {
			return err
		}

		for targetID, change := range event.TargetChanges {
			old, ok := s.targetDataByID[targetID]
			if !ok {
				continue
			}

			if err := s.targets.RemoveMatchingKeys(tx, change.RemovedDocuments, targetID); err != nil {
				return err
			}
			if err := s.targets.AddMatchingKeys(tx, change.AddedDocuments, targetID); err != nil {
				return err
			}

			updated := old.WithSequenceNumber(seq)
			if _, mismatch := event.TargetMismatches[targetID]; mismatch {
				updated = updated.
					WithResumeToken(nil, time.MinVersion).
					WithLastLimboFreeSnapshotVersion(time.MinVersion)
			} else if len(change.ResumeToken) > 0 {
				updated = updated.WithResumeToken(change.ResumeToken, remoteVersion)
			}
			newTargetDataByID[targetID] = updated

			if shouldPersistTargetData(old, updated, change) {
				if err := s.targets.UpdateTargetData(tx, updated); err != nil {
					return err
				}
			}
		}

		for k := range event.ResolvedLimboDocuments {
			if _, ok := event.DocumentUpdates[k]; ok {
				if err := s.lru.UpdateLimboDocument(tx, k); err != nil {
					return err
				}
			}
		}

		buffer := s.remoteDocs.NewChangeBuffer()
		changed, existenceChanged, err := s.populateChangeBuffer(tx, buffer, event.DocumentUpdates, remoteVersion)
		if err != nil {
			return err
		}

		if !remoteVersion.IsMin() {
			last, err := s.targets.LastRemoteSnapshotVersion(tx)
			if err != nil {
				return err
			}
			if last.After(remoteVersion) {
				return fmt.Errorf("snapshot %s before %s: %w", remoteVersion, last, ErrSnapshotRegressed)
			}
			if err := s.targets.SetTargetsMetadata(tx, seq, remoteVersion); err != nil {
				return err
			}
		}

		if err := buffer.Apply(tx); err != nil {
			return err
		}
		changes, err = s.documents.GetLocalViewOfDocuments(tx, changed, existenceChanged)
		return err
	}); err != nil {
		return nil, err
	}

	s.targetDataByID = newTargetDataByID
	s.logger.Debugf(
		"applied remote event at %s: %d targets, %d documents",
		remoteVersion, len(event.TargetChanges), len(changes),
	)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveRemoteEventSeconds(gotime.Since(start).Seconds())
	}
	return changes, nil
}

// populateChangeBuffer adds the documents that are newer than the cached
// ones to the buffer. It returns the documents to be applied and the keys
// whose existence changed.
func (s *LocalStore) populateChangeBuffer(
	tx persistence.Transaction,
	buffer *RemoteDocumentChangeBuffer,
	updates map[key.Key]*document.Document,
	remoteVersion time.Version,
) (map[key.Key]*document.Document, key.Set, error) {
	changed := make(map[key.Key]*document.Document)
	existenceChanged := key.NewSet()

	for k, update := range updates {
		existing, err := buffer.GetEntry(tx, k)
		if err != nil {
			return nil, nil, err
		}

		doc := update.Clone()
		if doc.IsFound() != existing.IsFound() {
			existenceChanged.Add(k)
		}

		if doc.IsNoDocument() && doc.Version().IsMin() {
			// NOTE: a removal without version only evicts the cached document.
			if err := buffer.RemoveEntry(k); err != nil {
				return nil, nil, err
			}
			changed[k] = doc
		} else if !existing.IsValid() ||
			doc.Version().After(existing.Version()) ||
			(doc.Version() == existing.Version() && existing.HasCommittedMutations()) {
			doc.SetReadTime(remoteVersion)
			if err := buffer.AddEntry(doc); err != nil {
				return nil, nil, err
			}
			changed[k] = doc
		} else {
			s.logger.Debugf(
				"ignore outdated document %s: cached %s, received %s",
				k, existing.Version(), doc.Version(),
			)
		}
	}
	return changed, existenceChanged, nil
}

// shouldPersistTargetData returns whether the new target data carries
// changes worth a write: a first resume token, a reset, matching documents
// that changed, or a snapshot far enough from the persisted one.
func shouldPersistTargetData(old, updated *types.TargetData, change *types.TargetChange) bool {
	if len(old.ResumeToken) == 0 || len(updated.ResumeToken) == 0 {
		return true
	}
	if updated.SnapshotVersion-old.SnapshotVersion >= resumeTokenPersistInterval {
		return true
	}
	return change.AddedDocuments.Len()+change.ModifiedDocuments.Len()+change.RemovedDocuments.Len() > 0
}

// NotifyLocalViewChanges pins the documents shown by views, and records the
// last limbo-free snapshot of targets whose views are in sync.
func (s *LocalStore) NotifyLocalViewChanges(ctx context.Context, viewChanges []*LocalViewChanges) error {
	if err := s.runTransaction(ctx, "notify local view changes", persistence.ReadWrite, func(tx persistence.Transaction) error {
		for _, change := range viewChanges {
			for k := range change.RemovedKeys {
				if err := s.lru.RemoveReference(tx, change.TargetID, k); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return err
	}

	for _, change := range viewChanges {
		id := int64(change.TargetID)
		s.localViewReferences.AddReferences(change.AddedKeys, id)
		s.localViewReferences.RemoveReferences(change.RemovedKeys, id)

		if change.FromCache {
			continue
		}
		data, ok := s.targetDataByID[change.TargetID]
		if !ok {
			continue
		}
		s.targetDataByID[change.TargetID] = data.WithLastLimboFreeSnapshotVersion(data.SnapshotVersion)
	}
	return nil
}

// AllocateTarget returns the data of the target, caching it first if it
// was never listened to. The target becomes active.
func (s *LocalStore) AllocateTarget(ctx context.Context, target *query.Target) (*types.TargetData, error) {
	var data *types.TargetData
	if err := s.runTransaction(ctx, "allocate target", persistence.ReadWrite, func(tx persistence.Transaction) error {
		cached, err := s.targets.GetTargetData(tx, target)
		if err != nil {
			return err
		}
		if cached != nil {
			data = cached
			return nil
		}

		id, err := s.targets.AllocateTargetID(tx)
		if err != nil {
			return err
		}
		seq, err := s.lru.CurrentSequenceNumber(tx)
		if err != nil {
			return err
		}
		data = types.NewTargetData(target, id, types.PurposeListen, seq)
		return s.targets.AddTargetData(tx, data)
	}); err != nil {
		return nil, err
	}

	if active, ok := s.targetDataByID[data.TargetID]; !ok || data.SnapshotVersion.After(active.SnapshotVersion) {
		s.targetDataByID[data.TargetID] = data
		if !ok {
			canonicalID := target.CanonicalID()
			s.targetIDByCanonical[canonicalID] = append(s.targetIDByCanonical[canonicalID], data.TargetID)
		}
	}
	return s.targetDataByID[data.TargetID], nil
}

// GetTargetData returns the data of an active or cached target, or nil.
func (s *LocalStore) GetTargetData(ctx context.Context, target *query.Target) (*types.TargetData, error) {
	if data := s.activeTargetData(target); data != nil {
		return data, nil
	}

	var data *types.TargetData
	err := s.runTransaction(ctx, "get target data", persistence.ReadOnly, func(tx persistence.Transaction) error {
		var err error
		data, err = s.targets.GetTargetData(tx, target)
		return err
	})
	return data, err
}

func (s *LocalStore) activeTargetData(target *query.Target) *types.TargetData {
	for _, id := range s.targetIDByCanonical[target.CanonicalID()] {
		if data, ok := s.targetDataByID[id]; ok && data.Target.Equal(target) {
			return data
		}
	}
	return nil
}

// ReleaseTarget deactivates the target. Unless keepPersisted is set, the
// target is stamped as used so that the garbage collector can remove it
// later.
func (s *LocalStore) ReleaseTarget(ctx context.Context, targetID types.TargetID, keepPersisted bool) error {
	data, ok := s.targetDataByID[targetID]
	if !ok {
		return fmt.Errorf("release target %d: %w", targetID, ErrTargetNotActive)
	}

	if !keepPersisted {
		if err := s.runTransaction(ctx, "release target", persistence.ReadWrite, func(tx persistence.Transaction) error {
			return s.lru.RemoveTarget(tx, data)
		}); err != nil {
			return err
		}
	}

	delete(s.targetDataByID, targetID)
	canonicalID := data.Target.CanonicalID()
	ids := s.targetIDByCanonical[canonicalID]
	for i, id := range ids {
		if id == targetID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.targetIDByCanonical, canonicalID)
	} else {
		s.targetIDByCanonical[canonicalID] = ids
	}
	s.localViewReferences.RemoveReferencesForID(int64(targetID))
	s.logger.Debugf("released target %d, keep persisted: %t", targetID, keepPersisted)
	return nil
}

// ActiveTargetIDs returns the ids of the allocated targets.
func (s *LocalStore) ActiveTargetIDs() map[types.TargetID]struct{} {
	ids := make(map[types.TargetID]struct{}, len(s.targetDataByID))
	for id := range s.targetDataByID {
		ids[id] = struct{}{}
	}
	return ids
}

// ExecuteQuery returns the local documents matching the query. With
// usePreviousResults, the documents the server last reported for the
// target of the query are used to narrow the scan.
func (s *LocalStore) ExecuteQuery(ctx context.Context, q *query.Query, usePreviousResults bool) (*QueryResult, error) {
	target := q.ToTarget()
	data := s.activeTargetData(target)

	result := &QueryResult{RemoteKeys: key.NewSet()}
	err := s.runTransaction(ctx, "execute query", persistence.ReadOnly, func(tx persistence.Transaction) error {
		if data == nil {
			cached, err := s.targets.GetTargetData(tx, target)
			if err != nil {
				return err
			}
			data = cached
		}

		lastLimboFree := time.MinVersion
		if data != nil {
			remoteKeys, err := s.targets.GetMatchingKeysForTargetID(tx, data.TargetID)
			if err != nil {
				return err
			}
			result.RemoteKeys = remoteKeys
			lastLimboFree = data.LastLimboFreeSnapshotVersion
		}
		if !usePreviousResults {
			lastLimboFree = time.MinVersion
		}

		docs, tier, err := s.queryEngine.GetDocumentsMatchingQuery(tx, q, lastLimboFree, result.RemoteKeys)
		if err != nil {
			return err
		}
		result.Documents = docs
		result.Tier = tier
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetDocument returns the local view of the document.
func (s *LocalStore) GetDocument(ctx context.Context, k key.Key) (*document.Document, error) {
	var doc *document.Document
	err := s.runTransaction(ctx, "get document", persistence.ReadOnly, func(tx persistence.Transaction) error {
		var err error
		doc, err = s.documents.GetDocument(tx, k)
		return err
	})
	return doc, err
}

// GetRemoteDocumentKeys returns the keys the server reported for the target.
func (s *LocalStore) GetRemoteDocumentKeys(ctx context.Context, targetID types.TargetID) (key.Set, error) {
	var keys key.Set
	err := s.runTransaction(ctx, "get remote document keys", persistence.ReadOnly, func(tx persistence.Transaction) error {
		var err error
		keys, err = s.targets.GetMatchingKeysForTargetID(tx, targetID)
		return err
	})
	return keys, err
}

// PinDocuments protects the documents referenced by the set from garbage
// collection, such as the documents in limbo.
func (s *LocalStore) PinDocuments(set *ReferenceSet) {
	s.lru.AddInMemoryPins(set)
}

// NewGarbageCollector creates a collector over the caches of this store.
func (s *LocalStore) NewGarbageCollector(params LRUParams) *LRUGarbageCollector {
	return NewLRUGarbageCollector(s.lru, params)
}

// CollectGarbage runs the collector, keeping the active targets.
func (s *LocalStore) CollectGarbage(ctx context.Context, gc *LRUGarbageCollector) (LRUResults, error) {
	var results LRUResults
	if err := s.runTransaction(ctx, "collect garbage", persistence.ReadWrite, func(tx persistence.Transaction) error {
		var err error
		results, err = gc.Collect(tx, s.ActiveTargetIDs())
		return err
	}); err != nil {
		return LRUResults{}, err
	}

	if results.DidRun {
		s.logger.Debugf(
			"collected garbage: %d targets, %d documents",
			results.TargetsRemoved, results.DocumentsRemoved,
		)
	}
	if results.DidRun && s.opts.Metrics != nil {
		s.opts.Metrics.AddGCRemoved("targets", results.TargetsRemoved)
		s.opts.Metrics.AddGCRemoved("documents", results.DocumentsRemoved)
	}
	return results, nil
}

// CacheSize returns the size of the remote document cache in bytes.
func (s *LocalStore) CacheSize(ctx context.Context) (int64, error) {
	var size int64
	err := s.runTransaction(ctx, "get cache size", persistence.ReadOnly, func(tx persistence.Transaction) error {
		var err error
		size, err = s.remoteDocs.GetSize(tx)
		return err
	})
	return size, err
}

// OverlayMemoStats returns the statistics of the overlay memo, nil when it
// is disabled.
func (s *LocalStore) OverlayMemoStats() *cache.Stats {
	return s.overlays.MemoStats()
}

func (s *LocalStore) updatePendingBatches(ctx context.Context) {
	if s.opts.Metrics == nil {
		return
	}

	var count int
	if err := s.runTransaction(ctx, "count pending batches", persistence.ReadOnly, func(tx persistence.Transaction) error {
		batches, err := s.mutations.AllMutationBatches(tx)
		count = len(batches)
		return err
	}); err != nil {
		s.logger.Warnf("count pending batches: %v", err)
		return
	}
	s.opts.Metrics.SetPendingBatches(count)
}

// runTransaction runs fn, retrying it while it fails with a retryable error
// up to the configured number of attempts.
func (s *LocalStore) runTransaction(
	ctx context.Context,
	action string,
	mode persistence.Mode,
	fn func(tx persistence.Transaction) error,
) error {
	var err error
	for attempt := 1; attempt <= s.opts.TransactionAttempts; attempt++ {
		if err = s.persistence.RunTransaction(ctx, action, mode, fn); err == nil {
			return nil
		}
		if !errors.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		s.logger.Debugf("retry %s, attempt %d: %v", action, attempt, err)
	}
	return err
}
