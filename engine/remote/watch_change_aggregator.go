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
	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/logging"
	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
	"github.com/yorkie-team/docsync/pkg/bloom"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
)

// TargetMetadataProvider provides the state of the targets to the
// aggregator.
type TargetMetadataProvider interface {
	// RemoteKeysForTarget returns the keys the server reported for the
	// target in the last consistent snapshot.
	RemoteKeysForTarget(targetID types.TargetID) key.Set

	// TargetDataForTarget returns the data of a listened target, nil when
	// the target is not listened to.
	TargetDataForTarget(targetID types.TargetID) *types.TargetData
}

type documentChangeType int

const (
	documentAdded documentChangeType = iota
	documentModified
	documentRemoved
)

// targetState is the state of a target between two consistent snapshots.
type targetState struct {
	// pendingResponses is the number of add or remove requests sent for the
	// target that the server did not answer yet. Changes of a target with
	// pending responses are ignored.
	pendingResponses int

	current     bool
	resumeToken []byte
	changes     map[key.Key]documentChangeType

	// hasPendingChanges is whether the target changed since the last
	// remote event. New targets have pending changes so that the first
	// event reports them.
	hasPendingChanges bool
}

func newTargetState() *targetState {
	return &targetState{
		changes:           make(map[key.Key]documentChangeType),
		hasPendingChanges: true,
	}
}

func (s *targetState) isPending() bool {
	return s.pendingResponses != 0
}

func (s *targetState) updateResumeToken(token []byte) {
	if len(token) == 0 {
		return
	}
	s.hasPendingChanges = true
	s.resumeToken = token
}

func (s *targetState) toTargetChange() *types.TargetChange {
	change := types.NewTargetChange(s.resumeToken, s.current)
	for k, typ := range s.changes {
		switch typ {
		case documentAdded:
			change.AddedDocuments.Add(k)
		case documentModified:
			change.ModifiedDocuments.Add(k)
		case documentRemoved:
			change.RemovedDocuments.Add(k)
		}
	}
	return change
}

func (s *targetState) clearPendingChanges() {
	s.hasPendingChanges = false
	s.changes = make(map[key.Key]documentChangeType)
}

func (s *targetState) addDocumentChange(k key.Key, typ documentChangeType) {
	s.hasPendingChanges = true
	s.changes[k] = typ
}

func (s *targetState) removeDocumentChange(k key.Key) {
	s.hasPendingChanges = true
	delete(s.changes, k)
}

func (s *targetState) markCurrent() {
	s.hasPendingChanges = true
	s.current = true
}

// bloomFilterStatus is the outcome of applying the bloom filter of an
// existence filter.
type bloomFilterStatus int

const (
	bloomFilterSuccess bloomFilterStatus = iota
	bloomFilterSkipped
	bloomFilterFalsePositive
)

// WatchChangeAggregator accumulates the changes of the listen stream until
// the server marks a consistent snapshot, and then turns them into a
// RemoteEvent.
type WatchChangeAggregator struct {
	provider TargetMetadataProvider
	logger   logging.Logger
	metrics  *prometheus.Metrics

	targetStates map[types.TargetID]*targetState

	pendingDocumentUpdates       map[key.Key]*document.Document
	pendingDocumentTargetMapping map[key.Key]map[types.TargetID]struct{}
	pendingTargetResets          map[types.TargetID]types.TargetPurpose
}

// NewWatchChangeAggregator creates an aggregator reading the state of the
// targets from the provider.
func NewWatchChangeAggregator(provider TargetMetadataProvider, metrics *prometheus.Metrics) *WatchChangeAggregator {
	return &WatchChangeAggregator{
		provider:                     provider,
		logger:                       logging.New("watch"),
		metrics:                      metrics,
		targetStates:                 make(map[types.TargetID]*targetState),
		pendingDocumentUpdates:       make(map[key.Key]*document.Document),
		pendingDocumentTargetMapping: make(map[key.Key]map[types.TargetID]struct{}),
		pendingTargetResets:          make(map[types.TargetID]types.TargetPurpose),
	}
}

// HandleDocumentChange records a document change.
func (a *WatchChangeAggregator) HandleDocumentChange(change *DocumentWatchChange) {
	if a.metrics != nil {
		a.metrics.AddWatchChange("document")
	}

	for _, targetID := range change.UpdatedTargetIDs {
		if change.Document != nil && change.Document.IsFound() {
			a.addDocumentToTarget(targetID, change.Document)
		} else {
			a.removeDocumentFromTarget(targetID, change.Key, change.Document)
		}
	}
	for _, targetID := range change.RemovedTargetIDs {
		a.removeDocumentFromTarget(targetID, change.Key, change.Document)
	}
}

// HandleTargetChange records a change of the state of targets. Target
// changes with a cause must be handled by the caller before.
func (a *WatchChangeAggregator) HandleTargetChange(change *types.WatchTargetChange) {
	if a.metrics != nil {
		a.metrics.AddWatchChange(change.Type.String())
	}

	for _, targetID := range a.targetIDsOf(change) {
		state := a.ensureTargetState(targetID)
		switch change.Type {
		case types.TargetChangeNoChange:
			if a.isActiveTarget(targetID) {
				state.updateResumeToken(change.ResumeToken)
			}
		case types.TargetChangeAdd:
			// The server acknowledged the target. Changes received before
			// the acknowledgement belong to an older registration.
			state.pendingResponses--
			if !state.isPending() {
				state.clearPendingChanges()
			}
			state.updateResumeToken(change.ResumeToken)
		case types.TargetChangeRemove:
			state.pendingResponses--
			if !state.isPending() {
				a.RemoveTarget(targetID)
			}
		case types.TargetChangeCurrent:
			if a.isActiveTarget(targetID) {
				state.markCurrent()
				state.updateResumeToken(change.ResumeToken)
			}
		case types.TargetChangeReset:
			if a.isActiveTarget(targetID) {
				a.resetTarget(targetID)
				a.ensureTargetState(targetID).updateResumeToken(change.ResumeToken)
			}
		}
	}
}

func (a *WatchChangeAggregator) targetIDsOf(change *types.WatchTargetChange) []types.TargetID {
	if len(change.TargetIDs) > 0 {
		return change.TargetIDs
	}

	ids := make([]types.TargetID, 0, len(a.targetStates))
	for targetID := range a.targetStates {
		if a.isActiveTarget(targetID) {
			ids = append(ids, targetID)
		}
	}
	return ids
}

// HandleExistenceFilter compares the number of documents the server has for
// a target with the number the client has, and schedules a reset of the
// target when they cannot be reconciled.
func (a *WatchChangeAggregator) HandleExistenceFilter(filter *types.ExistenceFilter) {
	targetID := filter.TargetID
	data := a.targetDataForActiveTarget(targetID)
	if data == nil {
		return
	}

	if data.Target.IsDocumentTarget() {
		if filter.Count == 0 {
			// The document was deleted and the server did not tell since
			// it lost track of the deletion.
			k := data.Target.DocumentKey()
			a.removeDocumentFromTarget(targetID, k, document.NewNoDocument(k, time.MinVersion))
		}
		return
	}

	current := a.currentDocumentCountForTarget(targetID)
	if int32(current) == filter.Count {
		return
	}

	status := a.applyBloomFilter(filter, current)
	if status == bloomFilterSuccess {
		return
	}

	purpose := types.PurposeExistenceFilterMismatch
	if status == bloomFilterFalsePositive {
		purpose = types.PurposeExistenceFilterMismatchBloom
	}
	a.logger.Debugf(
		"existence filter mismatch on target %d: %d local, %d remote",
		targetID, current, filter.Count,
	)
	if a.metrics != nil {
		a.metrics.AddExistenceFilterMismatch(purpose.String())
	}

	a.resetTarget(targetID)
	a.pendingTargetResets[targetID] = purpose
}

// applyBloomFilter removes the documents of the target that the bloom
// filter of the server does not contain. It succeeds if the count then
// matches the count of the server.
func (a *WatchChangeAggregator) applyBloomFilter(filter *types.ExistenceFilter, current int) bloomFilterStatus {
	if filter.UnchangedNames == nil {
		return bloomFilterSkipped
	}

	names, err := bloom.FromBits(
		filter.UnchangedNames.Bits,
		filter.UnchangedNames.Padding,
		filter.UnchangedNames.HashCount,
	)
	if err != nil {
		a.logger.Warnf("apply bloom filter of target %d: %v", filter.TargetID, err)
		return bloomFilterSkipped
	}
	if names.BitCount() == 0 {
		return bloomFilterSkipped
	}

	removed := a.filterRemovedDocuments(names, filter.TargetID)
	if int32(current-removed) != filter.Count {
		return bloomFilterFalsePositive
	}
	return bloomFilterSuccess
}

func (a *WatchChangeAggregator) filterRemovedDocuments(names *bloom.Filter, targetID types.TargetID) int {
	removed := 0
	for _, k := range a.provider.RemoteKeysForTarget(targetID).Sorted() {
		if !names.MightContain(k.String()) {
			a.removeDocumentFromTarget(targetID, k, nil)
			removed++
		}
	}
	return removed
}

// CreateRemoteEvent turns the accumulated changes into an event at the
// given snapshot version and clears them.
func (a *WatchChangeAggregator) CreateRemoteEvent(snapshotVersion time.Version) *types.RemoteEvent {
	event := types.NewRemoteEvent(snapshotVersion)

	for targetID, state := range a.targetStates {
		data := a.targetDataForActiveTarget(targetID)
		if data == nil {
			continue
		}

		if state.current && data.Target.IsDocumentTarget() {
			// A current document target without the document means that
			// the document does not exist.
			k := data.Target.DocumentKey()
			if _, ok := a.pendingDocumentUpdates[k]; !ok && !a.targetContainsDocument(targetID, k) {
				a.removeDocumentFromTarget(targetID, k, document.NewNoDocument(k, snapshotVersion))
			}
		}

		if state.hasPendingChanges {
			event.TargetChanges[targetID] = state.toTargetChange()
			state.clearPendingChanges()
		}
	}

	for k, targets := range a.pendingDocumentTargetMapping {
		onlyLimbo := true
		for targetID := range targets {
			data := a.targetDataForActiveTarget(targetID)
			if data != nil && data.Purpose != types.PurposeLimboResolution {
				onlyLimbo = false
				break
			}
		}
		if onlyLimbo {
			event.ResolvedLimboDocuments.Add(k)
		}
	}

	for k, doc := range a.pendingDocumentUpdates {
		doc.SetReadTime(snapshotVersion)
		event.DocumentUpdates[k] = doc
	}
	for targetID, purpose := range a.pendingTargetResets {
		event.TargetMismatches[targetID] = purpose
	}

	a.pendingDocumentUpdates = make(map[key.Key]*document.Document)
	a.pendingDocumentTargetMapping = make(map[key.Key]map[types.TargetID]struct{})
	a.pendingTargetResets = make(map[types.TargetID]types.TargetPurpose)

	return event
}

// RecordPendingTargetRequest records that an add or remove request was
// sent for the target.
func (a *WatchChangeAggregator) RecordPendingTargetRequest(targetID types.TargetID) {
	a.ensureTargetState(targetID).pendingResponses++
}

// RemoveTarget forgets the state of the target.
func (a *WatchChangeAggregator) RemoveTarget(targetID types.TargetID) {
	delete(a.targetStates, targetID)
}

func (a *WatchChangeAggregator) addDocumentToTarget(targetID types.TargetID, doc *document.Document) {
	if !a.isActiveTarget(targetID) {
		return
	}

	typ := documentAdded
	if a.targetContainsDocument(targetID, doc.Key()) {
		typ = documentModified
	}
	a.ensureTargetState(targetID).addDocumentChange(doc.Key(), typ)
	a.pendingDocumentUpdates[doc.Key()] = doc
	a.ensureDocumentTargetMapping(doc.Key())[targetID] = struct{}{}
}

// removeDocumentFromTarget records that the document left the target. doc
// is the new state of the document if known.
func (a *WatchChangeAggregator) removeDocumentFromTarget(targetID types.TargetID, k key.Key, doc *document.Document) {
	if !a.isActiveTarget(targetID) {
		return
	}

	state := a.ensureTargetState(targetID)
	if a.targetContainsDocument(targetID, k) {
		state.addDocumentChange(k, documentRemoved)
	} else {
		// The document was added in this snapshot only.
		state.removeDocumentChange(k)
	}

	delete(a.ensureDocumentTargetMapping(k), targetID)
	if doc != nil {
		a.pendingDocumentUpdates[k] = doc
	}
}

func (a *WatchChangeAggregator) resetTarget(targetID types.TargetID) {
	a.targetStates[targetID] = newTargetState()

	for k := range a.provider.RemoteKeysForTarget(targetID) {
		a.removeDocumentFromTarget(targetID, k, nil)
	}
}

func (a *WatchChangeAggregator) currentDocumentCountForTarget(targetID types.TargetID) int {
	change := a.ensureTargetState(targetID).toTargetChange()
	return a.provider.RemoteKeysForTarget(targetID).Len() +
		change.AddedDocuments.Len() -
		change.RemovedDocuments.Len()
}

func (a *WatchChangeAggregator) targetContainsDocument(targetID types.TargetID, k key.Key) bool {
	return a.provider.RemoteKeysForTarget(targetID).Has(k)
}

func (a *WatchChangeAggregator) ensureTargetState(targetID types.TargetID) *targetState {
	state, ok := a.targetStates[targetID]
	if !ok {
		state = newTargetState()
		a.targetStates[targetID] = state
	}
	return state
}

func (a *WatchChangeAggregator) ensureDocumentTargetMapping(k key.Key) map[types.TargetID]struct{} {
	targets, ok := a.pendingDocumentTargetMapping[k]
	if !ok {
		targets = make(map[types.TargetID]struct{})
		a.pendingDocumentTargetMapping[k] = targets
	}
	return targets
}

// isActiveTarget returns whether changes of the target must be recorded: the
// target is listened to and has no request in flight.
func (a *WatchChangeAggregator) isActiveTarget(targetID types.TargetID) bool {
	if state, ok := a.targetStates[targetID]; ok && state.isPending() {
		return false
	}
	return a.provider.TargetDataForTarget(targetID) != nil
}

func (a *WatchChangeAggregator) targetDataForActiveTarget(targetID types.TargetID) *types.TargetData {
	if !a.isActiveTarget(targetID) {
		return nil
	}
	return a.provider.TargetDataForTarget(targetID)
}
