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
	"github.com/yorkie-team/docsync/engine/persistence"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/query"
)

// QueryTier tells how the query engine found the documents of a query.
type QueryTier int

const (
	// TierDocument reads the single document of a document query.
	TierDocument QueryTier = iota

	// TierPreviousResults starts from the documents the server last
	// reported for the target and adds the documents read since.
	TierPreviousResults

	// TierFullScan reads every document of the collection.
	TierFullScan
)

// String returns the string representation of the tier.
func (t QueryTier) String() string {
	switch t {
	case TierDocument:
		return "document"
	case TierPreviousResults:
		return "previous-results"
	default:
		return "full-scan"
	}
}

// QueryEngine runs queries against the local documents.
type QueryEngine struct {
	documents *LocalDocumentsView
}

// NewQueryEngine creates a QueryEngine over the local documents.
func NewQueryEngine(documents *LocalDocumentsView) *QueryEngine {
	return &QueryEngine{documents: documents}
}

// GetDocumentsMatchingQuery returns the local documents matching the query.
// remoteKeys are the keys the server reported for the target of the query
// as of lastLimboFreeSnapshotVersion, MinVersion when unknown.
func (e *QueryEngine) GetDocumentsMatchingQuery(
	tx persistence.Transaction,
	q *query.Query,
	lastLimboFreeSnapshotVersion time.Version,
	remoteKeys key.Set,
) (map[key.Key]*document.Document, QueryTier, error) {
	if q.IsDocumentQuery() {
		docs, err := e.documents.GetDocumentsMatchingQuery(tx, q, time.MinVersion)
		return docs, TierDocument, err
	}

	if !lastLimboFreeSnapshotVersion.IsMin() {
		docs, ok, err := e.fromPreviousResults(tx, q, lastLimboFreeSnapshotVersion, remoteKeys)
		if err != nil {
			return nil, TierPreviousResults, err
		}
		if ok {
			return docs, TierPreviousResults, nil
		}
	}

	docs, err := e.documents.GetDocumentsMatchingQuery(tx, q, time.MinVersion)
	return docs, TierFullScan, err
}

// fromPreviousResults returns false when the previous results cannot be
// trusted to produce the right limited result.
func (e *QueryEngine) fromPreviousResults(
	tx persistence.Transaction,
	q *query.Query,
	lastLimboFreeSnapshotVersion time.Version,
	remoteKeys key.Set,
) (map[key.Key]*document.Document, bool, error) {
	previous, err := e.documents.GetDocuments(tx, remoteKeys)
	if err != nil {
		return nil, false, err
	}

	sorted := document.NewSet(q.Comparator())
	for _, doc := range previous {
		if doc.IsFound() && q.Matches(doc) {
			sorted.Add(doc)
		}
	}
	if q.HasLimit() && needsRefill(q, sorted, remoteKeys, lastLimboFreeSnapshotVersion) {
		return nil, false, nil
	}

	updated, err := e.documents.GetDocumentsMatchingQuery(tx, q, lastLimboFreeSnapshotVersion)
	if err != nil {
		return nil, false, err
	}

	results := make(map[key.Key]*document.Document, sorted.Len()+len(updated))
	for _, doc := range sorted.Documents() {
		results[doc.Key()] = doc
	}
	for k, doc := range updated {
		results[k] = doc
	}
	return results, true, nil
}

// needsRefill returns whether a limited query may miss documents when run
// from its previous results: a previous result no longer matches, or the
// document at the edge of the limit changed after the previous results.
func needsRefill(
	q *query.Query,
	sorted *document.Set,
	remoteKeys key.Set,
	lastLimboFreeSnapshotVersion time.Version,
) bool {
	if sorted.Len() != remoteKeys.Len() {
		return true
	}

	edge := sorted.Last()
	if q.LimitType() == query.LimitToLast {
		edge = sorted.First()
	}
	if edge == nil {
		return false
	}
	if edge.HasLocalMutations() || edge.HasCommittedMutations() {
		return true
	}
	return edge.Version().After(lastLimboFreeSnapshotVersion)
}
