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
	gotime "time"

	"github.com/yorkie-team/docsync/engine/persistence"
	"github.com/yorkie-team/docsync/pkg/document"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/query"
)

// LocalDocumentsView combines the remote documents with the overlays of
// the pending batches into the documents callers see.
type LocalDocumentsView struct {
	remoteDocs *RemoteDocumentCache
	mutations  *MutationQueue
	overlays   *OverlayCache
}

// NewLocalDocumentsView creates a LocalDocumentsView.
func NewLocalDocumentsView(
	remoteDocs *RemoteDocumentCache,
	mutations *MutationQueue,
	overlays *OverlayCache,
) *LocalDocumentsView {
	return &LocalDocumentsView{
		remoteDocs: remoteDocs,
		mutations:  mutations,
		overlays:   overlays,
	}
}

// GetDocument returns the local view of the document.
func (v *LocalDocumentsView) GetDocument(tx persistence.Transaction, k key.Key) (*document.Document, error) {
	overlay, err := v.overlays.GetOverlay(tx, k)
	if err != nil {
		return nil, err
	}
	doc, err := v.remoteDocs.GetEntry(tx, k)
	if err != nil {
		return nil, err
	}
	if overlay != nil {
		overlay.Mutation.ApplyToLocalView(doc, mutation.NewFieldMask(), gotime.Now())
	}
	return doc, nil
}

// GetDocuments returns the local views of the documents.
func (v *LocalDocumentsView) GetDocuments(
	tx persistence.Transaction,
	keys key.Set,
) (map[key.Key]*document.Document, error) {
	docs, err := v.remoteDocs.GetEntries(tx, keys)
	if err != nil {
		return nil, err
	}
	return v.GetLocalViewOfDocuments(tx, docs, key.NewSet())
}

// GetLocalViewOfDocuments applies the overlays to the given remote
// documents. The overlays of documents in existenceChanged are recomputed
// first, since a patch may apply or not depending on the existence of its
// base document.
func (v *LocalDocumentsView) GetLocalViewOfDocuments(
	tx persistence.Transaction,
	docs map[key.Key]*document.Document,
	existenceChanged key.Set,
) (map[key.Key]*document.Document, error) {
	keys := key.NewSet()
	for k := range docs {
		keys.Add(k)
	}
	overlays, err := v.overlays.GetOverlays(tx, keys)
	if err != nil {
		return nil, err
	}

	recalculate := make(map[key.Key]*document.Document)
	for k, doc := range docs {
		overlay, ok := overlays[k]
		if ok && existenceChanged.Has(k) && overlay.Mutation.Type == mutation.TypePatch {
			recalculate[k] = doc
		} else if ok {
			overlay.Mutation.ApplyToLocalView(doc, mutation.NewFieldMask(), gotime.Now())
		}
	}

	if len(recalculate) > 0 {
		if err := v.RecalculateAndSaveOverlays(tx, recalculate); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// RecalculateAndSaveOverlays replays the pending batches on the given
// remote documents, oldest first, and saves one overlay per document tagged
// with the newest batch that writes it. The documents are updated in place
// to their local views. Documents without pending batches lose their
// overlay.
func (v *LocalDocumentsView) RecalculateAndSaveOverlays(
	tx persistence.Transaction,
	docs map[key.Key]*document.Document,
) error {
	keys := key.NewSet()
	for k := range docs {
		keys.Add(k)
	}
	batches, err := v.mutations.AllMutationBatchesAffectingKeys(tx, keys)
	if err != nil {
		return err
	}

	masks := make(map[key.Key]*mutation.FieldMask, len(docs))
	largest := make(map[key.Key]int64, len(docs))
	bases := make(map[key.Key]*document.Document, len(docs))
	for k, doc := range docs {
		masks[k] = mutation.NewFieldMask()
		bases[k] = doc.Clone()
	}
	for _, batch := range batches {
		for k := range batch.Keys() {
			doc, ok := docs[k]
			if !ok {
				continue
			}
			masks[k] = batch.ApplyToLocalView(doc, bases[k], masks[k])
			largest[k] = batch.ID
		}
	}

	byBatchID := make(map[int64]map[key.Key]*mutation.Mutation)
	cleared := make(map[key.Key]*mutation.Mutation)
	for k, doc := range docs {
		batchID, ok := largest[k]
		if !ok {
			cleared[k] = nil
			continue
		}
		if byBatchID[batchID] == nil {
			byBatchID[batchID] = make(map[key.Key]*mutation.Mutation)
		}
		byBatchID[batchID][k] = mutation.CalculateOverlayMutation(doc, masks[k])
	}

	for batchID, overlays := range byBatchID {
		if err := v.overlays.SaveOverlays(tx, batchID, overlays); err != nil {
			return err
		}
	}
	return v.overlays.SaveOverlays(tx, mutation.UnknownBatchID, cleared)
}

// RecalculateAndSaveOverlaysForKeys recomputes the overlays of the keys
// from their remote documents.
func (v *LocalDocumentsView) RecalculateAndSaveOverlaysForKeys(tx persistence.Transaction, keys key.Set) error {
	docs, err := v.remoteDocs.GetEntries(tx, keys)
	if err != nil {
		return err
	}
	return v.RecalculateAndSaveOverlays(tx, docs)
}

// GetDocumentsMatchingQuery returns the local views of the documents that
// match the query. Only remote documents read after sinceReadTime are
// considered, but every document with an overlay is.
func (v *LocalDocumentsView) GetDocumentsMatchingQuery(
	tx persistence.Transaction,
	q *query.Query,
	sinceReadTime time.Version,
) (map[key.Key]*document.Document, error) {
	if q.IsDocumentQuery() {
		doc, err := v.GetDocument(tx, q.DocumentKey())
		if err != nil {
			return nil, err
		}

		results := make(map[key.Key]*document.Document)
		if q.Matches(doc) {
			results[doc.Key()] = doc
		}
		return results, nil
	}

	overlays, err := v.overlays.GetOverlaysForCollection(tx, q.Path(), mutation.UnknownBatchID)
	if err != nil {
		return nil, err
	}
	mutated := key.NewSet()
	for k := range overlays {
		mutated.Add(k)
	}

	docs, err := v.remoteDocs.GetDocumentsMatchingQuery(tx, q, sinceReadTime, mutated)
	if err != nil {
		return nil, err
	}
	for k := range overlays {
		if _, ok := docs[k]; !ok {
			docs[k] = document.NewInvalid(k)
		}
	}

	results := make(map[key.Key]*document.Document, len(docs))
	for k, doc := range docs {
		if overlay, ok := overlays[k]; ok {
			overlay.Mutation.ApplyToLocalView(doc, mutation.NewFieldMask(), gotime.Now())
		}
		if q.Matches(doc) {
			results[k] = doc
		}
	}
	return results, nil
}
