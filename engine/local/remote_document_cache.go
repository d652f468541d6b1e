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
	"github.com/yorkie-team/docsync/pkg/errors"
	"github.com/yorkie-team/docsync/pkg/query"
)

// ErrChangeBufferApplied is returned when a change buffer is used after it
// was applied.
var ErrChangeBufferApplied = errors.Internal("change buffer already applied").WithCode("ErrChangeBufferApplied")

// RemoteDocumentCache stores the documents as last seen from the server,
// and their approximate total size.
type RemoteDocumentCache struct{}

// NewRemoteDocumentCache creates a RemoteDocumentCache.
func NewRemoteDocumentCache() *RemoteDocumentCache {
	return &RemoteDocumentCache{}
}

// GetEntry returns the cached document, or an invalid document when there
// is none.
func (c *RemoteDocumentCache) GetEntry(tx persistence.Transaction, k key.Key) (*document.Document, error) {
	info, err := tx.GetRemoteDocument(k.String())
	if err != nil {
		return nil, err
	}
	if info == nil {
		return document.NewInvalid(k), nil
	}
	return info.Document, nil
}

// GetEntries returns the cached documents of the keys. Missing documents
// are returned as invalid documents.
func (c *RemoteDocumentCache) GetEntries(
	tx persistence.Transaction,
	keys key.Set,
) (map[key.Key]*document.Document, error) {
	docs := make(map[key.Key]*document.Document, keys.Len())
	for k := range keys {
		doc, err := c.GetEntry(tx, k)
		if err != nil {
			return nil, err
		}
		docs[k] = doc
	}
	return docs, nil
}

// GetDocumentsMatchingQuery returns the cached documents read after
// sinceReadTime that match the query, or whose key is in mutatedKeys since
// local mutations may make them match.
func (c *RemoteDocumentCache) GetDocumentsMatchingQuery(
	tx persistence.Transaction,
	q *query.Query,
	sinceReadTime time.Version,
	mutatedKeys key.Set,
) (map[key.Key]*document.Document, error) {
	docs := make(map[key.Key]*document.Document)
	if q.IsDocumentQuery() {
		doc, err := c.GetEntry(tx, q.DocumentKey())
		if err != nil {
			return nil, err
		}
		if !doc.IsValid() || (!sinceReadTime.IsMin() && !doc.ReadTime().After(sinceReadTime)) {
			return docs, nil
		}
		if q.Matches(doc) || mutatedKeys.Has(doc.Key()) {
			docs[doc.Key()] = doc
		}
		return docs, nil
	}

	infos, err := tx.FindRemoteDocumentsByCollection(q.Path(), sinceReadTime)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if q.Matches(info.Document) || mutatedKeys.Has(info.Document.Key()) {
			docs[info.Document.Key()] = info.Document
		}
	}
	return docs, nil
}

// GetSize returns the approximate byte size of the cached documents.
func (c *RemoteDocumentCache) GetSize(tx persistence.Transaction) (int64, error) {
	global, err := tx.GetRemoteDocumentGlobal()
	if err != nil {
		return 0, err
	}
	return global.ByteSize, nil
}

// NewChangeBuffer creates a buffer of changes applied all at once.
func (c *RemoteDocumentCache) NewChangeBuffer() *RemoteDocumentChangeBuffer {
	return &RemoteDocumentChangeBuffer{
		cache:         c,
		changes:       make(map[key.Key]*document.Document),
		originalSizes: make(map[key.Key]int),
	}
}

// RemoteDocumentChangeBuffer collects additions and removals of remote
// documents, and writes them with the size bookkeeping in Apply.
type RemoteDocumentChangeBuffer struct {
	cache         *RemoteDocumentCache
	changes       map[key.Key]*document.Document
	originalSizes map[key.Key]int
	applied       bool
}

// AddEntry buffers the addition of the document. Its read time is the read
// time it is stored with.
func (b *RemoteDocumentChangeBuffer) AddEntry(doc *document.Document) error {
	if b.applied {
		return ErrChangeBufferApplied
	}
	b.changes[doc.Key()] = doc.Clone()
	return nil
}

// RemoveEntry buffers the removal of the document.
func (b *RemoteDocumentChangeBuffer) RemoveEntry(k key.Key) error {
	if b.applied {
		return ErrChangeBufferApplied
	}
	b.changes[k] = document.NewInvalid(k)
	return nil
}

// GetEntry returns the buffered document, or the cached one.
func (b *RemoteDocumentChangeBuffer) GetEntry(tx persistence.Transaction, k key.Key) (*document.Document, error) {
	if b.applied {
		return nil, ErrChangeBufferApplied
	}
	if doc, ok := b.changes[k]; ok {
		return doc.Clone(), nil
	}

	info, err := tx.GetRemoteDocument(k.String())
	if err != nil {
		return nil, err
	}
	if info == nil {
		b.originalSizes[k] = 0
		return document.NewInvalid(k), nil
	}
	b.originalSizes[k] = info.Size
	return info.Document, nil
}

// GetEntries returns the buffered or cached documents of the keys.
func (b *RemoteDocumentChangeBuffer) GetEntries(
	tx persistence.Transaction,
	keys key.Set,
) (map[key.Key]*document.Document, error) {
	docs := make(map[key.Key]*document.Document, keys.Len())
	for k := range keys {
		doc, err := b.GetEntry(tx, k)
		if err != nil {
			return nil, err
		}
		docs[k] = doc
	}
	return docs, nil
}

// Apply writes the buffered changes and updates the total size. The buffer
// cannot be used afterwards.
func (b *RemoteDocumentChangeBuffer) Apply(tx persistence.Transaction) error {
	if b.applied {
		return ErrChangeBufferApplied
	}
	b.applied = true

	var delta int64
	for k, doc := range b.changes {
		original, ok := b.originalSizes[k]
		if !ok {
			info, err := tx.GetRemoteDocument(k.String())
			if err != nil {
				return err
			}
			if info != nil {
				original = info.Size
			}
		}

		if !doc.IsValid() {
			if err := tx.DeleteRemoteDocument(k.String()); err != nil {
				return err
			}
			delta -= int64(original)
			continue
		}

		size := doc.Size()
		if err := tx.PutRemoteDocument(&persistence.RemoteDocumentInfo{
			Path:           k.String(),
			CollectionPath: k.CollectionPath(),
			ReadTime:       doc.ReadTime(),
			Size:           size,
			Document:       doc,
		}); err != nil {
			return err
		}
		delta += int64(size - original)
	}

	if delta == 0 {
		return nil
	}
	global, err := tx.GetRemoteDocumentGlobal()
	if err != nil {
		return err
	}
	global.ByteSize += delta
	return tx.PutRemoteDocumentGlobal(global)
}
