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
	"fmt"

	"github.com/yorkie-team/docsync/engine/persistence"
	"github.com/yorkie-team/docsync/pkg/cache"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/mutation"
)

// overlayMemo is a memoized read of the overlay table. A nil overlay
// memoizes the absence of an overlay.
type overlayMemo struct {
	overlay *mutation.Overlay
}

// OverlayCache stores the overlays of a user: per document, the single
// mutation equivalent to all of its pending batches.
type OverlayCache struct {
	userKey string
	memo    *cache.LRU[key.Key, overlayMemo]
}

// NewOverlayCache creates the overlay cache of the given user. memoSize
// bounds the number of memoized reads; 0 disables the memo.
func NewOverlayCache(userKey string, memoSize int) (*OverlayCache, error) {
	c := &OverlayCache{userKey: userKey}
	if memoSize > 0 {
		memo, err := cache.NewLRU[key.Key, overlayMemo](memoSize, "overlays")
		if err != nil {
			return nil, fmt.Errorf("new overlay memo: %w", err)
		}
		c.memo = memo
	}
	return c, nil
}

// MemoStats returns the statistics of the memo, nil when it is disabled.
func (c *OverlayCache) MemoStats() *cache.Stats {
	if c.memo == nil {
		return nil
	}
	return c.memo.Stats()
}

// GetOverlay returns the overlay of the document, or nil.
func (c *OverlayCache) GetOverlay(tx persistence.Transaction, k key.Key) (*mutation.Overlay, error) {
	if c.memo != nil {
		if memo, ok := c.memo.Get(k); ok {
			return memo.overlay, nil
		}
	}

	info, err := tx.GetOverlay(c.userKey, k.String())
	if err != nil {
		return nil, err
	}

	var overlay *mutation.Overlay
	if info != nil {
		overlay = info.Overlay
	}
	// NOTE: reads of write transactions may see uncommitted overlays.
	if c.memo != nil && tx.Mode() == persistence.ReadOnly {
		c.memo.Add(k, overlayMemo{overlay: overlay})
	}
	return overlay, nil
}

// GetOverlays returns the overlays of the given documents that have one.
func (c *OverlayCache) GetOverlays(
	tx persistence.Transaction,
	keys key.Set,
) (map[key.Key]*mutation.Overlay, error) {
	overlays := make(map[key.Key]*mutation.Overlay)
	for k := range keys {
		overlay, err := c.GetOverlay(tx, k)
		if err != nil {
			return nil, err
		}
		if overlay != nil {
			overlays[k] = overlay
		}
	}
	return overlays, nil
}

// SaveOverlays stores the given mutations as overlays of the largest batch
// id. A nil mutation deletes the overlay of its document.
func (c *OverlayCache) SaveOverlays(
	tx persistence.Transaction,
	largestBatchID int64,
	mutations map[key.Key]*mutation.Mutation,
) error {
	for k, m := range mutations {
		if m == nil {
			if err := c.deleteOverlay(tx, k); err != nil {
				return err
			}
			continue
		}

		if err := tx.PutOverlay(&persistence.OverlayInfo{
			UserKey:        c.userKey,
			Path:           k.String(),
			CollectionPath: k.CollectionPath(),
			LargestBatchID: largestBatchID,
			Overlay: &mutation.Overlay{
				LargestBatchID: largestBatchID,
				Mutation:       m,
			},
		}); err != nil {
			return err
		}
		c.invalidate(tx, k)
	}
	return nil
}

// RemoveOverlaysForBatchID removes the overlays whose largest batch is the
// given one.
func (c *OverlayCache) RemoveOverlaysForBatchID(tx persistence.Transaction, batchID int64) error {
	infos, err := tx.FindOverlaysByBatchID(c.userKey, batchID)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := c.deleteOverlay(tx, info.Overlay.Key()); err != nil {
			return err
		}
	}
	return nil
}

// GetOverlaysForCollection returns the overlays of the documents of the
// collection that changed after sinceBatchID.
func (c *OverlayCache) GetOverlaysForCollection(
	tx persistence.Transaction,
	collectionPath string,
	sinceBatchID int64,
) (map[key.Key]*mutation.Overlay, error) {
	infos, err := tx.FindOverlaysByCollection(c.userKey, collectionPath, sinceBatchID)
	if err != nil {
		return nil, err
	}

	overlays := make(map[key.Key]*mutation.Overlay, len(infos))
	for _, info := range infos {
		overlays[info.Overlay.Key()] = info.Overlay
	}
	return overlays, nil
}

func (c *OverlayCache) deleteOverlay(tx persistence.Transaction, k key.Key) error {
	if err := tx.DeleteOverlay(c.userKey, k.String()); err != nil {
		return err
	}
	c.invalidate(tx, k)
	return nil
}

// invalidate drops the memo of k now, so later reads of the transaction see
// its writes, and again on commit.
func (c *OverlayCache) invalidate(tx persistence.Transaction, k key.Key) {
	if c.memo == nil {
		return
	}
	c.memo.Remove(k)
	tx.OnCommit(func() { c.memo.Remove(k) })
}
