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

	"github.com/yorkie-team/docsync/api/types"
	"github.com/yorkie-team/docsync/engine/persistence"
	"github.com/yorkie-team/docsync/pkg/document/key"
	"github.com/yorkie-team/docsync/pkg/document/time"
	"github.com/yorkie-team/docsync/pkg/query"
)

// TargetIDGenerator hands out target ids of one parity. The local store
// allocates even ids for query targets and the sync engine odd ids for
// limbo resolution targets, so the two never collide.
type TargetIDGenerator struct {
	next types.TargetID
}

// NewQueryTargetIDGenerator creates the generator of query target ids.
func NewQueryTargetIDGenerator() *TargetIDGenerator {
	return &TargetIDGenerator{next: 2}
}

// NewLimboTargetIDGenerator creates the generator of limbo target ids.
func NewLimboTargetIDGenerator() *TargetIDGenerator {
	return &TargetIDGenerator{next: 1}
}

// Next returns the next id.
func (g *TargetIDGenerator) Next() types.TargetID {
	id := g.next
	g.next += 2
	return id
}

// Seek makes the generator return ids greater than after.
func (g *TargetIDGenerator) Seek(after types.TargetID) {
	if after < g.next {
		return
	}
	next := after + 1
	if next%2 != g.next%2 {
		next++
	}
	g.next = next
}

// referenceDelegate is told about the references the target cache adds and
// removes, to stamp sequence numbers for the garbage collector.
type referenceDelegate interface {
	AddReference(tx persistence.Transaction, targetID types.TargetID, k key.Key) error
	RemoveReference(tx persistence.Transaction, targetID types.TargetID, k key.Key) error
}

// TargetCache stores the targets the client listens to, and the documents
// the server reported as matching each of them.
type TargetCache struct {
	ids      *TargetIDGenerator
	delegate referenceDelegate
}

// NewTargetCache creates a TargetCache.
func NewTargetCache() *TargetCache {
	return &TargetCache{ids: NewQueryTargetIDGenerator()}
}

// Start loads the highest allocated target id.
func (c *TargetCache) Start(tx persistence.Transaction) error {
	global, err := tx.GetTargetGlobal()
	if err != nil {
		return err
	}
	c.ids.Seek(global.HighestTargetID)
	return nil
}

// AllocateTargetID returns a query target id that was never used.
func (c *TargetCache) AllocateTargetID(tx persistence.Transaction) (types.TargetID, error) {
	global, err := tx.GetTargetGlobal()
	if err != nil {
		return 0, err
	}
	c.ids.Seek(global.HighestTargetID)

	id := c.ids.Next()
	global.HighestTargetID = id
	if err := tx.PutTargetGlobal(global); err != nil {
		return 0, err
	}
	return id, nil
}

// HighestSequenceNumber returns the highest listen sequence number used.
func (c *TargetCache) HighestSequenceNumber(tx persistence.Transaction) (types.SequenceNumber, error) {
	global, err := tx.GetTargetGlobal()
	if err != nil {
		return types.InvalidSequenceNumber, err
	}
	return global.HighestListenSequenceNumber, nil
}

// LastRemoteSnapshotVersion returns the version of the last consistent
// remote event.
func (c *TargetCache) LastRemoteSnapshotVersion(tx persistence.Transaction) (time.Version, error) {
	global, err := tx.GetTargetGlobal()
	if err != nil {
		return time.MinVersion, err
	}
	return global.LastRemoteSnapshotVersion, nil
}

// SetTargetsMetadata stores the highest sequence number, and the last
// remote snapshot version when it is not MinVersion.
func (c *TargetCache) SetTargetsMetadata(
	tx persistence.Transaction,
	highestSequenceNumber types.SequenceNumber,
	lastRemoteSnapshotVersion time.Version,
) error {
	global, err := tx.GetTargetGlobal()
	if err != nil {
		return err
	}
	if highestSequenceNumber > global.HighestListenSequenceNumber {
		global.HighestListenSequenceNumber = highestSequenceNumber
	}
	if !lastRemoteSnapshotVersion.IsMin() {
		global.LastRemoteSnapshotVersion = lastRemoteSnapshotVersion
	}
	return tx.PutTargetGlobal(global)
}

// TargetCount returns the number of cached targets.
func (c *TargetCache) TargetCount(tx persistence.Transaction) (int, error) {
	global, err := tx.GetTargetGlobal()
	if err != nil {
		return 0, err
	}
	return global.TargetCount, nil
}

// GetTargetData returns the cached data of the target, or nil.
func (c *TargetCache) GetTargetData(tx persistence.Transaction, target *query.Target) (*types.TargetData, error) {
	infos, err := tx.FindTargetsByCanonicalID(target.CanonicalID())
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Data.Target.Equal(target) {
			return info.Data, nil
		}
	}
	return nil, nil
}

// GetTargetDataByID returns the cached data of the target id, or nil.
func (c *TargetCache) GetTargetDataByID(tx persistence.Transaction, id types.TargetID) (*types.TargetData, error) {
	info, err := tx.GetTarget(id)
	if err != nil || info == nil {
		return nil, err
	}
	return info.Data, nil
}

// AddTargetData caches a new target.
func (c *TargetCache) AddTargetData(tx persistence.Transaction, data *types.TargetData) error {
	if err := c.saveTargetData(tx, data); err != nil {
		return err
	}

	global, err := tx.GetTargetGlobal()
	if err != nil {
		return err
	}
	global.TargetCount++
	if data.TargetID > global.HighestTargetID {
		global.HighestTargetID = data.TargetID
	}
	if data.SequenceNumber > global.HighestListenSequenceNumber {
		global.HighestListenSequenceNumber = data.SequenceNumber
	}
	return tx.PutTargetGlobal(global)
}

// UpdateTargetData replaces the data of a cached target.
func (c *TargetCache) UpdateTargetData(tx persistence.Transaction, data *types.TargetData) error {
	info, err := tx.GetTarget(data.TargetID)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("update target %d: %w", data.TargetID, persistence.ErrTargetNotFound)
	}
	return c.saveTargetData(tx, data)
}

// RemoveTargetData removes a cached target and its matching keys.
func (c *TargetCache) RemoveTargetData(tx persistence.Transaction, data *types.TargetData) error {
	if err := c.RemoveMatchingKeysForTargetID(tx, data.TargetID); err != nil {
		return err
	}
	if err := tx.DeleteTarget(data.TargetID); err != nil {
		return err
	}

	global, err := tx.GetTargetGlobal()
	if err != nil {
		return err
	}
	global.TargetCount--
	return tx.PutTargetGlobal(global)
}

// ForEachTarget calls fn with every cached target, in id order.
func (c *TargetCache) ForEachTarget(tx persistence.Transaction, fn func(data *types.TargetData) error) error {
	infos, err := tx.FindAllTargets()
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := fn(info.Data); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTargets removes the targets used at or before upperBound that are
// not active. It returns the number of removed targets.
func (c *TargetCache) RemoveTargets(
	tx persistence.Transaction,
	upperBound types.SequenceNumber,
	activeTargetIDs map[types.TargetID]struct{},
) (int, error) {
	var removed []*types.TargetData
	if err := c.ForEachTarget(tx, func(data *types.TargetData) error {
		if _, ok := activeTargetIDs[data.TargetID]; ok || data.SequenceNumber > upperBound {
			return nil
		}
		removed = append(removed, data)
		return nil
	}); err != nil {
		return 0, err
	}

	for _, data := range removed {
		if err := c.RemoveTargetData(tx, data); err != nil {
			return 0, err
		}
	}
	return len(removed), nil
}

// AddMatchingKeys records the keys as matching the target.
func (c *TargetCache) AddMatchingKeys(tx persistence.Transaction, keys key.Set, targetID types.TargetID) error {
	for k := range keys {
		if err := tx.PutTargetDocument(&persistence.TargetDocumentInfo{
			TargetID: targetID,
			Path:     k.String(),
		}); err != nil {
			return err
		}
		if c.delegate != nil {
			if err := c.delegate.AddReference(tx, targetID, k); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveMatchingKeys records the keys as no longer matching the target.
func (c *TargetCache) RemoveMatchingKeys(tx persistence.Transaction, keys key.Set, targetID types.TargetID) error {
	for k := range keys {
		if err := tx.DeleteTargetDocument(targetID, k.String()); err != nil {
			return err
		}
		if c.delegate != nil {
			if err := c.delegate.RemoveReference(tx, targetID, k); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveMatchingKeysForTargetID removes every key matching the target.
func (c *TargetCache) RemoveMatchingKeysForTargetID(tx persistence.Transaction, targetID types.TargetID) error {
	keys, err := c.GetMatchingKeysForTargetID(tx, targetID)
	if err != nil {
		return err
	}
	return c.RemoveMatchingKeys(tx, keys, targetID)
}

// GetMatchingKeysForTargetID returns the keys matching the target.
func (c *TargetCache) GetMatchingKeysForTargetID(tx persistence.Transaction, targetID types.TargetID) (key.Set, error) {
	infos, err := tx.FindTargetDocumentsByTarget(targetID)
	if err != nil {
		return nil, err
	}

	keys := key.NewSet()
	for _, info := range infos {
		k, err := key.FromPath(info.Path)
		if err != nil {
			return nil, err
		}
		keys.Add(k)
	}
	return keys, nil
}

// ContainsKey returns whether any target matches the key.
func (c *TargetCache) ContainsKey(tx persistence.Transaction, k key.Key) (bool, error) {
	infos, err := tx.FindTargetDocumentsByPath(k.String())
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if info.TargetID != persistence.SentinelTargetID {
			return true, nil
		}
	}
	return false, nil
}

func (c *TargetCache) saveTargetData(tx persistence.Transaction, data *types.TargetData) error {
	return tx.PutTarget(&persistence.TargetInfo{
		TargetID:    data.TargetID,
		CanonicalID: data.Target.CanonicalID(),
		Data:        data,
	})
}
