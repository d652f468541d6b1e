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

package memory

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/hashicorp/go-memdb"
)

var (
	tblMutationQueues    = "mutation_queues"
	tblMutationBatches   = "mutation_batches"
	tblDocumentMutations = "document_mutations"
	tblOverlays          = "overlays"
	tblRemoteDocuments   = "remote_documents"
	tblRemoteGlobal      = "remote_document_global"
	tblTargets           = "targets"
	tblTargetGlobal      = "target_global"
	tblTargetDocuments   = "target_documents"
)

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblMutationQueues: {
			Name: tblMutationQueues,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "UserKey"},
				},
			},
		},
		tblMutationBatches: {
			Name: tblMutationBatches,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "UserKey"},
							&int64FieldIndex{Field: "BatchID"},
						},
					},
				},
				"batch_id": {
					Name:    "batch_id",
					Indexer: &int64FieldIndex{Field: "BatchID"},
				},
			},
		},
		tblDocumentMutations: {
			Name: tblDocumentMutations,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "UserKey"},
							&memdb.StringFieldIndex{Field: "Path"},
							&int64FieldIndex{Field: "BatchID"},
						},
					},
				},
				"user_key_collection_path": {
					Name: "user_key_collection_path",
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "UserKey"},
							&memdb.StringFieldIndex{Field: "CollectionPath"},
						},
					},
				},
				"path": {
					Name:    "path",
					Indexer: &memdb.StringFieldIndex{Field: "Path"},
				},
			},
		},
		tblOverlays: {
			Name: tblOverlays,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "UserKey"},
							&memdb.StringFieldIndex{Field: "Path"},
						},
					},
				},
				"user_key_collection_path_batch_id": {
					Name: "user_key_collection_path_batch_id",
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "UserKey"},
							&memdb.StringFieldIndex{Field: "CollectionPath"},
							&int64FieldIndex{Field: "LargestBatchID"},
						},
					},
				},
				"user_key_batch_id": {
					Name: "user_key_batch_id",
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "UserKey"},
							&int64FieldIndex{Field: "LargestBatchID"},
						},
					},
				},
			},
		},
		tblRemoteDocuments: {
			Name: tblRemoteDocuments,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Path"},
				},
				"collection_path_read_time": {
					Name: "collection_path_read_time",
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "CollectionPath"},
							&int64FieldIndex{Field: "ReadTime"},
						},
					},
				},
			},
		},
		tblRemoteGlobal: {
			Name: tblRemoteGlobal,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
		tblTargets: {
			Name: tblTargets,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &int64FieldIndex{Field: "TargetID"},
				},
				"canonical_id": {
					Name:    "canonical_id",
					Indexer: &memdb.StringFieldIndex{Field: "CanonicalID"},
				},
			},
		},
		tblTargetGlobal: {
			Name: tblTargetGlobal,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
		tblTargetDocuments: {
			Name: tblTargetDocuments,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&int64FieldIndex{Field: "TargetID"},
							&memdb.StringFieldIndex{Field: "Path"},
						},
					},
				},
				"target_id": {
					Name:    "target_id",
					Indexer: &int64FieldIndex{Field: "TargetID"},
				},
				"path": {
					Name:    "path",
					Indexer: &memdb.StringFieldIndex{Field: "Path"},
				},
			},
		},
	},
}

// int64FieldIndex indexes a signed integer field so that the byte order of
// the index equals the numeric order, which range scans rely on. The
// integer indexers of memdb use varints, which do not keep the order.
type int64FieldIndex struct {
	Field string
}

// FromObject extracts the index value from the given object.
func (i *int64FieldIndex) FromObject(obj interface{}) (bool, []byte, error) {
	v := reflect.Indirect(reflect.ValueOf(obj))
	fv := v.FieldByName(i.Field)
	if !fv.IsValid() {
		return false, nil, fmt.Errorf("field '%s' for %#v is invalid", i.Field, obj)
	}

	n, ok := toInt64(fv)
	if !ok {
		return false, nil, fmt.Errorf("field '%s' is of type %v; want an integer", i.Field, fv.Type())
	}
	return true, encodeInt64(n), nil
}

// FromArgs builds the index value from the given arguments.
func (i *int64FieldIndex) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}

	n, ok := toInt64(reflect.ValueOf(args[0]))
	if !ok {
		return nil, fmt.Errorf("arg is of type %T; want an integer", args[0])
	}
	return encodeInt64(n), nil
}

func toInt64(v reflect.Value) (int64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	default:
		return 0, false
	}
}

// encodeInt64 flips the sign bit so that negative numbers sort first.
func encodeInt64(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n)^(1<<63))
	return buf
}
