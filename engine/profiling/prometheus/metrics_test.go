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

package prometheus_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/docsync/engine/profiling/prometheus"
)

func TestMetrics(t *testing.T) {
	t.Run("register test", func(t *testing.T) {
		metrics, err := prometheus.NewMetrics()
		assert.NoError(t, err)
		assert.NotNil(t, metrics.GRPCClientMetrics())

		metrics.SetPendingBatches(3)
		metrics.AddWriteResult("acknowledged")
		metrics.AddWriteResult("rejected")
		metrics.AddGCRemoved("targets", 2)

		families, err := metrics.Registry().Gather()
		assert.NoError(t, err)

		names := make(map[string]bool)
		for _, family := range families {
			names[family.GetName()] = true
		}
		assert.True(t, names["docsync_write_pending_batches"])
		assert.True(t, names["docsync_write_batches_total"])
		assert.True(t, names["docsync_gc_removed_total"])
		assert.True(t, names["docsync_engine_version"])
	})

	t.Run("collect test", func(t *testing.T) {
		metrics, err := prometheus.NewMetrics()
		assert.NoError(t, err)

		metrics.SetLimboDocuments(5)
		metrics.AddExistenceFilterMismatch("existence_filter_mismatch")
		metrics.AddExistenceFilterMismatch("existence_filter_mismatch")

		count, err := testutil.GatherAndCount(
			metrics.Registry(),
			"docsync_sync_limbo_documents",
			"docsync_watch_existence_filter_mismatches_total",
		)
		assert.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}
