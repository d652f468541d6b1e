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

// Package prometheus provides the Prometheus metrics of the sync engine.
package prometheus

import (
	"fmt"

	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yorkie-team/docsync/internal/version"
)

const (
	namespace     = "docsync"
	streamLabel   = "stream"
	resultLabel   = "result"
	purposeLabel  = "purpose"
	changeLabel   = "change_type"
	resourceLabel = "resource"
)

// Metrics manages the metric information that the sync engine measures.
type Metrics struct {
	registry *prometheus.Registry

	engineVersion *prometheus.GaugeVec
	grpcClient    *grpcprometheus.ClientMetrics

	pendingBatches   prometheus.Gauge
	writeResults     *prometheus.CounterVec
	watchChanges     *prometheus.CounterVec
	streamRestarts   *prometheus.CounterVec
	filterMismatches *prometheus.CounterVec
	limboDocuments   prometheus.Gauge
	onlineState      prometheus.Gauge
	gcRemoved        *prometheus.CounterVec
	queueRetries     prometheus.Counter
	snapshotSeconds  prometheus.Histogram
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	grpcClient := grpcprometheus.NewClientMetrics()
	if err := reg.Register(grpcClient); err != nil {
		return nil, fmt.Errorf("register grpc client metrics: %w", err)
	}

	metrics := &Metrics{
		registry:   reg,
		grpcClient: grpcClient,
		engineVersion: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "version",
			Help:      "Which version is running. 1 for 'engine_version' label with current version.",
		}, []string{"engine_version"}),
		pendingBatches: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "write",
			Name:      "pending_batches",
			Help:      "The number of mutation batches that are not acknowledged yet.",
		}),
		writeResults: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "write",
			Name:      "batches_total",
			Help:      "The total count of mutation batches acknowledged or rejected by the backend.",
		}, []string{resultLabel}),
		watchChanges: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "changes_total",
			Help:      "The total count of watch changes received from the backend.",
		}, []string{changeLabel}),
		streamRestarts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "restarts_total",
			Help:      "The total count of stream restarts after an error.",
		}, []string{streamLabel}),
		filterMismatches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "existence_filter_mismatches_total",
			Help:      "The total count of existence filter mismatches.",
		}, []string{purposeLabel}),
		limboDocuments: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "limbo_documents",
			Help:      "The number of documents in limbo, enqueued or being resolved.",
		}),
		onlineState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "online_state",
			Help:      "The online state of the engine. 0 for unknown, 1 for online and 2 for offline.",
		}),
		gcRemoved: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "removed_total",
			Help:      "The total count of targets and documents removed by the LRU garbage collector.",
		}, []string{resourceLabel}),
		queueRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "retries_total",
			Help:      "The total count of retryable operations attempted again.",
		}),
		snapshotSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "remote_event_seconds",
			Help:      "The time spent applying a remote event and raising snapshots.",
		}),
	}

	metrics.engineVersion.With(prometheus.Labels{
		"engine_version": version.Version,
	}).Set(1)

	return metrics, nil
}

// GRPCClientMetrics returns the client-side gRPC metrics so that they can be
// installed as interceptors.
func (m *Metrics) GRPCClientMetrics() *grpcprometheus.ClientMetrics {
	return m.grpcClient
}

// SetPendingBatches sets the number of pending mutation batches.
func (m *Metrics) SetPendingBatches(count int) {
	m.pendingBatches.Set(float64(count))
}

// AddWriteResult adds a write result, "acknowledged" or "rejected".
func (m *Metrics) AddWriteResult(result string) {
	m.writeResults.With(prometheus.Labels{resultLabel: result}).Inc()
}

// AddWatchChange adds a watch change of the given type.
func (m *Metrics) AddWatchChange(changeType string) {
	m.watchChanges.With(prometheus.Labels{changeLabel: changeType}).Inc()
}

// AddStreamRestart adds a restart of the named stream.
func (m *Metrics) AddStreamRestart(stream string) {
	m.streamRestarts.With(prometheus.Labels{streamLabel: stream}).Inc()
}

// AddExistenceFilterMismatch adds an existence filter mismatch.
func (m *Metrics) AddExistenceFilterMismatch(purpose string) {
	m.filterMismatches.With(prometheus.Labels{purposeLabel: purpose}).Inc()
}

// SetLimboDocuments sets the number of documents in limbo.
func (m *Metrics) SetLimboDocuments(count int) {
	m.limboDocuments.Set(float64(count))
}

// SetOnlineState sets the online state.
func (m *Metrics) SetOnlineState(state int) {
	m.onlineState.Set(float64(state))
}

// AddGCRemoved adds the number of targets or documents removed by the
// garbage collector.
func (m *Metrics) AddGCRemoved(resource string, count int) {
	m.gcRemoved.With(prometheus.Labels{resourceLabel: resource}).Add(float64(count))
}

// AddQueueRetry adds a retry of the async queue.
func (m *Metrics) AddQueueRetry() {
	m.queueRetries.Inc()
}

// ObserveRemoteEventSeconds observes the time spent applying a remote event.
func (m *Metrics) ObserveRemoteEventSeconds(seconds float64) {
	m.snapshotSeconds.Observe(seconds)
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
