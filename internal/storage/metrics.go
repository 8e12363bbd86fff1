/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	writesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memorialcanvas",
			Subsystem: "storage",
			Name:      "writes_total",
			Help:      "Record writes by result (ok, stale, error).",
		},
		[]string{"result"},
	)

	coalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memorialcanvas",
			Subsystem: "storage",
			Name:      "coalesced_saves_total",
			Help:      "Saves merged into a pending write of the same target.",
		},
	)

	flushSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memorialcanvas",
			Subsystem: "storage",
			Name:      "flush_duration_seconds",
			Help:      "Time spent writing one record to the backend.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	cacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memorialcanvas",
			Subsystem: "storage",
			Name:      "cache_lookups_total",
			Help:      "Record cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)
)

// RegisterMetrics registers the storage collectors with reg. A nil reg uses the default registerer. Registering
// with the same registry twice is a no-op.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{writesTotal, coalescedTotal, flushSeconds, cacheTotal} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}
}
