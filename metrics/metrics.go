// Copyright 2024 The prellblock authors
// This file is part of the prellblock library.
//
// The prellblock library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The prellblock library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the prellblock library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics exposes the process-wide Prometheus collectors the
// consensus engine updates as it runs. The registry is built lazily on
// first use and lives for the process lifetime; there is no teardown.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// LeaderTerm reports the current leader term, mirroring the original
	// implementation's view-change leader term gauge.
	LeaderTerm prometheus.Gauge

	// BlockHeight reports the height of the last committed block.
	BlockHeight prometheus.Gauge

	// QueueDepth reports the number of transactions currently pending.
	QueueDepth prometheus.Gauge

	// ViewChanges counts every view change this RPU requests (each of its
	// own ViewChange votes), whether or not the term then advances.
	ViewChanges prometheus.Counter
)

func init() {
	initOnce()
}

func initOnce() {
	once.Do(func() {
		LeaderTerm = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "praftbft",
			Name:      "leader_term",
			Help:      "Current leader term of this RPU.",
		})
		BlockHeight = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "praftbft",
			Name:      "block_height",
			Help:      "Height of the last block committed to the log.",
		})
		QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "praftbft",
			Name:      "pending_queue_depth",
			Help:      "Number of transactions waiting to be proposed.",
		})
		ViewChanges = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "praftbft",
			Name:      "view_changes_total",
			Help:      "Number of view changes requested by this RPU.",
		})
		prometheus.MustRegister(LeaderTerm, BlockHeight, QueueDepth, ViewChanges)
	})
}

// Handler returns the HTTP handler a node binary can mount to expose the
// Prometheus scrape endpoint; cmd/prellblock serves it at /metrics when a
// metrics address is configured.
func Handler() http.Handler {
	return promhttp.Handler()
}
