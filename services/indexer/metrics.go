// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package indexer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "recall"
	metricsSubsystem = "indexer"
)

// Metrics holds the Prometheus instruments for indexing runs. All
// operations are safe for concurrent use.
type Metrics struct {
	// MessagesRead counts raw messages read from the platform store.
	MessagesRead prometheus.Counter

	// ChunksWritten counts documents successfully written to the index.
	ChunksWritten prometheus.Counter

	// EmbedSeconds measures wall time of one text-embedding batch.
	EmbedSeconds prometheus.Histogram

	// BatchSeconds measures wall time of one full batch, read to commit.
	BatchSeconds prometheus.Histogram

	// RunsTotal counts completed runs by outcome.
	// Labels: status (success, error)
	RunsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// RunMetrics returns the process-wide indexer metrics, registering them
// on the default registry on first call.
func RunMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			MessagesRead: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "messages_read_total",
				Help:      "Raw messages read from the platform message store",
			}),
			ChunksWritten: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "chunks_written_total",
				Help:      "Chunk documents successfully written to the index",
			}),
			EmbedSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "embed_batch_seconds",
				Help:      "Wall time of one text embedding batch",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			}),
			BatchSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "batch_seconds",
				Help:      "Wall time of one indexing batch, read to commit",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			}),
			RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "runs_total",
				Help:      "Completed indexing runs by outcome",
			}, []string{"status"}),
		}
	})
	return metrics
}
