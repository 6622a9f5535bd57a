// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package silverfish

import "github.com/prometheus/client_golang/prometheus"

var (
	parseRequestOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "silverfish",
			Name:      "parse_request_ops_total",
			Help:      "The total number of document parse requests.",
		},
		[]string{"status"},
	)

	pagesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "silverfish",
			Name:      "pages_processed_total",
			Help:      "The total number of document pages parsed.",
		},
	)

	blocksDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "silverfish",
			Name:      "blocks_detected_total",
			Help:      "The total number of layout blocks detected.",
		},
		[]string{"label"},
	)

	orderingDegradedPages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "silverfish",
			Name:      "ordering_degraded_pages_total",
			Help:      "The total number of pages whose reading order was substituted instead of predicted.",
		},
	)

	ocrSkippedPages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "silverfish",
			Name:      "ocr_skipped_pages_total",
			Help:      "The total number of pages excluded from recognition at the crop capacity.",
		},
	)

	textRecognitionOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "silverfish",
			Name:      "text_recognition_ops_total",
			Help:      "The total number of blocks recognized.",
		},
		[]string{"engine"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "antfly",
			Subsystem: "silverfish",
			Name:      "request_duration_seconds",
			Help:      "Time taken to process a request.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint", "status"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "antfly",
			Subsystem: "silverfish",
			Name:      "parse_stage_duration_seconds",
			Help:      "Time spent in each parse stage.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "silverfish",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		},
		[]string{"type"}, // detection
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "antfly",
			Subsystem: "silverfish",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		},
		[]string{"type"}, // detection
	)
)

func init() {
	prometheus.MustRegister(parseRequestOps)
	prometheus.MustRegister(pagesProcessed)
	prometheus.MustRegister(blocksDetected)
	prometheus.MustRegister(orderingDegradedPages)
	prometheus.MustRegister(ocrSkippedPages)
	prometheus.MustRegister(textRecognitionOps)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
}

// RecordParseRequest increments the parse request counter
func RecordParseRequest(status string) {
	parseRequestOps.WithLabelValues(status).Inc()
}

// RecordPagesProcessed records the number of pages parsed
func RecordPagesProcessed(count int) {
	pagesProcessed.Add(float64(count))
}

// RecordBlocksDetected records the number of blocks detected for a label
func RecordBlocksDetected(label string, count int) {
	blocksDetected.WithLabelValues(label).Add(float64(count))
}

// RecordDegradedPages records pages that received substituted order
func RecordDegradedPages(count int) {
	orderingDegradedPages.Add(float64(count))
}

// RecordSkippedPages records pages excluded from recognition
func RecordSkippedPages(count int) {
	ocrSkippedPages.Add(float64(count))
}

// RecordTextRecognition records the number of blocks recognized
func RecordTextRecognition(engine string, count int) {
	textRecognitionOps.WithLabelValues(engine).Add(float64(count))
}

// RecordRequestDuration records how long a request took
func RecordRequestDuration(endpoint, status string, seconds float64) {
	requestDuration.WithLabelValues(endpoint, status).Observe(seconds)
}

// RecordStageDuration records how long a parse stage took
func RecordStageDuration(stage string, seconds float64) {
	stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordCacheHit increments the cache hit counter
func RecordCacheHit(cacheType string) {
	cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments the cache miss counter
func RecordCacheMiss(cacheType string) {
	cacheMisses.WithLabelValues(cacheType).Inc()
}
