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

// Package ordering predicts the reading order of detected blocks. The
// ordering model has a hard per-call block capacity, so the
// orchestrator here decides between a single whole-batch invocation and
// a sequential per-page strategy that substitutes a neighboring page's
// result for pages the model cannot score at all.
package ordering

import (
	"context"
	"fmt"
	"image"

	"github.com/antflydb/silverfish/lib/geometry"
	"go.uber.org/zap"
)

// DefaultCapacity is the ordering model's per-call block ceiling.
const DefaultCapacity = 255

// Unordered is the sentinel position assigned when no prediction exists
// for a block.
const Unordered = -1

// PageBlocks is one page's input to the ordering model: the page raster
// and the block bounding boxes in detector order.
type PageBlocks struct {
	Image  image.Image
	BBoxes []geometry.BBox
}

// Estimator is the external reading-order model. EstimateOrder returns,
// for each input page, one predicted position per bbox, aligned by
// index with the input boxes.
type Estimator interface {
	EstimateOrder(ctx context.Context, pages []PageBlocks) ([][]int, error)

	// Close releases any resources held by the estimator.
	Close() error
}

// Result is the orchestrator's outcome for one page.
type Result struct {
	// Positions holds the predicted reading positions. For degraded
	// pages this is a substituted list and its length may differ from
	// the page's own block count; the layout table aligns by block
	// index and fills the remainder with the sentinel.
	Positions []int

	// Degraded marks pages that met the capacity ceiling and received a
	// neighbor's positions (or all sentinel values) instead of a model
	// prediction.
	Degraded bool
}

// Orchestrator owns the capacity-fallback strategy for the ordering
// model.
type Orchestrator struct {
	estimator Estimator
	capacity  int
	logger    *zap.Logger
}

// NewOrchestrator wraps an estimator with the given capacity ceiling.
// A non-positive capacity falls back to DefaultCapacity.
func NewOrchestrator(estimator Estimator, capacity int, logger *zap.Logger) *Orchestrator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Orchestrator{
		estimator: estimator,
		capacity:  capacity,
		logger:    logger,
	}
}

// Capacity returns the block ceiling the orchestrator plans around.
func (o *Orchestrator) Capacity() int { return o.capacity }

// Positions produces one Result per input page, in input order.
//
// When the largest page's block count is below the capacity ceiling the
// estimator is invoked once across all pages. Otherwise the whole
// document switches to page-at-a-time invocation: pages under the
// ceiling are scored normally, and a page at or over it is never sent
// to the model — it receives a copy of the most recent result instead
// (an explicit approximation, reported via the Degraded flag and a log
// notice). If the very first page already overflows there is no prior
// result, so it receives all sentinel positions. The per-page walk is
// sequential because each fallback may depend on the result
// immediately before it.
func (o *Orchestrator) Positions(ctx context.Context, pages []PageBlocks) ([]Result, error) {
	if len(pages) == 0 {
		return nil, nil
	}

	largest := 0
	for _, page := range pages {
		largest = max(largest, len(page.BBoxes))
	}

	if largest < o.capacity {
		predicted, err := o.estimator.EstimateOrder(ctx, pages)
		if err != nil {
			return nil, fmt.Errorf("estimating reading order: %w", err)
		}
		if len(predicted) != len(pages) {
			return nil, fmt.Errorf("order model returned %d pages for %d images", len(predicted), len(pages))
		}
		results := make([]Result, len(predicted))
		for i, positions := range predicted {
			results[i] = Result{Positions: positions}
		}
		return results, nil
	}

	o.logger.Warn("Largest page exceeds ordering capacity, switching to per-page ordering",
		zap.Int("largest_page_blocks", largest),
		zap.Int("capacity", o.capacity))

	results := make([]Result, 0, len(pages))
	var previous []int
	havePrevious := false
	for i, page := range pages {
		if len(page.BBoxes) >= o.capacity {
			substitute := make([]int, 0, len(page.BBoxes))
			if havePrevious {
				substitute = append(substitute, previous...)
			} else {
				for range page.BBoxes {
					substitute = append(substitute, Unordered)
				}
			}
			o.logger.Warn("Page exceeds ordering capacity, substituting most recent order result",
				zap.Int("page", i),
				zap.Int("blocks", len(page.BBoxes)),
				zap.Bool("have_previous", havePrevious))
			results = append(results, Result{Positions: substitute, Degraded: true})
			previous = substitute
			havePrevious = true
			continue
		}

		predicted, err := o.estimator.EstimateOrder(ctx, pages[i:i+1])
		if err != nil {
			return nil, fmt.Errorf("estimating reading order for page %d: %w", i, err)
		}
		if len(predicted) != 1 {
			return nil, fmt.Errorf("order model returned %d pages for a single image", len(predicted))
		}
		results = append(results, Result{Positions: predicted[0]})
		previous = predicted[0]
		havePrevious = true
	}
	return results, nil
}

// PositionLists strips Results down to the per-page position lists the
// layout table builder consumes.
func PositionLists(results []Result) [][]int {
	lists := make([][]int, len(results))
	for i, res := range results {
		lists[i] = res.Positions
	}
	return lists
}

// DegradedPages returns the indexes of pages that received substituted
// positions, in page order.
func DegradedPages(results []Result) []int {
	var pages []int
	for i, res := range results {
		if res.Degraded {
			pages = append(pages, i)
		}
	}
	return pages
}
