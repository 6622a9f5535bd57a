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

package ordering

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/antflydb/silverfish/lib/geometry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEstimator predicts reverse block order, so a page with n blocks
// yields [n-1, ..., 0]. Each call's per-page block counts are recorded
// for asserting the invocation strategy.
type fakeEstimator struct {
	calls [][]int
	fail  error
}

func (f *fakeEstimator) EstimateOrder(ctx context.Context, pages []PageBlocks) ([][]int, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	counts := make([]int, len(pages))
	out := make([][]int, len(pages))
	for i, page := range pages {
		counts[i] = len(page.BBoxes)
		positions := make([]int, len(page.BBoxes))
		for j := range positions {
			positions[j] = len(page.BBoxes) - 1 - j
		}
		out[i] = positions
	}
	f.calls = append(f.calls, counts)
	return out, nil
}

func (f *fakeEstimator) Close() error { return nil }

func pagesWithCounts(counts ...int) []PageBlocks {
	pages := make([]PageBlocks, len(counts))
	for i, n := range counts {
		boxes := make([]geometry.BBox, n)
		for j := range boxes {
			boxes[j] = geometry.NewBBox(float64(j), float64(j), float64(j+50), float64(j+20))
		}
		pages[i] = PageBlocks{
			Image:  image.NewGray(image.Rect(0, 0, 8, 8)),
			BBoxes: boxes,
		}
	}
	return pages
}

func TestWholeBatchUnderCapacity(t *testing.T) {
	fake := &fakeEstimator{}
	orch := NewOrchestrator(fake, 255, zap.NewExample())

	results, err := orch.Positions(context.Background(), pagesWithCounts(10, 20, 254))
	require.NoError(t, err)
	require.Len(t, results, 3)

	// One call covering all three pages.
	require.Equal(t, [][]int{{10, 20, 254}}, fake.calls)

	for i, want := range []int{10, 20, 254} {
		require.Len(t, results[i].Positions, want)
		require.False(t, results[i].Degraded)
	}
	require.Empty(t, DegradedPages(results))
}

func TestWholeBatchDependsOnLargestPageOnly(t *testing.T) {
	// The ceiling applies per page, not to the document total: two
	// 200-block pages stay on the whole-batch path under C=255.
	fake := &fakeEstimator{}
	orch := NewOrchestrator(fake, 255, zap.NewExample())

	results, err := orch.Positions(context.Background(), pagesWithCounts(200, 200))
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, [][]int{{200, 200}}, fake.calls)
	require.Empty(t, DegradedPages(results))
}

func TestPerPageFallbackSubstitutesPreviousResult(t *testing.T) {
	fake := &fakeEstimator{}
	orch := NewOrchestrator(fake, 255, zap.NewExample())

	results, err := orch.Positions(context.Background(), pagesWithCounts(10, 20, 300))
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Pages 1 and 2 are scored one at a time; the overflowing page is
	// never sent to the model.
	require.Equal(t, [][]int{{10}, {20}}, fake.calls)

	require.False(t, results[0].Degraded)
	require.False(t, results[1].Degraded)
	require.True(t, results[2].Degraded)

	// The overflowing page's positions are exactly the previous page's:
	// same length, same values.
	require.Equal(t, results[1].Positions, results[2].Positions)
	require.Len(t, results[2].Positions, 20)
	require.Equal(t, []int{2}, DegradedPages(results))

	// The substitute is a copy, not a shared slice.
	results[1].Positions[0] = 9999
	require.NotEqual(t, results[1].Positions[0], results[2].Positions[0])
}

func TestFirstPageOverflowYieldsSentinels(t *testing.T) {
	fake := &fakeEstimator{}
	orch := NewOrchestrator(fake, 255, zap.NewExample())

	results, err := orch.Positions(context.Background(), pagesWithCounts(300, 5))
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.True(t, results[0].Degraded)
	require.Len(t, results[0].Positions, 300)
	for _, pos := range results[0].Positions {
		require.Equal(t, Unordered, pos)
	}

	require.False(t, results[1].Degraded)
	require.Equal(t, []int{4, 3, 2, 1, 0}, results[1].Positions)
	require.Equal(t, [][]int{{5}}, fake.calls)
}

func TestConsecutiveOverflowsChainTheAccumulator(t *testing.T) {
	fake := &fakeEstimator{}
	orch := NewOrchestrator(fake, 255, zap.NewExample())

	results, err := orch.Positions(context.Background(), pagesWithCounts(10, 300, 400))
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Both overflow pages inherit page 0's result: page 1 takes it
	// directly, and page 2 takes page 1's substitute.
	require.Equal(t, results[0].Positions, results[1].Positions)
	require.Equal(t, results[1].Positions, results[2].Positions)
	require.Equal(t, []int{1, 2}, DegradedPages(results))
	require.Equal(t, [][]int{{10}}, fake.calls)
}

func TestCapacityBoundaryIsInclusive(t *testing.T) {
	// A page with exactly C blocks cannot be scored: C itself already
	// overflows.
	fake := &fakeEstimator{}
	orch := NewOrchestrator(fake, 255, zap.NewExample())

	results, err := orch.Positions(context.Background(), pagesWithCounts(255))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Degraded)
	require.Len(t, results[0].Positions, 255)
	require.Empty(t, fake.calls)
}

func TestPositionsDeterministic(t *testing.T) {
	pages := pagesWithCounts(10, 20, 300)

	run := func() []Result {
		orch := NewOrchestrator(&fakeEstimator{}, 255, zap.NewExample())
		results, err := orch.Positions(context.Background(), pages)
		require.NoError(t, err)
		return results
	}
	require.Equal(t, run(), run())
}

func TestPositionsPropagatesEstimatorError(t *testing.T) {
	sentinel := errors.New("order model offline")
	orch := NewOrchestrator(&fakeEstimator{fail: sentinel}, 255, zap.NewExample())

	_, err := orch.Positions(context.Background(), pagesWithCounts(3))
	require.ErrorIs(t, err, sentinel)

	// Degraded mode propagates too, identifying the failing page.
	_, err = orch.Positions(context.Background(), pagesWithCounts(3, 300))
	require.ErrorIs(t, err, sentinel)
	require.Contains(t, err.Error(), "page 0")
}

func TestPositionsEmptyDocument(t *testing.T) {
	orch := NewOrchestrator(&fakeEstimator{}, 255, zap.NewExample())
	results, err := orch.Positions(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestPositionLists(t *testing.T) {
	results := []Result{
		{Positions: []int{1, 0}},
		{Positions: []int{0}, Degraded: true},
	}
	require.Equal(t, [][]int{{1, 0}, {0}}, PositionLists(results))
}

func TestDefaultCapacityApplied(t *testing.T) {
	orch := NewOrchestrator(&fakeEstimator{}, 0, zap.NewExample())
	require.Equal(t, DefaultCapacity, orch.Capacity())
}
