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

package pipelines

import (
	"context"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antflydb/silverfish/lib/geometry"
	"github.com/antflydb/silverfish/lib/layout"
	"github.com/antflydb/silverfish/lib/ordering"
)

// fakeDetector emits a configured number of blocks per page, laid out
// in a horizontal strip so every block has distinct geometry.
type fakeDetector struct {
	blocksPerPage []int
}

func (f *fakeDetector) Detect(ctx context.Context, pages []image.Image, ppi int) ([]layout.PageDetection, error) {
	if len(pages) != len(f.blocksPerPage) {
		return nil, fmt.Errorf("expected %d pages, got %d", len(f.blocksPerPage), len(pages))
	}
	detections := make([]layout.PageDetection, len(pages))
	for i, count := range f.blocksPerPage {
		det := layout.PageDetection{
			PageIndex: i,
			ImageBBox: geometry.NewBBox(0, 0, 200, 100),
			Blocks:    make([]layout.Block, count),
		}
		for j := 0; j < count; j++ {
			det.Blocks[j] = layout.Block{
				ID:         geometry.BlockID{Page: i, Block: j},
				BBox:       geometry.NewBBox(float64(4*j), 10, float64(4*j+3), 20),
				Label:      layout.LabelText,
				Confidence: 0.9,
			}
		}
		detections[i] = det
	}
	return detections, nil
}

func (f *fakeDetector) Close() error { return nil }

// identityEstimator predicts reading order equal to block order.
type identityEstimator struct{}

func (identityEstimator) EstimateOrder(ctx context.Context, pages []ordering.PageBlocks) ([][]int, error) {
	out := make([][]int, len(pages))
	for i, page := range pages {
		positions := make([]int, len(page.BBoxes))
		for j := range positions {
			positions[j] = j
		}
		out[i] = positions
	}
	return out, nil
}

func (identityEstimator) Close() error { return nil }

// indexEngine recognizes each frame as its batch index.
type indexEngine struct{}

func (indexEngine) Recognize(ctx context.Context, images []image.Image, lang string) ([]string, error) {
	texts := make([]string, len(images))
	for i := range texts {
		texts[i] = fmt.Sprintf("block %d", i)
	}
	return texts, nil
}

func (indexEngine) Close() error { return nil }

func testPages(n int) []image.Image {
	pages := make([]image.Image, n)
	for i := range pages {
		pages[i] = image.NewRGBA(image.Rect(0, 0, 200, 100))
	}
	return pages
}

func TestParsePagesMergeCompleteness(t *testing.T) {
	detector := &fakeDetector{blocksPerPage: []int{3, 2}}
	p := New(nil, detector, identityEstimator{}, indexEngine{}, Config{}, zap.NewExample())

	doc, err := p.ParsePages(context.Background(), testPages(2), testPages(2), "")
	require.NoError(t, err)

	// Every detected block appears exactly once in the output.
	require.Len(t, doc.Records, 5)
	seen := map[geometry.BlockID]bool{}
	for _, row := range doc.Table.Rows {
		require.False(t, seen[row.ID], "row %v duplicated", row.ID)
		seen[row.ID] = true
	}

	// Everything was under capacity, so every block has text.
	for _, rec := range doc.Records {
		require.NotNil(t, rec.Text, "page %d position %d missing text", rec.PageIndex, rec.Position)
		require.Equal(t, DefaultLayoutPPI, rec.LayoutPPI)
	}
	require.Empty(t, doc.DegradedPages)
	require.Empty(t, doc.SkippedPages)
}

func TestParsePagesSkippedPageHasNullText(t *testing.T) {
	// Page 1 is at the capacity ceiling: its order degrades and its
	// blocks are excluded from recognition, but its rows survive.
	detector := &fakeDetector{blocksPerPage: []int{3, 6, 2}}
	p := New(nil, detector, identityEstimator{}, indexEngine{}, Config{Capacity: 6}, zap.NewExample())

	doc, err := p.ParsePages(context.Background(), testPages(3), testPages(3), "")
	require.NoError(t, err)
	require.Equal(t, []int{1}, doc.DegradedPages)
	require.Equal(t, []int{1}, doc.SkippedPages)
	require.Len(t, doc.Records, 11)

	for _, rec := range doc.Records {
		if rec.PageIndex == 1 {
			require.Nil(t, rec.Text, "skipped page rows must have null text")
		} else {
			require.NotNil(t, rec.Text)
		}
	}
}

func TestParsePagesDeterministic(t *testing.T) {
	detector := &fakeDetector{blocksPerPage: []int{4, 1, 3}}

	var runs [][]layout.Record
	for i := 0; i < 2; i++ {
		p := New(nil, detector, identityEstimator{}, indexEngine{}, Config{}, zap.NewExample())
		doc, err := p.ParsePages(context.Background(), testPages(3), testPages(3), "")
		require.NoError(t, err)
		runs = append(runs, doc.Records)
	}
	require.Equal(t, runs[0], runs[1])
}

func TestParsePagesRowOrder(t *testing.T) {
	detector := &fakeDetector{blocksPerPage: []int{2, 3}}
	p := New(nil, detector, identityEstimator{}, indexEngine{}, Config{}, zap.NewExample())

	doc, err := p.ParsePages(context.Background(), testPages(2), testPages(2), "")
	require.NoError(t, err)

	prevPage, prevPos := -1, 0
	for _, rec := range doc.Records {
		if rec.PageIndex != prevPage {
			require.Greater(t, rec.PageIndex, prevPage)
			prevPage, prevPos = rec.PageIndex, rec.Position
			continue
		}
		require.GreaterOrEqual(t, rec.Position, prevPos)
		prevPos = rec.Position
	}
}

func TestParsePagesRasterCountMismatch(t *testing.T) {
	detector := &fakeDetector{blocksPerPage: []int{1}}
	p := New(nil, detector, identityEstimator{}, indexEngine{}, Config{}, zap.NewExample())

	_, err := p.ParsePages(context.Background(), testPages(1), testPages(2), "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "raster sets disagree")
}

func TestParseDocumentRequiresRenderer(t *testing.T) {
	p := New(nil, &fakeDetector{}, identityEstimator{}, indexEngine{}, Config{}, zap.NewExample())
	_, err := p.ParseDocument(context.Background(), []byte("%PDF"), "")
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	p := New(nil, &fakeDetector{}, identityEstimator{}, indexEngine{}, Config{Capacity: 100}, zap.NewExample())
	cfg := p.Config()
	require.Equal(t, DefaultLayoutPPI, cfg.LayoutPPI)
	require.Equal(t, DefaultOCRPPI, cfg.OCRPPI)
	require.Equal(t, 100, cfg.Capacity)
	require.Equal(t, 100, cfg.CropCapacity, "crop capacity follows the ordering ceiling by default")
}
