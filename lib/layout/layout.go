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

// Package layout defines the block data model produced by the layout
// detector and the ordered layout table built from it.
package layout

import (
	"context"
	"image"

	"github.com/antflydb/silverfish/lib/geometry"
)

// Common block labels emitted by layout models. The set is open: a
// detector may emit labels outside this list and they pass through
// unchanged.
const (
	LabelText          = "Text"
	LabelTitle         = "Title"
	LabelSectionHeader = "Section-header"
	LabelListItem      = "List-item"
	LabelTable         = "Table"
	LabelFigure        = "Figure"
	LabelPicture       = "Picture"
	LabelCaption       = "Caption"
	LabelFormula       = "Formula"
	LabelFootnote      = "Footnote"
	LabelPageHeader    = "Page-header"
	LabelPageFooter    = "Page-footer"
)

// Block is one detected content region on a page. Blocks are immutable
// after detection; reading position and recognized text are attached to
// derived rows, never written back onto the block.
type Block struct {
	ID         geometry.BlockID `json:"id"`
	BBox       geometry.BBox    `json:"bbox"`
	Polygon    geometry.Polygon `json:"polygon,omitempty"`
	Label      string           `json:"label"`
	Confidence float64          `json:"confidence"`
}

// PageDetection is the detector output for one page: the page extent
// and the ordered block list. Block order is the detector's output
// order and fixes each block's index for the rest of the pipeline.
type PageDetection struct {
	PageIndex int           `json:"page_index"`
	ImageBBox geometry.BBox `json:"image_bbox"`
	Blocks    []Block       `json:"blocks"`
}

// BlockCount returns the number of blocks detected on the page.
func (p PageDetection) BlockCount() int { return len(p.Blocks) }

// BBoxes returns the page's block bounding boxes in block order.
func (p PageDetection) BBoxes() []geometry.BBox {
	boxes := make([]geometry.BBox, len(p.Blocks))
	for i, b := range p.Blocks {
		boxes[i] = b.BBox
	}
	return boxes
}

// Detector finds content blocks on rasterized pages. Implementations
// must return exactly one PageDetection per input image, in input
// order, with BlockIDs assigned from the slice positions.
type Detector interface {
	// Detect analyzes the given page rasters, all rendered at the same
	// declared resolution.
	Detect(ctx context.Context, pages []image.Image, ppi int) ([]PageDetection, error)

	// Close releases any resources held by the detector.
	Close() error
}
