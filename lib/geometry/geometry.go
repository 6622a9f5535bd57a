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

// Package geometry holds the shared geometric types of the layout
// pipeline: bounding boxes, polygons, and block identities, plus the
// cross-resolution rescaling used to move geometry between two
// independently chosen rasterizations.
package geometry

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
)

// DefaultBuffer is the pixel margin added on every side of a box when
// rescaling between two different resolutions, so rounding never clips
// glyph strokes at the box boundary.
const DefaultBuffer = 2.0

// BlockID identifies one detected block within a document: Page is the
// 0-based page index, Block the 0-based index of the block in its page's
// detector output. IDs are assigned once at detection time and carried
// unchanged through every downstream table.
type BlockID struct {
	Page  int `json:"page"`
	Block int `json:"block"`
}

func (id BlockID) String() string {
	return fmt.Sprintf("%d_%d", id.Page, id.Block)
}

// Point is one vertex in pixel coordinates.
type Point struct {
	X float64
	Y float64
}

// MarshalJSON encodes the point as a [x, y] pair.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON accepts a [x, y] pair.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decoding point: %w", err)
	}
	p.X, p.Y = pair[0], pair[1]
	return nil
}

// Polygon is an optional finer-grained block boundary, vertex order as
// emitted by the detector.
type Polygon []Point

// BBox is an axis-aligned box in pixel coordinates: (MinX, MinY) is the
// top-left corner, (MaxX, MaxY) the bottom-right. Coordinates are only
// meaningful relative to the resolution (ppi) the page was rasterized
// at, so a box must be rescaled before it can be applied to a raster
// produced at a different ppi.
type BBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// NewBBox returns the box with the given corners.
func NewBBox(minX, minY, maxX, maxY float64) BBox {
	return BBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// Width returns the horizontal extent of the box.
func (b BBox) Width() float64 { return b.MaxX - b.MinX }

// Height returns the vertical extent of the box.
func (b BBox) Height() float64 { return b.MaxY - b.MinY }

// Empty reports whether the box encloses no area.
func (b BBox) Empty() bool { return b.MaxX <= b.MinX || b.MaxY <= b.MinY }

// Rect converts the box to an image.Rectangle, truncating coordinates.
// Callers cropping a raster should intersect the result with the image
// bounds first.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(int(b.MinX), int(b.MinY), int(b.MaxX), int(b.MaxY))
}

// Rescale maps the box from its source resolution into a target
// resolution, given scale = targetPPI / sourcePPI. The buffer widens the
// box symmetrically before scaling, and rounding is asymmetric on
// purpose: floor on the min corner, ceil on the max corner, so the
// rescaled box is never smaller than the naive scale-only transform.
func (b BBox) Rescale(scale, buffer float64) BBox {
	return BBox{
		MinX: math.Floor((b.MinX - buffer) * scale),
		MinY: math.Floor((b.MinY - buffer) * scale),
		MaxX: math.Ceil((b.MaxX + buffer) * scale),
		MaxY: math.Ceil((b.MaxY + buffer) * scale),
	}
}

// MarshalJSON encodes the box as a [minX, minY, maxX, maxY] quad.
func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY})
}

// UnmarshalJSON accepts a [minX, minY, maxX, maxY] quad.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var quad [4]float64
	if err := json.Unmarshal(data, &quad); err != nil {
		return fmt.Errorf("decoding bbox: %w", err)
	}
	b.MinX, b.MinY, b.MaxX, b.MaxY = quad[0], quad[1], quad[2], quad[3]
	return nil
}

// ScaleBetween returns the multiplier that maps pixel coordinates at
// srcPPI into pixel coordinates at dstPPI.
func ScaleBetween(srcPPI, dstPPI int) float64 {
	return float64(dstPPI) / float64(srcPPI)
}

// BufferBetween returns the rescale buffer for a source/target ppi
// pair: zero when the resolutions match (no cross-resolution
// uncertainty to absorb), DefaultBuffer otherwise.
func BufferBetween(srcPPI, dstPPI int) float64 {
	if srcPPI == dstPPI {
		return 0
	}
	return DefaultBuffer
}
