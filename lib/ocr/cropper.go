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

package ocr

import (
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/antflydb/silverfish/lib/geometry"
	"github.com/antflydb/silverfish/lib/layout"
	"github.com/antflydb/silverfish/lib/ordering"
)

// Cropper extracts per-block sub-images from full-page rasters so each
// block can be recognized in isolation. Pages whose block count reaches
// the capacity threshold are skipped wholesale; their blocks keep their
// geometry rows but never produce text.
type Cropper struct {
	capacity int
	logger   *zap.Logger
}

// NewCropper returns a Cropper that skips pages with capacity or more
// blocks. A non-positive capacity falls back to the ordering ceiling,
// keeping the two thresholds aligned by default.
func NewCropper(capacity int, logger *zap.Logger) *Cropper {
	if capacity <= 0 {
		capacity = ordering.DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cropper{
		capacity: capacity,
		logger:   logger.Named("cropper"),
	}
}

// Capacity returns the per-page block threshold at which cropping is
// skipped.
func (c *Cropper) Capacity() int { return c.capacity }

// Crop walks the layout table page by page and cuts one sub-image per
// block out of the matching raster. Rasters are indexed by page, at
// targetPPI; table geometry is rescaled from the table's own resolution
// before cutting, with a small pixel buffer when the resolutions differ.
// Blocks whose rescaled box falls entirely outside the raster yield no
// crop. The second return value lists the pages skipped for being at or
// over capacity.
func (c *Cropper) Crop(pages []image.Image, table *layout.Table, targetPPI int) ([]Crop, []int, error) {
	scale := geometry.ScaleBetween(table.PPI, targetPPI)
	buffer := geometry.BufferBetween(table.PPI, targetPPI)

	var crops []Crop
	var skipped []int
	for _, page := range table.ByPage() {
		if page.PageIndex < 0 || page.PageIndex >= len(pages) {
			return nil, nil, fmt.Errorf("layout table references page %d but %d rasters were provided", page.PageIndex, len(pages))
		}
		if len(page.Rows) >= c.capacity {
			c.logger.Warn("Skipping page at crop capacity",
				zap.Int("page", page.PageIndex),
				zap.Int("blocks", len(page.Rows)),
				zap.Int("capacity", c.capacity))
			skipped = append(skipped, page.PageIndex)
			continue
		}

		raster := pages[page.PageIndex]
		for _, row := range page.Rows {
			rect := row.BBox.Rescale(scale, buffer).Rect()
			sub := cropRect(raster, rect)
			if sub == nil {
				c.logger.Debug("Block outside raster bounds",
					zap.Stringer("block", row.ID),
					zap.String("label", row.Label))
				continue
			}
			crops = append(crops, Crop{ID: row.ID, Image: sub})
		}
	}
	return crops, skipped, nil
}

// cropRect copies the given region out of an image, clipped to the
// image bounds. Nil when nothing remains after clipping.
func cropRect(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.Set(x, y, img.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return out
}
