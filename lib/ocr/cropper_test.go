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
	"image"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antflydb/silverfish/lib/geometry"
	"github.com/antflydb/silverfish/lib/layout"
	"github.com/antflydb/silverfish/lib/ordering"
)

func tableFor(ppi int, rowsPerPage ...[]layout.Row) *layout.Table {
	table := &layout.Table{PPI: ppi}
	for _, rows := range rowsPerPage {
		table.Rows = append(table.Rows, rows...)
	}
	return table
}

func pageRows(page, count int) []layout.Row {
	rows := make([]layout.Row, count)
	for i := range rows {
		rows[i] = layout.Row{
			ID:       geometry.BlockID{Page: page, Block: i},
			BBox:     geometry.NewBBox(float64(10*i), 10, float64(10*i+8), 20),
			Label:    layout.LabelText,
			Position: i,
		}
	}
	return rows
}

func rasters(n, w, h int) []image.Image {
	pages := make([]image.Image, n)
	for i := range pages {
		pages[i] = image.NewGray(image.Rect(0, 0, w, h))
	}
	return pages
}

func TestCropperKeepsBlockIdentity(t *testing.T) {
	table := tableFor(150, pageRows(0, 3), pageRows(1, 2))
	cropper := NewCropper(255, zap.NewExample())

	crops, skipped, err := cropper.Crop(rasters(2, 200, 100), table, 150)
	require.NoError(t, err)
	require.Empty(t, skipped)
	require.Len(t, crops, 5)

	require.Equal(t, geometry.BlockID{Page: 0, Block: 0}, crops[0].ID)
	require.Equal(t, geometry.BlockID{Page: 1, Block: 1}, crops[4].ID)
}

func TestCropperSkipsPagesAtCapacity(t *testing.T) {
	table := tableFor(150, pageRows(0, 2), pageRows(1, 4), pageRows(2, 1))
	cropper := NewCropper(4, zap.NewExample())

	crops, skipped, err := cropper.Crop(rasters(3, 200, 100), table, 150)
	require.NoError(t, err)
	require.Equal(t, []int{1}, skipped)

	require.Len(t, crops, 3)
	for _, crop := range crops {
		require.NotEqual(t, 1, crop.ID.Page, "skipped page must produce no crops")
	}
}

func TestCropperRescalesAcrossResolutions(t *testing.T) {
	// One block at layout ppi 100; crop from a raster at 200 ppi. With
	// buffer 2 the crop spans floor((10-2)*2)..ceil((20+2)*2) = 16..44.
	table := tableFor(100, []layout.Row{{
		ID:   geometry.BlockID{Page: 0, Block: 0},
		BBox: geometry.NewBBox(10, 10, 20, 20),
	}})
	cropper := NewCropper(255, zap.NewExample())

	crops, _, err := cropper.Crop(rasters(1, 100, 100), table, 200)
	require.NoError(t, err)
	require.Len(t, crops, 1)
	require.Equal(t, 28, crops[0].Image.Bounds().Dx())
	require.Equal(t, 28, crops[0].Image.Bounds().Dy())
}

func TestCropperSameResolutionNoBuffer(t *testing.T) {
	table := tableFor(150, []layout.Row{{
		ID:   geometry.BlockID{Page: 0, Block: 0},
		BBox: geometry.NewBBox(10, 10, 20, 30),
	}})
	cropper := NewCropper(255, zap.NewExample())

	crops, _, err := cropper.Crop(rasters(1, 100, 100), table, 150)
	require.NoError(t, err)
	require.Len(t, crops, 1)
	require.Equal(t, 10, crops[0].Image.Bounds().Dx())
	require.Equal(t, 20, crops[0].Image.Bounds().Dy())
}

func TestCropperDropsOutOfBoundsBlocks(t *testing.T) {
	table := tableFor(150, []layout.Row{
		{ID: geometry.BlockID{Page: 0, Block: 0}, BBox: geometry.NewBBox(10, 10, 20, 20)},
		{ID: geometry.BlockID{Page: 0, Block: 1}, BBox: geometry.NewBBox(500, 500, 600, 600)},
	})
	cropper := NewCropper(255, zap.NewExample())

	crops, _, err := cropper.Crop(rasters(1, 100, 100), table, 150)
	require.NoError(t, err)
	require.Len(t, crops, 1)
	require.Equal(t, geometry.BlockID{Page: 0, Block: 0}, crops[0].ID)
}

func TestCropperMissingRasterIsError(t *testing.T) {
	table := tableFor(150, pageRows(0, 1), pageRows(1, 1))
	cropper := NewCropper(255, zap.NewExample())

	_, _, err := cropper.Crop(rasters(1, 100, 100), table, 150)
	require.Error(t, err)
	require.Contains(t, err.Error(), "page 1")
}

func TestCropperDefaultCapacityFollowsOrdering(t *testing.T) {
	cropper := NewCropper(0, zap.NewExample())
	require.Equal(t, ordering.DefaultCapacity, cropper.Capacity())
}
