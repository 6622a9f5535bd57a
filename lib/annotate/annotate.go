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

// Package annotate draws parsed layout tables back onto page rasters
// for visual inspection: one outlined rectangle per block, captioned
// with its reading position and label, colored by label class.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/antflydb/silverfish/lib/layout"
)

const outlineWidth = 2

var labelColors = map[string]color.RGBA{
	layout.LabelText:          {R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	layout.LabelTitle:         {R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	layout.LabelSectionHeader: {R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	layout.LabelListItem:      {R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	layout.LabelTable:         {R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	layout.LabelFigure:        {R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
	layout.LabelPicture:       {R: 0xe3, G: 0x77, B: 0xc2, A: 0xff},
	layout.LabelCaption:       {R: 0x7f, G: 0x7f, B: 0x7f, A: 0xff},
	layout.LabelFormula:       {R: 0xbc, G: 0xbd, B: 0x22, A: 0xff},
	layout.LabelFootnote:      {R: 0x17, G: 0xbe, B: 0xcf, A: 0xff},
	layout.LabelPageHeader:    {R: 0x8c, G: 0x8c, B: 0x8c, A: 0xff},
	layout.LabelPageFooter:    {R: 0x8c, G: 0x8c, B: 0x8c, A: 0xff},
}

// ColorFor returns the display color for a label class. Unknown labels
// share a fallback so they are still visible.
func ColorFor(label string) color.RGBA {
	if c, ok := labelColors[label]; ok {
		return c
	}
	return color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
}

// Page draws one page's rows onto a copy of its raster. Geometry must
// already be at the raster's resolution.
func Page(raster image.Image, rows []layout.Row) *image.RGBA {
	bounds := raster.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), raster, bounds.Min, draw.Src)

	for _, row := range rows {
		col := ColorFor(row.Label)
		rect := row.BBox.Rect().Intersect(out.Bounds())
		if rect.Empty() {
			continue
		}
		drawOutline(out, rect, col)
		drawCaption(out, rect, fmt.Sprintf("%d %s", row.Position, row.Label), col)
	}
	return out
}

// Pages annotates every raster with its table rows. Pages without rows
// come back as plain copies.
func Pages(rasters []image.Image, table *layout.Table) []*image.RGBA {
	rowsByPage := make(map[int][]layout.Row, len(rasters))
	for _, page := range table.ByPage() {
		rowsByPage[page.PageIndex] = page.Rows
	}

	out := make([]*image.RGBA, len(rasters))
	for i, raster := range rasters {
		out[i] = Page(raster, rowsByPage[i])
	}
	return out
}

// WriteDir annotates every raster and writes one page-NNN.png per page
// into dir, creating it if needed.
func WriteDir(dir string, rasters []image.Image, table *layout.Table) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating annotation dir: %w", err)
	}
	for i, img := range Pages(rasters, table) {
		path := filepath.Join(dir, fmt.Sprintf("page-%03d.png", i))
		if err := writePNG(path, img); err != nil {
			return err
		}
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating annotation file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing annotation file: %w", err)
	}
	return nil
}

// drawOutline paints a rectangle outline as four filled bands.
func drawOutline(img *image.RGBA, rect image.Rectangle, col color.Color) {
	src := image.NewUniform(col)
	bands := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+outlineWidth),
		image.Rect(rect.Min.X, rect.Max.Y-outlineWidth, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+outlineWidth, rect.Max.Y),
		image.Rect(rect.Max.X-outlineWidth, rect.Min.Y, rect.Max.X, rect.Max.Y),
	}
	for _, band := range bands {
		draw.Draw(img, band.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawCaption puts the caption inside the box's top-right corner,
// nudged left so it stays within the box when there is room.
func drawCaption(img *image.RGBA, rect image.Rectangle, caption string, col color.Color) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, caption).Ceil()

	x := rect.Max.X - width - outlineWidth - 1
	if x < rect.Min.X {
		x = rect.Min.X + outlineWidth + 1
	}
	y := rect.Min.Y + face.Ascent + outlineWidth

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(caption)
}
