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

package layout

import (
	"sort"

	"github.com/antflydb/silverfish/lib/geometry"
)

// Unordered is the sentinel position for blocks that never received an
// order prediction, either because their page overflowed the ordering
// model or because the prediction list was shorter than the block list.
const Unordered = -1

// Row is one line of the ordered layout table: a detected block plus
// its predicted reading position within the page.
type Row struct {
	ID         geometry.BlockID
	BBox       geometry.BBox
	Polygon    geometry.Polygon
	Label      string
	Confidence float64
	Position   int
}

// Table is the ordered layout table for one document. Geometry is
// expressed at PPI, and rows are sorted ascending by (page, position)
// with unordered rows first within their page.
type Table struct {
	PPI  int
	Rows []Row
}

// PageRows is the contiguous run of table rows belonging to one page.
type PageRows struct {
	PageIndex int
	Rows      []Row
}

// MaxBlockCount returns the largest per-page block count across the
// detections. Zero for an empty document.
func MaxBlockCount(detections []PageDetection) int {
	largest := 0
	for _, det := range detections {
		largest = max(largest, det.BlockCount())
	}
	return largest
}

// BuildTable joins detector output with the per-page position lists
// produced by the ordering stage. Positions align to blocks by index
// within the page: block j takes positions[page][j] when present and
// Unordered otherwise, so a degraded page whose substitute list is
// shorter (or longer) than its block list still yields exactly one row
// per block. Rows are sorted ascending by (page, position); Unordered
// sorts first within its page and ties keep detector block order.
func BuildTable(detections []PageDetection, positions [][]int, ppi int) *Table {
	table := &Table{PPI: ppi}
	for i, det := range detections {
		var pagePositions []int
		if i < len(positions) {
			pagePositions = positions[i]
		}
		for j, blk := range det.Blocks {
			pos := Unordered
			if j < len(pagePositions) {
				pos = pagePositions[j]
			}
			table.Rows = append(table.Rows, Row{
				ID:         blk.ID,
				BBox:       blk.BBox,
				Polygon:    blk.Polygon,
				Label:      blk.Label,
				Confidence: blk.Confidence,
				Position:   pos,
			})
		}
	}

	sort.SliceStable(table.Rows, func(a, b int) bool {
		ra, rb := table.Rows[a], table.Rows[b]
		if ra.ID.Page != rb.ID.Page {
			return ra.ID.Page < rb.ID.Page
		}
		return ra.Position < rb.Position
	})

	return table
}

// ByPage splits the table into contiguous per-page runs, pages
// ascending, preserving the sorted row order within each page.
func (t *Table) ByPage() []PageRows {
	var pages []PageRows
	for _, row := range t.Rows {
		if len(pages) == 0 || pages[len(pages)-1].PageIndex != row.ID.Page {
			pages = append(pages, PageRows{PageIndex: row.ID.Page})
		}
		last := &pages[len(pages)-1]
		last.Rows = append(last.Rows, row)
	}
	return pages
}

// Record is the final authoritative output for one block. The column
// set is fixed; Text is nil when no OCR result exists for the block.
type Record struct {
	PageIndex int           `json:"page_index"`
	Position  int           `json:"position"`
	BBox      geometry.BBox `json:"bbox"`
	Label     string        `json:"label"`
	Text      *string       `json:"text"`
	LayoutPPI int           `json:"layout_ppi"`
}

// MergeText left-joins recognized text onto the table by BlockID and
// emits the final records in table order. Rows with no OCR match keep a
// nil Text; geometry stays in the table's own resolution.
func (t *Table) MergeText(texts map[geometry.BlockID]string) []Record {
	records := make([]Record, len(t.Rows))
	for i, row := range t.Rows {
		rec := Record{
			PageIndex: row.ID.Page,
			Position:  row.Position,
			BBox:      row.BBox,
			Label:     row.Label,
			LayoutPPI: t.PPI,
		}
		if text, ok := texts[row.ID]; ok {
			rec.Text = &text
		}
		records[i] = rec
	}
	return records
}
