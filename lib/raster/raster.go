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

// Package raster turns source documents into per-page images at a
// requested resolution. The rest of the pipeline is format-agnostic:
// it only ever sees the rendered pages.
package raster

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Renderer rasterizes a source document into one image per page.
type Renderer interface {
	// Render returns the document's pages in order at the given
	// resolution. The page count is validated against the document's
	// own declared count; a short render is an error, never a silent
	// truncation.
	Render(ctx context.Context, doc []byte, ppi int) ([]image.Image, error)

	// Close releases any resources held by the renderer.
	Close() error
}

var pageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// LoadDir reads pre-rendered page images from a directory, ordered by
// the numeric suffix in each filename (page-2 before page-10) and
// lexically when no number is present. Non-image files are ignored.
func LoadDir(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading page directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !pageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no page images in %s", dir)
	}
	sortByPageIndex(paths)

	pages := make([]image.Image, 0, len(paths))
	for _, path := range paths {
		img, err := loadImage(path)
		if err != nil {
			return nil, err
		}
		pages = append(pages, img)
	}
	return pages, nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening page image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// sortByPageIndex orders paths by the trailing number in their base
// name, falling back to lexical order for ties and unnumbered names.
func sortByPageIndex(paths []string) {
	sort.SliceStable(paths, func(a, b int) bool {
		ia, oka := pageIndexFromName(paths[a])
		ib, okb := pageIndexFromName(paths[b])
		if oka && okb && ia != ib {
			return ia < ib
		}
		return paths[a] < paths[b]
	})
}

// pageIndexFromName extracts the trailing run of digits from a file's
// base name, e.g. 7 from "page-07.png".
func pageIndexFromName(path string) (int, bool) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	end := len(name)
	start := end
	for start > 0 && name[start-1] >= '0' && name[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	n, err := strconv.Atoi(name[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
