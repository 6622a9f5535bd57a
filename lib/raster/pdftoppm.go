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

package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// DefaultPdftoppmPath is the binary probed when no explicit path is
// configured.
const DefaultPdftoppmPath = "pdftoppm"

// PdftoppmRenderer shells out to poppler's pdftoppm. The document is
// written to a scratch directory, validated and page-counted with
// pdfcpu before the subprocess runs, and the rendered page set is
// checked against the declared count so a partial render can never
// masquerade as a complete document. The scratch directory is removed
// on every exit path.
type PdftoppmRenderer struct {
	path   string
	logger *zap.Logger
}

var _ Renderer = (*PdftoppmRenderer)(nil)

// NewPdftoppmRenderer creates a subprocess renderer using the binary at
// path, or DefaultPdftoppmPath when path is empty.
func NewPdftoppmRenderer(path string, logger *zap.Logger) *PdftoppmRenderer {
	if path == "" {
		path = DefaultPdftoppmPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PdftoppmRenderer{path: path, logger: logger.Named("raster")}
}

// Available reports whether the configured binary can be found.
func (r *PdftoppmRenderer) Available() error {
	if _, err := exec.LookPath(r.path); err != nil {
		return fmt.Errorf("locating pdftoppm binary: %w", err)
	}
	return nil
}

// Render implements Renderer.
func (r *PdftoppmRenderer) Render(ctx context.Context, doc []byte, ppi int) ([]image.Image, error) {
	if ppi <= 0 {
		return nil, fmt.Errorf("render resolution must be positive, got %d", ppi)
	}

	dir, err := os.MkdirTemp("", "silverfish-raster-*")
	if err != nil {
		return nil, fmt.Errorf("creating raster scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	docPath := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(docPath, doc, 0o600); err != nil {
		return nil, fmt.Errorf("writing document to scratch dir: %w", err)
	}

	declared, err := pageCount(docPath)
	if err != nil {
		return nil, err
	}

	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, r.path, "-png", "-r", strconv.Itoa(ppi), docPath, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("rendering document at %d ppi: %w (stderr: %s)",
			ppi, err, stderrTail(stderr.String()))
	}

	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("listing rendered pages: %w", err)
	}
	if len(matches) != declared {
		return nil, fmt.Errorf("renderer produced %d pages for a %d-page document (stderr: %s)",
			len(matches), declared, stderrTail(stderr.String()))
	}
	sortByPageIndex(matches)

	pages := make([]image.Image, 0, len(matches))
	for _, path := range matches {
		img, err := loadImage(path)
		if err != nil {
			return nil, err
		}
		pages = append(pages, img)
	}

	r.logger.Debug("Document rendered",
		zap.Int("pages", len(pages)),
		zap.Int("ppi", ppi),
		zap.Duration("duration", time.Since(start)))

	return pages, nil
}

// Close implements Renderer. The subprocess renderer holds no resources
// between invocations.
func (r *PdftoppmRenderer) Close() error { return nil }

// pageCount validates the document and returns its declared page count.
// Validation is relaxed: scanned documents from real-world sources are
// rarely strictly conformant.
func pageCount(path string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, fmt.Errorf("validating document: %w", err)
	}

	count, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("counting document pages: %w", err)
	}
	if count == 0 {
		return 0, fmt.Errorf("document has no pages")
	}
	return count, nil
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	const n = 512
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
