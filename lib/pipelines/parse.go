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

// Package pipelines composes the parse stages into one path: render the
// document, detect layout blocks, estimate reading order, crop blocks
// out of the recognition rasters, run OCR, and merge text back onto the
// ordered layout table.
package pipelines

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/antflydb/silverfish/lib/layout"
	"github.com/antflydb/silverfish/lib/ocr"
	"github.com/antflydb/silverfish/lib/ordering"
	"github.com/antflydb/silverfish/lib/raster"
)

// Default resolutions for the two render passes.
const (
	DefaultLayoutPPI = 150
	DefaultOCRPPI    = 150
)

// Config carries the tunable parse parameters.
type Config struct {
	// LayoutPPI is the resolution of the rasters sent to detection and
	// ordering; all table geometry is expressed at this resolution.
	LayoutPPI int

	// OCRPPI is the resolution of the rasters blocks are cropped from.
	OCRPPI int

	// Language is the recognition language passed to the OCR engine.
	Language string

	// Capacity is the ordering model's per-page block ceiling.
	Capacity int

	// CropCapacity is the per-page block count at which cropping is
	// skipped. Zero follows Capacity.
	CropCapacity int
}

func (c Config) withDefaults() Config {
	if c.LayoutPPI <= 0 {
		c.LayoutPPI = DefaultLayoutPPI
	}
	if c.OCRPPI <= 0 {
		c.OCRPPI = DefaultOCRPPI
	}
	if c.Language == "" {
		c.Language = ocr.DefaultLanguage
	}
	if c.Capacity <= 0 {
		c.Capacity = ordering.DefaultCapacity
	}
	if c.CropCapacity <= 0 {
		c.CropCapacity = c.Capacity
	}
	return c
}

// Document is the outcome of one full parse.
type Document struct {
	// Table is the ordered layout table at LayoutPPI.
	Table *layout.Table

	// LayoutPages are the rasters the table's geometry refers to, kept
	// so callers can draw annotations without rendering again.
	LayoutPages []image.Image

	// Records is the final output, one per detected block in table
	// order. Text is nil for blocks that produced no OCR result.
	Records []layout.Record

	// Pages is the rendered page count.
	Pages int

	// DegradedPages lists pages whose reading order came from a
	// substituted prediction rather than the model.
	DegradedPages []int

	// SkippedPages lists pages excluded from OCR for being at or over
	// the crop capacity.
	SkippedPages []int

	LayoutPPI int
	OCRPPI    int
}

// Pipeline runs documents end to end. It borrows its components; their
// lifecycle belongs to whoever constructed them.
type Pipeline struct {
	renderer raster.Renderer
	detector layout.Detector
	orderer  *ordering.Orchestrator
	cropper  *ocr.Cropper
	engine   ocr.Engine
	cfg      Config
	logger   *zap.Logger
}

// New assembles a pipeline. The ordering orchestrator and block cropper
// are built here so the capacity thresholds stay consistent with cfg.
func New(renderer raster.Renderer, detector layout.Detector, estimator ordering.Estimator, engine ocr.Engine, cfg Config, logger *zap.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		renderer: renderer,
		detector: detector,
		orderer:  ordering.NewOrchestrator(estimator, cfg.Capacity, logger),
		cropper:  ocr.NewCropper(cfg.CropCapacity, logger),
		engine:   engine,
		cfg:      cfg,
		logger:   logger.Named("pipeline"),
	}
}

// Config returns the effective configuration after defaulting.
func (p *Pipeline) Config() Config { return p.cfg }

// ParseDocument renders a source document and parses it. When the two
// resolutions match, one render pass serves both detection and
// recognition. An empty lang uses the configured language.
func (p *Pipeline) ParseDocument(ctx context.Context, doc []byte, lang string) (*Document, error) {
	if p.renderer == nil {
		return nil, errors.New("pipeline has no renderer configured")
	}

	layoutPages, err := p.renderer.Render(ctx, doc, p.cfg.LayoutPPI)
	if err != nil {
		return nil, fmt.Errorf("rendering at layout resolution: %w", err)
	}

	ocrPages := layoutPages
	if p.cfg.OCRPPI != p.cfg.LayoutPPI {
		if ocrPages, err = p.renderer.Render(ctx, doc, p.cfg.OCRPPI); err != nil {
			return nil, fmt.Errorf("rendering at recognition resolution: %w", err)
		}
	}

	return p.ParsePages(ctx, layoutPages, ocrPages, lang)
}

// ParsePages parses pre-rendered pages. layoutPages are at LayoutPPI
// and drive detection and ordering; ocrPages are at OCRPPI and are the
// source of block crops. Both slices are indexed by page and must have
// the same length.
func (p *Pipeline) ParsePages(ctx context.Context, layoutPages, ocrPages []image.Image, lang string) (*Document, error) {
	if len(layoutPages) == 0 {
		return nil, errors.New("document has no pages")
	}
	if len(ocrPages) != len(layoutPages) {
		return nil, fmt.Errorf("raster sets disagree: %d layout pages, %d recognition pages", len(layoutPages), len(ocrPages))
	}
	if lang == "" {
		lang = p.cfg.Language
	}

	start := time.Now()
	detections, err := p.detector.Detect(ctx, layoutPages, p.cfg.LayoutPPI)
	if err != nil {
		return nil, fmt.Errorf("detecting layout blocks: %w", err)
	}
	if len(detections) != len(layoutPages) {
		return nil, fmt.Errorf("detector returned %d pages for %d rasters", len(detections), len(layoutPages))
	}

	pages := make([]ordering.PageBlocks, len(detections))
	for i, det := range detections {
		pages[i] = ordering.PageBlocks{Image: layoutPages[i], BBoxes: det.BBoxes()}
	}
	results, err := p.orderer.Positions(ctx, pages)
	if err != nil {
		return nil, fmt.Errorf("estimating reading order: %w", err)
	}

	table := layout.BuildTable(detections, ordering.PositionLists(results), p.cfg.LayoutPPI)

	// Recognition runs on grayscale frames; document text carries no
	// color information.
	grays := make([]image.Image, len(ocrPages))
	for i, page := range ocrPages {
		grays[i] = Grayscale(page)
	}

	crops, skipped, err := p.cropper.Crop(grays, table, p.cfg.OCRPPI)
	if err != nil {
		return nil, err
	}

	texts, err := ocr.RecognizeCrops(ctx, p.engine, crops, lang)
	if err != nil {
		return nil, fmt.Errorf("recognizing text: %w", err)
	}

	doc := &Document{
		Table:         table,
		LayoutPages:   layoutPages,
		Records:       table.MergeText(texts),
		Pages:         len(layoutPages),
		DegradedPages: ordering.DegradedPages(results),
		SkippedPages:  skipped,
		LayoutPPI:     p.cfg.LayoutPPI,
		OCRPPI:        p.cfg.OCRPPI,
	}

	p.logger.Info("Document parsed",
		zap.Int("pages", doc.Pages),
		zap.Int("blocks", len(table.Rows)),
		zap.Int("recognized", len(texts)),
		zap.Ints("degraded_pages", doc.DegradedPages),
		zap.Ints("skipped_pages", doc.SkippedPages),
		zap.Duration("duration", time.Since(start)))

	return doc, nil
}
