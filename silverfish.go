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

// Package silverfish is a document parsing service: it renders source
// documents to page rasters, asks a layout model sidecar for block
// detections, asks an ordering model sidecar for reading positions,
// recognizes each block's text with tesseract, and merges everything
// into one ordered layout table.
package silverfish

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/antflydb/silverfish/lib/layout"
	"github.com/antflydb/silverfish/lib/ocr"
	"github.com/antflydb/silverfish/lib/ordering"
	"github.com/antflydb/silverfish/lib/pipelines"
	"github.com/antflydb/silverfish/lib/raster"
	"github.com/antflydb/silverfish/lib/store"
	"github.com/antflydb/silverfish/pkg/proxy"
)

// OCR engine selection values for Config.OcrEngine.
const (
	OCREngineTesseract = "tesseract"
	OCREngineGosseract = "gosseract"
)

// Config is the service configuration assembled from flags and
// environment by the command layer.
type Config struct {
	ApiUrl string `json:"api_url"`

	// Model sidecar endpoints.
	DetectorUrl string `json:"detector_url"`
	OrdererUrl  string `json:"orderer_url"`

	// Parse parameters.
	LayoutPpi       int    `json:"layout_ppi"`
	OcrPpi          int    `json:"ocr_ppi"`
	Language        string `json:"language"`
	CapacityCeiling int    `json:"capacity_ceiling"`
	CropCapacity    int    `json:"crop_capacity"`

	// OCR engine selection.
	OcrEngine     string `json:"ocr_engine"`
	OcrPoolSize   int    `json:"ocr_pool_size"`
	TesseractPath string `json:"tesseract_path"`

	// Rendering.
	PdftoppmPath string `json:"pdftoppm_path"`

	// Optional persistence and debug output.
	StorePath   string `json:"store_path"`
	AnnotateDir string `json:"annotate_dir"`

	CacheTtl string `json:"cache_ttl"`
}

type SilverfishNode struct {
	logger *zap.Logger

	// Warm pipeline shared across requests.
	pipeline *pipelines.Pipeline
	renderer raster.Renderer
	detector *CachedDetector
	engine   ocr.Engine

	// Optional sqlite persistence (nil when store_path is unset).
	store *store.Store

	// When set, every parse writes annotated page PNGs under this
	// directory, one subdirectory per report.
	annotateDir string

	engineName string
}

// corsMiddleware adds permissive CORS headers for the Silverfish API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// RunAsSilverfish runs the parse service until ctx is cancelled.
// If readyC is non-nil, it will be closed when the server is ready to
// accept requests.
func RunAsSilverfish(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) {
	zl = zl.Named("silverfish")
	zl.Info("Starting silverfish node", zap.Any("config", config))

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		zl.Fatal("Invalid API URL", zap.String("url", config.ApiUrl), zap.Error(err))
	}

	if config.DetectorUrl == "" || config.OrdererUrl == "" {
		zl.Fatal("Both detector_url and orderer_url must be configured",
			zap.String("detector_url", config.DetectorUrl),
			zap.String("orderer_url", config.OrdererUrl))
	}

	// Parse cache_ttl duration
	var cacheTTL time.Duration
	if config.CacheTtl != "" && config.CacheTtl != "0" {
		cacheTTL, err = time.ParseDuration(config.CacheTtl)
		if err != nil {
			zl.Fatal("Invalid cache_ttl duration", zap.String("cache_ttl", config.CacheTtl), zap.Error(err))
		}
	}

	t := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     6 * time.Minute,
		DisableKeepAlives:   false,
		ForceAttemptHTTP2:   true,
	}

	// One breaker per sidecar, so a flapping detector cannot open the
	// orderer's circuit.
	sidecarClient := func() *http.Client {
		return &http.Client{
			Timeout:   time.Second * 540,
			Transport: proxy.NewTransport(t, proxy.NewCircuitBreaker(5, 30*time.Second)),
		}
	}

	// Model sidecars, with the detector behind the shared cache
	detectionCache := NewDetectionCache(cacheTTL, zl.Named("detection-cache"))
	defer detectionCache.Close()

	detector := detectionCache.WrapDetector(
		layout.NewHTTPDetector(config.DetectorUrl, sidecarClient(), zl.Named("detector")))
	defer func() { _ = detector.Close() }()

	estimator := ordering.NewHTTPEstimator(config.OrdererUrl, sidecarClient(), zl.Named("orderer"))
	defer func() { _ = estimator.Close() }()

	// OCR engine: in-process gosseract pool or tesseract subprocess
	var engine ocr.Engine
	engineName := config.OcrEngine
	switch config.OcrEngine {
	case OCREngineGosseract:
		engine, err = ocr.NewGosseractEngine(&ocr.GosseractConfig{
			PoolSize: config.OcrPoolSize,
			Logger:   zl.Named("ocr"),
		})
		if err != nil {
			zl.Fatal("Failed to initialize gosseract engine", zap.Error(err))
		}
	case OCREngineTesseract, "":
		engineName = OCREngineTesseract
		cli := ocr.NewTesseractCLI(config.TesseractPath, zl.Named("ocr"))
		if err := cli.Available(); err != nil {
			zl.Fatal("Tesseract binary not available", zap.Error(err))
		}
		engine = cli
	default:
		zl.Fatal("Unknown ocr_engine", zap.String("ocr_engine", config.OcrEngine))
	}
	defer func() { _ = engine.Close() }()

	renderer := raster.NewPdftoppmRenderer(config.PdftoppmPath, zl)
	if err := renderer.Available(); err != nil {
		zl.Fatal("pdftoppm binary not available", zap.Error(err))
	}
	defer func() { _ = renderer.Close() }()

	// Optional sqlite persistence
	var st *store.Store
	if config.StorePath != "" {
		st, err = store.Open(config.StorePath, zl)
		if err != nil {
			zl.Fatal("Failed to open store", zap.String("path", config.StorePath), zap.Error(err))
		}
		defer func() { _ = st.Close() }()
	}

	pipeline := pipelines.New(renderer, detector, estimator, engine, pipelines.Config{
		LayoutPPI:    config.LayoutPpi,
		OCRPPI:       config.OcrPpi,
		Language:     config.Language,
		Capacity:     config.CapacityCeiling,
		CropCapacity: config.CropCapacity,
	}, zl)

	node := &SilverfishNode{
		logger: zl,

		pipeline:    pipeline,
		renderer:    renderer,
		detector:    detector,
		engine:      engine,
		store:       st,
		annotateDir: config.AnnotateDir,
		engineName:  engineName,
	}

	// Create API handler
	apiHandler := NewSilverfishAPI(zl, node)

	// Create root mux with health endpoints and API handler
	rootMux := http.NewServeMux()

	// Health endpoints (outside /api prefix for k8s compatibility)
	rootMux.HandleFunc("GET /healthz", node.handleHealthz)
	rootMux.HandleFunc("GET /readyz", node.handleReadyz)
	rootMux.Handle("GET /metrics", promhttp.Handler())

	rootMux.Handle("/api/", apiHandler)

	srv := &http.Server{
		Addr:        u.Host,
		Handler:     corsMiddleware(rootMux),
		ReadTimeout: 540 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		zl.Info("Silverfish's api server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Signal readiness after server starts
	if readyC != nil {
		close(readyC)
	}

	// Wait for context cancellation or server error
	select {
	case err := <-serverErr:
		if err != nil {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections
	srv.SetKeepAlivesEnabled(false)

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
}
