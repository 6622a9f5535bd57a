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

//go:build go1.22

package silverfish

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"runtime"
	"time"

	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"

	"github.com/antflydb/silverfish/lib/annotate"
	"github.com/antflydb/silverfish/lib/layout"
	"github.com/antflydb/silverfish/lib/pipelines"
	"github.com/antflydb/silverfish/lib/store"
)

// maxDocumentBytes caps uploaded document size.
const maxDocumentBytes = 200 << 20

// SilverfishAPI routes the HTTP API
type SilverfishAPI struct {
	logger *zap.Logger
	node   *SilverfishNode
}

// NewSilverfishAPI creates a new HTTP handler for the Silverfish API
func NewSilverfishAPI(logger *zap.Logger, node *SilverfishNode) http.Handler {
	api := &SilverfishAPI{
		logger: logger,
		node:   node,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/parse", api.ParseDocument)
	mux.HandleFunc("GET /api/reports", api.ListReports)
	mux.HandleFunc("GET /api/reports/{name}", api.GetReport)
	mux.HandleFunc("GET /api/version", api.GetVersion)
	return mux
}

// VersionResponse reports build information
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// ParseResponse is the outcome of one document parse
type ParseResponse struct {
	Report        string          `json:"report,omitempty"`
	Pages         int             `json:"pages"`
	LayoutPpi     int             `json:"layout_ppi"`
	OcrPpi        int             `json:"ocr_ppi"`
	DegradedPages []int           `json:"degraded_pages,omitempty"`
	SkippedPages  []int           `json:"skipped_pages,omitempty"`
	Records       []layout.Record `json:"records"`
	Stored        bool            `json:"stored,omitempty"`
}

// ReportsResponse lists stored report names
type ReportsResponse struct {
	Reports []string `json:"reports"`
}

// ReportResponse carries one stored report's rows
type ReportResponse struct {
	Report  string          `json:"report"`
	Source  string          `json:"source"`
	Records []layout.Record `json:"records"`
}

// ParseDocument handles POST /api/parse
func (t *SilverfishAPI) ParseDocument(w http.ResponseWriter, r *http.Request) {
	t.node.handleApiParse(w, r)
}

// ListReports handles GET /api/reports
func (t *SilverfishAPI) ListReports(w http.ResponseWriter, r *http.Request) {
	t.node.handleApiReports(w, r)
}

// GetReport handles GET /api/reports/{name}
func (t *SilverfishAPI) GetReport(w http.ResponseWriter, r *http.Request) {
	t.node.handleApiReport(w, r)
}

// GetVersion reports build information
func (t *SilverfishAPI) GetVersion(w http.ResponseWriter, r *http.Request) {
	resp := VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		t.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleApiParse accepts a raw document body and responds with the
// parsed layout table. Query parameters: name (report name, enables
// persistence and annotation), source (free-form provenance tag), lang
// (recognition language override).
func (ln *SilverfishNode) handleApiParse(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RecordParseRequest("413")
			http.Error(w, fmt.Sprintf("document exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		RecordParseRequest("400")
		http.Error(w, fmt.Sprintf("reading request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(doc) == 0 {
		RecordParseRequest("400")
		http.Error(w, "request body must contain a document", http.StatusBadRequest)
		return
	}

	name := r.URL.Query().Get("name")
	source := r.URL.Query().Get("source")
	lang := r.URL.Query().Get("lang")

	result, err := ln.pipeline.ParseDocument(r.Context(), doc, lang)
	if err != nil {
		RecordParseRequest("500")
		RecordRequestDuration("parse", "500", time.Since(start).Seconds())
		ln.logger.Error("Parse failed",
			zap.String("report", name),
			zap.Int("bytes", len(doc)),
			zap.Error(err))
		http.Error(w, fmt.Sprintf("parsing document: %v", err), http.StatusInternalServerError)
		return
	}

	RecordParseRequest("200")
	RecordRequestDuration("parse", "200", time.Since(start).Seconds())
	recordParseMetrics(ln.engineName, result)

	resp := ParseResponse{
		Report:        name,
		Pages:         result.Pages,
		LayoutPpi:     result.LayoutPPI,
		OcrPpi:        result.OCRPPI,
		DegradedPages: result.DegradedPages,
		SkippedPages:  result.SkippedPages,
		Records:       result.Records,
	}

	// Persistence and annotation are best-effort: the parse result is
	// already in hand, so failures here degrade to warnings.
	if ln.store != nil && name != "" {
		if _, err := ln.store.SaveReport(r.Context(), store.Report{
			Name:     name,
			Source:   source,
			Document: doc,
		}); err != nil {
			ln.logger.Warn("Failed to store report document", zap.String("report", name), zap.Error(err))
		}
		stored, err := ln.store.SaveResult(r.Context(), store.DefaultGroup, name, source, result.Records)
		if err != nil {
			ln.logger.Warn("Failed to store parse result", zap.String("report", name), zap.Error(err))
		} else {
			resp.Stored = stored
		}
	}

	if ln.annotateDir != "" && name != "" {
		dir := filepath.Join(ln.annotateDir, name)
		if err := annotate.WriteDir(dir, result.LayoutPages, result.Table); err != nil {
			ln.logger.Warn("Failed to write annotations", zap.String("dir", dir), zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		ln.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleApiReports lists the reports with stored parse results.
func (ln *SilverfishNode) handleApiReports(w http.ResponseWriter, r *http.Request) {
	if ln.store == nil {
		http.Error(w, "persistence not available: no store configured", http.StatusServiceUnavailable)
		return
	}

	names, err := ln.store.ListResults(r.Context(), store.DefaultGroup)
	if err != nil {
		ln.logger.Error("Listing reports failed", zap.Error(err))
		http.Error(w, fmt.Sprintf("listing reports: %v", err), http.StatusInternalServerError)
		return
	}

	resp := ReportsResponse{Reports: []string{}}
	if names != nil {
		resp.Reports = names
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		ln.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleApiReport fetches one stored report's rows.
func (ln *SilverfishNode) handleApiReport(w http.ResponseWriter, r *http.Request) {
	if ln.store == nil {
		http.Error(w, "persistence not available: no store configured", http.StatusServiceUnavailable)
		return
	}

	name := r.PathValue("name")
	result, err := ln.store.Result(r.Context(), store.DefaultGroup, name)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, fmt.Sprintf("report not found: %s", name), http.StatusNotFound)
		return
	}
	if err != nil {
		ln.logger.Error("Fetching report failed", zap.String("report", name), zap.Error(err))
		http.Error(w, fmt.Sprintf("fetching report: %v", err), http.StatusInternalServerError)
		return
	}

	resp := ReportResponse{
		Report:  result.Name,
		Source:  result.Source,
		Records: result.Records,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		ln.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// recordParseMetrics pushes one parse outcome into the pipeline
// counters.
func recordParseMetrics(engine string, result *pipelines.Document) {
	RecordPagesProcessed(result.Pages)
	RecordDegradedPages(len(result.DegradedPages))
	RecordSkippedPages(len(result.SkippedPages))

	labelCounts := make(map[string]int)
	recognized := 0
	for _, rec := range result.Records {
		labelCounts[rec.Label]++
		if rec.Text != nil {
			recognized++
		}
	}
	for label, count := range labelCounts {
		RecordBlocksDetected(label, count)
	}
	RecordTextRecognition(engine, recognized)
}
