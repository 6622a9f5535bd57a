// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/bytedance/sonic/encoder"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/antflydb/silverfish"
	"github.com/antflydb/silverfish/lib/annotate"
	"github.com/antflydb/silverfish/lib/layout"
	"github.com/antflydb/silverfish/lib/ocr"
	"github.com/antflydb/silverfish/lib/ordering"
	"github.com/antflydb/silverfish/lib/pipelines"
	"github.com/antflydb/silverfish/lib/raster"
	"github.com/antflydb/silverfish/lib/store"
)

var (
	parseOutput string
	parseGroup  int
	parseSource string
	parsePages  bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <file|dir> [file|dir...]",
	Short: "Parse documents without the server",
	Long: `Parse one or more documents locally, without going through the HTTP API.

A file argument is parsed as a single document. A directory argument is
walked for PDF files, each parsed as its own document; with --pages a
directory is instead treated as one document's pre-rendered page images.

When --store-path is set, documents whose results are already stored are
skipped and fresh results are persisted. Failures are logged and the
batch continues.

Examples:
  # Parse one document to stdout
  silverfish parse --detector-url http://localhost:4242 --orderer-url http://localhost:4243 report.pdf

  # Parse a directory into a sqlite store, annotating pages
  silverfish parse --store-path reports.db --annotate-dir ./annotated ./reports/

  # Parse pre-rendered page images as one document
  silverfish parse --pages ./report-pages/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	// Parse command flags
	parseCmd.Flags().StringVarP(&parseOutput, "output", "o", "", "write result JSON to this file (single document only)")
	parseCmd.Flags().IntVar(&parseGroup, "group", store.DefaultGroup, "result group for the store")
	parseCmd.Flags().StringVar(&parseSource, "source", "", "source tag stored with results")
	parseCmd.Flags().BoolVar(&parsePages, "pages", false, "treat directory arguments as pre-rendered page images")
}

// parseJob is one document to process: either a file to render or a
// directory of pre-rendered pages.
type parseJob struct {
	name     string
	path     string
	pagesDir bool
}

func runParse(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	detectorURL := viper.GetString("detector_url")
	ordererURL := viper.GetString("orderer_url")
	if detectorURL == "" || ordererURL == "" {
		return fmt.Errorf("both --detector-url and --orderer-url are required")
	}

	jobs, err := collectJobs(args, parsePages)
	if err != nil {
		return err
	}
	if parseOutput != "" && len(jobs) != 1 {
		return fmt.Errorf("--output requires exactly one document, got %d", len(jobs))
	}

	client := &http.Client{Timeout: 540 * time.Second}
	detector := layout.NewHTTPDetector(detectorURL, client, logger.Named("detector"))
	defer func() { _ = detector.Close() }()
	estimator := ordering.NewHTTPEstimator(ordererURL, client, logger.Named("orderer"))
	defer func() { _ = estimator.Close() }()

	engine, err := buildEngine(logger)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	renderer := raster.NewPdftoppmRenderer(viper.GetString("pdftoppm_path"), logger)
	defer func() { _ = renderer.Close() }()

	pipeline := pipelines.New(renderer, detector, estimator, engine, pipelines.Config{
		LayoutPPI:    viper.GetInt("layout_ppi"),
		OCRPPI:       viper.GetInt("ocr_ppi"),
		Language:     viper.GetString("language"),
		Capacity:     viper.GetInt("capacity_ceiling"),
		CropCapacity: viper.GetInt("crop_capacity"),
	}, logger)

	var st *store.Store
	if path := viper.GetString("store_path"); path != "" {
		if st, err = store.Open(path, logger); err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
	}
	annotateDir := viper.GetString("annotate_dir")

	parsed, skipped, failed := 0, 0, 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if st != nil {
			has, err := st.HasResult(ctx, parseGroup, job.name)
			if err != nil {
				return err
			}
			if has {
				logger.Info("Already parsed, skipping", zap.String("report", job.name))
				skipped++
				continue
			}
		}

		logger.Info("Parsing document", zap.String("report", job.name), zap.String("path", job.path))
		result, doc, err := runJob(ctx, pipeline, job)
		if err != nil {
			logger.Error("Parse failed, continuing batch",
				zap.String("report", job.name),
				zap.Error(err))
			failed++
			continue
		}
		parsed++

		if st != nil {
			if doc != nil {
				if _, err := st.SaveReport(ctx, store.Report{Name: job.name, Source: parseSource, Document: doc}); err != nil {
					logger.Warn("Failed to store report document", zap.String("report", job.name), zap.Error(err))
				}
			}
			if _, err := st.SaveResult(ctx, parseGroup, job.name, parseSource, result.Records); err != nil {
				logger.Warn("Failed to store parse result", zap.String("report", job.name), zap.Error(err))
			}
		}

		if annotateDir != "" {
			dir := filepath.Join(annotateDir, job.name)
			if err := annotate.WriteDir(dir, result.LayoutPages, result.Table); err != nil {
				logger.Warn("Failed to write annotations", zap.String("dir", dir), zap.Error(err))
			}
		}

		if st == nil || parseOutput != "" {
			if err := writeResult(job.name, result); err != nil {
				return err
			}
		}
	}

	logger.Info("Batch complete",
		zap.Int("parsed", parsed),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))

	if parsed == 0 && failed > 0 {
		return fmt.Errorf("all %d documents failed", failed)
	}
	return nil
}

// buildEngine constructs the configured OCR engine.
func buildEngine(logger *zap.Logger) (ocr.Engine, error) {
	switch name := viper.GetString("ocr_engine"); name {
	case silverfish.OCREngineGosseract:
		return ocr.NewGosseractEngine(&ocr.GosseractConfig{
			PoolSize: viper.GetInt("ocr_pool_size"),
			Logger:   logger.Named("ocr"),
		})
	case silverfish.OCREngineTesseract, "":
		cli := ocr.NewTesseractCLI(viper.GetString("tesseract_path"), logger.Named("ocr"))
		if err := cli.Available(); err != nil {
			return nil, err
		}
		return cli, nil
	default:
		return nil, fmt.Errorf("unknown ocr_engine %q", name)
	}
}

// collectJobs expands the command arguments into parse jobs.
func collectJobs(args []string, pagesMode bool) ([]parseJob, error) {
	var jobs []parseJob
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			jobs = append(jobs, parseJob{name: reportName(arg), path: arg})
			continue
		}
		if pagesMode {
			jobs = append(jobs, parseJob{name: reportName(arg), path: arg, pagesDir: true})
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
				continue
			}
			found = append(found, filepath.Join(arg, entry.Name()))
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no PDF documents in %s", arg)
		}
		sort.Strings(found)
		for _, path := range found {
			jobs = append(jobs, parseJob{name: reportName(path), path: path})
		}
	}
	return jobs, nil
}

// runJob parses one document, returning the result and, for file jobs,
// the raw document bytes for persistence.
func runJob(ctx context.Context, pipeline *pipelines.Pipeline, job parseJob) (*pipelines.Document, []byte, error) {
	if job.pagesDir {
		pages, err := raster.LoadDir(job.path)
		if err != nil {
			return nil, nil, err
		}
		result, err := pipeline.ParsePages(ctx, pages, pages, "")
		return result, nil, err
	}

	doc, err := os.ReadFile(job.path)
	if err != nil {
		return nil, nil, err
	}
	result, err := pipeline.ParseDocument(ctx, doc, "")
	return result, doc, err
}

// writeResult emits one document's records as JSON to --output or
// stdout.
func writeResult(name string, result *pipelines.Document) error {
	out := os.Stdout
	if parseOutput != "" {
		f, err := os.Create(parseOutput)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	resp := silverfish.ParseResponse{
		Report:        name,
		Pages:         result.Pages,
		LayoutPpi:     result.LayoutPPI,
		OcrPpi:        result.OCRPPI,
		DegradedPages: result.DegradedPages,
		SkippedPages:  result.SkippedPages,
		Records:       result.Records,
	}
	if err := encoder.NewStreamEncoder(out).Encode(resp); err != nil {
		return fmt.Errorf("encoding result for %s: %w", name, err)
	}
	return nil
}

// reportName derives the report name from a path: base name without
// extension.
func reportName(path string) string {
	base := filepath.Base(filepath.Clean(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
