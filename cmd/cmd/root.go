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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/antflydb/silverfish"
	"github.com/antflydb/silverfish/lib/ocr"
	"github.com/antflydb/silverfish/lib/ordering"
	"github.com/antflydb/silverfish/lib/pipelines"
	"github.com/antflydb/silverfish/lib/raster"
)

// Version is set by main from build metadata.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "silverfish",
	Short: "Document layout parsing service",
	Long: `Silverfish turns scanned documents into ordered layout tables.

It renders pages, detects layout blocks and reading order through model
sidecars, recognizes block text with tesseract, and merges everything
into one table per document.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()

	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	mustBindPFlag("log.level", pf.Lookup("log-level"))
	pf.String("log-style", "json", "log style (json, console)")
	mustBindPFlag("log.style", pf.Lookup("log-style"))

	// Model sidecars
	pf.String("detector-url", "", "layout detection sidecar base URL")
	mustBindPFlag("detector_url", pf.Lookup("detector-url"))
	pf.String("orderer-url", "", "reading order sidecar base URL")
	mustBindPFlag("orderer_url", pf.Lookup("orderer-url"))

	// Parse parameters
	pf.Int("layout-ppi", pipelines.DefaultLayoutPPI, "render resolution for detection and ordering")
	mustBindPFlag("layout_ppi", pf.Lookup("layout-ppi"))
	pf.Int("ocr-ppi", pipelines.DefaultOCRPPI, "render resolution for recognition")
	mustBindPFlag("ocr_ppi", pf.Lookup("ocr-ppi"))
	pf.String("language", ocr.DefaultLanguage, "recognition language code")
	mustBindPFlag("language", pf.Lookup("language"))
	pf.Int("capacity-ceiling", ordering.DefaultCapacity, "ordering model per-page block ceiling")
	mustBindPFlag("capacity_ceiling", pf.Lookup("capacity-ceiling"))
	pf.Int("crop-capacity", 0, "per-page block count at which recognition is skipped (0 = follow capacity-ceiling)")
	mustBindPFlag("crop_capacity", pf.Lookup("crop-capacity"))

	// OCR engine
	pf.String("ocr-engine", silverfish.OCREngineTesseract, "OCR engine (tesseract, gosseract)")
	mustBindPFlag("ocr_engine", pf.Lookup("ocr-engine"))
	pf.Int("ocr-pool-size", 2, "concurrent OCR clients (gosseract engine)")
	mustBindPFlag("ocr_pool_size", pf.Lookup("ocr-pool-size"))
	pf.String("tesseract-path", ocr.DefaultTesseractPath, "tesseract binary path")
	mustBindPFlag("tesseract_path", pf.Lookup("tesseract-path"))

	// Rendering
	pf.String("pdftoppm-path", raster.DefaultPdftoppmPath, "pdftoppm binary path")
	mustBindPFlag("pdftoppm_path", pf.Lookup("pdftoppm-path"))

	// Persistence and debug output
	pf.String("store-path", "", "sqlite database path (empty disables persistence)")
	mustBindPFlag("store_path", pf.Lookup("store-path"))
	pf.String("annotate-dir", "", "write annotated page PNGs under this directory")
	mustBindPFlag("annotate_dir", pf.Lookup("annotate-dir"))
}

// initConfig wires environment variables so SILVERFISH_DETECTOR_URL
// overrides detector_url and so on.
func initConfig() {
	viper.SetEnvPrefix("SILVERFISH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// mustBindPFlag panics when a flag cannot be bound to its config key; a
// failed binding is a programming error, not a runtime condition.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %q: %v", key, err))
	}
}
