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
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/healthserver"
	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/antflydb/silverfish"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var healthPort int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the silverfish server",
	Long:  `Start the silverfish server for document parsing (layout detection, reading order, OCR).`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Run command flags
	runCmd.Flags().String("api-url", "http://0.0.0.0:7734", "address the API server listens on")
	mustBindPFlag("api_url", runCmd.Flags().Lookup("api-url"))
	runCmd.Flags().String("cache-ttl", "5m", "detection cache TTL")
	mustBindPFlag("cache_ttl", runCmd.Flags().Lookup("cache-ttl"))
	runCmd.Flags().IntVar(&healthPort, "health-port", 0, "separate health/metrics server port (0 = main listener only)")
	mustBindPFlag("health_port", runCmd.Flags().Lookup("health-port"))
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create logger from config
	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Running as silverfish")

	// Build silverfish config from viper/env
	cfg := silverfish.Config{
		ApiUrl:          viper.GetString("api_url"),
		DetectorUrl:     viper.GetString("detector_url"),
		OrdererUrl:      viper.GetString("orderer_url"),
		LayoutPpi:       viper.GetInt("layout_ppi"),
		OcrPpi:          viper.GetInt("ocr_ppi"),
		Language:        viper.GetString("language"),
		CapacityCeiling: viper.GetInt("capacity_ceiling"),
		CropCapacity:    viper.GetInt("crop_capacity"),
		OcrEngine:       viper.GetString("ocr_engine"),
		OcrPoolSize:     viper.GetInt("ocr_pool_size"),
		TesseractPath:   viper.GetString("tesseract_path"),
		PdftoppmPath:    viper.GetString("pdftoppm_path"),
		StorePath:       viper.GetString("store_path"),
		AnnotateDir:     viper.GetString("annotate_dir"),
		CacheTtl:        viper.GetString("cache_ttl"),
	}

	// Track readiness state
	ready := &atomic.Bool{}
	ready.Store(false)
	readyC := make(chan struct{})

	// Start the separate health server only when a port is configured;
	// the main listener serves /healthz and /readyz regardless
	if port := viper.GetInt("health_port"); port > 0 {
		healthserver.Start(logger, port, ready.Load)
	}

	// Wait for ready signal in background
	go func() {
		<-readyC
		ready.Store(true)
		logger.Info("Silverfish is ready")
	}()

	silverfish.RunAsSilverfish(ctx, logger, cfg, readyC)
	return nil
}
