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
	"os"
	"os/signal"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/bytedance/sonic/encoder"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/antflydb/silverfish"
	"github.com/antflydb/silverfish/lib/store"
)

var (
	reportsName  string
	reportsGroup int
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List stored reports or export one report's rows",
	Long: `Inspect a silverfish sqlite store.

Without flags, lists the report names with stored parse results. With
--name, exports that report's rows as JSON.

Examples:
  # List parsed reports
  silverfish reports --store-path reports.db

  # Export one report's rows
  silverfish reports --store-path reports.db --name quarterly-filing`,
	RunE: runReports,
}

func init() {
	rootCmd.AddCommand(reportsCmd)

	// Reports command flags
	reportsCmd.Flags().StringVar(&reportsName, "name", "", "export rows for this report")
	reportsCmd.Flags().IntVar(&reportsGroup, "group", store.DefaultGroup, "result group to read")
}

func runReports(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	path := viper.GetString("store_path")
	if path == "" {
		return fmt.Errorf("--store-path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}

	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	st, err := store.Open(path, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if reportsName != "" {
		result, err := st.Result(ctx, reportsGroup, reportsName)
		if err != nil {
			return err
		}
		resp := silverfish.ReportResponse{
			Report:  result.Name,
			Source:  result.Source,
			Records: result.Records,
		}
		return encoder.NewStreamEncoder(os.Stdout).Encode(resp)
	}

	names, err := st.ListResults(ctx, reportsGroup)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Printf("no parsed reports in group %d\n", reportsGroup)
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
