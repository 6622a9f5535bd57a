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

package silverfish

import (
	"net/http"

	"github.com/bytedance/sonic/encoder"
)

// Version information - set at build time via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthResponse is the response for /healthz endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for /readyz endpoint
type ReadyResponse struct {
	Status     string          `json:"status"`
	Components ReadyComponents `json:"components"`
	Detailed   map[string]any  `json:"detailed,omitempty"`
}

// ReadyComponents shows which pipeline stages are wired
type ReadyComponents struct {
	Detector bool `json:"detector"`
	Orderer  bool `json:"orderer"`
	Ocr      bool `json:"ocr"`
	Renderer bool `json:"renderer"`
	Store    bool `json:"store"`
}

// handleHealthz returns 200 if the service is running (liveness check)
func (ln *SilverfishNode) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// handleReadyz returns 200 if the service is ready to accept requests (readiness check)
func (ln *SilverfishNode) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Status: "ready",
		Components: ReadyComponents{
			Detector: ln.detector != nil,
			Orderer:  ln.pipeline != nil,
			Ocr:      ln.engine != nil,
			Renderer: ln.renderer != nil,
			Store:    ln.store != nil,
		},
	}

	if ln.detector != nil {
		resp.Detailed = map[string]any{
			"detection_cache": ln.detector.Stats(),
		}
	}

	// The store is optional; everything else must be wired before the
	// service can parse.
	if ln.pipeline == nil || ln.detector == nil || ln.engine == nil || ln.renderer == nil {
		resp.Status = "not_ready"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = encoder.NewStreamEncoder(w).Encode(resp)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = encoder.NewStreamEncoder(w).Encode(resp)
}
