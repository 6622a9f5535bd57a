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

package layout

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antflydb/silverfish/lib/geometry"
	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"
)

// HTTPDetector calls a layout model served over HTTP. The sidecar
// accepts a batch of base64-encoded page rasters and returns one block
// list per page.
type HTTPDetector struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var _ Detector = (*HTTPDetector)(nil)

// NewHTTPDetector creates a detector adapter for the model server at
// baseURL. A nil httpClient falls back to a default client; timeouts
// are expected to arrive via the request context.
func NewHTTPDetector(baseURL string, httpClient *http.Client, logger *zap.Logger) *HTTPDetector {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPDetector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
		logger:  logger,
	}
}

type layoutRequest struct {
	PPI   int      `json:"ppi"`
	Pages []string `json:"pages"`
}

type layoutResponseBlock struct {
	BBox       geometry.BBox    `json:"bbox"`
	Polygon    geometry.Polygon `json:"polygon"`
	Label      string           `json:"label"`
	Confidence float64          `json:"confidence"`
}

type layoutResponsePage struct {
	ImageBBox geometry.BBox         `json:"image_bbox"`
	Blocks    []layoutResponseBlock `json:"blocks"`
}

type layoutResponse struct {
	Pages []layoutResponsePage `json:"pages"`
}

// Detect implements Detector by posting the page batch to the model
// server. The response must carry exactly one entry per input page.
func (d *HTTPDetector) Detect(ctx context.Context, pages []image.Image, ppi int) ([]PageDetection, error) {
	if len(pages) == 0 {
		return nil, nil
	}

	encoded, err := encodePages(pages)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := encoder.NewStreamEncoder(&body).Encode(layoutRequest{PPI: ppi, Pages: encoded}); err != nil {
		return nil, fmt.Errorf("encoding layout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/layout", &body)
	if err != nil {
		return nil, fmt.Errorf("building layout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling layout model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("layout model returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed layoutResponse
	if err := decoder.NewStreamDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding layout response: %w", err)
	}
	if len(parsed.Pages) != len(pages) {
		return nil, fmt.Errorf("layout model returned %d pages for %d images", len(parsed.Pages), len(pages))
	}

	detections := make([]PageDetection, len(parsed.Pages))
	totalBlocks := 0
	for i, page := range parsed.Pages {
		det := PageDetection{
			PageIndex: i,
			ImageBBox: page.ImageBBox,
			Blocks:    make([]Block, len(page.Blocks)),
		}
		for j, blk := range page.Blocks {
			det.Blocks[j] = Block{
				ID:         geometry.BlockID{Page: i, Block: j},
				BBox:       blk.BBox,
				Polygon:    blk.Polygon,
				Label:      blk.Label,
				Confidence: blk.Confidence,
			}
		}
		totalBlocks += len(det.Blocks)
		detections[i] = det
	}

	d.logger.Debug("Layout detection complete",
		zap.Int("pages", len(pages)),
		zap.Int("blocks", totalBlocks),
		zap.Duration("duration", time.Since(start)))

	return detections, nil
}

// Close releases idle connections held by the underlying client.
func (d *HTTPDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// encodePages serializes page rasters as base64 PNG payloads.
func encodePages(pages []image.Image) ([]string, error) {
	encoded := make([]string, len(pages))
	for i, page := range pages {
		var buf bytes.Buffer
		if err := png.Encode(&buf, page); err != nil {
			return nil, fmt.Errorf("encoding page %d: %w", i, err)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return encoded, nil
}
