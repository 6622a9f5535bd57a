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

package ordering

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
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

// HTTPEstimator calls a reading-order model served over HTTP.
type HTTPEstimator struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var _ Estimator = (*HTTPEstimator)(nil)

// NewHTTPEstimator creates an estimator adapter for the model server at
// baseURL. A nil httpClient falls back to a default client.
func NewHTTPEstimator(baseURL string, httpClient *http.Client, logger *zap.Logger) *HTTPEstimator {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPEstimator{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
		logger:  logger,
	}
}

type orderRequestPage struct {
	Image  string          `json:"image"`
	BBoxes []geometry.BBox `json:"bboxes"`
}

type orderRequest struct {
	Pages []orderRequestPage `json:"pages"`
}

type orderResponse struct {
	Pages [][]int `json:"pages"`
}

// EstimateOrder implements Estimator. The response must carry one
// position list per input page and one position per input bbox: any
// other shape would silently misattribute reading order, so it is
// rejected here.
func (e *HTTPEstimator) EstimateOrder(ctx context.Context, pages []PageBlocks) ([][]int, error) {
	if len(pages) == 0 {
		return nil, nil
	}

	req := orderRequest{Pages: make([]orderRequestPage, len(pages))}
	for i, page := range pages {
		var buf bytes.Buffer
		if err := png.Encode(&buf, page.Image); err != nil {
			return nil, fmt.Errorf("encoding page %d: %w", i, err)
		}
		req.Pages[i] = orderRequestPage{
			Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
			BBoxes: page.BBoxes,
		}
	}

	var body bytes.Buffer
	if err := encoder.NewStreamEncoder(&body).Encode(req); err != nil {
		return nil, fmt.Errorf("encoding order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/order", &body)
	if err != nil {
		return nil, fmt.Errorf("building order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling order model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("order model returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed orderResponse
	if err := decoder.NewStreamDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding order response: %w", err)
	}
	if len(parsed.Pages) != len(pages) {
		return nil, fmt.Errorf("order model returned %d pages for %d images", len(parsed.Pages), len(pages))
	}
	for i, positions := range parsed.Pages {
		if len(positions) != len(pages[i].BBoxes) {
			return nil, fmt.Errorf("order model returned %d positions for %d blocks on page %d",
				len(positions), len(pages[i].BBoxes), i)
		}
	}

	e.logger.Debug("Order estimation complete",
		zap.Int("pages", len(pages)),
		zap.Duration("duration", time.Since(start)))

	return parsed.Pages, nil
}

// Close releases idle connections held by the underlying client.
func (e *HTTPEstimator) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
