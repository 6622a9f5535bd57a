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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPEstimatorRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/order", r.URL.Path)

		var req orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Pages, 2)
		require.NotEmpty(t, req.Pages[0].Image)
		require.Len(t, req.Pages[0].BBoxes, 2)
		require.Len(t, req.Pages[1].BBoxes, 3)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(orderResponse{Pages: [][]int{{1, 0}, {2, 0, 1}}})
	}))
	defer srv.Close()

	est := NewHTTPEstimator(srv.URL, nil, zap.NewExample())
	defer est.Close()

	pages := pagesWithCounts(2, 3)
	got, err := est.EstimateOrder(context.Background(), pages)
	require.NoError(t, err)
	require.Equal(t, [][]int{{1, 0}, {2, 0, 1}}, got)
}

func TestHTTPEstimatorRejectsMisalignedPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Two positions for a three-block page.
		_ = json.NewEncoder(w).Encode(orderResponse{Pages: [][]int{{0, 1}}})
	}))
	defer srv.Close()

	est := NewHTTPEstimator(srv.URL, nil, zap.NewExample())
	defer est.Close()

	_, err := est.EstimateOrder(context.Background(), pagesWithCounts(3))
	require.Error(t, err)
	require.Contains(t, err.Error(), "2 positions for 3 blocks on page 0")
}

func TestHTTPEstimatorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many boxes", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	est := NewHTTPEstimator(srv.URL, nil, zap.NewExample())
	defer est.Close()

	_, err := est.EstimateOrder(context.Background(), pagesWithCounts(1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 422")
}
