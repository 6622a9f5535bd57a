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

// Package client is a Go client for the silverfish HTTP API, used by
// batch jobs that submit documents for parsing and read back stored
// results.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic/decoder"

	"github.com/antflydb/silverfish"
)

// ErrNotFound is returned when the server has no stored report under
// the requested name.
var ErrNotFound = errors.New("report not found")

// SilverfishClient talks to one silverfish server.
type SilverfishClient struct {
	baseURL string
	client  *http.Client
}

// NewSilverfishClient creates a client for the server at baseURL
// (e.g. "http://localhost:7734"). A nil httpClient falls back to a
// default client; parse calls can run for minutes on large documents,
// so callers wanting timeouts should set them on the context.
func NewSilverfishClient(baseURL string, httpClient *http.Client) *SilverfishClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &SilverfishClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
	}
}

// ParseOptions tune one parse submission. All fields are optional.
type ParseOptions struct {
	// Name is the report name. Naming a parse enables server-side
	// persistence and annotation when the server has them configured.
	Name string

	// Source is a free-form provenance tag stored alongside the report.
	Source string

	// Language overrides the server's recognition language.
	Language string
}

// Parse submits a raw document and returns the parsed layout table.
func (c *SilverfishClient) Parse(ctx context.Context, doc []byte, opts ParseOptions) (*silverfish.ParseResponse, error) {
	q := url.Values{}
	if opts.Name != "" {
		q.Set("name", opts.Name)
	}
	if opts.Source != "" {
		q.Set("source", opts.Source)
	}
	if opts.Language != "" {
		q.Set("lang", opts.Language)
	}

	endpoint := c.baseURL + "/api/parse"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("building parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp silverfish.ParseResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ParseFile submits a local document. An empty opts.Name defaults to
// the file's base name without extension.
func (c *SilverfishClient) ParseFile(ctx context.Context, path string, opts ParseOptions) (*silverfish.ParseResponse, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", path, err)
	}
	if opts.Name == "" {
		base := filepath.Base(path)
		opts.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return c.Parse(ctx, doc, opts)
}

// ListReports returns the report names with stored parse results.
func (c *SilverfishClient) ListReports(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/reports", nil)
	if err != nil {
		return nil, fmt.Errorf("building reports request: %w", err)
	}

	var resp silverfish.ReportsResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

// GetReport fetches one stored report's rows. ErrNotFound when the
// server has no result under that name.
func (c *SilverfishClient) GetReport(ctx context.Context, name string) (*silverfish.ReportResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/reports/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, fmt.Errorf("building report request: %w", err)
	}

	var resp silverfish.ReportResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetVersion reports the server's build information.
func (c *SilverfishClient) GetVersion(ctx context.Context) (*silverfish.VersionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return nil, fmt.Errorf("building version request: %w", err)
	}

	var resp silverfish.VersionResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ready reports whether the server's readiness probe passes.
func (c *SilverfishClient) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return fmt.Errorf("building readiness request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("checking readiness: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server not ready: status %d", resp.StatusCode)
	}
	return nil
}

// do executes a request and decodes the JSON response into out.
func (c *SilverfishClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %w", strings.TrimSpace(string(msg)), ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := decoder.NewStreamDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}
