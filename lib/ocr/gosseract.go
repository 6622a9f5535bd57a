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

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// GosseractEngine runs Tesseract in-process through gosseract with a
// small client pool. Each Recognize call acquires one pool slot and
// holds a single client for the whole batch; the pool exists so
// concurrent callers (the parse service) do not serialize on one
// Tesseract instance.
type GosseractEngine struct {
	clients  []*pooledClient
	sem      *semaphore.Weighted
	next     atomic.Uint64
	logger   *zap.Logger
	poolSize int
}

// gosseract clients are not safe for concurrent use, so each pool slot
// pairs its client with a mutex.
type pooledClient struct {
	mu     sync.Mutex
	client *gosseract.Client
}

var _ Engine = (*GosseractEngine)(nil)

// GosseractConfig holds configuration for creating a GosseractEngine.
type GosseractConfig struct {
	// PoolSize is the number of concurrent clients (0 = auto-detect
	// from CPU count).
	PoolSize int

	// Logger for logging. If nil, uses a no-op logger.
	Logger *zap.Logger
}

// NewGosseractEngine creates the pool. Clients are configured for full
// automatic page segmentation to match the subprocess engine.
func NewGosseractEngine(cfg *GosseractConfig) (*GosseractEngine, error) {
	if cfg == nil {
		cfg = &GosseractConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = min(runtime.NumCPU(), 4)
	}

	clients := make([]*pooledClient, poolSize)
	for i := 0; i < poolSize; i++ {
		client := gosseract.NewClient()
		if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
			_ = client.Close()
			for j := 0; j < i; j++ {
				_ = clients[j].client.Close()
			}
			return nil, fmt.Errorf("configuring gosseract client %d: %w", i, err)
		}
		clients[i] = &pooledClient{client: client}
	}

	logger.Info("Created gosseract engine pool", zap.Int("pool_size", poolSize))

	return &GosseractEngine{
		clients:  clients,
		sem:      semaphore.NewWeighted(int64(poolSize)),
		logger:   logger,
		poolSize: poolSize,
	}, nil
}

// Recognize implements Engine. Frames are recognized sequentially on
// one checked-out client, preserving input order.
func (e *GosseractEngine) Recognize(ctx context.Context, images []image.Image, lang string) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	if lang == "" {
		lang = DefaultLanguage
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring ocr client slot: %w", err)
	}
	defer e.sem.Release(1)

	idx := e.next.Add(1) - 1
	pc := e.clients[idx%uint64(e.poolSize)]
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if err := pc.client.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("setting ocr language %q: %w", lang, err)
	}

	texts := make([]string, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding frame %d: %w", i, err)
		}
		if err := pc.client.SetImageFromBytes(buf.Bytes()); err != nil {
			return nil, fmt.Errorf("loading frame %d: %w", i, err)
		}
		text, err := pc.client.Text()
		if err != nil {
			return nil, fmt.Errorf("recognizing frame %d: %w", i, err)
		}
		texts[i] = strings.TrimSpace(text)
	}

	e.logger.Debug("Gosseract batch complete",
		zap.Int("frames", len(images)),
		zap.String("lang", lang))

	return texts, nil
}

// Close releases all pooled clients.
func (e *GosseractEngine) Close() error {
	var errs []error
	for i, pc := range e.clients {
		if pc == nil || pc.client == nil {
			continue
		}
		if err := pc.client.Close(); err != nil {
			e.logger.Warn("Error closing gosseract client",
				zap.Int("index", i),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing gosseract clients: %v", errs)
	}
	return nil
}
