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
	"context"
	"encoding/binary"
	"image"
	"image/jpeg"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/antflydb/silverfish/lib/layout"
)

// DetectionCacheTTL is the default TTL for cached detection results
const DetectionCacheTTL = 5 * time.Minute

// CachedDetector wraps a detector with caching support. Detection is
// the most expensive model call in the pipeline and its input is pure
// pixel data, so identical page batches at the same resolution can
// reuse a previous result.
type CachedDetector struct {
	detector layout.Detector
	cache    *ttlcache.Cache[string, []layout.PageDetection]
	sfGroup  *singleflight.Group
	logger   *zap.Logger

	// Metrics
	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

var _ layout.Detector = (*CachedDetector)(nil)

// NewCachedDetector wraps a detector with caching
func NewCachedDetector(
	detector layout.Detector,
	cache *ttlcache.Cache[string, []layout.PageDetection],
	logger *zap.Logger,
) *CachedDetector {
	return &CachedDetector{
		detector: detector,
		cache:    cache,
		sfGroup:  &singleflight.Group{},
		logger:   logger,
	}
}

// Detect finds layout blocks with caching support
func (c *CachedDetector) Detect(ctx context.Context, images []image.Image, ppi int) ([]layout.PageDetection, error) {
	// Generate cache key from images + ppi
	key := c.cacheKey(images, ppi)

	// Check cache first
	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("detection")
		c.logger.Debug("Detection cache hit",
			zap.Int("num_pages", len(images)),
			zap.Int("ppi", ppi))
		return item.Value(), nil
	}

	// Use singleflight to deduplicate concurrent identical requests
	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("detection")

		start := time.Now()
		detections, err := c.detector.Detect(ctx, images, ppi)
		if err != nil {
			return nil, err
		}

		RecordStageDuration("detect", time.Since(start).Seconds())

		// Store in cache
		c.cache.Set(key, detections, ttlcache.DefaultTTL)

		c.logger.Debug("Detection completed and cached",
			zap.Int("num_pages", len(images)),
			zap.Int("ppi", ppi),
			zap.Duration("duration", time.Since(start)))

		return detections, nil
	})

	if err != nil {
		return nil, err
	}

	if shared {
		c.sfHits.Add(1)
		c.logger.Debug("Singleflight hit for detection request")
	}

	return result.([]layout.PageDetection), nil
}

// cacheKey generates a unique cache key from images + ppi
func (c *CachedDetector) cacheKey(images []image.Image, ppi int) string {
	h := xxhash.New()

	// Include resolution; the same pages at a different ppi yield
	// different geometry
	_, _ = h.WriteString("r:")
	var ppiBuf [4]byte
	binary.BigEndian.PutUint32(ppiBuf[:], uint32(ppi))
	_, _ = h.Write(ppiBuf[:])
	_, _ = h.WriteString("|")

	// Hash each image
	for i, img := range images {
		_, _ = h.WriteString("i")
		// Use index to ensure order matters
		_, _ = h.Write([]byte{byte(i >> 8), byte(i)})
		_, _ = h.WriteString(":")

		// Hash image dimensions and pixel data hash
		bounds := img.Bounds()
		var dimBuf [16]byte
		binary.BigEndian.PutUint32(dimBuf[0:4], uint32(bounds.Min.X))
		binary.BigEndian.PutUint32(dimBuf[4:8], uint32(bounds.Min.Y))
		binary.BigEndian.PutUint32(dimBuf[8:12], uint32(bounds.Max.X))
		binary.BigEndian.PutUint32(dimBuf[12:16], uint32(bounds.Max.Y))
		_, _ = h.Write(dimBuf[:])

		// Hash image pixels by encoding to JPEG and hashing
		// This is more efficient than iterating all pixels
		imgHash := hashImage(img)
		var imgHashBuf [8]byte
		binary.BigEndian.PutUint64(imgHashBuf[:], imgHash)
		_, _ = h.Write(imgHashBuf[:])

		_, _ = h.WriteString("|")
	}

	// Convert uint64 hash to string key
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// hashImage generates a hash for an image
func hashImage(img image.Image) uint64 {
	h := xxhash.New()

	// For efficiency, encode to JPEG and hash the bytes
	// This captures the visual content without iterating every pixel
	encoder := jpeg.Options{Quality: 50} // Lower quality is fine for hashing
	if err := jpeg.Encode(h, img, &encoder); err != nil {
		// Fallback: hash dimensions only
		bounds := img.Bounds()
		var buf [16]byte
		binary.BigEndian.PutUint32(buf[0:4], uint32(bounds.Dx()))
		binary.BigEndian.PutUint32(buf[4:8], uint32(bounds.Dy()))
		_, _ = h.Write(buf[:])
	}

	return h.Sum64()
}

// Close closes the underlying detector
func (c *CachedDetector) Close() error {
	return c.detector.Close()
}

// Stats returns cache statistics for this detector
func (c *CachedDetector) Stats() DetectorCacheStats {
	return DetectorCacheStats{
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
	}
}

// DetectorCacheStats holds cache statistics for a detector
type DetectorCacheStats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
}

// DetectionCache manages the shared cache behind wrapped detectors
type DetectionCache struct {
	cache  *ttlcache.Cache[string, []layout.PageDetection]
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewDetectionCache creates a new detection cache. A non-positive ttl
// uses DetectionCacheTTL.
func NewDetectionCache(ttl time.Duration, logger *zap.Logger) *DetectionCache {
	if ttl <= 0 {
		ttl = DetectionCacheTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []layout.PageDetection](ttl),
	)
	go cache.Start()

	ctx, cancel := context.WithCancel(context.Background())
	dc := &DetectionCache{
		cache:  cache,
		logger: logger,
		cancel: cancel,
	}

	// Log cache stats periodically
	go dc.logStats(ctx)

	return dc
}

// WrapDetector wraps a detector with caching
func (dc *DetectionCache) WrapDetector(detector layout.Detector) *CachedDetector {
	return NewCachedDetector(detector, dc.cache, dc.logger.Named("detection_cache"))
}

// Close stops the cache
func (dc *DetectionCache) Close() {
	dc.cancel()
	dc.cache.Stop()
}

// logStats logs cache statistics periodically
func (dc *DetectionCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics := dc.cache.Metrics()
			if metrics.Hits > 0 || metrics.Misses > 0 {
				hitRate := float64(0)
				total := metrics.Hits + metrics.Misses
				if total > 0 {
					hitRate = float64(metrics.Hits) / float64(total) * 100
				}
				dc.logger.Info("Detection cache stats",
					zap.Uint64("hits", metrics.Hits),
					zap.Uint64("misses", metrics.Misses),
					zap.Float64("hit_rate_pct", hitRate),
					zap.Int("items", dc.cache.Len()))
			}
		}
	}
}

// Stats returns global cache statistics
func (dc *DetectionCache) Stats() map[string]any {
	metrics := dc.cache.Metrics()
	return map[string]any{
		"hits":   metrics.Hits,
		"misses": metrics.Misses,
		"items":  dc.cache.Len(),
	}
}
