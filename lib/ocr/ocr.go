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

// Package ocr wraps external text-recognition engines over batches of
// block sub-images. Engines guarantee a strict 1:1, order-preserving
// correspondence between inputs and recognized strings; a batch that
// cannot keep that guarantee fails instead of misaligning text.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/antflydb/silverfish/lib/geometry"
)

// ErrMisaligned reports that an engine produced a different number of
// text segments than input images. Silent misalignment would attach
// text to the wrong blocks, so callers must treat this as fatal for the
// batch.
var ErrMisaligned = errors.New("ocr output misaligned with input images")

// DefaultLanguage is the recognition language used when none is
// configured.
const DefaultLanguage = "eng"

// Engine recognizes text in a batch of images.
type Engine interface {
	// Recognize returns exactly one string per input image, in input
	// order. An empty string is a valid recognition result.
	Recognize(ctx context.Context, images []image.Image, lang string) ([]string, error)

	// Close releases engine resources.
	Close() error
}

// Crop is one block sub-image awaiting recognition, keyed by the
// block's pipeline-wide identity.
type Crop struct {
	ID    geometry.BlockID
	Image image.Image
}

// RecognizeCrops runs the engine over the crops and returns recognized
// text keyed by block identity. The engine must return exactly one
// string per crop; any other shape aborts the batch.
func RecognizeCrops(ctx context.Context, engine Engine, crops []Crop, lang string) (map[geometry.BlockID]string, error) {
	if len(crops) == 0 {
		return map[geometry.BlockID]string{}, nil
	}

	images := make([]image.Image, len(crops))
	for i, crop := range crops {
		images[i] = crop.Image
	}

	texts, err := engine.Recognize(ctx, images, lang)
	if err != nil {
		return nil, fmt.Errorf("recognizing %d blocks: %w", len(crops), err)
	}
	if len(texts) != len(crops) {
		return nil, fmt.Errorf("%w: engine returned %d texts for %d crops", ErrMisaligned, len(texts), len(crops))
	}

	out := make(map[geometry.BlockID]string, len(crops))
	for i, crop := range crops {
		out[crop.ID] = texts[i]
	}
	return out, nil
}
