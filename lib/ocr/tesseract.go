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
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTesseractPath is the binary probed when no explicit path is
// configured.
const DefaultTesseractPath = "tesseract"

// TesseractCLI shells out to the tesseract binary. The whole batch is
// serialized into one multi-frame invocation: crops are written to a
// scratch directory, listed in a manifest file, and recognized in a
// single process run whose stdout carries one form-feed-separated
// segment per input frame. The scratch directory is removed on every
// exit path.
type TesseractCLI struct {
	path   string
	logger *zap.Logger
}

var _ Engine = (*TesseractCLI)(nil)

// NewTesseractCLI creates a subprocess engine using the binary at path,
// or DefaultTesseractPath when path is empty.
func NewTesseractCLI(path string, logger *zap.Logger) *TesseractCLI {
	if path == "" {
		path = DefaultTesseractPath
	}
	return &TesseractCLI{path: path, logger: logger}
}

// Available reports whether the configured binary can be found.
func (t *TesseractCLI) Available() error {
	if _, err := exec.LookPath(t.path); err != nil {
		return fmt.Errorf("locating tesseract binary: %w", err)
	}
	return nil
}

// Recognize implements Engine.
func (t *TesseractCLI) Recognize(ctx context.Context, images []image.Image, lang string) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	if lang == "" {
		lang = DefaultLanguage
	}

	dir, err := os.MkdirTemp("", "silverfish-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("creating ocr scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	paths := make([]string, len(images))
	for i, img := range images {
		p := filepath.Join(dir, fmt.Sprintf("block_%05d.png", i))
		if err := writePNG(p, img); err != nil {
			return nil, err
		}
		paths[i] = p
	}

	manifest := filepath.Join(dir, "frames.txt")
	if err := os.WriteFile(manifest, []byte(strings.Join(paths, "\n")+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("writing ocr manifest: %w", err)
	}

	// --oem 1 selects the LSTM engine, --psm 3 full automatic page
	// segmentation; stdout keeps the invocation filesystem-free on the
	// output side.
	cmd := exec.CommandContext(ctx, t.path, manifest, "stdout", "-l", lang, "--oem", "1", "--psm", "3")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running tesseract on %d frames: %w (stderr: %s)",
			len(images), err, tailOf(stderr.String(), 512))
	}

	segments := splitFrames(stdout.String(), len(images))
	if len(segments) != len(images) {
		return nil, fmt.Errorf("%w: tesseract produced %d segments for %d frames (stderr: %s)",
			ErrMisaligned, len(segments), len(images), tailOf(stderr.String(), 512))
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = strings.TrimSpace(seg)
	}

	t.logger.Debug("Tesseract batch complete",
		zap.Int("frames", len(images)),
		zap.String("lang", lang),
		zap.Duration("duration", time.Since(start)))

	return texts, nil
}

// Close implements Engine. The subprocess engine holds no resources
// between invocations.
func (t *TesseractCLI) Close() error { return nil }

// splitFrames splits the form-feed-separated stdout into per-frame
// segments. Some tesseract builds emit a separator after the final
// frame as well; a single trailing empty segment is an encoding
// artifact, not a misalignment, and is dropped.
func splitFrames(output string, frames int) []string {
	segments := strings.Split(output, "\f")
	if len(segments) == frames+1 && strings.TrimSpace(segments[frames]) == "" {
		segments = segments[:frames]
	}
	return segments
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating frame file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding frame %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing frame file: %w", err)
	}
	return nil
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
