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
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSplitFramesExact(t *testing.T) {
	segments := splitFrames("one\ftwo\fthree", 3)
	require.Equal(t, []string{"one", "two", "three"}, segments)
}

func TestSplitFramesDropsTrailingSeparator(t *testing.T) {
	// Some tesseract builds append a form feed after the final frame.
	segments := splitFrames("one\ftwo\f", 2)
	require.Equal(t, []string{"one", "two"}, segments)
}

func TestSplitFramesKeepsEmptyFrames(t *testing.T) {
	// An unrecognized frame is an empty segment, not a dropped one.
	segments := splitFrames("one\f\fthree", 3)
	require.Equal(t, []string{"one", "", "three"}, segments)
}

func TestSplitFramesShortOutputStaysShort(t *testing.T) {
	segments := splitFrames("only", 3)
	require.Len(t, segments, 1)
}

// stubTesseract writes a shell script that emits one form-feed-separated
// segment per manifest line, plus a trailing separator like real
// tesseract builds do.
func stubTesseract(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tesseract script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "tesseract-stub")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const echoFramesScript = `#!/bin/sh
i=0
while read -r line; do
  [ $i -gt 0 ] && printf '\f'
  printf 'frame %d' $i
  i=$((i+1))
done < "$1"
printf '\f'
`

const oneSegmentScript = `#!/bin/sh
printf 'lonely segment'
`

func grayFrames(n int) []image.Image {
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = image.NewGray(image.Rect(0, 0, 8, 8))
	}
	return frames
}

func TestTesseractCLIAlignment(t *testing.T) {
	cli := NewTesseractCLI(stubTesseract(t, echoFramesScript), zap.NewExample())

	// Point the scratch space at a test dir so cleanup is observable.
	scratch := t.TempDir()
	t.Setenv("TMPDIR", scratch)

	texts, err := cli.Recognize(context.Background(), grayFrames(3), "eng")
	require.NoError(t, err)
	require.Equal(t, []string{"frame 0", "frame 1", "frame 2"}, texts)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	require.Empty(t, entries, "scratch dir must be removed after a successful batch")
}

func TestTesseractCLIMisalignmentFails(t *testing.T) {
	cli := NewTesseractCLI(stubTesseract(t, oneSegmentScript), zap.NewExample())

	scratch := t.TempDir()
	t.Setenv("TMPDIR", scratch)

	_, err := cli.Recognize(context.Background(), grayFrames(3), "eng")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMisaligned))

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	require.Empty(t, entries, "scratch dir must be removed on failure too")
}

func TestTesseractCLIEmptyBatch(t *testing.T) {
	cli := NewTesseractCLI("", zap.NewExample())
	texts, err := cli.Recognize(context.Background(), nil, "eng")
	require.NoError(t, err)
	require.Nil(t, texts)
}

func TestTesseractCLIAvailable(t *testing.T) {
	missing := NewTesseractCLI("/nonexistent/tesseract-binary", zap.NewExample())
	require.Error(t, missing.Available())

	stub := NewTesseractCLI(stubTesseract(t, echoFramesScript), zap.NewExample())
	require.NoError(t, stub.Available())
}
