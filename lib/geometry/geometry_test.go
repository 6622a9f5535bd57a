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

package geometry

import (
	"encoding/json"
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRescaleIdentityAtEqualPPI(t *testing.T) {
	// Same ppi on both sides means scale 1 and no buffer, so the box
	// must come back exactly as it went in.
	b := NewBBox(12, 34, 456, 789)
	scale := ScaleBetween(150, 150)
	buffer := BufferBetween(150, 150)
	require.Equal(t, 1.0, scale)
	require.Equal(t, 0.0, buffer)
	require.Equal(t, b, b.Rescale(scale, buffer))
}

func TestRescaleNeverShrinks(t *testing.T) {
	b := NewBBox(10, 20, 110, 220)

	cases := []struct {
		name   string
		srcPPI int
		dstPPI int
	}{
		{"upscale", 150, 300},
		{"downscale", 300, 150},
		{"odd ratio", 150, 96},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scale := ScaleBetween(tc.srcPPI, tc.dstPPI)
			buffer := BufferBetween(tc.srcPPI, tc.dstPPI)
			got := b.Rescale(scale, buffer)

			// The naive transform scales the corners without buffer
			// or rounding; the rescaled box must contain it.
			require.LessOrEqual(t, got.MinX, b.MinX*scale)
			require.LessOrEqual(t, got.MinY, b.MinY*scale)
			require.GreaterOrEqual(t, got.MaxX, b.MaxX*scale)
			require.GreaterOrEqual(t, got.MaxY, b.MaxY*scale)
			require.False(t, got.Empty())
		})
	}
}

func TestRescaleRoundsOutward(t *testing.T) {
	// scale 1.5, buffer 2: min corners floor, max corners ceil.
	b := NewBBox(10, 21, 100, 201)
	got := b.Rescale(1.5, 2)
	require.Equal(t, NewBBox(12, 28, 153, 305), got)

	// A box at the origin may go negative once buffered; callers clamp
	// via Rect().Intersect with the page bounds.
	edge := NewBBox(0, 0, 50, 50).Rescale(1.5, 2)
	require.Equal(t, -3.0, edge.MinX)
	require.Equal(t, -3.0, edge.MinY)
	require.Equal(t, 78.0, edge.MaxX)

	clipped := edge.Rect().Intersect(image.Rect(0, 0, 75, 75))
	require.Equal(t, image.Rect(0, 0, 75, 75), clipped)
}

func TestBufferBetween(t *testing.T) {
	require.Equal(t, 0.0, BufferBetween(150, 150))
	require.Equal(t, DefaultBuffer, BufferBetween(150, 300))
	require.Equal(t, DefaultBuffer, BufferBetween(300, 150))
}

func TestBBoxJSONQuad(t *testing.T) {
	b := NewBBox(1.5, 2, 300, 400.25)
	data, err := json.Marshal(b)
	require.NoError(t, err)
	require.JSONEq(t, `[1.5, 2, 300, 400.25]`, string(data))

	var back BBox
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, b, back)

	var p Point
	require.NoError(t, json.Unmarshal([]byte(`[7, 8.5]`), &p))
	require.Equal(t, Point{X: 7, Y: 8.5}, p)
}

func TestBlockIDString(t *testing.T) {
	id := BlockID{Page: 3, Block: 17}
	require.Equal(t, "3_17", id.String())
}
