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

package pipelines

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGrayscaleNormalizesOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 15, 25))
	src.Set(5, 5, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	gray := Grayscale(src)
	require.Equal(t, image.Rect(0, 0, 10, 20), gray.Bounds())
	require.Equal(t, uint8(255), gray.GrayAt(0, 0).Y)
	require.Equal(t, uint8(0), gray.GrayAt(5, 5).Y)
}

func TestCropRectClipsToBounds(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 50, 50))

	cropped := CropRect(src, image.Rect(40, 40, 70, 70))
	require.NotNil(t, cropped)
	require.Equal(t, 10, cropped.Bounds().Dx())
	require.Equal(t, 10, cropped.Bounds().Dy())

	require.Nil(t, CropRect(src, image.Rect(60, 60, 70, 70)), "fully outside crop yields nil")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 6))
	src.Set(3, 2, color.RGBA{R: 200, G: 10, B: 10, A: 255})

	data, err := EncodePNG(src)
	require.NoError(t, err)

	decoded, err := DecodeImageBytes(data)
	require.NoError(t, err)
	require.Equal(t, src.Bounds(), decoded.Bounds())

	r, g, b, _ := decoded.At(3, 2).RGBA()
	require.Equal(t, uint32(200<<8|200), r)
	require.Equal(t, uint32(10<<8|10), g)
	require.Equal(t, uint32(10<<8|10), b)
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	_, err := DecodeImageBytes([]byte("not an image"))
	require.Error(t, err)
}
