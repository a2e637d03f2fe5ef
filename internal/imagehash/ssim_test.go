package imagehash

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkerImage returns a textured image so variance-based terms are exercised.
func checkerImage(size, cell int, a, b uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: a})
			} else {
				img.SetGray(x, y, color.Gray{Y: b})
			}
		}
	}
	return img
}

func TestStructuralSimilarityIdenticalImages(t *testing.T) {
	t.Parallel()

	img := checkerImage(256, 16, 30, 220)
	assert.InDelta(t, 1.0, StructuralSimilarity(img, img), 1e-9)
}

func TestStructuralSimilarityOppositeImages(t *testing.T) {
	t.Parallel()

	white := uniformImage(256, 256, 255)
	black := uniformImage(256, 256, 0)

	sim := StructuralSimilarity(white, black)
	assert.Less(t, sim, 0.01, "white vs black should score near zero")
}

func TestStructuralSimilarityFlatImagesNoNaN(t *testing.T) {
	t.Parallel()

	a := uniformImage(256, 256, 128)
	b := uniformImage(256, 256, 128)

	sim := StructuralSimilarity(a, b)
	require.False(t, sim != sim, "flat images must not produce NaN")
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestStructuralSimilarityLocalizedChange(t *testing.T) {
	t.Parallel()

	base := checkerImage(256, 16, 40, 200)
	edited := checkerImage(256, 16, 40, 200)
	// Invert one 64x64 tile, leaving the rest untouched.
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			edited.SetGray(x, y, color.Gray{Y: 255 - edited.GrayAt(x, y).Y})
		}
	}

	sim := StructuralSimilarity(base, edited)
	assert.Less(t, sim, 0.99, "an edited tile must lower the tiled score")
	assert.Greater(t, sim, 0.5, "fifteen of sixteen tiles are still identical")
}

func TestStructuralSimilarityResizesMismatchedInputs(t *testing.T) {
	t.Parallel()

	big := checkerImage(512, 32, 30, 220)
	small := checkerImage(128, 8, 30, 220)

	// Same pattern at different resolutions still scores high.
	assert.Greater(t, StructuralSimilarity(big, small), 0.8)
}
