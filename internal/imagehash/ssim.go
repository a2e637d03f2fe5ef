package imagehash

import "image"

const (
	// Common resolution both images are scaled to before comparison.
	ssimSize = 256

	// Tile grid. Averaging per-tile scores makes the result sensitive to
	// localized changes, such as a partially edited block of text, that a
	// single global score would wash out.
	ssimTiles = 4

	// Stabilization constants for 8-bit dynamic range: (0.01*255)^2 and
	// (0.03*255)^2.
	ssimC1 = 6.5025
	ssimC2 = 58.5225
)

// StructuralSimilarity computes the mean SSIM index over a 4x4 tile grid.
// Both images are resized to a common resolution and converted to grayscale
// first. The result is in roughly [0,1]; 1 means structurally identical.
func StructuralSimilarity(a, b image.Image) float64 {
	grayA := grayResize(a, ssimSize, ssimSize)
	grayB := grayResize(b, ssimSize, ssimSize)

	tile := ssimSize / ssimTiles
	sum := 0.0
	for ty := 0; ty < ssimTiles; ty++ {
		for tx := 0; tx < ssimTiles; tx++ {
			sum += tileSSIM(grayA, grayB, tx*tile, ty*tile, tile)
		}
	}
	return sum / (ssimTiles * ssimTiles)
}

// tileSSIM computes the SSIM index of one size x size tile at (x0, y0).
func tileSSIM(a, b *image.Gray, x0, y0, size int) float64 {
	n := float64(size * size)

	var sumA, sumB float64
	for y := y0; y < y0+size; y++ {
		rowA := a.Pix[y*a.Stride:]
		rowB := b.Pix[y*b.Stride:]
		for x := x0; x < x0+size; x++ {
			sumA += float64(rowA[x])
			sumB += float64(rowB[x])
		}
	}
	muA := sumA / n
	muB := sumB / n

	var varA, varB, cov float64
	for y := y0; y < y0+size; y++ {
		rowA := a.Pix[y*a.Stride:]
		rowB := b.Pix[y*b.Stride:]
		for x := x0; x < x0+size; x++ {
			da := float64(rowA[x]) - muA
			db := float64(rowB[x]) - muB
			varA += da * da
			varB += db * db
			cov += da * db
		}
	}
	varA /= n
	varB /= n
	cov /= n

	numerator := (2*muA*muB + ssimC1) * (2*cov + ssimC2)
	denominator := (muA*muA + muB*muB + ssimC1) * (varA + varB + ssimC2)
	if denominator == 0 {
		// Zero-variance degenerate tile, counts as fully dissimilar rather
		// than producing NaN.
		return 0
	}
	return numerator / denominator
}
