// Package imagehash implements the perceptual fingerprinting used by the
// screenshot sampling pipeline: a difference hash over a fixed grayscale
// grid, Hamming-distance similarity between fingerprints, and a structural
// similarity (SSIM) score for candidate verification.
package imagehash

import (
	"encoding/hex"
	"fmt"
	"image"
	"math/bits"

	"golang.org/x/image/draw"
)

const (
	// Hash grid dimensions. Each row contributes gridWidth-1 comparisons,
	// so the fingerprint carries exactly (gridWidth-1)*gridHeight bits.
	gridWidth  = 17
	gridHeight = 16

	// BitWidth is the fingerprint size in bits.
	BitWidth = (gridWidth - 1) * gridHeight

	// luminanceThreshold is the minimum left-to-right luminance drop that
	// sets a hash bit. Small sensor noise stays below it.
	luminanceThreshold = 5
)

// Fingerprint is a 256-bit difference hash. Two perceptually similar images
// produce fingerprints with a small Hamming distance.
type Fingerprint [BitWidth / 64]uint64

// Compute derives the fingerprint of an image. It is a pure function:
// identical pixel data always yields an identical fingerprint.
func Compute(img image.Image) Fingerprint {
	resized := grayResize(img, gridWidth, gridHeight)

	var fp Fingerprint
	bitIndex := 0
	for y := 0; y < gridHeight; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < gridWidth-1; x++ {
			left := int(row[x])
			right := int(row[x+1])
			if left-right > luminanceThreshold {
				fp[bitIndex/64] |= 1 << (bitIndex % 64)
			}
			bitIndex++
		}
	}
	return fp
}

// HammingDistance returns the number of differing bits between two fingerprints.
func HammingDistance(a, b Fingerprint) int {
	dist := 0
	for i := range a {
		dist += bits.OnesCount64(a[i] ^ b[i])
	}
	return dist
}

// Similarity maps the Hamming distance to [0,1]; 1 means identical.
func Similarity(a, b Fingerprint) float64 {
	return 1 - float64(HammingDistance(a, b))/float64(BitWidth)
}

// IsZero reports whether no bit of the fingerprint is set.
func (f Fingerprint) IsZero() bool {
	for _, w := range f {
		if w != 0 {
			return false
		}
	}
	return true
}

// Hex returns the fingerprint as a fixed-width lowercase hex string, suitable
// for cache keys and database columns.
func (f Fingerprint) Hex() string {
	buf := make([]byte, 0, len(f)*8)
	for _, w := range f {
		buf = append(buf,
			byte(w>>56), byte(w>>48), byte(w>>40), byte(w>>32),
			byte(w>>24), byte(w>>16), byte(w>>8), byte(w))
	}
	return hex.EncodeToString(buf)
}

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return f.Hex()
}

// ParseHex decodes a fingerprint previously encoded with Hex.
func ParseHex(s string) (Fingerprint, error) {
	var fp Fingerprint
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fp, fmt.Errorf("decoding fingerprint: %w", err)
	}
	if len(raw) != len(fp)*8 {
		return fp, fmt.Errorf("fingerprint must be %d bytes, got %d", len(fp)*8, len(raw))
	}
	for i := range fp {
		for j := 0; j < 8; j++ {
			fp[i] = fp[i]<<8 | uint64(raw[i*8+j])
		}
	}
	return fp, nil
}

// grayResize scales an image to w x h and converts it to 8-bit grayscale.
func grayResize(img image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
