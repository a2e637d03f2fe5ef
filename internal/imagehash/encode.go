package imagehash

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// Decode parses PNG or JPEG screenshot bytes.
func Decode(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	switch format {
	case "png", "jpeg":
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
}

// Thumbnail scales an image down to targetWidth, preserving aspect ratio,
// and encodes it as JPEG. Thumbnails are what the cache keeps per recency
// entry, so they trade fidelity for memory.
func Thumbnail(img image.Image, targetWidth int) ([]byte, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if targetWidth < 1 {
		targetWidth = 1
	}
	newW := targetWidth
	newH := h * newW / max(w, 1)
	if newH < 1 {
		newH = 1
	}

	scaled := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, nil); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG serializes an image losslessly. The analysis worker reads these
// bytes back from the cache, so the original must round-trip exactly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding original: %w", err)
	}
	return buf.Bytes(), nil
}
