// Package encoder turns decoded image regions into display-ready bytes.
// Tiles are always WebP; previews may use any available format.
package encoder

import (
	"context"
	"image"
)

// Encoder encodes an image to a specific format.
type Encoder interface {
	// Format returns the output format name (e.g. "jpeg", "webp", "png").
	Format() string

	// Encode converts the image to bytes at the given quality (1-100).
	Encode(ctx context.Context, img image.Image, quality int) ([]byte, error)

	// Available returns true if the encoder is ready to use.
	// cwebp may not be installed.
	Available() bool

	// Extension returns the file extension without dot.
	Extension() string
}

// MIMEType maps a format name to its media type.
func MIMEType(format string) string {
	switch format {
	case "webp":
		return "image/webp"
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

func clampQuality(q int) int {
	if q <= 0 || q > 100 {
		return 85
	}
	return q
}
