package encoder

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
)

// JPEGEncoder encodes images to JPEG using Go's standard library.
// Used for thumbnails and medium previews.
type JPEGEncoder struct{}

func (e *JPEGEncoder) Format() string    { return "jpeg" }
func (e *JPEGEncoder) Extension() string { return "jpeg" }
func (e *JPEGEncoder) Available() bool   { return true }

func (e *JPEGEncoder) Encode(ctx context.Context, img image.Image, quality int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(128 * 1024)

	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
