package encoder

import (
	"bytes"
	"context"
	"image"
	"image/png"
)

// PNGEncoder encodes images to PNG using Go's standard library.
// Quality is ignored; Level selects the zlib effort.
type PNGEncoder struct {
	Level png.CompressionLevel
}

func (e *PNGEncoder) Format() string    { return "png" }
func (e *PNGEncoder) Extension() string { return "png" }
func (e *PNGEncoder) Available() bool   { return true }

func (e *PNGEncoder) Encode(ctx context.Context, img image.Image, _ int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: e.Level}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
