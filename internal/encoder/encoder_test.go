package encoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	return img
}

func TestJPEGEncoder(t *testing.T) {
	data, err := (&JPEGEncoder{}).Encode(context.Background(), testImage(), 0)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 48 {
		t.Errorf("dims = %dx%d", cfg.Width, cfg.Height)
	}
}

func TestPNGEncoder(t *testing.T) {
	data, err := (&PNGEncoder{Level: png.BestSpeed}).Encode(context.Background(), testImage(), 50)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
}

func TestEncoder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&JPEGEncoder{}).Encode(ctx, testImage(), 80); err == nil {
		t.Error("JPEG encode ignored cancelled context")
	}
	if _, err := (&PNGEncoder{}).Encode(ctx, testImage(), 80); err == nil {
		t.Error("PNG encode ignored cancelled context")
	}
}

func TestWebPEncoder_Unavailable(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	e := &WebPEncoder{}
	if e.Available() {
		t.Skip("cwebp unexpectedly found")
	}
	if _, err := e.Encode(context.Background(), testImage(), 80); err == nil {
		t.Error("expected error when cwebp is missing")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistryWith(&JPEGEncoder{}, &PNGEncoder{})
	if r.Get("JPEG") == nil {
		t.Error("lookup should be case-insensitive")
	}
	if r.Get("webp") != nil {
		t.Error("webp was not registered")
	}
	if got := r.Preview("webp"); got == nil || got.Format() != "jpeg" {
		t.Errorf("preview fallback = %v, want jpeg", got)
	}
	if got := r.String(); got != "encoders: jpeg, png" {
		t.Errorf("String() = %q", got)
	}
	if got := NewRegistryWith().String(); got != "no encoders available" {
		t.Errorf("empty String() = %q", got)
	}
}

func TestMIMEType(t *testing.T) {
	tests := map[string]string{
		"webp": "image/webp",
		"jpeg": "image/jpeg",
		"png":  "image/png",
		"avif": "application/octet-stream",
	}
	for in, want := range tests {
		if got := MIMEType(in); got != want {
			t.Errorf("MIMEType(%q) = %q, want %q", in, got, want)
		}
	}
}
