package encoder

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
)

// WebPEncoder encodes images to WebP by shelling out to cwebp.
// This approach avoids CGO while still producing optimized WebP.
// Install: brew install webp / apt install webp
type WebPEncoder struct {
	// Method is the cwebp compression method (0=fast, 6=best).
	// Tiles are encoded by the thousand, so the default favours speed.
	Method int

	once      sync.Once
	available bool
	cwebpPath string
}

func (e *WebPEncoder) Format() string    { return "webp" }
func (e *WebPEncoder) Extension() string { return "webp" }

func (e *WebPEncoder) Available() bool {
	e.once.Do(func() {
		path, err := exec.LookPath("cwebp")
		if err == nil {
			e.available = true
			e.cwebpPath = path
		}
	})
	return e.available
}

func (e *WebPEncoder) Encode(ctx context.Context, img image.Image, quality int) ([]byte, error) {
	if !e.Available() {
		return nil, fmt.Errorf("cwebp not found in PATH; install with: brew install webp")
	}

	dir, err := os.MkdirTemp("", "tilesched_webp_*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, "src.png")
	dstPath := filepath.Join(dir, "dst.webp")

	// cwebp reads files; the intermediate PNG only needs to be fast.
	f, err := os.Create(srcPath)
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return nil, fmt.Errorf("encode temp png: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close temp png: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.cwebpPath,
		"-q", strconv.Itoa(clampQuality(quality)),
		"-m", strconv.Itoa(e.Method),
		"-quiet",
		srcPath,
		"-o", dstPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("cwebp: %w: %s", err, string(out))
	}

	return os.ReadFile(dstPath)
}
