//go:build ignore

// gen_fixtures creates a small slide project for the E2E smoke test:
// a multi-tile TIFF scan, stain images in a subdirectory, an exact
// duplicate (exercises dedup) and one corrupt file (exercises failure
// isolation).
// Usage: go run gen_fixtures.go <output_dir>
package main

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gen_fixtures <output_dir>")
		os.Exit(1)
	}
	dir := os.Args[1]
	os.MkdirAll(filepath.Join(dir, "stains"), 0o755)

	// Whole-slide scan: 3 x 2 tiles at the default 512px tile size,
	// with partial edge tiles.
	scan := tissue(1300, 900, 7)
	writeTIFF(filepath.Join(dir, "scan.tiff"), scan)
	writeTIFF(filepath.Join(dir, "scan-copy.tiff"), scan)

	for i, name := range []string{"he", "ihc-ki67", "pas"} {
		writePNG(filepath.Join(dir, "stains", name+".png"), tissue(600, 400, int64(i+1)))
	}
	writeJPEG(filepath.Join(dir, "overview.jpg"), tissue(800, 500, 42))

	os.WriteFile(filepath.Join(dir, "corrupt.tif"), []byte("II*\x00not really a tiff"), 0o644)

	fmt.Fprintf(os.Stderr, "[gen_fixtures] created 7 fixtures in %s\n", dir)
}

// tissue draws pink stained cells on a pale background. seed only
// shifts the cell lattice so each fixture hashes differently.
func tissue(w, h int, seed int64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	const cell = 37.0
	off := float64(seed%11) * 3
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx := math.Mod(float64(x)+off, cell) - cell/2
			fy := math.Mod(float64(y)+off*2, cell) - cell/2
			d := math.Hypot(fx, fy)
			c := color.NRGBA{R: 244, G: 236, B: 240, A: 255}
			switch {
			case d < 5:
				c = color.NRGBA{R: 70, G: 40, B: 130, A: 255} // nucleus
			case d < 14:
				c = color.NRGBA{R: 226, G: 120, B: 170, A: 255} // cytoplasm
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func writeTIFF(path string, img image.Image) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
}

func writePNG(path string, img image.Image) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	png.Encode(f, img)
}

func writeJPEG(path string, img image.Image) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}
