package profile

import (
	"image"
	"testing"
)

func TestGet_Fallback(t *testing.T) {
	p := Get("does-not-exist")
	if p.Name != "does-not-exist" {
		t.Errorf("name not preserved: %q", p.Name)
	}
	if p.TileSize != Get(DefaultName).TileSize {
		t.Errorf("fallback tile size = %d, want default", p.TileSize)
	}
	for _, n := range Names() {
		if Get(n).Name != n {
			t.Errorf("built-in profile %q missing", n)
		}
	}
}

func TestGrid(t *testing.T) {
	p := Profile{TileSize: 512}
	tests := []struct {
		name       string
		w, h       int
		cols, rows int
	}{
		{"exact multiple", 1024, 512, 2, 1},
		{"partial edge", 1025, 513, 3, 2},
		{"smaller than tile", 100, 80, 1, 1},
		{"empty", 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := p.Grid(tt.w, tt.h)
			if g.Cols != tt.cols || g.Rows != tt.rows {
				t.Errorf("Grid(%d,%d) = %dx%d, want %dx%d", tt.w, tt.h, g.Cols, g.Rows, tt.cols, tt.rows)
			}
			if g.Format != "webp" {
				t.Errorf("format = %q", g.Format)
			}
		})
	}
}

func TestTileRect(t *testing.T) {
	p := Profile{TileSize: 100}
	bounds := image.Rect(0, 0, 250, 120)

	tests := []struct {
		x, y int
		want image.Rectangle
	}{
		{0, 0, image.Rect(0, 0, 100, 100)},
		{2, 0, image.Rect(200, 0, 250, 100)},
		{2, 1, image.Rect(200, 100, 250, 120)},
		{3, 0, image.Rectangle{}},
	}
	for _, tt := range tests {
		got := p.TileRect(bounds, tt.x, tt.y)
		if tt.want.Empty() {
			if !got.Empty() {
				t.Errorf("TileRect(%d,%d) = %v, want empty", tt.x, tt.y, got)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("TileRect(%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestTileRect_OffsetBounds(t *testing.T) {
	p := Profile{TileSize: 10}
	got := p.TileRect(image.Rect(5, 5, 30, 30), 1, 1)
	if want := image.Rect(15, 15, 25, 25); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPreviewDims(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{4000, 2000, 256, 256, 128},
		{2000, 4000, 256, 128, 256},
		{100, 50, 256, 100, 50},
		{10000, 1, 256, 256, 1},
	}
	for _, tt := range tests {
		w, h := PreviewDims(tt.w, tt.h, tt.max)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("PreviewDims(%d,%d,%d) = %dx%d, want %dx%d", tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
		}
	}
}
