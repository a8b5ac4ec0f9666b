package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestImageRoundtrip(t *testing.T) {
	m := New("0123456789abcdef", "/data/slides/liver.tiff", "default")
	m.Format = "tiff"
	m.Width, m.Height = 5000, 3000
	m.Grid = Grid{TileSize: 512, Cols: 10, Rows: 6, Format: "webp"}
	m.Thumbnail = Preview{Format: "jpeg", Width: 256, Height: 154, Size: 9000, Path: "thumbnail.jpeg"}

	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")
	if err := WriteJSON(m, path); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}

	m2, err := ReadJSON(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if m2.Version != SupportedVersion {
		t.Errorf("version: got %d, want %d", m2.Version, SupportedVersion)
	}
	if m2.Name != "liver.tiff" {
		t.Errorf("name: got %q", m2.Name)
	}
	if m2.Grid != m.Grid {
		t.Errorf("grid: got %+v, want %+v", m2.Grid, m.Grid)
	}
	if m2.Thumbnail.Path != "thumbnail.jpeg" {
		t.Errorf("thumbnail path: got %q", m2.Thumbnail.Path)
	}
}

func TestImageIgnoresUnknownFields(t *testing.T) {
	raw := `{
		"version": 1,
		"hash": "abc",
		"future_field": "should be ignored",
		"grid": { "tile_size": 256, "cols": 2, "rows": 3, "format": "webp", "levels": 4 }
	}`

	var m Image
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal with unknown fields: %v", err)
	}
	if m.Grid.Count() != 6 {
		t.Errorf("grid count: got %d, want 6", m.Grid.Count())
	}
}

func TestReadJSON_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadJSON(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestGridCoords(t *testing.T) {
	g := Grid{Cols: 3, Rows: 2}
	coords := g.Coords()
	want := []Coord{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {1, 1}, {2, 1}}
	if len(coords) != len(want) {
		t.Fatalf("len: got %d, want %d", len(coords), len(want))
	}
	for i := range want {
		if coords[i] != want[i] {
			t.Errorf("coord %d: got %+v, want %+v", i, coords[i], want[i])
		}
	}

	tests := []struct {
		c    Coord
		want bool
	}{
		{Coord{0, 0}, true},
		{Coord{2, 1}, true},
		{Coord{3, 0}, false},
		{Coord{0, 2}, false},
		{Coord{-1, 0}, false},
	}
	for _, tt := range tests {
		if got := g.Contains(tt.c); got != tt.want {
			t.Errorf("Contains(%+v) = %v, want %v", tt.c, got, tt.want)
		}
	}
}
