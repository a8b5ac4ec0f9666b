package profile

import (
	"image"

	"github.com/AnyUserName/tilesched/internal/manifest"
)

// Profile defines how a source image is cut into previews and tiles.
type Profile struct {
	Name          string
	TileSize      int    // edge length of a full-resolution tile in pixels
	ThumbnailSize int    // longest edge of the thumbnail
	MediumSize    int    // longest edge of the medium preview
	PreviewFormat string // encoding for thumbnail and medium preview
	Quality       int    // encoding quality 1-100
}

// DefaultName is used when no profile is configured.
const DefaultName = "default"

// Built-in profiles.
var profiles = map[string]Profile{
	"default": {
		Name:          "default",
		TileSize:      512,
		ThumbnailSize: 256,
		MediumSize:    2048,
		PreviewFormat: "jpeg",
		Quality:       85,
	},
	"fine": {
		Name:          "fine",
		TileSize:      256,
		ThumbnailSize: 256,
		MediumSize:    2048,
		PreviewFormat: "jpeg",
		Quality:       90,
	},
	"coarse": {
		Name:          "coarse",
		TileSize:      1024,
		ThumbnailSize: 192,
		MediumSize:    1536,
		PreviewFormat: "jpeg",
		Quality:       80,
	},
}

// Get returns a profile by name. Falls back to default if unknown.
func Get(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	p := profiles[DefaultName]
	p.Name = name // preserve requested name
	return p
}

// Names lists the built-in profile names.
func Names() []string {
	return []string{"coarse", "default", "fine"}
}

// Grid returns the tile grid covering a width x height image.
// Edge tiles are partial; an empty image has an empty grid.
func (p Profile) Grid(width, height int) manifest.Grid {
	if width <= 0 || height <= 0 || p.TileSize <= 0 {
		return manifest.Grid{TileSize: p.TileSize, Format: "webp"}
	}
	return manifest.Grid{
		TileSize: p.TileSize,
		Cols:     (width + p.TileSize - 1) / p.TileSize,
		Rows:     (height + p.TileSize - 1) / p.TileSize,
		Format:   "webp",
	}
}

// TileRect returns the pixel rectangle of tile (x, y) clipped to bounds.
// The result is empty when the tile lies outside bounds.
func (p Profile) TileRect(bounds image.Rectangle, x, y int) image.Rectangle {
	min := bounds.Min.Add(image.Pt(x*p.TileSize, y*p.TileSize))
	r := image.Rectangle{Min: min, Max: min.Add(image.Pt(p.TileSize, p.TileSize))}
	return r.Intersect(bounds)
}

// PreviewDims scales width x height so the longest edge is at most maxEdge.
// Images already small enough keep their size (no upscaling).
func PreviewDims(width, height, maxEdge int) (int, int) {
	if width <= maxEdge && height <= maxEdge {
		return width, height
	}
	if width >= height {
		h := int(float64(height) * float64(maxEdge) / float64(width))
		if h < 1 {
			h = 1
		}
		return maxEdge, h
	}
	w := int(float64(width) * float64(maxEdge) / float64(height))
	if w < 1 {
		w = 1
	}
	return w, maxEdge
}
