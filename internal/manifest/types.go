package manifest

// Image is the metadata record of one ingested source image. It is
// written last during ingestion, so its presence marks the image's
// thumbnail, medium preview and tile grid as complete.
type Image struct {
	Version     int     `json:"version"`
	Hash        string  `json:"hash"`
	SourcePath  string  `json:"source_path"`
	Name        string  `json:"name"`
	Format      string  `json:"format"` // source format (png, jpeg, tiff, ...)
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Size        int64   `json:"size"` // source bytes on disk
	Profile     string  `json:"profile"`
	Grid        Grid    `json:"grid"`
	Thumbnail   Preview `json:"thumbnail"`
	Medium      Preview `json:"medium"`
	GeneratedAt string  `json:"generated_at"`
}

// Grid describes the full-resolution tile grid covering an image.
type Grid struct {
	TileSize int    `json:"tile_size"`
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
	Format   string `json:"format"` // tile encoding, always "webp" today
}

// Preview is a downscaled rendition of the whole image.
type Preview struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int64  `json:"size"`
	Path   string `json:"path"` // relative to the image's cache directory
}

// Coord addresses one tile in a Grid.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Validity is the answer to "is this source image already ingested?".
type Validity struct {
	Exists   bool
	Hash     string
	Metadata *Image
}

// Ingestion is the outcome of a whole-image ingestion.
type Ingestion struct {
	Hash           string
	Metadata       *Image
	FromCache      bool
	TilesGenerated int
}

// SupportedVersion is the current metadata schema version.
const SupportedVersion = 1

// Count returns the number of tiles in the grid.
func (g Grid) Count() int {
	return g.Cols * g.Rows
}

// Contains reports whether c lies inside the grid.
func (g Grid) Contains(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.Cols && c.Y < g.Rows
}

// Coords lists every tile coordinate in row-major order.
func (g Grid) Coords() []Coord {
	out := make([]Coord, 0, g.Count())
	for y := 0; y < g.Rows; y++ {
		for x := 0; x < g.Cols; x++ {
			out = append(out, Coord{X: x, Y: y})
		}
	}
	return out
}
