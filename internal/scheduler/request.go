package scheduler

import (
	"encoding/base64"
	"sync/atomic"
	"time"

	"github.com/AnyUserName/tilesched/internal/hasher"
	"github.com/AnyUserName/tilesched/internal/manifest"
	"github.com/google/uuid"
)

// Kind distinguishes the two request variants.
type Kind int

const (
	// KindPreparation ingests a whole image: thumbnail, medium and every tile.
	KindPreparation Kind = iota
	// KindTileBatch generates specific tiles of an already ingested image.
	KindTileBatch
)

func (k Kind) String() string {
	switch k {
	case KindPreparation:
		return "preparation"
	case KindTileBatch:
		return "tile_batch"
	default:
		return "unknown"
	}
}

// DataURLPrefix prefixes every TileResult payload.
const DataURLPrefix = "data:image/webp;base64,"

// TileResult is one display-ready tile.
type TileResult struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	DataURL string `json:"dataUrl"`
	// ETag is the xxHash64 of the encoded tile, usable for HTTP caching
	// and for checking the payload after transport.
	ETag string `json:"etag"`
}

// NewTileResult wraps encoded WebP bytes as a data URL.
func NewTileResult(x, y int, webp []byte) TileResult {
	return TileResult{
		X:       x,
		Y:       y,
		DataURL: DataURLPrefix + base64.StdEncoding.EncodeToString(webp),
		ETag:    hasher.ContentHash(webp, 0),
	}
}

// PrepareResult is the outcome of a Preparation request.
type PrepareResult struct {
	Hash           string
	Metadata       *manifest.Image
	FromCache      bool
	TilesGenerated int

	// Skipped is set when the image was fully cached and nothing was queued.
	Skipped bool
	// AlreadyProcessing is set when another Preparation for the same image
	// was queued or running; the handle settles when that one completes.
	AlreadyProcessing bool
}

// request is a queued unit of work. Exactly one of prep and tiles is set,
// matching kind.
type request struct {
	id       string
	kind     Kind
	priority Priority
	hash     string
	queuedAt time.Time

	seq   int64 // queue tie-break, assigned on push
	index int   // position in the heap, -1 once removed

	// Preparation
	path string
	name string
	prep *Handle[PrepareResult]

	// TileBatch
	coords []manifest.Coord
	cached []TileResult
	tiles  *Handle[[]TileResult]

	cancelled atomic.Bool
}

func newPreparation(path, name, hash string, p Priority) *request {
	return &request{
		id:       uuid.NewString(),
		kind:     KindPreparation,
		priority: p,
		hash:     hash,
		path:     path,
		name:     name,
		prep:     newHandle[PrepareResult](),
		queuedAt: time.Now(),
		index:    -1,
	}
}

func newTileBatch(hash string, coords []manifest.Coord, cached []TileResult, p Priority) *request {
	return &request{
		id:       uuid.NewString(),
		kind:     KindTileBatch,
		priority: p,
		hash:     hash,
		coords:   coords,
		cached:   cached,
		tiles:    newHandle[[]TileResult](),
		queuedAt: time.Now(),
		index:    -1,
	}
}

// reject settles the request's handle with err.
func (r *request) reject(err error) {
	switch r.kind {
	case KindPreparation:
		r.prep.reject(err)
	case KindTileBatch:
		r.tiles.reject(err)
	}
}

// displayName is what status and progress report for the request.
func (r *request) displayName() string {
	if r.kind == KindPreparation && r.name != "" {
		return r.name
	}
	return r.hash
}
