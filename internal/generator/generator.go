// Package generator turns a full-resolution source image into the
// artifacts the tile cache serves: a thumbnail, a medium preview and a
// grid of WebP tiles.
package generator

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/AnyUserName/tilesched/internal/encoder"
	"github.com/AnyUserName/tilesched/internal/manifest"
	"github.com/AnyUserName/tilesched/internal/profile"
	"github.com/AnyUserName/tilesched/internal/tilecache"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNoTileEncoder is returned by New when no WebP encoder is available.
var ErrNoTileEncoder = errors.New("no webp encoder available (is cwebp installed?)")

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

// WithTileEncoder overrides the tile encoder picked from the registry.
func WithTileEncoder(enc encoder.Encoder) Option {
	return func(g *Generator) { g.tiles = enc }
}

// WithWorkers sets how many tiles of one image are encoded concurrently.
// The decoded image is shared, so memory stays bounded by one image.
func WithWorkers(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// Generator produces cache artifacts for source images. Its methods are
// safe for concurrent use, although the scheduler calls them one image at
// a time.
type Generator struct {
	cache   *tilecache.Cache
	prof    profile.Profile
	tiles   encoder.Encoder
	preview encoder.Encoder
	workers int
	log     *zap.Logger
}

// New creates a generator writing into cache with the given profile.
func New(cache *tilecache.Cache, prof profile.Profile, reg *encoder.Registry, opts ...Option) (*Generator, error) {
	if cache == nil {
		return nil, fmt.Errorf("generator: cache cannot be nil")
	}
	if reg == nil {
		reg = encoder.NewRegistry()
	}
	g := &Generator{
		cache:   cache,
		prof:    prof,
		tiles:   reg.Get("webp"),
		preview: reg.Preview(prof.PreviewFormat),
		workers: 1,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.tiles == nil {
		return nil, ErrNoTileEncoder
	}
	if g.preview == nil {
		g.preview = &encoder.JPEGEncoder{}
	}
	return g, nil
}

// DecodeAuto decodes the image at path, detecting its format from content.
func (g *Generator) DecodeAuto(ctx context.Context, path string) (image.Image, error) {
	img, _, err := g.decode(ctx, path)
	return img, err
}

func (g *Generator) decode(ctx context.Context, path string) (image.Image, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, format, nil
}

// GenerateTile crops tile (x, y) out of img, encodes it and stores it in
// the cache under hash.
func (g *Generator) GenerateTile(ctx context.Context, hash string, img image.Image, x, y int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rect := g.prof.TileRect(img.Bounds(), x, y)
	if rect.Empty() {
		return nil, fmt.Errorf("tile %d,%d outside %dx%d image", x, y, img.Bounds().Dx(), img.Bounds().Dy())
	}

	data, err := g.tiles.Encode(ctx, imaging.Crop(img, rect), g.prof.Quality)
	if err != nil {
		return nil, fmt.Errorf("encode tile %d,%d: %w", x, y, err)
	}
	if err := g.cache.SaveTile(hash, x, y, data); err != nil {
		return nil, fmt.Errorf("save tile %d,%d: %w", x, y, err)
	}
	return data, nil
}

// ProcessImageComplete ingests the image at path: thumbnail, medium
// preview, every grid tile and finally the metadata record. Tiles already
// on disk from an interrupted run are kept. onTile, if non-nil, is called
// after each tile with the number of tiles done so far.
//
// An image whose metadata and tiles are all present is not decoded; the
// result then has FromCache set.
func (g *Generator) ProcessImageComplete(ctx context.Context, path string, onTile func(current, total int)) (manifest.Ingestion, error) {
	hash, err := g.cache.GenerateImageHash(ctx, path)
	if err != nil {
		return manifest.Ingestion{}, err
	}
	log := g.log.With(zap.String("hash", hash), zap.String("path", path))

	if m, err := g.cache.LoadMetadata(ctx, hash); err == nil && m != nil && len(g.cache.MissingTiles(ctx, m)) == 0 {
		log.Debug("image already complete in cache")
		return manifest.Ingestion{Hash: hash, Metadata: m, FromCache: true}, nil
	}

	img, format, err := g.decode(ctx, path)
	if err != nil {
		return manifest.Ingestion{}, err
	}
	b := img.Bounds()
	log.Info("decoded source image",
		zap.String("format", format),
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()))

	m := manifest.New(hash, path, g.prof.Name)
	m.Format = format
	m.Width = b.Dx()
	m.Height = b.Dy()
	m.Grid = g.prof.Grid(b.Dx(), b.Dy())
	if info, err := os.Stat(path); err == nil {
		m.Size = info.Size()
	}

	if m.Thumbnail, err = g.savePreview(ctx, hash, "thumbnail", img, g.prof.ThumbnailSize); err != nil {
		return manifest.Ingestion{}, err
	}
	if m.Medium, err = g.savePreview(ctx, hash, "medium", img, g.prof.MediumSize); err != nil {
		return manifest.Ingestion{}, err
	}

	generated, err := g.generateGrid(ctx, hash, img, m.Grid, onTile)
	if err != nil {
		return manifest.Ingestion{}, err
	}

	// Metadata last: its presence marks the image complete.
	if err := g.cache.SaveMetadata(m); err != nil {
		return manifest.Ingestion{}, fmt.Errorf("save metadata: %w", err)
	}
	log.Info("image ingested",
		zap.Int("tiles", m.Grid.Count()),
		zap.Int("generated", generated))

	return manifest.Ingestion{Hash: hash, Metadata: m, TilesGenerated: generated}, nil
}

// generateGrid produces every tile of grid that is not yet cached and
// returns how many it generated.
func (g *Generator) generateGrid(ctx context.Context, hash string, img image.Image, grid manifest.Grid, onTile func(current, total int)) (int, error) {
	total := grid.Count()
	var (
		mu        sync.Mutex
		done      int
		generated int
	)
	progress := func(fresh bool) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if fresh {
			generated++
		}
		if onTile != nil {
			onTile(done, total)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for _, c := range grid.Coords() {
		c := c
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if g.cache.HasTile(egCtx, hash, c.X, c.Y) {
				progress(false)
				return nil
			}
			if _, err := g.GenerateTile(egCtx, hash, img, c.X, c.Y); err != nil {
				return err
			}
			progress(true)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return generated, err
	}
	if err := ctx.Err(); err != nil {
		return generated, err
	}
	return generated, nil
}

func (g *Generator) savePreview(ctx context.Context, hash, name string, img image.Image, maxEdge int) (manifest.Preview, error) {
	b := img.Bounds()
	w, h := profile.PreviewDims(b.Dx(), b.Dy(), maxEdge)

	filter := imaging.Lanczos
	if w*4 < b.Dx() {
		filter = imaging.Box
	}
	resized := imaging.Resize(img, w, h, filter)

	data, err := g.preview.Encode(ctx, resized, g.prof.Quality)
	if err != nil {
		return manifest.Preview{}, fmt.Errorf("encode %s: %w", name, err)
	}
	rel, err := g.cache.SavePreview(hash, name, g.preview.Extension(), data)
	if err != nil {
		return manifest.Preview{}, fmt.Errorf("save %s: %w", name, err)
	}
	return manifest.Preview{
		Format: strings.ToLower(g.preview.Format()),
		Width:  w,
		Height: h,
		Size:   int64(len(data)),
		Path:   rel,
	}, nil
}
