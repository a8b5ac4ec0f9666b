// Package pipeline assembles the tile cache, generator and scheduler into
// one runtime and drives it for a project directory.
package pipeline

import (
	"context"
	"fmt"

	"github.com/AnyUserName/tilesched/internal/encoder"
	"github.com/AnyUserName/tilesched/internal/generator"
	"github.com/AnyUserName/tilesched/internal/manifest"
	"github.com/AnyUserName/tilesched/internal/metrics"
	"github.com/AnyUserName/tilesched/internal/profile"
	"github.com/AnyUserName/tilesched/internal/scheduler"
	"github.com/AnyUserName/tilesched/internal/tilecache"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config holds everything needed to build a Pipeline.
type Config struct {
	CacheDir string
	Profile  profile.Profile
	Workers  int // concurrent tile encodes within one image
	MaxQueue int // 0 = unbounded

	Logger *zap.Logger
	// Registerer receives the scheduler metrics; nil disables them.
	Registerer prometheus.Registerer
	// TileEncoder replaces the WebP encoder from the registry.
	TileEncoder encoder.Encoder
}

// Pipeline is a ready-to-use scheduler over an on-disk cache.
type Pipeline struct {
	Cache     *tilecache.Cache
	Generator *generator.Generator
	Scheduler *scheduler.Scheduler

	log *zap.Logger
}

// New builds the runtime described by cfg.
func New(cfg Config) (*Pipeline, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	cache, err := tilecache.New(cfg.CacheDir, log.Named("cache"))
	if err != nil {
		return nil, err
	}

	reg := encoder.NewRegistry()
	log.Debug("encoder registry", zap.Stringer("encoders", reg))

	genOpts := []generator.Option{
		generator.WithLogger(log.Named("generator")),
		generator.WithWorkers(cfg.Workers),
	}
	if cfg.TileEncoder != nil {
		genOpts = append(genOpts, generator.WithTileEncoder(cfg.TileEncoder))
	}
	gen, err := generator.New(cache, cfg.Profile, reg, genOpts...)
	if err != nil {
		return nil, err
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(log.Named("scheduler")),
		scheduler.WithMaxQueue(cfg.MaxQueue),
	}
	if cfg.Registerer != nil {
		schedOpts = append(schedOpts, scheduler.WithMetrics(metrics.New(cfg.Registerer)))
	}
	sched, err := scheduler.New(cache, gen, schedOpts...)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Cache:     cache,
		Generator: gen,
		Scheduler: sched,
		log:       log,
	}, nil
}

// Prepare ingests every image under dir.
func (p *Pipeline) Prepare(ctx context.Context, dir string) (scheduler.PrepareSummary, error) {
	sources, err := ScanImages(dir)
	if err != nil {
		return scheduler.PrepareSummary{}, fmt.Errorf("scan: %w", err)
	}
	if len(sources) == 0 {
		return scheduler.PrepareSummary{}, fmt.Errorf("no images found in %s", dir)
	}
	p.log.Info("scanned project", zap.String("dir", dir), zap.Int("images", len(sources)))

	return p.Scheduler.PrepareProject(ctx, ImageRefs(sources))
}

// Tiles returns the requested tiles of the image at path at the given
// priority, ingesting the image first if it is not cached yet.
func (p *Pipeline) Tiles(ctx context.Context, path string, coords []manifest.Coord, priority scheduler.Priority) ([]scheduler.TileResult, error) {
	v, err := p.Cache.IsCacheValid(ctx, path)
	if err != nil {
		return nil, err
	}
	hash := v.Hash
	grid := manifest.Grid{}
	if v.Metadata != nil {
		grid = v.Metadata.Grid
	} else {
		h, err := p.Scheduler.SubmitPreparation(ctx, path, path, priority)
		if err != nil {
			return nil, err
		}
		res, err := h.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if res.Metadata == nil {
			m, err := p.Cache.LoadMetadata(ctx, res.Hash)
			if err != nil || m == nil {
				return nil, fmt.Errorf("%w: %s", scheduler.ErrNotFound, res.Hash)
			}
			res.Metadata = m
		}
		hash = res.Hash
		grid = res.Metadata.Grid
	}

	for _, c := range coords {
		if !grid.Contains(c) {
			return nil, fmt.Errorf("tile %d,%d outside %dx%d grid", c.X, c.Y, grid.Cols, grid.Rows)
		}
	}

	h, err := p.Scheduler.SubmitTileBatch(ctx, hash, coords, priority)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Close shuts the scheduler down.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.Scheduler.Close(ctx)
}
