package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/AnyUserName/tilesched/internal/metrics"
	"github.com/AnyUserName/tilesched/internal/pipeline"
	"github.com/AnyUserName/tilesched/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	prepareProfile     string
	prepareQuality     int
	prepareWorkers     int
	prepareMetricsAddr string
)

var prepareCmd = &cobra.Command{
	Use:   "prepare <project_dir>",
	Short: "Ingest every image of a project into the tile cache",
	Long: `Scans the project directory for images (png, jpeg, tiff, bmp, gif, webp)
and generates a thumbnail, a medium preview and the full WebP tile grid
for each one. Images already in the cache are skipped.

Tiles are written to <cache_dir>/<hash>/tiles/<x>_<y>.webp.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrepare,
}

func init() {
	f := prepareCmd.Flags()
	f.StringVarP(&prepareProfile, "profile", "p", "", "tiling profile (default, fine, coarse)")
	f.IntVarP(&prepareQuality, "quality", "q", 0, "quality 1-100 (0 = profile default)")
	f.IntVarP(&prepareWorkers, "workers", "w", 0, "concurrent tile encodes per image")
	f.StringVar(&prepareMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(prepareCmd)
}

// applyRuntimeFlags copies command flags into the loaded config.
func applyRuntimeFlags(cmd *cobra.Command) error {
	f := cmd.Flags()
	if f.Changed("profile") {
		cfg.Profile = prepareProfile
	}
	if f.Changed("quality") {
		cfg.Tile.Quality = prepareQuality
	}
	if f.Changed("workers") {
		cfg.Tile.Workers = prepareWorkers
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = prepareMetricsAddr
	}
	return cfg.Validate()
}

func newPipeline(reg prometheus.Registerer) (*pipeline.Pipeline, error) {
	cacheDir, err := filepath.Abs(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}
	prof := cfg.TileProfile()
	logger.Debug("runtime",
		zap.String("cache", cacheDir),
		zap.String("profile", prof.Name),
		zap.Int("tile_size", prof.TileSize),
		zap.Int("quality", prof.Quality))

	return pipeline.New(pipeline.Config{
		CacheDir:   cacheDir,
		Profile:    prof,
		Workers:    cfg.Tile.Workers,
		MaxQueue:   cfg.Scheduler.MaxQueue,
		Logger:     logger,
		Registerer: reg,
	})
}

func runPrepare(cmd *cobra.Command, args []string) error {
	if err := applyRuntimeFlags(cmd); err != nil {
		return err
	}
	projectDir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve project path: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	p, err := newPipeline(reg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer cancel()
		if err := p.Close(closeCtx); err != nil {
			logger.Warn("scheduler shutdown", zap.Error(err))
		}
	}()

	unsubscribe := p.Scheduler.Subscribe(printProgress)
	defer unsubscribe()

	start := time.Now()
	summary, err := p.Prepare(ctx, projectDir)
	if err != nil && summary.Total == 0 {
		return err
	}

	printPrepareReport(summary, time.Since(start))
	if err != nil {
		return fmt.Errorf("preparation interrupted: %w", err)
	}
	if summary.Failed > 0 && summary.Failed == summary.Total {
		return fmt.Errorf("all %d images failed", summary.Failed)
	}
	return nil
}

// printProgress renders scheduler events as one line per image, with
// tile progress overwriting itself in place.
func printProgress(ev scheduler.Event) {
	switch ev.Kind {
	case scheduler.EventPreparationStart:
		fmt.Printf("  Preparing %d images\n", ev.Summary.Total)
	case scheduler.EventProgress:
		if ev.Stats.CurrentImageName == "" {
			return
		}
		fmt.Printf("\r  [%d/%d] %-50s\n", ev.Stats.CompletedImages, ev.Stats.TotalImages,
			truncKey(ev.Stats.CurrentImageName, 50))
	case scheduler.EventTileProgress:
		t := ev.Tile
		if t.Current == t.Total || t.Current%25 == 0 {
			fmt.Printf("\r        tiles %d/%d", t.Current, t.Total)
			if t.Current == t.Total {
				fmt.Println()
			}
		}
	}
}

func printPrepareReport(s scheduler.PrepareSummary, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════╗")
	fmt.Println("║            tilesched prepare complete            ║")
	fmt.Println("╚══════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Images:      %d\n", s.Total)
	fmt.Printf("  Prepared:    %d\n", s.Prepared)
	fmt.Printf("  Cached:      %d\n", s.Cached)
	if s.Failed > 0 {
		fmt.Printf("  Failed:      %d (see log)\n", s.Failed)
	}
	fmt.Printf("  Time:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Cache:       %s\n", cfg.Cache.Dir)
	fmt.Println()
}
