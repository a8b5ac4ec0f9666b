package cmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AnyUserName/tilesched/internal/hasher"
	"github.com/AnyUserName/tilesched/internal/manifest"
	"github.com/AnyUserName/tilesched/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	tilesPriority string
	tilesOut      string
)

var tilesCmd = &cobra.Command{
	Use:   "tiles <image> <x,y>...",
	Short: "Produce specific tiles of an image as data URLs",
	Long: `Prints the requested tiles as a JSON array of {x, y, dataUrl}.
Cached tiles are returned immediately; the image is ingested first if it
has never been prepared.

With --out, tiles are written as <out>/<x>_<y>.webp instead.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runTiles,
}

func init() {
	tilesCmd.Flags().StringVar(&tilesPriority, "priority", "current", "preparation, current, visible-overlay or background")
	tilesCmd.Flags().StringVarP(&tilesOut, "out", "o", "", "write tiles to this directory instead of stdout")
	rootCmd.AddCommand(tilesCmd)
}

// parseCoords parses "x,y" arguments.
func parseCoords(args []string) ([]manifest.Coord, error) {
	coords := make([]manifest.Coord, 0, len(args))
	for _, a := range args {
		xs, ys, ok := strings.Cut(a, ",")
		if !ok {
			return nil, fmt.Errorf("tile %q: want x,y", a)
		}
		x, err := strconv.Atoi(strings.TrimSpace(xs))
		if err != nil {
			return nil, fmt.Errorf("tile %q: %w", a, err)
		}
		y, err := strconv.Atoi(strings.TrimSpace(ys))
		if err != nil {
			return nil, fmt.Errorf("tile %q: %w", a, err)
		}
		if x < 0 || y < 0 {
			return nil, fmt.Errorf("tile %q: negative coordinate", a)
		}
		coords = append(coords, manifest.Coord{X: x, Y: y})
	}
	return coords, nil
}

func runTiles(cmd *cobra.Command, args []string) error {
	priority, err := scheduler.ParsePriority(tilesPriority)
	if err != nil {
		return err
	}
	coords, err := parseCoords(args[1:])
	if err != nil {
		return err
	}
	imagePath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	p, err := newPipeline(nil)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer cancel()
		p.Close(closeCtx)
	}()

	tiles, err := p.Tiles(cmd.Context(), imagePath, coords, priority)
	if err != nil {
		logger.Error("tile request failed",
			zap.String("image", imagePath),
			zap.Stringer("class", scheduler.Classify(err)),
			zap.Error(err))
		return err
	}

	if tilesOut == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tiles)
	}
	return writeTiles(tilesOut, tiles)
}

func writeTiles(dir string, tiles []scheduler.TileResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, t := range tiles {
		data, err := decodeDataURL(t.DataURL)
		if err != nil {
			return fmt.Errorf("tile %d,%d: %w", t.X, t.Y, err)
		}
		if sum := hasher.ContentHash(data, 0); t.ETag != "" && sum != t.ETag {
			return fmt.Errorf("tile %d,%d: etag mismatch (%s != %s)", t.X, t.Y, sum, t.ETag)
		}
		name := filepath.Join(dir, fmt.Sprintf("%d_%d.webp", t.X, t.Y))
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("  %s (%s, etag %s)\n", name, formatBytes(int64(len(data))), t.ETag)
	}
	return nil
}

func decodeDataURL(s string) ([]byte, error) {
	payload, ok := strings.CutPrefix(s, scheduler.DataURLPrefix)
	if !ok {
		return nil, errors.New("not a webp data URL")
	}
	return base64.StdEncoding.DecodeString(payload)
}
