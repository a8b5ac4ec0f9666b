package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AnyUserName/tilesched/internal/manifest"
	"github.com/AnyUserName/tilesched/internal/profile"
	"github.com/AnyUserName/tilesched/internal/tilecache"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [cache_dir]",
	Short: "Check that every cached image is complete and consistent",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	c, err := openCache(args)
	if err != nil {
		return err
	}
	images, err := c.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list cache: %w", err)
	}

	var problems []string
	tiles := 0
	for _, m := range images {
		problems = append(problems, validateImage(cmd.Context(), c, m)...)
		tiles += m.Grid.Count()
	}

	if len(problems) == 0 {
		fmt.Println("  ✓ Cache is valid")
		fmt.Printf("  ✓ %d images, %d tiles, all files present\n", len(images), tiles)
		return nil
	}

	fmt.Printf("  ✗ Cache has %d problem(s):\n", len(problems))
	for _, p := range problems {
		fmt.Printf("    • %s\n", p)
	}
	return fmt.Errorf("validation failed with %d problems", len(problems))
}

func validateImage(ctx context.Context, c *tilecache.Cache, m *manifest.Image) []string {
	var errs []string
	name := m.Name
	if name == "" {
		name = m.Hash
	}
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf("image %q: ", name)+fmt.Sprintf(format, args...))
	}

	if m.Version != manifest.SupportedVersion {
		add("unsupported metadata version %d", m.Version)
	}
	if m.Hash == "" {
		add("missing hash")
		return errs
	}
	if m.Width <= 0 || m.Height <= 0 {
		add("invalid dimensions %dx%d", m.Width, m.Height)
	}

	if m.Grid.TileSize <= 0 {
		add("invalid tile size %d", m.Grid.TileSize)
	} else {
		want := profile.Profile{TileSize: m.Grid.TileSize}.Grid(m.Width, m.Height)
		if m.Grid.Cols != want.Cols || m.Grid.Rows != want.Rows {
			add("grid %dx%d does not cover %dx%d image (want %dx%d)",
				m.Grid.Cols, m.Grid.Rows, m.Width, m.Height, want.Cols, want.Rows)
		}
	}

	for _, pv := range []struct {
		label string
		p     manifest.Preview
	}{{"thumbnail", m.Thumbnail}, {"medium", m.Medium}} {
		if pv.p.Path == "" {
			add("missing %s", pv.label)
			continue
		}
		info, err := os.Stat(filepath.Join(c.Dir(m.Hash), pv.p.Path))
		if err != nil {
			add("%s file not found: %s", pv.label, pv.p.Path)
		} else if pv.p.Size > 0 && info.Size() != pv.p.Size {
			add("%s size mismatch: metadata=%d, disk=%d", pv.label, pv.p.Size, info.Size())
		}
	}

	if missing := c.MissingTiles(ctx, m); len(missing) > 0 {
		shown := missing[:min(len(missing), 5)]
		add("%d of %d tiles missing, e.g. %v", len(missing), m.Grid.Count(), shown)
	}
	return errs
}
