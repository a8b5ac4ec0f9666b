package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/AnyUserName/tilesched/internal/manifest"
	"github.com/AnyUserName/tilesched/internal/tilecache"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [cache_dir]",
	Short: "Display statistics for a tile cache",
	Long:  "Summarizes a tile cache. Without an argument the configured cache.dir is used.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

// openCache opens an existing cache directory without creating it.
func openCache(args []string) (*tilecache.Cache, error) {
	dir := cfg.Cache.Dir
	if len(args) > 0 {
		dir = args[0]
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return tilecache.New(dir, logger)
}

type imageStats struct {
	m     *manifest.Image
	bytes int64
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := openCache(args)
	if err != nil {
		return err
	}
	images, err := c.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list cache: %w", err)
	}

	items := make([]imageStats, 0, len(images))
	for _, m := range images {
		size, err := c.Size(m.Hash)
		if err != nil {
			return fmt.Errorf("size of %s: %w", m.Hash, err)
		}
		items = append(items, imageStats{m: m, bytes: size})
	}
	printStats(c.Root(), items)
	return nil
}

func printStats(root string, items []imageStats) {
	var (
		totalBytes  int64
		totalSource int64
		totalTiles  int
		pixels      int64
	)
	profiles := map[string]int{}
	formats := map[string]int{}
	for _, it := range items {
		totalBytes += it.bytes
		totalSource += it.m.Size
		totalTiles += it.m.Grid.Count()
		pixels += int64(it.m.Width) * int64(it.m.Height)
		profiles[it.m.Profile]++
		formats[it.m.Format]++
	}

	fmt.Println()
	fmt.Printf("  Cache:            %s\n", root)
	fmt.Printf("  Images:           %d\n", len(items))
	fmt.Printf("  Tiles:            %d\n", totalTiles)
	fmt.Printf("  Source pixels:    %.1f MP\n", float64(pixels)/1e6)
	fmt.Printf("  Source size:      %s\n", formatBytes(totalSource))
	fmt.Printf("  Cache size:       %s\n", formatBytes(totalBytes))
	if totalSource > 0 {
		fmt.Printf("  Ratio:            %.1f%% of source\n", float64(totalBytes)/float64(totalSource)*100)
	}
	fmt.Println()

	printBreakdown("Profiles", profiles)
	printBreakdown("Source formats", formats)

	if len(items) == 0 {
		return
	}
	sort.Slice(items, func(i, j int) bool { return items[i].bytes > items[j].bytes })
	n := min(len(items), 10)
	fmt.Printf("  Top %d largest:\n", n)
	for _, it := range items[:n] {
		fmt.Printf("    %-40s %6dx%-6d %5d tiles %10s\n",
			truncKey(it.m.Name, 40), it.m.Width, it.m.Height, it.m.Grid.Count(), formatBytes(it.bytes))
	}
	fmt.Println()
}

func printBreakdown(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("  %s:\n", title)
	for _, k := range keys {
		fmt.Printf("    %-10s %4d\n", k, counts[k])
	}
	fmt.Println()
}
