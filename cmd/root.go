package cmd

import (
	"fmt"
	"runtime"

	"github.com/AnyUserName/tilesched/internal/config"
	"github.com/AnyUserName/tilesched/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version = "0.1.0"

	configPath string
	verbose    bool
	logLevel   string

	// Set by PersistentPreRunE for every subcommand.
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "tilesched",
	Short: "Prioritized tile generation for gigapixel images",
	Long: `tilesched ingests very large source images (whole-slide scans,
microscopy mosaics) into a content-addressed cache of thumbnails,
medium previews and WebP tiles.

All work goes through a single-worker priority scheduler, so at most
one full-resolution image is decoded at a time.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { logger.Sync() },
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (YAML)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.String("cache-dir", "", "cache directory (overrides cache.dir)")

	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"tilesched %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))
}

// setup loads the configuration, applies flag overrides and builds the
// logger.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("cache-dir") {
		c.Cache.Dir, _ = flags.GetString("cache-dir")
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if verbose {
		c.Logging.Level = "debug"
	}
	if err := c.Validate(); err != nil {
		return err
	}

	l, err := logging.New(c.LogConfig())
	if err != nil {
		return err
	}
	cfg = c
	logger = l.With(zap.String("cmd", cmd.Name()))
	return nil
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func truncKey(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max+3:]
}
