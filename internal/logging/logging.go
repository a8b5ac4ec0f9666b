// Package logging builds the zap logger used across tilesched.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, console format and an optional rotating log file.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // "console" or "json"
	File   string // empty disables the file sink

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 5
	defaultMaxAgeDays = 30
)

// ParseLevel parses a level name. Matching is case-insensitive and
// "warning" is accepted for warn.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a logger writing to stderr and, when cfg.File is set, to a
// lumberjack-rotated JSON file. The file sink always uses JSON.
func New(cfg Config) (*zap.Logger, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg Config, console io.Writer) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var consoleEnc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		consoleEnc = zapcore.NewConsoleEncoder(consoleEncoderConfig())
	case "json":
		consoleEnc = zapcore.NewJSONEncoder(jsonEncoderConfig())
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.AddSync(console), level),
	}
	if cfg.File != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(jsonEncoderConfig()),
			zapcore.AddSync(fileWriter(cfg)),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func fileWriter(cfg Config) *lumberjack.Logger {
	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	if w.MaxSize <= 0 {
		w.MaxSize = defaultMaxSizeMB
	}
	if w.MaxBackups <= 0 {
		w.MaxBackups = defaultMaxBackups
	}
	if w.MaxAge <= 0 {
		w.MaxAge = defaultMaxAgeDays
	}
	return w
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}
