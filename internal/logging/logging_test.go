package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{" warning ", zapcore.WarnLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("level = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(Config{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("hidden")
	log.Info("tile batch queued", zap.String("hash", "abc"))
	log.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["msg"] != "tile batch queued" || entry["hash"] != "abc" || entry["level"] != "info" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tilesched.log")
	var console bytes.Buffer
	log, err := newLogger(Config{Level: "debug", File: path}, &console)
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("dispatching", zap.String("request_id", "r1"))
	log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"request_id":"r1"`) {
		t.Errorf("file sink = %q", data)
	}
	if !strings.Contains(console.String(), "dispatching") {
		t.Errorf("console = %q", console.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("bad level accepted")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("bad format accepted")
	}
}
