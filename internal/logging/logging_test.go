package logging

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"magnetcatalog/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for raw, want := range cases {
		got, err := ParseLevel(raw)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewWithRotatingFile(t *testing.T) {
	cfg := config.Default().Logging
	cfg.File.Path = filepath.Join(t.TempDir(), "run.log")

	logger, closer, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()
	logger.Info("hello", "k", "v")
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info level should be enabled")
	}
}
