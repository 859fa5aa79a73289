package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultAgent != "codex" {
		t.Errorf("want default agent codex, got %s", cfg.DefaultAgent)
	}
	if cfg.ScreenRows != 40 || cfg.ScreenCols != 120 {
		t.Errorf("want 40x120 default screen, got %dx%d", cfg.ScreenRows, cfg.ScreenCols)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.DefaultAgent = "copilot"
	cfg.ScreenRows = 24
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if reloaded.DefaultAgent != "copilot" {
		t.Errorf("want copilot after reload, got %s", reloaded.DefaultAgent)
	}
	if reloaded.ScreenRows != 24 {
		t.Errorf("want rows=24 after reload, got %d", reloaded.ScreenRows)
	}
}

func TestSocketAndLogPathsRootedAtHome(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketPath() != filepath.Join(dir, "illucd.sock") {
		t.Errorf("unexpected socket path: %s", cfg.SocketPath())
	}
	if cfg.LogPath() != filepath.Join(dir, "illucd.log") {
		t.Errorf("unexpected log path: %s", cfg.LogPath())
	}
}
