package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default("/proj")
	if cfg.Parsing.MaxFileSize != 1<<20 {
		t.Errorf("max file size: %d", cfg.Parsing.MaxFileSize)
	}
	if cfg.Store.BatchSize != 1000 {
		t.Errorf("batch size: %d", cfg.Store.BatchSize)
	}
	if cfg.Store.QueryTimeout != 30 {
		t.Errorf("query timeout: %d", cfg.Store.QueryTimeout)
	}
	if cfg.Parsing.ExternalGranularity != "name" {
		t.Errorf("granularity: %s", cfg.Parsing.ExternalGranularity)
	}
	if cfg.Parsing.FollowSymlinks {
		t.Error("symlinks must be off by default")
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProjectRoot != dir {
		t.Errorf("project root: %s", cfg.ProjectRoot)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	cfg.Parsing.MaxFileSize = 42
	cfg.Parsing.ExcludePatterns = []string{"generated"}
	if err := cfg.Save(dir); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Parsing.MaxFileSize != 42 {
		t.Errorf("max file size: %d", loaded.Parsing.MaxFileSize)
	}
	if len(loaded.Parsing.ExcludePatterns) != 1 || loaded.Parsing.ExcludePatterns[0] != "generated" {
		t.Errorf("exclude patterns: %v", loaded.Parsing.ExcludePatterns)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	content := "parsing:\n  max_file_size: 2048\n"
	if err := os.WriteFile(filepath.Join(dir, DefaultFileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Parsing.MaxFileSize != 2048 {
		t.Errorf("override lost: %d", cfg.Parsing.MaxFileSize)
	}
	if cfg.Store.BatchSize != 1000 {
		t.Errorf("default lost: %d", cfg.Store.BatchSize)
	}
}

func TestJournalPathIsStoreSibling(t *testing.T) {
	cfg := Default("/proj")
	if got := cfg.JournalPath(); got != filepath.Join(filepath.Dir(cfg.Store.Path), "hashes.json") {
		t.Errorf("journal path: %s", got)
	}
}
