package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsToDevelopment(t *testing.T) {
	t.Setenv(EnvVar, "")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Profile != Development {
		t.Fatalf("expected development, got %q", cfg.Profile)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %q", cfg.LogLevel)
	}
}

func TestLoad_ProductionUsesJSONLogsAndStableDBName(t *testing.T) {
	t.Setenv(EnvVar, "production")
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.LogJSON {
		t.Fatalf("expected JSON logs in production")
	}
	if cfg.DatabasePath != filepath.Join(dir, "manga_manager.db") {
		t.Fatalf("unexpected db path: %s", cfg.DatabasePath)
	}
}

func TestLoad_UnknownProfileIsError(t *testing.T) {
	t.Setenv(EnvVar, "staging")
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for unknown profile")
	}
}

func TestEnsureDirs_CreatesInstanceTree(t *testing.T) {
	t.Setenv(EnvVar, "testing")
	dir := filepath.Join(t.TempDir(), "instance")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	for _, d := range []string{cfg.InstanceDir, cfg.CoverDir, cfg.BackupDir} {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			t.Fatalf("expected directory %s to exist", d)
		}
	}
}
