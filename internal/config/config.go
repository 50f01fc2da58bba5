// Package config selects the instance's runtime profile from the
// MANGAULM_ENV environment variable, mirroring config.py's
// development/testing/production split and its instance-directory layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Profile is one of the three environment profiles config.py defines.
type Profile string

const (
	Development Profile = "development"
	Testing     Profile = "testing"
	Production  Profile = "production"
)

// EnvVar is the variable profile selection reads, matching source's
// FLASK_CONFIG (renamed for this project).
const EnvVar = "MANGAULM_ENV"

// Config bundles everything a profile fixes: where the instance directory
// lives, what the catalog database is called, and how verbose logging
// should default to.
type Config struct {
	Profile      Profile
	InstanceDir  string
	DatabasePath string
	CoverDir     string
	BackupDir    string
	TasksDBPath  string
	LogLevel     string
	LogJSON      bool
}

// Load resolves MANGAULM_ENV (defaulting to development, same as config.py's
// 'default' entry) against instanceDir, the directory instance-scoped files
// live under ("instance" at the project root in source).
func Load(instanceDir string) (Config, error) {
	profile := Profile(os.Getenv(EnvVar))
	switch profile {
	case Development, Testing, Production:
	case "":
		profile = Development
	default:
		return Config{}, fmt.Errorf("config: unknown %s %q (want development, testing, or production)", EnvVar, profile)
	}

	if instanceDir == "" {
		return Config{}, fmt.Errorf("config: instance directory must not be empty")
	}

	var dbName string
	switch profile {
	case Testing:
		dbName = "manga_manager_test.db"
	case Production:
		dbName = "manga_manager.db"
	default:
		dbName = "manga_manager_dev.db"
	}

	cfg := Config{
		Profile:      profile,
		InstanceDir:  instanceDir,
		DatabasePath: filepath.Join(instanceDir, dbName),
		CoverDir:     filepath.Join(instanceDir, "covers"),
		BackupDir:    filepath.Join(instanceDir, "backups"),
		TasksDBPath:  filepath.Join(instanceDir, "tasks.db"),
		LogLevel:     "info",
		LogJSON:      profile == Production,
	}
	if profile == Development {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// EnsureDirs creates the instance directory tree Load describes, mirroring
// Config.init_app's os.makedirs(COVER_CACHE_PATH, exist_ok=True) — extended
// here to every directory this project writes into.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.InstanceDir, c.CoverDir, c.BackupDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}
