package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"postgres-url": "postgres://localhost/db",
		"script-path": "transform.js",
		"batcher": {"initial-batch-size": 8, "min-batch-size": 1, "max-batch-size": 32, "target-processing-ms": 50}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/db", cfg.PostgresURL)
	require.Equal(t, 8, cfg.Batcher.InitialBatchSize)
	require.Equal(t, ":6060", cfg.AdminAddr) // default preserved when unset in file
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"script-path": "transform.js"}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"postgres-url": "postgres://localhost/db",
		"script-path": "transform.js",
		"totally-unknown-field": true
	}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)
}
