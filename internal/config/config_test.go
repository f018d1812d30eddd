package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestResolvePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nworkers: 2\ndatasetCacheTTL: 1m\nrateRPS: 5\n"), 0o600))

	cfg, err := Resolve([]string{"--config", path, "--workers", "6"}, env(map[string]string{"PORT": "9100", "RATE_BURST": "7"}))
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)       // env beats file
	assert.Equal(t, 6, cfg.Workers)       // flag beats file
	assert.Equal(t, 5.0, cfg.RateRPS)     // file beats default
	assert.Equal(t, 7, cfg.RateBurst)     // env beats default
	assert.Equal(t, time.Minute, cfg.DatasetCacheTTL)
	assert.Equal(t, 64, cfg.UpdateBuffer) // default
}

func TestResolveConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 3\n"), 0o600))
	cfg, err := Resolve(nil, env(map[string]string{"CONFIG_FILE": path, "DB_MIGRATE": "false", "DATA_DIRS": "a,b"}))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.False(t, cfg.Migrate)
	assert.Equal(t, []string{"a", "b"}, cfg.DataDirs)
}

func TestApplyEnvReportsMalformedValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{"WORKERS": "many", "SHUTDOWN_TIMEOUT": "soon"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKERS")
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
	bad := Default()
	bad.Workers = 0
	assert.Error(t, bad.Validate())
	bad = Default()
	bad.Port = 70000
	assert.Error(t, bad.Validate())
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = "postgres://user:pw@db/x"
	r := cfg.Redacted()
	assert.Equal(t, "set", r["database"])
	assert.Equal(t, "", r["redis"])
}
