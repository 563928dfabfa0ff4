package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Server.Name)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 60*time.Second, cfg.Scanner.Interval)
	assert.Equal(t, 10*time.Second, cfg.Scanner.ItemTimeout)
	assert.Equal(t, "local", cfg.Presence.Mode)
	assert.Equal(t, "/reviews/new", cfg.Notifications.ReviewLinkBase)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/leases")
	t.Setenv("SCANNER_INTERVAL", "15s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, `
scanner:
  interval: 2m
database:
  driver: sqlite
`))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/leases", cfg.Database.DSN)
	assert.Equal(t, 15*time.Second, cfg.Scanner.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidScannerInterval(t *testing.T) {
	t.Setenv("SCANNER_INTERVAL", "soon")
	_, err := Load(writeConfig(t, ""))
	assert.Error(t, err)
}

func TestValidate_ClusterNeedsBrokers(t *testing.T) {
	_, err := Load(writeConfig(t, "presence:\n  mode: cluster\n"))
	assert.ErrorContains(t, err, "cluster presence requires")

	_, err = Load(writeConfig(t, "scanner:\n  distributed_lock: true\n"))
	assert.ErrorContains(t, err, "distributed_lock")
}
