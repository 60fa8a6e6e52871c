package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetConfig(t *testing.T) {
	t.Helper()
	old := *Config
	t.Cleanup(func() { *Config = old })
}

func TestDefaults(t *testing.T) {
	resetConfig(t)

	assert.Equal(t, 4, Config.Database.PoolSize)
	assert.Equal(t, 256, Config.Engine.SnapshotCacheSize)
	assert.Equal(t, "console", Config.Logging.Format)
	assert.False(t, Config.Telemetry.Enabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	resetConfig(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[database]
dsn = "postgres://localhost:5432/meta"
pool_size = 8

[logging]
format = "json"
verbose = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, Load(path))

	assert.Equal(t, "postgres://localhost:5432/meta", Config.Database.DSN)
	assert.Equal(t, 8, Config.Database.PoolSize)
	assert.Equal(t, "json", Config.Logging.Format)
	assert.True(t, Config.Logging.Verbose)
	// Untouched keys keep their defaults.
	assert.Equal(t, 300, Config.Database.MaxLifetimeSeconds)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	resetConfig(t)

	require.NoError(t, Load(filepath.Join(t.TempDir(), "nope.toml")))
	assert.Equal(t, 4, Config.Database.PoolSize)
}

func TestValidate(t *testing.T) {
	resetConfig(t)

	// DSN is mandatory.
	Config.Database.DSN = ""
	assert.Error(t, Validate())

	Config.Database.DSN = "postgres://localhost:5432/meta"
	require.NoError(t, Validate())

	Config.Database.PoolSize = 0
	assert.Error(t, Validate())
	Config.Database.PoolSize = 4

	Config.Logging.Format = "xml"
	assert.Error(t, Validate())
	Config.Logging.Format = "console"

	Config.Telemetry.Enabled = true
	Config.Telemetry.Port = 0
	assert.Error(t, Validate())
}
