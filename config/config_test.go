package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashbook/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	c, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, config.DriverSQLite, c.Database.Driver)
	assert.Equal(t, "cashbook.db", c.Database.DSN)
	assert.Equal(t, uint64(3), c.Store.MaxRetries)
	assert.True(t, c.Monitor.Enabled)
	assert.Equal(t, 15*time.Minute, c.Monitor.LowStockInterval)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A config file choosing postgres on port 9000
	// WHEN: The environment overrides the port and the interval
	// THEN: File values apply except where the environment is set

	path := writeFile(t, `
server:
  port: 9000
  cors_origins: ["https://shop.example"]
database:
  driver: Postgres
  dsn: postgres://cash@localhost/cashbook
log:
  level: debug
  format: console
`)
	t.Setenv("CASHBOOK_SERVER_PORT", "9100")
	t.Setenv("CASHBOOK_MONITOR_LOW_STOCK_INTERVAL", "90s")

	c, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, c.Server.Port)
	assert.Equal(t, []string{"https://shop.example"}, c.Server.CORSOrigins)
	assert.Equal(t, config.DriverPostgres, c.Database.Driver)
	assert.Equal(t, "postgres://cash@localhost/cashbook", c.Database.DSN)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 90*time.Second, c.Monitor.LowStockInterval)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "explicit path must exist")

	_, err = config.Load(writeFile(t, "database:\n  driver: mysql\n"))
	assert.ErrorContains(t, err, "database.driver")

	_, err = config.Load(writeFile(t, "server:\n  port: 70000\n"))
	assert.ErrorContains(t, err, "server.port")
}
