package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFileOrEnv(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12, c.LBMaxRetries)
	assert.Equal(t, 5*time.Second, c.LBRetryIntervalMin)
	assert.Equal(t, 7*time.Second, c.LBRetryIntervalMax)
	assert.Equal(t, 10, c.Concurrency)
	assert.Equal(t, 2, c.GlobalCreateLimit)
	assert.Empty(t, c.ConvergenceTenants)
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
convergence-tenants:
  - tenant-a
  - tenant-b
worker:
  lb_max_retries: 20
  lb_retry_interval_range: [1, 2]
listen_addr: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, c.ConvergenceTenants)
	assert.Equal(t, 20, c.LBMaxRetries)
	assert.Equal(t, time.Second, c.LBRetryIntervalMin)
	assert.Equal(t, 2*time.Second, c.LBRetryIntervalMax)
	assert.Equal(t, ":9090", c.ListenAddr)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
}

func TestTenantConvergenceEnabled(t *testing.T) {
	c := Default()
	c.ConvergenceTenants = []string{"tenant-a"}
	assert.True(t, c.TenantConvergenceEnabled("tenant-a"))
	assert.False(t, c.TenantConvergenceEnabled("tenant-b"))
}
