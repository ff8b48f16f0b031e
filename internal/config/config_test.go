package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.GetServerAddr())

	// 未显式配置的项落到默认值
	assert.Equal(t, "scp", cfg.Transfer.Scheme)
	assert.Equal(t, "bootflash:", cfg.Transfer.Destination)
	assert.Equal(t, "management", cfg.Transfer.VRF)
	assert.Equal(t, 600*time.Second, cfg.Transfer.FTPTimeout)
	assert.Equal(t, 5, cfg.SSH.LoginAttempts)
	assert.Equal(t, 5, cfg.Boot.Attempts)
	assert.Equal(t, 1200*time.Second, cfg.Boot.BootTimeout)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadPlatformDefaults(t *testing.T) {
	path := writeTempConfig(t, "server: {}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	nxos, ok := cfg.DeviceDefaults["nxos"]
	require.True(t, ok)
	assert.Equal(t, "show version", nxos.ProbeCommand)
	assert.Contains(t, nxos.Identifiers, "nx-os")

	aci, ok := cfg.DeviceDefaults["aci"]
	require.True(t, ok)
	assert.Contains(t, aci.Identifiers, "aci")
}

func TestLoadOverrides(t *testing.T) {
	path := writeTempConfig(t, `
transfer:
  vrf: default
  ftp_timeout: 120s
boot:
  attempts: 2
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Transfer.VRF)
	assert.Equal(t, 120*time.Second, cfg.Transfer.FTPTimeout)
	assert.Equal(t, 2, cfg.Boot.Attempts)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Same(t, cfg, Get())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
