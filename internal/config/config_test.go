package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":5555", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 1, cfg.Devices.BoardRelay.SlaveID)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
devices:
  BOARD_RELAY:
    com_port: /dev/ttyS3
    slave_id: 9
    read_settings:
      interval_ms: 250
  SOFTWARE_COMMAND:
    com_port: /dev/ttyS4
    dry_run: true
logging:
  level: debug
listen_addr: ":6000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS3", cfg.Devices.BoardRelay.ComPort)
	assert.Equal(t, 9, cfg.Devices.BoardRelay.SlaveID)
	assert.Equal(t, 250, cfg.Devices.BoardRelay.ReadSettings.IntervalMs)
	assert.Equal(t, "/dev/ttyS4", cfg.Devices.SoftwareCommand.ComPort)
	assert.True(t, cfg.Devices.SoftwareCommand.DryRun)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":6000", cfg.ListenAddr)
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsOutOfRangeSlaveID(t *testing.T) {
	cfg := defaultConfig()
	cfg.Devices.BoardRelay.SlaveID = 300
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsZeroPollInterval(t *testing.T) {
	cfg := defaultConfig()
	cfg.Devices.BoardRelay.ReadSettings.IntervalMs = 0
	assert.Error(t, Validate(cfg))
}
