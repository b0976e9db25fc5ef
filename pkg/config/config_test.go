package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pm5link.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Empty(t, cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Device.ConnectTimeout)
	assert.Equal(t, 128, cfg.Device.QueueSize)
	assert.Empty(t, cfg.Device.Address)
	assert.Equal(t, "pm5link.db", cfg.Logbook.Path)
	assert.Equal(t, "127.0.0.1:8080", cfg.Relay.Listen)
	assert.Equal(t, 64, cfg.Relay.ClientBuffer)
	assert.Equal(t, 5*time.Second, cfg.Relay.WriteTimeout)
	assert.InDelta(t, 4.0, cfg.Monitor.RefreshRate, 1e-9)
	assert.NoError(t, cfg.Validate(), "defaults MUST be valid")
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
device:
  address: "c8:2e:47:01:02:03"
  connect_timeout: 10s
logbook:
  path: /var/lib/pm5link/logbook.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "c8:2e:47:01:02:03", cfg.Device.Address)
	assert.Equal(t, 10*time.Second, cfg.Device.ConnectTimeout)
	assert.Equal(t, 128, cfg.Device.QueueSize, "unset values MUST keep defaults")
	assert.Equal(t, "/var/lib/pm5link/logbook.db", cfg.Logbook.Path)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, "device:\n  adress: typo\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adress")
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "log_level: loud\ndevice:\n  queue_size: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "queue_size")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvAddress, "aa:bb:cc:dd:ee:ff")
	t.Setenv(EnvLogbook, "/tmp/other.db")

	cfg, err := Load(writeConfig(t, "device:\n  address: \"c8:2e:47:01:02:03\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.Device.Address, "environment MUST win over the file")
	assert.Equal(t, "/tmp/other.db", cfg.Logbook.Path)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "debug", logLevel: "debug", want: logrus.DebugLevel},
		{name: "info", logLevel: "info", want: logrus.InfoLevel},
		{name: "warn", logLevel: "warn", want: logrus.WarnLevel},
		{name: "error", logLevel: "error", want: logrus.ErrorLevel},
		{name: "invalid falls back to info", logLevel: "chatty", want: logrus.InfoLevel},
		{name: "unset falls back to info", logLevel: "", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
