package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yodaldevoid/MyoBlueZ/internal/device"
	"github.com/yodaldevoid/MyoBlueZ/internal/protocol"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendBlueZ, cfg.Backend)
	assert.Equal(t, "hci0", cfg.Adapter)
	assert.Equal(t, 30*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.ResolveTimeout)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMax)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 3, cfg.NotifyRetries)
	assert.Equal(t, OutputText, cfg.OutputFormat)
	assert.Empty(t, cfg.MetricsAddr)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			expected: logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: "info",
			expected: logrus.InfoLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			expected: logrus.WarnLevel,
		},
		{
			name:     "falls back to info on unknown level",
			logLevel: "chatty",
			expected: logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_Modes(t *testing.T) {
	cfg := DefaultConfig()

	modes, err := cfg.Modes()
	require.NoError(t, err)
	assert.Equal(t, device.Modes{
		EMG:        protocol.EMGModeNone,
		IMU:        protocol.IMUModeSendData,
		Classifier: protocol.ClassifierModeEnabled,
	}, modes)
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x01, 0x01},
		protocol.EncodeModeCommand(modes.EMG, modes.IMU, modes.Classifier),
		"default modes MUST encode to the startup command")

	cfg.EMGMode = "raw"
	cfg.IMUMode = "all"
	cfg.ClassifierMode = "disabled"
	modes, err = cfg.Modes()
	require.NoError(t, err)
	assert.Equal(t, protocol.EMGModeRaw, modes.EMG)
	assert.Equal(t, protocol.IMUModeSendAll, modes.IMU)
	assert.Equal(t, protocol.ClassifierModeDisabled, modes.Classifier)

	cfg.IMUMode = "sideways"
	_, err = cfg.Modes()
	assert.ErrorContains(t, err, "imu_mode")
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adapter = "hci1"
	cfg.ScanTimeout = 0
	cfg.NotifyRetries = 5

	assert.Equal(t, device.Options{
		Adapter:         "hci1",
		ScanTimeout:     0,
		ResolveTimeout:  10 * time.Second,
		ReconnectMax:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		NotifyRetries:   5,
	}, cfg.Options())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "accepts goble backend",
			mutate: func(c *Config) { c.Backend = BackendGoBLE },
		},
		{
			name:   "accepts json output",
			mutate: func(c *Config) { c.OutputFormat = OutputJSON },
		},
		{
			name:    "rejects unknown backend",
			mutate:  func(c *Config) { c.Backend = "winrt" },
			wantErr: "backend",
		},
		{
			name:    "rejects unknown output format",
			mutate:  func(c *Config) { c.OutputFormat = "table" },
			wantErr: "output_format",
		},
		{
			name:    "rejects unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "chatty" },
			wantErr: "log_level",
		},
		{
			name:    "rejects empty adapter",
			mutate:  func(c *Config) { c.Adapter = " " },
			wantErr: "adapter",
		},
		{
			name:    "rejects negative timeout",
			mutate:  func(c *Config) { c.ResolveTimeout = -time.Second },
			wantErr: "resolve_timeout",
		},
		{
			name:    "rejects negative retries",
			mutate:  func(c *Config) { c.NotifyRetries = -1 },
			wantErr: "notify_retries",
		},
		{
			name:    "rejects unknown emg mode",
			mutate:  func(c *Config) { c.EMGMode = "loud" },
			wantErr: "emg_mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file overrides only the keys it sets", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "myobluez.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
backend: goble
scan_timeout: 5s
emg_mode: filtered
metrics_addr: "127.0.0.1:9464"
`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, BackendGoBLE, cfg.Backend)
		assert.Equal(t, 5*time.Second, cfg.ScanTimeout)
		assert.Equal(t, "filtered", cfg.EMGMode)
		assert.Equal(t, "127.0.0.1:9464", cfg.MetricsAddr)
		assert.Equal(t, "hci0", cfg.Adapter, "unset keys MUST keep their defaults")
		assert.Equal(t, 10*time.Second, cfg.ResolveTimeout, "unset keys MUST keep their defaults")
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "failed to read config")
	})

	t.Run("invalid yaml fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("scan_timeout: [\n"), 0o600))
		_, err := Load(path)
		assert.ErrorContains(t, err, "failed to parse config")
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("backend: winrt\n"), 0o600))
		_, err := Load(path)
		assert.ErrorContains(t, err, "backend")
	})
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}

func BenchmarkConfig_NewLogger(b *testing.B) {
	cfg := DefaultConfig()
	for i := 0; i < b.N; i++ {
		_ = cfg.NewLogger()
	}
}
