package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sunrise/air"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sunrise.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.Equal(t, 2*time.Second, cfg.ReadyTimeout)
	mode, err := cfg.MeasurementMode()
	require.NoError(t, err)
	assert.Equal(t, air.ModeSingle, mode)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
transport: i2c
bus: /dev/i2c-1
address: 0x68
enable:
  driver: expander
  pin: A3
  expander_address: 0x21
ready:
  driver: host
  pin: GPIO27
interval: 1m
ready_timeout: 1500ms
format: csv
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportI2C, cfg.Transport)
	assert.Equal(t, "/dev/i2c-1", cfg.Bus)
	assert.Equal(t, uint8(0x68), cfg.Address)
	assert.Equal(t, Pin{Driver: PinExpander, Pin: "A3", ExpanderAddress: 0x21}, cfg.Enable)
	assert.Equal(t, Pin{Driver: PinHost, Pin: "GPIO27"}, cfg.Ready)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 1500*time.Millisecond, cfg.ReadyTimeout)
	assert.Equal(t, "csv", cfg.Format)
	// not in the file
	assert.Equal(t, "single", cfg.Mode)
	assert.Equal(t, -1, cfg.GobotBus)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "could not read config file")

	_, err = Load(writeConfig(t, "interval: [1, 2"))
	assert.ErrorContains(t, err, "could not parse config file")

	_, err = Load(writeConfig(t, "mode: burst"))
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, air.ErrInvalidMode)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown transport",
			modify:  func(c *Config) { c.Transport = "spi" },
			wantErr: `invalid configuration: unknown transport "spi"`,
		},
		{
			name:    "reserved address",
			modify:  func(c *Config) { c.Address = 0x7F },
			wantErr: "invalid configuration: sensor address 0x7f out of range",
		},
		{
			name:    "unknown format",
			modify:  func(c *Config) { c.Format = "json" },
			wantErr: `invalid configuration: report: unknown format: "json"`,
		},
		{
			name:    "zero interval",
			modify:  func(c *Config) { c.Interval = 0 },
			wantErr: "invalid configuration: interval must be positive",
		},
		{
			name:    "timeout longer than interval",
			modify:  func(c *Config) { c.ReadyTimeout = 10 * time.Minute },
			wantErr: "invalid configuration: ready timeout must be positive and shorter than the interval",
		},
		{
			name:    "ready on expander",
			modify:  func(c *Config) { c.Ready = Pin{Driver: PinExpander, Pin: "A1", ExpanderAddress: 0x21} },
			wantErr: `invalid configuration: ready pin driver "expander" not supported (use one of [mcp2221 host])`,
		},
		{
			name:    "enable pin missing",
			modify:  func(c *Config) { c.Enable.Pin = "" },
			wantErr: "invalid configuration: enable pin not set",
		},
		{
			name:    "expander without address",
			modify:  func(c *Config) { c.Enable = Pin{Driver: PinExpander, Pin: "A0"} },
			wantErr: "invalid configuration: enable pin expander address not set",
		},
		{
			name:    "adapter pins without adapter",
			modify:  func(c *Config) { c.Transport = TransportGobot },
			wantErr: "invalid configuration: mcp2221 pins require the mcp2221 transport",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
