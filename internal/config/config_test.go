package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvm-keeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Device)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, "none", cfg.Serial.Parity)
	assert.Equal(t, "1", cfg.Serial.StopBits)
	assert.Equal(t, 10, cfg.KVM.MaxPorts)
	assert.Equal(t, 500*time.Millisecond, cfg.KVM.SettleDelay)
	assert.Equal(t, "mleeda-kvm1001a", cfg.KVM.Model)
	assert.True(t, cfg.Backend.Enabled)
	assert.True(t, cfg.Backend.AutoRestart)
	assert.Equal(t, "python3", cfg.Backend.Command)
	assert.Equal(t, []string{"main.py"}, cfg.Backend.Args)
	assert.Equal(t, "Uvicorn running on", cfg.Backend.ReadinessMarker)
	assert.Equal(t, 3*time.Second, cfg.Backend.StartGrace)
	assert.Equal(t, 2*time.Second, cfg.Backend.HealthTimeout)
	assert.Equal(t, "kvm.events", cfg.Events.Subject)
	assert.Equal(t, "Server 7", cfg.KVM.PortName(7))
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
serial:
  device: /dev/ttyACM0
  baud_rate: 9600
kvm:
  max_ports: 4
  settle_delay: 250ms
  port_names:
    "2": NAS
backend:
  args: ["app.py", "--port", "9000"]
  min_restart_interval: 10s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Device)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 4, cfg.KVM.MaxPorts)
	assert.Equal(t, 250*time.Millisecond, cfg.KVM.SettleDelay)
	assert.Equal(t, "NAS", cfg.KVM.PortName(2))
	assert.Equal(t, "Server 1", cfg.KVM.PortName(1))
	assert.Equal(t, []string{"app.py", "--port", "9000"}, cfg.Backend.Args)
	assert.Equal(t, 10*time.Second, cfg.Backend.MinRestartInterval)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("KVM_SERIAL_PORT", "/dev/ttyS3")
	t.Setenv("KVM_BAUD_RATE", "57600")
	t.Setenv("KVM_MAX_PORTS", "8")
	t.Setenv("KVM_AUTO_RESTART", "false")
	t.Setenv("KVM_PORT_3_NAME", "Build Box")
	t.Setenv("KVM_BACKEND_START_GRACE", "7s")

	path := writeConfig(t, `
serial:
  device: /dev/ttyUSB1
kvm:
  port_names:
    "3": from-file
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS3", cfg.Serial.Device)
	assert.Equal(t, 57600, cfg.Serial.BaudRate)
	assert.Equal(t, 8, cfg.KVM.MaxPorts)
	assert.False(t, cfg.Backend.AutoRestart)
	assert.Equal(t, "Build Box", cfg.KVM.PortName(3))
	assert.Equal(t, 7*time.Second, cfg.Backend.StartGrace)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestInitAndGet(t *testing.T) {
	path := writeConfig(t, "kvm:\n  max_ports: 5\n")
	require.NoError(t, Init(path))
	assert.Equal(t, 5, Get().KVM.MaxPorts)
}

func validConfig(t *testing.T) *AppConfig {
	t.Helper()
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr string
	}{
		{"valid", func(c *AppConfig) {}, ""},
		{"bad baud", func(c *AppConfig) { c.Serial.BaudRate = 12345 }, "baud_rate"},
		{"bad data bits", func(c *AppConfig) { c.Serial.DataBits = 9 }, "data_bits"},
		{"bad parity", func(c *AppConfig) { c.Serial.Parity = "sometimes" }, "parity"},
		{"parity case folded", func(c *AppConfig) { c.Serial.Parity = "EVEN" }, ""},
		{"bad stop bits", func(c *AppConfig) { c.Serial.StopBits = "3" }, "stop_bits"},
		{"zero read timeout with read_response", func(c *AppConfig) { c.Serial.ReadTimeout = 0 }, "read_timeout"},
		{"zero read timeout without read_response", func(c *AppConfig) {
			c.Serial.ReadTimeout = 0
			c.Serial.ReadResponse = false
		}, ""},
		{"zero ports", func(c *AppConfig) { c.KVM.MaxPorts = 0 }, "max_ports"},
		{"test port out of range", func(c *AppConfig) { c.KVM.TestPort = 11 }, "test_port"},
		{"bad port name key", func(c *AppConfig) { c.KVM.PortNames["x"] = "y" }, "port_names"},
		{"negative settle", func(c *AppConfig) { c.KVM.SettleDelay = -time.Second }, "settle_delay"},
		{"no command", func(c *AppConfig) { c.Backend.Command = "" }, "command"},
		{"disabled backend skips checks", func(c *AppConfig) {
			c.Backend.Enabled = false
			c.Backend.Command = ""
		}, ""},
		{"bad readiness mode", func(c *AppConfig) { c.Backend.ReadinessMode = "psychic" }, "readiness_mode"},
		{"probe without url", func(c *AppConfig) {
			c.Backend.ReadinessMode = ReadinessProbe
			c.Backend.HealthURL = ""
		}, "health_url"},
		{"zero grace", func(c *AppConfig) { c.Backend.StartGrace = 0 }, "start_grace"},
		{"bad log level", func(c *AppConfig) { c.Log.Level = "loud" }, "level"},
		{"no listener", func(c *AppConfig) {
			c.Server.Address = ""
			c.Server.Socket = ""
		}, "address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
