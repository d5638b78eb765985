package config

import (
	"fmt"
	"strconv"
	"strings"
)

var (
	// Valid baud rates
	validBaudRates = map[int]bool{
		300:    true,
		1200:   true,
		2400:   true,
		4800:   true,
		9600:   true,
		19200:  true,
		38400:  true,
		57600:  true,
		115200: true,
		230400: true,
	}

	validParity = map[string]bool{
		"none":  true,
		"odd":   true,
		"even":  true,
		"mark":  true,
		"space": true,
	}

	validStopBits = map[string]bool{
		"1":   true,
		"1.5": true,
		"2":   true,
	}

	// Valid log levels
	validLogLevels = map[string]bool{
		"debug":   true,
		"info":    true,
		"warn":    true,
		"warning": true,
		"error":   true,
	}
)

// Validate performs comprehensive validation of the configuration
func (c *AppConfig) Validate() error {
	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.validateSerial(); err != nil {
		return fmt.Errorf("serial config: %w", err)
	}

	if err := c.validateKVM(); err != nil {
		return fmt.Errorf("kvm config: %w", err)
	}

	if err := c.validateBackend(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func (c *AppConfig) validateServer() error {
	if c.Server.Address == "" && c.Server.Socket == "" {
		return fmt.Errorf("address or socket is required")
	}
	return nil
}

func (c *AppConfig) validateSerial() error {
	s := &c.Serial
	if !validBaudRates[s.BaudRate] {
		return fmt.Errorf("invalid baud_rate %d, must be one of: 300, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400", s.BaudRate)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("data_bits must be 5-8, got: %d", s.DataBits)
	}
	s.Parity = strings.ToLower(s.Parity)
	if !validParity[s.Parity] {
		return fmt.Errorf("invalid parity %q, must be one of: none, odd, even, mark, space", s.Parity)
	}
	if !validStopBits[s.StopBits] {
		return fmt.Errorf("invalid stop_bits %q, must be one of: 1, 1.5, 2", s.StopBits)
	}
	if s.ReadTimeout < 0 {
		return fmt.Errorf("read_timeout must be non-negative")
	}
	if s.ReadResponse && s.ReadTimeout == 0 {
		return fmt.Errorf("read_timeout must be positive when read_response is enabled")
	}
	if s.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	return nil
}

func (c *AppConfig) validateKVM() error {
	k := &c.KVM
	if k.Model == "" {
		return fmt.Errorf("model is required")
	}
	if k.MaxPorts < 1 {
		return fmt.Errorf("max_ports must be at least 1, got: %d", k.MaxPorts)
	}
	if k.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must be non-negative")
	}
	if k.TestPort < 1 || k.TestPort > k.MaxPorts {
		return fmt.Errorf("test_port must be 1-%d, got: %d", k.MaxPorts, k.TestPort)
	}
	for key := range k.PortNames {
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 {
			return fmt.Errorf("port_names: invalid port %q", key)
		}
	}
	return nil
}

func (c *AppConfig) validateBackend() error {
	b := &c.Backend
	if !b.Enabled {
		return nil
	}
	if b.Command == "" {
		return fmt.Errorf("command is required when the backend is enabled")
	}
	switch b.ReadinessMode {
	case ReadinessMarker:
	case ReadinessProbe:
		if b.HealthURL == "" {
			return fmt.Errorf("health_url is required for readiness_mode %q", ReadinessProbe)
		}
	default:
		return fmt.Errorf("invalid readiness_mode %q, must be %q or %q", b.ReadinessMode, ReadinessMarker, ReadinessProbe)
	}
	if b.HealthTimeout <= 0 {
		return fmt.Errorf("health_timeout must be positive")
	}
	if b.StartGrace <= 0 {
		return fmt.Errorf("start_grace must be positive")
	}
	if b.StopGrace <= 0 {
		return fmt.Errorf("stop_grace must be positive")
	}
	if b.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if b.MaxRestartCount < 0 {
		return fmt.Errorf("max_restart_count must be non-negative")
	}
	if b.MinRestartInterval < 0 {
		return fmt.Errorf("min_restart_interval must be non-negative")
	}
	return nil
}

func (c *AppConfig) validateLogging() error {
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}
	if c.Log.MaxSize < 0 {
		return fmt.Errorf("max_size must be non-negative")
	}
	return nil
}
