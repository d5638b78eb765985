package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowy2k/kvm-manager-v2/internal/logger"
	"github.com/flowy2k/kvm-manager-v2/internal/models"
)

// Exchanger performs one write-then-settle exchange on a device
type Exchanger interface {
	Exchange(payload []byte, delay time.Duration) ([]byte, error)
	Device() string
}

// Switcher drives a KVM model over an Exchanger
type Switcher struct {
	model       *Model
	maxPorts    int
	settleDelay time.Duration
}

/**
 * Create a switcher
 * @param {*Model} model - Hardware model
 * @param {int} maxPorts - Usable ports, 0 means the model capacity
 * @param {time.Duration} settleDelay - Wait after each command
 */
func NewSwitcher(model *Model, maxPorts int, settleDelay time.Duration) (*Switcher, error) {
	if maxPorts == 0 {
		maxPorts = model.Capacity()
	}
	if maxPorts < 1 || maxPorts > model.Capacity() {
		return nil, fmt.Errorf("max ports %d outside 1-%d supported by %s", maxPorts, model.Capacity(), model.Name())
	}
	if settleDelay < 0 {
		return nil, fmt.Errorf("settle delay must be non-negative")
	}
	return &Switcher{
		model:       model,
		maxPorts:    maxPorts,
		settleDelay: settleDelay,
	}, nil
}

func (s *Switcher) Model() *Model {
	return s.model
}

func (s *Switcher) MaxPorts() int {
	return s.maxPorts
}

// Ports returns 1..maxPorts
func (s *Switcher) Ports() []int {
	ports := make([]int, s.maxPorts)
	for i := range ports {
		ports[i] = i + 1
	}
	return ports
}

// Validate fails with InvalidPort when port is outside [1, maxPorts]
func (s *Switcher) Validate(port int) error {
	if port < 1 || port > s.maxPorts {
		return models.NewKindError(models.KindInvalidPort, nil, "Invalid port number: %d. Must be 1-%d.", port, s.maxPorts)
	}
	return nil
}

/**
 * Switch the KVM to port
 * @param {Exchanger} ch - Open device
 * @param {int} port - Target port
 * @returns {models.SwitchResult} Outcome, Success means the command was written
 * @returns {error} InvalidPort only, checked before any I/O
 * @description
 * - The hardware sends no acknowledgement, success never means the switch was observed
 * - Channel failures are reported in the result, never retried
 */
func (s *Switcher) Switch(ch Exchanger, port int) (models.SwitchResult, error) {
	return s.SwitchSince(ch, port, time.Now())
}

// SwitchSince is Switch with Elapsed measured from start, so callers can include their own waiting
func (s *Switcher) SwitchSince(ch Exchanger, port int, start time.Time) (models.SwitchResult, error) {
	if err := s.Validate(port); err != nil {
		return models.SwitchResult{
			Port:    port,
			Error:   models.KindInvalidPort,
			Message: models.MessageOf(err),
			Elapsed: time.Since(start),
		}, err
	}

	cmd, _ := s.model.Encode(port)
	logger.Infof("Switching to port %d on %s", port, ch.Device())

	resp, err := ch.Exchange([]byte(cmd), s.settleDelay)
	if err != nil {
		kind := models.KindOf(err)
		if kind == models.KindNone {
			kind = models.KindIoError
		}
		logger.Errorf("Switch to port %d on %s failed: %v", port, ch.Device(), err)
		return models.SwitchResult{
			Port:    port,
			Command: cmd,
			Error:   kind,
			Message: models.MessageOf(err),
			Elapsed: time.Since(start),
		}, nil
	}

	response := strings.TrimSpace(string(resp))
	logger.Infof("Successfully switched to port %d", port)
	logger.Debugf("Command: %s, Response: %q", cmd, response)
	return models.SwitchResult{
		Success:  true,
		Port:     port,
		Command:  cmd,
		Response: response,
		Elapsed:  time.Since(start),
	}, nil
}

// TestConnection switches to a known-safe port and reports whether the write went through
func (s *Switcher) TestConnection(ch Exchanger, samplePort int) bool {
	result, err := s.Switch(ch, samplePort)
	return err == nil && result.Success
}
