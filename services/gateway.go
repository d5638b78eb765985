package services

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/env"
	"github.com/flowy2k/kvm-manager-v2/internal/logger"
	"github.com/flowy2k/kvm-manager-v2/internal/models"
	"github.com/flowy2k/kvm-manager-v2/internal/protocol"
	"github.com/flowy2k/kvm-manager-v2/internal/serial"
)

// Backend is the supervised backend as seen by the gateway
type Backend interface {
	State() models.ServiceState
	Start(ctx context.Context) error
	EnsureStarted(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	WaitReady(ctx context.Context) error
	Detail() models.ProcessDetail
}

// PortLister enumerates serial devices, serial.List in production
type PortLister func(all bool) ([]models.SerialPortInfo, error)

/**
 * Gateway is the operation surface behind the HTTP controllers and the CLI
 * @property {Backend} backend - nil when no backend is supervised
 * @property {*serial.Registry} registry - Per-device serialization point
 * @property {*protocol.Switcher} switcher - Port validation and command encoding
 */
type Gateway struct {
	cfg       *config.AppConfig
	backend   Backend
	health    *HealthMonitor
	registry  *serial.Registry
	switcher  *protocol.Switcher
	events    *EventPublisher
	listPorts PortLister
	startTime time.Time
}

type GatewayOptions struct {
	Backend    Backend
	Health     *HealthMonitor
	Registry   *serial.Registry
	Events     *EventPublisher
	PortLister PortLister
}

/**
 * Create the gateway
 * @param {*config.AppConfig} cfg - Application configuration
 * @param {GatewayOptions} opts - Collaborators, zero values get production defaults
 * @returns {error} Unknown KVM model or max_ports above the model capacity
 */
func NewGateway(cfg *config.AppConfig, opts GatewayOptions) (*Gateway, error) {
	model, err := protocol.LookupModel(cfg.KVM.Model)
	if err != nil {
		return nil, err
	}
	switcher, err := protocol.NewSwitcher(model, cfg.KVM.MaxPorts, cfg.KVM.SettleDelay)
	if err != nil {
		return nil, err
	}
	if opts.Health == nil {
		opts.Health = NewHealthMonitor()
	}
	if opts.Registry == nil {
		opts.Registry = serial.NewRegistry(serial.SettingsFromConfig(cfg.Serial), nil)
	}
	if opts.PortLister == nil {
		opts.PortLister = serial.List
	}
	return &Gateway{
		cfg:       cfg,
		backend:   opts.Backend,
		health:    opts.Health,
		registry:  opts.Registry,
		switcher:  switcher,
		events:    opts.Events,
		listPorts: opts.PortLister,
		startTime: time.Now(),
	}, nil
}

func (g *Gateway) Switcher() *protocol.Switcher {
	return g.switcher
}

func (g *Gateway) Backend() Backend {
	return g.backend
}

/**
 * Switch the KVM to port on serialPath
 * @param {context.Context} ctx - Bounds the backend wait and the wait for the device
 * @param {string} serialPath - Device path, "" for the configured default
 * @param {int} port - Target port
 * @returns {models.SwitchResult} Outcome of the attempt
 * @returns {error} InvalidPort or ServiceUnavailable, in both cases no serial I/O happened
 * @description
 * - Device and I/O failures are reported in the result, not as error
 */
func (g *Gateway) HandleSwitch(ctx context.Context, serialPath string, port int) (models.SwitchResult, error) {
	start := time.Now()
	if err := g.switcher.Validate(port); err != nil {
		return models.SwitchResult{
			Port:    port,
			Error:   models.KindInvalidPort,
			Message: models.MessageOf(err),
			Elapsed: time.Since(start),
		}, err
	}

	if err := g.ensureBackend(ctx); err != nil {
		logger.Warnf("Switch to port %d rejected: %v", port, err)
		return models.SwitchResult{
			Port:    port,
			Error:   models.KindServiceUnavailable,
			Message: models.MessageOf(err),
			Elapsed: time.Since(start),
		}, err
	}

	if serialPath == "" {
		serialPath = g.cfg.Serial.Device
	}
	logger.Infof("Switch request: port=%d, serial_port=%s", port, serialPath)

	var result models.SwitchResult
	err := g.registry.Do(ctx, serialPath, func(ch *serial.Channel) error {
		result, _ = g.switcher.SwitchSince(ch, port, start)
		return nil
	})
	if err != nil {
		cmd, _ := g.switcher.Model().Encode(port)
		result = models.SwitchResult{
			Port:    port,
			Command: cmd,
			Error:   models.KindOf(err),
			Message: models.MessageOf(err),
			Elapsed: time.Since(start),
		}
		logger.Errorf("Switch to port %d on %s failed: %v", port, serialPath, err)
	}

	if !result.Success {
		logger.Warnf("Switch operation failed: %s", result.Message)
	}
	RecordSwitch(result)
	g.events.PublishSwitch(serialPath, result)
	return result, nil
}

// ensureBackend 确保后端已经就绪，必要时启动它并等待start_grace
func (g *Gateway) ensureBackend(ctx context.Context) error {
	if g.backend == nil {
		return nil
	}
	state := g.backend.State()
	if state == models.StateReady {
		return nil
	}
	if state == models.StateNotStarted || state == models.StateCrashed {
		logger.Infof("Backend is %s, starting it", state)
		if err := g.backend.EnsureStarted(ctx); err != nil {
			if models.KindOf(err) == models.KindServiceUnavailable {
				return err
			}
			return models.NewKindError(models.KindServiceUnavailable, err,
				"backend service failed to start, retry later")
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.cfg.Backend.StartGrace)
	defer cancel()
	if err := g.backend.WaitReady(waitCtx); err != nil {
		return models.NewKindError(models.KindServiceUnavailable, err,
			"backend service is not ready (%s), retry later", g.backend.State())
	}
	return nil
}

// HandleStatus returns the backend state without side effects
func (g *Gateway) HandleStatus() models.StatusResponse {
	if g.backend == nil {
		return models.StatusResponse{
			ProcessState: models.StateNotStarted,
			HealthState:  models.HealthUnreachable,
		}
	}
	health, _ := g.health.Last(g.cfg.Backend.HealthURL)
	detail := g.backend.Detail()
	return models.StatusResponse{
		ProcessState: detail.State,
		HealthState:  health,
		Process:      detail,
	}
}

// Ports returns the configured ports with their commands and names
func (g *Gateway) Ports() models.PortsResponse {
	ports := g.switcher.Ports()
	commands := make(map[string]string, len(ports))
	names := make(map[string]string, len(ports))
	for port, cmd := range g.switcher.Model().Commands(g.switcher.MaxPorts()) {
		key := strconv.Itoa(port)
		commands[key] = cmd
		names[key] = g.cfg.KVM.PortName(port)
	}
	return models.PortsResponse{
		Model:          g.switcher.Model().Name(),
		AvailablePorts: ports,
		Commands:       commands,
		PortNames:      names,
	}
}

// SerialPorts enumerates serial adapters and picks the default device, an enumeration failure gives an empty list
func (g *Gateway) SerialPorts() models.SerialPortsResponse {
	ports, err := g.listPorts(false)
	if err != nil {
		logger.Errorf("Error getting serial ports: %v", err)
		ports = nil
	}
	if ports == nil {
		ports = []models.SerialPortInfo{}
	}
	return models.SerialPortsResponse{
		SerialPorts: ports,
		DefaultPort: serial.DefaultDevice(ports),
	}
}

/**
 * Test a serial device
 * @param {context.Context} ctx - Bounds the wait for the device
 * @param {string} serialPath - Device path, "" for the configured default
 * @param {bool} sendTest - Also switch to kvm.test_port
 * @returns {models.SerialTestResponse} Never fails, errors are part of the response
 */
func (g *Gateway) TestSerial(ctx context.Context, serialPath string, sendTest bool) models.SerialTestResponse {
	if serialPath == "" {
		serialPath = g.cfg.Serial.Device
	}
	settings := g.registry.Settings()

	var resp models.SerialTestResponse
	err := g.registry.Do(ctx, serialPath, func(ch *serial.Channel) error {
		if sendTest && !g.switcher.TestConnection(ch, g.cfg.KVM.TestPort) {
			return models.NewKindError(models.KindIoError, nil, "test switch to port %d failed", g.cfg.KVM.TestPort)
		}
		return nil
	})
	if err != nil {
		resp.Error = fmt.Sprintf("Failed to connect to %s: %s", serialPath, models.MessageOf(err))
		return resp
	}
	resp.Success = true
	resp.Message = fmt.Sprintf("Successfully connected to %s", serialPath)
	resp.PortInfo = &models.SerialPortMode{
		Name:     serialPath,
		BaudRate: settings.BaudRate,
		Timeout:  settings.ReadTimeout.String(),
	}
	return resp
}

// Health returns the health summary of the keeper itself
func (g *Gateway) Health() models.HealthResponse {
	count := 0
	if ports, err := g.listPorts(false); err == nil {
		count = len(ports)
	}
	backend := models.StateNotStarted
	if g.backend != nil {
		backend = g.backend.State()
	}
	return models.HealthResponse{
		Status:           "healthy",
		Service:          "KVM Manager Service",
		Version:          env.Version,
		GoVersion:        runtime.Version(),
		StartTime:        g.startTime.Format(time.RFC3339),
		Uptime:           time.Since(g.startTime).Truncate(time.Second).String(),
		SerialPortsCount: count,
		Backend:          backend,
		Metrics:          GetMetrics(),
	}
}
