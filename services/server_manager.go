package services

import (
	"context"

	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/env"
	"github.com/flowy2k/kvm-manager-v2/internal/logger"
	"github.com/flowy2k/kvm-manager-v2/internal/models"
	"github.com/flowy2k/kvm-manager-v2/internal/serial"
)

type Server struct {
	cfg        *config.AppConfig
	health     *HealthMonitor
	supervisor *Supervisor
	events     *EventPublisher
	gateway    *Gateway
}

/**
 * Create new server instance with all managers
 * @param {*config.AppConfig} cfg - Application configuration
 * @returns {*Server} Server with supervisor, serial registry and gateway wired together
 * @returns {error} Unknown KVM model or invalid port count
 * @description
 * - The supervisor is only created when backend.enabled is true
 * - A NATS connection failure disables events, it is never fatal
 */
func NewServer(cfg *config.AppConfig) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		health: NewHealthMonitor(),
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		logger.Warnf("Events disabled, cannot connect to %s: %v", cfg.Events.URL, err)
		events = nil
	}
	s.events = events

	opts := GatewayOptions{
		Health:   s.health,
		Registry: serial.NewRegistry(serial.SettingsFromConfig(cfg.Serial), nil),
		Events:   s.events,
	}
	if cfg.Backend.Enabled {
		s.supervisor = NewSupervisor(cfg.Backend, s.health)
		s.supervisor.OnStateChange(ObserveBackendState)
		s.supervisor.OnStateChange(s.events.PublishStateChange)
		opts.Backend = s.supervisor
	}

	gw, err := NewGateway(cfg, opts)
	if err != nil {
		return nil, err
	}
	s.gateway = gw
	return s, nil
}

func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Supervisor returns nil when no backend is configured
func (s *Server) Supervisor() *Supervisor {
	return s.supervisor
}

/**
 * Start the backend and the sweep loop
 * @param {context.Context} ctx - Cancelling ctx stops the sweep loop
 * @description
 * - The backend is spawned right away only when backend.auto_start is set,
 *   otherwise the first switch request starts it
 */
func (s *Server) Start(ctx context.Context) {
	s.events.PublishServiceStart(env.Version)
	if s.supervisor == nil {
		logger.Info("No backend configured, running as a plain switch gateway")
		return
	}
	if s.cfg.Backend.AutoStart {
		if err := s.supervisor.Start(ctx); err != nil {
			logger.Errorf("Start backend [%s] failed: %v", s.supervisor.Name(), err)
		}
	}
	go s.supervisor.Run(ctx)
}

/**
 * Stop the backend and release event resources
 * @param {context.Context} ctx - Bounds the backend stop
 * @param {string} reason - Reported in the service_stop event
 */
func (s *Server) Shutdown(ctx context.Context, reason string) {
	if s.supervisor != nil && s.supervisor.State() != models.StateNotStarted {
		if err := s.supervisor.Stop(ctx); err != nil {
			logger.Errorf("Stop backend [%s] failed: %v", s.supervisor.Name(), err)
		}
	}
	s.events.PublishServiceStop(reason)
	s.events.Close()
}
