package services

import (
	"encoding/json"
	"os"
	"time"

	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/logger"
	"github.com/flowy2k/kvm-manager-v2/internal/models"

	"github.com/nats-io/nats.go"
)

// Event types
const (
	EventServiceStart = "service_start"
	EventServiceStop  = "service_stop"
	EventStateChange  = "state_change"
	EventSwitch       = "switch"
)

// Event is published as JSON on the events subject
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Type      string         `json:"type"`
	Host      string         `json:"host"`
	Device    string         `json:"dev,omitempty"`
	Message   string         `json:"msg,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// eventConn is the part of *nats.Conn the publisher uses
type eventConn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
}

// EventPublisher publishes events to NATS. A nil publisher drops everything.
type EventPublisher struct {
	conn    eventConn
	nc      *nats.Conn
	subject string
	host    string
}

/**
 * Connect to NATS and create a publisher
 * @param {config.EventsConfig} cfg - Events configuration
 * @returns {*EventPublisher} nil when events are disabled (empty url)
 * @returns {error} Connection failure
 */
func NewEventPublisher(cfg config.EventsConfig) (*EventPublisher, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	host, _ := os.Hostname()
	opts := []nats.Option{
		nats.Name("kvm-keeper@" + host),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	logger.Infof("Publishing events to NATS %s, subject '%s'", cfg.URL, cfg.Subject)
	p := newEventPublisher(nc, cfg.Subject, host)
	p.nc = nc
	return p, nil
}

func newEventPublisher(conn eventConn, subject, host string) *EventPublisher {
	return &EventPublisher{
		conn:    conn,
		subject: subject,
		host:    host,
	}
}

// Publish sends an event. Safe to call on nil receiver.
func (e *EventPublisher) Publish(event Event) {
	if e == nil || e.conn == nil || !e.conn.IsConnected() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Host == "" {
		event.Host = e.host
	}

	data, err := json.Marshal(event)
	if err != nil {
		logger.Errorf("Failed to marshal event '%s': %v", event.Type, err)
		return
	}
	if err := e.conn.Publish(e.subject, data); err != nil {
		logger.Warnf("Failed to publish event '%s': %v", event.Type, err)
		return
	}
	logger.Debugf("Published event '%s': %s", event.Type, event.Message)
}

func (e *EventPublisher) PublishServiceStart(version string) {
	e.Publish(Event{
		Type:    EventServiceStart,
		Message: "kvm-keeper started",
		Details: map[string]any{"version": version},
	})
}

func (e *EventPublisher) PublishServiceStop(reason string) {
	e.Publish(Event{
		Type:    EventServiceStop,
		Message: "kvm-keeper stopping",
		Details: map[string]any{"reason": reason},
	})
}

// PublishStateChange has the signature of a Supervisor state callback
func (e *EventPublisher) PublishStateChange(from, to models.ServiceState) {
	e.Publish(Event{
		Type:    EventStateChange,
		Message: string(from) + " -> " + string(to),
		Details: map[string]any{
			"old_state": from,
			"new_state": to,
		},
	})
}

func (e *EventPublisher) PublishSwitch(device string, result models.SwitchResult) {
	details := map[string]any{
		"port":       result.Port,
		"success":    result.Success,
		"command":    result.Command,
		"elapsed_ms": result.Elapsed.Milliseconds(),
	}
	if result.Error != models.KindNone {
		details["error"] = result.Error
	}
	e.Publish(Event{
		Type:    EventSwitch,
		Device:  device,
		Message: result.Message,
		Details: details,
	})
}

// Close drains the NATS connection
func (e *EventPublisher) Close() {
	if e == nil || e.nc == nil {
		return
	}
	if err := e.nc.Drain(); err != nil {
		e.nc.Close()
	}
}
