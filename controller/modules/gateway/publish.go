package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/pond-pi/pond-pi/controller/modules/faults"
)

// Publisher broadcasts telemetry and state. Every send is best effort; the
// returned error carries the Transport code.
type Publisher struct {
	conn      *net.UDPConn
	telemetry []*net.UDPAddr
	state     *net.UDPAddr
	mqtt      *Mirror
	log       *slog.Logger
}

// NewPublisher opens the UDP socket used for every target.
func NewPublisher(cfg Config, log *slog.Logger) (*Publisher, error) {
	p := &Publisher{log: log}
	for _, a := range cfg.Telemetry {
		addr, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			return nil, fmt.Errorf("telemetry address %s: %w", a, err)
		}
		p.telemetry = append(p.telemetry, addr)
	}
	if cfg.State != "" {
		addr, err := net.ResolveUDPAddr("udp", cfg.State)
		if err != nil {
			return nil, fmt.Errorf("state address %s: %w", cfg.State, err)
		}
		p.state = addr
	}
	// Unconnected, so a missing listener does not turn into write errors.
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	if cfg.MQTT.Enable {
		m, err := NewMirror(cfg.MQTT, log)
		if err != nil {
			log.Warn("mqtt mirror disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			p.mqtt = m
		}
	}
	return p, nil
}

// Telemetry sends r to every telemetry target and to the MQTT mirror.
func (p *Publisher) Telemetry(r Record) error {
	line := []byte(r.Format())
	var errs []error
	for _, addr := range p.telemetry {
		if _, err := p.conn.WriteToUDP(line, addr); err != nil {
			errs = append(errs, fmt.Errorf("telemetry to %s: %w", addr, err))
		}
	}
	if p.mqtt != nil {
		p.mqtt.Publish(TopicTelemetry, line)
	}
	return faults.Wrap(faults.Transport, errors.Join(errs...))
}

// State sends the JSON state blob to the state port.
func (p *Publisher) State(s State) error {
	if s.Tasks == nil {
		s.Tasks = []TaskState{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return faults.Wrap(faults.Transport, err)
	}
	if p.mqtt != nil {
		p.mqtt.Publish(TopicState, b)
	}
	if p.state == nil {
		return nil
	}
	if _, err := p.conn.WriteToUDP(b, p.state); err != nil {
		return faults.Wrap(faults.Transport, fmt.Errorf("state to %s: %w", p.state, err))
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.mqtt != nil {
		p.mqtt.Close()
	}
	return p.conn.Close()
}
