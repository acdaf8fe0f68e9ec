package actuator

import (
	"fmt"
	"sync"

	"github.com/reef-pi/hal"
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "pond-pi"

var (
	_ hal.DigitalOutputPin = (*cdevPin)(nil)
	_ hal.DigitalOutputPin = (*MemPin)(nil)
)

// cdevPin drives one BCM line through the GPIO character device.
type cdevPin struct {
	name  string
	line  *gpiocdev.Line
	num   int
	state bool
	meta  hal.Metadata
}

func openCdev(chip, name string, num int, initial bool) (*cdevPin, error) {
	l, err := gpiocdev.RequestLine(chip, num, gpiocdev.AsOutput(level(initial)), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("request %s line %d: %w", chip, num, err)
	}
	return &cdevPin{
		name:  name,
		line:  l,
		num:   num,
		state: initial,
		meta: hal.Metadata{
			Name:         name,
			Description:  fmt.Sprintf("%s line %d", chip, num),
			Capabilities: []hal.Capability{hal.DigitalOutput},
		},
	}, nil
}

func level(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (p *cdevPin) Name() string           { return p.name }
func (p *cdevPin) Number() int            { return p.num }
func (p *cdevPin) Metadata() hal.Metadata { return p.meta }
func (p *cdevPin) LastState() bool        { return p.state }

func (p *cdevPin) Write(state bool) error {
	if err := p.line.SetValue(level(state)); err != nil {
		return err
	}
	p.state = state
	return nil
}

func (p *cdevPin) Close() error {
	return p.line.Close()
}

const maxWrites = 64

// MemPin is an in-memory output used in dev mode and tests. It records every
// write, up to the last 64, and can be told to fail.
type MemPin struct {
	name string
	num  int

	mu     sync.Mutex
	state  bool
	writes []bool
	Fail   error
}

// NewMemPin returns an in-memory pin at the initial level.
func NewMemPin(name string, num int, initial bool) *MemPin {
	return &MemPin{name: name, num: num, state: initial}
}

func (p *MemPin) Name() string { return p.name }
func (p *MemPin) Number() int  { return p.num }
func (p *MemPin) Close() error { return nil }

func (p *MemPin) Metadata() hal.Metadata {
	return hal.Metadata{Name: p.name, Capabilities: []hal.Capability{hal.DigitalOutput}}
}

func (p *MemPin) Write(state bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		return p.Fail
	}
	p.state = state
	p.writes = append(p.writes, state)
	if len(p.writes) > maxWrites {
		p.writes = p.writes[len(p.writes)-maxWrites:]
	}
	return nil
}

func (p *MemPin) LastState() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Writes returns the sequence of levels written so far.
func (p *MemPin) Writes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.writes...)
}
