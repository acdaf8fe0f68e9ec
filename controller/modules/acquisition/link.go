package acquisition

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Link delivers raw frames from the sensor board.
type Link interface {
	// Poll drains whatever arrived since the last call without blocking and
	// returns the most recent complete frame, if any.
	Poll() (Frame, bool, error)
	Close() error
}

type SerialConfig struct {
	Port     string        `yaml:"port" json:"port"`
	Baud     int           `yaml:"baud" json:"baud"`
	MaxReads int           `yaml:"max_reads" json:"max_reads"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	Settle   time.Duration `yaml:"settle" json:"settle"`
}

func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Port:     "/dev/ttyACM0",
		Baud:     115200,
		MaxReads: 200,
		Timeout:  time.Millisecond,
		Settle:   3 * time.Second,
	}
}

const maxPending = 4096

// ErrDecode marks a line with the right field count whose fields are not
// integer counts.
var ErrDecode = errors.New("undecodable frame")

// ParseFrame decodes "a0,a1". Anything else is rejected.
func ParseFrame(line string) (Frame, error) {
	var f Frame
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != Channels {
		return f, fmt.Errorf("expected %d fields, got %d", Channels, len(parts))
	}
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return f, fmt.Errorf("%w: field %d: %v", ErrDecode, i, err)
		}
		f[i] = v
	}
	return f, nil
}

// lineReader is the part of serial.Port the link needs.
type lineReader interface {
	Read(p []byte) (int, error)
	Close() error
}

// SerialLink reads newline terminated frames from the sensor board.
type SerialLink struct {
	port     lineReader
	maxReads int
	pending  []byte
	buf      []byte

	settle time.Time
	now    func() time.Time
}

// OpenSerial opens the board's serial port. The Arduino resets when the port
// opens, so the link reports no frames until cfg.Settle has passed and then
// discards whatever arrived during the reset.
func OpenSerial(cfg SerialConfig) (*SerialLink, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	l := newSerialLink(port, cfg.MaxReads)
	l.settle = l.now().Add(cfg.Settle)
	return l, nil
}

func newSerialLink(r lineReader, maxReads int) *SerialLink {
	return &SerialLink{port: r, maxReads: maxReads, buf: make([]byte, 256), now: time.Now}
}

type inputResetter interface {
	ResetInputBuffer() error
}

// settled reports whether the board has finished its reset.
func (l *SerialLink) settled() (bool, error) {
	if l.settle.IsZero() {
		return true, nil
	}
	if l.now().Before(l.settle) {
		return false, nil
	}
	l.settle = time.Time{}
	if r, ok := l.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return false, fmt.Errorf("reset input: %w", err)
		}
	}
	return true, nil
}

// Poll drops lines with the wrong field count. A line that splits correctly
// but does not decode is dropped too and reported as ErrDecode.
func (l *SerialLink) Poll() (Frame, bool, error) {
	if ok, err := l.settled(); !ok {
		return Frame{}, false, err
	}
	var last string
	for reads := 0; reads < l.maxReads; reads++ {
		n, err := l.port.Read(l.buf)
		if err != nil {
			return Frame{}, false, err
		}
		if n == 0 {
			break
		}
		l.pending = append(l.pending, l.buf[:n]...)
		for {
			i := bytes.IndexByte(l.pending, '\n')
			if i < 0 {
				break
			}
			if line := strings.TrimSpace(string(l.pending[:i])); line != "" {
				last = line
			}
			l.pending = l.pending[i+1:]
		}
		if len(l.pending) > maxPending {
			l.pending = l.pending[:0]
		}
	}
	if last == "" {
		return Frame{}, false, nil
	}
	f, err := ParseFrame(last)
	if errors.Is(err, ErrDecode) {
		return Frame{}, false, err
	}
	if err != nil {
		return Frame{}, false, nil
	}
	return f, true, nil
}

func (l *SerialLink) Close() error {
	return l.port.Close()
}

// SimLink replays a fixed frame on every poll. Used in dev mode.
type SimLink struct {
	Frame Frame
}

func (s *SimLink) Poll() (Frame, bool, error) { return s.Frame, true, nil }
func (s *SimLink) Close() error               { return nil }
