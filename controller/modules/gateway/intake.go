package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Intake is the bounded hand-off between I/O goroutines and the control
// loop. Producers never block.
type Intake struct {
	ch chan string
}

// NewIntake returns an intake holding at most size commands.
func NewIntake(size int) *Intake {
	return &Intake{ch: make(chan string, size)}
}

// Offer enqueues a raw command. It returns false when the queue is full.
func (i *Intake) Offer(cmd string) bool {
	select {
	case i.ch <- cmd:
		return true
	default:
		return false
	}
}

// Drain returns everything queued so far without waiting.
func (i *Intake) Drain() []string {
	var cmds []string
	for {
		select {
		case c := <-i.ch:
			cmds = append(cmds, c)
		default:
			return cmds
		}
	}
}

// Server accepts one command per TCP connection.
type Server struct {
	ln      net.Listener
	in      *Intake
	log     *slog.Logger
	timeout time.Duration
	max     int
	retry   time.Duration
	wg      sync.WaitGroup
}

const acceptRetry = 50 * time.Millisecond

// Listen binds the command port. Accepted commands are offered to in.
func Listen(cfg Config, in *Intake, log *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Command)
	if err != nil {
		return nil, err
	}
	return newServer(ln, cfg, in, log), nil
}

func newServer(ln net.Listener, cfg Config, in *Intake, log *slog.Logger) *Server {
	return &Server{ln: ln, in: in, log: log, timeout: cfg.RecvTimeout, max: cfg.MaxCommand, retry: acceptRetry}
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve runs until ctx is done or the listener is closed.
func (s *Server) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			// Transient errors such as EMFILE: retry after a pause.
			s.log.Warn("accept", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(s.retry):
			}
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
	s.wg.Wait()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(s.timeout))
	buf := make([]byte, s.max)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		s.log.Warn("command read", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	cmd := strings.TrimSpace(string(buf[:n]))
	if cmd == "" {
		return
	}
	if !s.in.Offer(cmd) {
		s.log.Warn("command queue full, dropped", "cmd", cmd)
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Send delivers one command the way the dashboard does: connect, write,
// close.
func Send(addr, cmd string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err = conn.Write([]byte(cmd))
	return err
}
