package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pond-pi/pond-pi/controller/modules/acquisition"
	"github.com/pond-pi/pond-pi/controller/modules/actuator"
	"github.com/pond-pi/pond-pi/controller/modules/gateway"
	"github.com/tebeka/atexit"
)

// ExitRestart asks an external supervisor to start the process again.
const ExitRestart = 75

// Controller wires the control loop to its hardware, network edges and
// HTTP API.
type Controller struct {
	cfg Config
	log *slog.Logger

	store    *Store
	driver   *actuator.Driver
	pub      *gateway.Publisher
	intake   *gateway.Intake
	server   *gateway.Server
	loop     *Loop
	watchdog *Watchdog
	http     *http.Server

	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	stop    sync.Once

	mu   sync.Mutex
	logs []string
}

// devFrame reads roughly pH 7.5 and 5 mg/L at 25 °C with the default
// calibration.
var devFrame = acquisition.Frame{12950, 7760}

// missingProbe stands in for a temperature probe that could not be found, so
// the cache keeps reporting the fallback value and its fault.
type missingProbe struct{ err error }

func (m missingProbe) Temperature() (float64, error) { return 0, m.err }

// New builds a controller from cfg. In dev mode it runs against a simulated
// sensor board and in-memory output lines.
func New(cfg Config, log *slog.Logger) (*Controller, error) {
	store, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c := &Controller{cfg: cfg, log: log, store: store, done: make(chan struct{})}

	now := time.Now()
	acfg := cfg.Actuator
	if cfg.DevMode {
		acfg.Backend = "memory"
	}
	if c.driver, err = actuator.Open(acfg, now); err != nil {
		store.Close()
		return nil, fmt.Errorf("open actuator lines: %w", err)
	}
	if err := c.driver.Init(); err != nil {
		c.close()
		return nil, fmt.Errorf("initialise actuator lines: %w", err)
	}
	if c.pub, err = gateway.NewPublisher(cfg.Network, log.With("module", "gateway")); err != nil {
		c.close()
		return nil, fmt.Errorf("telemetry publisher: %w", err)
	}
	c.intake = gateway.NewIntake(cfg.Network.QueueSize)

	dial := func() (acquisition.Link, error) { return acquisition.OpenSerial(cfg.Serial) }
	var th acquisition.Thermometer = acquisition.FixedThermometer(cfg.Temperature.Fallback)
	if cfg.DevMode {
		dial = func() (acquisition.Link, error) { return &acquisition.SimLink{Frame: devFrame}, nil }
	} else if probe, err := acquisition.NewDS18B20(cfg.Temperature.Root, cfg.Temperature.Device); err != nil {
		log.Warn("temperature probe not found, using fallback", "error", err, "fallback", cfg.Temperature.Fallback)
		th = missingProbe{err: err}
	} else {
		th = probe
	}

	c.loop, err = newLoop(cfg, log.With("module", "loop"), dial, th, c.driver, store, c.pub, c.intake, now)
	if err != nil {
		c.close()
		return nil, err
	}
	c.loop.activity = c.appendLog
	c.watchdog = NewWatchdog(cfg.Watchdog, log.With("module", "watchdog"), c.restart)
	c.loop.beat = c.watchdog.Beat
	return c, nil
}

// Setup binds the command listener and the HTTP server.
func (c *Controller) Setup() error {
	srv, err := gateway.Listen(c.cfg.Network, c.intake, c.log.With("module", "gateway"))
	if err != nil {
		return fmt.Errorf("command listener %s: %w", c.cfg.Network.Command, err)
	}
	c.server = srv
	if c.cfg.HTTP != "" {
		r := mux.NewRouter()
		c.LoadAPI(r)
		c.http = &http.Server{Addr: c.cfg.HTTP, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	}
	return nil
}

// Start launches every goroutine. It returns immediately.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.started = time.Now()
	if c.server != nil {
		go c.server.Serve(ctx)
	}
	if c.http != nil {
		go func() {
			if err := c.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error("http server", "error", err)
			}
		}()
	}
	go func() {
		defer close(c.done)
		c.loop.Run(ctx)
	}()
	c.watchdog.Start(c.started)
	c.appendLog("controller started")
	c.log.Info("controller started", "dev_mode", c.cfg.DevMode, "command", c.cfg.Network.Command, "http", c.cfg.HTTP)
}

// Stop tears everything down in order. It is safe to call more than once.
func (c *Controller) Stop() {
	c.stop.Do(func() {
		c.log.Info("controller stopping")
		c.watchdog.Stop()
		if c.cancel != nil {
			c.cancel()
			select {
			case <-c.done:
			case <-time.After(2 * time.Second):
				c.log.Warn("control loop did not stop in time")
			}
		}
		if c.server != nil {
			c.server.Close()
		}
		if c.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			c.http.Shutdown(ctx)
			cancel()
		}
		c.loop.Close()
		c.close()
	})
}

// close forces the outputs safe and releases the hardware and the store.
func (c *Controller) close() {
	if c.driver != nil {
		if err := c.driver.Safe(); err != nil {
			c.log.Error("force outputs safe", "error", err)
		}
		c.driver.Close()
	}
	if c.pub != nil {
		c.pub.Close()
	}
	if err := c.store.Close(); err != nil {
		c.log.Error("close store", "error", err)
	}
}

// restart runs from the watchdog goroutine when the loop has stalled.
func (c *Controller) restart() {
	c.appendLog("watchdog expired, restarting")
	done := make(chan error, 1)
	go func() { done <- c.driver.Safe() }()
	select {
	case err := <-done:
		if err != nil {
			c.log.Error("force outputs safe", "error", err)
		}
	case <-time.After(2 * time.Second):
		c.log.Error("force outputs safe timed out")
	}
	if c.cfg.Watchdog.Reexec {
		exe, err := os.Executable()
		if err == nil {
			c.log.Warn("re-executing", "path", exe)
			err = syscall.Exec(exe, os.Args, os.Environ())
		}
		c.log.Error("re-exec failed, exiting for supervisor", "error", err)
	}
	atexit.Exit(ExitRestart)
}

// Snapshot returns the state published by the last completed cycle.
func (c *Controller) Snapshot() Snapshot { return c.loop.snaps.get() }

// appendLog adds an entry to the in-memory activity log, capped at 100 entries.
func (c *Controller) appendLog(msg string) {
	entry := fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, entry)
	if len(c.logs) > 100 {
		c.logs = c.logs[len(c.logs)-100:]
	}
}

// Logs returns a copy of the activity log, oldest first.
func (c *Controller) Logs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.logs...)
}
