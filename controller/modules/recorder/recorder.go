// Package recorder is the logging collaborator: it listens to the
// controller's telemetry and keeps daily CSV files, a short rolling CSV and
// an SQLite history including when each fault started and ended.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pond-pi/pond-pi/controller/modules/faults"
	"github.com/pond-pi/pond-pi/controller/modules/gateway"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Listen     string        `yaml:"listen" json:"listen"`
	Dir        string        `yaml:"dir" json:"dir"`
	Rolling    string        `yaml:"rolling" json:"rolling"`
	RollingMax int           `yaml:"rolling_max" json:"rolling_max"`
	DB         string        `yaml:"db" json:"db"`
	Interval   time.Duration `yaml:"interval" json:"interval"`
}

func DefaultConfig() Config {
	return Config{
		Listen:     "127.0.0.1:5006",
		Dir:        "registros_csv",
		Rolling:    "datos_actual.csv",
		RollingMax: 600,
		DB:         "monitoreo.db",
		Interval:   5 * time.Second,
	}
}

type Recorder struct {
	cfg  Config
	db   *sql.DB
	log  *slog.Logger
	cron *cron.Cron

	mu      sync.Mutex
	daily   string
	rolling string
	fields  []string
	latest  *gateway.Record
	active  faults.Set
	written time.Time
}

// Open creates the output directory and opens the CSV files and the database.
func Open(cfg Config, log *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	db, err := openDB(cfg.DB)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		cfg:     cfg,
		db:      db,
		log:     log,
		rolling: filepath.Join(cfg.Dir, cfg.Rolling),
		active:  faults.Set{},
	}
	if err := ensure(r.rolling); err != nil {
		db.Close()
		return nil, err
	}
	if err := r.rotate(time.Now()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// rotate switches the daily file to the one for t.
func (r *Recorder) rotate(t time.Time) error {
	name := DailyName(r.cfg.Dir, t)
	if err := ensure(name); err != nil {
		return fmt.Errorf("daily file %s: %w", name, err)
	}
	r.mu.Lock()
	r.daily = name
	r.mu.Unlock()
	return nil
}

// Handle keeps the last complete telemetry record.
func (r *Recorder) Handle(line string) bool {
	line = strings.TrimSpace(line)
	rec, err := gateway.ParseRecord(line)
	if err != nil {
		return false
	}
	r.mu.Lock()
	r.fields = strings.Split(line, ",")
	r.latest = &rec
	r.mu.Unlock()
	return true
}

// Flush writes the latest record if the interval has elapsed.
func (r *Recorder) Flush(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil || now.Sub(r.written) < r.cfg.Interval {
		return nil
	}
	r.written = now
	row := append([]string{now.Format(time.DateOnly), now.Format(time.TimeOnly)}, r.fields...)

	if err := appendRow(r.daily, row); err != nil {
		return fmt.Errorf("daily csv: %w", err)
	}
	n, err := countLines(r.rolling)
	if err != nil {
		return fmt.Errorf("rolling csv: %w", err)
	}
	if n >= r.cfg.RollingMax {
		if err := restart(r.rolling); err != nil {
			return fmt.Errorf("rolling csv: %w", err)
		}
	}
	if err := appendRow(r.rolling, row); err != nil {
		return fmt.Errorf("rolling csv: %w", err)
	}

	current := r.latest.Errors.Intersect(knownCodes())
	started := current.Without(r.active).Sorted()
	resolved := r.active.Without(current).Sorted()
	if err := logTransitions(r.db, started, resolved, now); err != nil {
		return err
	}
	r.active = current
	return insertReading(r.db, now, *r.latest)
}

// Run receives telemetry until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", r.cfg.Listen)
	if err != nil {
		return err
	}
	r.cron = cron.New()
	if _, err := r.cron.AddFunc("@daily", func() {
		if err := r.rotate(time.Now()); err != nil {
			r.log.Error("rotate", "error", err)
		}
	}); err != nil {
		return err
	}
	r.cron.Start()
	defer r.cron.Stop()

	var conn *net.UDPConn
	buf := make([]byte, 1024)
	for ctx.Err() == nil {
		if conn == nil {
			if conn, err = net.ListenUDP("udp", addr); err != nil {
				r.log.Warn("listen", "addr", addr, "error", err)
				conn = nil
				sleep(ctx, 2*time.Second)
				continue
			}
		}
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		var ne net.Error
		switch {
		case err == nil:
			r.Handle(string(buf[:n]))
		case errors.As(err, &ne) && ne.Timeout():
		default:
			r.log.Warn("receive", "error", err)
			conn.Close()
			conn = nil
			continue
		}
		if err := r.Flush(time.Now()); err != nil {
			r.log.Warn("record failed", "error", err)
		}
	}
	if conn != nil {
		conn.Close()
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Close flushes the CSV files and closes every resource.
func (r *Recorder) Close() error {
	return r.db.Close()
}

func knownCodes() faults.Set {
	s := faults.Set{}
	for c := faults.PHRange; c <= faults.Supervisory; c++ {
		s.Add(c)
	}
	return s
}
