package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pond-pi/pond-pi/controller/modules/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in     string
		code   int
		arg    float64
		hasArg bool
		err    error
	}{
		{in: "1", code: ResumePH},
		{in: " 3 \n", code: Resume},
		{in: "5", code: PauseO2},
		{in: "6", code: Stop},
		{in: "6 1", code: Stop, arg: StopAeration, hasArg: true},
		{in: "6 2", code: Stop, arg: StopEmergency, hasArg: true},
		{in: "7 30", code: RunO2, arg: 30, hasArg: true},
		{in: "7 12.5", code: RunO2, arg: 12.5, hasArg: true},
		{in: "7 inf", code: RunO2, arg: math.Inf(1), hasArg: true},
		{in: "7 1e300", code: RunO2, arg: 1e300, hasArg: true},
		{in: "8 0", code: DoseUp, arg: 0, hasArg: true},
		{in: "9 2", code: DoseDown, arg: 2, hasArg: true},
		{in: "", err: ErrMalformed},
		{in: "x", err: ErrMalformed},
		{in: "7", err: ErrMalformed},
		{in: "7 abc", err: ErrMalformed},
		{in: "7 NaN", err: ErrMalformed},
		{in: "8", err: ErrMalformed},
		{in: "8 1.5", err: ErrMalformed},
		{in: "6 x", err: ErrMalformed},
		{in: "7 1 2", err: ErrMalformed},
		{in: "42", err: ErrUnknown},
		{in: "0", err: ErrUnknown},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			cmd, err := ParseCommand(c.in)
			if c.err != nil {
				assert.ErrorIs(t, err, c.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.code, cmd.Code)
			assert.Equal(t, c.arg, cmd.Arg)
			assert.Equal(t, c.hasArg, cmd.HasArg)
		})
	}
}

func TestRecordFormat(t *testing.T) {
	r := Record{
		VRef: 0.1875, PH: 7.5, VWork: 0.25, DO: 5,
		Up: 12.5, O2: 100,
		TUp:    Terms{P: 1.5},
		Temp:   25,
		OnUp:   250 * time.Millisecond,
		Errors: faults.NewSet(faults.PHFluctuation, faults.PHRange),
	}
	want := "0.1875,7.5000,0.2500,5.0000,0.00,12.50,100.00," +
		"0.0000,0.0000,0.0000,1.5000,0.0000,0.0000,0.0000,0.0000,0.0000," +
		"25.00,0.000,0.250,0.000,1|11"
	line := r.Format()
	assert.Equal(t, want, line)
	assert.Len(t, strings.Split(line, ","), Fields)

	back, err := ParseRecord(line)
	require.NoError(t, err)
	assert.Equal(t, r.Errors, back.Errors)
	assert.Equal(t, 1.5, back.TUp.P)
}

func TestRecordNoErrors(t *testing.T) {
	assert.True(t, strings.HasSuffix(Record{}.Format(), ",0"))
	_, err := ParseRecord("1,2,3")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestIntake(t *testing.T) {
	in := NewIntake(2)
	assert.True(t, in.Offer("1"))
	assert.True(t, in.Offer("2"))
	assert.False(t, in.Offer("3"))
	assert.Equal(t, []string{"1", "2"}, in.Drain())
	assert.Empty(t, in.Drain())
}

func TestServerRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Command = "127.0.0.1:0"
	in := NewIntake(4)
	s, err := Listen(cfg, in, quiet())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx)
		close(done)
	}()

	require.NoError(t, Send(s.Addr().String(), "7 30\n", time.Second))
	var got []string
	require.Eventually(t, func() bool {
		got = append(got, in.Drain()...)
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "7 30", got[0])

	cancel()
	<-done
}

type failingListener struct {
	mu     sync.Mutex
	fails  int
	calls  []time.Time
	closed chan struct{}
	once   sync.Once
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	l.calls = append(l.calls, time.Now())
	fail := len(l.calls) <= l.fails
	l.mu.Unlock()
	if fail {
		return nil, errors.New("accept: too many open files")
	}
	<-l.closed
	return nil, net.ErrClosed
}

func (l *failingListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *failingListener) Addr() net.Addr { return &net.TCPAddr{} }

func (l *failingListener) accepts() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time{}, l.calls...)
}

func TestServerBacksOffOnAcceptErrors(t *testing.T) {
	ln := &failingListener{fails: 3, closed: make(chan struct{})}
	s := newServer(ln, DefaultConfig(), NewIntake(4), quiet())
	s.retry = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(ln.accepts()) == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	calls := ln.accepts()
	require.Len(t, calls, 4)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), s.retry)
	}
}

func TestPublisher(t *testing.T) {
	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sink.Close()

	cfg := DefaultConfig()
	cfg.Telemetry = []string{sink.LocalAddr().String()}
	cfg.State = sink.LocalAddr().String()
	p, err := NewPublisher(cfg, quiet())
	require.NoError(t, err)
	defer p.Close()

	buf := make([]byte, 2048)
	sink.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, p.Telemetry(Record{Temp: 25}))
	n, _, err := sink.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Len(t, strings.Split(string(buf[:n]), ","), Fields)

	require.NoError(t, p.State(State{PHPaused: true, Cooldown: 3600}))
	n, _, err = sink.ReadFromUDP(buf)
	require.NoError(t, err)
	var blob map[string]interface{}
	require.NoError(t, json.Unmarshal(buf[:n], &blob))
	assert.Equal(t, true, blob["ph_paused"])
	assert.Equal(t, 3600.0, blob["cooldown"])
	assert.Equal(t, []interface{}{}, blob["tasks"])
}
