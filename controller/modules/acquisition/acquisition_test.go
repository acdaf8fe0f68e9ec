package acquisition

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorEmitsEveryN(t *testing.T) {
	a := NewAccumulator(5)
	emitted := 0
	for i := 1; i <= 23; i++ {
		avg, ready := a.Add(Frame{i, 2 * i})
		if ready {
			emitted++
			require.Equal(t, 0, a.Pending())
			first := i - 4
			assert.InDelta(t, float64(first+i)/2, avg[0], 1e-12)
			assert.InDelta(t, float64(first+i), avg[1], 1e-12)
		}
	}
	assert.Equal(t, 4, emitted)
	assert.Equal(t, 3, a.Pending())
}

func TestSmootherFirstValueAndConvergence(t *testing.T) {
	s := NewSmoother(0.8)
	assert.Equal(t, 1.234, s.Apply(Reference, 1.234))

	s = NewSmoother(0.8)
	s.Apply(Working, 0)
	var v float64
	for i := 0; i < 60; i++ {
		v = s.Apply(Working, 2.5)
	}
	assert.InDelta(t, 2.5, v, 1e-9)
}

func TestSaturationTable(t *testing.T) {
	for deg := 0; deg <= 40; deg++ {
		assert.Equal(t, saturation[deg], Saturation(float64(deg)))
	}
	prev := Saturation(0)
	for x := 0.05; x <= 40; x += 0.05 {
		v := Saturation(x)
		require.LessOrEqual(t, v, prev, "at %.2f", x)
		prev = v
	}
	assert.Equal(t, saturation[0], Saturation(-5))
	assert.Equal(t, saturation[40], Saturation(55))
}

func TestCompensateDeterministic(t *testing.T) {
	run := func() Sample {
		c := NewCompensator(DefaultCalibration())
		a := NewAccumulator(5)
		var avg [Channels]float64
		var ready bool
		for i := 0; i < 5; i++ {
			avg, ready = a.Add(Frame{1000, 2000})
		}
		require.True(t, ready)
		return c.Compensate(avg, 25)
	}
	first, second := run(), run()
	assert.Equal(t, first, second)
	assert.InDelta(t, 0.1875, first.VRef, 1e-12)
	assert.InDelta(t, 0.25, first.VWork, 1e-12)
	assert.InDelta(t, 20.27125, first.PH, 1e-9)
	assert.InDelta(t, 1.2890625, first.DO, 1e-9)
}

func TestPHUsesWholeDegree(t *testing.T) {
	cal := DefaultCalibration()
	assert.Equal(t, cal.PH(0.5, 24.6), cal.PH(0.5, 25.4))
	assert.NotEqual(t, cal.PH(0.5, 10), cal.PH(0.5, 30))
}

type chunkReader struct {
	chunks [][]byte
	err    error
	closed bool
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if len(c.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}

func (c *chunkReader) Close() error {
	c.closed = true
	return nil
}

func TestSerialLinkKeepsLatestFrame(t *testing.T) {
	r := &chunkReader{chunks: [][]byte{[]byte("100,200\n3"), []byte("00,400\n50")}}
	l := newSerialLink(r, 200)
	f, ok, err := l.Poll()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Frame{300, 400}, f)

	r.chunks = [][]byte{[]byte("0,60\n")}
	f, ok, err = l.Poll()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Frame{500, 60}, f)

	_, ok, err = l.Poll()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSerialLinkDropsMalformed(t *testing.T) {
	for _, line := range []string{"1,2,3\n", "7\n"} {
		l := newSerialLink(&chunkReader{chunks: [][]byte{[]byte(line)}}, 200)
		_, ok, err := l.Poll()
		require.NoError(t, err)
		assert.False(t, ok, line)
	}
}

func TestSerialLinkReportsUndecodable(t *testing.T) {
	for _, line := range []string{"abc,2\n", "1,\xff\xfe\n"} {
		r := &chunkReader{chunks: [][]byte{[]byte(line)}}
		l := newSerialLink(r, 200)
		_, ok, err := l.Poll()
		assert.ErrorIs(t, err, ErrDecode, line)
		assert.False(t, ok, line)
		assert.False(t, r.closed)

		r.chunks = [][]byte{[]byte("5,6\n")}
		f, ok, err := l.Poll()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, Frame{5, 6}, f)
	}
}

func TestSerialLinkCapsReads(t *testing.T) {
	var chunks [][]byte
	for i := 0; i < 10; i++ {
		chunks = append(chunks, []byte("1,1\n"))
	}
	chunks = append(chunks, []byte("9,9\n"))
	r := &chunkReader{chunks: chunks}
	l := newSerialLink(r, 5)
	f, ok, _ := l.Poll()
	require.True(t, ok)
	assert.Equal(t, Frame{1, 1}, f)
	assert.Len(t, r.chunks, 6)
}

type resettingReader struct {
	chunkReader
	resets int
}

func (r *resettingReader) ResetInputBuffer() error {
	r.resets++
	r.chunks = nil
	return nil
}

func TestSerialLinkWaitsForBoardReset(t *testing.T) {
	r := &resettingReader{chunkReader: chunkReader{chunks: [][]byte{[]byte("1,1\n")}}}
	l := newSerialLink(r, 200)
	clock := time.Unix(1000, 0)
	l.now = func() time.Time { return clock }
	l.settle = clock.Add(3 * time.Second)

	_, ok, err := l.Poll()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, r.chunks, 1)

	clock = clock.Add(3 * time.Second)
	_, ok, err = l.Poll()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, r.resets)

	r.chunks = [][]byte{[]byte("2,3\n")}
	f, ok, err := l.Poll()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Frame{2, 3}, f)
	assert.Equal(t, 1, r.resets)
}

func TestSerialLinkReadError(t *testing.T) {
	l := newSerialLink(&chunkReader{err: errors.New("unplugged")}, 200)
	_, _, err := l.Poll()
	assert.Error(t, err)
}

type flakyThermometer struct {
	values []float64
	errs   []error
	calls  int
}

func (f *flakyThermometer) Temperature() (float64, error) {
	i := f.calls
	f.calls++
	return f.values[i], f.errs[i]
}

func TestTempCache(t *testing.T) {
	th := &flakyThermometer{
		values: []float64{21.5, 0, 23},
		errs:   []error{nil, errors.New("crc"), nil},
	}
	c := NewTempCache(th, 5*time.Second, 25)
	t0 := time.Unix(1000, 0)

	assert.Equal(t, 21.5, c.Get(t0))
	assert.Equal(t, 21.5, c.Get(t0.Add(4*time.Second)))
	assert.Equal(t, 1, th.calls)

	assert.Equal(t, 25.0, c.Get(t0.Add(5*time.Second)))
	assert.True(t, c.Failed())

	assert.Equal(t, 23.0, c.Get(t0.Add(10*time.Second)))
	assert.False(t, c.Failed())
}

func TestDS18B20(t *testing.T) {
	root := t.TempDir()
	dev := filepath.Join(root, "28-0000071c9d3b")
	require.NoError(t, os.MkdirAll(dev, 0o755))
	data := "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"
	require.NoError(t, os.WriteFile(filepath.Join(dev, "w1_slave"), []byte(data), 0o644))

	d, err := NewDS18B20(root, "")
	require.NoError(t, err)
	v, err := d.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, 23.125, v, 1e-9)

	_, err = parseW1("aa : crc=00 NO\naa t=1000\n")
	assert.Error(t, err)
}
