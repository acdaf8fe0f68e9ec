package faults

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrioritize(t *testing.T) {
	cases := []struct {
		name string
		in   Set
		want Set
	}{
		{"empty", Set{}, NewSet(None)},
		{"ph range redundant with fluctuation", NewSet(1, 11), NewSet(11)},
		{"do range redundant with fluctuation", NewSet(2, 12), NewSet(12)},
		{"incoherence redundant with do fluctuation", NewSet(10, 12), NewSet(12)},
		{"comm suppresses sensors", NewSet(14, 1, 11), NewSet(14)},
		{"most urgent comm wins", NewSet(16, 15, 14), NewSet(14)},
		{"probe keeps secondary", NewSet(17, 18), NewSet(17, 18)},
		{"probe drops sensors", NewSet(17, 3, 19), NewSet(17, 19)},
		{"no redundancy across channels", NewSet(1, 12), NewSet(1, 12)},
		{"secondary kept with sensors", NewSet(4, 20), NewSet(4, 20)},
		{"healthy", NewSet(None), NewSet(None)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Prioritize(c.in))
		})
	}
}

func TestSetString(t *testing.T) {
	assert.Equal(t, "0", Set{}.String())
	assert.Equal(t, "2|11|18", NewSet(18, 2, 11).String())
	assert.Equal(t, NewSet(2, 11, 18), ParseSet("2|11|18"))
	assert.True(t, ParseSet("0").Empty())
}

func TestCurrent(t *testing.T) {
	assert.Equal(t, Code(17), Current(NewSet(17, 18)))
	assert.Equal(t, Code(1), Current(NewSet(11, 1)))
	assert.Equal(t, None, Current(NewSet(None)))
}

func healthy(d *Detector, n int) {
	for i := 0; i < n; i++ {
		d.Check(7.0+float64(i%2)*0.01, 5.0+float64(i%2)*0.01, 25)
	}
}

func TestConsecutiveInvalid(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	healthy(d, 3)

	for i := 1; i <= 5; i++ {
		errs := d.Check(math.NaN(), 5, 25)
		require.True(t, errs.Has(PHInvalid), "cycle %d", i)
		require.False(t, errs.Has(DORange))
	}
	require.Equal(t, 5, d.badPH)

	errs := d.Check(7.0, 5.0, 25)
	assert.Equal(t, 0, d.badPH)
	assert.False(t, errs.Has(PHInvalid))
	assert.Equal(t, NewSet(None), errs)
}

func TestNonNumericSkipsRangeAndHistory(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	errs := d.Check(20, 5, math.NaN())
	assert.Equal(t, NewSet(TempInvalid), errs)
	assert.Equal(t, 0, d.ph.len())
}

func TestRange(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	assert.Equal(t, NewSet(PHRange, DORange, TempRange), d.Check(14.5, 21, 41))
	d = NewDetector(DefaultDetectorConfig())
	assert.Equal(t, NewSet(None), d.Check(14, 20, 40))
}

func TestFrozen(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	var errs Set
	for i := 0; i < 49; i++ {
		errs = d.Check(7.2, 5.5, 25)
		require.False(t, errs.Has(PHFrozen))
	}
	errs = d.Check(7.2, 5.5, 25)
	assert.True(t, errs.Has(PHFrozen))
	assert.True(t, errs.Has(DOFrozen))
	assert.False(t, errs.Has(TempFrozen))
}

func TestFrozenTemperatureOptIn(t *testing.T) {
	cfg := DefaultDetectorConfig()
	cfg.FreezeCheckTemperature = true
	cfg.TempHistory = 5
	d := NewDetector(cfg)
	var errs Set
	for i := 0; i < 5; i++ {
		errs = d.Check(7+float64(i)*0.01, 5+float64(i)*0.01, 25)
	}
	assert.True(t, errs.Has(TempFrozen))
}

func TestFluctuation(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	var errs Set
	for i := 0; i < 10; i++ {
		ph := 3.0
		if i%2 == 1 {
			ph = 11.0
		}
		errs = d.Check(ph, 5+float64(i%2)*0.01, 25)
		if i < 9 {
			require.False(t, errs.Has(PHFluctuation), "sample %d", i)
		}
	}
	assert.True(t, errs.Has(PHFluctuation))
	assert.False(t, errs.Has(DOFluctuation))
}

func TestCoherence(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	d.Check(7, 5, 25)
	assert.True(t, d.Check(7.01, 5.6, 25.5).Has(TempDOIncoherent))

	d = NewDetector(DefaultDetectorConfig())
	d.Check(7, 5, 25)
	assert.False(t, d.Check(7.01, 5.6, 25).Has(TempDOIncoherent), "temperature must strictly rise")
}

func TestErrorTagging(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(LinkRead, base)
	assert.Equal(t, LinkRead, CodeOf(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, Supervisory, CodeOf(errors.New("x")))
	assert.NoError(t, Wrap(GPIO, nil))
}

func TestIncidents(t *testing.T) {
	in := NewIncidents()
	in.Raise(Transport)
	assert.Equal(t, NewSet(Transport), in.Take())
	assert.True(t, in.Take().Empty())
	in.Raise(GPIO)
	in.Clear()
	assert.True(t, in.Take().Empty())
}
