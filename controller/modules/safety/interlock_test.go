package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1700000000, 0)

func TestFirstObservationOnlyRecords(t *testing.T) {
	l := New(DefaultConfig())
	assert.Nil(t, l.Observe(9.0, t0))
	assert.Nil(t, l.Observe(4.0, t0.Add(time.Minute)))
	assert.False(t, l.Locked())
}

func TestHourlyTrip(t *testing.T) {
	l := New(DefaultConfig())
	l.Observe(7.50, t0)
	assert.Nil(t, l.Observe(7.70, t0.Add(59*time.Minute)))

	trip := l.Observe(7.70, t0.Add(time.Hour))
	require.NotNil(t, trip)
	assert.Equal(t, "hourly", trip.Window)
	assert.InDelta(t, 0.20, trip.Drift, 1e-9)
	assert.True(t, l.Locked())

	// already latched: a second excursion does not report again
	assert.Nil(t, l.Observe(8.5, t0.Add(2*time.Hour)))
	assert.True(t, l.Locked())
}

func TestBaselineRebasesWithoutTrip(t *testing.T) {
	l := New(DefaultConfig())
	l.Observe(7.50, t0)
	assert.Nil(t, l.Observe(7.58, t0.Add(time.Hour)))
	// rebased at 7.58, so another +0.08 stays within the hourly delta
	assert.Nil(t, l.Observe(7.66, t0.Add(2*time.Hour)))
	assert.False(t, l.Locked())
}

func TestDailyTrip(t *testing.T) {
	l := New(DefaultConfig())
	ph := 7.0
	l.Observe(ph, t0)
	for h := 1; h <= 24; h++ {
		ph += 0.09
		trip := l.Observe(ph, t0.Add(time.Duration(h)*time.Hour))
		if h < 24 {
			require.Nil(t, trip, "hour %d", h)
			continue
		}
		require.NotNil(t, trip)
		assert.Equal(t, "daily", trip.Window)
	}
	assert.True(t, l.Locked())
}
