package manual

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/pond-pi/pond-pi/controller/modules/actuator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1700000000, 0)

type memStore struct {
	data map[string][]byte
	fail error
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) CreateBucket(string) error { return nil }

func (m *memStore) Get(bucket, id string, v interface{}) error {
	b, ok := m.data[bucket+"/"+id]
	if !ok {
		return errors.New("not found")
	}
	return json.Unmarshal(b, v)
}

func (m *memStore) Update(bucket, id string, v interface{}) error {
	if m.fail != nil {
		return m.fail
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[bucket+"/"+id] = b
	return nil
}

type lines map[actuator.Role]bool

func (l lines) Set(r actuator.Role, on bool) error { l[r] = on; return nil }
func (l lines) State(r actuator.Role) bool         { return l[r] }

func newScheduler(t *testing.T, store *memStore) (*Scheduler, lines) {
	t.Helper()
	out := lines{}
	s, err := New(DefaultConfig(), out, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s, out
}

func TestO2RunIsExclusive(t *testing.T) {
	s, _ := newScheduler(t, newMemStore())
	first, err := s.RunO2(30, t0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(30*time.Second), first.Expires)

	_, err = s.RunO2(30, t0.Add(5*time.Second))
	assert.ErrorIs(t, err, ErrLineBusy)
	require.Len(t, s.Tasks(), 1)
	assert.Equal(t, first, s.Tasks()[0])
}

func TestO2RunClamped(t *testing.T) {
	s, _ := newScheduler(t, newMemStore())
	task, err := s.RunO2(1000, t0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(300*time.Second), task.Expires)

	s.Clear()
	task, err = s.RunO2(-4, t0)
	require.NoError(t, err)
	assert.Equal(t, t0, task.Expires)

	for _, secs := range []float64{math.Inf(1), 1e12, 1e300} {
		s.Clear()
		task, err = s.RunO2(secs, t0)
		require.NoError(t, err)
		assert.Equal(t, t0.Add(300*time.Second), task.Expires, "%v", secs)
		s.Process(t0.Add(time.Second))
		assert.Len(t, s.Tasks(), 1, "%v", secs)
	}

	s.Clear()
	task, err = s.RunO2(math.Inf(-1), t0)
	require.NoError(t, err)
	assert.Equal(t, t0, task.Expires)
}

func TestCrossCooldownRejectsWithoutMutation(t *testing.T) {
	store := newMemStore()
	s, _ := newScheduler(t, store)

	up, err := s.Dose(DoseUp, 0, false, t0)
	require.NoError(t, err)
	assert.Equal(t, actuator.PHUp, up.Line)
	assert.Equal(t, t0.Add(DefaultConfig().DoseDuration(10)), up.Expires)

	ledger := s.Ledger()
	persisted := string(store.data[Bucket+"/"+ledgerKey])

	_, err = s.Dose(DoseDn, 0, false, t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrCooldown)
	assert.Len(t, s.Tasks(), 1)
	assert.Equal(t, ledger, s.Ledger())
	assert.Equal(t, persisted, string(store.data[Bucket+"/"+ledgerKey]))

	_, err = s.Dose(DoseDn, 0, false, t0.Add(time.Hour))
	assert.NoError(t, err)
}

func TestDoseRules(t *testing.T) {
	s, _ := newScheduler(t, newMemStore())
	_, err := s.Dose(DoseUp, 0, true, t0)
	assert.ErrorIs(t, err, ErrLockout)
	_, err = s.Dose(DoseUp, 3, false, t0)
	assert.ErrorIs(t, err, ErrPreset)
	_, err = s.Dose(DoseDn, -1, false, t0)
	assert.ErrorIs(t, err, ErrPreset)
	assert.Empty(t, s.Tasks())
	assert.True(t, s.Ledger().LastUp.IsZero())
}

func TestDoseDuration(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.DoseDuration(35))
}

func TestLedgerSurvivesRestart(t *testing.T) {
	store := newMemStore()
	s, _ := newScheduler(t, store)
	_, err := s.Dose(DoseDn, 1, false, t0)
	require.NoError(t, err)

	s, _ = newScheduler(t, store)
	assert.True(t, s.Ledger().LastDown.Equal(t0))
	_, err = s.Dose(DoseUp, 0, false, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrCooldown)
}

func TestStoreFailureRejects(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("disk full")
	s, _ := newScheduler(t, store)
	_, err := s.Dose(DoseUp, 0, false, t0)
	assert.Error(t, err)
	assert.Empty(t, s.Tasks())
	assert.True(t, s.Ledger().LastUp.IsZero())
}

func TestProcessLifecycle(t *testing.T) {
	s, out := newScheduler(t, newMemStore())
	_, err := s.RunO2(10, t0)
	require.NoError(t, err)

	require.NoError(t, s.Process(t0.Add(time.Second)))
	assert.True(t, out[actuator.O2])
	assert.True(t, s.Owns(actuator.O2))

	require.NoError(t, s.Process(t0.Add(10*time.Second)))
	assert.False(t, out[actuator.O2])
	assert.False(t, s.Owns(actuator.O2))
	assert.Empty(t, s.Tasks())
}

func TestCancel(t *testing.T) {
	s, _ := newScheduler(t, newMemStore())
	_, err := s.RunO2(10, t0)
	require.NoError(t, err)
	_, err = s.Dose(DoseUp, 0, false, t0)
	require.NoError(t, err)

	s.Cancel(actuator.O2)
	require.Len(t, s.Tasks(), 1)
	assert.Equal(t, DoseUp, s.Tasks()[0].Kind)
}
