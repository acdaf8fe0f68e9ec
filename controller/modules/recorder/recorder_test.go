package recorder

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pond-pi/pond-pi/controller/modules/faults"
	"github.com/pond-pi/pond-pi/controller/modules/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *Recorder {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Dir = filepath.Join(dir, "csv")
	cfg.DB = filepath.Join(dir, "db", "monitoreo.db")
	cfg.RollingMax = 3
	r, err := Open(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func line(errs ...faults.Code) string {
	return gateway.Record{PH: 7.4, DO: 5.1, Temp: 24.5, Up: 10, Errors: faults.NewSet(errs...)}.Format()
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestHandleKeepsOnlyFullRecords(t *testing.T) {
	r := open(t)
	assert.False(t, r.Handle("1,2,3"))
	assert.True(t, r.Handle(line()))
}

func TestFlushWritesCSVAndDatabase(t *testing.T) {
	r := open(t)
	now := time.Now()
	require.NoError(t, r.rotate(now))

	require.NoError(t, r.Flush(now))
	assert.Len(t, readCSV(t, r.daily), 1, "nothing received yet")

	require.True(t, r.Handle(line()))
	require.NoError(t, r.Flush(now))
	rows := readCSV(t, r.daily)
	require.Len(t, rows, 2)
	assert.Equal(t, header, rows[0])
	assert.Len(t, rows[1], len(header))
	assert.Equal(t, now.Format(time.DateOnly), rows[1][0])
	assert.Equal(t, "7.4000", rows[1][3])

	// inside the interval nothing is written
	require.NoError(t, r.Flush(now.Add(time.Second)))
	assert.Len(t, readCSV(t, r.daily), 2)

	var n int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM lecturas`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRollingRestarts(t *testing.T) {
	r := open(t)
	now := time.Now()
	require.True(t, r.Handle(line()))
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Flush(now.Add(time.Duration(i)*r.cfg.Interval)))
	}
	rows := readCSV(t, r.rolling)
	assert.Len(t, rows, 2)
	assert.Equal(t, header, rows[0])
}

func TestErrorLifecycle(t *testing.T) {
	r := open(t)
	now := time.Now()

	require.True(t, r.Handle(line(faults.PHRange, faults.Transport)))
	require.NoError(t, r.Flush(now))
	require.True(t, r.Handle(line(faults.Transport)))
	require.NoError(t, r.Flush(now.Add(r.cfg.Interval)))

	rows, err := r.db.Query(`SELECT codigo, hora_fin IS NOT NULL FROM errores_log ORDER BY codigo`)
	require.NoError(t, err)
	defer rows.Close()
	got := map[string]bool{}
	for rows.Next() {
		var code string
		var closed bool
		require.NoError(t, rows.Scan(&code, &closed))
		got[code] = closed
	}
	assert.Equal(t, map[string]bool{"1": true, "18": false}, got)
}

func TestDailyName(t *testing.T) {
	day := time.Date(2025, 3, 9, 13, 0, 0, 0, time.Local)
	assert.Equal(t, filepath.Join("x", "datos_2025-03-09.csv"), DailyName("x", day))
}
