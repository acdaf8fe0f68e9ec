package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pond-pi/pond-pi/controller/modules/faults"
	"github.com/pond-pi/pond-pi/controller/modules/gateway"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS lecturas (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fecha TEXT,
	hora TEXT,
	ph REAL,
	o2 REAL,
	temp REAL,
	pid_ph_down REAL,
	pid_ph_up REAL,
	pid_o2 REAL,
	codigo_error TEXT
);
CREATE TABLE IF NOT EXISTS errores_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	codigo TEXT NOT NULL,
	descripcion TEXT NOT NULL,
	hora_inicio TEXT,
	hora_fin TEXT,
	resuelto INTEGER DEFAULT 0,
	notificado_inicio INTEGER DEFAULT 0,
	notificado_fin INTEGER DEFAULT 0
);
CREATE TABLE IF NOT EXISTS notificaciones (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tipo TEXT NOT NULL,
	mensaje TEXT NOT NULL,
	hora TEXT NOT NULL,
	leida INTEGER DEFAULT 0
);`

// openDB keeps the table layout the dashboard reads.
func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return db, nil
}

func insertReading(db *sql.DB, at time.Time, r gateway.Record) error {
	_, err := db.Exec(`INSERT INTO lecturas (fecha, hora, ph, o2, temp, pid_ph_down, pid_ph_up, pid_o2, codigo_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.Format(time.DateOnly), at.Format(time.TimeOnly),
		r.PH, r.DO, r.Temp, r.Down, r.Up, r.O2, r.Errors.String())
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// logTransitions opens an errores_log row for every new code and closes the
// open row of every resolved one.
func logTransitions(db *sql.DB, started, resolved []faults.Code, at time.Time) error {
	if len(started) == 0 && len(resolved) == 0 {
		return nil
	}
	ts := at.Format(time.DateTime)
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, c := range started {
		if _, err := tx.Exec(`INSERT INTO errores_log (codigo, descripcion, hora_inicio) VALUES (?, ?, ?)`,
			strconv.Itoa(int(c)), faults.Describe(c), ts); err != nil {
			tx.Rollback()
			return fmt.Errorf("open error %d: %w", c, err)
		}
	}
	for _, c := range resolved {
		if _, err := tx.Exec(`UPDATE errores_log SET hora_fin = ? WHERE codigo = ? AND hora_fin IS NULL`,
			ts, strconv.Itoa(int(c))); err != nil {
			tx.Rollback()
			return fmt.Errorf("close error %d: %w", c, err)
		}
	}
	return tx.Commit()
}
