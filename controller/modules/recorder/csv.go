package recorder

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"time"
)

var header = []string{
	"fecha", "hora",
	"a0", "pH", "a1", "OD",
	"PID_pH_DOWN", "PID_pH_UP", "PID_O2",
	"P_DOWN", "I_DOWN", "D_DOWN",
	"P_UP", "I_UP", "D_UP",
	"P_O2", "I_O2", "D_O2",
	"T", "t_on_down", "t_on_up", "t_on_o2",
	"codigo_error",
}

// DailyName is the per-day file for t.
func DailyName(dir string, t time.Time) string {
	return filepath.Join(dir, "datos_"+t.Format(time.DateOnly)+".csv")
}

// ensure creates path with the header row if it does not exist yet.
func ensure(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return restart(path)
}

// restart truncates path down to the header row.
func restart(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Write(header)
	w.Flush()
	return errors.Join(w.Error(), f.Close())
}

func appendRow(path string, row []string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Write(row)
	w.Flush()
	return errors.Join(w.Error(), f.Close())
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	n := 0
	r := bufio.NewReader(f)
	buf := make([]byte, 32*1024)
	for {
		c, err := r.Read(buf)
		n += bytes.Count(buf[:c], []byte{'\n'})
		if err != nil {
			break
		}
	}
	return n, nil
}
