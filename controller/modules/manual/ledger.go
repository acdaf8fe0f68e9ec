package manual

import (
	"fmt"
	"time"
)

const ledgerKey = "ledger"

// Ledger remembers the last dose in each direction. One cooldown window
// blocks both directions.
type Ledger struct {
	LastUp   time.Time `json:"last_ph_up"`
	LastDown time.Time `json:"last_ph_down"`
}

func (l Ledger) check(now time.Time, cooldown time.Duration) error {
	for _, d := range []struct {
		name string
		at   time.Time
	}{{"pH up", l.LastUp}, {"pH down", l.LastDown}} {
		if d.at.IsZero() {
			continue
		}
		if now.Sub(d.at) < cooldown {
			return fmt.Errorf("%w: last %s dose %s, next allowed %s", ErrCooldown, d.name,
				describe(d.at, now), d.at.Add(cooldown).Format(time.TimeOnly))
		}
	}
	return nil
}

func (l Ledger) record(k Kind, now time.Time) Ledger {
	if k == DoseUp {
		l.LastUp = now
	} else {
		l.LastDown = now
	}
	return l
}
