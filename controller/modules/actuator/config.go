package actuator

import "time"

// Role names one of the actuator lines.
type Role string

const (
	PHUp    Role = "ph_up"
	PHDown  Role = "ph_down"
	O2      Role = "o2"
	Trigger Role = "trigger"
	Reset   Role = "reset"
)

// Relays are the three lines driven by control or by manual tasks.
var Relays = []Role{PHDown, PHUp, O2}

type Config struct {
	Backend string        `yaml:"backend" json:"backend"`
	Chip    string        `yaml:"chip" json:"chip"`
	Lines   map[Role]int  `yaml:"lines" json:"lines"`
	Cycle   time.Duration `yaml:"cycle" json:"cycle"`
	MinOn   time.Duration `yaml:"min_on" json:"min_on"`
	Pulse   time.Duration `yaml:"pulse" json:"pulse"`
}

func DefaultConfig() Config {
	return Config{
		Backend: "gpiocdev",
		Chip:    "gpiochip0",
		Lines: map[Role]int{
			PHUp:    17,
			PHDown:  27,
			O2:      10,
			Trigger: 23,
			Reset:   24,
		},
		Cycle: 2 * time.Second,
		MinOn: 200 * time.Millisecond,
		Pulse: 30 * time.Millisecond,
	}
}
