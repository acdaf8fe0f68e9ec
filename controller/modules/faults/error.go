package faults

import (
	"errors"
	"fmt"
)

// Error tags a stage failure with the code it is reported under.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fault %d: %s", e.Code, Describe(e.Code))
	}
	return fmt.Sprintf("fault %d: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns nil when err is nil.
func Wrap(c Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: c, Err: err}
}

// CodeOf extracts the code of a tagged error, falling back to Supervisory.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return Supervisory
}

// Incidents collects peripheral and transport faults raised during a cycle
// so they can be merged into the next detector pass.
type Incidents struct {
	current Set
	next    Set
}

// NewIncidents returns an empty incident list.
func NewIncidents() *Incidents {
	return &Incidents{current: Set{}, next: Set{}}
}

// Raise records a fault for the following cycle.
func (i *Incidents) Raise(c Code) {
	i.next.Add(c)
}

// Take returns the incidents raised since the previous Take and rotates.
func (i *Incidents) Take() Set {
	i.current, i.next = i.next, Set{}
	return i.current
}

// Clear forgets everything, used after a link reconnect.
func (i *Incidents) Clear() {
	i.current = Set{}
	i.next = Set{}
}
