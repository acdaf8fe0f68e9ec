package faults

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Code is a numeric fault code reported on the telemetry stream.
type Code int

const (
	None Code = 0

	PHRange   Code = 1
	DORange   Code = 2
	TempRange Code = 3

	PHInvalid   Code = 4
	DOInvalid   Code = 5
	TempInvalid Code = 6

	PHFrozen   Code = 7
	DOFrozen   Code = 8
	TempFrozen Code = 9

	TempDOIncoherent Code = 10
	PHFluctuation    Code = 11
	DOFluctuation    Code = 12

	Recorder    Code = 13
	LinkOpen    Code = 14
	LinkRead    Code = 15
	LinkDecode  Code = 16
	TempProbe   Code = 17
	Transport   Code = 18
	GPIO        Code = 19
	Supervisory Code = 20
)

var descriptions = map[Code]string{
	PHRange:          "pH out of range",
	DORange:          "dissolved oxygen out of range",
	TempRange:        "temperature out of range",
	PHInvalid:        "consecutive invalid pH readings",
	DOInvalid:        "consecutive invalid O2 readings",
	TempInvalid:      "consecutive invalid temperature readings",
	PHFrozen:         "pH sensor frozen",
	DOFrozen:         "O2 sensor frozen",
	TempFrozen:       "temperature frozen",
	TempDOIncoherent: "O2 and temperature incoherent",
	PHFluctuation:    "anomalous pH fluctuation",
	DOFluctuation:    "anomalous O2 fluctuation",
	Recorder:         "recorder error",
	LinkOpen:         "serial open error",
	LinkRead:         "serial read error",
	LinkDecode:       "serial decode error",
	TempProbe:        "DS18B20 error",
	Transport:        "UDP send error",
	GPIO:             "GPIO error",
	Supervisory:      "general error",
}

// Describe returns a human readable description of a code.
func Describe(c Code) string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	if c == None {
		return "no error"
	}
	return fmt.Sprintf("unknown error (%d)", c)
}

// Priority maps a code to its reporting rank. Lower is more urgent.
var Priority = map[Code]int{
	None:        99,
	Recorder:    1,
	LinkOpen:    1,
	LinkRead:    2,
	LinkDecode:  2,
	TempProbe:   3,
	Transport:   4,
	GPIO:        5,
	Supervisory: 6,

	PHRange: 10, DORange: 10, TempRange: 10,
	PHInvalid: 11, DOInvalid: 11, TempInvalid: 11,
	PHFrozen: 12, DOFrozen: 12, TempFrozen: 12,
	TempDOIncoherent: 13, PHFluctuation: 14, DOFluctuation: 14,
}

func rank(c Code) int {
	if r, ok := Priority[c]; ok {
		return r
	}
	return 100
}

// Categories used to decide which control loops a code suspends.
var (
	PHCodes    = NewSet(PHRange, PHInvalid, PHFrozen, PHFluctuation)
	O2Codes    = NewSet(DORange, DOInvalid, DOFrozen, DOFluctuation)
	TempCodes  = NewSet(TempRange, TempInvalid, TempFrozen, TempDOIncoherent)
	commCodes  = NewSet(Recorder, LinkOpen, LinkRead, LinkDecode)
	secondary  = NewSet(Transport, GPIO, Supervisory)
	sensorCode = NewSet(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12)
)

// Set is an unordered set of fault codes.
type Set map[Code]struct{}

// NewSet returns a set holding codes.
func NewSet(codes ...Code) Set {
	s := make(Set, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

func (s Set) Add(c Code)    { s[c] = struct{}{} }
func (s Set) Remove(c Code) { delete(s, c) }
func (s Set) Empty() bool   { return len(s) == 0 }

func (s Set) Has(c Code) bool {
	_, ok := s[c]
	return ok
}

// Intersects reports whether the sets share a code.
func (s Set) Intersects(o Set) bool {
	for c := range s {
		if o.Has(c) {
			return true
		}
	}
	return false
}

func (s Set) Intersect(o Set) Set {
	out := Set{}
	for c := range s {
		if o.Has(c) {
			out.Add(c)
		}
	}
	return out
}

// Union returns a new set with the codes of both.
func (s Set) Union(o Set) Set {
	out := make(Set, len(s)+len(o))
	for c := range s {
		out.Add(c)
	}
	for c := range o {
		out.Add(c)
	}
	return out
}

// Without returns the codes of s that are not in o.
func (s Set) Without(o Set) Set {
	out := Set{}
	for c := range s {
		if !o.Has(c) {
			out.Add(c)
		}
	}
	return out
}

// Sorted returns the codes in ascending order.
func (s Set) Sorted() []Code {
	out := make([]Code, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the set the way the telemetry record carries it: codes
// ascending, pipe separated, "0" when empty.
func (s Set) String() string {
	if s.Empty() {
		return "0"
	}
	parts := make([]string, 0, len(s))
	for _, c := range s.Sorted() {
		parts = append(parts, strconv.Itoa(int(c)))
	}
	return strings.Join(parts, "|")
}

// ParseSet reads the telemetry representation back. Non numeric fields are skipped.
func ParseSet(field string) Set {
	out := Set{}
	field = strings.TrimSpace(field)
	if field == "" || field == "0" {
		return out
	}
	for _, p := range strings.Split(field, "|") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n == 0 {
			continue
		}
		out.Add(Code(n))
	}
	return out
}

// Current picks the single most urgent code. Ties go to the lower code.
func Current(s Set) Code {
	best := None
	for _, c := range s.Sorted() {
		if c == None {
			continue
		}
		if best == None || rank(c) < rank(best) {
			best = c
		}
	}
	return best
}
