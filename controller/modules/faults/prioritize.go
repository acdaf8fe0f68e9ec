package faults

// Prioritize reduces a raw fault set to the set that gets reported and used
// for gating.
//
// Communication faults win outright and only the most urgent one is kept. A
// temperature probe fault keeps the secondary faults next to it. Otherwise the
// sensor faults are reported together minus the known redundant pairs.
func Prioritize(raw Set) Set {
	if raw.Empty() {
		return NewSet(None)
	}

	if comm := raw.Intersect(commCodes); !comm.Empty() {
		return NewSet(Current(comm))
	}

	if raw.Has(TempProbe) {
		return NewSet(TempProbe).Union(raw.Intersect(secondary))
	}

	sensors := raw.Intersect(sensorCode)
	if sensors.Has(PHFluctuation) {
		sensors.Remove(PHRange)
	}
	if sensors.Has(DOFluctuation) {
		sensors.Remove(DORange)
		sensors.Remove(TempDOIncoherent)
	}
	out := sensors.Union(raw.Intersect(secondary))
	if out.Empty() {
		return NewSet(None)
	}
	return out
}
