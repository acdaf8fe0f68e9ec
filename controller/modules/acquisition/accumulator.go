package acquisition

// Frame is one raw reading per channel in ADC counts.
type Frame [Channels]int

// Accumulator sums frames and emits their average every N frames.
type Accumulator struct {
	n     int
	sum   [Channels]int
	count int
}

// NewAccumulator averages every n frames.
func NewAccumulator(n int) *Accumulator {
	return &Accumulator{n: n}
}

// Add folds f in. When N frames have been collected it returns their average
// and resets.
func (a *Accumulator) Add(f Frame) ([Channels]float64, bool) {
	var avg [Channels]float64
	for ch := range f {
		a.sum[ch] += f[ch]
	}
	a.count++
	if a.count < a.n {
		return avg, false
	}
	for ch := range a.sum {
		avg[ch] = float64(a.sum[ch]) / float64(a.n)
	}
	a.Reset()
	return avg, true
}

// Reset discards partial sums.
func (a *Accumulator) Reset() {
	a.sum = [Channels]int{}
	a.count = 0
}

// Pending returns the number of frames collected since the last emission.
func (a *Accumulator) Pending() int { return a.count }
