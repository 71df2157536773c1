package features

import "math"

// rollingWindow is a fixed-capacity accumulator over the most recent
// observations for one vehicle. Below capacity it shrinks to whatever
// history exists (the cold-window policy): no zero padding, statistics are
// computed over the records actually present.
type rollingWindow struct {
	cap    int
	values []float64
}

func newRollingWindow(capacity int) *rollingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &rollingWindow{cap: capacity, values: make([]float64, 0, capacity)}
}

// push appends v, evicting the oldest value once the window is full.
func (w *rollingWindow) push(v float64) {
	if len(w.values) == w.cap {
		copy(w.values, w.values[1:])
		w.values[len(w.values)-1] = v
		return
	}
	w.values = append(w.values, v)
}

// mean returns the arithmetic mean of the window, 0 when empty.
func (w *rollingWindow) mean() float64 {
	if len(w.values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range w.values {
		sum += v
	}
	return sum / float64(len(w.values))
}

// stddev returns the population standard deviation, 0 for fewer than two
// observations.
func (w *rollingWindow) stddev() float64 {
	n := len(w.values)
	if n < 2 {
		return 0
	}
	m := w.mean()
	variance := 0.0
	for _, v := range w.values {
		variance += (v - m) * (v - m)
	}
	variance /= float64(n)
	return math.Sqrt(variance)
}

// slope returns the least-squares slope of the window values against their
// index, 0 for fewer than two observations. This is the short-term trend
// of the windowed series.
func (w *rollingWindow) slope() float64 {
	n := float64(len(w.values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range w.values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// fleetIndex is a point-in-time index of fleet-wide efficiency. Records are
// fed strictly in timestamp order; at any point mean() reflects only the
// observations already fed, so a record's fleet deviation can never look
// ahead of its own timestamp.
type fleetIndex struct {
	totalKM   float64
	totalFuel float64
}

// observe adds one non-degenerate record's totals to the index.
func (f *fleetIndex) observe(km, fuel float64) {
	f.totalKM += km
	f.totalFuel += fuel
}

// mean returns the fleet ratio-of-sums efficiency as of the observations
// fed so far; ok is false until at least one litre has been observed.
func (f *fleetIndex) mean() (v float64, ok bool) {
	if f.totalFuel <= 0 {
		return 0, false
	}
	return f.totalKM / f.totalFuel, true
}
