// Package fpsstats measures the delivered frame rate of a stream over a
// rolling window of frame arrival times.
package fpsstats

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum allowed FPS standard deviation as a fraction of mean FPS.
	// Example: 30 FPS mean → stable if stddev < 4.5 FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a fraction of expected interval.
	// Example: 30 FPS (33ms interval) → stable if jitter < 6.6ms
	jitterStabilityThreshold = 0.20

	// DefaultWindow is the number of arrivals kept by NewWindow(0).
	DefaultWindow = 120
)

// Stats summarises a series of frame arrivals.
type Stats struct {
	Frames       int
	Span         time.Duration
	FPSMean      float64
	FPSStdDev    float64
	FPSMin       float64
	FPSMax       float64
	JitterMean   float64 // seconds
	JitterStdDev float64 // seconds
	JitterMax    float64 // seconds
	IsStable     bool
}

// Calculate computes FPS and jitter statistics from ordered arrival times.
//
// This function:
//  1. Calculates mean FPS over the span between first and last arrival
//  2. Calculates instantaneous FPS for each interval and its min/max/stddev
//  3. Calculates jitter (deviation from the expected interval)
//  4. Determines stability (stddev < 15% of mean AND jitter < 20% of interval)
//
// Fewer than two arrivals yield zero rates.
func Calculate(times []time.Time) Stats {
	n := len(times)
	if n < 2 {
		return Stats{Frames: n}
	}

	span := times[n-1].Sub(times[0])
	st := Stats{Frames: n, Span: span}
	if span <= 0 {
		return st
	}
	st.FPSMean = float64(n-1) / span.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := times[i].Sub(times[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return st
	}

	st.FPSMin, st.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		st.FPSMin = math.Min(st.FPSMin, fps)
		st.FPSMax = math.Max(st.FPSMax, fps)
		diff := fps - st.FPSMean
		sumSquares += diff * diff
	}
	st.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1.0 / st.FPSMean
	jitters := make([]float64, 0, n-1)
	var jitterSum float64
	for i := 1; i < n; i++ {
		j := math.Abs(times[i].Sub(times[i-1]).Seconds() - expected)
		jitters = append(jitters, j)
		jitterSum += j
		st.JitterMax = math.Max(st.JitterMax, j)
	}
	st.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - st.JitterMean
		jitterSquares += diff * diff
	}
	st.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	st.IsStable = st.FPSStdDev < st.FPSMean*fpsStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}

// Window keeps the most recent arrival times. It is safe for concurrent use.
type Window struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewWindow returns a window holding size arrivals (DefaultWindow if size <= 0).
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Window{times: make([]time.Time, size)}
}

// Add records an arrival.
func (w *Window) Add(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.times[w.next] = t
	w.next++
	if w.next == len(w.times) {
		w.next = 0
		w.full = true
	}
}

// Reset forgets all arrivals.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.full = false
}

// Stats computes statistics over the window contents.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	var ordered []time.Time
	if w.full {
		ordered = make([]time.Time, 0, len(w.times))
		ordered = append(ordered, w.times[w.next:]...)
		ordered = append(ordered, w.times[:w.next]...)
	} else {
		ordered = append([]time.Time(nil), w.times[:w.next]...)
	}
	w.mu.Unlock()

	return Calculate(ordered)
}
