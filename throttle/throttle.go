// Package throttle rate-limits publishing and smooths the published value over a
// sliding window of stream time.
package throttle

import (
	"time"

	"golang.org/x/time/rate"
)

type sample struct {
	pts   float64
	value float64
}

// Window keeps the samples whose stream timestamps lie within Size seconds of the
// newest one
type Window struct {
	size    float64
	samples []sample
}

// NewWindow creates a Window spanning size seconds of stream time
func NewWindow(size float64) *Window {
	return &Window{size: size}
}

// Push adds a sample, evicting those older than the window relative to pts
func (w *Window) Push(pts, value float64) {
	drop := 0
	for drop < len(w.samples) && pts-w.samples[drop].pts > w.size {
		drop++
	}
	if drop > 0 {
		w.samples = append(w.samples[:0], w.samples[drop:]...)
	}
	w.samples = append(w.samples, sample{pts: pts, value: value})
}

// Mean returns the arithmetic mean of the window, false when it is empty
func (w *Window) Mean() (float64, bool) {
	if len(w.samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range w.samples {
		sum += s.value
	}
	return sum / float64(len(w.samples)), true
}

// Len returns the number of samples in the window
func (w *Window) Len() int {
	return len(w.samples)
}

// Gate allows at most one event per interval of wall-clock time. The first call is
// always allowed.
type Gate struct {
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewGate creates a Gate with the given interval
func NewGate(interval time.Duration) *Gate {
	return &Gate{
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		now:      time.Now,
	}
}

// Allow reports whether an event may pass now
func (g *Gate) Allow() bool {
	return g.limiter.AllowN(g.now(), 1)
}

// Interval returns the configured interval
func (g *Gate) Interval() time.Duration {
	return g.interval
}
