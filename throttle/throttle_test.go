package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow_Mean(t *testing.T) {
	w := NewWindow(1)

	_, ok := w.Mean()
	assert.False(t, ok)

	w.Push(0, -20)
	w.Push(0.5, -30)

	mean, ok := w.Mean()
	assert.True(t, ok)
	assert.InDelta(t, -25, mean, 1e-9)
	assert.Equal(t, 2, w.Len())
}

func TestWindow_EvictsOldSamples(t *testing.T) {
	w := NewWindow(1)

	w.Push(0, -10)
	w.Push(0.5, -20)
	w.Push(1.0, -30) // exactly size apart from the first: kept
	assert.Equal(t, 3, w.Len())

	w.Push(1.6, -40) // drops 0 and 0.5
	assert.Equal(t, 2, w.Len())

	mean, _ := w.Mean()
	assert.InDelta(t, -35, mean, 1e-9)
}

func TestWindow_ZeroSizeKeepsSamePTS(t *testing.T) {
	w := NewWindow(0)

	w.Push(0, -10)
	w.Push(0, -20)
	assert.Equal(t, 2, w.Len())

	w.Push(0.1, -30)
	assert.Equal(t, 1, w.Len())
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGate_Allow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := NewGate(time.Second)
	g.now = clock.now

	assert.True(t, g.Allow(), "first event always passes")
	assert.False(t, g.Allow())

	clock.advance(100 * time.Millisecond)
	assert.False(t, g.Allow())

	clock.advance(899 * time.Millisecond)
	assert.False(t, g.Allow(), "999ms after the last pass")

	clock.advance(2 * time.Millisecond)
	assert.True(t, g.Allow())

	clock.advance(499 * time.Millisecond)
	assert.False(t, g.Allow())

	clock.advance(600 * time.Millisecond)
	assert.True(t, g.Allow())
	assert.False(t, g.Allow())

	assert.Equal(t, time.Second, g.Interval())
}

func TestGate_NoBurstAfterIdle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := NewGate(100 * time.Millisecond)
	g.now = clock.now

	assert.True(t, g.Allow())
	clock.advance(10 * time.Second)

	assert.True(t, g.Allow())
	assert.False(t, g.Allow(), "a long pause does not accumulate passes")
}
