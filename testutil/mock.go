package testutil

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ldotlopez/vol2mqtt/reading"
)

var (
	errPublisherClosed = errors.New("mock publisher closed")
	errPublishFailed   = errors.New("mock publish failed")
)

// MockLines replays a fixed list of lines, then returns End (io.EOF when nil) on
// every later call. Thread-safe.
type MockLines struct {
	mu    sync.Mutex
	lines []string
	pos   int

	// End is returned once the lines are exhausted
	End error
	// Block makes Next wait for ctx cancellation instead of returning End
	Block context.Context
	// BeforeLine, when set, is called with the index of each scripted line before it
	// is returned
	BeforeLine func(i int)

	NextCalls int
}

// NewMockLines creates a MockLines replaying lines
func NewMockLines(lines ...string) *MockLines {
	return &MockLines{lines: append([]string(nil), lines...)}
}

// Next returns the next scripted line
func (m *MockLines) Next() (string, error) {
	m.mu.Lock()
	m.NextCalls++
	if m.pos < len(m.lines) {
		i, line, hook := m.pos, m.lines[m.pos], m.BeforeLine
		m.pos++
		m.mu.Unlock()
		if hook != nil {
			hook(i)
		}
		return line, nil
	}
	block, end := m.Block, m.End
	m.mu.Unlock()

	if block != nil {
		<-block.Done()
		return "", block.Err()
	}
	if end == nil {
		end = io.EOF
	}
	return "", end
}

// Remaining returns how many scripted lines have not been read
func (m *MockLines) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines) - m.pos
}

// MockPublisher records every published reading. Thread-safe.
type MockPublisher struct {
	mu       sync.Mutex
	readings []reading.Reading
	closed   bool
	lost     chan error

	// PublishFunc, when set, is called before recording; a non-nil error is returned
	// and the reading is not recorded
	PublishFunc func(ctx context.Context, r reading.Reading) error
	// FailAfter makes every publish after the first FailAfter fail with PublishErr
	FailAfter  int
	PublishErr error

	PublishCalls int
	CloseCalls   int
}

// NewMockPublisher creates a MockPublisher that accepts everything
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{FailAfter: -1, lost: make(chan error, 1)}
}

// Publish records r
func (p *MockPublisher) Publish(ctx context.Context, r reading.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.PublishCalls++
	if p.closed {
		return errPublisherClosed
	}
	if p.PublishFunc != nil {
		if err := p.PublishFunc(ctx, r); err != nil {
			return err
		}
	}
	if p.FailAfter >= 0 && len(p.readings) >= p.FailAfter {
		if p.PublishErr != nil {
			return p.PublishErr
		}
		return errPublishFailed
	}
	p.readings = append(p.readings, r)
	return nil
}

// Close marks the publisher closed
func (p *MockPublisher) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	p.closed = true
	return nil
}

// Lost returns the loss channel fed by DropConnection
func (p *MockPublisher) Lost() <-chan error {
	return p.lost
}

// DropConnection reports err on the Lost channel, as a broker dropping the
// connection would
func (p *MockPublisher) DropConnection(err error) {
	select {
	case p.lost <- err:
	default:
	}
}

// Readings returns a copy of the recorded readings
func (p *MockPublisher) Readings() []reading.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]reading.Reading, len(p.readings))
	copy(result, p.readings)
	return result
}

// Values returns the values of the recorded readings in publish order
func (p *MockPublisher) Values() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	values := make([]float64, len(p.readings))
	for i, r := range p.readings {
		values[i] = r.Value
	}
	return values
}

// IsClosed reports whether Close was called
func (p *MockPublisher) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// WaitForReadings waits until pub has recorded at least count readings
func WaitForReadings(t *testing.T, pub *MockPublisher, count int, timeout time.Duration) []reading.Reading {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if got := pub.Readings(); len(got) >= count {
			return got
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for %d readings (got %d)", count, len(pub.Readings()))
			return nil
		case <-ticker.C:
		}
	}
}
