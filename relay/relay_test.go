package relay

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldotlopez/vol2mqtt/errors"
	"github.com/ldotlopez/vol2mqtt/health"
	"github.com/ldotlopez/vol2mqtt/metric"
	"github.com/ldotlopez/vol2mqtt/source"
	"github.com/ldotlopez/vol2mqtt/testutil"
)

func TestRun_PublishesLevelsInOrder(t *testing.T) {
	lines := testutil.NewMockLines(testutil.FrameLines...)
	lines.End = &source.ExitError{Code: 0}
	pub := testutil.NewMockPublisher()
	metrics := metric.NewMetrics()

	err := New(lines, pub, WithMetrics(metrics)).Run(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSourceExited))
	assert.True(t, errors.IsFatal(err))

	readings := pub.Readings()
	require.Len(t, readings, 2)
	assert.Equal(t, -23.4, readings[0].Value)
	assert.Equal(t, 0.0, readings[0].PTS)
	assert.Equal(t, -20.125, readings[1].Value)
	assert.Equal(t, 0.0928798, readings[1].PTS)
	assert.False(t, readings[0].Time.IsZero())

	assert.Equal(t, 4.0, promtest.ToFloat64(metrics.LinesRead))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.ReadingsParsed))
	assert.Equal(t, -20.125, promtest.ToFloat64(metrics.LastLevel))
	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.SourceUp))
	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.SourceExit))
}

func TestRun_NoiseIsDiscarded(t *testing.T) {
	lines := testutil.NewMockLines(testutil.NoiseLines...)
	pub := testutil.NewMockPublisher()

	err := New(lines, pub).Run(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSourceExited), "plain EOF is still a source exit")
	assert.Empty(t, pub.Readings())
	assert.Equal(t, 0, lines.Remaining())
}

func TestRun_MalformedValuesAreSkipped(t *testing.T) {
	script := append([]string{}, testutil.MalformedLevelLines...)
	script = append(script, testutil.LevelLine("-31.5"))
	lines := testutil.NewMockLines(script...)
	pub := testutil.NewMockPublisher()
	metrics := metric.NewMetrics()

	err := New(lines, pub, WithMetrics(metrics)).Run(context.Background())

	assert.True(t, errors.Is(err, errors.ErrSourceExited))
	assert.Equal(t, []float64{-31.5}, pub.Values())
	assert.Equal(t, float64(len(testutil.MalformedLevelLines)), promtest.ToFloat64(metrics.ParseFailures))
}

func TestRun_LargeStreamKeepsOrder(t *testing.T) {
	var script []string
	var want []float64
	for i := 0; i < 500; i++ {
		script = append(script, testutil.FrameLine(i, fmt.Sprintf("%d.5", i)))
		v := -float64(i) / 4
		script = append(script, testutil.LevelLine(fmt.Sprint(v)))
		want = append(want, v)
	}
	pub := testutil.NewMockPublisher()

	_ = New(testutil.NewMockLines(script...), pub).Run(context.Background())

	assert.Equal(t, want, pub.Values())
	readings := pub.Readings()
	assert.Equal(t, 499.5, readings[len(readings)-1].PTS)
}

func TestRun_SourceExitCode(t *testing.T) {
	lines := testutil.NewMockLines(testutil.LevelLine("-12"))
	lines.End = &source.ExitError{Code: 187}
	pub := testutil.NewMockPublisher()
	metrics := metric.NewMetrics()
	monitor := health.NewMonitor()

	err := New(lines, pub, WithMetrics(metrics), WithHealth(monitor)).Run(context.Background())

	var exitErr *source.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 187, exitErr.Code)
	assert.Contains(t, err.Error(), "exit code 187")
	assert.Equal(t, 187.0, promtest.ToFloat64(metrics.SourceExit))

	status, ok := monitor.Get(HealthSource)
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.HealthCheckStatus.WithLabelValues(HealthSource)))
}

func TestRun_PublishFailureStopsTheLoop(t *testing.T) {
	lines := testutil.NewMockLines(
		testutil.LevelLine("-1"),
		testutil.LevelLine("-2"),
		testutil.LevelLine("-3"),
	)
	pub := testutil.NewMockPublisher()
	pub.FailAfter = 1
	pub.PublishErr = errors.WrapFatal(errors.ErrPublishTimeout, "MQTT", "Publish", "publish reading")
	monitor := health.NewMonitor()

	err := New(lines, pub, WithHealth(monitor)).Run(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, errors.Is(err, errors.ErrPublishTimeout))
	assert.Equal(t, []float64{-1}, pub.Values())
	assert.Equal(t, 1, lines.Remaining(), "no line is read after a failed publish")

	status, ok := monitor.Get(HealthBroker)
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
}

func TestRun_ConnectionLost(t *testing.T) {
	lines := testutil.NewMockLines(testutil.LevelLine("-1"), testutil.LevelLine("-2"))
	pub := testutil.NewMockPublisher()
	pub.DropConnection(errors.WrapFatal(errors.ErrConnectionLost, "MQTT", "onConnectionLost", "broker connection"))
	monitor := health.NewMonitor()

	err := New(lines, pub, WithHealth(monitor)).Run(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConnectionLost))
	assert.True(t, errors.IsFatal(err))
	assert.Empty(t, pub.Readings())

	status, ok := monitor.Get(HealthBroker)
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
}

func TestRun_CancelIsCleanStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := testutil.NewMockLines(testutil.FrameLines...)
	lines.Block = ctx
	pub := testutil.NewMockPublisher()

	done := make(chan error, 1)
	go func() {
		done <- New(lines, pub).Run(ctx)
	}()

	testutil.WaitForReadings(t, pub, 2, 2*time.Second)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_HealthyWhileRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := testutil.NewMockLines(testutil.LevelLine("-5"))
	lines.Block = ctx
	pub := testutil.NewMockPublisher()
	monitor := health.NewMonitor()

	done := make(chan error, 1)
	go func() {
		done <- New(lines, pub, WithHealth(monitor)).Run(ctx)
	}()
	testutil.WaitForReadings(t, pub, 1, 2*time.Second)

	agg := monitor.AggregateHealth("vol2mqtt")
	assert.True(t, agg.IsHealthy())
	assert.Len(t, agg.SubStatuses, 2)

	cancel()
	assert.NoError(t, <-done)
}

func TestRun_Throttle(t *testing.T) {
	lines := testutil.NewMockLines(
		testutil.FrameLine(0, "0"),
		testutil.LevelLine("-10"),
		testutil.LevelLine("-20"),
		testutil.LevelLine("-30"),
		testutil.LevelLine("-40"),
	)
	lines.BeforeLine = func(i int) {
		if i == 4 {
			time.Sleep(150 * time.Millisecond)
		}
	}
	pub := testutil.NewMockPublisher()
	metrics := metric.NewMetrics()

	_ = New(lines, pub, WithMetrics(metrics), WithThrottle(100*time.Millisecond)).Run(context.Background())

	// first reading passes, the next two fall in the same interval, the last one
	// publishes the window mean
	assert.Equal(t, []float64{-10, -25}, pub.Values())
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.ReadingsThrottled))
	assert.Equal(t, 4.0, promtest.ToFloat64(metrics.ReadingsParsed))
}

func TestRun_ThrottleWindowFollowsStreamTime(t *testing.T) {
	lines := testutil.NewMockLines(
		testutil.FrameLine(0, "0"),
		testutil.LevelLine("-10"),
		testutil.FrameLine(1, "5"),
		testutil.LevelLine("-20"),
	)
	lines.BeforeLine = func(i int) {
		if i == 3 {
			time.Sleep(150 * time.Millisecond)
		}
	}
	pub := testutil.NewMockPublisher()

	_ = New(lines, pub, WithThrottle(100*time.Millisecond)).Run(context.Background())

	// -10 is 5s of stream time older than -20 and falls out of the 0.1s window
	assert.Equal(t, []float64{-10, -20}, pub.Values())
}

func TestRun_ZeroThrottlePublishesEverything(t *testing.T) {
	lines := testutil.NewMockLines(testutil.LevelLine("-1"), testutil.LevelLine("-2"), testutil.LevelLine("-3"))
	pub := testutil.NewMockPublisher()

	_ = New(lines, pub, WithThrottle(0)).Run(context.Background())

	assert.Equal(t, []float64{-1, -2, -3}, pub.Values())
}

func TestRun_WithProcess(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	script := "printf '%s\\n' " + shellQuote(testutil.FrameLines) + " >&2; exit 1"
	proc, err := source.NewProcess([]string{"sh", "-c", script})
	require.NoError(t, err)
	defer proc.Close(time.Second)

	pub := testutil.NewMockPublisher()
	err = New(proc, pub).Run(context.Background())

	var exitErr *source.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Equal(t, []float64{-23.4, -20.125}, pub.Values())
}

func TestRun_ProcessCancelled(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	script := "printf '%s\\n' " + shellQuote([]string{testutil.LevelLine("-7")}) + " >&2; exec sleep 30"
	proc, err := source.NewProcess([]string{"sh", "-c", script}, source.WithStopTimeout(time.Second))
	require.NoError(t, err)
	defer proc.Close(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := testutil.NewMockPublisher()
	done := make(chan error, 1)
	go func() {
		done <- New(proc, pub).Run(ctx)
	}()

	testutil.WaitForReadings(t, pub, 1, 5*time.Second)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_CancelledBeforeSourceStart(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	proc, err := source.NewProcess([]string{"sh", "-c", "exit 0"})
	require.NoError(t, err)
	defer proc.Close(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := testutil.NewMockPublisher()
	err = New(proc, pub).Run(ctx)

	assert.NoError(t, err, "a stop signal before the source starts is a clean stop")
	assert.Empty(t, pub.Readings())
}

func TestRun_SourceStartFailure(t *testing.T) {
	proc, err := source.NewProcess([]string{"/nonexistent/ffmpeg"})
	require.NoError(t, err)

	monitor := health.NewMonitor()
	err = New(proc, testutil.NewMockPublisher(), WithHealth(monitor)).Run(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, errors.Is(err, errors.ErrSourceExited))

	status, ok := monitor.Get(HealthSource)
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
}

func shellQuote(lines []string) string {
	quoted := make([]string, len(lines))
	for i, l := range lines {
		quoted[i] = "'" + strings.ReplaceAll(l, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
