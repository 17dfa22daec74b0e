package source

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ldotlopez/vol2mqtt/errors"
)

// DefaultStopTimeout is how long the child gets to exit after SIGTERM before it is killed
const DefaultStopTimeout = 5 * time.Second

// ExitError reports that the source process terminated. It always matches
// errors.ErrSourceExited.
type ExitError struct {
	Code int   // exit status, -1 when killed by a signal
	Err  error // error returned by Wait, if any
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: exit code %d: %v", errors.ErrSourceExited, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: exit code %d", errors.ErrSourceExited, e.Code)
}

func (e *ExitError) Unwrap() []error {
	if e.Err != nil {
		return []error{errors.ErrSourceExited, e.Err}
	}
	return []error{errors.ErrSourceExited}
}

// Option configures a Process
type Option func(*Process)

// WithLogger sets the logger used for lifecycle events
func WithLogger(logger *slog.Logger) Option {
	return func(p *Process) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithStopTimeout sets the grace period between SIGTERM and SIGKILL when the
// start context is cancelled
func WithStopTimeout(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.stopTimeout = d
		}
	}
}

// Process runs the metadata-emitting child and exposes its log stream (stderr)
// as Lines. A Process runs at most once; it cannot be restarted.
type Process struct {
	argv        []string
	logger      *slog.Logger
	stopTimeout time.Duration

	mu      sync.Mutex
	cmd     *exec.Cmd
	lines   *LineReader
	started bool

	waitOnce sync.Once
	waitErr  error
	exitCode int
	exited   chan struct{}

	// sticky terminal error returned by every Next after the first
	err error
}

// NewProcess creates a Process for argv. Nothing is spawned until Start or the first Next.
func NewProcess(argv []string, opts ...Option) (*Process, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Process", "NewProcess", "validate argv")
	}

	p := &Process{
		argv:        append([]string(nil), argv...),
		logger:      slog.Default(),
		stopTimeout: DefaultStopTimeout,
		exitCode:    -1,
		exited:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "source")
	return p, nil
}

// Argv returns a copy of the command line
func (p *Process) Argv() []string {
	return append([]string(nil), p.argv...)
}

// Start spawns the child. Cancelling ctx sends SIGTERM and, after the stop
// timeout, SIGKILL; the stream then ends and Next reports the exit.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.ErrAlreadyStarted
	}
	p.started = true

	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = p.stopTimeout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.err = errors.WrapFatal(err, "Process", "Start", "create stderr pipe")
		p.waitOnce.Do(func() { close(p.exited) })
		return p.err
	}

	if err := cmd.Start(); err != nil {
		p.err = errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrSourceExited, err), "Process", "Start", "spawn process")
		p.waitOnce.Do(func() { close(p.exited) })
		return p.err
	}

	p.cmd = cmd
	p.lines = NewLineReader(stderr)

	p.logger.Info("Source process started", "pid", cmd.Process.Pid, "argv", p.argv)
	return nil
}

// Next returns the next non-blank line of the child's log stream, starting the
// child on first use. When the stream ends it waits for the child and returns an
// *ExitError; every later call returns the same error.
func (p *Process) Next() (string, error) {
	if p.err != nil {
		return "", p.err
	}

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		if err := p.Start(context.Background()); err != nil {
			return "", err
		}
	}

	line, err := p.lines.Next()
	if err == nil {
		return line, nil
	}

	// Anything but an oversized line means the pipe is gone: EOF, or closed by Close
	if !stderrors.Is(err, bufio.ErrTooLong) {
		p.wait()
		p.err = &ExitError{Code: p.exitCode, Err: p.waitErr}
		p.logger.Info("Source process exited", "code", p.exitCode, "error", p.waitErr)
		return "", p.err
	}

	p.err = errors.WrapFatal(err, "Process", "Next", "read line")
	return "", p.err
}

// ExitCode returns the exit status once the child has been reaped, -1 before that
// or when it was killed by a signal
func (p *Process) ExitCode() int {
	select {
	case <-p.exited:
		return p.exitCode
	default:
		return -1
	}
}

// Close terminates the child: SIGTERM first, SIGKILL when it is still running
// after timeout. Closing a process that never started or already exited is a no-op.
func (p *Process) Close(timeout time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = p.stopTimeout
	}

	select {
	case <-p.exited:
		return nil
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to signal source process", "error", err)
	}

	done := make(chan struct{})
	go func() {
		p.wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("Source process stopped", "code", p.exitCode)
		return nil
	case <-time.After(timeout):
	}

	p.logger.Warn("Source process did not stop in time, killing", "timeout", timeout)
	if err := cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return errors.WrapFatal(err, "Process", "Close", "kill process")
	}
	<-done
	return nil
}

// wait reaps the child exactly once
func (p *Process) wait() {
	p.waitOnce.Do(func() {
		defer close(p.exited)
		if p.cmd == nil {
			return
		}
		p.waitErr = p.cmd.Wait()
		if p.cmd.ProcessState != nil {
			p.exitCode = p.cmd.ProcessState.ExitCode()
		}
		// Wait reports a plain non-zero status as *exec.ExitError; the code already
		// carries it
		var exitErr *exec.ExitError
		if stderrors.As(p.waitErr, &exitErr) && exitErr.Exited() {
			p.waitErr = nil
		}
	})
}
