package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/giantswarm/labrunner/internal/sentinel"
)

// ErrEmptyCommand is returned when Command.Path is empty.
const ErrEmptyCommand = sentinel.Error("command path must not be empty")

// ErrNonZeroExit is wrapped by *ExitError when a command exits with a
// nonzero status.
const ErrNonZeroExit = sentinel.Error("command exited with nonzero status")

// ErrTimedOut is returned when a command is still running at its deadline
// and had to be terminated.
const ErrTimedOut = sentinel.Error("command timed out")

const (
	// DefaultMaxOutputBytes caps each of stdout and stderr.
	DefaultMaxOutputBytes = 4 << 20

	// DefaultTimeout applies when neither Command.Timeout nor the caller's
	// context carries a deadline.
	DefaultTimeout = 5 * time.Minute

	// termGracePeriod is how long a process group gets between SIGTERM and
	// SIGKILL after its deadline passes.
	termGracePeriod = 5 * time.Second

	// killDrainTimeout bounds the wait for cmd.Wait after SIGKILL.
	killDrainTimeout = 10 * time.Second
)

// Command describes one invocation.
type Command struct {
	// Path is the executable, either absolute or looked up in PATH.
	Path string
	Args []string
	// Dir is the working directory. Empty means the controller's cwd.
	Dir string
	// Env is the complete environment. Nil inherits the controller's.
	Env []string
	// Timeout bounds the run. Zero uses the runner's default.
	Timeout time.Duration
}

// String renders the command for logs. Arguments are included as given;
// callers must redact secrets before building the Command.
func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Path, c.Args)
}

// Result holds the buffered output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
	// Truncated reports whether either stream exceeded the output cap.
	Truncated bool
}

// ExitError reports a command that ran to completion with a nonzero status.
type ExitError struct {
	Code   int
	Stderr []byte
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap lets errors.Is match ErrNonZeroExit.
func (e *ExitError) Unwrap() error {
	return ErrNonZeroExit
}

// Config configures a Runner.
type Config struct {
	// MaxOutputBytes caps each output stream. Zero uses DefaultMaxOutputBytes.
	MaxOutputBytes int
	// DefaultTimeout applies to commands without their own Timeout.
	DefaultTimeout time.Duration
	// GracePeriod is the SIGTERM to SIGKILL delay. Zero uses termGracePeriod.
	GracePeriod time.Duration
	Logger      *slog.Logger
}

// Runner executes commands. It holds no per-command state and is safe for
// concurrent use.
type Runner struct {
	maxOutput      int
	defaultTimeout time.Duration
	grace          time.Duration
	log            *slog.Logger
}

// NewRunner returns a Runner with cfg's zero fields replaced by defaults.
func NewRunner(cfg Config) *Runner {
	r := &Runner{
		maxOutput:      cfg.MaxOutputBytes,
		defaultTimeout: cfg.DefaultTimeout,
		grace:          cfg.GracePeriod,
		log:            cfg.Logger,
	}
	if r.maxOutput <= 0 {
		r.maxOutput = DefaultMaxOutputBytes
	}
	if r.defaultTimeout <= 0 {
		r.defaultTimeout = DefaultTimeout
	}
	if r.grace <= 0 {
		r.grace = termGracePeriod
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Run starts c and blocks until it exits, its timeout elapses, or ctx is
// done. The returned Result is populated on every path where the process
// was started, so callers can inspect stderr of failed runs.
//
// Errors:
//   - *ExitError (errors.Is ErrNonZeroExit) on a nonzero exit status.
//   - ErrTimedOut when the timeout elapsed; the process group was killed.
//   - the context's error when ctx was canceled by the caller.
//   - a start error when the executable could not be launched.
func (r *Runner) Run(ctx context.Context, c Command) (Result, error) {
	if c.Path == "" {
		return Result{}, ErrEmptyCommand
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	runCtx, cancel := context.WithTimeoutCause(ctx, timeout, ErrTimedOut)
	defer cancel()

	cmd := exec.Command(c.Path, c.Args...) //nolint:gosec // G204: command and args are built by the controller
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	// Stops Wait from hanging on pipes inherited by stray grandchildren.
	cmd.WaitDelay = r.grace
	configureSysProcAttr(cmd)

	stdout := newCappedBuffer(r.maxOutput)
	stderr := newCappedBuffer(r.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", c.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	terminated := false
	exited := true
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		terminated = true
		exited, waitErr = r.terminate(cmd, done, c.Path)
	}

	res := Result{
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		ExitCode:  -1,
		Duration:  time.Since(start),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
	// ProcessState is written by the Wait goroutine; read it only once
	// that goroutine has delivered.
	if exited {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if terminated {
		if errors.Is(context.Cause(runCtx), ErrTimedOut) {
			return res, fmt.Errorf("%s after %s: %w", c.Path, timeout, ErrTimedOut)
		}
		return res, fmt.Errorf("%s: %w", c.Path, context.Cause(runCtx))
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, &ExitError{Code: exitErr.ExitCode(), Stderr: res.Stderr}
		}
		return res, fmt.Errorf("wait %s: %w", c.Path, waitErr)
	}

	return res, nil
}

// terminate sends SIGTERM to the process group, escalates to SIGKILL after
// the grace period and waits for cmd.Wait to return. It reports whether
// Wait returned at all, and its result.
func (r *Runner) terminate(cmd *exec.Cmd, done <-chan error, name string) (bool, error) {
	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		r.log.Debug("SIGTERM failed, process may have exited", "command", name, "error", err)
	}

	killTimer := time.AfterFunc(r.grace, func() {
		// Kill after exit is harmless; the error is irrelevant.
		_ = signalGroup(cmd, syscall.SIGKILL)
	})
	defer killTimer.Stop()

	t := time.NewTimer(r.grace + killDrainTimeout)
	defer t.Stop()

	select {
	case err := <-done:
		return true, err
	case <-t.C:
		r.log.Warn("process did not exit after SIGKILL; it may be orphaned",
			"command", name, "pid", cmd.Process.Pid)
		return false, fmt.Errorf("%s: timed out waiting for exit after SIGKILL", name)
	}
}
