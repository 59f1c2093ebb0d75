// Package ffmpeg executes encoder and probe processes. The runner owns
// process-group lifecycle: every invocation runs in its own group so a
// timeout or cancellation kills the encoder and any children it forked, and
// a bounded tail of stderr is kept for error reports.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
)

// stderrTailBytes bounds how much encoder stderr is retained for error
// reporting.
const stderrTailBytes = 4096

// gracePeriod is how long a process gets between SIGTERM and SIGKILL.
const gracePeriod = 5 * time.Second

// TimeoutError reports an encode that exceeded its deadline and was killed.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("encoder exceeded the %s timeout and was killed", e.Timeout)
}

// ExitError reports an encoder that exited non-zero, with the tail of its
// stderr for diagnosis.
type ExitError struct {
	ExitCode int
	Tail     string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("encoder exited with code %d: %s", e.ExitCode, lastLine(e.Tail))
}

func lastLine(tail string) string {
	lines := strings.Split(strings.TrimSpace(tail), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// tailBuffer keeps the last capacity bytes written to it.
type tailBuffer struct {
	buf []byte
	cap int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.cap {
		t.buf = t.buf[len(t.buf)-t.cap:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }

// Runner executes ffmpeg with timeout and process-group supervision.
type Runner struct {
	bin    string
	logger hclog.Logger
}

// NewRunner builds a runner for the given ffmpeg binary.
func NewRunner(bin string, logger hclog.Logger) *Runner {
	return &Runner{bin: bin, logger: logger.Named("ffmpeg")}
}

// Run executes ffmpeg with args. The process is killed (whole group,
// SIGTERM then SIGKILL) when ctx is cancelled or timeout elapses; a timeout
// surfaces as *TimeoutError, a non-zero exit as *ExitError.
func (r *Runner) Run(ctx context.Context, args []string, timeout time.Duration) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.Command(r.bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	tail := newTailBuffer(stderrTailBytes)
	cmd.Stderr = tail

	r.logger.Debug("starting encoder", "args", strings.Join(args, " "))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.bin, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			r.logger.Debug("encoder finished", "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &ExitError{ExitCode: exitErr.ExitCode(), Tail: tail.String()}
		}
		return err
	case <-runCtx.Done():
		r.killGroup(cmd, done)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Error("encoder timed out", "timeout", timeout, "elapsed", time.Since(start).Round(time.Second))
		return &TimeoutError{Timeout: timeout}
	}
}

// killGroup terminates the whole process group: SIGTERM first, SIGKILL if
// the group is still alive after the grace period.
func (r *Runner) killGroup(cmd *exec.Cmd, done <-chan error) {
	pgid := cmd.Process.Pid
	syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(gracePeriod):
	}
	syscall.Kill(-pgid, syscall.SIGKILL)
	<-done
}

// FormatSeconds renders a duration in the fractional-seconds form ffmpeg
// arguments expect.
func FormatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'f', 3, 64)
}
