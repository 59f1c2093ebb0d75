package ffmpeg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/renderd/internal/logger"
)

func TestRunSuccess(t *testing.T) {
	r := NewRunner("/bin/sh", logger.Nop())
	err := r.Run(context.Background(), []string{"-c", "exit 0"}, 5*time.Second)
	assert.NoError(t, err)
}

func TestRunNonZeroExitCarriesStderrTail(t *testing.T) {
	r := NewRunner("/bin/sh", logger.Nop())
	err := r.Run(context.Background(), []string{"-c", "echo 'No such filter: xfody' >&2; exit 1"}, 5*time.Second)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode)
	assert.Contains(t, exitErr.Tail, "No such filter: xfody")
	assert.Contains(t, exitErr.Error(), "No such filter")
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	r := NewRunner("/bin/sh", logger.Nop())
	start := time.Now()
	err := r.Run(context.Background(), []string{"-c", "sleep 30"}, 200*time.Millisecond)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunCancellationWinsOverTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	r := NewRunner("/bin/sh", logger.Nop())
	err := r.Run(ctx, []string{"-c", "sleep 30"}, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunMissingBinary(t *testing.T) {
	r := NewRunner("/nonexistent/ffmpeg", logger.Nop())
	err := r.Run(context.Background(), []string{"-version"}, time.Second)
	assert.Error(t, err)
}

func TestTailBufferKeepsOnlyTail(t *testing.T) {
	b := newTailBuffer(8)
	b.Write([]byte("0123456789abcdef"))
	assert.Equal(t, "89abcdef", b.String())

	b.Write([]byte("XY"))
	assert.Equal(t, "abcdefXY", b.String())
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "2.500", FormatSeconds(2.5))
	assert.Equal(t, "0.000", FormatSeconds(0))
}
