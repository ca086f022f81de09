package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/statmirror/statmirror/internal/metrics"
)

// Conversion failure kinds. A timeout means the wall clock budget was
// exceeded and the worker was killed; a worker failure means the worker
// exited nonzero on its own.
var (
	ErrTimeout      = errors.New("conversion timeout")
	ErrWorkerFailed = errors.New("conversion failed")
)

// WorkerCommand is the hidden subcommand the runner invokes on its own
// binary to perform one conversion in an isolated child process.
const WorkerCommand = "convert-worker"

// DefaultTimeout is the wall clock budget for one conversion.
const DefaultTimeout = 600 * time.Second

// Runner executes conversions in a child process. The child exits after
// each file, so whatever the conversion allocated is returned to the OS
// no matter how the parquet library manages its memory.
type Runner struct {
	binary  string
	timeout time.Duration
	env     []string
}

// NewRunner builds a runner that re-executes the current binary with
// the worker subcommand. A non-positive timeout selects DefaultTimeout.
func NewRunner(timeout time.Duration) (*Runner, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own binary: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{binary: self, timeout: timeout, env: os.Environ()}, nil
}

// Convert runs one CSV to parquet conversion in a child process,
// enforcing the wall clock timeout. Timeouts and worker crashes are
// distinguishable with errors.Is.
func (r *Runner) Convert(ctx context.Context, inputCSV, outputParquet string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, WorkerCommand, inputCSV, outputParquet)
	cmd.Env = r.env
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		if m := metrics.Get(); m != nil {
			m.ObserveConversionDuration(time.Since(start).Seconds())
		}
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}
	if tail := lastLine(stderr.Bytes()); tail != "" {
		return fmt.Errorf("%w: %v: %s", ErrWorkerFailed, err, tail)
	}
	return fmt.Errorf("%w: %v", ErrWorkerFailed, err)
}

// lastLine extracts the final non-empty stderr line, which is where the
// worker prints its error before exiting.
func lastLine(b []byte) string {
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if line := bytes.TrimSpace(lines[i]); len(line) > 0 {
			return string(line)
		}
	}
	return ""
}
