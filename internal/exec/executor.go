package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

type executor struct{}

// New returns a new Executor that uses os/exec.
func New() Executor {
	return &executor{}
}

func (e *executor) Run(ctx context.Context, opts *RunOptions) (*Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// G204: This is intentional - we're an executor that runs caller-specified commands.
	cmd := exec.CommandContext(ctx, opts.Name, opts.Args...) //nolint:gosec // Intentional subprocess execution

	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	var stderrBuf bytes.Buffer
	stdoutBuf := &limitedBuffer{limit: opts.MaxOutput}

	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else {
		cmd.Stdout = stdoutBuf
	}

	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	} else {
		cmd.Stderr = &stderrBuf
	}

	err := cmd.Run()

	result := &Result{
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if opts.Stdout == nil {
		result.Stdout = stdoutBuf.Bytes()
	}
	if opts.Stderr == nil {
		result.Stderr = stderrBuf.Bytes()
	}

	if ctxErr := ctx.Err(); err != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
		return result, fmt.Errorf("%s timed out after %s: %w", opts.Name, opts.Timeout, ctxErr)
	}
	if err == nil && stdoutBuf.overflow {
		return result, fmt.Errorf("%w: %s wrote more than %d bytes", ErrOutputTooLarge, opts.Name, opts.MaxOutput)
	}

	return result, err
}

func (e *executor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// limitedBuffer keeps at most limit bytes and records whether more were written.
// It never fails a write so the child process is not killed by a broken pipe.
type limitedBuffer struct {
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}

	remaining := b.limit - int64(b.buf.Len())
	if int64(len(p)) > remaining {
		b.overflow = true
		if remaining > 0 {
			b.buf.Write(p[:remaining])
		}
		return len(p), nil
	}

	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
