// Package run executes external binaries synchronously, capturing
// their combined output. Both cargo and cargo-audit emit diagnostics
// on stderr and results on stdout, callers want both interleaved the
// way a terminal would show them.
package run

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

type Result struct {
	Path    string
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Output  []byte
	// Err is whatever os/exec returned. CtxErr is set when the context
	// expired or was canceled while the command ran: the process was
	// killed, its exit status and output are meaningless.
	Err    error
	CtxErr error
}

func (r Result) Duration() time.Duration {
	return r.Stopped.Sub(r.Started)
}

// ExitCode returns the exit status of the finished process,
// or -1 if it never started.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Exited reports whether the process ran and exited on its own,
// regardless of its status code. A killed process, timed out or
// canceled, did not exit on its own.
func (r Result) Exited() bool {
	if r.CtxErr != nil {
		return false
	}
	var exitErr *exec.ExitError
	return r.Err == nil || errors.As(r.Err, &exitErr)
}

// Do runs the command and waits for it to exit. A zero Timeout means
// the call may block forever on a hung binary, which is logged.
func Do(ctx context.Context, proto Command) Result {
	res := Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	if proto.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "path", proto.Path)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Dir = proto.Dir
	cmd.Env = proto.Env

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	slog.DebugContext(ctx, "running command", "path", proto.Path, "args", proto.Args, "dir", proto.Dir)
	res.Started = time.Now().UTC()
	res.Err = cmd.Run()
	res.Stopped = time.Now().UTC()
	res.State = cmd.ProcessState
	res.Output = buf.Bytes()
	if res.Err != nil {
		res.CtxErr = ctx.Err()
	}
	slog.DebugContext(ctx, "command finished",
		"path", proto.Path,
		"exit_code", res.ExitCode(),
		"elapsed", res.Duration().String(),
	)
	return res
}
