// Package nspawn runs commands inside a root directory with systemd-nspawn.
package nspawn

import (
	"context"
	"io"
	"os/exec"
	"time"

	"code.cloudfoundry.org/lager"

	"github.com/aoinb/builder/command_runner"
	"github.com/aoinb/builder/metrics"
)

const (
	DefaultPath = "systemd-nspawn"

	// StartFailedStatus is reported when the isolation tool could not be
	// started at all, the way a shell reports a command it cannot exec.
	StartFailedStatus = 255
)

type Options struct {
	// Path to systemd-nspawn; looked up in $PATH when relative.
	Path string

	// Timeout bounds every command. Zero means no limit beyond the
	// caller's context.
	Timeout time.Duration

	Stdout io.Writer
	Stderr io.Writer

	// Kind tags latency metrics, e.g. "run" or "update".
	Kind string
}

type Executor struct {
	path    string
	timeout time.Duration
	stdout  io.Writer
	stderr  io.Writer
	kind    string

	runner command_runner.CommandRunner
	logger lager.Logger
}

func New(runner command_runner.CommandRunner, logger lager.Logger, opts Options) *Executor {
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}

	kind := opts.Kind
	if kind == "" {
		kind = "run"
	}

	return &Executor{
		path:    path,
		timeout: opts.Timeout,
		stdout:  opts.Stdout,
		stderr:  opts.Stderr,
		kind:    kind,

		runner: runner,
		logger: logger.Session("nspawn"),
	}
}

func (e *Executor) Execute(ctx context.Context, root, command string) (int, error) {
	eLog := e.logger.Session("execute", lager.Data{
		"root":    root,
		"command": command,
	})

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.path, "--quiet", "-D", root, "/bin/sh", "-c", command)
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr

	started := time.Now()

	err := e.runner.Start(cmd)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			eLog.Error("interrupted", ctxErr)
			metrics.RecordCommand(e.kind, started, ctxErr)
			return -1, ctxErr
		}

		eLog.Error("failed-to-start", err)
		metrics.RecordCommand(e.kind, started, err)
		return StartFailedStatus, nil
	}

	if cmd.Process != nil {
		eLog.Debug("started", lager.Data{"pid": cmd.Process.Pid})
	}

	err = e.runner.Wait(cmd)

	if ctxErr := ctx.Err(); ctxErr != nil {
		eLog.Error("interrupted", ctxErr)
		metrics.RecordCommand(e.kind, started, ctxErr)
		return -1, ctxErr
	}

	status := ExitStatus(err)
	metrics.RecordCommand(e.kind, started, err)

	eLog.Info("exited", lager.Data{
		"status":   status,
		"duration": time.Since(started).String(),
	})

	return status, nil
}

// ExitStatus extracts a process exit status from the error returned by
// waiting on it.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}

	if exitErr, ok := err.(interface{ ExitCode() int }); ok {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}

	return StartFailedStatus
}
