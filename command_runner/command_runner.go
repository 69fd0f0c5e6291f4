package command_runner

import (
	"fmt"
	"os/exec"
	"strings"

	"code.cloudfoundry.org/lager"
)

type CommandRunner interface {
	Run(*exec.Cmd) error
	Start(*exec.Cmd) error
	Wait(*exec.Cmd) error
}

type RealCommandRunner struct {
	logger lager.Logger
}

type CommandNotRunningError struct {
	cmd *exec.Cmd
}

func (e CommandNotRunningError) Error() string {
	return fmt.Sprintf("command is not running: %s", strings.Join(e.cmd.Args, " "))
}

func New(logger lager.Logger) *RealCommandRunner {
	return &RealCommandRunner{
		logger: logger.Session("command-runner"),
	}
}

func (r *RealCommandRunner) Run(cmd *exec.Cmd) error {
	r.logger.Debug("run", lager.Data{"path": cmd.Path, "args": cmd.Args[1:]})

	return cmd.Run()
}

func (r *RealCommandRunner) Start(cmd *exec.Cmd) error {
	r.logger.Debug("start", lager.Data{"path": cmd.Path, "args": cmd.Args[1:]})

	return cmd.Start()
}

func (r *RealCommandRunner) Wait(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return CommandNotRunningError{cmd}
	}

	return cmd.Wait()
}
