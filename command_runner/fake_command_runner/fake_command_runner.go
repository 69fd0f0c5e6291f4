package fake_command_runner

import (
	"os/exec"
	"reflect"
	"sync"
)

type FakeCommandRunner struct {
	executedCommands []*exec.Cmd
	startedCommands  []*exec.Cmd
	waitedCommands   []*exec.Cmd

	commandCallbacks []callback
	waitingCallbacks []callback

	sync.RWMutex
}

type callback struct {
	spec CommandSpec
	fn   func(*exec.Cmd) error
}

type CommandSpec struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

func (s CommandSpec) Matches(cmd *exec.Cmd) bool {
	if s.Path != "" && s.Path != cmd.Path && s.Path != cmd.Args[0] {
		return false
	}

	if len(s.Args) > 0 && !reflect.DeepEqual(s.Args, cmd.Args[1:]) {
		return false
	}

	if len(s.Env) > 0 && !reflect.DeepEqual(s.Env, cmd.Env) {
		return false
	}

	if s.Dir != "" && s.Dir != cmd.Dir {
		return false
	}

	return true
}

func New() *FakeCommandRunner {
	return &FakeCommandRunner{}
}

func (r *FakeCommandRunner) Run(cmd *exec.Cmd) error {
	r.Lock()
	r.executedCommands = append(r.executedCommands, cmd)
	r.Unlock()

	return r.dispatch(false, cmd)
}

// Start records cmd as both started and executed; Wait then fires the
// callbacks registered for it.
func (r *FakeCommandRunner) Start(cmd *exec.Cmd) error {
	r.Lock()
	r.executedCommands = append(r.executedCommands, cmd)
	r.startedCommands = append(r.startedCommands, cmd)
	r.Unlock()

	return nil
}

func (r *FakeCommandRunner) Wait(cmd *exec.Cmd) error {
	r.Lock()
	r.waitedCommands = append(r.waitedCommands, cmd)
	r.Unlock()

	err := r.dispatch(true, cmd)
	if err != nil {
		return err
	}

	return r.dispatch(false, cmd)
}

func (r *FakeCommandRunner) WhenRunning(spec CommandSpec, fn func(*exec.Cmd) error) {
	r.Lock()
	defer r.Unlock()

	r.commandCallbacks = append(r.commandCallbacks, callback{spec, fn})
}

func (r *FakeCommandRunner) WhenWaitingFor(spec CommandSpec, fn func(*exec.Cmd) error) {
	r.Lock()
	defer r.Unlock()

	r.waitingCallbacks = append(r.waitingCallbacks, callback{spec, fn})
}

func (r *FakeCommandRunner) ExecutedCommands() []*exec.Cmd {
	r.RLock()
	defer r.RUnlock()

	return append([]*exec.Cmd{}, r.executedCommands...)
}

func (r *FakeCommandRunner) StartedCommands() []*exec.Cmd {
	r.RLock()
	defer r.RUnlock()

	return append([]*exec.Cmd{}, r.startedCommands...)
}

func (r *FakeCommandRunner) WaitedCommands() []*exec.Cmd {
	r.RLock()
	defer r.RUnlock()

	return append([]*exec.Cmd{}, r.waitedCommands...)
}

func (r *FakeCommandRunner) dispatch(waiting bool, cmd *exec.Cmd) error {
	r.RLock()
	callbacks := r.commandCallbacks
	if waiting {
		callbacks = r.waitingCallbacks
	}

	var match *callback
	for i := range callbacks {
		if callbacks[i].spec.Matches(cmd) {
			match = &callbacks[i]
			break
		}
	}
	r.RUnlock()

	if match == nil {
		return nil
	}

	return match.fn(cmd)
}
