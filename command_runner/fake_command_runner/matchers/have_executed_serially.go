package fake_command_runner_matchers

import (
	"fmt"

	"github.com/aoinb/builder/command_runner/fake_command_runner"
)

func HaveExecutedSerially(specs ...fake_command_runner.CommandSpec) *HaveExecutedSeriallyMatcher {
	return &HaveExecutedSeriallyMatcher{specs}
}

type HaveExecutedSeriallyMatcher struct {
	Specs []fake_command_runner.CommandSpec
}

func (m *HaveExecutedSeriallyMatcher) Match(actual interface{}) (bool, error) {
	runner, ok := actual.(*fake_command_runner.FakeCommandRunner)
	if !ok {
		return false, fmt.Errorf("Not a fake command runner: %#v.", actual)
	}

	executed := runner.ExecutedCommands()

	matched := false
	startSearch := 0

	for _, spec := range m.Specs {
		matched = false

		for i := startSearch; i < len(executed); i++ {
			startSearch++

			if !spec.Matches(executed[i]) {
				continue
			}

			matched = true

			break
		}

		if !matched {
			break
		}
	}

	return matched, nil
}

func (m *HaveExecutedSeriallyMatcher) FailureMessage(actual interface{}) string {
	return fmt.Sprintf("Expected to execute:%s\n\nActually executed:%s", prettySpecs(m.Specs), prettyCommands(actual))
}

func (m *HaveExecutedSeriallyMatcher) NegatedFailureMessage(actual interface{}) string {
	return fmt.Sprintf("Expected to not execute the following commands:%s", prettySpecs(m.Specs))
}

func prettySpecs(specs []fake_command_runner.CommandSpec) string {
	out := ""

	for _, spec := range specs {
		out += fmt.Sprintf("\n\t'%s'\n\t\twith arguments %v\n\t\tand environment %v", spec.Path, spec.Args, spec.Env)
	}

	return out
}

func prettyCommands(actual interface{}) string {
	runner, ok := actual.(*fake_command_runner.FakeCommandRunner)
	if !ok {
		return ""
	}

	out := ""

	for _, command := range runner.ExecutedCommands() {
		out += fmt.Sprintf("\n\t'%s'\n\t\twith arguments %v\n\t\tand environment %v", command.Path, command.Args[1:], command.Env)
	}

	return out
}
