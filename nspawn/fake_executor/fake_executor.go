package fake_executor

import (
	"context"
	"sync"
)

type FakeExecutor struct {
	executions []Execution
	handler    func(ctx context.Context, root, command string) (int, error)

	sync.Mutex
}

type Execution struct {
	Root    string
	Command string
}

func New() *FakeExecutor {
	return &FakeExecutor{}
}

func (e *FakeExecutor) Execute(ctx context.Context, root, command string) (int, error) {
	e.Lock()
	e.executions = append(e.executions, Execution{Root: root, Command: command})
	handler := e.handler
	e.Unlock()

	if handler == nil {
		return 0, nil
	}

	return handler(ctx, root, command)
}

// WhenExecuting replaces the default behaviour of exiting 0.
func (e *FakeExecutor) WhenExecuting(handler func(ctx context.Context, root, command string) (int, error)) {
	e.Lock()
	defer e.Unlock()

	e.handler = handler
}

func (e *FakeExecutor) Executions() []Execution {
	e.Lock()
	defer e.Unlock()

	return append([]Execution{}, e.executions...)
}
