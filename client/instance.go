package client

import (
	"context"
	"time"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/client/connection"
)

// Instance is a handle on one named instance of a remote builder.
type Instance interface {
	Name() string

	Info() (builder.ContainerInfo, error)

	Up() error
	Down() error

	// Run returns the command's exit status. A zero timeout leaves the
	// bound to the server.
	Run(ctx context.Context, command string, timeout time.Duration) (int, error)

	CopyIn(src, dst string) error
	Cleanup() error
}

type instance struct {
	name string

	connection connection.Connection
}

func newInstance(name string, connection connection.Connection) Instance {
	return &instance{
		name: name,

		connection: connection,
	}
}

func (instance *instance) Name() string {
	return instance.name
}

func (instance *instance) Info() (builder.ContainerInfo, error) {
	return instance.connection.Info(instance.name)
}

func (instance *instance) Up() error {
	return instance.connection.Up(instance.name)
}

func (instance *instance) Down() error {
	return instance.connection.Down(instance.name)
}

func (instance *instance) Run(ctx context.Context, command string, timeout time.Duration) (int, error) {
	return instance.connection.Run(ctx, instance.name, command, timeout)
}

func (instance *instance) CopyIn(src, dst string) error {
	return instance.connection.CopyIn(instance.name, src, dst)
}

func (instance *instance) Cleanup() error {
	return instance.connection.Cleanup(instance.name)
}
