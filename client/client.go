// Package client talks to a builder server over its HTTP API.
package client

import (
	"context"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/client/connection"
)

type Client interface {
	Ping() error

	BaseImage() (builder.BaseImageInfo, error)
	UpdateBaseImage(ctx context.Context) (int, error)

	Create(name string) (Instance, error)
	Instances() ([]Instance, error)
	Lookup(name string) (Instance, error)
	Destroy(name string) error
}

type client struct {
	connection connection.Connection
}

func New(connection connection.Connection) Client {
	return &client{
		connection: connection,
	}
}

func (client *client) Ping() error {
	return client.connection.Ping()
}

func (client *client) BaseImage() (builder.BaseImageInfo, error) {
	return client.connection.BaseImage()
}

func (client *client) UpdateBaseImage(ctx context.Context) (int, error) {
	return client.connection.UpdateBaseImage(ctx)
}

func (client *client) Create(name string) (Instance, error) {
	info, err := client.connection.Create(name)
	if err != nil {
		return nil, err
	}

	return newInstance(info.Name, client.connection), nil
}

func (client *client) Instances() ([]Instance, error) {
	infos, err := client.connection.List()
	if err != nil {
		return nil, err
	}

	instances := []Instance{}
	for _, info := range infos {
		instances = append(instances, newInstance(info.Name, client.connection))
	}

	return instances, nil
}

func (client *client) Lookup(name string) (Instance, error) {
	_, err := client.connection.Info(name)
	if err != nil {
		return nil, err
	}

	return newInstance(name, client.connection), nil
}

func (client *client) Destroy(name string) error {
	return client.connection.Destroy(name)
}
