package container_pool

import (
	"errors"
	"sort"
	"sync"

	"code.cloudfoundry.org/lager"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/command_runner"
	"github.com/aoinb/builder/layout"
	"github.com/aoinb/builder/linux_backend"
)

// ContainerPool keeps the named instances under one work directory, all
// layered on the same base image.
type ContainerPool struct {
	workDir string

	baseImage linux_backend.BaseImage
	mounter   builder.Mounter
	executor  builder.Executor
	runner    command_runner.CommandRunner

	logger lager.Logger

	containers map[string]*linux_backend.LinuxContainer

	sync.RWMutex
}

func New(
	workDir string,
	baseImage linux_backend.BaseImage,
	mounter builder.Mounter,
	executor builder.Executor,
	runner command_runner.CommandRunner,
	logger lager.Logger,
) *ContainerPool {
	return &ContainerPool{
		workDir: workDir,

		baseImage: baseImage,
		mounter:   mounter,
		executor:  executor,
		runner:    runner,

		logger: logger.Session("container-pool"),

		containers: make(map[string]*linux_backend.LinuxContainer),
	}
}

// Create returns the container named name, constructing it and its layout
// on first use.
func (p *ContainerPool) Create(name string) (*linux_backend.LinuxContainer, error) {
	p.Lock()
	defer p.Unlock()

	if container, found := p.containers[name]; found {
		return container, nil
	}

	cLog := p.logger.Session("create", lager.Data{"name": name})

	container, err := linux_backend.NewLinuxContainer(
		name,
		p.workDir,
		p.baseImage,
		p.mounter,
		p.executor,
		p.runner,
		p.logger,
	)
	if err != nil {
		cLog.Error("failed", err)
		return nil, err
	}

	p.warnAboutStaleMounts(cLog, container.Layout())

	p.containers[name] = container

	cLog.Info("created")

	return container, nil
}

func (p *ContainerPool) warnAboutStaleMounts(logger lager.Logger, l layout.Layout) {
	for _, target := range []string{l.WorkspaceRoot, l.InstanceRoot} {
		mounted, err := p.mounter.Mounted(target)
		if err != nil {
			logger.Error("failed-to-check-mount", err, lager.Data{"target": target})
			continue
		}

		if mounted {
			logger.Info("stale-mount", lager.Data{"target": target})
		}
	}
}

func (p *ContainerPool) Lookup(name string) (*linux_backend.LinuxContainer, error) {
	p.RLock()
	defer p.RUnlock()

	container, found := p.containers[name]
	if !found {
		return nil, builder.InstanceNotFoundError{Name: name}
	}

	return container, nil
}

func (p *ContainerPool) List() []*linux_backend.LinuxContainer {
	p.RLock()
	defer p.RUnlock()

	containers := make([]*linux_backend.LinuxContainer, 0, len(p.containers))
	for _, container := range p.containers {
		containers = append(containers, container)
	}

	sort.Slice(containers, func(i, j int) bool {
		return containers[i].Name() < containers[j].Name()
	})

	return containers
}

// Destroy brings the named container down if needed and forgets it. Its
// directories stay on disk. The pool is not locked while the container waits
// for its own commands to finish.
func (p *ContainerPool) Destroy(name string) error {
	container, err := p.Lookup(name)
	if err != nil {
		return err
	}

	err = container.Destroy()
	if err != nil {
		p.logger.Error("failed-to-destroy", err, lager.Data{"name": name})
		return err
	}

	p.Lock()
	defer p.Unlock()

	if p.containers[name] == container {
		delete(p.containers, name)
	}

	return nil
}

// DestroyAll destroys every container, continuing past failures.
func (p *ContainerPool) DestroyAll() error {
	var errs []error

	for _, container := range p.List() {
		err := p.Destroy(container.Name())
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
