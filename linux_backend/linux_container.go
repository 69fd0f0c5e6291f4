package linux_backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"code.cloudfoundry.org/lager"
	securejoin "github.com/cyphar/filepath-securejoin"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/command_runner"
	"github.com/aoinb/builder/layout"
)

// BaseImage is the shared image a container's first tier is layered on.
type BaseImage interface {
	Path() (string, error)
	BeginUse() error
	EndUse()
}

// LinuxContainer stacks two overlay tiers for one build instance:
//
//	base image  -> instance root   (instance-overlay, instance-workdir)
//	instance    -> workspace root  (workspace-overlay, workspace-workdir)
//
// Commands run in the workspace root.
type LinuxContainer struct {
	name   string
	layout layout.Layout

	baseImage BaseImage
	mounter   builder.Mounter
	executor  builder.Executor
	runner    command_runner.CommandRunner

	logger lager.Logger

	state builder.State
	lower string

	// mounted tracks each tier this container mounted and has not yet
	// unmounted; inUse tracks the base image use it holds.
	mounted [2]bool
	inUse   bool

	lifecycle sync.RWMutex
}

type tier struct {
	name   string
	lower  string
	upper  string
	work   string
	target string
}

// NewLinuxContainer computes the instance's layout under baseDir and creates
// any missing directories. The base image must already be set.
func NewLinuxContainer(
	name, baseDir string,
	baseImage BaseImage,
	mounter builder.Mounter,
	executor builder.Executor,
	runner command_runner.CommandRunner,
	logger lager.Logger,
) (*LinuxContainer, error) {
	if _, err := baseImage.Path(); err != nil {
		return nil, err
	}

	l, err := layout.Ensure(baseDir, name)
	if err != nil {
		return nil, err
	}

	return &LinuxContainer{
		name:   name,
		layout: l,

		baseImage: baseImage,
		mounter:   mounter,
		executor:  executor,
		runner:    runner,

		logger: logger.Session("container", lager.Data{"name": name}),

		state: builder.Down,
	}, nil
}

func (c *LinuxContainer) Name() string {
	return c.name
}

func (c *LinuxContainer) Layout() layout.Layout {
	return c.layout
}

func (c *LinuxContainer) State() builder.State {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	return c.state
}

// Up mounts the instance tier and then the workspace tier on top of it. If
// the workspace tier fails the instance tier is unmounted again, leaving the
// container down and the base image use released.
func (c *LinuxContainer) Up() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	uLog := c.logger.Session("up")

	if c.state == builder.Up {
		return builder.InvalidStateError{Op: "up", State: c.state}
	}

	if c.mounted[0] || c.mounted[1] {
		return builder.InvalidStateError{Op: "up", State: builder.Up}
	}

	lower, err := c.baseImage.Path()
	if err != nil {
		return err
	}

	err = c.baseImage.BeginUse()
	if err != nil {
		uLog.Error("base-image-busy", err)
		return err
	}

	c.inUse = true
	c.lower = lower

	tiers := c.tiers()

	for i, t := range tiers {
		err := c.mounter.Mount(t.lower, t.upper, t.work, t.target)
		if err != nil {
			uLog.Error("failed-to-mount", err, lager.Data{"tier": t.name})

			if c.rollback(uLog, tiers[:i]) {
				c.inUse = false
				c.baseImage.EndUse()
			}

			return err
		}

		c.mounted[i] = true
	}

	c.state = builder.Up

	uLog.Info("up", lager.Data{"lower": lower})

	return nil
}

func (c *LinuxContainer) rollback(logger lager.Logger, mounted []tier) bool {
	clean := true

	for i := len(mounted) - 1; i >= 0; i-- {
		err := c.mounter.Unmount(mounted[i].target)
		if err != nil {
			logger.Error("failed-to-roll-back", err, lager.Data{"tier": mounted[i].name})
			clean = false
			continue
		}

		c.mounted[i] = false
	}

	return clean
}

// Down unmounts the workspace tier and then the instance tier.
//
// A container that is not up still has both unmounts attempted, since
// mounts are owned by the kernel and may have been left behind by a previous
// process; unmounting a target that is not mounted surfaces a MountError.
func (c *LinuxContainer) Down() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	return c.down()
}

func (c *LinuxContainer) down() error {
	dLog := c.logger.Session("down")

	tiers := c.tiers()

	if c.state == builder.Down && !c.mounted[0] && !c.mounted[1] && !c.inUse {
		var firstErr error

		for i := len(tiers) - 1; i >= 0; i-- {
			err := c.mounter.Unmount(tiers[i].target)
			if err != nil {
				dLog.Error("failed-to-unmount", err, lager.Data{"tier": tiers[i].name})

				if firstErr == nil {
					firstErr = err
				}
			}
		}

		if firstErr == nil {
			dLog.Info("cleared-stale-mounts")
		}

		return firstErr
	}

	for i := len(tiers) - 1; i >= 0; i-- {
		if !c.mounted[i] {
			continue
		}

		err := c.mounter.Unmount(tiers[i].target)
		if err != nil {
			dLog.Error("failed-to-unmount", err, lager.Data{"tier": tiers[i].name})
			return err
		}

		c.mounted[i] = false
	}

	c.state = builder.Down

	if c.inUse {
		c.inUse = false
		c.baseImage.EndUse()
	}

	dLog.Info("down")

	return nil
}

// Destroy brings the container down if anything of it is still mounted.
// Callers defer it so that no mount outlives the container.
func (c *LinuxContainer) Destroy() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.state == builder.Down && !c.mounted[0] && !c.mounted[1] && !c.inUse {
		return nil
	}

	return c.down()
}

// Run executes command in the workspace root and returns its exit status.
// A non-zero status is not an error.
func (c *LinuxContainer) Run(ctx context.Context, command string) (int, error) {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if !c.ready() {
		return 0, builder.InvalidStateError{Op: "run", State: builder.Down}
	}

	rLog := c.logger.Session("run", lager.Data{"command": command})
	rLog.Debug("running")

	status, err := c.executor.Execute(ctx, c.layout.WorkspaceRoot, command)
	if err != nil {
		rLog.Error("failed", err)
		return status, err
	}

	rLog.Info("exited", lager.Data{"status": status})

	return status, nil
}

// CopyIn copies the contents of the host directory src into dst, a path
// inside the workspace. Symlinks in dst resolve as if the workspace root were
// the filesystem root.
func (c *LinuxContainer) CopyIn(src, dst string) error {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if !c.ready() {
		return builder.InvalidStateError{Op: "copy in", State: builder.Down}
	}

	cLog := c.logger.Session("copy-in", lager.Data{"src": src, "dst": dst})

	target, err := securejoin.SecureJoin(c.layout.WorkspaceRoot, dst)
	if err != nil {
		cLog.Error("failed-to-resolve-destination", err)
		return builder.IoError{Op: "resolve", Path: dst, Err: err}
	}

	err = os.MkdirAll(target, 0755)
	if err != nil {
		cLog.Error("failed-to-create-destination", err)
		return builder.IoError{Op: "mkdir", Path: target, Err: err}
	}

	rsync := exec.Command(
		"rsync",
		"-a",
		strings.TrimSuffix(src, "/")+"/",
		target+"/",
	)

	err = c.runner.Run(rsync)
	if err != nil {
		cLog.Error("failed", err)
		return builder.IoError{Op: "copy", Path: target, Err: err}
	}

	cLog.Info("copied")

	return nil
}

// Cleanup throws away everything written to the workspace by recreating its
// root empty. The container must be down.
func (c *LinuxContainer) Cleanup() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.state == builder.Up || c.mounted[0] || c.mounted[1] {
		return builder.InvalidStateError{Op: "clean up", State: builder.Up}
	}

	root := c.layout.WorkspaceRoot

	cLog := c.logger.Session("cleanup", lager.Data{"workspace": root})

	err := os.RemoveAll(root)
	if err != nil {
		cLog.Error("failed-to-remove", err)
		return builder.IoError{Op: "remove", Path: root, Err: err}
	}

	err = os.Mkdir(root, 0755)
	if err != nil {
		cLog.Error("failed-to-recreate", err)
		return builder.IoError{Op: "mkdir", Path: root, Err: err}
	}

	cLog.Info("cleaned")

	return nil
}

func (c *LinuxContainer) Info() (builder.ContainerInfo, error) {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	instanceMounted, err := c.mounter.Mounted(c.layout.InstanceRoot)
	if err != nil {
		return builder.ContainerInfo{}, fmt.Errorf("checking %s: %w", c.layout.InstanceRoot, err)
	}

	workspaceMounted, err := c.mounter.Mounted(c.layout.WorkspaceRoot)
	if err != nil {
		return builder.ContainerInfo{}, fmt.Errorf("checking %s: %w", c.layout.WorkspaceRoot, err)
	}

	return builder.ContainerInfo{
		Name:  c.name,
		State: c.state.String(),

		BaseDir:        c.layout.BaseDir,
		InstanceRoot:   c.layout.InstanceRoot,
		InstanceUpper:  c.layout.InstanceUpper,
		InstanceWork:   c.layout.InstanceWork,
		WorkspaceRoot:  c.layout.WorkspaceRoot,
		WorkspaceUpper: c.layout.WorkspaceUpper,
		WorkspaceWork:  c.layout.WorkspaceWork,

		InstanceMounted:  instanceMounted,
		WorkspaceMounted: workspaceMounted,
	}, nil
}

// ready reports whether both tiers are mounted. A failed Down can leave the
// container up with only the instance tier in place.
func (c *LinuxContainer) ready() bool {
	return c.state == builder.Up && c.mounted[0] && c.mounted[1]
}

func (c *LinuxContainer) tiers() []tier {
	return []tier{
		{
			name:   "instance",
			lower:  c.lower,
			upper:  c.layout.InstanceUpper,
			work:   c.layout.InstanceWork,
			target: c.layout.InstanceRoot,
		},
		{
			name:   "workspace",
			lower:  c.layout.InstanceRoot,
			upper:  c.layout.WorkspaceUpper,
			work:   c.layout.WorkspaceWork,
			target: c.layout.WorkspaceRoot,
		},
	}
}
