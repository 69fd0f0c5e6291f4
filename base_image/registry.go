// Package base_image holds the shared read-only toolchain image that every
// container is layered on, and gates maintenance of it on there being no
// container up.
package base_image

import (
	"context"
	"errors"
	"sync"

	"code.cloudfoundry.org/lager"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/metrics"
)

const DefaultMaintenanceCommand = "apt-get update && apt-get -y upgrade && apt-get -y autoremove"

var ErrUnbalancedEndUse = errors.New("end of use without a matching begin")

type Registry struct {
	path string

	active   int
	updating bool

	maintenanceCommand string
	executor           builder.Executor

	logger lager.Logger

	sync.Mutex
}

func New(executor builder.Executor, maintenanceCommand string, logger lager.Logger) *Registry {
	if maintenanceCommand == "" {
		maintenanceCommand = DefaultMaintenanceCommand
	}

	return &Registry{
		maintenanceCommand: maintenanceCommand,
		executor:           executor,

		logger: logger.Session("base-image"),
	}
}

// SetPath sets the image every container is layered on. Changing it while
// containers are up is not prevented; they keep the image they mounted.
func (r *Registry) SetPath(path string) {
	r.Lock()
	defer r.Unlock()

	r.logger.Info("set-path", lager.Data{"path": path})

	r.path = path
}

func (r *Registry) Path() (string, error) {
	r.Lock()
	defer r.Unlock()

	if r.path == "" {
		return "", builder.ConfigError{Reason: "base image not set"}
	}

	return r.path, nil
}

// BeginUse registers one more container layered on the image. It is refused
// while an update is running.
func (r *Registry) BeginUse() error {
	r.Lock()
	defer r.Unlock()

	if r.updating {
		return builder.BusyError{Active: r.active, Updating: true}
	}

	r.active++
	metrics.RecordActive(r.active)

	r.logger.Debug("begin-use", lager.Data{"active": r.active})

	return nil
}

func (r *Registry) EndUse() {
	r.Lock()
	defer r.Unlock()

	if r.active == 0 {
		r.logger.Error("unbalanced-end-use", ErrUnbalancedEndUse)
		return
	}

	r.active--
	metrics.RecordActive(r.active)

	r.logger.Debug("end-use", lager.Data{"active": r.active})
}

func (r *Registry) Active() int {
	r.Lock()
	defer r.Unlock()

	return r.active
}

func (r *Registry) Updating() bool {
	r.Lock()
	defer r.Unlock()

	return r.updating
}

func (r *Registry) Info() builder.BaseImageInfo {
	r.Lock()
	defer r.Unlock()

	return builder.BaseImageInfo{
		Path:     r.path,
		Active:   r.active,
		Updating: r.updating,
	}
}

// Update runs the maintenance command directly in the base image and returns
// its exit status. Once it has seen no active containers, no container can
// come up until it returns.
func (r *Registry) Update(ctx context.Context) (int, error) {
	r.Lock()

	if r.path == "" {
		r.Unlock()
		return 0, builder.ConfigError{Reason: "base image not set"}
	}

	if r.updating || r.active > 0 {
		err := builder.BusyError{Active: r.active, Updating: r.updating}
		r.Unlock()

		r.logger.Error("refused-update", err)

		return 0, err
	}

	r.updating = true
	path := r.path

	r.Unlock()

	defer func() {
		r.Lock()
		r.updating = false
		r.Unlock()
	}()

	uLog := r.logger.Session("update", lager.Data{"path": path})
	uLog.Info("starting")

	status, err := r.executor.Execute(ctx, path, r.maintenanceCommand)
	if err != nil {
		uLog.Error("failed", err)
		return status, err
	}

	uLog.Info("finished", lager.Data{"status": status})

	return status, nil
}
