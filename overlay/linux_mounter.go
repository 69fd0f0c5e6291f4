//go:build linux

package overlay

import (
	"errors"
	"syscall"

	"code.cloudfoundry.org/lager"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/metrics"
)

const fsType = "overlay"

// LinuxMounter mounts overlayfs with mount(2). It requires CAP_SYS_ADMIN.
type LinuxMounter struct {
	logger lager.Logger
}

func New(logger lager.Logger) *LinuxMounter {
	return &LinuxMounter{
		logger: logger.Session("overlay"),
	}
}

func (m *LinuxMounter) Mount(lower, upper, work, target string) error {
	mLog := m.logger.Session("mount", lager.Data{
		"lower":  lower,
		"upper":  upper,
		"work":   work,
		"target": target,
	})

	opts, err := Options(lower, upper, work)
	if err != nil {
		mountErr := err.(builder.MountError)
		mountErr.Target = target

		mLog.Error("invalid-options", mountErr)
		metrics.RecordOverlay("mount", mountErr)

		return mountErr
	}

	err = unix.Mount(fsType, target, fsType, 0, opts)
	metrics.RecordOverlay("mount", err)

	if err != nil {
		mLog.Error("failed", err)
		return builder.MountError{Op: "mount", Target: target, Errno: errno(err)}
	}

	mLog.Debug("mounted")

	return nil
}

func (m *LinuxMounter) Unmount(target string) error {
	mLog := m.logger.Session("unmount", lager.Data{"target": target})

	err := unix.Unmount(target, 0)
	metrics.RecordOverlay("unmount", err)

	if err != nil {
		mLog.Error("failed", err)
		return builder.MountError{Op: "unmount", Target: target, Errno: errno(err)}
	}

	mLog.Debug("unmounted")

	return nil
}

func (m *LinuxMounter) Mounted(target string) (bool, error) {
	return mountinfo.Mounted(target)
}

func errno(err error) syscall.Errno {
	var e syscall.Errno
	if errors.As(err, &e) {
		return e
	}

	return syscall.EIO
}
